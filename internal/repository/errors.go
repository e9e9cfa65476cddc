package repository

import (
	"errors"

	"CycleOracle/internal/model"

	"github.com/jackc/pgconn"
	"gorm.io/gorm"
)

const pgErrUniqueViolation = "23505"

// IsUniqueViolation 并发写入同一自然键（对方已写入）
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// mapErr 将驱动层错误映射为领域错误
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return model.ErrNotFound
	case IsUniqueViolation(err):
		return errors.Join(model.ErrConflict, err)
	default:
		return err
	}
}
