package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Repos 同一连接（或同一事务）上的全部仓储
type Repos struct {
	Fixtures FixtureRepository
	Cycles   CycleRepository
	Slips    SlipRepository
	Ops      OpsRepository
}

// Store 仓储入口：Repos() 直接走连接池，InTx 内的写入要么全部提交要么全部回滚
type Store interface {
	Repos() Repos
	InTx(ctx context.Context, fn func(r Repos) error) error
}

type gormStore struct {
	db *gorm.DB
}

// NewStore 创建基于 GORM 的 Store
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func newRepos(db *gorm.DB) Repos {
	return Repos{
		Fixtures: NewFixtureRepository(db),
		Cycles:   NewCycleRepository(db),
		Slips:    NewSlipRepository(db),
		Ops:      NewOpsRepository(db),
	}
}

func (s *gormStore) Repos() Repos {
	return newRepos(s.db)
}

// InTx 开启事务执行 fn；fn 返回错误或 panic 时回滚
func (s *gormStore) InTx(ctx context.Context, fn func(r Repos) error) (err error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("开启事务失败: %w", tx.Error)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(newRepos(tx)); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}
