package repository

import (
	"context"
	"time"

	"CycleOracle/internal/model"

	"gorm.io/gorm"
)

// LockRepository job_locks 表上的命名咨询锁（持有者 + 过期时间）
type LockRepository interface {
	Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, holder string) error
	// PurgeExpired 清理过期锁
	PurgeExpired(ctx context.Context) (int64, error)
	Get(ctx context.Context, name string) (*model.JobLock, error)
}

type lockRepository struct {
	db *gorm.DB
}

// NewLockRepository 创建锁仓储
func NewLockRepository(db *gorm.DB) LockRepository {
	return &lockRepository{db: db}
}

// Acquire 锁不存在或已过期时成功；holder 相同也不重入
func (r *lockRepository) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
INSERT INTO job_locks (name, holder, acquired_at, expires_at)
VALUES (?, ?, now(), now() + make_interval(secs => ?))
ON CONFLICT (name) DO UPDATE
SET holder = excluded.holder, acquired_at = excluded.acquired_at, expires_at = excluded.expires_at
WHERE job_locks.expires_at < now()`,
		name, holder, ttl.Seconds())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *lockRepository) Release(ctx context.Context, name, holder string) error {
	return r.db.WithContext(ctx).
		Where("name = ? AND holder = ?", name, holder).
		Delete(&model.JobLock{}).Error
}

func (r *lockRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < now()").Delete(&model.JobLock{})
	return res.RowsAffected, res.Error
}

func (r *lockRepository) Get(ctx context.Context, name string) (*model.JobLock, error) {
	var l model.JobLock
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&l).Error; err != nil {
		return nil, mapErr(err)
	}
	return &l, nil
}
