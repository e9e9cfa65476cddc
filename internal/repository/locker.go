package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Locker 获取 job:<name> / cycle:<id> 锁；每次获取使用 holder/<token> 作为持有者，
// 同一进程内的两个任务之间同样互斥
type Locker struct {
	locks  LockRepository
	holder string
	logger *logrus.Logger
}

// NewLocker 创建锁助手；holder 通常为 hostname + uuid
func NewLocker(locks LockRepository, holder string, logger *logrus.Logger) *Locker {
	return &Locker{locks: locks, holder: holder, logger: logger}
}

// Holder 当前进程的持有者标识
func (l *Locker) Holder() string { return l.holder }

// TryLock 获取锁；ok=false 表示被其他任务持有。release 使用独立的 context，任务超时后也能释放
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error) {
	token := l.token()
	ok, err = l.locks.Acquire(ctx, name, token, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return func() {}, false, nil
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.locks.Release(rctx, name, token); err != nil {
			l.logger.WithError(err).WithField("lock", name).Warn("释放锁失败，等待过期")
		}
	}, true, nil
}

func (l *Locker) token() string {
	return l.holder + "/" + uuid.NewString()[:8]
}

// PurgeExpired 清理过期锁
func (l *Locker) PurgeExpired(ctx context.Context) (int64, error) {
	return l.locks.PurgeExpired(ctx)
}

// JobLockName job:<name>
func JobLockName(job string) string { return "job:" + job }

// CycleLockName cycle:<id>
func CycleLockName(cycleID int64) string { return fmt.Sprintf("cycle:%d", cycleID) }
