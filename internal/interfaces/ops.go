package interfaces

import (
	"context"
	"time"

	"CycleOracle/internal/model"
)

// Locker 命名咨询锁
type Locker interface {
	PurgeExpired(ctx context.Context) (int64, error)
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// EventPublisher 领域事件出口；投递失败只记录日志，不影响任务
type EventPublisher interface {
	Publish(ctx context.Context, ev model.DomainEvent)
}

// EvaluationTrigger 索引器看到 CycleResolved 后请求评估
type EvaluationTrigger interface {
	RequestEvaluation(cycleID int64)
}
