package model

import (
	"errors"
	"fmt"
)

// 错误类别：任务层据此决定重试、上报还是转入对账
var (
	ErrTransient      = errors.New("transient")           // 网络 / 5xx / 超时 / 429，下个周期重试
	ErrInvariant      = errors.New("invariant violation") // 本次运行致命，写 health_reports 后放弃
	ErrExpectedRevert = errors.New("expected revert")     // 已结算等，转入对账
	ErrFatalRevert    = errors.New("fatal revert")        // NotOracle / ArrayLength / 未知
	ErrConflict       = errors.New("conflict")            // 唯一键竞争，对方已完成
)

// 领域错误
var (
	ErrNotFound             = errors.New("not found")
	ErrInsufficientFixtures = fmt.Errorf("%w: fewer than ten selectable fixtures", ErrInvariant)
	ErrSlotMismatch         = fmt.Errorf("%w: slot mismatch between chain and database", ErrInvariant)
	ErrResultNotSet         = fmt.Errorf("%w: result not set", ErrInvariant)
	ErrSyncMismatch         = errors.New("chain and database cycle ids diverge")
	ErrLockHeld             = errors.New("lock held by another worker")
)

// Transient 包装为瞬时错误
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Invariant 构造不变量错误
func Invariant(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

// IsTransient 是否可在下个调度周期重试
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
