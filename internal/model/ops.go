package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// JobLock 命名咨询锁：job:<name> 或 cycle:<id>
type JobLock struct {
	Name       string    `gorm:"column:name;primaryKey;type:varchar(64)"`
	Holder     string    `gorm:"column:holder;type:varchar(128);not null"`
	AcquiredAt time.Time `gorm:"column:acquired_at;type:timestamptz;not null"`
	ExpiresAt  time.Time `gorm:"column:expires_at;type:timestamptz;not null;index"`
}

// EventWatermark 索引器水位（每个合约一行）
type EventWatermark struct {
	Contract  string    `gorm:"column:contract;primaryKey;type:varchar(42)"`
	LastBlock uint64    `gorm:"column:last_block;type:bigint;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;default:now()"`
}

// ChainEvent 已处理的链上日志，(tx_hash, log_index) 唯一
type ChainEvent struct {
	ID          uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	TxHash      string         `gorm:"column:tx_hash;type:varchar(66);not null;uniqueIndex:uk_chain_event,priority:1"`
	LogIndex    uint           `gorm:"column:log_index;type:integer;not null;uniqueIndex:uk_chain_event,priority:2"`
	BlockNumber uint64         `gorm:"column:block_number;type:bigint;not null;index"`
	Contract    string         `gorm:"column:contract;type:varchar(42);not null"`
	EventName   string         `gorm:"column:event_name;type:varchar(32);not null;index"`
	CycleID     *int64         `gorm:"column:cycle_id;type:bigint;index"`
	SlipID      *int64         `gorm:"column:slip_id;type:bigint"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb"`
	BlockTime   *time.Time     `gorm:"column:block_time;type:timestamptz"`
	CreatedAt   time.Time      `gorm:"column:created_at;type:timestamptz;default:now()"`
}

// PrizeClaim 领奖记录镜像
type PrizeClaim struct {
	ID        uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	CycleID   int64           `gorm:"column:cycle_id;type:bigint;not null;uniqueIndex:uk_prize_claim,priority:1"`
	Player    string          `gorm:"column:player;type:varchar(42);not null;uniqueIndex:uk_prize_claim,priority:2"`
	Rank      int             `gorm:"column:rank;type:integer;not null"`
	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(78,0);not null"`
	TxHash    string          `gorm:"column:tx_hash;type:varchar(66);not null"`
	CreatedAt time.Time       `gorm:"column:created_at;type:timestamptz;default:now()"`
}

// SyncIssue 链上与数据库不一致的记录
type SyncIssue struct {
	ID        uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	Kind      string         `gorm:"column:kind;type:varchar(64);not null;index"`
	CycleID   *int64         `gorm:"column:cycle_id;type:bigint"`
	Message   string         `gorm:"column:message;type:text;not null"`
	Details   datatypes.JSON `gorm:"column:details;type:jsonb"`
	Resolved  bool           `gorm:"column:resolved;type:boolean;not null;default:false"`
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamptz;default:now()"`
}

// HealthReport 任务因不变量被破坏而放弃时写入
type HealthReport struct {
	ID        uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	Job       string         `gorm:"column:job;type:varchar(64);not null;index"`
	Severity  string         `gorm:"column:severity;type:varchar(16);not null"`
	CycleID   *int64         `gorm:"column:cycle_id;type:bigint"`
	Message   string         `gorm:"column:message;type:text;not null"`
	Details   datatypes.JSON `gorm:"column:details;type:jsonb"`
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamptz;default:now()"`
}

// Sync issue 类型
const (
	IssueCycleIDMismatch = "cycle_id_mismatch"
	IssueSlotMismatch    = "slot_mismatch"
	IssueCycleAdopted    = "cycle_adopted"
	IssueScoreMismatch   = "evaluation_mismatch"
)

// Health report 等级
const (
	SeverityFatal   = "fatal"
	SeverityWarning = "warning"
)

func (JobLock) TableName() string        { return "job_locks" }
func (EventWatermark) TableName() string { return "event_watermarks" }
func (ChainEvent) TableName() string     { return "chain_events" }
func (PrizeClaim) TableName() string     { return "prize_claims" }
func (SyncIssue) TableName() string      { return "sync_issues" }
func (HealthReport) TableName() string   { return "health_reports" }

// AllModels AutoMigrate 的迁移顺序
func AllModels() []interface{} {
	return []interface{}{
		&Fixture{},
		&FixtureOdds{},
		&FixtureResult{},
		&Cycle{},
		&DailyGameMatch{},
		&Slip{},
		&SlipPrediction{},
		&JobLock{},
		&EventWatermark{},
		&ChainEvent{},
		&PrizeClaim{},
		&SyncIssue{},
		&HealthReport{},
	}
}
