package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SlotCount 每个周期固定 10 场
const SlotCount = 10

// Cycle 每日周期（cycle_id 由合约分配）
type Cycle struct {
	CycleID            int64           `gorm:"column:cycle_id;primaryKey;autoIncrement:false;comment:合约周期ID"`
	GameDate           string          `gorm:"column:game_date;type:varchar(10);not null;index;comment:比赛日(UTC, YYYY-MM-DD)"`
	State              CycleState      `gorm:"column:state;type:varchar(32);not null;index;comment:周期状态"`
	EndTime            *time.Time      `gorm:"column:end_time;type:timestamptz;comment:链上周期结束时间"`
	StartTxHash        *string         `gorm:"column:start_tx_hash;type:varchar(66);comment:startDailyCycle 交易"`
	ReadyForResolution bool            `gorm:"column:ready_for_resolution;type:boolean;not null;default:false"`
	ResolutionData     datatypes.JSON  `gorm:"column:resolution_data;type:jsonb;comment:按槽位排列的 10 个结果"`
	ResolutionTxHash   *string         `gorm:"column:resolution_tx_hash;type:varchar(66)"`
	ResolvedAt         *time.Time      `gorm:"column:resolved_at;type:timestamptz"`
	IsResolved         bool            `gorm:"column:is_resolved;type:boolean;not null;default:false;index"`
	PrizePool          decimal.Decimal `gorm:"column:prize_pool;type:numeric(78,0);not null;default:0"`
	SlipCount          int64           `gorm:"column:slip_count;type:bigint;not null;default:0"`
	HasWinner          bool            `gorm:"column:has_winner;type:boolean;not null;default:false"`
	EvaluatedAt        *time.Time      `gorm:"column:evaluated_at;type:timestamptz;comment:全部 slip 评估完成时间"`
	LastError          *string         `gorm:"column:last_error;type:text"`
	CreatedAt          time.Time       `gorm:"column:created_at;type:timestamptz;default:now();comment:创建时间"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;type:timestamptz;default:now();comment:更新时间"`
}

// DailyGameMatch 周期槽位：display_order 即合约数组下标
type DailyGameMatch struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	CycleID      int64     `gorm:"column:cycle_id;type:bigint;not null;uniqueIndex:uk_dgm_fixture_cycle,priority:2;uniqueIndex:uk_dgm_cycle_order,priority:1"`
	FixtureID    int64     `gorm:"column:fixture_id;type:bigint;not null;uniqueIndex:uk_dgm_fixture_cycle,priority:1"`
	DisplayOrder int       `gorm:"column:display_order;type:smallint;not null;uniqueIndex:uk_dgm_cycle_order,priority:2"`
	StartTime    time.Time `gorm:"column:start_time;type:timestamptz;not null;comment:提交上链的开赛时间"`
	OddsHome     uint32    `gorm:"column:odds_home;type:integer;not null"`
	OddsDraw     uint32    `gorm:"column:odds_draw;type:integer;not null"`
	OddsAway     uint32    `gorm:"column:odds_away;type:integer;not null"`
	OddsOver     uint32    `gorm:"column:odds_over;type:integer;not null"`
	OddsUnder    uint32    `gorm:"column:odds_under;type:integer;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;type:timestamptz;default:now()"`
}

// ResolutionEntry resolution_data 中的单个槽位
type ResolutionEntry struct {
	Slot       int        `json:"slot"`
	FixtureID  int64      `json:"fixture_id"`
	Outcome1X2 Outcome1X2 `json:"outcome_1x2"`
	OutcomeOU  OutcomeOU  `json:"outcome_ou25"`
	Moneyline  uint8      `json:"moneyline"`
	OverUnder  uint8      `json:"over_under"`
}

func (Cycle) TableName() string          { return "cycles" }
func (DailyGameMatch) TableName() string { return "daily_game_matches" }
