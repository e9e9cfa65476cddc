package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Slip 玩家投注单（slip_id 由合约分配，玩家下单后不可修改）
type Slip struct {
	SlipID            int64            `gorm:"column:slip_id;primaryKey;autoIncrement:false;comment:合约 slip ID"`
	CycleID           int64            `gorm:"column:cycle_id;type:bigint;not null;index;comment:所属周期"`
	Player            string           `gorm:"column:player;type:varchar(42);not null;index;comment:玩家地址"`
	PlacedAt          time.Time        `gorm:"column:placed_at;type:timestamptz;not null"`
	TxHash            string           `gorm:"column:tx_hash;type:varchar(66);not null;default:''"`
	IsEvaluated       bool             `gorm:"column:is_evaluated;type:boolean;not null;default:false;index"`
	CorrectCount      int              `gorm:"column:correct_count;type:smallint;not null;default:0"`
	FinalScore        decimal.Decimal  `gorm:"column:final_score;type:numeric(78,0);not null;default:0"`
	LeaderboardRank   *int             `gorm:"column:leaderboard_rank;type:integer"`
	EvaluatedAt       *time.Time       `gorm:"column:evaluated_at;type:timestamptz"`
	ChainCorrectCount *int             `gorm:"column:chain_correct_count;type:smallint;comment:合约 SlipEvaluated 的结果"`
	ChainFinalScore   *decimal.Decimal `gorm:"column:chain_final_score;type:numeric(78,0)"`
	CreatedAt         time.Time        `gorm:"column:created_at;type:timestamptz;default:now()"`
	UpdatedAt         time.Time        `gorm:"column:updated_at;type:timestamptz;default:now()"`

	Predictions []SlipPrediction `gorm:"foreignKey:SlipID;references:SlipID"`
}

// SlipPrediction 按槽位排列的单条预测
type SlipPrediction struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	SlipID      int64     `gorm:"column:slip_id;type:bigint;not null;uniqueIndex:uk_slip_slot,priority:1"`
	Slot        int       `gorm:"column:slot;type:smallint;not null;uniqueIndex:uk_slip_slot,priority:2"`
	FixtureID   int64     `gorm:"column:fixture_id;type:bigint;not null"`
	BetType     BetType   `gorm:"column:bet_type;type:smallint;not null"`
	Selection   string    `gorm:"column:selection;type:varchar(80);not null;comment:规范字符串或旧版 keccak256 哈希"`
	SelectedOdd uint32    `gorm:"column:selected_odd;type:integer;not null;comment:下单时锁定赔率 ×1000"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;default:now()"`
}

func (Slip) TableName() string           { return "slips" }
func (SlipPrediction) TableName() string { return "slip_predictions" }
