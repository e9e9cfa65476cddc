package repository

import (
	"context"
	"time"

	"CycleOracle/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SlipRepository 玩家投注单镜像
type SlipRepository interface {
	// Insert 按 slip_id 幂等写入 slip 与预测；已存在时返回 false
	Insert(ctx context.Context, slip *model.Slip, predictions []*model.SlipPrediction) (bool, error)
	Get(ctx context.Context, slipID int64) (*model.Slip, error)
	ListUnevaluated(ctx context.Context, cycleID int64, limit int) ([]*model.Slip, error)
	CountUnevaluated(ctx context.Context, cycleID int64) (int64, error)
	// MarkEvaluated 仅在 is_evaluated = false 时写入，返回是否写入
	MarkEvaluated(ctx context.Context, slipID int64, correct int, score decimal.Decimal, at time.Time) (bool, error)
	ListEvaluated(ctx context.Context, cycleID int64) ([]*model.Slip, error)
	UpdateRanks(ctx context.Context, ranks map[int64]int) error
	RecordChainEvaluation(ctx context.Context, slipID int64, correct int, score decimal.Decimal) error
	Leaderboard(ctx context.Context, cycleID int64, limit int) ([]*model.Slip, error)
}

type slipRepository struct {
	db *gorm.DB
}

// NewSlipRepository 创建 slip 仓储
func NewSlipRepository(db *gorm.DB) SlipRepository {
	return &slipRepository{db: db}
}

func (r *slipRepository) Insert(ctx context.Context, slip *model.Slip, predictions []*model.SlipPrediction) (bool, error) {
	now := time.Now().UTC()
	slip.CreatedAt, slip.UpdatedAt = now, now
	db := r.db.WithContext(ctx)
	res := db.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slip_id"}},
		DoNothing: true,
	}).Create(slip)
	if res.Error != nil {
		return false, mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	for _, p := range predictions {
		p.SlipID = slip.SlipID
	}
	if len(predictions) > 0 {
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&predictions).Error; err != nil {
			return false, mapErr(err)
		}
	}
	return true, nil
}

func (r *slipRepository) Get(ctx context.Context, slipID int64) (*model.Slip, error) {
	var s model.Slip
	err := r.db.WithContext(ctx).
		Preload("Predictions", func(db *gorm.DB) *gorm.DB { return db.Order("slot ASC") }).
		Where("slip_id = ?", slipID).First(&s).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

func (r *slipRepository) ListUnevaluated(ctx context.Context, cycleID int64, limit int) ([]*model.Slip, error) {
	if limit <= 0 {
		limit = 500
	}
	var list []*model.Slip
	err := r.db.WithContext(ctx).
		Preload("Predictions", func(db *gorm.DB) *gorm.DB { return db.Order("slot ASC") }).
		Where("cycle_id = ? AND is_evaluated = ?", cycleID, false).
		Order("slip_id ASC").Limit(limit).Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *slipRepository) CountUnevaluated(ctx context.Context, cycleID int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Slip{}).
		Where("cycle_id = ? AND is_evaluated = ?", cycleID, false).Count(&n).Error
	return n, err
}

func (r *slipRepository) MarkEvaluated(ctx context.Context, slipID int64, correct int, score decimal.Decimal, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Slip{}).
		Where("slip_id = ? AND is_evaluated = ?", slipID, false).
		Updates(map[string]interface{}{
			"is_evaluated":  true,
			"correct_count": correct,
			"final_score":   score,
			"evaluated_at":  at,
			"updated_at":    at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *slipRepository) ListEvaluated(ctx context.Context, cycleID int64) ([]*model.Slip, error) {
	var list []*model.Slip
	err := r.db.WithContext(ctx).
		Where("cycle_id = ? AND is_evaluated = ?", cycleID, true).
		Order("correct_count DESC, final_score DESC, slip_id ASC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *slipRepository) UpdateRanks(ctx context.Context, ranks map[int64]int) error {
	db := r.db.WithContext(ctx)
	for slipID, rank := range ranks {
		if err := db.Model(&model.Slip{}).Where("slip_id = ?", slipID).
			Update("leaderboard_rank", rank).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *slipRepository) RecordChainEvaluation(ctx context.Context, slipID int64, correct int, score decimal.Decimal) error {
	return r.db.WithContext(ctx).Model(&model.Slip{}).
		Where("slip_id = ?", slipID).
		Updates(map[string]interface{}{
			"chain_correct_count": correct,
			"chain_final_score":   score,
			"updated_at":          time.Now().UTC(),
		}).Error
}

func (r *slipRepository) Leaderboard(ctx context.Context, cycleID int64, limit int) ([]*model.Slip, error) {
	if limit <= 0 {
		limit = 10
	}
	var list []*model.Slip
	err := r.db.WithContext(ctx).
		Where("cycle_id = ? AND leaderboard_rank IS NOT NULL", cycleID).
		Order("leaderboard_rank ASC").Limit(limit).Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}
