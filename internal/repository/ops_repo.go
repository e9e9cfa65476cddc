package repository

import (
	"context"
	"errors"
	"time"

	"CycleOracle/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OpsRepository 索引水位、事件镜像、对账与健康记录
type OpsRepository interface {
	GetWatermark(ctx context.Context, contract string) (block uint64, ok bool, err error)
	// AdvanceWatermark 水位只前进不后退
	AdvanceWatermark(ctx context.Context, contract string, block uint64) error
	// InsertChainEvent (tx_hash, log_index) 已存在时返回 false
	InsertChainEvent(ctx context.Context, ev *model.ChainEvent) (bool, error)
	UpsertPrizeClaim(ctx context.Context, claim *model.PrizeClaim) error
	RecordSyncIssue(ctx context.Context, issue *model.SyncIssue) error
	RecordHealthReport(ctx context.Context, report *model.HealthReport) error
	ListSyncIssues(ctx context.Context, onlyOpen bool, limit int) ([]*model.SyncIssue, error)
}

type opsRepository struct {
	db *gorm.DB
}

// NewOpsRepository 创建运维仓储
func NewOpsRepository(db *gorm.DB) OpsRepository {
	return &opsRepository{db: db}
}

func (r *opsRepository) GetWatermark(ctx context.Context, contract string) (uint64, bool, error) {
	var wm model.EventWatermark
	err := r.db.WithContext(ctx).Where("contract = ?", contract).First(&wm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return wm.LastBlock, true, nil
}

func (r *opsRepository) AdvanceWatermark(ctx context.Context, contract string, block uint64) error {
	wm := &model.EventWatermark{Contract: contract, LastBlock: block, UpdatedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "contract"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_block": gorm.Expr("GREATEST(event_watermarks.last_block, excluded.last_block)"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(wm).Error
}

func (r *opsRepository) InsertChainEvent(ctx context.Context, ev *model.ChainEvent) (bool, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}, {Name: "log_index"}},
		DoNothing: true,
	}).Create(ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *opsRepository) UpsertPrizeClaim(ctx context.Context, claim *model.PrizeClaim) error {
	if claim.CreatedAt.IsZero() {
		claim.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cycle_id"}, {Name: "player"}},
		DoUpdates: clause.AssignmentColumns([]string{"rank", "amount", "tx_hash"}),
	}).Create(claim).Error
}

func (r *opsRepository) RecordSyncIssue(ctx context.Context, issue *model.SyncIssue) error {
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(issue).Error
}

func (r *opsRepository) RecordHealthReport(ctx context.Context, report *model.HealthReport) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(report).Error
}

func (r *opsRepository) ListSyncIssues(ctx context.Context, onlyOpen bool, limit int) ([]*model.SyncIssue, error) {
	if limit <= 0 {
		limit = 50
	}
	db := r.db.WithContext(ctx).Model(&model.SyncIssue{})
	if onlyOpen {
		db = db.Where("resolved = ?", false)
	}
	var list []*model.SyncIssue
	if err := db.Order("created_at DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
