package repository

import (
	"context"
	"errors"
	"time"

	"CycleOracle/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CycleRepository 周期与槽位
type CycleRepository interface {
	Get(ctx context.Context, cycleID int64) (*model.Cycle, error)
	// GetForUpdate 行锁读取（仅在事务内有意义）
	GetForUpdate(ctx context.Context, cycleID int64) (*model.Cycle, error)
	ListByGameDate(ctx context.Context, gameDate string) ([]*model.Cycle, error)
	// LatestConfirmedID 链上已确认的最大 cycle_id；没有时 ok=false
	LatestConfirmedID(ctx context.Context) (id int64, ok bool, err error)
	// SaveReserved 写入（或重置）本地预留的周期及其 10 个槽位
	SaveReserved(ctx context.Context, cycle *model.Cycle, matches []*model.DailyGameMatch) error
	// Adopt 按链上数据写入周期与槽位，已存在时覆盖槽位
	Adopt(ctx context.Context, cycle *model.Cycle, matches []*model.DailyGameMatch) error
	GetMatches(ctx context.Context, cycleID int64) ([]*model.DailyGameMatch, error)
	Update(ctx context.Context, cycleID int64, fields map[string]interface{}) error
	// TransitionState 仅当当前状态在 from 中时才更新，返回是否更新
	TransitionState(ctx context.Context, cycleID int64, from []model.CycleState, to model.CycleState, fields map[string]interface{}) (bool, error)
	ListByStates(ctx context.Context, states []model.CycleState) ([]*model.Cycle, error)
	ListRecent(ctx context.Context, limit int) ([]*model.Cycle, error)
	ListPendingEvaluation(ctx context.Context) ([]*model.Cycle, error)
	MaxID(ctx context.Context) (id int64, ok bool, err error)
}

type cycleRepository struct {
	db *gorm.DB
}

// NewCycleRepository 创建周期仓储
func NewCycleRepository(db *gorm.DB) CycleRepository {
	return &cycleRepository{db: db}
}

func (r *cycleRepository) Get(ctx context.Context, cycleID int64) (*model.Cycle, error) {
	var c model.Cycle
	if err := r.db.WithContext(ctx).Where("cycle_id = ?", cycleID).First(&c).Error; err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (r *cycleRepository) GetForUpdate(ctx context.Context, cycleID int64) (*model.Cycle, error) {
	var c model.Cycle
	if err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("cycle_id = ?", cycleID).First(&c).Error; err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (r *cycleRepository) ListByGameDate(ctx context.Context, gameDate string) ([]*model.Cycle, error) {
	var list []*model.Cycle
	if err := r.db.WithContext(ctx).Where("game_date = ?", gameDate).Order("cycle_id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *cycleRepository) LatestConfirmedID(ctx context.Context) (int64, bool, error) {
	var id *int64
	err := r.db.WithContext(ctx).Model(&model.Cycle{}).
		Where("state NOT IN ?", model.UnconfirmedCycleStates).
		Select("MAX(cycle_id)").Scan(&id).Error
	if err != nil {
		return 0, false, err
	}
	if id == nil {
		return 0, false, nil
	}
	return *id, true, nil
}

func (r *cycleRepository) MaxID(ctx context.Context) (int64, bool, error) {
	var id *int64
	if err := r.db.WithContext(ctx).Model(&model.Cycle{}).Select("MAX(cycle_id)").Scan(&id).Error; err != nil {
		return 0, false, err
	}
	if id == nil {
		return 0, false, nil
	}
	return *id, true, nil
}

func (r *cycleRepository) SaveReserved(ctx context.Context, cycle *model.Cycle, matches []*model.DailyGameMatch) error {
	if len(matches) != model.SlotCount {
		return model.Invariant("cycle %d: expected %d matches, got %d", cycle.CycleID, model.SlotCount, len(matches))
	}
	existing, err := r.Get(ctx, cycle.CycleID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	if existing != nil && existing.State.Confirmed() {
		return model.Invariant("cycle %d already confirmed on chain (state %s)", cycle.CycleID, existing.State)
	}
	return r.replace(ctx, cycle, matches)
}

func (r *cycleRepository) Adopt(ctx context.Context, cycle *model.Cycle, matches []*model.DailyGameMatch) error {
	if len(matches) != model.SlotCount {
		return model.Invariant("cycle %d: expected %d matches, got %d", cycle.CycleID, model.SlotCount, len(matches))
	}
	return r.replace(ctx, cycle, matches)
}

func (r *cycleRepository) replace(ctx context.Context, cycle *model.Cycle, matches []*model.DailyGameMatch) error {
	now := time.Now().UTC()
	cycle.UpdatedAt = now
	if cycle.CreatedAt.IsZero() {
		cycle.CreatedAt = now
	}
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "cycle_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"game_date", "state", "end_time", "start_tx_hash", "last_error", "updated_at",
		}),
	}).Create(cycle).Error; err != nil {
		return mapErr(err)
	}
	if err := db.Where("cycle_id = ?", cycle.CycleID).Delete(&model.DailyGameMatch{}).Error; err != nil {
		return err
	}
	for _, m := range matches {
		m.ID = 0
		m.CycleID = cycle.CycleID
	}
	return mapErr(db.Create(&matches).Error)
}

func (r *cycleRepository) GetMatches(ctx context.Context, cycleID int64) ([]*model.DailyGameMatch, error) {
	var list []*model.DailyGameMatch
	if err := r.db.WithContext(ctx).Where("cycle_id = ?", cycleID).
		Order("display_order ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *cycleRepository) Update(ctx context.Context, cycleID int64, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&model.Cycle{}).Where("cycle_id = ?", cycleID).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *cycleRepository) TransitionState(ctx context.Context, cycleID int64, from []model.CycleState, to model.CycleState, fields map[string]interface{}) (bool, error) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["state"] = to
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&model.Cycle{}).
		Where("cycle_id = ? AND state IN ?", cycleID, from).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *cycleRepository) ListByStates(ctx context.Context, states []model.CycleState) ([]*model.Cycle, error) {
	var list []*model.Cycle
	if err := r.db.WithContext(ctx).Where("state IN ?", states).Order("cycle_id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *cycleRepository) ListRecent(ctx context.Context, limit int) ([]*model.Cycle, error) {
	if limit <= 0 {
		limit = 10
	}
	var list []*model.Cycle
	if err := r.db.WithContext(ctx).Order("cycle_id DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// ListPendingEvaluation 已结算且尚未完成评估，或仍有未评估 slip 的周期（结算后才入库的 slip 也会被选中）
func (r *cycleRepository) ListPendingEvaluation(ctx context.Context) ([]*model.Cycle, error) {
	var list []*model.Cycle
	if err := r.db.WithContext(ctx).
		Where("is_resolved = ?", true).
		Where("evaluated_at IS NULL OR EXISTS (SELECT 1 FROM slips WHERE slips.cycle_id = cycles.cycle_id AND slips.is_evaluated = ?)", false).
		Order("cycle_id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
