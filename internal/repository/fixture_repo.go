package repository

import (
	"context"
	"time"

	"CycleOracle/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FixtureRepository 比赛、赔率、赛果（共享参考数据）
type FixtureRepository interface {
	UpsertFixtures(ctx context.Context, fixtures []*model.Fixture) error
	UpsertOdds(ctx context.Context, odds []*model.FixtureOdds) error
	GetFixtures(ctx context.Context, ids []int64) (map[int64]*model.Fixture, error)
	GetOdds(ctx context.Context, ids []int64) (map[int64]*model.FixtureOdds, error)
	UpdateState(ctx context.Context, fixtureID int64, state model.FixtureState, checkedAt time.Time) error
	ListStartedBetween(ctx context.Context, from, to time.Time, excludeStates []model.FixtureState) ([]*model.Fixture, error)
	ListFinishedWithoutResult(ctx context.Context, limit int) ([]*model.Fixture, error)
	// SaveResult 写入赛果；已有非空结果时不覆盖，返回是否写入
	SaveResult(ctx context.Context, result *model.FixtureResult) (bool, error)
	GetResults(ctx context.Context, ids []int64) (map[int64]*model.FixtureResult, error)
}

type fixtureRepository struct {
	db *gorm.DB
}

// NewFixtureRepository 创建比赛仓储
func NewFixtureRepository(db *gorm.DB) FixtureRepository {
	return &fixtureRepository{db: db}
}

// UpsertFixtures 新比赛插入；已有比赛只刷新基础信息，状态由轮询任务维护
func (r *fixtureRepository) UpsertFixtures(ctx context.Context, fixtures []*model.Fixture) error {
	if len(fixtures) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, f := range fixtures {
		f.UpdatedAt = now
		if f.State == "" {
			f.State = model.FixtureNotStarted
		}
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fixture_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"league_id", "league_name", "home_team", "away_team", "start_time", "updated_at"}),
	}).Create(&fixtures).Error
}

func (r *fixtureRepository) UpsertOdds(ctx context.Context, odds []*model.FixtureOdds) error {
	if len(odds) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, o := range odds {
		o.UpdatedAt = now
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fixture_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"bookmaker_id", "odds_home", "odds_draw", "odds_away", "odds_over", "odds_under", "updated_at"}),
	}).Create(&odds).Error
}

func (r *fixtureRepository) GetFixtures(ctx context.Context, ids []int64) (map[int64]*model.Fixture, error) {
	out := make(map[int64]*model.Fixture, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var list []*model.Fixture
	if err := r.db.WithContext(ctx).Where("fixture_id IN ?", ids).Find(&list).Error; err != nil {
		return nil, err
	}
	for _, f := range list {
		out[f.FixtureID] = f
	}
	return out, nil
}

func (r *fixtureRepository) GetOdds(ctx context.Context, ids []int64) (map[int64]*model.FixtureOdds, error) {
	out := make(map[int64]*model.FixtureOdds, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var list []*model.FixtureOdds
	if err := r.db.WithContext(ctx).Where("fixture_id IN ?", ids).Find(&list).Error; err != nil {
		return nil, err
	}
	for _, o := range list {
		out[o.FixtureID] = o
	}
	return out, nil
}

func (r *fixtureRepository) UpdateState(ctx context.Context, fixtureID int64, state model.FixtureState, checkedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.Fixture{}).
		Where("fixture_id = ?", fixtureID).
		Updates(map[string]interface{}{
			"state":            state,
			"state_checked_at": checkedAt,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

// ListStartedBetween 开赛时间落在 [from, to] 的比赛，排除已是终态的
func (r *fixtureRepository) ListStartedBetween(ctx context.Context, from, to time.Time, excludeStates []model.FixtureState) ([]*model.Fixture, error) {
	db := r.db.WithContext(ctx).Where("start_time BETWEEN ? AND ?", from, to)
	if len(excludeStates) > 0 {
		db = db.Where("state NOT IN ?", excludeStates)
	}
	var list []*model.Fixture
	if err := db.Order("start_time ASC, fixture_id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// ListFinishedWithoutResult 已完赛但尚无有效赛果的比赛
func (r *fixtureRepository) ListFinishedWithoutResult(ctx context.Context, limit int) ([]*model.Fixture, error) {
	if limit <= 0 {
		limit = 200
	}
	var list []*model.Fixture
	err := r.db.WithContext(ctx).
		Where("state IN ?", model.FinishedStates).
		Where("NOT EXISTS (SELECT 1 FROM fixture_results fr WHERE fr.fixture_id = fixtures.fixture_id AND fr.outcome_1x2 IS NOT NULL AND fr.outcome_ou25 IS NOT NULL)").
		Order("start_time ASC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// SaveResult 只在 outcome_1x2 为空时写入，已有结果保持不变
func (r *fixtureRepository) SaveResult(ctx context.Context, result *model.FixtureResult) (bool, error) {
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "fixture_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"home_score", "away_score", "ht_home_score", "ht_away_score",
			"outcome_1x2", "outcome_ou25", "outcome_ou05", "outcome_ou15", "outcome_ou35",
			"outcome_btts", "ht_result", "ht_ou15", "source", "raw",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "fixture_results.outcome_1x2 IS NULL"},
		}},
	}).Create(result)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *fixtureRepository) GetResults(ctx context.Context, ids []int64) (map[int64]*model.FixtureResult, error) {
	out := make(map[int64]*model.FixtureResult, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var list []*model.FixtureResult
	if err := r.db.WithContext(ctx).Where("fixture_id IN ?", ids).Find(&list).Error; err != nil {
		return nil, err
	}
	for _, res := range list {
		out[res.FixtureID] = res
	}
	return out, nil
}
