package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CycleOracle/internal/interfaces"
	"CycleOracle/internal/model"
	"CycleOracle/internal/repository"

	"github.com/sirupsen/logrus"
)

const (
	// 只轮询最近 4 小时内开赛的比赛
	pollLookback = 4 * time.Hour
	// 单次拉取赛果的最大场次
	resultBatch = 200
	// 赛果来源
	resultSource = "sportmonks"
)

// 轮询时跳过的终态
var pollSkipStates = []model.FixtureState{
	model.FixtureFinished,
	model.FixtureFinishedAfterExtra,
	model.FixtureFinishedAfterPenalties,
	model.FixtureCancelled,
	model.FixturePostponed,
}

// SyncStats 单次同步结果
type SyncStats struct {
	Checked int
	Updated int
	Failed  int
}

// FixtureSyncService 比赛状态与赛果同步（poll-fixture-state / fetch-results）
type FixtureSyncService struct {
	source interfaces.FixtureSource
	store  repository.Store
	logger *logrus.Logger
	now    func() time.Time
}

// NewFixtureSyncService 创建同步服务
func NewFixtureSyncService(source interfaces.FixtureSource, store repository.Store, logger *logrus.Logger) *FixtureSyncService {
	return &FixtureSyncService{
		source: source,
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// PollStates 刷新最近开赛、尚未进入终态的比赛状态
func (s *FixtureSyncService) PollStates(ctx context.Context) (*SyncStats, error) {
	now := s.now()
	repos := s.store.Repos()
	fixtures, err := repos.Fixtures.ListStartedBetween(ctx, now.Add(-pollLookback), now, pollSkipStates)
	if err != nil {
		return nil, fmt.Errorf("查询待轮询比赛失败: %w", err)
	}

	stats := &SyncStats{}
	var firstErr error
	for _, f := range fixtures {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Checked++
		state, err := s.source.FixtureState(ctx, f.FixtureID)
		if err != nil {
			stats.Failed++
			s.logger.WithError(err).WithField("fixture_id", f.FixtureID).Warn("拉取比赛状态失败")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := repos.Fixtures.UpdateState(ctx, f.FixtureID, state, s.now()); err != nil {
			return stats, fmt.Errorf("更新比赛状态失败 fixture=%d: %w", f.FixtureID, err)
		}
		if state != f.State {
			stats.Updated++
			s.logger.WithFields(logrus.Fields{
				"fixture_id": f.FixtureID,
				"from":       f.State,
				"to":         state,
			}).Info("比赛状态变化")
		}
	}
	// 全部失败说明数据源不可用，交给调度层按瞬时错误处理
	if stats.Checked > 0 && stats.Failed == stats.Checked {
		return stats, firstErr
	}
	return stats, nil
}

// FetchResults 为已完场但无赛果的比赛拉取比分并写入规范化结果
func (s *FixtureSyncService) FetchResults(ctx context.Context) (*SyncStats, error) {
	fixtures, err := s.store.Repos().Fixtures.ListFinishedWithoutResult(ctx, resultBatch)
	if err != nil {
		return nil, fmt.Errorf("查询待拉取赛果的比赛失败: %w", err)
	}
	stats := &SyncStats{}
	var firstErr error
	for _, f := range fixtures {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Checked++
		saved, err := s.RefreshFixture(ctx, f.FixtureID)
		if err != nil {
			stats.Failed++
			s.logger.WithError(err).WithField("fixture_id", f.FixtureID).Warn("拉取赛果失败")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if saved {
			stats.Updated++
		}
	}
	if stats.Checked > 0 && stats.Failed == stats.Checked {
		return stats, firstErr
	}
	return stats, nil
}

// RefreshFixture 重新拉取单场比赛：覆盖状态，完场且比分齐全时写入赛果。返回是否写入了新赛果
func (s *FixtureSyncService) RefreshFixture(ctx context.Context, fixtureID int64) (bool, error) {
	line, state, err := s.source.FinalScores(ctx, fixtureID)
	if err != nil {
		return false, err
	}
	if !state.IsFinished() || line == nil {
		return false, s.store.Repos().Fixtures.UpdateState(ctx, fixtureID, state, s.now())
	}
	result, err := BuildResult(fixtureID, *line, resultSource)
	if errors.Is(err, model.ErrResultNotSet) {
		// 比分未出齐，视为尚未出赛果
		s.logger.WithField("fixture_id", fixtureID).Debug("比分不完整，等待下次拉取")
		return false, s.store.Repos().Fixtures.UpdateState(ctx, fixtureID, state, s.now())
	}
	if err != nil {
		return false, err
	}

	var saved bool
	err = s.store.InTx(ctx, func(r repository.Repos) error {
		if err := r.Fixtures.UpdateState(ctx, fixtureID, state, s.now()); err != nil {
			return err
		}
		saved, err = r.Fixtures.SaveResult(ctx, result)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("保存赛果失败 fixture=%d: %w", fixtureID, err)
	}
	if saved {
		s.logger.WithFields(logrus.Fields{
			"fixture_id": fixtureID,
			"score":      fmt.Sprintf("%d-%d", *line.Home, *line.Away),
			"1x2":        *result.Outcome1X2,
			"ou25":       *result.OutcomeOU25,
		}).Info("赛果已写入")
	}
	return saved, nil
}
