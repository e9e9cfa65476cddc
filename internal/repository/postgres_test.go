package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"CycleOracle/internal/config"
	"CycleOracle/internal/model"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

// setupTestDB 启动 PostgreSQL 容器并执行迁移；没有 Docker 时跳过
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("cycle_oracle"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	db, err := Open(config.DatabaseConfig{DSN: dsn, MaxOpenConns: 5, MaxIdleConns: 2, ConnMaxLifetime: time.Minute}, 0, logger)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	// 迁移可重复执行
	require.NoError(t, Migrate(db))
	return db
}

func tenMatches(base int64) []*model.DailyGameMatch {
	out := make([]*model.DailyGameMatch, 0, model.SlotCount)
	for i := 0; i < model.SlotCount; i++ {
		out = append(out, &model.DailyGameMatch{
			FixtureID:    base + int64(i),
			DisplayOrder: i,
			StartTime:    time.Date(2026, 10, 14, 12+i%8, 0, 0, 0, time.UTC),
			OddsHome:     1800, OddsDraw: 3200, OddsAway: 4100, OddsOver: 1900, OddsUnder: 1950,
		})
	}
	return out
}

func TestPostgres_CycleTransitions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)
	cycles := store.Repos().Cycles

	require.NoError(t, cycles.Adopt(ctx, &model.Cycle{CycleID: 7, GameDate: "2026-10-14", State: model.CycleOpen}, tenMatches(1000)))
	matches, err := cycles.GetMatches(ctx, 7)
	require.NoError(t, err)
	require.Len(t, matches, model.SlotCount)
	assert.Equal(t, int64(1000), matches[0].FixtureID)

	ok, err := cycles.TransitionState(ctx, 7, []model.CycleState{model.CycleOpen}, model.CycleResolved,
		map[string]interface{}{"is_resolved": true})
	require.NoError(t, err)
	assert.True(t, ok)

	// 状态已变化，重复迁移不生效
	ok, err = cycles.TransitionState(ctx, 7, []model.CycleState{model.CycleOpen}, model.CycleResolved, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	c, err := cycles.Get(ctx, 7)
	require.NoError(t, err)
	assert.True(t, c.IsResolved)
	assert.Equal(t, model.CycleResolved, c.State)

	_, err = cycles.Get(ctx, 8)
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.Error(t, cycles.Adopt(ctx, &model.Cycle{CycleID: 9, GameDate: "2026-10-15", State: model.CycleOpen}, tenMatches(2000)[:9]))
}

func TestPostgres_InTxRollsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	boom := errors.New("boom")
	err := store.InTx(ctx, func(r Repos) error {
		if err := r.Cycles.Adopt(ctx, &model.Cycle{CycleID: 3, GameDate: "2026-10-14", State: model.CycleOpen}, tenMatches(3000)); err != nil {
			return err
		}
		if err := r.Ops.AdvanceWatermark(ctx, "0xoracle", 500); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.Repos().Cycles.Get(ctx, 3)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, ok, err := store.Repos().Ops.GetWatermark(ctx, "0xoracle")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgres_WatermarkAndEvents(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ops := NewStore(db).Repos().Ops

	require.NoError(t, ops.AdvanceWatermark(ctx, "0xoracle", 120))
	// 水位只前进不后退
	require.NoError(t, ops.AdvanceWatermark(ctx, "0xoracle", 80))
	wm, ok, err := ops.GetWatermark(ctx, "0xoracle")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(120), wm)

	cycleID := int64(7)
	ev := &model.ChainEvent{TxHash: "0xabc", LogIndex: 2, BlockNumber: 110, Contract: "0xoracle", EventName: "CycleResolved", CycleID: &cycleID}
	inserted, err := ops.InsertChainEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := &model.ChainEvent{TxHash: "0xabc", LogIndex: 2, BlockNumber: 110, Contract: "0xoracle", EventName: "CycleResolved"}
	inserted, err = ops.InsertChainEvent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestPostgres_LockExclusive(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	a := NewLocker(NewLockRepository(db), "worker-a", logger)
	b := NewLocker(NewLockRepository(db), "worker-b", logger)

	release, ok, err := a.TryLock(ctx, JobLockName(config.JobAttemptResolution), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLock(ctx, JobLockName(config.JobAttemptResolution), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	// 同一持有者也不能重入
	_, ok, err = a.TryLock(ctx, JobLockName(config.JobAttemptResolution), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	releaseB, ok, err := b.TryLock(ctx, JobLockName(config.JobAttemptResolution), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	releaseB()

	// 过期锁可以被抢占
	_, ok, err = a.TryLock(ctx, CycleLockName(7), time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(20 * time.Millisecond)
	_, ok, err = b.TryLock(ctx, CycleLockName(7), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgres_SaveResultOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	fixtures := NewStore(db).Repos().Fixtures

	home, away := 2, 1
	o1x2, ou := model.OutcomeHome, model.OutcomeOver
	written, err := fixtures.SaveResult(ctx, &model.FixtureResult{
		FixtureID: 1000, HomeScore: &home, AwayScore: &away, Outcome1X2: &o1x2, OutcomeOU25: &ou,
	})
	require.NoError(t, err)
	assert.True(t, written)

	// 已有结果不会被不同比分覆盖
	zero := 0
	draw, under := model.OutcomeDraw, model.OutcomeUnder
	written, err = fixtures.SaveResult(ctx, &model.FixtureResult{
		FixtureID: 1000, HomeScore: &zero, AwayScore: &zero, Outcome1X2: &draw, OutcomeOU25: &under,
	})
	require.NoError(t, err)
	assert.False(t, written)

	results, err := fixtures.GetResults(ctx, []int64{1000})
	require.NoError(t, err)
	require.Contains(t, results, int64(1000))
	got := results[1000]
	assert.Equal(t, model.OutcomeHome, *got.Outcome1X2)
	assert.Equal(t, model.OutcomeOver, *got.OutcomeOU25)
	assert.Equal(t, 2, *got.HomeScore)
	assert.Equal(t, 1, *got.AwayScore)
}

func TestPostgres_MarkEvaluatedOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	slips := NewStore(db).Repos().Slips
	at := time.Date(2026, 10, 15, 1, 0, 0, 0, time.UTC)

	inserted, err := slips.Insert(ctx, &model.Slip{SlipID: 101, CycleID: 7, Player: "0xplayer", PlacedAt: at.Add(-24 * time.Hour)}, nil)
	require.NoError(t, err)
	require.True(t, inserted)

	written, err := slips.MarkEvaluated(ctx, 101, 3, decimal.NewFromInt(5130), at)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = slips.MarkEvaluated(ctx, 101, 9, decimal.NewFromInt(99999), at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, written)

	s, err := slips.Get(ctx, 101)
	require.NoError(t, err)
	assert.True(t, s.IsEvaluated)
	assert.Equal(t, 3, s.CorrectCount)
	assert.True(t, decimal.NewFromInt(5130).Equal(s.FinalScore))
	n, err := slips.CountUnevaluated(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPostgres_PendingEvaluationIncludesLateSlips(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repos := NewStore(db).Repos()
	at := time.Date(2026, 10, 15, 1, 0, 0, 0, time.UTC)

	require.NoError(t, repos.Cycles.Adopt(ctx, &model.Cycle{CycleID: 7, GameDate: "2026-10-14", State: model.CycleOpen}, tenMatches(1000)))
	_, err := repos.Cycles.TransitionState(ctx, 7, []model.CycleState{model.CycleOpen}, model.CycleResolved,
		map[string]interface{}{"is_resolved": true, "evaluated_at": at})
	require.NoError(t, err)

	pending, err := repos.Cycles.ListPendingEvaluation(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = repos.Slips.Insert(ctx, &model.Slip{SlipID: 102, CycleID: 7, Player: "0xplayer", PlacedAt: at}, nil)
	require.NoError(t, err)
	pending, err = repos.Cycles.ListPendingEvaluation(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(7), pending[0].CycleID)
}
