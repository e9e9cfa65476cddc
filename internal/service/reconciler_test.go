package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"CycleOracle/internal/chain"
	"CycleOracle/internal/config"
	"CycleOracle/internal/metrics"
	"CycleOracle/internal/mocks"
	"CycleOracle/internal/model"
	"CycleOracle/internal/repository"
	"CycleOracle/internal/repository/repotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var reconcileBase = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type reconcileFixture struct {
	store   *repotest.Memory
	chain   *mocks.MockCycleChain
	trigger *captureTrigger
	now     time.Time
	recon   *Reconciler
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &reconcileFixture{
		store:   repotest.New(),
		chain:   mocks.NewMockCycleChain(ctrl),
		trigger: &captureTrigger{},
		now:     reconcileBase.Add(24 * time.Hour),
	}
	f.store.SetClock(func() time.Time { return f.now })
	logger := quietLogger()
	locker := repository.NewLocker(f.store.Locks(), "worker-a", logger)
	f.recon = NewReconciler(f.chain, f.store, locker, &capturePublisher{}, metrics.NewNop(), config.ReconcilerConfig{Window: 7}, logger)
	f.recon.SetEvaluationTrigger(f.trigger)
	f.recon.now = func() time.Time { return f.now }
	return f
}

func reconcileInputs() chain.MatchInputs {
	var inputs chain.MatchInputs
	for i := range inputs {
		inputs[i] = chain.MatchInput{
			FixtureID: uint64(7001 + i),
			StartTime: uint64(reconcileBase.Add(time.Duration(i) * 15 * time.Minute).Unix()),
			OddsHome:  1800, OddsDraw: 3300, OddsAway: 4200, OddsOver: 1900, OddsUnder: 1850,
		}
	}
	return inputs
}

func (f *reconcileFixture) seedCycle(t *testing.T, id int64, state model.CycleState) {
	t.Helper()
	end := reconcileBase
	require.NoError(t, f.store.Repos().Cycles.Adopt(context.Background(), &model.Cycle{
		CycleID:  id,
		GameDate: "2026-10-14",
		State:    state,
		EndTime:  &end,
	}, MatchesFromChain(reconcileInputs())))
}

func TestReconcileChain(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *reconcileFixture)
		check func(t *testing.T, f *reconcileFixture, stats *ReconcileStats)
	}{
		{
			name: "接管数据库缺失的链上周期",
			setup: func(t *testing.T, f *reconcileFixture) {
				f.chain.EXPECT().CurrentCycleID(gomock.Any()).Return(uint64(1), nil)
				f.chain.EXPECT().CycleStatus(gomock.Any(), uint64(1)).
					Return(&chain.CycleStatus{Exists: true, State: chain.StateActive, EndTime: reconcileBase, SlipCount: 4}, nil).Times(2)
				f.chain.EXPECT().DailyMatches(gomock.Any(), uint64(1)).Return(reconcileInputs(), nil)
				f.chain.EXPECT().CycleEndTime(gomock.Any(), uint64(1)).Return(reconcileBase, nil)
			},
			check: func(t *testing.T, f *reconcileFixture, stats *ReconcileStats) {
				assert.Equal(t, 1, stats.Adopted)
				c, ok := f.store.Cycle(1)
				require.True(t, ok)
				assert.Equal(t, model.CycleOpen, c.State)
				assert.Equal(t, "2026-10-14", c.GameDate)
				assert.Equal(t, int64(4), c.SlipCount)
				matches, err := f.store.Repos().Cycles.GetMatches(context.Background(), 1)
				require.NoError(t, err)
				assert.Len(t, matches, model.SlotCount)
				issues := f.store.SyncIssues()
				require.Len(t, issues, 1)
				assert.Equal(t, model.IssueCycleAdopted, issues[0].Kind)
			},
		},
		{
			name: "链上已结束时推进到 EndedAwaitingResults",
			setup: func(t *testing.T, f *reconcileFixture) {
				f.seedCycle(t, 1, model.CycleOpen)
				f.chain.EXPECT().CurrentCycleID(gomock.Any()).Return(uint64(1), nil)
				f.chain.EXPECT().CycleStatus(gomock.Any(), uint64(1)).
					Return(&chain.CycleStatus{Exists: true, State: chain.StateEnded, EndTime: reconcileBase}, nil)
			},
			check: func(t *testing.T, f *reconcileFixture, stats *ReconcileStats) {
				assert.Equal(t, 1, stats.Advanced)
				assert.Zero(t, stats.Adopted)
				c, _ := f.store.Cycle(1)
				assert.Equal(t, model.CycleEndedAwaitingResults, c.State)
				assert.False(t, c.IsResolved)
				assert.Empty(t, f.trigger.ids)
			},
		},
		{
			name: "清理其他实例遗留的过期锁",
			setup: func(t *testing.T, f *reconcileFixture) {
				other := repository.NewLocker(f.store.Locks(), "worker-b", quietLogger())
				_, ok, err := other.TryLock(context.Background(), repository.CycleLockName(9), time.Second)
				require.NoError(t, err)
				require.True(t, ok)
				_, ok, err = other.TryLock(context.Background(), repository.JobLockName(config.JobOpenCycle), time.Hour)
				require.NoError(t, err)
				require.True(t, ok)
				f.now = f.now.Add(time.Minute)
				f.chain.EXPECT().CurrentCycleID(gomock.Any()).Return(uint64(0), nil)
			},
			check: func(t *testing.T, f *reconcileFixture, stats *ReconcileStats) {
				assert.Equal(t, int64(1), stats.LocksPurged)
				assert.Zero(t, stats.Checked)
				_, err := f.store.Locks().Get(context.Background(), repository.CycleLockName(9))
				assert.ErrorIs(t, err, model.ErrNotFound)
				_, err = f.store.Locks().Get(context.Background(), repository.JobLockName(config.JobOpenCycle))
				assert.NoError(t, err)
			},
		},
		{
			name: "链上已结算但找不到 CycleResolved 日志",
			setup: func(t *testing.T, f *reconcileFixture) {
				f.seedCycle(t, 1, model.CycleEndedAwaitingResults)
				f.chain.EXPECT().CurrentCycleID(gomock.Any()).Return(uint64(1), nil)
				f.chain.EXPECT().CycleStatus(gomock.Any(), uint64(1)).
					Return(&chain.CycleStatus{Exists: true, State: chain.StateResolved, EndTime: reconcileBase, PrizePool: big.NewInt(5_000_000)}, nil)
				f.chain.EXPECT().FindCycleResolved(gomock.Any(), uint64(1)).Return(nil, model.ErrNotFound)
			},
			check: func(t *testing.T, f *reconcileFixture, stats *ReconcileStats) {
				assert.Equal(t, 1, stats.Resolved)
				c, _ := f.store.Cycle(1)
				assert.Equal(t, model.CycleResolved, c.State)
				assert.True(t, c.IsResolved)
				assert.Nil(t, c.ResolutionTxHash)
				require.NotNil(t, c.ResolvedAt)
				assert.True(t, c.ResolvedAt.Equal(f.now))
				assert.Equal(t, "5000000", c.PrizePool.String())
				issues := f.store.SyncIssues()
				require.Len(t, issues, 1)
				assert.Contains(t, issues[0].Message, "CycleResolved log not found")
				assert.Equal(t, []int64{1}, f.trigger.ids)
			},
		},
		{
			name: "链上不存在的周期不做处理",
			setup: func(t *testing.T, f *reconcileFixture) {
				f.chain.EXPECT().CurrentCycleID(gomock.Any()).Return(uint64(1), nil)
				f.chain.EXPECT().CycleStatus(gomock.Any(), uint64(1)).Return(&chain.CycleStatus{}, nil)
			},
			check: func(t *testing.T, f *reconcileFixture, stats *ReconcileStats) {
				assert.Equal(t, 1, stats.Checked)
				assert.Zero(t, stats.Adopted)
				_, ok := f.store.Cycle(1)
				assert.False(t, ok)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReconcileFixture(t)
			tt.setup(t, f)

			stats, err := f.recon.ReconcileChain(context.Background())
			require.NoError(t, err)
			tt.check(t, f, stats)
		})
	}
}

func TestReconcileCycle_Single(t *testing.T) {
	f := newReconcileFixture(t)
	f.seedCycle(t, 3, model.CycleOpen)
	f.chain.EXPECT().CycleStatus(gomock.Any(), uint64(3)).
		Return(&chain.CycleStatus{Exists: true, State: chain.StateEnded, EndTime: reconcileBase}, nil)

	stats, err := f.recon.ReconcileCycle(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Advanced)
	c, _ := f.store.Cycle(3)
	assert.Equal(t, model.CycleEndedAwaitingResults, c.State)
}
