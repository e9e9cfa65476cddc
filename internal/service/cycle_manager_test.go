package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"CycleOracle/internal/chain"
	"CycleOracle/internal/config"
	"CycleOracle/internal/model"
	"CycleOracle/internal/repository"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func expectSelectableDay(h *harness) []*model.Fixture {
	all := validFixtures(model.SlotCount)
	h.source.EXPECT().FixturesForDate(gomock.Any(), selectDay).Return(all, nil)
	odds := map[int64]*model.FixtureOdds{}
	for _, f := range all {
		odds[f.FixtureID] = completeOdds(f.FixtureID)
	}
	expectOdds(h, odds)
	return all
}

func chainInputs(fixtures []*model.Fixture) chain.MatchInputs {
	var out chain.MatchInputs
	for i, f := range fixtures {
		out[i] = chain.MatchInput{
			FixtureID: uint64(f.FixtureID),
			StartTime: uint64(f.StartTime.Unix()),
			OddsHome:  2100, OddsDraw: 3300, OddsAway: 3500, OddsOver: 1900, OddsUnder: 1900,
		}
	}
	return out
}

func TestOpenCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setNow(selectDay.Add(6 * time.Hour))
	fixtures := expectSelectableDay(h)

	cycle, err := h.manager.OpenCycle(ctx, selectDay)
	require.NoError(t, err)
	require.NotNil(t, cycle)
	assert.Equal(t, int64(1), cycle.CycleID)
	assert.Equal(t, model.CycleOpen, cycle.State)
	assert.Equal(t, "2026-10-20", cycle.GameDate)
	require.NotNil(t, cycle.StartTxHash)
	assert.Equal(t, "0xstart1", *cycle.StartTxHash)
	require.NotNil(t, cycle.EndTime)
	assert.True(t, cycle.EndTime.Equal(fixtures[0].StartTime))

	rows, err := h.store.Repos().Cycles.GetMatches(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, model.SlotCount)
	onChain, err := h.chain.DailyMatches(ctx, 1)
	require.NoError(t, err)
	for i, row := range rows {
		assert.Equal(t, i, row.DisplayOrder)
		assert.Equal(t, uint64(row.FixtureID), onChain[i].FixtureID)
		assert.Equal(t, uint64(row.StartTime.Unix()), onChain[i].StartTime)
	}
	assert.Equal(t, []string{model.EventCycleOpened}, h.pub.types())

	// 同一天再次执行：直接返回已有周期，不再调用数据源与合约
	again, err := h.manager.OpenCycle(ctx, selectDay.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.CycleID)
	start, _ := h.chain.calls()
	assert.Equal(t, 1, start)
}

func TestOpenCycle_ChainAheadOfDatabase(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedCycle42(t, allSlots)
	h.chain.setCycle(43, chain.StateActive, selectDay.Add(12*time.Hour), chainInputs(validFixtures(model.SlotCount)))
	h.setNow(selectDay.Add(6 * time.Hour))

	cycle, err := h.manager.OpenCycle(ctx, selectDay)
	assert.Nil(t, cycle)
	assert.ErrorIs(t, err, model.ErrSyncMismatch)

	start, _ := h.chain.calls()
	assert.Zero(t, start)
	issues := h.store.SyncIssues()
	require.Len(t, issues, 1)
	assert.Equal(t, model.IssueCycleIDMismatch, issues[0].Kind)
	_, exists := h.store.Cycle(43)
	assert.False(t, exists)
	assert.Contains(t, h.pub.types(), model.EventSyncIssue)
}

func TestOpenCycle_AdoptsReservedCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setNow(selectDay.Add(6 * time.Hour))

	inputs := chainInputs(validFixtures(model.SlotCount))
	// 上次运行已发出交易但进程在确认前退出
	require.NoError(t, h.store.Repos().Cycles.SaveReserved(ctx,
		&model.Cycle{CycleID: 1, GameDate: "2026-10-20", State: model.CycleOpening}, MatchesFromChain(inputs)))
	h.chain.setCycle(1, chain.StateActive, selectDay.Add(12*time.Hour), inputs)

	cycle, err := h.manager.OpenCycle(ctx, selectDay)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cycle.CycleID)
	assert.Equal(t, model.CycleOpen, cycle.State)
	assert.Equal(t, "2026-10-20", cycle.GameDate)

	start, _ := h.chain.calls()
	assert.Zero(t, start)
	issues := h.store.SyncIssues()
	require.Len(t, issues, 1)
	assert.Equal(t, model.IssueCycleAdopted, issues[0].Kind)
}

func TestOpenCycle_StartRevertMarksFailed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.setNow(selectDay.Add(6 * time.Hour))
	expectSelectableDay(h)
	h.chain.startErr = &chain.RevertError{Method: "startDailyCycle", Kind: chain.RevertNotOracle, Reason: "not oracle"}

	_, err := h.manager.OpenCycle(ctx, selectDay)
	assert.ErrorIs(t, err, model.ErrFatalRevert)

	c, ok := h.store.Cycle(1)
	require.True(t, ok)
	assert.Equal(t, model.CycleFailedOpening, c.State)
	require.NotNil(t, c.LastError)
	assert.Contains(t, *c.LastError, "NotOracle")

	reports := h.store.HealthReports()
	require.Len(t, reports, 1)
	assert.Equal(t, config.JobOpenCycle, reports[0].Job)
	assert.Empty(t, h.pub.types())
}

func TestOpenCycle_InsufficientFixtures(t *testing.T) {
	h := newHarness(t)
	h.setNow(selectDay.Add(6 * time.Hour))
	h.source.EXPECT().FixturesForDate(gomock.Any(), selectDay).Return(validFixtures(4), nil)
	expectOdds(h, map[int64]*model.FixtureOdds{})

	_, err := h.manager.OpenCycle(context.Background(), selectDay)
	assert.ErrorIs(t, err, model.ErrInsufficientFixtures)

	_, exists := h.store.Cycle(1)
	assert.False(t, exists)
	start, _ := h.chain.calls()
	assert.Zero(t, start)
	assert.Len(t, h.store.HealthReports(), 1)
}

func TestResolveCycle_SubmitsSlotOrderedResults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedCycle42(t, allSlots)

	outcome, err := h.manager.ResolveCycle(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, outcome)

	want := chain.ResultPairs{
		{Moneyline: 1, OverUnder: 2}, {Moneyline: 2, OverUnder: 2}, {Moneyline: 2, OverUnder: 1}, {Moneyline: 1, OverUnder: 1}, {Moneyline: 3, OverUnder: 2}, {Moneyline: 2, OverUnder: 1}, {Moneyline: 1, OverUnder: 1}, {Moneyline: 3, OverUnder: 1}, {Moneyline: 2, OverUnder: 2}, {Moneyline: 3, OverUnder: 1},
	}
	assert.Equal(t, want, h.chain.resultsOf(42))

	c, _ := h.store.Cycle(42)
	assert.Equal(t, model.CycleResolved, c.State)
	assert.True(t, c.IsResolved)
	assert.False(t, c.ReadyForResolution)
	require.NotNil(t, c.ResolutionTxHash)
	assert.Equal(t, "0xresolve42", *c.ResolutionTxHash)

	var entries []model.ResolutionEntry
	require.NoError(t, json.Unmarshal(c.ResolutionData, &entries))
	require.Len(t, entries, model.SlotCount)
	for i, e := range entries {
		assert.Equal(t, i, e.Slot)
		assert.Equal(t, cycle42FixtureID(i), e.FixtureID)
		assert.Equal(t, want[i].Moneyline, e.Moneyline)
		assert.Equal(t, want[i].OverUnder, e.OverUnder)
	}

	assert.Equal(t, []string{model.EventCycleReady, model.EventCycleResolved}, h.pub.types())
	assert.Equal(t, []int64{42}, h.trigger.ids)

	// 已结算：不会再次上链
	outcome, err = h.manager.ResolveCycle(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)
	_, resolves := h.chain.calls()
	assert.Equal(t, 1, resolves)
}

func TestResolveCycle_GateWaitsForLatestMatchGuard(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedCycle42(t, allSlots)
	h.chain.setBlockTime(cycle42LastKickoff().Add(6299 * time.Second))

	outcome, err := h.manager.ResolveCycle(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, outcome)
	_, resolves := h.chain.calls()
	assert.Zero(t, resolves)

	// 赛果已齐：数据先准备好
	c, _ := h.store.Cycle(42)
	assert.Equal(t, model.CycleResolutionPrepared, c.State)
	assert.True(t, c.ReadyForResolution)

	report, err := h.manager.EvaluateGate(ctx, 42)
	require.NoError(t, err)
	assert.False(t, report.Passed())
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, ConditionMatchesPlayed, failed[0].Condition)

	h.chain.setBlockTime(cycle42LastKickoff().Add(6300 * time.Second))
	outcome, err = h.manager.ResolveCycle(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, outcome)

	// cycle.ready 只发布一次
	ready := 0
	for _, typ := range h.pub.types() {
		if typ == model.EventCycleReady {
			ready++
		}
	}
	assert.Equal(t, 1, ready)
}

func TestResolveCycle_ChainNotEnded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedCycle42(t, allSlots)
	h.chain.setState(42, chain.StateActive)

	outcome, err := h.manager.ResolveCycle(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, outcome)

	report, err := h.manager.EvaluateGate(ctx, 42)
	require.NoError(t, err)
	assert.False(t, report.Conditions[ConditionChainEnded-1].Passed)
	assert.True(t, report.ResultsReady())

	// 数据已写入但状态不前进
	c, _ := h.store.Cycle(42)
	assert.Equal(t, model.CycleEndedAwaitingResults, c.State)
	assert.True(t, c.ReadyForResolution)
}

func TestResolveCycle_SlotMismatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedCycle42(t, allSlots)
	h.chain.mu.Lock()
	h.chain.cycles[42].matches[3].FixtureID = 9999
	h.chain.mu.Unlock()

	outcome, err := h.manager.ResolveCycle(ctx, 42)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.ErrorIs(t, err, model.ErrSlotMismatch)

	_, resolves := h.chain.calls()
	assert.Zero(t, resolves)
	require.Len(t, h.store.HealthReports(), 1)
	issues := h.store.SyncIssues()
	require.Len(t, issues, 1)
	assert.Equal(t, model.IssueSlotMismatch, issues[0].Kind)

	c, _ := h.store.Cycle(42)
	assert.False(t, c.ReadyForResolution)
}

func TestResolveCycle_AlreadyResolvedOnChain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedCycle42(t, allSlots)
	h.chain.setState(42, chain.StateResolved)

	outcome, err := h.manager.ResolveCycle(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)

	_, resolves := h.chain.calls()
	assert.Zero(t, resolves)
	c, _ := h.store.Cycle(42)
	assert.True(t, c.IsResolved)
	require.NotNil(t, c.ResolutionTxHash)
	assert.Equal(t, "0xresolve42", *c.ResolutionTxHash)
	assert.Equal(t, []int64{42}, h.trigger.ids)
}

func TestResolveCycle_SubmitErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome ResolveOutcome
		state   model.CycleState
		wantErr bool
		reports int
	}{
		{
			name:    "预期内 revert 且链上未结算",
			err:     &chain.RevertError{Method: "resolveDailyCycle", Kind: chain.RevertInvalidState, Reason: "cycle not ended"},
			outcome: OutcomeBlocked,
			state:   model.CycleResolutionPrepared,
		},
		{
			name:    "回执超时",
			err:     fmt.Errorf("wait: %w", chain.ErrReceiptTimeout),
			outcome: OutcomePending,
			state:   model.CycleResolving,
			wantErr: true,
		},
		{
			name:    "瞬时错误",
			err:     model.Transient(errors.New("connection reset")),
			outcome: OutcomeFailed,
			state:   model.CycleResolutionPrepared,
			wantErr: true,
		},
		{
			name:    "致命 revert",
			err:     &chain.RevertError{Method: "resolveDailyCycle", Kind: chain.RevertNotOracle, Reason: "not oracle"},
			outcome: OutcomeFailed,
			state:   model.CycleFailedResolving,
			wantErr: true,
			reports: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seedCycle42(t, allSlots)
			h.chain.resolveErr = tt.err

			outcome, err := h.manager.ResolveCycle(context.Background(), 42)
			assert.Equal(t, tt.outcome, outcome)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			c, _ := h.store.Cycle(42)
			assert.Equal(t, tt.state, c.State)
			assert.False(t, c.IsResolved)
			require.NotNil(t, c.LastError)
			assert.Len(t, h.store.HealthReports(), tt.reports)
		})
	}
}

func TestResolveCycle_RollbackFailureIsLogged(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome ResolveOutcome
	}{
		{
			name:    "预期内 revert",
			err:     &chain.RevertError{Method: "resolveDailyCycle", Kind: chain.RevertInvalidState, Reason: "cycle not ended"},
			outcome: OutcomeBlocked,
		},
		{
			name:    "瞬时错误",
			err:     model.Transient(errors.New("connection reset")),
			outcome: OutcomeFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seedCycle42(t, allSlots)
			logger, hook := logtest.NewNullLogger()
			manager := NewCycleManager(h.chain, h.selector, h.sync, h.reconciler, h.store, h.locker,
				h.pub, h.metrics, config.ResolverConfig{}, logger)
			manager.now = h.manager.now
			h.chain.resolveErr = tt.err
			h.store.SetFault(func(op string) error {
				// 只让提交失败后的回退写库失败
				if _, resolves := h.chain.calls(); resolves > 0 && op == "cycles.transition:"+string(model.CycleResolutionPrepared) {
					return errors.New("connection lost")
				}
				return nil
			})

			outcome, _ := manager.ResolveCycle(context.Background(), 42)
			assert.Equal(t, tt.outcome, outcome)
			c, _ := h.store.Cycle(42)
			assert.Equal(t, model.CycleResolving, c.State)

			var logged *logrus.Entry
			for _, e := range hook.AllEntries() {
				if _, ok := e.Data["transition_error"]; ok {
					logged = e
				}
			}
			require.NotNil(t, logged)
			assert.Equal(t, logrus.ErrorLevel, logged.Level)
			assert.Equal(t, int64(42), logged.Data["cycle_id"])
			assert.Equal(t, "connection lost", logged.Data["transition_error"])
		})
	}
}

func TestResolveCycle_DatabaseFailureRecoveredByReconcile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedCycle42(t, allSlots)
	h.store.SetFault(func(op string) error {
		if op == "cycles.transition:"+string(model.CycleResolved) {
			return errors.New("connection lost")
		}
		return nil
	})

	outcome, err := h.manager.ResolveCycle(ctx, 42)
	assert.Error(t, err)
	assert.Equal(t, OutcomeSubmitted, outcome)
	c, _ := h.store.Cycle(42)
	assert.Equal(t, model.CycleResolving, c.State)
	assert.False(t, c.IsResolved)

	h.store.SetFault(nil)
	stats, err := h.reconciler.ReconcileChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)

	c, _ = h.store.Cycle(42)
	assert.Equal(t, model.CycleResolved, c.State)
	assert.True(t, c.IsResolved)
	require.NotNil(t, c.ResolutionTxHash)
	assert.Equal(t, "0xresolve42", *c.ResolutionTxHash)

	_, resolves := h.chain.calls()
	assert.Equal(t, 1, resolves)

	// 下一轮结算不再有待处理周期
	outcomes, err := h.manager.AttemptResolution(ctx)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	_, resolves = h.chain.calls()
	assert.Equal(t, 1, resolves)
}

func TestResolveCycle_LockHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedCycle42(t, allSlots)

	other := repository.NewLocker(h.store.Locks(), "worker-b", quietLogger())
	release, ok, err := other.TryLock(ctx, repository.CycleLockName(42), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	outcome, err := h.manager.ResolveCycle(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLocked, outcome)
	_, resolves := h.chain.calls()
	assert.Zero(t, resolves)

	release()
	outcome, err = h.manager.ResolveCycle(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, outcome)
}

func TestResolveCycle_ConcurrentReplicasSubmitOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedCycle42(t, allSlots)

	replica := NewCycleManager(h.chain, h.selector, h.sync, h.reconciler, h.store,
		repository.NewLocker(h.store.Locks(), "worker-b", quietLogger()),
		h.pub, h.metrics, config.ResolverConfig{}, quietLogger())
	replica.now = h.manager.now

	var (
		wg       sync.WaitGroup
		outcomes [2]ResolveOutcome
		errs     [2]error
	)
	for i, m := range []*CycleManager{h.manager, replica} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i], errs[i] = m.ResolveCycle(ctx, 42)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Contains(t, outcomes, OutcomeSubmitted)
	_, resolves := h.chain.calls()
	assert.Equal(t, 1, resolves)
	c, _ := h.store.Cycle(42)
	assert.True(t, c.IsResolved)
}

func TestResolveCycle_StuckFixtureRefetched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedCycle42(t, func(slot int) bool { return slot != 9 })
	stuck := cycle42FixtureID(9)

	gomock.InOrder(
		h.source.EXPECT().FinalScores(gomock.Any(), stuck).Return(nil, model.FixtureInPlaySecondHalf, nil),
		h.source.EXPECT().FinalScores(gomock.Any(), stuck).Return(
			&model.ScoreLine{Home: intp(1), Away: intp(2)}, model.FixtureFinished, nil),
	)

	outcome, err := h.manager.ResolveCycle(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, outcome)
	c, _ := h.store.Cycle(42)
	assert.False(t, c.ReadyForResolution)

	fixtures, err := h.store.Repos().Fixtures.GetFixtures(ctx, []int64{stuck})
	require.NoError(t, err)
	assert.Equal(t, model.FixtureInPlaySecondHalf, fixtures[stuck].State)
	assert.NotNil(t, fixtures[stuck].StateCheckedAt)

	// 30 分钟后数据源已更新为完场
	h.setNow(cycle42LastKickoff().Add(3*time.Hour + 30*time.Minute))
	outcome, err = h.manager.ResolveCycle(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, outcome)
	assert.Equal(t, chain.ResultPair{Moneyline: chain.MoneylineAwayWin, OverUnder: chain.OverUnderOver}, h.chain.resultsOf(42)[9])
}

func TestResolveCycle_NotStuckYet(t *testing.T) {
	h := newHarness(t)
	h.seedCycle42(t, func(slot int) bool { return slot != 9 })
	// 开赛不足 130 分钟，不强制重拉（mock 未设置期望，调用即失败）
	h.setNow(cycle42LastKickoff().Add(100 * time.Minute))

	outcome, err := h.manager.ResolveCycle(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, outcome)
}

func TestAttemptResolution(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedCycle42(t, allSlots)

	outcomes, err := h.manager.AttemptResolution(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]ResolveOutcome{42: OutcomeSubmitted}, outcomes)
}
