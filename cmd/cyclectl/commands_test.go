package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"CycleOracle/internal/chain"
	"CycleOracle/internal/model"
	"CycleOracle/internal/repository"
	"CycleOracle/internal/repository/repotest"
	"CycleOracle/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGate struct {
	report *service.GateReport
	err    error
}

func (s *stubGate) EvaluateGate(context.Context, int64) (*service.GateReport, error) {
	return s.report, s.err
}

func newTestApp(t *testing.T, gate *stubGate) (*app, *repotest.Memory, *bytes.Buffer) {
	t.Helper()
	store := repotest.New()
	out := &bytes.Buffer{}
	closed := false
	t.Cleanup(func() {
		if gate != nil {
			assert.True(t, closed, "gate client not closed")
		}
	})
	return &app{
		store:  store,
		out:    out,
		errOut: &bytes.Buffer{},
		newGate: func(context.Context) (gateEvaluator, func(), error) {
			return gate, func() { closed = true }, nil
		},
	}, store, out
}

func seedCycle(t *testing.T, store *repotest.Memory, id int64) {
	t.Helper()
	rows := make([]*model.DailyGameMatch, 0, model.SlotCount)
	for i := 0; i < model.SlotCount; i++ {
		rows = append(rows, &model.DailyGameMatch{CycleID: id, FixtureID: int64(700 + i), DisplayOrder: i})
	}
	end := time.Date(2026, 10, 14, 22, 0, 0, 0, time.UTC)
	require.NoError(t, store.InTx(context.Background(), func(r repository.Repos) error {
		return r.Cycles.Adopt(context.Background(), &model.Cycle{
			CycleID:  id,
			GameDate: "2026-10-14",
			State:    model.CycleOpen,
			EndTime:  &end,
		}, rows)
	}))
}

func TestStatus(t *testing.T) {
	a, store, out := newTestApp(t, nil)
	seedCycle(t, store, 11)

	require.NoError(t, a.dispatch(context.Background(), []string{"status", "-n", "5"}))
	assert.Contains(t, out.String(), "2026-10-14")
	assert.Contains(t, out.String(), "2026-10-14 22:00:00")
	assert.Contains(t, out.String(), string(model.CycleOpen))
}

func TestLeaderboard(t *testing.T) {
	a, store, out := newTestApp(t, nil)
	seedCycle(t, store, 11)
	ctx := context.Background()
	repos := store.Repos()
	_, err := repos.Slips.Insert(ctx, &model.Slip{SlipID: 3, CycleID: 11, Player: "0xabc", PlacedAt: time.Now().UTC()}, nil)
	require.NoError(t, err)
	_, err = repos.Slips.MarkEvaluated(ctx, 3, 8, decimal.NewFromInt(4200), time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, repos.Slips.UpdateRanks(ctx, map[int64]int{3: 1}))

	require.NoError(t, a.dispatch(ctx, []string{"leaderboard", "11"}))
	assert.Contains(t, out.String(), "0xabc")
	assert.Contains(t, out.String(), "4200")
}

func TestGate(t *testing.T) {
	report := &service.GateReport{CycleID: 11, ChainState: chain.StateEnded}
	for i := range report.Conditions {
		report.Conditions[i] = service.ConditionResult{Condition: i + 1, Name: "cond", Passed: true}
	}
	report.Conditions[2].Passed = false
	report.Conditions[2].Detail = "end time not reached"
	a, _, out := newTestApp(t, &stubGate{report: report})

	require.NoError(t, a.dispatch(context.Background(), []string{"gate", "11"}))
	assert.Contains(t, out.String(), "end time not reached")
	assert.Contains(t, out.String(), "gate: BLOCKED")
}

func TestDispatchErrors(t *testing.T) {
	a, _, _ := newTestApp(t, nil)
	ctx := context.Background()
	assert.Error(t, a.dispatch(ctx, nil))
	assert.Error(t, a.dispatch(ctx, []string{"nope"}))
	assert.Error(t, a.dispatch(ctx, []string{"leaderboard"}))
	assert.Error(t, a.dispatch(ctx, []string{"leaderboard", "abc"}))
}
