package service

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"CycleOracle/internal/chain"
	"CycleOracle/internal/config"
	"CycleOracle/internal/metrics"
	"CycleOracle/internal/mocks"
	"CycleOracle/internal/model"
	"CycleOracle/internal/repository"
	"CycleOracle/internal/repository/repotest"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func intp(v int) *int { return &v }

// ---- fake chain ----

type fakeCycle struct {
	status  chain.CycleStatus
	matches chain.MatchInputs
	results chain.ResultPairs
}

type fakeChain struct {
	mu           sync.Mutex
	current      uint64
	cycles       map[uint64]*fakeCycle
	blockTime    time.Time
	startErr     error
	resolveErr   error
	startCalls   int
	resolveCalls int
	nextTx       int
}

func newFakeChain() *fakeChain {
	return &fakeChain{cycles: map[uint64]*fakeCycle{}}
}

func (f *fakeChain) setCycle(id uint64, state chain.CycleState, endTime time.Time, matches chain.MatchInputs) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles[id] = &fakeCycle{
		status:  chain.CycleStatus{Exists: true, State: state, EndTime: endTime, PrizePool: big.NewInt(0)},
		matches: matches,
	}
	if id > f.current {
		f.current = id
	}
}

func (f *fakeChain) setState(id uint64, state chain.CycleState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles[id].status.State = state
}

func (f *fakeChain) setBlockTime(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockTime = t
}

func (f *fakeChain) calls() (start, resolve int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.resolveCalls
}

func (f *fakeChain) CurrentCycleID(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeChain) CycleStatus(_ context.Context, id uint64) (*chain.CycleStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cycles[id]
	if !ok {
		return &chain.CycleStatus{PrizePool: big.NewInt(0)}, nil
	}
	st := c.status
	return &st, nil
}

func (f *fakeChain) CycleEndTime(_ context.Context, id uint64) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cycles[id]
	if !ok {
		return time.Time{}, nil
	}
	return c.status.EndTime, nil
}

func (f *fakeChain) DailyMatches(_ context.Context, id uint64) (chain.MatchInputs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cycles[id]
	if !ok {
		return chain.MatchInputs{}, nil
	}
	return c.matches, nil
}

func (f *fakeChain) Slip(context.Context, uint64) (*chain.Slip, error) {
	return nil, fmt.Errorf("slip: %w", model.ErrNotFound)
}

func (f *fakeChain) BlockTime(context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockTime, nil
}

func (f *fakeChain) StartCycle(_ context.Context, matches chain.MatchInputs) (*chain.TxReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.current++
	end := time.Unix(int64(matches[0].StartTime), 0).UTC()
	for _, m := range matches {
		if s := time.Unix(int64(m.StartTime), 0).UTC(); s.Before(end) {
			end = s
		}
	}
	f.cycles[f.current] = &fakeCycle{
		status:  chain.CycleStatus{Exists: true, State: chain.StateActive, EndTime: end, PrizePool: big.NewInt(0)},
		matches: matches,
	}
	f.nextTx++
	return &chain.TxReceipt{TxHash: fmt.Sprintf("0xstart%d", f.nextTx), BlockNumber: 100}, nil
}

func (f *fakeChain) ResolveCycle(_ context.Context, id uint64, results chain.ResultPairs) (*chain.TxReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls++
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	c, ok := f.cycles[id]
	if !ok || c.status.State == chain.StateResolved {
		return nil, &chain.RevertError{Method: "resolveDailyCycle", Kind: chain.RevertAlreadyResolved, Reason: "already resolved"}
	}
	c.status.State = chain.StateResolved
	c.results = results
	return &chain.TxReceipt{TxHash: fmt.Sprintf("0xresolve%d", id), BlockNumber: 200}, nil
}

func (f *fakeChain) FindCycleResolved(_ context.Context, id uint64) (*chain.CycleResolvedLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cycles[id]
	if !ok || c.status.State != chain.StateResolved {
		return nil, fmt.Errorf("CycleResolved(%d): %w", id, model.ErrNotFound)
	}
	return &chain.CycleResolvedLog{
		CycleID:     id,
		TxHash:      fmt.Sprintf("0xresolve%d", id),
		BlockNumber: 200,
		BlockTime:   f.blockTime,
		PrizePool:   big.NewInt(0),
	}, nil
}

func (f *fakeChain) resultsOf(id uint64) chain.ResultPairs {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cycles[id].results
}

// ---- 捕获事件 ----

type capturePublisher struct {
	mu     sync.Mutex
	events []model.DomainEvent
}

func (p *capturePublisher) Publish(_ context.Context, ev model.DomainEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type captureTrigger struct {
	mu  sync.Mutex
	ids []int64
}

func (c *captureTrigger) RequestEvaluation(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
}

// ---- harness ----

type harness struct {
	store   *repotest.Memory
	chain   *fakeChain
	source  *mocks.MockFixtureSource
	locker  *repository.Locker
	pub     *capturePublisher
	trigger *captureTrigger
	metrics *metrics.Metrics

	selector   *MatchSelector
	sync       *FixtureSyncService
	reconciler *Reconciler
	manager    *CycleManager
	evaluator  *SlipEvaluator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := quietLogger()
	ctrl := gomock.NewController(t)
	h := &harness{
		store:   repotest.New(),
		chain:   newFakeChain(),
		source:  mocks.NewMockFixtureSource(ctrl),
		pub:     &capturePublisher{},
		trigger: &captureTrigger{},
		metrics: metrics.NewNop(),
	}
	h.locker = repository.NewLocker(h.store.Locks(), "worker-a", logger)
	h.selector = NewMatchSelector(h.source, h.store, config.SelectorConfig{GracePeriod: time.Hour}, logger)
	h.sync = NewFixtureSyncService(h.source, h.store, logger)
	h.reconciler = NewReconciler(h.chain, h.store, h.locker, h.pub, h.metrics, config.ReconcilerConfig{Window: 7}, logger)
	h.manager = NewCycleManager(h.chain, h.selector, h.sync, h.reconciler, h.store, h.locker, h.pub, h.metrics, config.ResolverConfig{}, logger)
	h.evaluator = NewSlipEvaluator(h.chain, h.store, h.pub, h.metrics, logger)
	h.manager.SetEvaluationTrigger(h.trigger)
	h.reconciler.SetEvaluationTrigger(h.trigger)
	return h
}

// setNow 固定服务层的墙钟
func (h *harness) setNow(now time.Time) {
	clock := func() time.Time { return now }
	h.selector.now = clock
	h.sync.now = clock
	h.manager.now = clock
	h.reconciler.now = clock
	h.evaluator.now = clock
}

// cycle 42 的十场比赛与比分（槽位顺序）
var cycle42Scores = [model.SlotCount][2]int{
	{1, 0}, {0, 0}, {2, 2}, {3, 1}, {0, 1}, {1, 1}, {4, 0}, {2, 3}, {0, 0}, {1, 2},
}

var cycle42Base = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func cycle42FixtureID(slot int) int64 { return 1001 + int64(slot) }

func cycle42Start(slot int) time.Time { return cycle42Base.Add(time.Duration(slot) * 10 * time.Minute) }

// lastKickoff 第十场的开赛时间
func cycle42LastKickoff() time.Time { return cycle42Start(model.SlotCount - 1) }

// seedCycle42 在库与链上准备 cycle 42（链上 Ended）；scored 控制哪些槽位已完场并写入赛果
func (h *harness) seedCycle42(t *testing.T, scored func(slot int) bool) {
	t.Helper()
	ctx := context.Background()
	repos := h.store.Repos()

	var fixtures []*model.Fixture
	var rows []*model.DailyGameMatch
	var inputs chain.MatchInputs
	for i := 0; i < model.SlotCount; i++ {
		id := cycle42FixtureID(i)
		state := model.FixtureInPlaySecondHalf
		if scored(i) {
			state = model.FixtureFinished
		}
		fixtures = append(fixtures, &model.Fixture{
			FixtureID:  id,
			LeagueID:   8,
			LeagueName: "Premier League",
			HomeTeam:   fmt.Sprintf("Home %d", i),
			AwayTeam:   fmt.Sprintf("Away %d", i),
			StartTime:  cycle42Start(i),
			State:      state,
		})
		rows = append(rows, &model.DailyGameMatch{
			FixtureID:    id,
			DisplayOrder: i,
			StartTime:    cycle42Start(i),
			OddsHome:     1800, OddsDraw: 3300, OddsAway: 4200, OddsOver: 1900, OddsUnder: 1850,
		})
		inputs[i] = chain.MatchInput{
			FixtureID: uint64(id),
			StartTime: uint64(cycle42Start(i).Unix()),
			OddsHome:  1800, OddsDraw: 3300, OddsAway: 4200, OddsOver: 1900, OddsUnder: 1850,
		}
	}
	require.NoError(t, repos.Fixtures.UpsertFixtures(ctx, fixtures))

	end := cycle42Base
	require.NoError(t, repos.Cycles.Adopt(ctx, &model.Cycle{
		CycleID:  42,
		GameDate: "2026-10-14",
		State:    model.CycleEndedAwaitingResults,
		EndTime:  &end,
	}, rows))

	for i := 0; i < model.SlotCount; i++ {
		if !scored(i) {
			continue
		}
		res, err := BuildResult(cycle42FixtureID(i), model.ScoreLine{
			Home: intp(cycle42Scores[i][0]),
			Away: intp(cycle42Scores[i][1]),
		}, "test")
		require.NoError(t, err)
		saved, err := repos.Fixtures.SaveResult(ctx, res)
		require.NoError(t, err)
		require.True(t, saved)
	}

	h.chain.setCycle(42, chain.StateEnded, end, inputs)
	// 最后一场开赛 + 6300s 之后
	h.chain.setBlockTime(cycle42LastKickoff().Add(6300*time.Second + time.Second))
	h.setNow(cycle42LastKickoff().Add(3 * time.Hour))
}

func allSlots(int) bool { return true }
