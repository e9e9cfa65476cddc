// Package repotest 内存版 Store，供服务层测试使用（事务整体提交或回滚，可注入写失败）
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"CycleOracle/internal/model"
	"CycleOracle/internal/repository"
)

// Fault 返回非 nil 时对应写操作失败；op 形如 "cycles.transition:Resolved"
type Fault func(op string) error

type state struct {
	fixtures   map[int64]model.Fixture
	odds       map[int64]model.FixtureOdds
	results    map[int64]model.FixtureResult
	cycles     map[int64]model.Cycle
	matches    map[int64][]model.DailyGameMatch
	slips      map[int64]model.Slip
	preds      map[int64][]model.SlipPrediction
	locks      map[string]model.JobLock
	watermarks map[string]uint64
	events     map[string]model.ChainEvent
	claims     map[string]model.PrizeClaim
	issues     []model.SyncIssue
	reports    []model.HealthReport
	nextID     uint64
}

func newState() *state {
	return &state{
		fixtures:   map[int64]model.Fixture{},
		odds:       map[int64]model.FixtureOdds{},
		results:    map[int64]model.FixtureResult{},
		cycles:     map[int64]model.Cycle{},
		matches:    map[int64][]model.DailyGameMatch{},
		slips:      map[int64]model.Slip{},
		preds:      map[int64][]model.SlipPrediction{},
		locks:      map[string]model.JobLock{},
		watermarks: map[string]uint64{},
		events:     map[string]model.ChainEvent{},
		claims:     map[string]model.PrizeClaim{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.fixtures {
		c.fixtures[k] = v
	}
	for k, v := range s.odds {
		c.odds[k] = v
	}
	for k, v := range s.results {
		c.results[k] = v
	}
	for k, v := range s.cycles {
		c.cycles[k] = v
	}
	for k, v := range s.matches {
		c.matches[k] = append([]model.DailyGameMatch(nil), v...)
	}
	for k, v := range s.slips {
		c.slips[k] = v
	}
	for k, v := range s.preds {
		c.preds[k] = append([]model.SlipPrediction(nil), v...)
	}
	for k, v := range s.locks {
		c.locks[k] = v
	}
	for k, v := range s.watermarks {
		c.watermarks[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.claims {
		c.claims[k] = v
	}
	c.issues = append([]model.SyncIssue(nil), s.issues...)
	c.reports = append([]model.HealthReport(nil), s.reports...)
	c.nextID = s.nextID
	return c
}

// Memory 实现 repository.Store 与 repository.LockRepository
type Memory struct {
	mu    sync.Mutex
	data  *state
	fault Fault
	now   func() time.Time
}

// New 空的内存库
func New() *Memory {
	return &Memory{data: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// SetFault 注入写失败
func (m *Memory) SetFault(f Fault) {
	m.mu.Lock()
	m.fault = f
	m.mu.Unlock()
}

// SetClock 锁过期判断使用的时钟
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// view 绑定到某份 state；direct=true 时每次调用都加全局锁
type view struct {
	m      *Memory
	st     *state
	direct bool
}

func (v *view) do(fn func(st *state) error) error {
	if v.direct {
		v.m.mu.Lock()
		defer v.m.mu.Unlock()
		return fn(v.m.data)
	}
	return fn(v.st)
}

func (v *view) check(op string) error {
	if v.m.fault == nil {
		return nil
	}
	return v.m.fault(op)
}

func (v *view) repos() repository.Repos {
	return repository.Repos{
		Fixtures: &fixtureRepo{v},
		Cycles:   &cycleRepo{v},
		Slips:    &slipRepo{v},
		Ops:      &opsRepo{v},
	}
}

// Repos 非事务访问
func (m *Memory) Repos() repository.Repos {
	return (&view{m: m, direct: true}).repos()
}

// InTx 在副本上执行 fn，成功后整体替换
func (m *Memory) InTx(ctx context.Context, fn func(r repository.Repos) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &view{m: m, st: m.data.clone()}
	if err := fn(tx.repos()); err != nil {
		return err
	}
	m.data = tx.st
	return nil
}

// Locks 内存锁仓储
func (m *Memory) Locks() repository.LockRepository {
	return &lockRepo{&view{m: m, direct: true}}
}

// ---- 测试辅助读取 ----

// Cycle 读取周期快照
func (m *Memory) Cycle(id int64) (model.Cycle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.data.cycles[id]
	return c, ok
}

// SyncIssues 全部 sync issue
func (m *Memory) SyncIssues() []model.SyncIssue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SyncIssue(nil), m.data.issues...)
}

// HealthReports 全部健康报告
func (m *Memory) HealthReports() []model.HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.HealthReport(nil), m.data.reports...)
}

// ChainEvents 已记录的链上事件数
func (m *Memory) ChainEvents() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data.events)
}

// Watermark 指定合约的水位
func (m *Memory) Watermark(contract string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.watermarks[contract]
}

// PrizeClaims 领奖记录
func (m *Memory) PrizeClaims() []model.PrizeClaim {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.PrizeClaim, 0, len(m.data.claims))
	for _, c := range m.data.claims {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Player < out[j].Player })
	return out
}

func eventKey(txHash string, logIndex uint) string {
	return fmt.Sprintf("%s:%d", txHash, logIndex)
}

func (s *state) id() uint64 {
	s.nextID++
	return s.nextID
}
