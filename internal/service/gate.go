package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CycleOracle/internal/chain"
	"CycleOracle/internal/model"

	"github.com/sirupsen/logrus"
)

// 结算门槛的四个条件
const (
	ConditionChainEnded    = 1 // 链上状态为 Ended
	ConditionPastEndTime   = 2 // 区块时间 > end_time
	ConditionMatchesPlayed = 3 // 每场：区块时间 ≥ 开赛 + 6300s
	ConditionResultsReady  = 4 // 每场：已完场且赛果齐全
)

var conditionNames = map[int]string{
	ConditionChainEnded:    "chain_ended",
	ConditionPastEndTime:   "past_end_time",
	ConditionMatchesPlayed: "matches_played",
	ConditionResultsReady:  "results_ready",
}

// ConditionResult 单个条件的判定
type ConditionResult struct {
	Condition int    `json:"condition"`
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Detail    string `json:"detail,omitempty"`
}

// GateReport 一次门槛评估的结果
type GateReport struct {
	CycleID    int64
	ChainState chain.CycleState
	EndTime    time.Time
	BlockTime  time.Time
	Conditions [4]ConditionResult
	Mismatches []SlotMismatch

	Pairs   chain.ResultPairs
	Entries []model.ResolutionEntry

	slots [model.SlotCount]*model.DailyGameMatch
}

// Passed 四个条件全部满足
func (r *GateReport) Passed() bool {
	for _, c := range r.Conditions {
		if !c.Passed {
			return false
		}
	}
	return true
}

// ResultsReady 条件 4 满足（可以准备 resolution_data）
func (r *GateReport) ResultsReady() bool {
	return r.Conditions[ConditionResultsReady-1].Passed
}

// Failed 未满足的条件
func (r *GateReport) Failed() []ConditionResult {
	var out []ConditionResult
	for _, c := range r.Conditions {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

func (r *GateReport) set(cond int, passed bool, format string, args ...interface{}) {
	detail := ""
	if format != "" {
		detail = fmt.Sprintf(format, args...)
	}
	r.Conditions[cond-1] = ConditionResult{Condition: cond, Name: conditionNames[cond], Passed: passed, Detail: detail}
}

// EvaluateGate 只读评估结算门槛（不强制重拉卡住的比赛，不写库）
func (m *CycleManager) EvaluateGate(ctx context.Context, cycleID int64) (*GateReport, error) {
	status, err := m.chain.CycleStatus(ctx, uint64(cycleID))
	if err != nil {
		return nil, err
	}
	if !status.Exists {
		return nil, fmt.Errorf("cycle %d: %w on chain", cycleID, model.ErrNotFound)
	}
	return m.evaluateGate(ctx, cycleID, status, false)
}

// evaluateGate 四个条件全部评估（不短路），便于日志说明所有未满足项。
// 槽位与链上不一致时返回 ErrSlotMismatch，报告中带差异明细
func (m *CycleManager) evaluateGate(ctx context.Context, cycleID int64, status *chain.CycleStatus, refetchStuck bool) (*GateReport, error) {
	report := &GateReport{CycleID: cycleID, ChainState: status.State, EndTime: status.EndTime}
	for cond := ConditionChainEnded; cond <= ConditionResultsReady; cond++ {
		report.set(cond, false, "not evaluated")
	}

	rows, err := m.store.Repos().Cycles.GetMatches(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("读取周期槽位失败: %w", err)
	}
	slots, err := orderedSlots(cycleID, rows)
	if err != nil {
		return nil, err
	}
	report.slots = slots

	blockTime, err := m.chain.BlockTime(ctx)
	if err != nil {
		return nil, err
	}
	report.BlockTime = blockTime

	// 1. 链上状态
	report.set(ConditionChainEnded, status.State == chain.StateEnded, "chain state %s", status.State)

	// 2. 严格大于 end_time，与合约判断一致
	report.set(ConditionPastEndTime, blockTime.After(status.EndTime),
		"block_time=%d end_time=%d", blockTime.Unix(), status.EndTime.Unix())

	// 3. 先逐槽位核对，再用链上开赛时间判断最晚一场
	onChain, err := m.chain.DailyMatches(ctx, uint64(cycleID))
	if err != nil {
		return nil, err
	}
	if mismatches := CrossCheckSlots(slots, onChain); len(mismatches) > 0 {
		report.Mismatches = mismatches
		report.set(ConditionMatchesPlayed, false, "%d slot(s) differ from chain", len(mismatches))
		return report, fmt.Errorf("cycle %d: %w (%d slots)", cycleID, model.ErrSlotMismatch, len(mismatches))
	}
	guard := m.cfg.LatestMatchGuard
	played := true
	detail := ""
	for i, in := range onChain {
		ready := time.Unix(int64(in.StartTime), 0).UTC().Add(guard)
		if blockTime.Before(ready) {
			played = false
			detail = fmt.Sprintf("slot %d fixture %d playable until %s", i, in.FixtureID, ready.Format(time.RFC3339))
			break
		}
	}
	report.set(ConditionMatchesPlayed, played, "%s", detail)

	// 4. 完场且有规范化赛果
	ready, detail, err := m.checkResults(ctx, cycleID, slots, refetchStuck)
	if err != nil {
		return nil, err
	}
	report.set(ConditionResultsReady, ready, "%s", detail)
	if ready {
		results, err := m.store.Repos().Fixtures.GetResults(ctx, slotFixtureIDs(slots))
		if err != nil {
			return nil, err
		}
		pairs, entries, err := BuildResolution(slots, results)
		if err != nil {
			return nil, err
		}
		report.Pairs, report.Entries = pairs, entries
	}
	return report, nil
}

// checkResults 条件 4；卡住的比赛（开赛已超过 stuck_after 仍未完场）在允许时强制重拉
func (m *CycleManager) checkResults(ctx context.Context, cycleID int64, slots [model.SlotCount]*model.DailyGameMatch, refetchStuck bool) (bool, string, error) {
	ids := slotFixtureIDs(slots)
	repos := m.store.Repos()
	fixtures, err := repos.Fixtures.GetFixtures(ctx, ids)
	if err != nil {
		return false, "", err
	}
	results, err := repos.Fixtures.GetResults(ctx, ids)
	if err != nil {
		return false, "", err
	}

	now := m.now()
	var pending []string
	for i, row := range slots {
		f := fixtures[row.FixtureID]
		if f != nil && f.State.IsFinished() && results[row.FixtureID].Scored() {
			continue
		}
		if refetchStuck && m.isStuck(f, row, now) {
			if _, err := m.sync.RefreshFixture(ctx, row.FixtureID); err != nil {
				m.logger.WithError(err).WithFields(logrus.Fields{
					"cycle_id":   cycleID,
					"fixture_id": row.FixtureID,
				}).Warn("强制重拉卡住的比赛失败")
			} else {
				m.logger.WithFields(logrus.Fields{
					"cycle_id":   cycleID,
					"fixture_id": row.FixtureID,
					"slot":       i,
				}).Info("比赛超时未完场，已强制重拉状态")
			}
			f, err = m.reloadFixture(ctx, row.FixtureID)
			if err != nil {
				return false, "", err
			}
			res, err := repos.Fixtures.GetResults(ctx, []int64{row.FixtureID})
			if err != nil {
				return false, "", err
			}
			if f != nil && f.State.IsFinished() && res[row.FixtureID].Scored() {
				continue
			}
		}
		state := "missing"
		if f != nil {
			state = string(f.State)
		}
		pending = append(pending, fmt.Sprintf("slot %d fixture %d (%s)", i, row.FixtureID, state))
	}
	if len(pending) > 0 {
		return false, fmt.Sprintf("%d pending: %v", len(pending), pending), nil
	}
	return true, "", nil
}

// isStuck 未完场、未取消，且开赛已超过 stuck_after
func (m *CycleManager) isStuck(f *model.Fixture, row *model.DailyGameMatch, now time.Time) bool {
	if f != nil && (f.State == model.FixtureCancelled || f.State == model.FixturePostponed) {
		return false
	}
	return now.Sub(row.StartTime) >= m.cfg.StuckAfter
}

func (m *CycleManager) reloadFixture(ctx context.Context, id int64) (*model.Fixture, error) {
	got, err := m.store.Repos().Fixtures.GetFixtures(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	return got[id], nil
}

func slotFixtureIDs(slots [model.SlotCount]*model.DailyGameMatch) []int64 {
	ids := make([]int64, 0, model.SlotCount)
	for _, s := range slots {
		ids = append(ids, s.FixtureID)
	}
	return ids
}

// logGate 记录未通过的条件
func (m *CycleManager) logGate(report *GateReport) {
	for _, c := range report.Failed() {
		m.metrics.GateBlocked.WithLabelValues(c.Name).Inc()
		m.logger.WithFields(logrus.Fields{
			"cycle_id":  report.CycleID,
			"condition": c.Condition,
			"name":      c.Name,
			"detail":    c.Detail,
		}).Info("结算条件未满足")
	}
}

func isSlotMismatch(err error) bool { return errors.Is(err, model.ErrSlotMismatch) }
