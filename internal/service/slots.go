package service

import (
	"encoding/json"
	"fmt"
	"time"

	"CycleOracle/internal/chain"
	"CycleOracle/internal/model"
)

// BuildMatchInputs 按槽位生成 startDailyCycle 的参数，结果字段保持 NotSet
func BuildMatchInputs(selected []SelectedMatch) (chain.MatchInputs, []*model.DailyGameMatch, error) {
	var inputs chain.MatchInputs
	if len(selected) != model.SlotCount {
		return inputs, nil, model.Invariant("expected %d selected matches, got %d", model.SlotCount, len(selected))
	}
	rows := make([]*model.DailyGameMatch, 0, model.SlotCount)
	for i, m := range selected {
		if m.Slot != i {
			return inputs, nil, model.Invariant("selected match %d has slot %d", i, m.Slot)
		}
		if !m.Odds.Complete() {
			return inputs, nil, model.Invariant("fixture %d has incomplete odds", m.Fixture.FixtureID)
		}
		start := m.Fixture.StartTime.UTC().Truncate(time.Second)
		inputs[i] = chain.MatchInput{
			FixtureID: uint64(m.Fixture.FixtureID),
			StartTime: uint64(start.Unix()),
			OddsHome:  m.Odds.Home,
			OddsDraw:  m.Odds.Draw,
			OddsAway:  m.Odds.Away,
			OddsOver:  m.Odds.Over,
			OddsUnder: m.Odds.Under,
		}
		rows = append(rows, &model.DailyGameMatch{
			FixtureID:    m.Fixture.FixtureID,
			DisplayOrder: i,
			StartTime:    start,
			OddsHome:     m.Odds.Home,
			OddsDraw:     m.Odds.Draw,
			OddsAway:     m.Odds.Away,
			OddsOver:     m.Odds.Over,
			OddsUnder:    m.Odds.Under,
		})
	}
	if err := inputs.Validate(); err != nil {
		return inputs, nil, err
	}
	return inputs, rows, nil
}

// MatchesFromChain 链上槽位 → daily_game_matches 行（用于接管链上周期）
func MatchesFromChain(inputs chain.MatchInputs) []*model.DailyGameMatch {
	rows := make([]*model.DailyGameMatch, 0, model.SlotCount)
	for i, in := range inputs {
		rows = append(rows, &model.DailyGameMatch{
			FixtureID:    int64(in.FixtureID),
			DisplayOrder: i,
			StartTime:    time.Unix(int64(in.StartTime), 0).UTC(),
			OddsHome:     in.OddsHome,
			OddsDraw:     in.OddsDraw,
			OddsAway:     in.OddsAway,
			OddsOver:     in.OddsOver,
			OddsUnder:    in.OddsUnder,
		})
	}
	return rows
}

// orderedSlots 校验数据库槽位完整（0..9 各一个）并按 display_order 返回
func orderedSlots(cycleID int64, rows []*model.DailyGameMatch) ([model.SlotCount]*model.DailyGameMatch, error) {
	var out [model.SlotCount]*model.DailyGameMatch
	if len(rows) != model.SlotCount {
		return out, model.Invariant("cycle %d has %d slots", cycleID, len(rows))
	}
	for _, r := range rows {
		if r.DisplayOrder < 0 || r.DisplayOrder >= model.SlotCount || out[r.DisplayOrder] != nil {
			return out, model.Invariant("cycle %d has invalid display_order %d", cycleID, r.DisplayOrder)
		}
		out[r.DisplayOrder] = r
	}
	return out, nil
}

// SlotMismatch 单个槽位的差异
type SlotMismatch struct {
	Slot           int    `json:"slot"`
	DBFixtureID    int64  `json:"db_fixture_id"`
	ChainFixtureID uint64 `json:"chain_fixture_id"`
	DBStartTime    int64  `json:"db_start_time"`
	ChainStartTime uint64 `json:"chain_start_time"`
}

// CrossCheckSlots 逐槽位比对链上与数据库的 fixture_id 与开赛时间
func CrossCheckSlots(slots [model.SlotCount]*model.DailyGameMatch, onChain chain.MatchInputs) []SlotMismatch {
	var out []SlotMismatch
	for i, row := range slots {
		c := onChain[i]
		if uint64(row.FixtureID) != c.FixtureID || uint64(row.StartTime.Unix()) != c.StartTime {
			out = append(out, SlotMismatch{
				Slot:           i,
				DBFixtureID:    row.FixtureID,
				ChainFixtureID: c.FixtureID,
				DBStartTime:    row.StartTime.Unix(),
				ChainStartTime: c.StartTime,
			})
		}
	}
	return out
}

// BuildResolution 按槽位顺序生成 10 个 ResultPair 与 resolution_data；任一槽位缺结果即失败
func BuildResolution(slots [model.SlotCount]*model.DailyGameMatch, results map[int64]*model.FixtureResult) (chain.ResultPairs, []model.ResolutionEntry, error) {
	var pairs chain.ResultPairs
	entries := make([]model.ResolutionEntry, 0, model.SlotCount)
	for i, row := range slots {
		res := results[row.FixtureID]
		if !res.Scored() {
			return pairs, nil, fmt.Errorf("%w: slot %d fixture %d", model.ErrResultNotSet, i, row.FixtureID)
		}
		pair, err := chain.EncodeResult(res.Outcome1X2, res.OutcomeOU25)
		if err != nil {
			return pairs, nil, fmt.Errorf("slot %d fixture %d: %w", i, row.FixtureID, err)
		}
		pairs[i] = pair
		entries = append(entries, model.ResolutionEntry{
			Slot:       i,
			FixtureID:  row.FixtureID,
			Outcome1X2: *res.Outcome1X2,
			OutcomeOU:  *res.OutcomeOU25,
			Moneyline:  pair.Moneyline,
			OverUnder:  pair.OverUnder,
		})
	}
	if err := pairs.Validate(); err != nil {
		return pairs, nil, err
	}
	return pairs, entries, nil
}

// ResolutionPairs 从 resolution_data 还原 ResultPairs
func ResolutionPairs(data []byte) (chain.ResultPairs, error) {
	var pairs chain.ResultPairs
	var entries []model.ResolutionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return pairs, fmt.Errorf("decode resolution_data: %w", err)
	}
	if len(entries) != model.SlotCount {
		return pairs, model.Invariant("resolution_data has %d entries", len(entries))
	}
	for _, e := range entries {
		if e.Slot < 0 || e.Slot >= model.SlotCount {
			return pairs, model.Invariant("resolution_data slot %d", e.Slot)
		}
		pairs[e.Slot] = chain.ResultPair{Moneyline: e.Moneyline, OverUnder: e.OverUnder}
	}
	return pairs, pairs.Validate()
}
