package repotest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"CycleOracle/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type cycleRepo struct{ v *view }

func (r *cycleRepo) Get(_ context.Context, cycleID int64) (*model.Cycle, error) {
	var out *model.Cycle
	err := r.v.do(func(st *state) error {
		c, ok := st.cycles[cycleID]
		if !ok {
			return model.ErrNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

func (r *cycleRepo) GetForUpdate(ctx context.Context, cycleID int64) (*model.Cycle, error) {
	return r.Get(ctx, cycleID)
}

func (r *cycleRepo) ListByGameDate(_ context.Context, gameDate string) ([]*model.Cycle, error) {
	return r.list(func(c model.Cycle) bool { return c.GameDate == gameDate }, false, 0)
}

func (r *cycleRepo) list(pred func(model.Cycle) bool, desc bool, limit int) ([]*model.Cycle, error) {
	var out []*model.Cycle
	err := r.v.do(func(st *state) error {
		for _, c := range st.cycles {
			if pred(c) {
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].CycleID > out[j].CycleID
		}
		return out[i].CycleID < out[j].CycleID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *cycleRepo) LatestConfirmedID(_ context.Context) (int64, bool, error) {
	var (
		max   int64
		found bool
	)
	err := r.v.do(func(st *state) error {
		for id, c := range st.cycles {
			if c.State.Confirmed() && (!found || id > max) {
				max, found = id, true
			}
		}
		return nil
	})
	return max, found, err
}

func (r *cycleRepo) MaxID(_ context.Context) (int64, bool, error) {
	var (
		max   int64
		found bool
	)
	err := r.v.do(func(st *state) error {
		for id := range st.cycles {
			if !found || id > max {
				max, found = id, true
			}
		}
		return nil
	})
	return max, found, err
}

func (r *cycleRepo) SaveReserved(_ context.Context, cycle *model.Cycle, matches []*model.DailyGameMatch) error {
	return r.v.do(func(st *state) error {
		if err := r.v.check("cycles.save_reserved"); err != nil {
			return err
		}
		if len(matches) != model.SlotCount {
			return model.Invariant("cycle %d: expected %d matches, got %d", cycle.CycleID, model.SlotCount, len(matches))
		}
		if old, ok := st.cycles[cycle.CycleID]; ok && old.State.Confirmed() {
			return model.Invariant("cycle %d already confirmed on chain (state %s)", cycle.CycleID, old.State)
		}
		return replace(st, cycle, matches)
	})
}

func (r *cycleRepo) Adopt(_ context.Context, cycle *model.Cycle, matches []*model.DailyGameMatch) error {
	return r.v.do(func(st *state) error {
		if err := r.v.check("cycles.adopt"); err != nil {
			return err
		}
		if len(matches) != model.SlotCount {
			return model.Invariant("cycle %d: expected %d matches, got %d", cycle.CycleID, model.SlotCount, len(matches))
		}
		return replace(st, cycle, matches)
	})
}

func replace(st *state, cycle *model.Cycle, matches []*model.DailyGameMatch) error {
	seen := map[int64]bool{}
	for _, m := range matches {
		if seen[m.FixtureID] {
			return fmt.Errorf("%w: duplicate fixture %d in cycle %d", model.ErrConflict, m.FixtureID, cycle.CycleID)
		}
		seen[m.FixtureID] = true
	}
	next := *cycle
	if old, ok := st.cycles[cycle.CycleID]; ok {
		// 与 ON CONFLICT DO UPDATE 的列保持一致
		merged := old
		merged.GameDate = next.GameDate
		merged.State = next.State
		merged.EndTime = next.EndTime
		merged.StartTxHash = next.StartTxHash
		merged.LastError = next.LastError
		merged.UpdatedAt = time.Now().UTC()
		next = merged
	}
	st.cycles[cycle.CycleID] = next
	rows := make([]model.DailyGameMatch, 0, len(matches))
	for _, m := range matches {
		row := *m
		row.ID = st.id()
		row.CycleID = cycle.CycleID
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].DisplayOrder < rows[j].DisplayOrder })
	st.matches[cycle.CycleID] = rows
	return nil
}

func (r *cycleRepo) GetMatches(_ context.Context, cycleID int64) ([]*model.DailyGameMatch, error) {
	var out []*model.DailyGameMatch
	err := r.v.do(func(st *state) error {
		for _, m := range st.matches[cycleID] {
			out = append(out, &m)
		}
		return nil
	})
	return out, err
}

func (r *cycleRepo) Update(_ context.Context, cycleID int64, fields map[string]interface{}) error {
	return r.v.do(func(st *state) error {
		if err := r.v.check("cycles.update"); err != nil {
			return err
		}
		c, ok := st.cycles[cycleID]
		if !ok {
			return model.ErrNotFound
		}
		if err := applyCycleFields(&c, fields); err != nil {
			return err
		}
		st.cycles[cycleID] = c
		return nil
	})
}

func (r *cycleRepo) TransitionState(_ context.Context, cycleID int64, from []model.CycleState, to model.CycleState, fields map[string]interface{}) (bool, error) {
	var updated bool
	err := r.v.do(func(st *state) error {
		if err := r.v.check("cycles.transition:" + string(to)); err != nil {
			return err
		}
		c, ok := st.cycles[cycleID]
		if !ok || !containsCycleState(from, c.State) {
			return nil
		}
		if fields == nil {
			fields = map[string]interface{}{}
		}
		fields["state"] = to
		if err := applyCycleFields(&c, fields); err != nil {
			return err
		}
		st.cycles[cycleID] = c
		updated = true
		return nil
	})
	return updated, err
}

func (r *cycleRepo) ListByStates(_ context.Context, states []model.CycleState) ([]*model.Cycle, error) {
	return r.list(func(c model.Cycle) bool { return containsCycleState(states, c.State) }, false, 0)
}

func (r *cycleRepo) ListRecent(_ context.Context, limit int) ([]*model.Cycle, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.list(func(model.Cycle) bool { return true }, true, limit)
}

func (r *cycleRepo) ListPendingEvaluation(_ context.Context) ([]*model.Cycle, error) {
	pending := map[int64]bool{}
	err := r.v.do(func(st *state) error {
		for _, s := range st.slips {
			if !s.IsEvaluated {
				pending[s.CycleID] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.list(func(c model.Cycle) bool {
		return c.IsResolved && (c.EvaluatedAt == nil || pending[c.CycleID])
	}, false, 0)
}

func containsCycleState(list []model.CycleState, s model.CycleState) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// applyCycleFields 按列名把 Updates 的 map 应用到结构体
func applyCycleFields(c *model.Cycle, fields map[string]interface{}) error {
	for col, val := range fields {
		switch col {
		case "state":
			c.State = val.(model.CycleState)
		case "game_date":
			c.GameDate = val.(string)
		case "end_time":
			c.EndTime = timePtr(val)
		case "start_tx_hash":
			c.StartTxHash = stringPtr(val)
		case "ready_for_resolution":
			c.ReadyForResolution = val.(bool)
		case "resolution_data":
			switch d := val.(type) {
			case datatypes.JSON:
				c.ResolutionData = d
			case []byte:
				c.ResolutionData = d
			case nil:
				c.ResolutionData = nil
			}
		case "resolution_tx_hash":
			c.ResolutionTxHash = stringPtr(val)
		case "resolved_at":
			c.ResolvedAt = timePtr(val)
		case "is_resolved":
			c.IsResolved = val.(bool)
		case "prize_pool":
			c.PrizePool = val.(decimal.Decimal)
		case "slip_count":
			switch n := val.(type) {
			case int64:
				c.SlipCount = n
			case int:
				c.SlipCount = int64(n)
			case uint32:
				c.SlipCount = int64(n)
			}
		case "has_winner":
			c.HasWinner = val.(bool)
		case "evaluated_at":
			c.EvaluatedAt = timePtr(val)
		case "last_error":
			c.LastError = stringPtr(val)
		case "updated_at":
			c.UpdatedAt = val.(time.Time)
		default:
			return fmt.Errorf("repotest: unknown cycle column %q", col)
		}
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func timePtr(v interface{}) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		return t
	default:
		return nil
	}
}

func stringPtr(v interface{}) *string {
	switch s := v.(type) {
	case string:
		return &s
	case *string:
		return s
	default:
		return nil
	}
}
