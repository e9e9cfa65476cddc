package repotest

import (
	"context"
	"sort"
	"time"

	"CycleOracle/internal/model"

	"github.com/shopspring/decimal"
)

type slipRepo struct{ v *view }

func (r *slipRepo) Insert(_ context.Context, slip *model.Slip, predictions []*model.SlipPrediction) (bool, error) {
	var inserted bool
	err := r.v.do(func(st *state) error {
		if err := r.v.check("slips.insert"); err != nil {
			return err
		}
		if _, ok := st.slips[slip.SlipID]; ok {
			return nil
		}
		row := *slip
		row.Predictions = nil
		st.slips[slip.SlipID] = row
		preds := make([]model.SlipPrediction, 0, len(predictions))
		for _, p := range predictions {
			pp := *p
			pp.ID = st.id()
			pp.SlipID = slip.SlipID
			preds = append(preds, pp)
		}
		sort.Slice(preds, func(i, j int) bool { return preds[i].Slot < preds[j].Slot })
		st.preds[slip.SlipID] = preds
		inserted = true
		return nil
	})
	return inserted, err
}

func (r *slipRepo) Get(_ context.Context, slipID int64) (*model.Slip, error) {
	var out *model.Slip
	err := r.v.do(func(st *state) error {
		s, ok := st.slips[slipID]
		if !ok {
			return model.ErrNotFound
		}
		s.Predictions = append([]model.SlipPrediction(nil), st.preds[slipID]...)
		out = &s
		return nil
	})
	return out, err
}

func (r *slipRepo) ListUnevaluated(_ context.Context, cycleID int64, limit int) ([]*model.Slip, error) {
	var out []*model.Slip
	err := r.v.do(func(st *state) error {
		for id, s := range st.slips {
			if s.CycleID != cycleID || s.IsEvaluated {
				continue
			}
			s.Predictions = append([]model.SlipPrediction(nil), st.preds[id]...)
			out = append(out, &s)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SlipID < out[j].SlipID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *slipRepo) CountUnevaluated(_ context.Context, cycleID int64) (int64, error) {
	var n int64
	err := r.v.do(func(st *state) error {
		for _, s := range st.slips {
			if s.CycleID == cycleID && !s.IsEvaluated {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *slipRepo) MarkEvaluated(_ context.Context, slipID int64, correct int, score decimal.Decimal, at time.Time) (bool, error) {
	var written bool
	err := r.v.do(func(st *state) error {
		if err := r.v.check("slips.mark_evaluated"); err != nil {
			return err
		}
		s, ok := st.slips[slipID]
		if !ok || s.IsEvaluated {
			return nil
		}
		s.IsEvaluated = true
		s.CorrectCount = correct
		s.FinalScore = score
		s.EvaluatedAt = &at
		st.slips[slipID] = s
		written = true
		return nil
	})
	return written, err
}

func (r *slipRepo) ListEvaluated(_ context.Context, cycleID int64) ([]*model.Slip, error) {
	var out []*model.Slip
	err := r.v.do(func(st *state) error {
		for _, s := range st.slips {
			if s.CycleID == cycleID && s.IsEvaluated {
				out = append(out, &s)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.CorrectCount != b.CorrectCount {
			return a.CorrectCount > b.CorrectCount
		}
		if !a.FinalScore.Equal(b.FinalScore) {
			return a.FinalScore.GreaterThan(b.FinalScore)
		}
		return a.SlipID < b.SlipID
	})
	return out, err
}

func (r *slipRepo) UpdateRanks(_ context.Context, ranks map[int64]int) error {
	return r.v.do(func(st *state) error {
		if err := r.v.check("slips.update_ranks"); err != nil {
			return err
		}
		for id, rank := range ranks {
			s, ok := st.slips[id]
			if !ok {
				continue
			}
			rk := rank
			s.LeaderboardRank = &rk
			st.slips[id] = s
		}
		return nil
	})
}

func (r *slipRepo) RecordChainEvaluation(_ context.Context, slipID int64, correct int, score decimal.Decimal) error {
	return r.v.do(func(st *state) error {
		s, ok := st.slips[slipID]
		if !ok {
			return nil
		}
		c := correct
		sc := score
		s.ChainCorrectCount = &c
		s.ChainFinalScore = &sc
		st.slips[slipID] = s
		return nil
	})
}

func (r *slipRepo) Leaderboard(_ context.Context, cycleID int64, limit int) ([]*model.Slip, error) {
	var out []*model.Slip
	err := r.v.do(func(st *state) error {
		for _, s := range st.slips {
			if s.CycleID == cycleID && s.LeaderboardRank != nil {
				out = append(out, &s)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return *out[i].LeaderboardRank < *out[j].LeaderboardRank })
	if limit <= 0 {
		limit = 10
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}
