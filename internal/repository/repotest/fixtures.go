package repotest

import (
	"context"
	"sort"
	"time"

	"CycleOracle/internal/model"
)

type fixtureRepo struct{ v *view }

func (r *fixtureRepo) UpsertFixtures(_ context.Context, fixtures []*model.Fixture) error {
	return r.v.do(func(st *state) error {
		if err := r.v.check("fixtures.upsert"); err != nil {
			return err
		}
		for _, f := range fixtures {
			next := *f
			if next.State == "" {
				next.State = model.FixtureNotStarted
			}
			if old, ok := st.fixtures[f.FixtureID]; ok {
				next.State = old.State
				next.StateCheckedAt = old.StateCheckedAt
				next.CreatedAt = old.CreatedAt
			}
			st.fixtures[f.FixtureID] = next
		}
		return nil
	})
}

func (r *fixtureRepo) UpsertOdds(_ context.Context, odds []*model.FixtureOdds) error {
	return r.v.do(func(st *state) error {
		if err := r.v.check("fixtures.upsert_odds"); err != nil {
			return err
		}
		for _, o := range odds {
			st.odds[o.FixtureID] = *o
		}
		return nil
	})
}

func (r *fixtureRepo) GetFixtures(_ context.Context, ids []int64) (map[int64]*model.Fixture, error) {
	out := make(map[int64]*model.Fixture, len(ids))
	err := r.v.do(func(st *state) error {
		for _, id := range ids {
			if f, ok := st.fixtures[id]; ok {
				out[id] = &f
			}
		}
		return nil
	})
	return out, err
}

func (r *fixtureRepo) GetOdds(_ context.Context, ids []int64) (map[int64]*model.FixtureOdds, error) {
	out := make(map[int64]*model.FixtureOdds, len(ids))
	err := r.v.do(func(st *state) error {
		for _, id := range ids {
			if o, ok := st.odds[id]; ok {
				out[id] = &o
			}
		}
		return nil
	})
	return out, err
}

func (r *fixtureRepo) UpdateState(_ context.Context, fixtureID int64, s model.FixtureState, checkedAt time.Time) error {
	return r.v.do(func(st *state) error {
		if err := r.v.check("fixtures.update_state"); err != nil {
			return err
		}
		f, ok := st.fixtures[fixtureID]
		if !ok {
			return model.ErrNotFound
		}
		f.State = s
		at := checkedAt
		f.StateCheckedAt = &at
		st.fixtures[fixtureID] = f
		return nil
	})
}

func (r *fixtureRepo) ListStartedBetween(_ context.Context, from, to time.Time, exclude []model.FixtureState) ([]*model.Fixture, error) {
	var out []*model.Fixture
	err := r.v.do(func(st *state) error {
		for _, f := range st.fixtures {
			if f.StartTime.Before(from) || f.StartTime.After(to) || containsState(exclude, f.State) {
				continue
			}
			out = append(out, &f)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].FixtureID < out[j].FixtureID
	})
	return out, err
}

func (r *fixtureRepo) ListFinishedWithoutResult(_ context.Context, limit int) ([]*model.Fixture, error) {
	var out []*model.Fixture
	err := r.v.do(func(st *state) error {
		for _, f := range st.fixtures {
			if !f.State.IsFinished() {
				continue
			}
			if res, ok := st.results[f.FixtureID]; ok && res.Outcome1X2 != nil && res.OutcomeOU25 != nil {
				continue
			}
			out = append(out, &f)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *fixtureRepo) SaveResult(_ context.Context, result *model.FixtureResult) (bool, error) {
	var written bool
	err := r.v.do(func(st *state) error {
		if err := r.v.check("fixtures.save_result"); err != nil {
			return err
		}
		if old, ok := st.results[result.FixtureID]; ok && old.Outcome1X2 != nil {
			return nil
		}
		st.results[result.FixtureID] = *result
		written = true
		return nil
	})
	return written, err
}

func (r *fixtureRepo) GetResults(_ context.Context, ids []int64) (map[int64]*model.FixtureResult, error) {
	out := make(map[int64]*model.FixtureResult, len(ids))
	err := r.v.do(func(st *state) error {
		for _, id := range ids {
			if res, ok := st.results[id]; ok {
				out[id] = &res
			}
		}
		return nil
	})
	return out, err
}

func containsState(list []model.FixtureState, s model.FixtureState) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
