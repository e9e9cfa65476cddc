package repotest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"CycleOracle/internal/model"
)

type opsRepo struct{ v *view }

func (r *opsRepo) GetWatermark(_ context.Context, contract string) (uint64, bool, error) {
	var (
		block uint64
		ok    bool
	)
	err := r.v.do(func(st *state) error {
		block, ok = st.watermarks[contract]
		return nil
	})
	return block, ok, err
}

func (r *opsRepo) AdvanceWatermark(_ context.Context, contract string, block uint64) error {
	return r.v.do(func(st *state) error {
		if err := r.v.check("ops.advance_watermark"); err != nil {
			return err
		}
		if cur, ok := st.watermarks[contract]; !ok || block > cur {
			st.watermarks[contract] = block
		}
		return nil
	})
}

func (r *opsRepo) InsertChainEvent(_ context.Context, ev *model.ChainEvent) (bool, error) {
	var inserted bool
	err := r.v.do(func(st *state) error {
		if err := r.v.check("ops.insert_event"); err != nil {
			return err
		}
		key := eventKey(ev.TxHash, ev.LogIndex)
		if _, ok := st.events[key]; ok {
			return nil
		}
		row := *ev
		row.ID = st.id()
		st.events[key] = row
		inserted = true
		return nil
	})
	return inserted, err
}

func (r *opsRepo) UpsertPrizeClaim(_ context.Context, claim *model.PrizeClaim) error {
	return r.v.do(func(st *state) error {
		key := fmt.Sprintf("%d:%s", claim.CycleID, claim.Player)
		row := *claim
		if old, ok := st.claims[key]; ok {
			row.ID = old.ID
		} else {
			row.ID = st.id()
		}
		st.claims[key] = row
		return nil
	})
}

func (r *opsRepo) RecordSyncIssue(_ context.Context, issue *model.SyncIssue) error {
	return r.v.do(func(st *state) error {
		row := *issue
		row.ID = st.id()
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now().UTC()
		}
		st.issues = append(st.issues, row)
		return nil
	})
}

func (r *opsRepo) RecordHealthReport(_ context.Context, report *model.HealthReport) error {
	return r.v.do(func(st *state) error {
		row := *report
		row.ID = st.id()
		st.reports = append(st.reports, row)
		return nil
	})
}

func (r *opsRepo) ListSyncIssues(_ context.Context, onlyOpen bool, limit int) ([]*model.SyncIssue, error) {
	var out []*model.SyncIssue
	err := r.v.do(func(st *state) error {
		for _, is := range st.issues {
			if onlyOpen && is.Resolved {
				continue
			}
			out = append(out, &is)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type lockRepo struct{ v *view }

func (r *lockRepo) Acquire(_ context.Context, name, holder string, ttl time.Duration) (bool, error) {
	var ok bool
	err := r.v.do(func(st *state) error {
		now := r.v.m.now()
		cur, exists := st.locks[name]
		if exists && cur.ExpiresAt.After(now) {
			return nil
		}
		st.locks[name] = model.JobLock{Name: name, Holder: holder, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
		ok = true
		return nil
	})
	return ok, err
}

func (r *lockRepo) Release(_ context.Context, name, holder string) error {
	return r.v.do(func(st *state) error {
		if cur, ok := st.locks[name]; ok && cur.Holder == holder {
			delete(st.locks, name)
		}
		return nil
	})
}

func (r *lockRepo) PurgeExpired(_ context.Context) (int64, error) {
	var n int64
	err := r.v.do(func(st *state) error {
		now := r.v.m.now()
		for name, l := range st.locks {
			if !l.ExpiresAt.After(now) {
				delete(st.locks, name)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *lockRepo) Get(_ context.Context, name string) (*model.JobLock, error) {
	var out *model.JobLock
	err := r.v.do(func(st *state) error {
		l, ok := st.locks[name]
		if !ok {
			return model.ErrNotFound
		}
		out = &l
		return nil
	})
	return out, err
}
