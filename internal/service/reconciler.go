package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"CycleOracle/internal/chain"
	"CycleOracle/internal/config"
	"CycleOracle/internal/interfaces"
	"CycleOracle/internal/metrics"
	"CycleOracle/internal/model"
	"CycleOracle/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ReconcileStats 一次对账的统计
type ReconcileStats struct {
	LocksPurged int64
	Checked     int
	Adopted     int
	Resolved    int
	Advanced    int
}

// Reconciler 以链上状态为准修正数据库（只会让数据库追上链，从不超前）
type Reconciler struct {
	chain   interfaces.CycleChain
	store   repository.Store
	locker  interfaces.Locker
	trigger interfaces.EvaluationTrigger
	rec     *recorder
	metrics *metrics.Metrics
	cfg     config.ReconcilerConfig
	lockTTL time.Duration
	logger  *logrus.Logger
	now     func() time.Time
}

// NewReconciler 创建对账服务
func NewReconciler(
	cycleChain interfaces.CycleChain,
	store repository.Store,
	locker interfaces.Locker,
	publisher interfaces.EventPublisher,
	m *metrics.Metrics,
	cfg config.ReconcilerConfig,
	logger *logrus.Logger,
) *Reconciler {
	if cfg.Window <= 0 {
		cfg.Window = 7
	}
	return &Reconciler{
		chain:   cycleChain,
		store:   store,
		locker:  locker,
		trigger: nopTrigger{},
		rec:     newRecorder(store, publisher, logger),
		metrics: m,
		cfg:     cfg,
		lockTTL: 5 * time.Minute,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetEvaluationTrigger 接管已结算周期后触发评估
func (r *Reconciler) SetEvaluationTrigger(t interfaces.EvaluationTrigger) {
	if t != nil {
		r.trigger = t
	}
}

// ReconcileChain 清理过期锁；接管链上新周期；遍历最近窗口及所有未结算周期
func (r *Reconciler) ReconcileChain(ctx context.Context) (*ReconcileStats, error) {
	stats := &ReconcileStats{}
	purged, err := r.locker.PurgeExpired(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("清理过期锁失败")
	} else if purged > 0 {
		stats.LocksPurged = purged
		r.logger.WithField("purged", purged).Info("已清理过期锁")
	}

	chainID, err := r.chain.CurrentCycleID(ctx)
	if err != nil {
		return stats, err
	}
	repos := r.store.Repos()
	dbID, _, err := repos.Cycles.LatestConfirmedID(ctx)
	if err != nil {
		return stats, fmt.Errorf("查询最新周期失败: %w", err)
	}

	window := int64(r.cfg.Window)
	low := int64(chainID) - window + 1
	if low < 1 {
		low = 1
	}
	ids := map[int64]struct{}{}
	for id := low; id <= int64(chainID); id++ {
		ids[id] = struct{}{}
	}
	open, err := repos.Cycles.ListByStates(ctx, append(append([]model.CycleState{}, model.UnresolvedCycleStates...), model.UnconfirmedCycleStates...))
	if err != nil {
		return stats, fmt.Errorf("查询未结算周期失败: %w", err)
	}
	for _, c := range open {
		if c.CycleID <= int64(chainID) {
			ids[c.CycleID] = struct{}{}
		}
	}
	ordered := make([]int64, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	var errs []error
	for _, id := range ordered {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Checked++
		if err := r.reconcileOne(ctx, id, dbID, stats); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{"job": config.JobReconcileChain, "cycle_id": id}).Error("周期对账失败")
			errs = append(errs, fmt.Errorf("cycle %d: %w", id, err))
		}
	}
	r.logger.WithFields(logrus.Fields{
		"job":      config.JobReconcileChain,
		"chain_id": chainID,
		"checked":  stats.Checked,
		"adopted":  stats.Adopted,
		"resolved": stats.Resolved,
		"advanced": stats.Advanced,
	}).Info("链上对账完成")
	return stats, errors.Join(errs...)
}

// ReconcileCycle 单个周期对账，供运维接口 POST /cycles/:id/reconcile 使用
func (r *Reconciler) ReconcileCycle(ctx context.Context, cycleID int64) (*ReconcileStats, error) {
	stats := &ReconcileStats{Checked: 1}
	dbID, _, err := r.store.Repos().Cycles.LatestConfirmedID(ctx)
	if err != nil {
		return stats, err
	}
	if err := r.reconcileOne(ctx, cycleID, dbID, stats); err != nil {
		r.logger.WithError(err).WithField("cycle_id", cycleID).Error("单周期对账失败")
		return stats, err
	}
	r.logger.WithFields(logrus.Fields{
		"cycle_id": cycleID,
		"adopted":  stats.Adopted,
		"resolved": stats.Resolved,
		"advanced": stats.Advanced,
	}).Info("单周期对账完成")
	return stats, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, cycleID, dbLatest int64, stats *ReconcileStats) error {
	repos := r.store.Repos()
	cycle, err := repos.Cycles.Get(ctx, cycleID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}

	status, err := r.chain.CycleStatus(ctx, uint64(cycleID))
	if err != nil {
		return err
	}
	if !status.Exists {
		return nil
	}

	// 数据库缺失或只是本地预留：按链上数据接管
	if cycle == nil || !cycle.State.Confirmed() {
		gameDate := ""
		if cycle != nil {
			gameDate = cycle.GameDate
		}
		if cycle == nil && cycleID <= dbLatest {
			r.logger.WithField("cycle_id", cycleID).Warn("数据库缺少窗口内的历史周期，按链上数据补齐")
		}
		adopted, err := r.AdoptCycle(ctx, cycleID, gameDate)
		if err != nil {
			return err
		}
		stats.Adopted++
		if adopted.IsResolved {
			stats.Resolved++
		}
		return nil
	}

	r.refreshMirror(ctx, cycle, status)

	switch status.State {
	case chain.StateEnded:
		if cycle.State == model.CycleOpen {
			ok, err := repos.Cycles.TransitionState(ctx, cycleID, []model.CycleState{model.CycleOpen}, model.CycleEndedAwaitingResults, nil)
			if err != nil {
				return err
			}
			if ok {
				stats.Advanced++
				r.logger.WithField("cycle_id", cycleID).Info("链上已结束，周期进入 EndedAwaitingResults")
			}
		}
	case chain.StateResolved:
		if cycle.IsResolved {
			return nil
		}
		release, ok, err := r.locker.TryLock(ctx, repository.CycleLockName(cycleID), r.lockTTL)
		if err != nil {
			return err
		}
		if !ok {
			r.logger.WithField("cycle_id", cycleID).Info("周期锁被持有，下一轮再对账")
			return nil
		}
		defer release()
		if err := r.adoptResolution(ctx, cycle, status); err != nil {
			return err
		}
		stats.Resolved++
	}
	return nil
}

// refreshMirror 刷新奖池、slip 数等镜像字段
func (r *Reconciler) refreshMirror(ctx context.Context, cycle *model.Cycle, status *chain.CycleStatus) {
	pool := decimal.Zero
	if status.PrizePool != nil {
		pool = decimal.NewFromBigInt(status.PrizePool, 0)
	}
	fields := map[string]interface{}{}
	if !cycle.PrizePool.Equal(pool) {
		fields["prize_pool"] = pool
	}
	if cycle.SlipCount != int64(status.SlipCount) {
		fields["slip_count"] = int64(status.SlipCount)
	}
	if cycle.HasWinner != status.HasWinner {
		fields["has_winner"] = status.HasWinner
	}
	if !status.EndTime.IsZero() && (cycle.EndTime == nil || !cycle.EndTime.Equal(status.EndTime)) {
		fields["end_time"] = status.EndTime
	}
	if len(fields) == 0 {
		return
	}
	if err := r.store.Repos().Cycles.Update(ctx, cycle.CycleID, fields); err != nil {
		r.logger.WithError(err).WithField("cycle_id", cycle.CycleID).Warn("刷新周期镜像字段失败")
	}
}

// adoptResolution 链上已 Resolved：从 CycleResolved 日志恢复 tx hash 与区块时间后标记已结算
func (r *Reconciler) adoptResolution(ctx context.Context, cycle *model.Cycle, status *chain.CycleStatus) error {
	if status.State != chain.StateResolved {
		return model.Invariant("cycle %d: refusing to mark resolved while chain state is %s", cycle.CycleID, status.State)
	}
	fields := map[string]interface{}{
		"is_resolved":          true,
		"ready_for_resolution": false,
		"last_error":           nil,
	}
	if status.PrizePool != nil {
		fields["prize_pool"] = decimal.NewFromBigInt(status.PrizePool, 0)
	}

	found, err := r.chain.FindCycleResolved(ctx, uint64(cycle.CycleID))
	switch {
	case err == nil:
		fields["resolution_tx_hash"] = found.TxHash
		if !found.BlockTime.IsZero() {
			fields["resolved_at"] = found.BlockTime
		} else {
			fields["resolved_at"] = r.now()
		}
	case errors.Is(err, model.ErrNotFound):
		// 日志超出回溯范围：仍以链上状态为准，tx hash 留空
		fields["resolved_at"] = r.now()
		r.rec.syncIssue(ctx, model.IssueCycleAdopted, cycle.CycleID,
			"cycle resolved on chain but CycleResolved log not found within lookback", nil)
	default:
		return err
	}

	ok, err := r.store.Repos().Cycles.TransitionState(ctx, cycle.CycleID, model.UnresolvedCycleStates, model.CycleResolved, fields)
	if err != nil {
		return fmt.Errorf("标记周期已结算失败: %w", err)
	}
	if !ok {
		return nil
	}
	r.metrics.CyclesResolved.WithLabelValues("reconciled").Inc()
	payload := map[string]interface{}{"path": "reconciled"}
	if h, ok := fields["resolution_tx_hash"]; ok {
		payload["tx_hash"] = h
	}
	r.rec.publish(ctx, model.EventCycleResolved, cycle.CycleID, payload)
	r.trigger.RequestEvaluation(cycle.CycleID)
	r.logger.WithFields(logrus.Fields{"cycle_id": cycle.CycleID, "tx_hash": payload["tx_hash"]}).Info("已按链上状态标记周期已结算")
	return nil
}

// AdoptCycle 按链上 getDailyMatches / dailyCycleEndTimes 写入周期；链上已结算时同时接管结算信息
func (r *Reconciler) AdoptCycle(ctx context.Context, cycleID int64, gameDate string) (*model.Cycle, error) {
	status, err := r.chain.CycleStatus(ctx, uint64(cycleID))
	if err != nil {
		return nil, err
	}
	if !status.Exists || status.State == chain.StateNotStarted {
		return nil, fmt.Errorf("cycle %d: %w on chain", cycleID, model.ErrNotFound)
	}
	onChain, err := r.chain.DailyMatches(ctx, uint64(cycleID))
	if err != nil {
		return nil, err
	}
	endTime, err := r.chain.CycleEndTime(ctx, uint64(cycleID))
	if err != nil {
		return nil, err
	}
	rows := MatchesFromChain(onChain)
	if gameDate == "" {
		earliest := rows[0].StartTime
		for _, row := range rows[1:] {
			if row.StartTime.Before(earliest) {
				earliest = row.StartTime
			}
		}
		gameDate = earliest.Format(gameDateLayout)
	}

	state := model.CycleOpen
	if status.State == chain.StateEnded || status.State == chain.StateResolved {
		// Resolved 先落为 EndedAwaitingResults，再走 adoptResolution 取 tx hash
		state = model.CycleEndedAwaitingResults
	}
	cycle := &model.Cycle{
		CycleID:  cycleID,
		GameDate: gameDate,
		State:    state,
		EndTime:  &endTime,
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.FixtureID)
	}
	err = r.store.InTx(ctx, func(repos repository.Repos) error {
		if err := repos.Cycles.Adopt(ctx, cycle, rows); err != nil {
			return err
		}
		// 本地没有的比赛补一条占位记录，状态由轮询和门槛重拉补齐
		known, err := repos.Fixtures.GetFixtures(ctx, ids)
		if err != nil {
			return err
		}
		var missing []*model.Fixture
		for _, row := range rows {
			if _, ok := known[row.FixtureID]; !ok {
				missing = append(missing, &model.Fixture{
					FixtureID: row.FixtureID,
					StartTime: row.StartTime,
					State:     model.FixtureNotStarted,
				})
			}
		}
		return repos.Fixtures.UpsertFixtures(ctx, missing)
	})
	if err != nil {
		return nil, fmt.Errorf("接管链上周期失败: %w", err)
	}
	r.rec.syncIssue(ctx, model.IssueCycleAdopted, cycleID,
		fmt.Sprintf("cycle %d adopted from chain in state %s", cycleID, status.State),
		map[string]interface{}{"chain_state": status.State.String(), "game_date": gameDate})

	adopted, err := r.store.Repos().Cycles.Get(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	r.refreshMirror(ctx, adopted, status)
	if status.State == chain.StateResolved {
		if err := r.adoptResolution(ctx, adopted, status); err != nil {
			return nil, err
		}
	}
	r.logger.WithFields(logrus.Fields{"cycle_id": cycleID, "chain_state": status.State}).Warn("已按链上数据接管周期")
	return r.store.Repos().Cycles.Get(ctx, cycleID)
}
