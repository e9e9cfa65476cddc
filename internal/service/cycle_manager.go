package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"CycleOracle/internal/chain"
	"CycleOracle/internal/config"
	"CycleOracle/internal/interfaces"
	"CycleOracle/internal/metrics"
	"CycleOracle/internal/model"
	"CycleOracle/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const gameDateLayout = "2006-01-02"

// ResolveOutcome 单个周期一次结算尝试的结果
type ResolveOutcome string

const (
	OutcomeLocked     ResolveOutcome = "locked"     // cycle 锁被其他实例持有
	OutcomeBlocked    ResolveOutcome = "blocked"    // 门槛未满足
	OutcomeSubmitted  ResolveOutcome = "submitted"  // 本实例提交了结算交易
	OutcomeReconciled ResolveOutcome = "reconciled" // 链上已结算，已接管
	OutcomePending    ResolveOutcome = "pending"    // 交易已发出但回执未知
	OutcomeFailed     ResolveOutcome = "failed"
)

// CycleManager 每日周期状态机：开周期、结算门槛、准备与提交结算
type CycleManager struct {
	chain      interfaces.CycleChain
	selector   *MatchSelector
	sync       *FixtureSyncService
	reconciler *Reconciler
	store      repository.Store
	locker     interfaces.Locker
	trigger    interfaces.EvaluationTrigger
	rec        *recorder
	metrics    *metrics.Metrics
	cfg        config.ResolverConfig
	logger     *logrus.Logger
	now        func() time.Time
}

// NewCycleManager 创建周期状态机
func NewCycleManager(
	cycleChain interfaces.CycleChain,
	selector *MatchSelector,
	sync *FixtureSyncService,
	reconciler *Reconciler,
	store repository.Store,
	locker interfaces.Locker,
	publisher interfaces.EventPublisher,
	m *metrics.Metrics,
	cfg config.ResolverConfig,
	logger *logrus.Logger,
) *CycleManager {
	if cfg.LatestMatchGuard <= 0 {
		cfg.LatestMatchGuard = 6300 * time.Second
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 130 * time.Minute
	}
	if cfg.CycleLockTTL <= 0 {
		cfg.CycleLockTTL = 10 * time.Minute
	}
	return &CycleManager{
		chain:      cycleChain,
		selector:   selector,
		sync:       sync,
		reconciler: reconciler,
		store:      store,
		locker:     locker,
		trigger:    nopTrigger{},
		rec:        newRecorder(store, publisher, logger),
		metrics:    m,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetEvaluationTrigger 结算成功后触发 slip 评估
func (m *CycleManager) SetEvaluationTrigger(t interfaces.EvaluationTrigger) {
	if t != nil {
		m.trigger = t
	}
}

// OpenCycle 为 gameDate 开启链上周期。已存在则直接返回；链与库的 cycle id 不一致时记录 sync_issue 并放弃
func (m *CycleManager) OpenCycle(ctx context.Context, gameDate time.Time) (*model.Cycle, error) {
	day := truncateDay(gameDate)
	date := day.Format(gameDateLayout)
	log := m.logger.WithFields(logrus.Fields{"job": config.JobOpenCycle, "game_date": date})

	existing, err := m.store.Repos().Cycles.ListByGameDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("查询当日周期失败: %w", err)
	}
	var reserved *model.Cycle
	for _, c := range existing {
		if c.State.Confirmed() {
			log.WithField("cycle_id", c.CycleID).Info("当日周期已存在，跳过")
			return c, nil
		}
		reserved = c
	}

	chainID, err := m.chain.CurrentCycleID(ctx)
	if err != nil {
		return nil, err
	}

	// 上次发出 startDailyCycle 后未确认：链上已有该 id 时直接接管
	if reserved != nil && chainID >= uint64(reserved.CycleID) {
		log.WithFields(logrus.Fields{
			"cycle_id":       reserved.CycleID,
			"chain_cycle_id": chainID,
		}).Warn("发现未确认的预留周期，链上已存在，转入接管")
		return m.reconciler.AdoptCycle(ctx, reserved.CycleID, date)
	}

	dbID, _, err := m.store.Repos().Cycles.LatestConfirmedID(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询最新周期失败: %w", err)
	}
	if int64(chainID) != dbID {
		m.rec.syncIssue(ctx, model.IssueCycleIDMismatch, int64(chainID),
			fmt.Sprintf("open-cycle aborted: chain dailyCycleId=%d, db latest=%d", chainID, dbID),
			map[string]interface{}{"chain_cycle_id": chainID, "db_cycle_id": dbID, "game_date": date})
		log.WithFields(logrus.Fields{"chain_cycle_id": chainID, "db_cycle_id": dbID}).Error("链上与数据库周期不一致，放弃开周期")
		return nil, fmt.Errorf("%w: chain=%d db=%d", model.ErrSyncMismatch, chainID, dbID)
	}

	selected, err := m.selector.Select(ctx, day)
	if err != nil {
		if errors.Is(err, model.ErrInvariant) {
			m.rec.healthReport(ctx, config.JobOpenCycle, model.SeverityFatal, 0, err, map[string]interface{}{"game_date": date})
		}
		return nil, err
	}
	inputs, rows, err := BuildMatchInputs(selected)
	if err != nil {
		m.rec.healthReport(ctx, config.JobOpenCycle, model.SeverityFatal, 0, err, map[string]interface{}{"game_date": date})
		return nil, err
	}

	nextID := int64(chainID) + 1
	cycle := &model.Cycle{CycleID: nextID, GameDate: date, State: model.CycleOpening}
	err = m.store.InTx(ctx, func(r repository.Repos) error {
		// 事务内再确认一次，避免与其他实例重复预留
		again, err := r.Cycles.ListByGameDate(ctx, date)
		if err != nil {
			return err
		}
		for _, c := range again {
			if c.State.Confirmed() {
				return fmt.Errorf("%w: cycle %d already exists for %s", model.ErrConflict, c.CycleID, date)
			}
		}
		return r.Cycles.SaveReserved(ctx, cycle, rows)
	})
	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			log.WithError(err).Info("其他实例已开启当日周期")
			return nil, nil
		}
		return nil, fmt.Errorf("预留周期失败: %w", err)
	}
	log = log.WithField("cycle_id", nextID)
	log.Info("周期已预留，发送 startDailyCycle")

	receipt, err := m.chain.StartCycle(ctx, inputs)
	if err != nil {
		m.markFailedOpening(ctx, nextID, receipt, err)
		if errors.Is(err, model.ErrFatalRevert) || errors.Is(err, model.ErrInvariant) {
			m.rec.healthReport(ctx, config.JobOpenCycle, model.SeverityFatal, nextID, err, nil)
		}
		return nil, fmt.Errorf("startDailyCycle 失败: %w", err)
	}
	log = log.WithField("tx_hash", receipt.TxHash)

	gotID, err := m.chain.CurrentCycleID(ctx)
	if err != nil {
		// 交易已成功，由对账接管
		return nil, fmt.Errorf("读取新周期 id 失败: %w", err)
	}
	if int64(gotID) != nextID {
		cause := model.Invariant("startDailyCycle mined but dailyCycleId=%d, expected %d", gotID, nextID)
		m.markFailedOpening(ctx, nextID, receipt, cause)
		m.rec.syncIssue(ctx, model.IssueCycleIDMismatch, nextID, cause.Error(),
			map[string]interface{}{"chain_cycle_id": gotID, "tx_hash": receipt.TxHash})
		return nil, cause
	}
	endTime, err := m.chain.CycleEndTime(ctx, gotID)
	if err != nil {
		return nil, fmt.Errorf("读取周期结束时间失败: %w", err)
	}

	ok, err := m.store.Repos().Cycles.TransitionState(ctx, nextID, []model.CycleState{model.CycleOpening}, model.CycleOpen, map[string]interface{}{
		"end_time":      endTime,
		"start_tx_hash": receipt.TxHash,
		"last_error":    nil,
	})
	if err != nil {
		return nil, fmt.Errorf("更新周期状态失败: %w", err)
	}
	if !ok {
		log.Warn("周期状态已被其他流程更新")
	}
	m.metrics.CyclesOpened.Inc()
	m.rec.publish(ctx, model.EventCycleOpened, nextID, map[string]interface{}{
		"game_date": date,
		"end_time":  endTime.Unix(),
		"tx_hash":   receipt.TxHash,
	})
	log.WithField("end_time", endTime.Format(time.RFC3339)).Info("周期已开启")
	return m.store.Repos().Cycles.Get(ctx, nextID)
}

func (m *CycleManager) markFailedOpening(ctx context.Context, cycleID int64, receipt *chain.TxReceipt, cause error) {
	fields := map[string]interface{}{"last_error": cause.Error()}
	if receipt != nil && receipt.TxHash != "" {
		fields["start_tx_hash"] = receipt.TxHash
	}
	if _, err := m.store.Repos().Cycles.TransitionState(ctx, cycleID,
		[]model.CycleState{model.CycleOpening}, model.CycleFailedOpening, fields); err != nil {
		m.logger.WithError(err).WithField("cycle_id", cycleID).Error("标记 FailedOpening 失败")
	}
}

// AttemptResolution 遍历数据库中未结算的周期，逐个评估门槛并准备/提交结算
func (m *CycleManager) AttemptResolution(ctx context.Context) (map[int64]ResolveOutcome, error) {
	cycles, err := m.store.Repos().Cycles.ListByStates(ctx, model.UnresolvedCycleStates)
	if err != nil {
		return nil, fmt.Errorf("查询未结算周期失败: %w", err)
	}
	out := make(map[int64]ResolveOutcome, len(cycles))
	var errs []error
	for _, c := range cycles {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		outcome, err := m.ResolveCycle(ctx, c.CycleID)
		out[c.CycleID] = outcome
		if err != nil {
			// 单个周期失败不影响其他周期
			m.logger.WithError(err).WithFields(logrus.Fields{
				"job":      config.JobAttemptResolution,
				"cycle_id": c.CycleID,
				"outcome":  outcome,
			}).Error("周期结算失败")
			errs = append(errs, fmt.Errorf("cycle %d: %w", c.CycleID, err))
		}
	}
	return out, errors.Join(errs...)
}

// ResolveCycle 在 cycle:<id> 锁内完成一次结算尝试
func (m *CycleManager) ResolveCycle(ctx context.Context, cycleID int64) (ResolveOutcome, error) {
	release, ok, err := m.locker.TryLock(ctx, repository.CycleLockName(cycleID), m.cfg.CycleLockTTL)
	if err != nil {
		return OutcomeFailed, err
	}
	if !ok {
		m.logger.WithField("cycle_id", cycleID).Info("周期锁被其他实例持有，跳过")
		return OutcomeLocked, nil
	}
	defer release()

	log := m.logger.WithFields(logrus.Fields{"job": config.JobAttemptResolution, "cycle_id": cycleID})

	cycle, err := m.store.Repos().Cycles.Get(ctx, cycleID)
	if err != nil {
		return OutcomeFailed, err
	}
	if cycle.IsResolved {
		return OutcomeReconciled, nil
	}
	status, err := m.chain.CycleStatus(ctx, uint64(cycleID))
	if err != nil {
		return OutcomeFailed, err
	}
	if !status.Exists {
		m.rec.syncIssue(ctx, model.IssueCycleIDMismatch, cycleID, "cycle confirmed in db but missing on chain", nil)
		return OutcomeFailed, model.Invariant("cycle %d does not exist on chain", cycleID)
	}

	switch status.State {
	case chain.StateResolved:
		log.Info("链上已结算，转入对账")
		if err := m.reconciler.adoptResolution(ctx, cycle, status); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeReconciled, nil
	case chain.StateEnded:
		if cycle.State == model.CycleOpen {
			if _, err := m.store.Repos().Cycles.TransitionState(ctx, cycleID,
				[]model.CycleState{model.CycleOpen}, model.CycleEndedAwaitingResults, nil); err != nil {
				return OutcomeFailed, err
			}
			cycle.State = model.CycleEndedAwaitingResults
		}
	}

	report, err := m.evaluateGate(ctx, cycleID, status, true)
	if err != nil {
		if isSlotMismatch(err) && report != nil {
			details := map[string]interface{}{"mismatches": report.Mismatches}
			m.rec.healthReport(ctx, config.JobAttemptResolution, model.SeverityFatal, cycleID, err, details)
			m.rec.syncIssue(ctx, model.IssueSlotMismatch, cycleID, err.Error(), details)
		}
		return OutcomeFailed, err
	}

	if report.ResultsReady() {
		if err := m.prepare(ctx, cycle, report); err != nil {
			return OutcomeFailed, err
		}
	}
	if !report.Passed() {
		m.logGate(report)
		return OutcomeBlocked, nil
	}
	return m.submit(ctx, cycle, report)
}

// prepare 写入 resolution_data 并置 ready_for_resolution；重复执行写入相同内容。
// 链上未到 Ended 时只写数据不推进状态
func (m *CycleManager) prepare(ctx context.Context, cycle *model.Cycle, report *GateReport) error {
	data, err := json.Marshal(report.Entries)
	if err != nil {
		return fmt.Errorf("encode resolution_data: %w", err)
	}
	fields := map[string]interface{}{
		"resolution_data":      datatypes.JSON(data),
		"ready_for_resolution": true,
	}
	repos := m.store.Repos()
	first := !cycle.ReadyForResolution
	if report.ChainState == chain.StateEnded && cycle.State == model.CycleEndedAwaitingResults {
		if _, err := repos.Cycles.TransitionState(ctx, cycle.CycleID,
			[]model.CycleState{model.CycleEndedAwaitingResults}, model.CycleResolutionPrepared, fields); err != nil {
			return fmt.Errorf("写入 resolution_data 失败: %w", err)
		}
		cycle.State = model.CycleResolutionPrepared
	} else if err := repos.Cycles.Update(ctx, cycle.CycleID, fields); err != nil {
		return fmt.Errorf("写入 resolution_data 失败: %w", err)
	}
	cycle.ReadyForResolution = true
	cycle.ResolutionData = datatypes.JSON(data)
	if first {
		m.rec.publish(ctx, model.EventCycleReady, cycle.CycleID, map[string]interface{}{"results": report.Entries})
		m.logger.WithField("cycle_id", cycle.CycleID).Info("结算数据已准备")
	}
	return nil
}

// submit 再次确认链上状态后发送 resolveDailyCycle
func (m *CycleManager) submit(ctx context.Context, cycle *model.Cycle, report *GateReport) (ResolveOutcome, error) {
	cycleID := cycle.CycleID
	log := m.logger.WithFields(logrus.Fields{"job": config.JobAttemptResolution, "cycle_id": cycleID})

	status, err := m.chain.CycleStatus(ctx, uint64(cycleID))
	if err != nil {
		return OutcomeFailed, err
	}
	switch status.State {
	case chain.StateResolved:
		log.Info("提交前发现链上已结算，转入对账")
		if err := m.reconciler.adoptResolution(ctx, cycle, status); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeReconciled, nil
	case chain.StateEnded:
	default:
		return OutcomeBlocked, nil
	}

	repos := m.store.Repos()
	if _, err := repos.Cycles.TransitionState(ctx, cycleID, []model.CycleState{
		model.CycleEndedAwaitingResults, model.CycleResolutionPrepared, model.CycleResolving, model.CycleFailedResolving,
	}, model.CycleResolving, nil); err != nil {
		return OutcomeFailed, fmt.Errorf("更新为 Resolving 失败: %w", err)
	}

	log.Info("发送 resolveDailyCycle")
	receipt, err := m.chain.ResolveCycle(ctx, uint64(cycleID), report.Pairs)
	if err != nil {
		return m.handleSubmitError(ctx, cycle, receipt, err)
	}
	log = log.WithField("tx_hash", receipt.TxHash)

	resolvedAt := m.now()
	ok, err := repos.Cycles.TransitionState(ctx, cycleID, []model.CycleState{model.CycleResolving}, model.CycleResolved, map[string]interface{}{
		"resolved_at":          resolvedAt,
		"resolution_tx_hash":   receipt.TxHash,
		"is_resolved":          true,
		"ready_for_resolution": false,
		"last_error":           nil,
	})
	if err != nil {
		// 交易已上链，数据库由对账补齐
		log.WithError(err).Error("结算交易成功但更新数据库失败，等待对账")
		return OutcomeSubmitted, fmt.Errorf("更新结算状态失败: %w", err)
	}
	if !ok {
		log.Warn("周期状态已被其他流程推进")
	}
	m.metrics.CyclesResolved.WithLabelValues("submitted").Inc()
	m.rec.publish(ctx, model.EventCycleResolved, cycleID, map[string]interface{}{
		"tx_hash":     receipt.TxHash,
		"block":       receipt.BlockNumber,
		"resolved_at": resolvedAt.Unix(),
		"path":        "submitted",
	})
	m.trigger.RequestEvaluation(cycleID)
	log.WithField("block", receipt.BlockNumber).Info("周期已结算")
	return OutcomeSubmitted, nil
}

func (m *CycleManager) handleSubmitError(ctx context.Context, cycle *model.Cycle, receipt *chain.TxReceipt, cause error) (ResolveOutcome, error) {
	cycleID := cycle.CycleID
	log := m.logger.WithError(cause).WithFields(logrus.Fields{"job": config.JobAttemptResolution, "cycle_id": cycleID})
	repos := m.store.Repos()

	switch {
	case errors.Is(cause, model.ErrExpectedRevert):
		// 已被其他实例结算等：以链上为准
		log.Info("resolveDailyCycle 预期内 revert，转入对账")
		status, err := m.chain.CycleStatus(ctx, uint64(cycleID))
		if err != nil {
			return OutcomeFailed, err
		}
		if status.State == chain.StateResolved {
			if err := m.reconciler.adoptResolution(ctx, cycle, status); err != nil {
				return OutcomeFailed, err
			}
			return OutcomeReconciled, nil
		}
		m.backToPrepared(ctx, log, cycleID, cause)
		return OutcomeBlocked, nil

	case errors.Is(cause, chain.ErrReceiptTimeout):
		// 保持 Resolving，下一轮由链上状态决定
		fields := map[string]interface{}{"last_error": cause.Error()}
		if receipt != nil && receipt.TxHash != "" {
			fields["resolution_tx_hash"] = receipt.TxHash
		}
		if err := repos.Cycles.Update(ctx, cycleID, fields); err != nil {
			log.WithError(err).Warn("记录 last_error 失败")
		}
		log.Warn("结算交易回执超时，等待对账")
		return OutcomePending, cause

	case model.IsTransient(cause):
		m.backToPrepared(ctx, log, cycleID, cause)
		return OutcomeFailed, cause

	default:
		if _, err := repos.Cycles.TransitionState(ctx, cycleID, []model.CycleState{model.CycleResolving},
			model.CycleFailedResolving, map[string]interface{}{"last_error": cause.Error()}); err != nil {
			log.WithError(err).Error("标记 FailedResolving 失败")
		}
		m.rec.healthReport(ctx, config.JobAttemptResolution, model.SeverityFatal, cycleID, cause, nil)
		return OutcomeFailed, cause
	}
}

// backToPrepared Resolving 退回 ResolutionPrepared，下一轮重试；写库失败只记日志，周期留在 Resolving 由对账处理
func (m *CycleManager) backToPrepared(ctx context.Context, log *logrus.Entry, cycleID int64, cause error) {
	ok, err := m.store.Repos().Cycles.TransitionState(ctx, cycleID, []model.CycleState{model.CycleResolving},
		model.CycleResolutionPrepared, map[string]interface{}{"last_error": cause.Error()})
	if err != nil {
		log.WithField("transition_error", err.Error()).Error("回退 ResolutionPrepared 失败，周期停留在 Resolving")
		return
	}
	if !ok {
		log.Warn("周期已不在 Resolving，跳过回退")
	}
}
