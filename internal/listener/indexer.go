package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"
	"unicode"

	"CycleOracle/internal/chain"
	"CycleOracle/internal/config"
	"CycleOracle/internal/interfaces"
	"CycleOracle/internal/metrics"
	"CycleOracle/internal/model"
	"CycleOracle/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const (
	indexLockName = "job:index-events"
	// 单次 tick 最多处理的批数，追块时分多轮完成
	maxBatchesPerTick = 50
)

// SlipReader 读取链上 slip 详情
type SlipReader interface {
	Slip(ctx context.Context, slipID uint64) (*chain.Slip, error)
}

// CycleAdopter 数据库缺少的链上周期交给对账接管
type CycleAdopter interface {
	AdoptCycle(ctx context.Context, cycleID int64, gameDate string) (*model.Cycle, error)
}

// TickStats 一轮索引的统计
type TickStats struct {
	From    uint64
	To      uint64
	Events  int
	Skipped int
}

// Indexer 按水位轮询合约日志，写入 chain_events 并镜像到业务表。
// 每条日志一个事务：事件记录、镜像写入、水位推进同时提交
type Indexer struct {
	source    interfaces.LogSource
	slips     SlipReader
	adopter   CycleAdopter
	store     repository.Store
	locker    interfaces.Locker
	trigger   interfaces.EvaluationTrigger
	publisher interfaces.EventPublisher
	metrics   *metrics.Metrics
	cfg       config.IndexerConfig
	logger    *logrus.Logger

	contract string
	poke     chan struct{}
}

// NewIndexer 创建事件索引器
func NewIndexer(
	source interfaces.LogSource,
	slips SlipReader,
	adopter CycleAdopter,
	store repository.Store,
	locker interfaces.Locker,
	publisher interfaces.EventPublisher,
	m *metrics.Metrics,
	cfg config.IndexerConfig,
	logger *logrus.Logger,
) *Indexer {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &Indexer{
		source:    source,
		slips:     slips,
		adopter:   adopter,
		store:     store,
		locker:    locker,
		trigger:   nopTrigger{},
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
		contract:  source.ContractAddress().Hex(),
		poke:      make(chan struct{}, 1),
	}
}

type nopTrigger struct{}

func (nopTrigger) RequestEvaluation(int64) {}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.DomainEvent) {}

// SetEvaluationTrigger CycleResolved 入库后触发评估
func (ix *Indexer) SetEvaluationTrigger(t interfaces.EvaluationTrigger) {
	if t != nil {
		ix.trigger = t
	}
}

// Poke 请求立即执行一轮（不阻塞）
func (ix *Indexer) Poke() {
	select {
	case ix.poke <- struct{}{}:
	default:
	}
}

// Run 定时执行直到 ctx 取消
func (ix *Indexer) Run(ctx context.Context) error {
	ticker := time.NewTicker(ix.cfg.Interval)
	defer ticker.Stop()

	ix.logger.WithFields(logrus.Fields{
		"contract": ix.contract,
		"interval": ix.cfg.Interval,
	}).Info("事件索引器已启动")

	for {
		if _, err := ix.Tick(ctx); err != nil && ctx.Err() == nil {
			ix.logger.WithError(err).Warn("事件索引失败，下一轮重试")
		}
		select {
		case <-ctx.Done():
			ix.logger.Info("事件索引器已停止")
			return nil
		case <-ticker.C:
		case <-ix.poke:
		}
	}
}

// Tick 处理 (水位, 链头 - 确认数] 区间的日志
func (ix *Indexer) Tick(ctx context.Context) (*TickStats, error) {
	stats := &TickStats{}
	release, ok, err := ix.locker.TryLock(ctx, indexLockName, 2*ix.cfg.Interval+time.Minute)
	if err != nil {
		return stats, err
	}
	if !ok {
		ix.logger.Debug("索引锁被其他实例持有，跳过")
		return stats, nil
	}
	defer release()

	head, err := ix.source.HeadBlock(ctx)
	if err != nil {
		return stats, err
	}
	if head < ix.cfg.Confirmations {
		return stats, nil
	}
	safe := head - ix.cfg.Confirmations

	last, err := ix.startingPoint(ctx, head)
	if err != nil {
		return stats, err
	}
	ix.metrics.IndexerLag.Set(float64(head - min(head, last)))
	if last >= safe {
		return stats, nil
	}

	batch := ix.source.LogBatchBlocks()
	if batch == 0 || batch > chain.MaxLogRange {
		batch = chain.MaxLogRange
	}

	stats.From = last + 1
	blockTimes := map[uint64]time.Time{}
	for n := 0; n < maxBatchesPerTick && last < safe; n++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		from := last + 1
		to := min(from+batch-1, safe)

		logs, err := ix.source.FilterLogs(ctx, from, to)
		if err != nil {
			return stats, fmt.Errorf("拉取日志 %d-%d 失败: %w", from, to, err)
		}
		for _, vLog := range logs {
			handled, err := ix.handleLog(ctx, vLog, blockTimes)
			if err != nil {
				return stats, err
			}
			if handled {
				stats.Events++
			} else {
				stats.Skipped++
			}
		}
		if err := ix.store.Repos().Ops.AdvanceWatermark(ctx, ix.contract, to); err != nil {
			return stats, err
		}
		last = to
		stats.To = to
		ix.metrics.IndexerLastBlock.Set(float64(to))
		ix.metrics.IndexerLag.Set(float64(head - to))
	}

	if stats.Events > 0 || stats.To > 0 {
		ix.logger.WithFields(logrus.Fields{
			"from":    stats.From,
			"to":      stats.To,
			"events":  stats.Events,
			"skipped": stats.Skipped,
			"head":    head,
		}).Info("事件索引完成")
	}
	if last < safe {
		ix.Poke()
	}
	return stats, nil
}

// startingPoint 已完整处理的最后一个区块；首次运行取 start_block 或 head - bootstrap
func (ix *Indexer) startingPoint(ctx context.Context, head uint64) (uint64, error) {
	last, ok, err := ix.store.Repos().Ops.GetWatermark(ctx, ix.contract)
	if err != nil || ok {
		return last, err
	}
	var from uint64
	switch {
	case ix.cfg.StartBlock > 0:
		from = ix.cfg.StartBlock
	case head > ix.cfg.BootstrapBlocks:
		from = head - ix.cfg.BootstrapBlocks
	}
	ix.logger.WithFields(logrus.Fields{"contract": ix.contract, "from": from}).Info("未找到索引水位，从起始区块开始")
	if from == 0 {
		return 0, nil
	}
	return from - 1, nil
}

// handleLog 解码并在一个事务内写入事件与镜像；重复日志不会重复生效
func (ix *Indexer) handleLog(ctx context.Context, vLog types.Log, blockTimes map[uint64]time.Time) (bool, error) {
	if vLog.Removed {
		return false, nil
	}
	ev, err := chain.DecodeEvent(vLog)
	if err != nil {
		if !errors.Is(err, chain.ErrUnknownEvent) {
			ix.logger.WithError(err).WithFields(logrus.Fields{
				"tx_hash":   vLog.TxHash.Hex(),
				"log_index": vLog.Index,
			}).Warn("日志解码失败，跳过")
		}
		return false, nil
	}

	blockTime, err := ix.blockTime(ctx, ev.BlockNumber, blockTimes)
	if err != nil {
		return false, err
	}

	// 链上读取放在事务外
	var slip *chain.Slip
	if ev.Kind == chain.EventSlipPlaced {
		if slip, err = ix.slips.Slip(ctx, ev.SlipID); err != nil {
			return false, fmt.Errorf("读取 slip %d 失败: %w", ev.SlipID, err)
		}
	}

	row := toChainEvent(ev, ix.contract, blockTime)
	var (
		inserted    bool
		needsAdopt  bool
		resolvedNow bool
		lateSlip    bool
	)
	err = ix.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		inserted, err = r.Ops.InsertChainEvent(ctx, row)
		if err != nil {
			return err
		}
		if inserted {
			switch ev.Kind {
			case chain.EventCycleStarted:
				needsAdopt, err = ix.mirrorCycleStarted(ctx, r, ev)
			case chain.EventCycleResolved:
				needsAdopt, resolvedNow, err = ix.mirrorCycleResolved(ctx, r, ev, blockTime)
			case chain.EventSlipPlaced:
				lateSlip, err = ix.mirrorSlipPlaced(ctx, r, ev, slip, blockTime)
			case chain.EventSlipEvaluated:
				err = ix.mirrorSlipEvaluated(ctx, r, ev)
			case chain.EventPrizeClaimed:
				err = r.Ops.UpsertPrizeClaim(ctx, &model.PrizeClaim{
					CycleID: int64(ev.CycleID),
					Player:  ev.Player.Hex(),
					Rank:    int(ev.Rank),
					Amount:  decimal.NewFromBigInt(ev.Amount, 0),
					TxHash:  ev.TxHash,
				})
			}
			if err != nil {
				return err
			}
		}
		// 同一区块可能还有未处理的日志，水位只推进到上一个区块
		if ev.BlockNumber > 0 {
			return r.Ops.AdvanceWatermark(ctx, ix.contract, ev.BlockNumber-1)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("写入 %s 事件失败 (tx=%s, log=%d): %w", ev.Kind, ev.TxHash, ev.LogIndex, err)
	}
	if !inserted {
		return false, nil
	}
	ix.metrics.EventsIndexed.WithLabelValues(string(ev.Kind)).Inc()

	cycleID := int64(ev.CycleID)
	if needsAdopt {
		if _, err := ix.adopter.AdoptCycle(ctx, cycleID, ""); err != nil {
			ix.logger.WithError(err).WithField("cycle_id", cycleID).Warn("接管链上周期失败，交给对账任务")
		}
	}
	if resolvedNow {
		ix.metrics.CyclesResolved.WithLabelValues("indexed").Inc()
		ix.publisher.Publish(ctx, model.DomainEvent{
			Type:    model.EventCycleResolved,
			CycleID: cycleID,
			Payload: map[string]interface{}{"path": "indexed", "tx_hash": ev.TxHash},
			At:      time.Now().UTC(),
		})
	}
	if ev.Kind == chain.EventCycleResolved || lateSlip {
		ix.trigger.RequestEvaluation(cycleID)
	}
	return true, nil
}

// mirrorCycleStarted 已有行时同步结束时间；缺失时事务提交后接管
func (ix *Indexer) mirrorCycleStarted(ctx context.Context, r repository.Repos, ev *chain.Event) (bool, error) {
	cycle, err := r.Cycles.Get(ctx, int64(ev.CycleID))
	if errors.Is(err, model.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if cycle.EndTime != nil && cycle.EndTime.Equal(ev.EndTime) {
		return false, nil
	}
	return false, r.Cycles.Update(ctx, cycle.CycleID, map[string]interface{}{"end_time": ev.EndTime})
}

// mirrorCycleResolved 已确认的周期直接标记已结算，缺失或仅预留的交给接管
func (ix *Indexer) mirrorCycleResolved(ctx context.Context, r repository.Repos, ev *chain.Event, blockTime time.Time) (adopt, resolved bool, err error) {
	cycle, err := r.Cycles.Get(ctx, int64(ev.CycleID))
	if errors.Is(err, model.ErrNotFound) {
		return true, false, nil
	}
	if err != nil {
		return false, false, err
	}
	if !cycle.State.Confirmed() {
		return true, false, nil
	}
	if cycle.IsResolved {
		return false, false, nil
	}
	fields := map[string]interface{}{
		"is_resolved":          true,
		"ready_for_resolution": false,
		"resolution_tx_hash":   ev.TxHash,
		"resolved_at":          blockTime,
		"last_error":           nil,
	}
	if ev.PrizePool != nil {
		fields["prize_pool"] = decimal.NewFromBigInt(ev.PrizePool, 0)
	}
	ok, err := r.Cycles.TransitionState(ctx, cycle.CycleID, model.UnresolvedCycleStates, model.CycleResolved, fields)
	if err != nil {
		return false, false, err
	}
	if ok {
		ix.logger.WithFields(logrus.Fields{"cycle_id": cycle.CycleID, "tx_hash": ev.TxHash}).Info("CycleResolved 已入库，周期标记为已结算")
	}
	return false, ok, nil
}

// mirrorSlipPlaced 按链上 getSlip 写入 slip 及 10 条预测。
// 所属周期已结算时返回 true，并清空 evaluated_at，由提交后的评估请求补评
func (ix *Indexer) mirrorSlipPlaced(ctx context.Context, r repository.Repos, ev *chain.Event, slip *chain.Slip, blockTime time.Time) (bool, error) {
	placedAt := slip.PlacedAt
	if placedAt.IsZero() {
		placedAt = blockTime
	}
	row := &model.Slip{
		SlipID:   int64(ev.SlipID),
		CycleID:  int64(ev.CycleID),
		Player:   ev.Player.Hex(),
		PlacedAt: placedAt,
		TxHash:   ev.TxHash,
	}
	preds := make([]*model.SlipPrediction, 0, model.SlotCount)
	for slot, p := range slip.Predictions {
		preds = append(preds, &model.SlipPrediction{
			Slot:        slot,
			FixtureID:   int64(p.MatchID),
			BetType:     model.BetType(p.BetType),
			Selection:   DecodeSelection(p.Selection),
			SelectedOdd: p.SelectedOdd,
		})
	}
	inserted, err := r.Slips.Insert(ctx, row, preds)
	if err != nil || !inserted {
		return false, err
	}
	ix.logger.WithFields(logrus.Fields{
		"slip_id":  ev.SlipID,
		"cycle_id": ev.CycleID,
		"player":   row.Player,
	}).Debug("slip 已入库")

	cycle, err := r.Cycles.Get(ctx, row.CycleID)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !cycle.IsResolved {
		return false, nil
	}
	if cycle.EvaluatedAt != nil {
		if err := r.Cycles.Update(ctx, row.CycleID, map[string]interface{}{"evaluated_at": nil}); err != nil {
			return false, err
		}
	}
	ix.logger.WithFields(logrus.Fields{"slip_id": ev.SlipID, "cycle_id": ev.CycleID}).Warn("周期已结算后才入库的 slip，重新排队评估")
	return true, nil
}

// mirrorSlipEvaluated 记录合约评估结果；与本地评估不一致时告警
func (ix *Indexer) mirrorSlipEvaluated(ctx context.Context, r repository.Repos, ev *chain.Event) error {
	score := decimal.Zero
	if ev.FinalScore != nil {
		score = decimal.NewFromBigInt(ev.FinalScore, 0)
	}
	slipID := int64(ev.SlipID)
	if err := r.Slips.RecordChainEvaluation(ctx, slipID, int(ev.CorrectCount), score); err != nil {
		return err
	}
	local, err := r.Slips.Get(ctx, slipID)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if local.IsEvaluated && (local.CorrectCount != int(ev.CorrectCount) || !local.FinalScore.Equal(score)) {
		ix.logger.WithFields(logrus.Fields{
			"slip_id":       slipID,
			"cycle_id":      ev.CycleID,
			"local_correct": local.CorrectCount,
			"local_score":   local.FinalScore.String(),
			"chain_correct": ev.CorrectCount,
			"chain_score":   score.String(),
		}).Warn("合约评估结果与本地不一致")
	}
	return nil
}

func (ix *Indexer) blockTime(ctx context.Context, block uint64, cache map[uint64]time.Time) (time.Time, error) {
	if t, ok := cache[block]; ok {
		return t, nil
	}
	t, err := ix.source.HeaderTime(ctx, block)
	if err != nil {
		return time.Time{}, fmt.Errorf("读取区块 %d 时间失败: %w", block, err)
	}
	cache[block] = t
	return t, nil
}

func toChainEvent(ev *chain.Event, contract string, blockTime time.Time) *model.ChainEvent {
	row := &model.ChainEvent{
		TxHash:      ev.TxHash,
		LogIndex:    ev.LogIndex,
		BlockNumber: ev.BlockNumber,
		Contract:    contract,
		EventName:   string(ev.Kind),
		BlockTime:   &blockTime,
	}
	cycleID := int64(ev.CycleID)
	row.CycleID = &cycleID
	if ev.HasSlip() {
		slipID := int64(ev.SlipID)
		row.SlipID = &slipID
	}

	payload := map[string]interface{}{}
	switch ev.Kind {
	case chain.EventCycleStarted:
		payload["end_time"] = ev.EndTime.Unix()
	case chain.EventCycleResolved:
		payload["prize_pool"] = bigString(ev.PrizePool)
	case chain.EventSlipPlaced:
		payload["player"] = ev.Player.Hex()
	case chain.EventSlipEvaluated:
		payload["player"] = ev.Player.Hex()
		payload["correct_count"] = ev.CorrectCount
		payload["final_score"] = bigString(ev.FinalScore)
	case chain.EventPrizeClaimed:
		payload["player"] = ev.Player.Hex()
		payload["rank"] = ev.Rank
		payload["amount"] = bigString(ev.Amount)
	}
	if b, err := json.Marshal(payload); err == nil {
		row.Payload = datatypes.JSON(b)
	}
	return row
}

// DecodeSelection bytes32 选项：可打印 ASCII（右侧补零）还原为字符串，否则按哈希输出 0x 十六进制
func DecodeSelection(raw [32]byte) string {
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	if end == 0 {
		return common.Hash(raw).Hex()
	}
	for _, b := range raw[:end] {
		if b > unicode.MaxASCII || !unicode.IsPrint(rune(b)) {
			return common.Hash(raw).Hex()
		}
	}
	return string(raw[:end])
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
