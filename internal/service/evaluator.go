package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"CycleOracle/internal/chain"
	"CycleOracle/internal/config"
	"CycleOracle/internal/interfaces"
	"CycleOracle/internal/metrics"
	"CycleOracle/internal/model"
	"CycleOracle/internal/repository"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// OddsScale 赔率与分数的放大倍数
const OddsScale = 1000

const evaluateBatch = 500

// 规范选项及别名
var selectionSpellings = map[string]model.Selection{
	"1":     model.SelectionHome,
	"Home":  model.SelectionHome,
	"X":     model.SelectionDraw,
	"Draw":  model.SelectionDraw,
	"2":     model.SelectionAway,
	"Away":  model.SelectionAway,
	"Over":  model.SelectionOver,
	"O":     model.SelectionOver,
	"Under": model.SelectionUnder,
	"U":     model.SelectionUnder,
}

// 旧版 slip 以 keccak256(选项字符串) 存储
var selectionHashes = func() map[string]model.Selection {
	out := make(map[string]model.Selection, len(selectionSpellings))
	for spelling, sel := range selectionSpellings {
		out[crypto.Keccak256Hash([]byte(spelling)).Hex()] = sel
	}
	return out
}()

// NormaliseSelection 字符串或 keccak256 哈希 → 规范选项；未知返回 false
func NormaliseSelection(raw string) (model.Selection, bool) {
	s := strings.TrimSpace(raw)
	if sel, ok := selectionSpellings[s]; ok {
		return sel, true
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if len(s) == 66 {
			sel, ok := selectionHashes["0x"+strings.ToLower(s[2:])]
			return sel, ok
		}
		return "", false
	}
	for spelling, sel := range selectionSpellings {
		if strings.EqualFold(spelling, s) {
			return sel, true
		}
	}
	return "", false
}

// SlotOutcome 单个槽位的规范化结果
type SlotOutcome struct {
	FixtureID  int64
	Outcome1X2 model.Outcome1X2
	OutcomeOU  model.OutcomeOU
}

// ScoreSlip 按槽位顺序计分：命中则 score = floor(score * odd / 1000)，起始 1000，全程整数运算
func ScoreSlip(predictions []model.SlipPrediction, outcomes [model.SlotCount]SlotOutcome) (int, *big.Int) {
	preds := append([]model.SlipPrediction(nil), predictions...)
	sort.SliceStable(preds, func(i, j int) bool { return preds[i].Slot < preds[j].Slot })

	scale := big.NewInt(OddsScale)
	score := big.NewInt(OddsScale)
	correct := 0
	for _, p := range preds {
		if p.Slot < 0 || p.Slot >= model.SlotCount {
			continue
		}
		out := outcomes[p.Slot]
		sel, ok := NormaliseSelection(p.Selection)
		if !ok || !sel.Matches(p.BetType, out.Outcome1X2, out.OutcomeOU) {
			continue
		}
		correct++
		score.Mul(score, new(big.Int).SetUint64(uint64(p.SelectedOdd)))
		score.Quo(score, scale)
	}
	return correct, score
}

// EvaluationStats 单个周期的评估结果
type EvaluationStats struct {
	CycleID   int64
	Evaluated int
	Skipped   int
	Remaining int64
	Completed bool
}

// SlipEvaluator 周期结算后为每张 slip 计分并生成排行榜
type SlipEvaluator struct {
	chain   interfaces.CycleChain
	store   repository.Store
	rec     *recorder
	metrics *metrics.Metrics
	logger  *logrus.Logger
	now     func() time.Time
}

// NewSlipEvaluator 创建评估服务
func NewSlipEvaluator(cycleChain interfaces.CycleChain, store repository.Store, publisher interfaces.EventPublisher, m *metrics.Metrics, logger *logrus.Logger) *SlipEvaluator {
	return &SlipEvaluator{
		chain:   cycleChain,
		store:   store,
		rec:     newRecorder(store, publisher, logger),
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EvaluatePending 评估所有已结算但未评估完成的周期
func (e *SlipEvaluator) EvaluatePending(ctx context.Context) ([]*EvaluationStats, error) {
	cycles, err := e.store.Repos().Cycles.ListPendingEvaluation(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询待评估周期失败: %w", err)
	}
	var (
		out  []*EvaluationStats
		errs []error
	)
	for _, c := range cycles {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		stats, err := e.EvaluateCycle(ctx, c.CycleID)
		if err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{"job": config.JobEvaluateSlips, "cycle_id": c.CycleID}).Error("slip 评估失败")
			errs = append(errs, fmt.Errorf("cycle %d: %w", c.CycleID, err))
			continue
		}
		out = append(out, stats)
	}
	return out, errors.Join(errs...)
}

// EvaluateCycle 评估一个周期：链上必须已 Resolved 且数据库 is_resolved
func (e *SlipEvaluator) EvaluateCycle(ctx context.Context, cycleID int64) (*EvaluationStats, error) {
	log := e.logger.WithFields(logrus.Fields{"job": config.JobEvaluateSlips, "cycle_id": cycleID})
	repos := e.store.Repos()
	stats := &EvaluationStats{CycleID: cycleID}

	cycle, err := repos.Cycles.Get(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if !cycle.IsResolved {
		log.Debug("数据库未标记结算，跳过评估")
		return stats, nil
	}
	status, err := e.chain.CycleStatus(ctx, uint64(cycleID))
	if err != nil {
		return nil, err
	}
	if status.State != chain.StateResolved {
		cause := model.Invariant("cycle %d is_resolved in db but chain state is %s", cycleID, status.State)
		e.rec.healthReport(ctx, config.JobEvaluateSlips, model.SeverityFatal, cycleID, cause, nil)
		return nil, cause
	}

	outcomes, err := e.slotOutcomes(ctx, cycleID)
	if err != nil {
		e.rec.healthReport(ctx, config.JobEvaluateSlips, model.SeverityFatal, cycleID, err, nil)
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		slips, err := repos.Slips.ListUnevaluated(ctx, cycleID, evaluateBatch)
		if err != nil {
			return stats, fmt.Errorf("查询未评估 slip 失败: %w", err)
		}
		if len(slips) == 0 {
			break
		}
		for _, s := range slips {
			correct, score := ScoreSlip(s.Predictions, outcomes)
			final := decimal.NewFromBigInt(score, 0)
			written, err := repos.Slips.MarkEvaluated(ctx, s.SlipID, correct, final, e.now())
			if err != nil {
				return stats, fmt.Errorf("写入 slip %d 评估结果失败: %w", s.SlipID, err)
			}
			if !written {
				// 并发评估者已写入
				stats.Skipped++
				continue
			}
			stats.Evaluated++
			e.compareWithChain(ctx, s, correct, final)
		}
		if len(slips) < evaluateBatch {
			break
		}
	}
	if stats.Evaluated > 0 {
		e.metrics.SlipsEvaluated.Add(float64(stats.Evaluated))
	}

	remaining, err := repos.Slips.CountUnevaluated(ctx, cycleID)
	if err != nil {
		return stats, err
	}
	stats.Remaining = remaining
	if remaining > 0 {
		log.WithField("remaining", remaining).Warn("仍有未评估的 slip，下轮继续")
		return stats, nil
	}
	if err := e.finalise(ctx, cycleID); err != nil {
		return stats, err
	}
	stats.Completed = true
	e.rec.publish(ctx, model.EventSlipsEvaluated, cycleID, map[string]interface{}{
		"evaluated": stats.Evaluated,
	})
	log.WithFields(logrus.Fields{"evaluated": stats.Evaluated, "skipped": stats.Skipped}).Info("slip 评估完成")
	return stats, nil
}

// slotOutcomes 通过周期自己的槽位列表查找结果
func (e *SlipEvaluator) slotOutcomes(ctx context.Context, cycleID int64) ([model.SlotCount]SlotOutcome, error) {
	var out [model.SlotCount]SlotOutcome
	repos := e.store.Repos()
	rows, err := repos.Cycles.GetMatches(ctx, cycleID)
	if err != nil {
		return out, err
	}
	slots, err := orderedSlots(cycleID, rows)
	if err != nil {
		return out, err
	}
	results, err := repos.Fixtures.GetResults(ctx, slotFixtureIDs(slots))
	if err != nil {
		return out, err
	}
	for i, row := range slots {
		res := results[row.FixtureID]
		if !res.Scored() {
			return out, fmt.Errorf("%w: slot %d fixture %d", model.ErrResultNotSet, i, row.FixtureID)
		}
		out[i] = SlotOutcome{FixtureID: row.FixtureID, Outcome1X2: *res.Outcome1X2, OutcomeOU: *res.OutcomeOU25}
	}
	return out, nil
}

// compareWithChain 与合约 SlipEvaluated 的结果比对（索引器已记录时）
func (e *SlipEvaluator) compareWithChain(ctx context.Context, s *model.Slip, correct int, score decimal.Decimal) {
	if s.ChainCorrectCount == nil || s.ChainFinalScore == nil {
		return
	}
	if *s.ChainCorrectCount == correct && s.ChainFinalScore.Equal(score) {
		return
	}
	e.rec.syncIssue(ctx, model.IssueScoreMismatch, s.CycleID,
		fmt.Sprintf("slip %d evaluation differs from chain", s.SlipID),
		map[string]interface{}{
			"slip_id":             s.SlipID,
			"correct_count":       correct,
			"final_score":         score.String(),
			"chain_correct_count": *s.ChainCorrectCount,
			"chain_final_score":   s.ChainFinalScore.String(),
		})
}

// finalise 写排行榜并标记周期评估完成（同一事务）
func (e *SlipEvaluator) finalise(ctx context.Context, cycleID int64) error {
	return e.store.InTx(ctx, func(r repository.Repos) error {
		slips, err := r.Slips.ListEvaluated(ctx, cycleID)
		if err != nil {
			return err
		}
		if err := r.Slips.UpdateRanks(ctx, RankSlips(slips)); err != nil {
			return fmt.Errorf("写入排行榜失败: %w", err)
		}
		return r.Cycles.Update(ctx, cycleID, map[string]interface{}{"evaluated_at": e.now()})
	})
}

// RankSlips correct_count 降序、final_score 降序、slip_id 升序；名次从 1 开始
func RankSlips(slips []*model.Slip) map[int64]int {
	ordered := append([]*model.Slip(nil), slips...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.CorrectCount != b.CorrectCount {
			return a.CorrectCount > b.CorrectCount
		}
		if c := a.FinalScore.Cmp(b.FinalScore); c != 0 {
			return c > 0
		}
		return a.SlipID < b.SlipID
	})
	ranks := make(map[int64]int, len(ordered))
	for i, s := range ordered {
		ranks[s.SlipID] = i + 1
	}
	return ranks
}
