package chain

import (
	"fmt"
	"math/big"
	"time"

	"CycleOracle/internal/model"

	"github.com/ethereum/go-ethereum/common"
)

// CycleState 合约侧周期状态
type CycleState uint8

const (
	StateNotStarted CycleState = 0
	StateActive     CycleState = 1
	StateEnded      CycleState = 2
	StateResolved   CycleState = 3
)

func (s CycleState) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateActive:
		return "Active"
	case StateEnded:
		return "Ended"
	case StateResolved:
		return "Resolved"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// 合约结果枚举
const (
	MoneylineNotSet  uint8 = 0
	MoneylineHomeWin uint8 = 1
	MoneylineDraw    uint8 = 2
	MoneylineAwayWin uint8 = 3

	OverUnderNotSet uint8 = 0
	OverUnderOver   uint8 = 1
	OverUnderUnder  uint8 = 2
)

// ResultPair 单场结果 (moneyline, overUnder)
type ResultPair struct {
	Moneyline uint8
	OverUnder uint8
}

// ResultPairs 固定 10 个槽位
type ResultPairs [model.SlotCount]ResultPair

// MatchInput startDailyCycle 的单个槽位
type MatchInput struct {
	FixtureID uint64
	StartTime uint64
	OddsHome  uint32
	OddsDraw  uint32
	OddsAway  uint32
	OddsOver  uint32
	OddsUnder uint32
	Result    ResultPair
}

// MatchInputs 固定 10 个槽位
type MatchInputs [model.SlotCount]MatchInput

// CycleStatus getCycleStatus 的返回
type CycleStatus struct {
	Exists    bool
	State     CycleState
	EndTime   time.Time
	PrizePool *big.Int
	SlipCount uint32
	HasWinner bool
}

// Prediction 链上 slip 的单条预测
type Prediction struct {
	MatchID     uint64
	BetType     uint8
	Selection   [32]byte
	SelectedOdd uint32
}

// Slip getSlip 的返回
type Slip struct {
	Player       common.Address
	CycleID      uint64
	PlacedAt     time.Time
	Predictions  [model.SlotCount]Prediction
	FinalScore   *big.Int
	CorrectCount uint8
	IsEvaluated  bool
}

// TxReceipt 写交易的确认结果
type TxReceipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}

// CycleResolvedLog 从事件日志恢复的结算信息
type CycleResolvedLog struct {
	CycleID     uint64
	TxHash      string
	BlockNumber uint64
	BlockTime   time.Time
	PrizePool   *big.Int
}

// EncodeResult 将规范化结果转换为合约枚举；任一缺失都是不变量错误
func EncodeResult(o1x2 *model.Outcome1X2, ou *model.OutcomeOU) (ResultPair, error) {
	var pair ResultPair
	if o1x2 == nil || ou == nil {
		return pair, model.ErrResultNotSet
	}
	switch *o1x2 {
	case model.OutcomeHome:
		pair.Moneyline = MoneylineHomeWin
	case model.OutcomeDraw:
		pair.Moneyline = MoneylineDraw
	case model.OutcomeAway:
		pair.Moneyline = MoneylineAwayWin
	default:
		return pair, fmt.Errorf("%w: moneyline %q", model.ErrResultNotSet, *o1x2)
	}
	switch *ou {
	case model.OutcomeOver:
		pair.OverUnder = OverUnderOver
	case model.OutcomeUnder:
		pair.OverUnder = OverUnderUnder
	default:
		return pair, fmt.Errorf("%w: over/under %q", model.ErrResultNotSet, *ou)
	}
	return pair, nil
}

// Validate 提交前检查：不允许 NotSet
func (r ResultPairs) Validate() error {
	for i, p := range r {
		if p.Moneyline < MoneylineHomeWin || p.Moneyline > MoneylineAwayWin {
			return fmt.Errorf("%w: slot %d moneyline=%d", model.ErrResultNotSet, i, p.Moneyline)
		}
		if p.OverUnder < OverUnderOver || p.OverUnder > OverUnderUnder {
			return fmt.Errorf("%w: slot %d over_under=%d", model.ErrResultNotSet, i, p.OverUnder)
		}
	}
	return nil
}

// Validate 开周期前检查：赔率齐全且结果未设置
func (m MatchInputs) Validate() error {
	seen := make(map[uint64]struct{}, len(m))
	for i, in := range m {
		if in.FixtureID == 0 || in.StartTime == 0 {
			return model.Invariant("slot %d: empty match", i)
		}
		if _, dup := seen[in.FixtureID]; dup {
			return model.Invariant("slot %d: duplicate fixture %d", i, in.FixtureID)
		}
		seen[in.FixtureID] = struct{}{}
		for _, odd := range []uint32{in.OddsHome, in.OddsDraw, in.OddsAway, in.OddsOver, in.OddsUnder} {
			if odd <= 1000 {
				return model.Invariant("slot %d: fixture %d has odd %d <= 1000", i, in.FixtureID, odd)
			}
		}
		if in.Result != (ResultPair{}) {
			return model.Invariant("slot %d: result must be NotSet when opening", i)
		}
	}
	return nil
}

// abi 层结构体：字段名与 ABI 组件名（驼峰）一致，供 Pack / ConvertType 使用
type abiResult struct {
	Moneyline uint8
	OverUnder uint8
}

type abiMatch struct {
	Id        uint64
	StartTime uint64
	OddsHome  uint32
	OddsDraw  uint32
	OddsAway  uint32
	OddsOver  uint32
	OddsUnder uint32
	Result    abiResult
}

type abiPrediction struct {
	MatchId     uint64
	BetType     uint8
	Selection   [32]byte
	SelectedOdd uint32
}

type abiSlip struct {
	Player       common.Address
	CycleId      *big.Int
	PlacedAt     *big.Int
	Predictions  [model.SlotCount]abiPrediction
	FinalScore   *big.Int
	CorrectCount uint8
	IsEvaluated  bool
}

func (m MatchInputs) toABI() [model.SlotCount]abiMatch {
	var out [model.SlotCount]abiMatch
	for i, in := range m {
		out[i] = abiMatch{
			Id:        in.FixtureID,
			StartTime: in.StartTime,
			OddsHome:  in.OddsHome,
			OddsDraw:  in.OddsDraw,
			OddsAway:  in.OddsAway,
			OddsOver:  in.OddsOver,
			OddsUnder: in.OddsUnder,
			Result:    abiResult{Moneyline: in.Result.Moneyline, OverUnder: in.Result.OverUnder},
		}
	}
	return out
}

func matchesFromABI(in [model.SlotCount]abiMatch) MatchInputs {
	var out MatchInputs
	for i, m := range in {
		out[i] = MatchInput{
			FixtureID: m.Id,
			StartTime: m.StartTime,
			OddsHome:  m.OddsHome,
			OddsDraw:  m.OddsDraw,
			OddsAway:  m.OddsAway,
			OddsOver:  m.OddsOver,
			OddsUnder: m.OddsUnder,
			Result:    ResultPair{Moneyline: m.Result.Moneyline, OverUnder: m.Result.OverUnder},
		}
	}
	return out
}

func (r ResultPairs) toABI() [model.SlotCount]abiResult {
	var out [model.SlotCount]abiResult
	for i, p := range r {
		out[i] = abiResult{Moneyline: p.Moneyline, OverUnder: p.OverUnder}
	}
	return out
}

func slipFromABI(s abiSlip) *Slip {
	out := &Slip{
		Player:       s.Player,
		FinalScore:   s.FinalScore,
		CorrectCount: s.CorrectCount,
		IsEvaluated:  s.IsEvaluated,
	}
	if s.CycleId != nil {
		out.CycleID = s.CycleId.Uint64()
	}
	if s.PlacedAt != nil {
		out.PlacedAt = time.Unix(s.PlacedAt.Int64(), 0).UTC()
	}
	for i, p := range s.Predictions {
		out.Predictions[i] = Prediction{
			MatchID:     p.MatchId,
			BetType:     p.BetType,
			Selection:   p.Selection,
			SelectedOdd: p.SelectedOdd,
		}
	}
	return out
}
