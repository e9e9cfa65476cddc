package model

// Outcome1X2 全场胜平负
type Outcome1X2 string

const (
	OutcomeHome Outcome1X2 = "Home"
	OutcomeDraw Outcome1X2 = "Draw"
	OutcomeAway Outcome1X2 = "Away"
)

// Valid 是否为三个合法取值之一
func (o Outcome1X2) Valid() bool {
	return o == OutcomeHome || o == OutcomeDraw || o == OutcomeAway
}

// OutcomeOU 大小球（2.5 及辅助盘口共用）
type OutcomeOU string

const (
	OutcomeOver  OutcomeOU = "Over"
	OutcomeUnder OutcomeOU = "Under"
)

func (o OutcomeOU) Valid() bool {
	return o == OutcomeOver || o == OutcomeUnder
}

// OutcomeBTTS 双方是否都进球
type OutcomeBTTS string

const (
	BTTSYes OutcomeBTTS = "Yes"
	BTTSNo  OutcomeBTTS = "No"
)

// BetType 与合约枚举顺序一致：MONEYLINE=0, OVER_UNDER=1
type BetType uint8

const (
	BetMoneyline BetType = 0
	BetOverUnder BetType = 1
)

func (b BetType) String() string {
	switch b {
	case BetMoneyline:
		return "Moneyline"
	case BetOverUnder:
		return "OverUnder"
	default:
		return "Unknown"
	}
}

// Selection 规范化后的下注选项
type Selection string

const (
	SelectionHome  Selection = "1"
	SelectionDraw  Selection = "X"
	SelectionAway  Selection = "2"
	SelectionOver  Selection = "Over"
	SelectionUnder Selection = "Under"
)

// Matches 判断选项是否命中该场的结果
func (s Selection) Matches(bet BetType, o1x2 Outcome1X2, ou OutcomeOU) bool {
	switch bet {
	case BetMoneyline:
		switch s {
		case SelectionHome:
			return o1x2 == OutcomeHome
		case SelectionDraw:
			return o1x2 == OutcomeDraw
		case SelectionAway:
			return o1x2 == OutcomeAway
		}
	case BetOverUnder:
		switch s {
		case SelectionOver:
			return ou == OutcomeOver
		case SelectionUnder:
			return ou == OutcomeUnder
		}
	}
	return false
}

// FixtureState 比赛生命周期
type FixtureState string

const (
	FixtureNotStarted             FixtureState = "NotStarted"
	FixtureInPlayFirstHalf        FixtureState = "InPlayFirstHalf"
	FixtureHalfTime               FixtureState = "HalfTime"
	FixtureInPlaySecondHalf       FixtureState = "InPlaySecondHalf"
	FixtureExtraTime              FixtureState = "ExtraTime"
	FixturePenalties              FixtureState = "Penalties"
	FixtureFinished               FixtureState = "Finished"
	FixtureFinishedAfterExtra     FixtureState = "FinishedAfterExtra"
	FixtureFinishedAfterPenalties FixtureState = "FinishedAfterPenalties"
	FixtureCancelled              FixtureState = "Cancelled"
	FixturePostponed              FixtureState = "Postponed"
)

// FinishedStates 可用于结算的终态
var FinishedStates = []FixtureState{FixtureFinished, FixtureFinishedAfterExtra, FixtureFinishedAfterPenalties}

func (s FixtureState) IsFinished() bool {
	switch s {
	case FixtureFinished, FixtureFinishedAfterExtra, FixtureFinishedAfterPenalties:
		return true
	}
	return false
}

func (s FixtureState) IsInPlay() bool {
	switch s {
	case FixtureInPlayFirstHalf, FixtureHalfTime, FixtureInPlaySecondHalf, FixtureExtraTime, FixturePenalties:
		return true
	}
	return false
}

// CycleState 周期在数据库中的状态
type CycleState string

const (
	CyclePlanned              CycleState = "Planned"
	CycleOpening              CycleState = "Opening"
	CycleOpen                 CycleState = "Open"
	CycleEndedAwaitingResults CycleState = "EndedAwaitingResults"
	CycleResolutionPrepared   CycleState = "ResolutionPrepared"
	CycleResolving            CycleState = "Resolving"
	CycleResolved             CycleState = "Resolved"
	CycleFailedOpening        CycleState = "FailedOpening"
	CycleFailedResolving      CycleState = "FailedResolving"
)

// Confirmed 链上已存在的周期（Opening/Planned/FailedOpening 只是本地预留）
func (s CycleState) Confirmed() bool {
	switch s {
	case CyclePlanned, CycleOpening, CycleFailedOpening:
		return false
	}
	return true
}

// UnconfirmedCycleStates 本地预留、链上尚未确认的状态
var UnconfirmedCycleStates = []CycleState{CyclePlanned, CycleOpening, CycleFailedOpening}

// UnresolvedCycleStates 已上链但尚未结算的状态
var UnresolvedCycleStates = []CycleState{
	CycleOpen, CycleEndedAwaitingResults, CycleResolutionPrepared, CycleResolving, CycleFailedResolving,
}
