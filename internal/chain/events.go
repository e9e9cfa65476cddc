package chain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EventKind 合约事件名
type EventKind string

const (
	EventCycleStarted  EventKind = "CycleStarted"
	EventCycleResolved EventKind = "CycleResolved"
	EventSlipPlaced    EventKind = "SlipPlaced"
	EventSlipEvaluated EventKind = "SlipEvaluated"
	EventPrizeClaimed  EventKind = "PrizeClaimed"
)

// Event 解码后的合约事件；按 Kind 只有部分字段有值
type Event struct {
	Kind         EventKind
	CycleID      uint64
	SlipID       uint64
	Player       common.Address
	EndTime      time.Time
	PrizePool    *big.Int
	CorrectCount uint8
	FinalScore   *big.Int
	Rank         uint64
	Amount       *big.Int

	TxHash      string
	LogIndex    uint
	BlockNumber uint64
}

// HasSlip 事件是否携带 slip id
func (e *Event) HasSlip() bool {
	return e.Kind == EventSlipPlaced || e.Kind == EventSlipEvaluated
}

// ErrUnknownEvent 非本合约关心的 topic
var ErrUnknownEvent = fmt.Errorf("unknown event topic")

// EventSignatures 过滤日志用的 topic0 集合
func EventSignatures() []common.Hash {
	return []common.Hash{SigCycleStarted, SigCycleResolved, SigSlipPlaced, SigSlipEvaluated, SigPrizeClaimed}
}

// DecodeEvent 按 topic0 解码日志
func DecodeEvent(vLog types.Log) (*Event, error) {
	if len(vLog.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	ev := &Event{
		TxHash:      vLog.TxHash.Hex(),
		LogIndex:    vLog.Index,
		BlockNumber: vLog.BlockNumber,
	}
	switch vLog.Topics[0] {
	case SigCycleStarted:
		// topic1 = cycleId；data = endTime
		if len(vLog.Topics) < 2 || len(vLog.Data) < 32 {
			return nil, fmt.Errorf("CycleStarted log malformed")
		}
		ev.Kind = EventCycleStarted
		ev.CycleID = topicUint(vLog.Topics[1])
		ev.EndTime = time.Unix(new(big.Int).SetBytes(vLog.Data[0:32]).Int64(), 0).UTC()
	case SigCycleResolved:
		// topic1 = cycleId；data = prizePool
		if len(vLog.Topics) < 2 || len(vLog.Data) < 32 {
			return nil, fmt.Errorf("CycleResolved log malformed")
		}
		ev.Kind = EventCycleResolved
		ev.CycleID = topicUint(vLog.Topics[1])
		ev.PrizePool = new(big.Int).SetBytes(vLog.Data[0:32])
	case SigSlipPlaced:
		// topic1 = cycleId, topic2 = player, topic3 = slipId
		if len(vLog.Topics) < 4 {
			return nil, fmt.Errorf("SlipPlaced log malformed")
		}
		ev.Kind = EventSlipPlaced
		ev.CycleID = topicUint(vLog.Topics[1])
		ev.Player = common.BytesToAddress(vLog.Topics[2].Bytes())
		ev.SlipID = topicUint(vLog.Topics[3])
	case SigSlipEvaluated:
		// topic1 = slipId, topic2 = player, topic3 = cycleId；data = correctCount + finalScore
		if len(vLog.Topics) < 4 || len(vLog.Data) < 64 {
			return nil, fmt.Errorf("SlipEvaluated log malformed")
		}
		ev.Kind = EventSlipEvaluated
		ev.SlipID = topicUint(vLog.Topics[1])
		ev.Player = common.BytesToAddress(vLog.Topics[2].Bytes())
		ev.CycleID = topicUint(vLog.Topics[3])
		ev.CorrectCount = uint8(new(big.Int).SetBytes(vLog.Data[0:32]).Uint64())
		ev.FinalScore = new(big.Int).SetBytes(vLog.Data[32:64])
	case SigPrizeClaimed:
		// topic1 = cycleId, topic2 = player；data = rank + amount
		if len(vLog.Topics) < 3 || len(vLog.Data) < 64 {
			return nil, fmt.Errorf("PrizeClaimed log malformed")
		}
		ev.Kind = EventPrizeClaimed
		ev.CycleID = topicUint(vLog.Topics[1])
		ev.Player = common.BytesToAddress(vLog.Topics[2].Bytes())
		ev.Rank = new(big.Int).SetBytes(vLog.Data[0:32]).Uint64()
		ev.Amount = new(big.Int).SetBytes(vLog.Data[32:64])
	default:
		return nil, ErrUnknownEvent
	}
	return ev, nil
}

func topicUint(h common.Hash) uint64 {
	return new(big.Int).SetBytes(h.Bytes()).Uint64()
}
