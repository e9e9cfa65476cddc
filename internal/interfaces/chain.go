package interfaces

import (
	"context"
	"time"

	"CycleOracle/internal/chain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// CycleChain 周期状态机用到的合约读写
type CycleChain interface {
	CurrentCycleID(ctx context.Context) (uint64, error)
	CycleStatus(ctx context.Context, cycleID uint64) (*chain.CycleStatus, error)
	CycleEndTime(ctx context.Context, cycleID uint64) (time.Time, error)
	DailyMatches(ctx context.Context, cycleID uint64) (chain.MatchInputs, error)
	Slip(ctx context.Context, slipID uint64) (*chain.Slip, error)
	BlockTime(ctx context.Context) (time.Time, error)
	StartCycle(ctx context.Context, matches chain.MatchInputs) (*chain.TxReceipt, error)
	ResolveCycle(ctx context.Context, cycleID uint64, results chain.ResultPairs) (*chain.TxReceipt, error)
	FindCycleResolved(ctx context.Context, cycleID uint64) (*chain.CycleResolvedLog, error)
}

// LogSource 事件索引器的日志来源
type LogSource interface {
	ContractAddress() common.Address
	HeadBlock(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, from, to uint64) ([]types.Log, error)
	HeaderTime(ctx context.Context, block uint64) (time.Time, error)
	LogBatchBlocks() uint64
}
