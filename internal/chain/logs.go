package chain

import (
	"context"
	"fmt"
	"math/big"

	"CycleOracle/internal/model"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// MaxLogRange 单次 eth_getLogs 的最大区块跨度
const MaxLogRange uint64 = 100

// FilterLogs 拉取 [from, to] 区间内合约的全部关心事件；调用方负责分批
func (c *Client) FilterLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	if to < from {
		return nil, nil
	}
	if to-from+1 > MaxLogRange {
		return nil, model.Invariant("log range %d-%d exceeds %d blocks", from, to, MaxLogRange)
	}
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{EventSignatures()},
	}
	var logs []types.Log
	err := c.retryRead(ctx, "eth_getLogs", func(ctx context.Context) error {
		res, err := c.backend.FilterLogs(ctx, q)
		if err != nil {
			return err
		}
		logs = res
		return nil
	})
	return logs, err
}

// LogBatchBlocks 索引器每批区块数
func (c *Client) LogBatchBlocks() uint64 { return c.cfg.LogBatchBlocks }

// FindCycleResolved 从链头向前按批扫描 CycleResolved(cycleId)，
// 用于交易已发出但本地未记录回执时恢复 tx hash；未找到返回 model.ErrNotFound
func (c *Client) FindCycleResolved(ctx context.Context, cycleID uint64) (*CycleResolvedLog, error) {
	head, err := c.HeadBlock(ctx)
	if err != nil {
		return nil, err
	}
	lookback := c.cfg.LookbackBlocks
	if lookback == 0 {
		lookback = 50_000
	}
	var floor uint64
	if head > lookback {
		floor = head - lookback
	}
	cycleTopic := common.BigToHash(new(big.Int).SetUint64(cycleID))
	batch := c.cfg.LogBatchBlocks

	for to := head; ; {
		var from uint64
		if to+1 > batch {
			from = to + 1 - batch
		}
		if from < floor {
			from = floor
		}
		q := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{c.contract},
			Topics:    [][]common.Hash{{SigCycleResolved}, {cycleTopic}},
		}
		var logs []types.Log
		err := c.retryRead(ctx, "eth_getLogs", func(ctx context.Context) error {
			res, err := c.backend.FilterLogs(ctx, q)
			if err != nil {
				return err
			}
			logs = res
			return nil
		})
		if err != nil {
			return nil, err
		}
		for _, vLog := range logs {
			ev, err := DecodeEvent(vLog)
			if err != nil || ev.Kind != EventCycleResolved || ev.CycleID != cycleID {
				continue
			}
			out := &CycleResolvedLog{
				CycleID:     cycleID,
				TxHash:      ev.TxHash,
				BlockNumber: ev.BlockNumber,
				PrizePool:   ev.PrizePool,
			}
			if t, err := c.HeaderTime(ctx, ev.BlockNumber); err == nil {
				out.BlockTime = t
			} else {
				c.logger.WithError(err).WithField("block", ev.BlockNumber).Warn("读取区块时间失败")
			}
			return out, nil
		}
		if from <= floor {
			break
		}
		to = from - 1
	}
	c.logger.WithFields(logrus.Fields{
		"cycle_id": cycleID,
		"from":     floor,
		"to":       head,
	}).Debug("回溯范围内未找到 CycleResolved")
	return nil, fmt.Errorf("CycleResolved(%d): %w", cycleID, model.ErrNotFound)
}
