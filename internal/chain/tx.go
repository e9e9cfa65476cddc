package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"CycleOracle/internal/model"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// ErrNoSigner 未配置 oracle 私钥时不能发送写交易
var ErrNoSigner = errors.New("oracle private key not configured")

// StartCycle startDailyCycle(matches)
func (c *Client) StartCycle(ctx context.Context, matches MatchInputs) (*TxReceipt, error) {
	if err := matches.Validate(); err != nil {
		return nil, err
	}
	return c.transact(ctx, "startDailyCycle", matches.toABI())
}

// ResolveCycle resolveDailyCycle(id, results)
func (c *Client) ResolveCycle(ctx context.Context, cycleID uint64, results ResultPairs) (*TxReceipt, error) {
	if err := results.Validate(); err != nil {
		return nil, err
	}
	return c.transact(ctx, "resolveDailyCycle", new(big.Int).SetUint64(cycleID), results.toABI())
}

// transact 打包、估算 gas、签名并发送，等待回执。
// 估算阶段的 revert 直接返回分类错误且不发送；交易不会自动重发
func (c *Client) transact(ctx context.Context, method string, args ...interface{}) (receipt *TxReceipt, err error) {
	defer func() { c.observe(method, err) }()

	if c.key == nil {
		return nil, ErrNoSigner
	}
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	msg := ethereum.CallMsg{From: c.from, To: &c.contract, Data: data}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	gas, err := c.backend.EstimateGas(callCtx, msg)
	cancel()
	if err != nil {
		if re := asRevert(method, err); re != nil {
			return nil, re
		}
		return nil, model.Transient(fmt.Errorf("estimate gas %s: %w", method, err))
	}
	gasLimit := gas + c.cfg.GasMargin

	callCtx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
	gasPrice, err := c.backend.SuggestGasPrice(callCtx)
	cancel()
	if err != nil {
		return nil, model.Transient(fmt.Errorf("suggest gas price: %w", err))
	}

	callCtx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
	nonce, err := c.backend.PendingNonceAt(callCtx, c.from)
	cancel()
	if err != nil {
		return nil, model.Transient(fmt.Errorf("pending nonce: %w", err))
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}

	callCtx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
	err = c.backend.SendTransaction(callCtx, signed)
	cancel()
	if err != nil {
		if re := asRevert(method, err); re != nil {
			return nil, re
		}
		return nil, model.Transient(fmt.Errorf("send %s: %w", method, err))
	}

	txHash := signed.Hash()
	c.logger.WithFields(logrus.Fields{
		"method":    method,
		"tx_hash":   txHash.Hex(),
		"nonce":     nonce,
		"gas_limit": gasLimit,
	}).Info("交易已发送，等待回执")

	rcpt, err := c.waitReceipt(ctx, txHash)
	if err != nil {
		return &TxReceipt{TxHash: txHash.Hex()}, err
	}
	out := &TxReceipt{TxHash: txHash.Hex(), BlockNumber: rcpt.BlockNumber.Uint64(), GasUsed: rcpt.GasUsed}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return out, c.replayRevert(ctx, method, msg, rcpt.BlockNumber)
	}
	return out, nil
}

// waitReceipt 轮询回执直到超时
func (c *Client) waitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		callCtx, callCancel := context.WithTimeout(waitCtx, c.cfg.CallTimeout)
		rcpt, err := c.backend.TransactionReceipt(callCtx, txHash)
		callCancel()
		if err == nil && rcpt != nil {
			return rcpt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.logger.WithError(err).WithField("tx_hash", txHash.Hex()).Warn("查询回执失败")
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, txHash.Hex())
		case <-ticker.C:
		}
	}
}

// replayRevert 回执失败时在该区块重放调用以取得 revert 原因
func (c *Client) replayRevert(ctx context.Context, method string, msg ethereum.CallMsg, block *big.Int) error {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	_, err := c.backend.CallContract(callCtx, msg, block)
	if re := asRevert(method, err); re != nil {
		return re
	}
	return &RevertError{Method: method, Kind: RevertOther, Reason: "receipt status 0"}
}
