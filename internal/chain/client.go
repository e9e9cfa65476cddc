package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"CycleOracle/internal/config"
	"CycleOracle/internal/metrics"
	"CycleOracle/internal/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// Backend 引擎用到的 JSON-RPC 子集（*ethclient.Client 满足）
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Client Oddyssey 合约适配器：只读调用带重试，写交易先估算 gas 再签名发送，从不自动重发
type Client struct {
	backend  Backend
	closeFn  func()
	cfg      config.ChainConfig
	abi      abi.ABI
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	sendMu   sync.Mutex // 单一 oracle 私钥，串行化 nonce
	logger   *logrus.Logger
	metrics  *metrics.Metrics
}

// Dial 连接 RPC 并创建适配器
func Dial(ctx context.Context, cfg config.ChainConfig, logger *logrus.Logger, m *metrics.Metrics) (*Client, error) {
	if cfg.RPCURL == "" || cfg.OddysseyAddress == "" {
		return nil, fmt.Errorf("rpc_url, oddyssey_address 必填")
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	c, err := NewClient(ctx, eth, cfg, logger, m)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closeFn = eth.Close
	return c, nil
}

// NewClient 基于已有 Backend 创建适配器（便于测试）
func NewClient(ctx context.Context, backend Backend, cfg config.ChainConfig, logger *logrus.Logger, m *metrics.Metrics) (*Client, error) {
	c := &Client{
		backend:  backend,
		cfg:      cfg,
		abi:      parsedABI,
		contract: common.HexToAddress(cfg.OddysseyAddress),
		logger:   logger,
		metrics:  m,
	}
	if c.cfg.CallTimeout <= 0 {
		c.cfg.CallTimeout = 15 * time.Second
	}
	if c.cfg.ReceiptTimeout <= 0 {
		c.cfg.ReceiptTimeout = 3 * time.Minute
	}
	if c.cfg.ReceiptPollInterval <= 0 {
		c.cfg.ReceiptPollInterval = 2 * time.Second
	}
	if c.cfg.LogBatchBlocks == 0 || c.cfg.LogBatchBlocks > 100 {
		c.cfg.LogBatchBlocks = 100
	}

	if cfg.OraclePrivateKey != "" {
		key, err := parsePrivateKey(cfg.OraclePrivateKey)
		if err != nil {
			return nil, err
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	} else {
		cctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
		id, err := backend.ChainID(cctx)
		if err != nil {
			return nil, fmt.Errorf("chain id: %w", err)
		}
		c.chainID = id
	}
	return c, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	keyBuf, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode oracle key: %w", err)
	}
	key, err := crypto.ToECDSA(keyBuf)
	if err != nil {
		return nil, fmt.Errorf("to ecdsa: %w", err)
	}
	return key, nil
}

// Close 关闭底层连接
func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// ContractAddress 周期合约地址
func (c *Client) ContractAddress() common.Address { return c.contract }

// OracleAddress 签名账户
func (c *Client) OracleAddress() common.Address { return c.from }

func (c *Client) observe(method string, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if re, ok := AsRevert(err); ok {
			outcome = "revert_" + string(re.Kind)
		}
	}
	c.metrics.ChainCalls.WithLabelValues(method, outcome).Inc()
}

// retryRead 只读调用：瞬时错误指数退避（带抖动）重试，revert 不重试
func (c *Client) retryRead(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.ReadRetries), ctx)

	err := backoff.RetryNotify(func() error {
		cctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
		err := fn(cctx)
		if err == nil {
			return nil
		}
		if re := asRevert(method, err); re != nil {
			return backoff.Permanent(re)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"method": method,
			"wait":   wait.String(),
		}).Warn("链上只读调用失败，准备重试")
	})
	c.observe(method, err)
	if err == nil {
		return nil
	}
	if _, ok := AsRevert(err); ok {
		return err
	}
	return model.Transient(fmt.Errorf("%s: %w", method, err))
}

// call eth_call 并按 ABI 解码
func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	var out []byte
	err = c.retryRead(ctx, method, func(ctx context.Context) error {
		res, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &c.contract, Data: data}, nil)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, model.Transient(fmt.Errorf("unpack %s: %w", method, err))
	}
	return values, nil
}

// CurrentCycleID dailyCycleId()
func (c *Client) CurrentCycleID(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "dailyCycleId")
	if err != nil {
		return 0, err
	}
	return bigToUint64(out[0])
}

// SlipCount slipCount()
func (c *Client) SlipCount(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "slipCount")
	if err != nil {
		return 0, err
	}
	return bigToUint64(out[0])
}

// CycleEndTime dailyCycleEndTimes(id)
func (c *Client) CycleEndTime(ctx context.Context, cycleID uint64) (time.Time, error) {
	out, err := c.call(ctx, "dailyCycleEndTimes", new(big.Int).SetUint64(cycleID))
	if err != nil {
		return time.Time{}, err
	}
	sec, err := bigToUint64(out[0])
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(sec), 0).UTC(), nil
}

// CycleStatus getCycleStatus(id)
func (c *Client) CycleStatus(ctx context.Context, cycleID uint64) (*CycleStatus, error) {
	out, err := c.call(ctx, "getCycleStatus", new(big.Int).SetUint64(cycleID))
	if err != nil {
		return nil, err
	}
	if len(out) != 6 {
		return nil, model.Transient(fmt.Errorf("getCycleStatus: unexpected %d outputs", len(out)))
	}
	exists, ok1 := out[0].(bool)
	state, ok2 := out[1].(uint8)
	endTime, ok3 := out[2].(*big.Int)
	prizePool, ok4 := out[3].(*big.Int)
	slipCount, ok5 := out[4].(uint32)
	hasWinner, ok6 := out[5].(bool)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return nil, model.Transient(fmt.Errorf("getCycleStatus: unexpected output types"))
	}
	return &CycleStatus{
		Exists:    exists,
		State:     CycleState(state),
		EndTime:   time.Unix(endTime.Int64(), 0).UTC(),
		PrizePool: prizePool,
		SlipCount: slipCount,
		HasWinner: hasWinner,
	}, nil
}

// DailyMatches getDailyMatches(id)：10 个槽位的 id 与开赛时间即链上真相
func (c *Client) DailyMatches(ctx context.Context, cycleID uint64) (MatchInputs, error) {
	out, err := c.call(ctx, "getDailyMatches", new(big.Int).SetUint64(cycleID))
	if err != nil {
		return MatchInputs{}, err
	}
	converted, ok := abi.ConvertType(out[0], new([model.SlotCount]abiMatch)).(*[model.SlotCount]abiMatch)
	if !ok {
		return MatchInputs{}, model.Transient(fmt.Errorf("getDailyMatches: unexpected output type %T", out[0]))
	}
	return matchesFromABI(*converted), nil
}

// MatchStartTimes 槽位顺序的开赛时间（秒）
func (c *Client) MatchStartTimes(ctx context.Context, cycleID uint64) ([model.SlotCount]uint64, error) {
	var out [model.SlotCount]uint64
	matches, err := c.DailyMatches(ctx, cycleID)
	if err != nil {
		return out, err
	}
	for i, m := range matches {
		out[i] = m.StartTime
	}
	return out, nil
}

// Slip getSlip(id)
func (c *Client) Slip(ctx context.Context, slipID uint64) (*Slip, error) {
	out, err := c.call(ctx, "getSlip", new(big.Int).SetUint64(slipID))
	if err != nil {
		return nil, err
	}
	converted, ok := abi.ConvertType(out[0], new(abiSlip)).(*abiSlip)
	if !ok {
		return nil, model.Transient(fmt.Errorf("getSlip: unexpected output type %T", out[0]))
	}
	return slipFromABI(*converted), nil
}

// BlockTime 最新区块时间（结算门槛的时钟）
func (c *Client) BlockTime(ctx context.Context) (time.Time, error) {
	var header *types.Header
	err := c.retryRead(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		h, err := c.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		header = h
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// HeaderTime 指定区块的时间
func (c *Client) HeaderTime(ctx context.Context, block uint64) (time.Time, error) {
	var header *types.Header
	err := c.retryRead(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		h, err := c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
		if err != nil {
			return err
		}
		header = h
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// HeadBlock 最新区块号
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.retryRead(ctx, "eth_blockNumber", func(ctx context.Context) error {
		n, err := c.backend.BlockNumber(ctx)
		if err != nil {
			return err
		}
		head = n
		return nil
	})
	return head, err
}

func bigToUint64(v interface{}) (uint64, error) {
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return 0, model.Transient(fmt.Errorf("expected *big.Int, got %T", v))
	}
	if !b.IsUint64() {
		return 0, model.Invariant("value %s overflows uint64", b.String())
	}
	return b.Uint64(), nil
}
