package chain

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"CycleOracle/internal/model"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// RevertKind 合约 revert 的分类
type RevertKind string

const (
	RevertInvalidState    RevertKind = "InvalidState"
	RevertTimingNotMet    RevertKind = "TimingNotMet"
	RevertNotOracle       RevertKind = "NotOracle"
	RevertAlreadyResolved RevertKind = "AlreadyResolved"
	RevertArrayLength     RevertKind = "ArrayLength"
	RevertOther           RevertKind = "Other"
)

// RevertError 带分类的 revert
type RevertError struct {
	Method string
	Kind   RevertKind
	Reason string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("%s reverted (%s): %s", e.Method, e.Kind, e.Reason)
}

// Unwrap 预期内的 revert 转入对账，其余为致命错误
func (e *RevertError) Unwrap() error {
	switch e.Kind {
	case RevertAlreadyResolved, RevertInvalidState:
		return model.ErrExpectedRevert
	case RevertTimingNotMet:
		return model.ErrTransient
	default:
		return model.ErrFatalRevert
	}
}

// AsRevert 提取 RevertError
func AsRevert(err error) (*RevertError, bool) {
	var re *RevertError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// 自定义 error 的 4 字节选择器
var customErrors = map[[4]byte]RevertKind{
	selector("InvalidState()"):    RevertInvalidState,
	selector("CycleNotEnded()"):   RevertInvalidState,
	selector("TimingNotMet()"):    RevertTimingNotMet,
	selector("TooEarly()"):        RevertTimingNotMet,
	selector("NotOracle()"):       RevertNotOracle,
	selector("Unauthorized()"):    RevertNotOracle,
	selector("AlreadyResolved()"): RevertAlreadyResolved,
	selector("ArrayLength()"):     RevertArrayLength,
	selector("InvalidLength()"):   RevertArrayLength,
}

func selector(sig string) [4]byte {
	var s [4]byte
	copy(s[:], crypto.Keccak256([]byte(sig))[:4])
	return s
}

// 按 revert 文本分类（顺序敏感：先匹配更具体的短语）
var reasonRules = []struct {
	needle string
	kind   RevertKind
}{
	{"already resolved", RevertAlreadyResolved},
	{"already", RevertAlreadyResolved},
	{"oracle", RevertNotOracle},
	{"unauthori", RevertNotOracle},
	{"length", RevertArrayLength},
	{"must provide", RevertArrayLength},
	{"not ended", RevertInvalidState},
	{"state", RevertInvalidState},
	{"not active", RevertInvalidState},
	{"not exist", RevertInvalidState},
	{"too early", RevertTimingNotMet},
	{"not finished", RevertTimingNotMet},
	{"time", RevertTimingNotMet},
	{"ended yet", RevertTimingNotMet},
}

func classifyReason(reason string) RevertKind {
	lower := strings.ToLower(reason)
	for _, rule := range reasonRules {
		if strings.Contains(lower, rule.needle) {
			return rule.kind
		}
	}
	return RevertOther
}

// classifyRevertData 解析 revert 返回数据：Error(string) 或自定义 error
func classifyRevertData(data []byte) (RevertKind, string) {
	if len(data) >= 4 {
		var sel [4]byte
		copy(sel[:], data[:4])
		if kind, ok := customErrors[sel]; ok {
			return kind, string(kind)
		}
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return classifyReason(reason), reason
	}
	if len(data) == 0 {
		return RevertOther, "empty revert data"
	}
	return RevertOther, hexutil.Encode(data)
}

// asRevert 将节点返回的错误转换为 RevertError；非 revert 错误返回 nil
func asRevert(method string, err error) *RevertError {
	if err == nil {
		return nil
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data := revertBytes(dataErr.ErrorData()); data != nil {
			kind, reason := classifyRevertData(data)
			return &RevertError{Method: method, Kind: kind, Reason: reason}
		}
	}
	msg := err.Error()
	const marker = "execution reverted"
	idx := strings.Index(strings.ToLower(msg), marker)
	if idx < 0 {
		return nil
	}
	reason := strings.TrimSpace(strings.TrimPrefix(msg[idx+len(marker):], ":"))
	if reason == "" {
		reason = msg
	}
	return &RevertError{Method: method, Kind: classifyReason(reason), Reason: reason}
}

func revertBytes(v interface{}) []byte {
	switch d := v.(type) {
	case string:
		b, err := hexutil.Decode(d)
		if err != nil || len(b) == 0 {
			return nil
		}
		return b
	case []byte:
		if len(d) == 0 {
			return nil
		}
		return bytes.Clone(d)
	default:
		return nil
	}
}

// ErrReceiptTimeout 交易已发送但在超时内未取到回执（由对账判断是否上链）
var ErrReceiptTimeout = fmt.Errorf("%w: receipt wait timed out", model.ErrTransient)
