package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// Oddyssey 合约最小 ABI（仅引擎用到的函数与事件）
const oddysseyABI = `[
	{"name":"dailyCycleId","type":"function","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"slipCount","type":"function","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"dailyCycleEndTimes","type":"function","stateMutability":"view",
	 "inputs":[{"name":"cycleId","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"getCycleStatus","type":"function","stateMutability":"view",
	 "inputs":[{"name":"cycleId","type":"uint256"}],
	 "outputs":[
		{"name":"exists","type":"bool"},
		{"name":"state","type":"uint8"},
		{"name":"endTime","type":"uint256"},
		{"name":"prizePool","type":"uint256"},
		{"name":"cycleSlipCount","type":"uint32"},
		{"name":"hasWinner","type":"bool"}
	 ]},
	{"name":"getDailyMatches","type":"function","stateMutability":"view",
	 "inputs":[{"name":"cycleId","type":"uint256"}],
	 "outputs":[{"name":"","type":"tuple[10]","components":[
		{"name":"id","type":"uint64"},
		{"name":"startTime","type":"uint64"},
		{"name":"oddsHome","type":"uint32"},
		{"name":"oddsDraw","type":"uint32"},
		{"name":"oddsAway","type":"uint32"},
		{"name":"oddsOver","type":"uint32"},
		{"name":"oddsUnder","type":"uint32"},
		{"name":"result","type":"tuple","components":[
			{"name":"moneyline","type":"uint8"},
			{"name":"overUnder","type":"uint8"}
		]}
	 ]}]},
	{"name":"getSlip","type":"function","stateMutability":"view",
	 "inputs":[{"name":"slipId","type":"uint256"}],
	 "outputs":[{"name":"","type":"tuple","components":[
		{"name":"player","type":"address"},
		{"name":"cycleId","type":"uint256"},
		{"name":"placedAt","type":"uint256"},
		{"name":"predictions","type":"tuple[10]","components":[
			{"name":"matchId","type":"uint64"},
			{"name":"betType","type":"uint8"},
			{"name":"selection","type":"bytes32"},
			{"name":"selectedOdd","type":"uint32"}
		]},
		{"name":"finalScore","type":"uint256"},
		{"name":"correctCount","type":"uint8"},
		{"name":"isEvaluated","type":"bool"}
	 ]}]},
	{"name":"startDailyCycle","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"_matches","type":"tuple[10]","components":[
		{"name":"id","type":"uint64"},
		{"name":"startTime","type":"uint64"},
		{"name":"oddsHome","type":"uint32"},
		{"name":"oddsDraw","type":"uint32"},
		{"name":"oddsAway","type":"uint32"},
		{"name":"oddsOver","type":"uint32"},
		{"name":"oddsUnder","type":"uint32"},
		{"name":"result","type":"tuple","components":[
			{"name":"moneyline","type":"uint8"},
			{"name":"overUnder","type":"uint8"}
		]}
	 ]}],"outputs":[]},
	{"name":"resolveDailyCycle","type":"function","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"_cycleId","type":"uint256"},
		{"name":"_results","type":"tuple[10]","components":[
			{"name":"moneyline","type":"uint8"},
			{"name":"overUnder","type":"uint8"}
		]}
	 ],"outputs":[]},
	{"name":"CycleStarted","type":"event","anonymous":false,"inputs":[
		{"name":"cycleId","type":"uint256","indexed":true},
		{"name":"endTime","type":"uint256","indexed":false}
	]},
	{"name":"CycleResolved","type":"event","anonymous":false,"inputs":[
		{"name":"cycleId","type":"uint256","indexed":true},
		{"name":"prizePool","type":"uint256","indexed":false}
	]},
	{"name":"SlipPlaced","type":"event","anonymous":false,"inputs":[
		{"name":"cycleId","type":"uint256","indexed":true},
		{"name":"player","type":"address","indexed":true},
		{"name":"slipId","type":"uint256","indexed":true}
	]},
	{"name":"SlipEvaluated","type":"event","anonymous":false,"inputs":[
		{"name":"slipId","type":"uint256","indexed":true},
		{"name":"player","type":"address","indexed":true},
		{"name":"cycleId","type":"uint256","indexed":true},
		{"name":"correctCount","type":"uint8","indexed":false},
		{"name":"finalScore","type":"uint256","indexed":false}
	]},
	{"name":"PrizeClaimed","type":"event","anonymous":false,"inputs":[
		{"name":"cycleId","type":"uint256","indexed":true},
		{"name":"player","type":"address","indexed":true},
		{"name":"rank","type":"uint256","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}
	]}
]`

var (
	// CycleStarted(uint256 indexed cycleId, uint256 endTime)
	SigCycleStarted = crypto.Keccak256Hash([]byte("CycleStarted(uint256,uint256)"))
	// CycleResolved(uint256 indexed cycleId, uint256 prizePool)
	SigCycleResolved = crypto.Keccak256Hash([]byte("CycleResolved(uint256,uint256)"))
	// SlipPlaced(uint256 indexed cycleId, address indexed player, uint256 indexed slipId)
	SigSlipPlaced = crypto.Keccak256Hash([]byte("SlipPlaced(uint256,address,uint256)"))
	// SlipEvaluated(uint256 indexed slipId, address indexed player, uint256 indexed cycleId, uint8 correctCount, uint256 finalScore)
	SigSlipEvaluated = crypto.Keccak256Hash([]byte("SlipEvaluated(uint256,address,uint256,uint8,uint256)"))
	// PrizeClaimed(uint256 indexed cycleId, address indexed player, uint256 rank, uint256 amount)
	SigPrizeClaimed = crypto.Keccak256Hash([]byte("PrizeClaimed(uint256,address,uint256,uint256)"))
)

// parsedABI 解析一次，格式错误属于编程错误
var parsedABI = mustParseABI(oddysseyABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("oddyssey abi: " + err.Error())
	}
	return parsed
}
