package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体（完全匹配config.yaml）
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`     // 运维 HTTP 服务
	Log        LogConfig        `mapstructure:"log"`        // 日志
	Database   DatabaseConfig   `mapstructure:"database"`   // PostgreSQL
	Chain      ChainConfig      `mapstructure:"chain"`      // 链上合约
	SportMonks SportMonksConfig `mapstructure:"sportmonks"` // 赛事数据源
	Selector   SelectorConfig   `mapstructure:"selector"`   // 选赛规则
	Resolver   ResolverConfig   `mapstructure:"resolver"`   // 结算门槛
	Reconciler ReconcilerConfig `mapstructure:"reconciler"` // 对账
	Indexer    IndexerConfig    `mapstructure:"indexer"`    // 链上事件索引
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`  // 定时任务
	Notify     NotifyConfig     `mapstructure:"notify"`     // 领域事件投递
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port int    `mapstructure:"port"` // 服务端口
	Mode string `mapstructure:"mode"` // Gin运行模式：debug/release/test
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug/info/warn/error
	Format string `mapstructure:"format"` // text/json
}

// DatabaseConfig PostgreSQL 配置
type DatabaseConfig struct {
	DSN                string        `mapstructure:"dsn"`                   // 连接DSN（URL 形式）
	MaxOpenConns       int           `mapstructure:"max_open_conns"`        // 最大打开连接数
	MaxIdleConns       int           `mapstructure:"max_idle_conns"`        // 最大空闲连接数
	ConnMaxLifetime    time.Duration `mapstructure:"conn_max_lifetime"`     // 连接最大存活时间
	ReportMaxOpenConns int           `mapstructure:"report_max_open_conns"` // 报表/查询专用连接池上限
	LogSQL             bool          `mapstructure:"log_sql"`               // 是否输出 SQL 日志
}

// ChainConfig 链上配置
type ChainConfig struct {
	RPCURL              string        `mapstructure:"rpc_url"`
	ChainID             int64         `mapstructure:"chain_id"` // 0 表示从节点读取
	OddysseyAddress     string        `mapstructure:"oddyssey_address"`
	TokenAddress        string        `mapstructure:"token_address"`
	GuidedOracleAddress string        `mapstructure:"guided_oracle_address"`
	OraclePrivateKey    string        `mapstructure:"oracle_private_key"`
	GasMargin           uint64        `mapstructure:"gas_margin"`            // 估算 gas 之上的安全余量
	CallTimeout         time.Duration `mapstructure:"call_timeout"`          // 单次 RPC 超时
	ReceiptTimeout      time.Duration `mapstructure:"receipt_timeout"`       // 等待回执的上限
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval"` // 回执轮询间隔
	ReadRetries         uint64        `mapstructure:"read_retries"`          // 只读调用重试次数
	LogBatchBlocks      uint64        `mapstructure:"log_batch_blocks"`      // eth_getLogs 单批区块数（≤100）
	LookbackBlocks      uint64        `mapstructure:"lookback_blocks"`       // 回溯 CycleResolved 的最大区块数
}

// SportMonksConfig 赛事数据源配置
type SportMonksConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIToken      string        `mapstructure:"api_token"`
	Timeout       time.Duration `mapstructure:"timeout"`         // 单次请求超时（≤15s）
	RatePerSecond float64       `mapstructure:"rate_per_second"` // 令牌桶速率
	Burst         int           `mapstructure:"burst"`           // 令牌桶容量
	MaxRetries    uint64        `mapstructure:"max_retries"`     // 瞬时错误重试次数
	Proxy         string        `mapstructure:"proxy"`           // 代理地址
	Bookmakers    []int64       `mapstructure:"bookmakers"`      // 庄家优先级（按顺序）
	PerPage       int           `mapstructure:"per_page"`        // 分页大小
}

// SelectorConfig 选赛配置
type SelectorConfig struct {
	GracePeriod     time.Duration   `mapstructure:"grace_period"`     // 开赛前的下注缓冲
	OddsConcurrency int             `mapstructure:"odds_concurrency"` // 并发拉取赔率数
	MaxOddsLookups  int             `mapstructure:"max_odds_lookups"` // 单次最多查询赔率的场次
	LeagueWeights   map[int64]int64 `mapstructure:"league_weights"`   // 联赛权重
	DefaultWeight   int64           `mapstructure:"default_weight"`   // 未配置联赛的权重
	ExcludeKeywords []string        `mapstructure:"exclude_keywords"` // 额外排除关键字
	ExcludedLeagues []int64         `mapstructure:"excluded_leagues"` // 直接排除的联赛
	OpenDayOffset   int             `mapstructure:"open_day_offset"`  // 开启哪一天的周期（0=当天）
}

// ResolverConfig 结算配置
type ResolverConfig struct {
	LatestMatchGuard time.Duration `mapstructure:"latest_match_guard"` // 与合约一致：开赛 + 105 分钟
	StuckAfter       time.Duration `mapstructure:"stuck_after"`        // 比赛卡在进行中多久后强制重拉
	CycleLockTTL     time.Duration `mapstructure:"cycle_lock_ttl"`     // cycle:<id> 锁过期时间（需覆盖回执等待）
}

// ReconcilerConfig 对账配置
type ReconcilerConfig struct {
	Window int `mapstructure:"window"` // 最近多少个周期参与对账
}

// IndexerConfig 事件索引配置
type IndexerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	StartBlock      uint64        `mapstructure:"start_block"`
	BootstrapBlocks uint64        `mapstructure:"bootstrap_blocks"`
	Confirmations   uint64        `mapstructure:"confirmations"`
}

// JobConfig 单个任务的调度参数
type JobConfig struct {
	Cron    string        `mapstructure:"cron"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig 调度配置
type SchedulerConfig struct {
	Jobs          map[string]JobConfig `mapstructure:"jobs"`
	LockGrace     time.Duration        `mapstructure:"lock_grace"`     // 锁过期 = 超时 + grace
	WatchdogGrace time.Duration        `mapstructure:"watchdog_grace"` // 超时后多久仍未返回则退出进程
	HolderID      string               `mapstructure:"holder_id"`      // 为空时自动生成
}

// NotifyConfig 领域事件投递
type NotifyConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// 任务名
const (
	JobOpenCycle         = "open-cycle"
	JobPollFixtureState  = "poll-fixture-state"
	JobFetchResults      = "fetch-results"
	JobAttemptResolution = "attempt-resolution"
	JobEvaluateSlips     = "evaluate-slips"
	JobReconcileChain    = "reconcile-chain"
)

// LoadConfig 加载配置文件（config/config.yaml），敏感项从 .env / 环境变量覆盖（不提交 git）
func LoadConfig() (*Config, error) {
	// 1. 加载 .env（若存在），env 中的值会覆盖 config.yaml 中同名字段
	_ = godotenv.Load() // 忽略错误（.env 可不存在）

	dir := os.Getenv("ORACLE_CONFIG")
	if dir == "" {
		dir = "./config"
	}

	// 2. 读取 config.yaml
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		// 没有 yaml 时完全依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	v.SetTypeByDefaultValue(true)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 3. 敏感字段：用 env 覆盖（优先级 env > yaml）
	overrideFromEnv(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.report_max_open_conns", 3)

	v.SetDefault("chain.gas_margin", 200000)
	v.SetDefault("chain.call_timeout", "15s")
	v.SetDefault("chain.receipt_timeout", "3m")
	v.SetDefault("chain.receipt_poll_interval", "2s")
	v.SetDefault("chain.read_retries", 4)
	v.SetDefault("chain.log_batch_blocks", 100)
	v.SetDefault("chain.lookback_blocks", 50000)

	v.SetDefault("sportmonks.base_url", "https://api.sportmonks.com/v3/football")
	v.SetDefault("sportmonks.timeout", "15s")
	v.SetDefault("sportmonks.rate_per_second", 2.0)
	v.SetDefault("sportmonks.burst", 3)
	v.SetDefault("sportmonks.max_retries", 3)
	v.SetDefault("sportmonks.bookmakers", []int64{2, 14, 23, 9})
	v.SetDefault("sportmonks.per_page", 50)

	v.SetDefault("selector.grace_period", "1h")
	v.SetDefault("selector.odds_concurrency", 4)
	v.SetDefault("selector.max_odds_lookups", 60)
	v.SetDefault("selector.default_weight", 1)

	v.SetDefault("resolver.latest_match_guard", "6300s")
	v.SetDefault("resolver.stuck_after", "130m")
	v.SetDefault("resolver.cycle_lock_ttl", "10m")

	v.SetDefault("reconciler.window", 7)

	v.SetDefault("indexer.interval", "15s")
	v.SetDefault("indexer.bootstrap_blocks", 5000)
	v.SetDefault("indexer.confirmations", 2)

	v.SetDefault("scheduler.lock_grace", "1m")
	v.SetDefault("scheduler.watchdog_grace", "30s")
	v.SetDefault("scheduler.jobs."+JobOpenCycle, map[string]interface{}{"cron": "0 5 0 * * *", "timeout": "10m"})
	v.SetDefault("scheduler.jobs."+JobPollFixtureState, map[string]interface{}{"cron": "0 */5 * * * *", "timeout": "4m"})
	v.SetDefault("scheduler.jobs."+JobFetchResults, map[string]interface{}{"cron": "30 */5 * * * *", "timeout": "4m"})
	v.SetDefault("scheduler.jobs."+JobAttemptResolution, map[string]interface{}{"cron": "0 1-59/5 * * * *", "timeout": "8m"})
	v.SetDefault("scheduler.jobs."+JobEvaluateSlips, map[string]interface{}{"cron": "0 2-59/5 * * * *", "timeout": "4m"})
	v.SetDefault("scheduler.jobs."+JobReconcileChain, map[string]interface{}{"cron": "0 */10 * * * *", "timeout": "8m"})

	v.SetDefault("notify.topic", "oddyssey.cycle-events")
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("ORACLE_PRIVATE_KEY"); v != "" {
		cfg.Chain.OraclePrivateKey = v
	}
	if v := os.Getenv("ODDYSSEY_ADDRESS"); v != "" {
		cfg.Chain.OddysseyAddress = v
	}
	if v := os.Getenv("TOKEN_ADDRESS"); v != "" {
		cfg.Chain.TokenAddress = v
	}
	if v := os.Getenv("GUIDED_ORACLE_ADDRESS"); v != "" {
		cfg.Chain.GuidedOracleAddress = v
	}
	if v := os.Getenv("SPORTMONKS_API_TOKEN"); v != "" {
		cfg.SportMonks.APIToken = v
	}
	if v := os.Getenv("SPORTMONKS_PROXY"); v != "" {
		cfg.SportMonks.Proxy = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Notify.Brokers = strings.Split(v, ",")
	}
}

// Validate 校验必填项
func (c *Config) Validate() error {
	var missing []string
	if c.Database.DSN == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Chain.RPCURL == "" {
		missing = append(missing, "RPC_URL")
	}
	if c.Chain.OraclePrivateKey == "" {
		missing = append(missing, "ORACLE_PRIVATE_KEY")
	}
	if c.Chain.OddysseyAddress == "" {
		missing = append(missing, "ODDYSSEY_ADDRESS")
	}
	if c.SportMonks.APIToken == "" {
		missing = append(missing, "SPORTMONKS_API_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("缺少必要配置: %s", strings.Join(missing, ", "))
	}
	if c.SportMonks.Timeout <= 0 || c.SportMonks.Timeout > 15*time.Second {
		return fmt.Errorf("sportmonks.timeout 必须在 (0, 15s] 之间，当前 %s", c.SportMonks.Timeout)
	}
	if c.Chain.LogBatchBlocks == 0 || c.Chain.LogBatchBlocks > 100 {
		return fmt.Errorf("chain.log_batch_blocks 必须在 [1, 100] 之间，当前 %d", c.Chain.LogBatchBlocks)
	}
	if len(c.SportMonks.Bookmakers) == 0 {
		return fmt.Errorf("sportmonks.bookmakers 不能为空")
	}
	for name, job := range c.Scheduler.Jobs {
		if job.Timeout <= 0 {
			return fmt.Errorf("任务 %s 的 timeout 必须大于 0", name)
		}
	}
	return nil
}

// EnsureUTC 将进程时区固定为 UTC；TZ 被显式设置为其他时区时拒绝启动
func EnsureUTC() error {
	tz := strings.TrimSpace(os.Getenv("TZ"))
	switch tz {
	case "", "UTC", "Etc/UTC", "UTC0", ":UTC":
	default:
		return fmt.Errorf("TZ=%q：进程必须运行在 UTC", tz)
	}
	time.Local = time.UTC
	return nil
}
