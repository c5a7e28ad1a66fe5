package config

import (
	"strings"

	"tradegate/internal/market"
)

// Config 是 tradegate 的主配置载体。
type Config struct {
	App        AppConfig              `toml:"app"`
	Store      StoreConfig            `toml:"store"`
	Market     MarketConfig           `toml:"market"`
	Indicators market.IndicatorParams `toml:"indicators"`
	Exchange   ExchangeConfig         `toml:"exchange"`
	Execution  ExecutionConfig        `toml:"execution"`
	Rules      RulesConfig            `toml:"rules"`
	Queue      QueueConfig            `toml:"queue"`
	Kafka      KafkaConfig            `toml:"kafka"`
	Strategies StrategiesConfig       `toml:"strategies"`
	Backtest   BacktestConfig         `toml:"backtest"`
	Notify     NotifyConfig           `toml:"notify"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
	EnvFile   string `toml:"env_file"`
}

// StoreConfig 选择持久化驱动：sqlite（默认）或 postgres。
type StoreConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
	Path   string `toml:"path"`
}

// MarketConfig 描述实时行情订阅。
type MarketConfig struct {
	Source        string   `toml:"source"`
	Stream        bool     `toml:"stream"`
	Symbols       []string `toml:"symbols"`
	Timeframes    []string `toml:"timeframes"`
	WarmupCandles int      `toml:"warmup_candles"`
}

// ExchangeConfig 是 Bybit v5 接入参数，密钥优先从环境变量读取。
type ExchangeConfig struct {
	Name               string  `toml:"name"`
	APIKey             string  `toml:"api_key"`
	APISecret          string  `toml:"api_secret"`
	Testnet            bool    `toml:"testnet"`
	BaseURL            string  `toml:"base_url"`
	StreamURL          string  `toml:"stream_url"`
	RecvWindow         int     `toml:"recv_window"`
	TimeoutSeconds     int     `toml:"timeout_seconds"`
	RateLimitPerSecond float64 `toml:"rate_limit_per_second"`
}

// ExecutionConfig 控制下单模式与仓位级风控。
type ExecutionConfig struct {
	Mode              string  `toml:"mode"`
	AutoStart         bool    `toml:"auto_start"`
	PaperBalance      float64 `toml:"paper_balance"`
	BaseSize          float64 `toml:"base_size"`
	MaxPositionSize   float64 `toml:"max_position_size"`
	MaxDailyLoss      float64 `toml:"max_daily_loss"`
	MaxOpenPositions  int     `toml:"max_open_positions"`
	DefaultLeverage   int     `toml:"default_leverage"`
	CommissionRate    float64 `toml:"commission_rate"`
	SlippageRate      float64 `toml:"slippage_rate"`
	PriceCacheSeconds int     `toml:"price_cache_seconds"`
}

// RulesConfig 是风控闸门的初始规则，运行期可通过 API 发布新版本。
type RulesConfig struct {
	Timeframes           []string       `toml:"timeframes"`
	Symbols              []string       `toml:"symbols"`
	Precedence           []string       `toml:"precedence"`
	CooldownSeconds      int            `toml:"cooldown_seconds"`
	CooldownCandles      int            `toml:"cooldown_candles"`
	KillSwitch           bool           `toml:"kill_switch"`
	RRMin                float64        `toml:"rr_min"`
	MaxConcurrentSignals int            `toml:"max_concurrent_signals"`
	MaxSignalsPerDay     int            `toml:"max_signals_per_day"`
	DedupWindowSeconds   map[string]int `toml:"dedup_window_seconds"`
}

// QueueConfig 描述闸门任务队列。
type QueueConfig struct {
	Backend          string `toml:"backend"`
	Concurrency      int    `toml:"concurrency"`
	MaxAttempts      int    `toml:"max_attempts"`
	BackoffMillis    int    `toml:"backoff_ms"`
	MaxBackoffMillis int    `toml:"max_backoff_ms"`
	PollMillis       int    `toml:"poll_ms"`
}

type KafkaConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	GroupID string   `toml:"group_id"`
	Topic   string   `toml:"topic"`
}

type StrategiesConfig struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

// BacktestConfig 控制回测数据源与缓存。
type BacktestConfig struct {
	Source          string `toml:"source"`
	CandleCacheDir  string `toml:"candle_cache_dir"`
	RateLimitPerMin int    `toml:"rate_limit_per_min"`
	MaxConcurrent   int    `toml:"max_concurrent"`
}

// NotifyConfig 控制成交与熔断推送，目前只支持 Telegram。
type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
