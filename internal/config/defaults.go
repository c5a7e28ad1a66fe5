package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppLogFormat      = "text"
	defaultAppHTTPAddr       = ":9991"
	defaultStoreDriver       = "sqlite"
	defaultStorePath         = "data/tradegate.db"
	defaultMarketSource      = "bybit"
	defaultWarmupCandles     = 300
	defaultExchangeName      = "bybit"
	defaultBybitREST         = "https://api.bybit.com"
	defaultBybitTestnetREST  = "https://api-testnet.bybit.com"
	defaultBybitStream       = "wss://stream.bybit.com/v5/public/linear"
	defaultBybitTestStream   = "wss://stream-testnet.bybit.com/v5/public/linear"
	defaultRecvWindow        = 5000
	defaultExchangeTimeout   = 10
	defaultExchangeRate      = 10
	defaultExecutionMode     = "paper"
	defaultPaperBalance      = 10000
	defaultBaseSize          = 100
	defaultMaxPositionSize   = 1000
	defaultMaxDailyLoss      = 500
	defaultMaxOpenPositions  = 5
	defaultLeverage          = 1
	defaultCommissionRate    = 0.1
	defaultSlippageRate      = 0.05
	defaultPriceCacheSeconds = 5
	defaultMaxConcurrent     = 3
	defaultQueueBackend      = "memory"
	defaultQueueConcurrency  = 2
	defaultQueueAttempts     = 5
	defaultQueueBackoffMs    = 500
	defaultQueueMaxBackoffMs = 30000
	defaultQueuePollMs       = 200
	defaultKafkaGroup        = "tradegate"
	defaultKafkaTopic        = "candles.closed"
	defaultBacktestSource    = "bybit"
	defaultCandleCacheDir    = "data/candles"
	defaultBacktestRate      = 120
	defaultBacktestParallel  = 2
)

var defaultTimeframes = []string{"1m", "3m", "5m", "15m", "1h", "4h"}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Execution.applyDefaults(keys)
	c.Rules.applyDefaults(keys, c.Market)
	c.Queue.applyDefaults(keys)
	c.Kafka.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.driver", &s.Driver, defaultStoreDriver),
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("market.source", &m.Source, defaultMarketSource),
		intFieldDefault("market.warmup_candles", &m.WarmupCandles, defaultWarmupCandles),
		fieldDefault{
			key:   "market.timeframes",
			need:  func() bool { return len(m.Timeframes) == 0 },
			apply: func() { m.Timeframes = append([]string(nil), defaultTimeframes...) },
		},
	)
	m.Symbols = normalizeSymbols(m.Symbols)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	rest, stream := defaultBybitREST, defaultBybitStream
	if e.Testnet {
		rest, stream = defaultBybitTestnetREST, defaultBybitTestStream
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.name", &e.Name, defaultExchangeName),
		stringFieldDefault("exchange.base_url", &e.BaseURL, rest),
		stringFieldDefault("exchange.stream_url", &e.StreamURL, stream),
		intFieldDefault("exchange.recv_window", &e.RecvWindow, defaultRecvWindow),
		intFieldDefault("exchange.timeout_seconds", &e.TimeoutSeconds, defaultExchangeTimeout),
		floatFieldDefault("exchange.rate_limit_per_second", &e.RateLimitPerSecond, defaultExchangeRate),
	)
}

func (e *ExecutionConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("execution.mode", &e.Mode, defaultExecutionMode),
		floatFieldDefault("execution.paper_balance", &e.PaperBalance, defaultPaperBalance),
		floatFieldDefault("execution.base_size", &e.BaseSize, defaultBaseSize),
		floatFieldDefault("execution.max_position_size", &e.MaxPositionSize, defaultMaxPositionSize),
		floatFieldDefault("execution.max_daily_loss", &e.MaxDailyLoss, defaultMaxDailyLoss),
		intFieldDefault("execution.max_open_positions", &e.MaxOpenPositions, defaultMaxOpenPositions),
		intFieldDefault("execution.default_leverage", &e.DefaultLeverage, defaultLeverage),
		floatFieldDefault("execution.commission_rate", &e.CommissionRate, defaultCommissionRate),
		floatFieldDefault("execution.slippage_rate", &e.SlippageRate, defaultSlippageRate),
		intFieldDefault("execution.price_cache_seconds", &e.PriceCacheSeconds, defaultPriceCacheSeconds),
	)
	e.Mode = strings.ToLower(strings.TrimSpace(e.Mode))
}

func (r *RulesConfig) applyDefaults(keys keySet, m MarketConfig) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "rules.timeframes",
			need:  func() bool { return len(r.Timeframes) == 0 },
			apply: func() { r.Timeframes = append([]string(nil), m.Timeframes...) },
		},
		fieldDefault{
			key:   "rules.symbols",
			need:  func() bool { return len(r.Symbols) == 0 },
			apply: func() { r.Symbols = append([]string(nil), m.Symbols...) },
		},
		intFieldDefault("rules.max_concurrent_signals", &r.MaxConcurrentSignals, defaultMaxConcurrent),
	)
	r.Symbols = normalizeSymbols(r.Symbols)
}

func (q *QueueConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("queue.backend", &q.Backend, defaultQueueBackend),
		intFieldDefault("queue.concurrency", &q.Concurrency, defaultQueueConcurrency),
		intFieldDefault("queue.max_attempts", &q.MaxAttempts, defaultQueueAttempts),
		intFieldDefault("queue.backoff_ms", &q.BackoffMillis, defaultQueueBackoffMs),
		intFieldDefault("queue.max_backoff_ms", &q.MaxBackoffMillis, defaultQueueMaxBackoffMs),
		intFieldDefault("queue.poll_ms", &q.PollMillis, defaultQueuePollMs),
	)
	q.Backend = strings.ToLower(strings.TrimSpace(q.Backend))
}

func (k *KafkaConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("kafka.group_id", &k.GroupID, defaultKafkaGroup),
		stringFieldDefault("kafka.topic", &k.Topic, defaultKafkaTopic),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("backtest.source", &b.Source, defaultBacktestSource),
		stringFieldDefault("backtest.candle_cache_dir", &b.CandleCacheDir, defaultCandleCacheDir),
		intFieldDefault("backtest.rate_limit_per_min", &b.RateLimitPerMin, defaultBacktestRate),
		intFieldDefault("backtest.max_concurrent", &b.MaxConcurrent, defaultBacktestParallel),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func normalizeSymbols(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	out := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
