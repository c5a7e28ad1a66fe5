package config

import (
	"fmt"

	"tradegate/internal/market"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Execution.validate(); err != nil {
		return err
	}
	if err := c.Rules.validate(); err != nil {
		return err
	}
	if err := c.Queue.validate(); err != nil {
		return err
	}
	if err := c.Kafka.validate(); err != nil {
		return err
	}
	return c.Notify.validate()
}

func (s *StoreConfig) validate() error {
	switch s.Driver {
	case "sqlite":
		if s.Path == "" && s.DSN == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	case "postgres":
		if s.DSN == "" {
			return fmt.Errorf("store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", s.Driver)
	}
	return nil
}

func (m *MarketConfig) validate() error {
	switch m.Source {
	case "bybit", "binance":
	default:
		return fmt.Errorf("market.source must be bybit or binance, got %q", m.Source)
	}
	for _, tf := range m.Timeframes {
		if _, err := market.ParseTimeframe(tf); err != nil {
			return fmt.Errorf("market.timeframes: %w", err)
		}
	}
	if m.Stream && len(m.Symbols) == 0 {
		return fmt.Errorf("market.symbols is required when market.stream is enabled")
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if e.Name != "bybit" {
		return fmt.Errorf("exchange.name only supports bybit, got %q", e.Name)
	}
	if e.RecvWindow <= 0 {
		return fmt.Errorf("exchange.recv_window must be > 0")
	}
	return nil
}

func (e *ExecutionConfig) validate() error {
	switch e.Mode {
	case "paper", "live":
	default:
		return fmt.Errorf("execution.mode must be paper or live, got %q", e.Mode)
	}
	if e.MaxPositionSize <= 0 {
		return fmt.Errorf("execution.max_position_size must be > 0")
	}
	if e.MaxDailyLoss < 0 {
		return fmt.Errorf("execution.max_daily_loss must be >= 0")
	}
	if e.MaxOpenPositions <= 0 {
		return fmt.Errorf("execution.max_open_positions must be > 0")
	}
	if e.CommissionRate < 0 || e.SlippageRate < 0 {
		return fmt.Errorf("execution.commission_rate and execution.slippage_rate must be >= 0")
	}
	return nil
}

func (r *RulesConfig) validate() error {
	if r.CooldownSeconds < 0 || r.CooldownCandles < 0 {
		return fmt.Errorf("rules cooldowns must be >= 0")
	}
	if r.MaxConcurrentSignals <= 0 {
		return fmt.Errorf("rules.max_concurrent_signals must be > 0")
	}
	if r.RRMin < 0 {
		return fmt.Errorf("rules.rr_min must be >= 0")
	}
	if r.MaxSignalsPerDay < 0 {
		return fmt.Errorf("rules.max_signals_per_day must be >= 0")
	}
	for tf, sec := range r.DedupWindowSeconds {
		if _, err := market.ParseTimeframe(tf); err != nil {
			return fmt.Errorf("rules.dedup_window_seconds: %w", err)
		}
		if sec < 0 {
			return fmt.Errorf("rules.dedup_window_seconds.%s must be >= 0", tf)
		}
	}
	return nil
}

func (q *QueueConfig) validate() error {
	switch q.Backend {
	case "memory", "gorm":
	default:
		return fmt.Errorf("queue.backend must be memory or gorm, got %q", q.Backend)
	}
	if q.Concurrency <= 0 {
		return fmt.Errorf("queue.concurrency must be > 0")
	}
	return nil
}

func (k *KafkaConfig) validate() error {
	if k.Enabled && len(k.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka.enabled")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if tg.Enabled && (tg.BotToken == "" || tg.ChatID == "") {
		return fmt.Errorf("notify.telegram.bot_token and notify.telegram.chat_id are required when enabled")
	}
	return nil
}
