package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tradegate/internal/backtest"
	"tradegate/internal/cache"
	"tradegate/internal/config"
	"tradegate/internal/executor"
	"tradegate/internal/gateway"
	"tradegate/internal/gateway/bybit"
	"tradegate/internal/gateway/exchange"
	"tradegate/internal/gateway/kafka"
	"tradegate/internal/gateway/notifier"
	"tradegate/internal/logger"
	"tradegate/internal/market"
	"tradegate/internal/metrics"
	"tradegate/internal/pipeline"
	"tradegate/internal/pkg/apperr"
	"tradegate/internal/queue"
	"tradegate/internal/riskgate"
	"tradegate/internal/store/gormstore"
	"tradegate/internal/strategy"
	apihttp "tradegate/internal/transport/http/api"
)

var appLog = logger.Named("app")

// queueRetention 是内存队列保留已完成任务的时长，决定重复提交的识别窗口。
const queueRetention = 24 * time.Hour

// StreamSource 是带关闭钩子的行情源。
type StreamSource struct {
	Stream exchange.CandleStream
	Name   string
	Close  func() error
}

// BacktestSource 是回测 K 线来源，Close 释放本地缓存。
type BacktestSource struct {
	Fetcher exchange.CandleFetcher
	Name    string
	Close   func() error
}

type AppBuilder struct {
	cfg *config.Config

	storeFn          func(config.StoreConfig) (*gormstore.GormStore, error)
	exchangeFn       func(config.ExchangeConfig) *bybit.Client
	streamFn         func(*config.Config, []market.Timeframe) (*StreamSource, error)
	backtestSourceFn func(config.BacktestConfig, *bybit.Client) (*BacktestSource, error)
}

type AppBuilderOption func(*AppBuilder)

// WithStoreFactory 替换数据库构造，测试用。
func WithStoreFactory(fn func(config.StoreConfig) (*gormstore.GormStore, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.storeFn = fn
		}
	}
}

func WithStreamFactory(fn func(*config.Config, []market.Timeframe) (*StreamSource, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.streamFn = fn
		}
	}
}

func WithBacktestSourceFactory(fn func(config.BacktestConfig, *bybit.Client) (*BacktestSource, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.backtestSourceFn = fn
		}
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:              cfg,
		storeFn:          openStore,
		exchangeFn:       buildBybitClient,
		streamFn:         buildStream,
		backtestSourceFn: buildBacktestSource,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	tfs, err := parseTimeframes(cfg.Market.Timeframes)
	if err != nil {
		return nil, err
	}

	st, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	a := &App{cfg: cfg, store: st}
	a.closers = append(a.closers, st.Close)
	fail := func(err error) (*App, error) {
		a.Close()
		return nil, err
	}

	a.metrics = metrics.NewRegistry()

	rules, fromStore, err := loadRules(ctx, st, cfg.Rules)
	if err != nil {
		return fail(err)
	}
	a.gate = riskgate.NewPipeline(rules, riskgate.WithObserver(a.metrics))

	q, err := buildQueue(cfg.Queue, st)
	if err != nil {
		return fail(err)
	}
	a.queue = q

	a.cache = cache.NewMemory()
	notice := buildNotifier(cfg.Notify)
	client := b.exchangeFn(cfg.Exchange)
	exec, err := buildExecutor(cfg.Execution, cfg.Exchange, client, a.cache, st, notice)
	if err != nil {
		return fail(err)
	}
	a.exec = exec

	registry, err := loadStrategies(ctx, cfg.Strategies, st)
	if err != nil {
		return fail(err)
	}
	a.registry = registry

	a.engine = market.NewIndicatorEngine(cfg.Indicators)
	a.evaluator = strategy.NewEvaluator(registry, a.engine)
	a.dispatcher = pipeline.NewDispatcher(a.engine, a.evaluator, q,
		pipeline.WithSignalStore(st),
		pipeline.WithCounter(a.metrics),
		pipeline.WithWarmupCandles(cfg.Market.WarmupCandles),
	)
	a.handler = pipeline.NewGateHandler(a.gate, exec)
	if a.fetcher, err = gateway.NewCandleFetcher(cfg.Market.Source, client); err != nil {
		return fail(err)
	}
	a.symbols = cfg.Market.Symbols
	a.timeframes = tfs

	btSource, err := b.backtestSourceFn(cfg.Backtest, client)
	if err != nil {
		return fail(err)
	}
	if btSource.Close != nil {
		a.closers = append(a.closers, btSource.Close)
	}
	a.backtests = backtest.NewService(backtest.NewReplayer(btSource.Fetcher, cfg.Indicators), st, cfg.Backtest.MaxConcurrent)

	stream, err := b.streamFn(cfg, tfs)
	if err != nil {
		return fail(err)
	}
	if stream != nil {
		a.stream = stream.Stream
		if stream.Close != nil {
			a.closers = append(a.closers, stream.Close)
		}
	}

	a.http = apihttp.NewServer(apihttp.ServerConfig{
		Addr: cfg.App.HTTPAddr,
		Deps: apihttp.Deps{
			Registry:   registry,
			Evaluator:  a.evaluator,
			Strategies: st,
			Signals:    st,
			Submitter:  a.dispatcher,
			Gate:       a.gate,
			Rules:      st,
			Execution:  exec,
			Orders:     st,
			Backtests:  a.backtests,
			Metrics:    a.metrics,
			Notifier:   notice,
		},
	})

	a.Summary = newStartupSummary(cfg, rules, fromStore, len(registry.List()), stream, btSource.Name)
	return a, nil
}

func parseTimeframes(raw []string) ([]market.Timeframe, error) {
	out := make([]market.Timeframe, 0, len(raw))
	for _, item := range raw {
		tf, err := market.ParseTimeframe(item)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

func openStore(cfg config.StoreConfig) (*gormstore.GormStore, error) {
	return gormstore.Open(gormstore.Options{Driver: cfg.Driver, DSN: cfg.DSN, Path: cfg.Path})
}

// loadRules 优先使用数据库中的生效版本，没有发布过时使用配置文件。
func loadRules(ctx context.Context, st *gormstore.GormStore, cfg config.RulesConfig) (riskgate.RuleConfig, bool, error) {
	active, err := st.ActiveRuleConfig(ctx)
	switch {
	case err == nil:
		return active, true, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return riskgate.RuleConfig{}, false, fmt.Errorf("读取生效规则失败: %w", err)
	}
	rules, err := rulesFromConfig(cfg)
	if err != nil {
		return riskgate.RuleConfig{}, false, err
	}
	if err := rules.Validate(); err != nil {
		return riskgate.RuleConfig{}, false, fmt.Errorf("rules 配置无效: %w", err)
	}
	return rules, false, nil
}

func rulesFromConfig(cfg config.RulesConfig) (riskgate.RuleConfig, error) {
	tfs, err := parseTimeframes(cfg.Timeframes)
	if err != nil {
		return riskgate.RuleConfig{}, fmt.Errorf("rules.timeframes: %w", err)
	}
	precedence, err := parseTimeframes(cfg.Precedence)
	if err != nil {
		return riskgate.RuleConfig{}, fmt.Errorf("rules.precedence: %w", err)
	}
	var dedup map[market.Timeframe]int
	if len(cfg.DedupWindowSeconds) > 0 {
		dedup = make(map[market.Timeframe]int, len(cfg.DedupWindowSeconds))
		for raw, sec := range cfg.DedupWindowSeconds {
			tf, err := market.ParseTimeframe(raw)
			if err != nil {
				return riskgate.RuleConfig{}, fmt.Errorf("rules.dedup_window_seconds: %w", err)
			}
			dedup[tf] = sec
		}
	}
	return riskgate.RuleConfig{
		Version:              0,
		Timeframes:           tfs,
		Symbols:              cfg.Symbols,
		Precedence:           precedence,
		CooldownSeconds:      cfg.CooldownSeconds,
		CooldownCandles:      cfg.CooldownCandles,
		KillSwitch:           cfg.KillSwitch,
		RRMin:                cfg.RRMin,
		MaxConcurrentSignals: cfg.MaxConcurrentSignals,
		MaxSignalsPerDay:     cfg.MaxSignalsPerDay,
		DedupWindowSeconds:   dedup,
	}, nil
}

func buildQueue(cfg config.QueueConfig, st *gormstore.GormStore) (*queue.Queue, error) {
	var backend queue.Backend
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "gorm":
		gb, err := queue.NewGormBackend(st.DB())
		if err != nil {
			return nil, fmt.Errorf("初始化持久队列失败: %w", err)
		}
		backend = gb
	default:
		backend = queue.NewMemoryBackend(queueRetention)
	}
	return queue.New(backend, queue.Config{
		Concurrency:  cfg.Concurrency,
		MaxAttempts:  cfg.MaxAttempts,
		Backoff:      time.Duration(cfg.BackoffMillis) * time.Millisecond,
		MaxBackoff:   time.Duration(cfg.MaxBackoffMillis) * time.Millisecond,
		PollInterval: time.Duration(cfg.PollMillis) * time.Millisecond,
	}), nil
}

func buildBybitClient(cfg config.ExchangeConfig) *bybit.Client {
	return bybit.New(bybit.Config{
		APIKey:             cfg.APIKey,
		APISecret:          cfg.APISecret,
		Testnet:            cfg.Testnet,
		BaseURL:            cfg.BaseURL,
		RecvWindow:         cfg.RecvWindow,
		Timeout:            time.Duration(cfg.TimeoutSeconds) * time.Second,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
	})
}

// buildExecutor 只有配置了密钥才挂载实盘交易所，行情价格始终走公共接口。
func buildExecutor(cfg config.ExecutionConfig, ex config.ExchangeConfig, client *bybit.Client, c cache.Cache, st *gormstore.GormStore, notice notifier.TextNotifier) (*executor.Executor, error) {
	mode, err := executor.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	var venue exchange.Exchange
	if strings.TrimSpace(ex.APIKey) != "" && strings.TrimSpace(ex.APISecret) != "" {
		venue = client
	} else if mode == executor.ModeLive {
		return nil, fmt.Errorf("实盘模式需要配置交易所密钥: %w", executor.ErrLiveUnavailable)
	}
	prices := executor.NewPriceLookup(c, client, time.Duration(cfg.PriceCacheSeconds)*time.Second)
	return executor.New(executor.Config{
		Mode:             mode,
		PaperBalance:     cfg.PaperBalance,
		BaseSize:         cfg.BaseSize,
		MaxPositionSize:  cfg.MaxPositionSize,
		MaxDailyLoss:     cfg.MaxDailyLoss,
		MaxOpenPositions: cfg.MaxOpenPositions,
		DefaultLeverage:  float64(cfg.DefaultLeverage),
		CommissionRate:   cfg.CommissionRate,
		SlippageRate:     cfg.SlippageRate,
	}, venue, prices, executor.WithOrderStore(st), executor.WithCache(c), executor.WithNotifier(notice)), nil
}

// buildNotifier 未开启推送时返回 nil，下游据此跳过发送。
func buildNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	if !cfg.Telegram.Enabled {
		return nil
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}

// loadStrategies 先恢复数据库中的策略，再叠加策略文件（同 id 以文件为准）。
func loadStrategies(ctx context.Context, cfg config.StrategiesConfig, st *gormstore.GormStore) (*strategy.Registry, error) {
	registry := strategy.NewRegistry()
	stored, err := st.ListStrategies(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取策略失败: %w", err)
	}
	for _, s := range stored {
		if err := registry.Upsert(s); err != nil {
			appLog.Warnf("跳过无效策略 %s: %v", s.ID, err)
		}
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return registry, nil
	}
	if cfg.Watch {
		if _, err := strategy.WatchStrategiesFile(path, registry, nil); err != nil {
			return nil, err
		}
		return registry, nil
	}
	fromFile, err := strategy.ReadStrategiesFile(path)
	if err != nil {
		return nil, err
	}
	for _, s := range fromFile {
		if err := registry.Upsert(s); err != nil {
			return nil, fmt.Errorf("策略 %s 无效: %w", s.ID, err)
		}
	}
	return registry, nil
}

func buildBacktestSource(cfg config.BacktestConfig, client *bybit.Client) (*BacktestSource, error) {
	fetcher, err := gateway.NewCandleFetcher(cfg.Source, client)
	if err != nil {
		return nil, err
	}
	src := &BacktestSource{Fetcher: fetcher, Name: strings.ToLower(strings.TrimSpace(cfg.Source))}
	dir := strings.TrimSpace(cfg.CandleCacheDir)
	if dir == "" {
		return src, nil
	}
	cc, err := backtest.NewCandleCache(dir)
	if err != nil {
		return nil, fmt.Errorf("打开 K 线缓存失败: %w", err)
	}
	src.Fetcher = backtest.NewCachedSource(src.Fetcher, cc, cfg.RateLimitPerMin)
	src.Name += "+cache"
	src.Close = cc.Close
	return src, nil
}

// buildStream 选择实时触发源：kafka 优先，其次 Bybit websocket，都未开启时不接实时行情。
func buildStream(cfg *config.Config, tfs []market.Timeframe) (*StreamSource, error) {
	if cfg.Kafka.Enabled {
		c, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topic)
		if err != nil {
			return nil, fmt.Errorf("初始化 kafka 消费者失败: %w", err)
		}
		return &StreamSource{Stream: c, Name: "kafka:" + cfg.Kafka.Topic, Close: c.Close}, nil
	}
	if !cfg.Market.Stream {
		return nil, nil
	}
	s, err := bybit.NewStream(cfg.Exchange.StreamURL, cfg.Exchange.Testnet, cfg.Market.Symbols, tfs)
	if err != nil {
		return nil, fmt.Errorf("初始化行情订阅失败: %w", err)
	}
	return &StreamSource{Stream: s, Name: "bybit-ws"}, nil
}
