package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradegate/internal/gateway/exchange"
	"tradegate/internal/logger"
	"tradegate/internal/market"
	"tradegate/internal/strategy"

	"github.com/google/uuid"
)

var backtestLog = logger.Named("backtest")

// SnapshotFunc 由一段按时间升序的 K 线计算最后一根上的指标。
type SnapshotFunc func(symbol string, tf market.Timeframe, candles []market.Candle) (market.IndicatorSnapshot, error)

// Replayer 顺序回放历史 K 线，复用实盘的策略评估逻辑驱动本地模拟账户。
type Replayer struct {
	source   exchange.CandleFetcher
	window   int
	snapshot SnapshotFunc
	newID    func() string
	now      func() time.Time
}

type ReplayerOption func(*Replayer)

func WithSnapshotFunc(fn SnapshotFunc) ReplayerOption {
	return func(r *Replayer) {
		if fn != nil {
			r.snapshot = fn
		}
	}
}

func WithIDFunc(fn func() string) ReplayerOption {
	return func(r *Replayer) {
		if fn != nil {
			r.newID = fn
		}
	}
}

func WithClock(now func() time.Time) ReplayerOption {
	return func(r *Replayer) {
		if now != nil {
			r.now = now
		}
	}
}

func NewReplayer(source exchange.CandleFetcher, params market.IndicatorParams, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		source: source,
		window: params.BufferSize(),
		snapshot: func(symbol string, tf market.Timeframe, candles []market.Candle) (market.IndicatorSnapshot, error) {
			return market.ComputeSnapshot(symbol, tf, candles, params)
		},
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// replaySource 只暴露游标之前（含）的 K 线，保证评估时看不到未来数据。
type replaySource struct {
	symbol   string
	tf       market.Timeframe
	candles  []market.Candle
	cursor   int
	window   int
	snapshot SnapshotFunc
}

func (s *replaySource) Snapshot(symbol string, tf market.Timeframe) (market.IndicatorSnapshot, bool) {
	if !strings.EqualFold(symbol, s.symbol) || tf != s.tf || s.cursor < 0 || s.cursor >= len(s.candles) {
		return market.IndicatorSnapshot{}, false
	}
	lo := 0
	if s.window > 0 && s.cursor+1 > s.window {
		lo = s.cursor + 1 - s.window
	}
	snap, err := s.snapshot(s.symbol, s.tf, s.candles[lo:s.cursor+1])
	if err != nil {
		return market.IndicatorSnapshot{}, false
	}
	return snap, true
}

func (s *replaySource) closeTime() time.Time {
	return s.candles[s.cursor].CloseAt()
}

// Run 执行一次完整回测。相同的配置与 K 线序列总是得到相同的交易与指标。
func (r *Replayer) Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	candles, err := r.source.Klines(ctx, cfg.Symbol, cfg.Timeframe, cfg.StartDate, cfg.EndDate, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch candles %s %s: %w", cfg.Symbol, cfg.Timeframe, err)
	}
	candles = append([]market.Candle(nil), candles...)
	market.SortCandles(candles)
	if len(candles) == 0 {
		return nil, ErrNoData
	}
	backtestLog.Infof("开始回测 %s %s strategy=%s candles=%d", cfg.Symbol, cfg.Timeframe, cfg.StrategyID, len(candles))

	strat := cfg.Strategy
	strat.ID = cfg.StrategyID
	strat.Name = cfg.StrategyName
	strat.Enabled = true
	strat.Symbols = []string{cfg.Symbol}
	registry := strategy.NewRegistry()
	if err := registry.Upsert(strat); err != nil {
		return nil, err
	}
	src := &replaySource{symbol: cfg.Symbol, tf: cfg.Timeframe, candles: candles, window: r.window, snapshot: r.snapshot}
	evaluator := strategy.NewEvaluator(registry, src,
		strategy.WithSignalBuffer(0),
		strategy.WithClock(src.closeTime),
	)

	sim := newSimulator(cfg)
	last := len(candles) - 1
	for i, candle := range candles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src.cursor = i
		closed := false
		for _, sig := range evaluator.Evaluate(cfg.Symbol, cfg.Timeframe) {
			didClose, err := sim.onSignal(sig.Signal, candle)
			if err != nil {
				return nil, err
			}
			closed = closed || didClose
		}
		if i == last && sim.pos != nil {
			sim.close(candle)
			closed = true
		}
		sim.markEquity(candle, closed)
	}

	res := &Result{
		ID:           r.newID(),
		Config:       cfg,
		Candles:      len(candles),
		FinalBalance: sim.cash,
		Trades:       sim.trades,
		Equity:       sim.equity,
		CreatedAt:    r.now(),
	}
	res.Metrics = computeMetrics(sim.trades, cfg.InitialBalance, sim.cash, sim.maxDD, sim.maxDDPct)
	backtestLog.Infof("回测完成 %s %s trades=%d return=%.2f%%", cfg.Symbol, cfg.Timeframe, len(res.Trades), res.Metrics.TotalReturnPercent)
	return res, nil
}
