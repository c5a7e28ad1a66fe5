package strategy

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradegate/internal/logger"
	"tradegate/internal/market"
)

const (
	equalsTolerance = 0.001
	neutralReason   = "conflicting or neutral conditions"
)

var evalLog = logger.Named("evaluator")

// IndicatorSource 提供 (symbol, timeframe) 的最新指标快照。
type IndicatorSource interface {
	Snapshot(symbol string, tf market.Timeframe) (market.IndicatorSnapshot, bool)
}

// Evaluator 对已注册策略做信号评估，并把结果投递到信号通道。
type Evaluator struct {
	registry *Registry
	source   IndicatorSource
	now      func() time.Time

	mu   sync.RWMutex
	last map[string]SignalResult

	out chan SignalResult
}

type EvaluatorOption func(*Evaluator)

// WithClock 替换时间源（回测使用 K 线收盘时间）。
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSignalBuffer 设置信号通道容量，0 表示不投递。
func WithSignalBuffer(n int) EvaluatorOption {
	return func(e *Evaluator) {
		if n <= 0 {
			e.out = nil
			return
		}
		e.out = make(chan SignalResult, n)
	}
}

func NewEvaluator(registry *Registry, source IndicatorSource, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		registry: registry,
		source:   source,
		now:      func() time.Time { return time.Now().UTC() },
		last:     make(map[string]SignalResult),
		out:      make(chan SignalResult, 256),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) Registry() *Registry { return e.registry }

// Signals 返回评估结果通道，消费者负责持久化与执行分发。
func (e *Evaluator) Signals() <-chan SignalResult { return e.out }

// Evaluate 对包含该 symbol 的全部启用策略做评估。
func (e *Evaluator) Evaluate(symbol string, tf market.Timeframe) []SignalResult {
	snap, ok := e.source.Snapshot(symbol, tf)
	if !ok {
		return nil
	}
	var results []SignalResult
	for _, cfg := range e.registry.List() {
		if !cfg.Enabled || !cfg.HasSymbol(symbol) {
			continue
		}
		res := EvaluateStrategy(cfg, symbol, tf, snap, e.now())
		e.mu.Lock()
		e.last[bufferKey(symbol, tf)] = res
		e.mu.Unlock()
		e.emit(res)
		results = append(results, res)
	}
	return results
}

// EvaluateOne 只评估指定策略，不投递到信号通道。
func (e *Evaluator) EvaluateOne(cfg StrategyConfig, symbol string, tf market.Timeframe) (SignalResult, bool) {
	snap, ok := e.source.Snapshot(symbol, tf)
	if !ok {
		return SignalResult{}, false
	}
	return EvaluateStrategy(cfg, symbol, tf, snap, e.now()), true
}

// LastSignal 返回该 (symbol, timeframe) 最近一次评估结果。
func (e *Evaluator) LastSignal(symbol string, tf market.Timeframe) (SignalResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	res, ok := e.last[bufferKey(symbol, tf)]
	return res, ok
}

func (e *Evaluator) emit(res SignalResult) {
	if e.out == nil {
		return
	}
	select {
	case e.out <- res:
	default:
		evalLog.Warnf("signal channel full, drop %s %s %s", res.StrategyID, res.Symbol, res.Timeframe)
	}
}

func bufferKey(symbol string, tf market.Timeframe) string {
	return symbol + ":" + string(tf)
}

type conditionOutcome struct {
	signal SignalType
	reason string
}

// EvaluateStrategy 是纯函数：同样的策略与快照总得到同样的结论。
func EvaluateStrategy(cfg StrategyConfig, symbol string, tf market.Timeframe, snap market.IndicatorSnapshot, now time.Time) SignalResult {
	var buys, sells, holds []string
	for _, cond := range cfg.Conditions {
		if cond.Timeframe != tf {
			continue
		}
		outcome := evaluateCondition(cond, snap)
		switch outcome.signal {
		case SignalBuy:
			buys = append(buys, outcome.reason)
		case SignalSell:
			sells = append(sells, outcome.reason)
		default:
			holds = append(holds, outcome.reason)
		}
	}

	res := SignalResult{
		Symbol:       symbol,
		Timeframe:    tf,
		Timestamp:    now,
		StrategyID:   cfg.ID,
		StrategyName: cfg.Name,
		Price:        snap.Price,
	}
	total := float64(len(cfg.Conditions))
	switch {
	case len(buys) > 0 && len(sells) == 0:
		res.Signal = SignalBuy
		res.Confidence = math.Min(1, float64(len(buys))/total)
		res.Reasons = buys
	case len(sells) > 0 && len(buys) == 0:
		res.Signal = SignalSell
		res.Confidence = math.Min(1, float64(len(sells))/total)
		res.Reasons = sells
	default:
		res.Signal = SignalHold
		res.Confidence = 0.5
		res.Reasons = []string{neutralReason}
	}
	if res.Actionable() && snap.Price > 0 {
		if levels, err := CalculateStopLossAndTakeProfit(cfg, snap.Price, snap.ATR); err == nil {
			res.StopLoss = market.Float(levels.StopLoss)
			res.TakeProfit = market.Float(levels.TakeProfit)
		}
	}
	return res
}

func evaluateCondition(cond SignalCondition, snap market.IndicatorSnapshot) conditionOutcome {
	label := cond.Indicator.Label()
	valuePtr := cond.Indicator.ValueFrom(snap)
	if valuePtr == nil {
		return conditionOutcome{signal: SignalHold, reason: fmt.Sprintf("%s not available", label)}
	}
	value := *valuePtr

	target, ok := resolveComparison(cond.Value, snap)
	if !ok {
		return conditionOutcome{signal: SignalHold, reason: "invalid comparison value"}
	}

	var met bool
	bias := SignalHold
	switch cond.Operator {
	case OpGreaterThan:
		met = value > target
		bias = SignalBuy
		if cond.Indicator == IndicatorRSI {
			bias = SignalSell
		}
	case OpLessThan:
		met = value < target
		bias = SignalSell
		if cond.Indicator == IndicatorRSI {
			bias = SignalBuy
		}
	case OpEquals:
		met = math.Abs(value-target) < equalsTolerance
	case OpCrossesAbove:
		// 仅比较当前值，不检查上一根 K 线
		met = value > target
		bias = SignalBuy
	case OpCrossesBelow:
		met = value < target
		bias = SignalSell
	}
	if !met {
		return conditionOutcome{signal: SignalHold, reason: fmt.Sprintf("%s (%.2f) condition not met", label, value)}
	}
	return conditionOutcome{
		signal: bias,
		reason: fmt.Sprintf("%s (%.2f) %s %.2f", label, value, cond.Operator.Phrase(), target),
	}
}

func resolveComparison(raw string, snap market.IndicatorSnapshot) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "ema_long") && snap.EMALong != nil {
		return *snap.EMALong, true
	}
	if strings.HasPrefix(raw, "ema_short") && snap.EMAShort != nil {
		return *snap.EMAShort, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
