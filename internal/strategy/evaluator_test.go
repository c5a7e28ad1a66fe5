package strategy

import (
	"testing"
	"time"

	"tradegate/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource map[string]market.IndicatorSnapshot

func (s staticSource) Snapshot(symbol string, tf market.Timeframe) (market.IndicatorSnapshot, bool) {
	snap, ok := s[symbol+":"+string(tf)]
	return snap, ok
}

func cond(ind Indicator, op Operator, value string, tf market.Timeframe) SignalCondition {
	return SignalCondition{Indicator: ind, Operator: op, Value: value, Timeframe: tf}
}

func baseStrategy(conds ...SignalCondition) StrategyConfig {
	return StrategyConfig{
		ID:         "s1",
		Name:       "RSI reversal",
		Enabled:    true,
		Symbols:    []string{"BTCUSDT"},
		Conditions: conds,
		StopLoss:   StopSpec{Mode: StopPercent, Value: 2},
		TakeProfit: StopSpec{Mode: StopPercent, Value: 4},
	}
}

var fixedNow = time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)

func TestEvaluateRSIBelowThresholdBuys(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Upsert(baseStrategy(cond(IndicatorRSI, OpLessThan, "30", market.TF1h))))
	src := staticSource{"BTCUSDT:1h": {Price: 100, RSI: market.Float(25)}}
	ev := NewEvaluator(reg, src, WithClock(func() time.Time { return fixedNow }))

	results := ev.Evaluate("BTCUSDT", market.TF1h)
	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, SignalBuy, res.Signal)
	assert.Equal(t, []string{"RSI (25.00) less than 30.00"}, res.Reasons)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, fixedNow, res.Timestamp)
	require.NotNil(t, res.StopLoss)
	assert.InDelta(t, 98, *res.StopLoss, 1e-9)
	assert.InDelta(t, 104, *res.TakeProfit, 1e-9)

	last, ok := ev.LastSignal("BTCUSDT", market.TF1h)
	require.True(t, ok)
	assert.Equal(t, res, last)

	select {
	case emitted := <-ev.Signals():
		assert.Equal(t, res, emitted)
	default:
		t.Fatal("expected signal on channel")
	}
}

func TestEvaluateConditions(t *testing.T) {
	snap := market.IndicatorSnapshot{
		Price:    100,
		RSI:      market.Float(75),
		EMAShort: market.Float(105),
		EMALong:  market.Float(100),
		MACD:     market.Float(1.5),
	}
	tests := []struct {
		name       string
		conds      []SignalCondition
		wantSignal SignalType
		wantConf   float64
		wantReason string
	}{
		{
			name:       "rsi above threshold sells",
			conds:      []SignalCondition{cond(IndicatorRSI, OpGreaterThan, "70", market.TF1h)},
			wantSignal: SignalSell, wantConf: 1, wantReason: "RSI (75.00) greater than 70.00",
		},
		{
			name:       "ema short above ema long buys",
			conds:      []SignalCondition{cond(IndicatorEMAShort, OpGreaterThan, "ema_long", market.TF1h)},
			wantSignal: SignalBuy, wantConf: 1, wantReason: "EMA Short (105.00) greater than 100.00",
		},
		{
			name:       "crosses above approximated as greater",
			conds:      []SignalCondition{cond(IndicatorMACD, OpCrossesAbove, "0", market.TF1h)},
			wantSignal: SignalBuy, wantConf: 1, wantReason: "MACD (1.50) crosses above 0.00",
		},
		{
			name: "partial buy confidence uses all conditions",
			conds: []SignalCondition{
				cond(IndicatorMACD, OpGreaterThan, "0", market.TF1h),
				cond(IndicatorATR, OpGreaterThan, "1", market.TF1h),
			},
			wantSignal: SignalBuy, wantConf: 0.5, wantReason: "MACD (1.50) greater than 0.00",
		},
		{
			name: "buy and sell mix holds",
			conds: []SignalCondition{
				cond(IndicatorRSI, OpGreaterThan, "70", market.TF1h),
				cond(IndicatorMACD, OpGreaterThan, "0", market.TF1h),
			},
			wantSignal: SignalHold, wantConf: 0.5, wantReason: neutralReason,
		},
		{
			name:       "equals matches within tolerance but holds",
			conds:      []SignalCondition{cond(IndicatorRSI, OpEquals, "75.0005", market.TF1h)},
			wantSignal: SignalHold, wantConf: 0.5, wantReason: neutralReason,
		},
		{
			name:       "invalid comparison value holds",
			conds:      []SignalCondition{cond(IndicatorRSI, OpLessThan, "abc", market.TF1h)},
			wantSignal: SignalHold, wantConf: 0.5, wantReason: neutralReason,
		},
		{
			name: "other timeframe conditions are skipped but counted",
			conds: []SignalCondition{
				cond(IndicatorRSI, OpGreaterThan, "70", market.TF1h),
				cond(IndicatorRSI, OpLessThan, "30", market.TF4h),
			},
			wantSignal: SignalSell, wantConf: 0.5, wantReason: "RSI (75.00) greater than 70.00",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := EvaluateStrategy(baseStrategy(tt.conds...), "BTCUSDT", market.TF1h, snap, fixedNow)
			assert.Equal(t, tt.wantSignal, res.Signal)
			assert.InDelta(t, tt.wantConf, res.Confidence, 1e-9)
			require.NotEmpty(t, res.Reasons)
			assert.Equal(t, tt.wantReason, res.Reasons[0])
		})
	}
}

func TestEvaluateConditionReasons(t *testing.T) {
	snap := market.IndicatorSnapshot{Price: 100, RSI: market.Float(50)}

	out := evaluateCondition(cond(IndicatorATR, OpGreaterThan, "1", market.TF1h), snap)
	assert.Equal(t, SignalHold, out.signal)
	assert.Equal(t, "ATR not available", out.reason)

	out = evaluateCondition(cond(IndicatorRSI, OpLessThan, "ema_long", market.TF1h), snap)
	assert.Equal(t, "invalid comparison value", out.reason)

	out = evaluateCondition(cond(IndicatorRSI, OpLessThan, "30", market.TF1h), snap)
	assert.Equal(t, SignalHold, out.signal)
	assert.Equal(t, "RSI (50.00) condition not met", out.reason)
}

func TestEvaluateSkipsDisabledAndForeignSymbols(t *testing.T) {
	reg := NewRegistry()
	disabled := baseStrategy(cond(IndicatorRSI, OpLessThan, "30", market.TF1h))
	disabled.Enabled = false
	require.NoError(t, reg.Upsert(disabled))
	other := baseStrategy(cond(IndicatorRSI, OpLessThan, "30", market.TF1h))
	other.ID = "s2"
	other.Symbols = []string{"ETHUSDT"}
	require.NoError(t, reg.Upsert(other))

	src := staticSource{"BTCUSDT:1h": {Price: 100, RSI: market.Float(25)}}
	ev := NewEvaluator(reg, src, WithSignalBuffer(0))
	assert.Empty(t, ev.Evaluate("BTCUSDT", market.TF1h))
	assert.Empty(t, ev.Evaluate("BTCUSDT", market.TF4h), "no snapshot yields nothing")
}

func TestCalculateStopLossAndTakeProfit(t *testing.T) {
	cfg := baseStrategy(cond(IndicatorRSI, OpLessThan, "30", market.TF1h))

	levels, err := CalculateStopLossAndTakeProfit(cfg, 200, nil)
	require.NoError(t, err)
	assert.InDelta(t, 196, levels.StopLoss, 1e-9)
	assert.InDelta(t, 208, levels.TakeProfit, 1e-9)

	cfg.StopLoss = StopSpec{Mode: StopAbsolute, Value: 5}
	cfg.TakeProfit = StopSpec{Mode: StopATRMultiple, Value: 3}
	_, err = CalculateStopLossAndTakeProfit(cfg, 200, nil)
	assert.ErrorIs(t, err, ErrMissingATR)

	levels, err = CalculateStopLossAndTakeProfit(cfg, 200, market.Float(2))
	require.NoError(t, err)
	assert.InDelta(t, 195, levels.StopLoss, 1e-9)
	assert.InDelta(t, 206, levels.TakeProfit, 1e-9)
}

func TestSignalExpectedRR(t *testing.T) {
	res := SignalResult{Price: 100, StopLoss: market.Float(98), TakeProfit: market.Float(104)}
	rr, ok := res.ExpectedRR()
	require.True(t, ok)
	assert.InDelta(t, 2, rr, 1e-9)

	_, ok = SignalResult{Price: 100}.ExpectedRR()
	assert.False(t, ok)
}
