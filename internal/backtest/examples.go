package backtest

import (
	"time"

	"tradegate/internal/market"
	"tradegate/internal/strategy"
)

// Examples 返回可直接提交的示例回测配置。
func Examples() []Config {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return []Config{
		{
			StrategyID:   "rsi-reversal",
			StrategyName: "RSI Reversal",
			Symbol:       "BTCUSDT",
			Timeframe:    market.TF1h,
			StartDate:    start,
			EndDate:      end,
			Strategy: strategy.StrategyConfig{
				Conditions: []strategy.SignalCondition{
					{ID: "rsi-low", Indicator: strategy.IndicatorRSI, Operator: strategy.OpLessThan, Value: "30", Timeframe: market.TF1h},
					{ID: "rsi-high", Indicator: strategy.IndicatorRSI, Operator: strategy.OpGreaterThan, Value: "70", Timeframe: market.TF1h},
				},
				StopLoss:   strategy.StopSpec{Mode: strategy.StopPercent, Value: 2},
				TakeProfit: strategy.StopSpec{Mode: strategy.StopPercent, Value: 4},
			},
			InitialBalance: 10000,
			PositionSize:   1000,
			Commission:     0.1,
			Slippage:       0.05,
		},
		{
			StrategyID:   "ema-trend",
			StrategyName: "EMA Trend",
			Symbol:       "ETHUSDT",
			Timeframe:    market.TF4h,
			StartDate:    start,
			EndDate:      end,
			Strategy: strategy.StrategyConfig{
				Conditions: []strategy.SignalCondition{
					{ID: "ema-cross", Indicator: strategy.IndicatorEMAShort, Operator: strategy.OpCrossesAbove, Value: "ema_long", Timeframe: market.TF4h},
					{ID: "macd-up", Indicator: strategy.IndicatorMACDHistogram, Operator: strategy.OpGreaterThan, Value: "0", Timeframe: market.TF4h},
				},
				StopLoss:   strategy.StopSpec{Mode: strategy.StopATRMultiple, Value: 1.5},
				TakeProfit: strategy.StopSpec{Mode: strategy.StopATRMultiple, Value: 3},
			},
			InitialBalance: 5000,
			PositionSize:   500,
			Commission:     0.06,
			Slippage:       0.02,
		},
	}
}
