package strategy

import (
	"errors"
	"fmt"
)

// ErrMissingATR 表示 atrMultiple 模式下未提供 ATR。
var ErrMissingATR = errors.New("atr value required for atrMultiple mode")

// Levels 是由入场价推导的止损/止盈价格。
type Levels struct {
	StopLoss   float64 `json:"stopLoss"`
	TakeProfit float64 `json:"takeProfit"`
}

// CalculateStopLossAndTakeProfit 计算止损和止盈价格。
// 止损总在入场价下方、止盈总在上方，与最终下单方向无关。
func CalculateStopLossAndTakeProfit(cfg StrategyConfig, entryPrice float64, atr *float64) (Levels, error) {
	sl, err := stopDistance(cfg.StopLoss, entryPrice, atr)
	if err != nil {
		return Levels{}, fmt.Errorf("stop loss: %w", err)
	}
	tp, err := stopDistance(cfg.TakeProfit, entryPrice, atr)
	if err != nil {
		return Levels{}, fmt.Errorf("take profit: %w", err)
	}
	return Levels{StopLoss: entryPrice - sl, TakeProfit: entryPrice + tp}, nil
}

func stopDistance(spec StopSpec, entry float64, atr *float64) (float64, error) {
	switch spec.Mode {
	case StopPercent:
		return entry * spec.Value / 100, nil
	case StopAbsolute:
		return spec.Value, nil
	case StopATRMultiple:
		if atr == nil {
			return 0, ErrMissingATR
		}
		return *atr * spec.Value, nil
	default:
		return 0, fmt.Errorf("unsupported stop mode %q", spec.Mode)
	}
}
