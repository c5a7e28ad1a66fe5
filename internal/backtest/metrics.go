package backtest

import "math"

func computeMetrics(trades []Trade, initial, final, maxDD, maxDDPct float64) Metrics {
	m := Metrics{
		TotalTrades:        len(trades),
		TotalReturn:        final - initial,
		MaxDrawdown:        maxDD,
		MaxDrawdownPercent: maxDDPct,
	}
	m.TotalReturnPercent = ratio(m.TotalReturn, initial) * 100

	var grossWins, grossLosses float64
	returns := make([]float64, 0, len(trades))
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			m.WinningTrades++
			grossWins += t.PnL
		case t.PnL < 0:
			m.LosingTrades++
			grossLosses += -t.PnL
		}
		returns = append(returns, ratio(t.PnL, initial))
	}
	m.WinRate = ratio(float64(m.WinningTrades), float64(m.TotalTrades)) * 100
	m.AvgWin = ratio(grossWins, float64(m.WinningTrades))
	m.AvgLoss = ratio(grossLosses, float64(m.LosingTrades))
	m.ProfitFactor = ratio(grossWins, grossLosses)
	m.AvgRR = m.ProfitFactor

	if len(returns) > 0 {
		var sum float64
		for _, r := range returns {
			sum += r
		}
		mean := sum / float64(len(returns))
		var variance float64
		for _, r := range returns {
			variance += (r - mean) * (r - mean)
		}
		if std := math.Sqrt(variance / float64(len(returns))); std > 1e-12 {
			m.SharpeRatio = ratio(mean, std)
		}
	}
	m.CalmarRatio = ratio(m.TotalReturnPercent, math.Abs(maxDDPct))
	return m
}

// ratio 在分母为 0 或结果非有限值时返回 0。
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	v := num / den
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
