package market

import "time"

// IndicatorSnapshot 是某 (symbol, timeframe) 在最近一根收盘 K 线上的指标值。
// 数据不足时对应字段为 nil。
type IndicatorSnapshot struct {
	Symbol        string    `json:"symbol"`
	Timeframe     Timeframe `json:"timeframe"`
	Timestamp     time.Time `json:"timestamp"`
	Price         float64   `json:"price"`
	RSI           *float64  `json:"rsi,omitempty"`
	EMAShort      *float64  `json:"ema_short,omitempty"`
	EMALong       *float64  `json:"ema_long,omitempty"`
	ATR           *float64  `json:"atr,omitempty"`
	MACD          *float64  `json:"macd,omitempty"`
	MACDSignal    *float64  `json:"macd_signal,omitempty"`
	MACDHistogram *float64  `json:"macd_histogram,omitempty"`
}

// Float 返回一个指向 v 的指针，便于构造快照。
func Float(v float64) *float64 {
	return &v
}
