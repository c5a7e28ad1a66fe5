package market

import (
	"cmp"
	"slices"
	"time"
)

// Candle 是一根 K 线，时间均为毫秒时间戳。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

func (c Candle) CloseAt() time.Time {
	return time.UnixMilli(c.CloseTime).UTC()
}

// CandleEvent 是行情流推送的一次 K 线更新，Closed=true 表示该根已收盘。
type CandleEvent struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Candle    Candle    `json:"candle"`
	Closed    bool      `json:"closed"`
}

// SortCandles 按 OpenTime 升序排列（交易所经常倒序返回）。
func SortCandles(candles []Candle) {
	slices.SortStableFunc(candles, func(a, b Candle) int {
		return cmp.Compare(a.OpenTime, b.OpenTime)
	})
}
