package market

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/markcheno/go-talib"
)

// IndicatorParams 描述指标周期参数。
type IndicatorParams struct {
	RSIPeriod      int `toml:"rsi_period" json:"rsi_period"`
	EMAShortPeriod int `toml:"ema_short_period" json:"ema_short_period"`
	EMALongPeriod  int `toml:"ema_long_period" json:"ema_long_period"`
	ATRPeriod      int `toml:"atr_period" json:"atr_period"`
	MACDFast       int `toml:"macd_fast" json:"macd_fast"`
	MACDSlow       int `toml:"macd_slow" json:"macd_slow"`
	MACDSignal     int `toml:"macd_signal" json:"macd_signal"`
}

func DefaultIndicatorParams() IndicatorParams {
	return IndicatorParams{
		RSIPeriod:      14,
		EMAShortPeriod: 50,
		EMALongPeriod:  200,
		ATRPeriod:      14,
		MACDFast:       12,
		MACDSlow:       26,
		MACDSignal:     9,
	}
}

func (p IndicatorParams) withDefaults() IndicatorParams {
	def := DefaultIndicatorParams()
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = def.RSIPeriod
	}
	if p.EMAShortPeriod <= 0 {
		p.EMAShortPeriod = def.EMAShortPeriod
	}
	if p.EMALongPeriod <= 0 {
		p.EMALongPeriod = def.EMALongPeriod
	}
	if p.ATRPeriod <= 0 {
		p.ATRPeriod = def.ATRPeriod
	}
	if p.MACDFast <= 0 {
		p.MACDFast = def.MACDFast
	}
	if p.MACDSlow <= 0 {
		p.MACDSlow = def.MACDSlow
	}
	if p.MACDSignal <= 0 {
		p.MACDSignal = def.MACDSignal
	}
	return p
}

// BufferSize 是每个 (symbol, timeframe) 保留的 K 线数量：最长周期 + 100。
func (p IndicatorParams) BufferSize() int {
	p = p.withDefaults()
	longest := p.RSIPeriod
	for _, v := range []int{p.EMAShortPeriod, p.EMALongPeriod, p.ATRPeriod, p.MACDSlow + p.MACDSignal} {
		if v > longest {
			longest = v
		}
	}
	return longest + 100
}

// ComputeSnapshot 基于按时间升序排列的 K 线计算最新一根的指标。
func ComputeSnapshot(symbol string, tf Timeframe, candles []Candle, params IndicatorParams) (IndicatorSnapshot, error) {
	snap := IndicatorSnapshot{Symbol: symbol, Timeframe: tf}
	if len(candles) == 0 {
		return snap, fmt.Errorf("no candles")
	}
	p := params.withDefaults()
	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	last := candles[n-1]
	snap.Price = last.Close
	snap.Timestamp = time.UnixMilli(last.CloseTime).UTC()

	if n > p.RSIPeriod {
		snap.RSI = lastValid(talib.Rsi(closes, p.RSIPeriod))
	}
	if n >= p.EMAShortPeriod {
		snap.EMAShort = lastValid(talib.Ema(closes, p.EMAShortPeriod))
	}
	if n >= p.EMALongPeriod {
		snap.EMALong = lastValid(talib.Ema(closes, p.EMALongPeriod))
	}
	if n > p.ATRPeriod {
		snap.ATR = lastValid(talib.Atr(highs, lows, closes, p.ATRPeriod))
	}
	if n >= p.MACDSlow+p.MACDSignal-1 {
		macd, signal, hist := talib.Macd(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
		snap.MACD = lastValid(macd)
		snap.MACDSignal = lastValid(signal)
		snap.MACDHistogram = lastValid(hist)
	}
	return snap, nil
}

func lastValid(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return Float(v)
}

// IndicatorEngine 维护每个 (symbol, timeframe) 的滚动 K 线缓冲并缓存最新快照。
type IndicatorEngine struct {
	params IndicatorParams
	limit  int

	mu        sync.RWMutex
	buffers   map[string][]Candle
	snapshots map[string]IndicatorSnapshot
}

func NewIndicatorEngine(params IndicatorParams) *IndicatorEngine {
	params = params.withDefaults()
	return &IndicatorEngine{
		params:    params,
		limit:     params.BufferSize(),
		buffers:   make(map[string][]Candle),
		snapshots: make(map[string]IndicatorSnapshot),
	}
}

func bufferKey(symbol string, tf Timeframe) string {
	return symbol + ":" + string(tf)
}

// Load 用历史 K 线预热缓冲区（会覆盖已有数据）。
func (e *IndicatorEngine) Load(symbol string, tf Timeframe, candles []Candle) {
	buf := make([]Candle, len(candles))
	copy(buf, candles)
	SortCandles(buf)
	if len(buf) > e.limit {
		buf = buf[len(buf)-e.limit:]
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	key := bufferKey(symbol, tf)
	e.buffers[key] = buf
	e.recomputeLocked(symbol, tf, key)
}

// Update 追加一根已收盘 K 线；与最后一根 OpenTime 相同时覆盖。
func (e *IndicatorEngine) Update(symbol string, tf Timeframe, c Candle) (IndicatorSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := bufferKey(symbol, tf)
	buf := e.buffers[key]
	switch {
	case len(buf) > 0 && buf[len(buf)-1].OpenTime == c.OpenTime:
		buf[len(buf)-1] = c
	case len(buf) > 0 && buf[len(buf)-1].OpenTime > c.OpenTime:
		snap, ok := e.snapshots[key]
		return snap, ok
	default:
		buf = append(buf, c)
	}
	if len(buf) > e.limit {
		buf = append([]Candle(nil), buf[len(buf)-e.limit:]...)
	}
	e.buffers[key] = buf
	return e.recomputeLocked(symbol, tf, key)
}

func (e *IndicatorEngine) recomputeLocked(symbol string, tf Timeframe, key string) (IndicatorSnapshot, bool) {
	snap, err := ComputeSnapshot(symbol, tf, e.buffers[key], e.params)
	if err != nil {
		delete(e.snapshots, key)
		return IndicatorSnapshot{}, false
	}
	e.snapshots[key] = snap
	return snap, true
}

// Snapshot 实现 IndicatorSource。
func (e *IndicatorEngine) Snapshot(symbol string, tf Timeframe) (IndicatorSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap, ok := e.snapshots[bufferKey(symbol, tf)]
	return snap, ok
}

// Candles 返回缓冲区副本。
func (e *IndicatorEngine) Candles(symbol string, tf Timeframe) []Candle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	buf := e.buffers[bufferKey(symbol, tf)]
	out := make([]Candle, len(buf))
	copy(out, buf)
	return out
}

func (e *IndicatorEngine) Params() IndicatorParams { return e.params }
