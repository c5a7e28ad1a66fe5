package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genCandles(n int, start time.Time, tf Timeframe, price func(i int) float64) []Candle {
	out := make([]Candle, n)
	step := tf.Duration()
	for i := 0; i < n; i++ {
		open := start.Add(time.Duration(i) * step)
		p := price(i)
		out[i] = Candle{
			OpenTime:  open.UnixMilli(),
			CloseTime: open.Add(step).UnixMilli() - 1,
			Open:      p,
			High:      p + 1,
			Low:       p - 1,
			Close:     p,
			Volume:    10,
		}
	}
	return out
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 1H ")
	require.NoError(t, err)
	assert.Equal(t, TF1h, tf)
	assert.Equal(t, time.Hour, tf.Duration())

	_, err = ParseTimeframe("2h")
	assert.Error(t, err)

	iv, err := TF4h.BybitInterval()
	require.NoError(t, err)
	assert.Equal(t, "240", iv)
	_, err = TF10m.BybitInterval()
	assert.Error(t, err)

	back, ok := TimeframeFromBybit("60")
	assert.True(t, ok)
	assert.Equal(t, TF1h, back)
}

func TestSortCandlesInvertsNewestFirst(t *testing.T) {
	candles := []Candle{{OpenTime: 3}, {OpenTime: 2}, {OpenTime: 1}}
	SortCandles(candles)
	assert.Equal(t, int64(1), candles[0].OpenTime)
	assert.Equal(t, int64(3), candles[2].OpenTime)
}

func TestComputeSnapshot(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("not enough candles leaves fields empty", func(t *testing.T) {
		snap, err := ComputeSnapshot("BTCUSDT", TF1h, genCandles(10, start, TF1h, func(int) float64 { return 100 }), DefaultIndicatorParams())
		require.NoError(t, err)
		assert.Nil(t, snap.RSI)
		assert.Nil(t, snap.EMAShort)
		assert.Nil(t, snap.MACD)
		assert.Equal(t, 100.0, snap.Price)
	})

	t.Run("rising series saturates rsi", func(t *testing.T) {
		snap, err := ComputeSnapshot("BTCUSDT", TF1h, genCandles(60, start, TF1h, func(i int) float64 { return 100 + float64(i) }), DefaultIndicatorParams())
		require.NoError(t, err)
		require.NotNil(t, snap.RSI)
		assert.InDelta(t, 100, *snap.RSI, 1e-6)
		require.NotNil(t, snap.EMAShort)
		assert.Nil(t, snap.EMALong)
		require.NotNil(t, snap.ATR)
		assert.InDelta(t, 2, *snap.ATR, 1e-6)
		require.NotNil(t, snap.MACD)
		assert.Greater(t, *snap.MACD, 0.0)
	})

	t.Run("empty input errors", func(t *testing.T) {
		_, err := ComputeSnapshot("BTCUSDT", TF1h, nil, DefaultIndicatorParams())
		assert.Error(t, err)
	})
}

func TestIndicatorEngineBuffer(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	params := IndicatorParams{RSIPeriod: 14, EMAShortPeriod: 5, EMALongPeriod: 10, ATRPeriod: 14, MACDFast: 12, MACDSlow: 26, MACDSignal: 9}
	engine := NewIndicatorEngine(params)
	assert.Equal(t, 135, engine.limit)

	candles := genCandles(200, start, TF5m, func(i int) float64 { return 50 })
	engine.Load("ETHUSDT", TF5m, candles[:150])
	assert.Len(t, engine.Candles("ETHUSDT", TF5m), 135)

	snap, ok := engine.Update("ETHUSDT", TF5m, candles[150])
	require.True(t, ok)
	require.NotNil(t, snap.EMAShort)
	assert.InDelta(t, 50, *snap.EMAShort, 1e-9)
	assert.Len(t, engine.Candles("ETHUSDT", TF5m), 135)

	// 旧 K 线被忽略
	_, ok = engine.Update("ETHUSDT", TF5m, candles[10])
	assert.True(t, ok)
	last := engine.Candles("ETHUSDT", TF5m)
	assert.Equal(t, candles[150].OpenTime, last[len(last)-1].OpenTime)

	_, ok = engine.Snapshot("BTCUSDT", TF5m)
	assert.False(t, ok)
}
