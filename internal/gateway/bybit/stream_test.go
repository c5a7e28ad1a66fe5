package bybit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradegate/internal/market"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const klineFrame = `{"topic":"kline.60.BTCUSDT","type":"snapshot","ts":1704070800000,"data":[
{"start":1704067200000,"end":1704070799999,"interval":"60","open":"42000","close":"42100.5","high":"42200","low":"41900","volume":"12.5","turnover":"525000","confirm":%s,"timestamp":1704070800000}]}`

func klineMessage(confirm bool) []byte {
	v := "false"
	if confirm {
		v = "true"
	}
	return []byte(strings.Replace(klineFrame, "%s", v, 1))
}

func TestParseKlineMessage(t *testing.T) {
	events, err := ParseKlineMessage(klineMessage(true))
	require.NoError(t, err)
	require.Len(t, events, 1)
	evt := events[0]
	assert.Equal(t, "BTCUSDT", evt.Symbol)
	assert.Equal(t, market.TF1h, evt.Timeframe)
	assert.True(t, evt.Closed)
	assert.Equal(t, int64(1704067200000), evt.Candle.OpenTime)
	assert.Equal(t, int64(1704070799999), evt.Candle.CloseTime)
	assert.Equal(t, 42100.5, evt.Candle.Close)
	assert.Equal(t, 12.5, evt.Candle.Volume)

	open, err := ParseKlineMessage(klineMessage(false))
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.False(t, open[0].Closed)

	none, err := ParseKlineMessage([]byte(`{"success":true,"ret_msg":"pong","op":"ping"}`))
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = ParseKlineMessage([]byte(`not json`))
	assert.Error(t, err)
	_, err = ParseKlineMessage([]byte(`{"topic":"kline.7.BTCUSDT","data":[]}`))
	assert.Error(t, err)
}

func TestNewStreamTopics(t *testing.T) {
	s, err := NewStream("", false, []string{"btcusdt", "ETHUSDT"}, []market.Timeframe{market.TF1m, market.TF10m, market.TF4h})
	require.NoError(t, err)
	assert.Equal(t, MainnetStreamURL, s.url)
	assert.Equal(t, []string{"kline.1.BTCUSDT", "kline.1.ETHUSDT", "kline.240.BTCUSDT", "kline.240.ETHUSDT"}, s.Topics())

	ts, err := NewStream("", true, []string{"BTCUSDT"}, []market.Timeframe{market.TF1h})
	require.NoError(t, err)
	assert.Equal(t, TestnetStreamURL, ts.url)

	_, err = NewStream("", false, []string{"BTCUSDT"}, []market.Timeframe{market.TF10m})
	assert.Error(t, err)
}

func TestStreamForwardsOnlyClosedCandles(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan []string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub struct {
			Op   string   `json:"op"`
			Args []string `json:"args"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub.Args
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"success":true,"op":"subscribe"}`))
		_ = conn.WriteMessage(websocket.TextMessage, klineMessage(false))
		_ = conn.WriteMessage(websocket.TextMessage, klineMessage(true))
		// 保持连接直到客户端关闭
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s, err := NewStream("ws"+strings.TrimPrefix(srv.URL, "http"), false, []string{"BTCUSDT"}, []market.Timeframe{market.TF1h})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan market.CandleEvent, 4)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, out) }()

	select {
	case args := <-subscribed:
		assert.Equal(t, []string{"kline.60.BTCUSDT"}, args)
	case <-time.After(5 * time.Second):
		t.Fatal("no subscribe request")
	}
	select {
	case evt := <-out:
		assert.True(t, evt.Closed)
		assert.Equal(t, 42100.5, evt.Candle.Close)
	case <-time.After(5 * time.Second):
		t.Fatal("no candle forwarded")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
	}
	assert.Empty(t, out, "unconfirmed candle must not be forwarded")
}
