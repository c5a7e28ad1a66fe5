package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"tradegate/internal/gateway/exchange"
	"tradegate/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{APIKey: "key", APISecret: "secret", BaseURL: srv.URL, RateLimitPerSecond: 1000})
	c.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return c
}

func writeResult(w http.ResponseWriter, result any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"retCode": 0, "retMsg": "OK", "result": result})
}

func TestSign(t *testing.T) {
	// HMAC-SHA256("secret", "1700000000000key5000")
	got := Sign("secret", "1700000000000", "key", "5000")
	assert.Len(t, got, 64)
	assert.Equal(t, got, Sign("secret", "1700000000000", "key", "5000"))
	assert.NotEqual(t, got, Sign("other", "1700000000000", "key", "5000"))
}

func TestConfigDefaults(t *testing.T) {
	assert.Equal(t, MainnetURL, New(Config{}).BaseURL())
	assert.Equal(t, TestnetURL, New(Config{Testnet: true}).BaseURL())
	assert.Equal(t, "http://x", New(Config{BaseURL: "http://x/"}).BaseURL())
}

func TestKlinesInvertedAndPaged(t *testing.T) {
	var calls atomic.Int32
	const base = int64(1_700_000_000_000)
	start := time.UnixMilli(base)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/kline", r.URL.Path)
		assert.Equal(t, "linear", r.URL.Query().Get("category"))
		assert.Equal(t, "60", r.URL.Query().Get("interval"))
		assert.Empty(t, r.Header.Get("X-BAPI-SIGN"), "public endpoint is not signed")
		end, _ := strconv.ParseInt(r.URL.Query().Get("end"), 10, 64)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		calls.Add(1)
		// 共 5 根 1h K 线，newest first
		var rows [][]string
		for i := 4; i >= 0; i-- {
			ts := base + int64(i)*time.Hour.Milliseconds()
			if ts > end || len(rows) == limit {
				continue
			}
			p := strconv.Itoa(100 + i)
			rows = append(rows, []string{strconv.FormatInt(ts, 10), p, p, p, p, "1", "100"})
		}
		writeResult(w, map[string]any{"category": "linear", "symbol": "BTCUSDT", "list": rows})
	})

	candles, err := c.Klines(context.Background(), "btcusdt", market.TF1h, start, start.Add(10*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, candles, 5)
	for i, cd := range candles {
		assert.Equal(t, base+int64(i)*time.Hour.Milliseconds(), cd.OpenTime)
		assert.Equal(t, cd.OpenTime+time.Hour.Milliseconds()-1, cd.CloseTime)
		assert.Equal(t, float64(100+i), cd.Close)
	}

	limited, err := c.Klines(context.Background(), "BTCUSDT", market.TF1h, start, start.Add(10*time.Hour), 3)
	require.NoError(t, err)
	require.Len(t, limited, 3)
	assert.Equal(t, base+2*time.Hour.Milliseconds(), limited[0].OpenTime)

	_, err = c.Klines(context.Background(), "BTCUSDT", market.TF10m, start, start.Add(time.Hour), 0)
	assert.Error(t, err, "10m has no bybit interval")
}

func TestLastPriceAndAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "BADUSDT" {
			_ = json.NewEncoder(w).Encode(map[string]any{"retCode": 10001, "retMsg": "params error"})
			return
		}
		writeResult(w, map[string]any{"list": []map[string]string{{"symbol": "BTCUSDT", "lastPrice": "42000.5"}}})
	})
	price, err := c.LastPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 42000.5, price)

	_, err = c.LastPrice(context.Background(), "BADUSDT")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, int64(10001), apiErr.Code)
}

func TestPlaceOrderSignedRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v5/order/create", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-BAPI-API-KEY"))
		assert.Equal(t, "2", r.Header.Get("X-BAPI-SIGN-TYPE"))
		assert.Equal(t, "1700000000000", r.Header.Get("X-BAPI-TIMESTAMP"))
		assert.Equal(t, "5000", r.Header.Get("X-BAPI-RECV-WINDOW"))
		assert.Equal(t, Sign("secret", "1700000000000", "key", "5000"), r.Header.Get("X-BAPI-SIGN"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "linear", body["category"])
		assert.Equal(t, "BTCUSDT", body["symbol"])
		assert.Equal(t, "Buy", body["side"])
		assert.Equal(t, "Market", body["orderType"])
		assert.Equal(t, "50", body["qty"])
		assert.Equal(t, "IOC", body["timeInForce"])
		assert.Equal(t, "rsi-oversold", body["orderLinkId"])
		assert.Equal(t, "95", body["stopLoss"])
		_, hasPrice := body["price"]
		assert.False(t, hasPrice)

		writeResult(w, map[string]string{
			"orderId": "abc", "orderLinkId": "rsi-oversold", "orderStatus": "Filled",
			"avgPrice": "100.1", "cumExecQty": "50", "createdTime": "1700000000123",
		})
	})
	sl := 95.0
	resp, err := c.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTCUSDT", Side: exchange.SideBuy, OrderType: exchange.OrderTypeMarket,
		Qty: decimal.NewFromInt(50), OrderLinkID: "rsi-oversold", StopLoss: &sl,
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.OrderID)
	assert.Equal(t, "BTCUSDT", resp.Symbol)
	assert.Equal(t, exchange.SideBuy, resp.Side)
	assert.True(t, resp.AvgPrice.Equal(decimal.RequireFromString("100.1")))
	assert.True(t, resp.Qty.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), resp.CreatedTime)
}

func TestPositionsAndWallet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-BAPI-SIGN"))
		switch r.URL.Path {
		case "/v5/position/list":
			writeResult(w, map[string]any{"list": []map[string]string{
				{"symbol": "BTCUSDT", "side": "Buy", "size": "0.5", "avgPrice": "42000", "markPrice": "42100", "unrealisedPnl": "50"},
				{"symbol": "ETHUSDT", "side": "None", "size": "0"},
			}})
		case "/v5/account/wallet-balance":
			assert.Equal(t, "UNIFIED", r.URL.Query().Get("accountType"))
			writeResult(w, map[string]any{"list": []map[string]any{{
				"accountType": "UNIFIED", "totalEquity": "1000.5", "totalWalletBalance": "990",
				"totalAvailableBalance": "800",
				"coin": []map[string]string{{"coin": "USDT", "equity": "1000.5", "walletBalance": "990"}},
			}}})
		default:
			http.NotFound(w, r)
		}
	})
	positions, err := c.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, exchange.SideBuy, positions[0].Side)
	assert.Equal(t, 0.5, positions[0].Size)
	assert.Equal(t, 42000.0, positions[0].EntryPrice)

	wallet, err := c.WalletBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000.5, wallet.TotalEquity)
	require.Len(t, wallet.Coins, 1)
	assert.Equal(t, "USDT", wallet.Coins[0].Coin)
}

func TestSignedCallsNeedCredentials(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := c.Positions(context.Background())
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestHTTPFailuresTripBreaker(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	for i := 0; i < 5; i++ {
		_, err := c.LastPrice(context.Background(), "BTCUSDT")
		require.Error(t, err)
	}
	_, err := c.LastPrice(context.Background(), "BTCUSDT")
	assert.Error(t, err)
	assert.Equal(t, int32(5), calls.Load(), fmt.Sprintf("breaker should short-circuit, got %d calls", calls.Load()))
}
