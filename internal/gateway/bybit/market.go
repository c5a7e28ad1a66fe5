package bybit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradegate/internal/gateway/exchange"
	"tradegate/internal/market"

	"github.com/tidwall/gjson"
)

const (
	maxKlinePage  = 1000
	maxKlineTotal = 50000
)

var (
	_ exchange.Exchange      = (*Client)(nil)
	_ exchange.CandleFetcher = (*Client)(nil)
)

// Klines 拉取 [start, end] 区间的 K 线，自动向前翻页，返回正序结果。
// limit<=0 时不限制总量（上限 50000 根）。
func (c *Client) Klines(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time, limit int) ([]market.Candle, error) {
	interval, err := tf.BybitInterval()
	if err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if limit <= 0 || limit > maxKlineTotal {
		limit = maxKlineTotal
	}
	startMs := start.UnixMilli()
	cursor := end.UnixMilli()
	barMs := tf.Duration().Milliseconds()

	seen := make(map[int64]struct{})
	var out []market.Candle
	for len(out) < limit {
		page := maxKlinePage
		if rest := limit - len(out); rest < page {
			page = rest
		}
		q := url.Values{}
		q.Set("category", categoryLinear)
		q.Set("symbol", symbol)
		q.Set("interval", interval)
		q.Set("start", strconv.FormatInt(startMs, 10))
		q.Set("end", strconv.FormatInt(cursor, 10))
		q.Set("limit", strconv.Itoa(page))
		res, err := c.do(ctx, "GET", "/v5/market/kline", q, nil, false)
		if err != nil {
			return nil, err
		}
		rows := res.Get("list").Array()
		if len(rows) == 0 {
			break
		}
		oldest := cursor
		for _, row := range rows {
			candle, ok := parseKlineRow(row, barMs)
			if !ok {
				continue
			}
			if candle.OpenTime < oldest {
				oldest = candle.OpenTime
			}
			if _, dup := seen[candle.OpenTime]; dup {
				continue
			}
			seen[candle.OpenTime] = struct{}{}
			out = append(out, candle)
		}
		if len(rows) < page || oldest <= startMs || oldest >= cursor {
			break
		}
		cursor = oldest - 1
	}
	market.SortCandles(out)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	bybitLog.Debugf("klines %s %s fetched=%d", symbol, tf, len(out))
	return out, nil
}

func parseKlineRow(row gjson.Result, barMs int64) (market.Candle, bool) {
	cols := row.Array()
	if len(cols) < 6 {
		return market.Candle{}, false
	}
	openTime := cols[0].Int()
	if openTime <= 0 {
		return market.Candle{}, false
	}
	return market.Candle{
		OpenTime:  openTime,
		CloseTime: openTime + barMs - 1,
		Open:      cols[1].Float(),
		High:      cols[2].Float(),
		Low:       cols[3].Float(),
		Close:     cols[4].Float(),
		Volume:    cols[5].Float(),
	}, true
}

// LastPrice 返回 linear 合约最新成交价。
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("category", categoryLinear)
	q.Set("symbol", strings.ToUpper(strings.TrimSpace(symbol)))
	res, err := c.do(ctx, "GET", "/v5/market/tickers", q, nil, false)
	if err != nil {
		return 0, err
	}
	first := res.Get("list.0")
	if !first.Exists() {
		return 0, fmt.Errorf("no ticker for %s", symbol)
	}
	price, err := strconv.ParseFloat(first.Get("lastPrice").String(), 64)
	if err != nil {
		return 0, fmt.Errorf("parse lastPrice for %s: %w", symbol, err)
	}
	return price, nil
}
