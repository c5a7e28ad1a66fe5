package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradegate/internal/gateway/exchange"
	"tradegate/internal/logger"
	"tradegate/internal/market"

	"github.com/adshao/go-binance/v2/futures"
)

const (
	maxPageLimit  = 1500
	maxTotalLimit = 50000
)

var (
	binanceLog = logger.Named("binance")

	_ exchange.CandleFetcher = (*Source)(nil)
)

// Source 基于 go-binance SDK 拉取 U 本位合约历史 K 线，供回测使用。
type Source struct {
	cfg    Config
	client *futures.Client
	now    func() time.Time
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Source{cfg: final, client: client, now: time.Now}, nil
}

func (s *Source) Name() string { return "binance" }

// Klines 从 start 向后翻页拉取至 end，只返回已收盘的 K 线。
func (s *Source) Klines(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time, limit int) ([]market.Candle, error) {
	interval, err := binanceInterval(tf)
	if err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if limit <= 0 || limit > maxTotalLimit {
		limit = maxTotalLimit
	}
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()
	nowMs := s.now().UnixMilli()

	var out []market.Candle
	for len(out) < limit && cursor <= endMs {
		page := min(maxPageLimit, limit-len(out))
		kls, err := s.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(cursor).
			EndTime(endMs).
			Limit(page).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("binance klines %s %s: %w", symbol, tf, err)
		}
		last := cursor
		for _, kl := range kls {
			if kl == nil || kl.OpenTime < cursor {
				continue
			}
			last = kl.OpenTime
			if kl.CloseTime >= nowMs {
				continue
			}
			out = append(out, market.Candle{
				OpenTime:  kl.OpenTime,
				CloseTime: kl.CloseTime,
				Open:      parseFloat(kl.Open),
				High:      parseFloat(kl.High),
				Low:       parseFloat(kl.Low),
				Close:     parseFloat(kl.Close),
				Volume:    parseFloat(kl.Volume),
			})
		}
		if len(kls) < page {
			break
		}
		cursor = last + 1
	}
	market.SortCandles(out)
	if len(out) > limit {
		out = out[:limit]
	}
	binanceLog.Debugf("klines %s %s fetched=%d", symbol, tf, len(out))
	return out, nil
}

// LastPrice 返回最新成交价。
func (s *Source) LastPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	prices, err := s.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance price %s: %w", symbol, err)
	}
	for _, p := range prices {
		if p != nil && p.Symbol == symbol {
			return strconv.ParseFloat(p.Price, 64)
		}
	}
	return 0, fmt.Errorf("no price for %s", symbol)
}

func binanceInterval(tf market.Timeframe) (string, error) {
	switch tf {
	case market.TF1m, market.TF3m, market.TF5m, market.TF15m, market.TF1h, market.TF4h:
		return string(tf), nil
	default:
		return "", fmt.Errorf("binance does not support timeframe %s", tf)
	}
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
