package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradegate/internal/cache"

	"golang.org/x/sync/singleflight"
)

// ErrNoPrice 表示拿不到当前价格，信号会被丢弃。
var ErrNoPrice = errors.New("price not available")

// priceFetchTimeout 限制合并后的那次取价请求，它不跟随任何单个调用方取消。
const priceFetchTimeout = 5 * time.Second

type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// PriceLookup 先查缓存，未命中时去交易所取最新价，并发的未命中合并为一次请求。
type PriceLookup struct {
	cache  cache.Cache
	source PriceSource
	ttl    time.Duration
	group  singleflight.Group
}

func NewPriceLookup(c cache.Cache, source PriceSource, ttl time.Duration) *PriceLookup {
	if c == nil {
		c = cache.Nop{}
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &PriceLookup{cache: c, source: source, ttl: ttl}
}

func priceKey(symbol string) string {
	return "price:" + strings.ToUpper(strings.TrimSpace(symbol))
}

func (p *PriceLookup) Get(ctx context.Context, symbol string) (float64, error) {
	key := priceKey(symbol)
	if raw, ok := p.cache.Get(ctx, key); ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			return v, nil
		}
	}
	if p.source == nil {
		return 0, ErrNoPrice
	}
	ch := p.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), priceFetchTimeout)
		defer cancel()
		price, err := p.source.LastPrice(fctx, strings.ToUpper(strings.TrimSpace(symbol)))
		if err != nil {
			return 0.0, err
		}
		if price <= 0 {
			return 0.0, ErrNoPrice
		}
		p.cache.Set(fctx, key, strconv.FormatFloat(price, 'f', -1, 64), p.ttl)
		return price, nil
	})
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %s: %v", ErrNoPrice, symbol, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrNoPrice, symbol, res.Err)
		}
		return res.Val.(float64), nil
	}
}
