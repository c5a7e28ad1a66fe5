package exchange

import (
	"context"
	"time"

	"tradegate/internal/market"
)

// Exchange 是实盘下单所需的交易所能力。
type Exchange interface {
	Name() string
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	Positions(ctx context.Context) ([]Position, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
	WalletBalance(ctx context.Context) (WalletBalance, error)
}

// CandleFetcher 拉取历史 K 线，结果按时间正序。
type CandleFetcher interface {
	Klines(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time, limit int) ([]market.Candle, error)
}

// CandleStream 推送 K 线事件，直到 ctx 结束。
type CandleStream interface {
	Run(ctx context.Context, out chan<- market.CandleEvent) error
}
