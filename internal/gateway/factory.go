package gateway

import (
	"fmt"
	"strings"

	"tradegate/internal/gateway/binance"
	"tradegate/internal/gateway/bybit"
	"tradegate/internal/gateway/exchange"
)

// NewCandleFetcher 按名称选择历史 K 线来源，bybit 复用已有的 REST 客户端。
func NewCandleFetcher(name string, client *bybit.Client) (exchange.CandleFetcher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bybit":
		if client == nil {
			return nil, fmt.Errorf("bybit client is nil")
		}
		return client, nil
	case "binance", "binance-futures":
		src, err := binance.New(binance.Config{})
		if err != nil {
			return nil, fmt.Errorf("初始化 binance 数据源失败: %w", err)
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unsupported candle source: %s", name)
	}
}
