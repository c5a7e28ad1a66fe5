package exchange

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func ParseSide(raw string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long":
		return SideBuy, true
	case "sell", "short":
		return SideSell, true
	default:
		return "", false
	}
}

type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// OrderRequest 创建后不再修改。Qty 为标的币数量，与 Bybit 线性合约的 qty 一致。
type OrderRequest struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	OrderType    OrderType       `json:"orderType"`
	Qty          decimal.Decimal `json:"qty"`
	Price        *float64        `json:"price,omitempty"`
	TriggerPrice *float64        `json:"triggerPrice,omitempty"`
	TakeProfit   *float64        `json:"takeProfit,omitempty"`
	StopLoss     *float64        `json:"stopLoss,omitempty"`
	TimeInForce  string          `json:"timeInForce,omitempty"`
	OrderLinkID  string          `json:"orderLinkId,omitempty"`
}

// OrderResponse 对应交易所返回的成交状态。
type OrderResponse struct {
	OrderID      string          `json:"orderId"`
	OrderLinkID  string          `json:"orderLinkId,omitempty"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	OrderType    OrderType       `json:"orderType"`
	OrderStatus  string          `json:"orderStatus"`
	Price        decimal.Decimal `json:"price"`
	Qty          decimal.Decimal `json:"qty"`
	LeavesQty    decimal.Decimal `json:"leavesQty"`
	CumExecQty   decimal.Decimal `json:"cumExecQty"`
	CumExecValue decimal.Decimal `json:"cumExecValue"`
	AvgPrice     decimal.Decimal `json:"avgPrice"`
	TimeInForce  string          `json:"timeInForce,omitempty"`
	TakeProfit   *float64        `json:"takeProfit,omitempty"`
	StopLoss     *float64        `json:"stopLoss,omitempty"`
	CreatedTime  time.Time       `json:"createdTime"`
	UpdatedTime  time.Time       `json:"updatedTime"`
}

type Position struct {
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entryPrice"`
	MarkPrice     float64   `json:"markPrice"`
	UnrealizedPnl float64   `json:"unrealizedPnl"`
	Leverage      float64   `json:"leverage"`
	TakeProfit    float64   `json:"takeProfit,omitempty"`
	StopLoss      float64   `json:"stopLoss,omitempty"`
	CreatedTime   time.Time `json:"createdTime"`
	UpdatedTime   time.Time `json:"updatedTime"`
}

type CoinBalance struct {
	Coin          string  `json:"coin"`
	Equity        float64 `json:"equity"`
	WalletBalance float64 `json:"walletBalance"`
	UnrealisedPnl float64 `json:"unrealisedPnl"`
	USDValue      float64 `json:"usdValue"`
}

type WalletBalance struct {
	AccountType           string        `json:"accountType"`
	TotalEquity           float64       `json:"totalEquity"`
	TotalWalletBalance    float64       `json:"totalWalletBalance"`
	TotalAvailableBalance float64       `json:"totalAvailableBalance"`
	Coins                 []CoinBalance `json:"coins"`
	UpdatedAt             time.Time     `json:"updatedAt"`
}
