package bybit

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradegate/internal/gateway/exchange"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

type createOrderBody struct {
	Category     string `json:"category"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	OrderType    string `json:"orderType"`
	Qty          string `json:"qty"`
	OrderLinkID  string `json:"orderLinkId,omitempty"`
	TimeInForce  string `json:"timeInForce"`
	Price        string `json:"price,omitempty"`
	TriggerPrice string `json:"triggerPrice,omitempty"`
	TakeProfit   string `json:"takeProfit,omitempty"`
	StopLoss     string `json:"stopLoss,omitempty"`
}

func formatOptional(v *float64) string {
	if v == nil || *v == 0 {
		return ""
	}
	return decimal.NewFromFloat(*v).String()
}

// PlaceOrder 调用 /v5/order/create。
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResponse, error) {
	tif := req.TimeInForce
	if tif == "" {
		tif = "IOC"
	}
	orderType := req.OrderType
	if orderType == "" {
		orderType = exchange.OrderTypeMarket
	}
	body := createOrderBody{
		Category:     categoryLinear,
		Symbol:       strings.ToUpper(req.Symbol),
		Side:         string(req.Side),
		OrderType:    string(orderType),
		Qty:          req.Qty.String(),
		OrderLinkID:  req.OrderLinkID,
		TimeInForce:  tif,
		Price:        formatOptional(req.Price),
		TriggerPrice: formatOptional(req.TriggerPrice),
		TakeProfit:   formatOptional(req.TakeProfit),
		StopLoss:     formatOptional(req.StopLoss),
	}
	res, err := c.do(ctx, "POST", "/v5/order/create", nil, body, true)
	if err != nil {
		bybitLog.Errorf("create order %s %s failed: %v", req.Side, req.Symbol, err)
		return nil, err
	}
	out := &exchange.OrderResponse{
		OrderID:      res.Get("orderId").String(),
		OrderLinkID:  res.Get("orderLinkId").String(),
		Symbol:       firstNonEmpty(res.Get("symbol").String(), body.Symbol),
		Side:         exchange.Side(firstNonEmpty(res.Get("side").String(), body.Side)),
		OrderType:    exchange.OrderType(firstNonEmpty(res.Get("orderType").String(), body.OrderType)),
		OrderStatus:  res.Get("orderStatus").String(),
		Price:        decimalField(res, "price"),
		Qty:          decimalField(res, "qty"),
		LeavesQty:    decimalField(res, "leavesQty"),
		CumExecQty:   decimalField(res, "cumExecQty"),
		CumExecValue: decimalField(res, "cumExecValue"),
		AvgPrice:     decimalField(res, "avgPrice"),
		TimeInForce:  firstNonEmpty(res.Get("timeInForce").String(), tif),
		TakeProfit:   req.TakeProfit,
		StopLoss:     req.StopLoss,
		CreatedTime:  millisField(res, "createdTime", c.now()),
		UpdatedTime:  millisField(res, "updatedTime", c.now()),
	}
	if out.Qty.IsZero() {
		out.Qty = req.Qty
	}
	return out, nil
}

// Positions 返回 size != 0 的 linear 持仓。
func (c *Client) Positions(ctx context.Context) ([]exchange.Position, error) {
	q := url.Values{}
	q.Set("category", categoryLinear)
	q.Set("settleCoin", "USDT")
	res, err := c.do(ctx, "GET", "/v5/position/list", q, nil, true)
	if err != nil {
		return nil, err
	}
	var out []exchange.Position
	for _, item := range res.Get("list").Array() {
		size := floatField(item, "size")
		if size == 0 {
			continue
		}
		side, _ := exchange.ParseSide(item.Get("side").String())
		out = append(out, exchange.Position{
			Symbol:        item.Get("symbol").String(),
			Side:          side,
			Size:          size,
			EntryPrice:    floatField(item, "avgPrice"),
			MarkPrice:     floatField(item, "markPrice"),
			UnrealizedPnl: floatField(item, "unrealisedPnl"),
			Leverage:      floatField(item, "leverage"),
			TakeProfit:    floatField(item, "takeProfit"),
			StopLoss:      floatField(item, "stopLoss"),
			CreatedTime:   millisField(item, "createdTime", time.Time{}),
			UpdatedTime:   millisField(item, "updatedTime", time.Time{}),
		})
	}
	return out, nil
}

// WalletBalance 查询统一账户余额。
func (c *Client) WalletBalance(ctx context.Context) (exchange.WalletBalance, error) {
	q := url.Values{}
	q.Set("accountType", "UNIFIED")
	res, err := c.do(ctx, "GET", "/v5/account/wallet-balance", q, nil, true)
	if err != nil {
		return exchange.WalletBalance{}, err
	}
	acct := res.Get("list.0")
	out := exchange.WalletBalance{
		AccountType:           acct.Get("accountType").String(),
		TotalEquity:           floatField(acct, "totalEquity"),
		TotalWalletBalance:    floatField(acct, "totalWalletBalance"),
		TotalAvailableBalance: floatField(acct, "totalAvailableBalance"),
		UpdatedAt:             c.now().UTC(),
	}
	for _, coin := range acct.Get("coin").Array() {
		out.Coins = append(out.Coins, exchange.CoinBalance{
			Coin:          coin.Get("coin").String(),
			Equity:        floatField(coin, "equity"),
			WalletBalance: floatField(coin, "walletBalance"),
			UnrealisedPnl: floatField(coin, "unrealisedPnl"),
			USDValue:      floatField(coin, "usdValue"),
		})
	}
	return out, nil
}

// Bybit 数值字段以字符串返回，空串按 0 处理。
func floatField(r gjson.Result, path string) float64 {
	raw := strings.TrimSpace(r.Get(path).String())
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

func decimalField(r gjson.Result, path string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(r.Get(path).String()))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func millisField(r gjson.Result, path string, fallback time.Time) time.Time {
	ms := r.Get(path).Int()
	if ms <= 0 {
		return fallback.UTC()
	}
	return time.UnixMilli(ms).UTC()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
