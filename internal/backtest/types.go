package backtest

import (
	"errors"
	"strings"
	"time"

	"tradegate/internal/market"
	"tradegate/internal/pkg/apperr"
	"tradegate/internal/strategy"
)

var (
	// ErrNoData 表示指定区间没有任何历史 K 线。
	ErrNoData = errors.New("no historical candles for the requested range")
	// ErrInsufficientBalance 表示余额不足以覆盖开仓成本。
	ErrInsufficientBalance = errors.New("insufficient balance to open position")
)

// Config 是一次回测的全部输入，运行期间不可修改。
type Config struct {
	StrategyID     string                  `json:"strategyId"`
	StrategyName   string                  `json:"strategyName"`
	Symbol         string                  `json:"symbol"`
	Timeframe      market.Timeframe        `json:"timeframe"`
	StartDate      time.Time               `json:"startDate"`
	EndDate        time.Time               `json:"endDate"`
	Strategy       strategy.StrategyConfig `json:"strategy"`
	InitialBalance float64                 `json:"initialBalance"`
	PositionSize   float64                 `json:"positionSize"`
	Commission     float64                 `json:"commission"`
	Slippage       float64                 `json:"slippage"`
}

// Validate 检查回测参数，返回 *apperr.ValidationError。
func (c Config) Validate() error {
	var v apperr.ValidationError
	if strings.TrimSpace(c.StrategyID) == "" {
		v.Add("strategyId is required")
	}
	if strings.TrimSpace(c.StrategyName) == "" {
		v.Add("strategyName is required")
	}
	if strings.TrimSpace(c.Symbol) == "" {
		v.Add("symbol is required")
	}
	if c.Timeframe == "" {
		v.Add("timeframe is required")
	} else if !c.Timeframe.Valid() {
		v.Add("timeframe %q is not supported", c.Timeframe)
	}
	if c.StartDate.IsZero() || c.EndDate.IsZero() {
		v.Add("startDate and endDate are required")
	} else if !c.StartDate.Before(c.EndDate) {
		v.Add("startDate must be before endDate")
	}
	if len(c.Strategy.Conditions) == 0 {
		v.Add("strategy must have at least one condition")
	}
	for _, s := range []struct {
		field string
		spec  strategy.StopSpec
	}{{"stopLoss", c.Strategy.StopLoss}, {"takeProfit", c.Strategy.TakeProfit}} {
		if s.spec.Mode != "" && !s.spec.Mode.Valid() {
			v.Add("strategy.%s.mode must be one of percent, absolute, atrMultiple", s.field)
		}
	}
	if c.InitialBalance <= 0 {
		v.Add("initialBalance must be > 0")
	}
	if c.PositionSize <= 0 {
		v.Add("positionSize must be > 0")
	}
	if c.Commission < 0 {
		v.Add("commission must be >= 0")
	}
	if c.Slippage < 0 {
		v.Add("slippage must be >= 0")
	}
	return v.OrNil()
}

// Trade 是一笔已平仓的模拟交易。PnL 为扣除双边手续费与滑点后的净盈亏。
type Trade struct {
	Side        strategy.SignalType `json:"side"`
	EntryTime   time.Time           `json:"entryTime"`
	ExitTime    time.Time           `json:"exitTime"`
	EntryPrice  float64             `json:"entryPrice"`
	ExitPrice   float64             `json:"exitPrice"`
	Quantity    float64             `json:"quantity"`
	GrossPnL    float64             `json:"grossPnl"`
	Commission  float64             `json:"commission"`
	Slippage    float64             `json:"slippage"`
	PnL         float64             `json:"pnl"`
	Balance     float64             `json:"balance"`
	Drawdown    float64             `json:"drawdown"`
	MaxDrawdown float64             `json:"maxDrawdown"`
}

type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Metrics 是整段回测的绩效统计，所有除零情况都返回 0。
type Metrics struct {
	TotalTrades        int     `json:"totalTrades"`
	WinningTrades      int     `json:"winningTrades"`
	LosingTrades       int     `json:"losingTrades"`
	WinRate            float64 `json:"winRate"`
	TotalReturn        float64 `json:"totalReturn"`
	TotalReturnPercent float64 `json:"totalReturnPercent"`
	MaxDrawdown        float64 `json:"maxDrawdown"`
	MaxDrawdownPercent float64 `json:"maxDrawdownPercent"`
	SharpeRatio        float64 `json:"sharpeRatio"`
	ProfitFactor       float64 `json:"profitFactor"`
	AvgWin             float64 `json:"avgWin"`
	AvgLoss            float64 `json:"avgLoss"`
	AvgRR              float64 `json:"avgRR"`
	CalmarRatio        float64 `json:"calmarRatio"`
}

type Result struct {
	ID           string        `json:"id"`
	Config       Config        `json:"config"`
	Candles      int           `json:"candles"`
	FinalBalance float64       `json:"finalBalance"`
	Trades       []Trade       `json:"trades"`
	Equity       []EquityPoint `json:"equity"`
	Metrics      Metrics       `json:"metrics"`
	CreatedAt    time.Time     `json:"createdAt"`
}
