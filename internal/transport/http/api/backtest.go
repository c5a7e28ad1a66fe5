package apihttp

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"tradegate/internal/backtest"
	"tradegate/internal/market"
	"tradegate/internal/pkg/apperr"
	"tradegate/internal/strategy"

	"github.com/gin-gonic/gin"
)

// backtestRequest 的日期既接受 2024-01-01 也接受 RFC3339。
type backtestRequest struct {
	StrategyID     string                  `json:"strategyId"`
	StrategyName   string                  `json:"strategyName"`
	Symbol         string                  `json:"symbol"`
	Timeframe      string                  `json:"timeframe"`
	StartDate      string                  `json:"startDate"`
	EndDate        string                  `json:"endDate"`
	Strategy       strategy.StrategyConfig `json:"strategy"`
	InitialBalance float64                 `json:"initialBalance"`
	PositionSize   float64                 `json:"positionSize"`
	Commission     float64                 `json:"commission"`
	Slippage       float64                 `json:"slippage"`
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, true
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func (req backtestRequest) toConfig() (backtest.Config, error) {
	start, okStart := parseDate(req.StartDate)
	end, okEnd := parseDate(req.EndDate)
	if !okStart || !okEnd {
		return backtest.Config{}, apperr.Validation("startDate and endDate must be YYYY-MM-DD or RFC3339")
	}
	return backtest.Config{
		StrategyID:     strings.TrimSpace(req.StrategyID),
		StrategyName:   strings.TrimSpace(req.StrategyName),
		Symbol:         strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Timeframe:      market.Timeframe(strings.ToLower(strings.TrimSpace(req.Timeframe))),
		StartDate:      start,
		EndDate:        end,
		Strategy:       req.Strategy,
		InitialBalance: req.InitialBalance,
		PositionSize:   req.PositionSize,
		Commission:     req.Commission,
		Slippage:       req.Slippage,
	}, nil
}

func bindBacktest(c *gin.Context) (backtest.Config, bool) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: %v", err)
		return backtest.Config{}, false
	}
	cfg, err := req.toConfig()
	if err != nil {
		fail(c, err)
		return cfg, false
	}
	return cfg, true
}

func (r *Router) handleRunBacktest(c *gin.Context) {
	cfg, bound := bindBacktest(c)
	if !bound {
		return
	}
	res, err := r.deps.Backtests.Run(c.Request.Context(), cfg)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, res)
}

func (r *Router) handleValidateBacktest(c *gin.Context) {
	cfg, bound := bindBacktest(c)
	if !bound {
		return
	}
	if err := r.deps.Backtests.Validate(cfg); err != nil {
		ok(c, gin.H{"valid": false, "errors": problemsOf(err)})
		return
	}
	ok(c, gin.H{"valid": true, "errors": []string{}})
}

func (r *Router) handleBacktestExamples(c *gin.Context) {
	ok(c, r.deps.Backtests.Examples())
}

func (r *Router) handleBacktestResults(c *gin.Context) {
	list, err := r.deps.Backtests.Results(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, list)
}

func (r *Router) handleBacktestResult(c *gin.Context) {
	res, err := r.deps.Backtests.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, res)
}

// handleBacktestChart 返回净值曲线 HTML 页面，不走 JSON 信封。
func (r *Router) handleBacktestChart(c *gin.Context) {
	res, err := r.deps.Backtests.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := backtest.RenderEquityChart(&buf, res); err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
