package apihttp

import (
	"errors"
	"strings"

	"tradegate/internal/market"
	"tradegate/internal/pkg/apperr"
	"tradegate/internal/strategy"

	"github.com/gin-gonic/gin"
)

func (r *Router) handleListStrategies(c *gin.Context) {
	ok(c, r.deps.Registry.List())
}

func (r *Router) handleGetStrategy(c *gin.Context) {
	cfg, found := r.deps.Registry.Get(c.Param("id"))
	if !found {
		fail(c, apperr.ErrNotFound)
		return
	}
	ok(c, cfg)
}

func (r *Router) handleCreateStrategy(c *gin.Context) {
	cfg, err := r.decodeStrategy(c)
	if err != nil {
		fail(c, err)
		return
	}
	if _, exists := r.deps.Registry.Get(cfg.ID); exists {
		badRequest(c, "strategy %s already exists", cfg.ID)
		return
	}
	r.saveStrategy(c, cfg)
}

func (r *Router) handleUpdateStrategy(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, exists := r.deps.Registry.Get(id); !exists {
		fail(c, apperr.ErrNotFound)
		return
	}
	cfg, err := r.decodeStrategy(c)
	if err != nil {
		fail(c, err)
		return
	}
	if cfg.ID != id {
		badRequest(c, "body id %s does not match path id %s", cfg.ID, id)
		return
	}
	r.saveStrategy(c, cfg)
}

func (r *Router) handleDeleteStrategy(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	removed := r.deps.Registry.Remove(id)
	if r.deps.Strategies != nil {
		err := r.deps.Strategies.DeleteStrategy(c.Request.Context(), id)
		if err != nil && !(removed && errors.Is(err, apperr.ErrNotFound)) {
			fail(c, err)
			return
		}
		removed = removed || err == nil
	}
	if !removed {
		fail(c, apperr.ErrNotFound)
		return
	}
	ok(c, gin.H{"id": id, "deleted": true})
}

func (r *Router) decodeStrategy(c *gin.Context) (strategy.StrategyConfig, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return strategy.StrategyConfig{}, apperr.Validation("read body: %v", err)
	}
	return strategy.DecodeStrategyJSON(raw)
}

func (r *Router) saveStrategy(c *gin.Context, cfg strategy.StrategyConfig) {
	if r.deps.Strategies != nil {
		if err := r.deps.Strategies.SaveStrategy(c.Request.Context(), cfg); err != nil {
			fail(c, err)
			return
		}
	}
	if err := r.deps.Registry.Upsert(cfg); err != nil {
		fail(c, err)
		return
	}
	saved, _ := r.deps.Registry.Get(cfg.ID)
	ok(c, saved)
}

type evaluateRequest struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

func (r *Router) handleEvaluateStrategy(c *gin.Context) {
	cfg, found := r.deps.Registry.Get(c.Param("id"))
	if !found {
		fail(c, apperr.ErrNotFound)
		return
	}
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}
	symbol, tf, err := symbolAndTimeframe(req.Symbol, req.Timeframe)
	if err != nil {
		fail(c, err)
		return
	}
	res, ready := r.deps.Evaluator.EvaluateOne(cfg, symbol, tf)
	if !ready {
		fail(c, apperr.ErrNotFound)
		return
	}
	ok(c, res)
}

type sltpRequest struct {
	EntryPrice float64  `json:"entryPrice"`
	ATR        *float64 `json:"atr"`
}

func (r *Router) handleStrategySLTP(c *gin.Context) {
	cfg, found := r.deps.Registry.Get(c.Param("id"))
	if !found {
		fail(c, apperr.ErrNotFound)
		return
	}
	var req sltpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}
	if req.EntryPrice <= 0 {
		badRequest(c, "entryPrice must be > 0")
		return
	}
	levels, err := strategy.CalculateStopLossAndTakeProfit(cfg, req.EntryPrice, req.ATR)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, levels)
}

func symbolAndTimeframe(rawSymbol, rawTF string) (string, market.Timeframe, error) {
	var v apperr.ValidationError
	symbol := strings.ToUpper(strings.TrimSpace(rawSymbol))
	if symbol == "" {
		v.Add("symbol is required")
	}
	tf, err := market.ParseTimeframe(rawTF)
	if err != nil {
		v.Add("timeframe %q is not supported", rawTF)
	}
	return symbol, tf, v.OrNil()
}
