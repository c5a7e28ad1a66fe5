package apihttp

import (
	"encoding/json"
	"strings"
	"time"

	"tradegate/internal/pkg/apperr"
	"tradegate/internal/riskgate"
	"tradegate/internal/strategy"

	"github.com/gin-gonic/gin"
)

func (r *Router) handleLastSignal(c *gin.Context) {
	symbol, tf, err := symbolAndTimeframe(c.Query("symbol"), c.Query("timeframe"))
	if err != nil {
		fail(c, err)
		return
	}
	res, found := r.deps.Evaluator.LastSignal(symbol, tf)
	if !found {
		fail(c, apperr.ErrNotFound)
		return
	}
	ok(c, res)
}

func (r *Router) handleRecentSignals(c *gin.Context) {
	if r.deps.Signals == nil {
		ok(c, []strategy.SignalResult{})
		return
	}
	list, err := r.deps.Signals.RecentSignals(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, list)
}

type enqueueRequest struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	CloseTime string          `json:"closeTime"`
	Payload   json.RawMessage `json:"payload"`
}

func (r *Router) handleEnqueueSignal(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}
	symbol, tf, err := symbolAndTimeframe(req.Symbol, req.Timeframe)
	if err != nil {
		fail(c, err)
		return
	}
	closeTime, err := time.Parse(time.RFC3339, strings.TrimSpace(req.CloseTime))
	if err != nil {
		badRequest(c, "closeTime must be RFC3339")
		return
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		badRequest(c, "payload must be valid json")
		return
	}
	job := riskgate.NewJob(symbol, tf, closeTime, req.Payload)
	dup, err := r.deps.Submitter.Submit(c.Request.Context(), job)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"idempotencyKey": job.IdempotencyKey, "duplicate": dup})
}
