package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"tradegate/internal/gateway/exchange"
	"tradegate/internal/queue"
	"tradegate/internal/riskgate"
	"tradegate/internal/strategy"
)

// Gate 是风控闸门。
type Gate interface {
	Process(ctx context.Context, job riskgate.GateJob) (riskgate.Outcome, error)
}

// SignalExecutor 执行通过闸门的信号。
type SignalExecutor interface {
	ExecuteSignal(ctx context.Context, sig strategy.SignalResult) (*exchange.OrderResponse, error)
}

// GateHandler 是队列 worker 的处理函数：过闸门，通过后逐个执行信号。
type GateHandler struct {
	gate Gate
	exec SignalExecutor
}

func NewGateHandler(gate Gate, exec SignalExecutor) *GateHandler {
	return &GateHandler{gate: gate, exec: exec}
}

// Handle 实现 queue.Handler。被拦截不算失败，执行失败也不会触发重试。
func (h *GateHandler) Handle(ctx context.Context, job queue.Job) error {
	var gj riskgate.GateJob
	if err := json.Unmarshal(job.Payload, &gj); err != nil {
		return queue.Permanent(fmt.Errorf("decode gate job %s: %w", job.ID, err))
	}
	out, err := h.gate.Process(ctx, gj)
	if err != nil {
		if errors.Is(err, riskgate.ErrInvalidJob) {
			return queue.Permanent(err)
		}
		return err
	}
	if !out.OK || h.exec == nil {
		return nil
	}
	var payload GatePayload
	if len(gj.Payload) > 0 {
		if err := json.Unmarshal(gj.Payload, &payload); err != nil {
			pipeLog.Warnf("gate job %s payload undecodable, nothing to execute: %v", gj.IdempotencyKey, err)
			return nil
		}
	}
	for _, sig := range payload.Signals {
		if !sig.Actionable() {
			continue
		}
		h.execute(ctx, gj.IdempotencyKey, sig)
	}
	return nil
}

func (h *GateHandler) execute(ctx context.Context, key string, sig strategy.SignalResult) {
	defer func() {
		if r := recover(); r != nil {
			pipeLog.Errorf("execute %s %s panic: %v\n%s", key, sig.StrategyID, r, debug.Stack())
		}
	}()
	resp, err := h.exec.ExecuteSignal(ctx, sig)
	switch {
	case err != nil:
		pipeLog.Errorf("execute %s %s failed: %v", key, sig.StrategyID, err)
	case resp == nil:
		pipeLog.Infof("execute %s %s skipped", key, sig.StrategyID)
	default:
		pipeLog.Infof("execute %s %s order=%s", key, sig.StrategyID, resp.OrderID)
	}
}
