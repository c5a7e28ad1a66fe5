package apihttp

import (
	"tradegate/internal/executor"
	"tradegate/internal/metrics"

	"github.com/gin-gonic/gin"
)

func (r *Router) handlePositions(c *gin.Context) {
	ok(c, r.deps.Execution.Positions())
}

func (r *Router) handleDailyStats(c *gin.Context) {
	ok(c, r.deps.Execution.DailyStats())
}

func (r *Router) handleWallet(c *gin.Context) {
	wallet, err := r.deps.Execution.Wallet(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, wallet)
}

func (r *Router) handleExecutionStatus(c *gin.Context) {
	ok(c, r.deps.Execution.Status())
}

func (r *Router) handleRecentOrders(c *gin.Context) {
	if r.deps.Orders == nil {
		ok(c, []executor.OrderRecord{})
		return
	}
	list, err := r.deps.Orders.RecentOrders(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, list)
}

func (r *Router) handleMetrics(c *gin.Context) {
	if r.deps.Metrics == nil {
		ok(c, metrics.Snapshot{})
		return
	}
	ok(c, r.deps.Metrics.Snapshot())
}

type toggleRequest struct {
	Running *bool  `json:"running"`
	Mode    string `json:"mode"`
}

// handleToggleExecution 启停执行器，可选同时切换 paper/live 模式。
func (r *Router) handleToggleExecution(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}
	if req.Running == nil && req.Mode == "" {
		badRequest(c, "running or mode is required")
		return
	}
	ctx := c.Request.Context()
	if req.Mode != "" {
		mode, err := executor.ParseMode(req.Mode)
		if err != nil {
			badRequest(c, "%v", err)
			return
		}
		if err := r.deps.Execution.Toggle(ctx, mode); err != nil {
			fail(c, err)
			return
		}
	}
	if req.Running != nil {
		if *req.Running {
			if err := r.deps.Execution.Start(ctx); err != nil {
				fail(c, err)
				return
			}
		} else {
			r.deps.Execution.Stop()
		}
	}
	ok(c, r.deps.Execution.Status())
}
