package apihttp

import (
	"context"
	"strconv"

	"tradegate/internal/backtest"
	"tradegate/internal/executor"
	"tradegate/internal/gateway/exchange"
	"tradegate/internal/gateway/notifier"
	"tradegate/internal/metrics"
	"tradegate/internal/riskgate"
	"tradegate/internal/store/gormstore"
	"tradegate/internal/strategy"

	"github.com/gin-gonic/gin"
)

// StrategyStore 持久化经 API 创建的策略。
type StrategyStore interface {
	SaveStrategy(ctx context.Context, cfg strategy.StrategyConfig) error
	DeleteStrategy(ctx context.Context, id string) error
}

type SignalHistory interface {
	RecentSignals(ctx context.Context, limit int) ([]strategy.SignalResult, error)
}

// GateSubmitter 把手工提交的闸门任务写入队列。
type GateSubmitter interface {
	Submit(ctx context.Context, job riskgate.GateJob) (duplicate bool, err error)
}

// RuleGate 是运行中的风控闸门。
type RuleGate interface {
	Rules() riskgate.RuleConfig
	SetRules(rules riskgate.RuleConfig)
	SetKillSwitch(enabled bool) riskgate.RuleConfig
	State() *riskgate.State
}

type RuleStore interface {
	PublishRuleConfig(ctx context.Context, cfg riskgate.RuleConfig) (riskgate.RuleConfig, error)
	RuleConfigHistory(ctx context.Context, limit int) ([]gormstore.RuleConfigRecord, error)
}

type OrderHistory interface {
	RecentOrders(ctx context.Context, limit int) ([]executor.OrderRecord, error)
}

type MetricsSource interface {
	Snapshot() metrics.Snapshot
}

type Execution interface {
	Start(ctx context.Context) error
	Stop()
	Toggle(ctx context.Context, mode executor.Mode) error
	Status() executor.Status
	DailyStats() executor.DailyStats
	Positions() []exchange.Position
	Wallet(ctx context.Context) (exchange.WalletBalance, error)
}

type Backtests interface {
	Run(ctx context.Context, cfg backtest.Config) (*backtest.Result, error)
	Validate(cfg backtest.Config) error
	Examples() []backtest.Config
	Results(ctx context.Context, limit int) ([]backtest.RunSummary, error)
	Result(ctx context.Context, id string) (*backtest.Result, error)
}

// Deps 汇总路由依赖。Strategies、Signals、Rules、Orders、Metrics、Notifier 为 nil 时只使用内存状态。
type Deps struct {
	Registry   *strategy.Registry
	Evaluator  *strategy.Evaluator
	Strategies StrategyStore
	Signals    SignalHistory
	Submitter  GateSubmitter
	Gate       RuleGate
	Rules      RuleStore
	Execution  Execution
	Orders     OrderHistory
	Backtests  Backtests
	Metrics    MetricsSource
	Notifier   notifier.TextNotifier
}

type Router struct {
	deps Deps
}

func NewRouter(deps Deps) *Router {
	return &Router{deps: deps}
}

// Register 将全部接口挂载到 /api 分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	st := group.Group("/strategies")
	st.GET("", r.handleListStrategies)
	st.POST("", r.handleCreateStrategy)
	st.GET("/:id", r.handleGetStrategy)
	st.PUT("/:id", r.handleUpdateStrategy)
	st.DELETE("/:id", r.handleDeleteStrategy)
	st.POST("/:id/evaluate", r.handleEvaluateStrategy)
	st.POST("/:id/sltp", r.handleStrategySLTP)

	sig := group.Group("/signals")
	sig.GET("/last", r.handleLastSignal)
	sig.GET("/recent", r.handleRecentSignals)
	sig.POST("/enqueue", r.handleEnqueueSignal)

	rules := group.Group("/rules")
	rules.POST("/validate", r.handleValidateRules)
	rules.POST("/publish", r.handlePublishRules)
	rules.GET("/active", r.handleActiveRules)
	rules.GET("/history", r.handleRuleHistory)

	group.POST("/risk/killswitch", r.handleKillSwitch)
	group.GET("/risk/state", r.handleRiskState)
	group.GET("/metrics", r.handleMetrics)

	exec := group.Group("/execution")
	exec.GET("/positions", r.handlePositions)
	exec.GET("/daily-stats", r.handleDailyStats)
	exec.GET("/wallet", r.handleWallet)
	exec.GET("/status", r.handleExecutionStatus)
	exec.GET("/orders", r.handleRecentOrders)
	exec.POST("/toggle", r.handleToggleExecution)

	bt := group.Group("/backtest")
	bt.POST("/run", r.handleRunBacktest)
	bt.POST("/validate", r.handleValidateBacktest)
	bt.GET("/examples", r.handleBacktestExamples)
	bt.GET("/results", r.handleBacktestResults)
	bt.GET("/results/:id", r.handleBacktestResult)
	bt.GET("/results/:id/chart", r.handleBacktestChart)
}

// queryLimit 解析 ?limit=，非法值回落到默认值。
func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > 500 {
		n = 500
	}
	return n
}
