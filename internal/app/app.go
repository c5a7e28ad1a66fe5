package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tradegate/internal/backtest"
	"tradegate/internal/cache"
	"tradegate/internal/config"
	"tradegate/internal/executor"
	"tradegate/internal/gateway/exchange"
	"tradegate/internal/logger"
	"tradegate/internal/market"
	"tradegate/internal/metrics"
	"tradegate/internal/pipeline"
	"tradegate/internal/queue"
	"tradegate/internal/riskgate"
	"tradegate/internal/store/gormstore"
	"tradegate/internal/strategy"
	apihttp "tradegate/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// cacheSweepInterval 是内存缓存清理过期键的周期。
const cacheSweepInterval = time.Minute

// App 负责应用级编排：加载配置→初始化依赖→启动行情、闸门队列、执行器与 HTTP 服务。
type App struct {
	cfg *config.Config

	store      *gormstore.GormStore
	metrics    *metrics.Registry
	gate       *riskgate.Pipeline
	queue      *queue.Queue
	cache      *cache.Memory
	exec       *executor.Executor
	registry   *strategy.Registry
	engine     *market.IndicatorEngine
	evaluator  *strategy.Evaluator
	dispatcher *pipeline.Dispatcher
	handler    *pipeline.GateHandler
	backtests  *backtest.Service
	http       *apihttp.Server

	fetcher    exchange.CandleFetcher
	stream     exchange.CandleStream
	symbols    []string
	timeframes []market.Timeframe

	closers []func() error
	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动全部后台任务，任一任务出错或 ctx 结束时整体退出。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}
	if a.cfg.Execution.AutoStart {
		if err := a.exec.Start(ctx); err != nil {
			return fmt.Errorf("启动执行器失败: %w", err)
		}
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return a.queue.Run(ctx, a.handler.Handle)
	})

	group.Go(func() error {
		a.cache.RunJanitor(ctx, cacheSweepInterval)
		return nil
	})

	if a.stream != nil {
		group.Go(func() error {
			loaded := a.dispatcher.Warmup(ctx, a.fetcher, a.symbols, a.timeframes)
			appLog.Infof("✓ 指标预热完成 %d/%d", loaded, len(a.symbols)*len(a.timeframes))
			err := a.dispatcher.Run(ctx, a.stream)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("行情链路退出: %w", err)
			}
			return nil
		})
	} else {
		appLog.Warnf("未配置实时行情源，只接受 API 手工提交的闸门任务")
	}

	err := group.Wait()
	a.exec.Stop()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close 逆序释放构建时打开的资源，可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			appLog.Warnf("close resource failed: %v", err)
		}
	}
	a.closers = nil
}

// HTTPHandler 暴露 API 路由，便于测试直接发请求。
func (a *App) HTTPHandler() http.Handler {
	if a == nil || a.http == nil {
		return nil
	}
	return a.http.Handler()
}

// Dispatcher 暴露行情调度器，供回放工具手工喂 K 线。
func (a *App) Dispatcher() *pipeline.Dispatcher {
	if a == nil {
		return nil
	}
	return a.dispatcher
}
