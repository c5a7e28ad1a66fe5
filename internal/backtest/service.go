package backtest

import (
	"context"
	"time"

	"tradegate/internal/pkg/apperr"
)

// RunSummary 是历史回测列表中的一行。
type RunSummary struct {
	ID                 string    `json:"id"`
	StrategyID         string    `json:"strategyId"`
	Symbol             string    `json:"symbol"`
	Timeframe          string    `json:"timeframe"`
	InitialBalance     float64   `json:"initialBalance"`
	FinalBalance       float64   `json:"finalBalance"`
	TotalReturnPercent float64   `json:"totalReturnPercent"`
	TotalTrades        int       `json:"totalTrades"`
	CreatedAt          time.Time `json:"createdAt"`
}

// RunStore 持久化回测结果。
type RunStore interface {
	SaveBacktestRun(ctx context.Context, res *Result) error
	GetBacktestRun(ctx context.Context, id string) (*Result, error)
	ListBacktestRuns(ctx context.Context, limit int) ([]RunSummary, error)
}

// Service 限制并发回测数量并保存结果。
type Service struct {
	replayer *Replayer
	store    RunStore
	sem      chan struct{}
}

func NewService(replayer *Replayer, store RunStore, maxConcurrent int) *Service {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Service{replayer: replayer, store: store, sem: make(chan struct{}, maxConcurrent)}
}

// Run 执行回测；结果保存失败只记录日志，不影响返回。
func (s *Service) Run(ctx context.Context, cfg Config) (*Result, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()

	res, err := s.replayer.Run(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if s.store != nil {
		if err := s.store.SaveBacktestRun(context.WithoutCancel(ctx), res); err != nil {
			backtestLog.Errorf("保存回测结果失败 id=%s: %v", res.ID, err)
		}
	}
	return res, nil
}

func (s *Service) Validate(cfg Config) error { return cfg.Validate() }

func (s *Service) Examples() []Config { return Examples() }

func (s *Service) Results(ctx context.Context, limit int) ([]RunSummary, error) {
	if s.store == nil {
		return []RunSummary{}, nil
	}
	return s.store.ListBacktestRuns(ctx, limit)
}

func (s *Service) Result(ctx context.Context, id string) (*Result, error) {
	if s.store == nil {
		return nil, apperr.ErrNotFound
	}
	return s.store.GetBacktestRun(ctx, id)
}
