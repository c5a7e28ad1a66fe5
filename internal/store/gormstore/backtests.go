package gormstore

import (
	"context"
	"encoding/json"
	"fmt"

	"tradegate/internal/backtest"
	storemodel "tradegate/internal/store/model"
)

var _ backtest.RunStore = (*GormStore)(nil)

func (s *GormStore) SaveBacktestRun(ctx context.Context, res *backtest.Result) error {
	if res == nil {
		return fmt.Errorf("nil backtest result")
	}
	cfgRaw, err := json.Marshal(res.Config)
	if err != nil {
		return fmt.Errorf("encode backtest config: %w", err)
	}
	resRaw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode backtest result: %w", err)
	}
	row := storemodel.BacktestRunModel{
		ID:                 res.ID,
		StrategyID:         res.Config.StrategyID,
		Symbol:             res.Config.Symbol,
		Timeframe:          string(res.Config.Timeframe),
		InitialBalance:     res.Config.InitialBalance,
		FinalBalance:       res.FinalBalance,
		TotalReturnPercent: res.Metrics.TotalReturnPercent,
		TotalTrades:        res.Metrics.TotalTrades,
		ConfigJSON:         cfgRaw,
		ResultJSON:         resRaw,
		CreatedAt:          res.CreatedAt.UTC(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) GetBacktestRun(ctx context.Context, id string) (*backtest.Result, error) {
	var row storemodel.BacktestRunModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	var res backtest.Result
	if err := json.Unmarshal(row.ResultJSON, &res); err != nil {
		return nil, fmt.Errorf("decode backtest %s: %w", id, err)
	}
	return &res, nil
}

// ListBacktestRuns 只读取摘要列，不解析完整结果。
func (s *GormStore) ListBacktestRuns(ctx context.Context, limit int) ([]backtest.RunSummary, error) {
	var rows []storemodel.BacktestRunModel
	err := s.db.WithContext(ctx).
		Select("id", "strategy_id", "symbol", "timeframe", "initial_balance", "final_balance", "total_return_percent", "total_trades", "created_at").
		Order("created_at DESC").
		Limit(clampLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]backtest.RunSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, backtest.RunSummary{
			ID:                 row.ID,
			StrategyID:         row.StrategyID,
			Symbol:             row.Symbol,
			Timeframe:          row.Timeframe,
			InitialBalance:     row.InitialBalance,
			FinalBalance:       row.FinalBalance,
			TotalReturnPercent: row.TotalReturnPercent,
			TotalTrades:        row.TotalTrades,
			CreatedAt:          row.CreatedAt.UTC(),
		})
	}
	return out, nil
}
