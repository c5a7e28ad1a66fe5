package gormstore

import (
	"context"
	"encoding/json"
	"time"

	"tradegate/internal/market"
	"tradegate/internal/strategy"
	storemodel "tradegate/internal/store/model"
)

func (s *GormStore) SaveSignal(ctx context.Context, sig strategy.SignalResult) error {
	reasons, err := json.Marshal(sig.Reasons)
	if err != nil {
		return err
	}
	row := storemodel.SignalModel{
		StrategyID:   sig.StrategyID,
		StrategyName: sig.StrategyName,
		Symbol:       sig.Symbol,
		Timeframe:    string(sig.Timeframe),
		Signal:       string(sig.Signal),
		Confidence:   sig.Confidence,
		Price:        sig.Price,
		StopLoss:     sig.StopLoss,
		TakeProfit:   sig.TakeProfit,
		ReasonsJSON:  reasons,
		EvaluatedAt:  sig.Timestamp.UTC(),
		CreatedAt:    time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// RecentSignals 按评估时间倒序返回最近的信号。
func (s *GormStore) RecentSignals(ctx context.Context, limit int) ([]strategy.SignalResult, error) {
	var rows []storemodel.SignalModel
	if err := s.db.WithContext(ctx).Order("evaluated_at DESC, id DESC").Limit(clampLimit(limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]strategy.SignalResult, 0, len(rows))
	for _, row := range rows {
		var reasons []string
		_ = json.Unmarshal(row.ReasonsJSON, &reasons)
		out = append(out, strategy.SignalResult{
			Symbol:       row.Symbol,
			Timeframe:    market.Timeframe(row.Timeframe),
			Signal:       strategy.SignalType(row.Signal),
			Confidence:   row.Confidence,
			Reasons:      reasons,
			Timestamp:    row.EvaluatedAt.UTC(),
			StrategyID:   row.StrategyID,
			StrategyName: row.StrategyName,
			Price:        row.Price,
			StopLoss:     row.StopLoss,
			TakeProfit:   row.TakeProfit,
		})
	}
	return out, nil
}
