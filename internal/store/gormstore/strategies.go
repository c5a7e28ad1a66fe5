package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tradegate/internal/pkg/apperr"
	"tradegate/internal/strategy"
	storemodel "tradegate/internal/store/model"

	"gorm.io/gorm/clause"
)

// SaveStrategy 按 id 新增或覆盖策略。
func (s *GormStore) SaveStrategy(ctx context.Context, cfg strategy.StrategyConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode strategy %s: %w", cfg.ID, err)
	}
	now := time.Now().UTC()
	row := storemodel.StrategyModel{
		ID:         cfg.ID,
		Name:       cfg.Name,
		Enabled:    cfg.Enabled,
		ConfigJSON: raw,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "enabled", "config_json", "updated_at"}),
		}).
		Create(&row).Error
}

func (s *GormStore) DeleteStrategy(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&storemodel.StrategyModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *GormStore) GetStrategy(ctx context.Context, id string) (strategy.StrategyConfig, error) {
	var row storemodel.StrategyModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return strategy.StrategyConfig{}, notFound(err)
	}
	return decodeStrategy(row)
}

// ListStrategies 返回全部持久化策略，按 id 排序。
func (s *GormStore) ListStrategies(ctx context.Context) ([]strategy.StrategyConfig, error) {
	var rows []storemodel.StrategyModel
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]strategy.StrategyConfig, 0, len(rows))
	for _, row := range rows {
		cfg, err := decodeStrategy(row)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func decodeStrategy(row storemodel.StrategyModel) (strategy.StrategyConfig, error) {
	var cfg strategy.StrategyConfig
	if err := json.Unmarshal(row.ConfigJSON, &cfg); err != nil {
		return cfg, fmt.Errorf("decode strategy %s: %w", row.ID, err)
	}
	cfg.Enabled = row.Enabled
	return cfg, nil
}
