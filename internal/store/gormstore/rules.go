package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tradegate/internal/riskgate"
	storemodel "tradegate/internal/store/model"

	"gorm.io/gorm"
)

// RuleConfigRecord 是一次规则发布的历史记录。
type RuleConfigRecord struct {
	Version     int                 `json:"version"`
	Active      bool                `json:"active"`
	PublishedAt time.Time           `json:"publishedAt"`
	Config      riskgate.RuleConfig `json:"config"`
}

// PublishRuleConfig 以新版本号保存规则并设为唯一生效版本。
func (s *GormStore) PublishRuleConfig(ctx context.Context, cfg riskgate.RuleConfig) (riskgate.RuleConfig, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest int
		if err := tx.Model(&storemodel.RuleConfigModel{}).Select("COALESCE(MAX(version), 0)").Scan(&latest).Error; err != nil {
			return err
		}
		cfg.Version = latest + 1
		raw, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode rule config: %w", err)
		}
		if err := tx.Model(&storemodel.RuleConfigModel{}).Where("active = ?", true).Update("active", false).Error; err != nil {
			return err
		}
		return tx.Create(&storemodel.RuleConfigModel{
			Version:     cfg.Version,
			Active:      true,
			ConfigJSON:  raw,
			PublishedAt: time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return riskgate.RuleConfig{}, err
	}
	return cfg, nil
}

func (s *GormStore) ActiveRuleConfig(ctx context.Context) (riskgate.RuleConfig, error) {
	var row storemodel.RuleConfigModel
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("version DESC").First(&row).Error; err != nil {
		return riskgate.RuleConfig{}, notFound(err)
	}
	rec, err := decodeRuleRow(row)
	return rec.Config, err
}

// RuleConfigHistory 按版本倒序返回发布历史。
func (s *GormStore) RuleConfigHistory(ctx context.Context, limit int) ([]RuleConfigRecord, error) {
	var rows []storemodel.RuleConfigModel
	if err := s.db.WithContext(ctx).Order("version DESC").Limit(clampLimit(limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]RuleConfigRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeRuleRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeRuleRow(row storemodel.RuleConfigModel) (RuleConfigRecord, error) {
	rec := RuleConfigRecord{Version: row.Version, Active: row.Active, PublishedAt: row.PublishedAt.UTC()}
	if err := json.Unmarshal(row.ConfigJSON, &rec.Config); err != nil {
		return rec, fmt.Errorf("decode rule config v%d: %w", row.Version, err)
	}
	rec.Config.Version = row.Version
	return rec, nil
}
