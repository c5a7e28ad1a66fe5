package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tradegate/internal/executor"
	storemodel "tradegate/internal/store/model"

	"github.com/google/uuid"
)

var _ executor.OrderStore = (*GormStore)(nil)

// SaveOrder 记录一次成功执行，同一 order_id 重复写入时忽略。
func (s *GormStore) SaveOrder(ctx context.Context, rec executor.OrderRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	resp := rec.Response
	orderID := resp.OrderID
	if orderID == "" {
		orderID = "local_" + uuid.NewString()
	}
	created := resp.CreatedTime
	if created.IsZero() {
		created = time.Now()
	}
	row := storemodel.OrderModel{
		OrderID:     orderID,
		OrderLinkID: resp.OrderLinkID,
		Mode:        string(rec.Mode),
		Symbol:      resp.Symbol,
		Side:        string(resp.Side),
		OrderType:   string(resp.OrderType),
		Status:      resp.OrderStatus,
		Qty:         resp.Qty.String(),
		AvgPrice:    resp.AvgPrice.String(),
		Commission:  rec.Commission,
		StrategyID:  rec.StrategyID,
		RawJSON:     raw,
		CreatedAt:   created.UTC(),
	}
	return s.db.WithContext(ctx).Where(storemodel.OrderModel{OrderID: orderID}).FirstOrCreate(&row).Error
}

// RecentOrders 按创建时间倒序返回订单记录。
func (s *GormStore) RecentOrders(ctx context.Context, limit int) ([]executor.OrderRecord, error) {
	var rows []storemodel.OrderModel
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(clampLimit(limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]executor.OrderRecord, 0, len(rows))
	for _, row := range rows {
		var rec executor.OrderRecord
		if err := json.Unmarshal(row.RawJSON, &rec); err != nil {
			return nil, fmt.Errorf("decode order %s: %w", row.OrderID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
