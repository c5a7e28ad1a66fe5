package riskgate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tradegate/internal/market"

	"github.com/tidwall/gjson"
)

// GateJob 是一次 "K 线收盘" 事件，身份由 IdempotencyKey 决定。
type GateJob struct {
	Symbol         string           `json:"symbol"`
	Timeframe      market.Timeframe `json:"timeframe"`
	CloseTime      time.Time        `json:"closeTime"`
	IdempotencyKey string           `json:"idempotencyKey"`
	Payload        json.RawMessage  `json:"payload,omitempty"`
}

// IdempotencyKey 形如 BTCUSDT:1h:2024-01-01T00:00:00Z。
func IdempotencyKey(symbol string, tf market.Timeframe, closeTime time.Time) string {
	return fmt.Sprintf("%s:%s:%s", strings.ToUpper(strings.TrimSpace(symbol)), tf, closeTime.UTC().Format(time.RFC3339))
}

func NewJob(symbol string, tf market.Timeframe, closeTime time.Time, payload json.RawMessage) GateJob {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return GateJob{
		Symbol:         symbol,
		Timeframe:      tf,
		CloseTime:      closeTime.UTC(),
		IdempotencyKey: IdempotencyKey(symbol, tf, closeTime),
		Payload:        payload,
	}
}

func (j GateJob) Validate() error {
	if strings.TrimSpace(j.Symbol) == "" {
		return fmt.Errorf("job symbol is required")
	}
	if !j.Timeframe.Valid() {
		return fmt.Errorf("job timeframe %q is not supported", j.Timeframe)
	}
	if j.CloseTime.IsZero() {
		return fmt.Errorf("job closeTime is required")
	}
	if strings.TrimSpace(j.IdempotencyKey) == "" {
		return fmt.Errorf("job idempotencyKey is required")
	}
	return nil
}

// ExpectedRR 读取 payload.expectedRR，只有数值类型才算存在。
func (j GateJob) ExpectedRR() (float64, bool) {
	if len(j.Payload) == 0 || !gjson.ValidBytes(j.Payload) {
		return 0, false
	}
	res := gjson.GetBytes(j.Payload, "expectedRR")
	if res.Type != gjson.Number {
		return 0, false
	}
	return res.Float(), true
}

func symbolTFKey(symbol string, tf market.Timeframe) string {
	return symbol + ":" + string(tf)
}
