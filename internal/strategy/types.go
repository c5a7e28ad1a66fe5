package strategy

import (
	"fmt"
	"strings"
	"time"

	"tradegate/internal/market"
	"tradegate/internal/pkg/apperr"
)

// Indicator 是条件可引用的指标种类。
type Indicator int

const (
	IndicatorRSI Indicator = iota + 1
	IndicatorEMAShort
	IndicatorEMALong
	IndicatorATR
	IndicatorMACD
	IndicatorMACDSignal
	IndicatorMACDHistogram
)

var indicatorNames = map[Indicator]string{
	IndicatorRSI:           "rsi",
	IndicatorEMAShort:      "ema_short",
	IndicatorEMALong:       "ema_long",
	IndicatorATR:           "atr",
	IndicatorMACD:          "macd",
	IndicatorMACDSignal:    "macd_signal",
	IndicatorMACDHistogram: "macd_histogram",
}

var indicatorLabels = map[Indicator]string{
	IndicatorRSI:           "RSI",
	IndicatorEMAShort:      "EMA Short",
	IndicatorEMALong:       "EMA Long",
	IndicatorATR:           "ATR",
	IndicatorMACD:          "MACD",
	IndicatorMACDSignal:    "MACD Signal",
	IndicatorMACDHistogram: "MACD Histogram",
}

func ParseIndicator(raw string) (Indicator, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for k, v := range indicatorNames {
		if v == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown indicator %q", raw)
}

func (i Indicator) String() string { return indicatorNames[i] }

// Label 是写入 reason 的展示名。
func (i Indicator) Label() string { return indicatorLabels[i] }

func (i Indicator) MarshalText() ([]byte, error) {
	name, ok := indicatorNames[i]
	if !ok {
		return nil, fmt.Errorf("invalid indicator %d", int(i))
	}
	return []byte(name), nil
}

func (i *Indicator) UnmarshalText(b []byte) error {
	v, err := ParseIndicator(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// ValueFrom 从快照中取出该指标的值，缺失时返回 nil。
func (i Indicator) ValueFrom(s market.IndicatorSnapshot) *float64 {
	switch i {
	case IndicatorRSI:
		return s.RSI
	case IndicatorEMAShort:
		return s.EMAShort
	case IndicatorEMALong:
		return s.EMALong
	case IndicatorATR:
		return s.ATR
	case IndicatorMACD:
		return s.MACD
	case IndicatorMACDSignal:
		return s.MACDSignal
	case IndicatorMACDHistogram:
		return s.MACDHistogram
	}
	return nil
}

// Operator 是条件比较方式。
type Operator int

const (
	OpGreaterThan Operator = iota + 1
	OpLessThan
	OpEquals
	OpCrossesAbove
	OpCrossesBelow
)

var operatorNames = map[Operator]string{
	OpGreaterThan:  "greater_than",
	OpLessThan:     "less_than",
	OpEquals:       "equals",
	OpCrossesAbove: "crosses_above",
	OpCrossesBelow: "crosses_below",
}

func ParseOperator(raw string) (Operator, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for k, v := range operatorNames {
		if v == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown operator %q", raw)
}

func (o Operator) String() string { return operatorNames[o] }

// Phrase 是 reason 中使用的可读形式，如 "less than"。
func (o Operator) Phrase() string { return strings.Replace(operatorNames[o], "_", " ", 1) }

func (o Operator) MarshalText() ([]byte, error) {
	name, ok := operatorNames[o]
	if !ok {
		return nil, fmt.Errorf("invalid operator %d", int(o))
	}
	return []byte(name), nil
}

func (o *Operator) UnmarshalText(b []byte) error {
	v, err := ParseOperator(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// StopMode 是止损/止盈距离的计算方式。
type StopMode string

const (
	StopPercent     StopMode = "percent"
	StopAbsolute    StopMode = "absolute"
	StopATRMultiple StopMode = "atrMultiple"
)

func (m StopMode) Valid() bool {
	switch m {
	case StopPercent, StopAbsolute, StopATRMultiple:
		return true
	}
	return false
}

type StopSpec struct {
	Mode  StopMode `json:"mode" yaml:"mode"`
	Value float64  `json:"value" yaml:"value"`
}

// RiskSpec 是策略级别的风控参数，同时作为风控闸门的默认规则来源。
type RiskSpec struct {
	MaxDailyDrawdown     float64            `json:"maxDailyDrawdown" yaml:"maxDailyDrawdown"`
	MaxConcurrentSignals int                `json:"maxConcurrentSignals" yaml:"maxConcurrentSignals"`
	RRMin                float64            `json:"rrMin" yaml:"rrMin"`
	CooldownSeconds      int                `json:"cooldownSeconds" yaml:"cooldownSeconds"`
	CooldownCandles      int                `json:"cooldownCandles" yaml:"cooldownCandles"`
	KillSwitch           bool               `json:"killSwitch" yaml:"killSwitch"`
	MaxSignalsPerDay     int                `json:"maxSignalsPerDay" yaml:"maxSignalsPerDay"`
	Precedence           []market.Timeframe `json:"precedence" yaml:"precedence"`
}

type SignalCondition struct {
	ID        string           `json:"id" yaml:"id"`
	Indicator Indicator        `json:"indicator" yaml:"indicator"`
	Operator  Operator         `json:"operator" yaml:"operator"`
	Value     string           `json:"value" yaml:"value"`
	Timeframe market.Timeframe `json:"timeframe" yaml:"timeframe"`
}

// StrategyConfig 是一条用户定义的策略。
type StrategyConfig struct {
	ID         string            `json:"id" yaml:"id"`
	Name       string            `json:"name" yaml:"name"`
	Enabled    bool              `json:"enabled" yaml:"enabled"`
	Symbols    []string          `json:"symbols" yaml:"symbols"`
	Conditions []SignalCondition `json:"conditions" yaml:"conditions"`
	StopLoss   StopSpec          `json:"stopLoss" yaml:"stopLoss"`
	TakeProfit StopSpec          `json:"takeProfit" yaml:"takeProfit"`
	Risk       RiskSpec          `json:"riskManagement" yaml:"riskManagement"`
}

func (c StrategyConfig) HasSymbol(symbol string) bool {
	for _, s := range c.Symbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// Validate 校验策略是否可用。
func (c StrategyConfig) Validate() error {
	var v apperr.ValidationError
	if strings.TrimSpace(c.ID) == "" {
		v.Add("id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		v.Add("name is required")
	}
	if len(c.Conditions) == 0 {
		v.Add("at least one condition is required")
	}
	for idx, cond := range c.Conditions {
		if _, ok := indicatorNames[cond.Indicator]; !ok {
			v.Add("conditions[%d].indicator is invalid", idx)
		}
		if _, ok := operatorNames[cond.Operator]; !ok {
			v.Add("conditions[%d].operator is invalid", idx)
		}
		if !cond.Timeframe.Valid() {
			v.Add("conditions[%d].timeframe %q is not supported", idx, cond.Timeframe)
		}
		if strings.TrimSpace(cond.Value) == "" {
			v.Add("conditions[%d].value is required", idx)
		}
	}
	validateStop(&v, "stopLoss", c.StopLoss)
	validateStop(&v, "takeProfit", c.TakeProfit)
	for _, tf := range c.Risk.Precedence {
		if !tf.Valid() {
			v.Add("riskManagement.precedence contains unsupported timeframe %q", tf)
		}
	}
	if c.Risk.CooldownSeconds < 0 || c.Risk.CooldownCandles < 0 {
		v.Add("riskManagement cooldowns must be >= 0")
	}
	if c.Risk.RRMin < 0 {
		v.Add("riskManagement.rrMin must be >= 0")
	}
	return v.OrNil()
}

func validateStop(v *apperr.ValidationError, field string, s StopSpec) {
	if s.Mode == "" && s.Value == 0 {
		return
	}
	if !s.Mode.Valid() {
		v.Add("%s.mode must be one of percent, absolute, atrMultiple", field)
	}
	if s.Value < 0 {
		v.Add("%s.value must be >= 0", field)
	}
}

// SignalType 是评估结论。
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// SignalResult 是一次策略评估的输出，Confidence 取值 [0,1]。
type SignalResult struct {
	Symbol       string           `json:"symbol"`
	Timeframe    market.Timeframe `json:"timeframe"`
	Signal       SignalType       `json:"signal"`
	Confidence   float64          `json:"confidence"`
	Reasons      []string         `json:"reasons"`
	Timestamp    time.Time        `json:"timestamp"`
	StrategyID   string           `json:"strategyId"`
	StrategyName string           `json:"strategyName"`
	Price        float64          `json:"price,omitempty"`
	StopLoss     *float64         `json:"stopLoss,omitempty"`
	TakeProfit   *float64         `json:"takeProfit,omitempty"`
}

// Actionable 表示该信号可以进入下单流程。
func (s SignalResult) Actionable() bool {
	return s.Signal == SignalBuy || s.Signal == SignalSell
}

// ExpectedRR 由止盈止损距离估算的盈亏比，无法计算时返回 false。
func (s SignalResult) ExpectedRR() (float64, bool) {
	if s.StopLoss == nil || s.TakeProfit == nil || s.Price <= 0 {
		return 0, false
	}
	risk := s.Price - *s.StopLoss
	reward := *s.TakeProfit - s.Price
	if risk <= 0 || reward <= 0 {
		return 0, false
	}
	return reward / risk, true
}
