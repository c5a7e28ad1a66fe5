package riskgate

import (
	"slices"
	"time"

	"tradegate/internal/market"
	"tradegate/internal/pkg/apperr"
)

// RuleConfig 是当前生效的闸门规则。
type RuleConfig struct {
	Version              int                      `json:"version"`
	Timeframes           []market.Timeframe       `json:"timeframes"`
	Symbols              []string                 `json:"symbols"`
	Precedence           []market.Timeframe       `json:"precedence"`
	CooldownSeconds      int                      `json:"cooldownSeconds"`
	CooldownCandles      int                      `json:"cooldownCandles"`
	KillSwitch           bool                     `json:"killSwitch"`
	RRMin                float64                  `json:"rrMin"`
	MaxConcurrentSignals int                      `json:"maxConcurrentSignals"`
	MaxSignalsPerDay     int                      `json:"maxSignalsPerDay"`
	DedupWindowSeconds   map[market.Timeframe]int `json:"dedupWindowSeconds,omitempty"`
}

// DefaultDedupWindowSeconds 是各周期的去重窗口（秒）。
var DefaultDedupWindowSeconds = map[market.Timeframe]int{
	market.TF1m:  30,
	market.TF3m:  60,
	market.TF5m:  90,
	market.TF10m: 120,
	market.TF15m: 180,
	market.TF1h:  300,
	market.TF4h:  900,
}

// DedupWindow 返回周期的去重窗口，配置覆盖默认值。
func (c RuleConfig) DedupWindow(tf market.Timeframe) time.Duration {
	if sec, ok := c.DedupWindowSeconds[tf]; ok {
		return time.Duration(sec) * time.Second
	}
	return time.Duration(DefaultDedupWindowSeconds[tf]) * time.Second
}

// EffectivePrecedence 未配置时回退到默认顺序 4h>1h>15m>5m>3m>1m。
func (c RuleConfig) EffectivePrecedence() []market.Timeframe {
	if len(c.Precedence) > 0 {
		return c.Precedence
	}
	return market.DefaultPrecedence
}

// Validate 校验规则不变式。
func (c RuleConfig) Validate() error {
	var v apperr.ValidationError
	if len(c.Timeframes) == 0 {
		v.Add("timeframes must not be empty")
	}
	if len(c.Symbols) == 0 {
		v.Add("symbols must not be empty")
	}
	for _, tf := range c.Timeframes {
		if !tf.Valid() {
			v.Add("timeframes contains unsupported %q", tf)
		}
	}
	for _, tf := range c.Precedence {
		if !slices.Contains(c.Timeframes, tf) {
			v.Add("precedence %q is not part of timeframes", tf)
		}
	}
	if c.CooldownSeconds < 0 {
		v.Add("cooldownSeconds must be >= 0")
	}
	if c.CooldownCandles < 0 {
		v.Add("cooldownCandles must be >= 0")
	}
	if c.MaxConcurrentSignals <= 0 {
		v.Add("maxConcurrentSignals must be > 0")
	}
	if c.RRMin < 0 {
		v.Add("rrMin must be >= 0")
	}
	if c.MaxSignalsPerDay < 0 {
		v.Add("maxSignalsPerDay must be >= 0")
	}
	for tf, sec := range c.DedupWindowSeconds {
		if !tf.Valid() || sec < 0 {
			v.Add("dedupWindowSeconds[%s] is invalid", tf)
		}
	}
	return v.OrNil()
}

// Warnings 返回不影响发布但值得提示的配置缺口。
func (c RuleConfig) Warnings() []string {
	var out []string
	if len(c.Precedence) == 0 {
		out = append(out, "precedence not set, default order 4h>1h>15m>5m>3m>1m applies")
	}
	if c.CooldownSeconds == 0 && c.CooldownCandles == 0 {
		out = append(out, "no cooldown configured, consecutive candles may all pass")
	}
	if c.MaxSignalsPerDay == 0 {
		out = append(out, "maxSignalsPerDay not set, daily volume is unbounded")
	}
	return out
}

func (c RuleConfig) clone() RuleConfig {
	c.Timeframes = slices.Clone(c.Timeframes)
	c.Symbols = slices.Clone(c.Symbols)
	c.Precedence = slices.Clone(c.Precedence)
	if c.DedupWindowSeconds != nil {
		m := make(map[market.Timeframe]int, len(c.DedupWindowSeconds))
		for k, v := range c.DedupWindowSeconds {
			m[k] = v
		}
		c.DedupWindowSeconds = m
	}
	return c
}
