package market

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe 是系统支持的 K 线周期。
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF3m  Timeframe = "3m"
	TF5m  Timeframe = "5m"
	TF10m Timeframe = "10m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF3m:  3 * time.Minute,
	TF5m:  5 * time.Minute,
	TF10m: 10 * time.Minute,
	TF15m: 15 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
}

// Bybit v5 不提供 10m 周期。
var bybitIntervals = map[Timeframe]string{
	TF1m:  "1",
	TF3m:  "3",
	TF5m:  "5",
	TF15m: "15",
	TF1h:  "60",
	TF4h:  "240",
}

// DefaultPrecedence 是未配置 precedence 时允许进入执行的周期顺序。
var DefaultPrecedence = []Timeframe{TF4h, TF1h, TF15m, TF5m, TF3m, TF1m}

// AllTimeframes 按周期从小到大返回全部支持的周期。
func AllTimeframes() []Timeframe {
	return []Timeframe{TF1m, TF3m, TF5m, TF10m, TF15m, TF1h, TF4h}
}

func ParseTimeframe(raw string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("不支持的周期: %s", raw)
	}
	return tf, nil
}

func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// Duration 返回单根 K 线时长，未知周期返回 0。
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

func (tf Timeframe) BybitInterval() (string, error) {
	iv, ok := bybitIntervals[tf]
	if !ok {
		return "", fmt.Errorf("bybit does not support timeframe %s", tf)
	}
	return iv, nil
}

// TimeframeFromBybit 将 Bybit interval（如 "60"）映射回周期。
func TimeframeFromBybit(interval string) (Timeframe, bool) {
	interval = strings.TrimSpace(interval)
	for tf, iv := range bybitIntervals {
		if iv == interval {
			return tf, true
		}
	}
	return "", false
}

func (tf Timeframe) String() string { return string(tf) }
