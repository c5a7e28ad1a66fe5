package riskgate

import (
	"strings"
	"sync"
	"time"

	"tradegate/internal/market"
)

// State 是进程内的闸门状态（RiskGateState），不持久化，重启即清空。
// 一个 job 读写的全部状态都落在其周期对应的分片内，因此按周期加锁即可
// 保证同 key 串行、不同周期并行。
type State struct {
	mu     sync.Mutex
	shards map[market.Timeframe]*shard
}

type shard struct {
	mu sync.Mutex
	// idempotencyKey -> 最近一次被接受的时间
	processedKeys map[string]time.Time
	// symbol:tf -> 最近一次被接受的时间
	lastAccepted map[string]time.Time
	// 该周期内最近接受的时间戳（滑动窗口）
	window []time.Time
	// symbol:tf:YYYY-MM-DD -> 当日接受数
	daily map[string]int
	// 最近一次清理 daily 的 UTC 日期
	dailySwept string
}

func NewState() *State {
	return &State{shards: make(map[market.Timeframe]*shard)}
}

func (s *State) shard(tf market.Timeframe) *shard {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shards[tf]
	if !ok {
		sh = &shard{
			processedKeys: make(map[string]time.Time),
			lastAccepted:  make(map[string]time.Time),
			daily:         make(map[string]int),
		}
		s.shards[tf] = sh
	}
	return sh
}

// Reset 清空所有状态。
func (s *State) Reset() {
	s.mu.Lock()
	s.shards = make(map[market.Timeframe]*shard)
	s.mu.Unlock()
}

// StateSummary 用于诊断接口展示。
type StateSummary struct {
	Timeframe     market.Timeframe `json:"timeframe"`
	TrackedKeys   int              `json:"trackedKeys"`
	WindowSize    int              `json:"windowSize"`
	DailyCounters map[string]int   `json:"dailyCounters"`
}

func (s *State) Summary() []StateSummary {
	s.mu.Lock()
	shards := make(map[market.Timeframe]*shard, len(s.shards))
	for tf, sh := range s.shards {
		shards[tf] = sh
	}
	s.mu.Unlock()
	out := make([]StateSummary, 0, len(shards))
	for _, tf := range market.AllTimeframes() {
		sh, ok := shards[tf]
		if !ok {
			continue
		}
		sh.mu.Lock()
		counters := make(map[string]int, len(sh.daily))
		for k, v := range sh.daily {
			counters[k] = v
		}
		out = append(out, StateSummary{
			Timeframe:     tf,
			TrackedKeys:   len(sh.processedKeys),
			WindowSize:    len(sh.window),
			DailyCounters: counters,
		})
		sh.mu.Unlock()
	}
	return out
}

// prune 丢弃早于 cutoff 的窗口时间戳。
func (sh *shard) prune(cutoff time.Time) {
	kept := sh.window[:0]
	for _, ts := range sh.window {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	sh.window = kept
}

// evictKeys 清理已超出去重窗口的 key 和昨天之前的日计数，避免 map 无限增长。
func (sh *shard) evictKeys(now time.Time, window time.Duration) {
	sh.pruneDaily(now)
	if len(sh.processedKeys) < 1024 {
		return
	}
	for k, ts := range sh.processedKeys {
		if now.Sub(ts) >= window {
			delete(sh.processedKeys, k)
		}
	}
}

// pruneDaily 每个 UTC 日最多扫一次，删除日期早于昨天的计数。
func (sh *shard) pruneDaily(now time.Time) {
	today := now.UTC().Format(time.DateOnly)
	if sh.dailySwept == today {
		return
	}
	sh.dailySwept = today
	cutoff := now.UTC().AddDate(0, 0, -1).Format(time.DateOnly)
	for k := range sh.daily {
		if day := k[strings.LastIndexByte(k, ':')+1:]; day < cutoff {
			delete(sh.daily, k)
		}
	}
}
