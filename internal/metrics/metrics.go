package metrics

import (
	"sort"
	"sync"
	"time"

	"tradegate/internal/market"
	"tradegate/internal/riskgate"
)

// latencyBuckets 是延迟直方图的上界。
var latencyBuckets = []time.Duration{
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
	30 * time.Second,
	time.Minute,
	5 * time.Minute,
}

type histogram struct {
	count   int64
	sum     time.Duration
	max     time.Duration
	buckets []int64
}

func (h *histogram) observe(d time.Duration) {
	if h.buckets == nil {
		h.buckets = make([]int64, len(latencyBuckets)+1)
	}
	h.count++
	h.sum += d
	if d > h.max {
		h.max = d
	}
	idx := sort.Search(len(latencyBuckets), func(i int) bool { return d <= latencyBuckets[i] })
	h.buckets[idx]++
}

// Registry 收集进程内计数器与延迟分布。
type Registry struct {
	mu       sync.RWMutex
	counters map[string]int64
	gate     map[market.Timeframe]map[riskgate.Reason]int64
	latency  map[market.Timeframe]*histogram
}

func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]int64),
		gate:     make(map[market.Timeframe]map[riskgate.Reason]int64),
		latency:  make(map[market.Timeframe]*histogram),
	}
}

var _ riskgate.Observer = (*Registry)(nil)

func (r *Registry) ObserveOutcome(tf market.Timeframe, reason riskgate.Reason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.gate[tf]
	if !ok {
		m = make(map[riskgate.Reason]int64)
		r.gate[tf] = m
	}
	m[reason]++
}

func (r *Registry) ObserveLatency(tf market.Timeframe, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.latency[tf]
	if !ok {
		h = &histogram{}
		r.latency[tf] = h
	}
	h.observe(d)
}

// Inc 递增命名计数器，例如 signals_emitted、orders_paper。
func (r *Registry) Inc(name string) {
	r.Add(name, 1)
}

func (r *Registry) Add(name string, n int64) {
	r.mu.Lock()
	r.counters[name] += n
	r.mu.Unlock()
}

func (r *Registry) Counter(name string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[name]
}

func (r *Registry) GateCount(tf market.Timeframe, reason riskgate.Reason) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gate[tf][reason]
}

type LatencySummary struct {
	Count   int64            `json:"count"`
	AvgMs   float64          `json:"avgMs"`
	MaxMs   float64          `json:"maxMs"`
	Buckets map[string]int64 `json:"buckets"`
}

type Snapshot struct {
	Counters map[string]int64                               `json:"counters"`
	Gate     map[market.Timeframe]map[riskgate.Reason]int64 `json:"gate"`
	Latency  map[market.Timeframe]LatencySummary            `json:"latency"`
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		Counters: make(map[string]int64, len(r.counters)),
		Gate:     make(map[market.Timeframe]map[riskgate.Reason]int64, len(r.gate)),
		Latency:  make(map[market.Timeframe]LatencySummary, len(r.latency)),
	}
	for k, v := range r.counters {
		out.Counters[k] = v
	}
	for tf, m := range r.gate {
		cp := make(map[riskgate.Reason]int64, len(m))
		for k, v := range m {
			cp[k] = v
		}
		out.Gate[tf] = cp
	}
	for tf, h := range r.latency {
		s := LatencySummary{Count: h.count, MaxMs: ms(h.max), Buckets: make(map[string]int64, len(h.buckets))}
		if h.count > 0 {
			s.AvgMs = ms(h.sum) / float64(h.count)
		}
		for i, n := range h.buckets {
			label := "+Inf"
			if i < len(latencyBuckets) {
				label = "le_" + latencyBuckets[i].String()
			}
			s.Buckets[label] = n
		}
		out.Latency[tf] = s
	}
	return out
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
