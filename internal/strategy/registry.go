package strategy

import (
	"sort"
	"strings"
	"sync"
)

// Registry 是进程内的策略表，按 id 唯一。
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]StrategyConfig
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]StrategyConfig)}
}

// Upsert 新增或替换同 id 的策略。
func (r *Registry) Upsert(cfg StrategyConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.ID = strings.TrimSpace(cfg.ID)
	r.mu.Lock()
	r.strategies[cfg.ID] = cloneConfig(cfg)
	r.mu.Unlock()
	return nil
}

func (r *Registry) Remove(id string) bool {
	id = strings.TrimSpace(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[id]; !ok {
		return false
	}
	delete(r.strategies, id)
	return true
}

func (r *Registry) Get(id string) (StrategyConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.strategies[strings.TrimSpace(id)]
	if !ok {
		return StrategyConfig{}, false
	}
	return cloneConfig(cfg), true
}

// List 按 id 排序返回全部策略。
func (r *Registry) List() []StrategyConfig {
	r.mu.RLock()
	out := make([]StrategyConfig, 0, len(r.strategies))
	for _, cfg := range r.strategies {
		out = append(out, cloneConfig(cfg))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneConfig(cfg StrategyConfig) StrategyConfig {
	cfg.Symbols = append([]string(nil), cfg.Symbols...)
	cfg.Conditions = append([]SignalCondition(nil), cfg.Conditions...)
	cfg.Risk.Precedence = append(cfg.Risk.Precedence[:0:0], cfg.Risk.Precedence...)
	return cfg
}
