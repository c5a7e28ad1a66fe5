package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Cache 是短期键值缓存。未配置时使用 Nop，所有读取都 miss。
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Incr(ctx context.Context, key string, ttl time.Duration) int64
	Delete(ctx context.Context, key string)
}

type Nop struct{}

func (Nop) Get(context.Context, string) (string, bool)         { return "", false }
func (Nop) Set(context.Context, string, string, time.Duration) {}
func (Nop) Incr(context.Context, string, time.Duration) int64  { return 0 }
func (Nop) Delete(context.Context, string)                     {}

type entry struct {
	value     string
	count     int64
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory 是带 TTL 的进程内缓存，过期项在读取或 Sweep 时清理。
type Memory struct {
	mu   sync.RWMutex
	data map[string]entry
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]entry), now: time.Now}
}

// WithClock 替换时钟，测试用。
func (m *Memory) WithClock(now func() time.Time) *Memory {
	if now != nil {
		m.now = now
	}
	return m
}

func normKey(key string) string { return strings.TrimSpace(key) }

func (m *Memory) Get(_ context.Context, key string) (string, bool) {
	key = normKey(key)
	m.mu.RLock()
	e, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}
	if e.expired(m.now()) {
		m.mu.Lock()
		if cur, ok := m.data[key]; ok && cur.expired(m.now()) {
			delete(m.data, key)
		}
		m.mu.Unlock()
		return "", false
	}
	return e.value, true
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) {
	key = normKey(key)
	if key == "" {
		return
	}
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.data[key] = e
	m.mu.Unlock()
}

// Incr 递增计数器，新建的计数器使用 ttl 作为过期时间。
func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) int64 {
	key = normKey(key)
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok || e.expired(now) {
		e = entry{}
		if ttl > 0 {
			e.expiresAt = now.Add(ttl)
		}
	}
	e.count++
	e.value = ""
	m.data[key] = e
	return e.count
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.data, normKey(key))
	m.mu.Unlock()
}

// Sweep 清理所有过期项，返回清理数量。
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.data {
		if e.expired(now) {
			delete(m.data, k)
			n++
		}
	}
	return n
}

// RunJanitor 定期 Sweep，直到 ctx 结束。
func (m *Memory) RunJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
