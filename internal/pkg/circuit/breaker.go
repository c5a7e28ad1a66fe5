package circuit

import (
	"errors"
	"sync"
	"time"

	"tradegate/internal/logger"
)

// ErrOpen 表示熔断器打开，调用被直接拒绝。
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker 连续失败 threshold 次后打开，cooldown 之后放行一个探测请求。
type Breaker struct {
	mu        sync.Mutex
	name      string
	state     State
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	probing   bool
	now       func() time.Time
	onTransit func(name string, from, to State)
}

func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{name: name, threshold: threshold, cooldown: cooldown, now: time.Now}
}

func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	if now != nil {
		b.now = now
	}
	return b
}

func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onTransit = fn
	b.mu.Unlock()
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow 判断是否放行；半开状态下同一时间只放行一个探测。
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.transit(StateHalfOpen)
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	if b.state != StateClosed {
		b.transit(StateClosed)
	}
}

func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.probing = false
	switch b.state {
	case StateClosed:
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			b.transit(StateOpen)
		}
	case StateHalfOpen:
		b.openedAt = b.now()
		b.transit(StateOpen)
	}
}

// Do 在熔断保护下执行 fn。
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}

func (b *Breaker) transit(to State) {
	from := b.state
	b.state = to
	if b.onTransit != nil {
		go b.onTransit(b.name, from, to)
		return
	}
	logger.Warnf("circuit %s: %s -> %s (failures=%d/%d cooldown=%s)", b.name, from, to, b.failures, b.threshold, b.cooldown)
}
