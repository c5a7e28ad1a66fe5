package riskgate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"tradegate/internal/logger"
	"tradegate/internal/market"
)

var gateLog = logger.Named("riskgate")

// Reason 是闸门结论代码，用于日志、指标和测试。
type Reason string

const (
	ReasonOK            Reason = "ok"
	ReasonDedup         Reason = "dedup"
	ReasonPrecedence    Reason = "blocked_precedence"
	ReasonCooldown      Reason = "cooldown"
	ReasonKillSwitch    Reason = "killswitch"
	ReasonRRMin         Reason = "rr_min"
	ReasonMaxConcurrent Reason = "max_concurrent"
	ReasonMaxDaily      Reason = "max_daily"
)

var (
	// ErrRulesUnavailable 表示尚未加载规则，属于可重试的异常。
	ErrRulesUnavailable = errors.New("risk gate rules not loaded")
	// ErrInvalidJob 表示任务字段缺失或非法，重试也不会成功。
	ErrInvalidJob = errors.New("invalid gate job")
)

// Outcome 是一次处理的终态。被拦截不是错误，不得重试。
type Outcome struct {
	Key         string        `json:"key"`
	OK          bool          `json:"ok"`
	Reason      Reason        `json:"reason"`
	ProcessedAt time.Time     `json:"processedAt"`
	Latency     time.Duration `json:"latency,omitempty"`
}

func (o Outcome) Dedup() bool { return o.Reason == ReasonDedup }

// Blocked 返回拦截原因，通过时为空。
func (o Outcome) Blocked() Reason {
	if o.OK {
		return ""
	}
	return o.Reason
}

// Observer 接收闸门指标。
type Observer interface {
	ObserveOutcome(tf market.Timeframe, reason Reason)
	ObserveLatency(tf market.Timeframe, latency time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveOutcome(market.Timeframe, Reason)        {}
func (nopObserver) ObserveLatency(market.Timeframe, time.Duration) {}

// Pipeline 按固定顺序执行闸门规则。
type Pipeline struct {
	rules    atomic.Pointer[RuleConfig]
	state    *State
	now      func() time.Time
	observer Observer
}

type Option func(*Pipeline)

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

func WithState(s *State) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.state = s
		}
	}
}

func NewPipeline(rules RuleConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		state:    NewState(),
		now:      time.Now,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.SetRules(rules)
	return p
}

// SetRules 原子替换生效规则。
func (p *Pipeline) SetRules(rules RuleConfig) {
	cp := rules.clone()
	p.rules.Store(&cp)
}

func (p *Pipeline) Rules() RuleConfig {
	r := p.rules.Load()
	if r == nil {
		return RuleConfig{}
	}
	return r.clone()
}

// SetKillSwitch 切换全局熔断开关。
func (p *Pipeline) SetKillSwitch(enabled bool) RuleConfig {
	for {
		cur := p.rules.Load()
		next := RuleConfig{}
		if cur != nil {
			next = cur.clone()
		}
		next.KillSwitch = enabled
		if p.rules.CompareAndSwap(cur, &next) {
			return next.clone()
		}
	}
}

func (p *Pipeline) State() *State { return p.state }

// Process 依次执行 dedup、precedence、cooldown(秒)、cooldown(K线)、killswitch、
// rr_min、max_concurrent、max_daily，遇到第一条拦截即返回。
func (p *Pipeline) Process(ctx context.Context, job GateJob) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	rules := p.rules.Load()
	if rules == nil {
		return Outcome{}, ErrRulesUnavailable
	}
	if err := job.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	tf := job.Timeframe
	sh := p.state.shard(tf)
	sh.mu.Lock()
	now := p.now()
	reason := p.decide(sh, rules, job, now)
	if reason == ReasonOK {
		p.commit(sh, rules, job, now)
	}
	sh.mu.Unlock()

	out := Outcome{Key: job.IdempotencyKey, OK: reason == ReasonOK, Reason: reason, ProcessedAt: now}
	p.observer.ObserveOutcome(tf, reason)
	if out.OK {
		out.Latency = now.Sub(job.CloseTime)
		p.observer.ObserveLatency(tf, out.Latency)
		gateLog.Infof("processed %s latency=%s", job.IdempotencyKey, out.Latency)
	} else {
		gateLog.Infof("drop %s reason=%s", job.IdempotencyKey, reason)
	}
	return out, nil
}

func (p *Pipeline) decide(sh *shard, rules *RuleConfig, job GateJob, now time.Time) Reason {
	tf := job.Timeframe
	if last, ok := sh.processedKeys[job.IdempotencyKey]; ok && now.Sub(last) < rules.DedupWindow(tf) {
		return ReasonDedup
	}

	allowed := false
	for _, candidate := range rules.EffectivePrecedence() {
		if candidate == tf {
			allowed = true
			break
		}
	}
	if !allowed {
		return ReasonPrecedence
	}

	symKey := symbolTFKey(job.Symbol, tf)
	lastAt, hasLast := sh.lastAccepted[symKey]
	if rules.CooldownSeconds > 0 && hasLast && now.Sub(lastAt) < time.Duration(rules.CooldownSeconds)*time.Second {
		return ReasonCooldown
	}
	if rules.CooldownCandles > 0 && hasLast && now.Sub(lastAt) < time.Duration(rules.CooldownCandles)*tf.Duration() {
		return ReasonCooldown
	}

	if rules.KillSwitch {
		return ReasonKillSwitch
	}

	if rules.RRMin > 0 {
		if rr, ok := job.ExpectedRR(); ok && rr < rules.RRMin {
			return ReasonRRMin
		}
	}

	if rules.MaxConcurrentSignals > 0 {
		sh.prune(now.Add(-concurrencyWindow(rules)))
		if len(sh.window) >= rules.MaxConcurrentSignals {
			return ReasonMaxConcurrent
		}
	}

	if rules.MaxSignalsPerDay > 0 && sh.daily[dailyKey(job)] >= rules.MaxSignalsPerDay {
		return ReasonMaxDaily
	}
	return ReasonOK
}

func (p *Pipeline) commit(sh *shard, rules *RuleConfig, job GateJob, now time.Time) {
	sh.evictKeys(now, rules.DedupWindow(job.Timeframe))
	sh.processedKeys[job.IdempotencyKey] = now
	sh.lastAccepted[symbolTFKey(job.Symbol, job.Timeframe)] = now
	sh.window = append(sh.window, now)
	if rules.MaxSignalsPerDay > 0 {
		sh.daily[dailyKey(job)]++
	}
}

// concurrencyWindow = max(1, cooldownSeconds) 秒。
func concurrencyWindow(rules *RuleConfig) time.Duration {
	sec := rules.CooldownSeconds
	if sec < 1 {
		sec = 1
	}
	return time.Duration(sec) * time.Second
}

func dailyKey(job GateJob) string {
	return fmt.Sprintf("%s:%s:%s", job.Symbol, job.Timeframe, job.CloseTime.UTC().Format(time.DateOnly))
}
