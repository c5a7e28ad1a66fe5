package riskgate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"tradegate/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mockObserver struct {
	mock.Mock
}

func (m *mockObserver) ObserveOutcome(tf market.Timeframe, reason Reason) {
	m.Called(tf, reason)
}

func (m *mockObserver) ObserveLatency(tf market.Timeframe, latency time.Duration) {
	m.Called(tf, latency)
}

var day1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func baseRules() RuleConfig {
	return RuleConfig{
		Timeframes:           market.AllTimeframes(),
		Symbols:              []string{"BTCUSDT", "ETHUSDT"},
		MaxConcurrentSignals: 100,
	}
}

func newTestPipeline(rules RuleConfig, clock *fakeClock) *Pipeline {
	return NewPipeline(rules, WithClock(clock.Now))
}

func process(t *testing.T, p *Pipeline, job GateJob) Outcome {
	t.Helper()
	out, err := p.Process(context.Background(), job)
	require.NoError(t, err)
	return out
}

func TestIdempotencyKeyFormat(t *testing.T) {
	assert.Equal(t, "BTCUSDT:1h:2024-01-01T00:00:00Z", IdempotencyKey("btcusdt", market.TF1h, day1))
	job := NewJob("btcusdt", market.TF1h, day1.In(time.FixedZone("x", 3600)), nil)
	assert.Equal(t, "BTCUSDT:1h:2024-01-01T00:00:00Z", job.IdempotencyKey)
	assert.Equal(t, "BTCUSDT", job.Symbol)
}

func TestDedupWithinWindow(t *testing.T) {
	clock := newFakeClock(day1.Add(time.Minute))
	rules := baseRules()
	rules.DedupWindowSeconds = map[market.Timeframe]int{market.TF1h: 30}
	p := newTestPipeline(rules, clock)
	job := NewJob("BTCUSDT", market.TF1h, day1, nil)

	first := process(t, p, job)
	assert.True(t, first.OK)
	assert.Equal(t, ReasonOK, first.Reason)
	assert.Equal(t, time.Minute, first.Latency)

	clock.Advance(time.Second)
	second := process(t, p, job)
	assert.False(t, second.OK)
	assert.True(t, second.Dedup())

	clock.Advance(30 * time.Second)
	third := process(t, p, job)
	assert.True(t, third.OK, "window elapsed")
}

func TestDedupConcurrentSameKey(t *testing.T) {
	clock := newFakeClock(day1)
	p := newTestPipeline(baseRules(), clock)
	job := NewJob("BTCUSDT", market.TF5m, day1, nil)

	var wg sync.WaitGroup
	results := make(chan Outcome, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := p.Process(context.Background(), job)
			if err == nil {
				results <- out
			}
		}()
	}
	wg.Wait()
	close(results)
	var ok, dedup int
	for out := range results {
		if out.OK {
			ok++
		} else if out.Dedup() {
			dedup++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 15, dedup)
}

func TestPrecedence(t *testing.T) {
	clock := newFakeClock(day1)

	rules := baseRules()
	rules.Precedence = []market.Timeframe{market.TF4h, market.TF1h}
	p := newTestPipeline(rules, clock)
	assert.Equal(t, ReasonPrecedence, process(t, p, NewJob("BTCUSDT", market.TF5m, day1, nil)).Blocked())
	assert.True(t, process(t, p, NewJob("BTCUSDT", market.TF1h, day1, nil)).OK)

	def := newTestPipeline(baseRules(), clock)
	assert.Equal(t, ReasonPrecedence, process(t, def, NewJob("BTCUSDT", market.TF10m, day1, nil)).Blocked())
	assert.True(t, process(t, def, NewJob("BTCUSDT", market.TF3m, day1, nil)).OK)
}

func TestCooldownSeconds(t *testing.T) {
	clock := newFakeClock(day1)
	rules := baseRules()
	rules.CooldownSeconds = 60
	p := newTestPipeline(rules, clock)

	assert.True(t, process(t, p, NewJob("BTCUSDT", market.TF1m, day1, nil)).OK)
	clock.Advance(30 * time.Second)
	assert.Equal(t, ReasonCooldown, process(t, p, NewJob("BTCUSDT", market.TF1m, day1.Add(time.Minute), nil)).Blocked())
	assert.True(t, process(t, p, NewJob("ETHUSDT", market.TF1m, day1.Add(time.Minute), nil)).OK, "other symbol unaffected")
	clock.Advance(31 * time.Second)
	assert.True(t, process(t, p, NewJob("BTCUSDT", market.TF1m, day1.Add(2*time.Minute), nil)).OK)
}

func TestCooldownCandles(t *testing.T) {
	clock := newFakeClock(day1)
	rules := baseRules()
	rules.CooldownCandles = 2
	p := newTestPipeline(rules, clock)

	assert.True(t, process(t, p, NewJob("BTCUSDT", market.TF5m, day1, nil)).OK)
	clock.Advance(9 * time.Minute)
	assert.Equal(t, ReasonCooldown, process(t, p, NewJob("BTCUSDT", market.TF5m, day1.Add(5*time.Minute), nil)).Blocked())
	clock.Advance(time.Minute)
	assert.True(t, process(t, p, NewJob("BTCUSDT", market.TF5m, day1.Add(10*time.Minute), nil)).OK)
}

func TestKillSwitchRejectsEverything(t *testing.T) {
	clock := newFakeClock(day1)
	p := newTestPipeline(baseRules(), clock)
	accepted := NewJob("BTCUSDT", market.TF1h, day1, nil)
	require.True(t, process(t, p, accepted).OK)

	p.SetKillSwitch(true)
	assert.True(t, p.Rules().KillSwitch)
	for i, tf := range []market.Timeframe{market.TF1m, market.TF5m, market.TF1h, market.TF4h} {
		job := NewJob("ETHUSDT", tf, day1.Add(time.Duration(i)*time.Hour), nil)
		assert.Equal(t, ReasonKillSwitch, process(t, p, job).Blocked(), tf)
	}
	// dedup 先于熔断判断
	assert.Equal(t, ReasonDedup, process(t, p, accepted).Blocked())

	p.SetKillSwitch(false)
	assert.True(t, process(t, p, NewJob("ETHUSDT", market.TF4h, day1, nil)).OK)
}

func TestRRMin(t *testing.T) {
	clock := newFakeClock(day1)
	rules := baseRules()
	rules.RRMin = 1.5
	p := newTestPipeline(rules, clock)

	low := NewJob("BTCUSDT", market.TF1h, day1, json.RawMessage(`{"expectedRR":1.2}`))
	assert.Equal(t, ReasonRRMin, process(t, p, low).Blocked())

	str := NewJob("BTCUSDT", market.TF1h, day1.Add(time.Hour), json.RawMessage(`{"expectedRR":"1.2"}`))
	assert.True(t, process(t, p, str).OK, "non numeric expectedRR is ignored")

	none := NewJob("ETHUSDT", market.TF1h, day1, nil)
	assert.True(t, process(t, p, none).OK)

	high := NewJob("ETHUSDT", market.TF4h, day1, json.RawMessage(`{"expectedRR":2.5}`))
	assert.True(t, process(t, p, high).OK)
}

func TestMaxConcurrentSlidingWindow(t *testing.T) {
	clock := newFakeClock(day1)
	rules := baseRules()
	rules.MaxConcurrentSignals = 2
	p := newTestPipeline(rules, clock)

	symbols := []string{"AUSDT", "BUSDT", "CUSDT"}
	assert.True(t, process(t, p, NewJob(symbols[0], market.TF15m, day1, nil)).OK)
	assert.True(t, process(t, p, NewJob(symbols[1], market.TF15m, day1, nil)).OK)
	assert.Equal(t, ReasonMaxConcurrent, process(t, p, NewJob(symbols[2], market.TF15m, day1, nil)).Blocked())
	assert.True(t, process(t, p, NewJob(symbols[2], market.TF1h, day1, nil)).OK, "window is per timeframe")

	clock.Advance(1500 * time.Millisecond)
	assert.True(t, process(t, p, NewJob(symbols[2], market.TF15m, day1, nil)).OK)
}

func TestMaxDailyResetsAtUTCMidnight(t *testing.T) {
	clock := newFakeClock(day1)
	rules := baseRules()
	rules.MaxSignalsPerDay = 1
	p := newTestPipeline(rules, clock)

	assert.True(t, process(t, p, NewJob("BTCUSDT", market.TF1h, day1, nil)).OK)
	clock.Advance(2 * time.Second)
	assert.Equal(t, ReasonMaxDaily, process(t, p, NewJob("BTCUSDT", market.TF1h, day1.Add(5*time.Hour), nil)).Blocked())
	clock.Advance(2 * time.Second)
	assert.True(t, process(t, p, NewJob("BTCUSDT", market.TF1h, day1.Add(24*time.Hour), nil)).OK)

	summary := p.State().Summary()
	require.Len(t, summary, 1)
	assert.Equal(t, 1, summary[0].DailyCounters["BTCUSDT:1h:2024-01-01"])
	assert.Equal(t, 1, summary[0].DailyCounters["BTCUSDT:1h:2024-01-02"])
}

func TestDailyCountersPrunedAfterTwoDays(t *testing.T) {
	clock := newFakeClock(day1)
	rules := baseRules()
	rules.MaxSignalsPerDay = 5
	p := newTestPipeline(rules, clock)

	require.True(t, process(t, p, NewJob("BTCUSDT", market.TF1h, day1, nil)).OK)
	require.True(t, process(t, p, NewJob("ETHUSDT", market.TF1h, day1, nil)).OK)

	clock.Advance(24 * time.Hour)
	require.True(t, process(t, p, NewJob("BTCUSDT", market.TF1h, day1.Add(24*time.Hour), nil)).OK)
	counters := p.State().Summary()[0].DailyCounters
	assert.Contains(t, counters, "BTCUSDT:1h:2024-01-01", "yesterday is still kept")

	clock.Advance(48 * time.Hour)
	require.True(t, process(t, p, NewJob("BTCUSDT", market.TF1h, day1.Add(72*time.Hour), nil)).OK)
	counters = p.State().Summary()[0].DailyCounters
	assert.NotContains(t, counters, "BTCUSDT:1h:2024-01-01")
	assert.NotContains(t, counters, "ETHUSDT:1h:2024-01-01")
	assert.NotContains(t, counters, "BTCUSDT:1h:2024-01-02")
	assert.Equal(t, 1, counters["BTCUSDT:1h:2024-01-04"])
}

func TestGateOrderFirstRejectionWins(t *testing.T) {
	clock := newFakeClock(day1)
	rules := baseRules()
	rules.CooldownSeconds = 3600
	rules.RRMin = 2
	rules.MaxSignalsPerDay = 1
	p := newTestPipeline(rules, clock)
	require.True(t, process(t, p, NewJob("BTCUSDT", market.TF1h, day1, nil)).OK)

	p.SetKillSwitch(true)
	job := NewJob("BTCUSDT", market.TF1h, day1.Add(time.Hour), json.RawMessage(`{"expectedRR":1}`))
	assert.Equal(t, ReasonCooldown, process(t, p, job).Blocked())
}

func TestRejectionsDoNotMutateState(t *testing.T) {
	clock := newFakeClock(day1)
	rules := baseRules()
	rules.KillSwitch = true
	p := newTestPipeline(rules, clock)
	for i := 0; i < 3; i++ {
		process(t, p, NewJob("BTCUSDT", market.TF1h, day1, nil))
	}
	p.SetKillSwitch(false)
	assert.True(t, process(t, p, NewJob("BTCUSDT", market.TF1h, day1, nil)).OK)
}

func TestObserverAndInvalidJob(t *testing.T) {
	clock := newFakeClock(day1.Add(2 * time.Second))
	obs := new(mockObserver)
	obs.On("ObserveOutcome", market.TF1h, ReasonOK).Once()
	obs.On("ObserveLatency", market.TF1h, 2*time.Second).Once()
	obs.On("ObserveOutcome", market.TF1h, ReasonDedup).Once()
	p := NewPipeline(baseRules(), WithClock(clock.Now), WithObserver(obs))

	job := NewJob("BTCUSDT", market.TF1h, day1, nil)
	process(t, p, job)
	process(t, p, job)
	obs.AssertExpectations(t)

	_, err := p.Process(context.Background(), GateJob{Symbol: "BTCUSDT", Timeframe: "2h"})
	assert.ErrorIs(t, err, ErrInvalidJob)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Process(ctx, job)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRuleConfigValidation(t *testing.T) {
	good := baseRules()
	good.Precedence = []market.Timeframe{market.TF1h}
	assert.NoError(t, good.Validate())

	bad := RuleConfig{
		Timeframes:      []market.Timeframe{market.TF1h},
		Precedence:      []market.Timeframe{market.TF4h},
		CooldownSeconds: -1,
		RRMin:           -1,
	}
	err := bad.Validate()
	require.Error(t, err)
	for _, want := range []string{"symbols", "precedence", "cooldownSeconds", "maxConcurrentSignals", "rrMin"} {
		assert.Contains(t, err.Error(), want)
	}

	warnings := RuleConfig{}.Warnings()
	assert.Len(t, warnings, 3)
	assert.Empty(t, RuleConfig{Precedence: []market.Timeframe{market.TF1h}, CooldownSeconds: 1, MaxSignalsPerDay: 1}.Warnings())
}

func TestDedupWindowDefaults(t *testing.T) {
	r := RuleConfig{}
	assert.Equal(t, 300*time.Second, r.DedupWindow(market.TF1h))
	r.DedupWindowSeconds = map[market.Timeframe]int{market.TF1h: 5}
	assert.Equal(t, 5*time.Second, r.DedupWindow(market.TF1h))
	assert.Equal(t, 30*time.Second, r.DedupWindow(market.TF1m), fmt.Sprint(r.DedupWindowSeconds))
}
