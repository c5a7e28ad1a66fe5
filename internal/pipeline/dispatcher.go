package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tradegate/internal/gateway/exchange"
	"tradegate/internal/logger"
	"tradegate/internal/market"
	"tradegate/internal/riskgate"
	"tradegate/internal/strategy"

	"golang.org/x/sync/errgroup"
)

var pipeLog = logger.Named("pipeline")

// Enqueuer 把闸门任务写入持久队列，duplicate=true 表示同一键已存在。
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string, payload []byte) (duplicate bool, err error)
}

// SignalStore 持久化评估得到的信号。
type SignalStore interface {
	SaveSignal(ctx context.Context, sig strategy.SignalResult) error
}

// Counter 累加运行计数，metrics.Registry 实现了它。
type Counter interface {
	Inc(name string)
}

type nopCounter struct{}

func (nopCounter) Inc(string) {}

// GatePayload 是闸门任务携带的业务数据。
type GatePayload struct {
	Signals    []strategy.SignalResult `json:"signals"`
	ExpectedRR *float64                `json:"expectedRR,omitempty"`
}

// NewGatePayload 只保留可执行信号，expectedRR 取其中最大的盈亏比。
func NewGatePayload(results []strategy.SignalResult) GatePayload {
	var p GatePayload
	for _, res := range results {
		if !res.Actionable() {
			continue
		}
		p.Signals = append(p.Signals, res)
		if rr, ok := res.ExpectedRR(); ok && (p.ExpectedRR == nil || rr > *p.ExpectedRR) {
			v := rr
			p.ExpectedRR = &v
		}
	}
	return p
}

// Dispatcher 串起实时链路：K 线收盘 -> 指标 -> 策略评估 -> 闸门任务入队。
type Dispatcher struct {
	engine    *market.IndicatorEngine
	evaluator *strategy.Evaluator
	queue     Enqueuer
	signals   SignalStore
	counter   Counter
	now       func() time.Time
	eventBuf  int
	warmup    int
}

type Option func(*Dispatcher)

func WithSignalStore(s SignalStore) Option {
	return func(d *Dispatcher) { d.signals = s }
}

func WithCounter(c Counter) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.counter = c
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithWarmupCandles 设置预热拉取的 K 线数量，小于指标缓冲区时以缓冲区为准。
func WithWarmupCandles(n int) Option {
	return func(d *Dispatcher) { d.warmup = n }
}

// WithEventBuffer 设置行情事件通道容量。
func WithEventBuffer(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.eventBuf = n
		}
	}
}

func NewDispatcher(engine *market.IndicatorEngine, evaluator *strategy.Evaluator, q Enqueuer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		engine:    engine,
		evaluator: evaluator,
		queue:     q,
		counter:   nopCounter{},
		now:       func() time.Time { return time.Now().UTC() },
		eventBuf:  128,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Warmup 用历史 K 线填充指标缓冲区，单个品种失败只记录日志。
func (d *Dispatcher) Warmup(ctx context.Context, fetcher exchange.CandleFetcher, symbols []string, tfs []market.Timeframe) int {
	if fetcher == nil {
		return 0
	}
	size := d.engine.Params().BufferSize()
	if d.warmup > size {
		size = d.warmup
	}
	end := d.now()
	loaded := 0
	for _, symbol := range symbols {
		for _, tf := range tfs {
			if err := ctx.Err(); err != nil {
				return loaded
			}
			start := end.Add(-time.Duration(size) * tf.Duration())
			candles, err := fetcher.Klines(ctx, symbol, tf, start, end, size)
			if err != nil {
				pipeLog.Warnf("warmup %s %s failed: %v", symbol, tf, err)
				continue
			}
			// 最后一根可能尚未收盘，交给行情流覆盖
			d.engine.Load(symbol, tf, candles)
			loaded++
			pipeLog.Infof("warmup %s %s candles=%d", symbol, tf, len(candles))
		}
	}
	return loaded
}

// Submit 校验并入队一个闸门任务，任务 ID 即幂等键。
func (d *Dispatcher) Submit(ctx context.Context, job riskgate.GateJob) (bool, error) {
	if err := job.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", riskgate.ErrInvalidJob, err)
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal gate job: %w", err)
	}
	return d.queue.Enqueue(ctx, job.IdempotencyKey, raw)
}

// HandleCandle 处理一条行情事件。只有收盘 K 线且产生可执行信号时才入队，
// 返回的 bool 表示是否写入了新任务。
func (d *Dispatcher) HandleCandle(ctx context.Context, ev market.CandleEvent) (riskgate.GateJob, bool, error) {
	if !ev.Closed {
		return riskgate.GateJob{}, false, nil
	}
	d.counter.Inc("candles_closed")
	if _, ok := d.engine.Update(ev.Symbol, ev.Timeframe, ev.Candle); !ok {
		pipeLog.Debugf("indicators not ready %s %s", ev.Symbol, ev.Timeframe)
		return riskgate.GateJob{}, false, nil
	}
	results := d.evaluator.Evaluate(ev.Symbol, ev.Timeframe)
	payload := NewGatePayload(results)
	if len(payload.Signals) == 0 {
		return riskgate.GateJob{}, false, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return riskgate.GateJob{}, false, fmt.Errorf("marshal gate payload: %w", err)
	}
	closeTime := time.UnixMilli(ev.Candle.OpenTime).Add(ev.Timeframe.Duration())
	job := riskgate.NewJob(ev.Symbol, ev.Timeframe, closeTime, raw)
	dup, err := d.Submit(ctx, job)
	if err != nil {
		return job, false, err
	}
	if dup {
		d.counter.Inc("gate_jobs_duplicate")
		pipeLog.Debugf("gate job %s already queued", job.IdempotencyKey)
		return job, false, nil
	}
	d.counter.Inc("gate_jobs_queued")
	pipeLog.Infof("gate job %s queued signals=%d", job.IdempotencyKey, len(payload.Signals))
	return job, true, nil
}

// Run 消费行情流并持久化信号，直到 ctx 结束或行情流返回错误。
func (d *Dispatcher) Run(ctx context.Context, stream exchange.CandleStream) error {
	if stream == nil {
		return fmt.Errorf("pipeline: candle stream is nil")
	}
	events := make(chan market.CandleEvent, d.eventBuf)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return stream.Run(gctx, events)
	})
	g.Go(func() error {
		d.consume(gctx, events)
		return nil
	})
	g.Go(func() error {
		d.persistSignals(gctx)
		return nil
	})
	return g.Wait()
}

func (d *Dispatcher) consume(ctx context.Context, events <-chan market.CandleEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if _, _, err := d.HandleCandle(ctx, ev); err != nil && ctx.Err() == nil {
				pipeLog.Errorf("handle candle %s %s failed: %v", ev.Symbol, ev.Timeframe, err)
			}
		}
	}
}

func (d *Dispatcher) persistSignals(ctx context.Context) {
	ch := d.evaluator.Signals()
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			if d.signals == nil {
				continue
			}
			if err := d.signals.SaveSignal(ctx, sig); err != nil {
				d.counter.Inc("signal_save_errors")
				pipeLog.Warnf("save signal %s %s failed: %v", sig.StrategyID, sig.Symbol, err)
			}
		}
	}
}
