package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"tradegate/internal/logger"

	"golang.org/x/sync/errgroup"
)

var queueLog = logger.Named("queue")

// Job 是队列中的一条任务，ID 同时是去重键。
type Job struct {
	ID         string    `json:"id"`
	Payload    []byte    `json:"payload"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	NextRunAt  time.Time `json:"nextRunAt"`
	LastError  string    `json:"lastError,omitempty"`
}

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Stats 按状态统计任务数。
type Stats struct {
	Pending int64 `json:"pending"`
	Running int64 `json:"running"`
	Done    int64 `json:"done"`
	Failed  int64 `json:"failed"`
}

// Backend 是队列存储。Put 对已知 ID 返回 duplicate=true，
// Claim 把任务置为 running 并累加 Attempts。时间一律由队列时钟传入。
type Backend interface {
	Put(ctx context.Context, job Job) (duplicate bool, err error)
	Claim(ctx context.Context, now time.Time) (Job, bool, error)
	Complete(ctx context.Context, id string, now time.Time) error
	Retry(ctx context.Context, id string, nextRunAt time.Time, lastErr string) error
	Fail(ctx context.Context, id string, lastErr string) error
	ResetRunning(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

// Handler 处理一条任务。返回 error 视为意外故障并按退避重试，
// 用 Permanent 包装的错误直接标记失败。
type Handler func(ctx context.Context, job Job) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent 标记不可重试的错误。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type Config struct {
	Concurrency  int
	MaxAttempts  int
	Backoff      time.Duration
	MaxBackoff   time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	return c
}

// BackoffFor 返回第 attempt 次失败后的等待时间：base*2^(attempt-1)，不超过 max。
func (c Config) BackoffFor(attempt int) time.Duration {
	c = c.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := c.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

// Queue 在 Backend 之上运行固定并发的 worker。
type Queue struct {
	backend Backend
	cfg     Config
	now     func() time.Time
	wake    chan struct{}

	mu      sync.Mutex
	running bool
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

func New(backend Backend, cfg Config, opts ...Option) *Queue {
	q := &Queue{
		backend: backend,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Config() Config { return q.cfg }

// Enqueue 写入任务，jobID 为空时返回错误，由调用方决定默认值。
func (q *Queue) Enqueue(ctx context.Context, jobID string, payload []byte) (bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return false, fmt.Errorf("queue: job id is required")
	}
	now := q.now()
	dup, err := q.backend.Put(ctx, Job{
		ID:         jobID,
		Payload:    payload,
		EnqueuedAt: now,
		NextRunAt:  now,
	})
	if err != nil {
		return false, fmt.Errorf("queue: enqueue %s: %w", jobID, err)
	}
	if dup {
		queueLog.Debugf("duplicate job %s absorbed", jobID)
		return true, nil
	}
	q.notify()
	return false, nil
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	return q.backend.Stats(ctx)
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run 启动 worker 并阻塞到 ctx 结束。
func (q *Queue) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("queue: handler is nil")
	}
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return fmt.Errorf("queue: already running")
	}
	q.running = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	if n, err := q.backend.ResetRunning(ctx); err != nil {
		queueLog.Warnf("reset running jobs failed: %v", err)
	} else if n > 0 {
		queueLog.Infof("requeued %d interrupted jobs", n)
	}

	queueLog.Infof("started workers=%d max_attempts=%d", q.cfg.Concurrency, q.cfg.MaxAttempts)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.cfg.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			q.workerLoop(gctx, worker, handler)
			return nil
		})
	}
	err := g.Wait()
	queueLog.Infof("stopped")
	return err
}

func (q *Queue) workerLoop(ctx context.Context, worker int, handler Handler) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		for q.RunOnce(ctx, handler) {
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

// RunOnce 领取并处理一条就绪任务，没有任务时返回 false。
func (q *Queue) RunOnce(ctx context.Context, handler Handler) bool {
	job, ok, err := q.backend.Claim(ctx, q.now())
	if err != nil {
		if ctx.Err() == nil {
			queueLog.Warnf("claim failed: %v", err)
		}
		return false
	}
	if !ok {
		return false
	}
	herr := q.invoke(ctx, handler, job)
	q.settle(ctx, job, herr)
	return true
}

func (q *Queue) invoke(ctx context.Context, handler Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			queueLog.Errorf("job %s panic: %v\n%s", job.ID, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) settle(ctx context.Context, job Job, herr error) {
	// 结算不受 worker 退出影响
	sctx := context.WithoutCancel(ctx)
	switch {
	case herr == nil:
		if err := q.backend.Complete(sctx, job.ID, q.now()); err != nil {
			queueLog.Warnf("complete %s failed: %v", job.ID, err)
		}
	case IsPermanent(herr) || job.Attempts >= q.cfg.MaxAttempts:
		queueLog.Errorf("job %s failed after %d attempts: %v", job.ID, job.Attempts, herr)
		if err := q.backend.Fail(sctx, job.ID, herr.Error()); err != nil {
			queueLog.Warnf("fail %s failed: %v", job.ID, err)
		}
	default:
		wait := q.cfg.BackoffFor(job.Attempts)
		queueLog.Warnf("job %s attempt %d failed, retry in %s: %v", job.ID, job.Attempts, wait, herr)
		if err := q.backend.Retry(sctx, job.ID, q.now().Add(wait), herr.Error()); err != nil {
			queueLog.Warnf("retry %s failed: %v", job.ID, err)
		}
	}
}
