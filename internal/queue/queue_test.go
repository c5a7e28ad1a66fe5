package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func backends() map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend { return NewMemoryBackend(time.Hour) },
		"gorm": func(t *testing.T) Backend {
			b, err := NewGormBackend(openTestDB(t))
			require.NoError(t, err)
			return b
		},
	}
}

func TestBackoffFor(t *testing.T) {
	cfg := Config{Backoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	cases := map[int]time.Duration{
		0:  100 * time.Millisecond,
		1:  100 * time.Millisecond,
		2:  200 * time.Millisecond,
		3:  400 * time.Millisecond,
		4:  800 * time.Millisecond,
		5:  time.Second,
		40: time.Second,
	}
	for attempt, want := range cases {
		assert.Equal(t, want, cfg.BackoffFor(attempt), "attempt %d", attempt)
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", Permanent(base))
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))
}

func TestQueueSemantics(t *testing.T) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("duplicate ids are absorbed", func(t *testing.T) {
				q := New(mk(t), Config{})
				dup, err := q.Enqueue(ctx, "BTCUSDT:1h:2024-01-01T00:00:00Z", []byte(`{}`))
				require.NoError(t, err)
				assert.False(t, dup)

				var calls int
				assert.True(t, q.RunOnce(ctx, func(context.Context, Job) error { calls++; return nil }))
				assert.False(t, q.RunOnce(ctx, func(context.Context, Job) error { calls++; return nil }))

				dup, err = q.Enqueue(ctx, "BTCUSDT:1h:2024-01-01T00:00:00Z", []byte(`{}`))
				require.NoError(t, err)
				assert.True(t, dup)
				assert.False(t, q.RunOnce(ctx, func(context.Context, Job) error { calls++; return nil }))
				assert.Equal(t, 1, calls)

				st, err := q.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(1), st.Done)
			})

			t.Run("empty id rejected", func(t *testing.T) {
				q := New(mk(t), Config{})
				_, err := q.Enqueue(ctx, "  ", nil)
				assert.Error(t, err)
			})

			t.Run("faults retry with backoff until max attempts", func(t *testing.T) {
				clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
				q := New(mk(t), Config{MaxAttempts: 3, Backoff: time.Second, MaxBackoff: time.Minute}, WithClock(clock.Now))
				_, err := q.Enqueue(ctx, "job-1", []byte(`{"n":1}`))
				require.NoError(t, err)

				var attempts []int
				failing := func(_ context.Context, job Job) error {
					attempts = append(attempts, job.Attempts)
					assert.JSONEq(t, `{"n":1}`, string(job.Payload))
					return errors.New("exchange unavailable")
				}
				require.True(t, q.RunOnce(ctx, failing))
				assert.False(t, q.RunOnce(ctx, failing), "not ready before backoff")

				clock.Advance(time.Second)
				require.True(t, q.RunOnce(ctx, failing))
				clock.Advance(time.Second)
				assert.False(t, q.RunOnce(ctx, failing), "second backoff is 2s")
				clock.Advance(time.Second)
				require.True(t, q.RunOnce(ctx, failing))

				clock.Advance(time.Hour)
				assert.False(t, q.RunOnce(ctx, failing))
				assert.Equal(t, []int{1, 2, 3}, attempts)

				st, err := q.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(1), st.Failed)
			})

			t.Run("permanent errors are not retried", func(t *testing.T) {
				q := New(mk(t), Config{MaxAttempts: 5})
				_, err := q.Enqueue(ctx, "job-2", nil)
				require.NoError(t, err)
				require.True(t, q.RunOnce(ctx, func(context.Context, Job) error {
					return Permanent(errors.New("bad payload"))
				}))
				st, err := q.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(1), st.Failed)
				assert.Equal(t, int64(0), st.Pending)
			})

			t.Run("panics count as faults", func(t *testing.T) {
				clock := &testClock{now: time.Unix(0, 0)}
				q := New(mk(t), Config{MaxAttempts: 2, Backoff: time.Millisecond}, WithClock(clock.Now))
				_, err := q.Enqueue(ctx, "job-3", nil)
				require.NoError(t, err)
				require.True(t, q.RunOnce(ctx, func(context.Context, Job) error { panic("nil map") }))
				clock.Advance(time.Second)
				require.True(t, q.RunOnce(ctx, func(context.Context, Job) error { return nil }))
				st, err := q.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(1), st.Done)
			})
		})
	}
}

func TestRunProcessesAllJobs(t *testing.T) {
	q := New(NewMemoryBackend(time.Hour), Config{Concurrency: 3, PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- q.Run(ctx, func(context.Context, Job) error {
			handled.Add(1)
			return nil
		})
	}()

	for i := 0; i < 20; i++ {
		_, err := q.Enqueue(ctx, fmt.Sprintf("job-%d", i), nil)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return handled.Load() == 20 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not stop")
	}
}

func TestRunRejectsNilHandler(t *testing.T) {
	q := New(NewMemoryBackend(0), Config{})
	assert.Error(t, q.Run(context.Background(), nil))
}

func TestResetRunningRequeues(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(time.Hour)
	_, err := b.Put(ctx, Job{ID: "a", NextRunAt: time.Unix(0, 0)})
	require.NoError(t, err)
	_, ok, err := b.Claim(ctx, time.Unix(1, 0))
	require.NoError(t, err)
	require.True(t, ok)

	n, err := b.ResetRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	status, job, found := b.Status("a")
	require.True(t, found)
	assert.Equal(t, StatusPending, status)
	assert.Equal(t, 1, job.Attempts)
}

func TestMemoryRetentionFollowsQueueClock(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewMemoryBackend(time.Hour)
	q := New(b, Config{}, WithClock(clock.Now))
	noop := func(context.Context, Job) error { return nil }

	_, err := q.Enqueue(ctx, "BTCUSDT:1h:2024-01-01T00:00:00Z", nil)
	require.NoError(t, err)
	require.True(t, q.RunOnce(ctx, noop))

	clock.Advance(30 * time.Minute)
	dup, err := q.Enqueue(ctx, "BTCUSDT:1h:2024-01-01T00:00:00Z", nil)
	require.NoError(t, err)
	assert.True(t, dup, "still inside retention")

	clock.Advance(time.Hour)
	dup, err = q.Enqueue(ctx, "BTCUSDT:1h:2024-01-01T00:00:00Z", nil)
	require.NoError(t, err)
	assert.False(t, dup, "completed job expired by queue time")
	status, _, found := b.Status("BTCUSDT:1h:2024-01-01T00:00:00Z")
	require.True(t, found)
	assert.Equal(t, StatusPending, status)
}
