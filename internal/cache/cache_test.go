package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	c := NewMemory().WithClock(func() time.Time { return now })

	c.Set(ctx, "price:BTCUSDT", "42000.5", 5*time.Second)
	v, ok := c.Get(ctx, "price:BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, "42000.5", v)

	now = now.Add(5 * time.Second)
	_, ok = c.Get(ctx, "price:BTCUSDT")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	c.Set(ctx, "forever", "x", 0)
	now = now.Add(24 * time.Hour)
	_, ok = c.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestMemoryIncrAndSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)
	c := NewMemory().WithClock(func() time.Time { return now })

	assert.Equal(t, int64(1), c.Incr(ctx, "n", time.Minute))
	assert.Equal(t, int64(2), c.Incr(ctx, "n", time.Minute))
	now = now.Add(time.Minute)
	assert.Equal(t, int64(1), c.Incr(ctx, "n", time.Minute), "expired counter restarts")

	c.Set(ctx, "a", "1", time.Second)
	c.Set(ctx, "b", "1", time.Hour)
	now = now.Add(2 * time.Second)
	assert.Equal(t, 1, c.Sweep())
	c.Delete(ctx, "b")
	_, ok := c.Get(ctx, "b")
	assert.False(t, ok)
}

func TestNopAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	var c Cache = Nop{}
	c.Set(ctx, "k", "v", time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.Incr(ctx, "k", time.Minute))
}
