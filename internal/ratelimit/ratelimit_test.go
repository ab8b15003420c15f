package ratelimit

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newMemory(limit int, window time.Duration) (*MemoryLimiter, *clock) {
	c := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(limit, window)
	l.now = c.Now
	return l, c
}

func TestMemoryLimiterDeniesAtLimit(t *testing.T) {
	l, c := newMemory(20, time.Hour)
	ctx := context.Background()
	start := c.Now()

	for i := 0; i < 20; i++ {
		d, err := l.Allow(ctx, "alice")
		require.NoError(t, err)
		require.True(t, d.Allowed, "call %d", i)
		assert.Equal(t, 20-(i+1), d.Remaining)
		c.Advance(time.Second)
	}

	d, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.Equal(t, start.Add(time.Hour), d.ResetAt)
	assert.Equal(t, time.Hour-20*time.Second, d.RetryAfter(c.Now()))

	other, err := l.Allow(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestMemoryLimiterWindowSlides(t *testing.T) {
	l, c := newMemory(2, time.Minute)
	ctx := context.Background()

	d, _ := l.Allow(ctx, "alice")
	require.True(t, d.Allowed)
	c.Advance(30 * time.Second)
	d, _ = l.Allow(ctx, "alice")
	require.True(t, d.Allowed)

	d, _ = l.Allow(ctx, "alice")
	require.False(t, d.Allowed)

	// first hit leaves the window exactly one minute after it was recorded
	c.Advance(30 * time.Second)
	d, _ = l.Allow(ctx, "alice")
	assert.True(t, d.Allowed)
	assert.Zero(t, d.Remaining)
}

func TestMemoryLimiterDeniedAttemptsNotRecorded(t *testing.T) {
	l, c := newMemory(1, time.Minute)
	ctx := context.Background()

	d, _ := l.Allow(ctx, "alice")
	require.True(t, d.Allowed)
	for i := 0; i < 5; i++ {
		c.Advance(10 * time.Second)
		d, _ = l.Allow(ctx, "alice")
		require.False(t, d.Allowed)
	}

	c.Advance(10 * time.Second)
	d, _ = l.Allow(ctx, "alice")
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterForgetsIdleCallers(t *testing.T) {
	l, c := newMemory(5, time.Minute)
	ctx := context.Background()

	for _, caller := range []string{"alice", "bob"} {
		d, _ := l.Allow(ctx, caller)
		require.True(t, d.Allowed)
	}
	c.Advance(30 * time.Second)
	d, _ := l.Allow(ctx, "bob")
	require.True(t, d.Allowed)

	c.Advance(45 * time.Second)
	d, _ = l.Allow(ctx, "carol")
	require.True(t, d.Allowed)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.hits, "alice")
	assert.Contains(t, l.hits, "bob")
	assert.Contains(t, l.hits, "carol")
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	l := NewMemoryLimiter(20, time.Hour)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(ctx, "alice")
			assert.NoError(t, err)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, allowed)
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	l := NewRedisLimiter(client, 3, time.Minute)
	l.prefix = "test:" + uuid.NewString() + ":"

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "alice")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		assert.Equal(t, 3-(i+1), d.Remaining)
	}

	d, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, d.ResetAt.After(time.Now()))
}
