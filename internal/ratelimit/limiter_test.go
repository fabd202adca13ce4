package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delayRecorder struct {
	mu     sync.Mutex
	delays map[string]int
}

func (r *delayRecorder) ObserveRateLimitDelay(host string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.delays == nil {
		r.delays = map[string]int{}
	}
	r.delays[host]++
}

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	obs := &delayRecorder{}
	// 10 RPS with burst 1 means one token every 100ms.
	l := New(Config{PerHostRPS: 10, Burst: 1}, obs)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://colagenotipo2pro.com.br/a.png"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://colagenotipo2pro.com.br/b.png"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 1, obs.delays["colagenotipo2pro.com.br"])
}

func TestLimiter_DifferentHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHostRPS: 1, Burst: 1}, nil)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "host b must not wait on host a")
}

func TestLimiter_Unlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{}, nil)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(ctx, "https://a.example/x"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_CanceledContext(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHostRPS: 0.1, Burst: 1}, nil)
	require.NoError(t, l.Wait(context.Background(), "https://a.example/1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://a.example/2")
	require.Error(t, err)
}
