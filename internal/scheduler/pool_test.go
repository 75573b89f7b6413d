package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPool_BoundsConcurrency(t *testing.T) {
	p := newRunPool(2)
	var active, peak atomic.Int32
	release := make(chan struct{})

	for _, key := range []string{"a", "b", "c"} {
		go func(key string) {
			_, _ = p.Submit(context.Background(), key, func(context.Context) {
				n := active.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				<-release
				active.Add(-1)
			})
		}(key)
	}

	require.Eventually(t, func() bool { return active.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	require.Eventually(t, func() bool { return p.Metrics().Completed == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), peak.Load())
}

func TestRunPool_OneRunPerKey(t *testing.T) {
	p := newRunPool(4)
	release := make(chan struct{})

	ok, err := p.Submit(context.Background(), "g", func(context.Context) { <-release })
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Submit(context.Background(), "g", func(context.Context) {})
	require.NoError(t, err)
	assert.False(t, ok)

	close(release)
	p.Wait()
	assert.False(t, p.InFlight("g"))

	ok, err = p.Submit(context.Background(), "g", func(context.Context) {})
	require.NoError(t, err)
	assert.True(t, ok)
	p.Wait()
}

func TestRunPool_RecoversPanics(t *testing.T) {
	p := newRunPool(1)
	ok, err := p.Submit(context.Background(), "x", func(context.Context) { panic("boom") })
	require.NoError(t, err)
	require.True(t, ok)
	p.Wait()

	assert.Equal(t, int64(1), p.Metrics().Panics)
	assert.False(t, p.InFlight("x"))
}

func TestRunPool_Shutdown(t *testing.T) {
	p := newRunPool(1)
	p.Shutdown()
	p.Shutdown()

	_, err := p.Submit(context.Background(), "x", func(context.Context) {})
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestRunPool_SubmitHonoursContext(t *testing.T) {
	p := newRunPool(1)
	release := make(chan struct{})
	_, err := p.Submit(context.Background(), "a", func(context.Context) { <-release })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Submit(ctx, "b", func(context.Context) {})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, p.InFlight("b"))

	close(release)
	p.Wait()
}
