package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// PoolMetrics tracks run pool counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Skipped   int64 `json:"skipped"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("run pool is shut down")

// runPool bounds concurrent scheduled runs and keeps at most one run per
// key (graph id) in flight.
type runPool struct {
	sem      chan struct{}
	wg       sync.WaitGroup
	metrics  PoolMetrics
	mu       sync.Mutex
	inflight map[string]struct{}
	done     chan struct{}
	closed   bool
}

func newRunPool(size int) *runPool {
	if size <= 0 {
		size = 1
	}
	return &runPool{
		sem:      make(chan struct{}, size),
		inflight: make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Submit starts fn for key unless a run for key is already in flight, in
// which case it returns false. It blocks while the pool is at capacity.
func (p *runPool) Submit(ctx context.Context, key string, fn func(ctx context.Context)) (bool, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false, ErrPoolShutdown
	}
	if _, busy := p.inflight[key]; busy {
		p.mu.Unlock()
		atomic.AddInt64(&p.metrics.Skipped, 1)
		return false, nil
	}
	p.inflight[key] = struct{}{}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.release(key)
		return false, ctx.Err()
	case <-p.done:
		p.release(key)
		return false, ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown's Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		p.release(key)
		return false, ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
			}
			atomic.AddInt64(&p.metrics.Active, -1)
			atomic.AddInt64(&p.metrics.Completed, 1)
			<-p.sem
			p.release(key)
			p.wg.Done()
		}()
		fn(ctx)
	}()
	return true, nil
}

func (p *runPool) release(key string) {
	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
}

// InFlight reports whether a run for key is executing.
func (p *runPool) InFlight(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[key]
	return ok
}

// Wait blocks until every submitted run returns.
func (p *runPool) Wait() {
	p.wg.Wait()
}

// Shutdown rejects new work and waits for active runs.
func (p *runPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *runPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Skipped:   atomic.LoadInt64(&p.metrics.Skipped),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}
