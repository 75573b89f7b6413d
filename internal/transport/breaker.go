package transport

import (
	"sync"
	"time"

	"github.com/rendis/nodegraph/pkg/schema"
)

// BreakerState is the state of one host's circuit.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures per-host circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transport failures that opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a probe is let through.
	Cooldown    time.Duration
	HalfOpenMax int
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type breaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	lastFailure      time.Time
	halfOpenAttempts int
}

// BreakerRegistry holds one breaker per host.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   BreakerConfig
	now      func() time.Time
}

// NewBreakerRegistry creates a registry with the given config.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = 1
	}
	return &BreakerRegistry{
		breakers: make(map[string]*breaker),
		config:   config,
		now:      time.Now,
	}
}

// Allow returns nil when a call to host may proceed, or a TRANSPORT_FAILURE
// error while its circuit is open.
func (r *BreakerRegistry) Allow(host string) error {
	b := r.get(host)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		elapsed := r.now().Sub(b.lastFailure)
		if elapsed >= r.config.Cooldown {
			b.state = BreakerHalfOpen
			b.halfOpenAttempts = 1
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeTransport,
			"circuit open for host %q after %d consecutive failures", host, b.failures).
			WithDetails(map[string]any{
				"host":               host,
				"state":              b.state.String(),
				"cooldown_remaining": (r.config.Cooldown - elapsed).String(),
			})

	case BreakerHalfOpen:
		if b.halfOpenAttempts >= r.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeTransport,
				"circuit half-open for host %q: probe in flight", host).
				WithDetails(map[string]any{"host": host, "state": b.state.String()})
		}
		b.halfOpenAttempts++
	}
	return nil
}

// RecordSuccess closes the host's circuit.
func (r *BreakerRegistry) RecordSuccess(host string) {
	b := r.get(host)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.halfOpenAttempts = 0
	b.state = BreakerClosed
}

// RecordFailure counts a transport failure and returns the resulting state.
func (r *BreakerRegistry) RecordFailure(host string) BreakerState {
	b := r.get(host)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = r.now()

	if b.state == BreakerHalfOpen || b.failures >= r.config.FailureThreshold {
		b.state = BreakerOpen
	}
	return b.state
}

// Release gives back an admission that ended without a verdict, such as a
// call abandoned because its caller went away. Failure counts are untouched.
func (r *BreakerRegistry) Release(host string) {
	b := r.get(host)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen && b.halfOpenAttempts > 0 {
		b.halfOpenAttempts--
	}
}

// State returns the current state for host.
func (r *BreakerRegistry) State(host string) BreakerState {
	b := r.get(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (r *BreakerRegistry) get(host string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[host]
	if !ok {
		b = &breaker{}
		r.breakers[host] = b
	}
	return b
}
