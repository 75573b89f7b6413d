package transport

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"
)

// RetryPolicy bounds retries of transport failures. HTTP statuses are
// never retried.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	Strategy   string // constant | linear | exponential (default: exponential)
	MaxDelay   time.Duration
}

// Backoff returns the delay before retry number attempt (0-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch p.Strategy {
	case "constant":
		delay = p.Delay
	case "linear":
		delay = p.Delay * time.Duration(attempt+1)
	default:
		multiplier := time.Duration(1)
		for i := 0; i < attempt; i++ {
			multiplier *= 2
		}
		delay = p.Delay * multiplier
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// IsRetryable reports whether err is a transient transport failure. Nothing
// is retryable once the caller's context is done.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Per-attempt timeout while the caller is still live.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// *url.Error satisfies net.Error itself; judge what it wraps.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"no such host",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// WaitForBackoff sleeps for delay or returns early with the context error.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
