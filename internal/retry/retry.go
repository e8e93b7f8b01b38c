// Package retry implements the jittered exponential backoff used by Sage's
// LLM and embedding HTTP calls (web search requests are not retried): a
// generic retry-with-backoff wrapper around a fallible operation,
// classifying errors via IsTransient before deciding whether to retry.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/sageagent/sage/internal/sageerr"
)

// Config controls the retry schedule.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig is three attempts with backoff from 250ms capped at 4s,
// used for the LLM and embedding HTTP calls.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 4 * time.Second}
}

// HTTPError represents a non-2xx HTTP response from an external endpoint.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return "http status " + itoa(e.Status) + ": " + e.Body
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// IsTransient classifies an error as retryable: 5xx/429 HTTP responses,
// context deadline timeouts, and net.Error timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status >= 500 || he.Status == 429
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sageerr.Transient)
}

// Do runs fn up to cfg.MaxAttempts times, sleeping with jittered exponential
// backoff between attempts, and stops early on a non-transient error.
func Do[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt == cfg.MaxAttempts {
			return zero, err
		}

		var he *HTTPError
		wait := delay
		if errors.As(err, &he) && he.RetryAfter > 0 {
			wait = he.RetryAfter
		}
		wait += time.Duration(rand.Int63n(int64(wait)/2 + 1))

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return zero, lastErr
}
