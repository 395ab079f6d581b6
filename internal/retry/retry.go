// Package retry runs external calls with bounded exponential backoff.
//
// Only transient failures are retried: errors marked with MarkTransient,
// per-attempt timeouts, network timeouts and gRPC Unavailable /
// ResourceExhausted / DeadlineExceeded / Aborted statuses. Everything else is
// returned immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jpillora/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrTransient marks an error as eligible for retry.
var ErrTransient = errors.New("transient failure")

// ErrExhausted wraps the last error once all attempts are spent.
var ErrExhausted = errors.New("retries exhausted")

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() []error {
	return []error{e.err, ErrTransient}
}

// MarkTransient wraps err so IsTransient reports true.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
			return true
		}
	}
	return false
}

type Policy struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
	// AttemptTimeout bounds each call; zero leaves the parent deadline in charge.
	AttemptTimeout time.Duration
	// Retryable overrides IsTransient when set.
	Retryable func(error) bool
}

// DefaultPolicy is three attempts between 500ms and 5s.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Min: 500 * time.Millisecond, Max: 5 * time.Second}
}

// Do calls fn until it succeeds, fails permanently, the attempts run out or ctx ends.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	b := &backoff.Backoff{Min: p.Min, Max: p.Max, Factor: 2}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = call(ctx, p.AttemptTimeout, fn)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("attempt %d: %w", attempt, lastErr)
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("attempt %d: %w", attempt, lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

func call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}
