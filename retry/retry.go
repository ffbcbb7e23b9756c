// Package retry provides a bounded-retry combinator for calls to an
// unreliable execution venue.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
)

// Classifier decides whether an error is worth another attempt
type Classifier func(err error) bool

// AttemptFunc receives a diagnostic event for every failed attempt
type AttemptFunc func(attempt int, err error)

// ExhaustedError wraps the last error observed after all attempts failed
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: unsuccessful after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

type config struct {
	delay      time.Duration
	backoff    *backoff.Backoff
	retryable  Classifier
	onAttempt  AttemptFunc
	maxAttempt int
}

// Option configures a retry run
type Option func(*config)

// WithDelay sets a fixed wait between attempts
func WithDelay(d time.Duration) Option {
	return func(c *config) { c.delay = d }
}

// WithBackoff replaces the fixed delay with a backoff schedule
func WithBackoff(b *backoff.Backoff) Option {
	return func(c *config) { c.backoff = b }
}

// WithClassifier restricts retries to errors accepted by fn. Errors outside
// the class propagate immediately without consuming attempts.
func WithClassifier(fn Classifier) Option {
	return func(c *config) { c.retryable = fn }
}

// WithOnAttempt registers a diagnostic callback invoked once per failed attempt
func WithOnAttempt(fn AttemptFunc) Option {
	return func(c *config) { c.onAttempt = fn }
}

// Do invokes op up to maxAttempts times, waiting between attempts. The
// first success short-circuits. Non-retryable errors propagate untouched;
// a retryable error surviving every attempt is wrapped in ExhaustedError
// carrying the operation name and attempt count.
func Do[T any](ctx context.Context, op string, maxAttempts int, fn func() (T, error),
	opts ...Option) (T, error) {

	cfg := config{
		maxAttempt: maxAttempts,
		retryable:  func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var zero T
	if cfg.maxAttempt < 1 {
		return zero, fmt.Errorf("%s: invalid attempt count %d", op, cfg.maxAttempt)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.maxAttempt; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		if !cfg.retryable(err) {
			return zero, err
		}

		lastErr = err
		if cfg.onAttempt != nil {
			cfg.onAttempt(attempt, err)
		}

		if attempt == cfg.maxAttempt {
			break
		}

		if err := wait(ctx, cfg.nextDelay()); err != nil {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Op: op, Attempts: cfg.maxAttempt, Err: lastErr}
}

func (c *config) nextDelay() time.Duration {
	if c.backoff != nil {
		return c.backoff.Duration()
	}
	return c.delay
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
