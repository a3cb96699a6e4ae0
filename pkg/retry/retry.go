/**
 * @description
 * This package provides a small bounded exponential-backoff retry helper for
 * fallible calls to external collaborators (database, broker, HTTP APIs).
 * The policy is stateless and reusable; every invocation runs independently
 * with no shared state or rate limiting.
 *
 * @notes
 * - The wrapped operation is re-invoked in full on every attempt, so it must
 *   be idempotent or otherwise retry-safe.
 * - A cancelled context short-circuits the loop before each retry and during
 *   the backoff sleep, surfacing a distinct cancellation error instead of
 *   running to exhaustion.
 */
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrRetryable tags errors a caller has classified as transient. Wrap it
// (fmt.Errorf("...: %w", retry.ErrRetryable)) to force a retry for error
// kinds the default classifier cannot recognize, such as provider-specific
// retryable auth failures.
var ErrRetryable = errors.New("retryable")

// StatusCoder is implemented by errors carrying an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// Classifier reports whether an error is worth retrying.
type Classifier func(error) bool

// OnRetry observes a scheduled retry. It is invoked synchronously with the
// failed attempt number (1-based), the error, and the upcoming delay.
type OnRetry func(attempt int, err error, delay time.Duration)

const defaultMaxRetries = 3

type options struct {
	maxRetries int
	classify   Classifier
	backoff    func(attempt int) time.Duration
	onRetry    OnRetry
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option customizes a single Do invocation.
type Option func(*options)

// WithMaxRetries bounds the total number of attempts. Values below one are
// coerced to one (a single attempt, no retries).
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.maxRetries = n
	}
}

// WithClassifier replaces the default retryable-error classifier.
func WithClassifier(c Classifier) Option {
	return func(o *options) {
		if c != nil {
			o.classify = c
		}
	}
}

// WithBackoff replaces the default exponential backoff schedule.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(o *options) {
		if fn != nil {
			o.backoff = fn
		}
	}
}

// WithOnRetry registers a hook observing each scheduled retry, for logging
// and telemetry.
func WithOnRetry(fn OnRetry) Option {
	return func(o *options) { o.onRetry = fn }
}

// WithSleep replaces the backoff sleep. Intended for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// DefaultBackoff doubles the delay on every attempt: 1s, 2s, 4s, ...
func DefaultBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(1<<uint(attempt-1)) * time.Second
}

// DefaultClassifier treats as transient: errors tagged with ErrRetryable,
// gateway timeouts (504), net.Error timeouts, and errors whose text mentions
// a timeout or network failure.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRetryable) {
		return true
	}
	var sc StatusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() == http.StatusGatewayTimeout {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "network")
}

// Do invokes op, retrying transient failures with exponential backoff until
// it succeeds, the retry budget is exhausted, a non-retryable error occurs,
// or ctx is cancelled. The final error is returned unchanged; exhaustion and
// non-retryable failures add no wrapping so callers can errors.Is/As against
// the original. Cancellation returns an error wrapping ctx.Err().
func Do(ctx context.Context, op func(context.Context) error, opts ...Option) error {
	o := options{
		maxRetries: defaultMaxRetries,
		classify:   DefaultClassifier,
		backoff:    DefaultBackoff,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(&o)
	}

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		attempt++
		if attempt >= o.maxRetries || !o.classify(err) {
			return err
		}

		delay := o.backoff(attempt)
		if o.onRetry != nil {
			o.onRetry(attempt, err, delay)
		}
		if err := o.sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

// DoValue is Do for operations that produce a value. On failure the zero
// value is returned alongside the error.
func DoValue[T any](ctx context.Context, op func(context.Context) (T, error), opts ...Option) (T, error) {
	var result T
	err := Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
