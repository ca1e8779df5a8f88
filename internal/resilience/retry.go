// Package resilience provides the retry wrapper, the hybrid strategy selector,
// and the outbound throttle that every source call passes through.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/JakeFAU/risk-screener/internal/metrics"
)

// Backoff strategies.
const (
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// RetryConfig tunes a Retrier.
type RetryConfig struct {
	// MaxRetries counts retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps a single backoff step. Zero means uncapped.
	MaxDelay time.Duration
	// AttemptTimeout bounds each attempt independently of the caller's context.
	AttemptTimeout time.Duration
	Backoff        string
}

// Classifier reports whether err is worth another attempt.
type Classifier func(err error) bool

// Retrier re-runs transient failures with backoff.
type Retrier struct {
	cfg      RetryConfig
	classify Classifier
	logger   *zap.Logger
}

// RetrierOption customizes a Retrier.
type RetrierOption func(*Retrier)

// WithClassifier replaces IsTransient.
func WithClassifier(c Classifier) RetrierOption {
	return func(r *Retrier) {
		if c != nil {
			r.classify = c
		}
	}
}

// NewRetrier builds a Retrier.
func NewRetrier(cfg RetryConfig, logger *zap.Logger, opts ...RetrierOption) *Retrier {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.Backoff == "" {
		cfg.Backoff = BackoffLinear
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retrier{cfg: cfg, classify: IsTransient, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs op until it succeeds, fails permanently, exhausts retries, or ctx ends.
// No attempt starts after ctx is done.
func (r *Retrier) Do(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	var (
		attempt int
		lastErr error
	)
	backoff := retry.WithMaxRetries(uint64(r.cfg.MaxRetries), r.backoff(operation, &attempt, &lastErr))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx := ctx
		if r.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
			defer cancel()
		}

		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) && attemptCtx.Err() != nil {
			return retry.RetryableError(fmt.Errorf("attempt timed out after %s: %w", r.cfg.AttemptTimeout, err))
		}
		if r.classify(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if attempt > 1 {
			return fmt.Errorf("%s failed after %d attempts: %w", operation, attempt, err)
		}
		return err
	}
	return nil
}

// Call is Do for operations that return a value.
func Call[T any](ctx context.Context, r *Retrier, operation string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, operation, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// backoff returns the delay for retry k (1-based): base*k for linear, base*2^(k-1)
// for exponential. It is only consulted when another attempt will run, so it
// doubles as the retry hook for logging and metrics.
func (r *Retrier) backoff(operation string, attempt *int, lastErr *error) retry.Backoff {
	var k int
	return retry.BackoffFunc(func() (time.Duration, bool) {
		k++
		delay := r.cfg.BaseDelay * time.Duration(k)
		if r.cfg.Backoff == BackoffExponential {
			delay = r.cfg.BaseDelay << (k - 1)
		}
		if r.cfg.MaxDelay > 0 && delay > r.cfg.MaxDelay {
			delay = r.cfg.MaxDelay
		}
		metrics.ObserveRetry(operation)
		r.logger.Warn("retrying upstream call",
			zap.String("operation", operation),
			zap.Int("attempt", *attempt),
			zap.Int("max_retries", r.cfg.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(*lastErr),
		)
		return delay, false
	})
}

// TransientError marks an error as retryable regardless of its type.
type TransientError struct {
	Err error
}

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func (e *TransientError) Error() string { return e.Err.Error() }

// Unwrap exposes the cause.
func (e *TransientError) Unwrap() error { return e.Err }

// StatusError is a non-2xx upstream HTTP response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout
}

// IsTransient is the default classifier: network and timeout failures, 5xx/429
// responses, and explicitly wrapped TransientErrors. Caller cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
