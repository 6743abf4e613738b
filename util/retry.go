package util

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/clog"
)

const (
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultRetryMaxDelay = 8 * time.Second
)

// NonRetryableError indicates that RetryFunc should stop immediately.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	if e.Err == nil {
		return ""
	}

	return e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

func (e *NonRetryableError) Is(target error) bool {
	_, ok := target.(*NonRetryableError)
	return ok
}

func NewNonRetryableError(err error) error {
	return &NonRetryableError{Err: err}
}

// RetryOptions holds optional parameters for RetryFunc.
type RetryOptions struct {
	Logger    clog.ICustomLog
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Retryable decides whether an error is worth another attempt; nil means
	// every error other than NonRetryableError is retried.
	Retryable func(error) bool

	// Sleep waits between attempts; overridable in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

type RetryOption func(*RetryOptions)

func WithLogger(logger clog.ICustomLog) RetryOption {
	return func(opts *RetryOptions) {
		opts.Logger = logger
	}
}

func WithDelay(delay time.Duration) RetryOption {
	return func(opts *RetryOptions) {
		opts.BaseDelay = delay
	}
}

func WithMaxDelay(delay time.Duration) RetryOption {
	return func(opts *RetryOptions) {
		opts.MaxDelay = delay
	}
}

func WithRetryable(f func(error) bool) RetryOption {
	return func(opts *RetryOptions) {
		opts.Retryable = f
	}
}

func WithSleep(f func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(opts *RetryOptions) {
		opts.Sleep = f
	}
}

// Backoff returns the delay before retry number attempt (0-based):
// base * 2^attempt, capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	if attempt > 30 {
		return max
	}

	d := base * (1 << attempt)
	if max > 0 && d > max {
		return max
	}

	return d
}

// SleepContext sleeps for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryFunc runs fn up to maxAttempts times with capped exponential backoff
// between attempts.
func RetryFunc(ctx context.Context, fn func() error, maxAttempts int, opts ...RetryOption) error {
	options := &RetryOptions{
		BaseDelay: DefaultRetryDelay,
		MaxDelay:  DefaultRetryMaxDelay,
		Sleep:     SleepContext,
	}

	for _, opt := range opts {
		opt(options)
	}

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	llog := clog.NewNoop()

	if options.Logger != nil {
		llog = options.Logger.With(
			zap.String("method", "RetryFunc"),
			zap.Int("maxAttempts", maxAttempts),
		)
	}

	var err error

	for i := 0; i < maxAttempts; i++ {
		llog.Debug("Exec", zap.Int("attempt", i+1))

		if err = fn(); err == nil {
			return nil
		}

		var nonRetryableErr *NonRetryableError

		if errors.As(err, &nonRetryableErr) {
			llog.Debug("Non-retryable error encountered, stopping retries", zap.Int("attempt", i+1), zap.Error(err))
			return nonRetryableErr.Err
		}

		if options.Retryable != nil && !options.Retryable(err) {
			return err
		}

		if i == maxAttempts-1 {
			break
		}

		delay := Backoff(options.BaseDelay, options.MaxDelay, i)

		llog.Warn("Retry failed", zap.Int("attempt", i+1), zap.Duration("nextDelay", delay), zap.Error(err))

		if sleepErr := options.Sleep(ctx, delay); sleepErr != nil {
			return errors.Wrap(sleepErr, "retry aborted")
		}
	}

	llog.Warn("All retry attempts failed", zap.Error(err))

	return errors.Wrap(err, "all retry attempts failed")
}
