// Package retry runs operations against unreliable price sources with bounded
// exponential backoff.
//
// Every error returned by the operation is treated as retryable; the policy's
// MaxRetries is the only circuit breaker. The delay before retry k (k >= 1) is
//
//	min(InitialDelay * BackoffMultiplier^(k-1), MaxDelay)
//
// with no jitter, so a policy of {3, 100ms, 1s, 2} sleeps 100ms, 200ms and
// 400ms between its four attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var (
	// ErrExhausted is matched by the error returned once all attempts failed.
	ErrExhausted = errors.New("retry attempts exhausted")

	// ErrCanceled is matched when the context ends during a backoff wait.
	ErrCanceled = errors.New("retry canceled")
)

var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_retries_total",
		Help: "Total number of retry attempts by platform",
	}, []string{"platform"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "price_retry_backoff_seconds",
		Help:    "Backoff duration before retries by platform",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"platform"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by platform",
	}, []string{"platform"})
)

// Policy controls how often and how patiently an operation is retried.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps every wait.
	MaxDelay time.Duration

	// BackoffMultiplier scales the wait after each retry.
	BackoffMultiplier float64
}

// DefaultPolicy returns the policy used for platforms without their own.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        2,
		InitialDelay:      1 * time.Second,
		MaxDelay:          4 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Attempts returns the total number of attempts the policy allows.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Delay returns the wait before retry k, where k=1 is the first retry.
func (p Policy) Delay(k int) time.Duration {
	if k < 1 || p.InitialDelay <= 0 {
		return 0
	}
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(k-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Validate reports an inconsistent policy.
func (p Policy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return fmt.Errorf("max retries must be >= 0, got %d", p.MaxRetries)
	case p.InitialDelay < 0 || p.MaxDelay < 0:
		return errors.New("retry delays must not be negative")
	case p.MaxDelay > 0 && p.InitialDelay > p.MaxDelay:
		return fmt.Errorf("initial delay %s exceeds max delay %s", p.InitialDelay, p.MaxDelay)
	case p.BackoffMultiplier != 0 && p.BackoffMultiplier < 1:
		return fmt.Errorf("backoff multiplier must be >= 1, got %v", p.BackoffMultiplier)
	}
	return nil
}

// Op names the source and item an operation is working on. It is attached
// to exhaustion errors and log lines.
type Op struct {
	Platform string
	Item     string
}

func (o Op) String() string {
	return o.Platform + "/" + o.Item
}

// Error is returned once every attempt failed.
type Error struct {
	Op       Op
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s after %d attempts: %v", e.Op, ErrExhausted, e.Attempts, e.Err)
}

// Unwrap exposes both ErrExhausted and the last operation error.
func (e *Error) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// Executor runs operations with a fixed sleep implementation.
type Executor struct {
	sleep SleepFunc
}

// NewExecutor returns an Executor. A nil sleep uses Sleep.
func NewExecutor(sleep SleepFunc) *Executor {
	if sleep == nil {
		sleep = Sleep
	}
	return &Executor{sleep: sleep}
}

// Do calls fn until it succeeds or the policy is exhausted.
func (x *Executor) Do(ctx context.Context, policy Policy, op Op, fn func(context.Context) error) error {
	attempts := policy.Attempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("platform", op.Platform).
					Str("item", op.Item).
					Int("attempt", attempt).
					Msg("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		backoff := policy.Delay(attempt)
		retriesTotal.WithLabelValues(op.Platform).Inc()
		retryBackoffSeconds.WithLabelValues(op.Platform).Observe(backoff.Seconds())

		log.Warn().
			Err(err).
			Str("platform", op.Platform).
			Str("item", op.Item).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("backoff", backoff).
			Msg("Attempt failed, retrying after backoff")

		if serr := x.sleep(ctx, backoff); serr != nil {
			log.Debug().
				Str("platform", op.Platform).
				Str("item", op.Item).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%s: %w: %w", op, ErrCanceled, errors.Join(serr, lastErr))
		}
	}

	retryExhaustedTotal.WithLabelValues(op.Platform).Inc()
	log.Error().
		Err(lastErr).
		Str("platform", op.Platform).
		Str("item", op.Item).
		Int("attempts", attempts).
		Msg("Retry attempts exhausted")

	return &Error{Op: op, Attempts: attempts, Err: lastErr}
}

var defaultExecutor = NewExecutor(nil)

// Do runs fn with the default timer-backed executor.
func Do(ctx context.Context, policy Policy, op Op, fn func(context.Context) error) error {
	return defaultExecutor.Do(ctx, policy, op, fn)
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, x *Executor, policy Policy, op Op, fn func(context.Context) (T, error)) (T, error) {
	if x == nil {
		x = defaultExecutor
	}
	var out T
	err := x.Do(ctx, policy, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
