package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/apierr"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/breaker"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/ratelimit"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gqlbridge_retries_total",
		Help: "Total number of retry attempts by error kind",
	}, []string{"error_kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gqlbridge_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error kind",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30},
	}, []string{"error_kind"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gqlbridge_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error kind",
	}, []string{"error_kind"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps the exponential delay before jitter is added.
	MaxDelay time.Duration

	// ExponentialBase is the growth factor between attempts.
	ExponentialBase float64

	// Jitter adds up to 10% of the delay at random.
	Jitter bool

	// AttemptTimeout bounds a single attempt. Exceeding it is a transport failure.
	AttemptTimeout time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		BaseDelay:       1 * time.Second,
		MaxDelay:        10 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
		AttemptTimeout:  30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultRetryConfig.
func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.ExponentialBase < 1 {
		c.ExponentialBase = d.ExponentialBase
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	return c
}

// Backoff returns the delay after the given failed attempt, without jitter:
// min(base * expBase^(attempt-1), max).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.BaseDelay) * math.Pow(c.ExponentialBase, float64(attempt-1))
	if d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Attempt describes one failed attempt, passed to observers.
type Attempt struct {
	Name    string
	Number  int
	Err     error
	Backoff time.Duration
}

// Retrier executes operations with bounded retries and breaker protection.
type Retrier struct {
	config   RetryConfig
	breaker  *breaker.Breaker
	sleep    func(context.Context, time.Duration) error
	jitter   func() float64
	observer func(Attempt)
	logger   zerolog.Logger
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithRetrySleep replaces the context-aware sleep between attempts.
func WithRetrySleep(sleep func(context.Context, time.Duration) error) RetrierOption {
	return func(r *Retrier) { r.sleep = sleep }
}

// WithJitterSource replaces the random source for jitter. f returns [0, 1).
func WithJitterSource(f func() float64) RetrierOption {
	return func(r *Retrier) { r.jitter = f }
}

// WithObserver registers a callback invoked for every failed attempt.
func WithObserver(fn func(Attempt)) RetrierOption {
	return func(r *Retrier) { r.observer = fn }
}

// WithRetryLogger sets the logger.
func WithRetryLogger(logger zerolog.Logger) RetrierOption {
	return func(r *Retrier) { r.logger = logger }
}

// NewRetrier creates a Retrier. br may be nil to run without a breaker.
func NewRetrier(cfg RetryConfig, br *breaker.Breaker, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		config:  cfg.withDefaults(),
		breaker: br,
		sleep:   ratelimit.Sleep,
		jitter:  rand.Float64,
		logger:  log.With().Str("component", "retry").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective retry configuration.
func (r *Retrier) Config() RetryConfig {
	return r.config
}

// ExecuteWithRetry runs op until it succeeds, fails fatally or runs out of
// attempts. name is the breaker name. Each attempt consults the breaker first;
// an open breaker counts as a failed attempt without invoking op. Fatal errors
// are returned as-is and are not counted by the breaker; they only release a
// half-open probe lease. Exhaustion returns a *RetryError.
func (r *Retrier) ExecuteWithRetry(ctx context.Context, name string, op func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := r.attempt(ctx, name, op)
		if err == nil {
			if attempt > 1 {
				r.logger.Info().
					Str("operation", name).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctxErr)
		}

		if !shouldRetry(err) {
			return err
		}

		lastErr = err
		kind := string(apierr.KindOf(err))

		if attempt >= r.config.MaxAttempts {
			r.notify(Attempt{Name: name, Number: attempt, Err: err})
			break
		}

		delay := r.config.Backoff(attempt)
		if r.config.Jitter {
			delay += time.Duration(float64(delay) * 0.1 * r.jitter())
		}

		retriesTotal.WithLabelValues(kind).Inc()
		retryBackoffSeconds.WithLabelValues(kind).Observe(delay.Seconds())
		r.notify(Attempt{Name: name, Number: attempt, Err: err, Backoff: delay})

		r.logger.Debug().
			Str("operation", name).
			Str("error_kind", kind).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		if err := r.sleep(ctx, delay); err != nil {
			r.logger.Warn().
				Str("operation", name).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}

	kind := string(apierr.KindOf(lastErr))
	retryExhaustedTotal.WithLabelValues(kind).Inc()
	r.logger.Warn().
		Str("operation", name).
		Str("error_kind", kind).
		Int("max_attempts", r.config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return &RetryError{Operation: name, Attempts: r.config.MaxAttempts, Last: lastErr}
}

// attempt runs a single breaker-guarded invocation of op.
func (r *Retrier) attempt(ctx context.Context, name string, op func(context.Context) error) error {
	if r.breaker != nil {
		if err := r.breaker.Allow(ctx, name); err != nil {
			return apierr.Wrap(apierr.KindCircuitOpen, err, name)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.config.AttemptTimeout)
	err := op(attemptCtx)
	cancel()

	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && !shouldRetry(err) {
		err = apierr.Wrap(apierr.KindTransport, err, "attempt timed out")
	}

	if r.breaker == nil {
		return err
	}
	if ctx.Err() != nil {
		r.breaker.Release(context.WithoutCancel(ctx), name)
		return err
	}
	switch {
	case err == nil:
		r.breaker.RecordSuccess(ctx, name)
	case shouldRetry(err):
		r.breaker.RecordFailure(ctx, name)
	default:
		r.breaker.Release(ctx, name)
	}
	return err
}

func (r *Retrier) notify(a Attempt) {
	if r.observer != nil {
		r.observer(a)
	}
}
