package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/store"
)

// Prometheus metrics for rate limit tracking.
var (
	pointsAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gqlbridge_query_points_available",
		Help: "Query cost points available in the shop's bucket at last report",
	}, []string{"shop"})

	queryCost = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gqlbridge_query_cost_points",
		Help:    "Actual query cost reported upstream",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gqlbridge_rate_limit_blocks_total",
		Help: "Total number of requests refused because the cost bucket was empty",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gqlbridge_rate_limit_throttles_total",
		Help: "Total number of requests delayed by the rate limiter",
	})
)

// stateTTL bounds how long an unrefreshed bucket report is kept.
const stateTTL = time.Hour

// Tracker monitors per-shop query cost and gates requests.
type Tracker struct {
	store         store.Store
	logger        zerolog.Logger
	now           func() time.Time
	sleep         func(context.Context, time.Duration) error
	maxWait       time.Duration
	throttleDelay time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithSleep replaces the context-aware sleep used for throttling.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(t *Tracker) { t.sleep = sleep }
}

// WithMaxWait bounds how long ShouldAllowRequest waits for a refill before
// refusing the request.
func WithMaxWait(d time.Duration) Option {
	return func(t *Tracker) { t.maxWait = d }
}

// NewTracker creates a new rate limit tracker.
func NewTracker(s store.Store, logger zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:         s,
		logger:        logger,
		now:           time.Now,
		sleep:         Sleep,
		maxWait:       5 * time.Second,
		throttleDelay: time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

func stateKey(shop string) string {
	return KeyPrefix + strings.ToLower(shop)
}

// GetState retrieves the bucket state of shop.
// Returns a default healthy state if nothing was reported yet.
func (t *Tracker) GetState(ctx context.Context, shop string) (*RateLimitState, error) {
	data, err := t.store.Get(ctx, stateKey(shop))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			t.logger.Debug().Str("shop", shop).Msg("No rate limit state, assuming healthy")
			return &RateLimitState{
				Shop:               shop,
				MaximumAvailable:   1000,
				CurrentlyAvailable: 1000,
				RestoreRate:        50,
				LastUpdate:         t.now(),
				IsHealthy:          true,
			}, nil
		}
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	var state RateLimitState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse rate limit state: %w", err)
	}
	state.UpdateHealth(t.now())
	return &state, nil
}

// Update records the cost block of a response for shop.
func (t *Tracker) Update(ctx context.Context, shop string, cost Cost) error {
	now := t.now()
	state := &RateLimitState{
		Shop:               shop,
		MaximumAvailable:   cost.ThrottleStatus.MaximumAvailable,
		CurrentlyAvailable: cost.ThrottleStatus.CurrentlyAvailable,
		RestoreRate:        cost.ThrottleStatus.RestoreRate,
		LastUpdate:         now,
	}
	state.UpdateHealth(now)

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal rate limit state: %w", err)
	}
	if err := t.store.Set(ctx, stateKey(shop), data, stateTTL); err != nil {
		return fmt.Errorf("store rate limit state: %w", err)
	}

	pointsAvailable.WithLabelValues(shop).Set(state.CurrentlyAvailable)
	if cost.ActualQueryCost > 0 {
		queryCost.Observe(cost.ActualQueryCost)
	}

	logEvent := t.logger.Debug()
	msg := "Query cost bucket updated"
	switch {
	case state.NeedsCriticalBlock(now):
		logEvent = t.logger.Error()
		msg = "Query cost bucket CRITICAL - requests will wait for refill"
	case state.NeedsThrottling(now):
		logEvent = t.logger.Warn()
		msg = "Query cost bucket WARNING - requests will be throttled"
	}
	logEvent.
		Str("shop", shop).
		Float64("available", state.CurrentlyAvailable).
		Float64("maximum", state.MaximumAvailable).
		Float64("restore_rate", state.RestoreRate).
		Float64("actual_cost", cost.ActualQueryCost).
		Msg(msg)

	return nil
}

// ShouldAllowRequest checks if a request to shop may proceed.
//
// Below the critical threshold it waits for the bucket to refill when that
// takes at most the configured maximum wait, and returns false otherwise.
// Below the warning threshold it delays the request briefly. Store failures
// are returned with allowed set to true, so callers can log and proceed.
func (t *Tracker) ShouldAllowRequest(ctx context.Context, shop string) (bool, error) {
	state, err := t.GetState(ctx, shop)
	if err != nil {
		return true, err
	}

	now := t.now()

	// Critical: wait for refill or refuse
	if state.NeedsCriticalBlock(now) {
		wait := state.TimeUntilRatio(ThresholdCritical, now)
		if wait > t.maxWait {
			t.logger.Error().
				Str("shop", shop).
				Float64("available", state.Available(now)).
				Dur("wait_duration", wait).
				Msg("Query cost bucket empty - refusing request")
			rateLimitBlocksTotal.Inc()
			return false, nil
		}

		t.logger.Warn().
			Str("shop", shop).
			Dur("wait_duration", wait).
			Msg("Query cost bucket critical - waiting for refill")
		rateLimitThrottlesTotal.Inc()
		if err := t.sleep(ctx, wait); err != nil {
			return false, err
		}
		return true, nil
	}

	// Warning: apply throttling
	if state.NeedsThrottling(now) {
		t.logger.Warn().
			Str("shop", shop).
			Float64("available", state.Available(now)).
			Msg("Query cost bucket low - throttling request")

		rateLimitThrottlesTotal.Inc()
		if err := t.sleep(ctx, t.throttleDelay); err != nil {
			return false, err
		}
	}

	return true, nil
}

// Snapshot returns the reported state of every shop.
func (t *Tracker) Snapshot(ctx context.Context) ([]RateLimitState, error) {
	keys, err := t.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list rate limit state: %w", err)
	}

	states := make([]RateLimitState, 0, len(keys))
	for _, key := range keys {
		state, err := t.GetState(ctx, strings.TrimPrefix(key, KeyPrefix))
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}
	return states, nil
}
