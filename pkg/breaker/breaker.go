// Package breaker implements a circuit breaker whose state lives in a shared
// store.Store, so every process talking to the same backend sees the same
// breaker.
//
// States move Closed -> Open -> HalfOpen -> Closed. A closed breaker opens
// after FailureThreshold failures. An open breaker refuses calls until
// Timeout has passed since the last failure; the next call moves it to
// HalfOpen and is let through as a probe. While half-open, one probe runs at
// a time, SuccessThreshold successful probes close the breaker and any
// failure reopens it.
//
// Records are written with compare-and-swap when the store supports it and
// last-write-wins otherwise. Losing a race costs at most an extra call.
package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/store"
)

// ErrOpen is returned by Allow while the breaker refuses calls.
var ErrOpen = errors.New("circuit breaker open")

// State of a breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Record is the persisted breaker state.
type Record struct {
	State        State     `json:"state"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	LastFailure  time.Time `json:"last_failure,omitempty"`

	// ProbeUntil is the lease of the half-open probe in flight. Another
	// probe is admitted once it passes.
	ProbeUntil time.Time `json:"probe_until,omitempty"`
}

// Config holds the breaker thresholds.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration // open -> half-open cooldown
	ProbeTimeout     time.Duration // half-open probe lease
	RecordTTL        time.Duration // sliding expiry of records
	KeyPrefix        string
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          60 * time.Second,
		ProbeTimeout:     30 * time.Second,
		RecordTTL:        300 * time.Second,
		KeyPrefix:        "gqlbridge:breaker:",
	}
}

// Breaker manages any number of named breakers in one store.
type Breaker struct {
	store  store.Store
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Breaker) { b.logger = logger }
}

// New creates a breaker over s. Zero config values take their defaults.
func New(s store.Store, cfg Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = def.RecordTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}

	b := &Breaker{
		store:  s,
		cfg:    cfg,
		now:    time.Now,
		logger: log.With().Str("component", "breaker").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name builds the breaker name for a shop and operation.
func Name(shop, operation string) string {
	return shop + "/" + operation
}

func (b *Breaker) key(name string) string {
	return b.cfg.KeyPrefix + name
}

// Allow reports whether a call named name may proceed. It returns an error
// wrapping ErrOpen when the call must be refused. Store failures allow the
// call.
func (b *Breaker) Allow(ctx context.Context, name string) error {
	rec, found, err := b.load(ctx, name)
	if err != nil {
		b.logger.Warn().Err(err).Str("breaker", name).Msg("Breaker store unavailable, allowing call")
		StoreErrors.WithLabelValues("allow").Inc()
		return nil
	}
	if !found || rec.State == StateClosed {
		return nil
	}

	now := b.now()
	if !b.admits(rec, now) {
		Rejections.Inc()
		return fmt.Errorf("%w: %s", ErrOpen, name)
	}

	var (
		admitted bool
		moved    bool
	)
	err = b.update(ctx, name, func(rec Record, found bool) (Record, bool) {
		admitted, moved = false, false
		if !found || rec.State == StateClosed {
			admitted = true
			return rec, false
		}
		if !b.admits(rec, now) {
			return rec, false
		}
		admitted = true
		if rec.State == StateOpen {
			moved = true
			rec.State = StateHalfOpen
			rec.SuccessCount = 0
		}
		rec.ProbeUntil = now.Add(b.cfg.ProbeTimeout)
		return rec, true
	})
	if err != nil {
		b.logger.Warn().Err(err).Str("breaker", name).Msg("Breaker store unavailable, allowing call")
		StoreErrors.WithLabelValues("allow").Inc()
		return nil
	}
	if !admitted {
		Rejections.Inc()
		return fmt.Errorf("%w: %s", ErrOpen, name)
	}
	if moved {
		b.transition(name, StateOpen, StateHalfOpen)
	}
	return nil
}

// admits reports whether rec lets a call through at now.
func (b *Breaker) admits(rec Record, now time.Time) bool {
	switch rec.State {
	case StateOpen:
		return now.Sub(rec.LastFailure) >= b.cfg.Timeout
	case StateHalfOpen:
		return !now.Before(rec.ProbeUntil)
	default:
		return true
	}
}

// RecordSuccess registers a successful call.
func (b *Breaker) RecordSuccess(ctx context.Context, name string) {
	var closed bool
	err := b.update(ctx, name, func(rec Record, found bool) (Record, bool) {
		closed = false
		if !found {
			return rec, false
		}
		switch rec.State {
		case StateHalfOpen:
			rec.SuccessCount++
			rec.ProbeUntil = time.Time{}
			if rec.SuccessCount >= b.cfg.SuccessThreshold {
				closed = true
				return Record{State: StateClosed}, true
			}
			return rec, true
		case StateClosed:
			if rec.FailureCount == 0 {
				return rec, false
			}
			rec.FailureCount = 0
			return rec, true
		default:
			// A call admitted before the breaker opened; the cooldown stands.
			return rec, false
		}
	})
	if err != nil {
		b.logger.Warn().Err(err).Str("breaker", name).Msg("Failed to record breaker success")
		StoreErrors.WithLabelValues("success").Inc()
		return
	}
	if closed {
		b.transition(name, StateHalfOpen, StateClosed)
	}
}

// RecordFailure registers a failed call.
func (b *Breaker) RecordFailure(ctx context.Context, name string) {
	now := b.now()
	var from State
	err := b.update(ctx, name, func(rec Record, found bool) (Record, bool) {
		from = ""
		if !found {
			rec = Record{State: StateClosed}
		}
		rec.FailureCount++
		rec.LastFailure = now
		rec.ProbeUntil = time.Time{}

		switch {
		case rec.State == StateHalfOpen:
			from = StateHalfOpen
			rec.State = StateOpen
			rec.SuccessCount = 0
		case rec.State == StateClosed && rec.FailureCount >= b.cfg.FailureThreshold:
			from = StateClosed
			rec.State = StateOpen
			rec.SuccessCount = 0
		}
		return rec, true
	})
	if err != nil {
		b.logger.Warn().Err(err).Str("breaker", name).Msg("Failed to record breaker failure")
		StoreErrors.WithLabelValues("failure").Inc()
		return
	}
	if from != "" {
		b.transition(name, from, StateOpen)
	}
}

// Release ends the half-open probe lease of name without recording an
// outcome, so the next caller may probe right away. Used when an admitted
// call ends in an error that says nothing about upstream health.
func (b *Breaker) Release(ctx context.Context, name string) {
	err := b.update(ctx, name, func(rec Record, found bool) (Record, bool) {
		if !found || rec.State != StateHalfOpen || rec.ProbeUntil.IsZero() {
			return rec, false
		}
		rec.ProbeUntil = time.Time{}
		return rec, true
	})
	if err != nil {
		b.logger.Warn().Err(err).Str("breaker", name).Msg("Failed to release breaker probe")
		StoreErrors.WithLabelValues("release").Inc()
	}
}

// Get returns the current record of name. Unknown names report a closed
// record.
func (b *Breaker) Get(ctx context.Context, name string) (Record, error) {
	rec, found, err := b.load(ctx, name)
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{State: StateClosed}, nil
	}
	return rec, nil
}

// Snapshot returns every known breaker record by name.
func (b *Breaker) Snapshot(ctx context.Context) (map[string]Record, error) {
	keys, err := b.store.Keys(ctx, b.cfg.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list breakers: %w", err)
	}

	out := make(map[string]Record, len(keys))
	for _, key := range keys {
		name := strings.TrimPrefix(key, b.cfg.KeyPrefix)
		rec, found, err := b.load(ctx, name)
		if err != nil {
			return nil, err
		}
		if found {
			out[name] = rec
		}
	}
	return out, nil
}

// Reset clears the record of name, closing the breaker.
func (b *Breaker) Reset(ctx context.Context, name string) error {
	if err := b.store.Delete(ctx, b.key(name)); err != nil {
		return fmt.Errorf("reset breaker %s: %w", name, err)
	}
	b.logger.Info().Str("breaker", name).Msg("Circuit breaker reset")
	return nil
}

// ResetAll clears every breaker record and returns how many were removed.
func (b *Breaker) ResetAll(ctx context.Context) (int, error) {
	keys, err := b.store.Keys(ctx, b.cfg.KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("list breakers: %w", err)
	}
	for _, key := range keys {
		if err := b.store.Delete(ctx, key); err != nil {
			return 0, fmt.Errorf("reset breaker %s: %w", strings.TrimPrefix(key, b.cfg.KeyPrefix), err)
		}
	}
	b.logger.Info().Int("count", len(keys)).Msg("All circuit breakers reset")
	return len(keys), nil
}

func (b *Breaker) load(ctx context.Context, name string) (Record, bool, error) {
	data, err := b.store.Get(ctx, b.key(name))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		// Corrupt records are treated as closed and overwritten on next write.
		b.logger.Warn().Err(err).Str("breaker", name).Msg("Discarding unreadable breaker record")
		return Record{}, false, nil
	}
	return rec, true, nil
}

// errNoWrite aborts a store update without writing.
var errNoWrite = errors.New("no write")

// update runs fn against the stored record. fn returns the next record and
// whether it must be written. Every write refreshes the sliding TTL.
func (b *Breaker) update(ctx context.Context, name string, fn func(Record, bool) (Record, bool)) error {
	err := store.Update(ctx, b.store, b.key(name), b.cfg.RecordTTL, func(current []byte, exists bool) ([]byte, error) {
		var rec Record
		if exists {
			if err := json.Unmarshal(current, &rec); err != nil {
				exists = false
				rec = Record{}
			}
		}
		next, write := fn(rec, exists)
		if !write {
			return nil, errNoWrite
		}
		return json.Marshal(next)
	})
	if errors.Is(err, errNoWrite) {
		return nil
	}
	return err
}

func (b *Breaker) transition(name string, from, to State) {
	Transitions.WithLabelValues(string(to)).Inc()
	event := b.logger.Info()
	if to == StateOpen {
		event = b.logger.Warn()
	}
	event.Str("breaker", name).Str("from", string(from)).Str("state", string(to)).Msg("Circuit breaker state change")
}
