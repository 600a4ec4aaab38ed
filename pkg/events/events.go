// Package events publishes the structured request events of the bridge.
//
// Every upstream read, cache decision, retry and breaker transition becomes
// an Event. Sinks forward events to zerolog, Kafka, NATS or the in-process
// performance window; Multi fans out to several sinks and Async decouples
// slow sinks from the request path.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Type classifies an event.
type Type string

const (
	// TypeRequest is a completed Fetch, successful or not.
	TypeRequest Type = "request"

	// TypeCacheHit and TypeCacheMiss report cache decisions.
	TypeCacheHit  Type = "cache_hit"
	TypeCacheMiss Type = "cache_miss"

	// TypeRetry is a failed attempt that will be retried.
	TypeRetry Type = "retry"

	// TypeInvalidation is a cache invalidation.
	TypeInvalidation Type = "invalidation"
)

// Event is one structured record of bridge activity.
type Event struct {
	ID        string        `json:"id"`
	Time      time.Time     `json:"time"`
	Type      Type          `json:"type"`
	Shop      string        `json:"shop"`
	Operation string        `json:"operation,omitempty"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
	Attempt   int           `json:"attempt,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Message   string        `json:"message,omitempty"`
	CacheHit  bool          `json:"cache_hit,omitempty"`
	Records   int           `json:"records,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(typ Type, shop, operation string) Event {
	return Event{
		ID:        uuid.NewString(),
		Time:      time.Now().UTC(),
		Type:      typ,
		Shop:      shop,
		Operation: operation,
	}
}

// Failed reports whether the event carries an error.
func (e Event) Failed() bool {
	return e.ErrorKind != ""
}

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// LogSink writes events as zerolog records.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink logging through logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish implements Sink. Failed requests log at warn, the rest at debug.
func (s *LogSink) Publish(_ context.Context, e Event) error {
	evt := s.logger.Debug()
	if e.Failed() {
		evt = s.logger.Warn()
	}
	evt.
		Str("event_id", e.ID).
		Str("event", string(e.Type)).
		Str("shop", e.Shop).
		Str("operation", e.Operation).
		Dur("duration", e.Duration).
		Int("attempt", e.Attempt).
		Str("error_kind", e.ErrorKind).
		Bool("cache_hit", e.CacheHit).
		Int("records", e.Records).
		Msg(e.Message)
	return nil
}

// Multi publishes to every sink and joins their errors.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async publishes on a background goroutine through a bounded buffer. Events
// are dropped with a warning when the buffer is full.
type Async struct {
	sink   Sink
	queue  chan Event
	wg     sync.WaitGroup
	once   sync.Once
	logger zerolog.Logger
}

// NewAsync starts the background publisher.
func NewAsync(sink Sink, buffer int) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	a := &Async{
		sink:   sink,
		queue:  make(chan Event, buffer),
		logger: log.With().Str("component", "events").Logger(),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.sink.Publish(ctx, e); err != nil {
			a.logger.Warn().Err(err).Str("event", string(e.Type)).Msg("Event sink failed")
		}
		cancel()
	}
}

// Publish implements Sink. It never blocks.
func (a *Async) Publish(_ context.Context, e Event) error {
	select {
	case a.queue <- e:
	default:
		droppedTotal.Inc()
		a.logger.Warn().Str("event", string(e.Type)).Msg("Event buffer full, dropping event")
	}
	return nil
}

// Close drains the buffer and stops the publisher.
func (a *Async) Close() error {
	a.once.Do(func() { close(a.queue) })
	a.wg.Wait()
	return nil
}
