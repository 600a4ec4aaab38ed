package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/events"
)

// Window defaults.
const (
	DefaultWindow     = time.Hour
	DefaultMaxSamples = 50000
)

type sample struct {
	at        time.Time
	operation string
	duration  time.Duration
	errorKind string
	cacheHit  bool
}

// OperationStats summarizes one operation.
type OperationStats struct {
	Count        int           `json:"count"`
	Errors       int           `json:"errors"`
	ErrorRate    float64       `json:"error_rate"`
	AvgLatency   time.Duration `json:"avg_latency_ns"`
	CacheHitRate float64       `json:"cache_hit_rate"`
}

// Summary is the performance summary of the window.
type Summary struct {
	Window       time.Duration             `json:"window_ns"`
	From         time.Time                 `json:"from"`
	To           time.Time                 `json:"to"`
	Count        int                       `json:"count"`
	Errors       int                       `json:"errors"`
	ErrorRate    float64                   `json:"error_rate"`
	AvgLatency   time.Duration             `json:"avg_latency_ns"`
	P95Latency   time.Duration             `json:"p95_latency_ns"`
	CacheHitRate float64                   `json:"cache_hit_rate"`
	ByOperation  map[string]OperationStats `json:"by_operation"`
	ByErrorKind  map[string]int            `json:"by_error_kind"`
}

// Window keeps request events of the last hour. It is an events.Sink and
// only records TypeRequest events.
type Window struct {
	mu         sync.Mutex
	samples    []sample
	span       time.Duration
	maxSamples int
	now        func() time.Time
}

// WindowOption configures a Window.
type WindowOption func(*Window)

// WithSpan changes the window length.
func WithSpan(d time.Duration) WindowOption {
	return func(w *Window) { w.span = d }
}

// WithMaxSamples bounds memory; the oldest samples are dropped first.
func WithMaxSamples(n int) WindowOption {
	return func(w *Window) { w.maxSamples = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) WindowOption {
	return func(w *Window) { w.now = now }
}

// NewWindow creates an empty window.
func NewWindow(opts ...WindowOption) *Window {
	w := &Window{span: DefaultWindow, maxSamples: DefaultMaxSamples, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Publish implements events.Sink.
func (w *Window) Publish(_ context.Context, e events.Event) error {
	if e.Type != events.TypeRequest {
		return nil
	}
	at := e.Time
	if at.IsZero() {
		at = w.now()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, sample{
		at:        at,
		operation: e.Operation,
		duration:  e.Duration,
		errorKind: e.ErrorKind,
		cacheHit:  e.CacheHit,
	})
	if over := len(w.samples) - w.maxSamples; over > 0 {
		w.samples = append(w.samples[:0:0], w.samples[over:]...)
	}
	w.prune(w.now())
	return nil
}

// prune drops samples older than the span. Callers hold w.mu.
func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := sort.Search(len(w.samples), func(i int) bool { return !w.samples[i].at.Before(cutoff) })
	if i > 0 {
		w.samples = append(w.samples[:0:0], w.samples[i:]...)
	}
}

// Len returns the number of samples in the window.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	return len(w.samples)
}

// Summary aggregates the samples currently in the window.
func (w *Window) Summary() Summary {
	now := w.now()

	w.mu.Lock()
	w.prune(now)
	samples := append([]sample(nil), w.samples...)
	w.mu.Unlock()

	s := Summary{
		Window:      w.span,
		From:        now.Add(-w.span),
		To:          now,
		Count:       len(samples),
		ByOperation: make(map[string]OperationStats),
		ByErrorKind: make(map[string]int),
	}
	if len(samples) == 0 {
		return s
	}

	type acc struct {
		count, errors, hits int
		total               time.Duration
	}
	perOp := make(map[string]*acc)
	durations := make([]time.Duration, 0, len(samples))
	var total time.Duration
	hits := 0

	for _, smp := range samples {
		a := perOp[smp.operation]
		if a == nil {
			a = &acc{}
			perOp[smp.operation] = a
		}
		a.count++
		a.total += smp.duration
		total += smp.duration
		durations = append(durations, smp.duration)
		if smp.cacheHit {
			a.hits++
			hits++
		}
		if smp.errorKind != "" {
			a.errors++
			s.Errors++
			s.ByErrorKind[smp.errorKind]++
		}
	}

	n := len(samples)
	s.ErrorRate = float64(s.Errors) / float64(n)
	s.AvgLatency = total / time.Duration(n)
	s.CacheHitRate = float64(hits) / float64(n)

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	s.P95Latency = durations[(n*95+99)/100-1]

	for op, a := range perOp {
		s.ByOperation[op] = OperationStats{
			Count:        a.count,
			Errors:       a.errors,
			ErrorRate:    float64(a.errors) / float64(a.count),
			AvgLatency:   a.total / time.Duration(a.count),
			CacheHitRate: float64(a.hits) / float64(a.count),
		}
	}
	return s
}
