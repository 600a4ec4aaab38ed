package health

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/apierr"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/client"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/metrics"
)

// Performance thresholds over the rolling window.
const (
	ErrorRateWarning  = 0.05
	ErrorRateCritical = 0.20
	LatencyWarning    = 2 * time.Second
)

// Performance is the evaluated request window.
type Performance struct {
	Status   Status          `json:"status"`
	Findings []string        `json:"findings,omitempty"`
	Summary  metrics.Summary `json:"summary"`
}

// MonitoringReport combines health and performance.
type MonitoringReport struct {
	Status          Status      `json:"status"`
	GeneratedAt     time.Time   `json:"generated_at"`
	Health          Report      `json:"health"`
	Performance     Performance `json:"performance"`
	Recommendations []string    `json:"recommendations"`
}

// Performance summarizes the rolling window. Without a window the summary is
// empty and healthy.
func (c *Checker) Performance() Performance {
	perf := Performance{Status: StatusHealthy}
	if c.opts.Window == nil {
		perf.Findings = []string{"No request window configured"}
		return perf
	}

	s := c.opts.Window.Summary()
	perf.Summary = s
	if s.Count == 0 {
		return perf
	}

	switch {
	case s.ErrorRate >= ErrorRateCritical:
		perf.Status = StatusCritical
		perf.Findings = append(perf.Findings, fmt.Sprintf("Error rate %.1f%% over the last %s", s.ErrorRate*100, s.Window))
	case s.ErrorRate >= ErrorRateWarning:
		perf.Status = StatusWarning
		perf.Findings = append(perf.Findings, fmt.Sprintf("Elevated error rate %.1f%% over the last %s", s.ErrorRate*100, s.Window))
	}

	if s.AvgLatency > LatencyWarning {
		perf.Status = perf.Status.Worse(StatusWarning)
		perf.Findings = append(perf.Findings, fmt.Sprintf("Average latency %s", s.AvgLatency.Round(time.Millisecond)))
	}

	for _, op := range sortedOperations(s.ByOperation) {
		stats := s.ByOperation[op]
		if stats.Count >= 5 && stats.ErrorRate >= ErrorRateCritical {
			perf.Findings = append(perf.Findings, fmt.Sprintf("%s fails %.0f%% of requests", op, stats.ErrorRate*100))
		}
	}
	return perf
}

// Report runs the health check and combines it with the performance summary
// and the recommendations derived from both.
func (c *Checker) Report(ctx context.Context) MonitoringReport {
	h := c.Health(ctx)
	p := c.Performance()

	return MonitoringReport{
		Status:          h.Status.Worse(p.Status),
		GeneratedAt:     c.now(),
		Health:          h,
		Performance:     p,
		Recommendations: recommend(h, p),
	}
}

func recommend(h Report, p Performance) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(items ...string) {
		for _, item := range items {
			if !seen[item] {
				seen[item] = true
				out = append(out, item)
			}
		}
	}

	for _, check := range h.Checks {
		if check.Status == StatusHealthy {
			continue
		}
		switch {
		case check.err != nil:
			add(client.RecoverySuggestions(check.err)...)
		case check.Name == CheckRateLimit:
			add(client.RecoverySuggestions(apierr.New(apierr.KindRateLimit, "bucket low"))...)
		case check.Name == CheckBreakers:
			add(client.RecoverySuggestions(apierr.New(apierr.KindCircuitOpen, "breaker recovering"))...)
		}
		if check.Name == CheckCache {
			add("Check the cache store backend (Redis or NATS) is reachable")
		}
	}

	if p.Status != StatusHealthy {
		kinds := make([]string, 0, len(p.Summary.ByErrorKind))
		for kind := range p.Summary.ByErrorKind {
			kinds = append(kinds, kind)
		}
		// Most frequent kind first.
		sort.Slice(kinds, func(i, j int) bool {
			ci, cj := p.Summary.ByErrorKind[kinds[i]], p.Summary.ByErrorKind[kinds[j]]
			if ci != cj {
				return ci > cj
			}
			return kinds[i] < kinds[j]
		})
		for _, kind := range kinds {
			add(client.RecoverySuggestions(apierr.New(apierr.Kind(kind), "observed"))...)
		}
		if p.Summary.AvgLatency > LatencyWarning {
			add("Request fewer fields or smaller pages to reduce upstream latency")
		}
	}

	if len(out) == 0 {
		out = []string{"No action needed"}
	}
	return out
}

func sortedOperations(m map[string]metrics.OperationStats) []string {
	ops := make([]string, 0, len(m))
	for op := range m {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}
