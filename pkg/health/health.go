// Package health runs the bridge diagnostics: a health check built from
// independent probes, a performance summary over the rolling request window
// and a combined report with recommendations.
package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/apierr"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/breaker"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/cache"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/client"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/metrics"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/ratelimit"
)

// Status is the outcome of a check, ordered by severity.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

func (s Status) severity() int {
	switch s {
	case StatusCritical:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

// Worse returns the more severe of s and other.
func (s Status) Worse(other Status) Status {
	if other.severity() > s.severity() {
		return other
	}
	return s
}

// Check names.
const (
	CheckConfig       = "config"
	CheckConnectivity = "connectivity"
	CheckAuth         = "auth"
	CheckRateLimit    = "rate_limit"
	CheckBreakers     = "circuit_breakers"
	CheckCache        = "cache"
)

// ProbeOperation and ProbeDocument are the upstream request of the
// connectivity and auth probes.
const (
	ProbeOperation = "shop.probe"
	ProbeDocument  = "query ShopProbe { shop { name myshopifyDomain } }"
)

// SlowProbe is the probe latency reported as a warning.
const SlowProbe = 2 * time.Second

// Check is the result of one probe.
type Check struct {
	Name     string         `json:"name"`
	Status   Status         `json:"status"`
	Message  string         `json:"message"`
	Duration time.Duration  `json:"duration_ns"`
	Details  map[string]any `json:"details,omitempty"`

	err error
}

// Report is the health check result.
type Report struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Check returns the check named name.
func (r Report) Check(name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// Options wires the checker. Nil components are reported as skipped.
type Options struct {
	Credentials client.Credentials
	Client      *client.Client
	Tracker     *ratelimit.Tracker
	Breaker     *breaker.Breaker
	Cache       *cache.Manager
	Window      *metrics.Window

	// Timeout bounds each probe. Defaults to 10s.
	Timeout time.Duration
}

// Checker runs the diagnostics.
type Checker struct {
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a checker.
func New(opts Options) *Checker {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Checker{
		opts:   opts,
		now:    time.Now,
		logger: log.With().Str("component", "health").Logger(),
	}
}

// Health runs every probe concurrently and reports the worst status.
func (c *Checker) Health(ctx context.Context) Report {
	probes := []func(context.Context) []Check{
		c.checkConfig,
		c.checkUpstream,
		c.checkRateLimit,
		c.checkBreakers,
		c.checkCache,
	}

	results := make([][]Check, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, probe := range probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, c.opts.Timeout)
			defer cancel()
			results[i] = probe(pctx)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Status: StatusHealthy, Timestamp: c.now()}
	for _, checks := range results {
		for _, check := range checks {
			report.Checks = append(report.Checks, check)
			report.Status = report.Status.Worse(check.Status)
		}
	}

	event := c.logger.Debug()
	if report.Status != StatusHealthy {
		event = c.logger.Warn()
	}
	event.Str("status", string(report.Status)).Int("checks", len(report.Checks)).Msg("Health check completed")

	return report
}

func (c *Checker) checkConfig(context.Context) []Check {
	check := Check{Name: CheckConfig, Status: StatusHealthy, Message: "Credentials and API version are valid"}
	if err := c.opts.Credentials.Validate(); err != nil {
		check.Status = StatusCritical
		check.Message = err.Error()
		check.err = err
		return []Check{check}
	}
	check.Details = map[string]any{
		"shop":        c.opts.Credentials.Shop(),
		"api_version": c.opts.Credentials.APIVersion,
	}
	if c.opts.Client == nil {
		check.Status = StatusWarning
		check.Message = "No upstream client configured"
	}
	return []Check{check}
}

// checkUpstream sends one probe request and derives the connectivity and
// auth checks from its outcome. It bypasses retries and the breaker.
func (c *Checker) checkUpstream(ctx context.Context) []Check {
	connectivity := Check{Name: CheckConnectivity}
	auth := Check{Name: CheckAuth}

	if c.opts.Client == nil || c.opts.Credentials.Validate() != nil {
		connectivity.Status, connectivity.Message = StatusWarning, "Skipped: no usable client or credentials"
		auth.Status, auth.Message = StatusWarning, "Skipped: no usable client or credentials"
		return []Check{connectivity, auth}
	}

	start := c.now()
	_, err := c.opts.Client.Do(ctx, c.opts.Credentials, ProbeOperation, ProbeDocument)
	elapsed := c.now().Sub(start)
	connectivity.Duration = elapsed
	auth.Duration = elapsed

	kind := apierr.KindOf(err)
	switch {
	case err == nil:
		connectivity.Status, connectivity.Message = StatusHealthy, "Upstream reachable"
		auth.Status, auth.Message = StatusHealthy, "Access token accepted"
	case kind == apierr.KindAuth:
		connectivity.Status, connectivity.Message = StatusHealthy, "Upstream reachable"
		auth.Status, auth.Message, auth.err = StatusCritical, err.Error(), err
	case kind == apierr.KindRateLimit:
		connectivity.Status, connectivity.Message, connectivity.err = StatusWarning, "Upstream reachable but rate limited", err
		auth.Status, auth.Message = StatusHealthy, "Access token accepted"
	case kind == apierr.KindUpstreamQuery:
		connectivity.Status, connectivity.Message = StatusHealthy, "Upstream reachable"
		auth.Status, auth.Message, auth.err = StatusWarning, "Probe query rejected: "+err.Error(), err
	default:
		connectivity.Status, connectivity.Message, connectivity.err = StatusCritical, err.Error(), err
		auth.Status, auth.Message = StatusWarning, "Unknown: upstream not reachable"
	}

	if connectivity.Status == StatusHealthy && elapsed > SlowProbe {
		connectivity.Status = StatusWarning
		connectivity.Message = fmt.Sprintf("Upstream reachable but slow (%s)", elapsed.Round(time.Millisecond))
	}
	connectivity.Details = map[string]any{"latency_ms": elapsed.Milliseconds()}

	return []Check{connectivity, auth}
}

func (c *Checker) checkRateLimit(ctx context.Context) []Check {
	check := Check{Name: CheckRateLimit, Status: StatusHealthy}
	if c.opts.Tracker == nil {
		check.Message = "Rate limit tracking disabled"
		return []Check{check}
	}

	start := c.now()
	states, err := c.opts.Tracker.Snapshot(ctx)
	check.Duration = c.now().Sub(start)
	if err != nil {
		check.Status, check.Message, check.err = StatusWarning, "Rate limit state unavailable: "+err.Error(), err
		return []Check{check}
	}

	now := c.now()
	var critical, throttled []string
	buckets := make(map[string]float64, len(states))
	for _, state := range states {
		buckets[state.Shop] = state.Ratio(now)
		switch {
		case state.NeedsCriticalBlock(now):
			critical = append(critical, state.Shop)
		case state.NeedsThrottling(now):
			throttled = append(throttled, state.Shop)
		}
	}
	check.Details = map[string]any{"bucket_ratio": buckets}

	switch {
	case len(critical) > 0:
		check.Status = StatusCritical
		check.Message = "Query cost bucket nearly empty: " + strings.Join(critical, ", ")
	case len(throttled) > 0:
		check.Status = StatusWarning
		check.Message = "Query cost bucket low: " + strings.Join(throttled, ", ")
	default:
		check.Message = fmt.Sprintf("%d shop bucket(s) healthy", len(states))
	}
	return []Check{check}
}

func (c *Checker) checkBreakers(ctx context.Context) []Check {
	check := Check{Name: CheckBreakers, Status: StatusHealthy}
	if c.opts.Breaker == nil {
		check.Message = "Circuit breaker disabled"
		return []Check{check}
	}

	start := c.now()
	records, err := c.opts.Breaker.Snapshot(ctx)
	check.Duration = c.now().Sub(start)
	if err != nil {
		check.Status, check.Message, check.err = StatusWarning, "Breaker state unavailable: "+err.Error(), err
		return []Check{check}
	}

	var open, halfOpen []string
	for name, rec := range records {
		switch rec.State {
		case breaker.StateOpen:
			open = append(open, name)
		case breaker.StateHalfOpen:
			halfOpen = append(halfOpen, name)
		}
	}
	sort.Strings(open)
	sort.Strings(halfOpen)
	check.Details = map[string]any{"tracked": len(records), "open": open, "half_open": halfOpen}

	switch {
	case len(open) > 0:
		check.Status = StatusCritical
		check.Message = "Open circuit breakers: " + strings.Join(open, ", ")
		check.err = apierr.New(apierr.KindCircuitOpen, "%d breaker(s) open", len(open))
	case len(halfOpen) > 0:
		check.Status = StatusWarning
		check.Message = "Recovering circuit breakers: " + strings.Join(halfOpen, ", ")
	default:
		check.Message = fmt.Sprintf("%d breaker(s) closed", len(records))
	}
	return []Check{check}
}

// checkCache writes, reads and deletes a probe entry.
func (c *Checker) checkCache(ctx context.Context) []Check {
	check := Check{Name: CheckCache, Status: StatusHealthy}
	if c.opts.Cache == nil {
		check.Message = "Cache disabled"
		return []Check{check}
	}

	key := cache.CacheKey{
		Shop:      c.opts.Credentials.Shop(),
		Operation: "health.probe",
		Params:    map[string]string{"at": c.now().Format(time.RFC3339Nano)},
	}
	payload := []byte(`{"probe":true}`)

	start := c.now()
	err := func() error {
		if err := c.opts.Cache.Set(ctx, key, c.opts.Cache.NewEntry(key, payload)); err != nil {
			return err
		}
		entry, err := c.opts.Cache.Get(ctx, key)
		if err != nil {
			return err
		}
		if string(entry.Payload) != string(payload) {
			return fmt.Errorf("cache returned a different payload")
		}
		return c.opts.Cache.Delete(ctx, key)
	}()
	check.Duration = c.now().Sub(start)

	if err != nil {
		check.Status = StatusWarning
		check.Message = "Cache store failing, requests pass through uncached: " + err.Error()
		check.err = err
		return []Check{check}
	}
	check.Message = "Cache round trip succeeded"
	return []Check{check}
}
