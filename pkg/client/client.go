// Package client executes GraphQL documents against the Shopify Admin API
// with per-shop pacing, query-cost tracking, bounded retries and circuit
// breaking.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/apierr"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/breaker"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/ratelimit"
)

// Prometheus metrics for upstream requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gqlbridge_upstream_requests_total",
		Help: "Total upstream GraphQL requests by operation and status",
	}, []string{"operation", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gqlbridge_upstream_request_duration_seconds",
		Help:    "Upstream GraphQL request duration in seconds by operation",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gqlbridge_upstream_errors_total",
		Help: "Total upstream errors by kind",
	}, []string{"kind"})
)

// maxResponseBytes bounds how much of an upstream body is read.
const maxResponseBytes = 32 << 20

var apiVersionPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// Credentials identify one authenticated shop.
type Credentials struct {
	ShopDomain  string
	AccessToken string
	APIVersion  string
}

// Validate checks that all fields are present and well formed.
func (c Credentials) Validate() error {
	switch {
	case strings.TrimSpace(c.ShopDomain) == "":
		return apierr.Validation("shop domain is required")
	case strings.ContainsAny(c.ShopDomain, "/?# "):
		return apierr.Validation("shop domain %q is not a host name", c.ShopDomain)
	case c.AccessToken == "":
		return apierr.New(apierr.KindAuth, "access token is required")
	case !apiVersionPattern.MatchString(c.APIVersion):
		return apierr.Validation("api version %q must look like YYYY-MM", c.APIVersion)
	}
	return nil
}

// Shop returns the normalized shop domain.
func (c Credentials) Shop() string {
	return strings.ToLower(strings.TrimSpace(c.ShopDomain))
}

// Response is a decoded GraphQL response envelope. Data and Errors are kept
// raw for the normalizer.
type Response struct {
	Data       json.RawMessage `json:"data"`
	Errors     json.RawMessage `json:"errors,omitempty"`
	Extensions json.RawMessage `json:"extensions,omitempty"`

	// Cost is the parsed extensions.cost block, zero when absent.
	Cost ratelimit.Cost `json:"-"`

	// Attempts is how many attempts Execute needed.
	Attempts int `json:"-"`
}

// HasErrors reports whether the envelope carries a non-empty errors array.
func (r *Response) HasErrors() bool {
	trimmed := bytes.TrimSpace(r.Errors)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) && !bytes.Equal(trimmed, []byte("[]"))
}

// Config holds the client configuration.
type Config struct {
	// HTTPClient performs the requests. Defaults to a client without a
	// global timeout; attempts are bounded by Retry.AttemptTimeout.
	HTTPClient *http.Client

	// UserAgent header sent upstream.
	UserAgent string

	// RequestsPerSecond paces requests per shop. Zero disables pacing.
	RequestsPerSecond float64

	// Burst is the per-shop pacing burst.
	Burst int

	// Retry configures the retry loop.
	Retry RetryConfig

	// BaseURL overrides "https://<shop>" for tests and proxies.
	BaseURL string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent:         "shopify-gql-bridge/1.0",
		RequestsPerSecond: 2,
		Burst:             4,
		Retry:             DefaultRetryConfig(),
	}
}

// Client is the upstream GraphQL client.
type Client struct {
	httpClient *http.Client
	tracker    *ratelimit.Tracker
	retrier    *Retrier
	config     Config
	logger     zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a new client. tracker and br may be nil.
func New(cfg Config, tracker *ratelimit.Tracker, br *breaker.Breaker, opts ...RetrierOption) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests_per_second must be >= 0 (got %v)", cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	logger := log.With().Str("component", "graphql-client").Logger()
	opts = append([]RetrierOption{WithRetryLogger(logger)}, opts...)

	return &Client{
		httpClient: httpClient,
		tracker:    tracker,
		retrier:    NewRetrier(cfg.Retry, br, opts...),
		config:     cfg,
		logger:     logger,
		limiters:   make(map[string]*rate.Limiter),
	}, nil
}

// Endpoint returns the GraphQL endpoint for creds.
func (c *Client) Endpoint(creds Credentials) string {
	base := c.config.BaseURL
	if base == "" {
		base = "https://" + creds.Shop()
	}
	return strings.TrimRight(base, "/") + "/admin/api/" + creds.APIVersion + "/graphql.json"
}

// Execute sends document for operation with retries and breaker protection.
// The breaker is keyed by shop and operation. An errors array in the response
// is returned as an *apierr.Error together with the response; THROTTLED
// errors are retried.
func (c *Client) Execute(ctx context.Context, creds Credentials, operation, document string) (*Response, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	var resp *Response
	attempts := 0
	err := c.retrier.ExecuteWithRetry(ctx, breaker.Name(creds.Shop(), operation), func(ctx context.Context) error {
		attempts++
		r, err := c.Do(ctx, creds, operation, document)
		if r != nil {
			resp = r
		}
		return err
	})
	if resp != nil {
		resp.Attempts = attempts
	}
	return resp, err
}

// Do performs a single attempt: pacing, the query-cost gate, the POST and
// response classification.
func (c *Client) Do(ctx context.Context, creds Credentials, operation, document string) (*Response, error) {
	shop := creds.Shop()

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(operation).Observe(time.Since(startTime).Seconds())
	}()

	if err := c.limiter(shop).Wait(ctx); err != nil {
		return nil, apierr.Wrap(apierr.KindTransport, err, "request pacing")
	}

	if c.tracker != nil {
		allowed, err := c.tracker.ShouldAllowRequest(ctx, shop)
		if err != nil && ctx.Err() != nil {
			return nil, apierr.Wrap(apierr.KindTransport, err, "waiting for query cost refill")
		}
		if err != nil {
			c.logger.Warn().Err(err).Str("shop", shop).Msg("Rate limit check failed, proceeding")
		}
		if !allowed && err == nil {
			requestsTotal.WithLabelValues(operation, "rate_limited").Inc()
			errorsTotal.WithLabelValues(string(apierr.KindRateLimit)).Inc()
			return nil, apierr.New(apierr.KindRateLimit, "query cost bucket exhausted for %s", shop)
		}
	}

	body, err := json.Marshal(map[string]string{"query": document})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(creds), bytes.NewReader(body))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("X-Shopify-Access-Token", creds.AccessToken)

	c.logger.Debug().
		Str("shop", shop).
		Str("operation", operation).
		Msg("Executing GraphQL request")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		errorsTotal.WithLabelValues(string(apierr.KindTransport)).Inc()
		requestsTotal.WithLabelValues(operation, "network_error").Inc()
		c.logger.Error().Err(err).Str("shop", shop).Str("operation", operation).Msg("HTTP request failed")
		return nil, apierr.Wrap(apierr.KindTransport, err, "request failed")
	}
	defer httpResp.Body.Close()

	requestsTotal.WithLabelValues(operation, strconv.Itoa(httpResp.StatusCode)).Inc()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		errorsTotal.WithLabelValues(string(apierr.KindTransport)).Inc()
		return nil, apierr.Wrap(apierr.KindTransport, err, "read response")
	}

	if e := apierr.FromStatus(httpResp.StatusCode, httpResp.Status); e != nil {
		errorsTotal.WithLabelValues(string(e.Kind)).Inc()
		c.logger.Warn().
			Str("shop", shop).
			Str("operation", operation).
			Int("status", httpResp.StatusCode).
			Str("error_kind", string(e.Kind)).
			Msg("Upstream request error")
		return nil, e
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		errorsTotal.WithLabelValues(string(apierr.KindServer)).Inc()
		return nil, &apierr.Error{
			Kind:       apierr.KindServer,
			StatusCode: httpResp.StatusCode,
			Message:    "invalid JSON response",
			Err:        err,
		}
	}

	if cost, ok := ratelimit.CostFromExtensions(resp.Extensions); ok {
		resp.Cost = cost
		if c.tracker != nil {
			if err := c.tracker.Update(ctx, shop, cost); err != nil {
				c.logger.Warn().Err(err).Str("shop", shop).Msg("Failed to update rate limit state")
			}
		}
	}

	if resp.HasErrors() {
		e := apierr.FromGraphQL(resp.Errors)
		e.StatusCode = httpResp.StatusCode
		errorsTotal.WithLabelValues(string(e.Kind)).Inc()
		c.logger.Warn().
			Str("shop", shop).
			Str("operation", operation).
			Str("error_kind", string(e.Kind)).
			Str("message", e.Message).
			Msg("GraphQL errors in response")
		return &resp, e
	}

	return &resp, nil
}

// limiter returns the pacing limiter of shop.
func (c *Client) limiter(shop string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[shop]
	if !ok {
		limit := rate.Inf
		if c.config.RequestsPerSecond > 0 {
			limit = rate.Limit(c.config.RequestsPerSecond)
		}
		l = rate.NewLimiter(limit, c.config.Burst)
		c.limiters[shop] = l
	}
	return l
}

// Retrier returns the client's retry engine.
func (c *Client) Retrier() *Retrier {
	return c.retrier
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
