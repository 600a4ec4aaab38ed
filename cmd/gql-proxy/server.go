package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/apierr"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/breaker"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/bridge"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/client"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/config"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/filter"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/health"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/metrics"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/resource"
)

// Request headers carrying per-request credentials.
const (
	headerShop       = "X-Shop-Domain"
	headerToken      = "X-Shopify-Access-Token"
	headerAPIVersion = "X-Shopify-API-Version"
)

// reservedParams are the query parameters the proxy interprets itself. All
// others are passed to the filter translator.
var reservedParams = map[string]struct{}{
	"limit":  {},
	"offset": {},
	"cursor": {},
	"fields": {},
	"filter": {},
	"ids":    {},
}

type server struct {
	cfg     *config.Config
	bridge  *bridge.Bridge
	breaker *breaker.Breaker
	health  health.Options
	logger  zerolog.Logger
}

// routes returns the HTTP handler with CORS applied.
func (s *server) routes() http.Handler {
	if s.cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(requestLogger(s.logger))
	router.Use(recovery(s.logger))

	router.GET("/health", s.liveness)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	{
		api.GET("/:resource", s.fetch)
		api.GET("/:resource/:id", s.fetch)
		api.GET("/:resource/:id/:sub", s.fetch)
	}

	diagnostics := router.Group("/diagnostics")
	{
		diagnostics.GET("/health", s.diagnosticsHealth)
		diagnostics.GET("/performance", s.diagnosticsPerformance)
		diagnostics.GET("/report", s.diagnosticsReport)
		diagnostics.POST("/breakers/reset", s.resetBreakers)
	}

	cacheRoutes := router.Group("/cache")
	{
		cacheRoutes.DELETE("/:resource", s.invalidate)
		cacheRoutes.DELETE("/:resource/:id", s.invalidate)
	}

	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", headerShop, headerToken, headerAPIVersion},
		ExposedHeaders: []string{headerRequestID},
	}).Handler(router)
}

func (s *server) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *server) fetch(c *gin.Context) {
	creds, err := s.credentials(c)
	if err == nil {
		err = creds.Validate()
	}
	if err != nil {
		s.fail(c, err)
		return
	}

	req, err := parseRequest(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	res, err := s.bridge.Fetch(c.Request.Context(), creds, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// credentials starts from the configured shop. Header credentials replace it
// as a whole, the API version header only overrides the version.
func (s *server) credentials(c *gin.Context) (client.Credentials, error) {
	creds := s.cfg.Credentials()
	if shop := strings.TrimSpace(c.GetHeader(headerShop)); shop != "" {
		creds.ShopDomain = shop
		creds.AccessToken = c.GetHeader(headerToken)
	} else if c.GetHeader(headerToken) != "" && creds.ShopDomain == "" {
		return client.Credentials{}, apierr.Validation("%s header is required with %s", headerShop, headerToken)
	}
	if v := strings.TrimSpace(c.GetHeader(headerAPIVersion)); v != "" {
		creds.APIVersion = v
	}
	return creds, nil
}

// parseRequest maps path and query parameters onto a bridge request.
func parseRequest(c *gin.Context) (bridge.Request, error) {
	req := bridge.Request{
		Kind: resource.Kind(c.Param("resource")),
		Sub:  c.Param("sub"),
	}

	if raw := c.Param("id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return req, apierr.Validation("id must be a positive integer (got %q)", raw)
		}
		req.ID = id
	}

	q := c.Request.URL.Query()
	var err error
	if req.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return req, err
	}
	if req.Offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		return req, err
	}
	req.Cursor = q.Get("cursor")
	req.Filter = q.Get("filter")
	if fields := q.Get("fields"); fields != "" {
		for _, f := range strings.Split(fields, ",") {
			if f = strings.TrimSpace(f); f != "" {
				req.Fields = append(req.Fields, f)
			}
		}
	}
	req.IDs = filter.SplitIDs(q.Get("ids"))

	for key, values := range q {
		if _, ok := reservedParams[strings.ToLower(key)]; ok || len(values) == 0 {
			continue
		}
		if req.Params == nil {
			req.Params = make(map[string]string)
		}
		req.Params[key] = values[0]
	}
	return req, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierr.Validation("%s must be an integer (got %q)", name, raw)
	}
	return n, nil
}

// checker builds a diagnostics run for the shop of the request.
func (s *server) checker(c *gin.Context) (*health.Checker, error) {
	creds, err := s.credentials(c)
	if err != nil {
		return nil, err
	}
	opts := s.health
	opts.Credentials = creds
	return health.New(opts), nil
}

func (s *server) diagnosticsHealth(c *gin.Context) {
	checker, err := s.checker(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	report := checker.Health(c.Request.Context())
	c.JSON(statusCode(report.Status), report)
}

func (s *server) diagnosticsPerformance(c *gin.Context) {
	checker, err := s.checker(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, checker.Performance())
}

func (s *server) diagnosticsReport(c *gin.Context) {
	checker, err := s.checker(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	report := checker.Report(c.Request.Context())
	c.JSON(statusCode(report.Status), report)
}

// resetBreakers resets one breaker when ?name=<shop>/<operation> is given,
// all of them otherwise.
func (s *server) resetBreakers(c *gin.Context) {
	ctx := c.Request.Context()
	if name := c.Query("name"); name != "" {
		if err := s.breaker.Reset(ctx, name); err != nil {
			s.fail(c, apierr.Wrap(apierr.KindInternal, err, "reset breaker"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"reset": 1})
		return
	}

	n, err := s.breaker.ResetAll(ctx)
	if err != nil {
		s.fail(c, apierr.Wrap(apierr.KindInternal, err, "reset breakers"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": n})
}

func (s *server) invalidate(c *gin.Context) {
	creds, err := s.credentials(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if creds.Shop() == "" {
		s.fail(c, apierr.Validation("shop domain is required"))
		return
	}
	kind, err := resource.ParseKind(c.Param("resource"))
	if err != nil {
		s.fail(c, apierr.Validation("unsupported resource %q", c.Param("resource")))
		return
	}

	var id int64
	if raw := c.Param("id"); raw != "" {
		if id, err = strconv.ParseInt(raw, 10, 64); err != nil || id <= 0 {
			s.fail(c, apierr.Validation("id must be a positive integer (got %q)", raw))
			return
		}
	}

	n, err := s.bridge.Invalidate(c.Request.Context(), creds.Shop(), kind, id)
	if err != nil {
		s.fail(c, apierr.Wrap(apierr.KindInternal, err, "invalidate cache"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": n})
}

type errorBody struct {
	Kind           apierr.Kind     `json:"kind"`
	Message        string          `json:"message"`
	UpstreamErrors json.RawMessage `json:"upstream_errors,omitempty"`
}

// fail renders err with the status of its kind.
func (s *server) fail(c *gin.Context, err error) {
	kind := apierr.KindOf(err)
	body := errorBody{Kind: kind, Message: err.Error()}

	var ae *apierr.Error
	if errors.As(err, &ae) && len(ae.RawUpstream) > 0 {
		body.UpstreamErrors = ae.RawUpstream
	}

	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("error_kind", string(kind)).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

// statusCode maps a diagnostics status onto the response code, so load
// balancers can probe /diagnostics/health directly.
func statusCode(s health.Status) int {
	if s == health.StatusCritical {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
