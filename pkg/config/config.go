// Package config loads the bridge configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then a
// .env file in the working directory, then the process environment. The
// environment always wins.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/breaker"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/client"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/logging"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/pagination"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
)

var apiVersionPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// Config is the complete bridge configuration.
type Config struct {
	Shop       ShopConfig       `yaml:"shop"`
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Events     EventsConfig     `yaml:"events"`
	Client     ClientConfig     `yaml:"client"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Filter     FilterConfig     `yaml:"filter"`
	Pagination PaginationConfig `yaml:"pagination"`
	Log        LogConfig        `yaml:"log"`
}

// ShopConfig holds the default shop credentials. When Domain is empty the
// proxy expects credentials in request headers.
type ShopConfig struct {
	Domain      string `yaml:"domain"`
	AccessToken string `yaml:"access_token"`
	APIVersion  string `yaml:"api_version"`
}

// ServerConfig configures the REST proxy.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Env             string        `yaml:"env"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// StoreConfig selects the shared store backend.
type StoreConfig struct {
	Backend    string `yaml:"backend"`
	RedisURL   string `yaml:"redis_url"`
	NATSURL    string `yaml:"nats_url"`
	NATSBucket string `yaml:"nats_bucket"`
}

// EventsConfig selects the event sinks in addition to the log sink.
type EventsConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	NATS         bool     `yaml:"nats"`
	NATSPrefix   string   `yaml:"nats_prefix"`
	Buffer       int      `yaml:"buffer"`
}

// ClientConfig configures the upstream client and its retries.
type ClientConfig struct {
	UserAgent         string        `yaml:"user_agent"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
}

// BreakerConfig holds the circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	RecordTTL        time.Duration `yaml:"record_ttl"`
}

// RateLimitConfig tunes the query-cost gate.
type RateLimitConfig struct {
	MaxWait time.Duration `yaml:"max_wait"`
}

// FilterConfig tunes filter translation.
type FilterConfig struct {
	Strict bool `yaml:"strict"`
}

// PaginationConfig bounds offset emulation.
type PaginationConfig struct {
	MaxOffset int `yaml:"max_offset"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
	Caller bool   `yaml:"caller"`
}

// Default returns the built-in configuration.
func Default() *Config {
	retry := client.DefaultRetryConfig()
	br := breaker.DefaultConfig()
	cl := client.DefaultConfig()

	return &Config{
		Shop: ShopConfig{APIVersion: "2024-01"},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Env:             "development",
			CORSOrigins:     []string{"*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend:    BackendMemory,
			NATSBucket: "gqlbridge",
		},
		Events: EventsConfig{
			KafkaTopic: "gqlbridge.events",
			NATSPrefix: "gqlbridge.events",
			Buffer:     1024,
		},
		Client: ClientConfig{
			UserAgent:         cl.UserAgent,
			RequestsPerSecond: cl.RequestsPerSecond,
			Burst:             cl.Burst,
			MaxAttempts:       retry.MaxAttempts,
			BaseDelay:         retry.BaseDelay,
			MaxDelay:          retry.MaxDelay,
			AttemptTimeout:    retry.AttemptTimeout,
		},
		Breaker: BreakerConfig{
			FailureThreshold: br.FailureThreshold,
			SuccessThreshold: br.SuccessThreshold,
			Timeout:          br.Timeout,
			RecordTTL:        br.RecordTTL,
		},
		RateLimit:  RateLimitConfig{MaxWait: 5 * time.Second},
		Pagination: PaginationConfig{MaxOffset: pagination.DefaultConfig().MaxOffset},
		Log:        LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty), .env and the environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()
		if err := cfg.decodeYAML(f); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// A missing .env is not an error.
	_ = godotenv.Load()

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeYAML overlays the document in r. Unknown keys are rejected.
func (c *Config) decodeYAML(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(c)
}

// ApplyEnv overlays environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("SHOPIFY_SHOP_DOMAIN", &c.Shop.Domain)
	e.str("SHOPIFY_ACCESS_TOKEN", &c.Shop.AccessToken)
	e.str("SHOPIFY_API_VERSION", &c.Shop.APIVersion)

	e.str("GQLBRIDGE_HOST", &c.Server.Host)
	e.integer("PORT", &c.Server.Port)
	e.integer("GQLBRIDGE_PORT", &c.Server.Port)
	e.str("GQLBRIDGE_ENV", &c.Server.Env)
	e.list("GQLBRIDGE_CORS_ORIGINS", &c.Server.CORSOrigins)

	e.str("GQLBRIDGE_STORE", &c.Store.Backend)
	e.str("REDIS_URL", &c.Store.RedisURL)
	e.str("NATS_URL", &c.Store.NATSURL)
	e.str("GQLBRIDGE_NATS_BUCKET", &c.Store.NATSBucket)

	e.list("KAFKA_BROKERS", &c.Events.KafkaBrokers)
	e.str("GQLBRIDGE_KAFKA_TOPIC", &c.Events.KafkaTopic)
	e.boolean("GQLBRIDGE_EVENTS_NATS", &c.Events.NATS)
	e.str("GQLBRIDGE_EVENTS_NATS_PREFIX", &c.Events.NATSPrefix)

	e.str("USER_AGENT", &c.Client.UserAgent)
	e.str("GQLBRIDGE_USER_AGENT", &c.Client.UserAgent)
	e.float("GQLBRIDGE_REQUESTS_PER_SECOND", &c.Client.RequestsPerSecond)
	e.integer("GQLBRIDGE_MAX_ATTEMPTS", &c.Client.MaxAttempts)
	e.duration("GQLBRIDGE_ATTEMPT_TIMEOUT", &c.Client.AttemptTimeout)

	e.integer("GQLBRIDGE_BREAKER_FAILURES", &c.Breaker.FailureThreshold)
	e.duration("GQLBRIDGE_BREAKER_TIMEOUT", &c.Breaker.Timeout)
	e.duration("GQLBRIDGE_RATE_LIMIT_MAX_WAIT", &c.RateLimit.MaxWait)
	e.boolean("GQLBRIDGE_FILTER_STRICT", &c.Filter.Strict)
	e.integer("GQLBRIDGE_MAX_OFFSET", &c.Pagination.MaxOffset)

	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("GQLBRIDGE_LOG_LEVEL", &c.Log.Level)
	e.str("GQLBRIDGE_LOG_FORMAT", &c.Log.Format)

	return errors.Join(e.errs...)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	if c.Shop.Domain != "" {
		if err := c.Credentials().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("shop: %w", err))
		}
	} else if c.Shop.APIVersion != "" && !apiVersionPattern.MatchString(c.Shop.APIVersion) {
		errs = append(errs, fmt.Errorf("shop: api_version must look like YYYY-MM (got %q)", c.Shop.APIVersion))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server: port must be in 1..65535 (got %d)", c.Server.Port))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("store: redis backend requires redis_url"))
		}
	case BackendNATS:
		if c.Store.NATSURL == "" {
			errs = append(errs, errors.New("store: nats backend requires nats_url"))
		}
		if c.Store.NATSBucket == "" {
			errs = append(errs, errors.New("store: nats backend requires nats_bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown backend %q (want memory, redis or nats)", c.Store.Backend))
	}

	if c.Events.NATS && c.Store.NATSURL == "" {
		errs = append(errs, errors.New("events: nats sink requires nats_url"))
	}
	if len(c.Events.KafkaBrokers) > 0 && c.Events.KafkaTopic == "" {
		errs = append(errs, errors.New("events: kafka sink requires kafka_topic"))
	}

	if c.Client.UserAgent == "" {
		errs = append(errs, errors.New("client: user_agent is required"))
	}
	if c.Client.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("client: requests_per_second must be >= 0 (got %v)", c.Client.RequestsPerSecond))
	}
	if c.Client.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("client: max_attempts must be >= 1 (got %d)", c.Client.MaxAttempts))
	}
	if c.Breaker.FailureThreshold < 1 || c.Breaker.SuccessThreshold < 1 {
		errs = append(errs, errors.New("breaker: thresholds must be >= 1"))
	}
	if c.Pagination.MaxOffset < 0 {
		errs = append(errs, fmt.Errorf("pagination: max_offset must be >= 0 (got %d)", c.Pagination.MaxOffset))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log: format must be json or console (got %q)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Credentials returns the configured shop credentials.
func (c *Config) Credentials() client.Credentials {
	return client.Credentials{
		ShopDomain:  c.Shop.Domain,
		AccessToken: c.Shop.AccessToken,
		APIVersion:  c.Shop.APIVersion,
	}
}

// ClientConfig returns the upstream client configuration.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig()
	cfg.UserAgent = c.Client.UserAgent
	cfg.RequestsPerSecond = c.Client.RequestsPerSecond
	cfg.Burst = c.Client.Burst
	cfg.Retry.MaxAttempts = c.Client.MaxAttempts
	cfg.Retry.BaseDelay = c.Client.BaseDelay
	cfg.Retry.MaxDelay = c.Client.MaxDelay
	cfg.Retry.AttemptTimeout = c.Client.AttemptTimeout
	return cfg
}

// BreakerConfig returns the circuit breaker configuration.
func (c *Config) BreakerConfig() breaker.Config {
	cfg := breaker.DefaultConfig()
	cfg.FailureThreshold = c.Breaker.FailureThreshold
	cfg.SuccessThreshold = c.Breaker.SuccessThreshold
	cfg.Timeout = c.Breaker.Timeout
	cfg.RecordTTL = c.Breaker.RecordTTL
	return cfg
}

// PaginationConfig returns the offset walker configuration.
func (c *Config) PaginationConfig() pagination.Config {
	cfg := pagination.DefaultConfig()
	cfg.MaxOffset = c.Pagination.MaxOffset
	return cfg
}

// LoggingConfig returns the logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	cfg.Pretty = c.Log.Format == "console"
	cfg.Caller = c.Log.Caller
	return cfg
}

// envReader collects parse errors while overlaying variables.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: invalid number %q", key, v))
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return
		}
		*dst = d
	}
}
