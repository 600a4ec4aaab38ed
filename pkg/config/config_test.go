package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/logging"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 3, cfg.Client.MaxAttempts)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.Timeout)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
shop:
  domain: demo.myshopify.com
  access_token: shpat_from_file
  api_version: "2024-04"
store:
  backend: redis
  redis_url: redis://localhost:6379/0
client:
  max_attempts: 5
  attempt_timeout: 10s
breaker:
  timeout: 2m
log:
  level: debug
  format: console
`), 0o600))

	t.Setenv("SHOPIFY_ACCESS_TOKEN", "shpat_from_env")
	t.Setenv("GQLBRIDGE_PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "demo.myshopify.com", cfg.Shop.Domain)
	assert.Equal(t, "shpat_from_env", cfg.Shop.AccessToken)
	assert.Equal(t, "2024-04", cfg.Shop.APIVersion)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, 5, cfg.Client.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Client.AttemptTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Breaker.Timeout)
	assert.Equal(t, 9090, cfg.Server.Port)

	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Breaker.SuccessThreshold)
	assert.Equal(t, time.Second, cfg.Client.BaseDelay)
}

func TestLoad_UnknownYAMLKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("shop:\n  domian: typo.myshopify.com\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "domian")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"SHOPIFY_SHOP_DOMAIN":           "demo.myshopify.com",
		"KAFKA_BROKERS":                 "k1:9092, k2:9092,",
		"GQLBRIDGE_EVENTS_NATS":         "true",
		"NATS_URL":                      "nats://localhost:4222",
		"GQLBRIDGE_REQUESTS_PER_SECOND": "4.5",
		"GQLBRIDGE_RATE_LIMIT_MAX_WAIT": "3s",
		"GQLBRIDGE_FILTER_STRICT":       "1",
		"GQLBRIDGE_CORS_ORIGINS":        "https://admin.example.com",
		"LOG_LEVEL":                     "warn",
		"GQLBRIDGE_LOG_LEVEL":           "error",
		"GQLBRIDGE_HOST":                "   ",
	}))
	require.NoError(t, err)

	assert.Equal(t, "demo.myshopify.com", cfg.Shop.Domain)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
	assert.True(t, cfg.Events.NATS)
	assert.Equal(t, "nats://localhost:4222", cfg.Store.NATSURL)
	assert.Equal(t, 4.5, cfg.Client.RequestsPerSecond)
	assert.Equal(t, 3*time.Second, cfg.RateLimit.MaxWait)
	assert.True(t, cfg.Filter.Strict)
	assert.Equal(t, []string{"https://admin.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "error", cfg.Log.Level, "prefixed variable wins")
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "blank values are ignored")
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"GQLBRIDGE_PORT":            "eighty",
		"GQLBRIDGE_FILTER_STRICT":   "sometimes",
		"GQLBRIDGE_BREAKER_TIMEOUT": "1 minute",
	}))
	require.Error(t, err)

	for _, key := range []string{"GQLBRIDGE_PORT", "GQLBRIDGE_FILTER_STRICT", "GQLBRIDGE_BREAKER_TIMEOUT"} {
		assert.Contains(t, err.Error(), key)
	}
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid shop", mutate: func(c *Config) {
			c.Shop.Domain = "demo.myshopify.com"
			c.Shop.AccessToken = "shpat_x"
		}},
		{name: "shop without token", mutate: func(c *Config) { c.Shop.Domain = "demo.myshopify.com" }, wantErr: "shop"},
		{name: "bad api version", mutate: func(c *Config) { c.Shop.APIVersion = "unstable" }, wantErr: "api_version"},
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "port"},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "etcd" }, wantErr: "unknown backend"},
		{name: "redis without url", mutate: func(c *Config) { c.Store.Backend = BackendRedis }, wantErr: "redis_url"},
		{name: "nats without url", mutate: func(c *Config) { c.Store.Backend = BackendNATS }, wantErr: "nats_url"},
		{name: "nats events without url", mutate: func(c *Config) { c.Events.NATS = true }, wantErr: "nats sink"},
		{name: "kafka without topic", mutate: func(c *Config) {
			c.Events.KafkaBrokers = []string{"k:9092"}
			c.Events.KafkaTopic = ""
		}, wantErr: "kafka_topic"},
		{name: "user agent", mutate: func(c *Config) { c.Client.UserAgent = "" }, wantErr: "user_agent"},
		{name: "max attempts", mutate: func(c *Config) { c.Client.MaxAttempts = 0 }, wantErr: "max_attempts"},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "log level"},
		{name: "log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = -1
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, 2, strings.Count(err.Error(), "\n")+1)
}

func TestDerivedConfigs(t *testing.T) {
	cfg := Default()
	cfg.Shop = ShopConfig{Domain: "Demo.myshopify.com", AccessToken: "shpat_x", APIVersion: "2024-01"}
	cfg.Client.MaxAttempts = 4
	cfg.Breaker.FailureThreshold = 7
	cfg.Pagination.MaxOffset = 1000
	cfg.Log = LogConfig{Level: "debug", Format: "console", Caller: true}

	assert.Equal(t, "demo.myshopify.com", cfg.Credentials().Shop())
	assert.Equal(t, 4, cfg.ClientConfig().Retry.MaxAttempts)
	assert.Equal(t, 7, cfg.BreakerConfig().FailureThreshold)
	assert.Equal(t, "gqlbridge:breaker:", cfg.BreakerConfig().KeyPrefix)
	assert.Equal(t, 1000, cfg.PaginationConfig().MaxOffset)
	assert.Equal(t, 250, cfg.PaginationConfig().PageSize)

	lc := cfg.LoggingConfig()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.True(t, lc.Pretty)
	assert.True(t, lc.Caller)
}
