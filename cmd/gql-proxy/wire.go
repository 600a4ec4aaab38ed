package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/breaker"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/bridge"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/cache"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/client"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/config"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/events"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/health"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/logging"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/metrics"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/ratelimit"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/store"
)

// openStore connects the configured shared store. The returned func releases
// the connection.
func openStore(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (store.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Connected to Redis")
		return store.NewRedis(rdb), func() { _ = rdb.Close() }, nil

	case config.BackendNATS:
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("gql-proxy"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to nats: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("open jetstream: %w", err)
		}
		s, err := store.OpenNATS(ctx, js, cfg.NATSBucket)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		logger.Info().Str("url", nc.ConnectedUrlRedacted()).Str("bucket", cfg.NATSBucket).Msg("Connected to NATS KV")
		return s, nc.Close, nil

	default:
		logger.Warn().Msg("Using in-memory store, state is not shared between instances")
		return store.NewMemory(), func() {}, nil
	}
}

// openSinks builds the event pipeline. The window is fed synchronously so
// diagnostics see every request; log, Kafka and NATS sinks run behind an
// async buffer.
func openSinks(cfg *config.Config, window *metrics.Window) (events.Sink, func(), error) {
	external := events.Multi{events.NewLogSink(logging.NewLogger("events"))}
	var closers []func()

	if len(cfg.Events.KafkaBrokers) > 0 {
		k := events.NewKafkaSink(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		external = append(external, k)
		closers = append(closers, func() { _ = k.Close() })
	}

	if cfg.Events.NATS {
		nc, err := nats.Connect(cfg.Store.NATSURL, nats.Name("gql-proxy-events"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect event sink to nats: %w", err)
		}
		external = append(external, events.NewNATSSink(nc, cfg.Events.NATSPrefix))
		closers = append(closers, func() { _ = nc.Drain() })
	}

	async := events.NewAsync(external, cfg.Events.Buffer)
	cleanup := func() {
		_ = async.Close()
		for _, c := range closers {
			c()
		}
	}
	return events.Multi{window, async}, cleanup, nil
}

// assemble builds the request path on top of a store and an event sink.
func assemble(cfg *config.Config, clientCfg client.Config, s store.Store, sink events.Sink, window *metrics.Window, opts ...client.RetrierOption) (*server, error) {
	tracker := ratelimit.NewTracker(s, logging.NewLogger("ratelimit"), ratelimit.WithMaxWait(cfg.RateLimit.MaxWait))
	br := breaker.New(s, cfg.BreakerConfig())

	opts = append(opts, bridge.RetryEvents(sink, logging.NewLogger("bridge")))
	c, err := client.New(clientCfg, tracker, br, opts...)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	cm := cache.NewManager(s)
	b := bridge.New(c,
		bridge.WithCache(cm),
		bridge.WithSink(sink),
		bridge.WithStrictFilter(cfg.Filter.Strict),
		bridge.WithPagination(cfg.PaginationConfig()),
	)

	return &server{
		cfg:     cfg,
		bridge:  b,
		breaker: br,
		health: health.Options{
			Client:  c,
			Tracker: tracker,
			Breaker: br,
			Cache:   cm,
			Window:  window,
		},
		logger: logging.NewLogger("proxy"),
	}, nil
}
