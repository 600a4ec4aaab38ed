// Command gql-proxy serves REST-style reads of Shopify resources from the
// Admin GraphQL API.
//
// Configuration comes from an optional YAML file (-config or GQLBRIDGE_CONFIG),
// .env and the environment; see package config for the variables.
//
//	GET  /api/:resource[/:id[/:sub]]   products, orders, customers, collections
//	GET  /diagnostics/health           component checks, 503 when critical
//	GET  /diagnostics/performance      rolling window statistics
//	GET  /diagnostics/report           health, performance and recommendations
//	POST /diagnostics/breakers/reset   ?name=<shop>/<operation> or all
//	DELETE /cache/:resource[/:id]      drop cached responses
//	GET  /health                       liveness
//	GET  /metrics                      Prometheus metrics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/config"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/logging"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/metrics"
)

func main() {
	configPath := flag.String("config", os.Getenv("GQLBRIDGE_CONFIG"), "path to a YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gql-proxy: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LoggingConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Proxy failed")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	s, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	window := metrics.NewWindow()
	sink, closeSinks, err := openSinks(cfg, window)
	if err != nil {
		return err
	}
	defer closeSinks()

	srv, err := assemble(cfg, cfg.ClientConfig(), s, sink, window)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", httpServer.Addr).
			Str("store", cfg.Store.Backend).
			Str("shop", cfg.Credentials().Shop()).
			Msg("Starting gql-proxy")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down gql-proxy")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
