/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reconciliation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, file, .env, RECON_* variables, flags)
  2. Open the store (SQLite demo database or back-office Postgres)
  3. Connect the shared Redis result cache, or fall back to none
  4. Create engine, session registry, sweeper and router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  --config, -c   Config file (yaml, toml or json)
  --port         HTTP server port (overrides http.port)
  --db           SQLite database path (overrides store.sqlite_path)
                 Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the session sweeper
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close cache and database connections

EXAMPLES:
  # Demo database with the scenarios API
  ./server --db="./data/recon.db"

  # Back-office database with a shared cache
  RECON_STORE_DRIVER=postgres RECON_STORE_POSTGRES_DSN=postgres://... \
  RECON_CACHE_REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Betotradicao/TESTES--sub002/api"
	"github.com/Betotradicao/TESTES--sub002/config"
	"github.com/Betotradicao/TESTES--sub002/drilldown"
	"github.com/Betotradicao/TESTES--sub002/engine"
	"github.com/Betotradicao/TESTES--sub002/store/postgres"
	"github.com/Betotradicao/TESTES--sub002/store/sqlite"
)

var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "server",
		Short:        "Purchase-vs-sale reconciliation server",
		SilenceUsage: true,
		RunE:         runServer,
	}

	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Path to a config file")
	rootCmd.Flags().Int("port", 8080, "HTTP server port")
	rootCmd.Flags().String("db", "reconciliation.db", "SQLite database path")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	v := config.NewViper()
	if err := v.BindPFlag("http.port", cmd.Flags().Lookup("port")); err != nil {
		return err
	}
	if err := v.BindPFlag("store.sqlite_path", cmd.Flags().Lookup("db")); err != nil {
		return err
	}
	cfg, err := config.LoadWith(v, cfgPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	ctx := logger.WithContext(cmd.Context())

	// Source
	var (
		catalog engine.Catalog
		facts   engine.FactSource
		refs    engine.ReferenceSource
		demo    api.DemoStore
	)
	closers := make([]func() error, 0, 2)

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pg, err := postgres.New(connectCtx, cfg.Store.PostgresDSN, cfg.Source.RetryAfter)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to open postgres: %w", err)
		}
		catalog, facts, refs = pg, pg, pg
		closers = append(closers, pg.Close)
		logger.Info().Msg("store: postgres (read-only, scenarios disabled)")
	default:
		db, err := sqlite.New(cfg.Store.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		catalog, facts, refs, demo = db, db, db, db
		closers = append(closers, db.Close)
		logger.Info().Str("path", cfg.Store.SQLitePath).Msg("store: sqlite")
	}

	// Shared drill-down cache
	cache := drilldown.ResultCache(drilldown.NoopResultCache{})
	if cfg.Cache.RedisAddr != "" {
		redisCache := drilldown.NewRedisResultCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := redisCache.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using noop cache")
			_ = redisCache.Close()
		} else {
			cache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info().Str("addr", cfg.Cache.RedisAddr).Msg("cache: redis")
		}
	} else {
		logger.Info().Msg("cache: noop")
	}

	eng := engine.New(engine.Config{
		Catalog:    catalog,
		Facts:      facts,
		References: refs,
		RetryAfter: cfg.Source.RetryAfter,
	})
	sessions := drilldown.NewRegistry(eng, drilldown.Options{Cache: cache, CacheTTL: cfg.Cache.TTL})

	sweeper := api.NewSessionSweeper(sessions, logger)
	sweeper.CheckInterval = cfg.Sessions.SweepInterval
	sweeper.IdleTimeout = cfg.Sessions.IdleTimeout
	sweeper.Start()

	handler := api.NewHandler(eng, sessions, demo)
	router := api.NewRouter(handler, api.RouterOptions{Logger: logger, AllowedOrigins: cfg.HTTP.AllowedOrigins})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           router,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("starting server")
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	case <-quit:
		logger.Info().Msg("shutting down server")
	}

	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error().Err(err).Msg("close error")
		}
	}

	logger.Info().Msg("server stopped")
	return runErr
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).
			Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}
