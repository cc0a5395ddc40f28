/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tutor lesson ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load config (file, env, .env)
  2. Build the zap logger
  3. Open the SQLite store (applies migrations)
  4. Create the engine, lesson timers and sweep scheduler
  5. Configure HTTP router and start the server

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides db.path
           Use ":memory:" for in-memory database

ENVIRONMENT:
  Every config key can be set as TUTOR_<SECTION>_<KEY>, e.g.
  TUTOR_DB_PATH, TUTOR_ENGINE_TIMEZONE, TUTOR_SWEEP_INTERVAL.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep scheduler and lesson timers
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/tutor-ledger/api"
	"github.com/warp/tutor-ledger/config"
	"github.com/warp/tutor-ledger/ledger"
	"github.com/warp/tutor-ledger/logging"
	"github.com/warp/tutor-ledger/report"
	"github.com/warp/tutor-ledger/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.DB.Path = *dbPath
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	settings, err := cfg.Engine.Settings()
	if err != nil {
		return err
	}
	price, err := cfg.Billing.Price()
	if err != nil {
		return err
	}

	if cfg.DB.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := sqlite.New(ctx, cfg.DB.Path, logger)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	engine := ledger.NewEngine(store, ledger.SystemClock{}, settings, logger)
	timers := ledger.NewLessonTimers(engine, cfg.Sweep.TimerHorizon, logger)
	defer timers.Stop()

	scheduler := api.NewSweepScheduler(engine, timers, logger)
	scheduler.Interval = cfg.Sweep.Interval
	scheduler.Enabled = cfg.Sweep.Enabled
	scheduler.Start()
	defer scheduler.Stop()

	if !cfg.Sweep.Enabled {
		if err := timers.Rearm(ctx); err != nil {
			logger.Warn("arm lesson timers", zap.Error(err))
		}
	}

	handler := api.NewHandler(engine, report.Pricing{
		LessonPrice:         price,
		Currency:            cfg.Billing.Currency,
		LowBalanceThreshold: cfg.Billing.LowBalanceThreshold,
	}, logger)
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("db", cfg.DB.Path),
			zap.String("timezone", settings.Location.String()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")
	scheduler.Stop()
	timers.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
