// Command stocktaked launches the inventory correction service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/stocktake/stocktake/internal/auth"
	"github.com/stocktake/stocktake/internal/infra/config"
	"github.com/stocktake/stocktake/internal/infra/persistence/migrations"
	"github.com/stocktake/stocktake/internal/infra/persistence/postgres"
	httpserver "github.com/stocktake/stocktake/internal/infra/server/http"
	"github.com/stocktake/stocktake/internal/inventory"
	"github.com/stocktake/stocktake/internal/registry"
	"github.com/stocktake/stocktake/internal/session"
	"github.com/stocktake/stocktake/internal/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	serviceLoggerPrefix      = "stocktake "
	shutdownTimeout          = 30 * time.Second
	serverShutdownTimeout    = 5 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	readHeaderTimeout        = 5 * time.Second
	dbReadyTimeout           = 60 * time.Second
	dbReadyMaxInterval       = 5 * time.Second
	sessionSweepInterval     = time.Hour
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newServiceLogger()
	configPath := resolveConfigPath(cfgPathFlag)

	appCfg, loadedFromFile, err := config.LoadOrDefault(ctx, configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	logger.Printf("configuration initialised: env=%s, listen=%s", appCfg.Environment, appCfg.ListenAddr)

	pool, err := pgxpool.New(ctx, appCfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("open database pool: %v", err)
	}
	defer pool.Close()

	if err := waitForDatabase(ctx, pool, logger); err != nil {
		logger.Fatalf("database not ready: %v", err)
	}
	if err := migrations.Apply(ctx, appCfg.DatabaseURL, appCfg.MigrationsPath, logger); err != nil {
		logger.Fatalf("apply migrations: %v", err)
	}

	telemetryProvider, err := telemetry.NewProvider(ctx, telemetry.FromAppConfig(appCfg))
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	metrics, err := telemetry.NewMetrics(telemetryProvider.Meter("stocktake"))
	if err != nil {
		logger.Fatalf("initialize metrics: %v", err)
	}

	store := postgres.New(pool)

	reg := registry.New(store.Conns(), appCfg.ConnectTimeout, appCfg.StatementTimeout)
	sessions := session.NewDirectory(store.Sessions(), appCfg.SessionTTL, logger)
	authn := auth.NewAuthenticator(sessions, logger)
	orch := inventory.NewOrchestrator(store.TxLog(), logger, inventory.WithAttemptRecorder(metrics))
	threshold := inventory.NewThresholdChecker(store.Settings())

	apiServer := &http.Server{
		Addr: appCfg.ListenAddr,
		Handler: httpserver.NewHandler(httpserver.Deps{
			Logger:    logger,
			Registry:  reg,
			ConnStore: store.Conns(),
			TxLog:     store.TxLog(),
			Sessions:  sessions,
			Auth:      authn,
			Orch:      orch,
			Threshold: threshold,
			Metrics:   metrics,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("api server: %v", err)
		}
	})
	lifecycle.Go(func() {
		runSessionSweeper(ctx, logger, sessions)
	})
	logger.Printf("api listening on %s", apiServer.Addr)

	logger.Print("stocktake started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     apiServer,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		telemetry:  telemetryProvider,
	})
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newServiceLogger() *log.Logger {
	return log.New(os.Stdout, serviceLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

// waitForDatabase pings the local control database until it answers or the
// deadline passes. Retries apply only to startup; request-time work against
// the external databases is never retried.
func waitForDatabase(ctx context.Context, pool *pgxpool.Pool, logger *log.Logger) error {
	waitCtx, cancel := context.WithTimeout(ctx, dbReadyTimeout)
	defer cancel()

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = dbReadyMaxInterval

	for {
		err := pool.Ping(waitCtx)
		if err == nil {
			return nil
		}
		logger.Printf("waiting for database: %v", err)

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = dbReadyMaxInterval
		}
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("database did not become ready: %w", waitCtx.Err())
		case <-time.After(sleep):
		}
	}
}

func runSessionSweeper(ctx context.Context, logger *log.Logger, sessions *session.Directory) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sessions.PruneExpired(ctx); err != nil {
				logger.Printf("session sweep: %v", err)
			}
		}
	}
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping api server", serverShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}
