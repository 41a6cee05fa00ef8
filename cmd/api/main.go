package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"freightcontrol/internal/app"
	"freightcontrol/internal/config"
	"freightcontrol/internal/db"
	"freightcontrol/internal/logging"
	"freightcontrol/internal/server"
	"freightcontrol/internal/store/fixtures"
	"freightcontrol/internal/store/memory"
	"freightcontrol/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer closeBackend()

	svc, err := app.Wire(backend, cfg, logger)
	if err != nil {
		logger.Fatal("failed to wire services", zap.Error(err))
	}
	h := server.New(server.Deps{
		Estimator: svc.Estimator,
		Rules:     svc.Rules,
		Invoices:  svc.Invoices,
		Logger:    logger.Named("http"),

		WebhookRate:  cfg.WebhookRate,
		WebhookBurst: cfg.WebhookBurst,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("api listening",
		zap.String("port", cfg.Port),
		zap.String("unknown_rate_type", cfg.UnknownRateType),
		zap.Int("estimate_workers", cfg.EstimateWorkers),
		zap.String("currency", cfg.Currency),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

// openBackend picks postgres when DATABASE_URL is set, otherwise a memory
// store seeded from TARIFF_FILE. The tariff book is also upserted into
// postgres when both are set.
func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (app.Backend, func(), error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if strings.TrimSpace(cfg.TariffFile) == "" {
			logger.Warn("DATABASE_URL and TARIFF_FILE unset, serving an empty in-memory tariff")
			return memory.New(), func() {}, nil
		}
		ms, _, err := fixtures.LoadFile(ctx, cfg.TariffFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("tariff book loaded", zap.String("file", cfg.TariffFile), zap.String("storage", "memory"))
		return ms, func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.NewPool(connectCtx, cfg.DatabaseURL, db.PoolOptions{
		AppName: "freightcontrol-api",
		Workers: cfg.EstimateWorkers,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect db: %w", err)
	}
	// Verify connectivity proactively
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("database ping: %w", err)
	}
	ps := postgres.New(pool)
	if err := ps.Migrate(connectCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	if strings.TrimSpace(cfg.TariffFile) != "" {
		doc, err := fixtures.ReadFile(cfg.TariffFile)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := doc.Seed(ctx, ps); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("seed %s: %w", cfg.TariffFile, err)
		}
		logger.Info("tariff book loaded", zap.String("file", cfg.TariffFile), zap.String("storage", "postgres"))
	}
	return ps, pool.Close, nil
}
