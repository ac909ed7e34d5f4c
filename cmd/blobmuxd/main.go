package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/blobmux/blobmux/internal/blobstore"
	"github.com/blobmux/blobmux/internal/config"
	apierrors "github.com/blobmux/blobmux/internal/errors"
	"github.com/blobmux/blobmux/internal/handler"
	"github.com/blobmux/blobmux/internal/healer"
	"github.com/blobmux/blobmux/internal/health"
	"github.com/blobmux/blobmux/internal/metrics"
	"github.com/blobmux/blobmux/internal/model"
	"github.com/blobmux/blobmux/internal/multiplex"
	"github.com/blobmux/blobmux/internal/server"
	"github.com/blobmux/blobmux/internal/syncqueue"
	"github.com/blobmux/blobmux/internal/validation"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting blobmux",
		zap.Int("multiplex_id", cfg.Multiplex.ID),
		zap.Int("stores", len(cfg.Stores)),
		zap.Int("min_successful_writes", cfg.Multiplex.MinSuccessfulWrites),
		zap.Int("not_present_read_quorum", cfg.Multiplex.NotPresentReadQuorum))

	m := metrics.NewMetrics()

	// Backing stores
	stores := make(map[model.StoreID]blobstore.Store, len(cfg.Stores))
	var mains, writeMostly []multiplex.StoreEntry
	var closers []func() error
	for _, sc := range cfg.Stores {
		store, closer, err := buildStore(sc, logger)
		if err != nil {
			logger.Fatal("Failed to initialize store",
				zap.Int("store_id", sc.ID),
				zap.String("kind", sc.Kind),
				zap.Error(err))
		}
		if closer != nil {
			closers = append(closers, closer)
		}

		id := model.StoreID(sc.ID)
		stores[id] = store
		entry := multiplex.StoreEntry{ID: id, Store: store}
		if sc.Tier == "write_mostly" {
			writeMostly = append(writeMostly, entry)
		} else {
			mains = append(mains, entry)
		}
	}
	logger.Info("Backing stores initialized",
		zap.Int("main", len(mains)),
		zap.Int("write_mostly", len(writeMostly)))

	// Sync queue
	var queue syncqueue.Queue
	var pool *pgxpool.Pool
	switch cfg.Queue.Kind {
	case "postgres":
		pool, err = newPgxPool(cfg.Queue.Database)
		if err != nil {
			logger.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		queue = syncqueue.NewPostgresQueue(pool)
		logger.Info("Postgres sync queue initialized",
			zap.String("host", cfg.Queue.Database.Host),
			zap.String("database", cfg.Queue.Database.Database))
	default:
		queue = syncqueue.NewMemoryQueue()
		logger.Warn("Using in-memory sync queue; write gaps will not survive a restart")
	}

	// Multiplex
	mux, err := multiplex.New(multiplex.Config{
		MultiplexID:          model.MultiplexID(cfg.Multiplex.ID),
		Main:                 mains,
		WriteMostly:          writeMostly,
		MinSuccessfulWrites:  cfg.Multiplex.MinSuccessfulWrites,
		NotPresentReadQuorum: cfg.Multiplex.NotPresentReadQuorum,
		Queue:                queue,
		Handler:              multiplex.NewLoggingPutHandler(logger),
		Logger:               logger,
		Metrics:              m,
	})
	if err != nil {
		logger.Fatal("Failed to build multiplex", zap.Error(err))
	}

	var scrubber handler.BlobService
	if cfg.Scrub.Enabled {
		scrubber = multiplex.NewScrubStore(mux, scrubOptions(cfg.Scrub), multiplex.NewLoggingScrubHandler(logger))
		logger.Info("Scrubbing reads enabled",
			zap.String("action", cfg.Scrub.Action),
			zap.String("write_mostly", cfg.Scrub.WriteMostly))
	}

	// Healer
	var heal *healer.Healer
	if cfg.Healer.Enabled {
		heal = healer.New(healer.Config{
			Queue:         queue,
			Stores:        stores,
			BatchSize:     cfg.Healer.BatchSize,
			Interval:      cfg.Healer.Interval,
			EntryTTL:      cfg.Healer.EntryTTL,
			RatePerSecond: cfg.Healer.RatePerSecond,
			Workers:       cfg.Healer.Workers,
			Logger:        logger,
			Metrics:       m,
		})
		heal.Start()
	}

	// HTTP front end
	errorHandler := apierrors.NewHandler(logger)
	validator := validation.NewValidatorWithLimits(validation.MaxKeySize, cfg.Server.MaxBlobSize)
	handlers := handler.NewHandlers(mux, scrubber, validator, errorHandler, logger, m, cfg.Server.MaxBlobSize)
	healthCheck := health.NewHealthCheck(stores, queue, logger)

	srv := server.NewServer(cfg, handlers, healthCheck, errorHandler, logger)
	srv.SetupRoutes()

	var metricsSrv *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsSrv = server.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, logger)
		metricsSrv.Start()
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("Received signal", zap.String("signal", sig.String()))
	}

	logger.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", zap.Error(err))
	}
	if heal != nil {
		heal.Stop()
	}
	healthCheck.Stop()
	if metricsSrv != nil {
		if err := metricsSrv.Stop(); err != nil {
			logger.Warn("Metrics server shutdown", zap.Error(err))
		}
	}
	if pool != nil {
		pool.Close()
	}
	for _, closer := range closers {
		if err := closer(); err != nil {
			logger.Warn("Store close", zap.Error(err))
		}
	}

	logger.Info("blobmux stopped")
}

// buildStore constructs one backing store from its configuration. The
// returned closer is nil for stores with nothing to release.
func buildStore(sc config.StoreConfig, logger *zap.Logger) (blobstore.Store, func() error, error) {
	switch sc.Kind {
	case "memory":
		return blobstore.NewMemoryStore(), nil, nil
	case "leveldb":
		store, err := blobstore.NewLevelDBStore(sc.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "redis":
		store, err := blobstore.NewRedisStore(sc.Host, sc.Port, sc.Password, sc.DB, sc.Prefix, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", sc.Kind)
	}
}

func newPgxPool(cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConnections)
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = int32(cfg.MinConnections)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func scrubOptions(cfg config.ScrubConfig) multiplex.ScrubOptions {
	opts := multiplex.ScrubOptions{
		Action:         multiplex.ScrubActionReportOnly,
		WriteMostly:    multiplex.WriteMostlySkipMissing,
		QueuePeekBound: cfg.QueuePeekBound,
		SampleRate:     cfg.SampleRate,
	}
	if cfg.Action == "repair" {
		opts.Action = multiplex.ScrubActionRepair
	}
	switch cfg.WriteMostly {
	case "scrub":
		opts.WriteMostly = multiplex.WriteMostlyScrub
	case "scrub_if_absent":
		opts.WriteMostly = multiplex.WriteMostlyScrubIfAbsent
	case "populate_if_absent":
		opts.WriteMostly = multiplex.WriteMostlyPopulateIfAbsent
	}
	return opts
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = level
	return zapCfg.Build()
}
