package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/liftoff-labs/gymcore/pkg/api"
	"github.com/liftoff-labs/gymcore/pkg/archive"
	"github.com/liftoff-labs/gymcore/pkg/async"
	"github.com/liftoff-labs/gymcore/pkg/audit"
	"github.com/liftoff-labs/gymcore/pkg/config"
	"github.com/liftoff-labs/gymcore/pkg/gyms"
	"github.com/liftoff-labs/gymcore/pkg/middleware"
	"github.com/liftoff-labs/gymcore/pkg/observability"
	"github.com/liftoff-labs/gymcore/pkg/storage"
)

var version = "dev"

var (
	archiveOnce = flag.Bool("archive-once", false, "Archive one window of audit entries to S3 and exit")
	archiveDate = flag.String("archive-date", "", "UTC day to archive (YYYY-MM-DD). If empty, archives the last complete window. Only used with --archive-once")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gymcore: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", "gymcore").
		WithField("version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithLogger(ctx, logger)

	if *archiveOnce {
		err = runArchiveOnce(ctx, cfg, logger)
	} else {
		err = run(ctx, cfg, logger)
	}
	if err != nil {
		logger.WithError(err).Error("gymcore exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	otel, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	conns, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Storage.RedisEnabled() {
		rdb, err = storage.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			conns.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Redis connected")
	}

	auditStore := audit.NewSQLStore(conns, metrics)
	recorder := audit.NewRecorder(auditStore, audit.WithMetrics(metrics))

	var roleCache *gyms.RoleCache
	if cfg.Cache.Enabled {
		var l2 redis.Cmdable
		if rdb != nil {
			l2 = rdb
		}
		roleCache = gyms.NewRoleCache(gyms.CacheConfig{
			L1Size: cfg.Cache.L1Size,
			L1TTL:  cfg.Cache.L1TTL,
			L2TTL:  cfg.Cache.L2TTL,
		}, l2, metrics, logger)
	}
	svc := gyms.NewService(gyms.NewSQLStore(conns),
		gyms.WithCache(roleCache),
		gyms.WithRecorder(recorder),
		gyms.WithLogger(logger),
	)

	var pool *async.WorkerPool
	var interceptor *audit.Interceptor
	if cfg.Audit.Enabled {
		icfg := audit.InterceptorConfig{
			BodyLimit:    cfg.Audit.BodyLimit,
			WriteTimeout: cfg.Audit.WriteTimeout,
			Logger:       logger,
			Metrics:      metrics,
		}
		if cfg.Audit.Dispatch == config.DispatchPool {
			pool = async.NewWorkerPool(context.Background(), cfg.Audit.PoolWorkers, "audit-write", cfg.Audit.WriteTimeout,
				async.WithQueueSize(cfg.Audit.PoolQueue),
				async.WithLogger(logger),
			)
			icfg.Pool = pool
		}
		if rdb != nil {
			icfg.Deduper = audit.NewDeduper(rdb, cfg.Audit.IdempotencyTTL)
		}
		interceptor = audit.NewInterceptor(recorder, icfg)
	}

	var limiter *middleware.RateLimitMiddleware
	if cfg.RateLimit.Enabled {
		var client redis.Cmdable
		if rdb != nil {
			client = rdb
		}
		limiter = middleware.NewRateLimitMiddleware(client,
			middleware.RateLimitConfig{
				RequestsPerWindow: cfg.RateLimit.UserRequests,
				WindowDuration:    cfg.RateLimit.Window,
				BurstSize:         cfg.RateLimit.UserBurst,
			},
			middleware.RateLimitConfig{
				RequestsPerWindow: cfg.RateLimit.AnonRequests,
				WindowDuration:    cfg.RateLimit.Window,
				BurstSize:         cfg.RateLimit.AnonBurst,
			},
			metrics, logger)
		limiter.StartCleanup(ctx)
	}

	health := observability.NewHealthChecker(conns.Primary(), rdb, metrics, version)
	splitAdmin := cfg.Server.HealthPort != "" && cfg.Server.HealthPort != cfg.Server.Port

	deps := api.Deps{
		Logger:      logger,
		Metrics:     metrics,
		Identity:    middleware.NewIdentityMiddleware(svc, logger),
		RateLimit:   limiter,
		Interceptor: interceptor,
		Audit:       audit.NewHandlers(auditStore, logger, cfg.Audit.ExportMaxRows),
		Gyms:        gyms.NewHandlers(svc, logger),
		Version:     version,
	}
	if !splitAdmin {
		deps.Health = health
		deps.Gatherer = registry
	}
	srv, err := api.NewServer(deps)
	if err != nil {
		conns.Close()
		return err
	}
	srv.LogAuditDrift()

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)

	// Registered first, closed last.
	shutdown.Register("database", func(context.Context) error { return conns.Close() })
	if rdb != nil {
		shutdown.Register("redis", func(context.Context) error { return rdb.Close() })
	}
	shutdown.Register("opentelemetry", otel.Shutdown)
	if pool != nil {
		shutdown.Register("audit pool", func(context.Context) error {
			return pool.Shutdown(cfg.Audit.WriteTimeout * 2)
		})
	}

	if cfg.Archive.Enabled {
		scheduler, err := newArchiveScheduler(ctx, cfg, auditStore, metrics, logger)
		if err != nil {
			_ = shutdown.Shutdown()
			return err
		}
		scheduler.Start()
		logger.WithField("next_run", scheduler.Next().Format(time.RFC3339)).Info("Audit archive scheduled")
		shutdown.Register("archive scheduler", scheduler.Stop)
	}

	if splitAdmin {
		admin := mux.NewRouter()
		admin.HandleFunc("/healthz", health.Liveness).Methods(http.MethodGet)
		admin.HandleFunc("/readyz", health.Readiness).Methods(http.MethodGet)
		admin.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
		adminServer := &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
			Handler:           admin,
			ReadHeaderTimeout: 5 * time.Second,
		}
		shutdown.Register("admin server", adminServer.Shutdown)
		async.SafeGo(ctx, 0, "admin-server", func(context.Context) error {
			logger.WithField("addr", adminServer.Addr).Info("Admin server listening")
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if path := os.Getenv(config.FileEnv); path != "" {
		async.SafeGo(ctx, 0, "config-watch", func(ctx context.Context) error {
			return config.Watch(ctx, path, logger, config.LogLevelReloader(logger))
		})
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("gymcore listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			_ = shutdown.Shutdown()
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		return shutdown.Wait(ctx)
	}
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*storage.ConnectionManager, error) {
	conns, err := storage.NewConnectionManager(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	for _, err := range conns.ReplicaErrors() {
		logger.WithError(err).Warn("Read replica unavailable, using primary")
	}
	if cfg.Storage.AutoMigrate {
		if err := storage.Migrate(ctx, conns.Primary(), conns.Dialect()); err != nil {
			conns.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("Database schema up to date")
	}
	return conns, nil
}

func newArchiver(ctx context.Context, cfg *config.Config, store *audit.SQLStore, metrics *observability.Metrics, logger *observability.Logger) (*archive.Archiver, error) {
	if !cfg.Storage.S3Enabled() {
		return nil, errors.New("archive is enabled but no S3 bucket is configured")
	}
	s3, err := storage.NewS3Client(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	if err := s3.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare bucket %s: %w", s3.Bucket(), err)
	}
	return archive.New(store, s3, archive.Config{
		Prefix:      cfg.Archive.Prefix,
		Window:      cfg.Archive.Window,
		Concurrency: cfg.Archive.Concurrency,
	}, archive.WithMetrics(metrics), archive.WithLogger(logger)), nil
}

func newArchiveScheduler(ctx context.Context, cfg *config.Config, store *audit.SQLStore, metrics *observability.Metrics, logger *observability.Logger) (*archive.Scheduler, error) {
	archiver, err := newArchiver(ctx, cfg, store, metrics, logger)
	if err != nil {
		return nil, err
	}
	return archive.NewScheduler(archiver, cfg.Archive.Schedule, time.Hour)
}

// runArchiveOnce backfills or re-runs a single archive window.
func runArchiveOnce(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	conns, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer conns.Close()

	metrics := observability.NewNopMetrics()
	archiver, err := newArchiver(ctx, cfg, audit.NewSQLStore(conns, metrics), metrics, logger)
	if err != nil {
		return err
	}

	var res *archive.Result
	if *archiveDate == "" {
		res, err = archiver.RunOnce(ctx)
	} else {
		day, perr := time.Parse("2006-01-02", *archiveDate)
		if perr != nil {
			return fmt.Errorf("invalid --archive-date: %w", perr)
		}
		res, err = archiver.Run(ctx, day, day.Add(cfg.Archive.Window))
	}
	if res != nil {
		logger.WithFields(map[string]interface{}{
			"objects": len(res.Objects),
			"entries": res.Entries,
			"failed":  len(res.Failed),
		}).Info("Audit archive finished")
	}
	return err
}
