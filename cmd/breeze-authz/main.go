// Command breeze-authz serves permission checks and row scopes over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/breezeboot/breeze/pkg/auth"
	"github.com/breezeboot/breeze/pkg/authz"
	"github.com/breezeboot/breeze/pkg/config"
	"github.com/breezeboot/breeze/pkg/dept"
	"github.com/breezeboot/breeze/pkg/middleware"
	"github.com/breezeboot/breeze/pkg/observability"
	"github.com/breezeboot/breeze/pkg/permcache"
	"github.com/breezeboot/breeze/pkg/rbac"
	"github.com/breezeboot/breeze/pkg/rowperm"
)

var version = "dev"

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "Apply database migrations and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "breeze-authz: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(context.Background(), cfg, logger, *migrateOnly); err != nil {
		logger.WithError(err).Fatal("breeze-authz stopped")
	}
}

// loader is what the resolver and the hierarchy provider read from
type loader interface {
	rbac.Loader
	dept.Loader
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, migrateOnly bool) error {
	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var db *sql.DB
	var data loader
	var admin adminStore
	if cfg.Database.URL != "" {
		db, err = openDatabase(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		registry.MustRegister(collectors.NewDBStatsCollector(db, "breeze"))
		store := rbac.NewStore(db)
		data, admin = store, store
	} else {
		if migrateOnly {
			return errors.New("migrations require BREEZE_DATABASE_URL")
		}
		logger.Warn("BREEZE_DATABASE_URL not set, serving from an empty in-memory loader")
		data = rbac.NewMemoryLoader()
	}
	if migrateOnly {
		return nil
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = permcache.NewRedisClient(ctx, permcache.RedisOptions{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
	}

	resolver := rbac.NewResolver(data, logger, cfg.Database.LoadTimeout)
	provider := dept.NewProvider(data, logger, cfg.Database.LoadTimeout)
	if _, err := provider.Rebuild(ctx); err != nil {
		return fmt.Errorf("failed to load department hierarchy: %w", err)
	}
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "breeze_departments",
		Help: "Departments in the hierarchy in service",
	}, func() float64 { return float64(provider.Current().Len()) }))

	engine := rowperm.NewEngine(rowperm.Options{
		OwnerColumn:      cfg.Authz.OwnerColumn,
		DepartmentColumn: cfg.Authz.DepartmentColumn,
		AllowedFields:    cfg.Authz.AllowedFields,
	}, logger)

	cache := permcache.New(authz.NewBuilder(resolver, provider, engine, logger),
		cacheOptions(cfg.Cache, redisClient, registry, logger), logger)
	stopListening, err := cache.ListenRemote(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}

	authorizer := authz.New(cache, resolver, provider, authz.Options{
		AdminCode:          cfg.Authz.AdminCode,
		DisableAdminBypass: cfg.Authz.DisableAdminBypass,
	}, logger)

	refresher, err := authz.NewRefresher(authorizer, cfg.Authz.RefreshSchedule, cfg.Authz.RefreshTimeout, logger)
	if err != nil {
		return err
	}
	refresher.Start()

	var sessions auth.SessionStore
	var limiter middleware.Limiter
	if redisClient != nil {
		sessions = auth.NewRedisSessionStore(redisClient, cfg.Redis.SessionTTL)
		limiter = middleware.NewDistributedRateLimiter(redisClient, nil, "")
	} else {
		sessions = auth.NewMemorySessionStore(cfg.Redis.SessionTTL)
		memLimiter := middleware.NewRateLimiter(nil)
		memLimiter.StartCleanup(ctx)
		limiter = memLimiter
	}

	health := observability.NewHealthChecker(db, redisClient, version)
	health.AddCheck("departments", true, func(context.Context) error {
		if provider.Current() == nil {
			return errors.New("hierarchy not loaded")
		}
		return nil
	})

	srv := &server{
		authorizer: authorizer,
		provider:   provider,
		sessions:   sessions,
		limiter:    limiter,
		audit:      auth.NewAuditLogger(logger),
		metrics:    observability.NewMetrics(registry),
		logger:     logger.WithField("component", "api"),
		admin:      admin,
		fields:     rowperm.NewFieldSet(cfg.Authz.AllowedFields...),
	}
	router := newRouter(srv, health, registry, cfg.Observability.MetricsEnabled, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(router, "breeze-authz"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		select {
		case <-refresher.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error { return stopListening() })
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp, logger)
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{"addr": httpServer.Addr, "version": version}).Info("breeze-authz listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var listenErr error
	go func() {
		if err := <-serveErr; err != nil {
			listenErr = err
			cancel()
		}
	}()

	if err := shutdown.WaitForShutdown(waitCtx); err != nil {
		return err
	}
	if listenErr != nil {
		return fmt.Errorf("HTTP server failed: %w", listenErr)
	}
	return nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, logger logrus.FieldLogger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.Migrate {
		if err := rbac.RunMigrations(ctx, db, logger); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func cacheOptions(cfg config.CacheConfig, client *redis.Client, reg prometheus.Registerer, logger logrus.FieldLogger) permcache.Options {
	opts := permcache.Options{
		BuildTimeout: cfg.BuildTimeout,
		Metrics:      permcache.NewMetrics(reg),
	}
	if cfg.Storage == "redis" && client != nil {
		opts.Storage = permcache.NewRedisStorage(client, cfg.KeyPrefix, cfg.TTL)
	} else {
		opts.Storage = permcache.NewMemoryStorage(cfg.MaxEntries, cfg.TTL)
	}
	if cfg.Broadcast && client != nil {
		opts.Broadcaster = permcache.NewBroadcaster(client, cfg.Channel, logger)
	}
	return opts
}

func newRouter(srv *server, health *observability.HealthChecker, gatherer prometheus.Gatherer, metricsEnabled bool, logger logrus.FieldLogger) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestID(logger), middleware.Recovery(logger))
	if metricsEnabled {
		router.Use(observability.HTTPMetricsMiddleware(srv.metrics))
		observability.RegisterMetricsEndpoint(router, gatherer)
	}
	observability.RegisterHealthRoutes(router, health)
	srv.routes(router)
	return router
}
