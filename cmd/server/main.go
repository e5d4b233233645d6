package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asakaida/relmanager/internal/handlers"
	"github.com/asakaida/relmanager/internal/infrastructure/config"
	"github.com/asakaida/relmanager/internal/infrastructure/database"
	"github.com/asakaida/relmanager/internal/infrastructure/logging"
	"github.com/asakaida/relmanager/internal/infrastructure/metrics"
	"github.com/asakaida/relmanager/internal/infrastructure/telemetry"
	"github.com/asakaida/relmanager/internal/repositories/memory"
	"github.com/asakaida/relmanager/internal/repositories/postgres"
	"github.com/asakaida/relmanager/internal/services"
	"github.com/asakaida/relmanager/internal/services/relation"
	"github.com/asakaida/relmanager/internal/services/view"
	"github.com/asakaida/relmanager/internal/services/widgets"
	"github.com/asakaida/relmanager/pkg/cache/memorycache"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	defaultEnv = "dev"

	metricsUpdateInterval = 15 * time.Second
	cleanupInterval       = time.Hour
	shutdownTimeout       = 30 * time.Second
)

func main() {
	// Get environment from ENV variable or use default
	env := os.Getenv("ENV")
	if env == "" {
		env = defaultEnv
	}

	// Initialize configuration
	if err := config.InitConfig(env); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TraceExporter)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	repos, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Widget state and relation definitions share one memory cache
	var stateCache *memorycache.Cache
	if cfg.Cache.Enabled {
		stateCache, err = memorycache.New(&memorycache.Config{
			MaxSizeBytes:  cfg.Cache.MaxMemoryBytes,
			DefaultTTL:    time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
			EnableMetrics: cfg.Cache.Metrics,
		})
		if err != nil {
			return fmt.Errorf("failed to create cache: %w", err)
		}
		defer stateCache.Close()
		logger.Info("Widget state cache enabled",
			zap.Int64("max_memory_bytes", cfg.Cache.MaxMemoryBytes),
			zap.Int("ttl_minutes", cfg.Cache.TTLMinutes))
	}

	var definitions *relation.ConfigResolver
	if stateCache != nil {
		definitions, err = relation.LoadConfigFile(cfg.Relations.Path, stateCache)
	} else {
		definitions, err = relation.LoadConfigFile(cfg.Relations.Path, nil)
	}
	if err != nil {
		return err
	}
	logger.Info("Loaded relation config", zap.String("path", cfg.Relations.Path))

	engine, err := view.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	binder := relation.NewBinder(repos, definitions, logger.Named("deferred"))
	opts := []relation.Option{
		relation.WithLogger(logger.Named("relation")),
		relation.WithTracer(telemetry.Tracer()),
		relation.WithScopes(relation.NewScopeRegistry()),
	}
	if stateCache != nil {
		opts = append(opts, relation.WithWidgetState(widgets.NewStateStore(stateCache, 0)))
	}
	controller := relation.NewController(definitions, repos, binder, engine, opts...)
	recordService := services.NewRecordService(controller, repos, binder, engine, logger.Named("records"))

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector()
	if stateCache != nil {
		collector.SetCache(stateCache)
	}
	exporter := metrics.NewPrometheusExporter(collector, registry)

	// Ajax HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), metrics.GinMiddleware(collector, exporter))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	handlers.NewRelationHandler(controller, collector, exporter, logger.Named("http")).Register(router)
	handlers.NewRecordHandler(recordService, logger.Named("http")).Register(router)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// gRPC health server
	healthServer := health.NewServer()
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(metrics.UnaryServerInterceptor(collector, exporter)))
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	// Start servers
	serverErrors := make(chan error, 3)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	go func() {
		logger.Info("Metrics server listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("metrics server error: %w", err)
		}
	}()
	go func() {
		logger.Info("gRPC health server listening", zap.Int("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(listener); err != nil {
			serverErrors <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go runPeriodic(ctx, metricsUpdateInterval, exporter.Update)
	go runPeriodic(ctx, cleanupInterval, func() {
		n, err := binder.CleanUp(ctx, time.Now().Add(-cfg.Relations.DeferredBindingTTL()))
		if err != nil {
			logger.Warn("Deferred binding cleanup failed", zap.Error(err))
			return
		}
		exporter.RecordBindingsCleaned(n)
		if n > 0 {
			logger.Info("Cleaned up deferred bindings", zap.Int("count", n))
		}
	})

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case serveErr = <-serverErrors:
	case <-ctx.Done():
		logger.Info("Initiating graceful shutdown...")
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown failed", zap.Error(err))
	}

	// Channel to notify when graceful stop completes
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		logger.Info("Server stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded, forcing stop")
		grpcServer.Stop()
	}

	return serveErr
}

// openStore builds the repositories of the configured storage driver.
func openStore(cfg *config.Config, logger *zap.Logger) (relation.Repositories, func(), error) {
	if cfg.Storage.Driver == config.StorageDriverMemory {
		logger.Warn("Using in-memory storage; data is lost on restart")
		store := memory.NewStore()
		return relation.Repositories{
			Records:  store.Records(),
			Pivots:   store.Pivots(),
			Bindings: store.DeferredBindings(),
			Tx:       store,
		}, func() {}, nil
	}

	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		return relation.Repositories{}, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("Connected to database",
		zap.String("user", cfg.Database.User),
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Database))

	return relation.Repositories{
			Records:  postgres.NewPostgresRecordRepository(pg.DB),
			Pivots:   postgres.NewPostgresPivotRepository(pg.DB),
			Bindings: postgres.NewPostgresDeferredBindingRepository(pg.DB),
			Tx:       postgres.NewPostgresTransactor(pg.DB),
		}, func() {
			if err := pg.Close(); err != nil {
				logger.Warn("Error closing database connection", zap.Error(err))
			}
		}, nil
}

func runPeriodic(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
