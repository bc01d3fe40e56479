package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/pnp-exchange/mentions-bot/internal/api"
	"github.com/pnp-exchange/mentions-bot/internal/config"
	"github.com/pnp-exchange/mentions-bot/internal/db"
	"github.com/pnp-exchange/mentions-bot/internal/monitoring"
	"github.com/pnp-exchange/mentions-bot/internal/notifications"
	"github.com/pnp-exchange/mentions-bot/internal/scheduler"
	"github.com/pnp-exchange/mentions-bot/internal/sources"
	"github.com/pnp-exchange/mentions-bot/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Infof("Starting mentions bot for @%s", cfg.TargetAccount)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Persistence
	var (
		sink storage.Sink
		rows api.RowStore
	)
	switch cfg.Sink {
	case config.SinkStore:
		pool, err := db.NewPostgresPool(context.Background(), cfg.StoreURL, cfg.StoreKey)
		if err != nil {
			logrus.Fatalf("Failed to connect to store: %v", err)
		}
		defer pool.Close()

		store := mustStore(ctx, pool)
		sink, rows = store, store
		logrus.Info("Persisting mentions to the relational store")
	default:
		backend := mustDocumentBackend(ctx, cfg)
		sink = storage.NewDocumentSink(backend, cfg.OutputFile)
		logrus.Infof("Persisting mentions to %s (%s backend)", cfg.OutputFile, cfg.DocumentBackend)
	}

	// Watermark
	var watermark monitoring.Watermark = monitoring.NewMemoryWatermark()
	if cfg.WatermarkRedisURL != "" {
		client, err := db.NewRedisClient(ctx, cfg.WatermarkRedisURL)
		if err != nil {
			logrus.Fatalf("Failed to connect to watermark redis: %v", err)
		}
		defer closeRedis(client)
		watermark = monitoring.NewRedisWatermark(client, cfg.TargetAccount)
		logrus.Info("Using durable watermark")
	}

	// Notifications are optional
	var notifier notifications.NotificationInterface
	if ns := notifications.NewService(cfg); ns.IsEnabled() {
		notifier = ns
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(registry)

	// Initialize monitoring service
	client := sources.NewTwitterClient(cfg.TwitterBearerToken)
	monitoringService := monitoring.NewService(cfg, client, sink, watermark, notifier, metrics)

	// Initialize scheduler
	schedulerService := scheduler.NewService(cfg, monitoringService)
	schedulerService.Prime()

	// Start scheduler
	if err := schedulerService.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	defer schedulerService.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      api.NewRouter(monitoringService, rows, registry),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}

func mustStore(ctx context.Context, pool *pgxpool.Pool) *storage.PostgresStore {
	store, err := storage.NewPostgresStore(pool)
	if err != nil {
		logrus.Fatalf("Failed to initialize store: %v", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		logrus.Fatalf("Failed to prepare store schema: %v", err)
	}
	return store
}

func mustDocumentBackend(ctx context.Context, cfg *config.Config) storage.StorageInterface {
	if cfg.DocumentBackend != config.BackendAzure {
		return storage.NewLocalStorage("")
	}

	azureStorage, err := storage.NewAzureStorage(ctx, cfg.StorageAccount, cfg.StorageContainer)
	if err != nil {
		logrus.Fatalf("Failed to initialize storage: %v", err)
	}
	return azureStorage
}

func closeRedis(client *redis.Client) {
	if err := client.Close(); err != nil {
		logrus.Warnf("Failed to close redis client: %v", err)
	}
}
