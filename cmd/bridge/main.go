package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bozzfozz/soulspot-bridge-sub006/internal/scheduler"
	"github.com/bozzfozz/soulspot-bridge-sub006/internal/service"
	"github.com/bozzfozz/soulspot-bridge-sub006/internal/soulseek"
	"github.com/bozzfozz/soulspot-bridge-sub006/internal/store"
)

func main() {
	var (
		workers         = flag.Int("workers", scheduler.DefaultWorkers, "Number of worker goroutines")
		maxConcurrent   = flag.Int("max-concurrent", scheduler.DefaultMaxConcurrent, "Maximum simultaneous downloads")
		maxRetries      = flag.Int("max-retries", scheduler.DefaultMaxRetries, "Retries per candidate before falling back")
		downloadTimeout = flag.Duration("download-timeout", scheduler.DefaultDownloadTimeout, "Per-attempt download timeout")
		logLevel        = flag.String("log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
		port            = flag.String("port", getEnv("PORT", "8080"), "API server port")
	)
	flag.Parse()

	// Load environment variables
	if os.Getenv("DEBUG") == "true" {
		err := godotenv.Load("../../.env")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: .env file not found. Using system environment variables.\n")
		}
	}

	// Setup logger
	logger, err := setupLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Initialize package loggers
	soulseek.InitializeLogger(logger)
	service.InitializeLogger(logger)

	logger.Info("Starting SoulSpot bridge",
		zap.Int("workers", *workers),
		zap.Int("maxConcurrent", *maxConcurrent),
		zap.String("logLevel", *logLevel),
		zap.String("port", *port))

	slskdURL := os.Getenv("SLSKD_URL")
	if slskdURL == "" {
		logger.Fatal("SLSKD_URL is required")
	}
	client := soulseek.NewSlskdClient(slskdURL, os.Getenv("SLSKD_API_KEY"))

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional write-through persistence
	var jobStore store.Store = store.Noop{}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pg, err := store.NewPostgres(ctx, dsn)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer pg.Close()
		jobStore = pg
		logger.Info("Job persistence enabled")
	}

	sched, err := scheduler.New(scheduler.Config{
		Workers:         *workers,
		MaxConcurrent:   *maxConcurrent,
		MaxRetries:      *maxRetries,
		DownloadTimeout: *downloadTimeout,
		Client:          client,
		Store:           jobStore,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Failed to create scheduler", zap.Error(err))
	}
	sched.Start(ctx)

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	service.NewAPI(sched).Register(router)

	server := &http.Server{
		Addr:    ":" + *port,
		Handler: router,
	}
	go func() {
		logger.Info("API server starting", zap.String("port", *port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to run API server", zap.Error(err))
		}
	}()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown error", zap.Error(err))
	}

	cancel()
	sched.Wait()
	logger.Info("Bridge shutdown complete")
}

func setupLogger(level string) (*zap.Logger, error) {
	var config zap.Config

	if level == "debug" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return config.Build()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
