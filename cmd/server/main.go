// Package main is the entry point for the deltasync API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"deltasync/internal/core/auth"
	"deltasync/internal/domain/detection"
	"deltasync/internal/domain/migrationlog"
	"deltasync/internal/domain/scheduler"
	v1 "deltasync/internal/infrastructure/http/v1"
	"deltasync/internal/infrastructure/http/v1/middleware"
	"deltasync/internal/infrastructure/logfile"
	"deltasync/internal/infrastructure/storage/postgres"
	"deltasync/pkg/logger"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	log.Info("starting deltasync server")

	// --- Database connection ---
	dsn := mustEnv("DATABASE_URL")
	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(dsn))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	registry := postgres.DefaultRegistry()

	// --- Migration log repository ---
	logDir := getEnv("LOG_FILES_DIR", "./logs")
	logStore := postgres.NewLogRepo(pool.Pool)
	fileBackend := logfile.NewBackend(logDir)
	sink := logfile.NewSink(logDir,
		getEnvInt("LOG_FILE_MAX_SIZE_MB", 100),
		getEnvInt("LOG_FILE_MAX_BACKUPS", 10))
	defer sink.Close()

	recorder := migrationlog.NewRecorder(logStore, sink)
	logService := migrationlog.NewService(logStore, fileBackend,
		getEnvInt("LOG_MAX_DOWNLOAD", 50_000))

	// --- Detection ---
	detectionRepo := postgres.NewDetectionRepo(pool.Pool, registry)
	detector := detection.NewService(detectionRepo, recorder, detection.Config{
		QueryTimeout: getEnvDuration("QUERY_TIMEOUT", 30*time.Second),
		MaxParallel:  getEnvInt("MAX_PARALLEL_ENTITIES", 4),
	})

	// --- Scheduler ---
	sched := scheduler.New(detector, scheduler.Config{
		MaxConcurrent:  getEnvInt("SCHEDULER_MAX_CONCURRENT", 2),
		AsyncThreshold: getEnvInt("SCHEDULER_ASYNC_THRESHOLD", 3),
		QueueCapacity:  getEnvInt("SCHEDULER_QUEUE_CAPACITY", 64),
	})
	workerCtx, stopWorkers := context.WithCancel(ctx)
	sched.Start(workerCtx)

	// --- Access guard ---
	var validator middleware.TokenValidator
	if secret := os.Getenv("API_AUTH_SECRET"); secret != "" {
		validator = auth.NewJWTService(auth.DefaultJWTConfig(secret))
		log.Info("api access guard enabled")
	} else {
		log.Warn("API_AUTH_SECRET not set, api access guard disabled")
	}

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Scheduler:      sched,
		LogService:     logService,
		Pool:           pool,
		Logger:         log,
		TokenValidator: validator,
	})

	// --- HTTP Server ---
	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	stopWorkers()
	sched.Wait()

	log.Info("server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s is not set\n", key)
		os.Exit(1)
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
