// Package main is the entry point for the deltasync apply worker: it detects
// changes for the configured entities and writes them through to the
// destination, checkpointed per batch so an interrupted run resumes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"deltasync/internal/core/appctx"
	"deltasync/internal/domain/conflict"
	"deltasync/internal/domain/detection"
	"deltasync/internal/domain/migrationlog"
	"deltasync/internal/domain/syncer"
	"deltasync/internal/infrastructure/logfile"
	"deltasync/internal/infrastructure/storage/postgres"
	"deltasync/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel the run on SIGINT/SIGTERM; the checkpoint store keeps the
	// position for the next run.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("interrupt received, stopping after the current batch")
		cancel()
	}()

	log.Info("starting deltasync apply worker")

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(mustEnv("DATABASE_URL")))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	registry := postgres.DefaultRegistry()

	logDir := getEnv("LOG_FILES_DIR", "./logs")
	sink := logfile.NewSink(logDir,
		getEnvInt("LOG_FILE_MAX_SIZE_MB", 100),
		getEnvInt("LOG_FILE_MAX_BACKUPS", 10))
	defer sink.Close()
	recorder := migrationlog.NewRecorder(postgres.NewLogRepo(pool.Pool), sink)

	detector := detection.NewService(postgres.NewDetectionRepo(pool.Pool, registry), recorder, detection.Config{
		QueryTimeout: getEnvDuration("QUERY_TIMEOUT", 30*time.Second),
		MaxParallel:  getEnvInt("MAX_PARALLEL_ENTITIES", 4),
	})

	applier := syncer.New(
		conflict.NewSourceWins(),
		postgres.NewDestinationWriter(pool.Pool, registry),
		postgres.NewCheckpointRepo(pool.Pool),
		postgres.NewBatchRepo(pool.Pool),
		recorder,
		syncer.Config{BatchSize: getEnvInt("APPLY_BATCH_SIZE", 500)},
	)

	since, err := detection.ParseBaseline(mustEnv("SYNC_SINCE"))
	if err != nil {
		log.Fatalw("invalid SYNC_SINCE", "error", err)
	}

	entities := splitList(getEnv("SYNC_ENTITIES", strings.Join(registry.EntityTypes(), ",")))
	includeDeletes := getEnv("SYNC_INCLUDE_DELETES", "false") == "true"

	sessionID := getEnv("SYNC_SESSION_ID", "session-"+uuid.NewString())
	ctx = appctx.WithSession(ctx, &appctx.SessionContext{SessionID: sessionID})
	log.Infow("apply run starting", "session_id", sessionID, "entities", entities, "since", since)

	opts := detection.Options{
		IncludeDeletes:       includeDeletes,
		EnableContentHashing: getEnv("SYNC_CONTENT_HASHING", "true") == "true",
		BatchSize:            getEnvInt("SYNC_DETECT_BATCH_SIZE", 0),
	}

	failed := 0
	for _, outcome := range detector.BatchDetectChanges(ctx, entities, since, opts) {
		if outcome.Err != nil {
			log.Errorw("detection failed", "entity_type", outcome.EntityType, "error", outcome.Err)
			failed++
			continue
		}

		result, err := applier.Apply(ctx, sessionID, outcome.Result, includeDeletes)
		if err != nil {
			log.Errorw("apply failed", "entity_type", outcome.EntityType, "error", err)
			failed++
			continue
		}
		log.Infow("entity applied",
			"entity_type", outcome.EntityType,
			"applied", result.Applied,
			"deleted", result.Deleted,
			"skipped", result.Skipped,
			"batches", result.Batches,
			"resumed", result.Resumed,
		)
	}

	if failed > 0 {
		log.Fatalw("apply run finished with failures", "failed_entities", failed)
	}
	log.Info("apply run completed")
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
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
