// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"deltasync/internal/domain/migrationlog"
	"deltasync/internal/domain/scheduler"
	"deltasync/internal/infrastructure/http/v1/handlers"
	"deltasync/internal/infrastructure/http/v1/middleware"
	"deltasync/internal/infrastructure/storage/postgres"
	"deltasync/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Scheduler coordinates differential analysis runs
	Scheduler *scheduler.Scheduler

	// LogService merges durable and file-based migration logs
	LogService *migrationlog.Service

	// Pool is the database connection (for health checks); may be nil
	Pool *postgres.Pool

	// Logger for request logging
	Logger *logger.Logger

	// TokenValidator guards the migration endpoints; nil disables auth
	TokenValidator middleware.TokenValidator
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints (no auth)
	healthHandler := handlers.NewHealthHandler(cfg.Pool)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	differentialHandler := handlers.NewDifferentialHandler(cfg.Scheduler)
	logsHandler := handlers.NewLogsHandler(cfg.LogService)

	api := router.Group("/api/migration")
	{
		differential := api.Group("/differential")
		differential.Use(middleware.Auth(cfg.TokenValidator))
		{
			differential.POST("", differentialHandler.Analyze)
			differential.GET("/queue", differentialHandler.Queue)
			differential.GET("/:analysisId/status", differentialHandler.Status)
		}

		logs := api.Group("/logs")
		logs.Use(middleware.LogAccess(cfg.TokenValidator))
		{
			logs.GET("/:sessionId", logsHandler.Get)
		}
	}

	return router
}
