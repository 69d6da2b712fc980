package routes

import (
	"context"
	"log/slog"
	"net/http"

	"rag-knowledge-platform/internal/ai"
	"rag-knowledge-platform/internal/config"
	"rag-knowledge-platform/internal/telemetry"
	"rag-knowledge-platform/middleware"
	"rag-knowledge-platform/services"
	"rag-knowledge-platform/utils"

	"github.com/gin-gonic/gin"
)

// HealthChecker probes providers and the vector store.
type HealthChecker interface {
	HealthCheck(ctx context.Context, deep bool, vectors ai.Pinger) ai.HealthReport
}

// Deps carries everything the HTTP layer needs.
type Deps struct {
	Config    *config.Config
	Auth      *middleware.AuthMiddleware
	Limiter   middleware.Limiter
	Ingestion *services.IngestionService
	Chat      *services.ChatService
	Providers *services.ProviderConfigService
	Audit     *services.AuditLogger
	Health    HealthChecker
	Vectors   ai.Pinger
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
}

// NewRouter builds the gin engine with the middleware chain and every route.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Limiter == nil {
		d.Limiter = middleware.NewMemoryLimiter()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	if d.Config.OTelEnabled {
		router.Use(middleware.TracingMiddleware(d.Config.OTelServiceName))
		router.Use(middleware.EnrichTrace())
	}
	router.Use(middleware.MetricsMiddleware(d.Metrics))
	router.Use(middleware.RequestLogger(d.Logger))
	router.Use(middleware.CORSMiddleware(d.Config.CORSOrigins))

	router.NoRoute(func(c *gin.Context) {
		utils.RespondWithNotFound(c, "Route not found")
	})

	api := router.Group("/api")
	SetupSystemRoutes(api, d)

	authed := api.Group("")
	authed.Use(d.Auth.RequireAuth())
	SetupProviderRoutes(authed, d)
	SetupDocumentRoutes(authed, d)
	SetupChatRoutes(authed, d)
	SetupAuditRoutes(authed, d)

	return router
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "invalid_input", "Invalid request data", gin.H{"error": err.Error()})
		return false
	}
	return true
}

// auditor avoids handing a typed nil to the audit middleware.
func (d Deps) auditor() middleware.AuditRecorder {
	if d.Audit == nil {
		return nil
	}
	return d.Audit
}
