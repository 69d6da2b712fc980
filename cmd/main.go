package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rag-knowledge-platform/internal/app"
	"rag-knowledge-platform/internal/config"
	"rag-knowledge-platform/internal/logger"
	"rag-knowledge-platform/internal/queue"
	"rag-knowledge-platform/internal/telemetry"
	"rag-knowledge-platform/middleware"
	"rag-knowledge-platform/routes"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger.InitLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer(cfg)
	if err != nil {
		logger.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger.L(), app.Options{WithRedis: true})
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Jobs left RUNNING by a previous process can never finish.
	if n, err := a.Ingestion.RecoverInterrupted(ctx); err != nil {
		logger.Error("Failed to recover interrupted jobs", "error", err)
	} else if n > 0 {
		logger.Warn("Marked interrupted jobs as failed", "count", n)
	}
	a.Ingestion.Scheduler().Kick()

	sweeper, err := queue.NewSweeper(cfg.IngestSweepInterval, a.Ingestion.Scheduler().Kick)
	if err != nil {
		logger.Error("Failed to create ingestion sweeper", "error", err)
		os.Exit(1)
	}
	sweeper.Start()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	var limiter middleware.Limiter = middleware.NewMemoryLimiter()
	if a.Redis != nil {
		limiter = middleware.NewRedisLimiter(a.Redis)
	} else {
		logger.Info("REDIS_URL not set; rate limiting is per process")
	}

	router := routes.NewRouter(routes.Deps{
		Config:    cfg,
		Auth:      middleware.NewAuthMiddleware(a.Issuer),
		Limiter:   limiter,
		Ingestion: a.Ingestion,
		Chat:      a.Chat,
		Providers: a.Providers,
		Audit:     a.Audit,
		Health:    a.Gateway,
		Vectors:   a.Vectors,
		Logger:    logger.L(),
		Metrics:   a.Metrics,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port, "store", cfg.StoreBackend, "vectors", cfg.QdrantTransport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	sweeper.Stop()
	if err := a.Ingestion.Scheduler().Shutdown(shutdownCtx); err != nil {
		logger.Warn("Ingestion job still running at shutdown", "error", err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("Failed to release resources", "error", err)
	}
	shutdownTracer(shutdownCtx)

	logger.Info("Server exited")
}
