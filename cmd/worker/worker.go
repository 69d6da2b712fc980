// Command worker drains the ingestion queue once and exits. Run it while no
// API server is processing jobs: it fails RUNNING jobs as interrupted first.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rag-knowledge-platform/internal/app"
	"rag-knowledge-platform/internal/config"
	"rag-knowledge-platform/internal/logger"
	"rag-knowledge-platform/internal/telemetry"
)

func main() {
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger.L(), app.Options{})
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}

	code := 0
	if n, err := a.Ingestion.RecoverInterrupted(ctx); err != nil {
		logger.Error("Failed to recover interrupted jobs", "error", err)
		code = 1
	} else if n > 0 {
		logger.Warn("Marked interrupted jobs as failed", "count", n)
	}

	started := time.Now()
	logger.Info("Draining ingestion queue")
	if err := a.Ingestion.Drain(ctx); err != nil {
		// interrupted: let the in-flight job finish before exiting
		logger.Warn("Drain interrupted, waiting for the current job", "error", err)
		waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if err := a.Ingestion.Scheduler().Shutdown(waitCtx); err != nil {
			logger.Error("Job still running at exit", "error", err)
		}
		cancel()
		code = 1
	} else {
		logger.Info("Ingestion queue drained", "duration_ms", time.Since(started).Milliseconds())
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		logger.Error("Failed to release resources", "error", err)
	}
	shutdownTracer(closeCtx)
	os.Exit(code)
}
