// Package app assembles the services from configuration. The API server,
// the one-shot worker and the operator CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"rag-knowledge-platform/internal/ai"
	"rag-knowledge-platform/internal/auth"
	"rag-knowledge-platform/internal/config"
	"rag-knowledge-platform/internal/database"
	"rag-knowledge-platform/internal/telemetry"
	"rag-knowledge-platform/internal/vectorstore"
	"rag-knowledge-platform/internal/vectorstore/memory"
	"rag-knowledge-platform/internal/vectorstore/qdrant"
	"rag-knowledge-platform/services"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
	Store     database.Store
	Redis     *redis.Client
	Files     services.FileStorage
	Vectors   vectorstore.Store
	Gateway   *ai.Gateway
	Providers *services.ProviderConfigService
	Ingestion *services.IngestionService
	Query     *services.QueryService
	Chat      *services.ChatService
	Audit     *services.AuditLogger
	Issuer    *auth.Issuer

	closers []func(context.Context) error
}

// Options selects optional infrastructure. The worker and CLI skip Redis.
type Options struct {
	WithRedis bool
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	a.Metrics = metrics

	if err := a.openStore(); err != nil {
		return nil, err
	}

	if opts.WithRedis {
		rdb, err := config.NewRedisClient(cfg)
		if err != nil {
			return nil, err
		}
		if rdb != nil {
			a.Redis = rdb
			a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		}
	}

	files, err := services.NewFileStorage(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("file storage: %w", err)
	}
	a.Files = files

	if err := a.openVectors(); err != nil {
		return nil, err
	}

	seed, err := config.LoadProvidersSeed(cfg.ProvidersFile)
	if err != nil {
		return nil, err
	}
	defaults, err := services.DefaultProviderConfig(cfg, seed)
	if err != nil {
		return nil, fmt.Errorf("provider defaults: %w", err)
	}
	a.Providers = services.NewProviderConfigService(a.Store, defaults, logger)

	a.Gateway = ai.NewGateway(ai.Options{
		Local: ai.NewLocalBackend(ai.LocalConfig{
			Host:       cfg.OllamaHost,
			ChatModel:  cfg.OllamaChatModel,
			EmbedModel: cfg.OllamaEmbedModel,
			Timeout:    cfg.LocalTimeout,
		}),
		Remotes: []ai.RemoteBackend{
			ai.NewHuggingFaceBackend(cfg.HFChatEndpoint, cfg.HFEmbedEndpoint, &http.Client{}),
			ai.NewGeminiBackend(),
		},
		Providers:               a.Providers,
		RemoteTimeout:           cfg.RemoteTimeout,
		RetryBackoff:            cfg.RemoteRetryBackoff,
		RemoteRequestsPerMinute: cfg.RemoteRequestsPerMinute,
		Logger:                  logger,
		Metrics:                 metrics,
	})

	a.Ingestion = services.NewIngestionService(services.IngestionOptions{
		Store:        a.Store,
		Files:        a.Files,
		Extractor:    services.NewExtractor(cfg.MaxFileSize),
		Embedder:     a.Gateway,
		Vectors:      a.Vectors,
		Providers:    a.Providers,
		ChunkSize:    cfg.ChunkSizeChars,
		ChunkOverlap: cfg.ChunkOverlapChars,
		MaxFileSize:  cfg.MaxFileSize,
		Logger:       logger,
		Metrics:      metrics,
	})

	a.Query = services.NewQueryService(services.QueryOptions{
		Embedder:  a.Gateway,
		Generator: a.Gateway,
		Vectors:   a.Vectors,
		Providers: a.Providers,
		Config: services.QueryConfig{
			Candidates:       cfg.RAGCandidates,
			MaxCitations:     cfg.RAGMaxCitations,
			ContextMaxChars:  cfg.RAGContextMaxChars,
			MinAnswerability: cfg.RAGMinAnswerability,
			VectorWeight:     cfg.RAGVectorWeight,
			LexicalWeight:    cfg.RAGLexicalWeight,
			SnippetChars:     cfg.RAGSnippetChars,
		},
		Logger:  logger,
		Metrics: metrics,
	})
	a.Chat = services.NewChatService(a.Store, a.Query, logger)

	a.Audit = services.NewAuditLogger(a.Store, logger, metrics)
	a.closers = append(a.closers, func(context.Context) error { a.Audit.Close(); return nil })

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTExpiresIn, a.Redis)
	if err != nil {
		return nil, err
	}
	a.Issuer = issuer

	ok = true
	return a, nil
}

func (a *App) openStore() error {
	if a.Config.StoreBackend == "memory" {
		a.Logger.Warn("Using in-memory store; data is lost on exit")
		a.Store = database.NewMemoryStore()
		return nil
	}
	client, err := config.ConnectMongoDB(a.Config)
	if err != nil {
		return err
	}
	store := database.NewMongoStore(client, a.Config.DBName)
	a.Store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

func (a *App) openVectors() error {
	cfg := a.Config
	qcfg := qdrant.Config{
		URL:        cfg.QdrantURL,
		GRPCAddr:   cfg.QdrantGRPCAddr,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
		Timeout:    cfg.VectorTimeout,
	}
	switch cfg.QdrantTransport {
	case "memory":
		a.Logger.Warn("Using in-memory vector index; vectors are lost on exit")
		a.Vectors = memory.New()
	case "rest":
		a.Vectors = qdrant.NewRESTStore(qcfg)
	default:
		store, err := qdrant.NewGRPCStore(qcfg)
		if err != nil {
			return fmt.Errorf("qdrant grpc: %w", err)
		}
		a.Vectors = store
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
