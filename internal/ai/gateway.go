package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rag-knowledge-platform/internal/telemetry"
	"rag-knowledge-platform/models"
)

// LocalProvider is the on-host inference backend. Calls are bounded by a
// timeout only; no policy applies.
type LocalProvider interface {
	Name() string
	ChatModel() string
	EmbedModel() string
	Embed(ctx context.Context, text string) ([]float32, error)
	Chat(ctx context.Context, messages []Message) (string, error)
	Ping(ctx context.Context) error
}

// RemoteBackend serves one variant of models.RemoteSettings.
type RemoteBackend interface {
	Name() string
	Embed(ctx context.Context, s models.RemoteSettings, text string) ([]float32, error)
	Chat(ctx context.Context, s models.RemoteSettings, messages []Message) (string, error)
}

// ProviderSource yields the provider configuration in force at call time.
type ProviderSource interface {
	Current(ctx context.Context) (*models.ProviderConfig, error)
}

type Options struct {
	Local                   LocalProvider
	Remotes                 []RemoteBackend
	Providers               ProviderSource
	RemoteTimeout           time.Duration
	RetryBackoff            time.Duration
	RemoteRequestsPerMinute int
	Logger                  *slog.Logger
	Metrics                 *telemetry.Metrics
}

// Gateway routes embedding and generation calls to the local or remote provider.
type Gateway struct {
	local     LocalProvider
	remotes   map[models.RemoteKind]RemoteBackend
	breakers  map[models.RemoteKind]*gobreaker.CircuitBreaker
	providers ProviderSource
	caller    *remoteCaller
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
}

func NewGateway(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.RemoteTimeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	backoff := opts.RetryBackoff
	if backoff == 0 {
		backoff = 300 * time.Millisecond
	}

	g := &Gateway{
		local:     opts.Local,
		remotes:   make(map[models.RemoteKind]RemoteBackend),
		breakers:  make(map[models.RemoteKind]*gobreaker.CircuitBreaker),
		providers: opts.Providers,
		caller: &remoteCaller{
			timeout: timeout,
			backoff: backoff,
			limiter: newLimiter(opts.RemoteRequestsPerMinute),
			logger:  logger,
		},
		logger:  logger,
		metrics: opts.Metrics,
		tracer:  otel.Tracer("provider-gateway"),
	}
	for _, r := range opts.Remotes {
		kind := models.RemoteKind(r.Name())
		g.remotes[kind] = r
		g.breakers[kind] = newBreaker("remote-"+r.Name(), logger, opts.Metrics)
	}
	return g
}

type EmbedResult struct {
	Vector         []float32
	Provider       string
	Model          string
	FellBack       bool
	FallbackReason string
}

type GenerateResult struct {
	Text     string
	Provider string
	Model    string
}

// Embed returns a vector for text using the requested provider kind. A remote
// request without a configured embedding model is served locally and reported
// through FellBack.
func (g *Gateway) Embed(ctx context.Context, text string, kind models.ProviderKind) (EmbedResult, error) {
	ctx, span := g.tracer.Start(ctx, "ai.embed", trace.WithAttributes(
		attribute.String("provider.kind", string(kind)),
		attribute.Int("text.chars", len(text)),
	))
	defer span.End()

	res, err := g.embed(ctx, text, kind)
	span.SetAttributes(
		attribute.String("provider.name", res.Provider),
		attribute.Bool("provider.fallback", res.FellBack),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	g.metrics.RecordProviderCall(res.Provider, OpEmbed, err == nil)
	return res, err
}

func (g *Gateway) embed(ctx context.Context, text string, kind models.ProviderKind) (EmbedResult, error) {
	if kind != models.ProviderRemote {
		return g.embedLocal(ctx, text)
	}

	settings, backend, breaker, err := g.remoteFor(ctx)
	if err != nil {
		return EmbedResult{Provider: string(kind)}, err
	}

	if strings.TrimSpace(settings.EmbedModel) == "" {
		reason := fmt.Sprintf("remote provider %s has no embedding model configured", settings.Kind)
		g.logger.Warn("Remote embedding unavailable, using local provider",
			"remote", settings.Kind,
			"local_model", g.local.EmbedModel(),
			"reason", reason,
		)
		g.metrics.RecordEmbeddingFallback(reason)
		res, err := g.embedLocal(ctx, text)
		res.FellBack = true
		res.FallbackReason = reason
		return res, err
	}

	var vec []float32
	err = g.caller.call(ctx, OpEmbed, backend.Name(), breaker, func(ctx context.Context) error {
		var callErr error
		vec, callErr = backend.Embed(ctx, settings, text)
		return callErr
	})
	return EmbedResult{Vector: vec, Provider: backend.Name(), Model: settings.EmbedModel}, err
}

func (g *Gateway) embedLocal(ctx context.Context, text string) (EmbedResult, error) {
	vec, err := g.local.Embed(ctx, text)
	return EmbedResult{Vector: vec, Provider: g.local.Name(), Model: g.local.EmbedModel()}, err
}

// Generate runs a chat completion with the requested provider kind.
func (g *Gateway) Generate(ctx context.Context, messages []Message, kind models.ProviderKind) (GenerateResult, error) {
	ctx, span := g.tracer.Start(ctx, "ai.generate", trace.WithAttributes(
		attribute.String("provider.kind", string(kind)),
		attribute.Int("messages", len(messages)),
	))
	defer span.End()

	res, err := g.generate(ctx, messages, kind)
	span.SetAttributes(attribute.String("provider.name", res.Provider))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	g.metrics.RecordProviderCall(res.Provider, OpChat, err == nil)
	return res, err
}

func (g *Gateway) generate(ctx context.Context, messages []Message, kind models.ProviderKind) (GenerateResult, error) {
	if kind != models.ProviderRemote {
		text, err := g.local.Chat(ctx, messages)
		return GenerateResult{Text: text, Provider: g.local.Name(), Model: g.local.ChatModel()}, err
	}

	settings, backend, breaker, err := g.remoteFor(ctx)
	if err != nil {
		return GenerateResult{Provider: string(kind)}, err
	}
	if strings.TrimSpace(settings.ChatModel) == "" {
		return GenerateResult{Provider: backend.Name()}, &PolicyError{Reason: "remote chat model is not configured"}
	}

	var text string
	err = g.caller.call(ctx, OpChat, backend.Name(), breaker, func(ctx context.Context) error {
		var callErr error
		text, callErr = backend.Chat(ctx, settings, messages)
		return callErr
	})
	return GenerateResult{Text: text, Provider: backend.Name(), Model: settings.ChatModel}, err
}

// remoteFor checks policy at call time and returns the configured remote variant.
func (g *Gateway) remoteFor(ctx context.Context) (models.RemoteSettings, RemoteBackend, *gobreaker.CircuitBreaker, error) {
	cfg, err := g.providers.Current(ctx)
	if err != nil {
		return models.RemoteSettings{}, nil, nil, fmt.Errorf("load provider config: %w", err)
	}
	if !cfg.AllowRemote {
		return models.RemoteSettings{}, nil, nil, &PolicyError{Reason: "remote providers are disabled"}
	}
	if cfg.Remote == nil || strings.TrimSpace(cfg.Remote.APIToken) == "" {
		return models.RemoteSettings{}, nil, nil, &PolicyError{Reason: "remote provider is not configured"}
	}
	backend, ok := g.remotes[cfg.Remote.Kind]
	if !ok {
		return models.RemoteSettings{}, nil, nil, &PolicyError{Reason: fmt.Sprintf("unsupported remote provider %q", cfg.Remote.Kind)}
	}
	return *cfg.Remote, backend, g.breakers[cfg.Remote.Kind], nil
}
