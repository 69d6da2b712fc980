package ai

import (
	"context"

	"golang.org/x/sync/errgroup"

	"rag-knowledge-platform/models"
)

// Pinger is anything with a liveness probe, such as the vector store.
type Pinger interface {
	Health(ctx context.Context) error
}

type ComponentHealth struct {
	OK      bool           `json:"ok"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type HealthReport struct {
	OK                 bool                `json:"ok"`
	ChatProvider       models.ProviderKind `json:"chat_provider"`
	EmbedProvider      models.ProviderKind `json:"embed_provider"`
	AllowRemote        bool                `json:"allow_remote"`
	AllowRemoteContext bool                `json:"allow_remote_context"`
	Local              ComponentHealth     `json:"local"`
	VectorStore        ComponentHealth     `json:"vector_store"`
	Remote             *ComponentHealth    `json:"remote,omitempty"`
}

// LocalHealth probes the local provider. deep runs a real chat completion.
func (g *Gateway) LocalHealth(ctx context.Context, deep bool) ComponentHealth {
	h := ComponentHealth{OK: true, Details: map[string]any{
		"provider":    g.local.Name(),
		"chat_model":  g.local.ChatModel(),
		"embed_model": g.local.EmbedModel(),
	}}
	var err error
	if deep {
		_, err = g.local.Chat(ctx, []Message{{Role: "user", Content: "Respond OK"}})
	} else {
		err = g.local.Ping(ctx)
	}
	if err != nil {
		h.OK = false
		h.Error = err.Error()
	}
	return h
}

// HealthCheck probes the local provider, the vector store and, when a remote
// provider is a default, the remote provider. Probes run concurrently.
func (g *Gateway) HealthCheck(ctx context.Context, deep bool, vectors Pinger) HealthReport {
	cfg, err := g.providers.Current(ctx)
	if err != nil {
		return HealthReport{Local: ComponentHealth{Error: err.Error()}}
	}

	report := HealthReport{
		ChatProvider:       cfg.DefaultChatProvider,
		EmbedProvider:      cfg.DefaultEmbedProvider,
		AllowRemote:        cfg.AllowRemote,
		AllowRemoteContext: cfg.AllowRemoteContext,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		report.Local = g.LocalHealth(egCtx, deep)
		return nil
	})
	eg.Go(func() error {
		report.VectorStore = ComponentHealth{OK: true}
		if err := vectors.Health(egCtx); err != nil {
			report.VectorStore = ComponentHealth{Error: err.Error()}
		}
		return nil
	})

	usesRemote := cfg.DefaultChatProvider == models.ProviderRemote || cfg.DefaultEmbedProvider == models.ProviderRemote
	if usesRemote {
		remote := &ComponentHealth{Details: map[string]any{}}
		report.Remote = remote
		eg.Go(func() error {
			remote.OK = cfg.AllowRemote && cfg.Remote != nil && cfg.Remote.APIToken != ""
			if cfg.Remote != nil {
				remote.Details["kind"] = cfg.Remote.Kind
				remote.Details["chat_model"] = cfg.Remote.ChatModel
				remote.Details["embed_model"] = cfg.Remote.EmbedModel
			}
			if !remote.OK {
				remote.Error = "remote provider disabled or missing token"
				return nil
			}
			if deep && cfg.Remote.ChatModel != "" {
				if _, err := g.Generate(egCtx, []Message{{Role: "user", Content: "hello"}}, models.ProviderRemote); err != nil {
					remote.OK = false
					remote.Error = err.Error()
				}
			}
			return nil
		})
	}

	_ = eg.Wait()

	report.OK = report.Local.OK && report.VectorStore.OK
	if report.Remote != nil {
		report.OK = report.OK && report.Remote.OK
	}
	return report
}
