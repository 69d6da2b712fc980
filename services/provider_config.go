package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"rag-knowledge-platform/internal/ai"
	"rag-knowledge-platform/internal/config"
	"rag-knowledge-platform/internal/database"
	"rag-knowledge-platform/models"
)

// DefaultProviderConfig builds the configuration used when none is stored yet:
// local providers everywhere, optionally overridden by the providers seed file.
func DefaultProviderConfig(cfg *config.Config, seed *config.ProvidersSeed) (models.ProviderConfig, error) {
	pc := models.ProviderConfig{
		ID:                   models.ProviderConfigID,
		DefaultChatProvider:  models.ProviderLocal,
		DefaultEmbedProvider: models.ProviderLocal,
		AllowRemoteContext:   cfg.AllowRemoteContext,
	}
	if seed == nil {
		return pc, nil
	}

	if seed.DefaultChatProvider != "" {
		pc.DefaultChatProvider = models.ProviderKind(strings.ToLower(seed.DefaultChatProvider))
	}
	if seed.DefaultEmbedProvider != "" {
		pc.DefaultEmbedProvider = models.ProviderKind(strings.ToLower(seed.DefaultEmbedProvider))
	}
	pc.AllowRemote = seed.AllowRemote
	if seed.AllowRemoteContext != nil {
		pc.AllowRemoteContext = *seed.AllowRemoteContext
	}
	if seed.Remote != nil {
		pc.Remote = &models.RemoteSettings{
			Kind:       models.RemoteKind(strings.ToLower(seed.Remote.Kind)),
			APIToken:   seed.Remote.APIToken,
			ChatModel:  seed.Remote.ChatModel,
			EmbedModel: seed.Remote.EmbedModel,
		}
	}
	if err := pc.Validate(); err != nil {
		return pc, fmt.Errorf("providers seed: %w", err)
	}
	return pc, nil
}

// ProviderConfigService owns the provider configuration singleton and the
// per-user preferences layered on top of it.
type ProviderConfigService struct {
	store    database.ProviderStore
	defaults models.ProviderConfig
	logger   *slog.Logger
	mu       sync.Mutex
}

func NewProviderConfigService(store database.ProviderStore, defaults models.ProviderConfig, logger *slog.Logger) *ProviderConfigService {
	if logger == nil {
		logger = slog.Default()
	}
	defaults.ID = models.ProviderConfigID
	return &ProviderConfigService{store: store, defaults: defaults, logger: logger}
}

// Get returns the stored configuration, creating it from the defaults on
// first use.
func (s *ProviderConfigService) Get(ctx context.Context) (*models.ProviderConfig, error) {
	cfg, err := s.store.GetProviderConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("load provider config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, err := s.store.GetProviderConfig(ctx); err == nil {
		return cfg, nil
	}
	created := s.defaults
	if created.Remote != nil {
		r := *created.Remote
		created.Remote = &r
	}
	created.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveProviderConfig(ctx, &created); err != nil {
		return nil, fmt.Errorf("create provider config: %w", err)
	}
	s.logger.Info("Provider configuration initialised",
		"chat", created.DefaultChatProvider,
		"embed", created.DefaultEmbedProvider,
		"allow_remote", created.AllowRemote,
	)
	return &created, nil
}

// Current satisfies ai.ProviderSource.
func (s *ProviderConfigService) Current(ctx context.Context) (*models.ProviderConfig, error) {
	return s.Get(ctx)
}

// Effective resolves the providers a user's requests run with.
func (s *ProviderConfigService) Effective(ctx context.Context, userID string) (models.EffectiveProviders, error) {
	cfg, err := s.Get(ctx)
	if err != nil {
		return models.EffectiveProviders{}, err
	}
	var pref *models.UserProviderPreference
	if userID != "" {
		pref, err = s.store.GetPreference(ctx, userID)
		if err != nil {
			return models.EffectiveProviders{}, fmt.Errorf("load provider preference: %w", err)
		}
	}
	return cfg.Resolve(pref), nil
}

// ProviderConfigUpdate is a partial update. Nil fields are left unchanged.
type ProviderConfigUpdate struct {
	DefaultChatProvider  *models.ProviderKind `json:"default_chat_provider"`
	DefaultEmbedProvider *models.ProviderKind `json:"default_embed_provider"`
	AllowRemote          *bool                `json:"allow_remote"`
	AllowRemoteContext   *bool                `json:"allow_remote_context"`
	Remote               *RemoteSettingsPatch `json:"remote"`
}

type RemoteSettingsPatch struct {
	Kind       *models.RemoteKind `json:"kind"`
	APIToken   *string            `json:"api_token"`
	ChatModel  *string            `json:"chat_model"`
	EmbedModel *string            `json:"embed_model"`
}

func (p *RemoteSettingsPatch) apply(base *models.RemoteSettings) *models.RemoteSettings {
	out := models.RemoteSettings{}
	if base != nil {
		out = *base
	}
	if p.Kind != nil {
		out.Kind = models.RemoteKind(strings.ToLower(string(*p.Kind)))
	}
	if p.APIToken != nil {
		out.APIToken = strings.TrimSpace(*p.APIToken)
	}
	if p.ChatModel != nil {
		out.ChatModel = strings.TrimSpace(*p.ChatModel)
	}
	if p.EmbedModel != nil {
		out.EmbedModel = strings.TrimSpace(*p.EmbedModel)
	}
	return &out
}

// Update applies a partial update. Selecting a remote default while remote
// use is disallowed is a policy violation; remote settings that are touched
// must be complete.
func (s *ProviderConfigService) Update(ctx context.Context, u ProviderConfigUpdate) (*models.ProviderConfig, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := *current
	if u.DefaultChatProvider != nil {
		next.DefaultChatProvider = *u.DefaultChatProvider
	}
	if u.DefaultEmbedProvider != nil {
		next.DefaultEmbedProvider = *u.DefaultEmbedProvider
	}
	if u.AllowRemote != nil {
		next.AllowRemote = *u.AllowRemote
	}
	if u.AllowRemoteContext != nil {
		next.AllowRemoteContext = *u.AllowRemoteContext
	}
	if u.Remote != nil {
		next.Remote = u.Remote.apply(current.Remote)
		if err := next.Remote.Validate(); err != nil {
			return nil, err
		}
	}

	if !next.DefaultChatProvider.Valid() || !next.DefaultEmbedProvider.Valid() {
		return nil, fmt.Errorf("%w: unknown provider kind", ErrInvalidInput)
	}
	if !next.AllowRemote && (next.DefaultChatProvider == models.ProviderRemote || next.DefaultEmbedProvider == models.ProviderRemote) {
		return nil, &ai.PolicyError{Reason: "remote provider selected while remote usage is disabled"}
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	next.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveProviderConfig(ctx, &next); err != nil {
		return nil, fmt.Errorf("save provider config: %w", err)
	}
	s.logger.Info("Provider configuration updated",
		"chat", next.DefaultChatProvider,
		"embed", next.DefaultEmbedProvider,
		"allow_remote", next.AllowRemote,
		"allow_remote_context", next.AllowRemoteContext,
	)
	return &next, nil
}

// PreferenceUpdate changes a user's overrides. A nil field is left unchanged;
// a pointer to "" removes the override.
type PreferenceUpdate struct {
	ChatProvider  *models.ProviderKind `json:"chat_provider"`
	EmbedProvider *models.ProviderKind `json:"embed_provider"`
}

func (s *ProviderConfigService) UpdatePreference(ctx context.Context, userID string, u PreferenceUpdate) (*models.UserProviderPreference, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	cfg, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	pref, err := s.store.GetPreference(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load provider preference: %w", err)
	}
	if pref == nil {
		pref = &models.UserProviderPreference{UserID: userID}
	}

	set := func(dst **models.ProviderKind, v *models.ProviderKind) error {
		if v == nil {
			return nil
		}
		if *v == "" {
			*dst = nil
			return nil
		}
		if !v.Valid() {
			return fmt.Errorf("%w: unknown provider kind %q", ErrInvalidInput, *v)
		}
		if *v == models.ProviderRemote && !cfg.AllowRemote {
			return &ai.PolicyError{Reason: "remote providers are disabled"}
		}
		k := *v
		*dst = &k
		return nil
	}
	if err := set(&pref.ChatProvider, u.ChatProvider); err != nil {
		return nil, err
	}
	if err := set(&pref.EmbedProvider, u.EmbedProvider); err != nil {
		return nil, err
	}

	pref.UpdatedAt = time.Now().UTC()
	if err := s.store.SavePreference(ctx, pref); err != nil {
		return nil, fmt.Errorf("save provider preference: %w", err)
	}
	return pref, nil
}
