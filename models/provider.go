package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProviderKind selects between on-host inference and a hosted service.
type ProviderKind string

const (
	ProviderLocal  ProviderKind = "local"
	ProviderRemote ProviderKind = "remote"
)

func (k ProviderKind) Valid() bool {
	return k == ProviderLocal || k == ProviderRemote
}

// RemoteKind tags the variant of RemoteSettings in use.
type RemoteKind string

const (
	RemoteHuggingFace RemoteKind = "huggingface"
	RemoteGemini      RemoteKind = "gemini"
)

var ErrInvalidRemoteSettings = errors.New("invalid remote provider settings")

// RemoteSettings describes the single configured hosted provider. Kind decides
// which endpoint family and payload shapes the gateway uses.
type RemoteSettings struct {
	Kind       RemoteKind `bson:"kind" json:"kind"`
	APIToken   string     `bson:"api_token" json:"api_token,omitempty"`
	ChatModel  string     `bson:"chat_model" json:"chat_model"`
	EmbedModel string     `bson:"embed_model,omitempty" json:"embed_model,omitempty"`
}

// Validate checks the variant tag and the fields a remote call needs.
func (r *RemoteSettings) Validate() error {
	switch r.Kind {
	case RemoteHuggingFace, RemoteGemini:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRemoteSettings, r.Kind)
	}
	if strings.TrimSpace(r.APIToken) == "" {
		return fmt.Errorf("%w: api token is required", ErrInvalidRemoteSettings)
	}
	if strings.TrimSpace(r.ChatModel) == "" {
		return fmt.Errorf("%w: chat model is required", ErrInvalidRemoteSettings)
	}
	return nil
}

// Masked returns a copy safe to show to clients.
func (r RemoteSettings) Masked() RemoteSettings {
	r.APIToken = MaskToken(r.APIToken)
	return r
}

// MaskToken keeps the first four and last two characters.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 6 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-2:]
}

const ProviderConfigID = "default"

// ProviderConfig is the system-wide provider policy. There is exactly one.
type ProviderConfig struct {
	ID                   string          `bson:"_id" json:"id"`
	DefaultChatProvider  ProviderKind    `bson:"default_chat_provider" json:"default_chat_provider"`
	DefaultEmbedProvider ProviderKind    `bson:"default_embed_provider" json:"default_embed_provider"`
	AllowRemote          bool            `bson:"allow_remote" json:"allow_remote"`
	AllowRemoteContext   bool            `bson:"allow_remote_context" json:"allow_remote_context"`
	Remote               *RemoteSettings `bson:"remote,omitempty" json:"remote,omitempty"`
	UpdatedAt            time.Time       `bson:"updated_at" json:"updated_at"`
}

// Validate enforces that remote defaults are only selected when allowed and configured.
func (c *ProviderConfig) Validate() error {
	if !c.DefaultChatProvider.Valid() || !c.DefaultEmbedProvider.Valid() {
		return fmt.Errorf("unknown provider kind (chat=%q embed=%q)", c.DefaultChatProvider, c.DefaultEmbedProvider)
	}
	usesRemote := c.DefaultChatProvider == ProviderRemote || c.DefaultEmbedProvider == ProviderRemote
	if !usesRemote {
		return nil
	}
	if !c.AllowRemote {
		return errors.New("remote provider selected while remote usage is disabled")
	}
	if c.Remote == nil {
		return fmt.Errorf("%w: remote provider selected but not configured", ErrInvalidRemoteSettings)
	}
	return c.Remote.Validate()
}

// Masked returns a copy with the API token hidden.
func (c ProviderConfig) Masked() ProviderConfig {
	if c.Remote != nil {
		m := c.Remote.Masked()
		c.Remote = &m
	}
	return c
}

// UserProviderPreference overrides the defaults for one user. Nil means "use default".
type UserProviderPreference struct {
	UserID        string        `bson:"_id" json:"user_id"`
	ChatProvider  *ProviderKind `bson:"chat_provider,omitempty" json:"chat_provider,omitempty"`
	EmbedProvider *ProviderKind `bson:"embed_provider,omitempty" json:"embed_provider,omitempty"`
	UpdatedAt     time.Time     `bson:"updated_at" json:"updated_at"`
}

// EffectiveProviders is what a query actually uses after applying preferences.
type EffectiveProviders struct {
	Chat               ProviderKind
	Embed              ProviderKind
	AllowRemote        bool
	AllowRemoteContext bool
	Remote             *RemoteSettings
}

// Resolve applies a preference on top of the configured defaults.
func (c *ProviderConfig) Resolve(pref *UserProviderPreference) EffectiveProviders {
	eff := EffectiveProviders{
		Chat:               c.DefaultChatProvider,
		Embed:              c.DefaultEmbedProvider,
		AllowRemote:        c.AllowRemote,
		AllowRemoteContext: c.AllowRemoteContext,
		Remote:             c.Remote,
	}
	if pref != nil {
		if pref.ChatProvider != nil {
			eff.Chat = *pref.ChatProvider
		}
		if pref.EmbedProvider != nil {
			eff.Embed = *pref.EmbedProvider
		}
	}
	return eff
}
