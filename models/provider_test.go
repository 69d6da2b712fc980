package models

import (
	"errors"
	"testing"
	"time"
)

func TestRemoteSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		remote  RemoteSettings
		wantErr bool
	}{
		{"huggingface ok", RemoteSettings{Kind: RemoteHuggingFace, APIToken: "hf_x", ChatModel: "m"}, false},
		{"gemini ok", RemoteSettings{Kind: RemoteGemini, APIToken: "key", ChatModel: "gemini-1.5-flash"}, false},
		{"unknown kind", RemoteSettings{Kind: "openrouter", APIToken: "x", ChatModel: "m"}, true},
		{"missing token", RemoteSettings{Kind: RemoteHuggingFace, ChatModel: "m"}, true},
		{"missing chat model", RemoteSettings{Kind: RemoteHuggingFace, APIToken: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.remote.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRemoteSettings) {
				t.Errorf("expected ErrInvalidRemoteSettings, got %v", err)
			}
		})
	}
}

func TestProviderConfigValidate(t *testing.T) {
	remote := &RemoteSettings{Kind: RemoteHuggingFace, APIToken: "hf_token", ChatModel: "m"}

	cfg := ProviderConfig{DefaultChatProvider: ProviderLocal, DefaultEmbedProvider: ProviderLocal}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("local defaults should validate: %v", err)
	}

	cfg.DefaultChatProvider = ProviderRemote
	if err := cfg.Validate(); err == nil {
		t.Fatal("remote default with AllowRemote=false must fail")
	}

	cfg.AllowRemote = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("remote default without settings must fail")
	}

	cfg.Remote = remote
	if err := cfg.Validate(); err != nil {
		t.Fatalf("configured remote should validate: %v", err)
	}
}

func TestResolvePreference(t *testing.T) {
	cfg := ProviderConfig{
		DefaultChatProvider:  ProviderLocal,
		DefaultEmbedProvider: ProviderLocal,
		AllowRemote:          true,
		UpdatedAt:            time.Now(),
	}
	remote := ProviderRemote

	eff := cfg.Resolve(nil)
	if eff.Chat != ProviderLocal || eff.Embed != ProviderLocal {
		t.Fatalf("defaults not applied: %+v", eff)
	}

	eff = cfg.Resolve(&UserProviderPreference{ChatProvider: &remote})
	if eff.Chat != ProviderRemote || eff.Embed != ProviderLocal {
		t.Fatalf("preference not applied per capability: %+v", eff)
	}
}

func TestMaskToken(t *testing.T) {
	if got := MaskToken("hf_abcdefghij"); got != "hf_a****ij" {
		t.Errorf("MaskToken = %q", got)
	}
	if got := MaskToken("short"); got != "****" {
		t.Errorf("short token = %q", got)
	}
	if got := MaskToken(""); got != "" {
		t.Errorf("empty token = %q", got)
	}

	cfg := ProviderConfig{Remote: &RemoteSettings{APIToken: "secret-token-value"}}
	masked := cfg.Masked()
	if masked.Remote.APIToken == cfg.Remote.APIToken {
		t.Error("Masked must not leak the token")
	}
	if cfg.Remote.APIToken != "secret-token-value" {
		t.Error("Masked must not modify the original")
	}
}

func TestAuditEventHashChangesWithContent(t *testing.T) {
	e := AuditEvent{Sequence: 1, UserID: "u1", Action: AuditChatQuery, CreatedAt: time.Unix(100, 0), Metadata: map[string]string{"b": "2", "a": "1"}}
	h1 := e.ComputeHash()
	if h1 != e.ComputeHash() {
		t.Fatal("hash must be deterministic")
	}
	e.Metadata["a"] = "changed"
	if h1 == e.ComputeHash() {
		t.Fatal("hash must cover metadata")
	}
}
