package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"rag-knowledge-platform/models"
)

const maxErrorBody = 2048

// HuggingFaceBackend calls the Hugging Face Inference API. Model names that
// start with http are used as full endpoint URLs.
type HuggingFaceBackend struct {
	chatEndpoint  string
	embedEndpoint string
	client        *http.Client
}

func NewHuggingFaceBackend(chatEndpoint, embedEndpoint string, client *http.Client) *HuggingFaceBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &HuggingFaceBackend{
		chatEndpoint:  strings.TrimRight(chatEndpoint, "/"),
		embedEndpoint: strings.TrimRight(embedEndpoint, "/"),
		client:        client,
	}
}

func (b *HuggingFaceBackend) Name() string { return string(models.RemoteHuggingFace) }

func resolveEndpoint(base, model string) string {
	if strings.HasPrefix(model, "http") {
		return model
	}
	return base + "/" + model
}

func (b *HuggingFaceBackend) Embed(ctx context.Context, s models.RemoteSettings, text string) ([]float32, error) {
	endpoint := resolveEndpoint(b.embedEndpoint, s.EmbedModel)
	raw, err := b.post(ctx, OpEmbed, endpoint, s.APIToken, map[string]any{"inputs": text})
	if err != nil {
		return nil, err
	}

	// feature-extraction returns either one vector or a batch of one
	var flat []float32
	if err := json.Unmarshal(raw, &flat); err == nil && len(flat) > 0 {
		return flat, nil
	}
	var nested [][]float32
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) > 0 && len(nested[0]) > 0 {
		return nested[0], nil
	}
	return nil, &ProviderError{Op: OpEmbed, Provider: b.Name(), Endpoint: endpoint, Body: truncate(string(raw), maxErrorBody), Err: errors.New("unexpected embedding response shape")}
}

// flattenPrompt renders chat turns as "ROLE: content" lines for text-generation models.
func flattenPrompt(messages []Message) string {
	lines := make([]string, len(messages))
	for i, m := range messages {
		lines[i] = strings.ToUpper(m.Role) + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}

func (b *HuggingFaceBackend) Chat(ctx context.Context, s models.RemoteSettings, messages []Message) (string, error) {
	endpoint := resolveEndpoint(b.chatEndpoint, s.ChatModel)
	payload := map[string]any{
		"inputs": flattenPrompt(messages),
		"parameters": map[string]any{
			"max_new_tokens": 400,
			"temperature":    0.2,
		},
	}
	raw, err := b.post(ctx, OpChat, endpoint, s.APIToken, payload)
	if err != nil {
		return "", err
	}

	type generated struct {
		GeneratedText string `json:"generated_text"`
	}
	var list []generated
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return "", nil
		}
		return list[0].GeneratedText, nil
	}
	var single generated
	if err := json.Unmarshal(raw, &single); err == nil {
		return single.GeneratedText, nil
	}
	return "", &ProviderError{Op: OpChat, Provider: b.Name(), Endpoint: endpoint, Body: truncate(string(raw), maxErrorBody), Err: errors.New("unexpected generation response shape")}
}

func (b *HuggingFaceBackend) post(ctx context.Context, op, endpoint, token string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProviderError{Op: op, Provider: b.Name(), Endpoint: endpoint, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, &ProviderError{Op: op, Provider: b.Name(), Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := b.client.Do(req)
	if err != nil {
		// network failures and per-attempt timeouts are worth one more try
		return nil, &ProviderError{Op: op, Provider: b.Name(), Endpoint: endpoint, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Op: op, Provider: b.Name(), Endpoint: endpoint, StatusCode: resp.StatusCode, Retryable: true, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{
			Op:         op,
			Provider:   b.Name(),
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(body)), maxErrorBody),
			Retryable:  retryableStatus(resp.StatusCode),
		}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
