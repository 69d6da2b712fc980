package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Message is one turn of a chat prompt.
type Message struct {
	Role    string // system, user or assistant
	Content string
}

// LocalBackend talks to Ollama through its OpenAI-compatible API.
type LocalBackend struct {
	client     *openai.Client
	host       string
	chatModel  string
	embedModel string
	timeout    time.Duration
}

type LocalConfig struct {
	Host       string
	ChatModel  string
	EmbedModel string
	Timeout    time.Duration
}

func NewLocalBackend(cfg LocalConfig) *LocalBackend {
	host := strings.TrimRight(cfg.Host, "/")
	clientCfg := openai.DefaultConfig("ollama")
	clientCfg.BaseURL = host + "/v1"
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &LocalBackend{
		client:     openai.NewClientWithConfig(clientCfg),
		host:       host,
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbedModel,
		timeout:    timeout,
	}
}

func (b *LocalBackend) Name() string       { return "ollama" }
func (b *LocalBackend) Host() string       { return b.host }
func (b *LocalBackend) ChatModel() string  { return b.chatModel }
func (b *LocalBackend) EmbedModel() string { return b.embedModel }

func (b *LocalBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(b.embedModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, b.wrap(OpEmbed, "/v1/embeddings", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, &ProviderError{Op: OpEmbed, Provider: b.Name(), Endpoint: b.host + "/v1/embeddings", Err: errors.New("no embedding returned")}
	}

	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i := range src {
		vec[i] = float32(src[i])
	}
	return vec, nil
}

func (b *LocalBackend) Chat(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:    b.chatModel,
		Messages: make([]openai.ChatCompletionMessage, len(messages)),
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", b.wrap(OpChat, "/v1/chat/completions", err)
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Op: OpChat, Provider: b.Name(), Endpoint: b.host + "/v1/chat/completions", Err: errors.New("no choices returned")}
	}
	return resp.Choices[0].Message.Content, nil
}

// Ping lists models, which succeeds whenever the daemon is reachable.
func (b *LocalBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if _, err := b.client.ListModels(ctx); err != nil {
		return b.wrap(OpChat, "/v1/models", err)
	}
	return nil
}

func (b *LocalBackend) wrap(op, path string, err error) error {
	pErr := &ProviderError{Op: op, Provider: b.Name(), Endpoint: b.host + path, Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		pErr.StatusCode = apiErr.HTTPStatusCode
		pErr.Body = apiErr.Message
	case errors.As(err, &reqErr):
		pErr.StatusCode = reqErr.HTTPStatusCode
	}
	return pErr
}
