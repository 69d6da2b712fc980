package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rag-knowledge-platform/models"
)

const geminiEndpoint = "generativelanguage.googleapis.com"

// GeminiBackend serves the gemini variant of the remote settings. Clients are
// cached per API token because the token can change at runtime.
type GeminiBackend struct {
	clients *clientPool[*genai.Client]
}

func NewGeminiBackend() *GeminiBackend {
	return &GeminiBackend{clients: newClientPool(func(ctx context.Context, token string) (*genai.Client, error) {
		return genai.NewClient(ctx, option.WithAPIKey(token))
	})}
}

func (b *GeminiBackend) Name() string { return string(models.RemoteGemini) }

func (b *GeminiBackend) client(ctx context.Context, op, token string) (*genai.Client, func(), error) {
	c, release, err := b.clients.acquire(ctx, token)
	if err != nil {
		return nil, nil, &ProviderError{Op: op, Provider: b.Name(), Endpoint: geminiEndpoint, Err: err}
	}
	return c, release, nil
}

// clientPool keeps one client for the current token. A client replaced by a
// new token is closed once its last caller releases it.
type clientPool[C io.Closer] struct {
	mu      sync.Mutex
	dial    func(ctx context.Context, token string) (C, error)
	current string
	entries map[string]*pooledClient[C]
}

type pooledClient[C io.Closer] struct {
	client  C
	refs    int
	retired bool
}

func newClientPool[C io.Closer](dial func(ctx context.Context, token string) (C, error)) *clientPool[C] {
	return &clientPool[C]{dial: dial, entries: make(map[string]*pooledClient[C])}
}

func (p *clientPool[C]) acquire(ctx context.Context, token string) (C, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[token]
	if !ok || e.retired {
		c, err := p.dial(ctx, token)
		if err != nil {
			var zero C
			return zero, nil, err
		}
		e = &pooledClient[C]{client: c}
		p.entries[token] = e
	}
	if token != p.current {
		if old, ok := p.entries[p.current]; ok && old != e {
			old.retired = true
			delete(p.entries, p.current)
			if old.refs == 0 {
				_ = old.client.Close()
			}
		}
		p.current = token
	}

	e.refs++
	var once sync.Once
	return e.client, func() { once.Do(func() { p.release(e) }) }, nil
}

// closeAll retires every client; busy ones close on release.
func (p *clientPool[C]) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.entries {
		e.retired = true
		delete(p.entries, k)
		if e.refs == 0 {
			_ = e.client.Close()
		}
	}
	p.current = ""
}

func (p *clientPool[C]) release(e *pooledClient[C]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.refs--
	if e.retired && e.refs == 0 {
		_ = e.client.Close()
	}
}

func (b *GeminiBackend) Embed(ctx context.Context, s models.RemoteSettings, text string) ([]float32, error) {
	client, release, err := b.client(ctx, OpEmbed, s.APIToken)
	if err != nil {
		return nil, err
	}
	defer release()
	resp, err := client.EmbeddingModel(s.EmbedModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, b.wrap(OpEmbed, s.EmbedModel, err)
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, &ProviderError{Op: OpEmbed, Provider: b.Name(), Endpoint: geminiEndpoint + "/" + s.EmbedModel, Err: errors.New("no embedding returned")}
	}
	return resp.Embedding.Values, nil
}

func (b *GeminiBackend) Chat(ctx context.Context, s models.RemoteSettings, messages []Message) (string, error) {
	client, release, err := b.client(ctx, OpChat, s.APIToken)
	if err != nil {
		return "", err
	}
	defer release()

	model := client.GenerativeModel(s.ChatModel)
	model.SetTemperature(0.2)
	model.SetMaxOutputTokens(400)

	var system []string
	var turns []string
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m.Content)
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(system, "\n"))},
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(strings.Join(turns, "\n\n")))
	if err != nil {
		return "", b.wrap(OpChat, s.ChatModel, err)
	}

	var out strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part.(genai.Text); ok {
				out.WriteString(string(text))
			}
		}
	}
	return out.String(), nil
}

func (b *GeminiBackend) wrap(op, model string, err error) error {
	pErr := &ProviderError{Op: op, Provider: b.Name(), Endpoint: geminiEndpoint + "/" + model, Err: err}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		pErr.StatusCode = apiErr.Code
		pErr.Body = truncate(apiErr.Message, maxErrorBody)
		pErr.Retryable = retryableStatus(apiErr.Code)
		return pErr
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		pErr.StatusCode = httpStatusFromGRPC(st.Code())
		pErr.Body = truncate(st.Message(), maxErrorBody)
		pErr.Retryable = retryableStatus(pErr.StatusCode)
		return pErr
	}
	pErr.Retryable = !errors.Is(err, context.Canceled)
	return pErr
}

func httpStatusFromGRPC(code codes.Code) int {
	switch code {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return 400
	case codes.Unauthenticated:
		return 401
	case codes.PermissionDenied:
		return 403
	case codes.NotFound:
		return 404
	case codes.ResourceExhausted:
		return 429
	case codes.Unavailable:
		return 503
	case codes.DeadlineExceeded:
		return 504
	default:
		return 500
	}
}

func (b *GeminiBackend) Close() {
	b.clients.closeAll()
}
