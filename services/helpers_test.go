package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"rag-knowledge-platform/internal/ai"
	"rag-knowledge-platform/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// hashEmbedder maps each token to a bucket so texts sharing words are close.
type hashEmbedder struct {
	dim      int
	fellBack bool
	failOn   string

	mu    sync.Mutex
	calls []string
}

func newHashEmbedder() *hashEmbedder { return &hashEmbedder{dim: 32} }

func (h *hashEmbedder) Embed(_ context.Context, text string, kind models.ProviderKind) (ai.EmbedResult, error) {
	h.mu.Lock()
	h.calls = append(h.calls, text)
	h.mu.Unlock()

	if h.failOn != "" && strings.Contains(text, h.failOn) {
		return ai.EmbedResult{Provider: "ollama"}, &ai.ProviderError{Op: ai.OpEmbed, Provider: "ollama", Endpoint: "test", StatusCode: 500}
	}

	vec := make([]float32, h.dim)
	for _, tok := range nonAlphanumeric.Split(strings.ToLower(text), -1) {
		if tok == "" {
			continue
		}
		f := fnv.New32a()
		f.Write([]byte(tok))
		vec[int(f.Sum32())%h.dim]++
	}
	vec[0] += 0.01

	res := ai.EmbedResult{Vector: vec, Provider: "ollama", Model: "nomic-embed-text"}
	if kind == models.ProviderRemote && h.fellBack {
		res.FellBack = true
		res.FallbackReason = "remote provider huggingface has no embedding model configured"
	}
	return res, nil
}

func (h *hashEmbedder) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

type fakeGenerator struct {
	text  string
	err   error
	delay time.Duration

	mu       sync.Mutex
	calls    int
	messages []ai.Message
}

func (g *fakeGenerator) Generate(ctx context.Context, messages []ai.Message, kind models.ProviderKind) (ai.GenerateResult, error) {
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return ai.GenerateResult{}, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.messages = messages
	provider := "ollama"
	if kind == models.ProviderRemote {
		provider = "huggingface"
	}
	return ai.GenerateResult{Text: g.text, Provider: provider, Model: "test-model"}, g.err
}

type staticResolver struct {
	eff models.EffectiveProviders
}

func (r staticResolver) Effective(context.Context, string) (models.EffectiveProviders, error) {
	return r.eff, nil
}

func localProviders() staticResolver {
	return staticResolver{eff: models.EffectiveProviders{Chat: models.ProviderLocal, Embed: models.ProviderLocal}}
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := io.WriteString(w, content); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func escapeXML(t *testing.T, s string) string {
	t.Helper()
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		t.Fatalf("escape: %v", err)
	}
	return b.String()
}

func docxBytes(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	body.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		fmt.Fprintf(&body, `<w:p><w:r><w:t xml:space="preserve">%s</w:t></w:r></w:p>`, escapeXML(t, p))
	}
	body.WriteString(`</w:body></w:document>`)
	return buildZip(t, map[string]string{
		"[Content_Types].xml": `<?xml version="1.0"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"/>`,
		"word/document.xml":   body.String(),
	})
}

func slideXML(t *testing.T, runs ...string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree><p:sp><p:txBody>`)
	for _, r := range runs {
		fmt.Fprintf(&b, `<a:p><a:r><a:t>%s</a:t></a:r></a:p>`, escapeXML(t, r))
	}
	b.WriteString(`</p:txBody></p:sp></p:spTree></p:cSld></p:sld>`)
	return b.String()
}
