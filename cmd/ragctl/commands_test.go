package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rag-knowledge-platform/internal/app"
	"rag-knowledge-platform/internal/config"
	"rag-knowledge-platform/models"
	"rag-knowledge-platform/services"
)

func memoryOpener(t *testing.T) opener {
	cfg := &config.Config{
		JWTSecret:           "ctl-secret",
		JWTExpiresIn:        time.Hour,
		MaxFileSize:         1 << 20,
		StoreBackend:        "memory",
		StorageBackend:      "local",
		DataDir:             t.TempDir(),
		QdrantTransport:     "memory",
		OllamaHost:          "http://127.0.0.1:1",
		LocalTimeout:        time.Second,
		ChunkSizeChars:      4500,
		ChunkOverlapChars:   600,
		RAGCandidates:       16,
		RAGMaxCitations:     6,
		RAGContextMaxChars:  16000,
		RAGMinAnswerability: 0.15,
		RAGVectorWeight:     0.7,
		RAGLexicalWeight:    0.3,
		RAGSnippetChars:     180,
	}
	return func(ctx context.Context) (*app.App, error) {
		return app.New(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), app.Options{})
	}
}

func run(t *testing.T, open opener, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(open)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestDocumentsEmpty(t *testing.T) {
	out, err := run(t, memoryOpener(t), "documents")
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	if !strings.HasPrefix(out, "ID") || strings.Count(out, "\n") != 1 {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestIngestRejectsUnsupportedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.xlsx")
	if err := os.WriteFile(path, []byte("not a document"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := run(t, memoryOpener(t), "ingest", path)
	if err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestArgumentValidation(t *testing.T) {
	open := memoryOpener(t)
	if _, err := run(t, open, "ask"); err == nil {
		t.Fatal("ask without a question should fail")
	}
	if _, err := run(t, open, "ingest"); err == nil {
		t.Fatal("ingest without files should fail")
	}
	if _, err := run(t, open, "ingest", "--title", "x", "a.pdf", "b.pdf"); err == nil {
		t.Fatal("--title with several files should fail")
	}
}

func TestPrintAnswer(t *testing.T) {
	res := &services.QueryResult{
		Answer: "Isolate energy sources [1].",
		Citations: []models.Citation{
			{Index: 1, Title: "Safety Manual", PageOrSlide: "Page 3"},
		},
	}
	var buf bytes.Buffer
	if err := printAnswer(&buf, res, false); err != nil {
		t.Fatal(err)
	}
	want := "Isolate energy sources [1].\n\n[1] Safety Manual (Page 3)\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}

	buf.Reset()
	if err := printAnswer(&buf, res, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"page_or_slide": "Page 3"`) {
		t.Fatalf("json output missing citation: %s", buf.String())
	}
}
