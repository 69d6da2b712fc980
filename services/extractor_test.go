package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rag-knowledge-platform/models"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestInferSourceType(t *testing.T) {
	tests := []struct {
		name    string
		want    models.SourceType
		wantErr bool
	}{
		{"manual.pdf", models.SourceTypePDF, false},
		{"Manual.PDF", models.SourceTypePDF, false},
		{"notes.docx", models.SourceTypeDOCX, false},
		{"deck.pptx", models.SourceTypePPTX, false},
		{"old.ppt", models.SourceTypePPT, false},
		{"sheet.xlsx", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		got, err := InferSourceType(tt.name)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("%s: expected ErrUnsupportedFormat, got %v", tt.name, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%s: got %q, %v; want %q", tt.name, got, err, tt.want)
		}
	}
}

func TestExtractDOCX(t *testing.T) {
	path := writeFile(t, "a.docx", docxBytes(t, "First paragraph & more.", "Second paragraph."))

	blocks, err := NewExtractor(0).Extract(context.Background(), path, models.SourceTypeDOCX)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("expected one block, got %d", len(blocks))
	}
	b := blocks[0]
	if b.PageNumber != 0 || b.SlideNumber != 0 {
		t.Fatalf("docx blocks have no anchors, got %+v", b)
	}
	if b.Text != "First paragraph & more.\nSecond paragraph." {
		t.Fatalf("unexpected text %q", b.Text)
	}
}

func TestExtractPPTXOrdersSlidesNumerically(t *testing.T) {
	data := buildZip(t, map[string]string{
		"ppt/slides/slide10.xml":            slideXML(t, "tenth"),
		"ppt/slides/slide2.xml":             slideXML(t, "second", "slide"),
		"ppt/slides/slide1.xml":             slideXML(t, "first"),
		"ppt/slides/_rels/slide1.xml.rels":  `<Relationships/>`,
		"ppt/slideLayouts/slideLayout1.xml": slideXML(t, "layout text"),
	})
	path := writeFile(t, "deck.pptx", data)

	blocks, err := NewExtractor(0).Extract(context.Background(), path, models.SourceTypePPTX)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := []Block{
		{Text: "first", SlideNumber: 1},
		{Text: "second slide", SlideNumber: 2},
		{Text: "tenth", SlideNumber: 3},
	}
	if len(blocks) != len(want) {
		t.Fatalf("got %d blocks, want %d: %+v", len(blocks), len(want), blocks)
	}
	for i := range want {
		if blocks[i] != want[i] {
			t.Errorf("block %d = %+v, want %+v", i, blocks[i], want[i])
		}
	}
}

func TestExtractPPTUsesSlideReader(t *testing.T) {
	path := writeFile(t, "deck.ppt", buildZip(t, map[string]string{
		"ppt/slides/slide1.xml": slideXML(t, "legacy"),
	}))
	blocks, err := NewExtractor(0).Extract(context.Background(), path, models.SourceTypePPT)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Text != "legacy" {
		t.Fatalf("unexpected blocks %+v", blocks)
	}
}

func TestExtractFailures(t *testing.T) {
	ctx := context.Background()
	e := NewExtractor(0)

	tests := []struct {
		name string
		file string
		data []byte
		kind models.SourceType
	}{
		{"corrupt pdf", "bad.pdf", []byte("not a pdf at all"), models.SourceTypePDF},
		{"docx not a zip", "bad.docx", []byte("plain text"), models.SourceTypeDOCX},
		{"docx missing body", "empty.docx", buildZip(t, map[string]string{"other.xml": "<x/>"}), models.SourceTypeDOCX},
		{"docx broken xml", "broken.docx", buildZip(t, map[string]string{"word/document.xml": "<w:document><w:body>"}), models.SourceTypeDOCX},
		{"pptx without slides", "empty.pptx", buildZip(t, map[string]string{"ppt/presentation.xml": "<p/>"}), models.SourceTypePPTX},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.data)
			_, err := e.Extract(ctx, path, tt.kind)
			if !errors.Is(err, ErrExtractionFailure) {
				t.Fatalf("expected ErrExtractionFailure, got %v", err)
			}
		})
	}
}

func TestExtractRejectsUnknownTypeAndLargeFiles(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "a.docx", docxBytes(t, strings.Repeat("x", 2048)))

	if _, err := NewExtractor(0).Extract(ctx, path, "xlsx"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := NewExtractor(100).Extract(ctx, path, models.SourceTypeDOCX); !errors.Is(err, ErrExtractionFailure) {
		t.Fatalf("expected size cap to fail extraction, got %v", err)
	}
	if _, err := NewExtractor(0).Extract(ctx, filepath.Join(t.TempDir(), "missing.pdf"), models.SourceTypePDF); !errors.Is(err, ErrExtractionFailure) {
		t.Fatalf("expected missing file to fail extraction, got %v", err)
	}
}
