package services

import (
	"math"
	"strings"
	"testing"
)

func TestNormalizeText(t *testing.T) {
	got := NormalizeText("  Lockout \n\n tagout\t procedure  ")
	if got != "Lockout tagout procedure" {
		t.Fatalf("got %q", got)
	}
}

func TestChunkCount(t *testing.T) {
	const size, overlap = 100, 20
	for _, n := range []int{1, 50, 100, 101, 180, 181, 500, 999} {
		text := strings.Repeat("a", n)
		chunks, err := ChunkBlocks([]Block{{Text: text}}, size, overlap)
		if err != nil {
			t.Fatalf("ChunkBlocks: %v", err)
		}
		want := 1
		if n > size {
			want = int(math.Ceil(float64(n-overlap) / float64(size-overlap)))
		}
		if len(chunks) != want {
			t.Errorf("n=%d: got %d chunks, want %d", n, len(chunks), want)
		}
	}
}

func TestChunksReconstructNormalizedText(t *testing.T) {
	const size, overlap = 37, 9
	var words []string
	for i := 0; i < 80; i++ {
		words = append(words, "wörd", "energy", "Ω")
	}
	block := Block{Text: strings.Join(words, "  \n ")}
	normalized := []rune(NormalizeText(block.Text))

	chunks, err := ChunkBlocks([]Block{block}, size, overlap)
	if err != nil {
		t.Fatalf("ChunkBlocks: %v", err)
	}

	var rebuilt []rune
	for i, c := range chunks {
		r := []rune(c.Content)
		if len(r) > size {
			t.Fatalf("chunk %d has %d characters", i, len(r))
		}
		if i == 0 {
			rebuilt = append(rebuilt, r...)
			continue
		}
		if string(r[:overlap]) != string(rebuilt[len(rebuilt)-overlap:]) {
			t.Fatalf("chunk %d does not overlap its predecessor", i)
		}
		rebuilt = append(rebuilt, r[overlap:]...)
	}
	if string(rebuilt) != string(normalized) {
		t.Fatal("chunks do not reconstruct the normalized text")
	}
}

func TestChunkIndicesAndAnchors(t *testing.T) {
	blocks := []Block{
		{Text: strings.Repeat("p", 15), PageNumber: 1},
		{Text: "   ", PageNumber: 2},
		{Text: "short", PageNumber: 3},
		{Text: "slide text", SlideNumber: 4},
	}
	chunks, err := ChunkBlocks(blocks, 10, 2)
	if err != nil {
		t.Fatalf("ChunkBlocks: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %+v", chunks)
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
	}
	if chunks[0].PageNumber != 1 || chunks[1].PageNumber != 1 {
		t.Errorf("first block chunks should keep page 1: %+v", chunks[:2])
	}
	if chunks[1].Content != "ppppppp" {
		t.Errorf("final window should be the remainder, got %q", chunks[1].Content)
	}
	if chunks[2].PageNumber != 3 || chunks[3].SlideNumber != 4 {
		t.Errorf("anchors not inherited: %+v", chunks[2:])
	}
}

func TestChunkBlocksRejectsBadParameters(t *testing.T) {
	for _, p := range [][2]int{{0, 0}, {-1, 0}, {10, -1}, {10, 10}, {10, 11}} {
		if _, err := ChunkBlocks([]Block{{Text: "x"}}, p[0], p[1]); err == nil {
			t.Errorf("size=%d overlap=%d: expected error", p[0], p[1])
		}
	}
}
