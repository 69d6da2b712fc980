package services

import (
	"fmt"
	"strings"
)

// Chunk is a window of normalized block text. Index is global across all
// blocks of a document.
type Chunk struct {
	Content     string
	Index       int
	PageNumber  int
	SlideNumber int
}

// NormalizeText collapses every whitespace run to a single space and trims.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ChunkBlocks splits each block's normalized text into windows of size
// characters overlapping by overlap characters. Windows start at
// k*(size-overlap) and the last one ends at the block end.
func ChunkBlocks(blocks []Block, size, overlap int) ([]Chunk, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("invalid chunking parameters: size=%d overlap=%d", size, overlap)
	}

	var chunks []Chunk
	index := 0
	for _, b := range blocks {
		text := []rune(NormalizeText(b.Text))
		if len(text) == 0 {
			continue
		}

		for pos := 0; ; pos += size - overlap {
			end := min(pos+size, len(text))
			chunks = append(chunks, Chunk{
				Content:     string(text[pos:end]),
				Index:       index,
				PageNumber:  b.PageNumber,
				SlideNumber: b.SlideNumber,
			})
			index++
			if end == len(text) {
				break
			}
		}
	}
	return chunks, nil
}
