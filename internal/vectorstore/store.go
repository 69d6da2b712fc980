// Package vectorstore defines the nearest-neighbour index used for chunk retrieval.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"rag-knowledge-platform/models"
)

var (
	// ErrVectorStore matches every *Error.
	ErrVectorStore        = errors.New("vector store error")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
)

// Error carries the request and the store's raw response for diagnosis.
type Error struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("vector store %s %s", e.Op, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrVectorStore }

// Payload is stored next to every vector so a search hit is self-describing.
type Payload struct {
	ChunkID     string            `json:"chunkId"`
	DocumentID  string            `json:"documentId"`
	Title       string            `json:"title"`
	SourceType  models.SourceType `json:"sourceType"`
	ChunkIndex  int               `json:"chunkIndex"`
	PageNumber  int               `json:"pageNumber,omitempty"`
	SlideNumber int               `json:"slideNumber,omitempty"`
	Content     string            `json:"content"`
	CreatedAt   string            `json:"createdAt"`
}

type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

type SearchResult struct {
	ID      string
	Score   float64
	Payload Payload
}

// Filter restricts a search to any of the listed documents. Empty means no restriction.
type Filter struct {
	DocumentIDs []string
}

type Store interface {
	// EnsureCollection creates the collection if absent. An existing
	// collection with another vector size yields ErrDimensionMismatch.
	EnsureCollection(ctx context.Context, dim int) error
	// Upsert overwrites points with the same id.
	Upsert(ctx context.Context, points []Point) error
	// Search returns at most k hits ordered by descending score.
	Search(ctx context.Context, vector []float32, k int, filter Filter) ([]SearchResult, error)
	// DeleteByDocument removes every point of the document. A missing collection is not an error.
	DeleteByDocument(ctx context.Context, documentID string) error
	Health(ctx context.Context) error
}

var pointNamespace = uuid.MustParse("6f1c1a8e-3b1e-4d55-9a57-8f0b7f2c4e10")

// PointID is stable for a (document, chunk index) pair so re-indexing
// overwrites rather than duplicates.
func PointID(documentID string, chunkIndex int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s:%d", documentID, chunkIndex))).String()
}

// CosineSimilarity returns 0 for mismatched or zero-length vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
