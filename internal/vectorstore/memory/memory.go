// Package memory is an in-process vector index with exact cosine search.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"rag-knowledge-platform/internal/vectorstore"
)

type Store struct {
	mu     sync.RWMutex
	dim    int
	points map[string]vectorstore.Point
}

func New() *Store {
	return &Store{}
}

func (s *Store) EnsureCollection(_ context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid dimension %d", dim)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.points == nil {
		s.dim = dim
		s.points = make(map[string]vectorstore.Point)
		return nil
	}
	if s.dim != dim {
		return &vectorstore.Error{Op: "ensure_collection", URL: "memory", Err: fmt.Errorf("%w: have %d, want %d", vectorstore.ErrDimensionMismatch, s.dim, dim)}
	}
	return nil
}

func (s *Store) Upsert(_ context.Context, points []vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.points == nil {
		return &vectorstore.Error{Op: "upsert", URL: "memory", StatusCode: 404, Err: vectorstore.ErrCollectionNotFound}
	}
	for _, p := range points {
		if len(p.Vector) != s.dim {
			return &vectorstore.Error{Op: "upsert", URL: "memory", StatusCode: 400, Err: fmt.Errorf("%w: point %s has %d", vectorstore.ErrDimensionMismatch, p.ID, len(p.Vector))}
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		p.Vector = vec
		s.points[p.ID] = p
	}
	return nil
}

func (s *Store) Search(_ context.Context, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.points == nil {
		return nil, &vectorstore.Error{Op: "search", URL: "memory", StatusCode: 404, Err: vectorstore.ErrCollectionNotFound}
	}
	allowed := make(map[string]bool, len(filter.DocumentIDs))
	for _, id := range filter.DocumentIDs {
		allowed[id] = true
	}

	results := make([]vectorstore.SearchResult, 0, len(s.points))
	for id, p := range s.points {
		if len(allowed) > 0 && !allowed[p.Payload.DocumentID] {
			continue
		}
		results = append(results, vectorstore.SearchResult{
			ID:      id,
			Score:   vectorstore.CosineSimilarity(vector, p.Vector),
			Payload: p.Payload,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *Store) DeleteByDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if p.Payload.DocumentID == documentID {
			delete(s.points, id)
		}
	}
	return nil
}

func (s *Store) Health(context.Context) error { return nil }

// Count returns the number of stored points, optionally for one document.
func (s *Store) Count(documentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.points {
		if documentID == "" || p.Payload.DocumentID == documentID {
			n++
		}
	}
	return n
}
