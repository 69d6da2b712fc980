package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"rag-knowledge-platform/internal/vectorstore"
)

// fakeQdrant records requests and serves canned responses per path.
type fakeQdrant struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string]map[string]any
	size     int // 0 = collection missing
}

func (f *fakeQdrant) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		key := r.Method + " " + r.URL.Path
		f.requests = append(f.requests, key)
		if r.Body != nil {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if f.bodies == nil {
				f.bodies = map[string]map[string]any{}
			}
			f.bodies[key] = body
		}
		if r.Header.Get("api-key") != "secret" {
			t.Errorf("missing api-key header on %s", key)
		}

		switch {
		case key == "GET /collections/chunks":
			if f.size == 0 {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"status":{"error":"Not found: Collection chunks doesn't exist!"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"result":{"config":{"params":{"vectors":{"size":` + itoa(f.size) + `,"distance":"Cosine"}}}}}`))
		case key == "PUT /collections/chunks":
			f.size = 3
			_, _ = w.Write([]byte(`{"result":true}`))
		case key == "POST /collections/chunks/points/search":
			_, _ = w.Write([]byte(`{"result":[{"id":"p1","score":0.9,"payload":{"chunkId":"p1","documentId":"d1","title":"Manual","sourceType":"pdf","chunkIndex":0,"pageNumber":4,"content":"hello"}}]}`))
		case key == "PUT /collections/missing/points":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":{"error":"Not found"}}`))
		case key == "POST /collections/missing/points/delete":
			w.WriteHeader(http.StatusNotFound)
		case strings.HasPrefix(key, "PUT /collections/broken"):
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"status":{"error":"disk full"}}`))
		default:
			_, _ = w.Write([]byte(`{"result":true}`))
		}
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newTestStore(t *testing.T, collection string) (*RESTStore, *fakeQdrant) {
	f := &fakeQdrant{}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewRESTStore(Config{URL: srv.URL, APIKey: "secret", Collection: collection}), f
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	s, f := newTestStore(t, "chunks")
	if err := s.EnsureCollection(context.Background(), 3); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	want := []string{"GET /collections/chunks", "PUT /collections/chunks", "PUT /collections/chunks/index"}
	if strings.Join(f.requests, ",") != strings.Join(want, ",") {
		t.Fatalf("requests = %v", f.requests)
	}

	// second call only reads
	if err := s.EnsureCollection(context.Background(), 3); err != nil {
		t.Fatalf("second EnsureCollection: %v", err)
	}
	if len(f.requests) != 4 {
		t.Fatalf("expected idempotent read, got %v", f.requests)
	}
}

func TestEnsureCollectionDimensionMismatch(t *testing.T) {
	s, f := newTestStore(t, "chunks")
	f.size = 768
	err := s.EnsureCollection(context.Background(), 384)
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestSearchSendsFilterAndDecodesPayload(t *testing.T) {
	s, f := newTestStore(t, "chunks")
	res, err := s.Search(context.Background(), []float32{1, 0, 0}, 16, vectorstore.Filter{DocumentIDs: []string{"d1", "d2"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || res[0].ID != "p1" || res[0].Payload.PageNumber != 4 || res[0].Payload.Title != "Manual" {
		t.Fatalf("unexpected results: %+v", res)
	}
	body := f.bodies["POST /collections/chunks/points/search"]
	if body["limit"].(float64) != 16 || body["with_payload"] != true {
		t.Errorf("unexpected search body: %v", body)
	}
	if _, ok := body["filter"]; !ok {
		t.Errorf("document filter not sent: %v", body)
	}
}

func TestErrorsCarryStatusAndBody(t *testing.T) {
	s, _ := newTestStore(t, "broken")
	err := s.Upsert(context.Background(), []vectorstore.Point{{ID: "x", Vector: []float32{1}}})
	var vErr *vectorstore.Error
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *vectorstore.Error, got %v", err)
	}
	if vErr.StatusCode != 500 || !strings.Contains(vErr.Body, "disk full") || !strings.Contains(vErr.URL, "/collections/broken/points") {
		t.Fatalf("missing details: %+v", vErr)
	}
	if !errors.Is(err, vectorstore.ErrVectorStore) {
		t.Error("expected ErrVectorStore")
	}
}

func TestMissingCollection(t *testing.T) {
	s, _ := newTestStore(t, "missing")
	err := s.Upsert(context.Background(), []vectorstore.Point{{ID: "x", Vector: []float32{1}}})
	if !errors.Is(err, vectorstore.ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
	if err := s.DeleteByDocument(context.Background(), "d1"); err != nil {
		t.Fatalf("delete on missing collection should be a no-op, got %v", err)
	}
}
