// Package qdrant talks to a Qdrant server over its REST or gRPC API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rag-knowledge-platform/internal/vectorstore"
)

const maxErrorBody = 2048

type Config struct {
	URL        string // REST base URL
	GRPCAddr   string // host:port of the gRPC API
	APIKey     string
	Collection string
	Timeout    time.Duration
}

const defaultTimeout = 15 * time.Second

// RESTStore is a REST client to Qdrant using cosine distance.
type RESTStore struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

func NewRESTStore(cfg Config) *RESTStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &RESTStore{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *RESTStore) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

func (s *RESTStore) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid dimension %d", dim)
	}

	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors json.RawMessage `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := s.do(ctx, "get_collection", http.MethodGet, s.collectionURL(), nil, &info)
	switch {
	case err == nil:
		size, perr := vectorSize(info.Result.Config.Params.Vectors)
		if perr != nil {
			return &vectorstore.Error{Op: "get_collection", URL: s.collectionURL(), Err: perr}
		}
		if size != dim {
			return &vectorstore.Error{
				Op:  "ensure_collection",
				URL: s.collectionURL(),
				Err: fmt.Errorf("%w: collection %s has size %d, embeddings have %d", vectorstore.ErrDimensionMismatch, s.collection, size, dim),
			}
		}
		return nil
	case !errors.Is(err, vectorstore.ErrCollectionNotFound):
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, "create_collection", http.MethodPut, s.collectionURL(), body, nil); err != nil {
		return err
	}
	// keyword index for document filters
	index := map[string]any{"field_name": "documentId", "field_schema": "keyword"}
	return s.do(ctx, "create_index", http.MethodPut, s.collectionURL()+"/index?wait=true", index, nil)
}

// vectorSize handles both the single unnamed vector form and named vectors.
func vectorSize(raw json.RawMessage) (int, error) {
	var single struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal(raw, &single); err == nil && single.Size > 0 {
		return single.Size, nil
	}
	var named map[string]struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal(raw, &named); err == nil {
		for _, v := range named {
			return v.Size, nil
		}
	}
	return 0, fmt.Errorf("unrecognised vectors config: %s", string(raw))
}

type restPoint struct {
	ID      string              `json:"id"`
	Vector  []float32           `json:"vector"`
	Payload vectorstore.Payload `json:"payload"`
}

func (s *RESTStore) Upsert(ctx context.Context, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	body := struct {
		Points []restPoint `json:"points"`
	}{Points: make([]restPoint, len(points))}
	for i, p := range points {
		body.Points[i] = restPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}
	return s.do(ctx, "upsert", http.MethodPut, s.collectionURL()+"/points?wait=true", body, nil)
}

func documentFilter(filter vectorstore.Filter) map[string]any {
	if len(filter.DocumentIDs) == 0 {
		return nil
	}
	return map[string]any{
		"must": []any{
			map[string]any{
				"key":   "documentId",
				"match": map[string]any{"any": filter.DocumentIDs},
			},
		},
	}
}

func (s *RESTStore) Search(ctx context.Context, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.SearchResult, error) {
	if k <= 0 {
		k = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if f := documentFilter(filter); f != nil {
		req["filter"] = f
	}

	var resp struct {
		Result []struct {
			ID      json.RawMessage     `json:"id"`
			Score   float64             `json:"score"`
			Payload vectorstore.Payload `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, "search", http.MethodPost, s.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, err
	}

	results := make([]vectorstore.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, vectorstore.SearchResult{
			ID:      strings.Trim(string(r.ID), `"`),
			Score:   r.Score,
			Payload: r.Payload,
		})
	}
	return results, nil
}

func (s *RESTStore) DeleteByDocument(ctx context.Context, documentID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []any{
				map[string]any{
					"key":   "documentId",
					"match": map[string]any{"value": documentID},
				},
			},
		},
	}
	err := s.do(ctx, "delete", http.MethodPost, s.collectionURL()+"/points/delete?wait=true", body, nil)
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return nil
	}
	return err
}

func (s *RESTStore) Health(ctx context.Context) error {
	return s.do(ctx, "health", http.MethodGet, s.url+"/collections", nil, nil)
}

func (s *RESTStore) do(ctx context.Context, op, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &vectorstore.Error{Op: op, URL: url, Err: err}
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return &vectorstore.Error{Op: op, URL: url, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &vectorstore.Error{Op: op, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		vErr := &vectorstore.Error{Op: op, URL: url, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		if resp.StatusCode == http.StatusNotFound {
			vErr.Err = vectorstore.ErrCollectionNotFound
		}
		return vErr
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &vectorstore.Error{Op: op, URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}
