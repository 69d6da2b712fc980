package qdrant

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rag-knowledge-platform/internal/vectorstore"
)

func TestParseHostPort(t *testing.T) {
	tests := []struct {
		addr     string
		wantHost string
		wantPort int
	}{
		{"qdrant:6334", "qdrant", 6334},
		{"10.0.0.5:7000", "10.0.0.5", 7000},
		{"qdrant:abc", "qdrant", 6334},
		{"", "localhost", 6334},
	}
	for _, tt := range tests {
		host, port := parseHostPort(tt.addr, "localhost", 6334)
		if host != tt.wantHost || port != tt.wantPort {
			t.Errorf("parseHostPort(%q) = %s:%d, want %s:%d", tt.addr, host, port, tt.wantHost, tt.wantPort)
		}
	}
}

func TestGRPCErrorsCarryStatus(t *testing.T) {
	s := &GRPCStore{addr: "qdrant:6334", collection: "chunks"}

	err := s.wrap("search", status.Error(codes.NotFound, "collection chunks not found"))
	var vErr *vectorstore.Error
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *vectorstore.Error, got %T", err)
	}
	if vErr.StatusCode != int(codes.NotFound) || vErr.Op != "search" {
		t.Errorf("unexpected error %+v", vErr)
	}
	if !errors.Is(err, vectorstore.ErrCollectionNotFound) {
		t.Error("not found should match ErrCollectionNotFound")
	}

	err = s.wrap("upsert", status.Error(codes.Unavailable, "connection refused"))
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		t.Error("unavailable must not look like a missing collection")
	}
	if s.wrap("health", nil) != nil {
		t.Error("nil error should stay nil")
	}
}
