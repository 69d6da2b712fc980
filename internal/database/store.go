// Package database persists documents, ingestion jobs, chunks, provider
// settings, chat history and audit events.
package database

import (
	"context"
	"errors"
	"time"

	"rag-knowledge-platform/models"
)

var ErrNotFound = errors.New("not found")

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// ListDocuments returns newest first.
	ListDocuments(ctx context.Context) ([]models.Document, error)
	UpdateDocument(ctx context.Context, id string, update models.DocumentUpdate) error
	DeleteDocument(ctx context.Context, id string) error
}

type JobStore interface {
	CreateJob(ctx context.Context, job *models.IngestionJob) error
	GetJob(ctx context.Context, id string) (*models.IngestionJob, error)
	// NextPendingJob returns the oldest PENDING job, or nil when there is none.
	NextPendingJob(ctx context.Context) (*models.IngestionJob, error)
	// UpdateJob applies the non-nil fields. Progress is only ever raised.
	UpdateJob(ctx context.Context, id string, update models.JobUpdate) error
	ListJobsByStatus(ctx context.Context, status string) ([]models.IngestionJob, error)
	LatestJobForDocument(ctx context.Context, documentID string) (*models.IngestionJob, error)
	DeleteJobsForDocument(ctx context.Context, documentID string) error
}

type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error
	DeleteChunksByDocument(ctx context.Context, documentID string) error
	CountChunks(ctx context.Context, documentID string) (int, error)
}

type ProviderStore interface {
	// GetProviderConfig returns ErrNotFound before the singleton is first saved.
	GetProviderConfig(ctx context.Context) (*models.ProviderConfig, error)
	SaveProviderConfig(ctx context.Context, cfg *models.ProviderConfig) error
	// GetPreference returns nil, nil when the user has no preference.
	GetPreference(ctx context.Context, userID string) (*models.UserProviderPreference, error)
	SavePreference(ctx context.Context, pref *models.UserProviderPreference) error
}

type ChatStore interface {
	CreateSession(ctx context.Context, session *models.ChatSession) error
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	AddMessage(ctx context.Context, msg *models.ChatMessage) error
	// ListMessages returns oldest first.
	ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
}

type AuditStore interface {
	InsertAuditEvent(ctx context.Context, event *models.AuditEvent) error
	// LastAuditEvent returns nil, nil when the log is empty.
	LastAuditEvent(ctx context.Context) (*models.AuditEvent, error)
	// ListAuditEvents returns events in sequence order. limit <= 0 means all.
	ListAuditEvents(ctx context.Context, limit int) ([]models.AuditEvent, error)
}

type Store interface {
	DocumentStore
	JobStore
	ChunkStore
	ProviderStore
	ChatStore
	AuditStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
