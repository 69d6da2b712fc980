package models

import "time"

type SourceType string

const (
	SourceTypePDF  SourceType = "pdf"
	SourceTypeDOCX SourceType = "docx"
	SourceTypePPTX SourceType = "pptx"
	SourceTypePPT  SourceType = "ppt"
)

// Document status values
const (
	DocumentStatusUploaded   = "UPLOADED"
	DocumentStatusProcessing = "PROCESSING"
	DocumentStatusIndexed    = "INDEXED"
	DocumentStatusFailed     = "FAILED"
)

// Document is an uploaded source file and its indexing state.
type Document struct {
	ID           string     `bson:"_id" json:"id"`
	Title        string     `bson:"title" json:"title"`
	OriginalName string     `bson:"original_name" json:"original_name"`
	SourceType   SourceType `bson:"source_type" json:"source_type"`
	FilePath     string     `bson:"file_path" json:"-"` // key in file storage
	Size         int64      `bson:"size" json:"size"`
	Status       string     `bson:"status" json:"status"`
	ErrorMessage string     `bson:"error_message,omitempty" json:"error_message,omitempty"`
	UploadedBy   string     `bson:"uploaded_by" json:"uploaded_by"`
	ChunkCount   int        `bson:"chunk_count" json:"chunk_count"`
	CreatedAt    time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at" json:"updated_at"`
	IndexedAt    *time.Time `bson:"indexed_at,omitempty" json:"indexed_at,omitempty"`
}

// Ingestion job status values
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

// Ingestion stages with the progress value reached when each one starts.
const (
	StageQueued  = "QUEUED"
	StageExtract = "EXTRACT"
	StageChunk   = "CHUNK"
	StageEmbed   = "EMBED"
	StageUpsert  = "UPSERT"
	StageDone    = "DONE"
	StageFailed  = "FAILED"
)

const (
	ProgressExtract  = 10
	ProgressChunk    = 30
	ProgressEmbed    = 50
	ProgressEmbedEnd = 74
	ProgressUpsert   = 75
	ProgressDone     = 100
)

// IngestionJob is one unit of indexing work for a document.
type IngestionJob struct {
	ID                  string     `bson:"_id" json:"id"`
	DocumentID          string     `bson:"document_id" json:"document_id"`
	Status              string     `bson:"status" json:"status"`
	Stage               string     `bson:"stage" json:"stage"`
	Progress            int        `bson:"progress" json:"progress"`
	Error               string     `bson:"error,omitempty" json:"error,omitempty"`
	EmbedProvider       string     `bson:"embed_provider,omitempty" json:"embed_provider,omitempty"`
	EmbedModel          string     `bson:"embed_model,omitempty" json:"embed_model,omitempty"`
	EmbedFallback       bool       `bson:"embed_fallback,omitempty" json:"embed_fallback,omitempty"`
	EmbedFallbackReason string     `bson:"embed_fallback_reason,omitempty" json:"embed_fallback_reason,omitempty"`
	ChunkCount          int        `bson:"chunk_count" json:"chunk_count"`
	CreatedAt           time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `bson:"updated_at" json:"updated_at"`
	StartedAt           *time.Time `bson:"started_at,omitempty" json:"started_at,omitempty"`
	FinishedAt          *time.Time `bson:"finished_at,omitempty" json:"finished_at,omitempty"`
}

// Terminal reports whether the job reached COMPLETED or FAILED.
func (j *IngestionJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// JobUpdate is a partial update. Nil fields are left unchanged and
// Progress never moves backwards.
type JobUpdate struct {
	Status              *string
	Stage               *string
	Progress            *int
	Error               *string
	EmbedProvider       *string
	EmbedModel          *string
	EmbedFallback       *bool
	EmbedFallbackReason *string
	ChunkCount          *int
	StartedAt           *time.Time
	FinishedAt          *time.Time
}

// DocumentUpdate is a partial update of a document's indexing state.
type DocumentUpdate struct {
	Status       *string
	ErrorMessage *string
	ChunkCount   *int
	IndexedAt    *time.Time
}

// DocumentChunk is one indexed window of document text.
type DocumentChunk struct {
	ID          string     `bson:"_id" json:"id"` // equals the vector point id
	DocumentID  string     `bson:"document_id" json:"document_id"`
	Title       string     `bson:"title" json:"title"`
	SourceType  SourceType `bson:"source_type" json:"source_type"`
	ChunkIndex  int        `bson:"chunk_index" json:"chunk_index"`
	PageNumber  int        `bson:"page_number,omitempty" json:"page_number,omitempty"`
	SlideNumber int        `bson:"slide_number,omitempty" json:"slide_number,omitempty"`
	Content     string     `bson:"content" json:"content"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
}

// DocumentView pairs a document with its most recent job for listings.
type DocumentView struct {
	Document
	LatestJob *IngestionJob `json:"latest_job,omitempty"`
}

func StringPtr(s string) *string { return &s }
func IntPtr(i int) *int          { return &i }
func BoolPtr(b bool) *bool       { return &b }
func TimePtr(t time.Time) *time.Time {
	return &t
}
