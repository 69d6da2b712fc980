package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rag-knowledge-platform/internal/ai"
	"rag-knowledge-platform/internal/database"
	"rag-knowledge-platform/internal/queue"
	"rag-knowledge-platform/internal/telemetry"
	"rag-knowledge-platform/internal/vectorstore"
	"rag-knowledge-platform/models"
)

const upsertBatchSize = 128

// Embedder is the part of the provider gateway ingestion and queries need.
type Embedder interface {
	Embed(ctx context.Context, text string, kind models.ProviderKind) (ai.EmbedResult, error)
}

type IngestionStore interface {
	database.DocumentStore
	database.JobStore
	database.ChunkStore
}

type IngestionOptions struct {
	Store        IngestionStore
	Files        FileStorage
	Extractor    *Extractor
	Embedder     Embedder
	Vectors      vectorstore.Store
	Providers    *ProviderConfigService
	ChunkSize    int
	ChunkOverlap int
	MaxFileSize  int64
	Logger       *slog.Logger
	Metrics      *telemetry.Metrics
}

// IngestionService turns uploaded files into indexed chunks. Jobs run one at
// a time on the scheduler it owns.
type IngestionService struct {
	store        IngestionStore
	files        FileStorage
	extractor    *Extractor
	embedder     Embedder
	vectors      vectorstore.Store
	providers    *ProviderConfigService
	chunkSize    int
	chunkOverlap int
	maxFileSize  int64
	scheduler    *queue.Scheduler
	logger       *slog.Logger
	metrics      *telemetry.Metrics
	tracer       trace.Tracer
	now          func() time.Time
}

func NewIngestionService(opts IngestionOptions) *IngestionService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	extractor := opts.Extractor
	if extractor == nil {
		extractor = NewExtractor(opts.MaxFileSize)
	}
	s := &IngestionService{
		store:        opts.Store,
		files:        opts.Files,
		extractor:    extractor,
		embedder:     opts.Embedder,
		vectors:      opts.Vectors,
		providers:    opts.Providers,
		chunkSize:    opts.ChunkSize,
		chunkOverlap: opts.ChunkOverlap,
		maxFileSize:  opts.MaxFileSize,
		logger:       logger,
		metrics:      opts.Metrics,
		tracer:       otel.Tracer("ingestion"),
		now:          func() time.Time { return time.Now().UTC() },
	}
	s.scheduler = queue.NewScheduler(opts.Store, s.ProcessJob, logger)
	return s
}

func (s *IngestionService) Scheduler() *queue.Scheduler {
	return s.scheduler
}

// UploadInput describes a file received from a client.
type UploadInput struct {
	Filename    string
	Title       string
	Size        int64
	ContentType string
	Body        io.Reader
	UploadedBy  string
}

// Upload stores the file, records the document and enqueues its first job.
func (s *IngestionService) Upload(ctx context.Context, in UploadInput) (*models.Document, *models.IngestionJob, error) {
	sourceType, err := InferSourceType(in.Filename)
	if err != nil {
		return nil, nil, err
	}
	if s.maxFileSize > 0 && in.Size > s.maxFileSize {
		return nil, nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidInput, s.maxFileSize)
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(in.Filename), filepath.Ext(in.Filename))
	}

	now := s.now()
	doc := &models.Document{
		ID:           uuid.NewString(),
		Title:        title,
		OriginalName: in.Filename,
		SourceType:   sourceType,
		Size:         in.Size,
		Status:       models.DocumentStatusUploaded,
		UploadedBy:   in.UploadedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	doc.FilePath = ObjectKey(doc.ID, string(sourceType))

	if err := s.files.Save(ctx, doc.FilePath, in.Body, in.Size, in.ContentType); err != nil {
		return nil, nil, fmt.Errorf("store upload: %w", err)
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		_ = s.files.Delete(context.Background(), doc.FilePath)
		return nil, nil, fmt.Errorf("create document: %w", err)
	}

	job, err := s.Enqueue(ctx, doc.ID)
	if err != nil {
		return doc, nil, err
	}
	s.logger.Info("Document uploaded", "document_id", doc.ID, "source_type", sourceType, "size", in.Size)
	return doc, job, nil
}

// Enqueue records a PENDING job for the document and wakes the worker. It
// returns before any processing happens.
func (s *IngestionService) Enqueue(ctx context.Context, documentID string) (*models.IngestionJob, error) {
	if _, err := s.getDocument(ctx, documentID); err != nil {
		return nil, err
	}

	now := s.now()
	job := &models.IngestionJob{
		ID:         newJobID(),
		DocumentID: documentID,
		Status:     models.JobStatusPending,
		Stage:      models.StageQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	// The reset must land before the job exists; a running worker may finish
	// the job at any point after CreateJob.
	if err := s.store.UpdateDocument(ctx, documentID, models.DocumentUpdate{
		Status:       models.StringPtr(models.DocumentStatusUploaded),
		ErrorMessage: models.StringPtr(""),
	}); err != nil {
		s.logger.Warn("Failed to reset document status", "document_id", documentID, "error", err)
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create ingestion job: %w", err)
	}

	s.scheduler.Kick()
	return job, nil
}

// newJobID returns a time-ordered UUIDv7. Ids from one process sort in
// creation order, which breaks created_at ties when pending jobs are pulled.
func newJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *IngestionService) getDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", id, err)
	}
	return doc, nil
}

// ProcessJob runs one job to COMPLETED or FAILED. Errors and panics are
// recorded on the job and the document, never returned.
func (s *IngestionService) ProcessJob(ctx context.Context, job *models.IngestionJob) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ingest.job", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("document.id", job.DocumentID),
	))
	defer span.End()

	log := s.logger.With("job_id", job.ID, "document_id", job.DocumentID)
	log.Info("Ingestion job started")

	chunkCount, err := s.runJob(ctx, job, log)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.fail(job, err, log)
		s.metrics.RecordIngestion(models.JobStatusFailed, elapsed.Seconds())
		return
	}

	span.SetAttributes(attribute.Int("chunks", chunkCount))
	s.metrics.RecordIngestion(models.JobStatusCompleted, elapsed.Seconds())
	log.Info("Ingestion job completed", "chunks", chunkCount, "duration_ms", elapsed.Milliseconds())
}

func (s *IngestionService) runJob(ctx context.Context, job *models.IngestionJob, log *slog.Logger) (chunkCount int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingestion panicked: %v", r)
		}
	}()

	if err := s.advance(ctx, job.ID, models.JobUpdate{
		Status:    models.StringPtr(models.JobStatusRunning),
		StartedAt: models.TimePtr(s.now()),
		Error:     models.StringPtr(""),
	}, models.StageExtract, models.ProgressExtract); err != nil {
		return 0, err
	}

	doc, err := s.getDocument(ctx, job.DocumentID)
	if err != nil {
		return 0, err
	}
	if err := s.store.UpdateDocument(ctx, doc.ID, models.DocumentUpdate{
		Status:       models.StringPtr(models.DocumentStatusProcessing),
		ErrorMessage: models.StringPtr(""),
	}); err != nil {
		return 0, fmt.Errorf("mark document processing: %w", err)
	}

	path, cleanup, err := s.files.Fetch(ctx, doc.FilePath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrExtractionFailure, err)
	}
	defer cleanup()

	blocks, err := s.extractor.Extract(ctx, path, doc.SourceType)
	if err != nil {
		return 0, err
	}

	if err := s.advance(ctx, job.ID, models.JobUpdate{}, models.StageChunk, models.ProgressChunk); err != nil {
		return 0, err
	}
	chunks, err := ChunkBlocks(blocks, s.chunkSize, s.chunkOverlap)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: no text found in document", ErrExtractionFailure)
	}
	log.Debug("Document chunked", "blocks", len(blocks), "chunks", len(chunks))

	// Reindexing replaces everything stored for the document.
	if err := s.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
		return 0, fmt.Errorf("delete previous vectors: %w", err)
	}
	if err := s.store.DeleteChunksByDocument(ctx, doc.ID); err != nil {
		return 0, fmt.Errorf("delete previous chunks: %w", err)
	}

	if err := s.advance(ctx, job.ID, models.JobUpdate{}, models.StageEmbed, models.ProgressEmbed); err != nil {
		return 0, err
	}
	points, records, err := s.embedChunks(ctx, job, doc, chunks, log)
	if err != nil {
		return 0, err
	}

	if err := s.advance(ctx, job.ID, models.JobUpdate{}, models.StageUpsert, models.ProgressUpsert); err != nil {
		return 0, err
	}
	if err := s.vectors.EnsureCollection(ctx, len(points[0].Vector)); err != nil {
		return 0, fmt.Errorf("ensure collection: %w", err)
	}
	for i := 0; i < len(points); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(points))
		if err := s.vectors.Upsert(ctx, points[i:end]); err != nil {
			return 0, fmt.Errorf("upsert vectors: %w", err)
		}
	}
	if err := s.store.InsertChunks(ctx, records); err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}

	finished := s.now()
	if err := s.store.UpdateDocument(ctx, doc.ID, models.DocumentUpdate{
		Status:       models.StringPtr(models.DocumentStatusIndexed),
		ErrorMessage: models.StringPtr(""),
		ChunkCount:   models.IntPtr(len(chunks)),
		IndexedAt:    models.TimePtr(finished),
	}); err != nil {
		return 0, fmt.Errorf("mark document indexed: %w", err)
	}
	if err := s.advance(ctx, job.ID, models.JobUpdate{
		Status:     models.StringPtr(models.JobStatusCompleted),
		ChunkCount: models.IntPtr(len(chunks)),
		FinishedAt: models.TimePtr(finished),
	}, models.StageDone, models.ProgressDone); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// embedChunks embeds sequentially in index order, persisting progress after
// each chunk.
func (s *IngestionService) embedChunks(ctx context.Context, job *models.IngestionJob, doc *models.Document, chunks []Chunk, log *slog.Logger) ([]vectorstore.Point, []models.DocumentChunk, error) {
	kind := models.ProviderLocal
	if s.providers != nil {
		cfg, err := s.providers.Get(ctx)
		if err != nil {
			return nil, nil, err
		}
		kind = cfg.DefaultEmbedProvider
	}

	createdAt := s.now()
	points := make([]vectorstore.Point, 0, len(chunks))
	records := make([]models.DocumentChunk, 0, len(chunks))
	span := models.ProgressEmbedEnd - models.ProgressEmbed

	for i, c := range chunks {
		res, err := s.embedder.Embed(ctx, c.Content, kind)
		if err != nil {
			return nil, nil, fmt.Errorf("embed chunk %d: %w", c.Index, err)
		}
		if len(res.Vector) == 0 {
			return nil, nil, fmt.Errorf("embed chunk %d: %w", c.Index, &ai.ProviderError{Op: ai.OpEmbed, Provider: res.Provider, Err: errors.New("empty embedding")})
		}
		if i > 0 && len(res.Vector) != len(points[0].Vector) {
			return nil, nil, fmt.Errorf("embed chunk %d: %w: got %d, want %d", c.Index, vectorstore.ErrDimensionMismatch, len(res.Vector), len(points[0].Vector))
		}

		update := models.JobUpdate{Progress: models.IntPtr(models.ProgressEmbed + (i+1)*span/len(chunks))}
		if i == 0 {
			update.EmbedProvider = models.StringPtr(res.Provider)
			update.EmbedModel = models.StringPtr(res.Model)
			update.EmbedFallback = models.BoolPtr(res.FellBack)
			update.EmbedFallbackReason = models.StringPtr(res.FallbackReason)
			if res.FellBack {
				log.Warn("Embedding served by local fallback", "reason", res.FallbackReason)
			}
		}
		if err := s.store.UpdateJob(ctx, job.ID, update); err != nil {
			return nil, nil, fmt.Errorf("update job progress: %w", err)
		}

		id := vectorstore.PointID(doc.ID, c.Index)
		points = append(points, vectorstore.Point{
			ID:     id,
			Vector: res.Vector,
			Payload: vectorstore.Payload{
				ChunkID:     id,
				DocumentID:  doc.ID,
				Title:       doc.Title,
				SourceType:  doc.SourceType,
				ChunkIndex:  c.Index,
				PageNumber:  c.PageNumber,
				SlideNumber: c.SlideNumber,
				Content:     c.Content,
				CreatedAt:   createdAt.Format(time.RFC3339),
			},
		})
		records = append(records, models.DocumentChunk{
			ID:          id,
			DocumentID:  doc.ID,
			Title:       doc.Title,
			SourceType:  doc.SourceType,
			ChunkIndex:  c.Index,
			PageNumber:  c.PageNumber,
			SlideNumber: c.SlideNumber,
			Content:     c.Content,
			CreatedAt:   createdAt,
		})
	}
	return points, records, nil
}

func (s *IngestionService) advance(ctx context.Context, jobID string, update models.JobUpdate, stage string, progress int) error {
	update.Stage = models.StringPtr(stage)
	update.Progress = models.IntPtr(progress)
	if err := s.store.UpdateJob(ctx, jobID, update); err != nil {
		return fmt.Errorf("update job %s to %s: %w", jobID, stage, err)
	}
	return nil
}

func (s *IngestionService) fail(job *models.IngestionJob, cause error, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := cause.Error()
	log.Error("Ingestion job failed", "error", msg)

	if err := s.store.UpdateJob(ctx, job.ID, models.JobUpdate{
		Status:     models.StringPtr(models.JobStatusFailed),
		Stage:      models.StringPtr(models.StageFailed),
		Error:      models.StringPtr(msg),
		FinishedAt: models.TimePtr(s.now()),
	}); err != nil {
		log.Error("Failed to record job failure", "error", err)
	}
	if err := s.store.UpdateDocument(ctx, job.DocumentID, models.DocumentUpdate{
		Status:       models.StringPtr(models.DocumentStatusFailed),
		ErrorMessage: models.StringPtr(msg),
	}); err != nil && !errors.Is(err, database.ErrNotFound) {
		log.Error("Failed to record document failure", "error", err)
	}
}

// RecoverInterrupted fails jobs a previous process left RUNNING. It must run
// before the scheduler is first kicked.
func (s *IngestionService) RecoverInterrupted(ctx context.Context) (int, error) {
	jobs, err := s.store.ListJobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list running jobs: %w", err)
	}
	for i := range jobs {
		job := &jobs[i]
		s.fail(job, errors.New("interrupted: worker stopped before the job finished"), s.logger.With("job_id", job.ID, "document_id", job.DocumentID))
	}
	if len(jobs) > 0 {
		s.logger.Warn("Recovered interrupted ingestion jobs", "count", len(jobs))
	}
	return len(jobs), nil
}

// Drain runs every PENDING job and returns once the queue is empty.
func (s *IngestionService) Drain(ctx context.Context) error {
	s.scheduler.Kick()
	return s.scheduler.Wait(ctx)
}

// Job returns a job by id.
func (s *IngestionService) Job(ctx context.Context, id string) (*models.IngestionJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	return job, err
}

// LatestJob returns the most recent job of a document.
func (s *IngestionService) LatestJob(ctx context.Context, documentID string) (*models.IngestionJob, error) {
	if _, err := s.getDocument(ctx, documentID); err != nil {
		return nil, err
	}
	job, err := s.store.LatestJobForDocument(ctx, documentID)
	if errors.Is(err, database.ErrNotFound) || (err == nil && job == nil) {
		return nil, fmt.Errorf("%w: no job for document %s", ErrNotFound, documentID)
	}
	return job, err
}

// ListDocuments returns every document with its latest job, newest first.
func (s *IngestionService) ListDocuments(ctx context.Context) ([]models.DocumentView, error) {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	views := make([]models.DocumentView, 0, len(docs))
	for _, d := range docs {
		job, err := s.store.LatestJobForDocument(ctx, d.ID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("latest job for %s: %w", d.ID, err)
		}
		views = append(views, models.DocumentView{Document: d, LatestJob: job})
	}
	return views, nil
}

// DeleteDocument removes the document with its vectors, chunks, jobs and file.
func (s *IngestionService) DeleteDocument(ctx context.Context, documentID string) error {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if latest, err := s.store.LatestJobForDocument(ctx, documentID); err == nil && latest != nil && latest.Status == models.JobStatusRunning {
		return fmt.Errorf("%w: document %s is being indexed", ErrConflict, documentID)
	}

	if err := s.vectors.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := s.store.DeleteChunksByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := s.store.DeleteJobsForDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete jobs: %w", err)
	}
	if err := s.files.Delete(ctx, doc.FilePath); err != nil {
		s.logger.Warn("Failed to delete stored file", "document_id", documentID, "error", err)
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	s.logger.Info("Document deleted", "document_id", documentID)
	return nil
}
