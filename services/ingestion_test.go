package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"rag-knowledge-platform/internal/database"
	"rag-knowledge-platform/internal/vectorstore/memory"
	"rag-knowledge-platform/models"
)

// recordingStore captures job updates to check ordering and progress.
type recordingStore struct {
	*database.MemoryStore

	mu         sync.Mutex
	progress   map[string][]int
	started    []string
	resetDelay time.Duration
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: database.NewMemoryStore(), progress: make(map[string][]int)}
}

func (r *recordingStore) UpdateJob(ctx context.Context, id string, u models.JobUpdate) error {
	r.mu.Lock()
	if u.Progress != nil {
		r.progress[id] = append(r.progress[id], *u.Progress)
	}
	if u.Status != nil && *u.Status == models.JobStatusRunning {
		r.started = append(r.started, id)
	}
	r.mu.Unlock()
	return r.MemoryStore.UpdateJob(ctx, id, u)
}

// UpdateDocument holds back resets to UPLOADED by resetDelay.
func (r *recordingStore) UpdateDocument(ctx context.Context, id string, u models.DocumentUpdate) error {
	r.mu.Lock()
	delay := r.resetDelay
	r.mu.Unlock()
	if delay > 0 && u.Status != nil && *u.Status == models.DocumentStatusUploaded {
		time.Sleep(delay)
	}
	return r.MemoryStore.UpdateDocument(ctx, id, u)
}

type failingDeleteVectors struct {
	*memory.Store
}

func (failingDeleteVectors) DeleteByDocument(context.Context, string) error {
	return errors.New("qdrant unavailable")
}

type ingestionFixture struct {
	svc     *IngestionService
	store   *recordingStore
	vectors *memory.Store
	embed   *hashEmbedder
}

func newIngestionFixture(t *testing.T) *ingestionFixture {
	t.Helper()
	files, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	f := &ingestionFixture{store: newRecordingStore(), vectors: memory.New(), embed: newHashEmbedder()}
	f.svc = NewIngestionService(IngestionOptions{
		Store:        f.store,
		Files:        files,
		Embedder:     f.embed,
		Vectors:      f.vectors,
		ChunkSize:    60,
		ChunkOverlap: 10,
		MaxFileSize:  1 << 20,
		Logger:       quietLogger(),
	})
	return f
}

func (f *ingestionFixture) upload(t *testing.T, name string, data []byte) (*models.Document, *models.IngestionJob) {
	t.Helper()
	doc, job, err := f.svc.Upload(context.Background(), UploadInput{
		Filename:   name,
		Size:       int64(len(data)),
		Body:       bytes.NewReader(data),
		UploadedBy: "admin",
	})
	if err != nil {
		t.Fatalf("Upload %s: %v", name, err)
	}
	return doc, job
}

func (f *ingestionFixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.svc.Scheduler().Wait(ctx); err != nil {
		t.Fatalf("wait for worker: %v", err)
	}
}

func TestIngestionIndexesDocument(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	doc, job := f.upload(t, "Safety Manual.docx", docxBytes(t, lockoutText, "Forklift batteries must be charged in the charging area."))
	if job.Status != models.JobStatusPending || job.Stage != models.StageQueued {
		t.Fatalf("new job should be queued, got %+v", job)
	}
	f.wait(t)

	got, err := f.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobStatusCompleted || got.Stage != models.StageDone || got.Progress != 100 {
		t.Fatalf("unexpected job state %+v", got)
	}
	if got.EmbedProvider != "ollama" || got.EmbedFallback {
		t.Fatalf("embedding provider not recorded: %+v", got)
	}

	d, err := f.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if d.Title != "Safety Manual" || d.Status != models.DocumentStatusIndexed || d.ChunkCount == 0 || d.IndexedAt == nil {
		t.Fatalf("unexpected document %+v", d)
	}
	chunks, _ := f.store.CountChunks(ctx, doc.ID)
	if chunks != d.ChunkCount || f.vectors.Count(doc.ID) != d.ChunkCount {
		t.Fatalf("chunks=%d vectors=%d document=%d", chunks, f.vectors.Count(doc.ID), d.ChunkCount)
	}
}

func TestIngestionProgressIsMonotonic(t *testing.T) {
	f := newIngestionFixture(t)
	_, job := f.upload(t, "long.docx", docxBytes(t, strings.Repeat("energy isolation step ", 40)))
	f.wait(t)

	seen := f.store.progress[job.ID]
	if len(seen) < 5 {
		t.Fatalf("expected progress for every stage, got %v", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress went backwards: %v", seen)
		}
	}
	if seen[0] != models.ProgressExtract || seen[len(seen)-1] != models.ProgressDone {
		t.Fatalf("unexpected progress sequence %v", seen)
	}
}

func TestIngestionReindexReplacesChunks(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	doc, _ := f.upload(t, "manual.docx", docxBytes(t, strings.Repeat("verify zero energy state ", 20)))
	f.wait(t)
	first, _ := f.store.GetDocument(ctx, doc.ID)

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Enqueue(ctx, doc.ID); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		f.wait(t)
	}

	again, _ := f.store.GetDocument(ctx, doc.ID)
	if again.ChunkCount != first.ChunkCount {
		t.Fatalf("chunk count changed on reindex: %d -> %d", first.ChunkCount, again.ChunkCount)
	}
	stored, _ := f.store.CountChunks(ctx, doc.ID)
	if stored != first.ChunkCount || f.vectors.Count(doc.ID) != first.ChunkCount {
		t.Fatalf("duplicates after reindex: chunks=%d vectors=%d want %d", stored, f.vectors.Count(doc.ID), first.ChunkCount)
	}
}

func TestIngestionFailureIsIsolated(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	bad, badJob := f.upload(t, "broken.pdf", []byte("this is not a pdf"))
	good, goodJob := f.upload(t, "good.docx", docxBytes(t, lockoutText))
	f.wait(t)

	bj, _ := f.store.GetJob(ctx, badJob.ID)
	bd, _ := f.store.GetDocument(ctx, bad.ID)
	if bj.Status != models.JobStatusFailed || bj.Stage != models.StageFailed || bj.Error == "" {
		t.Fatalf("bad job not failed: %+v", bj)
	}
	if bd.Status != models.DocumentStatusFailed || bd.ErrorMessage != bj.Error {
		t.Fatalf("document failure not recorded: %+v", bd)
	}

	gj, _ := f.store.GetJob(ctx, goodJob.ID)
	gd, _ := f.store.GetDocument(ctx, good.ID)
	if gj.Status != models.JobStatusCompleted || gd.Status != models.DocumentStatusIndexed {
		t.Fatalf("good document should index after a failure: job=%+v doc=%+v", gj, gd)
	}

	f.store.mu.Lock()
	started := append([]string(nil), f.store.started...)
	f.store.mu.Unlock()
	if len(started) != 2 || started[0] != badJob.ID || started[1] != goodJob.ID {
		t.Fatalf("jobs should run oldest first, got %v", started)
	}
}

func TestIngestionEmbeddingFailureFailsJob(t *testing.T) {
	f := newIngestionFixture(t)
	f.embed.failOn = "boom"
	ctx := context.Background()

	doc, job := f.upload(t, "x.docx", docxBytes(t, "boom goes the provider"))
	f.wait(t)

	j, _ := f.store.GetJob(ctx, job.ID)
	if j.Status != models.JobStatusFailed || !strings.Contains(j.Error, "embed chunk 0") {
		t.Fatalf("unexpected job %+v", j)
	}
	if f.vectors.Count(doc.ID) != 0 {
		t.Fatal("no vectors should be stored for a failed job")
	}
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	f := newIngestionFixture(t)
	_, _, err := f.svc.Upload(context.Background(), UploadInput{Filename: "sheet.xlsx", Size: 3, Body: strings.NewReader("abc")})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	_, _, err = f.svc.Upload(context.Background(), UploadInput{Filename: "big.pdf", Size: 2 << 20, Body: strings.NewReader("abc")})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for oversized upload, got %v", err)
	}
}

func TestEnqueueUnknownDocument(t *testing.T) {
	f := newIngestionFixture(t)
	if _, err := f.svc.Enqueue(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecoverInterruptedJobs(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	doc := &models.Document{ID: "d1", Title: "t", Status: models.DocumentStatusProcessing, CreatedAt: now, UpdatedAt: now}
	if err := f.store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	job := &models.IngestionJob{ID: "j1", DocumentID: "d1", Status: models.JobStatusRunning, Stage: models.StageEmbed, Progress: 60, CreatedAt: now, UpdatedAt: now}
	if err := f.store.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	n, err := f.svc.RecoverInterrupted(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RecoverInterrupted = %d, %v", n, err)
	}
	got, _ := f.store.GetJob(ctx, "j1")
	if got.Status != models.JobStatusFailed || !strings.Contains(got.Error, "interrupted") || got.Progress != 60 {
		t.Fatalf("unexpected job %+v", got)
	}
	d, _ := f.store.GetDocument(ctx, "d1")
	if d.Status != models.DocumentStatusFailed {
		t.Fatalf("document should be failed, got %s", d.Status)
	}
}

func TestDeleteDocumentRemovesIndex(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	doc, _ := f.upload(t, "m.docx", docxBytes(t, lockoutText))
	f.wait(t)

	if err := f.svc.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := f.store.GetDocument(ctx, doc.ID); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("document still present: %v", err)
	}
	if n, _ := f.store.CountChunks(ctx, doc.ID); n != 0 || f.vectors.Count(doc.ID) != 0 {
		t.Fatal("chunks or vectors left behind")
	}
	if err := f.svc.DeleteDocument(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}

func TestListDocumentsIncludesLatestJob(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	doc, _ := f.upload(t, "m.docx", docxBytes(t, lockoutText))
	f.wait(t)
	second, err := f.svc.Enqueue(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	f.wait(t)

	views, err := f.svc.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(views) != 1 || views[0].LatestJob == nil || views[0].LatestJob.ID != second.ID {
		t.Fatalf("unexpected views %+v", views)
	}
}

func TestEnqueueWithBusyWorkerEndsIndexed(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	doc, _ := f.upload(t, "manual.docx", docxBytes(t, lockoutText))
	f.wait(t)

	f.store.mu.Lock()
	f.store.resetDelay = 150 * time.Millisecond
	f.store.mu.Unlock()

	// Keep the worker busy so it is already looping when the reindex lands.
	f.upload(t, "other.docx", docxBytes(t, strings.Repeat("forklift charging area rules ", 30)))
	job, err := f.svc.Enqueue(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	f.wait(t)

	latest, err := f.store.LatestJobForDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("LatestJobForDocument: %v", err)
	}
	if latest.ID != job.ID || latest.Status != models.JobStatusCompleted {
		t.Fatalf("unexpected latest job %+v", latest)
	}
	d, _ := f.store.GetDocument(ctx, doc.ID)
	if d.Status != models.DocumentStatusIndexed {
		t.Fatalf("document status = %s, want %s", d.Status, models.DocumentStatusIndexed)
	}
}

func TestDeleteDocumentKeepsJobsWhenVectorDeleteFails(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	doc, job := f.upload(t, "m.docx", docxBytes(t, lockoutText))
	f.wait(t)

	f.svc.vectors = failingDeleteVectors{f.vectors}
	if err := f.svc.DeleteDocument(ctx, doc.ID); err == nil {
		t.Fatal("expected delete to fail")
	}

	latest, err := f.store.LatestJobForDocument(ctx, doc.ID)
	if err != nil || latest.ID != job.ID {
		t.Fatalf("job history lost: job=%+v err=%v", latest, err)
	}
	if n, _ := f.store.CountChunks(ctx, doc.ID); n == 0 {
		t.Fatal("chunks removed although vectors are still indexed")
	}
}

func TestJobIDsSortInCreationOrder(t *testing.T) {
	prev := newJobID()
	for i := 0; i < 1000; i++ {
		id := newJobID()
		if id <= prev {
			t.Fatalf("id %s not after %s", id, prev)
		}
		prev = id
	}
}
