package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rag-knowledge-platform/models"
)

// MemoryStore keeps everything in process. It backs tests and single-node
// development runs (STORE_BACKEND=memory).
type MemoryStore struct {
	mu          sync.RWMutex
	seq         int64
	documents   map[string]models.Document
	jobs        map[string]models.IngestionJob
	jobOrder    map[string]int64
	chunks      map[string]models.DocumentChunk
	providers   *models.ProviderConfig
	preferences map[string]models.UserProviderPreference
	sessions    map[string]models.ChatSession
	messages    []models.ChatMessage
	audit       []models.AuditEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:   make(map[string]models.Document),
		jobs:        make(map[string]models.IngestionJob),
		jobOrder:    make(map[string]int64),
		chunks:      make(map[string]models.DocumentChunk),
		preferences: make(map[string]models.UserProviderPreference),
		sessions:    make(map[string]models.ChatSession),
	}
}

func (s *MemoryStore) Ping(context.Context) error  { return nil }
func (s *MemoryStore) Close(context.Context) error { return nil }

// Documents

func (s *MemoryStore) CreateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	s.documents[doc.ID] = *doc
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &doc, nil
}

func (s *MemoryStore) ListDocuments(context.Context) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Document, 0, len(s.documents))
	for _, d := range s.documents {
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateDocument(_ context.Context, id string, u models.DocumentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	if u.Status != nil {
		doc.Status = *u.Status
	}
	if u.ErrorMessage != nil {
		doc.ErrorMessage = *u.ErrorMessage
	}
	if u.ChunkCount != nil {
		doc.ChunkCount = *u.ChunkCount
	}
	if u.IndexedAt != nil {
		t := *u.IndexedAt
		doc.IndexedAt = &t
	}
	doc.UpdatedAt = time.Now().UTC()
	s.documents[id] = doc
	return nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return ErrNotFound
	}
	delete(s.documents, id)
	return nil
}

// Jobs

func (s *MemoryStore) CreateJob(_ context.Context, job *models.IngestionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.seq++
	s.jobs[job.ID] = *job
	s.jobOrder[job.ID] = s.seq
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*models.IngestionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

// sortedJobs orders by creation time, then insertion order.
func (s *MemoryStore) sortedJobs(keep func(models.IngestionJob) bool) []models.IngestionJob {
	out := make([]models.IngestionJob, 0)
	for _, j := range s.jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return s.jobOrder[out[i].ID] < s.jobOrder[out[k].ID]
	})
	return out
}

func (s *MemoryStore) NextPendingJob(context.Context) (*models.IngestionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pending := s.sortedJobs(func(j models.IngestionJob) bool { return j.Status == models.JobStatusPending })
	if len(pending) == 0 {
		return nil, nil
	}
	return &pending[0], nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, id string, u models.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Stage != nil {
		job.Stage = *u.Stage
	}
	if u.Progress != nil && *u.Progress > job.Progress {
		job.Progress = *u.Progress
	}
	if u.Error != nil {
		job.Error = *u.Error
	}
	if u.EmbedProvider != nil {
		job.EmbedProvider = *u.EmbedProvider
	}
	if u.EmbedModel != nil {
		job.EmbedModel = *u.EmbedModel
	}
	if u.EmbedFallback != nil {
		job.EmbedFallback = *u.EmbedFallback
	}
	if u.EmbedFallbackReason != nil {
		job.EmbedFallbackReason = *u.EmbedFallbackReason
	}
	if u.ChunkCount != nil {
		job.ChunkCount = *u.ChunkCount
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		job.StartedAt = &t
	}
	if u.FinishedAt != nil {
		t := *u.FinishedAt
		job.FinishedAt = &t
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return nil
}

func (s *MemoryStore) ListJobsByStatus(_ context.Context, status string) ([]models.IngestionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedJobs(func(j models.IngestionJob) bool { return j.Status == status }), nil
}

func (s *MemoryStore) LatestJobForDocument(_ context.Context, documentID string) (*models.IngestionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := s.sortedJobs(func(j models.IngestionJob) bool { return j.DocumentID == documentID })
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return &jobs[len(jobs)-1], nil
}

func (s *MemoryStore) DeleteJobsForDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if j.DocumentID == documentID {
			delete(s.jobs, id)
			delete(s.jobOrder, id)
		}
	}
	return nil
}

// Chunks

func (s *MemoryStore) InsertChunks(_ context.Context, chunks []models.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if _, ok := s.chunks[c.ID]; ok {
			return fmt.Errorf("chunk %s already exists", c.ID)
		}
	}
	for _, c := range chunks {
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *MemoryStore) DeleteChunksByDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.DocumentID == documentID {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *MemoryStore) CountChunks(_ context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.chunks {
		if c.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

// Provider configuration

func (s *MemoryStore) GetProviderConfig(context.Context) (*models.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.providers == nil {
		return nil, ErrNotFound
	}
	cfg := *s.providers
	if cfg.Remote != nil {
		r := *cfg.Remote
		cfg.Remote = &r
	}
	return &cfg, nil
}

func (s *MemoryStore) SaveProviderConfig(_ context.Context, cfg *models.ProviderConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	cp.ID = models.ProviderConfigID
	if cp.Remote != nil {
		r := *cp.Remote
		cp.Remote = &r
	}
	s.providers = &cp
	return nil
}

func (s *MemoryStore) GetPreference(_ context.Context, userID string) (*models.UserProviderPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pref, ok := s.preferences[userID]
	if !ok {
		return nil, nil
	}
	return &pref, nil
}

func (s *MemoryStore) SavePreference(_ context.Context, pref *models.UserProviderPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[pref.UserID] = *pref
	return nil
}

// Chat history

func (s *MemoryStore) CreateSession(_ context.Context, session *models.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*models.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &session, nil
}

func (s *MemoryStore) TouchSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	session.UpdatedAt = at
	s.sessions[id] = session
	return nil
}

func (s *MemoryStore) AddMessage(_ context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.ChatMessage{}
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

// Audit

func (s *MemoryStore) InsertAuditEvent(_ context.Context, event *models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.audit); n > 0 && s.audit[n-1].Sequence >= event.Sequence {
		return fmt.Errorf("audit sequence %d already recorded", event.Sequence)
	}
	s.audit = append(s.audit, *event)
	return nil
}

func (s *MemoryStore) LastAuditEvent(context.Context) (*models.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.audit) == 0 {
		return nil, nil
	}
	ev := s.audit[len(s.audit)-1]
	return &ev, nil
}

func (s *MemoryStore) ListAuditEvents(_ context.Context, limit int) ([]models.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.audit)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.AuditEvent, n)
	copy(out, s.audit[:n])
	return out, nil
}
