package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"rag-knowledge-platform/internal/database"
	"rag-knowledge-platform/internal/telemetry"
	"rag-knowledge-platform/models"
)

const auditQueueSize = 256

// AuditLogger appends events to a hash chain. Events are insert-only.
type AuditLogger struct {
	store   database.AuditStore
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu       sync.Mutex
	loaded   bool
	lastSeq  int64
	lastHash string

	queue chan *models.AuditEvent
	wg    sync.WaitGroup
	once  sync.Once
}

func NewAuditLogger(store database.AuditStore, logger *slog.Logger, metrics *telemetry.Metrics) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	al := &AuditLogger{
		store:   store,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan *models.AuditEvent, auditQueueSize),
	}
	al.wg.Add(1)
	go al.run()
	return al
}

func (al *AuditLogger) run() {
	defer al.wg.Done()
	for event := range al.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := al.Log(ctx, event); err != nil {
			al.logger.Error("Async audit logging failed", "action", event.Action, "error", err)
		}
		cancel()
	}
}

// Log links the event to the chain and stores it.
func (al *AuditLogger) Log(ctx context.Context, event *models.AuditEvent) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if !al.loaded {
		last, err := al.store.LastAuditEvent(ctx)
		if err != nil {
			return fmt.Errorf("load audit chain head: %w", err)
		}
		if last != nil {
			al.lastSeq = last.Sequence
			al.lastHash = last.CurrentHash
		}
		al.loaded = true
	}

	event.ID = uuid.NewString()
	event.Sequence = al.lastSeq + 1
	event.PreviousHash = al.lastHash
	event.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	event.CurrentHash = event.ComputeHash()

	if err := al.store.InsertAuditEvent(ctx, event); err != nil {
		// another writer may have advanced the chain
		al.loaded = false
		return fmt.Errorf("insert audit event: %w", err)
	}
	al.lastSeq = event.Sequence
	al.lastHash = event.CurrentHash
	al.metrics.RecordAuditEvent(event.Action)
	al.logger.Debug("Audit event logged", "action", event.Action, "resource_id", event.ResourceID, "sequence", event.Sequence)
	return nil
}

// LogAsync queues the event. It drops the event, with an error log, when the
// queue is full or the logger is closed.
func (al *AuditLogger) LogAsync(event *models.AuditEvent) {
	defer func() {
		if recover() != nil {
			al.logger.Error("Audit logger closed, event dropped", "action", event.Action)
		}
	}()
	select {
	case al.queue <- event:
	default:
		al.logger.Error("Audit queue full, event dropped", "action", event.Action)
	}
}

// Record is a shorthand for LogAsync.
func (al *AuditLogger) Record(userID, action, resourceID, requestID string, metadata map[string]string) {
	al.LogAsync(&models.AuditEvent{
		UserID:     userID,
		Action:     action,
		ResourceID: resourceID,
		RequestID:  requestID,
		Metadata:   metadata,
	})
}

// Close flushes queued events.
func (al *AuditLogger) Close() {
	al.once.Do(func() { close(al.queue) })
	al.wg.Wait()
}

// VerifyChain recomputes every hash and checks the links. It returns the
// number of events checked and the sequence of the first broken event, or 0.
func (al *AuditLogger) VerifyChain(ctx context.Context) (int, int64, error) {
	events, err := al.store.ListAuditEvents(ctx, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("list audit events: %w", err)
	}
	prev := ""
	for i := range events {
		e := &events[i]
		if e.PreviousHash != prev || e.CurrentHash != e.ComputeHash() {
			al.logger.Warn("Audit chain broken", "sequence", e.Sequence, "event_id", e.ID)
			return i, e.Sequence, nil
		}
		prev = e.CurrentHash
	}
	return len(events), 0, nil
}

// List returns up to limit events from the start of the chain.
func (al *AuditLogger) List(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	return al.store.ListAuditEvents(ctx, limit)
}
