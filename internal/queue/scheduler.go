// Package queue drives ingestion jobs through a single worker.
package queue

import (
	"context"
	"log/slog"
	"sync"

	"rag-knowledge-platform/models"
)

// JobSource yields the oldest PENDING job, or nil when none remain.
type JobSource interface {
	NextPendingJob(ctx context.Context) (*models.IngestionJob, error)
}

// Handler processes one job to a terminal state. It must move the job out of
// PENDING, otherwise the scheduler stops to avoid spinning on it.
type Handler func(ctx context.Context, job *models.IngestionJob)

// Scheduler owns the one ingestion worker. Kick starts it if idle; the worker
// drains PENDING jobs oldest first and exits when none remain. A Kick that
// races with the final empty scan forces another scan, so no job is stranded.
type Scheduler struct {
	source JobSource
	handle Handler
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	rescan   bool
	closing  bool
	idle     chan struct{}
	inFlight string
}

func NewScheduler(source JobSource, handle Handler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{source: source, handle: handle, logger: logger}
}

// Kick requests a drain. It never blocks.
func (s *Scheduler) Kick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	s.rescan = true
	if s.running {
		return
	}
	s.running = true
	s.idle = make(chan struct{})
	go s.loop(s.idle)
}

// Running reports whether the worker is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Current returns the id of the job being processed, if any.
func (s *Scheduler) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *Scheduler) loop(done chan struct{}) {
	defer close(done)
	ctx := context.Background()
	var lastID string

	for {
		s.mu.Lock()
		if s.closing {
			s.running = false
			s.mu.Unlock()
			return
		}
		s.rescan = false
		s.mu.Unlock()

		job, err := s.source.NextPendingJob(ctx)
		if err != nil {
			s.logger.Error("Failed to fetch next ingestion job", "error", err)
			s.stop()
			return
		}
		if job == nil {
			s.mu.Lock()
			if s.rescan && !s.closing {
				s.mu.Unlock()
				continue
			}
			s.running = false
			s.mu.Unlock()
			return
		}
		if job.ID == lastID {
			s.logger.Error("Ingestion job still pending after processing, stopping worker", "job_id", job.ID)
			s.stop()
			return
		}
		lastID = job.ID

		s.run(ctx, job)
	}
}

func (s *Scheduler) run(ctx context.Context, job *models.IngestionJob) {
	s.mu.Lock()
	s.inFlight = job.ID
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Ingestion handler panicked", "job_id", job.ID, "panic", r)
		}
		s.mu.Lock()
		s.inFlight = ""
		s.mu.Unlock()
	}()

	s.handle(ctx, job)
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Wait blocks until the worker is idle.
func (s *Scheduler) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return nil
		}
		done := s.idle
		s.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown stops accepting kicks and waits for the in-flight job to finish.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	return s.Wait(ctx)
}
