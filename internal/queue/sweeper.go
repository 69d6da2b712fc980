package queue

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
)

// Sweeper kicks the scheduler on a fixed interval so jobs left PENDING by a
// previous process, or by a worker that stopped on a store error, are drained.
type Sweeper struct {
	scheduler *gocron.Scheduler
}

func NewSweeper(interval time.Duration, kick func()) (*Sweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %v", interval)
	}
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()

	if _, err := s.Every(interval).Tag("ingestion-sweep").Do(kick); err != nil {
		return nil, fmt.Errorf("schedule ingestion sweep: %w", err)
	}
	return &Sweeper{scheduler: s}, nil
}

// Start runs the first sweep immediately, then every interval.
func (s *Sweeper) Start() {
	s.scheduler.StartAsync()
}

func (s *Sweeper) Stop() {
	s.scheduler.Stop()
}
