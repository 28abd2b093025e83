package batch

import (
	"context"
	"sync"
	"time"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/pkg/logging"
)

// Scheduler is the global scheduler singleton spec.md §9 calls for: a
// lifecycle-managed background task, started at process init and stopped
// on shutdown, never hidden process-wide mutable state. It owns nothing
// but its own ticker and stop channel, mirroring the teacher's
// events.Broker goroutine-owns-its-state shape.
type Scheduler struct {
	service  *Service
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewScheduler builds a scheduler that wakes every interval to drive
// ProcessDue. interval should be short relative to the shortest configured
// cut-off granularity (e.g. a fraction of the micro-batch window).
func NewScheduler(service *Service, interval time.Duration) *Scheduler {
	return &Scheduler{
		service:  service,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the scheduler loop until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.service.ProcessDue(ctx); err != nil {
				logging.Error("scheduler pass failed", err, nil)
			}
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

// Stop signals the loop to exit and waits for it to do so. Safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}
