package batch

import (
	"context"
	"testing"
	"time"
)

func testableService() *Service {
	return &Service{
		batches: newFakeBatchStore(),
		netting: &fakeNettingStore{},
		clock:   time.Now,
	}
}

func TestScheduler_StopsWithinDeadline(t *testing.T) {
	sched := NewScheduler(testableService(), 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop within deadline")
	}
}

func TestScheduler_ContextCancellationStopsLoop(t *testing.T) {
	sched := NewScheduler(testableService(), 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	sched.Start(ctx)
	cancel()

	select {
	case <-sched.doneCh:
	case <-time.After(time.Second):
		t.Fatal("scheduler loop did not exit after context cancellation")
	}
}
