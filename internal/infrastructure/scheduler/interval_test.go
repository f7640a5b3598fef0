package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestIntervalSchedulerRunsImmediatelyAndOnTicks(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := NewIntervalScheduler(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx, func(time.Time) { runs.Add(1) }); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() < 3 {
		t.Fatalf("expected immediate run plus ticks, got %d runs", runs.Load())
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	settled := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if runs.Load() > settled+1 {
		t.Fatalf("scheduler kept running after Stop")
	}
}

func TestIntervalSchedulerContextCancel(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := NewIntervalScheduler(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx, func(time.Time) { runs.Add(1) }); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	cancel()

	time.Sleep(50 * time.Millisecond)
	settled := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if runs.Load() > settled {
		t.Fatalf("scheduler kept running after cancel")
	}
}
