package agent

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerTicks(t *testing.T) {
	var calls atomic.Int32
	s := NewScheduler(func() { calls.Add(1) })
	s.Start(20 * time.Millisecond)
	defer s.Stop()

	time.Sleep(110 * time.Millisecond)
	if n := calls.Load(); n < 3 {
		t.Errorf("Expected at least 3 ticks, got %d", n)
	}
}

func TestSchedulerManualOnlyMode(t *testing.T) {
	var calls atomic.Int32
	s := NewScheduler(func() { calls.Add(1) })
	s.Start(0)
	defer s.Stop()

	time.Sleep(60 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("Manual-only mode must never tick, got %d", n)
	}
}

func TestSchedulerPauseSwallowsTicks(t *testing.T) {
	var calls atomic.Int32
	s := NewScheduler(func() { calls.Add(1) })
	s.Start(20 * time.Millisecond)
	defer s.Stop()

	s.Pause()
	// Three ticks pass while paused; none may be queued.
	time.Sleep(70 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Fatalf("Paused scheduler must not invoke the callback, got %d", n)
	}

	s.Resume()
	time.Sleep(30 * time.Millisecond)
	if n := calls.Load(); n < 1 || n > 2 {
		t.Errorf("Expected roughly one tick after resume (skipped ticks are lost, not deferred), got %d", n)
	}
}

func TestSchedulerReconfigure(t *testing.T) {
	var calls atomic.Int32
	s := NewScheduler(func() { calls.Add(1) })
	s.Start(time.Hour)
	s.Reconfigure(20 * time.Millisecond)
	defer s.Stop()

	time.Sleep(70 * time.Millisecond)
	if n := calls.Load(); n < 2 {
		t.Errorf("Reconfigured interval not in effect, got %d ticks", n)
	}
	if s.Interval() != 20*time.Millisecond {
		t.Errorf("Interval() = %v", s.Interval())
	}

	// Reconfiguring to manual-only stops ticking entirely.
	s.Reconfigure(0)
	before := calls.Load()
	time.Sleep(60 * time.Millisecond)
	if calls.Load() != before {
		t.Error("Ticks observed after reconfiguring to manual-only mode")
	}
}

func TestSchedulerStopIdempotent(t *testing.T) {
	s := NewScheduler(func() {})
	s.Start(10 * time.Millisecond)
	s.Stop()
	s.Stop() // must not panic on a second stop
}
