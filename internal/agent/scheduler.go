package agent

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zabbar/zabbar/internal/metrics"
)

// Scheduler drives the sync loop at a fixed interval. It can be reconfigured
// without restart, paused without being destroyed, and runs in manual-only
// mode when the interval is zero.
type Scheduler struct {
	mu       sync.Mutex
	callback func()
	interval time.Duration
	paused   bool
	stopCh   chan struct{}
}

// NewScheduler creates a scheduler that invokes callback on each tick.
func NewScheduler(callback func()) *Scheduler {
	return &Scheduler{callback: callback}
}

// Start begins ticking at the given interval. An interval <= 0 means
// manual-only mode: no timer exists and cycles must be triggered explicitly.
// Calling Start while running replaces the existing timer.
func (s *Scheduler) Start(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.interval = interval

	if interval <= 0 {
		log.Info().Msg("Scheduler in manual-only mode")
		return
	}

	stopCh := make(chan struct{})
	s.stopCh = stopCh
	go s.loop(interval, stopCh)
	log.Info().Dur("interval", interval).Msg("Scheduler started")
}

// Reconfigure atomically swaps the timer for one with the new interval. There
// are never two timers for the same agent.
func (s *Scheduler) Reconfigure(interval time.Duration) {
	s.Start(interval)
}

// Pause suppresses ticks. A tick observed while paused is skipped entirely,
// not queued: resuming after three missed ticks runs one cycle on the next
// tick, not three.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume re-enables ticks.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// Stop cancels the timer. Safe to call when already stopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
}

// Interval returns the currently configured interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Scheduler) stopLocked() {
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
}

func (s *Scheduler) loop(interval time.Duration, stopCh chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			paused := s.paused
			cb := s.callback
			s.mu.Unlock()

			if paused {
				metrics.TicksSkippedTotal.WithLabelValues("paused").Inc()
				continue
			}
			cb()

		case <-stopCh:
			return
		}
	}
}
