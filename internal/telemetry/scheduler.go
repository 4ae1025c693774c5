package telemetry

import (
	"sync"
	"time"

	"github.com/nerrad567/meterhub-core/internal/meter"
)

// DefaultDebounce is the coalescing window for emissions.
const DefaultDebounce = 200 * time.Millisecond

// SnapshotSource provides the snapshots handed to an emission callback.
type SnapshotSource interface {
	Snapshots() []meter.Snapshot
}

// EmitFunc receives one batched delivery.
type EmitFunc func(snapshots []meter.Snapshot)

// Scheduler coalesces bursts of store mutations into a single delivery.
//
// The first Schedule call arms a timer; further calls while it is pending are
// no-ops. When the timer fires the pending flag is cleared first and the
// callback runs once with the snapshots current at that moment, so a
// mutation arriving during delivery arms the next window.
type Scheduler struct {
	mu      sync.Mutex
	clock   Clock
	delay   time.Duration
	source  SnapshotSource
	timer   Timer
	seq     uint64
	pending bool
}

// NewScheduler creates a scheduler over source with the given window.
func NewScheduler(clock Clock, source SnapshotSource, delay time.Duration) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Scheduler{
		clock:  clock,
		delay:  delay,
		source: source,
	}
}

// Schedule arms a delivery to cb unless one is already pending.
//
// Returns:
//   - bool: true if a new delivery was armed
func (s *Scheduler) Schedule(cb EmitFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending {
		return false
	}
	s.pending = true
	s.seq++
	seq := s.seq
	s.timer = s.clock.AfterFunc(s.delay, func() { s.fire(seq, cb) })
	return true
}

func (s *Scheduler) fire(seq uint64, cb EmitFunc) {
	s.mu.Lock()
	if !s.pending || s.seq != seq {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.timer = nil
	s.mu.Unlock()

	cb(s.source.Snapshots())
}

// Cancel drops any pending delivery.
//
// Returns:
//   - bool: true if a delivery was pending
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked()
}

func (s *Scheduler) cancelLocked() bool {
	if !s.pending {
		return false
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = nil
	s.pending = false
	s.seq++
	return true
}

// Flush drops any pending delivery and delivers to cb immediately.
func (s *Scheduler) Flush(cb EmitFunc) {
	s.mu.Lock()
	s.cancelLocked()
	s.mu.Unlock()

	cb(s.source.Snapshots())
}

// Pending reports whether a delivery is armed.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
