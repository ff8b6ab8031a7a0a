// ABOUTME: Device-local view of the master timeline
// ABOUTME: Adopts master time from the first probe and maps target times to wall time
package player

import (
	"sync"
	"time"
)

// Timeline is a free-running device clock in milliseconds. It adopts the
// master timeline from the first probe it answers and never jumps again,
// so the coordinator sees a stable offset it can measure and correct.
type Timeline struct {
	mu       sync.RWMutex
	now      func() time.Time
	origin   time.Time
	offsetMs float64
	adopted  bool
}

// NewTimeline creates a timeline starting at zero. now defaults to time.Now.
func NewTimeline(now func() time.Time) *Timeline {
	if now == nil {
		now = time.Now
	}
	return &Timeline{now: now, origin: now()}
}

// Answer returns the device time for a probe carrying masterTimeMs,
// adopting it as the timeline origin on the first call
func (t *Timeline) Answer(masterTimeMs float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.adopted {
		t.offsetMs = masterTimeMs - t.elapsedMs()
		t.adopted = true
	}
	return t.elapsedMs() + t.offsetMs
}

// CurrentTime returns the device time in milliseconds
func (t *Timeline) CurrentTime() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.elapsedMs() + t.offsetMs
}

// LocalTime converts a master timeline instant to local wall time
func (t *Timeline) LocalTime(targetMs float64) time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ms := targetMs - t.offsetMs
	return t.origin.Add(time.Duration(ms * float64(time.Millisecond)))
}

// Adopted reports whether a probe has been answered yet
func (t *Timeline) Adopted() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.adopted
}

func (t *Timeline) elapsedMs() float64 {
	return float64(t.now().Sub(t.origin)) / float64(time.Millisecond)
}
