// ABOUTME: Typed events emitted by the master clock
// ABOUTME: Closed set of lifecycle events plus the per-tick payload
package sync

import "time"

// Tick is delivered to subscribers once per tick period.
type Tick struct {
	Time  float64 // master time in ms
	Count uint64
}

// ClockEvent is implemented by every lifecycle event the Clock emits.
type ClockEvent interface {
	clockEvent()
}

// ClockStarted is emitted when the clock begins counting.
type ClockStarted struct {
	At time.Time
}

// ClockStopped is emitted after the tick loop has exited.
type ClockStopped struct {
	Time      float64
	TickCount uint64
}

// ClockPaused is emitted when time accounting freezes.
type ClockPaused struct {
	Time float64
}

// ClockResumed is emitted when time accounting continues after a pause.
type ClockResumed struct {
	Time      float64
	PausedFor time.Duration
}

func (ClockStarted) clockEvent() {}
func (ClockStopped) clockEvent() {}
func (ClockPaused) clockEvent()  {}
func (ClockResumed) clockEvent() {}
