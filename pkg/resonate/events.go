// ABOUTME: Typed events emitted by the coordinator
// ABOUTME: A closed set covering device lifecycle, measurement, correction and playback
package resonate

import (
	"github.com/Resonate-Protocol/resonate-sync/pkg/buffer"
	"github.com/Resonate-Protocol/resonate-sync/pkg/latency"
	clocksync "github.com/Resonate-Protocol/resonate-sync/pkg/sync"
)

// Event is implemented by every coordinator event
type Event interface {
	event()
}

// DeviceConnected follows a successful ConnectDevice
type DeviceConnected struct {
	DeviceID  string
	Name      string
	LatencyMs float64 // 0 when the initial measurement failed
}

type DeviceDisconnected struct {
	DeviceID string
}

// MeasurementCompleted carries a batch and how many of its samples the
// device clock accepted
type MeasurementCompleted struct {
	DeviceID    string
	Measurement *latency.Measurement
	Applied     int
}

type MeasurementFailed struct {
	DeviceID string
	Err      error
}

// SyncFailed reports a sample rejected by the device clock
type SyncFailed struct {
	DeviceID string
	Err      error
}

// CorrectionApplied reports a drift correction and its size in frames
type CorrectionApplied struct {
	Correction clocksync.Correction
	Frames     float64
}

type BufferOverflow struct {
	Overflow buffer.Overflow
}

type DeviceStarted struct {
	PlanID   string
	DeviceID string
	TimeMs   float64
}

type CheckpointAdjusted struct {
	PlanID       string
	DeviceID     string
	TimeMs       float64
	AdjustmentMs float64
}

type DeviceCompleted struct {
	PlanID   string
	DeviceID string
	TimeMs   float64
}

// PlaybackCompleted fires once every device of a plan has completed
type PlaybackCompleted struct {
	PlanID string
	Title  string
}

// SinkFailed reports a chunk the device sink refused
type SinkFailed struct {
	DeviceID string
	TargetMs float64
	Err      error
}

func (DeviceConnected) event()      {}
func (DeviceDisconnected) event()   {}
func (MeasurementCompleted) event() {}
func (MeasurementFailed) event()    {}
func (SyncFailed) event()           {}
func (CorrectionApplied) event()    {}
func (BufferOverflow) event()       {}
func (DeviceStarted) event()        {}
func (CheckpointAdjusted) event()   {}
func (DeviceCompleted) event()      {}
func (PlaybackCompleted) event()    {}
func (SinkFailed) event()           {}
