// ABOUTME: Playback plan types and the per-device state machine
// ABOUTME: Pending, Started and Completed with recorded checkpoint adjustments
package playback

import "time"

// State is a device's position in its playback state machine
type State int

const (
	StatePending State = iota
	StateStarted
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStarted:
		return "started"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Payload is decoded interleaved audio to be played in sync
type Payload struct {
	Samples    []float32
	SampleRate int
	Channels   int
	Title      string
}

// Frames returns the number of interleaved frames
func (p Payload) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// DurationMs returns the playing time in milliseconds
func (p Payload) DurationMs() float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return float64(p.Frames()) * 1000 / float64(p.SampleRate)
}

// DeviceTarget is a device's input to planning
type DeviceTarget struct {
	ID            string
	LatencyMs     float64
	FixedOffsetMs float64
}

// Adjustment is a correction applied at a checkpoint
type Adjustment struct {
	CheckpointMs float64
	AppliedAtMs  float64
	AdjustmentMs float64
}

// DevicePlan is one device's schedule within a plan
type DevicePlan struct {
	DeviceID      string
	LatencyMs     float64
	FixedOffsetMs float64
	TargetStartMs float64
	EndMs         float64
	Checkpoints   []float64
	State         State
	StartedAtMs   float64 // clock time the Started transition was observed
	CompletedAtMs float64

	// BufferAdjustments lists every checkpoint adjustment that was applied
	BufferAdjustments []Adjustment

	nextCheckpoint int
}

// Plan schedules one payload across a device set
type Plan struct {
	ID            string
	Title         string
	MasterStartMs float64
	DurationMs    float64
	CreatedAt     time.Time
	Devices       []*DevicePlan
}

// Device returns the plan for deviceID, or nil
func (p *Plan) Device(deviceID string) *DevicePlan {
	for _, d := range p.Devices {
		if d.DeviceID == deviceID {
			return d
		}
	}
	return nil
}

// Complete reports whether every remaining device has completed
func (p *Plan) Complete() bool {
	for _, d := range p.Devices {
		if d.State != StateCompleted {
			return false
		}
	}
	return true
}

func (p *Plan) clone() *Plan {
	cp := *p
	cp.Devices = make([]*DevicePlan, len(p.Devices))
	for i, d := range p.Devices {
		dc := *d
		dc.Checkpoints = append([]float64(nil), d.Checkpoints...)
		dc.BufferAdjustments = append([]Adjustment(nil), d.BufferAdjustments...)
		cp.Devices[i] = &dc
	}
	return &cp
}

// TransitionKind identifies a state machine step
type TransitionKind int

const (
	TransitionStarted TransitionKind = iota
	TransitionCheckpoint
	TransitionCompleted
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionStarted:
		return "started"
	case TransitionCheckpoint:
		return "checkpoint"
	case TransitionCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Transition is emitted by Planner.Advance
type Transition struct {
	PlanID       string
	DeviceID     string
	Kind         TransitionKind
	From         State
	To           State
	TimeMs       float64
	AdjustmentMs float64 // checkpoint transitions only
}
