// ABOUTME: Computes per-device start times and re-sync checkpoints for a payload
// ABOUTME: Advances each device's state machine against master time
package playback

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AdjustmentFunc returns the correction a checkpoint would apply to a
// device at the given master time. ok is false for unknown devices.
type AdjustmentFunc func(deviceID string, masterTime float64) (adjustmentMs float64, ok bool)

// Logger is satisfied by *log.Logger and logrus loggers
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Config configures a Planner
type Config struct {
	// CheckpointInterval spaces re-sync checkpoints (default: 1s)
	CheckpointInterval time.Duration

	// MinAdjustmentMs is the smallest checkpoint adjustment applied (default: 0.1)
	MinAdjustmentMs float64

	// Adjust computes checkpoint adjustments. Nil disables checkpoint corrections.
	Adjust AdjustmentFunc

	// Now stamps Plan.CreatedAt (default: time.Now)
	Now func() time.Time

	Logger Logger
}

// Planner owns at most one active plan
type Planner struct {
	config Config
	logger Logger

	mu   sync.Mutex
	plan *Plan
}

// NewPlanner creates a planner
func NewPlanner(config Config) *Planner {
	if config.CheckpointInterval <= 0 {
		config.CheckpointInterval = time.Second
	}
	if config.MinAdjustmentMs <= 0 {
		config.MinAdjustmentMs = 0.1
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	var logger Logger = nopLogger{}
	if config.Logger != nil {
		logger = config.Logger
	}

	return &Planner{
		config: config,
		logger: logger,
	}
}

// CreatePlan schedules payload on devices starting at masterStartMs and makes
// it the active plan, replacing any previous one. The returned plan is a copy.
func (p *Planner) CreatePlan(payload Payload, masterStartMs float64, devices []DeviceTarget) *Plan {
	duration := payload.DurationMs()
	interval := float64(p.config.CheckpointInterval) / float64(time.Millisecond)

	plan := &Plan{
		ID:            uuid.New().String(),
		Title:         payload.Title,
		MasterStartMs: masterStartMs,
		DurationMs:    duration,
		CreatedAt:     p.config.Now(),
		Devices:       make([]*DevicePlan, 0, len(devices)),
	}

	for _, d := range devices {
		start := masterStartMs + d.LatencyMs + d.FixedOffsetMs
		dp := &DevicePlan{
			DeviceID:      d.ID,
			LatencyMs:     d.LatencyMs,
			FixedOffsetMs: d.FixedOffsetMs,
			TargetStartMs: start,
			EndMs:         start + duration,
			State:         StatePending,
		}
		for at := start + interval; at < dp.EndMs; at += interval {
			dp.Checkpoints = append(dp.Checkpoints, at)
		}
		plan.Devices = append(plan.Devices, dp)
	}

	p.mu.Lock()
	if p.plan != nil && !p.plan.Complete() {
		p.logger.Printf("Replacing unfinished plan %s", p.plan.ID)
	}
	p.plan = plan
	p.mu.Unlock()

	p.logger.Printf("Created plan %s: %.0fms across %d devices starting at %.1fms",
		plan.ID, duration, len(devices), masterStartMs)

	return plan.clone()
}

// Advance moves every device's state machine to currentTime and returns the
// transitions taken, in device order. A device may start and complete in
// the same call; checkpoints passed since the last call collapse into one
// check.
func (p *Planner) Advance(currentTime float64) []Transition {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.plan == nil {
		return nil
	}

	var out []Transition
	for _, d := range p.plan.Devices {
		out = p.advanceDevice(d, currentTime, out)
	}
	return out
}

func (p *Planner) advanceDevice(d *DevicePlan, now float64, out []Transition) []Transition {
	if d.State == StatePending && now >= d.TargetStartMs {
		d.State = StateStarted
		d.StartedAtMs = now
		out = append(out, Transition{
			PlanID:   p.plan.ID,
			DeviceID: d.DeviceID,
			Kind:     TransitionStarted,
			From:     StatePending,
			To:       StateStarted,
			TimeMs:   now,
		})
	}

	if d.State != StateStarted {
		return out
	}

	if now >= d.EndMs {
		d.State = StateCompleted
		d.CompletedAtMs = now
		d.nextCheckpoint = len(d.Checkpoints)
		return append(out, Transition{
			PlanID:   p.plan.ID,
			DeviceID: d.DeviceID,
			Kind:     TransitionCompleted,
			From:     StateStarted,
			To:       StateCompleted,
			TimeMs:   now,
		})
	}

	due := d.nextCheckpoint
	for due < len(d.Checkpoints) && d.Checkpoints[due] <= now {
		due++
	}
	if due == d.nextCheckpoint {
		return out
	}
	checkpoint := d.Checkpoints[due-1]
	d.nextCheckpoint = due

	if p.config.Adjust == nil {
		return out
	}
	adj, ok := p.config.Adjust(d.DeviceID, now)
	if !ok || math.Abs(adj) <= p.config.MinAdjustmentMs {
		return out
	}

	d.BufferAdjustments = append(d.BufferAdjustments, Adjustment{
		CheckpointMs: checkpoint,
		AppliedAtMs:  now,
		AdjustmentMs: adj,
	})
	return append(out, Transition{
		PlanID:       p.plan.ID,
		DeviceID:     d.DeviceID,
		Kind:         TransitionCheckpoint,
		From:         StateStarted,
		To:           StateStarted,
		TimeMs:       now,
		AdjustmentMs: adj,
	})
}

// RemoveDevice drops a device from the active plan
func (p *Planner) RemoveDevice(deviceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.plan == nil {
		return false
	}
	for i, d := range p.plan.Devices {
		if d.DeviceID == deviceID {
			p.plan.Devices = append(p.plan.Devices[:i], p.plan.Devices[i+1:]...)
			p.logger.Printf("Removed %s from plan %s", deviceID, p.plan.ID)
			return true
		}
	}
	return false
}

// Active returns a copy of the active plan, or nil
func (p *Planner) Active() *Plan {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.plan == nil {
		return nil
	}
	return p.plan.clone()
}

// Done reports whether there is no plan left to advance
func (p *Planner) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plan == nil || p.plan.Complete()
}

// Cancel discards the active plan
func (p *Planner) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.plan != nil {
		p.logger.Printf("Cancelled plan %s", p.plan.ID)
		p.plan = nil
	}
}
