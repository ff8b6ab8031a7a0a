// ABOUTME: Read-only snapshot of the coordinator
// ABOUTME: Aggregates clock, corrector, per-device and plan state
package resonate

import (
	"time"

	"github.com/Resonate-Protocol/resonate-sync/pkg/buffer"
	"github.com/Resonate-Protocol/resonate-sync/pkg/latency"
	"github.com/Resonate-Protocol/resonate-sync/pkg/playback"
	clocksync "github.com/Resonate-Protocol/resonate-sync/pkg/sync"
)

// DeviceStatus describes one connected device
type DeviceStatus struct {
	ID            string
	Name          string
	FixedOffsetMs float64
	ConnectedAt   time.Time
	Clock         clocksync.DeviceClockStats
	Correction    clocksync.CorrectionState
	Buffer        buffer.Stats
	Latency       *latency.Measurement // last successful batch
	Monitoring    bool
	Playing       bool
	ChunksSent    uint64
	SinkFailures  uint64
}

// Status is a point-in-time view of the coordinator
type Status struct {
	Running bool
	Clock   clocksync.ClockStats
	Drift   clocksync.DriftStats
	Devices []DeviceStatus
	Plan    *playback.Plan // nil when idle
	Title   string
}

// Status returns a snapshot. Devices are in connection order.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{Running: c.running}
	type entry struct {
		d      *device
		status DeviceStatus
	}
	entries := make([]entry, 0, len(c.order))
	for _, id := range c.order {
		d := c.devices[id]
		entries = append(entries, entry{d: d, status: DeviceStatus{
			ID:            id,
			Name:          d.spec.Name,
			FixedOffsetMs: d.spec.FixedOffsetMs,
			ConnectedAt:   d.connectedAt,
			Latency:       d.last,
			Playing:       d.playing,
			ChunksSent:    d.chunks,
			SinkFailures:  d.failures,
		}})
	}
	if c.payload != nil {
		st.Title = c.payload.Title
	}
	c.mu.Unlock()

	for _, e := range entries {
		e.status.Clock = e.d.clock.Stats()
		e.status.Buffer = e.d.buffer.Stats()
		e.status.Correction, _ = c.corrector.State(e.status.ID)
		e.status.Monitoring = c.measurer.Monitoring(e.status.ID)
		st.Devices = append(st.Devices, e.status)
	}

	st.Clock = c.clock.Stats()
	st.Drift = c.corrector.Stats()
	if st.Title != "" || !c.planner.Done() {
		st.Plan = c.planner.Active()
	}
	return st
}
