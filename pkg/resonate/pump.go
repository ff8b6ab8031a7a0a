// ABOUTME: Per-tick work of the coordinator
// ABOUTME: Drift correction cadence, plan advancement and buffer to sink pumping
package resonate

import (
	"github.com/Resonate-Protocol/resonate-sync/pkg/buffer"
	"github.com/Resonate-Protocol/resonate-sync/pkg/playback"
	clocksync "github.com/Resonate-Protocol/resonate-sync/pkg/sync"
)

type send struct {
	device   *device
	samples  []float32
	targetMs float64
}

// onTick runs on the clock goroutine
func (c *Coordinator) onTick(t clocksync.Tick) {
	c.mu.Lock()
	c.ticks++
	correct := c.ticks%uint64(c.config.CorrectionEveryNTicks) == 0
	c.mu.Unlock()

	if correct {
		c.corrector.PerformCorrection(t.Time, false)
	}

	for _, tr := range c.planner.Advance(t.Time) {
		c.handleTransition(tr)
	}

	c.pump()
	c.checkPlaybackDone()
}

func (c *Coordinator) handleTransition(tr playback.Transition) {
	switch tr.Kind {
	case playback.TransitionStarted:
		c.logger.Printf("Device %s started at %.1fms", tr.DeviceID, tr.TimeMs)
		c.emit(DeviceStarted{PlanID: tr.PlanID, DeviceID: tr.DeviceID, TimeMs: tr.TimeMs})
	case playback.TransitionCheckpoint:
		c.corrector.ApplyAdjustment(tr.DeviceID, tr.TimeMs, tr.AdjustmentMs)
		c.emit(CheckpointAdjusted{
			PlanID:       tr.PlanID,
			DeviceID:     tr.DeviceID,
			TimeMs:       tr.TimeMs,
			AdjustmentMs: tr.AdjustmentMs,
		})
	case playback.TransitionCompleted:
		c.logger.Printf("Device %s completed at %.1fms", tr.DeviceID, tr.TimeMs)
		c.emit(DeviceCompleted{PlanID: tr.PlanID, DeviceID: tr.DeviceID, TimeMs: tr.TimeMs})
	}
}

// pump keeps every playing device's buffer topped up and hands each chunk
// whose target time is inside the lookahead window to the device's sink,
// stamped with the device clock time at which it must sound
func (c *Coordinator) pump() {
	var (
		sends  []send
		events []Event
	)

	c.mu.Lock()
	payload := c.payload
	if payload == nil {
		c.mu.Unlock()
		return
	}

	channels := payload.Channels
	rate := float64(payload.SampleRate)
	frames := payload.Frames()
	chunk := int(c.config.ChunkDuration.Seconds() * rate)
	if chunk <= 0 {
		chunk = 1
	}
	horizon := c.clock.SyncTime()

	for _, id := range c.order {
		d := c.devices[id]
		if !d.playing {
			continue
		}

		// Keep the buffer about half full
		for d.fed < frames && d.buffer.Available() < d.buffer.Capacity()/2 {
			end := min(d.fed+chunk, frames)
			ts := d.startMs + float64(d.fed)*1000/rate
			res := d.buffer.Write(payload.Samples[d.fed*channels:end*channels], ts)
			if res.Overflow {
				events = append(events, BufferOverflow{Overflow: buffer.Overflow{
					DeviceID:    id,
					Timestamp:   ts,
					Utilization: res.Utilization,
					Overwritten: res.Overwritten,
				}})
			}
			d.fed = end
		}

		for d.sent < frames {
			target := d.startMs + float64(d.sent)*1000/rate
			if target > horizon {
				break
			}
			samples := d.buffer.Read(target, chunk*channels)
			if len(samples) == 0 {
				break
			}
			d.sent += len(samples) / channels

			// The read may have skipped or repeated content; the chunk sounds
			// when the master reaches its content time, in device time.
			contentMs := target + float64(d.buffer.Shift())*1000/rate
			sends = append(sends, send{device: d, samples: samples, targetMs: d.clock.DeviceTime(contentMs)})
		}

		if d.sent >= frames || (d.fed >= frames && d.buffer.Available() == 0) {
			d.playing = false
		}
	}
	c.mu.Unlock()

	for _, ev := range events {
		c.emit(ev)
	}

	for _, s := range sends {
		err := s.device.spec.Sink.Send(s.samples, s.targetMs)

		c.mu.Lock()
		if err != nil {
			s.device.failures++
		} else {
			s.device.chunks++
		}
		failures := s.device.failures
		c.mu.Unlock()

		if err != nil {
			if failures <= 3 || failures%100 == 0 {
				c.logger.Printf("Sink for %s refused chunk at %.1fms (#%d): %v", s.device.spec.ID, s.targetMs, failures, err)
			}
			c.emit(SinkFailed{DeviceID: s.device.spec.ID, TargetMs: s.targetMs, Err: err})
		}
	}
}

// checkPlaybackDone fires PlaybackCompleted once the planner has nothing left
func (c *Coordinator) checkPlaybackDone() {
	if !c.planner.Done() {
		return
	}

	c.mu.Lock()
	if c.payload == nil {
		c.mu.Unlock()
		return
	}
	ev := PlaybackCompleted{PlanID: c.planID, Title: c.payload.Title}
	c.payload = nil
	c.planID = ""
	for _, d := range c.devices {
		d.playing = false
	}
	c.mu.Unlock()

	c.logger.Printf("Playback of %q completed (plan %s)", ev.Title, ev.PlanID)
	c.emit(ev)
}
