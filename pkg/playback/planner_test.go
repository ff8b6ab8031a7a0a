// ABOUTME: Tests for the playback planner
// ABOUTME: Covers start offsets, checkpoints, state ordering and removal
package playback

import (
	"testing"
	"time"
)

// oneSecond is 1000 mono frames at 1kHz
func oneSecond(seconds int) Payload {
	return Payload{
		Samples:    make([]float32, 1000*seconds),
		SampleRate: 1000,
		Channels:   1,
		Title:      "test",
	}
}

func TestPayloadDuration(t *testing.T) {
	p := Payload{Samples: make([]float32, 96000), SampleRate: 48000, Channels: 2}
	if p.Frames() != 48000 {
		t.Errorf("expected 48000 frames, got %d", p.Frames())
	}
	if p.DurationMs() != 1000 {
		t.Errorf("expected 1000ms, got %f", p.DurationMs())
	}
	if (Payload{}).DurationMs() != 0 {
		t.Error("empty payload should have zero duration")
	}
}

func TestCreatePlanTargets(t *testing.T) {
	pl := NewPlanner(Config{})
	plan := pl.CreatePlan(oneSecond(3), 500, []DeviceTarget{
		{ID: "a", LatencyMs: 20},
		{ID: "b", LatencyMs: 5, FixedOffsetMs: 10},
	})

	if plan.ID == "" {
		t.Error("expected plan id")
	}
	if plan.DurationMs != 3000 {
		t.Errorf("expected 3000ms duration, got %f", plan.DurationMs)
	}

	a := plan.Device("a")
	if a.TargetStartMs != 520 || a.EndMs != 3520 {
		t.Errorf("unexpected schedule for a: start %f end %f", a.TargetStartMs, a.EndMs)
	}
	if want := []float64{1520, 2520}; len(a.Checkpoints) != 2 || a.Checkpoints[0] != want[0] || a.Checkpoints[1] != want[1] {
		t.Errorf("expected checkpoints %v, got %v", want, a.Checkpoints)
	}
	if b := plan.Device("b"); b.TargetStartMs != 515 {
		t.Errorf("expected b to start at 515, got %f", b.TargetStartMs)
	}
	if plan.Device("ghost") != nil {
		t.Error("unexpected device in plan")
	}
}

func TestAdvanceTransitions(t *testing.T) {
	pl := NewPlanner(Config{})
	pl.CreatePlan(oneSecond(1), 0, []DeviceTarget{{ID: "a", LatencyMs: 100}})

	if tr := pl.Advance(50); len(tr) != 0 {
		t.Fatalf("expected no transitions before start, got %v", tr)
	}

	tr := pl.Advance(100)
	if len(tr) != 1 || tr[0].Kind != TransitionStarted || tr[0].From != StatePending || tr[0].To != StateStarted {
		t.Fatalf("expected start transition, got %+v", tr)
	}
	if tr := pl.Advance(500); len(tr) != 0 {
		t.Errorf("expected no transitions mid-play, got %v", tr)
	}
	if pl.Done() {
		t.Error("plan should not be done while playing")
	}

	tr = pl.Advance(1100)
	if len(tr) != 1 || tr[0].Kind != TransitionCompleted {
		t.Fatalf("expected completion, got %+v", tr)
	}
	if !pl.Done() {
		t.Error("plan should be done")
	}
	if tr := pl.Advance(5000); len(tr) != 0 {
		t.Errorf("completed devices should not transition again, got %v", tr)
	}
}

func TestAdvanceNeverSkipsStarted(t *testing.T) {
	pl := NewPlanner(Config{})
	pl.CreatePlan(oneSecond(1), 0, []DeviceTarget{{ID: "a"}})

	tr := pl.Advance(10000)
	if len(tr) != 2 {
		t.Fatalf("expected start and completion, got %+v", tr)
	}
	if tr[0].Kind != TransitionStarted || tr[1].Kind != TransitionCompleted {
		t.Errorf("expected started then completed, got %s then %s", tr[0].Kind, tr[1].Kind)
	}
	if tr[1].From != StateStarted {
		t.Errorf("completion must come from started, got %s", tr[1].From)
	}
}

func TestCheckpointAdjustments(t *testing.T) {
	adjustments := map[float64]float64{}
	var calls []float64
	pl := NewPlanner(Config{
		Adjust: func(id string, now float64) (float64, bool) {
			calls = append(calls, now)
			return adjustments[now], true
		},
	})
	pl.CreatePlan(oneSecond(5), 0, []DeviceTarget{{ID: "a"}})
	pl.Advance(0)

	adjustments[1000] = 0.05 // below threshold
	adjustments[2000] = -0.4
	if tr := pl.Advance(1000); len(tr) != 0 {
		t.Errorf("sub-threshold adjustment should not transition, got %v", tr)
	}
	tr := pl.Advance(2000)
	if len(tr) != 1 || tr[0].Kind != TransitionCheckpoint || tr[0].AdjustmentMs != -0.4 {
		t.Fatalf("expected applied checkpoint, got %+v", tr)
	}
	if tr[0].From != StateStarted || tr[0].To != StateStarted {
		t.Error("checkpoint must keep the device started")
	}

	// Between checkpoints nothing is checked
	pl.Advance(2500)
	if len(calls) != 2 {
		t.Errorf("expected 2 checks, got %d", len(calls))
	}

	adj := pl.Active().Device("a").BufferAdjustments
	if len(adj) != 1 || adj[0].CheckpointMs != 2000 {
		t.Errorf("expected one recorded adjustment at 2000, got %+v", adj)
	}
}

func TestPassedCheckpointsCollapse(t *testing.T) {
	var calls int
	pl := NewPlanner(Config{
		Adjust: func(string, float64) (float64, bool) {
			calls++
			return 1, true
		},
	})
	pl.CreatePlan(oneSecond(10), 0, []DeviceTarget{{ID: "a"}})
	pl.Advance(0)

	tr := pl.Advance(4500)
	if calls != 1 || len(tr) != 1 {
		t.Fatalf("expected a single check for four passed checkpoints, got %d calls", calls)
	}
	if adj := pl.Active().Device("a").BufferAdjustments; adj[0].CheckpointMs != 4000 {
		t.Errorf("expected latest checkpoint 4000, got %f", adj[0].CheckpointMs)
	}
}

func TestCheckpointIntervalConfigurable(t *testing.T) {
	pl := NewPlanner(Config{CheckpointInterval: 250 * time.Millisecond})
	plan := pl.CreatePlan(oneSecond(1), 0, []DeviceTarget{{ID: "a"}})
	if n := len(plan.Device("a").Checkpoints); n != 3 {
		t.Errorf("expected 3 checkpoints, got %d", n)
	}
}

func TestRemoveDevice(t *testing.T) {
	pl := NewPlanner(Config{})
	pl.CreatePlan(oneSecond(1), 0, []DeviceTarget{{ID: "a"}, {ID: "b", LatencyMs: 5000}})
	pl.Advance(2000) // a completes, b still pending

	if pl.Done() {
		t.Fatal("b is still pending")
	}
	if !pl.RemoveDevice("b") {
		t.Fatal("expected b to be removed")
	}
	if pl.RemoveDevice("b") {
		t.Error("second removal should report false")
	}
	if !pl.Done() {
		t.Error("plan should be done once the pending device is gone")
	}
	if n := len(pl.Active().Devices); n != 1 {
		t.Errorf("expected one device left, got %d", n)
	}
}

func TestActiveIsCopy(t *testing.T) {
	pl := NewPlanner(Config{})
	pl.CreatePlan(oneSecond(1), 0, []DeviceTarget{{ID: "a"}})

	snap := pl.Active()
	snap.Devices[0].State = StateCompleted
	snap.Devices[0].Checkpoints = nil

	if pl.Active().Devices[0].State != StatePending {
		t.Error("mutating a snapshot changed the planner")
	}
}

func TestCancel(t *testing.T) {
	pl := NewPlanner(Config{})
	if !pl.Done() {
		t.Error("planner without a plan is done")
	}
	pl.CreatePlan(oneSecond(1), 0, []DeviceTarget{{ID: "a"}})
	pl.Cancel()

	if pl.Active() != nil {
		t.Error("expected no plan after cancel")
	}
	if tr := pl.Advance(5000); tr != nil {
		t.Errorf("expected no transitions after cancel, got %v", tr)
	}
}
