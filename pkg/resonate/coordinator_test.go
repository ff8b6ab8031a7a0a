// ABOUTME: Tests for the coordinator
// ABOUTME: Drives real clocks against fake probes and recording sinks
package resonate

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-sync/pkg/latency"
	"github.com/Resonate-Protocol/resonate-sync/pkg/playback"
	clocksync "github.com/Resonate-Protocol/resonate-sync/pkg/sync"
)

type chunk struct {
	samples  []float32
	targetMs float64
}

type recordingSink struct {
	mu     sync.Mutex
	chunks []chunk
	err    error
}

func (s *recordingSink) Send(samples []float32, targetTimeMs float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.chunks = append(s.chunks, chunk{samples: samples, targetMs: targetTimeMs})
	return nil
}

func (s *recordingSink) snapshot() []chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chunk(nil), s.chunks...)
}

func testConfig(events chan Event) Config {
	return Config{
		SampleRate: 1000,
		Channels:   1,
		Latency: latency.Config{
			SampleSize:   2,
			ProbeSpacing: time.Millisecond,
			Interval:     time.Hour,
		},
		OnEvent: func(ev Event) {
			select {
			case events <- ev:
			default:
			}
		},
	}
}

// aheadProbe answers with the coordinator's master time shifted by aheadMs
func aheadProbe(c *Coordinator, aheadMs float64) latency.ProbeFunc {
	return func(ctx context.Context, id string) (latency.ProbeResponse, error) {
		time.Sleep(time.Millisecond)
		return latency.ProbeResponse{DeviceTimeMs: c.Clock().CurrentTime() + aheadMs}, nil
	}
}

func waitFor[T Event](t *testing.T, events <-chan Event, match func(T) bool) T {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if e, ok := ev.(T); ok && (match == nil || match(e)) {
				return e
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func rampPayload(frames int) playback.Payload {
	samples := make([]float32, frames)
	for i := range samples {
		samples[i] = float32(i)
	}
	return playback.Payload{Samples: samples, SampleRate: 1000, Channels: 1, Title: "ramp"}
}

func TestPlayRequiresRunningClock(t *testing.T) {
	c := New(Config{})
	_, err := c.Play(context.Background(), playback.Payload{Samples: make([]float32, 96), SampleRate: 48000, Channels: 2})
	if !errors.Is(err, ErrClockNotRunning) {
		t.Errorf("expected ErrClockNotRunning, got %v", err)
	}
}

func TestConnectRequiresRunningClock(t *testing.T) {
	c := New(Config{})
	err := c.ConnectDevice(context.Background(), DeviceSpec{ID: "a", Probe: aheadProbe(c, 0), Sink: &recordingSink{}})
	if !errors.Is(err, ErrClockNotRunning) {
		t.Errorf("expected ErrClockNotRunning, got %v", err)
	}
}

func TestPlayPreconditions(t *testing.T) {
	events := make(chan Event, 256)
	c := New(testConfig(events))
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	if _, err := c.Play(context.Background(), rampPayload(100)); !errors.Is(err, ErrNoDevices) {
		t.Errorf("expected ErrNoDevices, got %v", err)
	}

	if err := c.ConnectDevice(context.Background(), DeviceSpec{ID: "a", Probe: aheadProbe(c, 0), Sink: &recordingSink{}}); err != nil {
		t.Fatal(err)
	}

	wrongRate := rampPayload(100)
	wrongRate.SampleRate = 44100
	if _, err := c.Play(context.Background(), wrongRate); !errors.Is(err, ErrPayloadFormat) {
		t.Errorf("expected ErrPayloadFormat for rate mismatch, got %v", err)
	}
	if _, err := c.Play(context.Background(), rampPayload(0)); !errors.Is(err, ErrPayloadFormat) {
		t.Errorf("expected ErrPayloadFormat for empty payload, got %v", err)
	}
}

func TestDeviceRegistry(t *testing.T) {
	events := make(chan Event, 256)
	c := New(testConfig(events))
	c.Start()
	defer c.Stop()
	ctx := context.Background()

	if err := c.ConnectDevice(ctx, DeviceSpec{ID: "a"}); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("expected ErrInvalidDevice, got %v", err)
	}

	spec := DeviceSpec{ID: "a", Probe: aheadProbe(c, 0), Sink: &recordingSink{}}
	if err := c.ConnectDevice(ctx, spec); err != nil {
		t.Fatal(err)
	}
	if err := c.ConnectDevice(ctx, spec); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("expected ErrDeviceExists, got %v", err)
	}
	spec.ID = "b"
	c.ConnectDevice(ctx, spec)

	if ids := c.Devices(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("expected [a b], got %v", ids)
	}

	st := c.Status()
	if !st.Devices[0].Monitoring || st.Devices[0].Latency == nil {
		t.Errorf("expected monitored device with a measurement, got %+v", st.Devices[0])
	}
	if st.Devices[0].Clock.SyncCount != 2 {
		t.Errorf("expected both probe samples applied, got %d", st.Devices[0].Clock.SyncCount)
	}

	if err := c.DisconnectDevice("a"); err != nil {
		t.Fatal(err)
	}
	if err := c.DisconnectDevice("a"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
	if _, ok := c.Corrector().State("a"); ok {
		t.Error("corrector still tracks a disconnected device")
	}
	waitFor[DeviceDisconnected](t, events, nil)
}

func TestMeasurementFailureKeepsDevice(t *testing.T) {
	events := make(chan Event, 256)
	c := New(testConfig(events))
	c.Start()
	defer c.Stop()

	failing := func(context.Context, string) (latency.ProbeResponse, error) {
		return latency.ProbeResponse{}, errors.New("no answer")
	}
	if err := c.ConnectDevice(context.Background(), DeviceSpec{ID: "a", Probe: failing, Sink: &recordingSink{}}); err != nil {
		t.Fatalf("connect should survive a failed measurement: %v", err)
	}

	failed := waitFor[MeasurementFailed](t, events, nil)
	if !errors.Is(failed.Err, latency.ErrNoSuccessfulMeasurements) {
		t.Errorf("expected ErrNoSuccessfulMeasurements, got %v", failed.Err)
	}
	if conn := waitFor[DeviceConnected](t, events, nil); conn.LatencyMs != 0 {
		t.Errorf("expected unknown latency, got %f", conn.LatencyMs)
	}
	if len(c.Devices()) != 1 {
		t.Error("device should remain connected")
	}
}

func TestPlaybackDeliversEverySample(t *testing.T) {
	events := make(chan Event, 4096)
	cfg := testConfig(events)
	cfg.Drift.DriftThresholdMs = 50
	c := New(cfg)
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	sinks := map[string]*recordingSink{"a": {}, "b": {}}
	for id, sink := range sinks {
		if err := c.ConnectDevice(context.Background(), DeviceSpec{ID: id, Probe: aheadProbe(c, 0), Sink: sink, FixedOffsetMs: 5}); err != nil {
			t.Fatal(err)
		}
	}

	payload := rampPayload(300)
	plan, err := c.Play(context.Background(), payload)
	if err != nil {
		t.Fatal(err)
	}

	done := waitFor(t, events, func(e PlaybackCompleted) bool { return e.PlanID == plan.ID })
	if done.Title != "ramp" {
		t.Errorf("unexpected title %q", done.Title)
	}

	for id, sink := range sinks {
		chunks := sink.snapshot()
		if len(chunks) == 0 {
			t.Fatalf("%s received nothing", id)
		}

		want := plan.Device(id).TargetStartMs
		var got []float32
		for i, ch := range chunks {
			// estimates are frozen after connect, so device time is stable
			dev, err := c.DeviceTime(id, want)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(ch.targetMs-dev) > 1e-6 {
				t.Errorf("%s chunk %d: expected device target %.3f, got %.3f", id, i, dev, ch.targetMs)
			}
			want += float64(len(ch.samples))
			got = append(got, ch.samples...)
		}
		if len(got) != len(payload.Samples) {
			t.Fatalf("%s: expected %d samples, got %d", id, len(payload.Samples), len(got))
		}
		for i := range got {
			if got[i] != payload.Samples[i] {
				t.Fatalf("%s: sample %d is %f, want %f", id, i, got[i], payload.Samples[i])
			}
		}
	}

	if c.Status().Plan != nil {
		t.Error("expected no plan after completion")
	}
}

func TestPlaybackStateOrder(t *testing.T) {
	events := make(chan Event, 4096)
	c := New(testConfig(events))
	c.Start()
	defer c.Stop()

	c.ConnectDevice(context.Background(), DeviceSpec{ID: "a", Probe: aheadProbe(c, 0), Sink: &recordingSink{}})
	plan, err := c.Play(context.Background(), rampPayload(100))
	if err != nil {
		t.Fatal(err)
	}
	start := plan.Device("a").TargetStartMs

	started := waitFor[DeviceStarted](t, events, nil)
	completed := waitFor[DeviceCompleted](t, events, nil)
	if started.DeviceID != "a" || completed.DeviceID != "a" {
		t.Errorf("unexpected devices %s / %s", started.DeviceID, completed.DeviceID)
	}
	if started.TimeMs < start {
		t.Errorf("started at %.1f before target %.1f", started.TimeMs, start)
	}
	if completed.TimeMs < start+100 {
		t.Errorf("completed at %.1f before the payload ended at %.1f", completed.TimeMs, start+100)
	}
	waitFor[PlaybackCompleted](t, events, nil)
}

func TestDisconnectDuringPlayback(t *testing.T) {
	events := make(chan Event, 4096)
	c := New(testConfig(events))
	c.Start()
	defer c.Stop()

	a, b := &recordingSink{}, &recordingSink{}
	c.ConnectDevice(context.Background(), DeviceSpec{ID: "a", Probe: aheadProbe(c, 0), Sink: a})
	c.ConnectDevice(context.Background(), DeviceSpec{ID: "b", Probe: aheadProbe(c, 0), Sink: b})

	if _, err := c.Play(context.Background(), rampPayload(10000)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, events, func(e DeviceStarted) bool { return e.DeviceID == "b" })

	if err := c.DisconnectDevice("b"); err != nil {
		t.Fatal(err)
	}
	// let a send collected before the disconnect drain
	time.Sleep(30 * time.Millisecond)
	sent := len(b.snapshot())

	time.Sleep(100 * time.Millisecond)
	if len(b.snapshot()) != sent {
		t.Error("disconnected device kept receiving audio")
	}

	plan := c.Status().Plan
	if plan == nil || len(plan.Devices) != 1 || plan.Devices[0].DeviceID != "a" {
		t.Fatalf("expected plan with only a, got %+v", plan)
	}

	c.StopPlayback()
	if c.Status().Plan != nil {
		t.Error("expected no plan after StopPlayback")
	}
}

func TestSinkFailureIsReported(t *testing.T) {
	events := make(chan Event, 4096)
	c := New(testConfig(events))
	c.Start()
	defer c.Stop()

	sink := &recordingSink{err: errors.New("socket closed")}
	c.ConnectDevice(context.Background(), DeviceSpec{ID: "a", Probe: aheadProbe(c, 0), Sink: sink})
	c.Play(context.Background(), rampPayload(200))

	failed := waitFor[SinkFailed](t, events, nil)
	if failed.DeviceID != "a" || failed.Err == nil {
		t.Errorf("unexpected failure event %+v", failed)
	}
	if c.Status().Devices[0].SinkFailures == 0 {
		t.Error("expected sink failures in status")
	}
}

func TestCorrectionReachesBuffer(t *testing.T) {
	events := make(chan Event, 4096)
	cfg := testConfig(events)
	cfg.DeviceClock = clocksync.DeviceClockConfig{OffsetSmoothing: 1}
	c := New(cfg)
	c.Start()
	defer c.Stop()

	// Device runs 5ms ahead of master
	c.ConnectDevice(context.Background(), DeviceSpec{ID: "a", Probe: aheadProbe(c, 5), Sink: &recordingSink{}})

	applied := waitFor[CorrectionApplied](t, events, nil)
	if applied.Correction.AdjustmentMs >= 0 || applied.Frames >= 0 {
		t.Errorf("expected a negative correction for a device that is ahead, got %+v", applied)
	}

	st := c.Status()
	if st.Devices[0].Buffer.DriftTarget >= 0 {
		t.Errorf("expected buffer drift target to follow the correction, got %f", st.Devices[0].Buffer.DriftTarget)
	}
	if st.Devices[0].Clock.CorrectionMs >= 0 {
		t.Errorf("expected clock correction to accumulate, got %f", st.Devices[0].Clock.CorrectionMs)
	}
}

func TestStopTwice(t *testing.T) {
	c := New(Config{})
	if err := c.Stop(); !errors.Is(err, ErrClockNotRunning) {
		t.Errorf("expected ErrClockNotRunning, got %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if c.Status().Running {
		t.Error("expected stopped coordinator")
	}
}

// skewedDevice keeps its own clock skewMs away from master behind a
// symmetric oneWay network delay
type skewedDevice struct {
	c      *Coordinator
	skewMs float64
	oneWay time.Duration

	mu      sync.Mutex
	origins []float64
}

func (d *skewedDevice) answer(ctx context.Context, _ string) (latency.ProbeResponse, error) {
	time.Sleep(d.oneWay)
	resp := latency.ProbeResponse{DeviceTimeMs: d.c.Clock().CurrentTime() + d.skewMs}
	time.Sleep(d.oneWay)
	return resp, nil
}

// Send records when, on the master timeline, content frame 0 would sound
// if this chunk is played at its device time. Ramp samples hold their
// frame index and the test rate is one frame per ms.
func (d *skewedDevice) Send(samples []float32, targetTimeMs float64) error {
	if len(samples) == 0 {
		return nil
	}
	d.mu.Lock()
	d.origins = append(d.origins, targetTimeMs-d.skewMs-float64(samples[0]))
	d.mu.Unlock()
	return nil
}

func (d *skewedDevice) snapshot() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.origins...)
}

func TestDevicesWithDifferentClocksAndPathsStayInStep(t *testing.T) {
	events := make(chan Event, 4096)
	cfg := testConfig(events)
	cfg.DeviceClock = clocksync.DeviceClockConfig{OffsetSmoothing: 1, DriftSmoothing: 0.01}
	cfg.Latency.SampleSize = 5
	cfg.Latency.ProbeSpacing = 20 * time.Millisecond
	c := New(cfg)
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	devices := map[string]*skewedDevice{
		"near": {c: c, skewMs: 250, oneWay: time.Millisecond},
		"far":  {c: c, skewMs: -40, oneWay: 15 * time.Millisecond},
	}
	for _, id := range []string{"near", "far"} {
		d := devices[id]
		if err := c.ConnectDevice(context.Background(), DeviceSpec{ID: id, Probe: d.answer, Sink: d}); err != nil {
			t.Fatal(err)
		}
	}

	plan, err := c.Play(context.Background(), rampPayload(1500))
	if err != nil {
		t.Fatal(err)
	}
	if near, far := plan.Device("near").TargetStartMs, plan.Device("far").TargetStartMs; near != far {
		t.Errorf("expected a common start, got near %.3f far %.3f", near, far)
	}
	waitFor(t, events, func(e PlaybackCompleted) bool { return e.PlanID == plan.ID })

	// corrections keep shifting content over this length
	if st, _ := c.Corrector().State("near"); st.CorrectionCount == 0 {
		t.Error("expected corrections while playing")
	}

	start := plan.Device("near").TargetStartMs
	const tolerance = 3.0
	for id, d := range devices {
		origins := d.snapshot()
		if len(origins) < 10 {
			t.Fatalf("%s received only %d chunks", id, len(origins))
		}
		for i, o := range origins {
			if math.Abs(o-start) > tolerance {
				t.Errorf("%s chunk %d: content would sound %.2fms off the common start", id, i, o-start)
				break
			}
		}
	}
}

func TestRestartResumesRegisteredDevices(t *testing.T) {
	events := make(chan Event, 4096)
	c := New(testConfig(events))
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := c.ConnectDevice(context.Background(), DeviceSpec{ID: "a", Probe: aheadProbe(c, 3), Sink: &recordingSink{}}); err != nil {
		t.Fatal(err)
	}

	// push the first timeline well past where the restarted one begins
	time.Sleep(100 * time.Millisecond)
	c.MeasureAll(context.Background())

	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	st := c.Status()
	if len(st.Devices) != 1 || !st.Devices[0].Monitoring {
		t.Fatalf("expected a monitored device after restart, got %+v", st.Devices)
	}
	if st.Devices[0].Clock.SyncCount != 0 {
		t.Errorf("expected estimates cleared on restart, got %d syncs", st.Devices[0].Clock.SyncCount)
	}

	for len(events) > 0 {
		<-events
	}
	results, failed := c.MeasureAll(context.Background())
	if len(failed) != 0 || results["a"] == nil {
		t.Fatalf("measurement after restart failed: %v", failed)
	}
	done := waitFor[MeasurementCompleted](t, events, nil)
	if done.Applied != len(results["a"].Samples) {
		t.Errorf("expected all %d samples applied, got %d", len(results["a"].Samples), done.Applied)
	}

	if _, err := c.Play(context.Background(), rampPayload(100)); err != nil {
		t.Fatal(err)
	}
	waitFor[PlaybackCompleted](t, events, nil)
}
