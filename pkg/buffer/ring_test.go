// ABOUTME: Tests for the ring buffer
// ABOUTME: Covers wrap math, overflow signalling, timestamp skips and drift reads
package buffer

import (
	"errors"
	"reflect"
	"testing"
)

func seq(from, to int) []float32 {
	out := make([]float32, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, float32(i))
	}
	return out
}

func TestWriteWrapsAtCapacity(t *testing.T) {
	rb := New(Config{Capacity: 8, SampleRate: 1000})

	rb.Write(seq(1, 5), 0)
	if rb.Stats().WritePos != 5 {
		t.Fatalf("expected writePos 5, got %d", rb.Stats().WritePos)
	}

	rb.Write(seq(6, 10), 0)
	want := []float32{9, 10, 3, 4, 5, 6, 7, 8}
	if !reflect.DeepEqual(rb.storage, want) {
		t.Errorf("expected storage %v, got %v", want, rb.storage)
	}
	if rb.Stats().WritePos != 2 {
		t.Errorf("expected writePos 2, got %d", rb.Stats().WritePos)
	}
}

func TestReadRoundTrip(t *testing.T) {
	rb := New(Config{Capacity: 64, SampleRate: 1000})
	in := seq(1, 40)

	rb.Write(in, 500)
	out := rb.Read(500, len(in))

	if !reflect.DeepEqual(out, in) {
		t.Errorf("round trip mismatch:\n got %v\nwant %v", out, in)
	}
	if rb.Available() != 0 {
		t.Errorf("expected empty buffer, %d left", rb.Available())
	}
}

func TestReadAfterOverwriteReturnsNewest(t *testing.T) {
	const capacity, k = 8, 3
	rb := New(Config{Capacity: capacity, SampleRate: 1000})

	rb.Write(seq(1, capacity+k), 0)
	out := rb.Read(0, k)

	want := seq(capacity+1, capacity+k)
	if !reflect.DeepEqual(out, want) {
		t.Errorf("expected last %d written %v, got %v", k, want, out)
	}
}

func TestReadAfterSeparateOverwrite(t *testing.T) {
	rb := New(Config{Capacity: 8, SampleRate: 1000})

	rb.Write(seq(1, 8), 0)
	if rb.Available() != 8 {
		t.Fatalf("expected full buffer, got %d", rb.Available())
	}

	rb.Write(seq(9, 10), 0)
	out := rb.Read(0, 2)
	if !reflect.DeepEqual(out, []float32{9, 10}) {
		t.Errorf("expected [9 10], got %v", out)
	}
}

func TestReadSplitsAcrossBoundary(t *testing.T) {
	rb := New(Config{Capacity: 8, SampleRate: 1000})

	rb.Write(seq(1, 6), 0)
	rb.Read(0, 6) // readPos 6
	rb.Write(seq(7, 12), 0)

	out := rb.Read(0, 6)
	if !reflect.DeepEqual(out, seq(7, 12)) {
		t.Errorf("expected %v, got %v", seq(7, 12), out)
	}
}

func TestAvailableWrappedCase(t *testing.T) {
	rb := New(Config{Capacity: 10, SampleRate: 1000})

	rb.Write(seq(1, 8), 0)
	rb.Read(0, 7)            // readPos 7
	rb.Write(seq(9, 13), 0) // writePos 3

	stats := rb.Stats()
	if stats.WritePos >= stats.ReadPos {
		t.Fatalf("expected wrapped cursors, got write %d read %d", stats.WritePos, stats.ReadPos)
	}
	if got, want := rb.Available(), 10-7+3; got != want {
		t.Errorf("expected %d available, got %d", want, got)
	}
}

func TestAvailableNeverExceedsCapacity(t *testing.T) {
	rb := New(Config{Capacity: 16, SampleRate: 1000})
	for i := 1; i < 60; i++ {
		rb.Write(seq(1, i%11+1), 0)
		if a := rb.Available(); a > rb.Capacity() || a < 0 {
			t.Fatalf("available %d outside [0, %d]", a, rb.Capacity())
		}
	}
}

func TestOverflowSignal(t *testing.T) {
	var events []Overflow
	rb := New(Config{
		ID:         "dev",
		Capacity:   100,
		SampleRate: 1000,
		OnOverflow: func(o Overflow) { events = append(events, o) },
	})

	if res := rb.Write(seq(1, 90), 0); res.Overflow {
		t.Error("90% utilization should not overflow")
	}

	res := rb.Write(seq(1, 6), 0)
	if !res.Overflow {
		t.Error("96% utilization should overflow")
	}
	if res.Written != 6 {
		t.Errorf("overflowing write should still write, got %d", res.Written)
	}
	if len(events) != 1 || events[0].DeviceID != "dev" {
		t.Errorf("expected one overflow event for dev, got %+v", events)
	}

	res = rb.Write(seq(1, 10), 0)
	if !res.Overflow || res.Overwritten != 6 {
		t.Errorf("expected 6 overwritten samples, got %+v", res)
	}
}

func TestReadSkipsElapsedTime(t *testing.T) {
	rb := New(Config{Capacity: 100, SampleRate: 1000}) // 1 frame per ms

	rb.Write(seq(1, 50), 100)
	out := rb.Read(110, 5)

	if !reflect.DeepEqual(out, seq(11, 15)) {
		t.Errorf("expected read to skip 10 samples, got %v", out)
	}
}

func TestDriftCorrectionSkipsAhead(t *testing.T) {
	rb := New(Config{Capacity: 1000, SampleRate: 1000, DriftSmoothing: 1})

	rb.Write(seq(1, 500), 0)
	rb.ApplyDriftCorrection(4)

	out := rb.Read(0, 3)
	if !reflect.DeepEqual(out, []float32{5, 6, 7}) {
		t.Errorf("expected skip of 4, got %v", out)
	}

	// Correction is applied once, not on every read
	out = rb.Read(0, 3)
	if !reflect.DeepEqual(out, []float32{8, 9, 10}) {
		t.Errorf("expected contiguous read after correction, got %v", out)
	}
}

func TestDriftCorrectionHoldsBack(t *testing.T) {
	rb := New(Config{Capacity: 1000, SampleRate: 1000, DriftSmoothing: 1})

	rb.Write(seq(1, 500), 0)
	rb.Read(0, 10)
	rb.ApplyDriftCorrection(-3)

	out := rb.Read(0, 5)
	if !reflect.DeepEqual(out, []float32{8, 9, 10, 11, 12}) {
		t.Errorf("expected to repeat 3 samples, got %v", out)
	}
	if rb.Stats().SamplesRepeat != 3 {
		t.Errorf("expected 3 repeated samples, got %d", rb.Stats().SamplesRepeat)
	}
}

func TestDriftCorrectionHoldBackBounded(t *testing.T) {
	rb := New(Config{Capacity: 100, SampleRate: 1000, DriftSmoothing: 1})

	rb.Write(seq(1, 20), 0)
	rb.Read(0, 2)
	rb.ApplyDriftCorrection(-50)

	out := rb.Read(0, 3)
	if !reflect.DeepEqual(out, []float32{1, 2, 3}) {
		t.Errorf("hold back should stop at the first emitted sample, got %v", out)
	}
}

func TestDriftCorrectionSmoothed(t *testing.T) {
	rb := New(Config{Capacity: 10000, SampleRate: 1000, DriftSmoothing: 0.1})
	rb.Write(make([]float32, 5000), 0)
	rb.ApplyDriftCorrection(100)

	rb.Read(0, 1)
	if applied := rb.Stats().DriftApplied; applied != 10 {
		t.Errorf("expected 10 frames after first read, got %d", applied)
	}
	for i := 0; i < 100; i++ {
		rb.Read(0, 1)
	}
	if applied := rb.Stats().DriftApplied; applied != 100 {
		t.Errorf("expected full correction after many reads, got %d", applied)
	}
}

func TestStereoAlignment(t *testing.T) {
	rb := New(Config{Capacity: 64, SampleRate: 1000, Channels: 2, DriftSmoothing: 1})

	rb.Write(seq(1, 40), 0)
	rb.ApplyDriftCorrection(1) // one frame = two samples

	out := rb.Read(0, 5)
	if !reflect.DeepEqual(out, []float32{3, 4, 5, 6}) {
		t.Errorf("expected frame-aligned read, got %v", out)
	}
}

func TestReset(t *testing.T) {
	rb := New(Config{Capacity: 16, SampleRate: 1000})
	rb.Write(seq(1, 10), 5)
	rb.ApplyDriftCorrection(2)
	rb.Reset()

	stats := rb.Stats()
	if stats.Available != 0 || stats.WritePos != 0 || stats.DriftTarget != 0 {
		t.Errorf("expected empty buffer after reset, got %+v", stats)
	}
}

func TestManagerBufferNotFound(t *testing.T) {
	m := NewManager(Config{Capacity: 16})

	if _, err := m.Get("ghost"); !errors.Is(err, ErrBufferNotFound) {
		t.Errorf("expected ErrBufferNotFound from Get, got %v", err)
	}
	if _, err := m.Write("ghost", seq(1, 2), 0); !errors.Is(err, ErrBufferNotFound) {
		t.Errorf("expected ErrBufferNotFound from Write, got %v", err)
	}
	if _, err := m.Read("ghost", 0, 2); !errors.Is(err, ErrBufferNotFound) {
		t.Errorf("expected ErrBufferNotFound from Read, got %v", err)
	}
	if err := m.ApplyDriftCorrection("ghost", 1); !errors.Is(err, ErrBufferNotFound) {
		t.Errorf("expected ErrBufferNotFound from ApplyDriftCorrection, got %v", err)
	}
	if err := m.Remove("ghost"); !errors.Is(err, ErrBufferNotFound) {
		t.Errorf("expected ErrBufferNotFound from Remove, got %v", err)
	}
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(Config{Capacity: 16, SampleRate: 1000})
	m.Register("b")
	m.Register("a")

	if ids := m.IDs(); !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Errorf("expected sorted ids, got %v", ids)
	}

	if _, err := m.Write("a", seq(1, 4), 0); err != nil {
		t.Fatal(err)
	}
	out, err := m.Read("a", 0, 4)
	if err != nil || !reflect.DeepEqual(out, seq(1, 4)) {
		t.Errorf("unexpected read %v, %v", out, err)
	}

	if err := m.Remove("a"); err != nil {
		t.Fatal(err)
	}
	if len(m.Stats()) != 1 {
		t.Errorf("expected one buffer left, got %d", len(m.Stats()))
	}
}

func TestShiftFollowsWhatReadsRealized(t *testing.T) {
	rb := New(Config{Capacity: 100, SampleRate: 1000, DriftSmoothing: 1})
	rb.Write(seq(1, 20), 0)

	rb.ApplyDriftCorrection(3)
	rb.Read(0, 2)
	if got := rb.Shift(); got != 3 {
		t.Errorf("expected shift 3 after skipping, got %d", got)
	}

	// only the two returned samples can be heard again
	rb.ApplyDriftCorrection(-50)
	out := rb.Read(0, 2)
	if !reflect.DeepEqual(out, []float32{4, 5}) {
		t.Errorf("expected hold back over the returned samples, got %v", out)
	}
	if got := rb.Shift(); got != 1 {
		t.Errorf("expected shift 1 after bounded hold back, got %d", got)
	}
}

func TestClearKeepsAppliedDrift(t *testing.T) {
	rb := New(Config{Capacity: 100, SampleRate: 1000, DriftSmoothing: 1})
	rb.Write(seq(1, 20), 0)
	rb.ApplyDriftCorrection(4)
	rb.Read(0, 2)

	rb.Clear()
	if got := rb.Shift(); got != 0 {
		t.Errorf("expected shift cleared, got %d", got)
	}

	rb.Write(seq(1, 20), 0)
	if out := rb.Read(0, 3); !reflect.DeepEqual(out, seq(1, 3)) {
		t.Errorf("applied drift was replayed after Clear: %v", out)
	}

	rb.ApplyDriftCorrection(2)
	if out := rb.Read(0, 3); !reflect.DeepEqual(out, seq(6, 8)) {
		t.Errorf("expected new correction to skip 2, got %v", out)
	}
	if stats := rb.Stats(); stats.DriftTarget != 6 || stats.DriftApplied != 6 {
		t.Errorf("expected drift image 6/6, got %v/%d", stats.DriftTarget, stats.DriftApplied)
	}
}
