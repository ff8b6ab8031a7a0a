// ABOUTME: Tests for the drift corrector
// ABOUTME: Covers threshold skipping, clamping, smoothing, history and system quality
package sync

import (
	"math"
	"testing"
	"time"
)

// deviceWithOffset returns a clock whose synchronized time is master+offset
func deviceWithOffset(id string, offset float64) *DeviceClock {
	dc := NewDeviceClock(id, DeviceClockConfig{OffsetSmoothing: 1})
	dc.UpdateOffset(1, 1+offset+1, 2)
	return dc
}

func TestCorrectionBelowThreshold(t *testing.T) {
	d := NewDriftCorrector(DriftConfig{DriftThresholdMs: 0.5})
	d.AddDevice("quiet", deviceWithOffset("quiet", 0.3))

	corrections := d.PerformCorrection(100, false)
	if len(corrections) != 0 {
		t.Fatalf("expected no corrections, got %d", len(corrections))
	}

	state, _ := d.State("quiet")
	if state.CorrectionCount != 0 {
		t.Errorf("expected no recorded corrections, got %d", state.CorrectionCount)
	}
	if state.Quality != QualityExcellent {
		t.Errorf("expected excellent quality, got %s", state.Quality)
	}
}

func TestCorrectionForcedBelowThreshold(t *testing.T) {
	d := NewDriftCorrector(DriftConfig{})
	d.AddDevice("quiet", deviceWithOffset("quiet", 0.3))

	corrections := d.PerformCorrection(100, true)
	if len(corrections) != 1 {
		t.Fatalf("expected forced correction, got %d", len(corrections))
	}
	if !corrections[0].Forced {
		t.Error("expected correction to be marked forced")
	}
}

func TestCorrectionClamped(t *testing.T) {
	for _, drift := range []float64{-500, -3, 2.5, 10, 1e6} {
		d := NewDriftCorrector(DriftConfig{MaxCorrectionMs: 2, AdjustmentSmoothing: 1})
		d.AddDevice("dev", deviceWithOffset("dev", drift))

		for pass := 0; pass < 20; pass++ {
			for _, c := range d.PerformCorrection(float64(100+pass), false) {
				if math.Abs(c.AdjustmentMs) > 2+1e-12 {
					t.Fatalf("drift %f: adjustment %f exceeds clamp", drift, c.AdjustmentMs)
				}
			}
		}
	}
}

func TestCorrectionSmoothing(t *testing.T) {
	d := NewDriftCorrector(DriftConfig{MaxCorrectionMs: 2, AdjustmentSmoothing: 0.1})
	d.AddDevice("dev", deviceWithOffset("dev", 10))

	first := d.PerformCorrection(100, false)
	if len(first) != 1 {
		t.Fatalf("expected one correction, got %d", len(first))
	}
	// clamped -2, pending 0
	if math.Abs(first[0].AdjustmentMs-(-0.2)) > 1e-9 {
		t.Errorf("expected -0.2, got %f", first[0].AdjustmentMs)
	}

	second := d.PerformCorrection(200, false)
	// clamped -2, pending -0.2
	if math.Abs(second[0].AdjustmentMs-(-0.38)) > 1e-9 {
		t.Errorf("expected -0.38, got %f", second[0].AdjustmentMs)
	}
	if math.Abs(second[0].DriftMs-9.8) > 1e-9 {
		t.Errorf("expected drift 9.8 after first correction, got %f", second[0].DriftMs)
	}
}

func TestCorrectionReducesDrift(t *testing.T) {
	d := NewDriftCorrector(DriftConfig{})
	dc := deviceWithOffset("dev", 4)
	d.AddDevice("dev", dc)

	for pass := 0; pass < 500; pass++ {
		d.PerformCorrection(float64(100+pass), false)
	}

	if drift := math.Abs(dc.SynchronizedTime(1000) - 1000); drift > 1 {
		t.Errorf("expected drift to settle near threshold, still %f", drift)
	}
}

func TestCorrectionHistoryBounded(t *testing.T) {
	d := NewDriftCorrector(DriftConfig{HistorySize: 100, DriftThresholdMs: 0.01})
	d.AddDevice("dev", deviceWithOffset("dev", 1e6))

	for pass := 0; pass < 250; pass++ {
		d.PerformCorrection(float64(pass+10), false)
	}

	history := d.History()
	if len(history) != 100 {
		t.Fatalf("expected 100 history entries, got %d", len(history))
	}
	if history[len(history)-1].MasterTime != 259 {
		t.Errorf("expected newest entry last, got %f", history[len(history)-1].MasterTime)
	}
	if d.Stats().TotalCorrections != 250 {
		t.Errorf("expected 250 total corrections, got %d", d.Stats().TotalCorrections)
	}
}

func TestCorrectionCallbackAndRemoval(t *testing.T) {
	var got []Correction
	d := NewDriftCorrector(DriftConfig{
		OnCorrection: func(c Correction) { got = append(got, c) },
	})
	d.AddDevice("a", deviceWithOffset("a", 5))
	d.AddDevice("b", deviceWithOffset("b", -5))

	d.PerformCorrection(100, false)
	if len(got) != 2 {
		t.Fatalf("expected 2 callbacks, got %d", len(got))
	}
	if got[0].DeviceID != "a" || got[0].AdjustmentMs >= 0 {
		t.Errorf("device a ahead should get a negative adjustment: %+v", got[0])
	}
	if got[1].DeviceID != "b" || got[1].AdjustmentMs <= 0 {
		t.Errorf("device b behind should get a positive adjustment: %+v", got[1])
	}

	d.RemoveDevice("a")
	got = nil
	d.PerformCorrection(200, false)
	if len(got) != 1 || got[0].DeviceID != "b" {
		t.Errorf("expected only device b after removal, got %+v", got)
	}
	if _, ok := d.State("a"); ok {
		t.Error("state for removed device should be gone")
	}
}

func TestPreviewDoesNotMutate(t *testing.T) {
	d := NewDriftCorrector(DriftConfig{})
	dc := deviceWithOffset("dev", 3)
	d.AddDevice("dev", dc)

	adj, ok := d.Preview("dev", 100)
	if !ok {
		t.Fatal("expected preview for registered device")
	}
	if math.Abs(adj-(-0.2)) > 1e-9 {
		t.Errorf("expected -0.2, got %f", adj)
	}
	if dc.Stats().CorrectionMs != 0 {
		t.Error("preview must not apply a correction")
	}

	c, ok := d.ApplyAdjustment("dev", 100, adj)
	if !ok || c.AdjustmentMs != adj {
		t.Fatalf("apply failed: %+v", c)
	}
	if dc.Stats().CorrectionMs != adj {
		t.Errorf("expected correction %f applied, got %f", adj, dc.Stats().CorrectionMs)
	}

	if _, ok := d.Preview("missing", 100); ok {
		t.Error("expected no preview for unknown device")
	}
}

func TestSystemQuality(t *testing.T) {
	d := NewDriftCorrector(DriftConfig{DriftThresholdMs: 0.5, MaxCorrectionMs: 2})
	if q, score := d.SystemQuality(); q != QualityExcellent || score != 1 {
		t.Errorf("empty corrector should be excellent, got %s %f", q, score)
	}

	d.AddDevice("excellent", deviceWithOffset("excellent", 0.1))
	d.AddDevice("good", deviceWithOffset("good", 0.8))
	d.AddDevice("fair", deviceWithOffset("fair", 1.5))
	d.AddDevice("poor", deviceWithOffset("poor", 50))
	d.PerformCorrection(10, false)

	q, score := d.SystemQuality()
	want := (1.0 + 0.8 + 0.6 + 0.3) / 4
	if math.Abs(score-want) > 1e-9 {
		t.Errorf("expected score %f, got %f", want, score)
	}
	if q != QualityFair {
		t.Errorf("expected fair, got %s", q)
	}
}

func TestQualityFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  Quality
	}{
		{1.0, QualityExcellent},
		{0.9, QualityExcellent},
		{0.85, QualityGood},
		{0.7, QualityGood},
		{0.6, QualityFair},
		{0.49, QualityPoor},
	}
	for _, tt := range tests {
		if got := QualityFromScore(tt.score); got != tt.want {
			t.Errorf("QualityFromScore(%f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestCorrectorLoopStopsWithClock(t *testing.T) {
	c := NewClock(ClockConfig{TickInterval: time.Millisecond})
	d := NewDriftCorrector(DriftConfig{Interval: 5 * time.Millisecond})
	d.AddDevice("dev", deviceWithOffset("dev", 100))

	c.Start()
	d.Start(c)
	time.Sleep(60 * time.Millisecond)
	c.Stop()

	passes := d.Stats().Passes
	if passes == 0 {
		t.Fatal("correction loop never ran")
	}
	time.Sleep(30 * time.Millisecond)
	if d.Stats().Passes != passes {
		t.Error("correction loop kept running after clock stop")
	}
}
