// ABOUTME: Periodic bounded drift correction across all device clocks
// ABOUTME: Clamps and smooths per-device adjustments and keeps a correction history
package sync

import (
	"math"
	"sort"
	"sync"
	"time"
)

const driftSubscriptionID = "drift-corrector"

// DriftConfig configures a DriftCorrector
type DriftConfig struct {
	// DriftThresholdMs skips devices whose |drift| is at or below it (default: 0.5)
	DriftThresholdMs float64

	// MaxCorrectionMs clamps a single raw adjustment (default: 2)
	MaxCorrectionMs float64

	// AdjustmentSmoothing weighs the clamped adjustment against the pending one (default: 0.1)
	AdjustmentSmoothing float64

	// AverageSmoothing weighs new drift samples into the system average (default: 0.1)
	AverageSmoothing float64

	// HistorySize bounds the correction history (default: 100)
	HistorySize int

	// Interval is the correction loop period (default: 100ms)
	Interval time.Duration

	// OnCorrection is called for every applied correction, outside locks
	OnCorrection func(Correction)

	Logger Logger
}

func (c DriftConfig) withDefaults() DriftConfig {
	if c.DriftThresholdMs <= 0 {
		c.DriftThresholdMs = 0.5
	}
	if c.MaxCorrectionMs <= 0 {
		c.MaxCorrectionMs = 2
	}
	if c.AdjustmentSmoothing <= 0 || c.AdjustmentSmoothing > 1 {
		c.AdjustmentSmoothing = 0.1
	}
	if c.AverageSmoothing <= 0 || c.AverageSmoothing > 1 {
		c.AverageSmoothing = 0.1
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	return c
}

// Correction is one applied adjustment
type Correction struct {
	DeviceID     string
	MasterTime   float64
	DriftMs      float64
	AdjustmentMs float64
	Quality      Quality
	Forced       bool
}

// CorrectionState is the per-device bookkeeping of the corrector
type CorrectionState struct {
	PendingAdjustmentMs float64
	LastAdjustmentMs    float64
	LastDriftMs         float64
	CorrectionCount     int
	Quality             Quality
}

// DriftStats is a read-only snapshot of the corrector
type DriftStats struct {
	Devices          int
	Passes           uint64
	TotalCorrections uint64
	AverageDriftMs   float64
	SystemScore      float64
	SystemQuality    Quality
	States           map[string]CorrectionState
}

// DriftCorrector compares every registered DeviceClock against master time
// and applies bounded corrections
type DriftCorrector struct {
	config DriftConfig
	logger Logger

	passMu sync.Mutex // one pass in flight

	mu           sync.Mutex
	devices      map[string]*DeviceClock
	states       map[string]*CorrectionState
	history      []Correction
	averageDrift float64
	hasAverage   bool
	passes       uint64
	total        uint64
	clock        *Clock
}

// NewDriftCorrector creates a corrector with no devices
func NewDriftCorrector(config DriftConfig) *DriftCorrector {
	config = config.withDefaults()
	return &DriftCorrector{
		config:  config,
		logger:  loggerOrNop(config.Logger),
		devices: make(map[string]*DeviceClock),
		states:  make(map[string]*CorrectionState),
	}
}

// AddDevice registers a clock. Re-adding an id resets its correction state.
func (d *DriftCorrector) AddDevice(deviceID string, clock *DeviceClock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[deviceID] = clock
	d.states[deviceID] = &CorrectionState{Quality: QualityExcellent}
}

// RemoveDevice forgets a device
func (d *DriftCorrector) RemoveDevice(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.devices, deviceID)
	delete(d.states, deviceID)
}

// Start runs PerformCorrection every Interval of master time, driven by the
// clock's tick loop. Stopping the clock stops the loop.
func (d *DriftCorrector) Start(clock *Clock) {
	d.mu.Lock()
	d.clock = clock
	d.mu.Unlock()

	clock.Subscribe(driftSubscriptionID, func(t Tick) {
		d.PerformCorrection(t.Time, false)
	}, d.config.Interval)
}

// Stop detaches the loop from its clock
func (d *DriftCorrector) Stop() {
	d.mu.Lock()
	clock := d.clock
	d.clock = nil
	d.mu.Unlock()

	if clock != nil {
		clock.Unsubscribe(driftSubscriptionID)
	}
}

// PerformCorrection runs one pass over all devices and returns the
// corrections it applied. Devices within the drift threshold are skipped
// unless force is set.
func (d *DriftCorrector) PerformCorrection(masterTime float64, force bool) []Correction {
	d.passMu.Lock()
	defer d.passMu.Unlock()

	d.mu.Lock()
	ids := make([]string, 0, len(d.devices))
	for id := range d.devices {
		ids = append(ids, id)
	}
	clocks := make(map[string]*DeviceClock, len(d.devices))
	for id, c := range d.devices {
		clocks[id] = c
	}
	d.passes++
	d.mu.Unlock()

	sort.Strings(ids)

	var applied []Correction
	for _, id := range ids {
		c, ok := d.correctDevice(id, clocks[id], masterTime, force)
		if ok {
			applied = append(applied, c)
		}
	}

	for _, c := range applied {
		if d.config.OnCorrection != nil {
			d.config.OnCorrection(c)
		}
	}

	return applied
}

// correctDevice measures one device and applies a correction if needed
func (d *DriftCorrector) correctDevice(id string, clock *DeviceClock, masterTime float64, force bool) (Correction, bool) {
	drift := clock.SynchronizedTime(masterTime) - masterTime
	quality := d.bandFor(drift)

	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.states[id]
	if !ok {
		// Removed while the pass was running
		return Correction{}, false
	}
	state.LastDriftMs = drift
	state.Quality = quality
	d.updateAverageLocked(drift)

	if math.Abs(drift) <= d.config.DriftThresholdMs && !force {
		return Correction{}, false
	}

	adjustment := d.smoothLocked(state, drift)
	c := Correction{
		DeviceID:     id,
		MasterTime:   masterTime,
		DriftMs:      drift,
		AdjustmentMs: adjustment,
		Quality:      quality,
		Forced:       force,
	}
	d.applyLocked(state, clock, c)

	return c, true
}

// Preview computes the adjustment a pass would apply to deviceID right now
// without mutating any state
func (d *DriftCorrector) Preview(deviceID string, masterTime float64) (float64, bool) {
	d.mu.Lock()
	clock, ok := d.devices[deviceID]
	var pending float64
	if ok {
		pending = d.states[deviceID].PendingAdjustmentMs
	}
	d.mu.Unlock()
	if !ok {
		return 0, false
	}

	drift := clock.SynchronizedTime(masterTime) - masterTime
	clamped := clamp(-drift, d.config.MaxCorrectionMs)
	b := d.config.AdjustmentSmoothing
	return b*clamped + (1-b)*pending, true
}

// ApplyAdjustment applies an externally computed adjustment, typically one
// obtained from Preview at a playback checkpoint. The adjustment is clamped.
func (d *DriftCorrector) ApplyAdjustment(deviceID string, masterTime, adjustmentMs float64) (Correction, bool) {
	d.mu.Lock()
	clock, ok := d.devices[deviceID]
	state := d.states[deviceID]
	if !ok {
		d.mu.Unlock()
		return Correction{}, false
	}

	drift := clock.SynchronizedTime(masterTime) - masterTime
	c := Correction{
		DeviceID:     deviceID,
		MasterTime:   masterTime,
		DriftMs:      drift,
		AdjustmentMs: clamp(adjustmentMs, d.config.MaxCorrectionMs),
		Quality:      d.bandFor(drift),
		Forced:       true,
	}
	state.LastDriftMs = drift
	state.Quality = c.Quality
	d.applyLocked(state, clock, c)
	d.mu.Unlock()

	if d.config.OnCorrection != nil {
		d.config.OnCorrection(c)
	}
	return c, true
}

func (d *DriftCorrector) smoothLocked(state *CorrectionState, drift float64) float64 {
	clamped := clamp(-drift, d.config.MaxCorrectionMs)
	b := d.config.AdjustmentSmoothing
	return b*clamped + (1-b)*state.PendingAdjustmentMs
}

func (d *DriftCorrector) applyLocked(state *CorrectionState, clock *DeviceClock, c Correction) {
	state.PendingAdjustmentMs = c.AdjustmentMs
	state.LastAdjustmentMs = c.AdjustmentMs
	state.CorrectionCount++
	d.total++

	clock.ApplyCorrection(c.AdjustmentMs)

	d.history = append(d.history, c)
	if over := len(d.history) - d.config.HistorySize; over > 0 {
		d.history = append(d.history[:0], d.history[over:]...)
	}

	if state.CorrectionCount <= 3 || state.CorrectionCount%100 == 0 {
		d.logger.Printf("Drift correction #%d for %s: drift=%.3fms adjustment=%.3fms (%s)",
			state.CorrectionCount, c.DeviceID, c.DriftMs, c.AdjustmentMs, c.Quality)
	}
}

func (d *DriftCorrector) updateAverageLocked(drift float64) {
	if !d.hasAverage {
		d.averageDrift = drift
		d.hasAverage = true
		return
	}
	a := d.config.AverageSmoothing
	d.averageDrift = a*drift + (1-a)*d.averageDrift
}

// bandFor maps a drift magnitude onto a quality band relative to the
// configured threshold and correction limit
func (d *DriftCorrector) bandFor(drift float64) Quality {
	abs := math.Abs(drift)
	switch {
	case abs <= d.config.DriftThresholdMs:
		return QualityExcellent
	case abs <= 2*d.config.DriftThresholdMs:
		return QualityGood
	case abs <= d.config.MaxCorrectionMs:
		return QualityFair
	default:
		return QualityPoor
	}
}

// SystemQuality averages the device band scores
func (d *DriftCorrector) SystemQuality() (Quality, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.systemQualityLocked()
}

func (d *DriftCorrector) systemQualityLocked() (Quality, float64) {
	if len(d.states) == 0 {
		return QualityExcellent, 1.0
	}
	var sum float64
	for _, s := range d.states {
		sum += s.Quality.Score()
	}
	score := sum / float64(len(d.states))
	return QualityFromScore(score), score
}

// State returns the correction state for one device
func (d *DriftCorrector) State(deviceID string) (CorrectionState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.states[deviceID]
	if !ok {
		return CorrectionState{}, false
	}
	return *s, true
}

// History returns a copy of the most recent corrections, oldest first
func (d *DriftCorrector) History() []Correction {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Correction, len(d.history))
	copy(out, d.history)
	return out
}

// Stats returns a snapshot
func (d *DriftCorrector) Stats() DriftStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	states := make(map[string]CorrectionState, len(d.states))
	for id, s := range d.states {
		states[id] = *s
	}
	quality, score := d.systemQualityLocked()

	return DriftStats{
		Devices:          len(d.devices),
		Passes:           d.passes,
		TotalCorrections: d.total,
		AverageDriftMs:   d.averageDrift,
		SystemScore:      score,
		SystemQuality:    quality,
		States:           states,
	}
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
