// ABOUTME: Per-device clock offset and drift estimation
// ABOUTME: Smooths probe results into offset, drift rate, latency and jitter
package sync

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	// ErrMeasurementTimeout marks a round trip longer than the measurement timeout.
	ErrMeasurementTimeout = errors.New("measurement timeout")
	// ErrMeasurementInvalid marks a non-positive round trip or an implausible latency.
	ErrMeasurementInvalid = errors.New("measurement invalid")
	// ErrStaleMeasurement marks a result older than the last applied one.
	ErrStaleMeasurement = errors.New("stale measurement")
)

// DeviceClockConfig configures a DeviceClock
type DeviceClockConfig struct {
	// ToleranceMs is the largest |offset| considered synchronized (default: 1)
	ToleranceMs float64

	// OffsetSmoothing is the weight given to a new offset candidate (default: 0.1)
	OffsetSmoothing float64

	// DriftSmoothing is the weight given to a new drift rate sample (default: 0.1)
	DriftSmoothing float64

	// LatencyWindow bounds the recent-latency queue (default: 10)
	LatencyWindow int

	// MeasurementTimeoutMs rejects round trips above it (default: 1000)
	MeasurementTimeoutMs float64

	Logger Logger
}

func (c DeviceClockConfig) withDefaults() DeviceClockConfig {
	if c.ToleranceMs <= 0 {
		c.ToleranceMs = 1
	}
	if c.OffsetSmoothing <= 0 || c.OffsetSmoothing > 1 {
		c.OffsetSmoothing = 0.1
	}
	if c.DriftSmoothing <= 0 || c.DriftSmoothing > 1 {
		c.DriftSmoothing = 0.1
	}
	if c.LatencyWindow <= 0 {
		c.LatencyWindow = 10
	}
	if c.MeasurementTimeoutMs <= 0 {
		c.MeasurementTimeoutMs = 1000
	}
	return c
}

// SyncResult is returned from a successful UpdateOffset
type SyncResult struct {
	OffsetMs     float64
	DriftRatePpm float64
	LatencyMs    float64
	JitterMs     float64
	SyncAccuracy int // 0-100
}

// DeviceClockStats is a read-only snapshot of a DeviceClock
type DeviceClockStats struct {
	DeviceID     string
	OffsetMs     float64
	CorrectionMs float64
	DriftRatePpm float64
	LatencyMs    float64
	JitterMs     float64
	LastSyncTime float64
	SyncCount    int
	SyncAccuracy int
	Quality      Quality
}

// DeviceClock tracks how far one device's effective clock is from the master
type DeviceClock struct {
	id     string
	config DeviceClockConfig
	logger Logger

	mu           sync.RWMutex
	offset       float64 // ms, device - master
	correction   float64 // ms, accumulated drift corrections
	driftRatePpm float64
	lastSyncTime float64
	latencies    []float64
	latency      float64
	jitter       float64
	syncCount    int
}

// NewDeviceClock creates a clock estimator for one device
func NewDeviceClock(deviceID string, config DeviceClockConfig) *DeviceClock {
	config = config.withDefaults()
	return &DeviceClock{
		id:        deviceID,
		config:    config,
		logger:    loggerOrNop(config.Logger),
		latencies: make([]float64, 0, config.LatencyWindow),
	}
}

// ID returns the device id
func (dc *DeviceClock) ID() string {
	return dc.id
}

// SynchronizedTime predicts the device's effective clock at masterTime
func (dc *DeviceClock) SynchronizedTime(masterTime float64) float64 {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	driftAdjustment := dc.driftRatePpm * (masterTime - dc.lastSyncTime) / 1e6
	return masterTime + dc.offset + dc.correction + driftAdjustment
}

// DeviceTime maps masterTime onto the device's own clock from the offset
// and drift estimates alone. Accumulated corrections are left out because
// they are realized by shifting content, not time.
func (dc *DeviceClock) DeviceTime(masterTime float64) float64 {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	return masterTime + dc.offset + dc.driftRatePpm*(masterTime-dc.lastSyncTime)/1e6
}

// UpdateOffset folds one probe result into the estimate. Rejected results
// leave all state untouched.
func (dc *DeviceClock) UpdateOffset(masterTime, deviceTime, roundTripTime float64) (SyncResult, error) {
	if roundTripTime <= 0 {
		return SyncResult{}, fmt.Errorf("%w: round trip %.3fms for %s", ErrMeasurementInvalid, roundTripTime, dc.id)
	}
	if roundTripTime > dc.config.MeasurementTimeoutMs {
		dc.logger.Printf("Discarding sync sample for %s: round trip %.1fms exceeds %.0fms",
			dc.id, roundTripTime, dc.config.MeasurementTimeoutMs)
		return SyncResult{}, fmt.Errorf("%w: round trip %.1fms for %s", ErrMeasurementTimeout, roundTripTime, dc.id)
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.syncCount > 0 && masterTime < dc.lastSyncTime {
		return SyncResult{}, fmt.Errorf("%w: %.3fms is before last sync %.3fms", ErrStaleMeasurement, masterTime, dc.lastSyncTime)
	}

	oneWay := roundTripTime / 2
	candidate := deviceTime - masterTime - oneWay

	previous := dc.offset
	a := dc.config.OffsetSmoothing
	dc.offset = a*candidate + (1-a)*previous

	if dc.syncCount > 0 {
		if elapsed := masterTime - dc.lastSyncTime; elapsed > 0 {
			rate := (dc.offset - previous) / elapsed * 1e6
			d := dc.config.DriftSmoothing
			dc.driftRatePpm = d*rate + (1-d)*dc.driftRatePpm
		}
	}

	dc.lastSyncTime = masterTime
	dc.syncCount++
	dc.recordLatency(oneWay)

	if dc.syncCount <= 3 {
		dc.logger.Printf("Sync #%d for %s: candidate=%.3fms offset=%.3fms drift=%.2fppm rtt=%.1fms",
			dc.syncCount, dc.id, candidate, dc.offset, dc.driftRatePpm, roundTripTime)
	}

	return SyncResult{
		OffsetMs:     dc.offset,
		DriftRatePpm: dc.driftRatePpm,
		LatencyMs:    dc.latency,
		JitterMs:     dc.jitter,
		SyncAccuracy: dc.accuracyLocked(),
	}, nil
}

// recordLatency appends to the bounded queue and recomputes mean and
// population standard deviation
func (dc *DeviceClock) recordLatency(latency float64) {
	if len(dc.latencies) == dc.config.LatencyWindow {
		copy(dc.latencies, dc.latencies[1:])
		dc.latencies = dc.latencies[:len(dc.latencies)-1]
	}
	dc.latencies = append(dc.latencies, latency)

	var sum float64
	for _, l := range dc.latencies {
		sum += l
	}
	mean := sum / float64(len(dc.latencies))

	var variance float64
	for _, l := range dc.latencies {
		variance += (l - mean) * (l - mean)
	}
	variance /= float64(len(dc.latencies))

	dc.latency = mean
	dc.jitter = math.Sqrt(variance)
}

// Reset forgets every estimate, for a master timeline that restarted at 0
func (dc *DeviceClock) Reset() {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.offset = 0
	dc.correction = 0
	dc.driftRatePpm = 0
	dc.lastSyncTime = 0
	dc.latencies = dc.latencies[:0]
	dc.latency = 0
	dc.jitter = 0
	dc.syncCount = 0
}

// ApplyCorrection accumulates an adjustment produced by the drift corrector
func (dc *DeviceClock) ApplyCorrection(adjustmentMs float64) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.correction += adjustmentMs
}

// IsSynchronized reports whether |offset| is within tolerance
func (dc *DeviceClock) IsSynchronized(masterTime float64) bool {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return math.Abs(dc.offset) <= dc.config.ToleranceMs
}

// Quality classifies the current offset and mean latency
func (dc *DeviceClock) Quality() Quality {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return classify(dc.offset, dc.latency, dc.config.ToleranceMs)
}

// Offset returns the smoothed offset in ms
func (dc *DeviceClock) Offset() float64 {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.offset
}

// LatencyMs returns the mean of the recent one-way latencies
func (dc *DeviceClock) LatencyMs() float64 {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.latency
}

// Stats returns a snapshot
func (dc *DeviceClock) Stats() DeviceClockStats {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	return DeviceClockStats{
		DeviceID:     dc.id,
		OffsetMs:     dc.offset,
		CorrectionMs: dc.correction,
		DriftRatePpm: dc.driftRatePpm,
		LatencyMs:    dc.latency,
		JitterMs:     dc.jitter,
		LastSyncTime: dc.lastSyncTime,
		SyncCount:    dc.syncCount,
		SyncAccuracy: dc.accuracyLocked(),
		Quality:      classify(dc.offset, dc.latency, dc.config.ToleranceMs),
	}
}

func (dc *DeviceClock) accuracyLocked() int {
	return int(math.Round(100 * math.Max(0, 1-math.Abs(dc.offset)/dc.config.ToleranceMs)))
}

func classify(offset, latency, tolerance float64) Quality {
	abs := math.Abs(offset)
	switch {
	case abs > 2*tolerance || latency > 50:
		return QualityPoor
	case abs > tolerance || latency > 20:
		return QualityFair
	default:
		return QualityGood
	}
}
