// ABOUTME: Fixed-capacity circular sample buffer with drift-adjusted reads
// ABOUTME: Maps a target timestamp and a sample-domain drift value onto a read position
package buffer

import (
	"math"
	"sync"
	"time"
)

const (
	DefaultSampleRate        = 48000
	DefaultChannels          = 1
	DefaultDuration          = 2 * time.Second
	DefaultDriftSmoothing    = 0.1
	DefaultOverflowThreshold = 0.95
)

// Config configures a RingBuffer
type Config struct {
	// ID identifies the owning device in events and stats
	ID string

	// Capacity in samples (default: DefaultDuration of audio)
	Capacity int

	// SampleRate in frames per second (default: 48000)
	SampleRate int

	// Channels per interleaved frame (default: 1)
	Channels int

	// DriftSmoothing is how far the applied drift moves toward its target on each read (default: 0.1)
	DriftSmoothing float64

	// OverflowThreshold is the utilization above which writes flag overflow (default: 0.95)
	OverflowThreshold float64

	// OnOverflow is notified for every overflowing write, without locks held
	OnOverflow func(Overflow)

	Logger Logger
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = DefaultChannels
	}
	if c.Capacity <= 0 {
		c.Capacity = int(DefaultDuration.Seconds() * float64(c.SampleRate*c.Channels))
	}
	if c.DriftSmoothing <= 0 || c.DriftSmoothing > 1 {
		c.DriftSmoothing = DefaultDriftSmoothing
	}
	if c.OverflowThreshold <= 0 || c.OverflowThreshold > 1 {
		c.OverflowThreshold = DefaultOverflowThreshold
	}
	return c
}

// Overflow describes a write that pushed the buffer past its threshold
type Overflow struct {
	DeviceID    string
	Timestamp   float64
	Utilization float64
	Overwritten int // unread samples lost to the write
}

// WriteResult reports the outcome of a write
type WriteResult struct {
	Written     int
	Utilization float64
	Overflow    bool
	Overwritten int
}

// Stats is a read-only snapshot of a RingBuffer
type Stats struct {
	DeviceID       string
	Capacity       int
	Available      int
	Utilization    float64
	WritePos       int
	ReadPos        int
	LastWriteTime  float64
	LastReadTime   float64
	DriftTarget    float64 // frames
	DriftApplied   int     // frames
	SamplesWritten uint64
	SamplesRead    uint64
	SamplesSkipped uint64
	SamplesRepeat  uint64
	Overflows      uint64
}

// RingBuffer is a circular store of interleaved float samples with
// independent read and write cursors
type RingBuffer struct {
	config Config
	logger Logger

	mu            sync.Mutex
	storage       []float32
	writePos      int
	readPos       int
	full          bool
	lastWriteTime float64
	lastReadTime  float64

	// Drift is tracked in frames. driftTarget accumulates corrections,
	// driftSmoothed eases toward it, driftApplied is what reads have used.
	driftTarget   float64
	driftSmoothed float64
	driftApplied  int

	// shift is how many frames reads have moved past without returning
	// them since the last Clear. Negative after hold backs.
	shift int

	written   uint64
	read      uint64
	skipped   uint64
	repeated  uint64
	overflows uint64
}

// New creates an empty ring buffer
func New(config Config) *RingBuffer {
	config = config.withDefaults()
	// Keep capacity frame aligned
	config.Capacity -= config.Capacity % config.Channels
	if config.Capacity == 0 {
		config.Capacity = config.Channels
	}

	return &RingBuffer{
		config:  config,
		logger:  loggerOrNop(config.Logger),
		storage: make([]float32, config.Capacity),
	}
}

// Capacity returns the buffer size in samples
func (rb *RingBuffer) Capacity() int {
	return len(rb.storage)
}

// SampleRate returns the configured frame rate
func (rb *RingBuffer) SampleRate() int {
	return rb.config.SampleRate
}

// Channels returns the number of interleaved channels
func (rb *RingBuffer) Channels() int {
	return rb.config.Channels
}

// Write copies samples in at the write cursor, wrapping at capacity.
// Overflow is reported, never refused.
func (rb *RingBuffer) Write(samples []float32, timestamp float64) WriteResult {
	rb.mu.Lock()

	n := len(samples)
	capacity := len(rb.storage)
	before := rb.availableLocked()

	src := samples
	pos := rb.writePos
	if n > capacity {
		// Only the newest capacity samples survive
		drop := n - capacity
		src = samples[drop:]
		pos = (pos + drop) % capacity
	}
	first := copy(rb.storage[pos:], src)
	copy(rb.storage, src[first:])

	rb.writePos = (rb.writePos + n) % capacity
	if n > 0 {
		rb.full = rb.writePos == rb.readPos && before+n >= capacity
		rb.lastWriteTime = timestamp
	}
	rb.written += uint64(n)

	overwritten := 0
	if free := capacity - before; n > free {
		overwritten = min(n-free, before)
	}

	utilization := float64(rb.availableLocked()) / float64(capacity)
	result := WriteResult{
		Written:     n,
		Utilization: utilization,
		Overflow:    utilization > rb.config.OverflowThreshold || overwritten > 0,
		Overwritten: overwritten,
	}
	if result.Overflow {
		rb.overflows++
	}
	overflows := rb.overflows
	rb.mu.Unlock()

	if result.Overflow {
		if overflows <= 3 || overflows%100 == 0 {
			rb.logger.Printf("Buffer overflow on %s: utilization %.1f%%, %d unread samples overwritten (#%d)",
				rb.config.ID, utilization*100, overwritten, overflows)
		}
		if rb.config.OnOverflow != nil {
			rb.config.OnOverflow(Overflow{
				DeviceID:    rb.config.ID,
				Timestamp:   timestamp,
				Utilization: utilization,
				Overwritten: overwritten,
			})
		}
	}

	return result
}

// Read returns up to count samples for the given target timestamp.
// The read position is moved forward by the time elapsed since the last
// write and by any pending drift correction before copying.
func (rb *RingBuffer) Read(timestamp float64, count int) []float32 {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	capacity := len(rb.storage)
	channels := rb.config.Channels
	available := rb.availableLocked()

	// Time since the last write, in whole frames
	skip := 0
	if timestamp > rb.lastWriteTime {
		skip = rb.msToFrames(timestamp-rb.lastWriteTime) * channels
	}
	skip = min(skip, alignDown(available, channels))

	// Ease the applied drift toward its target and use only the change
	rb.driftSmoothed += rb.config.DriftSmoothing * (rb.driftTarget - rb.driftSmoothed)
	delta := (int(math.Round(rb.driftSmoothed)) - rb.driftApplied) * channels

	remaining := available - skip
	if delta > 0 {
		delta = min(delta, alignDown(remaining, channels))
	} else if delta < 0 {
		// Hold back by re-reading samples already emitted and still resident
		back := capacity - available
		if uint64(back) > rb.read {
			back = int(rb.read)
		}
		delta = max(delta, -alignDown(back, channels))
	}
	rb.driftApplied += delta / channels

	move := skip + delta
	rb.shift += move / channels
	pos := ((rb.readPos+move)%capacity + capacity) % capacity
	available -= move

	n := alignDown(min(count, available), channels)
	out := make([]float32, n)
	first := copy(out, rb.storage[pos:min(pos+n, capacity)])
	copy(out[first:], rb.storage[:n-first])

	rb.readPos = (pos + n) % capacity
	rb.full = available-n == capacity
	rb.lastReadTime = timestamp

	rb.read += uint64(n)
	rb.skipped += uint64(skip)
	if delta > 0 {
		rb.skipped += uint64(delta)
	} else {
		rb.repeated += uint64(-delta)
	}

	return out
}

// ApplyDriftCorrection accumulates a sample-domain correction in frames.
// Positive values make later reads skip ahead, negative values hold back.
func (rb *RingBuffer) ApplyDriftCorrection(frames float64) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.driftTarget += frames
}

// MsToFrames converts a duration in milliseconds to fractional frames
func (rb *RingBuffer) MsToFrames(ms float64) float64 {
	return ms * float64(rb.config.SampleRate) / 1000
}

func (rb *RingBuffer) msToFrames(ms float64) int {
	return int(math.Round(rb.MsToFrames(ms)))
}

// Available returns the number of unread samples
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.availableLocked()
}

// Utilization returns unread samples as a fraction of capacity
func (rb *RingBuffer) Utilization() float64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return float64(rb.availableLocked()) / float64(len(rb.storage))
}

func (rb *RingBuffer) availableLocked() int {
	if rb.full {
		return len(rb.storage)
	}
	if rb.writePos >= rb.readPos {
		return rb.writePos - rb.readPos
	}
	// wrapped since the last read
	return len(rb.storage) - rb.readPos + rb.writePos
}

// Reset empties the buffer and clears drift state
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.clearLocked()
	rb.driftTarget = 0
	rb.driftSmoothed = 0
	rb.driftApplied = 0
}

// Clear empties the buffer but keeps the drift accumulated so far.
// Corrections already applied are not replayed; pending ones still are.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.clearLocked()
}

func (rb *RingBuffer) clearLocked() {
	for i := range rb.storage {
		rb.storage[i] = 0
	}
	rb.writePos = 0
	rb.readPos = 0
	rb.full = false
	rb.lastWriteTime = 0
	rb.lastReadTime = 0
	rb.read = 0
	rb.shift = 0
}

// Shift returns the frames reads have skipped, minus those they repeated,
// since the last Clear or Reset. Content returned by the latest read sits
// that many frames ahead of a plain sequential read.
func (rb *RingBuffer) Shift() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.shift
}

// Stats returns a snapshot
func (rb *RingBuffer) Stats() Stats {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	available := rb.availableLocked()
	return Stats{
		DeviceID:       rb.config.ID,
		Capacity:       len(rb.storage),
		Available:      available,
		Utilization:    float64(available) / float64(len(rb.storage)),
		WritePos:       rb.writePos,
		ReadPos:        rb.readPos,
		LastWriteTime:  rb.lastWriteTime,
		LastReadTime:   rb.lastReadTime,
		DriftTarget:    rb.driftTarget,
		DriftApplied:   rb.driftApplied,
		SamplesWritten: rb.written,
		SamplesRead:    rb.read,
		SamplesSkipped: rb.skipped,
		SamplesRepeat:  rb.repeated,
		Overflows:      rb.overflows,
	}
}

func alignDown(n, channels int) int {
	if n <= 0 {
		return 0
	}
	return n - n%channels
}
