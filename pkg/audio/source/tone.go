// ABOUTME: Test tone generator
// ABOUTME: Generates a 440Hz sine wave, optionally of fixed length
package source

import (
	"io"
	"math"
	"sync"
	"time"
)

// TestTone generates a 440Hz test tone
type TestTone struct {
	mu         sync.Mutex
	frame      uint64
	limit      uint64 // frames, 0 for endless
	frequency  float64
	sampleRate int
	channels   int
}

// NewTestTone creates a tone generator. A zero length never ends.
func NewTestTone(sampleRate, channels int, length time.Duration) *TestTone {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if channels <= 0 {
		channels = 2
	}
	return &TestTone{
		limit:      uint64(length.Seconds() * float64(sampleRate)),
		frequency:  440.0, // A4
		sampleRate: sampleRate,
		channels:   channels,
	}
}

func (s *TestTone) Read(samples []float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := uint64(len(samples) / s.channels)
	if s.limit > 0 {
		if s.frame >= s.limit {
			return 0, io.EOF
		}
		frames = min(frames, s.limit-s.frame)
	}

	for i := uint64(0); i < frames; i++ {
		t := float64(s.frame+i) / float64(s.sampleRate)
		// 50% volume
		v := float32(0.5 * math.Sin(2*math.Pi*s.frequency*t))
		for ch := 0; ch < s.channels; ch++ {
			samples[int(i)*s.channels+ch] = v
		}
	}
	s.frame += frames

	return int(frames) * s.channels, nil
}

func (s *TestTone) SampleRate() int { return s.sampleRate }
func (s *TestTone) Channels() int   { return s.channels }
func (s *TestTone) Metadata() (string, string, string) {
	return "Test Tone", "Resonate Sync", ""
}
func (s *TestTone) Close() error { return nil }
