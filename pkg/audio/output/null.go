// ABOUTME: Output that discards audio
// ABOUTME: Used by headless devices and tests; counts what it was given
package output

import (
	"fmt"
	"sync"
)

// Null accepts samples and drops them
type Null struct {
	mu         sync.Mutex
	sampleRate int
	channels   int
	frames     int64
	volume     int
	muted      bool
	open       bool
	onWrite    func(samples []float32)
}

// NewNull creates a discarding output. onWrite, if set, sees every scaled write.
func NewNull(onWrite func(samples []float32)) *Null {
	return &Null{volume: 100, onWrite: onWrite}
}

func (n *Null) Open(sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid format %dHz %dch", sampleRate, channels)
	}
	n.mu.Lock()
	n.sampleRate, n.channels, n.open = sampleRate, channels, true
	n.mu.Unlock()
	return nil
}

func (n *Null) Write(samples []float32) error {
	n.mu.Lock()
	if !n.open {
		n.mu.Unlock()
		return fmt.Errorf("output not initialized")
	}
	scaled := applyVolume(samples, n.volume, n.muted)
	n.frames += int64(len(samples) / n.channels)
	cb := n.onWrite
	n.mu.Unlock()

	if cb != nil {
		cb(scaled)
	}
	return nil
}

func (n *Null) Close() error {
	n.mu.Lock()
	n.open = false
	n.mu.Unlock()
	return nil
}

// Frames returns the number of frames written since creation
func (n *Null) Frames() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.frames
}

func (n *Null) SetVolume(volume int) {
	n.mu.Lock()
	n.volume = clampVolume(volume)
	n.mu.Unlock()
}

func (n *Null) SetMuted(muted bool) {
	n.mu.Lock()
	n.muted = muted
	n.mu.Unlock()
}

func (n *Null) GetVolume() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.volume
}

func (n *Null) IsMuted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.muted
}
