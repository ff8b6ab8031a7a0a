// ABOUTME: Per-device registry of ring buffers
// ABOUTME: Routes buffer operations by device id and reports missing devices
package buffer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrBufferNotFound is returned for operations on a device with no buffer.
var ErrBufferNotFound = errors.New("buffer not found")

// Logger is satisfied by *log.Logger and logrus loggers
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

func loggerOrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

// Manager owns one RingBuffer per device
type Manager struct {
	defaults Config

	mu      sync.RWMutex
	buffers map[string]*RingBuffer
}

// NewManager creates a manager whose buffers are built from defaults
func NewManager(defaults Config) *Manager {
	return &Manager{
		defaults: defaults,
		buffers:  make(map[string]*RingBuffer),
	}
}

// Register creates the buffer for deviceID, replacing any existing one
func (m *Manager) Register(deviceID string) *RingBuffer {
	config := m.defaults
	config.ID = deviceID
	rb := New(config)

	m.mu.Lock()
	m.buffers[deviceID] = rb
	m.mu.Unlock()

	return rb
}

// Remove destroys the buffer for deviceID
func (m *Manager) Remove(deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.buffers[deviceID]; !ok {
		return fmt.Errorf("%w: %s", ErrBufferNotFound, deviceID)
	}
	delete(m.buffers, deviceID)
	return nil
}

// Get returns the buffer for deviceID
func (m *Manager) Get(deviceID string) (*RingBuffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rb, ok := m.buffers[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBufferNotFound, deviceID)
	}
	return rb, nil
}

// Write writes to the buffer for deviceID
func (m *Manager) Write(deviceID string, samples []float32, timestamp float64) (WriteResult, error) {
	rb, err := m.Get(deviceID)
	if err != nil {
		return WriteResult{}, err
	}
	return rb.Write(samples, timestamp), nil
}

// Read reads from the buffer for deviceID
func (m *Manager) Read(deviceID string, timestamp float64, count int) ([]float32, error) {
	rb, err := m.Get(deviceID)
	if err != nil {
		return nil, err
	}
	return rb.Read(timestamp, count), nil
}

// ApplyDriftCorrection forwards a correction in frames to deviceID's buffer
func (m *Manager) ApplyDriftCorrection(deviceID string, frames float64) error {
	rb, err := m.Get(deviceID)
	if err != nil {
		return err
	}
	rb.ApplyDriftCorrection(frames)
	return nil
}

// Reset clears the buffer for deviceID
func (m *Manager) Reset(deviceID string) error {
	rb, err := m.Get(deviceID)
	if err != nil {
		return err
	}
	rb.Reset()
	return nil
}

// IDs returns the registered device ids in sorted order
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.buffers))
	for id := range m.buffers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns a snapshot of every buffer
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]Stats, len(m.buffers))
	for id, rb := range m.buffers {
		stats[id] = rb.Stats()
	}
	return stats
}
