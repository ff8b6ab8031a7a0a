// ABOUTME: Batch and continuous latency measurement against output devices
// ABOUTME: Probes a device repeatedly and aggregates the surviving round trips
package latency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrMeasurementTimeout marks a probe that exceeded its timeout.
	ErrMeasurementTimeout = errors.New("probe timeout")
	// ErrMeasurementInvalid marks a probe with a non-positive round trip or implausible latency.
	ErrMeasurementInvalid = errors.New("probe invalid")
	// ErrNoSuccessfulMeasurements is returned when every probe in a batch failed.
	ErrNoSuccessfulMeasurements = errors.New("no successful measurements")
)

// ProbeResponse carries the device-reported receive time of a probe
type ProbeResponse struct {
	DeviceTimeMs float64
}

// ProbeFunc sends one timestamped probe to a device and waits for its answer.
// It should honor ctx; the measurer stops waiting when ctx expires either way.
type ProbeFunc func(ctx context.Context, deviceID string) (ProbeResponse, error)

// TimeSource provides master time in milliseconds
type TimeSource interface {
	CurrentTime() float64
}

// Config configures a Measurer
type Config struct {
	// SampleSize is the number of probes per batch (default: 10)
	SampleSize int

	// ProbeSpacing is the delay between probes (default: 100ms)
	ProbeSpacing time.Duration

	// Timeout bounds a single probe (default: 1s)
	Timeout time.Duration

	// MaxLatencyMs discards probes whose one-way latency is above it (default: 100)
	MaxLatencyMs float64

	// Interval is the continuous monitoring period (default: 5s)
	Interval time.Duration

	// Clock stamps each sample with master time (default: ms since NewMeasurer)
	Clock TimeSource

	// Now measures round trips (default: time.Now)
	Now func() time.Time

	Logger Logger
}

// Sample is one surviving probe
type Sample struct {
	Attempt      int
	MasterTimeMs float64 // master time when the probe was sent
	DeviceTimeMs float64
	RTTMs        float64
	LatencyMs    float64
}

// ProbeError records why one probe in a batch was discarded
type ProbeError struct {
	Attempt int
	Err     error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %d: %v", e.Attempt, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// Measurement aggregates one batch
type Measurement struct {
	DeviceID      string
	Samples       []Sample // completion order
	MeanMs        float64
	MedianMs      float64
	StdDevMs      float64
	JitterMs      float64
	MinMs         float64
	MaxMs         float64
	SampleCount   int
	TotalAttempts int
	Quality       Quality
	Errors        []*ProbeError
	Timestamp     time.Time
}

// deviceLock serializes batches for one device. The entry lives in
// Measurer.locks while any caller holds or waits on it.
type deviceLock struct {
	sync.Mutex
	refs int
}

type monitor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Measurer runs latency measurements. Batches for the same device are
// serialized; different devices run independently.
type Measurer struct {
	config Config
	logger Logger

	mu       sync.Mutex
	locks    map[string]*deviceLock
	monitors map[string]*monitor
}

type elapsedClock struct {
	start time.Time
	now   func() time.Time
}

func (c elapsedClock) CurrentTime() float64 {
	return float64(c.now().Sub(c.start)) / float64(time.Millisecond)
}

// NewMeasurer creates a measurer
func NewMeasurer(config Config) *Measurer {
	if config.SampleSize <= 0 {
		config.SampleSize = 10
	}
	if config.ProbeSpacing <= 0 {
		config.ProbeSpacing = 100 * time.Millisecond
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Second
	}
	if config.MaxLatencyMs <= 0 {
		config.MaxLatencyMs = 100
	}
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Clock == nil {
		config.Clock = elapsedClock{start: config.Now(), now: config.Now}
	}

	return &Measurer{
		config:   config,
		logger:   loggerOrNop(config.Logger),
		locks:    make(map[string]*deviceLock),
		monitors: make(map[string]*monitor),
	}
}

// lockDevice blocks until deviceID has no batch running and returns the
// matching unlock
func (m *Measurer) lockDevice(deviceID string) func() {
	m.mu.Lock()
	l, ok := m.locks[deviceID]
	if !ok {
		l = &deviceLock{}
		m.locks[deviceID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, deviceID)
		}
		m.mu.Unlock()
	}
}

// Measure runs one batch of sequential probes against deviceID.
// Individual probe failures are collected in Measurement.Errors; only a
// batch with zero survivors fails.
func (m *Measurer) Measure(ctx context.Context, deviceID string, probe ProbeFunc) (*Measurement, error) {
	unlock := m.lockDevice(deviceID)
	defer unlock()

	meas := &Measurement{
		DeviceID:      deviceID,
		TotalAttempts: m.config.SampleSize,
		Timestamp:     m.config.Now(),
	}

	for attempt := 1; attempt <= m.config.SampleSize; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.config.ProbeSpacing):
			}
		}

		sample, err := m.probeOnce(ctx, deviceID, probe, attempt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			meas.Errors = append(meas.Errors, &ProbeError{Attempt: attempt, Err: err})
			m.logger.Printf("Discarding probe %d for %s: %v", attempt, deviceID, err)
			continue
		}
		meas.Samples = append(meas.Samples, sample)
	}

	if len(meas.Samples) == 0 {
		return meas, fmt.Errorf("%w: %s after %d attempts", ErrNoSuccessfulMeasurements, deviceID, meas.TotalAttempts)
	}

	meas.summarize()
	return meas, nil
}

// probeOnce runs a single probe under its own timeout
func (m *Measurer) probeOnce(ctx context.Context, deviceID string, probe ProbeFunc, attempt int) (Sample, error) {
	pctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	type result struct {
		resp ProbeResponse
		err  error
	}
	ch := make(chan result, 1)

	masterSend := m.config.Clock.CurrentTime()
	sent := m.config.Now()
	go func() {
		resp, err := probe(pctx, deviceID)
		ch <- result{resp, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-pctx.Done():
		if ctx.Err() != nil {
			return Sample{}, ctx.Err()
		}
		return Sample{}, fmt.Errorf("%w: no answer within %v", ErrMeasurementTimeout, m.config.Timeout)
	}
	received := m.config.Now()

	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Sample{}, fmt.Errorf("%w: %v", ErrMeasurementTimeout, res.err)
		}
		return Sample{}, res.err
	}

	rtt := float64(received.Sub(sent)) / float64(time.Millisecond)
	timeoutMs := float64(m.config.Timeout) / float64(time.Millisecond)
	switch {
	case rtt <= 0:
		return Sample{}, fmt.Errorf("%w: round trip %.3fms", ErrMeasurementInvalid, rtt)
	case rtt > timeoutMs:
		return Sample{}, fmt.Errorf("%w: round trip %.1fms", ErrMeasurementTimeout, rtt)
	case rtt/2 > m.config.MaxLatencyMs:
		return Sample{}, fmt.Errorf("%w: latency %.1fms above %.0fms", ErrMeasurementInvalid, rtt/2, m.config.MaxLatencyMs)
	}

	return Sample{
		Attempt:      attempt,
		MasterTimeMs: masterSend,
		DeviceTimeMs: res.resp.DeviceTimeMs,
		RTTMs:        rtt,
		LatencyMs:    rtt / 2,
	}, nil
}

// MeasureAll measures every device in parallel. A failing device never
// prevents the others from completing.
func (m *Measurer) MeasureAll(ctx context.Context, probes map[string]ProbeFunc) (map[string]*Measurement, map[string]error) {
	var (
		mu      sync.Mutex
		results = make(map[string]*Measurement, len(probes))
		errs    = make(map[string]error)
		g       errgroup.Group
	)

	for id, probe := range probes {
		id, probe := id, probe
		g.Go(func() error {
			meas, err := m.Measure(ctx, id, probe)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[id] = err
				return nil
			}
			results[id] = meas
			return nil
		})
	}
	g.Wait()

	return results, errs
}

// StartMonitoring re-measures deviceID every Interval, or Interval/2 after
// a failed batch, until stopped. An existing loop for the device is
// replaced. onResult must not call StopMonitoring for the same device.
func (m *Measurer) StartMonitoring(deviceID string, probe ProbeFunc, onResult func(*Measurement, error)) {
	m.StopMonitoring(deviceID)

	ctx, cancel := context.WithCancel(context.Background())
	mon := &monitor{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.monitors[deviceID] = mon
	m.mu.Unlock()

	go func() {
		defer close(mon.done)
		m.monitorLoop(ctx, deviceID, probe, onResult)
	}()
}

func (m *Measurer) monitorLoop(ctx context.Context, deviceID string, probe ProbeFunc, onResult func(*Measurement, error)) {
	wait := m.config.Interval

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		meas, err := m.Measure(ctx, deviceID, probe)
		if ctx.Err() != nil {
			return
		}

		wait = m.config.Interval
		if err != nil {
			wait = m.config.Interval / 2
			m.logger.Printf("Latency measurement failed for %s, retrying in %v: %v", deviceID, wait, err)
		}

		if onResult != nil {
			onResult(meas, err)
		}
	}
}

// StopMonitoring stops the loop for deviceID and waits for it to exit
func (m *Measurer) StopMonitoring(deviceID string) {
	m.mu.Lock()
	mon, ok := m.monitors[deviceID]
	delete(m.monitors, deviceID)
	m.mu.Unlock()

	if ok {
		mon.cancel()
		<-mon.done
	}
}

// Monitoring reports whether a loop is running for deviceID
func (m *Measurer) Monitoring(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.monitors[deviceID]
	return ok
}

// Forget stops monitoring deviceID. Its batch lock goes away on its own
// once no batch holds or waits on it.
func (m *Measurer) Forget(deviceID string) {
	m.StopMonitoring(deviceID)
}

// Stop cancels every monitoring loop and waits for them
func (m *Measurer) Stop() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.monitors))
	for id := range m.monitors {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.StopMonitoring(id)
	}
}
