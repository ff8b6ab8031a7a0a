// ABOUTME: Coordinator wiring the clock, measurer, corrector, buffers and planner
// ABOUTME: Owns the device registry and drives playback from clock ticks
package resonate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-sync/pkg/buffer"
	"github.com/Resonate-Protocol/resonate-sync/pkg/latency"
	"github.com/Resonate-Protocol/resonate-sync/pkg/playback"
	clocksync "github.com/Resonate-Protocol/resonate-sync/pkg/sync"
)

const tickSubscriptionID = "coordinator"

var (
	ErrClockNotRunning = errors.New("clock not running")
	ErrNoDevices       = errors.New("no devices connected")
	ErrDeviceExists    = errors.New("device already connected")
	ErrDeviceNotFound  = errors.New("device not found")
	ErrInvalidDevice   = errors.New("invalid device")
	ErrPayloadFormat   = errors.New("payload format mismatch")
)

// Sink receives audio for one device. targetTimeMs is the device's own
// clock reading at which the first frame should sound. Send is called from
// the clock goroutine and must not block.
type Sink interface {
	Send(samples []float32, targetTimeMs float64) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(samples []float32, targetTimeMs float64) error

func (f SinkFunc) Send(samples []float32, targetTimeMs float64) error {
	return f(samples, targetTimeMs)
}

// DeviceSpec describes a device to connect
type DeviceSpec struct {
	ID            string
	Name          string
	FixedOffsetMs float64
	Probe         latency.ProbeFunc
	Sink          Sink
}

// Config holds coordinator configuration
type Config struct {
	// SampleRate of payloads and sinks (default: 48000)
	SampleRate int

	// Channels of payloads and sinks (default: 2)
	Channels int

	// ChunkDuration is the size of each buffer write and sink send (default: 20ms)
	ChunkDuration time.Duration

	// BufferDuration sizes each device's ring buffer (default: 2s)
	BufferDuration time.Duration

	// CorrectionEveryNTicks runs a drift correction pass every N clock ticks (default: 10)
	CorrectionEveryNTicks int

	// MeasureBeforePlay re-measures every device at the start of Play
	MeasureBeforePlay bool

	Clock       clocksync.ClockConfig
	DeviceClock clocksync.DeviceClockConfig
	Latency     latency.Config
	Drift       clocksync.DriftConfig
	Buffer      buffer.Config
	Planner     playback.Config

	Logger Logger

	// OnEvent receives every event. It runs on the emitting goroutine
	// without coordinator locks held.
	OnEvent func(Event)
}

type device struct {
	spec        DeviceSpec
	clock       *clocksync.DeviceClock
	buffer      *buffer.RingBuffer
	connectedAt time.Time
	last        *latency.Measurement

	// playback progress, in frames of the active payload
	playing  bool
	startMs  float64
	fed      int
	sent     int
	chunks   uint64
	failures uint64
}

// Coordinator keeps a set of devices playing the same payload in sync
type Coordinator struct {
	config Config
	logger Logger

	clock     *clocksync.Clock
	corrector *clocksync.DriftCorrector
	measurer  *latency.Measurer
	buffers   *buffer.Manager
	planner   *playback.Planner

	mu      sync.Mutex
	devices map[string]*device
	order   []string
	running bool
	ticks   uint64
	payload *playback.Payload
	planID  string
}

// New creates a stopped coordinator
func New(config Config) *Coordinator {
	if config.SampleRate <= 0 {
		config.SampleRate = 48000
	}
	if config.Channels <= 0 {
		config.Channels = 2
	}
	if config.ChunkDuration <= 0 {
		config.ChunkDuration = 20 * time.Millisecond
	}
	if config.BufferDuration <= 0 {
		config.BufferDuration = 2 * time.Second
	}
	if config.CorrectionEveryNTicks <= 0 {
		config.CorrectionEveryNTicks = 10
	}
	var logger Logger = nopLogger{}
	if config.Logger != nil {
		logger = config.Logger
		if config.Clock.Logger == nil {
			config.Clock.Logger = logger
		}
		if config.DeviceClock.Logger == nil {
			config.DeviceClock.Logger = logger
		}
		if config.Latency.Logger == nil {
			config.Latency.Logger = logger
		}
		if config.Drift.Logger == nil {
			config.Drift.Logger = logger
		}
		if config.Buffer.Logger == nil {
			config.Buffer.Logger = logger
		}
		if config.Planner.Logger == nil {
			config.Planner.Logger = logger
		}
	}

	c := &Coordinator{
		config:  config,
		logger:  logger,
		devices: make(map[string]*device),
	}

	c.clock = clocksync.NewClock(config.Clock)

	driftConfig := config.Drift
	userCorrection := driftConfig.OnCorrection
	driftConfig.OnCorrection = func(corr clocksync.Correction) {
		c.onCorrection(corr)
		if userCorrection != nil {
			userCorrection(corr)
		}
	}
	c.corrector = clocksync.NewDriftCorrector(driftConfig)

	latencyConfig := config.Latency
	if latencyConfig.Clock == nil {
		latencyConfig.Clock = c.clock
	}
	c.measurer = latency.NewMeasurer(latencyConfig)

	bufferConfig := config.Buffer
	bufferConfig.SampleRate = config.SampleRate
	bufferConfig.Channels = config.Channels
	bufferConfig.Capacity = int(config.BufferDuration.Seconds() * float64(config.SampleRate*config.Channels))
	bufferConfig.OnOverflow = nil // reported from write results
	c.buffers = buffer.NewManager(bufferConfig)

	plannerConfig := config.Planner
	if plannerConfig.Adjust == nil {
		plannerConfig.Adjust = c.corrector.Preview
	}
	c.planner = playback.NewPlanner(plannerConfig)

	return c
}

// Config returns the configuration with defaults applied
func (c *Coordinator) Config() Config {
	return c.config
}

// Clock returns the master clock
func (c *Coordinator) Clock() *clocksync.Clock {
	return c.clock
}

// Corrector returns the drift corrector
func (c *Coordinator) Corrector() *clocksync.DriftCorrector {
	return c.corrector
}

// Start starts the master clock and the tick driven correction and playback.
// Devices still registered from before a Stop lose their estimates, since
// the master timeline starts over, and are monitored again.
func (c *Coordinator) Start() error {
	if err := c.clock.Start(); err != nil {
		return fmt.Errorf("failed to start clock: %w", err)
	}

	c.mu.Lock()
	c.running = true
	c.ticks = 0
	kept := make([]*device, 0, len(c.order))
	for _, id := range c.order {
		d := c.devices[id]
		d.clock.Reset()
		d.buffer.Reset()
		d.last = nil
		kept = append(kept, d)
	}
	c.mu.Unlock()

	for _, d := range kept {
		c.corrector.AddDevice(d.spec.ID, d.clock)
		c.monitor(d.spec)
	}
	c.clock.Subscribe(tickSubscriptionID, c.onTick, 0)

	c.logger.Printf("Coordinator started: %dHz %dch, %v chunks", c.config.SampleRate, c.config.Channels, c.config.ChunkDuration)
	return nil
}

// Stop halts monitoring, the clock and any playback. Devices stay registered
// and resume on the next Start.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrClockNotRunning
	}
	c.running = false
	c.mu.Unlock()

	c.measurer.Stop()
	if err := c.clock.Stop(); err != nil {
		return err
	}
	c.StopPlayback()

	c.logger.Printf("Coordinator stopped")
	return nil
}

// ConnectDevice registers a device, measures it and starts continuous
// monitoring. A failed initial measurement leaves the device connected
// with unknown latency.
func (c *Coordinator) ConnectDevice(ctx context.Context, spec DeviceSpec) error {
	if spec.ID == "" || spec.Probe == nil || spec.Sink == nil {
		return fmt.Errorf("%w: id, probe and sink are required", ErrInvalidDevice)
	}
	if spec.Name == "" {
		spec.Name = spec.ID
	}

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrClockNotRunning
	}
	if _, exists := c.devices[spec.ID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceExists, spec.ID)
	}
	d := &device{
		spec:        spec,
		clock:       clocksync.NewDeviceClock(spec.ID, c.config.DeviceClock),
		buffer:      c.buffers.Register(spec.ID),
		connectedAt: time.Now(),
	}
	c.devices[spec.ID] = d
	c.order = append(c.order, spec.ID)
	c.mu.Unlock()

	c.corrector.AddDevice(spec.ID, d.clock)

	meas, err := c.measurer.Measure(ctx, spec.ID, spec.Probe)
	if err != nil && ctx.Err() != nil {
		c.DisconnectDevice(spec.ID)
		return fmt.Errorf("initial measurement of %s: %w", spec.ID, ctx.Err())
	}
	c.handleMeasurement(spec.ID, meas, err)

	c.monitor(spec)

	c.logger.Printf("Device connected: %s (%s), latency %.1fms", spec.Name, spec.ID, d.clock.LatencyMs())
	c.emit(DeviceConnected{DeviceID: spec.ID, Name: spec.Name, LatencyMs: d.clock.LatencyMs()})
	return nil
}

func (c *Coordinator) monitor(spec DeviceSpec) {
	c.measurer.StartMonitoring(spec.ID, spec.Probe, func(m *latency.Measurement, err error) {
		c.handleMeasurement(spec.ID, m, err)
	})
}

// DisconnectDevice removes a device from every component
func (c *Coordinator) DisconnectDevice(deviceID string) error {
	c.mu.Lock()
	if _, ok := c.devices[deviceID]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	delete(c.devices, deviceID)
	for i, id := range c.order {
		if id == deviceID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	c.measurer.Forget(deviceID)
	c.corrector.RemoveDevice(deviceID)
	if err := c.buffers.Remove(deviceID); err != nil {
		c.logger.Printf("Registry out of step for %s: %v", deviceID, err)
	}
	c.planner.RemoveDevice(deviceID)

	c.logger.Printf("Device disconnected: %s", deviceID)
	c.emit(DeviceDisconnected{DeviceID: deviceID})
	c.checkPlaybackDone()
	return nil
}

// Devices returns the connected device ids in connection order
func (c *Coordinator) Devices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// MeasureAll measures every connected device in parallel and applies the
// results. Per-device failures are returned without affecting the others.
func (c *Coordinator) MeasureAll(ctx context.Context) (map[string]*latency.Measurement, map[string]error) {
	c.mu.Lock()
	probes := make(map[string]latency.ProbeFunc, len(c.devices))
	for id, d := range c.devices {
		probes[id] = d.spec.Probe
	}
	c.mu.Unlock()

	results, errs := c.measurer.MeasureAll(ctx, probes)
	for id, m := range results {
		c.handleMeasurement(id, m, nil)
	}
	for id, err := range errs {
		c.handleMeasurement(id, nil, err)
	}
	return results, errs
}

// handleMeasurement folds a batch into the device clock, oldest sample first
func (c *Coordinator) handleMeasurement(deviceID string, m *latency.Measurement, err error) {
	c.mu.Lock()
	d, ok := c.devices[deviceID]
	if ok && err == nil {
		d.last = m
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if err != nil {
		c.logger.Printf("Latency measurement failed for %s: %v", deviceID, err)
		c.emit(MeasurementFailed{DeviceID: deviceID, Err: err})
		return
	}

	applied := 0
	for _, s := range m.Samples {
		if _, err := d.clock.UpdateOffset(s.MasterTimeMs, s.DeviceTimeMs, s.RTTMs); err != nil {
			c.emit(SyncFailed{DeviceID: deviceID, Err: err})
			continue
		}
		applied++
	}
	c.emit(MeasurementCompleted{DeviceID: deviceID, Measurement: m, Applied: applied})
}

// Play plans payload on every connected device, starting at the clock's
// sync time
func (c *Coordinator) Play(ctx context.Context, payload playback.Payload) (*playback.Plan, error) {
	if !c.clock.IsRunning() {
		return nil, ErrClockNotRunning
	}
	if payload.SampleRate != c.config.SampleRate || payload.Channels != c.config.Channels {
		return nil, fmt.Errorf("%w: got %dHz %dch, want %dHz %dch", ErrPayloadFormat,
			payload.SampleRate, payload.Channels, c.config.SampleRate, c.config.Channels)
	}
	if payload.Frames() == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrPayloadFormat)
	}
	if len(c.Devices()) == 0 {
		return nil, ErrNoDevices
	}

	if c.config.MeasureBeforePlay {
		c.MeasureAll(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Every device waits out the slowest path so starts stay common
	groupLatency := 0.0
	for _, id := range c.order {
		groupLatency = max(groupLatency, c.devices[id].clock.LatencyMs())
	}

	targets := make([]playback.DeviceTarget, 0, len(c.order))
	for _, id := range c.order {
		targets = append(targets, playback.DeviceTarget{
			ID:            id,
			LatencyMs:     groupLatency,
			FixedOffsetMs: c.devices[id].spec.FixedOffsetMs,
		})
	}
	if len(targets) == 0 {
		return nil, ErrNoDevices
	}

	plan := c.planner.CreatePlan(payload, c.clock.SyncTime(), targets)
	for _, dp := range plan.Devices {
		d := c.devices[dp.DeviceID]
		d.buffer.Clear()
		d.playing = true
		d.startMs = dp.TargetStartMs
		d.fed = 0
		d.sent = 0
	}
	c.payload = &payload
	c.planID = plan.ID

	c.logger.Printf("Playing %q on %d devices (plan %s)", payload.Title, len(targets), plan.ID)
	return plan, nil
}

// StopPlayback cancels the active plan and clears every buffer
func (c *Coordinator) StopPlayback() {
	c.planner.Cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.payload = nil
	c.planID = ""
	for _, d := range c.devices {
		d.playing = false
		d.buffer.Clear()
	}
}

// DeviceTime maps a master time onto deviceID's clock, the timeline its
// sink targets use
func (c *Coordinator) DeviceTime(deviceID string, masterMs float64) (float64, error) {
	c.mu.Lock()
	d, ok := c.devices[deviceID]
	c.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return d.clock.DeviceTime(masterMs), nil
}

// onCorrection mirrors a clock correction into the device's ring buffer
func (c *Coordinator) onCorrection(corr clocksync.Correction) {
	rb, err := c.buffers.Get(corr.DeviceID)
	if err != nil {
		c.logger.Printf("Correction for unknown buffer: %v", err)
		return
	}
	frames := rb.MsToFrames(corr.AdjustmentMs)
	rb.ApplyDriftCorrection(frames)
	c.emit(CorrectionApplied{Correction: corr, Frames: frames})
}

func (c *Coordinator) emit(ev Event) {
	if c.config.OnEvent != nil {
		c.config.OnEvent(ev)
	}
}
