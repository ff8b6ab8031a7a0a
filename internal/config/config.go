// ABOUTME: YAML configuration for the sync coordinator daemon
// ABOUTME: Defaults, loading and mapping onto component configs
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Resonate-Protocol/resonate-sync/internal/server"
	"github.com/Resonate-Protocol/resonate-sync/pkg/buffer"
	"github.com/Resonate-Protocol/resonate-sync/pkg/latency"
	"github.com/Resonate-Protocol/resonate-sync/pkg/playback"
	"github.com/Resonate-Protocol/resonate-sync/pkg/resonate"
	clocksync "github.com/Resonate-Protocol/resonate-sync/pkg/sync"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration file
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Clock       ClockConfig       `yaml:"clock"`
	DeviceClock DeviceClockConfig `yaml:"device_clock"`
	Latency     LatencyConfig     `yaml:"latency"`
	Drift       DriftConfig       `yaml:"drift"`
	Buffer      BufferConfig      `yaml:"buffer"`
	Planner     PlannerConfig     `yaml:"planner"`
}

// ServerConfig covers the transport and the coordinator's stream format
type ServerConfig struct {
	Name                  string        `yaml:"name"`
	Port                  int           `yaml:"port"`
	EnableMDNS            *bool         `yaml:"enable_mdns"`
	SendQueue             int           `yaml:"send_queue"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`
	SampleRate            int           `yaml:"sample_rate"`
	Channels              int           `yaml:"channels"`
	ChunkDuration         time.Duration `yaml:"chunk_duration"`
	BufferDuration        time.Duration `yaml:"buffer_duration"`
	CorrectionEveryNTicks int           `yaml:"correction_every_n_ticks"`
	MeasureBeforePlay     bool          `yaml:"measure_before_play"`
}

type ClockConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	LookaheadMs  float64       `yaml:"lookahead_ms"`
}

type DeviceClockConfig struct {
	ToleranceMs          float64 `yaml:"tolerance_ms"`
	OffsetSmoothing      float64 `yaml:"offset_smoothing"`
	DriftSmoothing       float64 `yaml:"drift_smoothing"`
	LatencyWindow        int     `yaml:"latency_window"`
	MeasurementTimeoutMs float64 `yaml:"measurement_timeout_ms"`
}

type LatencyConfig struct {
	SampleSize   int           `yaml:"sample_size"`
	ProbeSpacing time.Duration `yaml:"probe_spacing"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxLatencyMs float64       `yaml:"max_latency_ms"`
	Interval     time.Duration `yaml:"interval"`
}

type DriftConfig struct {
	DriftThresholdMs    float64 `yaml:"drift_threshold_ms"`
	MaxCorrectionMs     float64 `yaml:"max_correction_ms"`
	AdjustmentSmoothing float64 `yaml:"adjustment_smoothing"`
	AverageSmoothing    float64 `yaml:"average_smoothing"`
	HistorySize         int     `yaml:"history_size"`
}

type BufferConfig struct {
	DriftSmoothing    float64 `yaml:"drift_smoothing"`
	OverflowThreshold float64 `yaml:"overflow_threshold"`
}

type PlannerConfig struct {
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	MinAdjustmentMs    float64       `yaml:"min_adjustment_ms"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	mdns := true
	return &Config{
		Server: ServerConfig{
			Port:                  8927,
			EnableMDNS:            &mdns,
			SendQueue:             256,
			ConnectTimeout:        30 * time.Second,
			SampleRate:            48000,
			Channels:              2,
			ChunkDuration:         20 * time.Millisecond,
			BufferDuration:        2 * time.Second,
			CorrectionEveryNTicks: 10,
		},
		Clock: ClockConfig{
			TickInterval: 10 * time.Millisecond,
			LookaheadMs:  100,
		},
		DeviceClock: DeviceClockConfig{
			ToleranceMs:          1,
			OffsetSmoothing:      0.1,
			DriftSmoothing:       0.1,
			LatencyWindow:        10,
			MeasurementTimeoutMs: 1000,
		},
		Latency: LatencyConfig{
			SampleSize:   10,
			ProbeSpacing: 100 * time.Millisecond,
			Timeout:      time.Second,
			MaxLatencyMs: 100,
			Interval:     5 * time.Second,
		},
		Drift: DriftConfig{
			DriftThresholdMs:    0.5,
			MaxCorrectionMs:     2,
			AdjustmentSmoothing: 0.1,
			AverageSmoothing:    0.1,
			HistorySize:         100,
		},
		Buffer: BufferConfig{
			DriftSmoothing:    0.1,
			OverflowThreshold: 0.95,
		},
		Planner: PlannerConfig{
			CheckpointInterval: time.Second,
			MinAdjustmentMs:    0.1,
		},
	}
}

// Load reads a YAML file and fills every unset field from Default
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func applyDefaults(c *Config) {
	d := Default()

	setInt(&c.Server.Port, d.Server.Port)
	if c.Server.EnableMDNS == nil {
		c.Server.EnableMDNS = d.Server.EnableMDNS
	}
	setInt(&c.Server.SendQueue, d.Server.SendQueue)
	setDuration(&c.Server.ConnectTimeout, d.Server.ConnectTimeout)
	setInt(&c.Server.SampleRate, d.Server.SampleRate)
	setInt(&c.Server.Channels, d.Server.Channels)
	setDuration(&c.Server.ChunkDuration, d.Server.ChunkDuration)
	setDuration(&c.Server.BufferDuration, d.Server.BufferDuration)
	setInt(&c.Server.CorrectionEveryNTicks, d.Server.CorrectionEveryNTicks)

	setDuration(&c.Clock.TickInterval, d.Clock.TickInterval)
	setFloat(&c.Clock.LookaheadMs, d.Clock.LookaheadMs)

	setFloat(&c.DeviceClock.ToleranceMs, d.DeviceClock.ToleranceMs)
	setFloat(&c.DeviceClock.OffsetSmoothing, d.DeviceClock.OffsetSmoothing)
	setFloat(&c.DeviceClock.DriftSmoothing, d.DeviceClock.DriftSmoothing)
	setInt(&c.DeviceClock.LatencyWindow, d.DeviceClock.LatencyWindow)
	setFloat(&c.DeviceClock.MeasurementTimeoutMs, d.DeviceClock.MeasurementTimeoutMs)

	setInt(&c.Latency.SampleSize, d.Latency.SampleSize)
	setDuration(&c.Latency.ProbeSpacing, d.Latency.ProbeSpacing)
	setDuration(&c.Latency.Timeout, d.Latency.Timeout)
	setFloat(&c.Latency.MaxLatencyMs, d.Latency.MaxLatencyMs)
	setDuration(&c.Latency.Interval, d.Latency.Interval)

	setFloat(&c.Drift.DriftThresholdMs, d.Drift.DriftThresholdMs)
	setFloat(&c.Drift.MaxCorrectionMs, d.Drift.MaxCorrectionMs)
	setFloat(&c.Drift.AdjustmentSmoothing, d.Drift.AdjustmentSmoothing)
	setFloat(&c.Drift.AverageSmoothing, d.Drift.AverageSmoothing)
	setInt(&c.Drift.HistorySize, d.Drift.HistorySize)

	setFloat(&c.Buffer.DriftSmoothing, d.Buffer.DriftSmoothing)
	setFloat(&c.Buffer.OverflowThreshold, d.Buffer.OverflowThreshold)

	setDuration(&c.Planner.CheckpointInterval, d.Planner.CheckpointInterval)
	setFloat(&c.Planner.MinAdjustmentMs, d.Planner.MinAdjustmentMs)
}

func setInt(v *int, d int) {
	if *v == 0 {
		*v = d
	}
}

func setFloat(v *float64, d float64) {
	if *v == 0 {
		*v = d
	}
}

func setDuration(v *time.Duration, d time.Duration) {
	if *v == 0 {
		*v = d
	}
}

// Validate rejects values the components cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("server.sample_rate must be positive, got %d", c.Server.SampleRate))
	}
	if c.Server.Channels <= 0 || c.Server.Channels > 2 {
		errs = append(errs, fmt.Errorf("server.channels must be 1 or 2, got %d", c.Server.Channels))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	for name, v := range map[string]float64{
		"device_clock.offset_smoothing": c.DeviceClock.OffsetSmoothing,
		"device_clock.drift_smoothing":  c.DeviceClock.DriftSmoothing,
		"drift.adjustment_smoothing":    c.Drift.AdjustmentSmoothing,
		"drift.average_smoothing":       c.Drift.AverageSmoothing,
		"buffer.drift_smoothing":        c.Buffer.DriftSmoothing,
		"buffer.overflow_threshold":     c.Buffer.OverflowThreshold,
	} {
		if v <= 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0, 1], got %g", name, v))
		}
	}
	return errors.Join(errs...)
}

// Coordinator maps the file onto a coordinator config. Callbacks and
// loggers are left for the caller.
func (c *Config) Coordinator() resonate.Config {
	return resonate.Config{
		SampleRate:            c.Server.SampleRate,
		Channels:              c.Server.Channels,
		ChunkDuration:         c.Server.ChunkDuration,
		BufferDuration:        c.Server.BufferDuration,
		CorrectionEveryNTicks: c.Server.CorrectionEveryNTicks,
		MeasureBeforePlay:     c.Server.MeasureBeforePlay,
		Clock: clocksync.ClockConfig{
			TickInterval: c.Clock.TickInterval,
			LookaheadMs:  c.Clock.LookaheadMs,
		},
		DeviceClock: clocksync.DeviceClockConfig{
			ToleranceMs:          c.DeviceClock.ToleranceMs,
			OffsetSmoothing:      c.DeviceClock.OffsetSmoothing,
			DriftSmoothing:       c.DeviceClock.DriftSmoothing,
			LatencyWindow:        c.DeviceClock.LatencyWindow,
			MeasurementTimeoutMs: c.DeviceClock.MeasurementTimeoutMs,
		},
		Latency: latency.Config{
			SampleSize:   c.Latency.SampleSize,
			ProbeSpacing: c.Latency.ProbeSpacing,
			Timeout:      c.Latency.Timeout,
			MaxLatencyMs: c.Latency.MaxLatencyMs,
			Interval:     c.Latency.Interval,
		},
		Drift: clocksync.DriftConfig{
			DriftThresholdMs:    c.Drift.DriftThresholdMs,
			MaxCorrectionMs:     c.Drift.MaxCorrectionMs,
			AdjustmentSmoothing: c.Drift.AdjustmentSmoothing,
			AverageSmoothing:    c.Drift.AverageSmoothing,
			HistorySize:         c.Drift.HistorySize,
		},
		Buffer: buffer.Config{
			DriftSmoothing:    c.Buffer.DriftSmoothing,
			OverflowThreshold: c.Buffer.OverflowThreshold,
		},
		Planner: playback.Config{
			CheckpointInterval: c.Planner.CheckpointInterval,
			MinAdjustmentMs:    c.Planner.MinAdjustmentMs,
		},
	}
}

// Transport maps the server section onto a transport config without a coordinator
func (c *Config) Transport() server.ServerConfig {
	return server.ServerConfig{
		Port:           c.Server.Port,
		Name:           c.Server.Name,
		EnableMDNS:     c.Server.EnableMDNS == nil || *c.Server.EnableMDNS,
		ConnectTimeout: c.Server.ConnectTimeout,
		SendQueue:      c.Server.SendQueue,
	}
}
