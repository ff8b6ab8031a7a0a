// ABOUTME: Clock synchronization package
// ABOUTME: Master clock, per-device offset tracking and drift correction
// Package sync provides the timing core for multi-device playback.
//
// A single master Clock defines the shared timeline. Each output device gets a
// DeviceClock that turns probe round trips into a smoothed offset and drift
// rate, and a DriftCorrector periodically nudges every device back toward the
// master timeline in small bounded steps.
//
// Example:
//
//	clock := sync.NewClock(sync.ClockConfig{})
//	clock.Start()
//	defer clock.Stop()
//
//	dc := sync.NewDeviceClock("kitchen", sync.DeviceClockConfig{})
//	result, err := dc.UpdateOffset(masterSend, deviceReceived, rtt)
//
//	corrector := sync.NewDriftCorrector(sync.DriftConfig{})
//	corrector.AddDevice("kitchen", dc)
//	corrector.Start(clock)
package sync
