// ABOUTME: High-level multi-device sync API
// ABOUTME: Coordinator for the master side, Player for the device side
// Package resonate plays one audio payload in lock-step across several
// independently clocked output devices.
//
// The Coordinator owns the master clock and a registry of devices. Each
// device is reached through two capabilities: a latency.ProbeFunc that
// answers timestamped probes, and a Sink that accepts samples tagged with
// the master time they should sound at. The coordinator measures every
// device, tracks its clock offset and drift, corrects drift by shifting the
// read position of the device's ring buffer, and pushes chunks to the sink
// as their target time enters the lookahead window.
//
// Example coordinator:
//
//	c := resonate.New(resonate.Config{SampleRate: 48000, Channels: 2})
//	if err := c.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Stop()
//
//	err := c.ConnectDevice(ctx, resonate.DeviceSpec{
//	    ID:    "kitchen",
//	    Probe: probe,
//	    Sink:  sink,
//	})
//	plan, err := c.Play(ctx, payload)
//
// For lower-level control, see the sync, latency, buffer and playback packages.
package resonate
