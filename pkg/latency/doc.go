// ABOUTME: Latency measurement package
// ABOUTME: Round-trip probing of output devices with per-batch statistics
// Package latency measures one-way latency to output devices.
//
// A Measurer sends a batch of timestamped probes through a caller supplied
// ProbeFunc, discards probes that time out or report implausible values, and
// summarizes the survivors. One-way latency is half the round trip.
//
//	m := latency.NewMeasurer(latency.Config{Clock: clock})
//	meas, err := m.Measure(ctx, "kitchen", probe)
//	if err != nil {
//	    // every probe failed
//	}
//	fmt.Printf("%.1fms (%s)\n", meas.MeanMs, meas.Quality)
//
// StartMonitoring repeats the batch on an interval and retries sooner after
// a failed batch.
package latency
