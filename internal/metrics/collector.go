// ABOUTME: Scrape-time collector over a coordinator snapshot
// ABOUTME: Emits clock, corrector and per-device gauges without keeping state
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type collector struct {
	status StatusFunc

	clockTime   *prometheus.Desc
	clockTicks  *prometheus.Desc
	devices     *prometheus.Desc
	playing     *prometheus.Desc
	passes      *prometheus.Desc
	corrections *prometheus.Desc
	avgDrift    *prometheus.Desc
	syncScore   *prometheus.Desc

	offset      *prometheus.Desc
	driftRate   *prometheus.Desc
	latency     *prometheus.Desc
	jitter      *prometheus.Desc
	accuracy    *prometheus.Desc
	quality     *prometheus.Desc
	utilization *prometheus.Desc
	pending     *prometheus.Desc
	chunks      *prometheus.Desc
}

func newCollector(status StatusFunc) *collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &collector{
		status:      status,
		clockTime:   desc("clock_time_ms", "Master clock time."),
		clockTicks:  desc("clock_ticks_total", "Master clock ticks since start."),
		devices:     desc("devices", "Connected devices."),
		playing:     desc("plan_active", "1 while a plan is active."),
		passes:      desc("correction_passes_total", "Drift correction passes."),
		corrections: desc("corrections_total", "Drift corrections applied."),
		avgDrift:    desc("average_drift_ms", "Smoothed system drift."),
		syncScore:   desc("sync_score", "System sync score in [0, 1]."),
		offset:      desc("device_offset_ms", "Smoothed device clock offset.", "device"),
		driftRate:   desc("device_drift_ppm", "Device drift rate.", "device"),
		latency:     desc("device_latency_ms", "Smoothed one-way latency.", "device"),
		jitter:      desc("device_jitter_ms", "Latency jitter.", "device"),
		accuracy:    desc("device_sync_accuracy", "Sync accuracy score 0-100.", "device"),
		quality:     desc("device_sync_quality", "Device sync quality band.", "device", "quality"),
		utilization: desc("device_buffer_utilization", "Ring buffer fill ratio.", "device"),
		pending:     desc("device_pending_adjustment_ms", "Smoothed correction not yet applied.", "device"),
		chunks:      desc("device_chunks_sent_total", "Chunks handed to the device sink.", "device"),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.clockTime, c.clockTicks, c.devices, c.playing, c.passes, c.corrections, c.avgDrift, c.syncScore,
		c.offset, c.driftRate, c.latency, c.jitter, c.accuracy, c.quality, c.utilization, c.pending, c.chunks,
	} {
		ch <- d
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	st := c.status()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	gauge(c.clockTime, st.Clock.CurrentTime)
	counter(c.clockTicks, float64(st.Clock.TickCount))
	gauge(c.devices, float64(len(st.Devices)))
	active := 0.0
	if st.Plan != nil {
		active = 1
	}
	gauge(c.playing, active)
	counter(c.passes, float64(st.Drift.Passes))
	counter(c.corrections, float64(st.Drift.TotalCorrections))
	gauge(c.avgDrift, st.Drift.AverageDriftMs)
	gauge(c.syncScore, st.Drift.SystemScore)

	for _, d := range st.Devices {
		gauge(c.offset, d.Clock.OffsetMs, d.ID)
		gauge(c.driftRate, d.Clock.DriftRatePpm, d.ID)
		gauge(c.latency, d.Clock.LatencyMs, d.ID)
		gauge(c.jitter, d.Clock.JitterMs, d.ID)
		gauge(c.accuracy, float64(d.Clock.SyncAccuracy), d.ID)
		gauge(c.quality, 1, d.ID, d.Clock.Quality.String())
		gauge(c.utilization, d.Buffer.Utilization, d.ID)
		gauge(c.pending, d.Correction.PendingAdjustmentMs, d.ID)
		counter(c.chunks, float64(d.ChunksSent), d.ID)
	}
}
