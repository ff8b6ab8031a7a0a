// ABOUTME: Aggregate statistics and quality bands for latency batches
// ABOUTME: Mean, median, population stddev and consecutive-difference jitter
package latency

import (
	"math"
	"sort"
)

// Quality is the latency band of a batch
type Quality int

const (
	QualityExcellent Quality = iota // <= 10ms
	QualityGood                     // <= 25ms
	QualityFair                     // <= 50ms
	QualityPoor                     // <= 100ms
	QualityCritical
)

func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	case QualityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// QualityFor classifies a mean one-way latency
func QualityFor(latencyMs float64) Quality {
	switch {
	case latencyMs <= 10:
		return QualityExcellent
	case latencyMs <= 25:
		return QualityGood
	case latencyMs <= 50:
		return QualityFair
	case latencyMs <= 100:
		return QualityPoor
	default:
		return QualityCritical
	}
}

// summarize fills the aggregate fields from Samples
func (m *Measurement) summarize() {
	values := make([]float64, len(m.Samples))
	for i, s := range m.Samples {
		values[i] = s.LatencyMs
	}

	m.SampleCount = len(values)
	m.MeanMs = mean(values)
	m.MedianMs = median(values)
	m.StdDevMs = stdDev(values, m.MeanMs)
	m.JitterMs = jitter(values)
	m.MinMs, m.MaxMs = values[0], values[0]
	for _, v := range values[1:] {
		m.MinMs = math.Min(m.MinMs, v)
		m.MaxMs = math.Max(m.MaxMs, v)
	}
	m.Quality = QualityFor(m.MeanMs)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// stdDev is the population standard deviation
func stdDev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// jitter is the mean absolute difference between consecutive samples
func jitter(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(values); i++ {
		sum += math.Abs(values[i] - values[i-1])
	}
	return sum / float64(len(values)-1)
}
