// ABOUTME: Synchronization quality bands and their scores
// ABOUTME: Shared by DeviceClock classification and DriftCorrector aggregation
package sync

// Quality represents sync quality
type Quality int

const (
	QualityExcellent Quality = iota
	QualityGood
	QualityFair
	QualityPoor
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
	default:
		return "unknown"
	}
}

// Score maps a band onto [0,1] for averaging across devices
func (q Quality) Score() float64 {
	switch q {
	case QualityExcellent:
		return 1.0
	case QualityGood:
		return 0.8
	case QualityFair:
		return 0.6
	default:
		return 0.3
	}
}

// QualityFromScore is the inverse banding used for system-wide aggregates
func QualityFromScore(score float64) Quality {
	switch {
	case score >= 0.9:
		return QualityExcellent
	case score >= 0.7:
		return QualityGood
	case score >= 0.5:
		return QualityFair
	default:
		return QualityPoor
	}
}
