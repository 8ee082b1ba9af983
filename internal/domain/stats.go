package domain

import "math"

// Confidence level labels.
const (
	ConfidenceNotApplicable = "N/A"
	ConfidenceNoChange      = "no change"
	ConfidenceNone          = "no confidence"
	Confidence90            = "90% confidence"
	Confidence95            = "95% confidence"
	Confidence99            = "99% confidence"
	Confidence999           = "99.9% confidence"
)

// Counts holds the persisted counters of one alternative.
type Counts struct {
	Participants int64
	Completed    int64
}

// ConversionRate returns Completed/Participants, or 0 without participants.
func (c Counts) ConversionRate() float64 {
	if c.Participants == 0 {
		return 0
	}
	return float64(c.Completed) / float64(c.Participants)
}

// ZScore compares an alternative against the control with the unpooled
// two-proportion z-test:
//
//	z = (p1 - p2) / sqrt(p1(1-p1)/n1 + p2(1-p2)/n2)
//
// ok is false when either sample is empty or the variance is zero.
func ZScore(alternative, control Counts) (z float64, ok bool) {
	n1, n2 := alternative.Participants, control.Participants
	if n1 == 0 || n2 == 0 {
		return 0, false
	}

	p1 := alternative.ConversionRate()
	p2 := control.ConversionRate()

	variance := p1*(1-p1)/float64(n1) + p2*(1-p2)/float64(n2)
	if variance == 0 {
		return 0, false
	}

	return (p1 - p2) / math.Sqrt(variance), true
}

// ConfidenceLevel labels a z-score by the two-sided critical values of the
// standard normal distribution.
func ConfidenceLevel(z float64, ok bool) string {
	if !ok {
		return ConfidenceNotApplicable
	}

	z = math.Abs(math.Round(z*1000) / 1000)
	switch {
	case z == 0:
		return ConfidenceNoChange
	case z < 1.64:
		return ConfidenceNone
	case z < 1.96:
		return Confidence90
	case z < 2.57:
		return Confidence95
	case z < 3.29:
		return Confidence99
	default:
		return Confidence999
	}
}
