package util

import (
	"fmt"
	"math"
	"time"
)

// FormatNumber formats an int64 with K/M suffix for readability.
// Examples: 500 -> "500", 1500 -> "1.5K", 1500000 -> "1.5M"
func FormatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// FormatPercentage formats a rate in [0, 1] as a percentage. Values under 10%
// keep one decimal, larger values are rounded to whole percents.
// Examples: 0.0512 -> "5.1%", 0.4567 -> "46%", 0.999 -> "100%"
func FormatPercentage(rate float64) string {
	pct := rate * 100
	if math.Abs(pct) < 10 {
		return fmt.Sprintf("%.1f%%", pct)
	}
	return fmt.Sprintf("%d%%", int64(math.Round(pct)))
}

// FormatZScore formats a z-score with three decimals, or "N/A".
func FormatZScore(z float64, ok bool) string {
	if !ok {
		return "N/A"
	}
	return fmt.Sprintf("%.3f", z)
}

// FormatDateISO formats a start time as an ISO date (2006-01-02), or "-" when
// the time is unknown.
func FormatDateISO(t time.Time, ok bool) string {
	if !ok {
		return "-"
	}
	return t.Format("2006-01-02")
}
