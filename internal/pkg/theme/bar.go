package theme

import "strings"

// Bar draws fraction of width as "#" followed by "-" padding. fraction is
// clamped to [0, 1].
func Bar(fraction float64, width int) string {
	if width <= 0 {
		return ""
	}
	fraction = min(max(fraction, 0), 1)
	filled := int(fraction*float64(width) + 0.5)

	var b strings.Builder
	b.WriteString(strings.Repeat("#", filled))
	b.WriteString(strings.Repeat("-", width-filled))
	return b.String()
}
