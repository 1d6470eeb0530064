package util

import (
	"fmt"
	"math"
	"time"
)

// TruncateString truncates s to maxLen runes and appends "..." if truncated.
// If preserveWords is true, cuts at the last whitespace before the limit when
// there is one.
func TruncateString(s string, maxLen int, preserveWords bool) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."[:maxLen]
	}
	cut := maxLen - 3
	if preserveWords {
		if idx := lastSpaceBefore(runes, cut); idx > 0 {
			cut = idx
		}
	}
	return string(runes[:cut]) + "..."
}

func lastSpaceBefore(runes []rune, pos int) int {
	if pos > len(runes) {
		pos = len(runes)
	}
	for i := pos - 1; i >= 0; i-- {
		if runes[i] == ' ' || runes[i] == '\t' || runes[i] == '\n' {
			return i
		}
	}
	return -1
}

// FormatDuration renders d in the largest whole unit with one decimal,
// e.g. "2.5 minutes". Non-positive durations render as "0.0 seconds".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0.0 seconds"
	}
	switch {
	case d >= 24*time.Hour:
		return plural(d.Hours()/24, "day")
	case d >= time.Hour:
		return plural(d.Hours(), "hour")
	case d >= time.Minute:
		return plural(d.Minutes(), "minute")
	default:
		return plural(d.Seconds(), "second")
	}
}

func plural(v float64, unit string) string {
	s := fmt.Sprintf("%.1f %s", v, unit)
	if v != 1 {
		s += "s"
	}
	return s
}

var agoSteps = []struct {
	size float64
	unit string
}{
	{60, "second"},
	{60, "minute"},
	{24, "hour"},
	{7, "day"},
	{4.35, "week"},
	{12, "month"},
	{math.Inf(1), "year"},
}

// TimeAgo renders how long before now t was, e.g. "3 hours ago".
func TimeAgo(t, now time.Time) string {
	count := math.Floor(now.Sub(t).Seconds())
	if count < 1 {
		return "just now"
	}
	unit := "second"
	for _, step := range agoSteps {
		unit = step.unit
		if count < step.size {
			break
		}
		count = math.Floor(count / step.size)
	}
	if count == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", int(count), unit)
}
