package util

import (
	"fmt"
	"math"
	"time"
)

// RoundSeconds rounds d to the nearest whole second, halves away from zero.
func RoundSeconds(d time.Duration) int {
	return int(math.Round(d.Seconds()))
}

// humanTimeFormat is the layout for human-readable timestamps with timezone.
const humanTimeFormat = "2 Jan 2006 15:04 MST"

// FormatHumanTime converts an RFC3339 timestamp to human-readable local time format.
func FormatHumanTime(rfc3339 string) string {
	if rfc3339 == "" || rfc3339 == "unknown" {
		return "unknown"
	}
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return rfc3339
	}
	return t.Local().Format(humanTimeFormat)
}

// DatePrefix returns a YYYY/MM/DD path prefix for t in UTC.
func DatePrefix(t time.Time) string {
	return t.UTC().Format("2006/01/02")
}

// FormatDuration formats milliseconds as a human-readable duration string.
// Examples: "4.2s", "45s", "2m 34s"
func FormatDuration(ms int64) string {
	if ms < 10_000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	totalSeconds := ms / 1000
	if totalSeconds < 60 {
		return fmt.Sprintf("%ds", totalSeconds)
	}
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := minutes / 60
	minutes %= 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
