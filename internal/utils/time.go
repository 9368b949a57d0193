package utils

import (
	"strings"
	"time"
)

const layoutDateTime = "2006-01-02 15:04:05"

// ParseTimestamp accepts RFC3339 or "YYYY-MM-DD HH:MM:SS" (interpreted as UTC).
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(layoutDateTime, s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// FormatDateTime renders t in UTC as "YYYY-MM-DD HH:MM".
func FormatDateTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}
