package repositories

import "time"

// Timestamps are stored as RFC 3339 text so they read back identically
// regardless of driver time handling.

func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
