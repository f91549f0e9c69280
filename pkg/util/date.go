package util

import (
	"strconv"
	"strings"
	"time"
)

// unixMillisThreshold separates unix seconds from unix milliseconds.
const unixMillisThreshold = 100_000_000_000

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime accepts RFC3339 variants, naive timestamps (read as UTC), and unix
// seconds or milliseconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		if ts >= unixMillisThreshold {
			return time.UnixMilli(ts).UTC(), true
		}
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// FloorTo truncates t to a multiple of d counted from the unix epoch, in UTC.
func FloorTo(t time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return t.UTC()
	}
	return t.UTC().Truncate(d)
}
