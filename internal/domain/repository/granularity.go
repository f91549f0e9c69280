package repository

import "time"

// Granularity is the bucket width used when comparing expected and covered time.
type Granularity string

const (
	Granularity15m Granularity = "15m"
	Granularity1h  Granularity = "1h"
	Granularity1d  Granularity = "1d"
)

// IsValidGranularity returns true if g is a supported bucket width.
func IsValidGranularity(g Granularity) bool {
	switch g {
	case Granularity15m, Granularity1h, Granularity1d:
		return true
	default:
		return false
	}
}

// DefaultGranularity returns the hour buckets gap analysis uses unless told otherwise.
func DefaultGranularity() Granularity { return Granularity1h }

// NormalizeGranularity converts a raw string to a valid granularity (or default).
func NormalizeGranularity(s string) Granularity {
	if s == "" {
		return DefaultGranularity()
	}
	g := Granularity(s)
	if IsValidGranularity(g) {
		return g
	}
	return DefaultGranularity()
}

// Duration returns the bucket width.
func (g Granularity) Duration() time.Duration {
	switch g {
	case Granularity15m:
		return 15 * time.Minute
	case Granularity1d:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}
