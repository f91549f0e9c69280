package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeOffsetNormalizedToUTC(t *testing.T) {
	got, ok := ParseTime("2024-03-04T09:31:00-05:00")
	if !ok {
		t.Fatalf("expected ok")
	}
	want := time.Date(2024, 3, 4, 14, 31, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("ParseTime = %v, want %v", got, want)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeUnixMillis(t *testing.T) {
	want := time.Date(2024, 10, 10, 10, 10, 10, 500_000_000, time.UTC)
	got, ok := ParseTime(strconv.FormatInt(want.UnixMilli(), 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if !got.Equal(want) {
		t.Fatalf("ParseTime = %v, want %v", got, want)
	}
}

func TestParseTimeRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "yesterday", "-5", "10/10/2024"} {
		if _, ok := ParseTime(s); ok {
			t.Fatalf("ParseTime(%q) succeeded", s)
		}
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestFloorTo(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	in := time.Date(2024, 3, 4, 9, 45, 12, 0, loc)
	got := FloorTo(in, time.Hour)
	want := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("FloorTo = %v, want %v", got, want)
	}
}
