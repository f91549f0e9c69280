package models

import (
	"errors"
	"fmt"
	"time"
)

var ErrEmptyWindow = errors.New("window start must be before end")

// FetchWindow is the half-open interval [Start, End) of work for one symbol.
type FetchWindow struct {
	Symbol string    `json:"symbol"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// NewFetchWindow returns a window or ErrEmptyWindow when start >= end.
func NewFetchWindow(symbol string, start, end time.Time) (FetchWindow, error) {
	if !start.Before(end) {
		return FetchWindow{}, fmt.Errorf("%w: %s >= %s", ErrEmptyWindow,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return FetchWindow{Symbol: symbol, Start: start.UTC(), End: end.UTC()}, nil
}

func (w FetchWindow) Duration() time.Duration { return w.End.Sub(w.Start) }

func (w FetchWindow) Empty() bool { return !w.Start.Before(w.End) }

// Contains reports whether t falls in [Start, End).
func (w FetchWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Split cuts the window into consecutive chunks no longer than max.
// A non-positive max returns the window unchanged.
func (w FetchWindow) Split(max time.Duration) []FetchWindow {
	if w.Empty() {
		return nil
	}
	if max <= 0 || w.Duration() <= max {
		return []FetchWindow{w}
	}
	chunks := make([]FetchWindow, 0, int(w.Duration()/max)+1)
	for start := w.Start; start.Before(w.End); start = start.Add(max) {
		end := start.Add(max)
		if end.After(w.End) {
			end = w.End
		}
		chunks = append(chunks, FetchWindow{Symbol: w.Symbol, Start: start, End: end})
	}
	return chunks
}

func (w FetchWindow) String() string {
	return fmt.Sprintf("%s[%s, %s)", w.Symbol, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// TimeRange is a half-open [From, To) interval without a symbol.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) Valid() bool { return r.From.Before(r.To) }

// Window binds the range to a symbol.
func (r TimeRange) Window(symbol string) (FetchWindow, error) {
	return NewFetchWindow(symbol, r.From, r.To)
}
