package models

import "time"

// FetchResult is the outcome of fetching one window.
type FetchResult struct {
	Records   []Record
	Pages     int
	Invalid   int
	FromCache bool
}

// TickReport summarizes one collection tick for a feed.
type TickReport struct {
	Feed          FeedType       `json:"feed"`
	Skipped       bool           `json:"skipped"`
	NextActive    time.Time      `json:"next_active,omitempty"`
	Fetched       int            `json:"fetched"`
	Inserted      int            `json:"inserted"`
	Invalid       int            `json:"skipped_invalid"`
	FailedWindows int            `json:"failed_windows"`
	PerSymbol     map[string]int `json:"per_symbol"`
}

// BackfillReport summarizes one backfill run for a feed.
type BackfillReport struct {
	Feed         FeedType       `json:"feed"`
	Windows      int            `json:"windows"`
	Chunks       int            `json:"chunks"`
	Fetched      int            `json:"fetched"`
	Inserted     int            `json:"inserted"`
	Invalid      int            `json:"skipped_invalid"`
	FailedChunks int            `json:"failed_chunks"`
	PerSymbol    map[string]int `json:"per_symbol"`
}

// BackfillRequest asks for the given symbols to be filled over Range. With
// Explicit set the whole range is refetched instead of only its gaps.
type BackfillRequest struct {
	Feed     FeedType  `json:"feed"`
	Symbols  []string  `json:"symbols"`
	Range    TimeRange `json:"range"`
	Explicit bool      `json:"explicit"`
}
