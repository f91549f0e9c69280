package models

import (
	"encoding/json"
	"time"
)

// FeedType names a stream of market events collected from the API.
type FeedType string

const (
	FeedDarkPool FeedType = "darkpool"
	FeedNews     FeedType = "news"
	FeedFlow     FeedType = "flow"
)

func (f FeedType) String() string { return string(f) }

// Record is one collected event. Identity is unique within a feed for all time.
type Record struct {
	Identity    string          `json:"identity"`
	Feed        FeedType        `json:"feed"`
	Symbol      string          `json:"symbol,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
	CollectedAt time.Time       `json:"collected_at"`
}

// Cursor is the collection high-water mark for one feed and symbol.
type Cursor struct {
	Feed   FeedType  `json:"feed"`
	Symbol string    `json:"symbol"`
	At     time.Time `json:"at"`
}
