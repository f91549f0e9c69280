package models

// Requests for the operations HTTP endpoints. Times accept RFC3339 or unix
// seconds; symbols in query strings are comma separated.

type GapsRequest struct {
	Feed    string `query:"feed" json:"feed" validate:"required,oneof=darkpool news flow"`
	Symbol  string `query:"symbol" json:"symbol"`
	From    string `query:"from" json:"from" validate:"required"`
	To      string `query:"to" json:"to" validate:"required"`
}

type CursorsRequest struct {
	Feed string `query:"feed" json:"feed" validate:"required,oneof=darkpool news flow"`
}

type BackfillHTTPRequest struct {
	Feed     string   `json:"feed" validate:"required,oneof=darkpool news flow"`
	Symbols  []string `json:"symbols" validate:"max=200,dive,required"`
	From     string   `json:"from" validate:"required_without=LookbackHours"`
	To       string   `json:"to"`
	// LookbackHours replaces from/to with [now-lookback, now).
	LookbackHours int  `json:"lookback_hours" validate:"gte=0,lte=8760"`
	Explicit      bool `json:"explicit"`
	// Wait runs the backfill inline and returns its report.
	Wait bool `json:"wait"`
}

// FeedInfo describes one configured pipeline.
type FeedInfo struct {
	Feed         FeedType `json:"feed"`
	SymbolScoped bool     `json:"symbol_scoped"`
	Symbols      []string `json:"symbols,omitempty"`
}

// BackfillAccepted is returned when a backfill is queued.
type BackfillAccepted struct {
	JobID string `json:"job_id"`
}
