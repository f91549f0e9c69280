package usecase

import (
	"errors"
	"fmt"

	"MarketSync/internal/domain/models"
)

var (
	// ErrFetchExhausted means a page kept failing after the retry budget. The
	// window can be retried later.
	ErrFetchExhausted = errors.New("fetch retry budget exhausted")
	// ErrPageCeiling means pagination did not terminate within the page limit.
	ErrPageCeiling = errors.New("page ceiling reached")
	ErrUnknownFeed = errors.New("feed not configured")
)

// Stages a window can fail in.
const (
	StageFetch   = "fetch"
	StagePersist = "persist"
	StageCursor  = "cursor"
	StageGaps    = "gaps"
)

// WindowError is a failure confined to one window.
type WindowError struct {
	Feed   models.FeedType
	Window models.FetchWindow
	Stage  string
	Err    error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Feed, e.Stage, e.Window, e.Err)
}

func (e *WindowError) Unwrap() error { return e.Err }
