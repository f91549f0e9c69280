package feeds

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
)

const (
	DefaultDarkPoolPath = "/api/darkpool/{symbol}"
	DefaultNewsPath     = "/api/news/headlines"
	DefaultFlowPath     = "/api/stock/{symbol}/flow-alerts"
)

// flexID accepts provider ids sent either as JSON strings or numbers.
type flexID string

func (id *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = flexID(strings.TrimSpace(s))
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = flexID(n.String())
	return nil
}

type darkPoolTrade struct {
	TrackingID flexID      `json:"tracking_id" validate:"required"`
	Ticker     string      `json:"ticker" validate:"required"`
	Price      json.Number `json:"price" validate:"required,decimal"`
	Size       json.Number `json:"size" validate:"required,decimal"`
	Premium    json.Number `json:"premium" validate:"omitempty,decimal"`
	ExecutedAt string      `json:"executed_at" validate:"required,timestamp"`
}

// NewDarkPool returns the dark-pool trade feed keyed by provider tracking id.
func NewDarkPool(path string) repository.Feed {
	if path == "" {
		path = DefaultDarkPoolPath
	}
	return &typed[darkPoolTrade]{
		kind:   models.FeedDarkPool,
		path:   path,
		scoped: true,
		toModel: func(t darkPoolTrade) (models.Record, error) {
			at, err := mustTime(t.ExecutedAt)
			if err != nil {
				return models.Record{}, err
			}
			return models.Record{
				Identity:   string(t.TrackingID),
				Symbol:     strings.ToUpper(t.Ticker),
				OccurredAt: at,
			}, nil
		},
	}
}

type newsHeadline struct {
	Headline  string   `json:"headline" validate:"required"`
	Source    string   `json:"source" validate:"required"`
	CreatedAt string   `json:"created_at" validate:"required,timestamp"`
	Tickers   []string `json:"tickers"`
}

// NewNews returns the headline feed. Headlines carry no provider id, so the
// identity is a content hash of headline, source and timestamp.
func NewNews(path string) repository.Feed {
	if path == "" {
		path = DefaultNewsPath
	}
	return &typed[newsHeadline]{
		kind: models.FeedNews,
		path: path,
		toModel: func(h newsHeadline) (models.Record, error) {
			at, err := mustTime(h.CreatedAt)
			if err != nil {
				return models.Record{}, err
			}
			return models.Record{
				Identity:   ContentHash(h.Headline, h.Source, at),
				OccurredAt: at,
			}, nil
		},
	}
}

// ContentHash derives a stable identity for records without a provider id.
func ContentHash(headline, source string, at time.Time) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(headline) + "|" +
		strings.TrimSpace(source) + "|" + at.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])
}

type flowAlert struct {
	ID           flexID      `json:"id" validate:"required"`
	Ticker       string      `json:"ticker" validate:"required"`
	CreatedAt    string      `json:"created_at" validate:"required,timestamp"`
	TotalPremium json.Number `json:"total_premium" validate:"required,decimal"`
	Type         string      `json:"type" validate:"omitempty,oneof=call put"`
	Strike       json.Number `json:"strike" validate:"omitempty,decimal"`
}

// NewFlow returns the options flow alert feed.
func NewFlow(path string) repository.Feed {
	if path == "" {
		path = DefaultFlowPath
	}
	return &typed[flowAlert]{
		kind:   models.FeedFlow,
		path:   path,
		scoped: true,
		toModel: func(a flowAlert) (models.Record, error) {
			at, err := mustTime(a.CreatedAt)
			if err != nil {
				return models.Record{}, err
			}
			return models.Record{
				Identity:   string(a.ID),
				Symbol:     strings.ToUpper(a.Ticker),
				OccurredAt: at,
			}, nil
		},
	}
}
