package feeds

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	"MarketSync/pkg/util"
)

var (
	ErrUnknownFeed = errors.New("unknown feed type")
	ErrInvalid     = errors.New("record failed validation")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
		_, err := decimal.NewFromString(strings.TrimSpace(fl.Field().String()))
		return err == nil
	})
	_ = v.RegisterValidation("timestamp", func(fl validator.FieldLevel) bool {
		_, ok := util.ParseTime(fl.Field().String())
		return ok
	})
	return v
}

// typed is the feed implementation shared by every record shape.
type typed[T any] struct {
	kind    models.FeedType
	path    string
	scoped  bool
	toModel func(T) (models.Record, error)
}

func (f *typed[T]) Type() models.FeedType { return f.kind }

func (f *typed[T]) SymbolScoped() bool { return f.scoped }

func (f *typed[T]) Path(symbol string) string {
	if !f.scoped {
		return f.path
	}
	return strings.ReplaceAll(f.path, "{symbol}", strings.ToUpper(symbol))
}

func (f *typed[T]) Validate(raw json.RawMessage) bool {
	_, err := parse[T](raw)
	return err == nil
}

func (f *typed[T]) Decode(raw json.RawMessage) (models.Record, error) {
	v, err := parse[T](raw)
	if err != nil {
		return models.Record{}, err
	}
	rec, err := f.toModel(v)
	if err != nil {
		return models.Record{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	rec.Feed = f.kind
	rec.Payload = compact(raw)
	return rec, nil
}

func parse[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := validate.Struct(v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return v, nil
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return json.RawMessage(buf.Bytes())
}

func mustTime(s string) (time.Time, error) {
	t, ok := util.ParseTime(s)
	if !ok {
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
	}
	return t, nil
}

// New returns the feed for kind, reading from path. An empty path selects the
// default route for the feed.
func New(kind models.FeedType, path string) (repository.Feed, error) {
	switch kind {
	case models.FeedDarkPool:
		return NewDarkPool(path), nil
	case models.FeedNews:
		return NewNews(path), nil
	case models.FeedFlow:
		return NewFlow(path), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeed, kind)
	}
}
