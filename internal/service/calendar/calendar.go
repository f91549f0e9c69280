package calendar

import (
	"fmt"
	"strings"
	"time"

	"MarketSync/internal/domain/models"
)

const dateLayout = "2006-01-02"

// searchHorizon bounds how far NextActiveAfter looks before giving up.
const searchHorizon = 366 * 2

type Config struct {
	Timezone string
	Open     string // "09:30"
	Close    string // "16:00"
	Weekdays []string
	Holidays []string // "2006-01-02"
}

// Calendar decides whether an instant falls inside a trading session.
// A session is [open, close) local time on an active weekday that is not a holiday.
type Calendar struct {
	loc      *time.Location
	open     time.Duration
	close    time.Duration
	weekdays map[time.Weekday]bool
	holidays map[string]bool
}

func New(cfg Config) (*Calendar, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}

	open, err := parseClock(cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	closeAt, err := parseClock(cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("close: %w", err)
	}
	if open >= closeAt {
		return nil, fmt.Errorf("open %s must be before close %s", cfg.Open, cfg.Close)
	}

	weekdays := make(map[time.Weekday]bool, len(cfg.Weekdays))
	for _, name := range cfg.Weekdays {
		wd, err := ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		weekdays[wd] = true
	}

	holidays := make(map[string]bool, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(h), loc)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h, err)
		}
		holidays[d.Format(dateLayout)] = true
	}

	return &Calendar{
		loc:      loc,
		open:     open,
		close:    closeAt,
		weekdays: weekdays,
		holidays: holidays,
	}, nil
}

// IsActive reports whether t is inside a session.
func (c *Calendar) IsActive(t time.Time) bool {
	local := t.In(c.loc)
	if !c.tradingDay(local) {
		return false
	}
	tod := sinceMidnight(local)
	return tod >= c.open && tod < c.close
}

// NextActiveAfter returns t when it is already active, otherwise the next
// session open. The zero time means no session exists in the search horizon.
func (c *Calendar) NextActiveAfter(t time.Time) time.Time {
	if c.IsActive(t) {
		return t
	}
	local := t.In(c.loc)
	day := midnight(local)
	for i := 0; i <= searchHorizon; i++ {
		d := day.AddDate(0, 0, i)
		if !c.tradingDay(d) {
			continue
		}
		open := atClock(d, c.open)
		if open.After(t) {
			return open
		}
	}
	return time.Time{}
}

// ActiveSpans returns the session intervals intersecting r, clipped to r.
func (c *Calendar) ActiveSpans(r models.TimeRange) []models.TimeRange {
	if !r.Valid() {
		return nil
	}
	var spans []models.TimeRange
	day := midnight(r.From.In(c.loc)).AddDate(0, 0, -1)
	for ; day.Before(r.To); day = day.AddDate(0, 0, 1) {
		if !c.tradingDay(day) {
			continue
		}
		from := atClock(day, c.open)
		to := atClock(day, c.close)
		if from.Before(r.From) {
			from = r.From
		}
		if to.After(r.To) {
			to = r.To
		}
		if from.Before(to) {
			spans = append(spans, models.TimeRange{From: from.UTC(), To: to.UTC()})
		}
	}
	return spans
}

// Location returns the calendar timezone.
func (c *Calendar) tradingDay(local time.Time) bool {
	if !c.weekdays[local.Weekday()] {
		return false
	}
	return !c.holidays[local.Format(dateLayout)]
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// atClock builds the wall-clock instant on day's date, so DST days stay correct.
func atClock(day time.Time, tod time.Duration) time.Time {
	h := int(tod / time.Hour)
	m := int(tod % time.Hour / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}

func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}
