package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Clock lets tests drive time.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type Config struct {
	PerMinute    int
	PerHour      int
	BackoffFloor time.Duration
	BackoffMax   time.Duration
	Growth       float64
}

// Option configures Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithWaitObserver is called with every non-zero wait AwaitSlot performs.
func WithWaitObserver(fn func(time.Duration)) Option {
	return func(l *Limiter) { l.onWait = fn }
}

// Limiter paces requests against per-minute and per-hour sliding windows and
// keeps an exponential backoff delay driven by request outcomes.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	clock   Clock
	history []time.Time // ascending request times inside the last hour
	backoff time.Duration
	onWait  func(time.Duration)
}

func New(cfg Config, opts ...Option) *Limiter {
	if cfg.Growth <= 1 {
		cfg.Growth = 2
	}
	if cfg.BackoffFloor <= 0 {
		cfg.BackoffFloor = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 300 * time.Second
	}
	if cfg.BackoffMax < cfg.BackoffFloor {
		cfg.BackoffMax = cfg.BackoffFloor
	}
	l := &Limiter{
		cfg:     cfg,
		clock:   realClock{},
		backoff: cfg.BackoffFloor,
	}
	for _, opt := range opts {
		opt(l)
	}
	capacity := cfg.PerHour
	if cfg.PerMinute > capacity {
		capacity = cfg.PerMinute
	}
	l.history = make([]time.Time, 0, capacity)
	return l
}

// AwaitSlot blocks until one request may be issued, then records it.
// It only returns an error when ctx is done.
func (l *Limiter) AwaitSlot(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.clock.Now()
		wait := l.waitLocked(now)
		if wait <= 0 {
			l.history = append(l.history, now)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if l.onWait != nil {
			l.onWait(wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

// waitLocked prunes history and returns how long until a slot frees up.
func (l *Limiter) waitLocked(now time.Time) time.Duration {
	hourAgo := now.Add(-time.Hour)
	drop := 0
	for drop < len(l.history) && !l.history[drop].After(hourAgo) {
		drop++
	}
	if drop > 0 {
		l.history = append(l.history[:0], l.history[drop:]...)
	}

	var wait time.Duration
	if l.cfg.PerHour > 0 && len(l.history) >= l.cfg.PerHour {
		oldest := l.history[len(l.history)-l.cfg.PerHour]
		wait = oldest.Add(time.Hour).Sub(now)
	}
	if l.cfg.PerMinute > 0 {
		minuteAgo := now.Add(-time.Minute)
		first := len(l.history)
		for first > 0 && l.history[first-1].After(minuteAgo) {
			first--
		}
		if inMinute := len(l.history) - first; inMinute >= l.cfg.PerMinute {
			oldest := l.history[len(l.history)-l.cfg.PerMinute]
			if w := oldest.Add(time.Minute).Sub(now); w > wait {
				wait = w
			}
		}
	}
	return wait
}

// RecordOutcome grows the backoff on failure and halves it toward the floor on success.
func (l *Limiter) RecordOutcome(success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if success {
		l.backoff /= 2
		if l.backoff < l.cfg.BackoffFloor {
			l.backoff = l.cfg.BackoffFloor
		}
		return
	}
	next := time.Duration(float64(l.backoff) * l.cfg.Growth)
	if next > l.cfg.BackoffMax || next <= 0 {
		next = l.cfg.BackoffMax
	}
	l.backoff = next
}

// Backoff returns the current delay to wait before retrying a failed request.
func (l *Limiter) Backoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backoff
}

// InFlight returns how many requests are recorded inside the last minute and hour.
func (l *Limiter) InFlight() (minute, hour int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	l.waitLocked(now)
	minuteAgo := now.Add(-time.Minute)
	for _, t := range l.history {
		if t.After(minuteAgo) {
			minute++
		}
	}
	return minute, len(l.history)
}
