package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "marketsync"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	fetched        *prometheus.CounterVec
	inserted       *prometheus.CounterVec
	invalid        *prometheus.CounterVec
	windowFailures *prometheus.CounterVec
	requests       *prometheus.CounterVec
	rateLimitWait  prometheus.Histogram
	cursorLag      *prometheus.GaugeVec
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

// New creates a recorder registered on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		fetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_fetched_total",
				Help:      "Records returned by the market data API",
			},
			[]string{"feed", "symbol"},
		),
		inserted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_inserted_total",
				Help:      "Records newly written to the store",
			},
			[]string{"feed", "symbol"},
		),
		invalid: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_invalid_total",
				Help:      "Records dropped by validation",
			},
			[]string{"feed"},
		),
		windowFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "window_failures_total",
				Help:      "Windows that failed and were left for a later run",
			},
			[]string{"feed", "stage"},
		),
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "API calls by outcome",
			},
			[]string{"feed", "status"},
		),
		rateLimitWait: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rate_limit_wait_seconds",
				Help:      "Time spent waiting for a request slot",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
			},
		),
		cursorLag: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cursor_lag_seconds",
				Help:      "Distance between now and the collection cursor",
			},
			[]string{"feed", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordFetched(feed, symbol string, n int) {
	r.fetched.WithLabelValues(feed, symbol).Add(float64(n))
}

func (r *Recorder) RecordInserted(feed, symbol string, n int) {
	r.inserted.WithLabelValues(feed, symbol).Add(float64(n))
}

func (r *Recorder) RecordInvalid(feed string, n int) {
	r.invalid.WithLabelValues(feed).Add(float64(n))
}

func (r *Recorder) RecordWindowFailure(feed, stage string) {
	r.windowFailures.WithLabelValues(feed, stage).Inc()
}

func (r *Recorder) RecordRequest(feed, status string) {
	r.requests.WithLabelValues(feed, status).Inc()
}

func (r *Recorder) RecordRateLimitWait(seconds float64) {
	r.rateLimitWait.Observe(seconds)
}

func (r *Recorder) SetCursorLag(feed, symbol string, seconds float64) {
	r.cursorLag.WithLabelValues(feed, symbol).Set(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every observation.
type Nop struct{}

func NewNop() Nop { return Nop{} }

func (Nop) RecordFetched(string, string, int) {}
func (Nop) RecordInserted(string, string, int) {}
func (Nop) RecordInvalid(string, int) {}
func (Nop) RecordWindowFailure(string, string) {}
func (Nop) RecordRequest(string, string) {}
func (Nop) RecordRateLimitWait(float64) {}
func (Nop) SetCursorLag(string, string, float64) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLatency(string, float64) {}
