package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

var ErrNoBrokers = errors.New("kafka brokers are required")

// Message is one keyed payload. Value is already encoded.
type Message struct {
	Key   []byte
	Value []byte
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes batches to Kafka and reports per-topic counters.
type Producer struct {
	writer  messageWriter
	comp    string
	metrics *producerMetrics
}

// NewProducer builds a synchronous writer. reg may be nil to skip metrics.
func NewProducer(reg prometheus.Registerer, opts ...ProducerOption) (*Producer, error) {
	cfg := defaultProducerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}

	bal := kafka.Balancer(&kafka.LeastBytes{})
	if cfg.HashByKey {
		bal = &kafka.Hash{}
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               bal,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:            cfg.MaxAttempts,
		WriteTimeout:           cfg.WriteTimeout,
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}
	if c, ok := parseCompression(cfg.Compression); ok {
		w.Compression = c
	}
	return newProducer(w, cfg.Compression, reg), nil
}

func newProducer(w messageWriter, comp string, reg prometheus.Registerer) *Producer {
	p := &Producer{writer: w, comp: comp}
	if reg != nil {
		p.metrics = newProducerMetrics(reg)
	}
	return p
}

// PublishBatch writes all messages to topic in one call.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	start := time.Now()
	now := start.UTC()
	msgs := make([]kafka.Message, len(messages))
	var size int64
	for i, m := range messages {
		msgs[i] = kafka.Message{Topic: topic, Key: m.Key, Value: m.Value, Time: now}
		size += int64(len(m.Value))
	}

	err := p.writer.WriteMessages(ctx, msgs...)
	p.observe(topic, size, len(msgs), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

func parseCompression(s string) (kafka.Compression, bool) {
	switch s {
	case "gzip":
		return kafka.Gzip, true
	case "snappy":
		return kafka.Snappy, true
	case "lz4":
		return kafka.Lz4, true
	case "zstd":
		return kafka.Zstd, true
	default:
		return 0, false
	}
}

type producerMetrics struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newProducerMetrics(reg prometheus.Registerer) *producerMetrics {
	f := promauto.With(reg)
	return &producerMetrics{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketsync",
			Subsystem: "kafka",
			Name:      "messages_total",
			Help:      "Messages written to Kafka",
		}, []string{"topic", "compression", "result"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketsync",
			Subsystem: "kafka",
			Name:      "bytes_total",
			Help:      "Payload bytes written to Kafka",
		}, []string{"topic"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "marketsync",
			Subsystem: "kafka",
			Name:      "write_seconds",
			Help:      "Kafka batch write latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
	}
}

func (p *Producer) observe(topic string, size int64, count int, dur time.Duration, err error) {
	if p.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.metrics.messages.WithLabelValues(topic, p.comp, result).Add(float64(count))
	if err == nil {
		p.metrics.bytes.WithLabelValues(topic).Add(float64(size))
	}
	p.metrics.latency.WithLabelValues(topic).Observe(dur.Seconds())
}
