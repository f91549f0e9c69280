package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	pkgkafka "MarketSync/pkg/kafka"
)

// BatchWriter is the slice of pkg/kafka.Producer the publisher needs.
type BatchWriter interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaPublisher writes records to one topic per feed, keyed by identity.
type KafkaPublisher struct {
	writer      BatchWriter
	topicPrefix string
}

var _ repository.Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(writer BatchWriter, topicPrefix string) *KafkaPublisher {
	if topicPrefix == "" {
		topicPrefix = "marketsync"
	}
	return &KafkaPublisher{writer: writer, topicPrefix: topicPrefix}
}

// Topic returns the topic records of feed are written to.
func (p *KafkaPublisher) Topic(feed models.FeedType) string {
	return p.topicPrefix + "." + string(feed)
}

func (p *KafkaPublisher) PublishRecords(ctx context.Context, feed models.FeedType, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(records))
	for i, rec := range records {
		v, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", rec.Identity, err)
		}
		msgs[i] = pkgkafka.Message{Key: []byte(rec.Identity), Value: v}
	}
	return p.writer.PublishBatch(ctx, p.Topic(feed), msgs)
}

func (p *KafkaPublisher) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
