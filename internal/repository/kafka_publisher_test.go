package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketSync/internal/domain/models"
	pkgkafka "MarketSync/pkg/kafka"
)

type recordingWriter struct {
	topic  string
	msgs   []pkgkafka.Message
	closed bool
}

func (w *recordingWriter) PublishBatch(_ context.Context, topic string, messages []pkgkafka.Message) error {
	w.topic = topic
	w.msgs = append(w.msgs, messages...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherPublishRecords(t *testing.T) {
	w := &recordingWriter{}
	p := NewKafkaPublisher(w, "")
	at := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

	require.NoError(t, p.PublishRecords(context.Background(), models.FeedDarkPool, nil))
	assert.Empty(t, w.msgs)

	recs := []models.Record{
		{Identity: "t-1", Feed: models.FeedDarkPool, Symbol: "SPY", OccurredAt: at, Payload: json.RawMessage(`{"price":"510.1"}`)},
		{Identity: "t-2", Feed: models.FeedDarkPool, Symbol: "SPY", OccurredAt: at.Add(time.Second), Payload: json.RawMessage(`{}`)},
	}
	require.NoError(t, p.PublishRecords(context.Background(), models.FeedDarkPool, recs))
	assert.Equal(t, "marketsync.darkpool", w.topic)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, []byte("t-1"), w.msgs[0].Key)

	var decoded models.Record
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "SPY", decoded.Symbol)
	assert.True(t, decoded.OccurredAt.Equal(at))
	assert.JSONEq(t, `{"price":"510.1"}`, string(decoded.Payload))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
