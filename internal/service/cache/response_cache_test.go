package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketSync/internal/domain/models"
	pkgcache "MarketSync/pkg/cache"
)

func window(t *testing.T) models.FetchWindow {
	t.Helper()
	w, err := models.NewFetchWindow("SPY",
		time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC),
		time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	return w
}

func TestFingerprintDistinguishesRequests(t *testing.T) {
	w := window(t)
	cursor := w.Start.Add(10 * time.Minute)

	base := Fingerprint(models.FeedDarkPool, w, 0, nil)
	assert.Equal(t, base, Fingerprint(models.FeedDarkPool, w, 0, nil))
	assert.NotEqual(t, base, Fingerprint(models.FeedFlow, w, 0, nil))
	assert.NotEqual(t, base, Fingerprint(models.FeedDarkPool, w, 1, nil))
	assert.NotEqual(t, base, Fingerprint(models.FeedDarkPool, w, 0, &cursor))

	other := w
	other.Symbol = "QQQ"
	assert.NotEqual(t, base, Fingerprint(models.FeedDarkPool, other, 0, nil))
}

func TestResponseCacheRoundTripAndExpiry(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	store := pkgcache.NewMemoryCache(pkgcache.WithMemorySweep(0), pkgcache.WithMemoryClock(func() time.Time { return now }))
	defer store.Close()

	rc := NewResponseCache(store, time.Hour, nil)
	ctx := context.Background()
	key := Fingerprint(models.FeedDarkPool, window(t), 0, nil)

	_, ok := rc.Get(ctx, key)
	assert.False(t, ok)

	records := []models.Record{{
		Identity:   "dp-1",
		Feed:       models.FeedDarkPool,
		Symbol:     "SPY",
		OccurredAt: now,
		Payload:    json.RawMessage(`{"tracking_id":1}`),
	}}
	rc.Put(ctx, key, records)

	got, ok := rc.Get(ctx, key)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "dp-1", got[0].Identity)
	assert.JSONEq(t, `{"tracking_id":1}`, string(got[0].Payload))

	now = now.Add(time.Hour)
	_, ok = rc.Get(ctx, key)
	assert.False(t, ok)
}

func TestResponseCacheStoresEmptyResults(t *testing.T) {
	store := pkgcache.NewMemoryCache(pkgcache.WithMemorySweep(0))
	defer store.Close()
	rc := NewResponseCache(store, time.Hour, nil)
	ctx := context.Background()

	rc.Put(ctx, "empty", nil)
	got, ok := rc.Get(ctx, "empty")
	assert.True(t, ok)
	assert.Empty(t, got)
}
