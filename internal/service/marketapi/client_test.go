package marketapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketSync/internal/domain/repository"
)

func TestFetchPageSendsQueryAndAuth(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"tracking_id":1},{"tracking_id":2}],"has_more":false}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "secret", 5*time.Second)
	newer := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	older := newer.Add(time.Hour)

	page, err := c.FetchPage(context.Background(), repository.PageRequest{
		Path:      "/api/darkpool/SPY",
		Symbol:    "SPY",
		NewerThan: newer,
		OlderThan: older,
		Limit:     500,
		Page:      2,
	})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	require.NotNil(t, page.HasMore)
	assert.False(t, *page.HasMore)

	require.NotNil(t, got)
	assert.Equal(t, "/api/darkpool/SPY", got.URL.Path)
	assert.Equal(t, "Bearer secret", got.Header.Get("Authorization"))
	q := got.URL.Query()
	assert.Equal(t, "SPY", q.Get("symbol"))
	assert.Equal(t, "2024-03-04T14:30:00Z", q.Get("newer_than"))
	assert.Equal(t, "2024-03-04T15:30:00Z", q.Get("older_than"))
	assert.Equal(t, "500", q.Get("limit"))
	assert.Equal(t, "2", q.Get("page"))
}

func TestFetchPageOmitsEmptySymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("symbol"))
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL, "t", time.Second).FetchPage(context.Background(), repository.PageRequest{Path: "/api/news/headlines", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.Nil(t, page.HasMore)
}

func TestFetchPageClassifiesErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		rateLimited bool
		retryable   bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, true, true},
		{"server error", http.StatusBadGateway, "bad gateway", false, true},
		{"unauthorized", http.StatusUnauthorized, "no token", false, false},
		{"bad request", http.StatusBadRequest, "bad", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, "t", time.Second).FetchPage(context.Background(), repository.PageRequest{Path: "/x", Limit: 1})
			require.Error(t, err)

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.Status)
			assert.Equal(t, tt.body, se.Body)
			assert.Equal(t, tt.rateLimited, IsRateLimited(err))
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, 7*time.Second, RetryAfter(err))
		})
	}
}

func TestFetchPageMalformedBodyIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "t", time.Second).FetchPage(context.Background(), repository.PageRequest{Path: "/x", Limit: 1})
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.True(t, IsRetryable(err))
}

func TestFetchPageTimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(srv.URL, "t", 50*time.Millisecond).FetchPage(context.Background(), repository.PageRequest{Path: "/x", Limit: 1})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRateLimited(err))
}

func TestIsRetryableCancellation(t *testing.T) {
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(nil))
}
