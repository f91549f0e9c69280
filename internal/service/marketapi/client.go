package marketapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"MarketSync/internal/domain/repository"
	xhttp "MarketSync/pkg/http"
)

const maxErrorBody = 2048

// Client reads paginated event pages from the market data REST API.
type Client struct {
	baseURL string
	http    *xhttp.Client
}

type envelope struct {
	Data    []json.RawMessage `json:"data"`
	HasMore *bool             `json:"has_more,omitempty"`
}

// New creates an API client. timeout bounds every single call.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: xhttp.NewClient(
			xhttp.WithTimeout(timeout),
			xhttp.WithBearerToken(token),
			xhttp.WithHeader("Accept", "application/json"),
		),
	}
}

// FetchPage issues one GET and decodes its data array.
func (c *Client) FetchPage(ctx context.Context, req repository.PageRequest) (*repository.Page, error) {
	resp, err := c.http.SendRequest(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.baseURL + req.Path,
		QueryParams: query(req),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Status:     resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &repository.Page{Data: env.Data, HasMore: env.HasMore}, nil
}

func query(req repository.PageRequest) map[string][]string {
	q := map[string][]string{
		"limit": {strconv.Itoa(req.Limit)},
		"page":  {strconv.Itoa(req.Page)},
	}
	if req.Symbol != "" {
		q["symbol"] = []string{req.Symbol}
	}
	if !req.NewerThan.IsZero() {
		q["newer_than"] = []string{req.NewerThan.UTC().Format(time.RFC3339Nano)}
	}
	if !req.OlderThan.IsZero() {
		q["older_than"] = []string{req.OlderThan.UTC().Format(time.RFC3339Nano)}
	}
	return q
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
