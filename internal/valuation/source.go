package valuation

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// FeedSource supplies the current raw price feed record. A nil record with
// a nil error means no feed is published.
type FeedSource interface {
	Latest(ctx context.Context) ([]byte, error)
}

// StaticFeed is a FeedSource holding a record set in-process.
type StaticFeed struct {
	mu     sync.RWMutex
	record []byte
}

// Compile-time interface check.
var _ FeedSource = (*StaticFeed)(nil)

// Set replaces the published record. A nil record withdraws the feed.
func (f *StaticFeed) Set(record []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record = append([]byte(nil), record...)
}

// Latest returns a copy of the published record.
func (f *StaticFeed) Latest(context.Context) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.record) == 0 {
		return nil, nil
	}
	return append([]byte(nil), f.record...), nil
}

// HTTPFeed fetches the record from an endpoint serving it as a raw body.
type HTTPFeed struct {
	url        string
	httpClient *resty.Client
}

// Compile-time interface check.
var _ FeedSource = (*HTTPFeed)(nil)

// NewHTTPFeed creates an HTTPFeed for url.
func NewHTTPFeed(url string, timeout time.Duration) *HTTPFeed {
	return &HTTPFeed{
		url:        url,
		httpClient: resty.New().SetTimeout(timeout),
	}
}

// Latest downloads the record. 404 means no feed is published.
func (f *HTTPFeed) Latest(ctx context.Context) ([]byte, error) {
	resp, err := f.httpClient.R().SetContext(ctx).Get(f.url)
	if err != nil {
		return nil, fmt.Errorf("fetch price feed: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return resp.Body(), nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("fetch price feed: unexpected status code: %d", resp.StatusCode())
	}
}
