package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxDocumentSize caps how much of a broker response is read.
const maxDocumentSize = 1 << 20

// maxAgeLimit keeps absurd max-age values from overflowing time.Duration.
const maxAgeLimit = 10 * 365 * 24 * 60 * 60

// Fetched is a freshly retrieved broker document.
type Fetched struct {
	Data json.RawMessage
	TTL  time.Duration
}

// Fetcher retrieves JSON documents over HTTP and derives their cache
// lifetime. Store implementations embed one rather than talking HTTP
// themselves.
type Fetcher struct {
	Client      *http.Client
	CacheMinTTL time.Duration
}

// NewFetcher builds a Fetcher from resolved Options.
func NewFetcher(o Options) *Fetcher {
	return &Fetcher{Client: o.HTTPClient, CacheMinTTL: o.CacheMinTTL}
}

// Fetch performs a GET against url. The body must be a JSON object. The
// returned TTL is the larger of the Cache-Control max-age and CacheMinTTL.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status code %d", ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}
	if err := ValidateObject(body); err != nil {
		return nil, err
	}

	ttl := ParseMaxAge(resp.Header.Get("Cache-Control"))
	if ttl < f.CacheMinTTL {
		ttl = f.CacheMinTTL
	}

	return &Fetched{Data: json.RawMessage(body), TTL: ttl}, nil
}

// ValidateObject reports ErrInvalidDocument unless data is a single JSON
// object.
func ValidateObject(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return ErrInvalidDocument
	}
	return nil
}

// ParseMaxAge extracts the max-age directive from a Cache-Control header
// value. Missing or malformed directives yield zero.
func ParseMaxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "max-age") {
			continue
		}
		secs, err := strconv.ParseInt(strings.Trim(strings.TrimSpace(value), `"`), 10, 64)
		if err != nil || secs < 0 {
			return 0
		}
		if secs > maxAgeLimit {
			secs = maxAgeLimit
		}
		return time.Duration(secs) * time.Second
	}
	return 0
}
