// Package store defines the persistence contract the Portier client depends
// on: cached fetching of broker documents and single-use nonces.
//
// Implementations live in sub-packages (memorystore, redisstore) and compose
// the shared helpers in this package (Fetcher, GenerateNonce, NonceRecord)
// rather than re-implementing HTTP fetching or nonce generation. Every
// implementation is expected to pass the storetest conformance suite.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Well-known cache IDs used by the client. Documents are keyed by these
// logical names rather than by URL, so a rotated jwks_uri is only picked up
// once the previous "keys" entry expires.
const (
	CacheIDDiscovery = "discovery"
	CacheIDKeys      = "keys"
)

// Store is the capability the client needs from its persistence backend.
// Implementations must be safe for concurrent use.
type Store interface {
	// FetchCached returns the JSON object cached under cacheID, or fetches url
	// with an HTTP GET, caches the body for max(CacheMinTTL, max-age) and
	// returns it. The returned document is always a JSON object.
	FetchCached(ctx context.Context, cacheID, url string) (json.RawMessage, error)

	// CreateNonce generates a nonce bound to (clientID, email) and stores it
	// for NonceTTL.
	CreateNonce(ctx context.Context, clientID, email string) (string, error)

	// ConsumeNonce atomically removes the nonce and reports ErrInvalidNonce
	// unless it existed, had not expired and was bound to exactly
	// (clientID, email). A nonce can be consumed successfully at most once.
	ConsumeNonce(ctx context.Context, nonce, clientID, email string) error
}

var (
	// ErrFetch indicates the HTTP request for a broker document failed.
	ErrFetch = errors.New("store: fetch failed")
	// ErrInvalidDocument indicates a fetched body was not a JSON object.
	ErrInvalidDocument = errors.New("store: response body is not a JSON object")
	// ErrInvalidNonce is deliberately unspecific about why consumption failed.
	ErrInvalidNonce = errors.New("invalid or expired nonce")
)

// Options holds the settings shared by all Store implementations.
type Options struct {
	// HTTPClient performs document fetches. Its Timeout bounds each fetch.
	HTTPClient *http.Client
	// NonceTTL is the lifespan of a nonce.
	NonceTTL time.Duration
	// CacheMinTTL is the floor applied to the max-age of fetched documents.
	CacheMinTTL time.Duration
	// Clock returns the current time. Tests substitute it to expire records.
	Clock func() time.Time
	// Logger receives debug records about cache and nonce activity.
	Logger *slog.Logger
}

// DefaultOptions returns Options with a 10 second fetch timeout, 15 minute
// nonces and a one hour cache floor.
func DefaultOptions() Options {
	return Options{
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		NonceTTL:    15 * time.Minute,
		CacheMinTTL: time.Hour,
		Clock:       time.Now,
		Logger:      slog.Default(),
	}
}

// Option configures Options.
type Option func(*Options)

// WithHTTPClient sets the client used to fetch broker documents.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) { o.HTTPClient = c }
}

// WithNonceTTL sets how long a nonce remains valid.
func WithNonceTTL(ttl time.Duration) Option {
	return func(o *Options) { o.NonceTTL = ttl }
}

// WithCacheMinTTL sets the minimum time a fetched document is cached.
func WithCacheMinTTL(ttl time.Duration) Option {
	return func(o *Options) { o.CacheMinTTL = ttl }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Clock = now }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Apply returns DefaultOptions with opts applied, replacing unset fields
// with their defaults.
func Apply(opts ...Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	def := DefaultOptions()
	if o.HTTPClient == nil {
		o.HTTPClient = def.HTTPClient
	}
	if o.NonceTTL <= 0 {
		o.NonceTTL = def.NonceTTL
	}
	if o.CacheMinTTL < 0 {
		o.CacheMinTTL = 0
	}
	if o.Clock == nil {
		o.Clock = def.Clock
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}
