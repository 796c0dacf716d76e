// Package memorystore provides an in-process store.Store backed by
// github.com/hashicorp/golang-lru/v2. It is suitable for tests, development
// and single-process deployments; state is lost on restart and is not shared
// between processes, so a nonce issued by one replica cannot be consumed by
// another.
//
// Both maps are bounded. When the nonce map is full the least recently issued
// nonce is evicted, which makes that authentication attempt fail verification.
package memorystore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/portier-go/store"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxNonces bounds the number of outstanding nonces.
const DefaultMaxNonces = 100_000

const maxDocuments = 64

// Store implements store.Store in memory.
type Store struct {
	opts    store.Options
	fetcher *store.Fetcher
	log     *slog.Logger

	mu     sync.Mutex
	cache  *lru.Cache[string, *store.CachedDocument]
	nonces *lru.Cache[string, store.NonceRecord]

	group singleflight.Group

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a memory store holding at most maxNonces outstanding nonces.
// A non-positive maxNonces selects DefaultMaxNonces.
func New(maxNonces int, opts ...store.Option) (*Store, error) {
	if maxNonces <= 0 {
		maxNonces = DefaultMaxNonces
	}
	cache, err := lru.New[string, *store.CachedDocument](maxDocuments)
	if err != nil {
		return nil, fmt.Errorf("failed to create document cache: %w", err)
	}
	nonces, err := lru.New[string, store.NonceRecord](maxNonces)
	if err != nil {
		return nil, fmt.Errorf("failed to create nonce cache: %w", err)
	}

	o := store.Apply(opts...)
	s := &Store{
		opts:    o,
		fetcher: store.NewFetcher(o),
		log:     o.Logger,
		cache:   cache,
		nonces:  nonces,
		stop:    make(chan struct{}),
	}

	go s.cleanupExpired(5 * time.Minute)

	return s, nil
}

// FetchCached implements store.Store. Concurrent misses for the same cacheID
// share one HTTP request; entries are replaced whole, so readers observe
// either the previous document or the new one.
func (s *Store) FetchCached(ctx context.Context, cacheID, url string) (json.RawMessage, error) {
	now := s.opts.Clock()

	s.mu.Lock()
	doc, ok := s.cache.Get(cacheID)
	s.mu.Unlock()
	if ok && !doc.Expired(now) {
		s.log.DebugContext(ctx, "cache hit", slog.String("cache_id", cacheID))
		return doc.Data, nil
	}

	// The shared fetch outlives any single caller; the HTTP client timeout
	// bounds it. Each caller still stops waiting when its own ctx ends.
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(cacheID, func() (any, error) {
		res, err := s.fetcher.Fetch(fetchCtx, url)
		if err != nil {
			return nil, err
		}
		doc := &store.CachedDocument{Data: res.Data, ExpiresAt: s.opts.Clock().Add(res.TTL)}
		s.mu.Lock()
		s.cache.Add(cacheID, doc)
		s.mu.Unlock()
		s.log.DebugContext(fetchCtx, "cache refreshed",
			slog.String("cache_id", cacheID),
			slog.Duration("ttl", res.TTL),
		)
		return doc.Data, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			s.log.DebugContext(ctx, "cache refresh shared", slog.String("cache_id", cacheID))
		}
		return r.Val.(json.RawMessage), nil
	}
}

// CreateNonce implements store.Store.
func (s *Store) CreateNonce(ctx context.Context, clientID, email string) (string, error) {
	nonce, err := store.GenerateNonce()
	if err != nil {
		return "", err
	}
	rec := store.NewNonceRecord(clientID, email, s.opts.Clock(), s.opts.NonceTTL)

	s.mu.Lock()
	evicted := s.nonces.Add(nonce, rec)
	s.mu.Unlock()
	if evicted {
		s.log.WarnContext(ctx, "nonce capacity reached; evicted oldest nonce")
	}

	return nonce, nil
}

// ConsumeNonce implements store.Store. Lookup and removal happen under a
// single lock acquisition.
func (s *Store) ConsumeNonce(ctx context.Context, nonce, clientID, email string) error {
	s.mu.Lock()
	rec, ok := s.nonces.Peek(nonce)
	if ok {
		s.nonces.Remove(nonce)
	}
	s.mu.Unlock()

	if !ok || !rec.Valid(clientID, email, s.opts.Clock()) {
		return store.ErrInvalidNonce
	}
	return nil
}

// Close stops background cleanup and drops all state.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.cache.Purge()
	s.nonces.Purge()
	s.mu.Unlock()
	return nil
}

// cleanupExpired periodically drops expired nonces and documents.
func (s *Store) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		now := s.opts.Clock()
		s.mu.Lock()
		for _, key := range s.nonces.Keys() {
			if rec, ok := s.nonces.Peek(key); ok && !now.Before(rec.ExpiresAt) {
				s.nonces.Remove(key)
			}
		}
		for _, key := range s.cache.Keys() {
			if doc, ok := s.cache.Peek(key); ok && doc.Expired(now) {
				s.cache.Remove(key)
			}
		}
		s.mu.Unlock()
	}
}

var _ store.Store = (*Store)(nil)
