package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ggoodman/portier-go/store"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: PORTIER_REDIS_KEY_PREFIX
	KeyPrefix string `env:"PORTIER_REDIS_KEY_PREFIX,default=portier:"`
}

const defaultKeyPrefix = "portier:"

// Store implements store.Store on top of Redis.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	opts      store.Options
	fetcher   *store.Fetcher
	log       *slog.Logger
	owned     bool
}

// New connects to the configured Redis server and verifies it with PING.
func New(cfg Config, opts ...store.Option) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	s := NewWithClient(cl, cfg.KeyPrefix, opts...)
	s.owned = true
	return s, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(opts ...store.Option) (*Store, error) {
	var cfg Config
	// Defaults are provided via struct tags; a missing environment is fine.
	_ = envdecode.Decode(&cfg)
	return New(cfg, opts...)
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client redis.UniversalClient, keyPrefix string, opts ...store.Option) *Store {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	o := store.Apply(opts...)
	return &Store{
		client:    client,
		keyPrefix: keyPrefix,
		opts:      o,
		fetcher:   store.NewFetcher(o),
		log:       o.Logger,
	}
}

// Close closes the Redis client if the store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

// --- Key helpers ---

func (s *Store) cacheKey(cacheID string) string { return s.keyPrefix + "cache:" + cacheID }
func (s *Store) nonceKey(nonce string) string   { return s.keyPrefix + "nonce:" + nonce }

// FetchCached implements store.Store.
func (s *Store) FetchCached(ctx context.Context, cacheID, url string) (json.RawMessage, error) {
	key := s.cacheKey(cacheID)

	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var doc store.CachedDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			s.log.WarnContext(ctx, "discarding unreadable cache entry",
				slog.String("cache_id", cacheID),
				slog.String("err", err.Error()),
			)
		} else if !doc.Expired(s.opts.Clock()) {
			s.log.DebugContext(ctx, "cache hit", slog.String("cache_id", cacheID))
			return doc.Data, nil
		}
	case errors.Is(err, redis.Nil):
	default:
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	res, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	doc := store.CachedDocument{Data: res.Data, ExpiresAt: s.opts.Clock().Add(res.TTL)}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := s.client.Set(ctx, key, encoded, res.TTL).Err(); err != nil {
		return nil, fmt.Errorf("failed to set key %s: %w", key, err)
	}
	s.log.DebugContext(ctx, "cache refreshed",
		slog.String("cache_id", cacheID),
		slog.Duration("ttl", res.TTL),
	)

	return res.Data, nil
}

// CreateNonce implements store.Store.
func (s *Store) CreateNonce(ctx context.Context, clientID, email string) (string, error) {
	nonce, err := store.GenerateNonce()
	if err != nil {
		return "", err
	}
	rec := store.NewNonceRecord(clientID, email, s.opts.Clock(), s.opts.NonceTTL)
	encoded, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal nonce: %w", err)
	}
	if err := s.client.Set(ctx, s.nonceKey(nonce), encoded, s.opts.NonceTTL).Err(); err != nil {
		return "", fmt.Errorf("failed to store nonce: %w", err)
	}
	return nonce, nil
}

// ConsumeNonce implements store.Store. GET and DEL run in one MULTI/EXEC
// transaction, so at most one caller ever reads the record.
func (s *Store) ConsumeNonce(ctx context.Context, nonce, clientID, email string) error {
	key := s.nonceKey(nonce)

	var get *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to consume nonce: %w", err)
	}

	raw, err := get.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.ErrInvalidNonce
		}
		return fmt.Errorf("failed to consume nonce: %w", err)
	}

	var rec store.NonceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return store.ErrInvalidNonce
	}
	if !rec.Valid(clientID, email, s.opts.Clock()) {
		return store.ErrInvalidNonce
	}
	return nil
}

var _ store.Store = (*Store)(nil)
