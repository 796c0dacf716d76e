package redisstore

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ggoodman/portier-go/store"
	"github.com/ggoodman/portier-go/store/storetest"
	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

func TestRedisStore(t *testing.T) {
	// Quick availability check to allow graceful skip in environments without Redis
	s, err := NewFromEnv()
	if err != nil {
		t.Skipf("skipping redis store tests: %v", err)
		return
	}
	_ = s.Close()

	storetest.RunStoreTests(t, func(t *testing.T, opts ...store.Option) store.Store {
		var cfg Config
		_ = envdecode.Decode(&cfg)
		// Isolate each test under its own prefix.
		cfg.KeyPrefix = "portier-test:" + uuid.NewString() + ":"
		ss, err := New(cfg, opts...)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { _ = ss.Close() })
		return ss
	})
}

func TestRedisStoreInProcess(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T, opts ...store.Option) store.Store {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewWithClient(client, "portier-test:"+uuid.NewString()+":", opts...)
	})
}

func TestNewWithClientDefaultsPrefix(t *testing.T) {
	s := NewWithClient(nil, "")
	if got := s.nonceKey("abc"); got != "portier:nonce:abc" {
		t.Fatalf("nonce key = %q", got)
	}
	if got := s.cacheKey(store.CacheIDKeys); got != "portier:cache:keys" {
		t.Fatalf("cache key = %q", got)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close of borrowed client: %v", err)
	}
}
