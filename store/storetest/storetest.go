// Package storetest holds the conformance suite every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/portier-go/store"
)

// Factory creates a fresh, isolated Store configured with opts.
type Factory func(t *testing.T, opts ...store.Option) store.Store

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock starting at the current wall time.
func NewClock() *Clock {
	return &Clock{now: time.Now()}
}

// Now returns the clock's current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory Factory) {
	t.Run("Nonce_CreateAndConsume", func(t *testing.T) { testCreateAndConsume(t, factory) })
	t.Run("Nonce_Format", func(t *testing.T) { testNonceFormat(t, factory) })
	t.Run("Nonce_ConsumeTwiceFails", func(t *testing.T) { testConsumeTwice(t, factory) })
	t.Run("Nonce_UnknownFails", func(t *testing.T) { testUnknownNonce(t, factory) })
	t.Run("Nonce_MismatchFailsAndBurnsNonce", func(t *testing.T) { testMismatch(t, factory) })
	t.Run("Nonce_ExpiredFails", func(t *testing.T) { testExpiredNonce(t, factory) })
	t.Run("Nonce_ConcurrentConsumeSingleWinner", func(t *testing.T) { testConcurrentConsume(t, factory) })

	t.Run("Cache_HitAvoidsRefetch", func(t *testing.T) { testCacheHit(t, factory) })
	t.Run("Cache_FloorAppliesToShortMaxAge", func(t *testing.T) { testCacheFloor(t, factory) })
	t.Run("Cache_LongMaxAgeExtendsLifetime", func(t *testing.T) { testCacheMaxAge(t, factory) })
	t.Run("Cache_KeyedByCacheID", func(t *testing.T) { testCacheKeyedByID(t, factory) })
	t.Run("Cache_InvalidDocumentNotCached", func(t *testing.T) { testInvalidDocument(t, factory) })
	t.Run("Cache_ConcurrentReadersSeeWholeDocuments", func(t *testing.T) { testConcurrentFetch(t, factory) })
	t.Run("Cache_CancelledReaderDoesNotFailOthers", func(t *testing.T) { testCancelledReader(t, factory) })
}

const (
	clientID = "https://rp.example"
	email    = "user@example.com"
)

// docServer serves a JSON document and counts requests.
type docServer struct {
	*httptest.Server
	hits atomic.Int64
	body atomic.Value // string
}

func newDocServer(t *testing.T, cacheControl, body string) *docServer {
	t.Helper()
	d := &docServer{}
	d.body.Store(body)
	d.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.hits.Add(1)
		if cacheControl != "" {
			w.Header().Set("Cache-Control", cacheControl)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(d.body.Load().(string)))
	}))
	t.Cleanup(d.Close)
	return d
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testCreateAndConsume(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := ctxT(t)

	n, err := s.CreateNonce(ctx, clientID, email)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.ConsumeNonce(ctx, n, clientID, email); err != nil {
		t.Fatalf("consume: %v", err)
	}
}

func testNonceFormat(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := ctxT(t)

	a, err := s.CreateNonce(ctx, clientID, email)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := s.CreateNonce(ctx, clientID, email)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a == b {
		t.Fatalf("two nonces are identical: %q", a)
	}
	raw, err := hex.DecodeString(a)
	if err != nil || len(raw) != 16 {
		t.Fatalf("nonce %q is not 16 hex-encoded bytes", a)
	}
}

func testConsumeTwice(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := ctxT(t)

	n, err := s.CreateNonce(ctx, clientID, email)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.ConsumeNonce(ctx, n, clientID, email); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := s.ConsumeNonce(ctx, n, clientID, email); !errors.Is(err, store.ErrInvalidNonce) {
		t.Fatalf("second consume: err = %v, want ErrInvalidNonce", err)
	}
}

func testUnknownNonce(t *testing.T, factory Factory) {
	s := factory(t)
	if err := s.ConsumeNonce(ctxT(t), "00000000000000000000000000000000", clientID, email); !errors.Is(err, store.ErrInvalidNonce) {
		t.Fatalf("err = %v, want ErrInvalidNonce", err)
	}
}

func testMismatch(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := ctxT(t)

	cases := []struct {
		name            string
		clientID, email string
	}{
		{"client", "https://evil.example", email},
		{"email", clientID, "other@example.com"},
		{"pinned client", clientID + "?id_token_signed_response_alg=EdDSA", email},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := s.CreateNonce(ctx, clientID, email)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := s.ConsumeNonce(ctx, n, tc.clientID, tc.email); !errors.Is(err, store.ErrInvalidNonce) {
				t.Fatalf("mismatched consume: err = %v, want ErrInvalidNonce", err)
			}
			if err := s.ConsumeNonce(ctx, n, clientID, email); !errors.Is(err, store.ErrInvalidNonce) {
				t.Fatalf("nonce survived a failed consume: err = %v", err)
			}
		})
	}
}

func testExpiredNonce(t *testing.T, factory Factory) {
	clock := NewClock()
	s := factory(t, store.WithClock(clock.Now), store.WithNonceTTL(15*time.Minute))
	ctx := ctxT(t)

	fresh, err := s.CreateNonce(ctx, clientID, email)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stale, err := s.CreateNonce(ctx, clientID, email)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	clock.Advance(14 * time.Minute)
	if err := s.ConsumeNonce(ctx, fresh, clientID, email); err != nil {
		t.Fatalf("consume before expiry: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if err := s.ConsumeNonce(ctx, stale, clientID, email); !errors.Is(err, store.ErrInvalidNonce) {
		t.Fatalf("consume after expiry: err = %v, want ErrInvalidNonce", err)
	}
}

func testConcurrentConsume(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := ctxT(t)

	n, err := s.CreateNonce(ctx, clientID, email)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	var wins atomic.Int64
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := s.ConsumeNonce(ctx, n, clientID, email); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("nonce consumed %d times, want exactly 1", got)
	}
}

func testCacheHit(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := ctxT(t)
	srv := newDocServer(t, "", `{"jwks_uri":"https://broker.example/keys.json"}`)

	for i := 0; i < 3; i++ {
		doc, err := s.FetchCached(ctx, store.CacheIDDiscovery, srv.URL)
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		var got map[string]string
		if err := json.Unmarshal(doc, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got["jwks_uri"] != "https://broker.example/keys.json" {
			t.Fatalf("unexpected document: %s", doc)
		}
	}
	if hits := srv.hits.Load(); hits != 1 {
		t.Fatalf("server hit %d times, want 1", hits)
	}
}

func testCacheFloor(t *testing.T, factory Factory) {
	clock := NewClock()
	s := factory(t, store.WithClock(clock.Now), store.WithCacheMinTTL(time.Hour))
	ctx := ctxT(t)
	srv := newDocServer(t, "max-age=5", `{"v":1}`)

	if _, err := s.FetchCached(ctx, store.CacheIDKeys, srv.URL); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	clock.Advance(59 * time.Minute)
	if _, err := s.FetchCached(ctx, store.CacheIDKeys, srv.URL); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if hits := srv.hits.Load(); hits != 1 {
		t.Fatalf("entry expired before the floor: %d hits", hits)
	}

	srv.body.Store(`{"v":2}`)
	clock.Advance(2 * time.Minute)
	doc, err := s.FetchCached(ctx, store.CacheIDKeys, srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if hits := srv.hits.Load(); hits != 2 {
		t.Fatalf("expired entry was served: %d hits", hits)
	}
	if string(doc) != `{"v":2}` {
		t.Fatalf("stale document returned: %s", doc)
	}
}

func testCacheMaxAge(t *testing.T, factory Factory) {
	clock := NewClock()
	s := factory(t, store.WithClock(clock.Now), store.WithCacheMinTTL(time.Hour))
	ctx := ctxT(t)
	srv := newDocServer(t, "public, max-age=7200", `{}`)

	if _, err := s.FetchCached(ctx, store.CacheIDKeys, srv.URL); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	clock.Advance(90 * time.Minute)
	if _, err := s.FetchCached(ctx, store.CacheIDKeys, srv.URL); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if hits := srv.hits.Load(); hits != 1 {
		t.Fatalf("max-age was not honoured: %d hits", hits)
	}
	clock.Advance(31 * time.Minute)
	if _, err := s.FetchCached(ctx, store.CacheIDKeys, srv.URL); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if hits := srv.hits.Load(); hits != 2 {
		t.Fatalf("entry outlived max-age: %d hits", hits)
	}
}

func testCacheKeyedByID(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := ctxT(t)
	a := newDocServer(t, "", `{"from":"a"}`)
	b := newDocServer(t, "", `{"from":"b"}`)

	if _, err := s.FetchCached(ctx, store.CacheIDKeys, a.URL); err != nil {
		t.Fatalf("fetch a: %v", err)
	}
	doc, err := s.FetchCached(ctx, store.CacheIDKeys, b.URL)
	if err != nil {
		t.Fatalf("fetch b: %v", err)
	}
	if string(doc) != `{"from":"a"}` || b.hits.Load() != 0 {
		t.Fatalf("cache should be keyed by id, not url: got %s", doc)
	}

	doc, err = s.FetchCached(ctx, store.CacheIDDiscovery, b.URL)
	if err != nil {
		t.Fatalf("fetch discovery: %v", err)
	}
	if string(doc) != `{"from":"b"}` {
		t.Fatalf("distinct cache ids share an entry: %s", doc)
	}
}

func testInvalidDocument(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := ctxT(t)
	srv := newDocServer(t, "", `["not","an","object"]`)

	if _, err := s.FetchCached(ctx, store.CacheIDDiscovery, srv.URL); !errors.Is(err, store.ErrInvalidDocument) {
		t.Fatalf("err = %v, want ErrInvalidDocument", err)
	}
	srv.body.Store(`{"ok":true}`)
	doc, err := s.FetchCached(ctx, store.CacheIDDiscovery, srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(doc) != `{"ok":true}` {
		t.Fatalf("unexpected document: %s", doc)
	}
}

func testConcurrentFetch(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := ctxT(t)

	keys := make([]map[string]string, 200)
	for i := range keys {
		keys[i] = map[string]string{"kid": fmt.Sprintf("key-%d", i), "kty": "RSA"}
	}
	body, _ := json.Marshal(map[string]any{"keys": keys})
	srv := newDocServer(t, "", string(body))

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := s.FetchCached(ctx, store.CacheIDKeys, srv.URL)
			if err != nil {
				errs <- err
				return
			}
			var got struct {
				Keys []map[string]string `json:"keys"`
			}
			if err := json.Unmarshal(doc, &got); err != nil {
				errs <- fmt.Errorf("partial document: %w", err)
				return
			}
			if len(got.Keys) != len(keys) {
				errs <- fmt.Errorf("got %d keys, want %d", len(got.Keys), len(keys))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

// testCancelledReader cancels one reader while a refresh is in flight and
// checks that a second reader with a live context still gets the document.
func testCancelledReader(t *testing.T, factory Factory) {
	s := factory(t)

	arrived := make(chan struct{}, 2)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	ctxA, cancelA := context.WithCancel(ctxT(t))
	errA := make(chan error, 1)
	go func() {
		_, err := s.FetchCached(ctxA, store.CacheIDDiscovery, srv.URL)
		errA <- err
	}()
	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatalf("first reader never reached the server")
	}

	type result struct {
		doc json.RawMessage
		err error
	}
	resB := make(chan result, 1)
	go func() {
		doc, err := s.FetchCached(ctxT(t), store.CacheIDDiscovery, srv.URL)
		resB <- result{doc, err}
	}()
	// Let the second reader join the refresh in flight.
	time.Sleep(50 * time.Millisecond)

	cancelA()
	if err := <-errA; err == nil {
		t.Fatalf("cancelled reader succeeded")
	}
	close(release)

	select {
	case r := <-resB:
		if r.err != nil {
			t.Fatalf("live reader failed: %v", r.err)
		}
		if string(r.doc) != `{"ok":true}` {
			t.Fatalf("unexpected document: %s", r.doc)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("live reader did not finish")
	}
}
