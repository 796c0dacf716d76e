package memorystore

import (
	"context"
	"errors"
	"testing"

	"github.com/ggoodman/portier-go/store"
	"github.com/ggoodman/portier-go/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T, opts ...store.Option) store.Store {
		s, err := New(0, opts...)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestNonceEviction(t *testing.T) {
	s, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	first, err := s.CreateNonce(ctx, "https://rp.example", "a@example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := s.CreateNonce(ctx, "https://rp.example", "a@example.com"); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	if err := s.ConsumeNonce(ctx, first, "https://rp.example", "a@example.com"); !errors.Is(err, store.ErrInvalidNonce) {
		t.Fatalf("evicted nonce was accepted: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := New(10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
