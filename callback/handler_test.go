package callback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ggoodman/portier-go"
	"github.com/ggoodman/portier-go/store"
)

type stubVerifier struct {
	got string
	res *portier.VerifyResult
	err error
}

func (s *stubVerifier) Verify(_ context.Context, token string) (*portier.VerifyResult, error) {
	s.got = token
	return s.res, s.err
}

func newHandler(v Verifier) (*Handler, *portier.VerifyResult) {
	var seen portier.VerifyResult
	h := New(v, func(w http.ResponseWriter, r *http.Request, res *portier.VerifyResult) {
		seen = *res
		w.WriteHeader(http.StatusNoContent)
	}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return h, &seen
}

func postForm(h http.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Success(t *testing.T) {
	v := &stubVerifier{res: &portier.VerifyResult{Email: "a@example.com", State: "s1", HasState: true}}
	h, seen := newHandler(v)

	rec := postForm(h, url.Values{"id_token": {"tok"}, "state": {"s1"}})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if v.got != "tok" {
		t.Fatalf("verifier got %q", v.got)
	}
	if seen.Email != "a@example.com" || seen.State != "s1" {
		t.Fatalf("success handler saw %+v", seen)
	}
}

func TestHandler_RejectsRequests(t *testing.T) {
	h, _ := newHandler(&stubVerifier{})

	t.Run("method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?id_token=tok", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Header().Get("Allow") != http.MethodPost {
			t.Fatalf("Allow = %q", rec.Header().Get("Allow"))
		}
	})

	t.Run("content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(`{"id_token":"tok"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnsupportedMediaType {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		rec := postForm(h, url.Values{"state": {"s1"}})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}

func TestHandler_VerifyFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nonce", portier.ErrInvalidNonce, http.StatusUnauthorized},
		{"signature", portier.ErrInvalidSignature, http.StatusUnauthorized},
		{"transport", store.ErrFetch, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newHandler(&stubVerifier{err: tc.err})
			rec := postForm(h, url.Values{"id_token": {"tok"}})
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestHandler_BrokerError(t *testing.T) {
	var got error
	v := &stubVerifier{}
	h := New(v, nil,
		WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusTeapot)
		}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	rec := postForm(h, url.Values{"error": {"access_denied"}, "error_description": {"cancelled"}})
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
	var be *BrokerError
	if !errors.As(got, &be) || be.Code != "access_denied" || be.Description != "cancelled" {
		t.Fatalf("error handler got %v", got)
	}
	if v.got != "" {
		t.Fatalf("verifier called on broker error")
	}
}
