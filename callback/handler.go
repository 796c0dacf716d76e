// Package callback provides an http.Handler for the redirect URI the Portier
// broker posts id_tokens to.
package callback

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/portier-go"
	"github.com/ggoodman/portier-go/internal/logctx"
	"github.com/google/uuid"
)

const maxFormBytes = 64 << 10

var (
	formMediaType      = contenttype.NewMediaType("application/x-www-form-urlencoded")
	multipartMediaType = contenttype.NewMediaType("multipart/form-data")
	jsonMediaType      = contenttype.NewMediaType("application/json")
)

// BrokerError is reported when the broker posts an error instead of a token,
// for example because the user cancelled.
type BrokerError struct {
	Code        string
	Description string
}

func (e *BrokerError) Error() string {
	if e.Description == "" {
		return "broker error: " + e.Code
	}
	return "broker error: " + e.Code + ": " + e.Description
}

// Verifier verifies id_tokens. *portier.Client implements it.
type Verifier interface {
	Verify(ctx context.Context, token string) (*portier.VerifyResult, error)
}

// SuccessFunc completes a login, typically by starting a session and
// redirecting.
type SuccessFunc func(w http.ResponseWriter, r *http.Request, res *portier.VerifyResult)

// ErrorFunc reports a failed login. err is a *BrokerError or an error from
// Verify.
type ErrorFunc func(w http.ResponseWriter, r *http.Request, err error)

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	onError ErrorFunc
	log     *slog.Logger
}

// WithErrorHandler replaces the default error response.
func WithErrorHandler(fn ErrorFunc) Option {
	return func(c *newConfig) { c.onError = fn }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.log = l }
}

// Handler accepts the broker's form_post, verifies the id_token and hands the
// result to a SuccessFunc.
type Handler struct {
	verifier  Verifier
	onSuccess SuccessFunc
	onError   ErrorFunc
	log       *slog.Logger
}

// New returns a Handler verifying tokens with v.
func New(v Verifier, onSuccess SuccessFunc, opts ...Option) *Handler {
	var cfg newConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	h := &Handler{
		verifier:  v,
		onSuccess: onSuccess,
		onError:   cfg.onError,
		log:       logctx.Wrap(cfg.log),
	}
	if h.onError == nil {
		h.onError = h.defaultError
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	r = r.WithContext(ctx)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		h.log.WarnContext(ctx, "callback.method.unsupported")
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !(ctype.Matches(formMediaType) || ctype.Matches(multipartMediaType)) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/x-www-form-urlencoded")
		h.log.WarnContext(ctx, "callback.content_type.unsupported")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if ctype.Matches(multipartMediaType) {
		err = r.ParseMultipartForm(maxFormBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid form body")
		h.log.WarnContext(ctx, "callback.form.invalid", slog.String("err", err.Error()))
		return
	}

	if code := r.PostForm.Get("error"); code != "" {
		h.log.InfoContext(ctx, "callback.broker_error", slog.String("code", code))
		h.onError(w, r, &BrokerError{Code: code, Description: r.PostForm.Get("error_description")})
		return
	}

	token := r.PostForm.Get("id_token")
	if token == "" {
		writeJSONError(w, http.StatusBadRequest, "missing id_token")
		h.log.WarnContext(ctx, "callback.id_token.missing")
		return
	}

	res, err := h.verifier.Verify(ctx, token)
	if err != nil {
		h.log.InfoContext(ctx, "callback.verify.fail",
			slog.String("kind", portier.KindOf(err).String()),
			slog.String("err", err.Error()),
		)
		h.onError(w, r, err)
		return
	}

	h.log.InfoContext(ctx, "callback.verify.ok", slog.Duration("dur", time.Since(start)))
	h.onSuccess(w, r, res)
}

// defaultError maps broker and verification failures to status codes:
// upstream problems are 502, everything else is the user's login failing.
func (h *Handler) defaultError(w http.ResponseWriter, r *http.Request, err error) {
	var be *BrokerError
	if errors.As(err, &be) {
		writeJSONError(w, http.StatusUnauthorized, be.Error())
		return
	}
	switch portier.KindOf(err) {
	case portier.KindTransport, portier.KindDiscovery:
		writeJSONError(w, http.StatusBadGateway, "broker unavailable")
	case portier.KindUnknown, portier.KindConfiguration:
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSONError(w, http.StatusUnauthorized, "login failed")
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}
