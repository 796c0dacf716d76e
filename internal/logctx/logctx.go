package logctx

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Handler enriches records with operation and request data carried by the
// context.
type Handler struct {
	slog.Handler
}

// Wrap returns l with its handler wrapped in Handler, unless it already is.
func Wrap(l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	if _, ok := l.Handler().(Handler); ok {
		return l
	}
	return slog.New(Handler{Handler: l.Handler()})
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("user_agent", rd.UserAgent),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if op, ok := ctx.Value(operationKey{}).(*Operation); ok {
		r.AddAttrs(slog.Group("op",
			slog.String("id", op.ID),
			slog.String("name", op.Name),
			slog.String("client_id", op.ClientID),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type operationKey struct{}

// Operation identifies one Authenticate or Verify call.
type Operation struct {
	ID       string
	Name     string
	ClientID string
}

// WithOperation attaches a fresh operation to ctx. An operation already
// present is kept, so nested calls share one ID.
func WithOperation(ctx context.Context, name, clientID string) context.Context {
	if _, ok := ctx.Value(operationKey{}).(*Operation); ok {
		return ctx
	}
	return context.WithValue(ctx, operationKey{}, &Operation{
		ID:       uuid.NewString(),
		Name:     name,
		ClientID: clientID,
	})
}

// OperationFrom returns the operation attached to ctx, if any.
func OperationFrom(ctx context.Context) (*Operation, bool) {
	op, ok := ctx.Value(operationKey{}).(*Operation)
	return op, ok
}

type requestDataKey struct{}

type RequestData struct {
	RequestID  string
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}
