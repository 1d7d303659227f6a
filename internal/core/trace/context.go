package trace

import (
	"context"
	"log/slog"
	"net/http"
)

// RequestContext holds everything known about one inbound request.
// It is created once per request and never mutated afterwards.
type RequestContext struct {
	CorrelationID string
	Method        string
	Path          string
	ClientIP      string
	UserAgent     string

	// Logger is bound to correlation_id.
	Logger *slog.Logger
}

// NewRequestContext builds a RequestContext for r. A nil base uses slog.Default().
func NewRequestContext(r *http.Request, base *slog.Logger) *RequestContext {
	if base == nil {
		base = slog.Default()
	}
	id := ExtractCorrelationID(r.Header)
	return &RequestContext{
		CorrelationID: id,
		Method:        r.Method,
		Path:          r.URL.Path,
		ClientIP:      ExtractClientIP(r.Header),
		UserAgent:     r.UserAgent(),
		Logger:        base.With("correlation_id", id),
	}
}

type ctxKey struct{}

// WithRequestContext stores rc in ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext returns the RequestContext stored in ctx, if any.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(*RequestContext)
	return rc, ok && rc != nil
}

// CorrelationID returns the correlation id carried by ctx, or "".
func CorrelationID(ctx context.Context) string {
	if rc, ok := FromContext(ctx); ok {
		return rc.CorrelationID
	}
	return ""
}

// Logger returns the request-bound logger in ctx, or fallback (slog.Default()
// when nil) outside a request.
func Logger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if rc, ok := FromContext(ctx); ok && rc.Logger != nil {
		return rc.Logger
	}
	if fallback == nil {
		fallback = slog.Default()
	}
	return fallback
}
