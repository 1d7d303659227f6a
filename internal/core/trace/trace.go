// Package trace derives per-request correlation identifiers and client
// metadata from inbound headers and carries them through context.Context.
package trace

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Inbound tracing headers, highest priority first.
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID"
	HeaderTraceID       = "X-Trace-ID"
	HeaderTraceParent   = "traceparent"
)

// Client address headers, highest priority first.
var clientIPHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Vercel-Forwarded-For",
}

// ExtractCorrelationID returns the identifier from the highest-priority tracing
// header present, or a freshly generated one.
func ExtractCorrelationID(h http.Header) string {
	for _, name := range []string{HeaderCorrelationID, HeaderRequestID, HeaderTraceID} {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	if id := traceParentID(h.Get(HeaderTraceParent)); id != "" {
		return id
	}
	return NewCorrelationID()
}

// traceParentID returns the trace-id field of a W3C traceparent value
// ("version-traceid-parentid-flags").
func traceParentID(v string) string {
	parts := strings.Split(strings.TrimSpace(v), "-")
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// NewCorrelationID generates a time-ordered UUIDv7.
func NewCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ExtractClientIP returns the best-effort client address, or "" when unknown.
func ExtractClientIP(h http.Header) string {
	for _, name := range clientIPHeaders {
		v := h.Get(name)
		if v == "" {
			continue
		}
		// Forwarded-for style headers carry "client, proxy1, proxy2".
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = v[:i]
		}
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// WithCorrelationHeader returns a copy of h carrying the correlation id.
// h itself is left untouched.
func WithCorrelationHeader(h http.Header, id string) http.Header {
	out := h.Clone()
	if out == nil {
		out = make(http.Header)
	}
	out.Set(HeaderCorrelationID, id)
	return out
}
