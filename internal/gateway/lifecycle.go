package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/vietddude/flowgate/internal/core/trace"
	"github.com/vietddude/flowgate/internal/metrics"
)

// Lifecycle logs request start, completion and failure. Every record goes
// through the request's correlation-bound logger.
type Lifecycle struct{}

// Start logs the beginning of a request.
func (Lifecycle) Start(ctx context.Context, rc *trace.RequestContext) {
	rc.Logger.InfoContext(ctx, "Request started",
		"method", rc.Method,
		"path", rc.Path,
		"user_agent", rc.UserAgent,
		"client_ip", rc.ClientIP,
	)
}

// Complete logs the outcome of a request; statuses >= 400 log at warn.
func (Lifecycle) Complete(ctx context.Context, rc *trace.RequestContext, status int, durationMs int64) {
	level := slog.LevelInfo
	if status >= http.StatusBadRequest {
		level = slog.LevelWarn
	}
	rc.Logger.Log(ctx, level, "Request completed",
		"method", rc.Method,
		"path", rc.Path,
		"status", status,
		"duration_ms", durationMs,
	)
}

// Error logs a failure and the status that will be returned.
func (Lifecycle) Error(ctx context.Context, rc *trace.RequestContext, err error, status int) {
	rc.Logger.ErrorContext(ctx, "Request failed",
		"method", rc.Method,
		"path", rc.Path,
		"status", status,
		"error", err,
	)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument wraps next with correlation, lifecycle logging and metrics.
// route is the low-cardinality metrics label.
func (s *Server) instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rc := trace.NewRequestContext(r, s.log)
		ctx := trace.WithRequestContext(r.Context(), rc)
		s.lifecycle.Start(ctx, rc)

		// Set before the handler runs so every status carries it.
		w.Header().Set(trace.HeaderCorrelationID, rc.CorrelationID)
		rec := &statusRecorder{ResponseWriter: w}

		defer func() {
			if p := recover(); p != nil {
				s.lifecycle.Error(ctx, rc, panicError{p}, http.StatusInternalServerError)
				if rec.status == 0 {
					writeError(rec, rc, http.StatusInternalServerError, "internal error")
				}
			}

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			s.lifecycle.Complete(ctx, rc, status, elapsed.Milliseconds())
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		}()

		next(rec, r.WithContext(ctx))
	})
}

type panicError struct{ v any }

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.v)
}
