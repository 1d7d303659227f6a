package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vietddude/flowgate/internal/core/trace"
	"github.com/vietddude/flowgate/internal/infra/webhook"
)

const maxBodyBytes = 1 << 20

// Headers that describe the upstream connection rather than the payload.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
	"Trailer",
	"TE",
	"Content-Length",
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	rc, _ := trace.FromContext(r.Context())
	operation := r.PathValue("operation")

	payload, err := readJSONBody(w, r)
	if err != nil {
		writeError(w, rc, http.StatusBadRequest, "request body must be JSON")
		return
	}

	resp, err := s.forwarder.Call(r.Context(), webhook.Request{
		Operation: operation,
		Payload:   payload,
	}, s.policyFor(operation))
	if err != nil {
		status, msg := upstreamFailure(err)
		s.lifecycle.Error(r.Context(), rc, err, status)
		writeError(w, rc, status, msg)
		return
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		err := &webhook.StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
		s.lifecycle.Error(r.Context(), rc, err, http.StatusBadGateway)
		writeError(w, rc, http.StatusBadGateway, fmt.Sprintf("workflow engine returned %d", resp.StatusCode))
		return
	}

	relay(w, rc, resp)
}

// relay writes an upstream 2xx-4xx response back to the browser.
func relay(w http.ResponseWriter, rc *trace.RequestContext, resp *webhook.Response) {
	h := trace.WithCorrelationHeader(resp.Header, rc.CorrelationID)
	for _, k := range hopHeaders {
		h.Del(k)
	}
	dst := w.Header()
	for k, vs := range h {
		dst[k] = vs
	}

	body := resp.Body
	if resp.OK() && resp.Payload == nil {
		body = []byte("{}")
		dst.Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

// upstreamFailure maps a forwarding error to the status returned upstream.
func upstreamFailure(err error) (int, string) {
	switch {
	case errors.Is(err, webhook.ErrNotConfigured):
		return http.StatusInternalServerError, "workflow engine not configured"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusBadGateway, "workflow engine unavailable"
	}
}

// readJSONBody returns the raw body, "{}" when empty, or an error when it is
// not valid JSON.
func readJSONBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(body) {
		return nil, errors.New("invalid JSON body")
	}
	return json.RawMessage(body), nil
}
