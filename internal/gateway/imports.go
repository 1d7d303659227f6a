package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/vietddude/flowgate/internal/core/domain"
	"github.com/vietddude/flowgate/internal/core/trace"
	"github.com/vietddude/flowgate/internal/infra/storage"
	"github.com/vietddude/flowgate/internal/infra/webhook"
	"github.com/vietddude/flowgate/internal/metrics"
)

// importOperation is the webhook that performs an import.
const importOperation = "import"

type importRequest struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// importTrigger is the body posted to the import webhook.
type importTrigger struct {
	ImportID string          `json:"importId"`
	Name     string          `json:"name"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type importResponse struct {
	Import *domain.ImportRecord `json:"import"`
	Result any                  `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	rc, _ := trace.FromContext(r.Context())
	ctx := r.Context()

	var req importRequest
	if err := decodeOptional(w, r, &req); err != nil {
		writeError(w, rc, http.StatusBadRequest, "request body must be JSON")
		return
	}

	rec := &domain.ImportRecord{
		ID:     uuid.NewString(),
		Name:   req.Name,
		Status: domain.ImportStatusPending,
	}
	if err := s.imports.Create(ctx, rec); err != nil {
		s.lifecycle.Error(r.Context(), rc, err, http.StatusInternalServerError)
		writeError(w, rc, http.StatusInternalServerError, "failed to create import")
		return
	}

	moved, err := s.imports.Transition(ctx, rec.ID,
		[]domain.ImportStatus{domain.ImportStatusPending}, domain.ImportStatusImporting)
	if err != nil || !moved {
		if err == nil {
			err = fmt.Errorf("import %s left pending", rec.ID)
		}
		s.lifecycle.Error(r.Context(), rc, err, http.StatusInternalServerError)
		writeError(w, rc, http.StatusInternalServerError, "failed to start import")
		return
	}
	rc.Logger.Info("Import started", "import_id", rec.ID, "name", rec.Name)

	s.runImport(w, r, rc, rec, req.Payload, http.StatusCreated)
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	rc, _ := trace.FromContext(r.Context())

	rec, err := s.imports.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, rc, http.StatusNotFound, "import not found")
		return
	}
	if err != nil {
		s.lifecycle.Error(r.Context(), rc, err, http.StatusInternalServerError)
		writeError(w, rc, http.StatusInternalServerError, "failed to load import")
		return
	}
	writeJSON(w, http.StatusOK, importResponse{Import: rec})
}

// handleRetryImport re-runs a pending or failed import.
func (s *Server) handleRetryImport(w http.ResponseWriter, r *http.Request) {
	rc, _ := trace.FromContext(r.Context())
	ctx := r.Context()
	id := r.PathValue("id")

	var req importRequest
	if err := decodeOptional(w, r, &req); err != nil {
		writeError(w, rc, http.StatusBadRequest, "request body must be JSON")
		return
	}

	moved, err := s.imports.Transition(ctx, id,
		[]domain.ImportStatus{domain.ImportStatusPending, domain.ImportStatusFailed},
		domain.ImportStatusUpdating)
	if err != nil {
		s.lifecycle.Error(r.Context(), rc, err, http.StatusInternalServerError)
		writeError(w, rc, http.StatusInternalServerError, "failed to retry import")
		return
	}

	rec, err := s.imports.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, rc, http.StatusNotFound, "import not found")
		return
	}
	if err != nil {
		s.lifecycle.Error(r.Context(), rc, err, http.StatusInternalServerError)
		writeError(w, rc, http.StatusInternalServerError, "failed to load import")
		return
	}
	if !moved {
		writeError(w, rc, http.StatusConflict, fmt.Sprintf("import is %s", rec.Status))
		return
	}
	rc.Logger.Info("Import retry started", "import_id", rec.ID)

	s.runImport(w, r, rc, rec, req.Payload, http.StatusOK)
}

// runImport triggers the import webhook for a record already marked
// importing/updating and stores the final status.
func (s *Server) runImport(
	w http.ResponseWriter,
	r *http.Request,
	rc *trace.RequestContext,
	rec *domain.ImportRecord,
	payload json.RawMessage,
	okStatus int,
) {
	policy := s.policyFor(importOperation)
	policy.OnRetry = func(ev webhook.RetryEvent) {
		rc.Logger.Info("Retrying import trigger",
			"import_id", rec.ID,
			"attempt", ev.Attempt,
			"delay", ev.Delay,
		)
	}

	resp, callErr := s.forwarder.Call(r.Context(), webhook.Request{
		Operation: importOperation,
		Payload:   importTrigger{ImportID: rec.ID, Name: rec.Name, Payload: payload},
	}, policy)

	final, lastError, status := domain.ImportStatusCompleted, "", okStatus
	switch {
	case callErr != nil:
		final, lastError = domain.ImportStatusFailed, callErr.Error()
		status, _ = upstreamFailure(callErr)
	case !resp.OK():
		final = domain.ImportStatusFailed
		lastError = (&webhook.StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}).Error()
		status = http.StatusBadGateway
		if resp.StatusCode < http.StatusInternalServerError {
			status = resp.StatusCode
		}
	}

	// The outcome is recorded even if the browser went away.
	ctx := context.WithoutCancel(r.Context())
	if err := s.imports.SetStatus(ctx, rec.ID, final, lastError); err != nil {
		s.lifecycle.Error(ctx, rc, err, http.StatusInternalServerError)
		writeError(w, rc, http.StatusInternalServerError, "failed to record import result")
		return
	}
	metrics.ImportsTotal.WithLabelValues(string(final)).Inc()

	stored, err := s.imports.Get(ctx, rec.ID)
	if err != nil {
		s.lifecycle.Error(ctx, rc, err, http.StatusInternalServerError)
		writeError(w, rc, http.StatusInternalServerError, "failed to load import")
		return
	}

	if final == domain.ImportStatusFailed {
		s.lifecycle.Error(ctx, rc, errors.New(lastError), status)
		writeJSON(w, status, importResponse{Import: stored, Error: lastError})
		return
	}
	rc.Logger.Info("Import completed", "import_id", rec.ID)
	writeJSON(w, status, importResponse{Import: stored, Result: resp.Payload})
}

// decodeOptional decodes a JSON body into v; an empty body leaves v untouched.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := readJSONBody(w, r)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
