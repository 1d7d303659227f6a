package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/flowgate/internal/core/config"
	"github.com/vietddude/flowgate/internal/core/domain"
	"github.com/vietddude/flowgate/internal/core/trace"
	"github.com/vietddude/flowgate/internal/infra/storage/memory"
	"github.com/vietddude/flowgate/internal/infra/webhook"
)

// engine is a fake workflow engine.
type engine struct {
	calls   atomic.Int32
	mu      sync.Mutex
	handler http.HandlerFunc
	headers []http.Header
	bodies  [][]byte
}

func (e *engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.calls.Add(1)
	body, _ := io.ReadAll(r.Body)
	e.mu.Lock()
	e.headers = append(e.headers, r.Header.Clone())
	e.bodies = append(e.bodies, body)
	h := e.handler
	e.mu.Unlock()
	h(w, r)
}

func (e *engine) respond(h http.HandlerFunc) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

func (e *engine) lastBody(t *testing.T) map[string]any {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.bodies)
	var v map[string]any
	require.NoError(t, json.Unmarshal(e.bodies[len(e.bodies)-1], &v))
	return v
}

func jsonReply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

type fixture struct {
	server  *Server
	engine  *engine
	imports *memory.ImportRepo
	logs    *bytes.Buffer
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	eng := &engine{handler: jsonReply(http.StatusOK, `{"ok":true}`)}
	srv := httptest.NewServer(eng)
	t.Cleanup(srv.Close)

	var logs bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	retries := 2
	cfg := config.WebhookConfig{
		BaseURL:     srv.URL,
		Timeout:     2 * time.Second,
		MaxRetries:  &retries,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		LongRunning: []string{"import"},
	}
	client := webhook.NewClient(srv.URL, webhook.WithLogger(log), webhook.WithSleep(noSleep))
	repo := memory.NewImportRepo()

	return &fixture{
		server:  NewServer(0, cfg, client, repo, log),
		engine:  eng,
		imports: repo,
		logs:    &logs,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, vs := range header {
		req.Header[k] = vs
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) logLines(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(f.logs.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestWorkflowRelaysSuccess(t *testing.T) {
	f := newFixture(t)
	f.engine.respond(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Engine", "n8n")
		jsonReply(http.StatusOK, `{"ok":true,"n":2}`)(w, r)
	})

	rec := f.do(t, http.MethodPost, "/api/workflows/generate", `{"topic":"x"}`,
		http.Header{"X-Request-Id": {"req-1"}})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(trace.HeaderCorrelationID))
	assert.Equal(t, "n8n", rec.Header().Get("X-Engine"))
	assert.Equal(t, map[string]any{"ok": true, "n": float64(2)}, decode(t, rec))

	assert.EqualValues(t, 1, f.engine.calls.Load())
	assert.Equal(t, "req-1", f.engine.headers[0].Get(trace.HeaderCorrelationID))
	assert.Equal(t, map[string]any{"topic": "x"}, f.engine.lastBody(t))
}

func TestWorkflowNonJSONSuccessBecomesEmptyObject(t *testing.T) {
	f := newFixture(t)
	f.engine.respond(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "Workflow was started")
	})

	rec := f.do(t, http.MethodPost, "/api/workflows/generate", `{}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestWorkflowClientErrorIsRelayed(t *testing.T) {
	f := newFixture(t)
	f.engine.respond(jsonReply(http.StatusUnprocessableEntity, `{"error":"bad input"}`))

	rec := f.do(t, http.MethodPost, "/api/workflows/generate", `{}`,
		http.Header{"X-Correlation-Id": {"corr-4xx"}})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "corr-4xx", rec.Header().Get(trace.HeaderCorrelationID))
	assert.JSONEq(t, `{"error":"bad input"}`, rec.Body.String())
	assert.EqualValues(t, 1, f.engine.calls.Load())
}

func TestWorkflowServerErrorBecomesBadGateway(t *testing.T) {
	f := newFixture(t)
	f.engine.respond(jsonReply(http.StatusInternalServerError, `{"error":"boom"}`))

	rec := f.do(t, http.MethodPost, "/api/workflows/generate", `{}`,
		http.Header{"X-Correlation-Id": {"corr-5xx"}})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "corr-5xx", rec.Header().Get(trace.HeaderCorrelationID))
	assert.Equal(t, "corr-5xx", decode(t, rec)["correlationId"])
	assert.EqualValues(t, 3, f.engine.calls.Load())
}

func TestWorkflowRetryLogsCarryCorrelationID(t *testing.T) {
	f := newFixture(t)
	f.engine.respond(func(w http.ResponseWriter, r *http.Request) {
		if f.engine.calls.Load() == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		jsonReply(http.StatusOK, `{"ok":true}`)(w, r)
	})

	rec := f.do(t, http.MethodPost, "/api/workflows/generate", `{}`,
		http.Header{"X-Correlation-Id": {"corr-retry"}})
	require.Equal(t, http.StatusOK, rec.Code)

	var retries int
	for _, line := range f.logLines(t) {
		assert.Equal(t, "corr-retry", line["correlation_id"], "log line %v", line)
		if line["msg"] == "Webhook call failed, retrying" {
			retries++
			assert.EqualValues(t, 1, line["attempt"])
		}
	}
	assert.Equal(t, 1, retries)
}

func TestWorkflowRejectsInvalidJSON(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/workflows/generate", `{not json`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(trace.HeaderCorrelationID))
	assert.Zero(t, f.engine.calls.Load())
}

func TestWorkflowNotConfigured(t *testing.T) {
	var logs bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&logs, nil))
	s := NewServer(0, config.WebhookConfig{}, webhook.NewClient(""), memory.NewImportRepo(), log)

	req := httptest.NewRequest(http.MethodPost, "/api/workflows/generate", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, logs.String(), webhook.ErrNotConfigured.Error())
}

func TestCreateImportCompletes(t *testing.T) {
	f := newFixture(t)
	f.engine.respond(jsonReply(http.StatusOK, `{"rows":10}`))

	rec := f.do(t, http.MethodPost, "/api/imports", `{"name":"orders","payload":{"file":"a.csv"}}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	imp := body["import"].(map[string]any)
	assert.Equal(t, "completed", imp["status"])
	assert.Equal(t, map[string]any{"rows": float64(10)}, body["result"])

	sent := f.engine.lastBody(t)
	assert.Equal(t, imp["id"], sent["importId"])
	assert.Equal(t, "orders", sent["name"])
	assert.Equal(t, map[string]any{"file": "a.csv"}, sent["payload"])

	stored, err := f.imports.Get(context.Background(), imp["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, domain.ImportStatusCompleted, stored.Status)

	get := f.do(t, http.MethodGet, "/api/imports/"+stored.ID, "", nil)
	require.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, "completed", decode(t, get)["import"].(map[string]any)["status"])
}

func TestCreateImportFailureThenRetry(t *testing.T) {
	f := newFixture(t)
	f.engine.respond(jsonReply(http.StatusInternalServerError, `{"error":"db down"}`))

	rec := f.do(t, http.MethodPost, "/api/imports", `{"name":"orders"}`, nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	body := decode(t, rec)
	imp := body["import"].(map[string]any)
	id := imp["id"].(string)
	assert.Equal(t, "failed", imp["status"])
	assert.Contains(t, body["error"], "500")
	assert.EqualValues(t, 3, f.engine.calls.Load())

	f.engine.respond(jsonReply(http.StatusOK, `{"ok":true}`))
	retry := f.do(t, http.MethodPost, "/api/imports/"+id+"/retry", "", nil)
	require.Equal(t, http.StatusOK, retry.Code, retry.Body.String())
	assert.Equal(t, "completed", decode(t, retry)["import"].(map[string]any)["status"])

	stored, err := f.imports.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportStatusCompleted, stored.Status)
	assert.Empty(t, stored.LastError)
}

func TestCreateImportClientErrorKeepsStatus(t *testing.T) {
	f := newFixture(t)
	f.engine.respond(jsonReply(http.StatusBadRequest, `{"error":"missing file"}`))

	rec := f.do(t, http.MethodPost, "/api/imports", `{"name":"orders"}`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "failed", decode(t, rec)["import"].(map[string]any)["status"])
	assert.EqualValues(t, 1, f.engine.calls.Load())
}

func TestRetryImportRejectsCompletedAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.imports.Create(ctx, &domain.ImportRecord{ID: "done", Status: domain.ImportStatusCompleted}))
	require.NoError(t, f.imports.Create(ctx, &domain.ImportRecord{ID: "busy", Status: domain.ImportStatusImporting}))

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/imports/done/retry", "", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/imports/busy/retry", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/imports/nope/retry", "", nil).Code)
	assert.Zero(t, f.engine.calls.Load())
}

func TestGetImportNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/imports/missing", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(trace.HeaderCorrelationID))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	down := &unreachableRepo{ImportRepo: f.imports, err: errors.New("connection refused")}
	s := NewServer(0, config.WebhookConfig{}, webhook.NewClient("http://engine"), down, nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "critical", decode(t, rec)["status"])

	s = NewServer(0, config.WebhookConfig{}, webhook.NewClient(""), memory.NewImportRepo(), nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

// unreachableRepo fails Ping like a store whose database is down.
type unreachableRepo struct {
	*memory.ImportRepo
	err error
}

func (r *unreachableRepo) Ping(ctx context.Context) error { return r.err }

// ctxHandler records, per message, the correlation id carried by the
// context each record was logged with.
type ctxHandler struct {
	mu  sync.Mutex
	ids map[string]string
}

func (h *ctxHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids[r.Message] = trace.CorrelationID(ctx)
	return nil
}

func (h *ctxHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *ctxHandler) WithGroup(string) slog.Handler      { return h }

func TestLifecycleLogsWithRequestContext(t *testing.T) {
	h := &ctxHandler{ids: map[string]string{}}
	s := NewServer(0, config.WebhookConfig{}, webhook.NewClient(""), memory.NewImportRepo(), slog.New(h))

	req := httptest.NewRequest(http.MethodGet, "/api/imports/missing", nil)
	req.Header.Set(trace.HeaderCorrelationID, "ctx-1")
	s.Handler().ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodPost, "/api/workflows/generate", strings.NewReader(`{}`))
	req.Header.Set(trace.HeaderCorrelationID, "ctx-2")
	s.Handler().ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "ctx-2", h.ids["Request started"])
	assert.Equal(t, "ctx-2", h.ids["Request completed"])
	assert.Equal(t, "ctx-2", h.ids["Request failed"])
}

func TestLifecycleLevels(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodGet, "/health", "", http.Header{"X-Correlation-Id": {"ok-1"}})
	f.do(t, http.MethodGet, "/api/imports/missing", "", http.Header{"X-Correlation-Id": {"miss-1"}})

	levels := map[string]string{}
	for _, line := range f.logLines(t) {
		if line["msg"] == "Request completed" {
			levels[line["correlation_id"].(string)] = line["level"].(string)
		}
		if line["msg"] == "Request started" && line["correlation_id"] == "ok-1" {
			assert.Equal(t, "GET", line["method"])
			assert.Equal(t, "/health", line["path"])
			assert.Contains(t, line, "client_ip")
			assert.Contains(t, line, "user_agent")
		}
	}
	assert.Equal(t, map[string]string{"ok-1": "INFO", "miss-1": "WARN"}, levels)
}

func TestInstrumentRecoversPanic(t *testing.T) {
	f := newFixture(t)
	h := f.server.instrument("panic", func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(trace.HeaderCorrelationID, "corr-panic")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "corr-panic", rec.Header().Get(trace.HeaderCorrelationID))

	var sawError bool
	for _, line := range f.logLines(t) {
		if line["msg"] == "Request failed" {
			sawError = true
			assert.Equal(t, "ERROR", line["level"])
			assert.Contains(t, line["error"], "kaboom")
		}
	}
	assert.True(t, sawError)
}

func TestPolicyFor(t *testing.T) {
	retries := 0
	s := NewServer(0, config.WebhookConfig{
		Timeout:            10 * time.Second,
		LongRunningTimeout: 90 * time.Second,
		LongRunning:        []string{"import"},
		MaxRetries:         &retries,
	}, webhook.NewClient(""), memory.NewImportRepo(), nil)

	p := s.policyFor("generate")
	assert.Equal(t, 10*time.Second, p.PerAttemptTimeout)
	assert.Equal(t, 0, p.MaxRetries)
	assert.Equal(t, time.Second, p.BaseDelay)

	assert.Equal(t, 90*time.Second, s.policyFor("import").PerAttemptTimeout)
}
