package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/fanflow/internal/orchestrator"
	"github.com/shaiso/fanflow/internal/repo/memstore"
	"github.com/shaiso/fanflow/internal/scheduler"
	"github.com/shaiso/fanflow/internal/telemetry"
	"github.com/shaiso/fanflow/internal/worker"
)

type fakeTicker struct {
	summary scheduler.Summary
	err     error
	calls   int
}

func (f *fakeTicker) Tick(context.Context) (scheduler.Summary, error) {
	f.calls++
	return f.summary, f.err
}

type testServer struct {
	mux    *http.ServeMux
	ticker *fakeTicker
	store  *memstore.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memstore.New()
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	orch := orchestrator.New(orchestrator.Config{
		Store:   store,
		Catalog: worker.NewDefaultRegistry(worker.DefaultRetryPolicy(), worker.Dependencies{}),
		Metrics: metrics,
		Now:     func() time.Time { return time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC) },
	})

	ticker := &fakeTicker{}
	h := NewHandler(Config{
		Orchestrator: orch,
		Ticker:       ticker,
		Metrics:      metrics,
		Gatherer:     reg,
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &testServer{mux: mux, ticker: ticker, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func welcomeFlowRequest() CreateFlowRequest {
	return CreateFlowRequest{
		WorkspaceID: uuid.NewString(),
		Name:        "welcome",
		Enabled:     true,
		Graph: GraphDTO{
			Nodes: []NodeDTO{
				{ID: "T", Kind: "trigger", Type: "fan.joined_group"},
				{ID: "hook", Kind: "action", Type: worker.ActionHTTPRequest, Config: map[string]any{"url": "http://example.com"}},
			},
			Edges: []EdgeDTO{{From: "T", To: "hook", Kind: "simple"}},
		},
	}
}

func (s *testServer) createFlow(t *testing.T) FlowResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/flows", welcomeFlowRequest())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeData[FlowResponse](t, rec)
}

func (s *testServer) startRun(t *testing.T, flowID uuid.UUID, ctx map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/api/v1/flows/"+flowID.String()+"/runs", StartRunRequest{
		TriggerNodeID: "T",
		Context:       ctx,
	})
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestCreateFlow(t *testing.T) {
	s := newTestServer(t)

	flow := s.createFlow(t)
	assert.NotEqual(t, uuid.Nil, flow.ID)
	assert.Equal(t, 1, flow.Version)
	assert.True(t, flow.Enabled)
	assert.Len(t, flow.Graph.Nodes, 2)

	rec := s.do(t, http.MethodGet, "/api/v1/flows/"+flow.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "welcome", decodeData[FlowResponse](t, rec).Name)
}

func TestCreateFlow_ValidationFailed(t *testing.T) {
	s := newTestServer(t)

	req := welcomeFlowRequest()
	req.Name = ""
	req.WorkspaceID = "not-a-uuid"

	rec := s.do(t, http.MethodPost, "/api/v1/flows", req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	detail := decodeError(t, rec)
	assert.Equal(t, ErrCodeValidation, detail.Code)
	assert.Equal(t, "required", detail.Fields["CreateFlowRequest.Name"])
	assert.Equal(t, "uuid", detail.Fields["CreateFlowRequest.WorkspaceID"])
}

func TestCreateFlow_BooleanEdgeNeedsExpected(t *testing.T) {
	s := newTestServer(t)

	req := welcomeFlowRequest()
	req.Graph.Edges[0].Kind = "boolean"

	rec := s.do(t, http.MethodPost, "/api/v1/flows", req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeValidation, decodeError(t, rec).Code)
}

func TestCreateFlow_InvalidGraph(t *testing.T) {
	s := newTestServer(t)

	req := welcomeFlowRequest()
	req.Graph.Nodes[1].Type = "launch_rocket"

	rec := s.do(t, http.MethodPost, "/api/v1/flows", req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeBadRequest, decodeError(t, rec).Code)
}

func TestCreateFlow_InvalidBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/flows", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetFlow_Errors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/flows/nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/flows/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateFlow_BumpsVersion(t *testing.T) {
	s := newTestServer(t)
	flow := s.createFlow(t)

	req := UpdateFlowRequest{Name: "welcome v2", Graph: welcomeFlowRequest().Graph}
	rec := s.do(t, http.MethodPut, "/api/v1/flows/"+flow.ID.String(), req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	updated := decodeData[FlowResponse](t, rec)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "welcome v2", updated.Name)
	assert.Equal(t, flow.WorkspaceID, updated.WorkspaceID)
}

func TestSetFlowEnabled(t *testing.T) {
	s := newTestServer(t)
	flow := s.createFlow(t)

	rec := s.do(t, http.MethodPut, "/api/v1/flows/"+flow.ID.String()+"/enabled", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeData[FlowResponse](t, rec).Enabled)

	// Поле enabled обязательно
	rec = s.do(t, http.MethodPut, "/api/v1/flows/"+flow.ID.String()+"/enabled", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Выключенный flow не запускается
	rec = s.startRun(t, flow.ID, map[string]any{"fanId": "42"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestStartRun_Duplicate(t *testing.T) {
	s := newTestServer(t)
	flow := s.createFlow(t)

	rec := s.startRun(t, flow.ID, map[string]any{"fanId": "42"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	run := decodeData[RunResponse](t, rec)
	assert.Equal(t, "active", string(run.Status))

	rec = s.startRun(t, flow.ID, map[string]any{"fanId": "42"})
	require.Equal(t, http.StatusConflict, rec.Code)

	detail := decodeError(t, rec)
	assert.Equal(t, ErrCodeDuplicateRun, detail.Code)
	assert.Equal(t, run.ID.String(), detail.ExistingRunID)

	// Другой фан — другой ключ дедупликации
	rec = s.startRun(t, flow.ID, map[string]any{"fanId": "43"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestStartRun_NotTrigger(t *testing.T) {
	s := newTestServer(t)
	flow := s.createFlow(t)

	rec := s.do(t, http.MethodPost, "/api/v1/flows/"+flow.ID.String()+"/runs", StartRunRequest{TriggerNodeID: "hook"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/flows/"+uuid.NewString()+"/runs", StartRunRequest{TriggerNodeID: "T"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRun_StatusView(t *testing.T) {
	s := newTestServer(t)
	flow := s.createFlow(t)

	run := decodeData[RunResponse](t, s.startRun(t, flow.ID, map[string]any{"fanId": "42"}))

	rec := s.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	view := decodeData[RunStatusResponse](t, rec)
	assert.Equal(t, run.ID, view.Run.ID)
	assert.Equal(t, "active", string(view.DisplayStatus))
	assert.Equal(t, 1, view.Summary.Succeeded)
	assert.Equal(t, 1, view.Summary.Pending)
	assert.Len(t, view.Nodes, 2)

	rec = s.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String()+"/nodes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"node_id":"hook"`)

	rec = s.do(t, http.MethodGet, "/api/v1/runs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelRun(t *testing.T) {
	s := newTestServer(t)
	flow := s.createFlow(t)

	run := decodeData[RunResponse](t, s.startRun(t, flow.ID, map[string]any{"fanId": "42"}))

	rec := s.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "canceled", string(decodeData[RunResponse](t, rec).Status))

	rec = s.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// После отмены тот же ключ дедупликации снова свободен
	rec = s.startRun(t, flow.ID, map[string]any{"fanId": "42"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestListRuns(t *testing.T) {
	s := newTestServer(t)
	flow := s.createFlow(t)

	s.startRun(t, flow.ID, map[string]any{"fanId": "1"})
	s.startRun(t, flow.ID, map[string]any{"fanId": "2"})

	rec := s.do(t, http.MethodGet, "/api/v1/runs?flow_id="+flow.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]RunResponse](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/v1/runs?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/runs?flow_id=bad", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTick(t *testing.T) {
	s := newTestServer(t)

	s.ticker.summary = scheduler.Summary{Claimed: 3, Succeeded: 3}
	rec := s.do(t, http.MethodPost, "/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary scheduler.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.Claimed)
	assert.Equal(t, 1, s.ticker.calls)

	s.ticker.summary = scheduler.Summary{Claimed: 2, Succeeded: 1, Errors: 1}
	rec = s.do(t, http.MethodPost, "/run", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	s.ticker.summary = scheduler.Summary{}
	s.ticker.err = errors.New("db down")
	rec = s.do(t, http.MethodPost, "/run", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	s.do(t, http.MethodGet, "/api/v1/flows", nil)

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fanflow_http_requests_total")
}

func TestRecovery(t *testing.T) {
	h := Recovery(telemetry.SetupLogger("error", "text"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRecovery_AfterHeadersWritten(t *testing.T) {
	h := Recovery(telemetry.SetupLogger("error", "text"))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))
}
