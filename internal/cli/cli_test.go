package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestClient_DuplicateRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/flows/f1/runs", r.URL.Path)
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": map[string]any{
				"code":            "DUPLICATE_RUN",
				"message":         "run already active",
				"existing_run_id": "r1",
			},
		})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).StartRun("f1", StartRunRequest{TriggerNodeID: "T"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "DUPLICATE_RUN", apiErr.Code)
	assert.Equal(t, "r1", apiErr.ExistingRunID)
	assert.Contains(t, err.Error(), "existing run r1")
}

func TestClient_ErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetFlow("f1")
	require.Error(t, err)
	assert.Equal(t, "API error: HTTP 502", err.Error())
}

func TestClient_ListRunsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "f1", q.Get("flow_id"))
		assert.Equal(t, "failed", q.Get("status"))
		assert.Equal(t, "10", q.Get("limit"))
		writeJSON(w, http.StatusOK, map[string]any{
			"data":  []map[string]any{{"id": "r1", "status": "failed"}},
			"total": 1,
		})
	}))
	defer srv.Close()

	runs, err := NewClient(srv.URL).ListRuns(ListRunsOpts{FlowID: "f1", Status: "failed", Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r1", runs[0].ID)
}

func TestClient_Tick(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/run", r.URL.Path)
		writeJSON(w, status, TickSummary{Claimed: 2, Succeeded: 1, Errors: 1})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	summary, err := client.Tick()
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Claimed)

	status = http.StatusInternalServerError
	summary, err = client.Tick()
	require.Error(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Errors)
}

func TestParseContext(t *testing.T) {
	ctx, err := parseContext([]string{"fanId=42", "note=a=b"}, `{"fanId": 1, "vip": true}`)
	require.NoError(t, err)
	assert.Equal(t, "42", ctx["fanId"])
	assert.Equal(t, "a=b", ctx["note"])
	assert.Equal(t, true, ctx["vip"])

	_, err = parseContext([]string{"broken"}, "")
	assert.Error(t, err)

	_, err = parseContext(nil, "[1]")
	assert.Error(t, err)
}

func TestFlowCreateCmd(t *testing.T) {
	var got CreateFlowRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusCreated, map[string]any{
			"data": map[string]any{"id": "f1", "name": got.Name, "version": 1, "enabled": got.Enabled},
		})
	}))
	defer srv.Close()

	graphFile := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(graphFile, []byte(`{
		"nodes": [
			{"id": "T", "kind": "trigger", "type": "fan.joined_group"},
			{"id": "mail", "kind": "action", "type": "send_email", "config": {"template_id": 42}}
		],
		"edges": [{"from": "T", "to": "mail", "kind": "simple"}]
	}`), 0o600))

	var stdout, stderr bytes.Buffer
	cmd := NewFlowCmd(
		func() *Client { return NewClient(srv.URL) },
		func() *Output { return NewOutputTo(&stdout, &stderr, true) },
	)
	cmd.SetArgs([]string{"create", "--workspace-id", "w1", "--name", "welcome", "--graph-file", graphFile, "--enabled"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "w1", got.WorkspaceID)
	assert.True(t, got.Enabled)
	assert.Len(t, got.Graph.Nodes, 2)
	assert.Contains(t, stderr.String(), "Flow created: f1")

	var flow FlowResponse
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &flow))
	assert.Equal(t, "welcome", flow.Name)
}

func TestReadGraph_Errors(t *testing.T) {
	_, err := readGraph(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"nodes": []}`), 0o600))
	_, err = readGraph(empty)
	assert.Error(t, err)
}
