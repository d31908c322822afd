package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// Graph — граф flow в том виде, в котором его принимает и отдаёт API.
type Graph struct {
	Nodes []map[string]any `json:"nodes"`
	Edges []map[string]any `json:"edges"`
}

// FlowResponse — flow из API.
type FlowResponse struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Enabled     bool   `json:"enabled"`
	Graph       Graph  `json:"graph"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID             string         `json:"id"`
	FlowID         string         `json:"flow_id"`
	FlowVersion    int            `json:"flow_version"`
	WorkspaceID    string         `json:"workspace_id"`
	TriggerNodeID  string         `json:"trigger_node_id"`
	TriggerContext map[string]any `json:"trigger_context,omitempty"`
	Status         string         `json:"status"`
	Error          string         `json:"error,omitempty"`
	StartedAt      string         `json:"started_at"`
	EndedAt        string         `json:"ended_at,omitempty"`
}

// RunNodeResponse — запись журнала узлов run.
type RunNodeResponse struct {
	ID          string `json:"id"`
	RunID       string `json:"run_id"`
	NodeID      string `json:"node_id"`
	Status      string `json:"status"`
	ScheduledAt string `json:"scheduled_at"`
	Attempt     int    `json:"attempt"`
	LastError   string `json:"last_error,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	BranchEnd   bool   `json:"branch_end,omitempty"`
	FinishedAt  string `json:"finished_at,omitempty"`
}

// RunSummary — сводка по узлам run.
type RunSummary struct {
	Pending           int `json:"pending"`
	Claimed           int `json:"claimed"`
	Succeeded         int `json:"succeeded"`
	Failed            int `json:"failed"`
	Skipped           int `json:"skipped"`
	BranchesCompleted int `json:"branches_completed"`
}

// RunStatusResponse — run со сводкой и узлами.
type RunStatusResponse struct {
	Run           RunResponse       `json:"run"`
	DisplayStatus string            `json:"display_status"`
	Summary       RunSummary        `json:"summary"`
	Nodes         []RunNodeResponse `json:"nodes"`
}

// TickSummary — итог одного прохода планировщика (POST /run).
type TickSummary struct {
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
	Discarded int `json:"discarded"`
	Released  int `json:"released"`
	Errors    int `json:"errors"`
}

// --- Request types ---

// CreateFlowRequest — создание flow.
type CreateFlowRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Graph       Graph  `json:"graph"`
}

// UpdateFlowRequest — новая версия flow.
type UpdateFlowRequest struct {
	Name  string `json:"name"`
	Graph Graph  `json:"graph"`
}

// StartRunRequest — ручное срабатывание триггера.
type StartRunRequest struct {
	TriggerNodeID string         `json:"trigger_node_id"`
	Context       map[string]any `json:"context,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	FlowID      string
	WorkspaceID string
	Status      string
	Limit       int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		ExistingRunID string `json:"existing_run_id"`
	} `json:"error"`
}

// APIError — ошибка, которую вернул API.
type APIError struct {
	Status  int
	Code    string
	Message string

	// ExistingRunID заполняется для DUPLICATE_RUN.
	ExistingRunID string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	if e.ExistingRunID != "" {
		return fmt.Sprintf("%s: %s (existing run %s)", e.Code, e.Message, e.ExistingRunID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для Fanflow API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// --- Flows ---

// ListFlows возвращает flows. Если workspaceID не пустой — фильтрует.
func (c *Client) ListFlows(workspaceID string) ([]FlowResponse, error) {
	params := url.Values{}
	if workspaceID != "" {
		params.Set("workspace_id", workspaceID)
	}

	var flows []FlowResponse
	err := c.list("/api/v1/flows", params, &flows)
	return flows, err
}

// CreateFlow создаёт новый flow.
func (c *Client) CreateFlow(req CreateFlowRequest) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.post("/api/v1/flows", req, &flow)
	return &flow, err
}

// GetFlow возвращает flow по ID.
func (c *Client) GetFlow(id string) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.get("/api/v1/flows/"+id, &flow)
	return &flow, err
}

// UpdateFlow сохраняет новую версию flow.
func (c *Client) UpdateFlow(id string, req UpdateFlowRequest) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.put("/api/v1/flows/"+id, req, &flow)
	return &flow, err
}

// SetFlowEnabled включает или выключает flow.
func (c *Client) SetFlowEnabled(id string, enabled bool) (*FlowResponse, error) {
	var flow FlowResponse
	body := map[string]bool{"enabled": enabled}
	err := c.put("/api/v1/flows/"+id+"/enabled", body, &flow)
	return &flow, err
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.FlowID != "" {
		params.Set("flow_id", opts.FlowID)
	}
	if opts.WorkspaceID != "" {
		params.Set("workspace_id", opts.WorkspaceID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// StartRun запускает run по trigger-узлу flow.
func (c *Client) StartRun(flowID string, req StartRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/flows/"+flowID+"/runs", req, &run)
	return &run, err
}

// GetRun возвращает run со сводкой и узлами.
func (c *Client) GetRun(id string) (*RunStatusResponse, error) {
	var view RunStatusResponse
	err := c.get("/api/v1/runs/"+id, &view)
	return &view, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs/"+id+"/cancel", nil, &run)
	return &run, err
}

// ListRunNodes возвращает журнал узлов run.
func (c *Client) ListRunNodes(runID string) ([]RunNodeResponse, error) {
	var nodes []RunNodeResponse
	err := c.list("/api/v1/runs/"+runID+"/nodes", nil, &nodes)
	return nodes, err
}

// Tick вызывает один проход планировщика. Сводка возвращается и при
// ответе 500, вместе с ошибкой.
func (c *Client) Tick() (*TickSummary, error) {
	resp, err := c.do(http.MethodPost, "/run", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var summary TickSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &summary, &APIError{Status: resp.StatusCode, Code: "TICK_FAILED", Message: "scheduler pass reported errors"}
	}
	return &summary, nil
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
		apiErr.ExistingRunID = er.Error.ExistingRunID
	}
	return apiErr
}
