package api

import (
	"net/http"

	"github.com/shaiso/fanflow/internal/domain"
	"github.com/shaiso/fanflow/internal/repo"
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?flow_id=...&workspace_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	var (
		filter repo.RunFilter
		err    error
	)

	if filter.FlowID, err = queryUUID(r, "flow_id"); err != nil {
		BadRequest(w, "invalid flow_id")
		return
	}
	if filter.WorkspaceID, err = queryUUID(r, "workspace_id"); err != nil {
		BadRequest(w, "invalid workspace_id")
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.RunStatus(status)
	}

	if filter.Limit, err = queryInt(r, "limit", 50); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		BadRequest(w, err.Error())
		return
	}

	runs, err := h.orchestrator.ListRuns(r.Context(), filter)
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// StartRun запускает run по trigger-узлу flow.
// POST /api/v1/flows/{id}/runs
//
// Если активный run с тем же ключом дедупликации уже есть, отвечает 409
// с existing_run_id.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	flowID, ok := pathID(w, r, "flow")
	if !ok {
		return
	}

	var req StartRunRequest
	if !h.decode(w, r, &req) {
		return
	}

	run, err := h.orchestrator.StartRun(r.Context(), flowID, req.TriggerNodeID, req.Context)
	if HandleError(w, h.logger, err) {
		return
	}

	Created(w, RunFromDomain(*run))
}

// GetRun возвращает run, его узлы и сводку.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "run")
	if !ok {
		return
	}

	view, err := h.orchestrator.GetRunStatus(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, RunStatusFromView(view))
}

// CancelRun отменяет run.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "run")
	if !ok {
		return
	}

	run, err := h.orchestrator.CancelRun(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, RunFromDomain(*run))
}

// ListRunNodes возвращает журнал узлов run.
// GET /api/v1/runs/{id}/nodes
func (h *Handler) ListRunNodes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "run")
	if !ok {
		return
	}

	nodes, err := h.orchestrator.ListRunNodes(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}
	if nodes == nil {
		nodes = []domain.RunNode{}
	}

	List(w, nodes, len(nodes))
}
