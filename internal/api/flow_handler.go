package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/fanflow/internal/domain"
)

// ListFlows возвращает список flows.
// GET /api/v1/flows?workspace_id=...
func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	workspaceID, err := queryUUID(r, "workspace_id")
	if err != nil {
		BadRequest(w, "invalid workspace_id")
		return
	}

	flows, err := h.orchestrator.ListFlows(r.Context(), workspaceID)
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]FlowResponse, len(flows))
	for i, f := range flows {
		result[i] = FlowFromDomain(f)
	}

	List(w, result, len(result))
}

// CreateFlow создаёт новый flow.
// POST /api/v1/flows
func (h *Handler) CreateFlow(w http.ResponseWriter, r *http.Request) {
	var req CreateFlowRequest
	if !h.decode(w, r, &req) {
		return
	}

	flow := &domain.Flow{
		WorkspaceID: uuid.MustParse(req.WorkspaceID),
		Name:        req.Name,
		Enabled:     req.Enabled,
		Graph:       req.Graph.ToDomain(),
	}

	if HandleError(w, h.logger, h.orchestrator.CreateFlow(r.Context(), flow)) {
		return
	}

	Created(w, FlowFromDomain(*flow))
}

// GetFlow возвращает flow по ID.
// GET /api/v1/flows/{id}
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "flow")
	if !ok {
		return
	}

	flow, err := h.orchestrator.GetFlow(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, FlowFromDomain(*flow))
}

// UpdateFlow сохраняет новую версию графа flow.
// PUT /api/v1/flows/{id}
func (h *Handler) UpdateFlow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "flow")
	if !ok {
		return
	}

	var req UpdateFlowRequest
	if !h.decode(w, r, &req) {
		return
	}

	flow := &domain.Flow{
		ID:    id,
		Name:  req.Name,
		Graph: req.Graph.ToDomain(),
	}

	if HandleError(w, h.logger, h.orchestrator.UpdateFlow(r.Context(), flow)) {
		return
	}

	Success(w, FlowFromDomain(*flow))
}

// SetFlowEnabled включает или выключает flow.
// PUT /api/v1/flows/{id}/enabled
func (h *Handler) SetFlowEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "flow")
	if !ok {
		return
	}

	var req SetFlowEnabledRequest
	if !h.decode(w, r, &req) {
		return
	}

	flow, err := h.orchestrator.SetFlowEnabled(r.Context(), id, *req.Enabled)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, FlowFromDomain(*flow))
}
