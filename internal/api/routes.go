package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		RequestID(h.logger),
		Metrics(h.metrics),
		Logging(),
	)

	// Планировщик: внешний вызов раз в N секунд
	mux.Handle("POST /run", chain(http.HandlerFunc(h.Tick)))

	// Flows
	mux.Handle("GET /api/v1/flows", chain(http.HandlerFunc(h.ListFlows)))
	mux.Handle("POST /api/v1/flows", chain(http.HandlerFunc(h.CreateFlow)))
	mux.Handle("GET /api/v1/flows/{id}", chain(http.HandlerFunc(h.GetFlow)))
	mux.Handle("PUT /api/v1/flows/{id}", chain(http.HandlerFunc(h.UpdateFlow)))
	mux.Handle("PUT /api/v1/flows/{id}/enabled", chain(http.HandlerFunc(h.SetFlowEnabled)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/flows/{id}/runs", chain(http.HandlerFunc(h.StartRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))
	mux.Handle("GET /api/v1/runs/{id}/nodes", chain(http.HandlerFunc(h.ListRunNodes)))

	// Служебные
	mux.Handle("GET /healthz", chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})))
	if h.gatherer != nil {
		mux.Handle("GET /metrics", chain(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}
