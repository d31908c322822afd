package api

import (
	"context"
	"net/http"
)

// Tick выполняет один проход планировщика и возвращает сводку.
// POST /run
//
// Ответ 500, если захват не удался или хотя бы один узел не обработан:
// внешний вызывающий видит сбой, следующий вызов повторит работу.
func (h *Handler) Tick(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.tickTimeout)
	defer cancel()

	summary, err := h.ticker.Tick(ctx)
	if err != nil {
		h.logger.Error("tick failed", "error", err)
		JSON(w, http.StatusInternalServerError, summary)
		return
	}

	status := http.StatusOK
	if summary.Errors > 0 {
		status = http.StatusInternalServerError
	}
	JSON(w, status, summary)
}
