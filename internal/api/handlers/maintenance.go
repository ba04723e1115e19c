// maintenance.go — обработчик POST /api/v1/files/reconcile.
// Делегирует сверку в ReconcileService.
package handlers

import (
	"net/http"

	apierrors "github.com/jjgordon89/JSG-Inspection-sub000/internal/api/errors"
)

// Reconcile обрабатывает POST /api/v1/files/reconcile.
// Запускает синхронный цикл сверки и возвращает результат.
// Если сверка уже выполняется, отвечает 409.
func (h *APIHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	res, skipped, err := h.reconciler.RunOnce(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "reconcile", err)
		return
	}
	if skipped {
		apierrors.Conflict(w, "Сверка уже выполняется")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
