// quota.go — квоты хранения: GET /api/v1/quota (своя квота),
// PUT/DELETE /api/v1/quota/{userId} (персональное переопределение, admin).
package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/jjgordon89/JSG-Inspection-sub000/internal/api/errors"
)

// quotaOverrideRequest — тело PUT /api/v1/quota/{userId}.
type quotaOverrideRequest struct {
	QuotaBytes *int64 `json:"quotaBytes"`
}

// GetQuota обрабатывает GET /api/v1/quota.
func (h *APIHandler) GetQuota(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	q, err := h.quotas.Get(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, "quota_get", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// SetQuota обрабатывает PUT /api/v1/quota/{userId}.
func (h *APIHandler) SetQuota(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if userID == "" {
		apierrors.ValidationError(w, "Не указан пользователь")
		return
	}

	var req quotaOverrideRequest
	if err := decodeJSON(w, r, maxJSONBody, &req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if req.QuotaBytes == nil {
		apierrors.ValidationError(w, "Поле quotaBytes обязательно")
		return
	}

	if err := h.quotas.SetOverride(r.Context(), actor, userID, *req.QuotaBytes); err != nil {
		h.writeServiceError(w, r, "quota_set", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteQuota обрабатывает DELETE /api/v1/quota/{userId}:
// пользователь возвращается к квоте своей роли.
func (h *APIHandler) DeleteQuota(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if userID == "" {
		apierrors.ValidationError(w, "Не указан пользователь")
		return
	}

	if err := h.quotas.DeleteOverride(r.Context(), actor, userID); err != nil {
		h.writeServiceError(w, r, "quota_delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
