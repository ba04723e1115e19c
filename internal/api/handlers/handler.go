// handler.go — основной обработчик API Files Module.
// Разбирает HTTP-запросы, делегирует в сервисный слой и переводит
// ошибки сервиса в HTTP-ответы.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/jjgordon89/JSG-Inspection-sub000/internal/api/errors"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/api/middleware"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/model"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/rbac"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/service"
)

// Uploader — конвейер загрузки (service.Pipeline).
type Uploader interface {
	Upload(ctx context.Context, in service.FileInput, actor service.Actor, opts service.UploadOptions) (*service.FileProcessingResult, error)
	UploadMany(ctx context.Context, files []service.FileInput, actor service.Actor, opts service.UploadOptions) *service.BulkUploadResult
}

// FileManager — чтение, выдача содержимого, удаление и массовые операции
// (service.FileService).
type FileManager interface {
	Get(ctx context.Context, id string, actor service.Actor) (*service.FileDetails, error)
	List(ctx context.Context, actor service.Actor, params service.ListParams) (*service.FileList, error)
	GetContent(ctx context.Context, id string, actor service.Actor, opts service.ContentOptions) (*service.Content, error)
	Delete(ctx context.Context, id string, actor service.Actor, opts service.DeleteOptions) (*model.CascadeDeleteResult, error)
	BulkOperation(ctx context.Context, actor service.Actor, req service.BulkRequest) (*service.BulkOperationResult, error)
}

// QuotaManager — квоты пользователей (service.QuotaService).
type QuotaManager interface {
	Get(ctx context.Context, actor service.Actor) (*model.Quota, error)
	SetOverride(ctx context.Context, admin service.Actor, userID string, quotaBytes int64) error
	DeleteOverride(ctx context.Context, admin service.Actor, userID string) error
}

// ReconcileRunner — ручной запуск сверки (service.ReconcileService).
type ReconcileRunner interface {
	// RunOnce возвращает skipped=true, если сверка уже выполняется.
	RunOnce(ctx context.Context) (result *service.ReconcileResult, skipped bool, err error)
}

// APIHandler — обработчик /api/v1 Files Module.
type APIHandler struct {
	uploader    Uploader
	files       FileManager
	quotas      QuotaManager
	reconciler  ReconcileRunner
	maxFileSize int64
	logger      *slog.Logger
}

// NewAPIHandler создаёт обработчик API.
// maxFileSize — предел размера одного файла, по нему ограничивается тело запроса.
func NewAPIHandler(
	uploader Uploader,
	files FileManager,
	quotas QuotaManager,
	reconciler ReconcileRunner,
	maxFileSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		uploader:    uploader,
		files:       files,
		quotas:      quotas,
		reconciler:  reconciler,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// Routes монтирует маршруты /api/v1 с проверкой ролей.
// JWT middleware подключается снаружи, до Routes.
func (h *APIHandler) Routes(r chi.Router) {
	// Чтение: любая роль Files Module
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(rbac.RoleViewer))
		r.Get("/files", h.ListFiles)
		r.Get("/files/{id}", h.GetFile)
		r.Get("/files/{id}/content", h.GetContent)
		r.Get("/quota", h.GetQuota)
	})

	// Запись: inspector и выше
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(rbac.RoleInspector))
		r.Post("/files", h.UploadFile)
		r.Post("/files/bulk", h.UploadFiles)
		r.Delete("/files/{id}", h.DeleteFile)
		r.Post("/files/bulk-operation", h.BulkOperation)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(rbac.RoleAdmin))
		r.Post("/files/reconcile", h.Reconcile)
		r.Put("/quota/{userId}", h.SetQuota)
		r.Delete("/quota/{userId}", h.DeleteQuota)
	})
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// actorFromRequest строит Actor из claims JWT.
// Маршруты /api/v1 закрыты JWT middleware, поэтому claims всегда есть.
func actorFromRequest(r *http.Request) (service.Actor, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		return service.Actor{}, false
	}
	return service.Actor{UserID: claims.Subject, Role: claims.Role}, true
}

// statusForKind — HTTP-статус для вида ошибки сервиса.
func statusForKind(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAccessDenied):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeServiceError переводит ошибку сервиса в HTTP-ответ.
// Причина ошибки (cause) клиенту не отдаётся, только в лог.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		h.logger.Debug("Запрос прерван",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		apierrors.WriteError(w, http.StatusServiceUnavailable, apierrors.CodeInternalError, "Запрос прерван")
		return
	}

	var fe *service.FileError
	if !errors.As(err, &fe) {
		h.logger.Error("Внутренняя ошибка",
			slog.String("op", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
		return
	}

	status := statusForKind(fe)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Ошибка операции с файлом",
			slog.String("op", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	apierrors.WriteErrorDetails(w, status, fe.Code, fe.Message, fe.Details)
}

// bindOptional связывает необязательный параметр формы или query.
// dest — указатель на указатель (**int, **bool, **[]string),
// как в коде, сгенерированном oapi-codegen.
// Списки передаются через запятую: tags=a,b.
func bindOptional(values url.Values, name string, explode bool, dest any) error {
	if err := runtime.BindQueryParameter("form", explode, false, name, values, dest); err != nil {
		return errors.New("некорректный параметр " + name + ": " + err.Error())
	}
	return nil
}

// decodeJSON читает JSON-тело запроса с ограничением размера.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dest any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("после JSON-объекта есть лишние данные")
	}
	return nil
}
