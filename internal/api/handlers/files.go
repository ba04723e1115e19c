// files.go — HTTP handlers файловых операций Files Module.
// Upload, bulk upload, list, metadata, content, delete, bulk operations.
package handlers

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/jjgordon89/JSG-Inspection-sub000/internal/api/errors"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/model"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/service"
)

const (
	// multipartMemory — часть multipart-тела в памяти, остальное во временных файлах
	multipartMemory = 32 << 20
	// multipartOverhead — запас на заголовки частей и поля формы
	multipartOverhead = 1 << 20
	// maxBulkUploadFiles — предел файлов в одном запросе массовой загрузки
	maxBulkUploadFiles = 20
	// maxJSONBody — предел JSON-тела запроса
	maxJSONBody = 1 << 20
)

// uploadParams — поля формы загрузки. Указатели — необязательные поля.
type uploadParams struct {
	Category           *string
	Tags               *[]string
	Description        *string
	IsPublic           *bool
	PreventDuplicates  *bool
	GenerateThumbnails *bool
	ProcessImages      *bool
	ThumbnailSizes     *[]int
	Compress           *bool
	Quality            *int
	Concurrency        *int
}

// parseUploadOptions разбирает поля формы в UploadOptions.
func parseUploadOptions(values url.Values) (service.UploadOptions, error) {
	var p uploadParams
	fields := []struct {
		name    string
		explode bool
		dest    any
	}{
		{"category", true, &p.Category},
		{"tags", false, &p.Tags},
		{"description", true, &p.Description},
		{"isPublic", true, &p.IsPublic},
		{"preventDuplicates", true, &p.PreventDuplicates},
		{"generateThumbnails", true, &p.GenerateThumbnails},
		{"processImages", true, &p.ProcessImages},
		{"thumbnailSizes", false, &p.ThumbnailSizes},
		{"compress", true, &p.Compress},
		{"quality", true, &p.Quality},
		{"concurrency", true, &p.Concurrency},
	}
	for _, f := range fields {
		if err := bindOptional(values, f.name, f.explode, f.dest); err != nil {
			return service.UploadOptions{}, err
		}
	}

	opts := service.UploadOptions{
		GenerateThumbnails: p.GenerateThumbnails,
		ProcessImages:      p.ProcessImages,
	}
	if p.Category != nil {
		opts.Category = *p.Category
	}
	if p.Tags != nil {
		opts.Tags = *p.Tags
	}
	if p.Description != nil {
		opts.Description = *p.Description
	}
	if p.IsPublic != nil {
		opts.IsPublic = *p.IsPublic
	}
	if p.PreventDuplicates != nil {
		opts.PreventDuplicates = *p.PreventDuplicates
	}
	if p.ThumbnailSizes != nil {
		opts.ThumbnailSizes = *p.ThumbnailSizes
	}
	if p.Compress != nil {
		opts.Compress = *p.Compress
	}
	if p.Quality != nil {
		opts.Quality = *p.Quality
	}
	if p.Concurrency != nil {
		opts.Concurrency = *p.Concurrency
	}
	return opts, nil
}

// readFileInput читает загруженный файл целиком.
func readFileInput(fh *multipart.FileHeader) (service.FileInput, error) {
	var f openapi_types.File
	f.InitFromMultipart(fh)
	data, err := f.Bytes()
	if err != nil {
		return service.FileInput{}, fmt.Errorf("чтение файла %s: %w", fh.Filename, err)
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return service.FileInput{
		OriginalName: f.Filename(),
		MimeType:     contentType,
		SizeBytes:    f.FileSize(),
		Data:         data,
	}, nil
}

// parseMultipart ограничивает тело и разбирает multipart-форму.
// Ответ об ошибке уже записан, если ok=false.
func parseMultipart(w http.ResponseWriter, r *http.Request, limit int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.PayloadTooLarge(w, fmt.Sprintf("Тело запроса превышает %d байт", tooLarge.Limit))
			return false
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return false
	}
	return true
}

// parseFileID проверяет идентификатор файла из пути.
func parseFileID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id openapi_types.UUID
	if err := id.UnmarshalText([]byte(chi.URLParam(r, "id"))); err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор файла")
		return "", false
	}
	return id.String(), true
}

// UploadFile обрабатывает POST /api/v1/files.
// Multipart form: file (обязательно) и поля UploadOptions.
// 201 — файл сохранён, 200 — возвращён существующий дубликат.
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	if !parseMultipart(w, r, h.maxFileSize+multipartOverhead) {
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["file"]
	if len(headers) != 1 {
		apierrors.ValidationError(w, "Поле 'file' обязательно и должно содержать один файл")
		return
	}
	opts, err := parseUploadOptions(r.MultipartForm.Value)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	in, err := readFileInput(headers[0])
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	res, err := h.uploader.Upload(r.Context(), in, actor, opts)
	if err != nil {
		h.writeServiceError(w, r, "upload", err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// UploadFiles обрабатывает POST /api/v1/files/bulk.
// Multipart form: files (1..maxBulkUploadFiles) и общие поля UploadOptions.
// Ответ 200 с результатом по каждому файлу; отказ отдельных файлов
// не делает весь запрос ошибочным.
func (h *APIHandler) UploadFiles(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	if !parseMultipart(w, r, h.maxFileSize*maxBulkUploadFiles+multipartOverhead) {
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		apierrors.ValidationError(w, "Поле 'files' обязательно")
		return
	}
	if len(headers) > maxBulkUploadFiles {
		apierrors.ValidationError(w, fmt.Sprintf("Не более %d файлов в одном запросе", maxBulkUploadFiles))
		return
	}
	opts, err := parseUploadOptions(r.MultipartForm.Value)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	inputs := make([]service.FileInput, 0, len(headers))
	for _, fh := range headers {
		in, err := readFileInput(fh)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		inputs = append(inputs, in)
	}

	writeJSON(w, http.StatusOK, h.uploader.UploadMany(r.Context(), inputs, actor, opts))
}

// listParams — query-параметры GET /api/v1/files.
type listParams struct {
	Limit         *int
	Offset        *int
	Category      *string
	Owner         *string
	IncludePublic *bool
}

// ListFiles обрабатывает GET /api/v1/files.
// Пагинация: limit, offset. Фильтры: category, owner (только admin), includePublic.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	var p listParams
	query := r.URL.Query()
	for name, dest := range map[string]any{
		"limit":         &p.Limit,
		"offset":        &p.Offset,
		"category":      &p.Category,
		"owner":         &p.Owner,
		"includePublic": &p.IncludePublic,
	} {
		if err := bindOptional(query, name, true, dest); err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
	}

	params := service.ListParams{}
	if p.Limit != nil {
		if *p.Limit < 1 || *p.Limit > service.MaxListLimit {
			apierrors.ValidationError(w, fmt.Sprintf("Параметр limit должен быть от 1 до %d", service.MaxListLimit))
			return
		}
		params.Limit = *p.Limit
	}
	if p.Offset != nil {
		if *p.Offset < 0 {
			apierrors.ValidationError(w, "Параметр offset не может быть отрицательным")
			return
		}
		params.Offset = *p.Offset
	}
	if p.Category != nil {
		cat, ok := model.ParseCategory(*p.Category)
		if !ok {
			apierrors.ValidationError(w, fmt.Sprintf("Недопустимая категория: %s", *p.Category))
			return
		}
		params.Category = &cat
	}
	if p.Owner != nil {
		params.Owner = *p.Owner
	}
	if p.IncludePublic != nil {
		params.IncludePublic = *p.IncludePublic
	}

	list, err := h.files.List(r.Context(), actor, params)
	if err != nil {
		h.writeServiceError(w, r, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetFile обрабатывает GET /api/v1/files/{id}: метаданные с вариантами.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}
	id, ok := parseFileID(w, r)
	if !ok {
		return
	}

	details, err := h.files.Get(r.Context(), id, actor)
	if err != nil {
		h.writeServiceError(w, r, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

type contentParams struct {
	Variant *string
	Size    *int
}

// GetContent обрабатывает GET /api/v1/files/{id}/content.
// ?variant=original|thumbnail|compressed&size=N.
// Поддерживает Range (206) и If-None-Match (304) через http.ServeContent;
// ETag — checksum содержимого.
func (h *APIHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}
	id, ok := parseFileID(w, r)
	if !ok {
		return
	}

	var p contentParams
	query := r.URL.Query()
	if err := bindOptional(query, "variant", true, &p.Variant); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if err := bindOptional(query, "size", true, &p.Size); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	opts := service.ContentOptions{}
	if p.Variant != nil {
		kind, err := service.ParseVariant(*p.Variant)
		if err != nil {
			h.writeServiceError(w, r, "content", err)
			return
		}
		opts.Variant = kind
	}
	if p.Size != nil {
		if *p.Size < 0 {
			apierrors.ValidationError(w, "Параметр size не может быть отрицательным")
			return
		}
		opts.Size = *p.Size
	}

	content, err := h.files.GetContent(r.Context(), id, actor, opts)
	if err != nil {
		h.writeServiceError(w, r, "content", err)
		return
	}
	defer content.Reader.Close()

	rec := content.Record
	w.Header().Set("Content-Type", content.ContentType)
	w.Header().Set("ETag", `"`+rec.Checksum+`"`)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": rec.OriginalName}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, "", rec.UploadedAt, content.Reader)
}

// DeleteFile обрабатывает DELETE /api/v1/files/{id}?permanent=true.
// Для оригинала удаляются и все варианты.
func (h *APIHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}
	id, ok := parseFileID(w, r)
	if !ok {
		return
	}

	var permanent *bool
	if err := bindOptional(r.URL.Query(), "permanent", true, &permanent); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	res, err := h.files.Delete(r.Context(), id, actor, service.DeleteOptions{Permanent: permanent != nil && *permanent})
	if err != nil {
		h.writeServiceError(w, r, "delete", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// BulkOperation обрабатывает POST /api/v1/files/bulk-operation.
// Тело: {"fileIds": [...], "operation": "delete|move|copy|compress|backup", "options": {...}}.
func (h *APIHandler) BulkOperation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	var req service.BulkRequest
	if err := decodeJSON(w, r, maxJSONBody, &req); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный JSON: %s", err.Error()))
		return
	}

	res, err := h.files.BulkOperation(r.Context(), actor, req)
	if err != nil {
		h.writeServiceError(w, r, "bulk_operation", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
