package service

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/model"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/repository"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/storage/filestore"
)

// Пределы пагинации списка файлов.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Backuper — хранилище резервных копий.
type Backuper interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

// FileService — чтение, удаление и массовые операции над сохранёнными файлами.
type FileService struct {
	files     repository.FileRepository
	store     *filestore.FileStore
	writer    *PersistenceWriter
	generator *VariantGenerator
	quotas    *QuotaService
	backup    Backuper
	cache     *MetadataCache
	logger    *slog.Logger
}

// NewFileService создаёт сервис файлов. backup может быть nil —
// тогда операция backup недоступна.
func NewFileService(
	files repository.FileRepository,
	store *filestore.FileStore,
	writer *PersistenceWriter,
	generator *VariantGenerator,
	quotas *QuotaService,
	backup Backuper,
	cache *MetadataCache,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		files:     files,
		store:     store,
		writer:    writer,
		generator: generator,
		quotas:    quotas,
		backup:    backup,
		cache:     cache,
		logger:    logger.With(slog.String("component", "file_service")),
	}
}

// FileDetails — оригинал с активными вариантами.
type FileDetails struct {
	File     *model.FileRecord   `json:"file"`
	Variants []*model.FileRecord `json:"variants"`
}

// ListParams — параметры списка файлов.
type ListParams struct {
	Limit    int
	Offset   int
	Category *model.Category
	// Owner — чужие файлы видит только администратор; пусто — свои
	Owner string
	// IncludePublic — добавить публичные файлы других пользователей
	IncludePublic bool
}

// FileList — страница списка.
type FileList struct {
	Items  []*model.FileRecord `json:"items"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// loadActive возвращает активную запись (кэш → БД).
func (s *FileService) loadActive(ctx context.Context, id string) (*model.FileRecord, error) {
	if rec, ok := s.cache.Get(id); ok {
		return rec, nil
	}

	rec, err := s.files.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("Файл %s не найден", id)
		}
		return nil, storageError("Ошибка получения файла", err)
	}
	if !rec.IsActive() {
		return nil, notFoundError("Файл %s удалён", id)
	}

	s.cache.Set(rec)
	return rec, nil
}

// Get возвращает метаданные файла и его вариантов.
func (s *FileService) Get(ctx context.Context, id string, actor Actor) (*FileDetails, error) {
	rec, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canRead(actor, rec) {
		return nil, accessDeniedError(id)
	}

	details := &FileDetails{File: rec, Variants: []*model.FileRecord{}}
	if rec.Role.IsOriginal() {
		variants, err := s.files.ListVariants(ctx, id, false)
		if err != nil {
			return nil, storageError("Ошибка получения вариантов", err)
		}
		if variants != nil {
			details.Variants = variants
		}
	}
	return details, nil
}

// List возвращает активные оригиналы пользователя с пагинацией.
func (s *FileService) List(ctx context.Context, actor Actor, params ListParams) (*FileList, error) {
	owner := actor.UserID
	if params.Owner != "" && params.Owner != actor.UserID {
		if !actor.IsAdmin() {
			return nil, &FileError{Kind: ErrAccessDenied, Code: CodeAccessDenied, Message: "Просмотр чужих файлов доступен только администратору"}
		}
		owner = params.Owner
	}

	limit := params.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	offset := max(params.Offset, 0)

	filters := repository.FileListFilters{
		UploadedBy:    &owner,
		Category:      params.Category,
		IncludePublic: params.IncludePublic,
	}

	items, err := s.files.List(ctx, filters, limit, offset)
	if err != nil {
		return nil, storageError("Ошибка получения списка файлов", err)
	}
	total, err := s.files.Count(ctx, filters)
	if err != nil {
		return nil, storageError("Ошибка подсчёта файлов", err)
	}
	if items == nil {
		items = []*model.FileRecord{}
	}
	return &FileList{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}
