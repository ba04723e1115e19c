package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/model"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/repository"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/storage/filestore"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/storage/objectstore"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/storage/wal"
)

// maxBulkIDs — предел количества файлов в одной массовой операции.
const maxBulkIDs = 1000

// BulkOperationType — вид массовой операции.
type BulkOperationType string

const (
	BulkDelete   BulkOperationType = "delete"
	BulkMove     BulkOperationType = "move"
	BulkCopy     BulkOperationType = "copy"
	BulkCompress BulkOperationType = "compress"
	BulkBackup   BulkOperationType = "backup"
)

// BulkOptions — параметры операции.
type BulkOptions struct {
	// Permanent — для delete
	Permanent bool `json:"permanent,omitempty"`
	// Category — целевая категория для move
	Category string `json:"category,omitempty"`
	// Quality — качество для compress
	Quality int `json:"quality,omitempty"`
}

// BulkRequest — запрос массовой операции.
type BulkRequest struct {
	FileIDs   []string          `json:"fileIds"`
	Operation BulkOperationType `json:"operation"`
	Options   BulkOptions       `json:"options"`
}

// BulkFailure — файл, для которого операция не выполнена.
type BulkFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BulkOperationResult — итог массовой операции.
type BulkOperationResult struct {
	Success []string      `json:"success"`
	Failed  []BulkFailure `json:"failed"`
	// Created — id новых записей для copy и compress (исходный id → новый)
	Created map[string]string `json:"created,omitempty"`
}

// BulkOperation выполняет операцию для каждого файла по очереди.
// Ошибка возвращается только для некорректного запроса; ошибки
// отдельных файлов попадают в Failed.
func (s *FileService) BulkOperation(ctx context.Context, actor Actor, req BulkRequest) (*BulkOperationResult, error) {
	if err := s.validateBulk(req); err != nil {
		return nil, err
	}

	result := &BulkOperationResult{Success: []string{}, Failed: []BulkFailure{}}
	for _, id := range req.FileIDs {
		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, BulkFailure{ID: id, Error: err.Error()})
			continue
		}

		created, err := s.applyBulk(ctx, actor, id, req)
		if err != nil {
			result.Failed = append(result.Failed, BulkFailure{ID: id, Error: err.Error()})
			continue
		}
		result.Success = append(result.Success, id)
		if created != "" {
			if result.Created == nil {
				result.Created = make(map[string]string)
			}
			result.Created[id] = created
		}
	}

	s.logger.Info("Массовая операция завершена",
		slog.String("operation", string(req.Operation)),
		slog.Int("success", len(result.Success)),
		slog.Int("failed", len(result.Failed)),
		slog.String("user_id", actor.UserID),
	)
	return result, nil
}

func (s *FileService) validateBulk(req BulkRequest) error {
	var details []string
	if len(req.FileIDs) == 0 {
		details = append(details, "Список файлов пуст")
	}
	if len(req.FileIDs) > maxBulkIDs {
		details = append(details, fmt.Sprintf("Не более %d файлов в одной операции", maxBulkIDs))
	}

	switch req.Operation {
	case BulkDelete, BulkCopy, BulkCompress:
	case BulkMove:
		if _, ok := model.ParseCategory(req.Options.Category); !ok {
			details = append(details, fmt.Sprintf("Неизвестная категория %q", req.Options.Category))
		}
	case BulkBackup:
		if s.backup == nil {
			details = append(details, "Резервное копирование не настроено")
		}
	default:
		details = append(details, fmt.Sprintf("Неизвестная операция %q", req.Operation))
	}

	if len(details) > 0 {
		return validationError(details)
	}
	return nil
}

// applyBulk выполняет операцию для одного файла. Возвращает id созданной записи, если есть.
func (s *FileService) applyBulk(ctx context.Context, actor Actor, id string, req BulkRequest) (string, error) {
	if req.Operation == BulkDelete {
		_, err := s.Delete(ctx, id, actor, DeleteOptions{Permanent: req.Options.Permanent})
		return "", err
	}

	rec, err := s.loadActive(ctx, id)
	if err != nil {
		return "", err
	}
	if !rec.Role.IsOriginal() {
		return "", validationError([]string{fmt.Sprintf("Файл %s является вариантом", id)})
	}

	switch req.Operation {
	case BulkMove:
		if !canModify(actor, rec) {
			return "", accessDeniedError(id)
		}
		category, _ := model.ParseCategory(req.Options.Category)
		return "", s.move(ctx, rec, category)
	case BulkCopy:
		// Копировать можно всё, что пользователь может прочитать
		if !canRead(actor, rec) {
			return "", accessDeniedError(id)
		}
		return s.copyFile(ctx, actor, rec)
	case BulkCompress:
		if !canModify(actor, rec) {
			return "", accessDeniedError(id)
		}
		return s.compress(ctx, rec, req.Options.Quality)
	case BulkBackup:
		if !canModify(actor, rec) {
			return "", accessDeniedError(id)
		}
		return "", s.backupFile(ctx, rec)
	}
	return "", fmt.Errorf("неизвестная операция %q", req.Operation)
}

// move меняет категорию оригинала и переносит байты в её поддиректорию.
func (s *FileService) move(ctx context.Context, rec *model.FileRecord, category model.Category) error {
	if rec.Category == category {
		return nil
	}

	oldSubdir := path.Dir(rec.StoragePath)
	newPath, err := s.store.Move(rec.StoragePath, filestore.SubdirFor(string(category)))
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return notFoundError("Содержимое файла %s отсутствует в хранилище", rec.ID)
		}
		return storageError("Ошибка перемещения файла", err)
	}

	if err := s.files.UpdateLocation(ctx, rec.ID, category, newPath); err != nil {
		// Возвращаем байты на место: запись указывает на старый путь
		if _, mvErr := s.store.Move(newPath, oldSubdir); mvErr != nil {
			s.logger.Error("Не удалось вернуть файл после ошибки БД",
				slog.String("file_id", rec.ID),
				slog.String("path", newPath),
				slog.String("error", mvErr.Error()),
			)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundError("Файл %s удалён", rec.ID)
		}
		return storageError("Ошибка обновления записи файла", err)
	}

	s.cache.Invalidate(rec.ID)
	s.logger.Info("Файл перемещён",
		slog.String("file_id", rec.ID),
		slog.String("category", string(category)),
		slog.String("storage_path", newPath),
	)
	return nil
}

// copyFile создаёт новый оригинал с теми же байтами, владелец — actor.
func (s *FileService) copyFile(ctx context.Context, actor Actor, rec *model.FileRecord) (string, error) {
	data, err := s.readBytes(rec)
	if err != nil {
		return "", err
	}

	quota, err := s.quotas.Get(ctx, actor)
	if err != nil {
		return "", err
	}
	if quota.Exceeds(int64(len(data))) {
		return "", validationError([]string{"Превышена квота хранения"})
	}

	metadata := maps.Clone(rec.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	delete(metadata, model.MetaBackupKey)
	delete(metadata, model.MetaBackupAt)
	metadata[model.MetaCopiedFrom] = rec.ID

	cp := &model.FileRecord{
		ID:           uuid.New().String(),
		OriginalName: rec.OriginalName,
		MimeType:     rec.MimeType,
		Category:     rec.Category,
		UploadedBy:   actor.UserID,
		UploadedAt:   time.Now().UTC(),
		Tags:         append([]string(nil), rec.Tags...),
		Role:         model.Original(),
		Description:  rec.Description,
		Status:       model.StatusActive,
		Metadata:     metadata,
	}
	artifact := Artifact{Record: cp, Data: data, Subdir: path.Dir(rec.StoragePath), Name: rec.OriginalName}
	guard, err := s.quotas.Guard(ctx, actor)
	if err != nil {
		return "", err
	}
	if err := s.writer.Persist(ctx, wal.OpCopy, cp.ID, []Artifact{artifact}, guard); err != nil {
		return "", err
	}
	return cp.ID, nil
}

// compress строит сжатый вариант и заменяет им существующий.
func (s *FileService) compress(ctx context.Context, rec *model.FileRecord, quality int) (string, error) {
	if rec.Category != model.CategoryImage || model.CategoryForMime(rec.MimeType) != model.CategoryImage {
		return "", validationError([]string{fmt.Sprintf("Файл %s не является изображением", rec.ID)})
	}

	data, err := s.readBytes(rec)
	if err != nil {
		return "", err
	}
	v, err := s.generator.Compress(ctx, data, quality)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", processingError("Не удалось сжать изображение", err)
	}

	previous, err := s.files.ListVariants(ctx, rec.ID, false)
	if err != nil {
		return "", storageError("Ошибка получения вариантов", err)
	}

	artifact := variantArtifact(rec, *v, time.Now().UTC())
	// Сжатый вариант заменяет прежний; квота не проверяется
	if err := s.writer.Persist(ctx, wal.OpCompress, rec.ID, []Artifact{artifact}, nil); err != nil {
		return "", err
	}
	variantsGeneratedTotal.WithLabelValues(string(model.RoleCompressed)).Inc()

	// Старые сжатые варианты удаляются после создания нового
	for _, old := range previous {
		if old.Role.Kind() != model.RoleCompressed {
			continue
		}
		if _, err := s.files.MarkDeleted(ctx, []string{old.ID}); err != nil {
			s.logger.Warn("Не удалось пометить старый сжатый вариант удалённым",
				slog.String("file_id", old.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.cache.Invalidate(old.ID)
		if err := s.store.Delete(old.StoragePath); err != nil {
			s.logger.Warn("Не удалось удалить байты старого сжатого варианта",
				slog.String("file_id", old.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return artifact.Record.ID, nil
}

// backupFile выгружает байты в хранилище резервных копий и отмечает это в metadata.
func (s *FileService) backupFile(ctx context.Context, rec *model.FileRecord) error {
	f, err := s.store.Open(rec.StoragePath)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return notFoundError("Содержимое файла %s отсутствует в хранилище", rec.ID)
		}
		return storageError("Ошибка открытия файла", err)
	}
	defer f.Close()

	key := objectstore.BackupKey(rec.UploadedBy, rec.ID, rec.StoredName)
	if _, err := s.backup.Upload(ctx, key, f, rec.MimeType); err != nil {
		return storageError("Ошибка выгрузки резервной копии", err)
	}

	patch := map[string]any{
		model.MetaBackupKey: key,
		model.MetaBackupAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.files.MergeMetadata(ctx, rec.ID, patch); err != nil {
		return storageError("Ошибка сохранения отметки о резервной копии", err)
	}
	s.cache.Invalidate(rec.ID)

	s.logger.Info("Резервная копия создана",
		slog.String("file_id", rec.ID),
		slog.String("key", key),
	)
	return nil
}

func (s *FileService) readBytes(rec *model.FileRecord) ([]byte, error) {
	data, err := s.store.ReadAll(rec.StoragePath)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return nil, notFoundError("Содержимое файла %s отсутствует в хранилище", rec.ID)
		}
		return nil, storageError("Ошибка чтения файла", err)
	}
	return data, nil
}
