package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/model"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/repository"
)

// DeleteOptions — параметры удаления.
type DeleteOptions struct {
	// Permanent — удалить строки из БД; иначе soft delete (строки остаются для аудита)
	Permanent bool
}

// Delete удаляет файл. Для оригинала удаляются и все варианты.
//
// Сначала меняются записи в БД, затем удаляются байты. Ошибки удаления
// байтов отдельных артефактов не прерывают операцию и попадают
// в CascadeDeleteResult.Failed; оставшиеся байты подберёт сверка.
func (s *FileService) Delete(ctx context.Context, id string, actor Actor, opts DeleteOptions) (*model.CascadeDeleteResult, error) {
	rec, err := s.files.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("Файл %s не найден", id)
		}
		return nil, storageError("Ошибка получения файла", err)
	}
	// Повторный soft delete — NotFound; permanent дочищает soft-deleted записи
	if !rec.IsActive() && !opts.Permanent {
		return nil, notFoundError("Файл %s удалён", id)
	}
	if !canModify(actor, rec) {
		return nil, accessDeniedError(id)
	}

	artifacts := []*model.FileRecord{rec}
	if rec.Role.IsOriginal() {
		variants, err := s.files.ListVariants(ctx, id, opts.Permanent)
		if err != nil {
			return nil, storageError("Ошибка получения вариантов", err)
		}
		artifacts = append(variants, rec)
	}

	ids := make([]string, len(artifacts))
	for i, a := range artifacts {
		ids[i] = a.ID
	}

	if opts.Permanent {
		// Строки вариантов удаляются каскадом по parent_id
		_, err = s.files.DeletePermanent(ctx, []string{id})
	} else {
		_, err = s.files.MarkDeleted(ctx, ids)
	}
	s.cache.Invalidate(ids...)
	if err != nil {
		return nil, storageError("Ошибка удаления записей файлов", err)
	}

	result := &model.CascadeDeleteResult{Removed: []string{}, Failed: []model.CascadeFailure{}}
	for _, a := range artifacts {
		if err := s.store.Delete(a.StoragePath); err != nil {
			s.logger.Warn("Не удалось удалить байты артефакта",
				slog.String("file_id", a.ID),
				slog.String("storage_path", a.StoragePath),
				slog.String("error", err.Error()),
			)
			result.Failed = append(result.Failed, model.CascadeFailure{ID: a.ID, Error: err.Error()})
			continue
		}
		result.Removed = append(result.Removed, a.ID)
	}

	s.logger.Info("Файл удалён",
		slog.String("file_id", id),
		slog.String("role", rec.Role.String()),
		slog.Bool("permanent", opts.Permanent),
		slog.Int("removed", len(result.Removed)),
		slog.Int("failed", len(result.Failed)),
		slog.String("deleted_by", actor.UserID),
	)
	return result, nil
}
