package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/model"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/repository"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/storage/filestore"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/storage/wal"
)

// Artifact — запись и байты одного артефакта для сохранения.
type Artifact struct {
	Record *model.FileRecord
	Data   []byte
	// Subdir — поддиректория корня загрузок
	Subdir string
	// Name — имя, из которого строится StoredName
	Name string
}

// PersistenceWriter сохраняет байты и записи артефактов.
//
// Порядок:
//  1. Начало транзакции журнала
//  2. Для каждого артефакта: путь в журнал, затем байты (temp → fsync → rename)
//  3. Одна транзакция БД: оригинал, затем варианты
//  4. Коммит журнала
//
// При ошибке записанные байты удаляются, журнал откатывается.
type PersistenceWriter struct {
	store   *filestore.FileStore
	journal *wal.WAL
	files   repository.FileRepository
	logger  *slog.Logger
}

// NewPersistenceWriter создаёт writer.
func NewPersistenceWriter(
	store *filestore.FileStore,
	journal *wal.WAL,
	files repository.FileRepository,
	logger *slog.Logger,
) *PersistenceWriter {
	return &PersistenceWriter{
		store:   store,
		journal: journal,
		files:   files,
		logger:  logger.With(slog.String("component", "persistence_writer")),
	}
}

// Persist записывает артефакты. Не более одного артефакта может быть
// оригиналом; варианты ссылаются на оригинал из этого же набора или
// на уже существующий активный оригинал.
// StoredName, StoragePath, SizeBytes и Checksum записей заполняются
// по фактически записанным байтам. Непустой quota проверяется
// в транзакции БД по фактическим размерам.
func (w *PersistenceWriter) Persist(ctx context.Context, op wal.OperationType, fileID string, artifacts []Artifact, quota *repository.QuotaGuard) error {
	var (
		original *model.FileRecord
		variants []*model.FileRecord
	)
	for _, a := range artifacts {
		if a.Record.Role.IsOriginal() {
			if original != nil {
				return fmt.Errorf("в наборе больше одного оригинала")
			}
			original = a.Record
			continue
		}
		variants = append(variants, a.Record)
	}

	entry, err := w.journal.Begin(op, fileID)
	if err != nil {
		return storageError("Не удалось начать транзакцию журнала", err)
	}

	var written []string
	rollback := func() {
		for _, p := range written {
			if err := w.store.Delete(p); err != nil {
				w.logger.Error("Не удалось удалить байты при откате",
					slog.String("path", p),
					slog.String("error", err.Error()),
				)
			}
		}
		if err := w.journal.Rollback(entry.TransactionID); err != nil {
			w.logger.Error("Ошибка отката журнала",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, a := range artifacts {
		rec := a.Record
		target := filestore.PathFor(rec.ID, a.Name, a.Subdir)
		if err := w.journal.Track(entry.TransactionID, target); err != nil {
			rollback()
			return storageError("Не удалось записать путь в журнал", err)
		}

		saved, err := w.store.Save(ctx, bytes.NewReader(a.Data), rec.ID, a.Name, a.Subdir)
		if err != nil {
			rollback()
			return storageError(fmt.Sprintf("Не удалось сохранить файл %s", rec.ID), err)
		}
		written = append(written, saved.StoragePath)

		rec.StoredName = saved.StoredName
		rec.StoragePath = saved.StoragePath
		rec.SizeBytes = saved.Size
		rec.Checksum = saved.Checksum
	}

	if err := w.files.CreateArtifacts(ctx, original, variants, quota); err != nil {
		rollback()
		if errors.Is(err, repository.ErrParentNotActive) {
			return notFoundError("Оригинал удалён во время обработки")
		}
		if errors.Is(err, repository.ErrQuotaExceeded) {
			return validationError([]string{"Превышена квота хранения"})
		}
		return storageError("Не удалось создать записи файлов", err)
	}

	if err := w.journal.Commit(entry.TransactionID); err != nil {
		// Записи созданы; восстановление при старте сверит пути с БД
		w.logger.Error("Ошибка коммита журнала (данные сохранены)",
			slog.String("tx_id", entry.TransactionID),
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Recover завершает незакрытые транзакции журнала после падения процесса.
// Если записи в БД созданы, транзакция фиксируется, иначе байты удаляются.
// Вызывается при старте до приёма запросов.
func (w *PersistenceWriter) Recover(ctx context.Context) (committed, rolledBack int, err error) {
	pending, err := w.journal.RecoverPending()
	if err != nil {
		return 0, 0, fmt.Errorf("ошибка чтения журнала: %w", err)
	}

	for _, entry := range pending {
		found, err := w.files.FindActivePaths(ctx, entry.Paths)
		if err != nil {
			return committed, rolledBack, fmt.Errorf("ошибка проверки транзакции %s: %w", entry.TransactionID, err)
		}

		// Записи создаются одной транзакцией БД: все пути есть или нет ни одного
		if len(found) > 0 {
			if err := w.journal.Commit(entry.TransactionID); err != nil {
				w.logger.Warn("Не удалось зафиксировать транзакцию журнала",
					slog.String("tx_id", entry.TransactionID),
					slog.String("error", err.Error()),
				)
			}
			committed++
			continue
		}

		for _, p := range entry.Paths {
			if err := w.store.Delete(p); err != nil {
				w.logger.Warn("Не удалось удалить байты незавершённой загрузки",
					slog.String("path", p),
					slog.String("error", err.Error()),
				)
			}
		}
		if err := w.journal.Rollback(entry.TransactionID); err != nil {
			w.logger.Warn("Не удалось откатить транзакцию журнала",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", err.Error()),
			)
		}
		rolledBack++
	}

	if _, err := w.journal.CleanCompleted(); err != nil {
		w.logger.Warn("Ошибка очистки журнала", slog.String("error", err.Error()))
	}

	if len(pending) > 0 {
		w.logger.Info("Восстановление журнала завершено",
			slog.Int("committed", committed),
			slog.Int("rolled_back", rolledBack),
		)
	}
	return committed, rolledBack, nil
}
