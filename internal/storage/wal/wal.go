package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotPending — транзакция уже завершена.
var ErrNotPending = errors.New("транзакция журнала уже завершена")

// WAL — файловый журнал загрузок.
// Порядок работы: Begin → Track(путь) перед каждой записью байтов →
// вставка строк в БД → Commit. При ошибке удаление байтов и Rollback.
// Pending-записи, найденные при старте, означают аварийное завершение:
// их байты удаляются через RecoverPending.
type WAL struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// New создаёт журнал. Создаёт директорию и проверяет доступность на запись.
func New(dir string, logger *slog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию журнала %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".wal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория журнала %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &WAL{
		dir:    dir,
		logger: logger.With(slog.String("component", "wal")),
	}, nil
}

// Begin создаёт запись со статусом pending.
func (w *WAL) Begin(op OperationType, fileID string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		Status:        StatusPending,
		FileID:        fileID,
		StartedAt:     time.Now().UTC(),
	}

	if err := w.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать запись журнала: %w", err)
	}

	w.logger.Debug("Транзакция журнала начата",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(op)),
		slog.String("file_id", fileID),
	)
	return entry, nil
}

// Track добавляет путь артефакта в pending-транзакцию.
// Вызывается до записи байтов, поэтому после сбоя путь гарантированно известен.
func (w *WAL) Track(txID, storagePath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, err := w.readEntry(txID)
	if err != nil {
		return fmt.Errorf("не удалось прочитать запись журнала %s: %w", txID, err)
	}
	if entry.Status != StatusPending {
		return fmt.Errorf("%w: %s (%s)", ErrNotPending, txID, entry.Status)
	}

	entry.Paths = append(entry.Paths, storagePath)
	if err := w.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось обновить запись журнала %s: %w", txID, err)
	}
	return nil
}

// Commit помечает транзакцию завершённой.
func (w *WAL) Commit(txID string) error {
	return w.complete(txID, StatusCommitted)
}

// Rollback помечает транзакцию отменённой. Байты удаляет вызывающий код.
func (w *WAL) Rollback(txID string) error {
	return w.complete(txID, StatusRolledBack)
}

func (w *WAL) complete(txID string, status TransactionStatus) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, err := w.readEntry(txID)
	if err != nil {
		return fmt.Errorf("не удалось прочитать запись журнала %s: %w", txID, err)
	}
	if entry.Status != StatusPending {
		return fmt.Errorf("%w: %s (%s)", ErrNotPending, txID, entry.Status)
	}

	now := time.Now().UTC()
	entry.Status = status
	entry.CompletedAt = &now

	if err := w.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось обновить запись журнала %s: %w", txID, err)
	}

	w.logger.Debug("Транзакция журнала завершена",
		slog.String("tx_id", txID),
		slog.String("status", string(status)),
		slog.Int("paths", len(entry.Paths)),
		slog.Duration("duration", now.Sub(entry.StartedAt)),
	)
	return nil
}

// RecoverPending возвращает все pending-записи.
// Вызывается при старте сервера до приёма запросов.
func (w *WAL) RecoverPending() ([]*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(w.dir, "*.wal.json"))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	var pending []*Entry
	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), ".wal.json")
		entry, err := w.readEntry(txID)
		if err != nil {
			w.logger.Warn("Не удалось прочитать запись журнала при восстановлении",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		if entry.Status == StatusPending {
			pending = append(pending, entry)
			w.logger.Warn("Обнаружена незавершённая транзакция журнала",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
				slog.String("file_id", entry.FileID),
				slog.Int("paths", len(entry.Paths)),
				slog.Time("started_at", entry.StartedAt),
			)
		}
	}
	return pending, nil
}

// Get читает запись по идентификатору транзакции.
func (w *WAL) Get(txID string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readEntry(txID)
}

// CleanCompleted удаляет committed и rolled_back записи.
func (w *WAL) CleanCompleted() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(w.dir, "*.wal.json"))
	if err != nil {
		return 0, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	cleaned := 0
	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), ".wal.json")
		entry, err := w.readEntry(txID)
		if err != nil || entry.Status == StatusPending {
			continue
		}
		if err := os.Remove(path); err != nil {
			w.logger.Warn("Не удалось удалить завершённую запись журнала",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		w.logger.Info("Очистка журнала завершена", slog.Int("cleaned", cleaned))
	}
	return cleaned, nil
}

// writeEntry атомарно записывает запись: temp файл → fsync → rename.
func (w *WAL) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	targetPath := filepath.Join(w.dir, walFileName(entry.TransactionID))
	tmpPath := targetPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

func (w *WAL) readEntry(txID string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, walFileName(txID)))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}
	return &entry, nil
}

// Dir возвращает путь к директории журнала.
func (w *WAL) Dir() string {
	return w.dir
}
