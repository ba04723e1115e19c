package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/model"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/repository"
)

// dedupHitsTotal — загрузки, завершённые возвратом существующего файла.
var dedupHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fm_dedup_hits_total",
	Help: "Количество загрузок, завершённых возвратом существующего файла",
})

// Checksum вычисляет SHA-256 потока в hex.
func Checksum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("ошибка чтения данных для checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumBytes вычисляет SHA-256 буфера в hex.
func ChecksumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Deduplicator ищет активный оригинал с тем же содержимым.
type Deduplicator struct {
	files repository.FileRepository
}

// NewDeduplicator создаёт дедупликатор.
func NewDeduplicator(files repository.FileRepository) *Deduplicator {
	return &Deduplicator{files: files}
}

// FindDuplicate возвращает самый ранний активный оригинал с данным checksum,
// который actor может прочитать, или nil. Чужие приватные файлы
// не считаются дубликатами: загрузка получает собственную копию.
func (d *Deduplicator) FindDuplicate(ctx context.Context, checksum string, actor Actor) (*model.FileRecord, error) {
	rec, err := d.files.FindActiveOriginalByChecksum(ctx, checksum, actor.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, storageError("Ошибка поиска дубликата", err)
	}
	if !canRead(actor, rec) {
		return nil, nil
	}
	return rec, nil
}
