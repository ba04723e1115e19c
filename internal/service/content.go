package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/model"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/storage/filestore"
)

// downloadsTotal — запросы содержимого по результату.
var downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fm_downloads_total",
	Help: "Общее количество запросов содержимого файлов (по результату).",
}, []string{"result"})

// ContentOptions — какой артефакт отдавать.
type ContentOptions struct {
	// Variant — original (по умолчанию), thumbnail или compressed
	Variant model.RoleKind
	// Size — желаемый размер миниатюры; 0 — наименьшая
	Size int
}

// Content — открытый поток содержимого. Reader закрывает вызывающий.
type Content struct {
	Reader        io.ReadSeekCloser
	Record        *model.FileRecord
	ContentLength int64
	ContentType   string
}

// GetContent открывает байты файла или его варианта.
// Если запись есть, а байтов на диске нет, возвращается ErrNotFound.
func (s *FileService) GetContent(ctx context.Context, id string, actor Actor, opts ContentOptions) (*Content, error) {
	rec, err := s.loadActive(ctx, id)
	if err != nil {
		downloadsTotal.WithLabelValues("not_found").Inc()
		return nil, err
	}
	if !canRead(actor, rec) {
		downloadsTotal.WithLabelValues("denied").Inc()
		return nil, accessDeniedError(id)
	}

	target := rec
	if opts.Variant != "" && opts.Variant != model.RoleOriginal && opts.Variant != rec.Role.Kind() {
		if !rec.Role.IsOriginal() {
			return nil, notFoundError("Файл %s является вариантом и не имеет собственных вариантов", id)
		}
		variants, err := s.files.ListVariants(ctx, id, false)
		if err != nil {
			return nil, storageError("Ошибка получения вариантов", err)
		}
		target = pickVariant(variants, opts.Variant, opts.Size)
		if target == nil {
			downloadsTotal.WithLabelValues("not_found").Inc()
			return nil, notFoundError("У файла %s нет варианта %s", id, opts.Variant)
		}
	}

	f, err := s.store.Open(target.StoragePath)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			s.logger.Warn("Запись есть, но байты отсутствуют на диске",
				slog.String("file_id", target.ID),
				slog.String("storage_path", target.StoragePath),
			)
			downloadsTotal.WithLabelValues("missing_bytes").Inc()
			return nil, notFoundError("Содержимое файла %s отсутствует в хранилище", target.ID)
		}
		return nil, storageError("Ошибка открытия файла", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, storageError("Ошибка чтения атрибутов файла", err)
	}

	downloadsTotal.WithLabelValues("ok").Inc()
	return &Content{
		Reader:        f,
		Record:        target,
		ContentLength: info.Size(),
		ContentType:   target.MimeType,
	}, nil
}

// pickVariant выбирает вариант нужного вида. Для миниатюр: точный размер,
// иначе наименьший не меньше запрошенного, иначе наибольший.
func pickVariant(variants []*model.FileRecord, kind model.RoleKind, size int) *model.FileRecord {
	var exact, above, largest *model.FileRecord
	for _, v := range variants {
		if v.Role.Kind() != kind {
			continue
		}
		if kind != model.RoleThumbnail {
			return v
		}
		vs := v.Role.Size()
		switch {
		case vs == size:
			exact = v
		case vs > size && (above == nil || vs < above.Role.Size()):
			above = v
		}
		if largest == nil || vs > largest.Role.Size() {
			largest = v
		}
	}
	switch {
	case exact != nil:
		return exact
	case above != nil:
		return above
	}
	return largest
}

// ParseVariant проверяет имя варианта из запроса.
func ParseVariant(s string) (model.RoleKind, error) {
	switch model.RoleKind(s) {
	case "", model.RoleOriginal:
		return model.RoleOriginal, nil
	case model.RoleThumbnail, model.RoleCompressed:
		return model.RoleKind(s), nil
	}
	return "", validationError([]string{fmt.Sprintf("Неизвестный вариант %q", s)})
}
