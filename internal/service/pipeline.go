package service

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/model"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/lock"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/repository"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/storage/filestore"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/storage/wal"
)

// maxThumbnailSize — предел размера миниатюры, запрашиваемого клиентом.
const maxThumbnailSize = 4096

// Prometheus-метрики конвейера.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_uploads_total",
		Help: "Общее количество загрузок (по результату).",
	}, []string{"result"})

	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fm_upload_duration_seconds",
		Help:    "Длительность обработки одной загрузки.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	variantsGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_variants_generated_total",
		Help: "Общее количество сохранённых вариантов (по роли).",
	}, []string{"role"})
)

// FileInput — загружаемый файл.
type FileInput struct {
	// OriginalName — имя от клиента, только для отображения
	OriginalName string
	// MimeType — заявленный клиентом тип; решающим является тип по содержимому
	MimeType  string
	SizeBytes int64
	Data      []byte
}

// UploadOptions — параметры загрузки. Nil в GenerateThumbnails
// и ProcessImages означает true.
type UploadOptions struct {
	Category           string
	Tags               []string
	Description        string
	IsPublic           bool
	PreventDuplicates  bool
	GenerateThumbnails *bool
	ProcessImages      *bool
	ThumbnailSizes     []int
	Compress           bool
	Quality            int
	// Concurrency — размер пачки UploadMany; 0 — из конфигурации
	Concurrency int
}

func (o UploadOptions) generateThumbnails() bool {
	return o.GenerateThumbnails == nil || *o.GenerateThumbnails
}

func (o UploadOptions) processImages() bool {
	return o.ProcessImages == nil || *o.ProcessImages
}

// FileProcessingResult — результат загрузки.
type FileProcessingResult struct {
	OriginalFile *model.FileRecord `json:"originalFile"`
	// ProcessedFiles — сжатые варианты
	ProcessedFiles []*model.FileRecord `json:"processedFiles"`
	Thumbnails     []*model.FileRecord `json:"thumbnails"`
	Metadata       map[string]any      `json:"metadata"`
	// Duplicate — возвращён существующий файл, новых записей нет
	Duplicate bool `json:"duplicate"`
}

// Pipeline — конвейер загрузки: валидация → дедупликация →
// генерация вариантов → запись.
type Pipeline struct {
	cfg       PipelineConfig
	validator *Validator
	dedup     *Deduplicator
	generator *VariantGenerator
	writer    *PersistenceWriter
	files     repository.FileRepository
	locker    lock.Locker
	logger    *slog.Logger
}

// NewPipeline создаёт конвейер загрузки.
func NewPipeline(
	cfg PipelineConfig,
	validator *Validator,
	dedup *Deduplicator,
	generator *VariantGenerator,
	writer *PersistenceWriter,
	files repository.FileRepository,
	locker lock.Locker,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		validator: validator,
		dedup:     dedup,
		generator: generator,
		writer:    writer,
		files:     files,
		locker:    locker,
		logger:    logger.With(slog.String("component", "pipeline")),
	}
}

// Upload проводит файл через все стадии конвейера.
//
// При PreventDuplicates берётся блокировка по checksum, которая держится
// от поиска дубликата до создания записей: две одновременные загрузки
// одинакового содержимого не создадут две записи.
func (p *Pipeline) Upload(ctx context.Context, in FileInput, actor Actor, opts UploadOptions) (*FileProcessingResult, error) {
	started := time.Now()
	res, err := p.upload(ctx, in, actor, opts)
	uploadDuration.Observe(time.Since(started).Seconds())

	switch {
	case err != nil:
		uploadsTotal.WithLabelValues(resultLabel(err)).Inc()
	case res.Duplicate:
		uploadsTotal.WithLabelValues("duplicate").Inc()
	default:
		uploadsTotal.WithLabelValues("success").Inc()
	}
	return res, err
}

func (p *Pipeline) upload(ctx context.Context, in FileInput, actor Actor, opts UploadOptions) (*FileProcessingResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 1. Параметры запроса
	if err := validateSizes(opts.ThumbnailSizes, maxThumbnailSize); err != nil {
		return nil, validationError([]string{err.Error()})
	}
	var category model.Category
	if opts.Category != "" {
		c, ok := model.ParseCategory(opts.Category)
		if !ok {
			return nil, validationError([]string{fmt.Sprintf("Неизвестная категория %q", opts.Category)})
		}
		category = c
	}

	// 2. Валидация
	vr, err := p.validator.Validate(ctx, in, p.cfg.policy(), actor)
	if err != nil {
		return nil, err
	}
	if !vr.IsValid {
		p.logger.Info("Файл отклонён валидатором",
			slog.String("filename", in.OriginalName),
			slog.String("user_id", actor.UserID),
			slog.Any("errors", vr.Errors),
		)
		return nil, validationError(vr.Errors)
	}
	if category == "" {
		category = vr.Category
	}

	// 3. Дедупликация
	checksum := ChecksumBytes(in.Data)
	if opts.PreventDuplicates {
		unlock, err := p.locker.Lock(ctx, checksum)
		if err != nil {
			return nil, storageError("Не удалось получить блокировку по checksum", err)
		}
		defer unlock()

		dup, err := p.dedup.FindDuplicate(ctx, checksum, actor)
		if err != nil {
			return nil, err
		}
		if dup != nil {
			return p.duplicateResult(ctx, dup)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 4. Генерация вариантов (ветка обработки — по типу содержимого)
	set, err := p.generator.Generate(ctx, in.Data, vr.Category, VariantOptions{
		ProcessImages:      opts.processImages(),
		GenerateThumbnails: opts.generateThumbnails(),
		ThumbnailSizes:     opts.ThumbnailSizes,
		Compress:           opts.Compress,
		Quality:            opts.Quality,
	})
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 5. Запись
	now := time.Now().UTC()
	original := &model.FileRecord{
		ID:           uuid.New().String(),
		OriginalName: in.OriginalName,
		MimeType:     vr.DetectedMime,
		Category:     category,
		Checksum:     checksum,
		UploadedBy:   actor.UserID,
		UploadedAt:   now,
		Tags:         normalizeTags(opts.Tags),
		Role:         model.Original(),
		Description:  opts.Description,
		IsPublic:     opts.IsPublic,
		Status:       model.StatusActive,
		Metadata:     set.Metadata,
	}

	artifacts := []Artifact{{
		Record: original,
		Data:   in.Data,
		Subdir: filestore.SubdirFor(string(category)),
		Name:   in.OriginalName,
	}}
	for _, v := range set.Variants {
		artifacts = append(artifacts, variantArtifact(original, v, now))
	}

	guard, err := p.validator.quotas.Guard(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := p.writer.Persist(ctx, wal.OpUpload, original.ID, artifacts, guard); err != nil {
		return nil, err
	}

	result := &FileProcessingResult{
		OriginalFile:   original,
		ProcessedFiles: []*model.FileRecord{},
		Thumbnails:     []*model.FileRecord{},
		Metadata:       original.Metadata,
	}
	for _, a := range artifacts[1:] {
		variantsGeneratedTotal.WithLabelValues(string(a.Record.Role.Kind())).Inc()
		if a.Record.Role.Kind() == model.RoleThumbnail {
			result.Thumbnails = append(result.Thumbnails, a.Record)
		} else {
			result.ProcessedFiles = append(result.ProcessedFiles, a.Record)
		}
	}

	p.logger.Info("Файл загружен",
		slog.String("file_id", original.ID),
		slog.String("filename", in.OriginalName),
		slog.String("mime_type", original.MimeType),
		slog.Int64("size", original.SizeBytes),
		slog.String("checksum", original.Checksum),
		slog.Int("variants", len(artifacts)-1),
		slog.String("uploaded_by", actor.UserID),
	)
	return result, nil
}

// duplicateResult собирает результат из существующего оригинала и его вариантов.
func (p *Pipeline) duplicateResult(ctx context.Context, dup *model.FileRecord) (*FileProcessingResult, error) {
	variants, err := p.files.ListVariants(ctx, dup.ID, false)
	if err != nil {
		return nil, storageError("Ошибка получения вариантов дубликата", err)
	}

	result := &FileProcessingResult{
		OriginalFile:   dup,
		ProcessedFiles: []*model.FileRecord{},
		Thumbnails:     []*model.FileRecord{},
		Metadata:       dup.Metadata,
		Duplicate:      true,
	}
	for _, v := range variants {
		if v.Role.Kind() == model.RoleThumbnail {
			result.Thumbnails = append(result.Thumbnails, v)
		} else {
			result.ProcessedFiles = append(result.ProcessedFiles, v)
		}
	}

	dedupHitsTotal.Inc()
	p.logger.Info("Найден дубликат, загрузка не выполняется",
		slog.String("file_id", dup.ID),
		slog.String("checksum", dup.Checksum),
	)
	return result, nil
}

// variantArtifact создаёт запись варианта, унаследовав владельца и видимость оригинала.
func variantArtifact(original *model.FileRecord, v GeneratedVariant, now time.Time) Artifact {
	parentID := original.ID
	rec := &model.FileRecord{
		ID:           uuid.New().String(),
		OriginalName: original.OriginalName,
		MimeType:     v.MimeType,
		Category:     model.CategoryImage,
		UploadedBy:   original.UploadedBy,
		UploadedAt:   now,
		Tags:         []string{v.Role.Tag()},
		ParentID:     &parentID,
		Role:         v.Role,
		IsPublic:     original.IsPublic,
		Status:       model.StatusActive,
		Metadata:     v.Metadata,
	}
	return Artifact{
		Record: rec,
		Data:   v.Data,
		Subdir: v.Role.Subdir(),
		Name:   variantName(original.OriginalName, v.Role),
	}
}

// variantName — имя файла варианта: site.png → site_thumb150.jpg.
func variantName(originalName string, role model.ArtifactRole) string {
	base := path.Base(strings.ReplaceAll(originalName, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	suffix := "compressed"
	if role.Kind() == model.RoleThumbnail {
		suffix = fmt.Sprintf("thumb%d", role.Size())
	}
	return base + "_" + suffix + ".jpg"
}

// normalizeTags убирает пустые метки и повторы.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// resultLabel — метка результата для метрик по виду ошибки.
func resultLabel(err error) string {
	switch ErrorCode(err) {
	case CodeValidation:
		return "rejected"
	case CodeNotFound:
		return "not_found"
	case CodeProcessing:
		return "processing_error"
	}
	return "error"
}
