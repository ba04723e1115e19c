package service

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/model"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/media"
)

// variantMime — все производные изображения кодируются в JPEG.
const variantMime = "image/jpeg"

// VariantOptions — какие варианты строить.
type VariantOptions struct {
	// ProcessImages — false отключает всю обработку изображений, кроме метаданных
	ProcessImages      bool
	GenerateThumbnails bool
	// ThumbnailSizes — длинная сторона миниатюр; пусто — размеры по умолчанию
	ThumbnailSizes []int
	Compress       bool
	// Quality — качество сжатого варианта; 0 — значение по умолчанию
	Quality int
}

// GeneratedVariant — байты и метаданные одного производного артефакта.
type GeneratedVariant struct {
	Role     model.ArtifactRole
	Data     []byte
	MimeType string
	Metadata map[string]any
}

// VariantSet — результат генерации: метаданные оригинала и варианты.
type VariantSet struct {
	Metadata map[string]any
	Variants []GeneratedVariant
}

// Thumbnails возвращает только миниатюры.
func (s *VariantSet) Thumbnails() []GeneratedVariant {
	var out []GeneratedVariant
	for _, v := range s.Variants {
		if v.Role.Kind() == model.RoleThumbnail {
			out = append(out, v)
		}
	}
	return out
}

// VariantGenerator строит миниатюры и сжатые копии изображений
// и извлекает метаданные документов. Ресайз выполняется на
// ограниченном пуле воркеров, общем для всех запросов.
type VariantGenerator struct {
	workers          *semaphore.Weighted
	defaultSizes     []int
	thumbnailQuality int
	compressQuality  int
	compressMaxDim   int
	maxPixels        int64
	logger           *slog.Logger
}

// NewVariantGenerator создаёт генератор. workers — число одновременных ресайзов.
func NewVariantGenerator(workers int, cfg PipelineConfig, logger *slog.Logger) *VariantGenerator {
	if workers < 1 {
		workers = 1
	}
	return &VariantGenerator{
		workers:          semaphore.NewWeighted(int64(workers)),
		defaultSizes:     cfg.ThumbnailSizes,
		thumbnailQuality: cfg.ThumbnailQuality,
		compressQuality:  cfg.CompressQuality,
		compressMaxDim:   cfg.CompressMaxDimension,
		maxPixels:        cfg.MaxImagePixels,
		logger:           logger.With(slog.String("component", "variant_generator")),
	}
}

// Generate строит варианты по категории содержимого.
// Ошибки отдельных вариантов не прерывают генерацию и записываются
// в метаданные оригинала. Ошибка возвращается только при отмене ctx.
func (g *VariantGenerator) Generate(ctx context.Context, data []byte, category model.Category, opts VariantOptions) (*VariantSet, error) {
	started := time.Now()
	set := &VariantSet{Metadata: make(map[string]any)}

	var err error
	switch category {
	case model.CategoryImage:
		err = g.generateImage(ctx, data, opts, set)
	case model.CategoryDocument:
		g.extractDocument(data, set)
	}
	if err != nil {
		return nil, err
	}

	set.Metadata[model.MetaProcessingMs] = time.Since(started).Milliseconds()
	return set, nil
}

func (g *VariantGenerator) generateImage(ctx context.Context, data []byte, opts VariantOptions, set *VariantSet) error {
	info, err := media.InspectImage(data)
	if err != nil {
		set.Metadata[model.MetaProcessingError] = err.Error()
		return nil
	}
	set.Metadata[model.MetaWidth] = info.Width
	set.Metadata[model.MetaHeight] = info.Height
	set.Metadata[model.MetaHasAlpha] = info.HasAlpha
	set.Metadata[model.MetaFormat] = info.Format

	// Заголовок может объявлять размеры, декодирование которых исчерпает память
	if err := info.CheckPixels(g.maxPixels); err != nil {
		set.Metadata[model.MetaProcessingError] = err.Error()
		return nil
	}

	if ex, err := media.ExtractExif(data); err == nil {
		if len(ex.Fields) > 0 {
			set.Metadata[model.MetaEXIF] = ex.Fields
		}
		if ex.Density > 0 {
			set.Metadata[model.MetaDensity] = ex.Density
		}
	}

	if !opts.ProcessImages || (!opts.GenerateThumbnails && !opts.Compress) {
		return nil
	}

	img, _, err := media.DecodeImage(data)
	if err != nil {
		set.Metadata[model.MetaProcessingError] = err.Error()
		return nil
	}

	if opts.GenerateThumbnails {
		sizes := normalizeSizes(opts.ThumbnailSizes)
		if len(sizes) == 0 {
			sizes = normalizeSizes(g.defaultSizes)
		}
		thumbs, failures, err := g.thumbnails(ctx, img, sizes)
		if err != nil {
			return err
		}
		set.Variants = append(set.Variants, thumbs...)
		if len(failures) > 0 {
			set.Metadata[model.MetaThumbnailErrors] = failures
		}
	}

	if opts.Compress {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := g.compressDecoded(ctx, img, len(data), opts.Quality)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			set.Metadata[model.MetaCompressError] = err.Error()
		} else {
			set.Variants = append(set.Variants, *v)
		}
	}
	return nil
}

// thumbnails строит миниатюры параллельно в пределах пула воркеров.
// Порядок результата совпадает с порядком sizes.
func (g *VariantGenerator) thumbnails(ctx context.Context, img image.Image, sizes []int) ([]GeneratedVariant, []map[string]any, error) {
	type outcome struct {
		variant *GeneratedVariant
		err     error
	}
	results := make([]outcome, len(sizes))

	var wg sync.WaitGroup
	for i, size := range sizes {
		if err := g.workers.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer g.workers.Release(1)
			v, err := g.thumbnail(img, size)
			results[i] = outcome{variant: v, err: err}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		variants []GeneratedVariant
		failures []map[string]any
	)
	for i, r := range results {
		if r.err != nil {
			g.logger.Warn("Не удалось построить миниатюру",
				slog.Int("size", sizes[i]),
				slog.String("error", r.err.Error()),
			)
			failures = append(failures, map[string]any{"size": sizes[i], "error": r.err.Error()})
			continue
		}
		variants = append(variants, *r.variant)
	}
	return variants, failures, nil
}

func (g *VariantGenerator) thumbnail(img image.Image, size int) (*GeneratedVariant, error) {
	role, err := model.Thumbnail(size)
	if err != nil {
		return nil, err
	}
	resized, err := media.Resize(img, size)
	if err != nil {
		return nil, err
	}
	data, err := media.EncodeJPEG(resized, g.thumbnailQuality)
	if err != nil {
		return nil, err
	}
	b := resized.Bounds()
	return &GeneratedVariant{
		Role:     role,
		Data:     data,
		MimeType: variantMime,
		Metadata: map[string]any{
			model.MetaThumbnailSize: size,
			model.MetaWidth:         b.Dx(),
			model.MetaHeight:        b.Dy(),
			model.MetaQuality:       media.ClampQuality(g.thumbnailQuality),
		},
	}, nil
}

// Compress строит сжатый вариант существующего изображения.
func (g *VariantGenerator) Compress(ctx context.Context, data []byte, quality int) (*GeneratedVariant, error) {
	img, _, err := media.DecodeImageLimited(data, g.maxPixels)
	if err != nil {
		return nil, err
	}
	return g.compressDecoded(ctx, img, len(data), quality)
}

// compressDecoded уменьшает длинную сторону до compressMaxDim (без увеличения)
// и кодирует JPEG с заданным качеством.
func (g *VariantGenerator) compressDecoded(ctx context.Context, img image.Image, originalSize, quality int) (*GeneratedVariant, error) {
	if quality == 0 {
		quality = g.compressQuality
	}
	quality = media.ClampQuality(quality)

	if err := g.workers.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.workers.Release(1)

	b := img.Bounds()
	var (
		out image.Image
		err error
	)
	if g.compressMaxDim > 0 && max(b.Dx(), b.Dy()) > g.compressMaxDim {
		out, err = media.Resize(img, g.compressMaxDim)
		if err != nil {
			return nil, err
		}
	} else {
		out = media.Flatten(img)
	}

	data, err := media.EncodeJPEG(out, quality)
	if err != nil {
		return nil, err
	}

	ob := out.Bounds()
	meta := map[string]any{
		model.MetaQuality: quality,
		model.MetaWidth:   ob.Dx(),
		model.MetaHeight:  ob.Dy(),
	}
	if len(data) > 0 {
		meta[model.MetaCompressionRatio] = math.Round(float64(originalSize)/float64(len(data))*100) / 100
	}
	return &GeneratedVariant{
		Role:     model.Compressed(),
		Data:     data,
		MimeType: variantMime,
		Metadata: meta,
	}, nil
}

// extractDocument извлекает метаданные PDF. Остальные документы не разбираются.
func (g *VariantGenerator) extractDocument(data []byte, set *VariantSet) {
	if media.DetectMIME(data) != "application/pdf" {
		return
	}
	info, err := media.ExtractPDFInfo(data)
	if err != nil {
		g.logger.Debug("Не удалось извлечь метаданные PDF", slog.String("error", err.Error()))
		set.Metadata[model.MetaExtractError] = err.Error()
		return
	}

	set.Metadata[model.MetaPageCount] = info.PageCount
	for key, val := range map[string]string{
		model.MetaAuthor:   info.Author,
		model.MetaTitle:    info.Title,
		model.MetaSubject:  info.Subject,
		model.MetaCreator:  info.Creator,
		model.MetaProducer: info.Producer,
	} {
		if val != "" {
			set.Metadata[key] = val
		}
	}
}

// normalizeSizes отбрасывает неположительные значения и повторы, сортирует.
func normalizeSizes(sizes []int) []int {
	out := make([]int, 0, len(sizes))
	for _, s := range sizes {
		if s > 0 && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}

// validateSizes проверяет размеры миниатюр из запроса клиента.
func validateSizes(sizes []int, maxSize int) error {
	for _, s := range sizes {
		if s <= 0 || s > maxSize {
			return fmt.Errorf("размер миниатюры %d вне диапазона 1..%d", s, maxSize)
		}
	}
	return nil
}
