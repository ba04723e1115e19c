package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// BulkItemResult — результат одного файла массовой загрузки.
type BulkItemResult struct {
	Index    int                   `json:"index"`
	Filename string                `json:"filename"`
	Result   *FileProcessingResult `json:"result,omitempty"`
	Error    string                `json:"error,omitempty"`
	Code     string                `json:"code,omitempty"`

	err error
}

// Err возвращает ошибку загрузки файла или nil.
func (r BulkItemResult) Err() error {
	return r.err
}

// BulkSummary — итоги массовой загрузки.
type BulkSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BulkUploadResult — результаты в порядке входных файлов.
type BulkUploadResult struct {
	Results []BulkItemResult `json:"results"`
	Summary BulkSummary      `json:"summary"`
}

// UploadMany загружает файлы пачками по opts.Concurrency.
// Пачки идут последовательно, файлы внутри пачки — параллельно.
// Ошибка или паника одного файла не влияет на остальные.
func (p *Pipeline) UploadMany(ctx context.Context, files []FileInput, actor Actor, opts UploadOptions) *BulkUploadResult {
	batch := opts.Concurrency
	if batch <= 0 {
		batch = p.cfg.BulkConcurrency
	}
	if batch <= 0 {
		batch = 1
	}

	results := make([]BulkItemResult, len(files))
	for start := 0; start < len(files); start += batch {
		end := min(start+batch, len(files))

		// errgroup без контекста: отказ одного файла не отменяет соседей
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = p.uploadItem(ctx, i, files[i], actor, opts)
				return nil
			})
		}
		_ = g.Wait()
	}

	out := &BulkUploadResult{Results: results, Summary: BulkSummary{Total: len(files)}}
	for _, r := range results {
		if r.err != nil {
			out.Summary.Failed++
		} else {
			out.Summary.Successful++
		}
	}

	p.logger.Info("Массовая загрузка завершена",
		slog.Int("total", out.Summary.Total),
		slog.Int("successful", out.Summary.Successful),
		slog.Int("failed", out.Summary.Failed),
		slog.String("user_id", actor.UserID),
	)
	return out
}

// uploadItem загружает один файл, превращая панику в ошибку элемента.
func (p *Pipeline) uploadItem(ctx context.Context, index int, in FileInput, actor Actor, opts UploadOptions) (item BulkItemResult) {
	item = BulkItemResult{Index: index, Filename: in.OriginalName}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Паника при обработке файла",
				slog.Int("index", index),
				slog.String("filename", in.OriginalName),
				slog.Any("panic", r),
			)
			item.Result = nil
			item.err = processingError("Внутренняя ошибка обработки файла", fmt.Errorf("panic: %v", r))
			item.Error = item.err.Error()
			item.Code = CodeProcessing
		}
	}()

	res, err := p.Upload(ctx, in, actor, opts)
	if err != nil {
		item.err = err
		item.Error = err.Error()
		item.Code = ErrorCode(err)
		return item
	}
	item.Result = res
	return item
}
