package service

import (
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/config"
)

// PipelineConfig — параметры конвейера, передаваемые при создании сервисов.
type PipelineConfig struct {
	MaxFileSize          int64
	AllowedMimeTypes     []string
	ThumbnailSizes       []int
	ThumbnailQuality     int
	CompressQuality      int
	CompressMaxDimension int
	BulkConcurrency      int
	// MaxImagePixels — предел площади изображения для декодирования
	MaxImagePixels int64
}

// NewPipelineConfig извлекает параметры конвейера из конфигурации сервиса.
func NewPipelineConfig(cfg *config.Config) PipelineConfig {
	return PipelineConfig{
		MaxFileSize:          cfg.MaxFileSize,
		AllowedMimeTypes:     cfg.AllowedMimeTypes,
		ThumbnailSizes:       cfg.ThumbnailSizes,
		ThumbnailQuality:     cfg.ThumbnailQuality,
		CompressQuality:      cfg.CompressQuality,
		CompressMaxDimension: cfg.CompressMaxDimension,
		BulkConcurrency:      cfg.BulkConcurrency,
		MaxImagePixels:       cfg.MaxImagePixels,
	}
}

// policy — ограничения валидатора.
func (c PipelineConfig) policy() Policy {
	return Policy{MaxSize: c.MaxFileSize, AllowedMimeTypes: c.AllowedMimeTypes}
}
