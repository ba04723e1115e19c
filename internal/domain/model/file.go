// Пакет model — доменные модели Files Module.
// FileRecord — одна запись на каждый хранимый артефакт: оригинал,
// миниатюру или сжатый вариант.
package model

import (
	"strings"
	"time"
)

// FileStatus — статус записи файла.
type FileStatus string

const (
	// StatusActive — файл доступен для операций
	StatusActive FileStatus = "active"
	// StatusDeleted — soft delete: строка сохраняется для аудита, байты удалены
	StatusDeleted FileStatus = "deleted"
)

// Category — категория файла, определяет поддиректорию хранения
// и ветку обработки.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryDocument Category = "document"
	CategoryOther    Category = "other"
)

// ParseCategory возвращает категорию по строке. ok=false для неизвестных значений.
func ParseCategory(s string) (Category, bool) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryImage:
		return CategoryImage, true
	case CategoryDocument:
		return CategoryDocument, true
	case CategoryOther:
		return CategoryOther, true
	}
	return "", false
}

// CategoryForMime определяет категорию по MIME-типу.
func CategoryForMime(mime string) Category {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return CategoryImage
	case mime == "application/pdf",
		strings.HasPrefix(mime, "text/"),
		strings.HasPrefix(mime, "application/vnd.openxmlformats-officedocument"),
		mime == "application/msword",
		mime == "application/rtf":
		return CategoryDocument
	}
	return CategoryOther
}

// Ключи metadata, которые выставляет конвейер.
const (
	MetaWidth            = "width"
	MetaHeight           = "height"
	MetaHasAlpha         = "hasAlpha"
	MetaDensity          = "density"
	MetaFormat           = "format"
	MetaEXIF             = "exif"
	MetaPageCount        = "pageCount"
	MetaAuthor           = "author"
	MetaTitle            = "title"
	MetaSubject          = "subject"
	MetaCreator          = "creator"
	MetaProducer         = "producer"
	MetaThumbnailSize    = "thumbnailSize"
	MetaQuality          = "quality"
	MetaCompressionRatio = "compressionRatio"
	MetaProcessingMs     = "processingMs"
	MetaThumbnailErrors  = "thumbnailErrors"
	MetaProcessingError  = "processingError"
	MetaExtractError     = "extractError"
	MetaCompressError    = "compressError"
	MetaCopiedFrom       = "copiedFrom"
	MetaBackupKey        = "backupKey"
	MetaBackupAt         = "backupAt"
)

// FileRecord — метаданные одного артефакта.
type FileRecord struct {
	// ID — уникальный идентификатор (UUID v4)
	ID string `json:"id"`
	// OriginalName — имя файла от клиента, только для отображения
	OriginalName string `json:"originalName"`
	// StoredName — имя на диске: {id}_{sanitizedName}
	StoredName string `json:"storedName"`
	// StoragePath — путь относительно корня загрузок, наружу не отдаётся
	StoragePath string `json:"-"`

	SizeBytes int64    `json:"sizeBytes"`
	MimeType  string   `json:"mimeType"`
	Category  Category `json:"category"`

	// Checksum — SHA-256 (hex) ровно тех байтов, что лежат по StoragePath
	Checksum string `json:"checksum"`

	UploadedBy string    `json:"uploadedBy"`
	UploadedAt time.Time `json:"uploadedAt"`

	Tags []string `json:"tags"`

	// ParentID — ссылка на оригинал, задан только у вариантов
	ParentID *string `json:"parentId,omitempty"`
	// Role — роль артефакта (оригинал, миниатюра, сжатый)
	Role ArtifactRole `json:"role"`

	Description string `json:"description,omitempty"`
	IsPublic    bool   `json:"isPublic"`

	Status    FileStatus `json:"status"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`

	Metadata map[string]any `json:"metadata"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// IsActive — запись не удалена.
func (f *FileRecord) IsActive() bool {
	return f.Status == StatusActive
}

// IsVariant — запись является производным артефактом.
func (f *FileRecord) IsVariant() bool {
	return f.ParentID != nil && *f.ParentID != ""
}

// HasTag проверяет наличие метки.
func (f *FileRecord) HasTag(tag string) bool {
	for _, t := range f.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// CascadeFailure — вариант, который не удалось очистить.
type CascadeFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// CascadeDeleteResult — результат удаления оригинала вместе с вариантами.
// Ошибки очистки отдельных вариантов не прерывают удаление, а попадают в Failed.
type CascadeDeleteResult struct {
	Removed []string         `json:"removed"`
	Failed  []CascadeFailure `json:"failed"`
}

// Complete — все артефакты очищены без ошибок.
func (r *CascadeDeleteResult) Complete() bool {
	return len(r.Failed) == 0
}
