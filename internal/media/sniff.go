// Пакет media — разбор содержимого загружаемых файлов:
// определение MIME-типа по сигнатуре, декодирование и масштабирование
// изображений, извлечение EXIF и метаданных PDF.
package media

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DetectMIME определяет MIME-тип по содержимому (без параметров вроде charset).
func DetectMIME(data []byte) string {
	return BaseMIME(mimetype.Detect(data).String())
}

// BaseMIME отбрасывает параметры и приводит тип к нижнему регистру:
// "text/plain; charset=utf-8" → "text/plain".
func BaseMIME(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// Extension возвращает расширение для MIME-типа содержимого (".jpg", ".pdf"),
// пустую строку если тип неизвестен.
func Extension(data []byte) string {
	return mimetype.Detect(data).Extension()
}
