package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/model"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/media"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/scan"
)

// maxOriginalNameLen — предел длины имени файла от клиента в байтах.
const maxOriginalNameLen = 255

// Policy — ограничения, проверяемые валидатором.
type Policy struct {
	MaxSize int64
	// AllowedMimeTypes — разрешённые типы; допускается маска "image/*".
	// Пустой список разрешает всё.
	AllowedMimeTypes []string
}

// ValidationResult — итог проверки. Errors накапливаются, проверка
// не прерывается на первой ошибке.
type ValidationResult struct {
	IsValid      bool
	Errors       []string
	DetectedMime string
	Category     model.Category
}

// Validator проверяет файл до любой записи на диск или в БД.
type Validator struct {
	scanner scan.Scanner
	quotas  *QuotaService
	logger  *slog.Logger
}

// NewValidator создаёт валидатор.
func NewValidator(scanner scan.Scanner, quotas *QuotaService, logger *slog.Logger) *Validator {
	return &Validator{
		scanner: scanner,
		quotas:  quotas,
		logger:  logger.With(slog.String("component", "validator")),
	}
}

// Validate проверяет размер, имя, MIME-тип по содержимому, отсутствие
// вредоносного кода и квоту. Возвращает ошибку только если проверку
// квоты выполнить не удалось.
func (v *Validator) Validate(ctx context.Context, in FileInput, policy Policy, actor Actor) (*ValidationResult, error) {
	res := &ValidationResult{}
	size := int64(len(in.Data))

	if size == 0 {
		res.Errors = append(res.Errors, "Файл пуст")
	}
	if policy.MaxSize > 0 && size > policy.MaxSize {
		res.Errors = append(res.Errors, fmt.Sprintf("Размер файла %s превышает максимум %s",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(policy.MaxSize))))
	}
	if msg := checkOriginalName(in.OriginalName); msg != "" {
		res.Errors = append(res.Errors, msg)
	}

	if size > 0 {
		res.DetectedMime = media.DetectMIME(in.Data)
		res.Category = model.CategoryForMime(res.DetectedMime)

		if declared := media.BaseMIME(in.MimeType); declared != "" && declared != res.DetectedMime {
			v.logger.Debug("Заявленный MIME-тип не совпадает с содержимым",
				slog.String("declared", declared),
				slog.String("detected", res.DetectedMime),
				slog.String("filename", in.OriginalName),
			)
		}
		if !mimeAllowed(res.DetectedMime, policy.AllowedMimeTypes) {
			res.Errors = append(res.Errors, fmt.Sprintf("Тип файла %s не разрешён", res.DetectedMime))
		}
	}

	// Слишком большие файлы в антивирус не отправляются
	if size > 0 && (policy.MaxSize <= 0 || size <= policy.MaxSize) {
		verdict, err := v.scanner.Scan(ctx, bytes.NewReader(in.Data))
		switch {
		case err != nil:
			v.logger.Warn("Антивирусная проверка недоступна",
				slog.String("filename", in.OriginalName),
				slog.String("error", err.Error()),
			)
			res.Errors = append(res.Errors, "Антивирусная проверка недоступна, файл отклонён")
		case verdict.Infected:
			res.Errors = append(res.Errors, fmt.Sprintf("Обнаружено вредоносное содержимое: %s", verdict.Signature))
		}
	}

	quota, err := v.quotas.Get(ctx, actor)
	if err != nil {
		return nil, err
	}
	if quota.Exceeds(size) {
		res.Errors = append(res.Errors, fmt.Sprintf("Превышена квота: занято %s из %s, размер файла %s",
			humanize.IBytes(uint64(quota.Used)), humanize.IBytes(uint64(quota.Limit)), humanize.IBytes(uint64(size))))
	}

	res.IsValid = len(res.Errors) == 0
	return res, nil
}

// checkOriginalName возвращает описание проблемы с именем или пустую строку.
func checkOriginalName(name string) string {
	trimmed := strings.TrimSpace(name)
	switch {
	case trimmed == "", trimmed == ".", trimmed == "..":
		return "Имя файла не задано"
	case len(name) > maxOriginalNameLen:
		return fmt.Sprintf("Имя файла длиннее %d байт", maxOriginalNameLen)
	case !utf8.ValidString(name), strings.ContainsRune(name, 0):
		return "Имя файла содержит недопустимые символы"
	}
	return ""
}

// mimeAllowed проверяет тип по списку с поддержкой масок "type/*".
func mimeAllowed(mime string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		a = media.BaseMIME(a)
		if a == mime || a == "*/*" {
			return true
		}
		if prefix, ok := strings.CutSuffix(a, "/*"); ok && strings.HasPrefix(mime, prefix+"/") {
			return true
		}
	}
	return false
}
