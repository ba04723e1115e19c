// Пакет service — бизнес-логика Files Module: конвейер загрузки
// (валидация, дедупликация, генерация вариантов, запись), выдача
// содержимого, каскадное удаление и массовые операции.
package service

import (
	"errors"
	"fmt"
	"strings"
)

// Виды ошибок. Проверяются через errors.Is.
var (
	ErrValidation   = errors.New("файл не прошёл валидацию")
	ErrNotFound     = errors.New("файл не найден")
	ErrProcessing   = errors.New("ошибка обработки файла")
	ErrStorage      = errors.New("ошибка хранилища файлов")
	ErrAccessDenied = errors.New("доступ к файлу запрещён")
)

// Коды ошибок для клиента.
const (
	CodeValidation   = "FILE_VALIDATION_ERROR"
	CodeNotFound     = "FILE_NOT_FOUND"
	CodeProcessing   = "FILE_PROCESSING_ERROR"
	CodeStorage      = "FILE_STORAGE_ERROR"
	CodeAccessDenied = "FILE_ACCESS_DENIED"
)

// FileError — ошибка операции с файлом.
// Kind — один из ErrValidation, ErrNotFound, ErrProcessing, ErrStorage, ErrAccessDenied.
type FileError struct {
	Kind    error
	Code    string
	Message string
	// Details — отдельные причины (накопленные ошибки валидации)
	Details []string
	// cause — исходная ошибка, только для логов
	cause error
}

func (e *FileError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Details, "; "))
		b.WriteString(")")
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap возвращает вид ошибки.
func (e *FileError) Unwrap() error {
	return e.Kind
}

func validationError(details []string) *FileError {
	return &FileError{
		Kind:    ErrValidation,
		Code:    CodeValidation,
		Message: "Файл не прошёл валидацию",
		Details: details,
	}
}

func notFoundError(format string, args ...any) *FileError {
	return &FileError{Kind: ErrNotFound, Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func accessDeniedError(id string) *FileError {
	return &FileError{Kind: ErrAccessDenied, Code: CodeAccessDenied, Message: fmt.Sprintf("Нет доступа к файлу %s", id)}
}

func processingError(msg string, cause error) *FileError {
	return &FileError{Kind: ErrProcessing, Code: CodeProcessing, Message: msg, cause: cause}
}

func storageError(msg string, cause error) *FileError {
	return &FileError{Kind: ErrStorage, Code: CodeStorage, Message: msg, cause: cause}
}

// ErrorCode возвращает код ошибки для клиента. Ошибки вне FileError
// считаются ошибками хранилища.
func ErrorCode(err error) string {
	var fe *FileError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeStorage
}
