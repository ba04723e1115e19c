// Пакет filestore — операции с физическими файлами в корне загрузок.
// Обеспечивает streaming-запись с подсчётом SHA-256 на лету, раскладку
// по поддиректориям категорий и вариантов, защиту от выхода за корень,
// чтение, перемещение и удаление.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Поддиректории корня загрузок.
const (
	SubdirImages     = "images"
	SubdirDocuments  = "documents"
	SubdirThumbnails = "thumbnails"
	SubdirCompressed = "compressed"
	SubdirOther      = "other"
)

// Subdirs — все поддиректории, создаваемые при старте.
var Subdirs = []string{SubdirImages, SubdirDocuments, SubdirThumbnails, SubdirCompressed, SubdirOther}

// tmpSuffix — суффикс временных файлов до атомарного rename.
const tmpSuffix = ".tmp"

// maxNameLen — ограничение длины очищенного имени (без расширения).
const maxNameLen = 80

var (
	// ErrPathEscape — путь выходит за пределы корня загрузок.
	ErrPathEscape = errors.New("путь выходит за пределы корня загрузок")
	// ErrNotFound — файл отсутствует на диске.
	ErrNotFound = errors.New("файл не найден на диске")
	// ErrInvalidSubdir — неизвестная поддиректория.
	ErrInvalidSubdir = errors.New("недопустимая поддиректория")
)

// FileStore — управление физическими файлами на диске.
type FileStore struct {
	// root — абсолютный путь корня загрузок (FM_UPLOAD_DIR)
	root string
}

// SaveResult — результат сохранения файла на диск.
type SaveResult struct {
	// StoredName — имя файла: {id}_{sanitizedName}
	StoredName string
	// StoragePath — путь относительно корня: {subdir}/{StoredName}
	StoragePath string
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого файла
	Checksum string
}

// New создаёт FileStore и все поддиректории корня.
func New(root string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("некорректный путь корня загрузок %s: %w", root, err)
	}
	for _, sub := range Subdirs {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o750); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию %s: %w", sub, err)
		}
	}
	return &FileStore{root: abs}, nil
}

// Save записывает данные из reader в {subdir}/{id}_{sanitizedName}
// с подсчётом SHA-256 на лету.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename →
// fsync директории. При ошибке или отмене ctx temp файл удаляется.
func (s *FileStore) Save(ctx context.Context, reader io.Reader, id, proposedName, subdir string) (*SaveResult, error) {
	if !validSubdir(subdir) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubdir, subdir)
	}

	storedName := StoredName(id, proposedName)
	rel := filepath.Join(subdir, storedName)
	fullPath, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}

	// Идемпотентное создание директории назначения
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания директории: %w", err)
	}

	size, checksum, err := writeAtomic(ctx, fullPath, reader)
	if err != nil {
		return nil, err
	}

	return &SaveResult{
		StoredName:  storedName,
		StoragePath: filepath.ToSlash(rel),
		FullPath:    fullPath,
		Size:        size,
		Checksum:    checksum,
	}, nil
}

// writeAtomic пишет reader во временный файл и переименовывает его в fullPath.
func writeAtomic(ctx context.Context, fullPath string, reader io.Reader) (int64, string, error) {
	tmpPath := fullPath + tmpSuffix

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, "", fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	tee := io.TeeReader(&ctxReader{ctx: ctx, r: reader}, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	// Без fsync директории запись о новом имени может не пережить сбой питания
	if err := syncDir(filepath.Dir(fullPath)); err != nil {
		os.Remove(fullPath)
		return 0, "", err
	}

	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

// syncDir сбрасывает на диск изменения записей директории.
// Переменная — чтобы тесты могли наблюдать вызовы.
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("ошибка открытия директории %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("ошибка fsync директории %s: %w", dir, err)
	}
	return nil
}

// Open открывает файл для чтения. Вызывающий код обязан закрыть файл.
func (s *FileStore) Open(storagePath string) (*os.File, error) {
	fullPath, err := s.resolve(storagePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storagePath, err)
	}
	return f, nil
}

// ReadAll читает файл целиком.
func (s *FileStore) ReadAll(storagePath string) ([]byte, error) {
	f, err := s.Open(storagePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Delete удаляет файл с диска. Возвращает nil если файл уже не существует.
func (s *FileStore) Delete(storagePath string) error {
	fullPath, err := s.resolve(storagePath)
	if err != nil {
		return err
	}

	err = os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storagePath, err)
	}
	return nil
}

// Move переносит файл в другую поддиректорию, сохраняя имя.
// Возвращает новый относительный путь.
func (s *FileStore) Move(storagePath, subdir string) (string, error) {
	if !validSubdir(subdir) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubdir, subdir)
	}
	src, err := s.resolve(storagePath)
	if err != nil {
		return "", err
	}
	rel := filepath.Join(subdir, filepath.Base(storagePath))
	dst, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	if src == dst {
		return filepath.ToSlash(rel), nil
	}
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return "", fmt.Errorf("ошибка перемещения %s: %w", storagePath, err)
	}
	for _, dir := range []string{filepath.Dir(dst), filepath.Dir(src)} {
		if err := syncDir(dir); err != nil {
			return "", err
		}
	}
	return filepath.ToSlash(rel), nil
}

// Exists проверяет существование файла на диске.
func (s *FileStore) Exists(storagePath string) bool {
	fullPath, err := s.resolve(storagePath)
	if err != nil {
		return false
	}
	info, err := os.Stat(fullPath)
	return err == nil && info.Mode().IsRegular()
}

// Size возвращает размер файла на диске.
func (s *FileStore) Size(storagePath string) (int64, error) {
	fullPath, err := s.resolve(storagePath)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return 0, fmt.Errorf("ошибка получения информации о файле %s: %w", storagePath, err)
	}
	return info.Size(), nil
}

// ComputeChecksum вычисляет SHA-256 хэш существующего файла.
// Используется при сверке для проверки целостности.
func (s *FileStore) ComputeChecksum(storagePath string) (string, error) {
	f, err := s.Open(storagePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("ошибка вычисления checksum %s: %w", storagePath, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Walk обходит файлы во всех поддиректориях. fn получает относительный путь.
// Временные файлы тоже передаются: сверка удаляет зависшие .tmp.
func (s *FileStore) Walk(fn func(storagePath string, info fs.FileInfo) error) error {
	for _, sub := range Subdirs {
		dir := filepath.Join(s.root, sub)
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			rel, err := filepath.Rel(s.root, path)
			if err != nil {
				return err
			}
			return fn(filepath.ToSlash(rel), info)
		})
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("ошибка обхода %s: %w", sub, err)
		}
	}
	return nil
}

// IsTemp — путь указывает на незавершённую запись.
func IsTemp(storagePath string) bool {
	return strings.HasSuffix(storagePath, tmpSuffix)
}

// Root возвращает абсолютный путь корня загрузок.
func (s *FileStore) Root() string {
	return s.root
}

// resolve превращает относительный путь в абсолютный, отклоняя
// выход за корень (../, абсолютные пути, симлинки-компоненты не проверяются).
func (s *FileStore) resolve(storagePath string) (string, error) {
	if storagePath == "" || filepath.IsAbs(storagePath) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, storagePath)
	}
	full := filepath.Clean(filepath.Join(s.root, filepath.FromSlash(storagePath)))
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, storagePath)
	}
	return full, nil
}

// SubdirFor возвращает поддиректорию оригинала по категории.
func SubdirFor(category string) string {
	switch category {
	case "image":
		return SubdirImages
	case "document":
		return SubdirDocuments
	}
	return SubdirOther
}

func validSubdir(subdir string) bool {
	for _, s := range Subdirs {
		if s == subdir {
			return true
		}
	}
	return false
}

// StoredName генерирует имя файла для хранения: {id}_{sanitizedName}.
// Пример: 3f0c..._site-photo.jpg
func StoredName(id, originalName string) string {
	return id + "_" + SanitizeName(originalName)
}

// PathFor возвращает относительный путь, по которому Save запишет файл.
// Путь регистрируется в журнале до записи байтов.
func PathFor(id, proposedName, subdir string) string {
	return filepath.ToSlash(filepath.Join(subdir, StoredName(id, proposedName)))
}

// SanitizeName очищает имя от клиента: отбрасывает компоненты пути,
// оставляет буквы, цифры, дефис, подчёркивание и точку расширения.
func SanitizeName(name string) string {
	// Клиенты на Windows присылают обратные слэши
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(name, filepath.Ext(name))

	ext = sanitize(strings.TrimPrefix(ext, "."), "")
	base = sanitize(base, "file")
	if r := []rune(base); len(r) > maxNameLen {
		base = string(r[:maxNameLen])
	}
	if len(ext) > 10 {
		ext = ext[:10]
	}

	if ext == "" {
		return base
	}
	return base + "." + ext
}

// sanitize оставляет только буквы, цифры, дефис и подчёркивание.
// Пробелы заменяются на дефис.
func sanitize(s, fallback string) string {
	var result strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			result.WriteRune(r)
		case unicode.IsSpace(r):
			result.WriteRune('-')
		}
	}
	if result.Len() == 0 {
		return fallback
	}
	return result.String()
}

// ctxReader прерывает чтение при отмене контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
