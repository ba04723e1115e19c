package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/model"
)

// FileRepository — доступ к таблице files.
type FileRepository interface {
	// CreateArtifacts вставляет оригинал (может быть nil) и его варианты
	// в одной транзакции. Оригинал вставляется первым; каждый вариант
	// вставляется только если его родитель — активный оригинал.
	// При непустом quota занятый объём владельца проверяется в той же
	// транзакции под блокировкой пользователя (ErrQuotaExceeded).
	CreateArtifacts(ctx context.Context, original *model.FileRecord, variants []*model.FileRecord, quota *QuotaGuard) error
	// GetByID возвращает запись с любым статусом.
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)
	// FindActiveOriginalByChecksum возвращает самый ранний активный оригинал
	// с данным checksum среди файлов пользователя visibleTo и публичных.
	FindActiveOriginalByChecksum(ctx context.Context, checksum, visibleTo string) (*model.FileRecord, error)
	// ListVariants возвращает варианты оригинала.
	ListVariants(ctx context.Context, parentID string, includeDeleted bool) ([]*model.FileRecord, error)
	// List возвращает активные оригиналы с фильтрацией.
	List(ctx context.Context, filters FileListFilters, limit, offset int) ([]*model.FileRecord, error)
	// Count возвращает количество активных оригиналов с фильтрацией.
	Count(ctx context.Context, filters FileListFilters) (int, error)
	// MarkDeleted выполняет soft delete (status → deleted).
	MarkDeleted(ctx context.Context, ids []string) (int, error)
	// DeletePermanent удаляет строки физически.
	DeletePermanent(ctx context.Context, ids []string) (int, error)
	// UpdateLocation меняет категорию и путь хранения.
	UpdateLocation(ctx context.Context, id string, category model.Category, storagePath string) error
	// MergeMetadata дописывает ключи в metadata (jsonb ||).
	MergeMetadata(ctx context.Context, id string, patch map[string]any) error
	// UsedBytes — суммарный размер активных артефактов пользователя.
	UsedBytes(ctx context.Context, userID string) (int64, error)
	// ActiveArtifacts возвращает все активные артефакты для сверки с диском.
	ActiveArtifacts(ctx context.Context) ([]ArtifactRef, error)
	// FindActivePaths возвращает те пути из списка, на которые ссылаются активные записи.
	FindActivePaths(ctx context.Context, paths []string) ([]string, error)
}

// FileListFilters — фильтры для списка файлов.
type FileListFilters struct {
	UploadedBy *string
	Category   *model.Category
	// IncludePublic — добавить публичные файлы других пользователей
	IncludePublic bool
}

// QuotaGuard — квота, проверяемая при вставке.
type QuotaGuard struct {
	UserID string
	Limit  int64
}

// ArtifactRef — краткая информация об артефакте для сверки.
type ArtifactRef struct {
	ID          string
	StoragePath string
	SizeBytes   int64
	Checksum    string
}

// fileRepo — реализация FileRepository.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

// fileColumns — порядок колонок соответствует scanFile.
const fileColumns = `id, original_name, stored_name, storage_path, size_bytes, mime_type,
	category, checksum, uploaded_by, uploaded_at, tags, parent_id, role_kind, role_size,
	description, is_public, status, deleted_at, metadata, updated_at`

func (r *fileRepo) CreateArtifacts(ctx context.Context, original *model.FileRecord, variants []*model.FileRecord, quota *QuotaGuard) error {
	return runInTx(ctx, r.db, func(tx DBTX) error {
		if quota != nil {
			incoming := int64(0)
			if original != nil {
				incoming += original.SizeBytes
			}
			for _, v := range variants {
				incoming += v.SizeBytes
			}
			if err := checkQuota(ctx, tx, quota, incoming); err != nil {
				return err
			}
		}
		if original != nil {
			if err := insertFile(ctx, tx, original); err != nil {
				return err
			}
		}
		for _, v := range variants {
			if err := insertVariant(ctx, tx, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// checkQuota берёт транзакционную блокировку пользователя и сверяет
// занятый объём с лимитом. Параллельные вставки одного пользователя
// выстраиваются в очередь до коммита.
func checkQuota(ctx context.Context, tx DBTX, quota *QuotaGuard, incoming int64) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('quota:' || $1, 0))`, quota.UserID); err != nil {
		return fmt.Errorf("ошибка блокировки квоты: %w", err)
	}

	var used int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(size_bytes), 0)::bigint
		FROM files
		WHERE uploaded_by = $1 AND status = 'active'`, quota.UserID).Scan(&used)
	if err != nil {
		return fmt.Errorf("ошибка подсчёта занятого объёма: %w", err)
	}
	if used+incoming > quota.Limit {
		return fmt.Errorf("%w: занято %d из %d, новых %d", ErrQuotaExceeded, used, quota.Limit, incoming)
	}
	return nil
}

func insertFile(ctx context.Context, db DBTX, f *model.FileRecord) error {
	query := `
		INSERT INTO files (id, original_name, stored_name, storage_path, size_bytes, mime_type,
			category, checksum, uploaded_by, uploaded_at, tags, parent_id, role_kind, role_size,
			description, is_public, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING updated_at`

	err := db.QueryRow(ctx, query, insertArgs(f)...).Scan(&f.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл %s", ErrConflict, f.ID)
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	return nil
}

// insertVariant вставляет вариант только при активном родителе-оригинале.
func insertVariant(ctx context.Context, db DBTX, f *model.FileRecord) error {
	if !f.IsVariant() {
		return fmt.Errorf("вариант %s без ссылки на оригинал", f.ID)
	}

	query := `
		INSERT INTO files (id, original_name, stored_name, storage_path, size_bytes, mime_type,
			category, checksum, uploaded_by, uploaded_at, tags, parent_id, role_kind, role_size,
			description, is_public, status, metadata)
		SELECT $1::uuid, $2, $3, $4, $5::bigint, $6, $7, $8, $9, $10::timestamptz, $11::text[],
			$12::uuid, $13, $14::integer, $15, $16::boolean, $17, $18::jsonb
		WHERE EXISTS (
			SELECT 1 FROM files p
			WHERE p.id = $12::uuid AND p.status = 'active' AND p.parent_id IS NULL
		)
		RETURNING updated_at`

	err := db.QueryRow(ctx, query, insertArgs(f)...).Scan(&f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrParentNotActive, *f.ParentID)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл %s", ErrConflict, f.ID)
		}
		return fmt.Errorf("ошибка создания записи варианта: %w", err)
	}
	return nil
}

func insertArgs(f *model.FileRecord) []any {
	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}
	metadata := f.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	status := f.Status
	if status == "" {
		status = model.StatusActive
	}
	return []any{
		f.ID, f.OriginalName, f.StoredName, f.StoragePath, f.SizeBytes, f.MimeType,
		string(f.Category), f.Checksum, f.UploadedBy, f.UploadedAt, tags, f.ParentID,
		string(f.Role.Kind()), f.Role.Size(), f.Description, f.IsPublic, string(status), metadata,
	}
}

func (r *fileRepo) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`

	f, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) FindActiveOriginalByChecksum(ctx context.Context, checksum, visibleTo string) (*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + `
		FROM files
		WHERE checksum = $1 AND status = 'active' AND parent_id IS NULL
			AND (uploaded_by = $2 OR is_public)
		ORDER BY uploaded_at ASC
		LIMIT 1`

	f, err := scanFile(r.db.QueryRow(ctx, query, checksum, visibleTo))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска по checksum: %w", err)
	}
	return f, nil
}

func (r *fileRepo) ListVariants(ctx context.Context, parentID string, includeDeleted bool) ([]*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE parent_id = $1`
	if !includeDeleted {
		query += ` AND status = 'active'`
	}
	query += ` ORDER BY role_kind, role_size`

	return r.queryFiles(ctx, query, parentID)
}

// buildFileWhere строит WHERE-условие и аргументы для фильтрации оригиналов.
func buildFileWhere(filters FileListFilters, startArg int) (string, []any) {
	conditions := []string{"status = 'active'", "parent_id IS NULL"}
	var args []any
	argNum := startArg

	if filters.UploadedBy != nil {
		if filters.IncludePublic {
			conditions = append(conditions, fmt.Sprintf("(uploaded_by = $%d OR is_public)", argNum))
		} else {
			conditions = append(conditions, fmt.Sprintf("uploaded_by = $%d", argNum))
		}
		args = append(args, *filters.UploadedBy)
		argNum++
	}
	if filters.Category != nil {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argNum))
		args = append(args, string(*filters.Category))
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *fileRepo) List(ctx context.Context, filters FileListFilters, limit, offset int) ([]*model.FileRecord, error) {
	where, args := buildFileWhere(filters, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`SELECT %s
		FROM files
		%s
		ORDER BY uploaded_at DESC, id
		LIMIT $%d OFFSET $%d`, fileColumns, where, argNum, argNum+1)
	args = append(args, limit, offset)

	return r.queryFiles(ctx, query, args...)
}

func (r *fileRepo) Count(ctx context.Context, filters FileListFilters) (int, error) {
	where, args := buildFileWhere(filters, 1)
	query := "SELECT COUNT(*) FROM files " + where

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}
	return count, nil
}

func (r *fileRepo) MarkDeleted(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `
		UPDATE files
		SET status = 'deleted', deleted_at = $2, updated_at = NOW()
		WHERE id = ANY($1::uuid[]) AND status = 'active'`

	tag, err := r.db.Exec(ctx, query, ids, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления файлов: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *fileRepo) DeletePermanent(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	// Варианты удаляются каскадом по parent_id
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления файлов: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *fileRepo) UpdateLocation(ctx context.Context, id string, category model.Category, storagePath string) error {
	query := `
		UPDATE files
		SET category = $2, storage_path = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'active'`

	tag, err := r.db.Exec(ctx, query, id, string(category), storagePath)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: путь %s занят", ErrConflict, storagePath)
		}
		return fmt.Errorf("ошибка обновления пути файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepo) MergeMetadata(ctx context.Context, id string, patch map[string]any) error {
	query := `
		UPDATE files
		SET metadata = metadata || $2::jsonb, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, patch)
	if err != nil {
		return fmt.Errorf("ошибка обновления метаданных: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepo) UsedBytes(ctx context.Context, userID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(size_bytes), 0)::bigint
		FROM files
		WHERE uploaded_by = $1 AND status = 'active'`

	var used int64
	if err := r.db.QueryRow(ctx, query, userID).Scan(&used); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта занятого объёма: %w", err)
	}
	return used, nil
}

func (r *fileRepo) ActiveArtifacts(ctx context.Context) ([]ArtifactRef, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, storage_path, size_bytes, checksum FROM files WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения активных артефактов: %w", err)
	}
	defer rows.Close()

	var result []ArtifactRef
	for rows.Next() {
		var a ArtifactRef
		if err := rows.Scan(&a.ID, &a.StoragePath, &a.SizeBytes, &a.Checksum); err != nil {
			return nil, fmt.Errorf("ошибка сканирования артефакта: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *fileRepo) FindActivePaths(ctx context.Context, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT storage_path FROM files WHERE status = 'active' AND storage_path = ANY($1::text[])`, paths)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска путей хранения: %w", err)
	}
	defer rows.Close()

	var found []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("ошибка сканирования пути: %w", err)
		}
		found = append(found, p)
	}
	return found, rows.Err()
}

func (r *fileRepo) queryFiles(ctx context.Context, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

// scanFile читает строку в порядке fileColumns.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	var (
		category, status, roleKind string
		roleSize                   int
	)
	err := row.Scan(
		&f.ID, &f.OriginalName, &f.StoredName, &f.StoragePath, &f.SizeBytes, &f.MimeType,
		&category, &f.Checksum, &f.UploadedBy, &f.UploadedAt, &f.Tags, &f.ParentID, &roleKind, &roleSize,
		&f.Description, &f.IsPublic, &status, &f.DeletedAt, &f.Metadata, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	f.Category = model.Category(category)
	f.Status = model.FileStatus(status)
	f.Role, err = model.ParseRole(roleKind, roleSize)
	if err != nil {
		return nil, fmt.Errorf("файл %s: %w", f.ID, err)
	}
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	return f, nil
}
