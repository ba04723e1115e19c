package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// QuotaRepository — персональные переопределения квот (таблица user_quotas).
type QuotaRepository interface {
	// GetOverride возвращает персональную квоту или ErrNotFound.
	GetOverride(ctx context.Context, userID string) (int64, error)
	// SetOverride создаёт или обновляет персональную квоту.
	SetOverride(ctx context.Context, userID string, quotaBytes int64, updatedBy string) error
	// DeleteOverride удаляет переопределение (пользователь возвращается к квоте роли).
	DeleteOverride(ctx context.Context, userID string) error
}

type quotaRepo struct {
	db DBTX
}

// NewQuotaRepository создаёт репозиторий квот.
func NewQuotaRepository(db DBTX) QuotaRepository {
	return &quotaRepo{db: db}
}

func (r *quotaRepo) GetOverride(ctx context.Context, userID string) (int64, error) {
	var quota int64
	err := r.db.QueryRow(ctx, `SELECT quota_bytes FROM user_quotas WHERE user_id = $1`, userID).Scan(&quota)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ошибка получения квоты: %w", err)
	}
	return quota, nil
}

func (r *quotaRepo) SetOverride(ctx context.Context, userID string, quotaBytes int64, updatedBy string) error {
	query := `
		INSERT INTO user_quotas (user_id, quota_bytes, updated_by, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET quota_bytes = EXCLUDED.quota_bytes,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()`

	if _, err := r.db.Exec(ctx, query, userID, quotaBytes, updatedBy); err != nil {
		return fmt.Errorf("ошибка сохранения квоты: %w", err)
	}
	return nil
}

func (r *quotaRepo) DeleteOverride(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_quotas WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("ошибка удаления квоты: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
