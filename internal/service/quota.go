package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/model"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/rbac"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/repository"
)

// QuotaService — квоты хранения: лимит роли или персональное переопределение.
type QuotaService struct {
	overrides repository.QuotaRepository
	files     repository.FileRepository
	limits    rbac.QuotaLimits
	logger    *slog.Logger
}

// NewQuotaService создаёт сервис квот.
func NewQuotaService(
	overrides repository.QuotaRepository,
	files repository.FileRepository,
	limits rbac.QuotaLimits,
	logger *slog.Logger,
) *QuotaService {
	return &QuotaService{
		overrides: overrides,
		files:     files,
		limits:    limits,
		logger:    logger.With(slog.String("component", "quota_service")),
	}
}

// Get возвращает квоту и занятый объём пользователя.
func (s *QuotaService) Get(ctx context.Context, actor Actor) (*model.Quota, error) {
	used, err := s.files.UsedBytes(ctx, actor.UserID)
	if err != nil {
		return nil, storageError("Не удалось подсчитать занятый объём", err)
	}

	limit, overridden, err := s.limit(ctx, actor)
	if err != nil {
		return nil, err
	}
	return &model.Quota{
		UserID:     actor.UserID,
		Role:       actor.Role,
		Limit:      limit,
		Used:       used,
		Overridden: overridden,
	}, nil
}

// Guard возвращает лимит для проверки при вставке записей.
// Проверка в Validator — предварительная: параллельные загрузки
// одного пользователя сверяются с лимитом в транзакции записи.
func (s *QuotaService) Guard(ctx context.Context, actor Actor) (*repository.QuotaGuard, error) {
	limit, _, err := s.limit(ctx, actor)
	if err != nil {
		return nil, err
	}
	return &repository.QuotaGuard{UserID: actor.UserID, Limit: limit}, nil
}

// limit — персональная квота или квота роли.
func (s *QuotaService) limit(ctx context.Context, actor Actor) (int64, bool, error) {
	override, err := s.overrides.GetOverride(ctx, actor.UserID)
	switch {
	case err == nil:
		return override, true, nil
	case errors.Is(err, repository.ErrNotFound):
		return s.limits.DefaultQuota(actor.Role), false, nil
	default:
		return 0, false, storageError("Не удалось получить квоту", err)
	}
}

// SetOverride задаёт персональную квоту. Только для администратора.
func (s *QuotaService) SetOverride(ctx context.Context, admin Actor, userID string, quotaBytes int64) error {
	if !admin.IsAdmin() {
		return &FileError{Kind: ErrAccessDenied, Code: CodeAccessDenied, Message: "Изменение квот доступно только администратору"}
	}
	if quotaBytes < 0 {
		return validationError([]string{fmt.Sprintf("Квота не может быть отрицательной: %d", quotaBytes)})
	}
	if err := s.overrides.SetOverride(ctx, userID, quotaBytes, admin.UserID); err != nil {
		return storageError("Не удалось сохранить квоту", err)
	}

	s.logger.Info("Персональная квота изменена",
		slog.String("user_id", userID),
		slog.Int64("quota_bytes", quotaBytes),
		slog.String("updated_by", admin.UserID),
	)
	return nil
}

// DeleteOverride возвращает пользователя к квоте роли.
func (s *QuotaService) DeleteOverride(ctx context.Context, admin Actor, userID string) error {
	if !admin.IsAdmin() {
		return &FileError{Kind: ErrAccessDenied, Code: CodeAccessDenied, Message: "Изменение квот доступно только администратору"}
	}
	if err := s.overrides.DeleteOverride(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundError("Персональная квота пользователя %s не задана", userID)
		}
		return storageError("Не удалось удалить квоту", err)
	}

	s.logger.Info("Персональная квота удалена",
		slog.String("user_id", userID),
		slog.String("updated_by", admin.UserID),
	)
	return nil
}
