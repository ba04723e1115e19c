// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт: запись уже существует")
	// ErrParentNotActive — оригинал варианта отсутствует или удалён.
	ErrParentNotActive = errors.New("оригинал не найден или удалён")
	// ErrQuotaExceeded — вставка превысила бы квоту владельца.
	ErrQuotaExceeded = errors.New("превышена квота")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txBeginner — DBTX, умеющий открывать транзакцию (пул или транзакция с savepoint).
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// runInTx выполняет fn в транзакции, если db её поддерживает,
// иначе напрямую.
func runInTx(ctx context.Context, db DBTX, fn func(tx DBTX) error) error {
	b, ok := db.(txBeginner)
	if !ok {
		return fn(db)
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
