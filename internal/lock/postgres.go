package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// unlockTimeout — время на освобождение блокировки после отмены запроса.
const unlockTimeout = 5 * time.Second

// Postgres — сессионные advisory-блокировки PostgreSQL.
// Блокировка держится на соединении, взятом из пула на время удержания:
// при падении процесса сервер снимет её вместе с сессией.
// Ожидающие не держат соединений: каждая попытка берёт соединение,
// выполняет pg_try_advisory_lock и при неудаче возвращает его в пул.
// Пул должен быть отдельным от пула репозиториев, иначе держатели
// блокировок могут занять все соединения, нужные им же для записи.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres создаёт Locker поверх выделенного пула pgx.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	return &Postgres{
		pool:   pool,
		logger: logger.With(slog.String("component", "pg_lock")),
	}
}

// Lock повторяет pg_try_advisory_lock по 64-битному хешу ключа
// с растущей паузой до успеха или отмены ctx.
func (p *Postgres) Lock(ctx context.Context, key string) (Unlock, error) {
	wait := retryMin
	for {
		conn, ok, err := p.tryLock(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
			}
			return nil, err
		}
		if ok {
			return p.unlockFunc(conn, key), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
		case <-time.After(wait):
		}
		wait = min(wait*2, retryMax)
	}
}

// tryLock делает одну попытку. При неудаче соединение уже возвращено в пул.
func (p *Postgres) tryLock(ctx context.Context, key string) (*pgxpool.Conn, bool, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка получения соединения для блокировки: %w", err)
	}

	var locked bool
	err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, key).Scan(&locked)
	if err != nil {
		// Соединение с прерванным запросом не возвращаем в пул
		_ = conn.Conn().Close(context.Background())
		conn.Release()
		return nil, false, fmt.Errorf("ошибка pg_try_advisory_lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}
	return conn, true, nil
}

func (p *Postgres) unlockFunc(conn *pgxpool.Conn, key string) Unlock {
	var once sync.Once
	return func() {
		once.Do(func() {
			uctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()

			if _, err := conn.Exec(uctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
				p.logger.Warn("Ошибка освобождения advisory lock, соединение закрывается",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				_ = conn.Conn().Close(uctx)
			}
			conn.Release()
		})
	}
}
