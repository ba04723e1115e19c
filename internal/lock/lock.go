// Пакет lock — взаимное исключение по строковому ключу.
// Конвейер загрузки берёт блокировку по checksum на отрезке
// «поиск дубликата → запись в БД», если включён preventDuplicates.
//
// Реализации:
//   - Local — мьютекс по ключу внутри процесса (один экземпляр сервиса, тесты)
//   - Postgres — pg_try_advisory_lock на соединении отдельного пула
//   - Redis — SET NX PX с токеном и проверяемым освобождением
package lock

import (
	"context"
	"errors"
)

// ErrLockTimeout — блокировку не удалось получить до отмены контекста.
var ErrLockTimeout = errors.New("не удалось получить блокировку")

// Unlock освобождает полученную блокировку. Повторный вызов — no-op.
type Unlock func()

// Locker — блокировка по ключу.
type Locker interface {
	// Lock блокирует до получения блокировки или отмены ctx.
	Lock(ctx context.Context, key string) (Unlock, error)
}
