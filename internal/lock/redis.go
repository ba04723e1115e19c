package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// keyPrefix — пространство имён ключей блокировок в Redis.
const keyPrefix = "fm:lock:"

// Интервалы повторных попыток SET NX.
const (
	retryMin = 10 * time.Millisecond
	retryMax = 250 * time.Millisecond
)

// releaseScript удаляет ключ только если значение совпадает с токеном владельца.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis — распределённая блокировка на одном узле Redis.
// TTL ограничивает время удержания, если процесс упал, не освободив ключ.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis создаёт Locker поверх клиента go-redis.
func NewRedis(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Redis {
	return &Redis{
		client: client,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "redis_lock")),
	}
}

// Lock повторяет SET NX PX с растущей паузой до успеха или отмены ctx.
func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := keyPrefix + key
	token := uuid.New().String()
	wait := retryMin

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
			}
			return nil, fmt.Errorf("ошибка SET NX в Redis: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
		if wait > retryMax {
			wait = retryMax
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			uctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()
			if err := releaseScript.Run(uctx, r.client, []string{redisKey}, token).Err(); err != nil {
				r.logger.Warn("Ошибка освобождения блокировки Redis",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
		})
	}, nil
}

// Ping проверяет доступность Redis (readiness).
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
