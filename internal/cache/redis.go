package cache

import (
	"bulk_orders/internal/model"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const redisKeyPrefix = "bulk:batch:"

// ErrLocked - пакет заблокирован другим экземпляром сервиса.
var ErrLocked = errors.New("batch is locked")

// Locker - межпроцессная блокировка пакета на время отправки.
// Реализуется хранилищами, общими для нескольких экземпляров.
type Locker interface {
	Lock(ctx context.Context, id string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, id, token string) error
}

// redisStore хранит пакеты в Redis, чтобы несколько экземпляров сервиса
// видели одни и те же пакеты.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisStore создает хранилище пакетов поверх Redis.
func NewRedisStore(client *redis.Client, ttl time.Duration) Store {
	return &redisStore{
		client: client,
		ttl:    ttl,
		tracer: otel.Tracer("batch-store-redis"),
	}
}

func (s *redisStore) Set(ctx context.Context, batch *model.Batch) error {
	ctx, span := s.tracer.Start(ctx, "BatchStore.Set")
	defer span.End()

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("ошибка сериализации пакета: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+batch.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("ошибка записи пакета в redis: %w", err)
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, id string) (*model.Batch, error) {
	ctx, span := s.tracer.Start(ctx, "BatchStore.Get")
	defer span.End()

	data, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения пакета из redis: %w", err)
	}

	var batch model.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("ошибка десериализации пакета: %w", err)
	}
	return &batch, nil
}

func (s *redisStore) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "BatchStore.Delete")
	defer span.End()

	if err := s.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("ошибка удаления пакета из redis: %w", err)
	}
	return nil
}

const redisLockPrefix = "bulk:lock:"

// unlockScript снимает блокировку, только если ее держит владелец токена.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock берет блокировку пакета через SET NX, общую для всех экземпляров.
func (s *redisStore) Lock(ctx context.Context, id string, ttl time.Duration) (string, error) {
	ctx, span := s.tracer.Start(ctx, "BatchStore.Lock")
	defer span.End()

	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, redisLockPrefix+id, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("ошибка блокировки пакета в redis: %w", err)
	}
	if !ok {
		return "", ErrLocked
	}
	return token, nil
}

func (s *redisStore) Unlock(ctx context.Context, id, token string) error {
	ctx, span := s.tracer.Start(ctx, "BatchStore.Unlock")
	defer span.End()

	if err := unlockScript.Run(ctx, s.client, []string{redisLockPrefix + id}, token).Err(); err != nil {
		return fmt.Errorf("ошибка снятия блокировки пакета в redis: %w", err)
	}
	return nil
}
