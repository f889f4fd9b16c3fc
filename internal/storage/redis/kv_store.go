package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/cartsync/internal/domain"
)

const DefaultKeyPrefix = "cartsync"

// KVStore хранит проекцию корзины в Redis как обычную строку без TTL.
type KVStore struct {
	client *redis.Client
	prefix string
}

// NewKVStore создаёт хранилище поверх готового клиента.
func NewKVStore(client *redis.Client, prefix string) *KVStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &KVStore{client: client, prefix: prefix}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		if isOutOfMemory(err) {
			return fmt.Errorf("redis set failed: %w", domain.ErrStorageQuotaExceeded)
		}
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Ping проверяет доступность Redis (для health check).
func (s *KVStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *KVStore) key(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

// isOutOfMemory распознаёт ответ Redis при достижении maxmemory.
func isOutOfMemory(err error) bool {
	return strings.HasPrefix(err.Error(), "OOM ")
}

var _ domain.KVStore = (*KVStore)(nil)
