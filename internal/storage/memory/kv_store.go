package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/cartsync/internal/domain"
)

// DefaultQuotaBytes совпадает с типичной квотой localStorage на один origin.
const DefaultQuotaBytes = 5 * 1024 * 1024

// KVStore — in-memory key-value хранилище с ограничением суммарного размера.
// Размер записи считается как len(key) + len(value).
type KVStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
	used    int
	quota   int
}

// NewKVStore создаёт хранилище с квотой quotaBytes; quotaBytes <= 0 означает DefaultQuotaBytes.
func NewKVStore(quotaBytes int) *KVStore {
	if quotaBytes <= 0 {
		quotaBytes = DefaultQuotaBytes
	}
	return &KVStore{
		entries: make(map[string][]byte),
		quota:   quotaBytes,
	}
}

// Get возвращает копию значения или domain.ErrKeyNotFound.
func (s *KVStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.entries[key]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Set сохраняет копию значения, если после записи квота не будет превышена.
// При превышении квоты прежнее значение остаётся нетронутым.
func (s *KVStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.used
	if prev, ok := s.entries[key]; ok {
		used -= len(key) + len(prev)
	}
	used += len(key) + len(value)
	if used > s.quota {
		return fmt.Errorf("set %q (%d bytes, quota %d): %w", key, len(value), s.quota, domain.ErrStorageQuotaExceeded)
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.entries[key] = stored
	s.used = used
	return nil
}

// Delete удаляет ключ, если он есть.
func (s *KVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[key]; ok {
		s.used -= len(key) + len(prev)
		delete(s.entries, key)
	}
	return nil
}

// Used возвращает занятый объём в байтах.
func (s *KVStore) Used() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

var _ domain.KVStore = (*KVStore)(nil)
