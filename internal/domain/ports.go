package domain

import "context"

// CatalogLookup описывает внешний каталог товаров.
type CatalogLookup interface {
	// BatchLookup возвращает найденные товары; ненайденные ID просто отсутствуют в ответе.
	BatchLookup(ctx context.Context, ids []string) ([]Product, error)
}

// KVStore — ограниченное по размеру key-value хранилище (аналог localStorage).
type KVStore interface {
	// Get возвращает значение или ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set сохраняет значение; при нехватке места возвращает ErrStorageQuotaExceeded.
	Set(ctx context.Context, key string, value []byte) error
	// Delete удаляет ключ; отсутствие ключа ошибкой не считается.
	Delete(ctx context.Context, key string) error
}

// BroadcastChannel — best-effort канал publish/subscribe без гарантий порядка.
type BroadcastChannel interface {
	// Publish отправляет сообщение остальным подписчикам канала.
	Publish(ctx context.Context, payload []byte) error
	// Messages возвращает поток входящих сообщений; закрывается вместе с каналом.
	Messages() <-chan []byte
	// Close отписывается от канала. Повторный вызов безопасен.
	Close() error
}

// ChannelOpener открывает именованный канал синхронизации.
type ChannelOpener interface {
	Open(ctx context.Context, name string) (BroadcastChannel, error)
}

// Catalog — каталог, который умеет ещё и отдавать весь список товаров (для витрины).
type Catalog interface {
	CatalogLookup
	// List возвращает все товары в стабильном порядке.
	List(ctx context.Context) ([]Product, error)
}
