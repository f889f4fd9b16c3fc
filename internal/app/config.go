package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/vladislavdragonenkov/cartsync/internal/domain"
	"github.com/vladislavdragonenkov/cartsync/internal/storage/memory"
)

const EnvPrefix = "CART"

const (
	StorageDriverMemory = "memory"
	StorageDriverRedis  = "redis"

	ChannelDriverMemory = "memory"
	ChannelDriverRedis  = "redis"
	ChannelDriverKafka  = "kafka"
	ChannelDriverNone   = "none"

	CatalogDriverMemory   = "memory"
	CatalogDriverPostgres = "postgres"
)

// Config описывает настройки одного контекста корзины.
type Config struct {
	HTTPAddr       string        `envconfig:"HTTP_ADDR" default:":8080"`
	MetricsAddr    string        `envconfig:"METRICS_ADDR" default:":9090"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`

	// UserID разделяет ключ хранилища и канал, когда несколько пользователей делят Redis/Kafka.
	UserID string `envconfig:"USER_ID" default:""`

	StorageDriver     string `envconfig:"STORAGE_DRIVER" default:"memory"`
	StorageQuotaBytes int    `envconfig:"STORAGE_QUOTA_BYTES" default:"5242880"`

	ChannelDriver string `envconfig:"CHANNEL_DRIVER" default:"memory"`

	RedisAddr      string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	RedisKeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"cartsync"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" default:""`

	CatalogDriver       string        `envconfig:"CATALOG_DRIVER" default:"memory"`
	CatalogLatency      time.Duration `envconfig:"CATALOG_LATENCY" default:"0s"`
	CatalogCacheTTL     time.Duration `envconfig:"CATALOG_CACHE_TTL" default:"0s"`
	PostgresDSN         string        `envconfig:"POSTGRES_DSN" default:""`
	PostgresAutoMigrate bool          `envconfig:"POSTGRES_AUTO_MIGRATE" default:"true"`
}

// DefaultConfig возвращает настройки по умолчанию (те же, что в тегах default).
func DefaultConfig() Config {
	return Config{
		HTTPAddr:            ":8080",
		MetricsAddr:         ":9090",
		RequestTimeout:      10 * time.Second,
		LogLevel:            "info",
		StorageDriver:       StorageDriverMemory,
		StorageQuotaBytes:   memory.DefaultQuotaBytes,
		ChannelDriver:       ChannelDriverMemory,
		RedisAddr:           "localhost:6379",
		RedisKeyPrefix:      "cartsync",
		CatalogDriver:       CatalogDriverMemory,
		PostgresAutoMigrate: true,
	}
}

// LoadConfig читает .env (если есть) и переменные окружения с префиксом CART_.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.KafkaBrokers = cleanList(cfg.KafkaBrokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность драйверов и их параметров.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory, StorageDriverRedis:
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.ChannelDriver {
	case ChannelDriverMemory, ChannelDriverRedis, ChannelDriverNone:
	case ChannelDriverKafka:
		if len(cleanList(c.KafkaBrokers)) == 0 {
			errs = append(errs, errors.New("kafka channel driver requires CART_KAFKA_BROKERS"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported channel driver %q", c.ChannelDriver))
	}

	switch c.CatalogDriver {
	case CatalogDriverMemory:
	case CatalogDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres catalog driver requires CART_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported catalog driver %q", c.CatalogDriver))
	}

	if c.StorageQuotaBytes < 0 {
		errs = append(errs, errors.New("storage quota must not be negative"))
	}
	if c.CatalogCacheTTL < 0 {
		errs = append(errs, errors.New("catalog cache ttl must not be negative"))
	}

	return errors.Join(errs...)
}

// NeedsRedis сообщает, нужен ли клиенту Redis хоть один компонент.
func (c Config) NeedsRedis() bool {
	return c.StorageDriver == StorageDriverRedis ||
		c.ChannelDriver == ChannelDriverRedis ||
		c.CatalogCacheTTL > 0
}

// StorageKey возвращает ключ записи корзины с учётом UserID.
func (c Config) StorageKey() string {
	if c.UserID == "" {
		return domain.CartStorageKey
	}
	return domain.CartStorageKey + ":" + c.UserID
}

// ChannelName возвращает имя канала синхронизации с учётом UserID.
// Разделитель "." допустим и в канале Redis, и в имени topic'а Kafka.
func (c Config) ChannelName() string {
	if c.UserID == "" {
		return domain.SyncChannelName
	}
	return domain.SyncChannelName + "." + c.UserID
}

func cleanList(items []string) []string {
	result := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}
