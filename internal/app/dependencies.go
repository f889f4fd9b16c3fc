package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartsync/internal/catalog"
	"github.com/vladislavdragonenkov/cartsync/internal/domain"
	"github.com/vladislavdragonenkov/cartsync/internal/health"
	"github.com/vladislavdragonenkov/cartsync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/cartsync/internal/messaging/local"
	redischannel "github.com/vladislavdragonenkov/cartsync/internal/messaging/redis"
	"github.com/vladislavdragonenkov/cartsync/internal/metrics"
	"github.com/vladislavdragonenkov/cartsync/internal/storage/memory"
	"github.com/vladislavdragonenkov/cartsync/internal/storage/postgres"
	rediskv "github.com/vladislavdragonenkov/cartsync/internal/storage/redis"
)

// Dependencies содержит инфраструктуру одного контекста корзины.
type Dependencies struct {
	KV       domain.KVStore
	Catalog  domain.Catalog
	Opener   domain.ChannelOpener
	Metrics  *metrics.CartMetrics
	Checkers map[string]health.Checker
	Logger   *log.Entry

	closers []func() error
}

// DependencyOption подменяет отдельные компоненты, например, чтобы несколько
// контекстов в одном процессе делили хранилище и канал.
type DependencyOption func(*dependencyOverrides)

type dependencyOverrides struct {
	kv      domain.KVStore
	hub     *local.Hub
	catalog domain.Catalog
	metrics *metrics.CartMetrics
}

// WithSharedKV использует готовое хранилище вместо создаваемого по драйверу.
func WithSharedKV(kv domain.KVStore) DependencyOption {
	return func(o *dependencyOverrides) { o.kv = kv }
}

// WithSharedHub использует общий in-process hub для драйвера канала memory.
func WithSharedHub(hub *local.Hub) DependencyOption {
	return func(o *dependencyOverrides) { o.hub = hub }
}

// WithCatalog использует готовый каталог вместо создаваемого по драйверу.
func WithCatalog(c domain.Catalog) DependencyOption {
	return func(o *dependencyOverrides) { o.catalog = c }
}

// WithMetrics задаёт набор метрик (по умолчанию регистрируется в глобальном registry).
func WithMetrics(m *metrics.CartMetrics) DependencyOption {
	return func(o *dependencyOverrides) { o.metrics = m }
}

// NewDependencies создаёт хранилище, каталог и транспорт синхронизации согласно cfg.
// При ошибке уже созданные ресурсы закрываются.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry, opts ...DependencyOption) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var overrides dependencyOverrides
	for _, opt := range opts {
		opt(&overrides)
	}

	deps := &Dependencies{
		Metrics:  overrides.metrics,
		Checkers: make(map[string]health.Checker),
		Logger:   logger,
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCartMetrics()
	}

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		client, err := initRedis(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		redisClient = client
		deps.addCloser(client.Close)
		deps.Checkers["redis"] = health.NewSimpleChecker("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}

	if err := deps.initStorage(cfg, redisClient, overrides.kv); err != nil {
		_ = deps.Close()
		return nil, err
	}
	if err := deps.initCatalog(ctx, cfg, redisClient, overrides.catalog); err != nil {
		_ = deps.Close()
		return nil, err
	}
	deps.initChannel(cfg, redisClient, overrides.hub)

	return deps, nil
}

func initRedis(ctx context.Context, cfg Config, logger *log.Entry) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	logger.WithField("addr", cfg.RedisAddr).Info("redis connected")
	return client, nil
}

func (d *Dependencies) initStorage(cfg Config, client *redis.Client, shared domain.KVStore) error {
	if shared != nil {
		d.KV = shared
		return nil
	}

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		d.KV = memory.NewKVStore(cfg.StorageQuotaBytes)
	case StorageDriverRedis:
		d.KV = rediskv.NewKVStore(client, cfg.RedisKeyPrefix)
	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
	d.Logger.WithField("driver", cfg.StorageDriver).Info("cart storage initialized")
	return nil
}

func (d *Dependencies) initCatalog(ctx context.Context, cfg Config, client *redis.Client, shared domain.Catalog) error {
	origin := shared
	if origin == nil {
		switch cfg.CatalogDriver {
		case CatalogDriverMemory:
			origin = memory.NewCatalog(memory.SampleProducts(), memory.WithLatency(cfg.CatalogLatency))
		case CatalogDriverPostgres:
			store, err := postgres.Open(ctx, cfg.PostgresDSN)
			if err != nil {
				return err
			}
			d.addCloser(store.Close)
			if cfg.PostgresAutoMigrate {
				if err := store.EnsureSchema(ctx); err != nil {
					return fmt.Errorf("migrate catalog schema: %w", err)
				}
			}
			d.Checkers["postgres"] = health.NewSimpleChecker("postgres", store.Ping)
			origin = store.Catalog()
		default:
			return fmt.Errorf("unsupported catalog driver %q", cfg.CatalogDriver)
		}
	}

	if cfg.CatalogCacheTTL > 0 && client != nil {
		d.Catalog = catalog.NewCached(origin, client, cfg.CatalogCacheTTL, d.Logger.WithField("component", "catalog-cache"))
		return nil
	}
	d.Catalog = origin
	return nil
}

// initChannel никогда не возвращает ошибку: без транспорта контекст работает изолированно.
func (d *Dependencies) initChannel(cfg Config, client *redis.Client, hub *local.Hub) {
	logger := d.Logger.WithField("driver", cfg.ChannelDriver)

	switch cfg.ChannelDriver {
	case ChannelDriverMemory:
		if hub == nil {
			hub = local.NewHub(local.DefaultBufferSize)
		}
		d.Opener = hub
	case ChannelDriverRedis:
		d.Opener = redischannel.NewOpener(client, d.Logger.WithField("component", "redis-channel"))
	case ChannelDriverKafka:
		opener, err := kafka.NewOpener(cleanList(cfg.KafkaBrokers), d.Logger.WithField("component", "kafka-channel"))
		if err != nil {
			logger.WithError(err).Warn("failed to connect to kafka, cart sync disabled")
			d.Checkers["sync"] = health.NewOptionalChecker("sync", func(context.Context) error {
				return fmt.Errorf("%w: %v", domain.ErrChannelUnavailable, err)
			})
			return
		}
		d.Opener = opener
		d.addCloser(opener.Close)
	case ChannelDriverNone:
		logger.Info("cart sync transport disabled by configuration")
	}
}

func (d *Dependencies) addCloser(fn func() error) {
	d.closers = append(d.closers, fn)
}

// Close освобождает ресурсы в обратном порядке создания.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
