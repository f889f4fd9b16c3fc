package app

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cartsync/internal/domain"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), normalize(cfg))
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("CART_HTTP_ADDR", "127.0.0.1:18080")
	t.Setenv("CART_CHANNEL_DRIVER", ChannelDriverKafka)
	t.Setenv("CART_KAFKA_BROKERS", "kafka-1:9092, ,kafka-2:9092")
	t.Setenv("CART_CATALOG_CACHE_TTL", "30s")
	t.Setenv("CART_USER_ID", "u42")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:18080", cfg.HTTPAddr)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 30*time.Second, cfg.CatalogCacheTTL)
	assert.Equal(t, domain.CartStorageKey+":u42", cfg.StorageKey())
	assert.Equal(t, domain.SyncChannelName+".u42", cfg.ChannelName())
	assert.True(t, cfg.NeedsRedis())
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	t.Setenv("CART_REQUEST_TIMEOUT", "soon")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown storage", func(c *Config) { c.StorageDriver = "sqlite" }, "unsupported storage driver"},
		{"unknown channel", func(c *Config) { c.ChannelDriver = "nats" }, "unsupported channel driver"},
		{"kafka without brokers", func(c *Config) { c.ChannelDriver = ChannelDriverKafka }, "CART_KAFKA_BROKERS"},
		{"postgres without dsn", func(c *Config) { c.CatalogDriver = CatalogDriverPostgres }, "CART_POSTGRES_DSN"},
		{"unknown catalog", func(c *Config) { c.CatalogDriver = "mongo" }, "unsupported catalog driver"},
		{"negative quota", func(c *Config) { c.StorageQuotaBytes = -1 }, "quota"},
		{"negative ttl", func(c *Config) { c.CatalogCacheTTL = -time.Second }, "ttl"},
		{"sync disabled", func(c *Config) { c.ChannelDriver = ChannelDriverNone }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should mention %q", err, tt.wantErr)
		})
	}
}

func TestConfig_DefaultKeys(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, domain.CartStorageKey, cfg.StorageKey())
	assert.Equal(t, domain.SyncChannelName, cfg.ChannelName())
	assert.False(t, cfg.NeedsRedis())
}

// normalize приводит пустые срезы к nil, чтобы сравнивать с DefaultConfig.
func normalize(cfg Config) Config {
	if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = nil
	}
	return cfg
}
