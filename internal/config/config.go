// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Ledger key modes accepted by LEDGER_KEY_MODE.
const (
	KeyModeLastFour = "last4"
	KeyModeToken    = "token"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// StoreDriver selects where attempt records and the poll cursor live: memory, sqlite or postgres.
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	// DatabaseURL is the Postgres DSN; required when StoreDriver is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// SQLitePath is the SQLite database file; required when StoreDriver is sqlite.
	SQLitePath string `mapstructure:"SQLITE_PATH"`
	// LedgerKeyMode is last4 (default) or token.
	LedgerKeyMode string `mapstructure:"LEDGER_KEY_MODE"`

	// BotAPIBaseURL is the messaging service base URL (default https://api.telegram.org).
	BotAPIBaseURL string `mapstructure:"BOT_API_BASE_URL"`
	// BotToken authenticates the bot. Empty disables notifications and approval polling errors out.
	BotToken string `mapstructure:"BOT_TOKEN"`
	// BotChatID is the operator chat that receives notifications.
	BotChatID string `mapstructure:"BOT_CHAT_ID"`
	// BotHTTPTimeout bounds each Bot API call.
	BotHTTPTimeout time.Duration `mapstructure:"BOT_HTTP_TIMEOUT"`

	// PreloadDelay is the time spent in preloading before the challenge form appears.
	PreloadDelay time.Duration `mapstructure:"PRELOAD_DELAY"`
	// ResendCooldown is the resend link cooldown. Negative disables it.
	ResendCooldown time.Duration `mapstructure:"RESEND_COOLDOWN"`
	// ApprovalPollInterval is the pause between approval polls.
	ApprovalPollInterval time.Duration `mapstructure:"APPROVAL_POLL_INTERVAL"`
	// NotifyQueueSize bounds the notification queue.
	NotifyQueueSize int `mapstructure:"NOTIFY_QUEUE_SIZE"`

	// OTLPEndpoint is the OpenTelemetry collector endpoint. Empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// OTelServiceName is the service.name resource attribute.
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Telemetry (optional). When Kafka brokers are set, the server also emits challenge events to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for challenge events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("STORE_DRIVER", StoreMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SQLITE_PATH", "stepup.db")
	v.SetDefault("LEDGER_KEY_MODE", KeyModeLastFour)
	v.SetDefault("BOT_API_BASE_URL", "https://api.telegram.org")
	v.SetDefault("BOT_TOKEN", "")
	v.SetDefault("BOT_CHAT_ID", "")
	v.SetDefault("BOT_HTTP_TIMEOUT", "10s")
	v.SetDefault("PRELOAD_DELAY", "25s")
	v.SetDefault("RESEND_COOLDOWN", "30s")
	v.SetDefault("APPROVAL_POLL_INTERVAL", "800ms")
	v.SetDefault("NOTIFY_QUEUE_SIZE", 64)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "stepup-challenge")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "stepup-challenge-events")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "stepup-challenge-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	switch cfg.StoreDriver {
	case StoreMemory:
	case StoreSQLite:
		if cfg.SQLitePath == "" {
			return nil, errors.New("config: SQLITE_PATH must be set when STORE_DRIVER=sqlite")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL must be set when STORE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("config: STORE_DRIVER must be memory, sqlite or postgres, got %q", cfg.StoreDriver)
	}

	cfg.LedgerKeyMode = strings.ToLower(strings.TrimSpace(cfg.LedgerKeyMode))
	if cfg.LedgerKeyMode != KeyModeLastFour && cfg.LedgerKeyMode != KeyModeToken {
		return nil, fmt.Errorf("config: LEDGER_KEY_MODE must be last4 or token, got %q", cfg.LedgerKeyMode)
	}

	if cfg.BotToken != "" && cfg.BotChatID == "" {
		return nil, errors.New("config: BOT_CHAT_ID must be set when BOT_TOKEN is set")
	}
	if cfg.BotHTTPTimeout <= 0 {
		return nil, errors.New("config: BOT_HTTP_TIMEOUT must be positive")
	}
	if cfg.PreloadDelay < 0 {
		return nil, errors.New("config: PRELOAD_DELAY must not be negative")
	}
	if cfg.ApprovalPollInterval <= 0 {
		return nil, errors.New("config: APPROVAL_POLL_INTERVAL must be positive")
	}
	if cfg.NotifyQueueSize <= 0 {
		return nil, errors.New("config: NOTIFY_QUEUE_SIZE must be positive")
	}

	return &cfg, nil
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// BotConfigured reports whether the messaging service credentials are present.
func (c *Config) BotConfigured() bool {
	return c != nil && c.BotToken != "" && c.BotChatID != ""
}

// ApprovalChannelName names the shared poll cursor for the configured chat.
func (c *Config) ApprovalChannelName() string {
	return "telegram:" + c.BotChatID
}
