package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration, parsed from environment variables
// so main stays lean. Defaults match the documented contract: batch size 10,
// flush timeout 5s, 90-day rotation, fallback cap 100, night window 22:00-06:00.
type Config struct {
	Addr     string `env:"VAULTRAIL_ADDR" envDefault:":8080"`
	LogLevel string `env:"VAULTRAIL_LOG_LEVEL" envDefault:"info"`

	// JWTSigningKey verifies actor tokens on the ops surface. Token issuance
	// lives outside this service.
	JWTSigningKey string `env:"VAULTRAIL_JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`

	Audit    AuditConfig    `envPrefix:"VAULTRAIL_AUDIT_"`
	Keys     KeysConfig     `envPrefix:"VAULTRAIL_KEYS_"`
	Alerts   AlertsConfig   `envPrefix:"VAULTRAIL_ALERTS_"`
	Postgres PostgresConfig `envPrefix:"VAULTRAIL_PG_"`
	Redis    RedisConfig    `envPrefix:"VAULTRAIL_REDIS_"`
	Kafka    KafkaConfig    `envPrefix:"VAULTRAIL_KAFKA_"`
}

// AuditConfig bounds the pipeline's memory and delivery latency.
type AuditConfig struct {
	BatchSize    int           `env:"BATCH_SIZE" envDefault:"10"`
	FlushTimeout time.Duration `env:"FLUSH_TIMEOUT" envDefault:"5s"`
	FallbackCap  int           `env:"FALLBACK_CAP" envDefault:"100"`
}

// KeysConfig controls rotation cadence and how long retired keys stay
// decryptable.
type KeysConfig struct {
	RotationInterval time.Duration `env:"ROTATION_INTERVAL" envDefault:"2160h"`
	ExpiryHorizon    time.Duration `env:"EXPIRY_HORIZON" envDefault:"4320h"`
	RotationSpec     string        `env:"ROTATION_SPEC" envDefault:"0 3 * * *"`
}

// AlertsConfig carries the per-rule thresholds and windows. All values are
// overridable at runtime through the engine's UpdateRules.
type AlertsConfig struct {
	FailedLoginThreshold int           `env:"FAILED_LOGIN_THRESHOLD" envDefault:"5"`
	FailedLoginWindow    time.Duration `env:"FAILED_LOGIN_WINDOW" envDefault:"15m"`
	RateLimitThreshold   int           `env:"RATE_LIMIT_THRESHOLD" envDefault:"20"`
	RateLimitWindow      time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"5m"`
	NightStartHour       int           `env:"NIGHT_START_HOUR" envDefault:"22"`
	NightEndHour         int           `env:"NIGHT_END_HOUR" envDefault:"6"`
	BulkExportThreshold  int           `env:"BULK_EXPORT_THRESHOLD" envDefault:"1000"`
	AnomalousIPThreshold int           `env:"ANOMALOUS_IP_THRESHOLD" envDefault:"3"`
	AnomalousIPWindow    time.Duration `env:"ANOMALOUS_IP_WINDOW" envDefault:"30m"`
	SensitiveResources   []string      `env:"SENSITIVE_RESOURCES" envDefault:"clients,cards,users" envSeparator:","`
}

// PostgresConfig selects the durable store. Empty DSN means the in-memory
// store, which is fine for single-instance deployments and tests.
type PostgresConfig struct {
	DSN string `env:"DSN"`
}

// RedisConfig selects the alert engine's activity-window backend. Empty URL
// means in-memory sliding windows.
type RedisConfig struct {
	URL string `env:"URL"`
}

// KafkaConfig enables mirroring persisted audit events to a topic for
// downstream consumers. Empty brokers disables the mirror. When Consume is
// set, the alert engine reads events from the topic instead of the store's
// local feed, which lets the engine run apart from the store-owning process.
type KafkaConfig struct {
	Brokers       []string `env:"BROKERS" envSeparator:","`
	Topic         string   `env:"TOPIC" envDefault:"vaultrail.audit-events"`
	Consume       bool     `env:"CONSUME"`
	ConsumerGroup string   `env:"CONSUMER_GROUP" envDefault:"vaultrail-alerts"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
