package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates all runtime settings required by the service.
type Config struct {
	AppName     string
	Environment string
	Database    DatabaseConfig
	Kafka       KafkaConfig
	Relay       RelayConfig
	Retention   RetentionConfig
	Logger      LoggerConfig
	Shutdown    ShutdownConfig
}

type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type KafkaConfig struct {
	// BootstrapServers empty means no broker is configured; the relay then
	// runs against a no-op publisher, useful for local development.
	BootstrapServers string
}

type RelayConfig struct {
	Interval     time.Duration
	BatchSize    int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	JitterFactor float64
}

type RetentionConfig struct {
	Enabled       bool
	Interval      time.Duration
	KeepPublished time.Duration
}

type LoggerConfig struct {
	Level    string
	Encoding string
}

type ShutdownConfig struct {
	Timeout time.Duration
}

// Load reads configuration from environment variables (optionally .env) and
// applies defaults so the service can boot in any environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		AppName:     getString("APP_NAME", "catalogd"),
		Environment: getString("APP_ENV", "development"),
		Database: DatabaseConfig{
			DSN:             getString("DB_DSN", "root:password@tcp(localhost:3306)/catalog?parseTime=true"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getDuration("DB_CONN_LIFETIME", time.Hour),
		},
		Kafka: KafkaConfig{
			BootstrapServers: os.Getenv("KAFKA_BOOTSTRAP_SERVERS"),
		},
		Relay: RelayConfig{
			Interval:     getDuration("RELAY_INTERVAL", 2*time.Second),
			BatchSize:    getInt("RELAY_BATCH_SIZE", 100),
			BackoffBase:  getDuration("RELAY_BACKOFF_BASE", 30*time.Second),
			BackoffMax:   getDuration("RELAY_BACKOFF_MAX", 30*time.Minute),
			JitterFactor: getFloat("RELAY_BACKOFF_JITTER", 0.2),
		},
		Retention: RetentionConfig{
			Enabled:       getBool("RETENTION_ENABLED", true),
			Interval:      getDuration("RETENTION_INTERVAL", time.Hour),
			KeepPublished: getDuration("RETENTION_KEEP_PUBLISHED", 7*24*time.Hour),
		},
		Logger: LoggerConfig{
			Level:    getString("LOG_LEVEL", "info"),
			Encoding: getString("LOG_ENCODING", "json"),
		},
		Shutdown: ShutdownConfig{
			Timeout: getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN must not be empty")
	}
	if c.Relay.BatchSize <= 0 {
		return fmt.Errorf("RELAY_BATCH_SIZE must be positive, got %d", c.Relay.BatchSize)
	}
	if c.Relay.Interval <= 0 {
		return fmt.Errorf("RELAY_INTERVAL must be positive, got %s", c.Relay.Interval)
	}
	if c.Relay.BackoffBase <= 0 || c.Relay.BackoffMax < c.Relay.BackoffBase {
		return fmt.Errorf("invalid relay backoff window: base=%s max=%s", c.Relay.BackoffBase, c.Relay.BackoffMax)
	}
	return nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
