package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "CART"

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

type Config struct {
	ServiceName     string        `envconfig:"SERVICE_NAME" default:"pharmacy-cart"`
	HTTPPort        string        `envconfig:"HTTP_PORT" default:"8080"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"json"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"5s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	SessionIdle     time.Duration `envconfig:"SESSION_IDLE" default:"30m"`

	StorageDriver   string        `envconfig:"STORAGE_DRIVER" default:"memory"`
	StorageKey      string        `envconfig:"STORAGE_KEY" default:"cart"`
	Debounce        time.Duration `envconfig:"DEBOUNCE" default:"300ms"`
	FlushOnShutdown bool          `envconfig:"FLUSH_ON_SHUTDOWN" default:"false"`
	BreakerEnabled  bool          `envconfig:"BREAKER_ENABLED" default:"true"`

	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	RedisTTL      time.Duration `envconfig:"REDIS_TTL" default:"720h"`

	MongoURI       string        `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDB        string        `envconfig:"MONGO_DB" default:"pharmacy"`
	MongoRetention time.Duration `envconfig:"MONGO_RETENTION" default:"720h"`

	SQLitePath string `envconfig:"SQLITE_PATH" default:"cart.db"`
	FileDir    string `envconfig:"FILE_DIR" default:"./data/carts"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"checkout-outbox"`
	KafkaGroupID string   `envconfig:"KAFKA_GROUP_ID" default:"pharmacy-cart"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	switch c.StorageDriver {
	case DriverMemory, DriverFile, DriverRedis, DriverMongo, DriverSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	if strings.TrimSpace(c.StorageKey) == "" {
		return fmt.Errorf("%s_STORAGE_KEY must not be empty", EnvPrefix)
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("%s_DEBOUNCE must be positive, got %s", EnvPrefix, c.Debounce)
	}
	if c.MongoRetention < 0 {
		return fmt.Errorf("%s_MONGO_RETENTION must not be negative, got %s", EnvPrefix, c.MongoRetention)
	}
	if c.SessionIdle < 0 {
		return fmt.Errorf("%s_SESSION_IDLE must not be negative, got %s", EnvPrefix, c.SessionIdle)
	}
	return nil
}

// KafkaEnabled reports whether the checkout poller should run.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}
