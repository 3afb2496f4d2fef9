package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const (
	// StorageDriverMemory хранит данные в памяти процесса (dev, тесты).
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит данные в PostgreSQL.
	StorageDriverPostgres = "postgres"

	// IdempotencyDriverStorage держит ключи в основном хранилище.
	IdempotencyDriverStorage = "storage"
	// IdempotencyDriverRedis держит ключи в Redis с TTL.
	IdempotencyDriverRedis = "redis"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string
	LogLevel    string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	IdempotencyDriver           string
	RedisAddr                   string
	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
	IdempotencyStaleAfter       time.Duration

	SessionSecret string
	SessionTTL    time.Duration

	KafkaBrokers string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		IdempotencyDriver:           IdempotencyDriverStorage,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		IdempotencyStaleAfter:       5 * time.Minute,

		SessionTTL: 7 * 24 * time.Hour,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,
		OutboxMaxPending:   1000,
	}
}

// LoadConfig читает .env (если есть) и переменные окружения поверх DefaultConfig.
// Переменные, уже заданные в окружении, имеют приоритет над файлом.
func LoadConfig(envFiles ...string) (Config, error) {
	for _, file := range envFiles {
		if file == "" {
			continue
		}
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	cfg := DefaultConfig()
	var errs []error

	setString(&cfg.HTTPAddr, "SHAWLSHOP_HTTP_ADDR")
	setString(&cfg.GRPCAddr, "SHAWLSHOP_GRPC_ADDR")
	setString(&cfg.MetricsAddr, "SHAWLSHOP_METRICS_ADDR")
	setString(&cfg.LogLevel, "SHAWLSHOP_LOG_LEVEL")

	setString(&cfg.StorageDriver, "SHAWLSHOP_STORAGE_DRIVER")
	setString(&cfg.PostgresDSN, "SHAWLSHOP_POSTGRES_DSN")
	errs = append(errs, setBool(&cfg.PostgresAutoMigrate, "SHAWLSHOP_POSTGRES_AUTO_MIGRATE"))

	setString(&cfg.IdempotencyDriver, "SHAWLSHOP_IDEMPOTENCY_DRIVER")
	setString(&cfg.RedisAddr, "SHAWLSHOP_REDIS_ADDR")
	errs = append(errs,
		setDuration(&cfg.IdempotencyTTL, "SHAWLSHOP_IDEMPOTENCY_TTL"),
		setDuration(&cfg.IdempotencyCleanupInterval, "SHAWLSHOP_IDEMPOTENCY_CLEANUP_INTERVAL"),
		setInt(&cfg.IdempotencyCleanupBatchSize, "SHAWLSHOP_IDEMPOTENCY_CLEANUP_BATCH_SIZE"),
		setDuration(&cfg.IdempotencyStaleAfter, "SHAWLSHOP_IDEMPOTENCY_STALE_AFTER"),
	)

	setString(&cfg.SessionSecret, "SHAWLSHOP_SESSION_SECRET")
	errs = append(errs, setDuration(&cfg.SessionTTL, "SHAWLSHOP_SESSION_TTL"))

	setString(&cfg.KafkaBrokers, "KAFKA_BROKERS")

	errs = append(errs,
		setDuration(&cfg.OutboxPollInterval, "SHAWLSHOP_OUTBOX_POLL_INTERVAL"),
		setInt(&cfg.OutboxBatchSize, "SHAWLSHOP_OUTBOX_BATCH_SIZE"),
		setInt(&cfg.OutboxMaxAttempts, "SHAWLSHOP_OUTBOX_MAX_ATTEMPTS"),
		setDuration(&cfg.OutboxRetryDelay, "SHAWLSHOP_OUTBOX_RETRY_DELAY"),
		setInt(&cfg.OutboxMaxPending, "SHAWLSHOP_OUTBOX_MAX_PENDING"),
	)

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate отклоняет несовместимые настройки.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("SHAWLSHOP_POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.IdempotencyDriver {
	case "", IdempotencyDriverStorage:
	case IdempotencyDriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("SHAWLSHOP_REDIS_ADDR is required for redis idempotency driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported idempotency driver %q", c.IdempotencyDriver))
	}

	if c.LogLevel != "" {
		if _, err := log.ParseLevel(c.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("SHAWLSHOP_LOG_LEVEL: %w", err))
		}
	}
	if c.OutboxBatchSize < 0 || c.OutboxMaxAttempts < 0 || c.OutboxMaxPending < 0 || c.IdempotencyCleanupBatchSize < 0 {
		errs = append(errs, errors.New("batch sizes and limits must be non-negative"))
	}

	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}
