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

	"github.com/vladislavdragonenkov/backoffice/internal/messaging/kafka"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Бэкенды idempotency-ключей. Пустое значение означает «как хранилище».
const (
	IdempotencyBackendMemory   = "memory"
	IdempotencyBackendPostgres = "postgres"
	IdempotencyBackendRedis    = "redis"
)

// Переменные окружения.
const (
	envHTTPAddr                    = "BACKOFFICE_HTTP_ADDR"
	envGRPCAddr                    = "BACKOFFICE_GRPC_ADDR"
	envMetricsAddr                 = "BACKOFFICE_METRICS_ADDR"
	envStorageDriver               = "BACKOFFICE_STORAGE_DRIVER"
	envPostgresDSN                 = "BACKOFFICE_POSTGRES_DSN"
	envPostgresAutoMigrate         = "BACKOFFICE_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxOpenConns        = "BACKOFFICE_POSTGRES_MAX_OPEN_CONNS"
	envOrderTimeout                = "BACKOFFICE_ORDER_TIMEOUT"
	envLockTimeout                 = "BACKOFFICE_LOCK_TIMEOUT"
	envKafkaBrokers                = "BACKOFFICE_KAFKA_BROKERS"
	envKafkaTopic                  = "BACKOFFICE_KAFKA_TOPIC"
	envKafkaDLQTopic               = "BACKOFFICE_KAFKA_DLQ_TOPIC"
	envOutboxPollInterval          = "BACKOFFICE_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "BACKOFFICE_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "BACKOFFICE_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "BACKOFFICE_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending            = "BACKOFFICE_OUTBOX_MAX_PENDING"
	envOutboxBreakerFailures       = "BACKOFFICE_OUTBOX_BREAKER_FAILURES"
	envOutboxBreakerReset          = "BACKOFFICE_OUTBOX_BREAKER_RESET"
	envIdempotencyBackend          = "BACKOFFICE_IDEMPOTENCY_BACKEND"
	envIdempotencyTTL              = "BACKOFFICE_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "BACKOFFICE_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "BACKOFFICE_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envRedisAddr                   = "BACKOFFICE_REDIS_ADDR"
	envRedisPassword               = "BACKOFFICE_REDIS_PASSWORD"
	envRedisDB                     = "BACKOFFICE_REDIS_DB"
	envOTLPEndpoint                = "BACKOFFICE_OTLP_ENDPOINT"
	envOTLPInsecure                = "BACKOFFICE_OTLP_INSECURE"
	envSeedDemo                    = "BACKOFFICE_SEED_DEMO"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver        string
	PostgresDSN          string
	PostgresAutoMigrate  bool
	PostgresMaxOpenConns int

	// OrderTimeout ограничивает одно размещение, LockTimeout - ожидание
	// строковой блокировки в PostgreSQL.
	OrderTimeout time.Duration
	LockTimeout  time.Duration

	// KafkaBrokers - список через запятую. Пустое значение выключает публикацию.
	KafkaBrokers  string
	KafkaTopic    string
	KafkaDLQTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending - порог backlog, выше которого health отдаёт degraded.
	OutboxMaxPending int
	// OutboxBreakerFailures - ошибок подряд до размыкания цепи, 0 выключает breaker.
	OutboxBreakerFailures int
	OutboxBreakerReset    time.Duration

	IdempotencyBackend          string
	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
	RedisAddr                   string
	RedisPassword               string
	RedisDB                     int

	OTLPEndpoint string
	OTLPInsecure bool

	SeedDemo bool
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		PostgresMaxOpenConns:        25,
		OrderTimeout:                5 * time.Second,
		LockTimeout:                 3 * time.Second,
		KafkaTopic:                  kafka.TopicOrderEvents,
		KafkaDLQTopic:               kafka.TopicDeadLetterQueue,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		OutboxMaxPending:            10000,
		OutboxBreakerFailures:       5,
		OutboxBreakerReset:          30 * time.Second,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		OTLPInsecure:                true,
		SeedDemo:                    true,
	}
}

// EnvLookup - источник переменных окружения (os.LookupEnv в проде, map в тестах).
type EnvLookup func(key string) (string, bool)

// LoadConfig подгружает .env (если есть) и читает настройки из окружения.
// Некорректные значения не роняют запуск: остаётся значение по умолчанию,
// а причина возвращается в warnings.
func LoadConfig() (Config, []string) {
	var warnings []string
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		warnings = append(warnings, fmt.Sprintf("load .env: %v", err))
	}
	cfg, envWarnings := ConfigFromEnv(os.LookupEnv)
	return cfg, append(warnings, envWarnings...)
}

// ConfigFromEnv применяет переменные окружения поверх DefaultConfig.
func ConfigFromEnv(lookup EnvLookup) (Config, []string) {
	cfg := DefaultConfig()
	var warnings []string
	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("invalid %s=%q: %v, using default", key, raw, err))
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	lower := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.ToLower(strings.TrimSpace(v))
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseBool(v)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseInt(v, valid, rule)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseDuration(v, valid, rule)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}
	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDur := func(v time.Duration) bool { return v > 0 }
	nonNegativeDur := func(v time.Duration) bool { return v >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	lower(envStorageDriver, &cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	integer(envPostgresMaxOpenConns, &cfg.PostgresMaxOpenConns, positive, "must be > 0")
	duration(envOrderTimeout, &cfg.OrderTimeout, positiveDur, "must be > 0")
	duration(envLockTimeout, &cfg.LockTimeout, positiveDur, "must be > 0")
	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaTopic, &cfg.KafkaTopic)
	str(envKafkaDLQTopic, &cfg.KafkaDLQTopic)
	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDur, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDur, "must be >= 0")
	integer(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegative, "must be >= 0")
	integer(envOutboxBreakerFailures, &cfg.OutboxBreakerFailures, nonNegative, "must be >= 0")
	duration(envOutboxBreakerReset, &cfg.OutboxBreakerReset, positiveDur, "must be > 0")
	lower(envIdempotencyBackend, &cfg.IdempotencyBackend)
	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDur, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDur, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")
	str(envRedisAddr, &cfg.RedisAddr)
	str(envRedisPassword, &cfg.RedisPassword)
	integer(envRedisDB, &cfg.RedisDB, nonNegative, "must be >= 0")
	str(envOTLPEndpoint, &cfg.OTLPEndpoint)
	boolean(envOTLPInsecure, &cfg.OTLPInsecure)
	boolean(envSeedDemo, &cfg.SeedDemo)

	return cfg, warnings
}

// Validate проверяет согласованность настроек перед запуском.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.idempotencyBackend() {
	case IdempotencyBackendMemory:
	case IdempotencyBackendPostgres:
		if c.StorageDriver != StorageDriverPostgres {
			errs = append(errs, errors.New("postgres idempotency backend requires postgres storage driver"))
		}
	case IdempotencyBackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("redis addr is required for redis idempotency backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported idempotency backend %q", c.IdempotencyBackend))
	}
	return errors.Join(errs...)
}

// idempotencyBackend возвращает явный бэкенд или бэкенд по драйверу хранилища.
func (c Config) idempotencyBackend() string {
	if c.IdempotencyBackend != "" {
		return c.IdempotencyBackend
	}
	if c.StorageDriver == StorageDriverPostgres {
		return IdempotencyBackendPostgres
	}
	return IdempotencyBackendMemory
}

// kafkaBrokers разбирает список брокеров.
func (c Config) kafkaBrokers() []string {
	chunks := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected boolean value")
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}
