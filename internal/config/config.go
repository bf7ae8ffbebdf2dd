// Package config загружает конфигурацию процессов из переменных окружения.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/Wallet/internal/recovery"
	"github.com/shaiso/Wallet/internal/repo"
)

// Драйверы хранилища.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config — конфигурация wallet-api и wallet-recovery.
type Config struct {
	// Storage
	StoreDriver   string
	DatabaseURL   string
	DBLockTimeout time.Duration

	// HTTP
	APIPort      int
	RecoveryPort int

	// RabbitMQ (пустой URL — без уведомлений)
	RabbitMQURL string

	// Backoff шагов саги
	RetryBase time.Duration
	RetryMax  time.Duration

	// Recovery
	RecoveryEnabled    bool
	RecoveryInterval   time.Duration
	RecoveryStaleAfter time.Duration
	RecoveryBatchSize  int
	RecoveryTimeout    time.Duration
}

// Load читает конфигурацию и проверяет её.
func Load() (*Config, error) {
	cfg := &Config{
		StoreDriver:   strings.ToLower(GetEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:   GetEnv("DB_URL", repo.DefaultDSN),
		DBLockTimeout: GetEnvMillis("DB_LOCK_TIMEOUT_MS", 5*time.Second),

		APIPort:      GetEnvInt("API_PORT", 8080),
		RecoveryPort: GetEnvInt("RECOVERY_PORT", 8084),

		RabbitMQURL: GetEnv("RABBITMQ_URL", ""),

		RetryBase: GetEnvMillis("SAGA_RETRY_BASE_MS", 50*time.Millisecond),
		RetryMax:  GetEnvMillis("SAGA_RETRY_MAX_MS", 2*time.Second),

		RecoveryEnabled:    GetEnvBool("RECOVERY_ENABLED", true),
		RecoveryInterval:   GetEnvDuration("RECOVERY_INTERVAL", recovery.DefaultInterval),
		RecoveryStaleAfter: GetEnvDuration("RECOVERY_STALE_AFTER", recovery.DefaultStaleAfter),
		RecoveryBatchSize:  GetEnvInt("RECOVERY_BATCH_SIZE", recovery.DefaultBatchSize),
		RecoveryTimeout:    GetEnvDuration("RECOVERY_TIMEOUT", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения конфигурации.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER: unknown driver %q", c.StoreDriver))
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("API_PORT: invalid port %d", c.APIPort))
	}
	if c.RecoveryPort <= 0 || c.RecoveryPort > 65535 {
		errs = append(errs, fmt.Errorf("RECOVERY_PORT: invalid port %d", c.RecoveryPort))
	}
	if c.RetryBase <= 0 || c.RetryMax < c.RetryBase {
		errs = append(errs, fmt.Errorf("SAGA_RETRY_*: need 0 < base (%s) <= max (%s)", c.RetryBase, c.RetryMax))
	}
	if c.RecoveryInterval < time.Second {
		errs = append(errs, fmt.Errorf("RECOVERY_INTERVAL: must be at least 1s, got %s", c.RecoveryInterval))
	}
	if c.RecoveryStaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("RECOVERY_STALE_AFTER: must be positive"))
	}
	if c.RecoveryBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("RECOVERY_BATCH_SIZE: must be positive"))
	}

	return errors.Join(errs...)
}

// APIAddr возвращает адрес HTTP сервера API.
func (c *Config) APIAddr() string {
	return ":" + strconv.Itoa(c.APIPort)
}

// RecoveryAddr возвращает адрес HTTP сервера wallet-recovery.
func (c *Config) RecoveryAddr() string {
	return ":" + strconv.Itoa(c.RecoveryPort)
}

// --- Env helpers ---

// GetEnv возвращает значение переменной или значение по умолчанию.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetEnvInt возвращает целое значение переменной.
// Некорректное значение заменяется значением по умолчанию.
func GetEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// GetEnvBool возвращает булево значение переменной.
func GetEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// GetEnvDuration читает длительность в формате time.ParseDuration.
func GetEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// GetEnvMillis читает длительность в миллисекундах.
func GetEnvMillis(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}
