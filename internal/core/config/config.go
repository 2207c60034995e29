package config

import (
	"time"

	"github.com/vietddude/resilient/internal/cache"
	"github.com/vietddude/resilient/internal/infra/postgres"
	"github.com/vietddude/resilient/internal/infra/redisstore"
	"github.com/vietddude/resilient/internal/monitor"
	"github.com/vietddude/resilient/internal/retry"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Monitor  monitor.Config    `yaml:"monitor"`
	Retry    RetryConfig       `yaml:"retry"`
	Cache    cache.Config      `yaml:"cache"`
	Queue    QueueConfig       `yaml:"queue"`
	Redis    redisstore.Config `yaml:"redis"`
	Database postgres.Config   `yaml:"database"`
	Logging  LoggingConfig     `yaml:"logging"`
}

// RetryConfig holds the default retry policy applied when a caller supplies
// none.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	Multiplier     float64       `yaml:"multiplier"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// Policy converts the config block into a retry policy.
func (c RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    c.MaxAttempts,
		BaseDelay:      c.BaseDelay,
		MaxDelay:       c.MaxDelay,
		Multiplier:     c.Multiplier,
		AttemptTimeout: c.AttemptTimeout,
	}
}

// QueueConfig holds offline queue settings. The backing store is selected at
// wiring time: postgres when Database.URL is set, else redis when Redis.URL
// is set, else in-memory (non-durable).
type QueueConfig struct {
	// Namespace isolates queues sharing one storage backend.
	Namespace string `yaml:"namespace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
