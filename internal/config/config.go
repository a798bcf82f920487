// Package config defines and loads the application configuration.
package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis" validate:"required"`
	Reminders RemindersConfig `mapstructure:"reminders" validate:"required"`
	Outbox    OutboxConfig    `mapstructure:"outbox" validate:"required"`
	Audit     AuditConfig     `mapstructure:"audit" validate:"required"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database related settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// RedisConfig contains the bus and state store connection settings. An empty
// address selects the in-process implementations, for single-node and test
// deployments.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RemindersConfig contains the reminder scheduler settings.
type RemindersConfig struct {
	// Lead is how far before a task's due time its reminder fires.
	Lead time.Duration `mapstructure:"lead" validate:"required,gt=0"`
}

// OutboxConfig contains the outbox relay settings.
type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required,gt=0"`
	BatchSize    int           `mapstructure:"batch_size" validate:"required,gt=0"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"required,gt=0"`
}

// AuditConfig contains the audit log settings.
type AuditConfig struct {
	// Retention is how long audit records are kept.
	Retention time.Duration `mapstructure:"retention" validate:"required,gt=0"`

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"required,gt=0"`
}
