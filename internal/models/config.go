package models

import "time"

// Config represents the application configuration
type Config struct {
	Log          LogConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Coordination CoordinationConfig
	Deposit      DepositConfig
	Kafka        KafkaConfig
	Formance     FormanceConfig
	Prime        PrimeConfig
	Listener     ListenerConfig
	Metrics      MetricsConfig
}

// LogConfig controls the process-wide zap logger
type LogConfig struct {
	Level      string `validate:"regexp=^(debug|info|warn|error)$"`
	File       string
	MaxSizeMB  int `validate:"min=1"`
	MaxBackups int `validate:"min=0"`
	MaxAgeDays int `validate:"min=0"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver           string `validate:"regexp=^(sqlite3|pgx)$"`
	Path             string
	DSN              string
	MaxOpenConns     int `validate:"min=1"`
	MaxIdleConns     int `validate:"min=0"`
	ConnMaxLifetime  time.Duration
	ConnMaxIdleTime  time.Duration
	PingTimeout      time.Duration `validate:"min=1"`
	StatementTimeout time.Duration `validate:"min=1"`
}

// RedisConfig holds key-value store connection settings
type RedisConfig struct {
	Addr      string `validate:"nonzero"`
	Username  string
	Password  string
	DB        int           `validate:"min=0"`
	Timeout   time.Duration `validate:"min=1"`
	KeyPrefix string
}

// CoordinationConfig holds lock and rate limit policy
type CoordinationConfig struct {
	LockTTL              time.Duration `validate:"min=1"`
	LockMaxAttempts      int           `validate:"min=1"`
	LockRetryInitial     time.Duration `validate:"min=1"`
	WithdrawalRateLimit  int           `validate:"min=1"`
	WithdrawalRateWindow time.Duration `validate:"min=1"`
}

// DepositConfig holds deposit confirmation policy
type DepositConfig struct {
	ConfirmationPolicy           string `validate:"regexp=^(monotonic|allow-rollback)$"`
	DefaultRequiredConfirmations int    `validate:"min=1"`
}

// KafkaConfig holds message bus settings. No brokers disables Kafka.
type KafkaConfig struct {
	Brokers      []string
	JournalTopic string
	ChainTopic   string
	GroupID      string
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// FormanceConfig holds settings for the Formance journal mirror
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

func (c FormanceConfig) Enabled() bool {
	return c.StackURL != ""
}

// PrimeConfig holds Coinbase Prime credentials for withdrawal broadcast
type PrimeConfig struct {
	AccessKey   string
	Passphrase  string
	SigningKey  string
	PortfolioId string
}

func (c PrimeConfig) Enabled() bool {
	return c.AccessKey != "" && c.Passphrase != "" && c.SigningKey != ""
}

// ListenerConfig holds background loop settings
type ListenerConfig struct {
	PollingInterval   time.Duration `validate:"min=1"`
	ReconcileInterval time.Duration `validate:"min=1"`
	ReconcileWorkers  int           `validate:"min=1"`
	AssetsFile        string
}

// MetricsConfig holds the Prometheus endpoint address
type MetricsConfig struct {
	Addr string
}

// Redacted returns a copy with credentials masked, safe for debug output.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	out := c
	out.Database.DSN = mask(c.Database.DSN)
	out.Redis.Password = mask(c.Redis.Password)
	out.Formance.ClientSecret = mask(c.Formance.ClientSecret)
	out.Prime.Passphrase = mask(c.Prime.Passphrase)
	out.Prime.SigningKey = mask(c.Prime.SigningKey)
	return out
}
