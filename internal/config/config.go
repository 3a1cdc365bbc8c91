/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"asset-ledger-go/internal/models"

	"gopkg.in/validator.v2"
)

func Load() (*models.Config, error) {
	d := &durations{}

	cfg := &models.Config{
		Log: LoadLogConfig(),
		Database: models.DatabaseConfig{
			Driver:           getEnvString("DB_DRIVER", "sqlite3"),
			Path:             getEnvString("DATABASE_PATH", "ledger.db"),
			DSN:              getEnvString("DATABASE_DSN", ""),
			MaxOpenConns:     getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  d.get("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime:  d.get("DB_CONN_MAX_IDLE_TIME", 30*time.Second),
			PingTimeout:      d.get("DB_PING_TIMEOUT", 5*time.Second),
			StatementTimeout: d.get("DB_STATEMENT_TIMEOUT", 5*time.Second),
		},
		Redis: models.RedisConfig{
			Addr:      getEnvString("REDIS_ADDR", "localhost:6379"),
			Username:  getEnvString("REDIS_USERNAME", ""),
			Password:  getEnvString("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			Timeout:   d.get("REDIS_TIMEOUT", 2*time.Second),
			KeyPrefix: getEnvString("REDIS_KEY_PREFIX", "ledger:"),
		},
		Coordination: models.CoordinationConfig{
			LockTTL:              d.get("LOCK_TTL", 30*time.Second),
			LockMaxAttempts:      getEnvInt("LOCK_MAX_ATTEMPTS", 5),
			LockRetryInitial:     d.get("LOCK_RETRY_INITIAL", 100*time.Millisecond),
			WithdrawalRateLimit:  getEnvInt("WITHDRAWAL_RATE_LIMIT", 5),
			WithdrawalRateWindow: d.get("WITHDRAWAL_RATE_WINDOW", time.Minute),
		},
		Deposit: models.DepositConfig{
			ConfirmationPolicy:           getEnvString("DEPOSIT_CONFIRMATION_POLICY", "monotonic"),
			DefaultRequiredConfirmations: getEnvInt("DEFAULT_REQUIRED_CONFIRMATIONS", 6),
		},
		Kafka: models.KafkaConfig{
			Brokers:      getEnvList("KAFKA_BROKERS"),
			JournalTopic: getEnvString("KAFKA_JOURNAL_TOPIC", "ledger.journal"),
			ChainTopic:   getEnvString("KAFKA_CHAIN_TOPIC", "chain.events"),
			GroupID:      getEnvString("KAFKA_GROUP_ID", "asset-ledger"),
		},
		Formance: models.FormanceConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "asset-ledger"),
		},
		Prime: models.PrimeConfig{
			AccessKey:   getEnvString("PRIME_ACCESS_KEY", ""),
			Passphrase:  getEnvString("PRIME_PASSPHRASE", ""),
			SigningKey:  getEnvString("PRIME_SIGNING_KEY", ""),
			PortfolioId: getEnvString("PRIME_PORTFOLIO_ID", ""),
		},
		Listener: models.ListenerConfig{
			PollingInterval:   d.get("LISTENER_POLLING_INTERVAL", 30*time.Second),
			ReconcileInterval: d.get("RECONCILE_INTERVAL", 15*time.Minute),
			ReconcileWorkers:  getEnvInt("RECONCILE_WORKERS", 8),
			AssetsFile:        getEnvString("ASSETS_FILE", "assets.yaml"),
		},
		Metrics: models.MetricsConfig{
			Addr: getEnvString("METRICS_ADDR", ":9090"),
		},
	}
	if d.err != nil {
		return nil, d.err
	}

	if err := validator.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Database.Driver == "pgx" && cfg.Database.DSN == "" {
		return nil, fmt.Errorf("invalid configuration: DATABASE_DSN is required for the pgx driver")
	}

	return cfg, nil
}

// LoadLogConfig is separate so binaries can build the logger before the rest
// of the configuration is validated.
func LoadLogConfig() models.LogConfig {
	return models.LogConfig{
		Level:      strings.ToLower(getEnvString("LOG_LEVEL", "info")),
		File:       getEnvString("LOG_FILE", ""),
		MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
	}
}

// durations keeps the first parse error so Load reads top to bottom.
type durations struct {
	err error
}

func (d *durations) get(key string, defaultValue time.Duration) time.Duration {
	v, err := getEnvDuration(key, defaultValue)
	if err != nil && d.err == nil {
		d.err = err
	}
	return v
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
