package database

import (
	"strconv"
	"strings"
)

// dialect captures what differs between the embedded and the server store.
// Queries are written once with ? placeholders.
type dialect struct {
	name       string
	driverName string
	dollarArgs bool
	schema     []string
}

func (d dialect) rebind(query string) string {
	if !d.dollarArgs {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

var sqliteDialect = dialect{
	name:       "sqlite3",
	driverName: sqliteDriverName,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS user_assets (
			user_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			chain TEXT NOT NULL,
			available TEXT NOT NULL DEFAULT '0' CHECK (dec_cmp(available, '0') >= 0),
			frozen TEXT NOT NULL DEFAULT '0' CHECK (dec_cmp(frozen, '0') >= 0),
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, currency, chain)
		)`,
		`CREATE TABLE IF NOT EXISTS asset_transactions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			chain TEXT NOT NULL,
			tx_type TEXT NOT NULL,
			amount TEXT NOT NULL,
			frozen_delta TEXT NOT NULL,
			balance_before TEXT NOT NULL,
			balance_after TEXT NOT NULL,
			available_after TEXT NOT NULL,
			frozen_after TEXT NOT NULL,
			reference_type TEXT NOT NULL DEFAULT '',
			reference_id TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_asset_transactions_account ON asset_transactions(user_id, currency, chain, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_asset_transactions_type ON asset_transactions(tx_type)`,
		`CREATE INDEX IF NOT EXISTS idx_asset_transactions_created_at ON asset_transactions(created_at)`,
		`CREATE TABLE IF NOT EXISTS deposits (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			chain TEXT NOT NULL,
			txid TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			from_address TEXT NOT NULL DEFAULT '',
			amount TEXT NOT NULL,
			confirmations INTEGER NOT NULL DEFAULT 0,
			required_confirmations INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			confirmed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (txid, currency, chain)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deposits_user ON deposits(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_deposits_status ON deposits(status)`,
		`CREATE TABLE IF NOT EXISTS withdrawals (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			chain TEXT NOT NULL,
			amount TEXT NOT NULL,
			fee TEXT NOT NULL,
			actual_amount TEXT NOT NULL,
			address TEXT NOT NULL,
			address_tag TEXT NOT NULL DEFAULT '',
			remark TEXT NOT NULL DEFAULT '',
			txid TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			audit_user_id TEXT NOT NULL DEFAULT '',
			audit_time TIMESTAMP,
			reject_reason TEXT NOT NULL DEFAULT '',
			complete_time TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status)`,
	},
}

var postgresDialect = dialect{
	name:       "pgx",
	driverName: "pgx",
	dollarArgs: true,
	schema: []string{
		`CREATE OR REPLACE FUNCTION dec_add(a NUMERIC, b NUMERIC) RETURNS NUMERIC
			AS $$ SELECT a + b $$ LANGUAGE SQL IMMUTABLE`,
		`CREATE OR REPLACE FUNCTION dec_sub(a NUMERIC, b NUMERIC) RETURNS NUMERIC
			AS $$ SELECT a - b $$ LANGUAGE SQL IMMUTABLE`,
		`CREATE OR REPLACE FUNCTION dec_cmp(a NUMERIC, b NUMERIC) RETURNS INTEGER
			AS $$ SELECT CASE WHEN a < b THEN -1 WHEN a > b THEN 1 ELSE 0 END $$ LANGUAGE SQL IMMUTABLE`,
		`CREATE TABLE IF NOT EXISTS user_assets (
			user_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			chain TEXT NOT NULL,
			available NUMERIC(36,18) NOT NULL DEFAULT 0 CHECK (available >= 0),
			frozen NUMERIC(36,18) NOT NULL DEFAULT 0 CHECK (frozen >= 0),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, currency, chain)
		)`,
		`CREATE TABLE IF NOT EXISTS asset_transactions (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			chain TEXT NOT NULL,
			tx_type TEXT NOT NULL,
			amount NUMERIC(36,18) NOT NULL,
			frozen_delta NUMERIC(36,18) NOT NULL,
			balance_before NUMERIC(36,18) NOT NULL,
			balance_after NUMERIC(36,18) NOT NULL,
			available_after NUMERIC(36,18) NOT NULL,
			frozen_after NUMERIC(36,18) NOT NULL,
			reference_type TEXT NOT NULL DEFAULT '',
			reference_id TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_asset_transactions_account ON asset_transactions(user_id, currency, chain, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_asset_transactions_type ON asset_transactions(tx_type)`,
		`CREATE INDEX IF NOT EXISTS idx_asset_transactions_created_at ON asset_transactions(created_at)`,
		`CREATE TABLE IF NOT EXISTS deposits (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			chain TEXT NOT NULL,
			txid TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			from_address TEXT NOT NULL DEFAULT '',
			amount NUMERIC(36,18) NOT NULL,
			confirmations INTEGER NOT NULL DEFAULT 0,
			required_confirmations INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			confirmed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (txid, currency, chain)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deposits_user ON deposits(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_deposits_status ON deposits(status)`,
		`CREATE TABLE IF NOT EXISTS withdrawals (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			chain TEXT NOT NULL,
			amount NUMERIC(36,18) NOT NULL,
			fee NUMERIC(36,18) NOT NULL,
			actual_amount NUMERIC(36,18) NOT NULL,
			address TEXT NOT NULL,
			address_tag TEXT NOT NULL DEFAULT '',
			remark TEXT NOT NULL DEFAULT '',
			txid TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			audit_user_id TEXT NOT NULL DEFAULT '',
			audit_time TIMESTAMPTZ,
			reject_reason TEXT NOT NULL DEFAULT '',
			complete_time TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status)`,
	},
}

func dialectFor(driver string) (dialect, bool) {
	switch driver {
	case "", sqliteDialect.name:
		return sqliteDialect, true
	case postgresDialect.name, "postgres":
		return postgresDialect, true
	}
	return dialect{}, false
}
