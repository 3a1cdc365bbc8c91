package database

import (
	"database/sql"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const sqliteDriverName = "sqlite3_ledger"

// SQLite has no exact decimal type, so amounts are stored as TEXT and all
// arithmetic in guarded updates goes through these functions.
func init() {
	sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: registerDecimalFuncs,
	})
}

func registerDecimalFuncs(conn *sqlite3.SQLiteConn) error {
	if err := conn.RegisterFunc("dec_add", decAdd, true); err != nil {
		return fmt.Errorf("failed to register dec_add: %w", err)
	}
	if err := conn.RegisterFunc("dec_sub", decSub, true); err != nil {
		return fmt.Errorf("failed to register dec_sub: %w", err)
	}
	if err := conn.RegisterFunc("dec_cmp", decCmp, true); err != nil {
		return fmt.Errorf("failed to register dec_cmp: %w", err)
	}
	return nil
}

func decAdd(a, b interface{}) (string, error) {
	x, y, err := decimalPair(a, b)
	if err != nil {
		return "", err
	}
	return x.Add(y).String(), nil
}

func decSub(a, b interface{}) (string, error) {
	x, y, err := decimalPair(a, b)
	if err != nil {
		return "", err
	}
	return x.Sub(y).String(), nil
}

func decCmp(a, b interface{}) (int64, error) {
	x, y, err := decimalPair(a, b)
	if err != nil {
		return 0, err
	}
	return int64(x.Cmp(y)), nil
}

func decimalPair(a, b interface{}) (decimal.Decimal, decimal.Decimal, error) {
	x, err := toDecimal(a)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	y, err := toDecimal(b)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return x, y, nil
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch t := v.(type) {
	case int64:
		return decimal.NewFromInt(t), nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case string:
		return decimal.NewFromString(t)
	case []byte:
		return decimal.NewFromString(string(t))
	case nil:
		return decimal.Zero, fmt.Errorf("decimal argument is NULL")
	default:
		return decimal.Zero, fmt.Errorf("unsupported decimal argument %T", v)
	}
}
