package common

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"asset-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

func TestInitializeLedgerOnly(t *testing.T) {
	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Driver:           "sqlite3",
			Path:             ":memory:",
			MaxOpenConns:     1,
			PingTimeout:      time.Second,
			StatementTimeout: 5 * time.Second,
		},
		Deposit: models.DepositConfig{ConfirmationPolicy: "monotonic", DefaultRequiredConfirmations: 3},
		Listener: models.ListenerConfig{
			ReconcileWorkers: 2,
			AssetsFile:       filepath.Join(t.TempDir(), "assets.yaml"),
		},
	}

	s, err := InitializeLedgerOnly(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitializeLedgerOnly failed: %v", err)
	}
	defer s.Close()

	if s.KV != nil || s.Withdrawals != nil || s.Publisher != nil {
		t.Errorf("Expected no network-backed services")
	}
	if err := s.API.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}

	account := models.Account{UserId: "alice", Currency: "USDC", Chain: "ethereum-mainnet"}
	if _, err := s.Ledger.Adjust(context.Background(), account, decimal.NewFromInt(3), "ops", "opening balance"); err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}
	summary, err := s.Reconciler.Run(context.Background())
	if err != nil || !summary.Clean() || summary.Accounts != 1 {
		t.Errorf("Reconcile = %+v, %v", summary, err)
	}
}

func TestInitializeLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")
	logger, cleanup := InitializeLogger(models.LogConfig{Level: "debug", File: path, MaxSizeMB: 1})
	logger.Info("hello")
	cleanup()

	if !logger.Core().Enabled(-1) {
		t.Errorf("Expected debug level enabled")
	}
}
