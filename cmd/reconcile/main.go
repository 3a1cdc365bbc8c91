package main

import (
	"context"
	"fmt"
	"os"

	"asset-ledger-go/internal/common"
	"asset-ledger-go/internal/config"

	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger(config.LoadLogConfig())
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeLedgerOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer services.Close()

	summary, err := services.Reconciler.Run(ctx)
	if err != nil {
		zap.L().Fatal("Reconciliation failed", zap.Error(err))
	}

	common.PrintHeader("RECONCILIATION REPORT", common.WideWidth)
	for i, r := range summary.Mismatched {
		isLast := i == len(summary.Mismatched)-1 && len(summary.Failed) == 0
		fmt.Printf("%s MISMATCH %s\n", common.BoxPrefix(isLast), r.Account)
		fmt.Printf("%s   balance total %s, journal total %s\n", common.BoxDetailPrefix(isLast), r.Total().String(), r.JournalTotal.String())
		fmt.Printf("%s   balance frozen %s, journal frozen %s\n", common.BoxDetailPrefix(isLast), r.Frozen.String(), r.JournalFrozen.String())
	}
	for account, ferr := range summary.Failed {
		fmt.Printf("%s ERROR %s: %v\n", common.BoxPrefix(false), account, ferr)
	}
	common.PrintFooter(fmt.Sprintf("SUMMARY: %d accounts, %d balanced, %d mismatched, %d failed (%s)",
		summary.Accounts, summary.Balanced, len(summary.Mismatched), len(summary.Failed), summary.Duration), common.WideWidth)

	if !summary.Clean() {
		loggerCleanup()
		os.Exit(1)
	}
}
