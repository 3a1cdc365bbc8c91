package main

import (
	"context"
	"flag"
	"fmt"

	"asset-ledger-go/internal/common"
	"asset-ledger-go/internal/config"
	"asset-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger(config.LoadLogConfig())
	defer loggerCleanup()

	userFlag := flag.String("user", "", "User id (required)")
	currencyFlag := flag.String("currency", "", "Currency symbol, e.g. USDC (required)")
	chainFlag := flag.String("chain", "", "Chain, e.g. ethereum-mainnet (required)")
	deltaFlag := flag.String("delta", "", "Signed amount: positive credits, negative debits (required)")
	operatorFlag := flag.String("operator", "", "Operator id recorded on the journal entry (required)")
	reasonFlag := flag.String("reason", "", "Reason recorded on the journal entry (required)")
	flag.Parse()

	if *userFlag == "" || *currencyFlag == "" || *chainFlag == "" || *deltaFlag == "" || *operatorFlag == "" || *reasonFlag == "" {
		zap.L().Fatal("All flags are required: --user, --currency, --chain, --delta, --operator, --reason")
	}
	delta, err := decimal.NewFromString(*deltaFlag)
	if err != nil {
		zap.L().Fatal("Invalid delta", zap.String("delta", *deltaFlag), zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	account := models.Account{UserId: *userFlag, Currency: *currencyFlag, Chain: *chainFlag}
	entry, err := services.Ledger.Adjust(ctx, account, delta, *operatorFlag, *reasonFlag)
	if err != nil {
		common.PrintHeader("ADJUSTMENT FAILED", common.DefaultWidth)
		fmt.Printf("Account: %s\n", account)
		fmt.Printf("Error:   %v\n", err)
		common.PrintSeparator("=", common.DefaultWidth)
		zap.L().Fatal("Adjustment failed", zap.Error(err))
	}

	common.PrintHeader("ADJUSTMENT APPLIED", common.DefaultWidth)
	fmt.Printf("Account:        %s\n", account)
	fmt.Printf("Asset:          %s\n", common.AssetLabel(account.Currency, account.Chain))
	fmt.Printf("Journal entry:  %s\n", entry.Id)
	fmt.Printf("Change:         %s\n", entry.Amount.String())
	fmt.Printf("Balance:        %s -> %s\n", entry.BalanceBefore.String(), entry.BalanceAfter.String())
	fmt.Printf("Available:      %s\n", entry.AvailableAfter.String())
	common.PrintSeparator("=", common.DefaultWidth)
}
