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
package main

import (
	"context"
	"flag"
	"fmt"

	"asset-ledger-go/internal/common"
	"asset-ledger-go/internal/config"
	"asset-ledger-go/internal/models"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalUsers    int
	totalBalances int
	frozenRows    int
}

func printBalance(balance models.UserAsset, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	fmt.Printf("%s %-28s available: %20s  frozen: %20s  (updated: %s)\n",
		symbol,
		common.AssetLabel(balance.Currency, balance.Chain),
		balance.Available.String(),
		balance.Frozen.String(),
		balance.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func printUserHeader(userId string, balanceCount int) {
	fmt.Printf("\n┌─ User: %s\n", userId)
	fmt.Printf("│  Assets: %d\n", balanceCount)
	common.PrintBoxSeparator(common.WideWidth - 2)
}

// collectBalances pages through every matching row
func collectBalances(ctx context.Context, services *common.Services, userId string) ([]models.UserAsset, error) {
	var all []models.UserAsset
	page := models.Page{Limit: models.MaxPageLimit}
	for {
		result, err := services.API.ListBalances(ctx, models.BalanceFilter{UserId: userId, Page: page})
		if err != nil {
			return nil, err
		}
		all = append(all, result.Items...)
		page.Offset += len(result.Items)
		if len(result.Items) == 0 || int64(page.Offset) >= result.Total {
			return all, nil
		}
	}
}

func generateReport(balances []models.UserAsset) balanceStats {
	stats := balanceStats{}

	for start := 0; start < len(balances); {
		end := start
		for end < len(balances) && balances[end].UserId == balances[start].UserId {
			end++
		}
		userBalances := balances[start:end]

		stats.totalUsers++
		stats.totalBalances += len(userBalances)
		printUserHeader(balances[start].UserId, len(userBalances))
		for i, b := range userBalances {
			if b.Frozen.IsPositive() {
				stats.frozenRows++
			}
			printBalance(b, i == len(userBalances)-1)
		}
		start = end
	}

	return stats
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger(config.LoadLogConfig())
	defer loggerCleanup()

	userFlag := flag.String("user", "", "Filter by user id (optional)")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Read-only report, no key-value store or integrations needed
	logger.Info("Connecting to database", zap.String("driver", cfg.Database.Driver))
	services, err := common.InitializeLedgerOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer services.Close()

	balances, err := collectBalances(ctx, services, *userFlag)
	if err != nil {
		logger.Fatal("Failed to list balances", zap.Error(err))
	}

	common.PrintHeader("USER BALANCE REPORT", common.WideWidth)

	stats := generateReport(balances)

	summary := fmt.Sprintf("SUMMARY: %d balances across %d users (%d with frozen funds)",
		stats.totalBalances, stats.totalUsers, stats.frozenRows)
	common.PrintFooter(summary, common.WideWidth)

	logger.Info("Balance query completed",
		zap.Int("users", stats.totalUsers),
		zap.Int("balances", stats.totalBalances))
}
