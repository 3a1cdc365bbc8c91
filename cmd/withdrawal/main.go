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
	"os"

	"asset-ledger-go/internal/common"
	"asset-ledger-go/internal/config"
	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/withdrawal"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const usage = `usage: withdrawal <command> [flags]

commands:
  request    --user --currency --chain --amount --address [--fee --tag --remark]
  approve    --id --auditor
  reject     --id --auditor --reason
  broadcast  --id
  complete   --id [--txid]
  show       --id
  list       [--user --status --limit --offset]
`

func requireFlags(fs *flag.FlagSet, names ...string) error {
	for _, name := range names {
		if f := fs.Lookup(name); f == nil || f.Value.String() == "" {
			return fmt.Errorf("--%s is required", name)
		}
	}
	return nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format: %w", err)
	}
	return amount, nil
}

func printWithdrawal(title string, w models.Withdrawal) {
	common.PrintHeader(title, common.DefaultWidth)
	fmt.Printf("Id:            %s\n", w.Id)
	fmt.Printf("User:          %s\n", w.UserId)
	fmt.Printf("Asset:         %s\n", common.AssetLabel(w.Currency, w.Chain))
	fmt.Printf("Amount:        %s (fee %s, net %s)\n", w.Amount.String(), w.Fee.String(), w.ActualAmount.String())
	fmt.Printf("Destination:   %s\n", w.Address)
	fmt.Printf("Status:        %s\n", w.Status)
	if w.TxId != "" {
		fmt.Printf("TxId:          %s\n", w.TxId)
	}
	if w.RejectReason != "" {
		fmt.Printf("Reject reason: %s\n", w.RejectReason)
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func run(ctx context.Context, workflow *withdrawal.Workflow, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	id := fs.String("id", "", "Withdrawal id")
	user := fs.String("user", "", "User id")
	currency := fs.String("currency", "", "Currency symbol, e.g. USDC")
	chain := fs.String("chain", "", "Chain, e.g. ethereum-mainnet")
	amount := fs.String("amount", "", "Gross amount to withdraw")
	fee := fs.String("fee", "", "Fee (defaults to the catalog fee)")
	address := fs.String("address", "", "Destination address")
	tag := fs.String("tag", "", "Destination memo/tag")
	remark := fs.String("remark", "", "Free-form remark")
	auditor := fs.String("auditor", "", "Auditor id")
	reason := fs.String("reason", "", "Rejection reason")
	txid := fs.String("txid", "", "Chain transaction id")
	status := fs.String("status", "", "Status filter")
	limit := fs.Int("limit", models.DefaultPageLimit, "Page size")
	offset := fs.Int("offset", 0, "Page offset")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch cmd {
	case "request":
		if err := requireFlags(fs, "user", "currency", "chain", "amount", "address"); err != nil {
			return err
		}
		gross, err := parseAmount(*amount)
		if err != nil {
			return err
		}
		feeAmount, err := parseAmount(*fee)
		if err != nil {
			return err
		}
		w, err := workflow.Request(ctx, withdrawal.RequestParams{
			UserId:     *user,
			Currency:   *currency,
			Chain:      *chain,
			Amount:     gross,
			Fee:        feeAmount,
			Address:    *address,
			AddressTag: *tag,
			Remark:     *remark,
		})
		if err != nil {
			return err
		}
		printWithdrawal("WITHDRAWAL REQUESTED", w)

	case "approve":
		if err := requireFlags(fs, "id", "auditor"); err != nil {
			return err
		}
		w, err := workflow.Approve(ctx, *id, *auditor)
		if err != nil {
			return err
		}
		printWithdrawal("WITHDRAWAL APPROVED", w)

	case "reject":
		if err := requireFlags(fs, "id", "auditor", "reason"); err != nil {
			return err
		}
		w, err := workflow.Reject(ctx, *id, *auditor, *reason)
		if err != nil {
			return err
		}
		printWithdrawal("WITHDRAWAL REJECTED", w)

	case "broadcast":
		if err := requireFlags(fs, "id"); err != nil {
			return err
		}
		w, err := workflow.Broadcast(ctx, *id)
		if err != nil {
			return err
		}
		printWithdrawal("WITHDRAWAL BROADCAST", w)

	case "complete":
		if err := requireFlags(fs, "id"); err != nil {
			return err
		}
		w, err := workflow.Complete(ctx, *id, *txid)
		if err != nil {
			return err
		}
		printWithdrawal("WITHDRAWAL COMPLETED", w)

	case "show":
		if err := requireFlags(fs, "id"); err != nil {
			return err
		}
		w, err := workflow.Get(ctx, *id)
		if err != nil {
			return err
		}
		printWithdrawal("WITHDRAWAL", w)

	case "list":
		result, err := workflow.List(ctx, models.WithdrawalFilter{
			UserId: *user,
			Status: models.WithdrawalStatus(*status),
			Page:   models.Page{Limit: *limit, Offset: *offset},
		})
		if err != nil {
			return err
		}
		common.PrintHeader(fmt.Sprintf("WITHDRAWALS (%d of %d)", len(result.Items), result.Total), common.WideWidth)
		for i, w := range result.Items {
			fmt.Printf("%s %-11s  %-10s %s %s -> %s\n", common.BoxPrefix(i == len(result.Items)-1),
				common.ShortId(w.Id), w.Status, w.Amount.String(), common.AssetLabel(w.Currency, w.Chain), w.Address)
		}
		common.PrintSeparator("=", common.WideWidth)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger(config.LoadLogConfig())
	defer loggerCleanup()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	zap.L().Info("Initializing services")
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if err := run(ctx, services.Withdrawals, cmd, os.Args[2:]); err != nil {
		common.PrintHeader("WITHDRAWAL FAILED", common.DefaultWidth)
		fmt.Printf("Error: %v\n", err)
		common.PrintSeparator("=", common.DefaultWidth)
		zap.L().Fatal("Withdrawal command failed", zap.String("command", cmd), zap.Error(err))
	}
}
