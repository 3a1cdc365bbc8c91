package formance

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// assetPrecision maps canonical asset symbols to their decimal precision when
// the asset catalog has no entry.
var assetPrecision = map[string]int{
	"USD":  2,
	"USDC": 6,
	"USDT": 6,
	"BTC":  8,
	"ETH":  18,
	"SOL":  9,
}

const numscriptMint = `vars {
  asset $asset
  number $amount
  account $destination
  string $entry_id
  string $kind
  string $reference_type
  string $reference_id
}

send [$asset $amount] (
  source = @world
  destination = $destination
)

set_tx_meta("entry_id", $entry_id)
set_tx_meta("kind", $kind)
set_tx_meta("reference_type", $reference_type)
set_tx_meta("reference_id", $reference_id)
`

const numscriptTransfer = `vars {
  asset $asset
  number $amount
  account $source
  account $destination
  string $entry_id
  string $kind
  string $reference_type
  string $reference_id
}

send [$asset $amount] (
  source = $source allowing unbounded overdraft
  destination = $destination
)

set_tx_meta("entry_id", $entry_id)
set_tx_meta("kind", $kind)
set_tx_meta("reference_type", $reference_type)
set_tx_meta("reference_id", $reference_id)
`

const worldAccount = "world"

type ledgerAPI interface {
	CreateLedger(ctx context.Context, request operations.V2CreateLedgerRequest, opts ...operations.Option) (*operations.V2CreateLedgerResponse, error)
	CreateTransaction(ctx context.Context, request operations.V2CreateTransactionRequest, opts ...operations.Option) (*operations.V2CreateTransactionResponse, error)
}

var _ store.JournalSink = (*Mirror)(nil)

// Mirror replays committed journal entries into a Formance ledger, one
// Numscript transaction per entry. The entry id is the transaction reference,
// so a replayed entry is accepted as already mirrored.
type Mirror struct {
	api     ledgerAPI
	ledger  string
	catalog *models.AssetCatalog
}

// NewMirror connects to the stack and creates the ledger if it doesn't
// already exist.
func NewMirror(ctx context.Context, cfg models.FormanceConfig, catalog *models.AssetCatalog) (*Mirror, error) {
	if cfg.StackURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("formance config requires StackURL, ClientID, and ClientSecret")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = "asset-ledger"
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientID),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	m := &Mirror{api: client.Ledger.V2, ledger: cfg.LedgerName, catalog: catalog}
	if err := m.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}

	zap.L().Info("Formance mirror initialized", zap.String("ledger", cfg.LedgerName))
	return m, nil
}

func (m *Mirror) ensureLedger(ctx context.Context) error {
	_, err := m.api.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: m.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "asset-ledger",
			},
		},
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists {
			zap.L().Info("Ledger already exists", zap.String("ledger", m.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", m.ledger))
	return nil
}

func (m *Mirror) Name() string {
	return "formance"
}

func (m *Mirror) Publish(ctx context.Context, entries []models.AssetTransaction) error {
	for _, e := range entries {
		if err := m.mirror(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mirror) mirror(ctx context.Context, e models.AssetTransaction) error {
	source, destination, amount, err := postingFor(e)
	if err != nil {
		return err
	}

	precision := m.precisionFor(e.Currency, e.Chain)
	units := amount.Shift(int32(precision))
	if !units.Equal(units.Truncate(0)) {
		return fmt.Errorf("%w: entry %s amount %s has more than %d decimals", store.ErrInvalidInput, e.Id, amount, precision)
	}

	vars := map[string]string{
		"asset":          formanceAsset(e.Currency, precision),
		"amount":         units.BigInt().String(),
		"destination":    destination,
		"entry_id":       e.Id,
		"kind":           string(e.Kind),
		"reference_type": e.ReferenceType,
		"reference_id":   e.ReferenceId,
	}
	script := numscriptMint
	if source != worldAccount {
		script = numscriptTransfer
		vars["source"] = source
	}

	postTx := shared.V2PostTransaction{
		Reference: strPtr(e.Id),
		Script: &shared.V2PostTransactionScript{
			Plain: script,
			Vars:  vars,
		},
	}
	if !e.CreatedAt.IsZero() {
		ts := e.CreatedAt
		postTx.Timestamp = &ts
	}

	_, err = m.api.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            m.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if isConflictError(err) {
			zap.L().Debug("Journal entry already mirrored", zap.String("entry_id", e.Id))
			return nil
		}
		return fmt.Errorf("error mirroring journal entry %s: %w", e.Id, err)
	}
	return nil
}

// postingFor maps a journal entry onto one transfer between the account's
// available and frozen sub-accounts and @world.
func postingFor(e models.AssetTransaction) (source, destination string, amount decimal.Decimal, err error) {
	available := accountAddress(e.Account(), "available")
	frozen := accountAddress(e.Account(), "frozen")

	total, held := e.Amount.Sign(), e.FrozenDelta.Sign()
	switch {
	case total > 0 && held == 0:
		return worldAccount, available, e.Amount, nil
	case total < 0 && held == 0:
		return available, worldAccount, e.Amount.Neg(), nil
	case total == 0 && held > 0:
		return available, frozen, e.FrozenDelta, nil
	case total == 0 && held < 0:
		return frozen, available, e.FrozenDelta.Neg(), nil
	case total < 0 && held < 0 && e.Amount.Equal(e.FrozenDelta):
		return frozen, worldAccount, e.Amount.Neg(), nil
	}
	return "", "", decimal.Zero, fmt.Errorf("%w: entry %s has no single-posting form (amount %s, frozen delta %s)",
		store.ErrInvalidInput, e.Id, e.Amount, e.FrozenDelta)
}

var invalidSegmentChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func segment(s string) string {
	return invalidSegmentChars.ReplaceAllString(s, "_")
}

// accountAddress returns e.g. "users:alice:USDC_ethereum-mainnet:available".
func accountAddress(a models.Account, bucket string) string {
	return fmt.Sprintf("users:%s:%s_%s:%s", segment(a.UserId), segment(a.Currency), segment(a.Chain), bucket)
}

func (m *Mirror) precisionFor(currency, chain string) int {
	if asset, ok := m.catalog.Lookup(currency, chain); ok && asset.Decimals > 0 {
		return asset.Decimals
	}
	if p, ok := assetPrecision[currency]; ok {
		return p
	}
	return 6
}

// formanceAsset returns the Formance UMN notation, e.g. "USDC/6".
func formanceAsset(symbol string, precision int) string {
	return fmt.Sprintf("%s/%d", segment(symbol), precision)
}

// isConflictError checks whether a Formance SDK error is a CONFLICT (duplicate reference).
func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}

func strPtr(s string) *string { return &s }
