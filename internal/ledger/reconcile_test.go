package ledger

import (
	"context"
	"errors"
	"testing"

	"asset-ledger-go/internal/database"
	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"
)

func TestReconcile_Balanced(t *testing.T) {
	l, cleanup := setupTestLedger(t)
	defer cleanup()

	steps := []struct {
		op     models.BalanceOp
		amount string
	}{
		{models.OpCredit, "100"},
		{models.OpFreeze, "30"},
		{models.OpDeductFrozen, "20"},
		{models.OpUnfreeze, "5"},
		{models.OpDebit, "0.000000000000000001"},
	}
	for _, s := range steps {
		if _, err := post(t, l, s.op, alice, s.amount); err != nil {
			t.Fatalf("%s %s failed: %v", s.op, s.amount, err)
		}
	}

	result, err := l.Reconcile(context.Background(), alice)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !result.Balanced() || result.Entries != len(steps) {
		t.Errorf("unexpected result %+v", result)
	}
	if !result.Total().Equal(dec("79.999999999999999999")) || !result.Frozen.Equal(dec("5")) {
		t.Errorf("total=%s frozen=%s", result.Total(), result.Frozen)
	}
}

func TestReconcile_DetectsTamperedBalance(t *testing.T) {
	l, cleanup := setupTestLedger(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := post(t, l, models.OpCredit, alice, "10"); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	err := l.DB().WithScope(ctx, func(ctx context.Context, scope *database.Scope) error {
		_, err := scope.Exec(ctx, `UPDATE user_assets SET available = '11' WHERE user_id = ?`, "alice")
		return err
	})
	if err != nil {
		t.Fatalf("tamper failed: %v", err)
	}

	result, err := l.Reconcile(ctx, alice)
	if !errors.Is(err, store.ErrReconcileMismatch) {
		t.Fatalf("Expected ErrReconcileMismatch, got %v", err)
	}
	if !result.JournalTotal.Equal(dec("10")) || !result.Total().Equal(dec("11")) {
		t.Errorf("journal=%s balance=%s", result.JournalTotal, result.Total())
	}
}

func TestReconcile_UnknownAccount(t *testing.T) {
	l, cleanup := setupTestLedger(t)
	defer cleanup()

	if _, err := l.Reconcile(context.Background(), alice); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}
