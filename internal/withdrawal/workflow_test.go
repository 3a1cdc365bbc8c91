package withdrawal

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"asset-ledger-go/internal/coordination"
	"asset-ledger-go/internal/database"
	"asset-ledger-go/internal/kvstore"
	"asset-ledger-go/internal/ledger"
	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var alice = models.Account{UserId: "alice", Currency: "USDC", Chain: "ethereum-mainnet"}

type fakeBroadcaster struct {
	calls int32
	ref   string
	err   error
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, w models.Withdrawal) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return "", f.err
	}
	return f.ref, nil
}

type testEnv struct {
	workflow    *Workflow
	ledger      *ledger.Ledger
	kv          *kvstore.Redis
	broadcaster *fakeBroadcaster
}

func setupTestWorkflow(t *testing.T, rateLimit int) (*testEnv, func()) {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Driver:           "sqlite3",
		Path:             ":memory:",
		MaxOpenConns:     1,
		PingTimeout:      time.Second,
		StatementTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	kv := kvstore.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:", time.Second)

	cfg := models.CoordinationConfig{
		LockTTL:              30 * time.Second,
		LockMaxAttempts:      2,
		LockRetryInitial:     time.Millisecond,
		WithdrawalRateLimit:  rateLimit,
		WithdrawalRateWindow: time.Minute,
	}
	catalog := models.NewAssetCatalog([]models.AssetConfig{{
		Symbol:        "USDC",
		Network:       "ethereum-mainnet",
		WithdrawalFee: decimal.RequireFromString("1.5"),
		MinWithdrawal: decimal.RequireFromString("5"),
	}})

	l := ledger.New(db, nil)
	b := &fakeBroadcaster{ref: "activity-1"}
	wf := NewWorkflow(l, coordination.NewLocker(kv, cfg, nil), coordination.NewLimiter(kv, nil), catalog, cfg, nil).
		WithBroadcaster(b)

	if _, err := l.PostAll(context.Background(), models.Posting{
		Account: alice, Op: models.OpCredit, Amount: decimal.NewFromInt(100), Kind: models.KindCreditDeposit,
	}); err != nil {
		t.Fatalf("seed credit failed: %v", err)
	}

	return &testEnv{workflow: wf, ledger: l, kv: kv, broadcaster: b}, func() {
		_ = kv.Close()
		mr.Close()
		db.Close()
	}
}

func (e *testEnv) request(t *testing.T, amount string) models.Withdrawal {
	t.Helper()
	wd, err := e.workflow.Request(context.Background(), RequestParams{
		UserId:   alice.UserId,
		Currency: alice.Currency,
		Chain:    alice.Chain,
		Amount:   decimal.RequireFromString(amount),
		Address:  "0xdest",
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return wd
}

func (e *testEnv) balance(t *testing.T) (string, string) {
	t.Helper()
	b, err := e.ledger.GetBalance(context.Background(), alice)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	return b.Available.String(), b.Frozen.String()
}

func TestRequest_FreezesAndRecords(t *testing.T) {
	env, cleanup := setupTestWorkflow(t, 10)
	defer cleanup()

	wd := env.request(t, "30")
	if wd.Status != models.WithdrawalPending {
		t.Errorf("status = %s, want pending", wd.Status)
	}
	if !wd.Fee.Equal(decimal.RequireFromString("1.5")) || !wd.ActualAmount.Equal(decimal.RequireFromString("28.5")) {
		t.Errorf("fee=%s actual=%s, want catalog fee 1.5 and 28.5", wd.Fee, wd.ActualAmount)
	}
	if a, f := env.balance(t); a != "70" || f != "30" {
		t.Errorf("balance = (%s, %s), want (70, 30)", a, f)
	}

	stored, err := env.workflow.Get(context.Background(), wd.Id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !stored.Amount.Equal(wd.Amount) || stored.Address != "0xdest" {
		t.Errorf("stored withdrawal %+v", stored)
	}

	page, err := env.ledger.ListJournal(context.Background(), models.JournalFilter{Kind: models.KindFreeze})
	if err != nil {
		t.Fatalf("ListJournal failed: %v", err)
	}
	if page.Total != 1 || page.Items[0].ReferenceId != wd.Id {
		t.Errorf("unexpected freeze journal %+v", page.Items)
	}
}

func TestRequest_InsufficientBalanceCreatesNothing(t *testing.T) {
	env, cleanup := setupTestWorkflow(t, 10)
	defer cleanup()
	ctx := context.Background()

	_, err := env.workflow.Request(ctx, RequestParams{
		UserId: "alice", Currency: "USDC", Chain: "ethereum-mainnet",
		Amount: decimal.NewFromInt(101), Address: "0xdest",
	})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}
	page, err := env.workflow.List(ctx, models.WithdrawalFilter{UserId: "alice"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.Total != 0 {
		t.Errorf("Expected no withdrawal rows, got %d", page.Total)
	}
	if a, f := env.balance(t); a != "100" || f != "0" {
		t.Errorf("balance = (%s, %s), want (100, 0)", a, f)
	}
}

func TestRequest_Validation(t *testing.T) {
	env, cleanup := setupTestWorkflow(t, 10)
	defer cleanup()

	tests := []struct {
		name   string
		params RequestParams
	}{
		{"below minimum", RequestParams{Amount: decimal.NewFromInt(4)}},
		{"fee equals amount", RequestParams{Amount: decimal.NewFromInt(10), Fee: decimal.NewFromInt(10)}},
		{"negative fee", RequestParams{Amount: decimal.NewFromInt(10), Fee: decimal.NewFromInt(-1)}},
		{"zero amount", RequestParams{}},
		{"missing address", RequestParams{Amount: decimal.NewFromInt(10), Address: "-"}},
		{"too many decimals", RequestParams{Amount: decimal.RequireFromString("10.0000000000000000001")}},
		{"fee too many decimals", RequestParams{Amount: decimal.NewFromInt(10), Fee: decimal.RequireFromString("0.0000000000000000001")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.params
			p.UserId, p.Currency, p.Chain = alice.UserId, alice.Currency, alice.Chain
			switch p.Address {
			case "":
				p.Address = "0xdest"
			case "-":
				p.Address = ""
			}
			if _, err := env.workflow.Request(context.Background(), p); !errors.Is(err, store.ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestRequest_RateLimited(t *testing.T) {
	env, cleanup := setupTestWorkflow(t, 2)
	defer cleanup()

	env.request(t, "10")
	env.request(t, "10")
	_, err := env.workflow.Request(context.Background(), RequestParams{
		UserId: "alice", Currency: "USDC", Chain: "ethereum-mainnet",
		Amount: decimal.NewFromInt(10), Address: "0xdest",
	})
	if !errors.Is(err, store.ErrRateLimitExceeded) {
		t.Fatalf("Expected ErrRateLimitExceeded, got %v", err)
	}
	if a, f := env.balance(t); a != "80" || f != "20" {
		t.Errorf("balance = (%s, %s), want (80, 20)", a, f)
	}
}

func TestRequest_InvalidRequestsDoNotUseQuota(t *testing.T) {
	env, cleanup := setupTestWorkflow(t, 2)
	defer cleanup()

	for i := 0; i < 3; i++ {
		_, err := env.workflow.Request(context.Background(), RequestParams{
			UserId: "alice", Currency: "USDC", Chain: "ethereum-mainnet",
			Amount: decimal.NewFromInt(4), Address: "0xdest",
		})
		if !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("Expected ErrInvalidInput, got %v", err)
		}
	}
	env.request(t, "10")
	env.request(t, "10")
}

func TestRequest_KVDownIsRetryable(t *testing.T) {
	env, cleanup := setupTestWorkflow(t, 10)
	defer cleanup()
	_ = env.kv.Close()

	_, err := env.workflow.Request(context.Background(), RequestParams{
		UserId: "alice", Currency: "USDC", Chain: "ethereum-mainnet",
		Amount: decimal.NewFromInt(10), Address: "0xdest",
	})
	if !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable, got %v", err)
	}
	if !store.Retryable(err) {
		t.Errorf("Expected %v to be retryable", err)
	}
	if a, f := env.balance(t); a != "100" || f != "0" {
		t.Errorf("balance = (%s, %s), want (100, 0)", a, f)
	}
}

func TestLifecycle_ApproveBroadcastComplete(t *testing.T) {
	env, cleanup := setupTestWorkflow(t, 10)
	defer cleanup()
	ctx := context.Background()

	wd := env.request(t, "30")
	approved, err := env.workflow.Approve(ctx, wd.Id, "auditor-1")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if approved.Status != models.WithdrawalProcessing || approved.AuditorId != "auditor-1" || approved.AuditTime == nil {
		t.Errorf("unexpected approved withdrawal %+v", approved)
	}

	pending, err := env.workflow.PendingBroadcast(ctx, 10)
	if err != nil {
		t.Fatalf("PendingBroadcast failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Id != wd.Id {
		t.Fatalf("unexpected pending broadcast list %+v", pending)
	}

	for i := 0; i < 2; i++ {
		sent, err := env.workflow.Broadcast(ctx, wd.Id)
		if err != nil {
			t.Fatalf("Broadcast failed: %v", err)
		}
		if sent.TxId != "activity-1" {
			t.Errorf("txid = %q, want activity-1", sent.TxId)
		}
	}
	if env.broadcaster.calls != 1 {
		t.Errorf("broadcaster called %d times, want 1", env.broadcaster.calls)
	}
	if pending, _ := env.workflow.PendingBroadcast(ctx, 10); len(pending) != 0 {
		t.Errorf("Expected nothing awaiting broadcast, got %d", len(pending))
	}

	done, err := env.workflow.Complete(ctx, wd.Id, "0xchainhash")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.Status != models.WithdrawalCompleted || done.TxId != "0xchainhash" || done.CompleteTime == nil {
		t.Errorf("unexpected completed withdrawal %+v", done)
	}
	if a, f := env.balance(t); a != "70" || f != "0" {
		t.Errorf("balance = (%s, %s), want (70, 0)", a, f)
	}

	page, err := env.ledger.ListJournal(ctx, models.JournalFilter{Kind: models.KindDebitWithdrawal})
	if err != nil {
		t.Fatalf("ListJournal failed: %v", err)
	}
	if page.Total != 1 || page.Items[0].ReferenceType != models.RefChainTx || page.Items[0].ReferenceId != "0xchainhash" {
		t.Errorf("unexpected debit journal %+v", page.Items)
	}

	if _, err := env.ledger.Reconcile(ctx, alice); err != nil {
		t.Errorf("Reconcile failed: %v", err)
	}
}

func TestApprove_OnCompletedIsRejected(t *testing.T) {
	env, cleanup := setupTestWorkflow(t, 10)
	defer cleanup()
	ctx := context.Background()

	wd := env.request(t, "30")
	if _, err := env.workflow.Approve(ctx, wd.Id, "auditor-1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := env.workflow.Complete(ctx, wd.Id, "0xhash"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	a0, f0 := env.balance(t)

	if _, err := env.workflow.Approve(ctx, wd.Id, "auditor-2"); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("Expected ErrInvalidStateTransition, got %v", err)
	}
	if _, err := env.workflow.Reject(ctx, wd.Id, "auditor-2", "late"); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("Expected ErrInvalidStateTransition, got %v", err)
	}
	if _, err := env.workflow.Complete(ctx, wd.Id, "0xother"); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("Expected ErrInvalidStateTransition, got %v", err)
	}
	if a, f := env.balance(t); a != a0 || f != f0 {
		t.Errorf("balance changed from (%s, %s) to (%s, %s)", a0, f0, a, f)
	}
	stored, _ := env.workflow.Get(ctx, wd.Id)
	if stored.AuditorId != "auditor-1" || stored.TxId != "0xhash" {
		t.Errorf("terminal withdrawal modified: %+v", stored)
	}
}

func TestReject(t *testing.T) {
	env, cleanup := setupTestWorkflow(t, 10)
	defer cleanup()
	ctx := context.Background()

	fromPending := env.request(t, "30")
	fromProcessing := env.request(t, "20")
	if _, err := env.workflow.Approve(ctx, fromProcessing.Id, "auditor-1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	for _, id := range []string{fromPending.Id, fromProcessing.Id} {
		wd, err := env.workflow.Reject(ctx, id, "auditor-1", "address on deny list")
		if err != nil {
			t.Fatalf("Reject failed: %v", err)
		}
		if wd.Status != models.WithdrawalRejected || wd.RejectReason != "address on deny list" {
			t.Errorf("unexpected rejected withdrawal %+v", wd)
		}
	}
	if a, f := env.balance(t); a != "100" || f != "0" {
		t.Errorf("balance = (%s, %s), want (100, 0)", a, f)
	}

	if _, err := env.workflow.Reject(ctx, fromPending.Id, "auditor-1", "again"); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Errorf("Expected ErrInvalidStateTransition, got %v", err)
	}
	if a, f := env.balance(t); a != "100" || f != "0" {
		t.Errorf("second reject changed balance to (%s, %s)", a, f)
	}
}

func TestTransitionGuards(t *testing.T) {
	env, cleanup := setupTestWorkflow(t, 10)
	defer cleanup()
	ctx := context.Background()

	wd := env.request(t, "30")
	if _, err := env.workflow.Complete(ctx, wd.Id, "0xhash"); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Errorf("complete from pending: expected ErrInvalidStateTransition, got %v", err)
	}
	if _, err := env.workflow.Broadcast(ctx, wd.Id); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Errorf("broadcast from pending: expected ErrInvalidStateTransition, got %v", err)
	}
	if _, err := env.workflow.Approve(ctx, "missing", "auditor-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if a, f := env.balance(t); a != "70" || f != "30" {
		t.Errorf("balance = (%s, %s), want (70, 30)", a, f)
	}
}

func TestBroadcast_FailureLeavesWithdrawalUnsent(t *testing.T) {
	env, cleanup := setupTestWorkflow(t, 10)
	defer cleanup()
	ctx := context.Background()

	wd := env.request(t, "30")
	if _, err := env.workflow.Approve(ctx, wd.Id, "auditor-1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	env.broadcaster.err = errors.New("upstream unavailable")
	if _, err := env.workflow.Broadcast(ctx, wd.Id); err == nil {
		t.Fatalf("Expected broadcast error")
	}
	stored, _ := env.workflow.Get(ctx, wd.Id)
	if stored.TxId != "" || stored.Status != models.WithdrawalProcessing {
		t.Errorf("unexpected withdrawal after failed broadcast %+v", stored)
	}
}

func TestComplete_LockHeldElsewhere(t *testing.T) {
	env, cleanup := setupTestWorkflow(t, 10)
	defer cleanup()
	ctx := context.Background()

	wd := env.request(t, "30")
	if _, err := env.workflow.Approve(ctx, wd.Id, "auditor-1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, ok, err := coordination.NewLock(env.kv).Acquire(ctx, lockKey(wd.Id), time.Minute); err != nil || !ok {
		t.Fatalf("setup acquire failed: ok=%v err=%v", ok, err)
	}

	_, err := env.workflow.Complete(ctx, wd.Id, "0xhash")
	if !errors.Is(err, store.ErrLockUnavailable) {
		t.Fatalf("Expected ErrLockUnavailable, got %v", err)
	}
	if a, f := env.balance(t); a != "70" || f != "30" {
		t.Errorf("balance = (%s, %s), want (70, 30)", a, f)
	}
}
