package listener

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for i, m := range msgs {
		m.Offset = int64(i)
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type fakeDeposits struct {
	mu        sync.Mutex
	failFirst int
	events    []models.ChainEvent
}

func (f *fakeDeposits) HandleEvent(_ context.Context, ev models.ChainEvent) (models.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFirst > 0 {
		f.failFirst--
		return models.Deposit{}, store.ErrStoreUnavailable
	}
	f.events = append(f.events, ev)
	return models.Deposit{Id: "dep-" + ev.TxId, TxId: ev.TxId, Status: models.DepositPending}, nil
}

type fakeWithdrawals struct {
	mu        sync.Mutex
	completed map[string]string
	rejected  map[string]string
}

func newFakeWithdrawals() *fakeWithdrawals {
	return &fakeWithdrawals{completed: map[string]string{}, rejected: map[string]string{}}
}

func (f *fakeWithdrawals) Complete(_ context.Context, id, txid string) (models.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, done := f.completed[id]; done {
		return models.Withdrawal{}, store.ErrInvalidStateTransition
	}
	f.completed[id] = txid
	return models.Withdrawal{Id: id, TxId: txid, Status: models.WithdrawalCompleted}, nil
}

func (f *fakeWithdrawals) Reject(_ context.Context, id, auditorId, reason string) (models.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected[id] = auditorId + ":" + reason
	return models.Withdrawal{Id: id, Status: models.WithdrawalRejected}, nil
}

func eventMessage(t *testing.T, ev models.ChainEvent) kafka.Message {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return kafka.Message{Value: data}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChainListener_ProcessesAndCommits(t *testing.T) {
	reader := newFakeReader(
		eventMessage(t, models.ChainEvent{Type: models.EventDeposit, TxId: "0xdep", UserId: "alice",
			Currency: "USDC", Chain: "ethereum-mainnet", Amount: decimal.NewFromInt(5), Confirmations: 6}),
		kafka.Message{Value: []byte("{broken")},
		eventMessage(t, models.ChainEvent{Type: models.EventWithdrawalConfirmed, TxId: "0xw1", WithdrawalId: "w1"}),
		eventMessage(t, models.ChainEvent{Type: models.EventWithdrawalConfirmed, TxId: "0xw1", WithdrawalId: "w1"}),
		eventMessage(t, models.ChainEvent{Type: models.EventWithdrawalFailed, WithdrawalId: "w2", Reason: "out of gas"}),
		eventMessage(t, models.ChainEvent{Type: "mystery"}),
	)
	deposits := &fakeDeposits{failFirst: 2}
	withdrawals := newFakeWithdrawals()

	l := NewChainListener(ChainListenerConfig{Reader: reader, Deposits: deposits, Withdrawals: withdrawals})
	l.retryInitial = time.Millisecond
	l.retryMax = 5 * time.Millisecond
	l.Start(context.Background())

	waitFor(t, func() bool { return reader.commits() == 6 })
	l.Stop()

	if !reader.closed {
		t.Errorf("Expected reader to be closed")
	}
	if len(deposits.events) != 1 || deposits.events[0].TxId != "0xdep" {
		t.Errorf("Expected deposit to be applied once after retries, got %+v", deposits.events)
	}
	if withdrawals.completed["w1"] != "0xw1" {
		t.Errorf("w1 completion = %q", withdrawals.completed["w1"])
	}
	if withdrawals.rejected["w2"] != "chain:out of gas" {
		t.Errorf("w2 rejection = %q", withdrawals.rejected["w2"])
	}
}

func TestChainListener_StopLeavesTransientFailureUncommitted(t *testing.T) {
	reader := newFakeReader(eventMessage(t, models.ChainEvent{Type: models.EventDeposit, TxId: "0xdep",
		UserId: "alice", Currency: "USDC", Chain: "ethereum-mainnet", Amount: decimal.NewFromInt(1)}))
	deposits := &fakeDeposits{failFirst: 1 << 30}

	l := NewChainListener(ChainListenerConfig{Reader: reader, Deposits: deposits, Withdrawals: newFakeWithdrawals()})
	l.retryInitial = time.Millisecond
	l.retryMax = time.Millisecond
	l.Start(context.Background())

	time.Sleep(20 * time.Millisecond)
	l.Stop()

	if reader.commits() != 0 {
		t.Errorf("Expected no commit for an event that never applied, got %d", reader.commits())
	}
}

func TestDispatch_RequiresWithdrawalId(t *testing.T) {
	l := NewChainListener(ChainListenerConfig{Reader: newFakeReader(), Deposits: &fakeDeposits{}, Withdrawals: newFakeWithdrawals()})
	for _, typ := range []models.ChainEventType{models.EventWithdrawalConfirmed, models.EventWithdrawalFailed} {
		if err := l.Dispatch(context.Background(), models.ChainEvent{Type: typ}); !errors.Is(err, store.ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", typ, err)
		}
	}
}

type fakeBroadcastSource struct {
	pending []models.Withdrawal
	errs    map[string]error
	sent    []string
}

func (f *fakeBroadcastSource) PendingBroadcast(_ context.Context, limit int) ([]models.Withdrawal, error) {
	return f.pending, nil
}

func (f *fakeBroadcastSource) Broadcast(_ context.Context, id string) (models.Withdrawal, error) {
	if err := f.errs[id]; err != nil {
		return models.Withdrawal{}, err
	}
	f.sent = append(f.sent, id)
	return models.Withdrawal{Id: id, TxId: "ref-" + id}, nil
}

func TestBroadcastLoop_RunOnce(t *testing.T) {
	src := &fakeBroadcastSource{
		pending: []models.Withdrawal{{Id: "a"}, {Id: "b"}, {Id: "c"}},
		errs: map[string]error{
			"b": store.ErrLockUnavailable,
			"c": errors.New("prime unavailable"),
		},
	}
	loop := NewBroadcastLoop(src, time.Hour)
	if sent := loop.RunOnce(context.Background()); sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
	if len(src.sent) != 1 || src.sent[0] != "a" {
		t.Errorf("sent ids = %v", src.sent)
	}
}

func TestBroadcastLoop_StartStop(t *testing.T) {
	src := &fakeBroadcastSource{pending: []models.Withdrawal{{Id: "a"}}}
	loop := NewBroadcastLoop(src, time.Hour)
	loop.Start(context.Background())
	loop.Stop()
	if len(src.sent) != 1 {
		t.Errorf("Expected the initial cycle to run once, sent=%v", src.sent)
	}
}
