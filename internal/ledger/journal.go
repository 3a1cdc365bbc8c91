package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"asset-ledger-go/internal/database"
	"asset-ledger-go/internal/metrics"
	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sinkTimeout = 10 * time.Second

// Journal is the append-only audit log. Entries are written in the same scope
// as the balance change they document and are never updated or deleted.
type Journal struct {
	sinks   []store.JournalSink
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewJournal(m *metrics.Metrics, sinks ...store.JournalSink) *Journal {
	return &Journal{
		sinks:   sinks,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AddSink registers a sink for entries committed from now on.
func (j *Journal) AddSink(sink store.JournalSink) {
	j.sinks = append(j.sinks, sink)
}

// NewEntry builds the journal entry describing change.
func NewEntry(change models.BalanceChange, kind models.TransactionKind, ref models.Reference, description string) models.AssetTransaction {
	return models.AssetTransaction{
		UserId:         change.UserId,
		Currency:       change.Currency,
		Chain:          change.Chain,
		Kind:           kind,
		Amount:         change.TotalDelta,
		FrozenDelta:    change.FrozenDelta,
		BalanceBefore:  change.TotalBefore(),
		BalanceAfter:   change.TotalAfter(),
		AvailableAfter: change.AvailableAfter,
		FrozenAfter:    change.FrozenAfter,
		ReferenceType:  ref.Type,
		ReferenceId:    ref.Id,
		Description:    description,
	}
}

// Append inserts entry inside scope and schedules it for the sinks once the
// scope commits.
func (j *Journal) Append(ctx context.Context, scope *database.Scope, entry models.AssetTransaction) (models.AssetTransaction, error) {
	if !entry.Kind.Valid() {
		return models.AssetTransaction{}, fmt.Errorf("%w: unknown transaction kind %q", store.ErrInvalidInput, entry.Kind)
	}
	if err := entry.Account().Validate(); err != nil {
		return models.AssetTransaction{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	if entry.Id == "" {
		entry.Id = uuid.New().String()
	}
	entry.CreatedAt = j.now()

	err := scope.QueryRow(ctx, queryInsertTransaction,
		entry.Id, entry.UserId, entry.Currency, entry.Chain, string(entry.Kind),
		entry.Amount, entry.FrozenDelta, entry.BalanceBefore, entry.BalanceAfter,
		entry.AvailableAfter, entry.FrozenAfter,
		entry.ReferenceType, entry.ReferenceId, entry.Description, entry.CreatedAt,
	).Scan(&entry.Seq)
	if err != nil {
		return models.AssetTransaction{}, fmt.Errorf("failed to append journal entry: %w", err)
	}
	j.metrics.ObserveJournalEntry(string(entry.Kind))

	if len(j.sinks) > 0 {
		committed := entry
		if err := scope.AfterCommit(func(ctx context.Context) {
			j.publish(ctx, []models.AssetTransaction{committed})
		}); err != nil {
			return models.AssetTransaction{}, err
		}
	}
	return entry, nil
}

func (j *Journal) publish(ctx context.Context, entries []models.AssetTransaction) {
	for _, sink := range j.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := sink.Publish(sinkCtx, entries)
		cancel()
		if err != nil {
			j.metrics.ObserveSinkFailure(sink.Name())
			zap.L().Warn("Failed to publish journal entries",
				zap.String("sink", sink.Name()),
				zap.Int("entries", len(entries)),
				zap.String("first_entry_id", entries[0].Id),
				zap.Error(err))
		}
	}
}

func scanTransaction(rows *sql.Rows) (models.AssetTransaction, error) {
	var tx models.AssetTransaction
	var kind string
	err := rows.Scan(
		&tx.Seq, &tx.Id, &tx.UserId, &tx.Currency, &tx.Chain, &kind,
		&tx.Amount, &tx.FrozenDelta, &tx.BalanceBefore, &tx.BalanceAfter,
		&tx.AvailableAfter, &tx.FrozenAfter,
		&tx.ReferenceType, &tx.ReferenceId, &tx.Description, &tx.CreatedAt,
	)
	tx.Kind = models.TransactionKind(kind)
	return tx, err
}
