package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/store"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ store.JournalSink = (*Publisher)(nil)

// Publisher mirrors committed journal entries onto a Kafka topic, keyed by
// account so one account's entries stay ordered within a partition.
type Publisher struct {
	writer messageWriter
	topic  string
}

func NewPublisher(cfg models.KafkaConfig) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.JournalTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	zap.L().Info("Kafka journal publisher configured",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.JournalTopic))
	return &Publisher{writer: w, topic: cfg.JournalTopic}
}

func (p *Publisher) Name() string {
	return "kafka"
}

func (p *Publisher) Publish(ctx context.Context, entries []models.AssetTransaction) error {
	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode journal entry %s: %w", e.Id, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.Account().String()),
			Value: data,
			Time:  e.CreatedAt,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(e.Kind)},
				{Key: "entry_id", Value: []byte(e.Id)},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write %d journal entries to %s: %w", len(msgs), p.topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// NewChainReader returns a consumer-group reader over the chain event topic.
// Offsets are committed explicitly after each event is handled.
func NewChainReader(cfg models.KafkaConfig) *kafka.Reader {
	zap.L().Info("Kafka chain event reader configured",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.ChainTopic),
		zap.String("group_id", cfg.GroupID))
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.ChainTopic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
}

// DecodeChainEvent parses one chain event message.
func DecodeChainEvent(msg kafka.Message) (models.ChainEvent, error) {
	var ev models.ChainEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return models.ChainEvent{}, fmt.Errorf("%w: malformed chain event at offset %d: %v", store.ErrInvalidInput, msg.Offset, err)
	}
	return ev, nil
}
