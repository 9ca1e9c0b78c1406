package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/example/taxi-dispatch/internal/models"
)

// Publisher emits dispatch lifecycle events. Publishing is best effort:
// callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, models.Event) error { return nil }

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaProducer{writer: w}
}

// Publish keys messages by driver so one driver's events stay ordered within
// a partition.
func (k *KafkaProducer) Publish(ctx context.Context, ev models.Event) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := ev.DriverID
	if key == "" {
		key = ev.OrderID
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// NewEvent stamps an event with a time-ordered id.
func NewEvent(typ string, now time.Time) models.Event {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return models.Event{ID: id.String(), Type: typ, OccurredAt: now.UTC()}
}

// Emit publishes ev and logs instead of failing the caller.
func Emit(ctx context.Context, p Publisher, logger *slog.Logger, ev models.Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		logger.Warn("event publish failed", "type", ev.Type, "order_id", ev.OrderID, "driver_id", ev.DriverID, "error", err)
	}
}
