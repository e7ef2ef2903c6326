package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ignatzorin/escrow-backend/internal/logger"
)

// Имена событий, уходящих во внешнюю шину и по WebSocket.
const (
	EventTransactionCreated = "transaction:created"
	EventTransactionJoined  = "transaction:joined"
	EventTransactionUpdated = "transaction:updated"
	EventDisputeOpened      = "dispute:opened"
	EventDisputeResolved    = "dispute:resolved"
	EventNotification       = "notification"
	EventNewMessage         = "new_message"
	EventMessageRead        = "message_read"
	EventConversationRead   = "conversation_read"
)

// Event — событие о смене состояния сделки или спора. Ключ партиции —
// идентификатор сделки, чтобы события одной сделки читались по порядку.
type Event struct {
	Type          string      `json:"type"`
	TransactionID string      `json:"transaction_id,omitempty"`
	DisputeID     string      `json:"dispute_id,omitempty"`
	Payload       interface{} `json:"payload,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

// Publisher публикует события во внешнюю шину. Публикация выполняется после
// успешной мутации и никогда не влияет на её исход.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// KafkaPublisher пишет события в Kafka — общий pub/sub для развёртывания
// в несколько инстансов.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (k *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	msg, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TransactionID),
		Value: msg,
		Time:  event.OccurredAt,
	})
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// NoopPublisher используется, когда брокеры не сконфигурированы:
// события остаются только во внутреннем fan-out.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event Event) error { return nil }
func (NoopPublisher) Close() error                                   { return nil }

// PublishAsync публикует событие из горутины и логирует сбой, не прерывая
// вызывающую операцию.
func PublishAsync(pub Publisher, event Event) {
	if pub == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pub.Publish(ctx, event); err != nil {
			logger.WithComponent("events").WithError(err).
				WithField("event", event.Type).
				Error("не удалось опубликовать событие")
		}
	}()
}
