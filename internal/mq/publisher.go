package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Wallet/internal/domain"
)

// MessageType — тип сообщения.
type MessageType string

const (
	MessageTypeSagaFinished     MessageType = "saga.finished"
	MessageTypeSagaDeadLettered MessageType = "saga.dead_lettered"
)

// Message — конверт сообщения.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage упаковывает payload в конверт.
func NewMessage(t MessageType, payload any, now time.Time) (*Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Message{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   body,
		Timestamp: now.UTC(),
	}, nil
}

// SagaFinishedPayload — сага дошла до финального статуса.
type SagaFinishedPayload struct {
	SagaID       uuid.UUID         `json:"saga_id"`
	SagaType     string            `json:"saga_type"`
	Status       domain.SagaStatus `json:"status"`
	ErrorDetails string            `json:"error_details,omitempty"`
}

// SagaDeadLetteredPayload — сага записана в dead-letter.
type SagaDeadLetteredPayload struct {
	DeadLetterID uuid.UUID         `json:"dead_letter_id"`
	SagaID       uuid.UUID         `json:"saga_id"`
	SagaType     string            `json:"saga_type"`
	LastStatus   domain.SagaStatus `json:"last_status"`
	ErrorDetails string            `json:"error_details,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Sender отправляет сообщение в обменник.
type Sender interface {
	Publish(ctx context.Context, exchange Exchange, key RoutingKey, msg *Message) error
}

// Publisher публикует сообщения через Connection.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// Publish публикует persistent-сообщение.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, key RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(key), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Type:         string(msg.Type),
			Timestamp:    msg.Timestamp,
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, key, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", key,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// Notifier публикует события саг.
// Реализует saga.Notifier.
type Notifier struct {
	sender Sender
	now    func() time.Time
}

// NewNotifier создаёт Notifier поверх sender.
func NewNotifier(sender Sender) *Notifier {
	return &Notifier{sender: sender, now: time.Now}
}

// SagaFinished публикует saga.finished в wallet.sagas.
func (n *Notifier) SagaFinished(ctx context.Context, s *domain.SagaInstance) error {
	msg, err := NewMessage(MessageTypeSagaFinished, SagaFinishedPayload{
		SagaID:       s.ID,
		SagaType:     s.SagaType,
		Status:       s.Status,
		ErrorDetails: s.ErrorDetails,
	}, n.now())
	if err != nil {
		return err
	}
	return n.sender.Publish(ctx, ExchangeSagas, RoutingKeyFinished, msg)
}

// SagaDeadLettered публикует saga.dead_lettered в wallet.dlq.
func (n *Notifier) SagaDeadLettered(ctx context.Context, d *domain.DeadLetterRecord) error {
	msg, err := NewMessage(MessageTypeSagaDeadLettered, SagaDeadLetteredPayload{
		DeadLetterID: d.ID,
		SagaID:       d.SagaInstanceID,
		SagaType:     d.SagaType,
		LastStatus:   d.LastStatus,
		ErrorDetails: d.ErrorDetails,
		CreatedAt:    d.CreatedAt,
	}, n.now())
	if err != nil {
		return err
	}
	return n.sender.Publish(ctx, ExchangeDLQ, RoutingKeyDLQSagas, msg)
}
