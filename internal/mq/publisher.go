package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunRequested MessageType = "run.requested"
	MessageTypeRunFinished  MessageType = "run.finished"
)

// Message — конверт сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// RunRequestedPayload — запрос запуска run.
type RunRequestedPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// RunFinishedPayload — run достиг финального статуса.
type RunFinishedPayload struct {
	RunID      uuid.UUID `json:"run_id"`
	Status     string    `json:"status"`
	Attempt    int       `json:"attempt"`
	FailedStep string    `json:"failed_step,omitempty"`
	Error      string    `json:"error,omitempty"`
	Video      string    `json:"video,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
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

// NewMessage создаёт сообщение с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Type:         string(msg.Type),
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishRunRequested просит renderer запустить run.
func (p *Publisher) PublishRunRequested(ctx context.Context, runID uuid.UUID) error {
	msg := NewMessage(MessageTypeRunRequested, RunRequestedPayload{RunID: runID})
	return p.Publish(ctx, ExchangeRuns, RoutingKeyRequested, msg)
}

// PublishRunFinished сообщает о финальном статусе run.
func (p *Publisher) PublishRunFinished(ctx context.Context, payload RunFinishedPayload) error {
	msg := NewMessage(MessageTypeRunFinished, payload)
	return p.Publish(ctx, ExchangeRuns, RoutingKeyFinished, msg)
}
