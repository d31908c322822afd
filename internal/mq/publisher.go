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

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeTriggerFired  MessageType = "trigger.fired"
	MessageTypeEmail         MessageType = "mail.email"
	MessageTypeRunFinished   MessageType = "run.finished"
	MessageTypeRunNodeFailed MessageType = "run_node.failed"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
		now:    time.Now,
	}
}

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения (AMQP message-id).
	ID string `json:"id"`

	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publish сериализует конверт и публикует его persistent-сообщением.
// Если на соединении включены confirms, ждёт подтверждения брокера:
// nack возвращается как ErrNotConfirmed.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         string(msg.Type),
		Timestamp:    msg.Timestamp,
		AppId:        "fanflow",
		Body:         body,
	}

	err = p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, string(exchange), string(routingKey), false, false, publishing)
		if err != nil {
			return err
		}
		// confirm == nil, если канал не в режиме confirm.
		if confirm == nil {
			return nil
		}
		acked, err := confirm.WaitContext(ctx)
		if err != nil {
			return err
		}
		if !acked {
			return ErrNotConfirmed
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s/%s: %w", msg.Type, exchange, routingKey, err)
	}

	p.logger.Debug("message published",
		"exchange", exchange,
		"routing_key", routingKey,
		"message_id", msg.ID,
		"type", msg.Type,
	)
	return nil
}

// PublishJSON публикует payload с новым message-id.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	return p.publishWithID(ctx, exchange, routingKey, uuid.NewString(), msgType, payload)
}

func (p *Publisher) publishWithID(ctx context.Context, exchange Exchange, routingKey RoutingKey, id string, msgType MessageType, payload any) error {
	msg := &Message{
		ID:        id,
		Type:      msgType,
		Payload:   payload,
		Timestamp: p.now(),
	}
	return p.Publish(ctx, exchange, routingKey, msg)
}

// PublishTriggerFired публикует событие срабатывания триггера.
// Потребитель: fanflow-ingest.
func (p *Publisher) PublishTriggerFired(ctx context.Context, payload TriggerFiredPayload) error {
	return p.PublishJSON(ctx, ExchangeTriggers, RoutingKeyFired, MessageTypeTriggerFired, payload)
}

// PublishEmail ставит письмо в mail.outbox. Message-id равен ключу
// идемпотентности, чтобы сервис рассылки мог отбросить повтор.
func (p *Publisher) PublishEmail(ctx context.Context, payload EmailPayload) error {
	id := payload.IdempotencyKey
	if id == "" {
		id = uuid.NewString()
	}
	return p.publishWithID(ctx, ExchangeMail, RoutingKeyOutbox, id, MessageTypeEmail, payload)
}
