package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler — функция обработки сообщения.
// Возвращает error, если обработка не удалась: сообщение возвращается
// в очередь, а ошибки, обёрнутые Reject, отправляются в DLQ.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставка, переданная обработчику. Подтверждает её Consumer
// по результату Handler.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// Consumer читает очередь и передаёт сообщения Handler.
// Сообщения обрабатываются Workers горутинами; prefetch ограничивает
// число неподтверждённых доставок на канале.
type Consumer struct {
	conn   *Connection
	logger *slog.Logger
	cfg    ConsumerConfig

	mu     sync.Mutex
	cancel context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	Queue   string
	Handler Handler

	// Prefetch — QoS канала. По умолчанию равен Workers.
	Prefetch int

	// Workers — число параллельных обработчиков, по умолчанию 1.
	Workers int

	// Tag — consumer tag; пустой — генерирует брокер.
	Tag string
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Prefetch < cfg.Workers {
		cfg.Prefetch = cfg.Workers
	}
	return &Consumer{
		conn:   conn,
		logger: logger.With("queue", cfg.Queue),
		cfg:    cfg,
	}
}

// Start потребляет сообщения до отмены ctx или вызова Stop.
// После разрыва соединения подписка восстанавливается.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	for {
		// Берём канал уведомления до подписки, чтобы не пропустить reconnect.
		reconnected := c.conn.ReconnectNotify()

		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("subscribe failed, waiting for reconnect", "error", err)
		} else {
			c.logger.Info("consumer started", "workers", c.cfg.Workers, "prefetch", c.cfg.Prefetch)
			c.drain(ctx, deliveries)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reconnected:
			c.logger.Info("resubscribing after reconnect")
		}
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	// autoAck=false: подтверждаем после обработки.
	deliveries, err := ch.Consume(c.cfg.Queue, c.cfg.Tag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}
	return deliveries, nil
}

// drain раздаёт доставки воркерам, пока канал доставок открыт и ctx
// не отменён. Возвращается после завершения всех начатых обработок.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	var wg sync.WaitGroup
	for range c.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case raw, ok := <-deliveries:
					if !ok {
						return
					}
					c.settle(raw, c.handle(ctx, raw))
				}
			}
		}()
	}
	wg.Wait()
}

// disposition — что сделать с доставкой после обработки.
type disposition int

const (
	dispositionAck disposition = iota
	dispositionRequeue
	dispositionDeadLetter
)

func (d disposition) String() string {
	switch d {
	case dispositionAck:
		return "ack"
	case dispositionRequeue:
		return "requeue"
	default:
		return "dead_letter"
	}
}

// dispositionFor: успех подтверждается, ErrRejected уходит в DLQ,
// остальные ошибки возвращают сообщение в очередь.
func dispositionFor(err error) disposition {
	switch {
	case err == nil:
		return dispositionAck
	case errors.Is(err, ErrRejected):
		return dispositionDeadLetter
	default:
		return dispositionRequeue
	}
}

func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) disposition {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("malformed message", "error", err, "size", len(raw.Body))
		return dispositionDeadLetter
	}

	log := c.logger.With("message_id", msg.ID, "type", msg.Type)
	if raw.Redelivered {
		log.Debug("redelivered message")
	}

	err := c.cfg.Handler(ctx, &Delivery{Message: msg, Raw: raw})
	d := dispositionFor(err)
	if err != nil {
		log.Error("handler failed", "disposition", d, "error", err)
	}
	return d
}

func (c *Consumer) settle(raw amqp.Delivery, d disposition) {
	var err error
	switch d {
	case dispositionAck:
		err = raw.Ack(false)
	case dispositionRequeue:
		err = raw.Nack(false, true)
	default:
		err = raw.Nack(false, false)
	}
	if err != nil {
		c.logger.Warn("settle delivery failed", "disposition", d, "delivery_tag", raw.DeliveryTag, "error", err)
	}
}

// Stop прерывает Start.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// ParsePayload декодирует Payload конверта в T. После json.Unmarshal
// конверта Payload хранится как map[string]any.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}

	return result, nil
}

// Reject помечает ошибку обработки как окончательную: сообщение
// не будет возвращено в очередь.
func Reject(err error) error {
	return fmt.Errorf("%w: %w", ErrRejected, err)
}
