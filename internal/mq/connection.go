package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DialOptions — параметры соединения с RabbitMQ.
type DialOptions struct {
	// Name — connection_name, видимое в management UI.
	Name string

	Heartbeat time.Duration

	// ReconnectMin и ReconnectMax — границы экспоненциальной паузы
	// между попытками переподключения.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// Confirm включает publisher confirms на канале публикации.
	Confirm bool
}

func (o DialOptions) withDefaults() DialOptions {
	if o.Name == "" {
		o.Name = "fanflow"
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 10 * time.Second
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = time.Second
	}
	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = max(30*time.Second, o.ReconnectMin)
	}
	return o
}

// Connection держит AMQP соединение и два канала: pub для публикации
// и объявления топологии, sub для потребления. Каналы разделены, чтобы
// flow control на публикации не останавливал доставку сообщений.
//
// При разрыве Connection переподключается сам; Publisher и Consumer
// берут каналы при каждом обращении и переживают reconnect.
type Connection struct {
	url    string
	opts   DialOptions
	logger *slog.Logger

	mu   sync.RWMutex
	conn *amqp.Connection
	pub  *amqp.Channel
	sub  *amqp.Channel

	// reconnected закрывается после ближайшего успешного переподключения
	// и заменяется новым.
	reconnected chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// Dial подключается к RabbitMQ и запускает наблюдение за соединением.
func Dial(url string, opts DialOptions, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connection{
		url:         url,
		opts:        opts.withDefaults(),
		logger:      logger.With("component", "amqp"),
		reconnected: make(chan struct{}),
		done:        make(chan struct{}),
	}

	conn, pub, sub, err := c.open()
	if err != nil {
		return nil, err
	}
	c.swap(conn, pub, sub)

	go c.supervise(conn)

	return c, nil
}

func (c *Connection) open() (*amqp.Connection, *amqp.Channel, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat:  c.opts.Heartbeat,
		Locale:     "en_US",
		Properties: amqp.Table{"connection_name": c.opts.Name},
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dial amqp: %w", err)
	}

	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("open publish channel: %w", err)
	}
	if c.opts.Confirm {
		if err := pub.Confirm(false); err != nil {
			conn.Close()
			return nil, nil, nil, fmt.Errorf("enable confirms: %w", err)
		}
	}

	sub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("open consume channel: %w", err)
	}

	return conn, pub, sub, nil
}

func (c *Connection) swap(conn *amqp.Connection, pub, sub *amqp.Channel) {
	c.mu.Lock()
	c.conn, c.pub, c.sub = conn, pub, sub
	c.mu.Unlock()
}

// supervise ждёт разрыва текущего соединения и переподключается,
// пока Connection не закрыт.
func (c *Connection) supervise(conn *amqp.Connection) {
	for {
		closed := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.done:
			return
		case amqpErr := <-closed:
			if amqpErr != nil {
				c.logger.Warn("connection lost", "code", amqpErr.Code, "reason", amqpErr.Reason)
			}
		}

		next, ok := c.redial()
		if !ok {
			return
		}
		conn = next
	}
}

// redial переподключается с экспоненциальной паузой. Возвращает false,
// если Connection закрыли во время ожидания.
func (c *Connection) redial() (*amqp.Connection, bool) {
	delay := c.opts.ReconnectMin
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-c.done:
			return nil, false
		case <-timer.C:
		}

		conn, pub, sub, err := c.open()
		if err != nil {
			delay = min(delay*2, c.opts.ReconnectMax)
			c.logger.Warn("reconnect failed", "attempt", attempt, "retry_in", delay, "error", err)
			timer.Reset(delay)
			continue
		}

		c.mu.Lock()
		select {
		case <-c.done:
			c.mu.Unlock()
			conn.Close()
			return nil, false
		default:
		}
		c.conn, c.pub, c.sub = conn, pub, sub
		close(c.reconnected)
		c.reconnected = make(chan struct{})
		c.mu.Unlock()

		c.logger.Info("reconnected", "attempt", attempt)
		return conn, true
	}
}

// Channel возвращает канал потребления.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

// ReconnectNotify возвращает канал, который закроется после ближайшего
// переподключения. Каждое ожидание должно брать канал заново.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnected
}

// WithChannel выполняет fn с каналом публикации.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	ch := c.pub
	c.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return ErrNoChannel
	}
	return fn(ch)
}

// Close останавливает переподключение и закрывает соединение вместе
// с каналами. Повторный вызов ничего не делает.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		conn := c.conn
		c.conn, c.pub, c.sub = nil, nil, nil
		c.mu.Unlock()

		if conn != nil && !conn.IsClosed() {
			if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
				err = fmt.Errorf("close connection: %w", cerr)
			}
		}
		c.logger.Info("connection closed")
	})
	return err
}
