package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeTriggers Exchange = "fanflow.triggers"
	ExchangeMail     Exchange = "fanflow.mail"
	ExchangeEvents   Exchange = "fanflow.events"
	ExchangeDLQ      Exchange = "fanflow.dlq"
)

// Queues — имена очередей.
const (
	QueueTriggersFired Queue = "triggers.fired"
	QueueMailOutbox    Queue = "mail.outbox"
	QueueEventsAudit   Queue = "events.audit"
	QueueDLQ           Queue = "dlq.fanflow"
)

// Routing keys.
const (
	RoutingKeyFired         RoutingKey = "fired"
	RoutingKeyOutbox        RoutingKey = "outbox"
	RoutingKeyRunFinished   RoutingKey = "run.finished"
	RoutingKeyRunNodeFailed RoutingKey = "run_node.failed"
	RoutingKeyAllEvents     RoutingKey = "#"
	RoutingKeyDLQ           RoutingKey = "dead"
)

// ExchangeSpec — обменник топологии.
type ExchangeSpec struct {
	Name Exchange
	Kind string
}

// QueueSpec — очередь и её единственная привязка.
type QueueSpec struct {
	Name       Queue
	Exchange   Exchange
	RoutingKey RoutingKey

	// DeadLetter — отклонённые сообщения уходят в ExchangeDLQ.
	DeadLetter bool

	// MaxLength ограничивает очередь; старые сообщения вытесняются.
	MaxLength int

	// Consumer — кто читает очередь, для логов.
	Consumer string
}

// Topology — обменники и очереди Fanflow.
type Topology struct {
	Exchanges []ExchangeSpec
	Queues    []QueueSpec
}

// DefaultTopology — топология, которую объявляют все процессы Fanflow.
var DefaultTopology = Topology{
	Exchanges: []ExchangeSpec{
		{ExchangeTriggers, amqp.ExchangeDirect},
		{ExchangeMail, amqp.ExchangeDirect},
		{ExchangeEvents, amqp.ExchangeTopic},
		{ExchangeDLQ, amqp.ExchangeDirect},
	},
	Queues: []QueueSpec{
		{Name: QueueTriggersFired, Exchange: ExchangeTriggers, RoutingKey: RoutingKeyFired, DeadLetter: true, Consumer: "fanflow-ingest"},
		{Name: QueueMailOutbox, Exchange: ExchangeMail, RoutingKey: RoutingKeyOutbox, DeadLetter: true, Consumer: "mail delivery service"},
		{Name: QueueEventsAudit, Exchange: ExchangeEvents, RoutingKey: RoutingKeyAllEvents, MaxLength: 100_000, Consumer: "audit"},
		{Name: QueueDLQ, Exchange: ExchangeDLQ, RoutingKey: RoutingKeyDLQ, Consumer: "manual"},
	},
}

func (q QueueSpec) args() amqp.Table {
	args := amqp.Table{}
	if q.DeadLetter {
		args["x-dead-letter-exchange"] = string(ExchangeDLQ)
		args["x-dead-letter-routing-key"] = string(RoutingKeyDLQ)
	}
	if q.MaxLength > 0 {
		args["x-max-length"] = int32(q.MaxLength)
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// SetupTopology объявляет DefaultTopology. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, DefaultTopology.Declare)
}

// Declare объявляет durable обменники, очереди и привязки на ch.
func (t Topology) Declare(ch *amqp.Channel) error {
	for _, ex := range t.Exchanges {
		if err := ch.ExchangeDeclare(string(ex.Name), ex.Kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.Name, err)
		}
	}

	for _, q := range t.Queues {
		if _, err := ch.QueueDeclare(string(q.Name), true, false, false, false, q.args()); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.Name, err)
		}
		if err := ch.QueueBind(string(q.Name), string(q.RoutingKey), string(q.Exchange), false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", q.Name, q.Exchange, err)
		}
	}
	return nil
}

// Describe возвращает по строке на очередь: "exchange -[key]-> queue (consumer)".
func (t Topology) Describe() []string {
	lines := make([]string, 0, len(t.Queues))
	for _, q := range t.Queues {
		line := fmt.Sprintf("%s -[%s]-> %s (%s)", q.Exchange, q.RoutingKey, q.Name, q.Consumer)
		if q.DeadLetter {
			line += " dlq"
		}
		lines = append(lines, line)
	}
	return lines
}
