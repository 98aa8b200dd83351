package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

// Exchanges.
const (
	ExchangeRuns Exchange = "montage.runs"
	ExchangeDLQ  Exchange = "montage.dlq"
)

// Queues.
const (
	QueueRunsRequested Queue = "runs.requested"
	QueueRunsFinished  Queue = "runs.finished"
	QueueDLQRuns       Queue = "dlq.runs"
)

// Routing keys.
const (
	RoutingKeyRequested RoutingKey = "requested"
	RoutingKeyFinished  RoutingKey = "finished"
	RoutingKeyDLQRuns   RoutingKey = "runs"
)

type binding struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
	args       amqp.Table
}

// bindings — полная топология: каждая очередь объявляется и привязывается.
var bindings = []binding{
	{
		queue:      QueueRunsRequested,
		routingKey: RoutingKeyRequested,
		exchange:   ExchangeRuns,
		args: amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
		},
	},
	{queue: QueueRunsFinished, routingKey: RoutingKeyFinished, exchange: ExchangeRuns},
	{queue: QueueDLQRuns, routingKey: RoutingKeyDLQRuns, exchange: ExchangeDLQ},
}

// SetupTopology объявляет exchanges и очереди. Повторный вызов безопасен.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeRuns, ExchangeDLQ} {
			err := ch.ExchangeDeclare(
				string(ex), // name
				"direct",   // type
				true,       // durable
				false,      // auto-deleted
				false,      // internal
				false,      // no-wait
				nil,        // arguments
			)
			if err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		for _, b := range bindings {
			if _, err := ch.QueueDeclare(string(b.queue), true, false, false, false, b.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Montage RabbitMQ Topology:

    montage.runs (direct)
    ├── runs.requested [routing: requested]
    │       Consumer: renderer
    │       DLQ: dlq.runs
    └── runs.finished [routing: finished]
            Consumers: external

    montage.dlq (direct)
    └── dlq.runs [routing: runs]
            Manual processing
  `
}
