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

const (
	ExchangeSagas Exchange = "wallet.sagas"
	ExchangeDLQ   Exchange = "wallet.dlq"
)

const (
	QueueSagasFinished Queue = "sagas.finished"
	QueueDLQSagas      Queue = "dlq.sagas"
)

const (
	RoutingKeyFinished RoutingKey = "finished"
	RoutingKeyDLQSagas RoutingKey = "sagas"
)

// Binding — привязка очереди к обменнику.
type Binding struct {
	Queue      Queue
	RoutingKey RoutingKey
	Exchange   Exchange
}

var (
	exchanges = []Exchange{ExchangeSagas, ExchangeDLQ}

	queues = []Queue{QueueSagasFinished, QueueDLQSagas}

	bindings = []Binding{
		{QueueSagasFinished, RoutingKeyFinished, ExchangeSagas},
		{QueueDLQSagas, RoutingKeyDLQSagas, ExchangeDLQ},
	}
)

// SetupTopology объявляет обменники, очереди и привязки.
// Повторный вызов безопасен.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range exchanges {
			if err := ch.ExchangeDeclare(string(ex), "direct", true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		for _, q := range queues {
			if _, err := ch.QueueDeclare(string(q), true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare queue %s: %w", q, err)
			}
		}

		for _, b := range bindings {
			if err := ch.QueueBind(string(b.Queue), string(b.RoutingKey), string(b.Exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.Queue, b.Exchange, err)
			}
		}
		return nil
	})
}

// declareTap создаёт временную эксклюзивную очередь, привязанную к
// exchange/key. Сообщения копируются в неё, не забирая их из
// постоянных очередей. Очередь удаляется при закрытии канала.
func declareTap(ch *amqp.Channel, exchange Exchange, key RoutingKey) (string, error) {
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare tap queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, string(key), string(exchange), false, nil); err != nil {
		return "", fmt.Errorf("bind tap queue to %s: %w", exchange, err)
	}
	return q.Name, nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Wallet RabbitMQ Topology:

    wallet.sagas (direct)
    └── sagas.finished [routing: finished]
            Saga reached COMPLETED, COMPENSATED or FAILED

    wallet.dlq (direct)
    └── dlq.sagas [routing: sagas]
            Dead-lettered sagas, manual processing
  `
}
