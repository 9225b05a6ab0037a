package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	exchangeName = "recording_exchange"
	dlxName      = "recording_exchange_dlx"
)

// Queue binds one durable queue to the recording exchange. Failed deliveries
// are dead-lettered to <name>_dlq.
type Queue struct {
	Name       string
	RoutingKey string
}

var (
	PrepareQueue = Queue{Name: "recording_prepare_queue", RoutingKey: "recording.prepare"}
	AttachQueue  = Queue{Name: "recording_attach_queue", RoutingKey: "recording.attach"}
	EventQueue   = Queue{Name: "recording_event_queue", RoutingKey: "recording.event"}
	CommandQueue = Queue{Name: "recording_command_queue", RoutingKey: "recording.command"}
)

func (q Queue) deadLetterName() string {
	return q.Name + "_dlq"
}

func (q Queue) deadLetterKey() string {
	return "dlq." + q.RoutingKey
}

type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// declare sets up the exchange, the dead-letter exchange, the queue and its dead-letter queue.
func declare(ch declarer, kind string, q Queue) error {
	if err := ch.ExchangeDeclare(exchangeName, kind, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(dlxName, kind, true, false, false, false, nil); err != nil {
		return err
	}

	dlq, err := ch.QueueDeclare(q.deadLetterName(), true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(dlq.Name, q.deadLetterKey(), dlxName, false, nil); err != nil {
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlxName,
		"x-dead-letter-routing-key": q.deadLetterKey(),
	}
	queue, err := ch.QueueDeclare(q.Name, true, false, false, false, args)
	if err != nil {
		return err
	}
	return ch.QueueBind(queue.Name, q.RoutingKey, exchangeName, false, nil)
}
