package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"recording-orchestrator/config"
	"recording-orchestrator/dto"
	"sync"
	"time"
)

type channel interface {
	declarer
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends jobs, events and command replies. It owns one channel and
// serializes publishes on it.
type Publisher struct {
	mu sync.Mutex
	ch channel
}

// NewPublisher opens a channel and declares every queue the orchestrator consumes.
func NewPublisher(conn *amqp.Connection, cfg *config.RabbitMQ) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	for _, q := range []Queue{PrepareQueue, AttachQueue, EventQueue, CommandQueue} {
		if err := declare(ch, cfg.Kind, q); err != nil {
			ch.Close()
			return nil, fmt.Errorf("declare %s: %w", q.Name, err)
		}
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) PublishUploadJob(ctx context.Context, job dto.UploadJobMessage) error {
	return p.publishJSON(ctx, exchangeName, PrepareQueue.RoutingKey, job.JobId.String(), "", job)
}

func (p *Publisher) PublishAttachJob(ctx context.Context, job dto.AttachJobMessage) error {
	return p.publishJSON(ctx, exchangeName, AttachQueue.RoutingKey, job.JobId.String(), "", job)
}

func (p *Publisher) PublishEvent(ctx context.Context, event dto.Event) error {
	return p.publishJSON(ctx, exchangeName, EventQueue.RoutingKey, uuid.NewString(), "", event)
}

// PublishCommand is the fire-and-forget form of the command bus.
func (p *Publisher) PublishCommand(ctx context.Context, cmd dto.Command) error {
	return p.publishJSON(ctx, exchangeName, CommandQueue.RoutingKey, uuid.NewString(), "", cmd)
}

// Reply answers a request/response command on the default exchange. Deliveries
// without ReplyTo are fire-and-forget and get no reply.
func (p *Publisher) Reply(ctx context.Context, msg amqp.Delivery, reply dto.CommandReply) error {
	if msg.ReplyTo == "" {
		return nil
	}
	return p.publishJSON(ctx, "", msg.ReplyTo, uuid.NewString(), msg.CorrelationId, reply)
}

func (p *Publisher) publishJSON(ctx context.Context, exchange, key, messageId, correlationId string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     messageId,
		CorrelationId: correlationId,
		Timestamp:     time.Now(),
		Body:          payload,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("routing_key", key).Msg("failed to publish message")
		return err
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
