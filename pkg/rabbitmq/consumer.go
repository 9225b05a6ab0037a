package rabbitmq

import (
	"context"
	"errors"
	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"recording-orchestrator/config"
	"sync"
	"time"
)

// ErrPermanent marks a handler failure that no retry can fix. The delivery is
// dead-lettered right away.
var ErrPermanent = errors.New("permanent failure")

type Consumer[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

type Handler[T any] func(ctx context.Context, msg amqp.Delivery, dependencies T) error

// ExhaustedFunc runs after the last attempt failed, before the delivery is dead-lettered.
type ExhaustedFunc[T any] func(ctx context.Context, msg amqp.Delivery, dependencies T, err error)

type consumer[T any] struct {
	conn        *amqp.Connection
	cfg         *config.RabbitMQ
	queue       Queue
	handler     Handler[T]
	onExhausted ExhaustedFunc[T]
	numWorkers  int
	maxAttempts uint
	initial     time.Duration
	maxInterval time.Duration
}

func (c *consumer[T]) Consume(ctx context.Context, dependencies T) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	log := zerolog.Ctx(ctx).With().Str("queue", c.queue.Name).Logger()

	if err := declare(ch, c.cfg.Kind, c.queue); err != nil {
		log.Error().Err(err).Msg("failed to declare topology")
		return err
	}
	if err := ch.Qos(c.numWorkers, 0, false); err != nil {
		log.Error().Err(err).Msg("failed to set QoS")
		return err
	}

	deliveries, err := ch.Consume(c.queue.Name, "", false, false, false, false, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to consume queue")
		return err
	}

	log.Info().
		Str("exchange", exchangeName).
		Str("routing_key", c.queue.RoutingKey).
		Int("workers", c.numWorkers).
		Msg("consumer started")

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			workerCtx := log.With().Int("worker_id", workerId).Logger().WithContext(ctx)
			for msg := range jobs {
				c.process(workerCtx, msg, dependencies)
			}
		}(i)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}
			jobs <- delivery
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

// process runs the handler inside the retry envelope, then acks or dead-letters.
func (c *consumer[T]) process(ctx context.Context, msg amqp.Delivery, dependencies T) {
	operation := func() (struct{}, error) {
		err := c.handler(ctx, msg, dependencies)
		if errors.Is(err, ErrPermanent) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initial
	bo.MaxInterval = c.maxInterval

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(c.maxAttempts))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("message_id", msg.MessageId).Msg("failed to handle message after all retries")
		if c.onExhausted != nil {
			c.onExhausted(ctx, msg, dependencies, err)
		}
		if nackErr := msg.Nack(false, false); nackErr != nil {
			zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
		}
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		zerolog.Ctx(ctx).Error().Err(ackErr).Msg("failed to acknowledge message")
	}
}

type Option[T any] func(c *consumer[T])

func WithExhausted[T any](fn func(ctx context.Context, msg amqp.Delivery, dependencies T, err error)) Option[T] {
	return func(c *consumer[T]) {
		c.onExhausted = fn
	}
}

func WithRetryInterval[T any](initial, max time.Duration) Option[T] {
	return func(c *consumer[T]) {
		c.initial = initial
		c.maxInterval = max
	}
}

func NewConsumer[T any](
	conn *amqp.Connection,
	cfg *config.RabbitMQ,
	queue Queue,
	numWorkers int,
	handler func(ctx context.Context, msg amqp.Delivery, dependencies T) error,
	opts ...Option[T],
) Consumer[T] {
	return newConsumer[T](conn, cfg, queue, numWorkers, handler, opts...)
}

func newConsumer[T any](
	conn *amqp.Connection,
	cfg *config.RabbitMQ,
	queue Queue,
	numWorkers int,
	handler Handler[T],
	opts ...Option[T],
) *consumer[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	c := &consumer[T]{
		conn:        conn,
		cfg:         cfg,
		queue:       queue,
		handler:     handler,
		numWorkers:  numWorkers,
		maxAttempts: uint(attempts),
		initial:     backoff.DefaultInitialInterval,
		maxInterval: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
