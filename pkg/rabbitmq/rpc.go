package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"recording-orchestrator/dto"
	"time"
)

const directReplyTo = "amq.rabbitmq.reply-to"

var ErrNoReply = errors.New("no reply received")

// Call sends a command and waits for its reply using direct reply-to.
func Call(ctx context.Context, conn *amqp.Connection, cmd dto.Command) (dto.CommandReply, error) {
	ch, err := conn.Channel()
	if err != nil {
		return dto.CommandReply{}, err
	}
	defer ch.Close()

	// the reply consumer must exist before the request is published
	replies, err := ch.Consume(directReplyTo, "", true, false, false, false, nil)
	if err != nil {
		return dto.CommandReply{}, fmt.Errorf("consume replies: %w", err)
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return dto.CommandReply{}, err
	}
	correlationId := uuid.NewString()
	err = ch.PublishWithContext(ctx, exchangeName, CommandQueue.RoutingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationId,
		ReplyTo:       directReplyTo,
		MessageId:     uuid.NewString(),
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return dto.CommandReply{}, fmt.Errorf("publish command: %w", err)
	}

	return awaitReply(ctx, replies, correlationId)
}

func awaitReply(ctx context.Context, replies <-chan amqp.Delivery, correlationId string) (dto.CommandReply, error) {
	for {
		select {
		case <-ctx.Done():
			return dto.CommandReply{}, errors.Join(ErrNoReply, ctx.Err())
		case msg, ok := <-replies:
			if !ok {
				return dto.CommandReply{}, ErrNoReply
			}
			if msg.CorrelationId != correlationId {
				continue
			}
			var reply dto.CommandReply
			if err := json.Unmarshal(msg.Body, &reply); err != nil {
				return dto.CommandReply{}, fmt.Errorf("decode reply: %w", err)
			}
			return reply, nil
		}
	}
}
