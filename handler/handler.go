package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"recording-orchestrator/dto"
	"recording-orchestrator/pkg/rabbitmq"
	"recording-orchestrator/service"
)

// Replier answers request/response commands.
type Replier interface {
	Reply(ctx context.Context, msg amqp.Delivery, reply dto.CommandReply) error
}

type ServiceDependencies struct {
	IngestService     service.IngestService
	EventService      service.EventService
	RecordingService  service.RecordingService
	SessionManager    service.SessionManager
	ConferenceService service.ConferenceService
	Replier           Replier
	Validate          *validator.Validate
}

// decode unmarshals and validates a payload. Failures are permanent: a
// malformed message never becomes valid on redelivery.
func decode(validate *validator.Validate, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode: %w", rabbitmq.ErrPermanent, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: validate: %w", rabbitmq.ErrPermanent, err)
	}
	return nil
}

func PrepareHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var job dto.UploadJobMessage
	if err := decode(deps.Validate, msg.Body, &job); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("rejecting upload job")
		return err
	}

	ctx = zerolog.Ctx(ctx).With().Str("job_id", job.JobId.String()).Logger().WithContext(ctx)
	zerolog.Ctx(ctx).Info().
		Str("room_id", job.Conference.RoomId).
		Str("recorder_id", job.Recorder).
		Int("recordings", len(job.Recordings)).
		Msg("received upload job")

	return deps.IngestService.Prepare(ctx, job)
}

func AttachHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var job dto.AttachJobMessage
	if err := decode(deps.Validate, msg.Body, &job); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("rejecting attach job")
		return err
	}

	ctx = zerolog.Ctx(ctx).With().Str("job_id", job.JobId.String()).Str("event_id", job.EventId).Logger().WithContext(ctx)
	return deps.IngestService.Attach(ctx, job)
}

// JobExhausted records the terminal failure of a job the queue gave up on.
func JobExhausted(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies, cause error) {
	var job struct {
		JobId uuid.UUID `json:"jobId"`
	}
	if err := json.Unmarshal(msg.Body, &job); err != nil || job.JobId == uuid.Nil {
		return
	}
	if err := deps.IngestService.Fail(ctx, job.JobId, cause); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("job_id", job.JobId.String()).Msg("failed to mark job failed")
	}
}

// EventHandler applies lifecycle events. Failures are logged and dropped: the
// next reconciliation pass repairs whatever the event left behind.
func EventHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var event dto.Event
	if err := decode(deps.Validate, msg.Body, &event); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("rejecting event")
		return err
	}

	if err := deps.EventService.Handle(ctx, event); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("kind", string(event.Kind)).
			Str("room_id", event.RoomId).
			Str("egress_id", event.EgressId).
			Msg("failed to handle event")
	}
	return nil
}
