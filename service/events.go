package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"recording-orchestrator/constant"
	"recording-orchestrator/dto"
	"recording-orchestrator/repository"
	"time"
)

// EventService applies verified lifecycle events from the conferencing system.
type EventService interface {
	Handle(ctx context.Context, event dto.Event) error
}

type eventService struct {
	repo        repository.RecorderRepository
	pool        PoolManager
	sessions    SessionManager
	recordings  RecordingService
	conferences ConferenceService
}

func NewEventService(repo repository.RecorderRepository, pool PoolManager, sessions SessionManager, recordings RecordingService, conferences ConferenceService) EventService {
	return &eventService{
		repo:        repo,
		pool:        pool,
		sessions:    sessions,
		recordings:  recordings,
		conferences: conferences,
	}
}

func (s *eventService) Handle(ctx context.Context, event dto.Event) error {
	log := zerolog.Ctx(ctx).With().Str("kind", string(event.Kind)).Str("room_id", event.RoomId).Logger()
	ctx = log.WithContext(ctx)

	switch event.Kind {
	case constant.EventRoomFinished:
		return s.roomFinished(ctx, event)
	case constant.EventEgressEnded:
		return s.egressEnded(ctx, event)
	default:
		log.Debug().Msg("ignoring event")
		return nil
	}
}

func (s *eventService) roomFinished(ctx context.Context, event dto.Event) error {
	var errs []error

	err := s.recordings.StopEgressRecording(ctx, event.RoomId)
	if err != nil && !errors.Is(err, ErrRecorderNotFound) {
		errs = append(errs, fmt.Errorf("stop egress: %w", err))
	}
	if err := s.sessions.DeleteIngressForRoom(ctx, event.RoomId); err != nil {
		errs = append(errs, fmt.Errorf("delete ingress: %w", err))
	}

	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	if err := s.conferences.MarkEnded(ctx, event.RoomId, event.RoomSid, at); err != nil {
		errs = append(errs, fmt.Errorf("mark conference ended: %w", err))
	}

	zerolog.Ctx(ctx).Info().Int("errors", len(errs)).Msg("room finished handled")
	return errors.Join(errs...)
}

func (s *eventService) egressEnded(ctx context.Context, event dto.Event) error {
	session, err := s.sessions.CompleteEgress(ctx, event.EgressId, event.Files)
	if errors.Is(err, repository.ErrNotFound) {
		zerolog.Ctx(ctx).Warn().Str("egress_id", event.EgressId).Msg("egress ended for unknown session")
		return nil
	}
	if err != nil {
		return err
	}

	recorder, err := s.repo.FindRecorderByRoom(ctx, session.RoomId)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if recorder.RecorderId != session.RecorderId {
		return nil
	}
	if err := s.pool.Release(ctx, session.RoomId); err != nil && !errors.Is(err, ErrRecorderNotFound) {
		return err
	}
	return nil
}
