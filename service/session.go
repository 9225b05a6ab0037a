package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"recording-orchestrator/constant"
	"recording-orchestrator/dto"
	"recording-orchestrator/entities"
	"recording-orchestrator/metrics"
	"recording-orchestrator/pkg/retry"
	"recording-orchestrator/repository"
	"strings"
	"time"
)

// ErrActiveSession is the expected rejection when a recorder is already busy.
var ErrActiveSession = errors.New("recorder already has an active egress session")

// RecordingSink receives the files of every egress that was stopped, whatever the stop outcome.
type RecordingSink interface {
	RecordingStopped(ctx context.Context, roomId string, recorderId string, files []dto.FileResult) error
}

type SessionManager interface {
	StartEgress(ctx context.Context, roomId string, recorderId string) (*entities.EgressSession, error)
	StopEgress(ctx context.Context, roomId string, recorderId string) ([]dto.FileResult, error)
	// CompleteEgress handles an egress-ended notification from the conferencing backend.
	CompleteEgress(ctx context.Context, egressId string, files []dto.FileResult) (*entities.EgressSession, error)
	// ForceStop stops an orphaned session found by reconciliation.
	ForceStop(ctx context.Context, session *entities.EgressSession) error
	CreateOrGetIngress(ctx context.Context, roomId string, deviceId string) (*dto.IngressInfo, error)
	DeleteIngressForRoom(ctx context.Context, roomId string) error
}

type SessionOptions struct {
	// FileTemplate is the egress output path; {room} is replaced with the room id.
	FileTemplate  string
	StopAttempts  int
	StopDelay     time.Duration
	DeleteRetries int
	DeleteDelay   time.Duration
	RetryPolicy   retry.Policy
}

func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		FileTemplate:  "{room}/{room}-{time}.mp4",
		StopAttempts:  3,
		StopDelay:     time.Second,
		DeleteRetries: 3,
		DeleteDelay:   time.Second,
		RetryPolicy:   retry.DefaultPolicy,
	}
}

type sessionManager struct {
	repo    repository.EgressRepository
	egress  EgressAPI
	ingress IngressAPI
	sink    RecordingSink
	opts    SessionOptions
}

func NewSessionManager(repo repository.EgressRepository, egress EgressAPI, ingress IngressAPI, sink RecordingSink, opts SessionOptions) SessionManager {
	return &sessionManager{
		repo:    repo,
		egress:  egress,
		ingress: ingress,
		sink:    sink,
		opts:    opts,
	}
}

// StartEgress enforces one in-flight session per recorder. The check and the
// insert are not atomic: two concurrent starts for the same recorder can both pass.
func (s *sessionManager) StartEgress(ctx context.Context, roomId string, recorderId string) (*entities.EgressSession, error) {
	log := zerolog.Ctx(ctx).With().Str("room_id", roomId).Str("recorder_id", recorderId).Logger()

	active, err := s.repo.ListEgressSessionsByRecorder(ctx, recorderId, constant.InFlightEgressStatuses...)
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		metrics.RecordEgress("start", "rejected")
		log.Warn().Str("egress_id", active[0].EgressId).Msg("egress already in flight for recorder")
		return nil, ErrActiveSession
	}

	path := strings.ReplaceAll(s.opts.FileTemplate, "{room}", roomId)
	info, err := retry.Do(ctx, s.opts.RetryPolicy, "egress.start", func(ctx context.Context) (*dto.EgressInfo, error) {
		return s.egress.StartRoomComposite(ctx, roomId, path)
	})
	if err != nil {
		metrics.RecordEgress("start", "failure")
		log.Error().Err(err).Msg("failed to start egress")
		return nil, fmt.Errorf("start egress: %w", err)
	}

	session := &entities.EgressSession{
		RecorderId: recorderId,
		RoomId:     roomId,
		EgressId:   info.EgressId,
		Status:     constant.EgressStatusActive,
	}
	if err := s.repo.CreateEgressSession(ctx, session); err != nil {
		return nil, err
	}

	metrics.RecordEgress("start", "success")
	log.Info().Str("egress_id", info.EgressId).Msg("egress started")
	return session, nil
}

func (s *sessionManager) StopEgress(ctx context.Context, roomId string, recorderId string) ([]dto.FileResult, error) {
	sessions, err := s.repo.ListEgressSessionsByRecorder(ctx, recorderId, constant.EgressStatusActive)
	if err != nil {
		return nil, err
	}

	var files []dto.FileResult
	for _, session := range sessions {
		if roomId != "" && session.RoomId != roomId {
			continue
		}
		files = append(files, s.stop(ctx, session)...)
	}
	return files, nil
}

// stop always ends with the session COMPLETE and the sink notified.
func (s *sessionManager) stop(ctx context.Context, session *entities.EgressSession) []dto.FileResult {
	log := zerolog.Ctx(ctx).With().
		Str("room_id", session.RoomId).
		Str("recorder_id", session.RecorderId).
		Str("egress_id", session.EgressId).
		Logger()

	var files []dto.FileResult
	// the backend rejects stops issued right after a start until it has initialised
	err := retry.Fixed(ctx, s.opts.StopAttempts, s.opts.StopDelay, func(ctx context.Context) error {
		info, err := s.egress.StopEgress(ctx, session.EgressId)
		if err != nil {
			log.Warn().Err(err).Msg("egress stop attempt failed")
			return err
		}
		if info != nil {
			files = info.Files
		}
		return nil
	})
	if err != nil {
		metrics.RecordEgress("stop", "failure")
		log.Warn().Err(err).Msg("giving up on egress stop")
	} else {
		metrics.RecordEgress("stop", "success")
	}

	if s.sink != nil {
		if err := s.sink.RecordingStopped(ctx, session.RoomId, session.RecorderId, files); err != nil {
			log.Error().Err(err).Msg("failed to hand over stopped recording")
		}
	}

	if err := s.repo.UpdateEgressStatus(ctx, session.ID, constant.EgressStatusComplete); err != nil {
		log.Error().Err(err).Msg("failed to mark egress complete")
	}
	log.Info().Int("files", len(files)).Msg("egress stopped")
	return files
}

func (s *sessionManager) CompleteEgress(ctx context.Context, egressId string, files []dto.FileResult) (*entities.EgressSession, error) {
	session, err := s.repo.FindEgressSessionByEgressId(ctx, egressId)
	if err != nil {
		return nil, err
	}
	if !session.Status.InFlight() {
		return session, nil
	}

	if s.sink != nil {
		if err := s.sink.RecordingStopped(ctx, session.RoomId, session.RecorderId, files); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("egress_id", egressId).Msg("failed to hand over ended recording")
		}
	}
	if err := s.repo.UpdateEgressStatus(ctx, session.ID, constant.EgressStatusComplete); err != nil {
		return nil, err
	}
	session.Status = constant.EgressStatusComplete
	return session, nil
}

func (s *sessionManager) ForceStop(ctx context.Context, session *entities.EgressSession) error {
	if !session.Status.InFlight() {
		return nil
	}
	s.stop(ctx, session)
	return nil
}

func (s *sessionManager) CreateOrGetIngress(ctx context.Context, roomId string, deviceId string) (*dto.IngressInfo, error) {
	log := zerolog.Ctx(ctx).With().Str("room_id", roomId).Str("device_id", deviceId).Logger()

	existing, err := retry.Do(ctx, s.opts.RetryPolicy, "ingress.list", func(ctx context.Context) ([]dto.IngressInfo, error) {
		return s.ingress.ListIngress(ctx, roomId)
	})
	if err != nil {
		return nil, fmt.Errorf("list ingress: %w", err)
	}
	for _, in := range existing {
		if in.Publishing || in.Buffering {
			continue
		}
		metrics.RecordIngress("reuse", "success")
		log.Debug().Str("ingress_id", in.IngressId).Msg("reusing ingress endpoint")
		found := in
		return &found, nil
	}

	name := IngressName(roomId, deviceId)
	created, err := retry.Do(ctx, s.opts.RetryPolicy, "ingress.create", func(ctx context.Context) (*dto.IngressInfo, error) {
		return s.ingress.CreateIngress(ctx, roomId, name, deviceId)
	})
	if err != nil {
		metrics.RecordIngress("create", "failure")
		return nil, fmt.Errorf("create ingress: %w", err)
	}
	metrics.RecordIngress("create", "success")
	log.Info().Str("ingress_id", created.IngressId).Msg("ingress endpoint created")
	return created, nil
}

func (s *sessionManager) DeleteIngressForRoom(ctx context.Context, roomId string) error {
	var result *multierror.Error
	err := retry.Fixed(ctx, s.opts.DeleteRetries, s.opts.DeleteDelay, func(ctx context.Context) error {
		result = nil
		endpoints, err := s.ingress.ListIngress(ctx, roomId)
		if err != nil {
			return err
		}
		for _, in := range endpoints {
			if err := s.ingress.DeleteIngress(ctx, in.IngressId); err != nil {
				result = multierror.Append(result, fmt.Errorf("delete %s: %w", in.IngressId, err))
				continue
			}
			metrics.RecordIngress("delete", "success")
		}
		return result.ErrorOrNil()
	})
	if err != nil {
		metrics.RecordIngress("delete", "failure")
		zerolog.Ctx(ctx).Warn().Err(err).Str("room_id", roomId).Msg("giving up on ingress cleanup")
		return err
	}
	return nil
}

// IngressName is the deterministic endpoint name for a device in a room.
func IngressName(roomId string, deviceId string) string {
	return fmt.Sprintf("%s-%s", roomId, deviceId)
}
