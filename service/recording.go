package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"recording-orchestrator/constant"
	"recording-orchestrator/entities"
	"recording-orchestrator/pkg/retry"
	"recording-orchestrator/repository"
	"time"
)

var ErrNoFreeRecorder = errors.New("no free recorder")

var ErrUnknownDevice = errors.New("unknown appliance")

// RecordingService is the entry point for command-bus recording requests. It
// ties pool, session and media-event managers together per room.
type RecordingService interface {
	StartEgressRecording(ctx context.Context, roomId string) (*entities.EgressSession, error)
	StopEgressRecording(ctx context.Context, roomId string) error
	StartApplianceRecording(ctx context.Context, roomId string, deviceId string) (*entities.MediaEvent, error)
	StopApplianceRecording(ctx context.Context, roomId string, deviceId string) error
	PingAppliance(ctx context.Context, deviceId string) error
}

type recordingRepo interface {
	repository.RecorderRepository
	repository.ConferenceRepository
	repository.EgressRepository
}

type recordingService struct {
	repo        recordingRepo
	pool        PoolManager
	sessions    SessionManager
	media       MediaEventManager
	conferences ConferenceService
	appliances  ApplianceAPI
	devices     map[string]bool
	policy      retry.Policy
	now         func() time.Time
}

func NewRecordingService(
	repo recordingRepo,
	pool PoolManager,
	sessions SessionManager,
	media MediaEventManager,
	conferences ConferenceService,
	appliances ApplianceAPI,
	deviceIds []string,
	policy retry.Policy,
) RecordingService {
	devices := make(map[string]bool, len(deviceIds))
	for _, id := range deviceIds {
		devices[id] = true
	}
	return &recordingService{
		repo:        repo,
		pool:        pool,
		sessions:    sessions,
		media:       media,
		conferences: conferences,
		appliances:  appliances,
		devices:     devices,
		policy:      policy,
		now:         time.Now,
	}
}

func (s *recordingService) StartEgressRecording(ctx context.Context, roomId string) (*entities.EgressSession, error) {
	conference, err := s.conferences.Resolve(ctx, roomId)
	if err != nil {
		return nil, err
	}
	if err := s.checkRoomIdle(ctx, roomId); err != nil {
		return nil, err
	}

	recorderId, ok, err := s.pool.Assign(ctx, roomId)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoFreeRecorder
	}

	session, err := s.sessions.StartEgress(ctx, roomId, recorderId)
	if err != nil {
		if releaseErr := s.pool.Release(ctx, roomId); releaseErr != nil {
			zerolog.Ctx(ctx).Error().Err(releaseErr).Str("recorder_id", recorderId).Msg("failed to release recorder after failed start")
		}
		return nil, err
	}

	if err := s.repo.SetConferenceRecording(ctx, conference.ID, true); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("room_id", roomId).Msg("failed to flag conference recording")
	}

	now := s.now()
	_, err = s.media.StartRecording(ctx, RecordingWindow{
		Conference: *conference,
		RecorderId: recorderId,
		Type:       constant.RecorderTypeRoomComposite,
		Start:      now,
	})
	if err != nil {
		// the egress keeps running; ingestion creates the event later if needed
		return session, fmt.Errorf("start media event: %w", err)
	}
	return session, nil
}

// checkRoomIdle rejects a start for a room that already holds a recorder or an in-flight egress.
func (s *recordingService) checkRoomIdle(ctx context.Context, roomId string) error {
	recorder, err := s.repo.FindRecorderByRoom(ctx, roomId)
	switch {
	case err == nil:
		zerolog.Ctx(ctx).Warn().Str("room_id", roomId).Str("recorder_id", recorder.RecorderId).Msg("room already has a recorder")
		return ErrActiveSession
	case !errors.Is(err, repository.ErrNotFound):
		return err
	}

	session, err := s.repo.FindLatestEgressSessionForRoom(ctx, roomId)
	switch {
	case err == nil && session.Status.InFlight():
		zerolog.Ctx(ctx).Warn().Str("room_id", roomId).Str("egress_id", session.EgressId).Msg("room already has an egress in flight")
		return ErrActiveSession
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return err
	}
	return nil
}

func (s *recordingService) StopEgressRecording(ctx context.Context, roomId string) error {
	recorder, err := s.repo.FindRecorderByRoom(ctx, roomId)
	if errors.Is(err, repository.ErrNotFound) {
		zerolog.Ctx(ctx).Warn().Str("room_id", roomId).Msg("stop requested for room without recorder")
		return ErrRecorderNotFound
	}
	if err != nil {
		return err
	}

	if _, err := s.sessions.StopEgress(ctx, roomId, recorder.RecorderId); err != nil {
		return err
	}
	if err := s.pool.Release(ctx, roomId); err != nil && !errors.Is(err, ErrRecorderNotFound) {
		return err
	}
	if conference, err := s.repo.FindLatestConference(ctx, roomId); err == nil {
		if err := s.repo.SetConferenceRecording(ctx, conference.ID, false); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("room_id", roomId).Msg("failed to clear conference recording flag")
		}
	}
	return nil
}

func (s *recordingService) StartApplianceRecording(ctx context.Context, roomId string, deviceId string) (*entities.MediaEvent, error) {
	if !s.devices[deviceId] {
		return nil, ErrUnknownDevice
	}
	conference, err := s.conferences.Resolve(ctx, roomId)
	if err != nil {
		return nil, err
	}

	_, err = retry.Do(ctx, s.policy, "appliance.start", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.appliances.StartRecording(ctx, deviceId)
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("device_id", deviceId).Str("room_id", roomId).Msg("failed to start appliance recording")
		return nil, fmt.Errorf("start appliance recording: %w", err)
	}

	return s.media.StartRecording(ctx, RecordingWindow{
		Conference: *conference,
		RecorderId: deviceId,
		Type:       constant.RecorderTypeAppliance,
		Start:      s.now(),
	})
}

func (s *recordingService) StopApplianceRecording(ctx context.Context, roomId string, deviceId string) error {
	if !s.devices[deviceId] {
		return ErrUnknownDevice
	}
	_, err := retry.Do(ctx, s.policy, "appliance.stop", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.appliances.StopRecording(ctx, deviceId)
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("device_id", deviceId).Str("room_id", roomId).Msg("failed to stop appliance recording")
		return fmt.Errorf("stop appliance recording: %w", err)
	}
	return s.media.RecordingStopped(ctx, roomId, deviceId, nil)
}

func (s *recordingService) PingAppliance(ctx context.Context, deviceId string) error {
	if !s.devices[deviceId] {
		return ErrUnknownDevice
	}
	return s.appliances.Ping(ctx, deviceId)
}
