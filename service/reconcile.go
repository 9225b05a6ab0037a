package service

import (
	"context"
	"errors"
	"fmt"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"
	"recording-orchestrator/constant"
	"recording-orchestrator/dto"
	"recording-orchestrator/metrics"
	"recording-orchestrator/pkg/retry"
	"recording-orchestrator/repository"
	"time"
)

const (
	loopRoomSync   = "room_sync"
	loopEgressSync = "egress_sync"
)

// Reconciler repairs drift between local state and the conferencing system.
type Reconciler interface {
	// SyncRooms ends every open conference whose room is no longer live.
	SyncRooms(ctx context.Context) error
	// SyncEgress force-stops egress sessions orphaned past the threshold.
	SyncEgress(ctx context.Context) error
}

type reconcileRepo interface {
	repository.ConferenceRepository
	repository.EgressRepository
	repository.RecorderRepository
}

type reconciler struct {
	repo            reconcileRepo
	rooms           ConferenceAPI
	sessions        SessionManager
	pool            PoolManager
	orphanThreshold time.Duration
	policy          retry.Policy
	now             func() time.Time
}

func NewReconciler(repo reconcileRepo, rooms ConferenceAPI, sessions SessionManager, pool PoolManager, orphanThreshold time.Duration, policy retry.Policy) Reconciler {
	return &reconciler{
		repo:            repo,
		rooms:           rooms,
		sessions:        sessions,
		pool:            pool,
		orphanThreshold: orphanThreshold,
		policy:          policy,
		now:             time.Now,
	}
}

func (r *reconciler) activeRooms(ctx context.Context) ([]dto.RoomInfo, error) {
	return retry.Do(ctx, r.policy, "room.list", func(ctx context.Context) ([]dto.RoomInfo, error) {
		return r.rooms.ActiveRooms(ctx)
	})
}

func (r *reconciler) SyncRooms(ctx context.Context) error {
	rooms, err := r.activeRooms(ctx)
	if err != nil {
		metrics.RecordReconcileFailure(loopRoomSync)
		return fmt.Errorf("list active rooms: %w", err)
	}
	active := mapset.NewThreadUnsafeSet[string]()
	for _, room := range rooms {
		active.Add(room.RoomId)
	}

	conferences, err := r.repo.ListOpenConferences(ctx)
	if err != nil {
		metrics.RecordReconcileFailure(loopRoomSync)
		return err
	}

	now := r.now()
	var errs []error
	for _, conference := range conferences {
		if active.Contains(conference.RoomId) {
			continue
		}
		if err := r.repo.MarkConferenceEnded(ctx, conference.ID, now); err != nil {
			metrics.RecordReconcileFailure(loopRoomSync)
			errs = append(errs, fmt.Errorf("end conference %s: %w", conference.RoomId, err))
			continue
		}
		metrics.RecordReconcileCorrection(loopRoomSync)
		zerolog.Ctx(ctx).Info().Str("room_id", conference.RoomId).Str("room_sid", conference.RoomSid).Msg("conference marked ended")
	}
	return errors.Join(errs...)
}

func (r *reconciler) SyncEgress(ctx context.Context) error {
	sessions, err := r.repo.ListEgressSessionsByStatus(ctx, constant.EgressStatusActive, constant.EgressStatusStarting)
	if err != nil {
		metrics.RecordReconcileFailure(loopEgressSync)
		return err
	}
	if len(sessions) == 0 {
		return nil
	}

	rooms, err := r.activeRooms(ctx)
	if err != nil {
		metrics.RecordReconcileFailure(loopEgressSync)
		return fmt.Errorf("list active rooms: %w", err)
	}
	recording := mapset.NewThreadUnsafeSet[string]()
	for _, room := range rooms {
		if room.IsRecording {
			recording.Add(room.RoomId)
		}
	}

	cutoff := r.now().Add(-r.orphanThreshold)
	var errs []error
	for _, session := range sessions {
		if session.CreatedAt.After(cutoff) || recording.Contains(session.RoomId) {
			continue
		}

		log := zerolog.Ctx(ctx).With().
			Str("room_id", session.RoomId).
			Str("recorder_id", session.RecorderId).
			Str("egress_id", session.EgressId).
			Logger()
		log.Warn().Time("created_at", session.CreatedAt).Msg("stopping orphaned egress")

		if err := r.sessions.ForceStop(log.WithContext(ctx), session); err != nil {
			metrics.RecordReconcileFailure(loopEgressSync)
			errs = append(errs, fmt.Errorf("stop egress %s: %w", session.EgressId, err))
			continue
		}
		metrics.RecordReconcileCorrection(loopEgressSync)

		recorder, err := r.repo.FindRecorderByRoom(ctx, session.RoomId)
		if err != nil || recorder.RecorderId != session.RecorderId {
			continue
		}
		if err := r.pool.Release(ctx, session.RoomId); err != nil {
			log.Warn().Err(err).Msg("failed to release recorder of orphaned egress")
		}
	}
	return errors.Join(errs...)
}
