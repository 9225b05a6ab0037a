package service

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"recording-orchestrator/entities"
	"recording-orchestrator/metrics"
	"recording-orchestrator/pkg/coordination"
	"recording-orchestrator/pkg/heartbeat"
	"recording-orchestrator/repository"
	"sync"
)

var ErrRecorderNotFound = errors.New("no recorder assigned to room")

// LivenessStore is the coordination-store view the pool needs.
type LivenessStore interface {
	Seed(ctx context.Context, recorderId string) error
	Ping(ctx context.Context, recorderId string) error
	SetProgress(ctx context.Context, recorderId string, progress int) error
	Remove(ctx context.Context, recorderId string) error
}

type PoolManager interface {
	// Start re-arms heartbeats for every idle recorder already persisted.
	Start(ctx context.Context) error
	Resize(ctx context.Context, target int) error
	// Assign returns ok=false when every recorder is busy; that is not an error.
	Assign(ctx context.Context, roomId string) (recorderId string, ok bool, err error)
	Release(ctx context.Context, roomId string) error
	Stop()
}

type poolManager struct {
	repo       repository.RecorderRepository
	liveness   LivenessStore
	heartbeats *heartbeat.Registry

	mu     sync.Mutex
	runCtx context.Context
}

func NewPoolManager(repo repository.RecorderRepository, liveness LivenessStore, heartbeats *heartbeat.Registry) PoolManager {
	return &poolManager{
		repo:       repo,
		liveness:   liveness,
		heartbeats: heartbeats,
		runCtx:     context.Background(),
	}
}

func (p *poolManager) Start(ctx context.Context) error {
	p.mu.Lock()
	p.runCtx = ctx
	p.mu.Unlock()

	recorders, err := p.repo.ListRecorders(ctx)
	if err != nil {
		return err
	}
	for _, r := range recorders {
		if r.IsRecording {
			continue
		}
		if err := p.addAvailableRecorder(ctx, r.RecorderId); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("recorder_id", r.RecorderId).Msg("failed to re-arm recorder")
		}
	}
	p.refreshGauges(ctx)
	zerolog.Ctx(ctx).Info().Int("recorders", len(recorders)).Msg("recorder pool started")
	return nil
}

func (p *poolManager) Resize(ctx context.Context, target int) error {
	if target < 0 {
		target = 0
	}
	recorders, err := p.repo.ListRecorders(ctx)
	if err != nil {
		return err
	}

	switch {
	case len(recorders) < target:
		for i := len(recorders); i < target; i++ {
			recorder := &entities.Recorder{RecorderId: uuid.NewString()}
			if err := p.repo.CreateRecorder(ctx, recorder); err != nil {
				return err
			}
			if err := p.addAvailableRecorder(ctx, recorder.RecorderId); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Str("recorder_id", recorder.RecorderId).Msg("failed to register recorder liveness")
			}
		}
	case len(recorders) > target:
		excess := len(recorders) - target
		// newest idle recorders go first; recording rows are never removed
		for i := len(recorders) - 1; i >= 0 && excess > 0; i-- {
			r := recorders[i]
			if r.IsRecording {
				continue
			}
			err := p.repo.DeleteRecorder(ctx, r.RecorderId)
			if errors.Is(err, repository.ErrNotFound) {
				// claimed between list and delete
				continue
			}
			if err != nil {
				return err
			}
			p.heartbeats.Stop(r.RecorderId)
			if err := p.liveness.Remove(ctx, r.RecorderId); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("recorder_id", r.RecorderId).Msg("failed to remove liveness record")
			}
			excess--
		}
		if excess > 0 {
			zerolog.Ctx(ctx).Warn().Int("target", target).Int("kept_recording", excess).Msg("pool larger than target, recording slots kept")
		}
	}

	p.refreshGauges(ctx)
	zerolog.Ctx(ctx).Info().Int("target", target).Msg("recorder pool resized")
	return nil
}

func (p *poolManager) Assign(ctx context.Context, roomId string) (string, bool, error) {
	recorders, err := p.repo.ListRecorders(ctx)
	if err != nil {
		metrics.RecordAssign("error")
		return "", false, err
	}

	for _, r := range recorders {
		if r.IsRecording {
			continue
		}
		claimed, err := p.repo.ClaimRecorder(ctx, r.RecorderId, roomId)
		if err != nil {
			metrics.RecordAssign("error")
			return "", false, err
		}
		if !claimed {
			continue
		}

		p.heartbeats.Stop(r.RecorderId)
		if err := p.liveness.SetProgress(ctx, r.RecorderId, 1); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("recorder_id", r.RecorderId).Msg("failed to record progress")
		}
		metrics.RecordAssign("assigned")
		p.refreshGauges(ctx)
		zerolog.Ctx(ctx).Info().Str("recorder_id", r.RecorderId).Str("room_id", roomId).Msg("recorder assigned")
		return r.RecorderId, true, nil
	}

	metrics.RecordAssign("exhausted")
	zerolog.Ctx(ctx).Warn().Str("room_id", roomId).Msg("no free recorder")
	return "", false, nil
}

func (p *poolManager) Release(ctx context.Context, roomId string) error {
	recorder, err := p.repo.FindRecorderByRoom(ctx, roomId)
	if errors.Is(err, repository.ErrNotFound) {
		zerolog.Ctx(ctx).Warn().Str("room_id", roomId).Msg("release requested for room without recorder")
		return ErrRecorderNotFound
	}
	if err != nil {
		return err
	}

	if err := p.repo.ReleaseRecorder(ctx, recorder.RecorderId); err != nil {
		return err
	}
	if err := p.liveness.SetProgress(ctx, recorder.RecorderId, 0); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("recorder_id", recorder.RecorderId).Msg("failed to reset progress")
	}
	p.armPing(recorder.RecorderId)
	p.refreshGauges(ctx)

	zerolog.Ctx(ctx).Info().Str("recorder_id", recorder.RecorderId).Str("room_id", roomId).Msg("recorder released")
	return nil
}

func (p *poolManager) Stop() {
	p.heartbeats.StopAll()
}

// addAvailableRecorder seeds the liveness record and starts the ping.
func (p *poolManager) addAvailableRecorder(ctx context.Context, recorderId string) error {
	if err := p.liveness.Seed(ctx, recorderId); err != nil && !errors.Is(err, coordination.ErrConflict) {
		return err
	}
	p.armPing(recorderId)
	return nil
}

func (p *poolManager) armPing(recorderId string) {
	p.mu.Lock()
	runCtx := p.runCtx
	p.mu.Unlock()

	log := zerolog.Ctx(runCtx).With().Str("recorder_id", recorderId).Logger()
	p.heartbeats.Start(log.WithContext(runCtx), recorderId, func(ctx context.Context) error {
		return p.ping(ctx, recorderId)
	})
}

// ping is one liveness tick. A lost optimistic lock skips the tick silently.
func (p *poolManager) ping(ctx context.Context, recorderId string) error {
	err := p.liveness.Ping(ctx, recorderId)
	switch {
	case err == nil:
		metrics.RecordLivenessPing("ok")
		return nil
	case errors.Is(err, coordination.ErrConflict):
		metrics.RecordLivenessPing("conflict")
		zerolog.Ctx(ctx).Debug().Msg("liveness ping skipped, concurrent writer")
		return nil
	case errors.Is(err, coordination.ErrMissing):
		metrics.RecordLivenessPing("error")
		return p.liveness.Seed(ctx, recorderId)
	default:
		metrics.RecordLivenessPing("error")
		return err
	}
}

func (p *poolManager) refreshGauges(ctx context.Context) {
	recorders, err := p.repo.ListRecorders(ctx)
	if err != nil {
		return
	}
	busy := 0
	for _, r := range recorders {
		if r.IsRecording {
			busy++
		}
	}
	metrics.SetPoolSize(len(recorders))
	metrics.SetPoolBusy(busy)
}
