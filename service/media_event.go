package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"recording-orchestrator/constant"
	"recording-orchestrator/dto"
	"recording-orchestrator/entities"
	"recording-orchestrator/metrics"
	"recording-orchestrator/pkg/retry"
	"recording-orchestrator/repository"
	"time"
)

var ErrEventNotFound = errors.New("media event not found")

const (
	flavorEpisodeCatalog = "dublincore/episode"
	flavorEpisodeACL     = "security/xacml+episode"
)

type MediaEventOptions struct {
	AgentPrefix     string
	Workflow        string
	ACLRoles        []string
	DefaultDuration time.Duration
	SeriesCacheTTL  time.Duration
	RetryPolicy     retry.Policy
}

func DefaultMediaEventOptions() MediaEventOptions {
	return MediaEventOptions{
		AgentPrefix:     "recorder-",
		Workflow:        "schedule-and-upload",
		ACLRoles:        []string{"ROLE_ADMIN"},
		DefaultDuration: 4 * time.Hour,
		SeriesCacheTTL:  10 * time.Minute,
		RetryPolicy:     retry.DefaultPolicy,
	}
}

// RecordingWindow identifies what is being recorded and when.
type RecordingWindow struct {
	Conference entities.ConferenceSession
	RecorderId string
	Type       constant.RecorderType
	Start      time.Time
	End        time.Time
}

// MediaEventManager owns MediaEvent transitions. Every transition performs its
// external call first; local state only changes when that call succeeded.
type MediaEventManager interface {
	RecordingSink
	StartRecording(ctx context.Context, window RecordingWindow) (*entities.MediaEvent, error)
	CreateOrReuse(ctx context.Context, window RecordingWindow) (*entities.MediaEvent, error)
	SetCapturing(ctx context.Context, event *entities.MediaEvent) error
	CaptureFinished(ctx context.Context, event *entities.MediaEvent) error
	Uploading(ctx context.Context, event *entities.MediaEvent) error
	UploadFinished(ctx context.Context, event *entities.MediaEvent) error
	UploadError(ctx context.Context, event *entities.MediaEvent) error
	// PrepareUpload resolves series and media package for an ingestion job.
	PrepareUpload(ctx context.Context, window RecordingWindow, eventId string) (*entities.MediaEvent, error)
	ResolveSeries(ctx context.Context, title string) (string, error)
	FindByEventId(ctx context.Context, eventId string) (*entities.MediaEvent, error)
}

type mediaEventRepo interface {
	repository.MediaEventRepository
	repository.ConferenceRepository
}

type mediaEventManager struct {
	repo   mediaEventRepo
	api    MediaAPI
	opts   MediaEventOptions
	series *ttlcache.Cache[string, string]
	now    func() time.Time
}

func NewMediaEventManager(repo mediaEventRepo, api MediaAPI, opts MediaEventOptions) MediaEventManager {
	return &mediaEventManager{
		repo: repo,
		api:  api,
		opts: opts,
		series: ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](opts.SeriesCacheTTL),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
		now: time.Now,
	}
}

func (m *mediaEventManager) agent(recorderId string) string {
	return m.opts.AgentPrefix + recorderId
}

func (m *mediaEventManager) StartRecording(ctx context.Context, window RecordingWindow) (*entities.MediaEvent, error) {
	event, err := m.CreateOrReuse(ctx, window)
	if err != nil {
		return nil, err
	}
	if err := m.SetCapturing(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (m *mediaEventManager) CreateOrReuse(ctx context.Context, window RecordingWindow) (*entities.MediaEvent, error) {
	if window.End.IsZero() || !window.End.After(window.Start) {
		window.End = window.Start.Add(m.opts.DefaultDuration)
	}
	log := zerolog.Ctx(ctx).With().
		Str("room_sid", window.Conference.RoomSid).
		Str("recorder_id", window.RecorderId).
		Logger()

	existing, err := m.repo.FindScheduledMediaEvent(ctx, window.Conference.RoomSid, window.RecorderId)
	switch {
	case err == nil:
		return m.reschedule(ctx, existing, window.End)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	event := &entities.MediaEvent{
		EventId:        uuid.NewString(),
		RoomSid:        window.Conference.RoomSid,
		RecorderId:     window.RecorderId,
		Title:          eventTitle(window.Conference),
		Start:          window.Start,
		End:            window.End,
		AgentState:     constant.AgentStateIdle,
		RecordingState: constant.RecordingStateCapturing,
		Type:           window.Type,
	}
	if err := m.buildMediaPackage(ctx, event); err != nil {
		metrics.RecordMediaEventTransition("create", "failure")
		return nil, err
	}

	err = m.call(ctx, "scheduler.schedule", func(ctx context.Context) error {
		catalog, err := m.catalog(event)
		if err != nil {
			return retry.ClientSide("scheduler.schedule", err)
		}
		return m.api.Schedule(ctx, ScheduleRequest{
			EventId:      event.EventId,
			MediaPackage: event.MediaPackage,
			Catalog:      catalog,
			Agent:        m.agent(event.RecorderId),
			Start:        event.Start,
			End:          event.End,
			Workflow:     m.opts.Workflow,
		})
	})
	if err != nil {
		metrics.RecordMediaEventTransition("create", "failure")
		return nil, fmt.Errorf("schedule event: %w", err)
	}

	if err := m.repo.SaveMediaEvent(ctx, event); err != nil {
		return nil, err
	}
	metrics.RecordMediaEventTransition("create", "success")
	log.Info().Str("event_id", event.EventId).Msg("media event scheduled")
	return event, nil
}

// reschedule extends an existing event instead of creating a new one.
func (m *mediaEventManager) reschedule(ctx context.Context, event *entities.MediaEvent, end time.Time) (*entities.MediaEvent, error) {
	if end.After(event.End) {
		err := m.call(ctx, "scheduler.update", func(ctx context.Context) error {
			return m.api.UpdateSchedule(ctx, event.EventId, event.Start, end)
		})
		if err != nil {
			metrics.RecordMediaEventTransition("reschedule", "failure")
			return nil, fmt.Errorf("reschedule event: %w", err)
		}
		event.End = end
	}
	if err := m.repo.SaveMediaEvent(ctx, event); err != nil {
		return nil, err
	}
	metrics.RecordMediaEventTransition("reschedule", "success")
	zerolog.Ctx(ctx).Info().Str("event_id", event.EventId).Time("end", event.End).Msg("media event reused")
	return event, nil
}

// buildMediaPackage creates the package, attaches the episode catalog and the ACL.
func (m *mediaEventManager) buildMediaPackage(ctx context.Context, event *entities.MediaEvent) error {
	seriesId, err := m.ResolveSeries(ctx, event.Title)
	if err != nil {
		return err
	}
	event.SeriesId = seriesId

	catalog, err := m.catalog(event)
	if err != nil {
		return err
	}
	acl, err := m.api.ACL(ctx, m.opts.ACLRoles)
	if err != nil {
		return fmt.Errorf("build acl: %w", err)
	}

	mp, err := retry.Do(ctx, m.opts.RetryPolicy, "ingest.createMediaPackage", func(ctx context.Context) (string, error) {
		return m.api.CreateMediaPackage(ctx, event.EventId)
	})
	if err != nil {
		return fmt.Errorf("create media package: %w", err)
	}
	mp, err = retry.Do(ctx, m.opts.RetryPolicy, "ingest.addCatalog", func(ctx context.Context) (string, error) {
		return m.api.AddCatalog(ctx, mp, flavorEpisodeCatalog, catalog)
	})
	if err != nil {
		return fmt.Errorf("attach catalog: %w", err)
	}
	mp, err = retry.Do(ctx, m.opts.RetryPolicy, "ingest.addAttachment", func(ctx context.Context) (string, error) {
		return m.api.AddAttachment(ctx, mp, flavorEpisodeACL, "xacml-episode.xml", acl)
	})
	if err != nil {
		return fmt.Errorf("attach acl: %w", err)
	}
	event.MediaPackage = mp
	return nil
}

func (m *mediaEventManager) catalog(event *entities.MediaEvent) (string, error) {
	return episodeCatalog(event.EventId, event.Title, event.SeriesId, m.agent(event.RecorderId), event.RoomSid, event.Start, event.End)
}

func (m *mediaEventManager) SetCapturing(ctx context.Context, event *entities.MediaEvent) error {
	return m.transition(ctx, event, constant.RecordingStateCapturing, constant.AgentStateCapturing)
}

func (m *mediaEventManager) CaptureFinished(ctx context.Context, event *entities.MediaEvent) error {
	return m.transition(ctx, event, constant.RecordingStateCaptureFinished, constant.AgentStateIdle)
}

func (m *mediaEventManager) Uploading(ctx context.Context, event *entities.MediaEvent) error {
	return m.transition(ctx, event, constant.RecordingStateUploading, "")
}

func (m *mediaEventManager) UploadFinished(ctx context.Context, event *entities.MediaEvent) error {
	return m.transition(ctx, event, constant.RecordingStateUploadFinished, "")
}

func (m *mediaEventManager) UploadError(ctx context.Context, event *entities.MediaEvent) error {
	return m.transition(ctx, event, constant.RecordingStateUploadError, "")
}

// transition performs the external state calls and then persists. agent="" leaves the agent state alone.
func (m *mediaEventManager) transition(ctx context.Context, event *entities.MediaEvent, state constant.RecordingState, agent constant.AgentState) error {
	if event.EventId == "" {
		return ErrEventNotFound
	}
	log := zerolog.Ctx(ctx).With().Str("event_id", event.EventId).Str("recording_state", string(state)).Logger()

	err := m.call(ctx, "capture-admin.recording", func(ctx context.Context) error {
		return m.api.SetRecordingState(ctx, event.EventId, string(state))
	})
	if err != nil {
		metrics.RecordMediaEventTransition(string(state), "failure")
		log.Error().Err(err).Msg("failed to set recording state")
		return fmt.Errorf("set recording state %s: %w", state, err)
	}
	if agent != "" {
		err := m.call(ctx, "capture-admin.agent", func(ctx context.Context) error {
			return m.api.SetAgentState(ctx, m.agent(event.RecorderId), string(agent))
		})
		if err != nil {
			metrics.RecordMediaEventTransition(string(state), "failure")
			log.Error().Err(err).Msg("failed to set agent state")
			return fmt.Errorf("set agent state %s: %w", agent, err)
		}
	}

	next := *event
	next.RecordingState = state
	if agent != "" {
		next.AgentState = agent
	}
	if err := m.repo.SaveMediaEvent(ctx, &next); err != nil {
		return err
	}
	*event = next
	metrics.RecordMediaEventTransition(string(state), "success")
	log.Info().Msg("media event advanced")
	return nil
}

func (m *mediaEventManager) RecordingStopped(ctx context.Context, roomId string, recorderId string, files []dto.FileResult) error {
	conference, err := m.repo.FindLatestConference(ctx, roomId)
	if errors.Is(err, repository.ErrNotFound) {
		zerolog.Ctx(ctx).Warn().Str("room_id", roomId).Msg("stopped recording has no conference")
		return ErrEventNotFound
	}
	if err != nil {
		return err
	}
	event, err := m.repo.FindScheduledMediaEvent(ctx, conference.RoomSid, recorderId)
	if errors.Is(err, repository.ErrNotFound) {
		zerolog.Ctx(ctx).Warn().Str("room_id", roomId).Str("recorder_id", recorderId).Msg("stopped recording has no media event")
		return ErrEventNotFound
	}
	if err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("event_id", event.EventId).
		Int("files", len(files)).
		Msg("recording stopped, capture finished")
	if event.RecordingState != constant.RecordingStateCapturing {
		return nil
	}
	return m.CaptureFinished(ctx, event)
}

func (m *mediaEventManager) PrepareUpload(ctx context.Context, window RecordingWindow, eventId string) (*entities.MediaEvent, error) {
	var (
		event *entities.MediaEvent
		err   error
	)
	if eventId != "" {
		event, err = m.repo.FindMediaEventByEventId(ctx, eventId)
	} else {
		event, err = m.repo.FindScheduledMediaEvent(ctx, window.Conference.RoomSid, window.RecorderId)
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		// recordings without a scheduled event still get one
		if event, err = m.CreateOrReuse(ctx, window); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	if event.SeriesId == "" {
		if event.SeriesId, err = m.ResolveSeries(ctx, event.Title); err != nil {
			return nil, err
		}
	}
	if event.MediaPackage == "" {
		if err := m.buildMediaPackage(ctx, event); err != nil {
			return nil, err
		}
		if err := m.repo.SaveMediaEvent(ctx, event); err != nil {
			return nil, err
		}
	}
	if err := m.Uploading(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// ResolveSeries is get-or-create by title.
func (m *mediaEventManager) ResolveSeries(ctx context.Context, title string) (string, error) {
	if item := m.series.Get(title); item != nil {
		return item.Value(), nil
	}

	id, err := retry.Do(ctx, m.opts.RetryPolicy, "series.find", func(ctx context.Context) (string, error) {
		return m.api.FindSeries(ctx, title)
	})
	if err != nil {
		return "", fmt.Errorf("find series: %w", err)
	}
	if id == "" {
		acl, err := m.api.ACL(ctx, m.opts.ACLRoles)
		if err != nil {
			return "", fmt.Errorf("build acl: %w", err)
		}
		id, err = retry.Do(ctx, m.opts.RetryPolicy, "series.create", func(ctx context.Context) (string, error) {
			return m.api.CreateSeries(ctx, title, acl)
		})
		if err != nil {
			return "", fmt.Errorf("create series: %w", err)
		}
		zerolog.Ctx(ctx).Info().Str("series_id", id).Str("title", title).Msg("series created")
	}

	m.series.Set(title, id, ttlcache.DefaultTTL)
	return id, nil
}

func (m *mediaEventManager) FindByEventId(ctx context.Context, eventId string) (*entities.MediaEvent, error) {
	event, err := m.repo.FindMediaEventByEventId(ctx, eventId)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrEventNotFound
	}
	return event, err
}

func (m *mediaEventManager) call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	_, err := retry.Do(ctx, m.opts.RetryPolicy, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func eventTitle(conference entities.ConferenceSession) string {
	if conference.Title != "" {
		return conference.Title
	}
	return conference.RoomId
}
