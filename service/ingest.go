package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"os"
	"path/filepath"
	"recording-orchestrator/constant"
	"recording-orchestrator/dto"
	"recording-orchestrator/entities"
	"recording-orchestrator/metrics"
	"recording-orchestrator/pkg/retry"
	"recording-orchestrator/repository"
	"strconv"
	"strings"
	"time"
)

// ErrNonRetryable marks a job failure that redelivery cannot fix. The job is
// recorded as FAILED and the message is acknowledged.
var ErrNonRetryable = errors.New("non-retryable error")

type IngestOptions struct {
	Workflow     string
	MaxAttempts  int
	PollInterval time.Duration
	MaxPolls     int
	RetryPolicy  retry.Policy
}

func DefaultIngestOptions() IngestOptions {
	return IngestOptions{
		Workflow:     "schedule-and-upload",
		MaxAttempts:  5,
		PollInterval: 5 * time.Second,
		MaxPolls:     60,
		RetryPolicy:  retry.DefaultPolicy,
	}
}

// IngestService processes the two queue stages of an upload job.
type IngestService interface {
	// Prepare claims the recordings, readies the media event and enqueues the attach stage.
	Prepare(ctx context.Context, msg dto.UploadJobMessage) error
	// Attach waits for the event to be UPLOADING, uploads the tracks and triggers ingestion.
	Attach(ctx context.Context, msg dto.AttachJobMessage) error
	// Fail records a terminal failure once the queue has given up on a job.
	Fail(ctx context.Context, jobId uuid.UUID, cause error) error
}

type ingestRepo interface {
	repository.UploadJobRepository
	repository.EgressRepository
}

type ingestService struct {
	repo      ingestRepo
	media     MediaEventManager
	api       MediaAPI
	publisher JobPublisher
	archiver  Archiver
	opts      IngestOptions
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewIngestService(repo ingestRepo, media MediaEventManager, api MediaAPI, publisher JobPublisher, archiver Archiver, opts IngestOptions) IngestService {
	return &ingestService{
		repo:      repo,
		media:     media,
		api:       api,
		publisher: publisher,
		archiver:  archiver,
		opts:      opts,
		sleep:     sleepCtx,
	}
}

// begin loads the job row and counts the attempt. ok=false means the job must not run.
func (s *ingestService) begin(ctx context.Context, jobId uuid.UUID) (bool, error) {
	job, err := s.repo.FindUploadJob(ctx, jobId)
	if errors.Is(err, repository.ErrNotFound) {
		zerolog.Ctx(ctx).Warn().Msg("upload job record missing, dropping message")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if job.Status == constant.JobStatusCompleted || job.Status == constant.JobStatusFailed {
		zerolog.Ctx(ctx).Info().Str("status", string(job.Status)).Msg("job already finished")
		return false, nil
	}

	attempts, err := s.repo.IncrementUploadJobAttempts(ctx, jobId)
	if err != nil {
		return false, err
	}
	if s.opts.MaxAttempts > 0 && attempts > s.opts.MaxAttempts {
		zerolog.Ctx(ctx).Error().Int("attempts", attempts).Msg("job exceeded attempt ceiling")
		return false, s.Fail(ctx, jobId, fmt.Errorf("exceeded %d attempts", s.opts.MaxAttempts))
	}
	if err := s.repo.UpdateUploadJob(ctx, jobId, constant.JobStatusProcessing, ""); err != nil {
		return false, err
	}
	return true, nil
}

// finish applies the job-level error policy of one stage run.
func (s *ingestService) finish(ctx context.Context, stage constant.JobType, jobId uuid.UUID, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNonRetryable) {
		if failErr := s.Fail(ctx, jobId, err); failErr != nil {
			zerolog.Ctx(ctx).Error().Err(failErr).Msg("failed to update job status")
		}
		return nil
	}
	metrics.RecordJob(string(stage), "retry")
	if updateErr := s.repo.UpdateUploadJob(ctx, jobId, constant.JobStatusPending, err.Error()); updateErr != nil {
		zerolog.Ctx(ctx).Error().Err(updateErr).Msg("failed to update job status")
	}
	return err
}

func (s *ingestService) Prepare(ctx context.Context, msg dto.UploadJobMessage) (err error) {
	log := zerolog.Ctx(ctx).With().
		Str("job_id", msg.JobId.String()).
		Str("recorder_id", msg.Recorder).
		Str("room_id", msg.Conference.RoomId).
		Logger()
	ctx = log.WithContext(ctx)
	log.Info().Int("recordings", len(msg.Recordings)).Msg("preparing upload job")

	ok, err := s.begin(ctx, msg.JobId)
	if err != nil || !ok {
		return err
	}
	defer func() {
		err = s.finish(ctx, constant.JobTypePrepare, msg.JobId, err)
	}()

	basePath := msg.BasePath
	if msg.Type == constant.RecorderTypeRoomComposite {
		if basePath, err = claimDirectory(basePath, claimTag(msg)); err != nil {
			log.Error().Err(err).Str("path", msg.BasePath).Msg("failed to claim recording directory")
			return errors.Join(ErrNonRetryable, err)
		}
	}

	window := RecordingWindow{
		Conference: msg.Conference,
		RecorderId: msg.Recorder,
		Type:       msg.Type,
		Start:      time.Unix(msg.Started, 0),
	}
	if msg.Ended > 0 {
		window.End = time.Unix(msg.Ended, 0)
	}
	event, err := s.media.PrepareUpload(ctx, window, msg.EventId)
	if err != nil {
		log.Error().Err(err).Msg("failed to prepare media event")
		return err
	}

	attach := dto.AttachJobMessage{
		JobId:        msg.JobId,
		Type:         msg.Type,
		EventId:      event.EventId,
		MediaPackage: event.MediaPackage,
		Recordings:   msg.Recordings,
		Conference:   msg.Conference,
		Recorder:     msg.Recorder,
		BasePath:     basePath,
	}
	if err := s.publisher.PublishAttachJob(ctx, attach); err != nil {
		return fmt.Errorf("publish attach job: %w", err)
	}

	metrics.RecordJob(string(constant.JobTypePrepare), "success")
	log.Info().Str("event_id", event.EventId).Msg("upload job prepared")
	return nil
}

func (s *ingestService) Attach(ctx context.Context, msg dto.AttachJobMessage) (err error) {
	log := zerolog.Ctx(ctx).With().
		Str("job_id", msg.JobId.String()).
		Str("event_id", msg.EventId).
		Str("recorder_id", msg.Recorder).
		Logger()
	ctx = log.WithContext(ctx)

	ok, err := s.begin(ctx, msg.JobId)
	if err != nil || !ok {
		return err
	}
	defer func() {
		err = s.finish(ctx, constant.JobTypeAttach, msg.JobId, err)
	}()

	event, err := s.awaitUploading(ctx, msg.EventId)
	if err != nil {
		return err
	}
	if event == nil {
		log.Error().Int("polls", s.opts.MaxPolls).Msg("event never reached uploading, abandoning job")
		return errors.Join(ErrNonRetryable, fmt.Errorf("event %s not uploading after %d polls", msg.EventId, s.opts.MaxPolls))
	}

	mediaPackage := msg.MediaPackage
	var uploaded []string
	for _, rec := range msg.Recordings {
		path := filepath.Join(msg.BasePath, rec.FileName)
		if _, statErr := os.Stat(path); statErr != nil {
			metrics.RecordTrack("skipped")
			log.Warn().Err(statErr).Str("file", rec.FileName).Msg("recording missing on disk, skipping")
			continue
		}

		flavor := fmt.Sprintf("presenter-%d/source", len(uploaded))
		mediaPackage, err = retry.Do(ctx, s.opts.RetryPolicy, "ingest.addTrack", func(ctx context.Context) (string, error) {
			return s.api.AddTrack(ctx, mediaPackage, flavor, path)
		})
		if err != nil {
			metrics.RecordTrack("failure")
			log.Error().Err(err).Str("file", rec.FileName).Msg("failed to upload track")
			return fmt.Errorf("add track %s: %w", rec.FileName, err)
		}
		metrics.RecordTrack("uploaded")
		uploaded = append(uploaded, path)
	}

	if len(uploaded) == 0 {
		if err := s.media.UploadError(ctx, event); err != nil {
			return err
		}
		metrics.RecordJob(string(constant.JobTypeAttach), "empty")
		log.Warn().Msg("no recordings uploaded")
		return errors.Join(ErrNonRetryable, errors.New("no recordings on disk"))
	}

	_, err = retry.Do(ctx, s.opts.RetryPolicy, "ingest.ingest", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.api.Ingest(ctx, mediaPackage, s.opts.Workflow)
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to trigger ingestion")
		return fmt.Errorf("ingest: %w", err)
	}
	if err := s.media.UploadFinished(ctx, event); err != nil {
		return err
	}

	if msg.Type == constant.RecorderTypeRoomComposite && msg.Conference.RoomId != "" {
		if err := s.repo.MarkEgressFilesUploaded(ctx, msg.Conference.RoomId, msg.Recorder); err != nil {
			log.Warn().Err(err).Msg("failed to flag egress files uploaded")
		}
	}
	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, msg.Conference, uploaded); err != nil {
			log.Warn().Err(err).Msg("failed to archive recordings")
		}
	}
	if err := s.repo.UpdateUploadJob(ctx, msg.JobId, constant.JobStatusCompleted, ""); err != nil {
		log.Error().Err(err).Msg("failed to complete job")
	}

	metrics.RecordJob(string(constant.JobTypeAttach), "success")
	log.Info().Int("tracks", len(uploaded)).Msg("recordings ingested")
	return nil
}

// awaitUploading polls the event until it is UPLOADING. A nil event means the poll bound was hit.
func (s *ingestService) awaitUploading(ctx context.Context, eventId string) (*entities.MediaEvent, error) {
	for i := 0; i < s.opts.MaxPolls; i++ {
		event, err := s.media.FindByEventId(ctx, eventId)
		switch {
		case errors.Is(err, ErrEventNotFound):
			return nil, errors.Join(ErrNonRetryable, err)
		case err != nil:
			return nil, err
		case event.RecordingState == constant.RecordingStateUploading:
			return event, nil
		}

		if i < s.opts.MaxPolls-1 {
			if err := s.sleep(ctx, s.opts.PollInterval); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

func (s *ingestService) Fail(ctx context.Context, jobId uuid.UUID, cause error) error {
	metrics.RecordJob("job", "failed")
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	zerolog.Ctx(ctx).Error().Str("job_id", jobId.String()).Str("reason", reason).Msg("upload job failed permanently")
	err := s.repo.UpdateUploadJob(ctx, jobId, constant.JobStatusFailed, reason)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}

// claimDirectory moves dir to a processing name unique to one job, so the room
// directory is free again for the next recording. A target that already exists
// belongs to a redelivered job and is reused.
func claimDirectory(dir string, tag string) (string, error) {
	dir = filepath.Clean(dir)
	if strings.HasSuffix(dir, constant.ProcessingSuffix) {
		return dir, nil
	}
	processing := claimedPath(dir, tag)
	if info, err := os.Stat(processing); err == nil && info.IsDir() {
		return processing, nil
	}
	if err := os.Rename(dir, processing); err != nil {
		return "", err
	}
	return processing, nil
}

func claimedPath(dir string, tag string) string {
	return fmt.Sprintf("%s_%s%s", filepath.Clean(dir), tag, constant.ProcessingSuffix)
}

// claimTag is the first recording timestamp, which also keys the job in discovery.
func claimTag(msg dto.UploadJobMessage) string {
	if msg.Started > 0 {
		return strconv.FormatInt(msg.Started, 10)
	}
	return msg.JobId.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
