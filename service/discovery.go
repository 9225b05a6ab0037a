package service

import (
	"context"
	"errors"
	"fmt"
	mapset "github.com/deckarep/golang-set/v2"
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
	"sort"
	"strings"
	"time"
)

// applianceDir is the sub-directory of the recordings base path holding one folder per device.
const applianceDir = "appliances"

type DiscoveryOptions struct {
	BasePath       string
	ApplianceSlack time.Duration
	Devices        []string
	RetryPolicy    retry.Policy
}

// DiscoveryService finds finished recordings on disk and enqueues upload jobs for them.
type DiscoveryService interface {
	// Discover runs one pass and returns the number of jobs enqueued.
	Discover(ctx context.Context) (int, error)
	// SyncAppliances downloads archived files that are not on disk yet.
	SyncAppliances(ctx context.Context) error
}

type discoveryRepo interface {
	repository.ConferenceRepository
	repository.EgressRepository
	repository.MediaEventRepository
	repository.UploadJobRepository
}

type discoveryService struct {
	repo       discoveryRepo
	rooms      ConferenceAPI
	appliances ApplianceAPI
	publisher  JobPublisher
	opts       DiscoveryOptions
}

func NewDiscoveryService(repo discoveryRepo, rooms ConferenceAPI, appliances ApplianceAPI, publisher JobPublisher, opts DiscoveryOptions) DiscoveryService {
	return &discoveryService{
		repo:       repo,
		rooms:      rooms,
		appliances: appliances,
		publisher:  publisher,
		opts:       opts,
	}
}

func (d *discoveryService) Discover(ctx context.Context) (int, error) {
	var errs []error

	rooms, err := d.discoverRooms(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("room recordings: %w", err))
	}
	devices, err := d.discoverAppliances(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("appliance recordings: %w", err))
	}

	if total := rooms + devices; total > 0 {
		zerolog.Ctx(ctx).Info().Int("rooms", rooms).Int("appliances", devices).Msg("upload jobs enqueued")
	}
	return rooms + devices, errors.Join(errs...)
}

func (d *discoveryService) discoverRooms(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(d.opts.BasePath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	active, err := retry.Do(ctx, d.opts.RetryPolicy, "room.list", func(ctx context.Context) ([]dto.RoomInfo, error) {
		return d.rooms.ActiveRooms(ctx)
	})
	if err != nil {
		// without the active list a live room could be picked up mid-recording
		return 0, fmt.Errorf("list active rooms: %w", err)
	}
	activeIds := mapset.NewThreadUnsafeSet[string]()
	for _, room := range active {
		activeIds.Add(room.RoomId)
	}

	enqueued := 0
	for _, entry := range entries {
		roomId := entry.Name()
		if !entry.IsDir() || roomId == applianceDir || strings.HasSuffix(roomId, constant.ProcessingSuffix) {
			continue
		}
		if activeIds.Contains(roomId) {
			continue
		}

		log := zerolog.Ctx(ctx).With().Str("room_id", roomId).Logger()
		dir := filepath.Join(d.opts.BasePath, roomId)
		recordings, err := listRecordings(dir)
		if err != nil {
			log.Error().Err(err).Msg("failed to list room recordings")
			continue
		}
		if len(recordings) == 0 {
			continue
		}

		conference := d.conferenceForRoom(ctx, roomId, recordings[0].Started)
		recorderId := roomId
		if session, err := d.repo.FindLatestEgressSessionForRoom(ctx, roomId); err == nil {
			recorderId = session.RecorderId
		}

		msg := dto.UploadJobMessage{
			Type:       constant.RecorderTypeRoomComposite,
			Recordings: recordings,
			Conference: conference,
			Recorder:   recorderId,
			Started:    recordings[0].Started,
			Ended:      recordings[len(recordings)-1].Started,
			BasePath:   dir,
		}
		key := fmt.Sprintf("room:%s:%d", roomId, recordings[0].Started)
		ok, err := d.enqueue(log.WithContext(ctx), key, msg)
		if err != nil {
			log.Error().Err(err).Msg("failed to enqueue room upload job")
			continue
		}
		if ok {
			enqueued++
		}
	}
	return enqueued, nil
}

func (d *discoveryService) discoverAppliances(ctx context.Context) (int, error) {
	enqueued := 0
	for _, deviceId := range d.opts.Devices {
		log := zerolog.Ctx(ctx).With().Str("device_id", deviceId).Logger()
		dir := filepath.Join(d.opts.BasePath, applianceDir, deviceId)

		recordings, err := listRecordings(dir)
		if err != nil {
			log.Error().Err(err).Msg("failed to list appliance recordings")
			continue
		}
		if len(recordings) == 0 {
			continue
		}

		events, err := d.repo.ListMediaEventsByRecorder(ctx, deviceId, constant.RecordingStateCaptureFinished)
		if err != nil {
			return enqueued, err
		}
		for _, event := range events {
			matched := d.matchWindow(recordings, event)
			if len(matched) == 0 {
				continue
			}

			conference := d.conferenceForEvent(ctx, event)
			msg := dto.UploadJobMessage{
				Type:       constant.RecorderTypeAppliance,
				Recordings: matched,
				Conference: conference,
				Recorder:   deviceId,
				EventId:    event.EventId,
				Started:    matched[0].Started,
				Ended:      event.End.Unix(),
				BasePath:   dir,
			}
			key := fmt.Sprintf("appliance:%s:%s", deviceId, event.EventId)
			elog := log.With().Str("event_id", event.EventId).Logger()
			ok, err := d.enqueue(elog.WithContext(ctx), key, msg)
			if err != nil {
				elog.Error().Err(err).Msg("failed to enqueue appliance upload job")
				continue
			}
			if ok {
				enqueued++
			}
		}
	}
	return enqueued, nil
}

// matchWindow keeps the recordings whose start falls inside the event window, end extended by the slack.
func (d *discoveryService) matchWindow(recordings []dto.Recording, event *entities.MediaEvent) []dto.Recording {
	from := event.Start.Unix()
	to := event.End.Add(d.opts.ApplianceSlack).Unix()

	var matched []dto.Recording
	for _, r := range recordings {
		if r.Started >= from && r.Started <= to {
			matched = append(matched, r)
		}
	}
	return matched
}

// enqueue records the job under key and publishes it. It reports false when the key was already known.
func (d *discoveryService) enqueue(ctx context.Context, key string, msg dto.UploadJobMessage) (bool, error) {
	job := &entities.UploadJob{
		ID:     uuid.New(),
		Key:    key,
		Type:   msg.Type,
		Status: constant.JobStatusPending,
	}
	err := d.repo.CreateUploadJob(ctx, job)
	if errors.Is(err, repository.ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	msg.JobId = job.ID
	if err := d.publisher.PublishUploadJob(ctx, msg); err != nil {
		// drop the record so the next pass can try again
		if delErr := d.repo.DeleteUploadJob(ctx, job.ID); delErr != nil {
			zerolog.Ctx(ctx).Error().Err(delErr).Str("job_id", job.ID.String()).Msg("failed to drop unpublished job")
		}
		metrics.RecordJob("discover", "failure")
		return false, err
	}

	metrics.RecordJob("discover", "enqueued")
	zerolog.Ctx(ctx).Info().
		Str("job_id", job.ID.String()).
		Int("recordings", len(msg.Recordings)).
		Int64("started", msg.Started).
		Msg("upload job enqueued")
	return true, nil
}

func (d *discoveryService) conferenceForRoom(ctx context.Context, roomId string, started int64) entities.ConferenceSession {
	if conference, err := d.repo.FindLatestConference(ctx, roomId); err == nil {
		return *conference
	}
	return entities.ConferenceSession{RoomId: roomId, Started: time.Unix(started, 0)}
}

func (d *discoveryService) conferenceForEvent(ctx context.Context, event *entities.MediaEvent) entities.ConferenceSession {
	if conference, err := d.repo.FindConferenceBySid(ctx, event.RoomSid); err == nil {
		return *conference
	}
	return entities.ConferenceSession{RoomSid: event.RoomSid, Title: event.Title, Started: event.Start}
}

func (d *discoveryService) SyncAppliances(ctx context.Context) error {
	var errs []error
	for _, deviceId := range d.opts.Devices {
		log := zerolog.Ctx(ctx).With().Str("device_id", deviceId).Logger()
		dir := filepath.Join(d.opts.BasePath, applianceDir, deviceId)
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			errs = append(errs, err)
			continue
		}

		files, err := retry.Do(ctx, d.opts.RetryPolicy, "appliance.archive", func(ctx context.Context) ([]dto.ArchiveFile, error) {
			return d.appliances.ListArchive(ctx, deviceId)
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to list appliance archive")
			errs = append(errs, fmt.Errorf("%s: %w", deviceId, err))
			continue
		}

		for _, file := range files {
			dest := filepath.Join(dir, archiveFileName(deviceId, file))
			if _, err := os.Stat(dest); err == nil {
				continue
			}
			_, err := retry.Do(ctx, d.opts.RetryPolicy, "appliance.download", func(ctx context.Context) (struct{}, error) {
				return struct{}{}, d.appliances.DownloadArchive(ctx, deviceId, file, dest)
			})
			if err != nil {
				log.Warn().Err(err).Str("file", file.Name).Msg("failed to download archived file")
				errs = append(errs, fmt.Errorf("%s/%s: %w", deviceId, file.Name, err))
				continue
			}
			log.Info().Str("file", file.Name).Int64("size", file.Size).Msg("archived file downloaded")
		}
	}
	return errors.Join(errs...)
}

// archiveFileName keeps the device name when it already carries a timestamp, otherwise stamps it with the creation time.
func archiveFileName(deviceId string, file dto.ArchiveFile) string {
	name := filepath.Base(file.Name)
	if _, ok := ParseRecordingTimestamp(name); ok {
		return name
	}
	return fmt.Sprintf("%s-%d%s", deviceId, file.Created.Unix(), filepath.Ext(name))
}

// listRecordings returns the files of dir ordered by their embedded start time.
// Files without a timestamp in their name fall back to the modification time.
func listRecordings(dir string) ([]dto.Recording, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var recordings []dto.Recording
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		started, ok := ParseRecordingTimestamp(entry.Name())
		if !ok {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			started = info.ModTime().Unix()
		}
		recordings = append(recordings, dto.Recording{FileName: entry.Name(), Started: started})
	}

	sort.SliceStable(recordings, func(i, j int) bool {
		return recordings[i].Started < recordings[j].Started
	})
	return recordings, nil
}
