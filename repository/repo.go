package repository

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"recording-orchestrator/constant"
	"recording-orchestrator/entities"
	"time"
)

var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a unique key already exists.
var ErrDuplicate = errors.New("record already exists")

type RecorderRepository interface {
	ListRecorders(ctx context.Context) ([]*entities.Recorder, error)
	CreateRecorder(ctx context.Context, recorder *entities.Recorder) error
	DeleteRecorder(ctx context.Context, recorderId string) error
	// ClaimRecorder flips an idle recorder to recording for roomId. It reports false when another caller won.
	ClaimRecorder(ctx context.Context, recorderId string, roomId string) (bool, error)
	FindRecorderByRoom(ctx context.Context, roomId string) (*entities.Recorder, error)
	// ReleaseRecorder flips the recorder back to idle and clears its room.
	ReleaseRecorder(ctx context.Context, recorderId string) error
}

type ConferenceRepository interface {
	CreateConference(ctx context.Context, conference *entities.ConferenceSession) error
	ListOpenConferences(ctx context.Context) ([]*entities.ConferenceSession, error)
	MarkConferenceEnded(ctx context.Context, id uuid.UUID, ended time.Time) error
	FindLatestConference(ctx context.Context, roomId string) (*entities.ConferenceSession, error)
	FindConferenceBySid(ctx context.Context, roomSid string) (*entities.ConferenceSession, error)
	SetConferenceRecording(ctx context.Context, id uuid.UUID, recording bool) error
}

type EgressRepository interface {
	CreateEgressSession(ctx context.Context, session *entities.EgressSession) error
	ListEgressSessionsByRecorder(ctx context.Context, recorderId string, statuses ...constant.EgressStatus) ([]*entities.EgressSession, error)
	ListEgressSessionsByStatus(ctx context.Context, statuses ...constant.EgressStatus) ([]*entities.EgressSession, error)
	FindEgressSessionByEgressId(ctx context.Context, egressId string) (*entities.EgressSession, error)
	FindLatestEgressSessionForRoom(ctx context.Context, roomId string) (*entities.EgressSession, error)
	UpdateEgressStatus(ctx context.Context, id uuid.UUID, status constant.EgressStatus) error
	MarkEgressFilesUploaded(ctx context.Context, roomId string, recorderId string) error
}

type MediaEventRepository interface {
	SaveMediaEvent(ctx context.Context, event *entities.MediaEvent) error
	// FindScheduledMediaEvent returns the newest event for room/recorder that already has an
	// external id and has not reached ingestion yet.
	FindScheduledMediaEvent(ctx context.Context, roomSid string, recorderId string) (*entities.MediaEvent, error)
	FindMediaEventByEventId(ctx context.Context, eventId string) (*entities.MediaEvent, error)
	ListMediaEventsByRecorder(ctx context.Context, recorderId string, states ...constant.RecordingState) ([]*entities.MediaEvent, error)
}

type UploadJobRepository interface {
	// CreateUploadJob inserts a job row; ErrDuplicate when Key is already known.
	CreateUploadJob(ctx context.Context, job *entities.UploadJob) error
	FindUploadJob(ctx context.Context, id uuid.UUID) (*entities.UploadJob, error)
	UploadJobExists(ctx context.Context, key string) (bool, error)
	UpdateUploadJob(ctx context.Context, id uuid.UUID, status constant.JobStatus, lastError string) error
	IncrementUploadJobAttempts(ctx context.Context, id uuid.UUID) (int, error)
	DeleteUploadJob(ctx context.Context, id uuid.UUID) error
}

type Repository interface {
	RecorderRepository
	ConferenceRepository
	EgressRepository
	MediaEventRepository
	UploadJobRepository
	Transaction(ctx context.Context, callback func(ctx context.Context, tx Repository) error) error
	AutoMigrate(ctx context.Context) error
}

type repo struct {
	db *gorm.DB
}

// Open connects to postgres and wraps the connection.
func Open(dsn string, log *zerolog.Logger) (Repository, error) {
	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         newGormLogger(log),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	return NewRepo(gormDB), nil
}

func NewRepo(db *gorm.DB) Repository {
	return &repo{
		db: db,
	}
}

func (r *repo) GetDB(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context, tx Repository) error) error {
	return r.GetDB(ctx).Transaction(func(tx *gorm.DB) error {
		return callback(ctx, &repo{db: tx})
	})
}

func (r *repo) AutoMigrate(ctx context.Context) error {
	return r.GetDB(ctx).AutoMigrate(
		&entities.Recorder{},
		&entities.ConferenceSession{},
		&entities.EgressSession{},
		&entities.MediaEvent{},
		&entities.UploadJob{},
	)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
