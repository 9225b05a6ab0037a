package service

import (
	"context"
	"recording-orchestrator/dto"
	"recording-orchestrator/entities"
	"recording-orchestrator/pkg/opencast"
	"time"
)

// ConferenceAPI is the authoritative source for which rooms are live.
type ConferenceAPI interface {
	ActiveRooms(ctx context.Context) ([]dto.RoomInfo, error)
	IsRoomActive(ctx context.Context, roomId string) (bool, error)
	ActiveRoom(ctx context.Context, roomId string) (*dto.RoomInfo, error)
	CreateRoom(ctx context.Context, roomId string, emptyTimeout uint32, maxParticipants uint32) (*dto.RoomInfo, error)
}

// EgressAPI drives room-composite recordings on the conferencing backend.
type EgressAPI interface {
	StartRoomComposite(ctx context.Context, roomId string, filepath string) (*dto.EgressInfo, error)
	StopEgress(ctx context.Context, egressId string) (*dto.EgressInfo, error)
	ListEgress(ctx context.Context, roomId string, active bool) ([]dto.EgressInfo, error)
}

// IngressAPI manages streaming endpoints that appliances publish into.
type IngressAPI interface {
	ListIngress(ctx context.Context, roomId string) ([]dto.IngressInfo, error)
	CreateIngress(ctx context.Context, roomId string, name string, identity string) (*dto.IngressInfo, error)
	DeleteIngress(ctx context.Context, ingressId string) error
}

type ScheduleRequest = opencast.ScheduleRequest

// MediaAPI is the media-management system (scheduler, capture-admin, ingest, series).
type MediaAPI interface {
	CreateMediaPackage(ctx context.Context, id string) (string, error)
	AddCatalog(ctx context.Context, mediaPackage string, flavor string, catalog string) (string, error)
	AddAttachment(ctx context.Context, mediaPackage string, flavor string, name string, content string) (string, error)
	AddTrack(ctx context.Context, mediaPackage string, flavor string, path string) (string, error)
	Ingest(ctx context.Context, mediaPackage string, workflow string) error
	Schedule(ctx context.Context, req ScheduleRequest) error
	UpdateSchedule(ctx context.Context, eventId string, start time.Time, end time.Time) error
	SetAgentState(ctx context.Context, agent string, state string) error
	SetRecordingState(ctx context.Context, eventId string, state string) error
	FindSeries(ctx context.Context, title string) (string, error)
	CreateSeries(ctx context.Context, title string, acl string) (string, error)
	ACL(ctx context.Context, roles []string) (string, error)
}

// ApplianceAPI controls hardware recording appliances.
type ApplianceAPI interface {
	StartRecording(ctx context.Context, deviceId string) error
	StopRecording(ctx context.Context, deviceId string) error
	Ping(ctx context.Context, deviceId string) error
	ListArchive(ctx context.Context, deviceId string) ([]dto.ArchiveFile, error)
	DownloadArchive(ctx context.Context, deviceId string, file dto.ArchiveFile, dest string) error
}

// JobPublisher enqueues ingestion work onto the durable queue.
type JobPublisher interface {
	PublishUploadJob(ctx context.Context, job dto.UploadJobMessage) error
	PublishAttachJob(ctx context.Context, job dto.AttachJobMessage) error
}

// Archiver keeps a copy of ingested source files.
type Archiver interface {
	Archive(ctx context.Context, conference entities.ConferenceSession, paths []string) error
}
