package dto

import (
	"github.com/google/uuid"
	"recording-orchestrator/constant"
	"recording-orchestrator/entities"
	"time"
)

// Recording is one media file belonging to an upload job.
// Started is the unix timestamp embedded in the file name.
type Recording struct {
	FileName string `json:"fileName" validate:"required"`
	Started  int64  `json:"started"`
}

// UploadJobMessage is the payload of the prepare stage.
type UploadJobMessage struct {
	JobId      uuid.UUID                  `json:"jobId" validate:"required"`
	Type       constant.RecorderType      `json:"type" validate:"required,oneof=room_composite appliance"`
	Recordings []Recording                `json:"recordings" validate:"required,min=1,dive"`
	Conference entities.ConferenceSession `json:"conference"`
	Recorder   string                     `json:"recorder" validate:"required"`
	EventId    string                     `json:"eventId,omitempty"`
	Started    int64                      `json:"started"`
	Ended      int64                      `json:"ended"`
	BasePath   string                     `json:"basePath" validate:"required"`
}

// AttachJobMessage is the payload of the attach stage, emitted by prepare.
type AttachJobMessage struct {
	JobId        uuid.UUID                  `json:"jobId" validate:"required"`
	Type         constant.RecorderType      `json:"type" validate:"required,oneof=room_composite appliance"`
	EventId      string                     `json:"eventId" validate:"required"`
	MediaPackage string                     `json:"mediaPackage" validate:"required"`
	Recordings   []Recording                `json:"recordings" validate:"required,dive"`
	Conference   entities.ConferenceSession `json:"conference"`
	Recorder     string                     `json:"recorder" validate:"required"`
	BasePath     string                     `json:"basePath" validate:"required"`
}

// Event is a verified lifecycle notification from the conferencing system.
type Event struct {
	Kind     constant.EventKind `json:"kind" validate:"required,oneof=room_finished egress_ended"`
	RoomId   string             `json:"roomId" validate:"required"`
	RoomSid  string             `json:"roomSid"`
	EgressId string             `json:"egressId"`
	Files    []FileResult       `json:"files,omitempty"`
	At       time.Time          `json:"at"`
}
