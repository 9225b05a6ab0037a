package entities

import (
	"github.com/google/uuid"
	"recording-orchestrator/constant"
	"time"
)

// MediaEvent mirrors a scheduled recording in the media-management system.
// EventId stays empty until the external scheduler has accepted the event.
type MediaEvent struct {
	ID             uuid.UUID               `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	EventId        string                  `json:"event_id" gorm:"type:varchar(255);index:idx_media_events_event_id"`
	SeriesId       string                  `json:"series_id" gorm:"type:varchar(255)"`
	RoomSid        string                  `json:"room_sid" gorm:"type:varchar(255);not null;index:idx_media_events_room_recorder"`
	RecorderId     string                  `json:"recorder_id" gorm:"type:varchar(64);not null;index:idx_media_events_room_recorder"`
	Title          string                  `json:"title" gorm:"type:varchar(255)"`
	MediaPackage   string                  `json:"media_package" gorm:"type:text"`
	Start          time.Time               `json:"start" gorm:"type:timestamptz;not null"`
	End            time.Time               `json:"end" gorm:"type:timestamptz;not null"`
	AgentState     constant.AgentState     `json:"agent_state" gorm:"type:varchar(20);not null"`
	RecordingState constant.RecordingState `json:"recording_state" gorm:"type:varchar(32);not null"`
	Type           constant.RecorderType   `json:"type" gorm:"type:varchar(32);not null"`
	CreatedAt      time.Time               `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time               `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (MediaEvent) TableName() string {
	return "media_events"
}
