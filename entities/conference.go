package entities

import (
	"github.com/google/uuid"
	"time"
)

type ConferenceSession struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	RoomId      string     `json:"room_id" gorm:"type:varchar(255);not null;index:idx_conferences_room_id"`
	RoomSid     string     `json:"room_sid" gorm:"type:varchar(255);index:idx_conferences_room_sid"`
	Title       string     `json:"title" gorm:"type:varchar(255)"`
	Started     time.Time  `json:"started" gorm:"type:timestamptz;not null"`
	Ended       *time.Time `json:"ended" gorm:"type:timestamptz"`
	IsActive    bool       `json:"is_active" gorm:"not null;default:true"`
	IsRecording bool       `json:"is_recording" gorm:"not null;default:false"`
	CreatedAt   time.Time  `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (ConferenceSession) TableName() string {
	return "conference_sessions"
}
