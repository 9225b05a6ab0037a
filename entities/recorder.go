package entities

import (
	"time"
)

// Recorder is one slot of room-composite recording capacity.
type Recorder struct {
	RecorderId  string    `json:"recorder_id" gorm:"type:varchar(64);primary_key"`
	IsRecording bool      `json:"is_recording" gorm:"not null;default:false;index:idx_recorders_is_recording"`
	RoomId      string    `json:"room_id" gorm:"type:varchar(255);index:idx_recorders_room_id"`
	CreatedAt   time.Time `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Recorder) TableName() string {
	return "recorders"
}

// RecorderLiveness lives in the coordination store, not in the database.
type RecorderLiveness struct {
	MaxLimit        int   `json:"maxLimit"`
	CurrentProgress int   `json:"currentProgress"`
	LastPing        int64 `json:"lastPing"`
	Created         int64 `json:"created"`
}
