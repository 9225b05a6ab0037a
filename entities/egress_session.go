package entities

import (
	"github.com/google/uuid"
	"recording-orchestrator/constant"
	"time"
)

// EgressSession is one room-composite recording attempt. Rows are never reused.
type EgressSession struct {
	ID            uuid.UUID             `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	RecorderId    string                `json:"recorder_id" gorm:"type:varchar(64);not null;index:idx_egress_sessions_recorder"`
	RoomId        string                `json:"room_id" gorm:"type:varchar(255);not null;index:idx_egress_sessions_room"`
	EgressId      string                `json:"egress_id" gorm:"type:varchar(255);index:idx_egress_sessions_egress_id"`
	Status        constant.EgressStatus `json:"status" gorm:"type:varchar(20);not null;index:idx_egress_sessions_status"`
	FilesUploaded bool                  `json:"files_uploaded" gorm:"not null;default:false"`
	CreatedAt     time.Time             `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time             `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (EgressSession) TableName() string {
	return "egress_sessions"
}
