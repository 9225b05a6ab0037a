package entities

import (
	"github.com/google/uuid"
	"recording-orchestrator/constant"
	"time"
)

// UploadJob is the durable bookkeeping row for one queued ingestion job.
// Key deduplicates discovery across restarts and redeliveries.
type UploadJob struct {
	ID        uuid.UUID             `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Key       string                `json:"key" gorm:"type:varchar(512);not null;uniqueIndex:idx_upload_jobs_key"`
	Type      constant.RecorderType `json:"type" gorm:"type:varchar(32);not null"`
	Status    constant.JobStatus    `json:"status" gorm:"type:varchar(20);not null;index:idx_upload_jobs_status"`
	Attempts  int                   `json:"attempts" gorm:"not null;default:0"`
	LastError string                `json:"last_error" gorm:"type:text"`
	CreatedAt time.Time             `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time             `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (UploadJob) TableName() string {
	return "upload_jobs"
}
