package repository

import (
	"context"
	"github.com/google/uuid"
	"recording-orchestrator/entities"
	"time"
)

func (r *repo) CreateConference(ctx context.Context, conference *entities.ConferenceSession) error {
	if conference.ID == uuid.Nil {
		conference.ID = uuid.New()
	}
	return r.GetDB(ctx).Create(conference).Error
}

func (r *repo) ListOpenConferences(ctx context.Context) ([]*entities.ConferenceSession, error) {
	var conferences []*entities.ConferenceSession
	err := r.GetDB(ctx).Where("ended IS NULL").Find(&conferences).Error
	if err != nil {
		return nil, err
	}
	return conferences, nil
}

func (r *repo) MarkConferenceEnded(ctx context.Context, id uuid.UUID, ended time.Time) error {
	updates := map[string]interface{}{
		"ended":        ended,
		"is_active":    false,
		"is_recording": false,
	}
	return r.GetDB(ctx).Model(&entities.ConferenceSession{}).Where("id = ? AND ended IS NULL", id).Updates(updates).Error
}

func (r *repo) FindLatestConference(ctx context.Context, roomId string) (*entities.ConferenceSession, error) {
	conference := &entities.ConferenceSession{}
	err := r.GetDB(ctx).Where("room_id = ?", roomId).Order("started DESC").First(conference).Error
	if err != nil {
		return nil, notFound(err)
	}
	return conference, nil
}

func (r *repo) FindConferenceBySid(ctx context.Context, roomSid string) (*entities.ConferenceSession, error) {
	conference := &entities.ConferenceSession{}
	err := r.GetDB(ctx).Where("room_sid = ?", roomSid).Order("started DESC").First(conference).Error
	if err != nil {
		return nil, notFound(err)
	}
	return conference, nil
}

func (r *repo) SetConferenceRecording(ctx context.Context, id uuid.UUID, recording bool) error {
	return r.GetDB(ctx).Model(&entities.ConferenceSession{}).Where("id = ?", id).Update("is_recording", recording).Error
}
