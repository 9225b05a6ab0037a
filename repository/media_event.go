package repository

import (
	"context"
	"github.com/google/uuid"
	"recording-orchestrator/constant"
	"recording-orchestrator/entities"
)

func (r *repo) SaveMediaEvent(ctx context.Context, event *entities.MediaEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.GetDB(ctx).Save(event).Error
}

func (r *repo) FindScheduledMediaEvent(ctx context.Context, roomSid string, recorderId string) (*entities.MediaEvent, error) {
	event := &entities.MediaEvent{}
	err := r.GetDB(ctx).
		Where("room_sid = ? AND recorder_id = ? AND event_id <> ''", roomSid, recorderId).
		Where("recording_state IN ?", constant.ReusableRecordingStates).
		Order("start DESC").
		First(event).Error
	if err != nil {
		return nil, notFound(err)
	}
	return event, nil
}

func (r *repo) FindMediaEventByEventId(ctx context.Context, eventId string) (*entities.MediaEvent, error) {
	event := &entities.MediaEvent{}
	err := r.GetDB(ctx).Where("event_id = ?", eventId).First(event).Error
	if err != nil {
		return nil, notFound(err)
	}
	return event, nil
}

func (r *repo) ListMediaEventsByRecorder(ctx context.Context, recorderId string, states ...constant.RecordingState) ([]*entities.MediaEvent, error) {
	var events []*entities.MediaEvent
	q := r.GetDB(ctx).Where("recorder_id = ?", recorderId)
	if len(states) > 0 {
		q = q.Where("recording_state IN ?", states)
	}
	if err := q.Order("start ASC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
