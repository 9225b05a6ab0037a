package repository

import (
	"context"
	"recording-orchestrator/entities"
)

func (r *repo) ListRecorders(ctx context.Context) ([]*entities.Recorder, error) {
	var recorders []*entities.Recorder
	err := r.GetDB(ctx).Order("created_at ASC").Find(&recorders).Error
	if err != nil {
		return nil, err
	}
	return recorders, nil
}

func (r *repo) CreateRecorder(ctx context.Context, recorder *entities.Recorder) error {
	return r.GetDB(ctx).Create(recorder).Error
}

func (r *repo) DeleteRecorder(ctx context.Context, recorderId string) error {
	// recording rows are never deleted
	res := r.GetDB(ctx).Where("recorder_id = ? AND is_recording = ?", recorderId, false).Delete(&entities.Recorder{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) ClaimRecorder(ctx context.Context, recorderId string, roomId string) (bool, error) {
	res := r.GetDB(ctx).Model(&entities.Recorder{}).
		Where("recorder_id = ? AND is_recording = ?", recorderId, false).
		Updates(map[string]interface{}{"is_recording": true, "room_id": roomId})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindRecorderByRoom(ctx context.Context, roomId string) (*entities.Recorder, error) {
	recorder := &entities.Recorder{}
	err := r.GetDB(ctx).Where("room_id = ? AND is_recording = ?", roomId, true).First(recorder).Error
	if err != nil {
		return nil, notFound(err)
	}
	return recorder, nil
}

func (r *repo) ReleaseRecorder(ctx context.Context, recorderId string) error {
	res := r.GetDB(ctx).Model(&entities.Recorder{}).
		Where("recorder_id = ?", recorderId).
		Updates(map[string]interface{}{"is_recording": false, "room_id": ""})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
