package repository

import (
	"context"
	"github.com/google/uuid"
	"recording-orchestrator/constant"
	"recording-orchestrator/entities"
)

func (r *repo) CreateEgressSession(ctx context.Context, session *entities.EgressSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	return r.GetDB(ctx).Create(session).Error
}

func (r *repo) ListEgressSessionsByRecorder(ctx context.Context, recorderId string, statuses ...constant.EgressStatus) ([]*entities.EgressSession, error) {
	var sessions []*entities.EgressSession
	q := r.GetDB(ctx).Where("recorder_id = ?", recorderId)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Order("created_at ASC").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repo) ListEgressSessionsByStatus(ctx context.Context, statuses ...constant.EgressStatus) ([]*entities.EgressSession, error) {
	var sessions []*entities.EgressSession
	q := r.GetDB(ctx)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Order("created_at ASC").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repo) FindEgressSessionByEgressId(ctx context.Context, egressId string) (*entities.EgressSession, error) {
	session := &entities.EgressSession{}
	err := r.GetDB(ctx).Where("egress_id = ?", egressId).First(session).Error
	if err != nil {
		return nil, notFound(err)
	}
	return session, nil
}

func (r *repo) FindLatestEgressSessionForRoom(ctx context.Context, roomId string) (*entities.EgressSession, error) {
	session := &entities.EgressSession{}
	err := r.GetDB(ctx).Where("room_id = ?", roomId).Order("created_at DESC").First(session).Error
	if err != nil {
		return nil, notFound(err)
	}
	return session, nil
}

func (r *repo) UpdateEgressStatus(ctx context.Context, id uuid.UUID, status constant.EgressStatus) error {
	res := r.GetDB(ctx).Model(&entities.EgressSession{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) MarkEgressFilesUploaded(ctx context.Context, roomId string, recorderId string) error {
	return r.GetDB(ctx).Model(&entities.EgressSession{}).
		Where("room_id = ? AND recorder_id = ? AND status = ?", roomId, recorderId, constant.EgressStatusComplete).
		Update("files_uploaded", true).Error
}
