package repository

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"recording-orchestrator/constant"
	"recording-orchestrator/entities"
)

func (r *repo) CreateUploadJob(ctx context.Context, job *entities.UploadJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	err := r.GetDB(ctx).Create(job).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *repo) FindUploadJob(ctx context.Context, id uuid.UUID) (*entities.UploadJob, error) {
	job := &entities.UploadJob{}
	err := r.GetDB(ctx).First(job, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return job, nil
}

func (r *repo) UploadJobExists(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.GetDB(ctx).Model(&entities.UploadJob{}).Where("key = ?", key).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) UpdateUploadJob(ctx context.Context, id uuid.UUID, status constant.JobStatus, lastError string) error {
	updates := map[string]interface{}{
		"status":     status,
		"last_error": lastError,
	}
	res := r.GetDB(ctx).Model(&entities.UploadJob{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) IncrementUploadJobAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	job := &entities.UploadJob{}
	err := r.GetDB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(job).Where("id = ?", id).UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error; err != nil {
			return err
		}
		return tx.First(job, "id = ?", id).Error
	})
	if err != nil {
		return 0, notFound(err)
	}
	return job.Attempts, nil
}

func (r *repo) DeleteUploadJob(ctx context.Context, id uuid.UUID) error {
	return r.GetDB(ctx).Delete(&entities.UploadJob{}, "id = ?", id).Error
}
