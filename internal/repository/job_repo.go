package repository

import (
	"context"
	"errors"
	"time"

	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ListParams struct {
	Status   *domain.JobStatus
	Source   *string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

type JobRepository interface {
	Create(ctx context.Context, j *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, params ListParams) ([]domain.Job, int64, error)
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus) error
	UpdateStatusWithRetry(ctx context.Context, id string, status domain.JobStatus, nextRetryAt time.Time) error
	MarkDiscarded(ctx context.Context, id string, reason domain.DiscardReason) error
	MarkFailed(ctx context.Context, id string) error
	LockForSending(ctx context.Context, id string) (*domain.Job, error)
	GetDueForRetry(ctx context.Context, limit int) ([]domain.Job, error)
	RequeueStaleSending(ctx context.Context, olderThan time.Time) (int64, error)
	ClearNextRetryAt(ctx context.Context, id string) error
	PruneDelivered(ctx context.Context, keep int) (int64, error)
}

type GormJobRepo struct {
	db *gorm.DB
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db}
}

func (r *GormJobRepo) Create(ctx context.Context, j *domain.Job) error {
	model := jobModelFromDomain(j)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if j != nil {
		*j = *jobModelToDomain(model)
	}
	return nil
}

func (r *GormJobRepo) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var model JobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model), nil
}

func (r *GormJobRepo) List(ctx context.Context, params ListParams) ([]domain.Job, int64, error) {
	query := r.db.WithContext(ctx).Model(&JobModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Source != nil {
		query = query.Where("source = ?", *params.Source)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []JobModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	jobs := make([]domain.Job, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}

	return jobs, total, nil
}

func (r *GormJobRepo) UpdateStatus(ctx context.Context, id string, status domain.JobStatus) error {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormJobRepo) UpdateStatusWithRetry(ctx context.Context, id string, status domain.JobStatus, nextRetryAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        status,
			"next_retry_at": nextRetryAt,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormJobRepo) MarkDiscarded(ctx context.Context, id string, reason domain.DiscardReason) error {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         domain.JobStatusDiscarded,
			"discard_reason": reason.String(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormJobRepo) MarkFailed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.JobStatusFailed,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormJobRepo) LockForSending(ctx context.Context, id string) (*domain.Job, error) {
	var locked *domain.Job

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model JobModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		// Duplicate broker delivery or a concurrent worker: nothing to do.
		if model.Status.IsTerminal() || model.Status == domain.JobStatusSending {
			return nil
		}

		if err := tx.
			Model(&model).
			Update("status", domain.JobStatusSending).Error; err != nil {
			return err
		}

		model.Status = domain.JobStatusSending
		locked = jobModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return locked, nil
}

func (r *GormJobRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.Job, error) {
	var models []JobModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", domain.JobStatusQueued, time.Now()).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.Job, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}

	return jobs, nil
}

// RequeueStaleSending returns rows stuck in SENDING to the retry path. A row
// older than the cutoff means a worker died or was interrupted between
// locking and finishing the send; redeliveries of its message are acked as
// duplicates, so the scanner sweep is the only rescue. The retry timestamp
// is set to the cutoff so the same scan pass picks the row up as due.
func (r *GormJobRepo) RequeueStaleSending(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("status = ? AND updated_at < ?", domain.JobStatusSending, olderThan).
		Updates(map[string]any{
			"status":        domain.JobStatusQueued,
			"next_retry_at": olderThan,
		})
	return result.RowsAffected, result.Error
}

func (r *GormJobRepo) ClearNextRetryAt(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ?", id).
		Update("next_retry_at", nil).Error
}

// PruneDelivered deletes delivered jobs beyond the keep most recent ones,
// preserving an operational trail without unbounded growth. Failed and
// discarded rows are never pruned.
func (r *GormJobRepo) PruneDelivered(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	result := r.db.WithContext(ctx).Exec(`
		DELETE FROM notification_jobs
		WHERE status = ?
		  AND id NOT IN (
			SELECT id FROM notification_jobs
			WHERE status = ?
			ORDER BY updated_at DESC
			LIMIT ?
		  )`,
		domain.JobStatusDelivered, domain.JobStatusDelivered, keep,
	)
	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}
