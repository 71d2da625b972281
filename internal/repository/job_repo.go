package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/planmail/internal/domain"
	"gorm.io/gorm"
)

// JobRepository persists daily delivery jobs and their state transitions.
// Every transition is a single conditional UPDATE so concurrent writers
// (worker, watchdog, rollover) cannot both win.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Get retrieves a job by ID.
func (r *JobRepository) Get(ctx context.Context, id uint) (*domain.Job, error) {
	var job domain.Job
	if err := r.db.WithContext(ctx).First(&job, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// CreateIfAbsent inserts job unless an equivalent one already exists.
// Scheduled jobs are unique per (plan, date). Manual jobs only conflict with
// another manual job for the same plan and date that can still run.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job to insert; ID is filled on success.
//
// Returns:
//   - error: ErrJobExists when blocked, or the database error.
func (r *JobRepository) CreateIfAbsent(ctx context.Context, job *domain.Job) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&domain.Job{}).
			Where("plan_id = ? AND date = ? AND send_type = ?", job.PlanID, job.Date, job.SendType)
		if job.SendType == domain.SendTypeManual {
			q = q.Where("(status IN ? OR (status = ? AND retry_count < max_retries))",
				[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusRunning}, domain.JobStatusError)
		}

		var count int64
		if err := q.Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrJobExists
		}
		return tx.Create(job).Error
	})
}

// NextClaimable returns the next job to run for date, or nil when there is none.
// Retryable errored jobs come before pending ones, oldest first within each group.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - date: calendar date in domain.DateLayout.
//
// Returns:
//   - *domain.Job: candidate job, nil if nothing is claimable.
//   - error: non-nil if the query fails.
func (r *JobRepository) NextClaimable(ctx context.Context, date string) (*domain.Job, error) {
	var jobs []domain.Job
	err := r.db.WithContext(ctx).
		Where("date = ? AND status = ? AND retry_count < max_retries", date, domain.JobStatusError).
		Order("id ASC").Limit(1).Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	if len(jobs) > 0 {
		return &jobs[0], nil
	}

	err = r.db.WithContext(ctx).
		Where("date = ? AND status = ?", date, domain.JobStatusPending).
		Order("id ASC").Limit(1).Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	if len(jobs) > 0 {
		return &jobs[0], nil
	}
	return nil, nil
}

// Claim moves job to running if it is still in the status it was read with.
// On success job is reloaded. A lost race returns ErrNotClaimable.
func (r *JobRepository) Claim(ctx context.Context, job *domain.Job, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ?", job.ID, job.Status).
		Where("(status <> ? OR retry_count < max_retries)", domain.JobStatusError).
		Updates(map[string]interface{}{
			"status":       domain.JobStatusRunning,
			"heartbeat_at": now.UTC(),
			"last_error":   "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrNotClaimable
	}
	return r.db.WithContext(ctx).First(job, job.ID).Error
}

// Touch refreshes the heartbeat of a running job and, when cursor is non-nil,
// records the last fully processed recipient. Returns ErrNotClaimable if the
// job is no longer running.
func (r *JobRepository) Touch(ctx context.Context, id uint, cursor *string, now time.Time) error {
	updates := map[string]interface{}{"heartbeat_at": now.UTC()}
	if cursor != nil {
		updates["cursor"] = *cursor
	}
	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobStatusRunning).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrNotClaimable
	}
	return nil
}

// AttachExecution links a job to the execution delivering it.
func (r *JobRepository) AttachExecution(ctx context.Context, id, executionID uint) error {
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ?", id).
		Update("execution_id", executionID).Error
}

// Complete marks the job complete and clears its cursor and heartbeat.
func (r *JobRepository) Complete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       domain.JobStatusComplete,
			"cursor":       nil,
			"heartbeat_at": nil,
			"last_error":   "",
		}).Error
}

// Fail moves the job to error, increments its retry count and stores the
// (already truncated) reason. The updated job is returned so callers can
// check whether retries are exhausted.
func (r *JobRepository) Fail(ctx context.Context, id uint, reason string) (*domain.Job, error) {
	err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       domain.JobStatusError,
			"retry_count":  gorm.Expr("retry_count + 1"),
			"last_error":   reason,
			"heartbeat_at": nil,
		}).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Requeue returns a running job to pending without spending a retry.
// The cursor is kept so the next claim resumes where this run stopped.
func (r *JobRepository) Requeue(ctx context.Context, id uint, reason string) error {
	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":       domain.JobStatusPending,
			"heartbeat_at": nil,
			"last_error":   reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrNotClaimable
	}
	return nil
}

// ListStaleRunning returns running jobs whose heartbeat is older than cutoff.
func (r *JobRepository) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]domain.Job, error) {
	var jobs []domain.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)", domain.JobStatusRunning, cutoff.UTC()).
		Order("id ASC").
		Find(&jobs).Error
	return jobs, err
}

// Reclassify settles a stale running job: the retry count is incremented and
// the job goes back to pending while retries remain, otherwise to error.
// The cursor is preserved. The returned status is the one written.
// Returns ErrNotClaimable if the job moved on since it was listed.
func (r *JobRepository) Reclassify(ctx context.Context, job domain.Job, reason string) (domain.JobStatus, error) {
	next := job.RetryCount + 1
	status := domain.JobStatusPending
	if next >= job.MaxRetries {
		status = domain.JobStatusError
	}

	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ? AND retry_count = ?", job.ID, domain.JobStatusRunning, job.RetryCount).
		Updates(map[string]interface{}{
			"status":       status,
			"retry_count":  next,
			"last_error":   reason,
			"heartbeat_at": nil,
		})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected != 1 {
		return "", ErrNotClaimable
	}
	return status, nil
}

// ListExpiredErrors returns errored jobs from before today that still have
// retries left; they can never be claimed again.
func (r *JobRepository) ListExpiredErrors(ctx context.Context, today string) ([]domain.Job, error) {
	var jobs []domain.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND date < ? AND retry_count < max_retries", domain.JobStatusError, today).
		Order("id ASC").
		Find(&jobs).Error
	return jobs, err
}

// Expire exhausts the retries of an errored job so it reads as terminal.
func (r *JobRepository) Expire(ctx context.Context, job domain.Job, reason string) error {
	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ? AND retry_count = ?", job.ID, domain.JobStatusError, job.RetryCount).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("max_retries"),
			"last_error":  reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrNotClaimable
	}
	return nil
}

// ForceFailRunning moves running jobs dated before today to error. Used at
// the day boundary; a job already claimed for today keeps running.
func (r *JobRepository) ForceFailRunning(ctx context.Context, today, reason string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("status = ? AND date < ?", domain.JobStatusRunning, today).
		Updates(map[string]interface{}{
			"status":       domain.JobStatusError,
			"last_error":   reason,
			"heartbeat_at": nil,
		})
	return res.RowsAffected, res.Error
}

// ListByDate returns all jobs for date in creation order.
func (r *JobRepository) ListByDate(ctx context.Context, date string) ([]domain.Job, error) {
	var jobs []domain.Job
	err := r.db.WithContext(ctx).Where("date = ?", date).Order("id ASC").Find(&jobs).Error
	return jobs, err
}
