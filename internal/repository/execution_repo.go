package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/planmail/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ExecutionRepository handles delivery executions and their items.
type ExecutionRepository struct {
	db *gorm.DB
}

// NewExecutionRepository creates a new ExecutionRepository.
func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Start stops any execution still running for the same plan, then inserts exec
// as running. Both happen in one transaction.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - exec: execution to insert; Status and StartedAt are set here.
//   - now: start time.
//
// Returns:
//   - error: non-nil if either statement fails.
func (r *ExecutionRepository) Start(ctx context.Context, exec *domain.Execution, now time.Time) error {
	now = now.UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&domain.Execution{}).
			Where("plan_id = ? AND status = ?", exec.PlanID, domain.ExecutionRunning).
			Updates(map[string]interface{}{
				"status":       domain.ExecutionStopped,
				"completed_at": now,
			}).Error
		if err != nil {
			return err
		}

		exec.Status = domain.ExecutionRunning
		exec.StartedAt = &now
		return tx.Create(exec).Error
	})
}

// Get retrieves an execution by ID.
func (r *ExecutionRepository) Get(ctx context.Context, id uint) (*domain.Execution, error) {
	var exec domain.Execution
	if err := r.db.WithContext(ctx).First(&exec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &exec, nil
}

// RecordItem upserts an item keyed by (execution, recipient, item key), so a
// resend overwrites the earlier outcome instead of adding a row.
func (r *ExecutionRepository) RecordItem(ctx context.Context, item *domain.ExecutionItem) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "execution_id"}, {Name: "user_id"}, {Name: "item_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"member_no", "status", "retry_count", "provider_message_id",
			"last_error_message", "sent_at", "updated_at",
		}),
	}).Create(item).Error
}

// UpdateCounts stores running success/fail totals.
func (r *ExecutionRepository) UpdateCounts(ctx context.Context, id uint, success, fail int) error {
	return r.db.WithContext(ctx).Model(&domain.Execution{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"success_count": success,
			"fail_count":    fail,
		}).Error
}

// SetSubject records the first subject sent, leaving an existing one alone.
func (r *ExecutionRepository) SetSubject(ctx context.Context, id uint, subject string) error {
	return r.db.WithContext(ctx).Model(&domain.Execution{}).
		Where("id = ? AND (subject IS NULL OR subject = '')", id).
		Update("subject", subject).Error
}

// Finish writes the final counts and status.
func (r *ExecutionRepository) Finish(ctx context.Context, id uint, status domain.ExecutionStatus, success, fail int, now time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Execution{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"success_count": success,
			"fail_count":    fail,
			"completed_at":  now.UTC(),
		}).Error
}

// StopRunning marks running executions started before the given instant
// stopped. Used at the day boundary.
func (r *ExecutionRepository) StopRunning(ctx context.Context, before, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Execution{}).
		Where("status = ? AND started_at < ?", domain.ExecutionRunning, before.UTC()).
		Updates(map[string]interface{}{
			"status":       domain.ExecutionStopped,
			"completed_at": now.UTC(),
		})
	return res.RowsAffected, res.Error
}

// Items returns every item of an execution ordered by recipient then key.
func (r *ExecutionRepository) Items(ctx context.Context, executionID uint) ([]domain.ExecutionItem, error) {
	var items []domain.ExecutionItem
	err := r.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("user_id ASC, item_key ASC").
		Find(&items).Error
	return items, err
}

// FailedItems returns the failed items of an execution.
func (r *ExecutionRepository) FailedItems(ctx context.Context, executionID uint) ([]domain.ExecutionItem, error) {
	var items []domain.ExecutionItem
	err := r.db.WithContext(ctx).
		Where("execution_id = ? AND status = ?", executionID, domain.ItemFailed).
		Order("user_id ASC, item_key ASC").
		Find(&items).Error
	return items, err
}

// ListStartedBetween returns executions started in [from, to).
func (r *ExecutionRepository) ListStartedBetween(ctx context.Context, from, to time.Time) ([]domain.Execution, error) {
	var execs []domain.Execution
	err := r.db.WithContext(ctx).
		Where("started_at >= ? AND started_at < ?", from.UTC(), to.UTC()).
		Order("id ASC").
		Find(&execs).Error
	return execs, err
}
