package repository

import (
	"context"
	"errors"

	"github.com/timmy/planmail/internal/domain"
	"gorm.io/gorm"
)

// SummaryRepository stores the rolling per-recipient summaries of a plan.
type SummaryRepository struct {
	db *gorm.DB
}

// NewSummaryRepository creates a new SummaryRepository.
func NewSummaryRepository(db *gorm.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// Setting returns the summary setting of a plan, or ErrNotFound when the plan
// has summaries turned off.
func (r *SummaryRepository) Setting(ctx context.Context, planID uint) (*domain.PlanSummarySetting, error) {
	var s domain.PlanSummarySetting
	if err := r.db.WithContext(ctx).Where("plan_id = ?", planID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Recent returns up to n of the newest summaries of a recipient, oldest first.
func (r *SummaryRepository) Recent(ctx context.Context, planID, recipientID uint, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	var rows []domain.UserSummary
	err := r.db.WithContext(ctx).
		Where("plan_id = ? AND user_id = ?", planID, recipientID).
		Order("created_at DESC, id DESC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, rows[i].SummaryText)
	}
	return out, nil
}

// Add stores a summary and deletes the oldest ones of the same recipient
// beyond keep. keep <= 0 keeps everything.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - s: summary to insert; ID and CreatedAt are filled on success.
//   - keep: number of newest summaries to retain per plan and recipient.
//
// Returns:
//   - error: non-nil if the insert or the prune fails; both roll back together.
func (r *SummaryRepository) Add(ctx context.Context, s *domain.UserSummary, keep int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(s).Error; err != nil {
			return err
		}
		if keep <= 0 {
			return nil
		}

		var ids []uint
		if err := tx.Model(&domain.UserSummary{}).
			Where("plan_id = ? AND user_id = ?", s.PlanID, s.RecipientID).
			Order("created_at DESC, id DESC").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) <= keep {
			return nil
		}
		return tx.Where("id IN ?", ids[keep:]).Delete(&domain.UserSummary{}).Error
	})
}
