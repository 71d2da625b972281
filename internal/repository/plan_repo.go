package repository

import (
	"context"
	"errors"

	"github.com/timmy/planmail/internal/domain"
	"gorm.io/gorm"
)

// PlanRepository reads plans and their questions.
type PlanRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// Get retrieves a plan by ID.
func (r *PlanRepository) Get(ctx context.Context, id uint) (*domain.Plan, error) {
	var plan domain.Plan
	if err := r.db.WithContext(ctx).First(&plan, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// ListActive returns active plans in ID order.
func (r *PlanRepository) ListActive(ctx context.Context) ([]domain.Plan, error) {
	var plans []domain.Plan
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&plans).Error
	return plans, err
}

// ListByIDs returns the plans with the given IDs.
func (r *PlanRepository) ListByIDs(ctx context.Context, ids []uint) ([]domain.Plan, error) {
	var plans []domain.Plan
	if len(ids) == 0 {
		return plans, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&plans).Error
	return plans, err
}

// Questions returns a plan's questions in display order.
func (r *PlanRepository) Questions(ctx context.Context, planID uint) ([]domain.PlanQuestion, error) {
	var questions []domain.PlanQuestion
	err := r.db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("sort_order ASC, id ASC").
		Find(&questions).Error
	return questions, err
}
