package repository

import (
	"context"
	"errors"

	"github.com/timmy/planmail/internal/domain"
	"gorm.io/gorm"
)

// RecipientRepository resolves who receives a plan and what they answered.
type RecipientRepository struct {
	db *gorm.DB
}

// NewRecipientRepository creates a new RecipientRepository.
func NewRecipientRepository(db *gorm.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// Get retrieves a recipient by ID.
func (r *RecipientRepository) Get(ctx context.Context, id uint) (*domain.Recipient, error) {
	var rec domain.Recipient
	if err := r.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ListTargets returns the deliverable recipients of a plan with ID greater
// than afterID, in ascending ID order. A recipient is deliverable when the
// subscription is trialing, active or admin-added and the user is active,
// verified and not bounced.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - planID: plan whose subscribers are listed.
//   - afterID: resume cursor; 0 lists everyone.
//   - onlyID: restricts the result to one recipient when non-nil.
//
// Returns:
//   - []domain.Recipient: recipients ordered by ID.
//   - error: non-nil if the query fails.
func (r *RecipientRepository) ListTargets(ctx context.Context, planID, afterID uint, onlyID *uint) ([]domain.Recipient, error) {
	q := r.db.WithContext(ctx).
		Model(&domain.Recipient{}).
		Joins("JOIN subscriptions ON subscriptions.user_id = users.id").
		Where("subscriptions.plan_id = ? AND subscriptions.status IN ?", planID, domain.DeliverableStatuses).
		Where("users.is_active = ? AND users.email_verified = ? AND users.deliverable = ?", true, true, true).
		Where("users.id > ?", afterID)
	if onlyID != nil {
		q = q.Where("users.id = ?", *onlyID)
	}

	var recipients []domain.Recipient
	err := q.Order("users.id ASC").Find(&recipients).Error
	return recipients, err
}

// AnswerValues returns the raw answer of a recipient for each question, keyed
// by var_name. An empty answer falls back to the same recipient's non-empty
// answer for the same var_name on another plan.
func (r *RecipientRepository) AnswerValues(ctx context.Context, recipientID, planID uint, questions []domain.PlanQuestion) (map[string]string, error) {
	result := make(map[string]string, len(questions))
	if len(questions) == 0 {
		return result, nil
	}

	ids := make([]uint, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}

	var answers []domain.UserAnswer
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND question_id IN ?", recipientID, ids).
		Find(&answers).Error; err != nil {
		return nil, err
	}
	byQuestion := make(map[uint]string, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a.AnswerValue
	}

	for _, q := range questions {
		value := byQuestion[q.ID]
		if value == "" && q.VarName != "" {
			var other []domain.UserAnswer
			err := r.db.WithContext(ctx).
				Joins("JOIN plan_questions ON plan_questions.id = user_answers.question_id").
				Where("user_answers.user_id = ? AND plan_questions.var_name = ? AND plan_questions.plan_id <> ?", recipientID, q.VarName, planID).
				Where("user_answers.answer_value IS NOT NULL AND user_answers.answer_value <> ''").
				Order("user_answers.id ASC").
				Limit(1).
				Find(&other).Error
			if err != nil {
				return nil, err
			}
			if len(other) > 0 {
				value = other[0].AnswerValue
			}
		}
		result[q.VarName] = value
	}
	return result, nil
}
