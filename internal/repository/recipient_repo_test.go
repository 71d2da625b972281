package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/planmail/internal/domain"
	"github.com/timmy/planmail/internal/testutil"
	"gorm.io/gorm"
)

func seedRecipient(t *testing.T, db *gorm.DB, planID uint, rec domain.Recipient, status domain.SubscriptionStatus) domain.Recipient {
	t.Helper()
	require.NoError(t, db.Create(&rec).Error)
	require.NoError(t, db.Create(&domain.Subscription{RecipientID: rec.ID, PlanID: planID, Status: status}).Error)
	return rec
}

func TestRecipientRepository_ListTargets(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := NewRecipientRepository(db)

	ok := func(no string) domain.Recipient {
		return domain.Recipient{MemberNo: no, Email: no + "@example.com", IsActive: true, EmailVerified: true, Deliverable: true}
	}
	a := seedRecipient(t, db, 1, ok("a"), domain.SubscriptionActive)
	unverified := ok("b")
	unverified.EmailVerified = false
	seedRecipient(t, db, 1, unverified, domain.SubscriptionActive)
	seedRecipient(t, db, 1, ok("c"), domain.SubscriptionCancelled)
	d := seedRecipient(t, db, 1, ok("d"), domain.SubscriptionActive)
	seedRecipient(t, db, 2, ok("e"), domain.SubscriptionActive)

	got, err := repo.ListTargets(ctx, 1, 0, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, d.ID, got[1].ID)

	got, err = repo.ListTargets(ctx, 1, a.ID, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, d.ID, got[0].ID)

	got, err = repo.ListTargets(ctx, 1, 0, &a.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
}

func TestRecipientRepository_ListTargetsSubscriptionStates(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := NewRecipientRepository(db)

	want := map[domain.SubscriptionStatus]bool{
		domain.SubscriptionTrialing:   true,
		domain.SubscriptionActive:     true,
		domain.SubscriptionAdminAdded: true,
		domain.SubscriptionPastDue:    false,
		domain.SubscriptionCancelled:  false,
	}
	byID := make(map[uint]domain.SubscriptionStatus)
	for status := range want {
		no := string(status)
		rec := seedRecipient(t, db, 1, domain.Recipient{MemberNo: no, Email: no + "@example.com", IsActive: true, EmailVerified: true, Deliverable: true}, status)
		byID[rec.ID] = status
	}

	got, err := repo.ListTargets(ctx, 1, 0, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, rec := range got {
		assert.True(t, want[byID[rec.ID]], "status %s should not be delivered", byID[rec.ID])
		if i > 0 {
			assert.Less(t, got[i-1].ID, rec.ID)
		}
	}
}

func TestRecipientRepository_AnswerFallback(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := NewRecipientRepository(db)

	rec := domain.Recipient{MemberNo: "m1", Email: "m1@example.com"}
	require.NoError(t, db.Create(&rec).Error)

	goal := domain.PlanQuestion{PlanID: 1, VarName: "goal", QuestionType: "text"}
	tags := domain.PlanQuestion{PlanID: 1, VarName: "tags", QuestionType: "checkbox"}
	otherGoal := domain.PlanQuestion{PlanID: 2, VarName: "goal", QuestionType: "text"}
	for _, q := range []*domain.PlanQuestion{&goal, &tags, &otherGoal} {
		require.NoError(t, db.Create(q).Error)
	}
	require.NoError(t, db.Create(&domain.UserAnswer{RecipientID: rec.ID, QuestionID: tags.ID, AnswerValue: `["a","b"]`}).Error)
	require.NoError(t, db.Create(&domain.UserAnswer{RecipientID: rec.ID, QuestionID: otherGoal.ID, AnswerValue: "run a marathon"}).Error)

	values, err := repo.AnswerValues(ctx, rec.ID, 1, []domain.PlanQuestion{goal, tags})
	require.NoError(t, err)
	assert.Equal(t, "run a marathon", values["goal"])
	assert.Equal(t, `["a","b"]`, values["tags"])
}
