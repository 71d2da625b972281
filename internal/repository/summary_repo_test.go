package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/planmail/internal/domain"
	"github.com/timmy/planmail/internal/testutil"
)

func TestSummaryRepository_Setting(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := NewSummaryRepository(db)

	_, err := repo.Setting(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Create(&domain.PlanSummarySetting{PlanID: 1, SummaryPrompt: "物語の流れを要約"}).Error)
	s, err := repo.Setting(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 200, s.SummaryLengthTarget)
	assert.Equal(t, 10, s.SummaryMaxKeep)
	assert.Equal(t, 3, s.SummaryInjectCount)
}

func TestSummaryRepository_RecentAndPrune(t *testing.T) {
	ctx := context.Background()
	repo := NewSummaryRepository(testutil.NewDB(t))

	for i := 1; i <= 5; i++ {
		require.NoError(t, repo.Add(ctx, &domain.UserSummary{PlanID: 1, RecipientID: 7, SummaryText: fmt.Sprintf("第%d話", i)}, 3))
	}
	require.NoError(t, repo.Add(ctx, &domain.UserSummary{PlanID: 1, RecipientID: 8, SummaryText: "別の人"}, 3))
	require.NoError(t, repo.Add(ctx, &domain.UserSummary{PlanID: 2, RecipientID: 7, SummaryText: "別のプラン"}, 3))

	all, err := repo.Recent(ctx, 1, 7, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"第3話", "第4話", "第5話"}, all)

	recent, err := repo.Recent(ctx, 1, 7, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"第4話", "第5話"}, recent)

	none, err := repo.Recent(ctx, 1, 7, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	other, err := repo.Recent(ctx, 1, 8, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"別の人"}, other)
}
