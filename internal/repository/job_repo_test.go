package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/planmail/internal/domain"
	"github.com/timmy/planmail/internal/testutil"
)

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func newJob(planID uint, status domain.JobStatus) *domain.Job {
	return &domain.Job{
		PlanID:     planID,
		Date:       "2026-10-18",
		SendType:   domain.SendTypeScheduled,
		Status:     status,
		MaxRetries: 3,
	}
}

func TestJobRepository_CreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(testutil.NewDB(t))

	require.NoError(t, repo.CreateIfAbsent(ctx, newJob(1, domain.JobStatusPending)))
	assert.ErrorIs(t, repo.CreateIfAbsent(ctx, newJob(1, domain.JobStatusPending)), ErrJobExists)

	// A different plan on the same day is independent.
	require.NoError(t, repo.CreateIfAbsent(ctx, newJob(2, domain.JobStatusPending)))

	jobs, err := repo.ListByDate(ctx, "2026-10-18")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestJobRepository_CreateIfAbsent_Manual(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(testutil.NewDB(t))

	manual := newJob(1, domain.JobStatusPending)
	manual.SendType = domain.SendTypeManual
	require.NoError(t, repo.CreateIfAbsent(ctx, manual))

	again := newJob(1, domain.JobStatusPending)
	again.SendType = domain.SendTypeManual
	assert.ErrorIs(t, repo.CreateIfAbsent(ctx, again), ErrJobExists)

	require.NoError(t, repo.Complete(ctx, manual.ID))
	again = newJob(1, domain.JobStatusPending)
	again.SendType = domain.SendTypeManual
	assert.NoError(t, repo.CreateIfAbsent(ctx, again), "completed manual job should not block a new one")
}

func TestJobRepository_NextClaimablePrefersRetryableErrors(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(testutil.NewDB(t))

	pending := newJob(1, domain.JobStatusPending)
	require.NoError(t, repo.CreateIfAbsent(ctx, pending))

	exhausted := newJob(2, domain.JobStatusError)
	exhausted.RetryCount = 3
	require.NoError(t, repo.CreateIfAbsent(ctx, exhausted))

	retryable := newJob(3, domain.JobStatusError)
	retryable.RetryCount = 1
	require.NoError(t, repo.CreateIfAbsent(ctx, retryable))

	yesterday := newJob(4, domain.JobStatusPending)
	yesterday.Date = "2026-10-17"
	require.NoError(t, repo.CreateIfAbsent(ctx, yesterday))

	next, err := repo.NextClaimable(ctx, "2026-10-18")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, retryable.ID, next.ID)

	require.NoError(t, repo.Claim(ctx, next, t0))
	next, err = repo.NextClaimable(ctx, "2026-10-18")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, pending.ID, next.ID)

	require.NoError(t, repo.Claim(ctx, next, t0))
	next, err = repo.NextClaimable(ctx, "2026-10-18")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestJobRepository_ClaimIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(testutil.NewDB(t))

	job := newJob(1, domain.JobStatusPending)
	job.LastError = "previous failure"
	require.NoError(t, repo.CreateIfAbsent(ctx, job))

	first := *job
	second := *job
	require.NoError(t, repo.Claim(ctx, &first, t0))
	assert.ErrorIs(t, repo.Claim(ctx, &second, t0), ErrNotClaimable)

	assert.Equal(t, domain.JobStatusRunning, first.Status)
	assert.Empty(t, first.LastError)
	require.NotNil(t, first.HeartbeatAt)
	assert.True(t, first.HeartbeatAt.Equal(t0))
}

func TestJobRepository_ClaimRefusesExhaustedError(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(testutil.NewDB(t))

	job := newJob(1, domain.JobStatusError)
	job.RetryCount = 3
	require.NoError(t, repo.CreateIfAbsent(ctx, job))

	assert.ErrorIs(t, repo.Claim(ctx, job, t0), ErrNotClaimable)
}

func TestJobRepository_FailAndComplete(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(testutil.NewDB(t))

	job := newJob(1, domain.JobStatusPending)
	require.NoError(t, repo.CreateIfAbsent(ctx, job))
	require.NoError(t, repo.Claim(ctx, job, t0))

	cursor := "7"
	require.NoError(t, repo.Touch(ctx, job.ID, &cursor, t0.Add(time.Minute)))

	failed, err := repo.Fail(ctx, job.ID, "boom")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	assert.Equal(t, "boom", failed.LastError)
	require.NotNil(t, failed.Cursor)
	assert.Equal(t, "7", *failed.Cursor)

	// Touch only applies to running jobs.
	assert.ErrorIs(t, repo.Touch(ctx, job.ID, nil, t0), ErrNotClaimable)

	require.NoError(t, repo.Claim(ctx, failed, t0))
	require.NoError(t, repo.Complete(ctx, job.ID))

	done, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusComplete, done.Status)
	assert.Nil(t, done.Cursor)
	assert.Nil(t, done.HeartbeatAt)
}

func TestJobRepository_Requeue(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(testutil.NewDB(t))

	job := newJob(1, domain.JobStatusPending)
	require.NoError(t, repo.CreateIfAbsent(ctx, job))
	require.NoError(t, repo.Claim(ctx, job, t0))
	cursor := "12"
	require.NoError(t, repo.Touch(ctx, job.ID, &cursor, t0))

	require.NoError(t, repo.Requeue(ctx, job.ID, "emergency stop"))

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	require.NotNil(t, got.Cursor)
	assert.Equal(t, "12", *got.Cursor)
}

func TestJobRepository_StaleAndReclassify(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(testutil.NewDB(t))

	fresh := newJob(1, domain.JobStatusPending)
	stale := newJob(2, domain.JobStatusPending)
	last := newJob(3, domain.JobStatusPending)
	last.RetryCount = 2
	for _, j := range []*domain.Job{fresh, stale, last} {
		require.NoError(t, repo.CreateIfAbsent(ctx, j))
	}
	require.NoError(t, repo.Claim(ctx, fresh, t0.Add(10*time.Minute)))
	require.NoError(t, repo.Claim(ctx, stale, t0))
	require.NoError(t, repo.Claim(ctx, last, t0))

	jobs, err := repo.ListStaleRunning(ctx, t0.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, stale.ID, jobs[0].ID)
	assert.Equal(t, last.ID, jobs[1].ID)

	status, err := repo.Reclassify(ctx, jobs[0], "heartbeat timeout")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, status)

	status, err = repo.Reclassify(ctx, jobs[1], "heartbeat timeout")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, status)

	// A second sweep over the same snapshot must not double count.
	_, err = repo.Reclassify(ctx, jobs[0], "heartbeat timeout")
	assert.ErrorIs(t, err, ErrNotClaimable)

	got, err := repo.Get(ctx, last.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.RetryCount)
	assert.True(t, got.Terminal())
}

func TestJobRepository_ExpireAndForceFail(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(testutil.NewDB(t))

	old := newJob(1, domain.JobStatusError)
	old.Date = "2026-10-17"
	old.RetryCount = 1
	require.NoError(t, repo.CreateIfAbsent(ctx, old))

	running := newJob(2, domain.JobStatusPending)
	require.NoError(t, repo.CreateIfAbsent(ctx, running))
	require.NoError(t, repo.Claim(ctx, running, t0))

	expired, err := repo.ListExpiredErrors(ctx, "2026-10-18")
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.NoError(t, repo.Expire(ctx, expired[0], "date passed"))

	got, err := repo.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, got.MaxRetries, got.RetryCount)

	n, err := repo.ForceFailRunning(ctx, running.Date, "day rollover")
	require.NoError(t, err)
	assert.Zero(t, n, "a job running on its own date is left alone")

	n, err = repo.ForceFailRunning(ctx, "2026-10-19", "day rollover")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err = repo.Get(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, got.Status)
	assert.Equal(t, "day rollover", got.LastError)
}
