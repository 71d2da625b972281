package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/planmail/internal/domain"
	"github.com/timmy/planmail/internal/errs"
	"github.com/timmy/planmail/internal/prompts"
	"github.com/timmy/planmail/internal/repository"
	"github.com/timmy/planmail/internal/source"
	"github.com/timmy/planmail/internal/testutil"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

type engineFixture struct {
	db         *gorm.DB
	jobs       *repository.JobRepository
	executions *repository.ExecutionRepository
	gen        *fakeGenerator
	sender     *fakeSender
	alerts     *fakeAlerts
	stop       *fakeStop
	throttle   *fakeThrottle
	data       *staticData
	engine     *Engine

	mu     sync.Mutex
	sleeps []time.Duration
}

func newEngineFixture(t *testing.T, cfg EngineConfig) *engineFixture {
	t.Helper()
	db := testutil.NewDB(t)
	f := &engineFixture{
		db:         db,
		jobs:       repository.NewJobRepository(db),
		executions: repository.NewExecutionRepository(db),
		gen:        &fakeGenerator{},
		sender:     &fakeSender{},
		alerts:     &fakeAlerts{},
		stop:       &fakeStop{},
		throttle:   &fakeThrottle{delay: 5 * time.Second, increment: 10 * time.Second},
		data:       &staticData{},
	}
	f.engine = NewEngine(EngineDeps{
		Plans:      repository.NewPlanRepository(db),
		Recipients: repository.NewRecipientRepository(db),
		Jobs:       f.jobs,
		Executions: f.executions,
		Events:     repository.NewSystemLogRepository(db),
		Stop:       f.stop,
		Throttle:   f.throttle,
		Generator:  f.gen,
		Sender:     f.sender,
		Alerts:     f.alerts,
		Data:       f.data,
		Summaries:  repository.NewSummaryRepository(db),
		Now:        func() time.Time { return t0 },
		Sleep: func(ctx context.Context, d time.Duration) error {
			f.mu.Lock()
			f.sleeps = append(f.sleeps, d)
			f.mu.Unlock()
			return ctx.Err()
		},
	}, cfg)
	return f
}

func defaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxRetry:       3,
		BackoffBase:    time.Second,
		HeartbeatEvery: 5,
		LastErrorLimit: 1000,
		SiteURL:        "https://example.com",
	}
}

func (f *engineFixture) seedPlan(t *testing.T, plan domain.Plan) *domain.Plan {
	t.Helper()
	if plan.Name == "" {
		plan.Name = "朝のメール"
	}
	plan.IsActive = true
	if plan.ScheduleKind == "" {
		plan.ScheduleKind = domain.ScheduleDaily
	}
	require.NoError(t, f.db.Create(&plan).Error)
	return &plan
}

// seedRecipients creates n deliverable subscribers with IDs 1..n on a fresh database.
func (f *engineFixture) seedRecipients(t *testing.T, planID uint, n int) []domain.Recipient {
	t.Helper()
	out := make([]domain.Recipient, 0, n)
	for i := 1; i <= n; i++ {
		rec := domain.Recipient{
			MemberNo:         fmt.Sprintf("M%03d", i),
			Email:            fmt.Sprintf("user%d@example.com", i),
			NameLast:         "山田",
			NameFirst:        fmt.Sprintf("太郎%d", i),
			EmailVerified:    true,
			IsActive:         true,
			Deliverable:      true,
			UnsubscribeToken: fmt.Sprintf("tok%d", i),
		}
		require.NoError(t, f.db.Create(&rec).Error)
		require.NoError(t, f.db.Create(&domain.Subscription{RecipientID: rec.ID, PlanID: planID, Status: domain.SubscriptionActive}).Error)
		out = append(out, rec)
	}
	return out
}

func (f *engineFixture) runningJob(t *testing.T, planID uint, cursor *string) *domain.Job {
	t.Helper()
	job := &domain.Job{
		PlanID:     planID,
		Date:       t0.Format(domain.DateLayout),
		SendType:   domain.SendTypeScheduled,
		Status:     domain.JobStatusPending,
		MaxRetries: 3,
		Cursor:     cursor,
	}
	require.NoError(t, f.jobs.CreateIfAbsent(context.Background(), job))
	require.NoError(t, f.jobs.Claim(context.Background(), job, t0))
	return job
}

func (f *engineFixture) items(t *testing.T, execID uint) []domain.ExecutionItem {
	t.Helper()
	items, err := f.executions.Items(context.Background(), execID)
	require.NoError(t, err)
	return items
}

func splitPayload() source.Payload {
	return source.Payload{
		Scalar: `{"a":"A","b":"B"}`,
		Items:  []source.Item{{Name: "a", Payload: "A"}, {Name: "b", Payload: "B"}},
	}
}

func TestEngine_SharedMode(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "今日の話題: {external_data}", ExternalDataPath: "news/today.json"})
	f.data.payload = source.Payload{Scalar: "晴れ"}
	f.seedRecipients(t, plan.ID, 3)

	exec, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan, SendType: domain.SendTypeScheduled})
	require.NoError(t, err)
	require.NotNil(t, exec)

	assert.Equal(t, 1, f.gen.count())
	assert.Equal(t, "今日の話題: 晴れ", f.gen.calls[0].Prompt)
	assert.Equal(t, []string{"user1@example.com", "user2@example.com", "user3@example.com"}, f.sender.recipients())
	assert.Equal(t, "https://example.com/api/me/unsubscribe?token=tok1", f.sender.sent[0].UnsubscribeURL)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, f.sleeps)

	got, err := f.executions.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, got.Status)
	assert.Equal(t, 3, got.TotalCount)
	assert.Equal(t, 3, got.SuccessCount)
	assert.Equal(t, "件名 今日の話題: 晴れ", got.Subject)

	items := f.items(t, exec.ID)
	require.Len(t, items, 3)
	for _, it := range items {
		assert.Equal(t, domain.ItemDone, it.Status)
		assert.Equal(t, "", it.ItemKey)
		assert.NotEmpty(t, it.ProviderMessageID)
	}
}

func TestEngine_ResumesAfterCursor(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "お知らせ"})
	f.seedRecipients(t, plan.ID, 10)
	cursor := "7"
	job := f.runningJob(t, plan.ID, &cursor)

	exec, err := f.engine.Execute(context.Background(), RunRequest{
		Plan: plan, JobID: &job.ID, SendType: domain.SendTypeScheduled, Cursor: job.Cursor,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"user8@example.com", "user9@example.com", "user10@example.com"}, f.sender.recipients())
	items := f.items(t, exec.ID)
	require.Len(t, items, 3)
	for _, it := range items {
		assert.Greater(t, it.RecipientID, uint(7))
	}
	assert.Equal(t, 3, exec.TotalCount)

	stored, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ExecutionID)
	assert.Equal(t, exec.ID, *stored.ExecutionID)
}

func TestEngine_InvalidCursorStartsOver(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "お知らせ"})
	f.seedRecipients(t, plan.ID, 2)
	bad := "abc"

	_, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan, Cursor: &bad})
	require.NoError(t, err)
	assert.Len(t, f.sender.sent, 2)
}

func TestEngine_SplitCachedGeneratesOncePerItem(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "{~}: {external_data}", ExternalDataPath: "teams/~"})
	f.data.payload = splitPayload()
	f.seedRecipients(t, plan.ID, 3)

	exec, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan})
	require.NoError(t, err)

	assert.Equal(t, 2, f.gen.count())
	assert.Equal(t, "a: A", f.gen.calls[0].Prompt)
	assert.Equal(t, "b: B", f.gen.calls[1].Prompt)
	assert.Len(t, f.sender.sent, 6)
	assert.Len(t, f.items(t, exec.ID), 6)
	assert.Equal(t, 6, exec.TotalCount)
	assert.Equal(t, 6, exec.SuccessCount)
}

func TestEngine_SplitCachedBatchCombines(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "{~}: {external_data}", ExternalDataPath: "teams/~", BatchSendEnabled: true})
	f.data.payload = splitPayload()
	f.seedRecipients(t, plan.ID, 3)

	exec, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan})
	require.NoError(t, err)

	assert.Equal(t, 2, f.gen.count())
	require.Len(t, f.sender.sent, 3)
	msg := f.sender.sent[0]
	assert.Equal(t, "件名 a: A", msg.Subject)
	assert.Equal(t, "【a】\n本文 a: A\n\n---\n\n【b】\n本文 b: B", msg.Body)

	items := f.items(t, exec.ID)
	require.Len(t, items, 3)
	assert.Equal(t, domain.ItemKeyBatch, items[0].ItemKey)
	assert.Equal(t, 3, exec.TotalCount)
}

func TestEngine_PerRecipientResolvesAnswers(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "{name}さん、{team}の話題です"})
	q := domain.PlanQuestion{PlanID: plan.ID, VarName: "team", QuestionType: "text"}
	require.NoError(t, f.db.Create(&q).Error)
	recs := f.seedRecipients(t, plan.ID, 2)
	require.NoError(t, f.db.Create(&domain.UserAnswer{RecipientID: recs[0].ID, QuestionID: q.ID, AnswerValue: "鹿島"}).Error)
	require.NoError(t, f.db.Create(&domain.UserAnswer{RecipientID: recs[1].ID, QuestionID: q.ID, AnswerValue: "浦和"}).Error)

	_, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan})
	require.NoError(t, err)

	require.Equal(t, 2, f.gen.count())
	assert.Equal(t, "山田 太郎1さん、鹿島の話題です", f.gen.calls[0].Prompt)
	assert.Equal(t, "山田 太郎2さん、浦和の話題です", f.gen.calls[1].Prompt)
}

func TestEngine_SplitPerRecipientBatch(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "{name-f}: {~}", ExternalDataPath: "teams/~", BatchSendEnabled: true})
	f.data.payload = splitPayload()
	f.seedRecipients(t, plan.ID, 3)

	exec, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan})
	require.NoError(t, err)

	assert.Equal(t, 6, f.gen.count())
	assert.Len(t, f.sender.sent, 3)
	assert.Equal(t, 3, exec.SuccessCount)
}

func TestEngine_PersonalizesGeneratedContent(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "共通"})
	f.gen.fn = func(req GenerateRequest, call int) (*Content, error) {
		return &Content{Subject: "{name-l}様へ", Body: "{name}さん、こんにちは"}, nil
	}
	f.seedRecipients(t, plan.ID, 1)

	_, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan})
	require.NoError(t, err)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "山田様へ", f.sender.sent[0].Subject)
	assert.Equal(t, "山田 太郎1さん、こんにちは", f.sender.sent[0].Body)
}

func TestEngine_RetryExhaustion(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "共通"})
	f.gen.fn = func(req GenerateRequest, call int) (*Content, error) {
		return nil, errs.Markf(errs.KindTransient, "upstream unavailable")
	}
	f.seedRecipients(t, plan.ID, 1)

	exec, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan})
	require.NoError(t, err)

	assert.Equal(t, 4, f.gen.count())
	assert.Equal(t, 1, f.alerts.count())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, f.sleeps)
	assert.Empty(t, f.sender.sent)

	items := f.items(t, exec.ID)
	require.Len(t, items, 1)
	assert.Equal(t, domain.ItemFailed, items[0].Status)
	assert.Contains(t, items[0].LastErrorMessage, "upstream unavailable")
	assert.Equal(t, domain.ExecutionFailed, exec.Status)

	var logs []domain.SystemLog
	require.NoError(t, f.db.Where("event_type = ?", "delivery_failed").Find(&logs).Error)
	assert.Len(t, logs, 1)
}

func TestEngine_PerRecipientRetryExhaustion(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "{name}さんへ"})
	f.gen.fn = func(req GenerateRequest, call int) (*Content, error) {
		return nil, errs.Markf(errs.KindInvalidResponse, "missing subject")
	}
	f.seedRecipients(t, plan.ID, 1)

	exec, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan})
	require.NoError(t, err)

	assert.Equal(t, 4, f.gen.count())
	assert.Equal(t, 1, f.alerts.count())
	items := f.items(t, exec.ID)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].RetryCount)
}

func TestEngine_PermanentSendFailureIsNotRetried(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "共通"})
	recs := f.seedRecipients(t, plan.ID, 3)
	f.sender.fn = func(msg Message, call int) error {
		if msg.To == recs[1].Email {
			return errs.Markf(errs.KindPermanent, "HTTP 422: invalid address")
		}
		return nil
	}

	exec, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan})
	require.NoError(t, err)

	assert.Equal(t, 3, f.sender.calls)
	assert.Equal(t, 1, f.alerts.count())
	assert.Equal(t, domain.ExecutionPartialFailed, exec.Status)
	assert.Equal(t, 2, exec.SuccessCount)
	assert.Equal(t, 1, exec.FailCount)
}

func TestEngine_RateLimitWidensThrottle(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "共通"})
	f.seedRecipients(t, plan.ID, 2)
	f.sender.fn = func(msg Message, call int) error {
		if call == 1 {
			return errs.Markf(errs.KindRateLimited, "HTTP 429")
		}
		return nil
	}

	exec, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan})
	require.NoError(t, err)

	assert.Equal(t, 1, f.throttle.increases)
	assert.Equal(t, domain.ExecutionSuccess, exec.Status)
	// backoff before the retry, then the widened pause before the second recipient
	assert.Equal(t, []time.Duration{time.Second, 15 * time.Second}, f.sleeps)
}

func TestEngine_EmergencyStop(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "共通"})
	f.seedRecipients(t, plan.ID, 5)
	job := f.runningJob(t, plan.ID, nil)
	f.sender.fn = func(msg Message, call int) error {
		if call == 2 {
			f.stop.stopped.Store(true)
		}
		return nil
	}

	exec, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan, JobID: &job.ID})
	require.ErrorIs(t, err, ErrStopped)
	require.NotNil(t, exec)

	got, err := f.executions.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStopped, got.Status)
	assert.Equal(t, 2, got.SuccessCount)
	assert.Len(t, f.items(t, exec.ID), 2)

	stored, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Cursor)
	assert.Equal(t, "2", *stored.Cursor)
}

func TestEngine_CancelledContextDoesNotRecordInFlightItem(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "{name}"})
	f.seedRecipients(t, plan.ID, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sender.fn = func(msg Message, call int) error {
		if call == 2 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	exec, err := f.engine.Execute(ctx, RunRequest{Plan: plan})
	require.ErrorIs(t, err, ErrStopped)
	items := f.items(t, exec.ID)
	require.Len(t, items, 1)
	assert.Equal(t, uint(1), items[0].RecipientID)
}

func TestEngine_CheckpointsCursor(t *testing.T) {
	cfg := defaultEngineConfig()
	cfg.HeartbeatEvery = 2
	f := newEngineFixture(t, cfg)
	plan := f.seedPlan(t, domain.Plan{Prompt: "共通"})
	f.seedRecipients(t, plan.ID, 5)
	job := f.runningJob(t, plan.ID, nil)

	_, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan, JobID: &job.ID})
	require.NoError(t, err)

	stored, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Cursor)
	assert.Equal(t, "4", *stored.Cursor)
}

func TestEngine_NoRecipients(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "共通"})

	exec, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan})
	require.NoError(t, err)
	assert.Nil(t, exec)
	assert.Zero(t, f.gen.count())
}

func TestEngine_ConfigErrors(t *testing.T) {
	t.Run("empty prompt", func(t *testing.T) {
		f := newEngineFixture(t, defaultEngineConfig())
		plan := f.seedPlan(t, domain.Plan{})
		_, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan})
		require.Error(t, err)
		assert.Equal(t, errs.KindConfig, errs.KindOf(err))
	})

	t.Run("external data unreachable", func(t *testing.T) {
		f := newEngineFixture(t, defaultEngineConfig())
		plan := f.seedPlan(t, domain.Plan{Prompt: "{external_data}", ExternalDataPath: "missing.json"})
		f.seedRecipients(t, plan.ID, 2)
		f.data.err = errs.New("object not found")

		exec, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan})
		require.Error(t, err)
		assert.Nil(t, exec)
		assert.Equal(t, errs.KindConfig, errs.KindOf(err))
		assert.Equal(t, 1, f.alerts.count())
		assert.Zero(t, f.gen.count())
	})
}

func TestEngine_SharedGenerationFailureAlertsOnce(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "{~}", ExternalDataPath: "teams/~"})
	f.data.payload = splitPayload()
	f.seedRecipients(t, plan.ID, 3)
	f.gen.fn = func(req GenerateRequest, call int) (*Content, error) {
		if strings.Contains(req.Prompt, "a") {
			return nil, errs.Markf(errs.KindPermanent, "content policy")
		}
		return &Content{Subject: "s", Body: "b"}, nil
	}

	exec, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan})
	require.NoError(t, err)

	assert.Equal(t, 2, f.gen.count())
	assert.Equal(t, 1, f.alerts.count())
	assert.Equal(t, 3, exec.SuccessCount)
	assert.Equal(t, 3, exec.FailCount)
	assert.Equal(t, domain.ExecutionPartialFailed, exec.Status)
}

func TestEngine_SharedBatchFailureAlertsOnce(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "{~}: {external_data}", ExternalDataPath: "teams/~", BatchSendEnabled: true})
	f.data.payload = splitPayload()
	f.seedRecipients(t, plan.ID, 2)
	f.gen.fn = func(req GenerateRequest, call int) (*Content, error) {
		return nil, errs.Markf(errs.KindTransient, "upstream unavailable")
	}

	exec, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan})
	require.NoError(t, err)

	assert.Equal(t, 8, f.gen.count())
	assert.Equal(t, 1, f.alerts.count())
	assert.Empty(t, f.sender.sent)

	items := f.items(t, exec.ID)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, domain.ItemKeyBatch, it.ItemKey)
		assert.Equal(t, domain.ItemFailed, it.Status)
	}
	assert.Equal(t, domain.ExecutionFailed, exec.Status)
}

func TestEngine_InjectsRecentSummaries(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "{name}さんへ続きを"})
	require.NoError(t, f.db.Create(&domain.PlanSummarySetting{
		PlanID: plan.ID, SummaryPrompt: "物語の要約", SummaryLengthTarget: 100, SummaryInjectCount: 2, SummaryMaxKeep: 3,
	}).Error)
	recs := f.seedRecipients(t, plan.ID, 1)

	summaries := repository.NewSummaryRepository(f.db)
	for _, text := range []string{"一話", "二話", "三話"} {
		require.NoError(t, summaries.Add(ctx, &domain.UserSummary{PlanID: plan.ID, RecipientID: recs[0].ID, SummaryText: text}, 3))
	}

	exec, err := f.engine.Execute(ctx, RunRequest{Plan: plan})
	require.NoError(t, err)
	assert.Equal(t, 1, exec.SuccessCount)

	require.Equal(t, 2, f.gen.count())
	content := f.gen.calls[0]
	assert.True(t, strings.HasSuffix(content.Prompt, "山田 太郎1さんへ続きを"), content.Prompt)
	assert.Contains(t, content.Prompt, "1. 二話\n2. 三話\n")
	assert.NotContains(t, content.Prompt, "一話")

	summary := f.gen.calls[1]
	assert.Equal(t, prompts.SummarySystemPrompt, summary.SystemPrompt)
	assert.Contains(t, summary.Prompt, "物語の要約")
	assert.Contains(t, summary.Prompt, "100文字程度")
	assert.Contains(t, summary.Prompt, f.sender.sent[0].Body)

	kept, err := summaries.Recent(ctx, plan.ID, recs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, kept, 3)
	assert.Equal(t, []string{"二話", "三話"}, kept[:2])
	assert.True(t, strings.HasPrefix(kept[2], "本文 "), kept[2])
}

func TestEngine_SummaryFailureDoesNotFailDelivery(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "共通"})
	require.NoError(t, f.db.Create(&domain.PlanSummarySetting{PlanID: plan.ID, SummaryPrompt: "要約"}).Error)
	recs := f.seedRecipients(t, plan.ID, 2)
	f.gen.fn = func(req GenerateRequest, call int) (*Content, error) {
		if req.SystemPrompt == prompts.SummarySystemPrompt {
			return nil, errs.Markf(errs.KindTransient, "upstream unavailable")
		}
		return &Content{Subject: "s", Body: "b"}, nil
	}

	exec, err := f.engine.Execute(ctx, RunRequest{Plan: plan})
	require.NoError(t, err)

	// one shared generation plus one summary attempt per recipient, never retried
	assert.Equal(t, 3, f.gen.count())
	assert.Equal(t, domain.ExecutionSuccess, exec.Status)
	assert.Equal(t, 2, exec.SuccessCount)
	assert.Zero(t, f.alerts.count())

	kept, err := repository.NewSummaryRepository(f.db).Recent(ctx, plan.ID, recs[0].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, kept)
}

func TestEngine_RetryFailed(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	plan := f.seedPlan(t, domain.Plan{Prompt: "共通"})
	recs := f.seedRecipients(t, plan.ID, 3)
	broken := true
	f.sender.fn = func(msg Message, call int) error {
		if broken && msg.To == recs[2].Email {
			return errs.Markf(errs.KindPermanent, "HTTP 422")
		}
		return nil
	}

	exec, err := f.engine.Execute(context.Background(), RunRequest{Plan: plan})
	require.NoError(t, err)
	require.Equal(t, domain.ExecutionPartialFailed, exec.Status)

	broken = false
	res, err := f.engine.RetryFailed(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, &RetryResult{Retried: 1, Succeeded: 1}, res)

	got, err := f.executions.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, got.Status)
	assert.Equal(t, 3, got.SuccessCount)
	assert.Equal(t, 0, got.FailCount)

	items := f.items(t, exec.ID)
	require.Len(t, items, 3)
	for _, it := range items {
		assert.Equal(t, domain.ItemDone, it.Status)
	}
}

func TestEngine_RetryFailedRefusesRunningExecution(t *testing.T) {
	f := newEngineFixture(t, defaultEngineConfig())
	exec := &domain.Execution{PlanID: 1, SendType: domain.SendTypeManual}
	require.NoError(t, f.executions.Start(context.Background(), exec, t0))

	_, err := f.engine.RetryFailed(context.Background(), exec.ID)
	assert.ErrorIs(t, err, ErrExecutionRunning)
}
