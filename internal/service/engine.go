package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/timmy/planmail/internal/domain"
	"github.com/timmy/planmail/internal/errs"
	"github.com/timmy/planmail/internal/logger"
	"github.com/timmy/planmail/internal/metrics"
	"github.com/timmy/planmail/internal/prompts"
	"github.com/timmy/planmail/internal/repository"
	"github.com/timmy/planmail/internal/source"
)

// ErrStopped is returned when a run halts on the emergency stop or on
// context cancellation. The job keeps its cursor.
var ErrStopped = errs.New("delivery stopped")

// PlanSource reads plan definitions.
type PlanSource interface {
	Get(ctx context.Context, id uint) (*domain.Plan, error)
	Questions(ctx context.Context, planID uint) ([]domain.PlanQuestion, error)
}

// RecipientSource reads the recipients of a plan and their answers.
type RecipientSource interface {
	Get(ctx context.Context, id uint) (*domain.Recipient, error)
	ListTargets(ctx context.Context, planID, afterID uint, onlyID *uint) ([]domain.Recipient, error)
	AnswerValues(ctx context.Context, recipientID, planID uint, questions []domain.PlanQuestion) (map[string]string, error)
}

// JobTracker records progress on the job being delivered.
type JobTracker interface {
	Touch(ctx context.Context, id uint, cursor *string, now time.Time) error
	AttachExecution(ctx context.Context, id, executionID uint) error
}

// ExecutionStore persists executions and their items.
type ExecutionStore interface {
	Start(ctx context.Context, exec *domain.Execution, now time.Time) error
	Get(ctx context.Context, id uint) (*domain.Execution, error)
	RecordItem(ctx context.Context, item *domain.ExecutionItem) error
	UpdateCounts(ctx context.Context, id uint, success, fail int) error
	SetSubject(ctx context.Context, id uint, subject string) error
	Finish(ctx context.Context, id uint, status domain.ExecutionStatus, success, fail int, now time.Time) error
	FailedItems(ctx context.Context, executionID uint) ([]domain.ExecutionItem, error)
}

// EventLog stores operator-facing events.
type EventLog interface {
	Record(ctx context.Context, entry *domain.SystemLog) error
}

// SummaryStore keeps the rolling per-recipient summaries of a plan.
type SummaryStore interface {
	Setting(ctx context.Context, planID uint) (*domain.PlanSummarySetting, error)
	Recent(ctx context.Context, planID, recipientID uint, n int) ([]string, error)
	Add(ctx context.Context, s *domain.UserSummary, keep int) error
}

// StopSignal reports the emergency stop.
type StopSignal interface {
	EmergencyStopped(ctx context.Context) bool
}

// ThrottleControl reads and widens the pause between sends.
type ThrottleControl interface {
	Current(ctx context.Context) time.Duration
	Increase(ctx context.Context) (time.Duration, error)
}

// EngineConfig holds the delivery retry and checkpoint settings.
type EngineConfig struct {
	MaxRetry       int           // retries after the first attempt
	BackoffBase    time.Duration // first backoff, doubled per retry
	HeartbeatEvery int           // recipients between job checkpoints
	LastErrorLimit int           // max stored error message length
	SiteURL        string        // base of unsubscribe links
}

// EngineDeps are the collaborators of the engine. Data may be nil when no
// plan uses external data, Summaries when no plan keeps summaries. Now and
// Sleep default to the wall clock.
type EngineDeps struct {
	Plans      PlanSource
	Recipients RecipientSource
	Jobs       JobTracker
	Executions ExecutionStore
	Events     EventLog
	Stop       StopSignal
	Throttle   ThrottleControl
	Generator  ContentGenerator
	Sender     EmailSender
	Alerts     AlertNotifier
	Data       source.ExternalDataProvider
	Summaries  SummaryStore

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Engine delivers one plan run: it selects the delivery mode, generates and
// sends content per recipient with retry, and checkpoints progress on the job.
type Engine struct {
	deps EngineDeps
	cfg  EngineConfig
}

// NewEngine creates an Engine.
func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepCtx
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = 5
	}
	if cfg.MaxRetry < 0 {
		cfg.MaxRetry = 0
	}
	if cfg.LastErrorLimit <= 0 {
		cfg.LastErrorLimit = 1000
	}
	return &Engine{deps: deps, cfg: cfg}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RunRequest describes one delivery run.
type RunRequest struct {
	Plan           *domain.Plan
	JobID          *uint
	SendType       domain.SendType
	Cursor         *string // last recipient id finished by an earlier attempt
	OnlyRecipient  *uint
	PromptOverride string
}

// Execute runs a delivery for req.Plan.
// Parameters:
//   - ctx: cancellation stops the run like the emergency stop does.
//   - req: plan, job and resume point.
//
// Returns:
//   - *domain.Execution: the execution, nil when there was no one to deliver to.
//   - error: ErrStopped when halted, a config-kind error when the run could not
//     start, or a storage error that aborted the run.
func (e *Engine) Execute(ctx context.Context, req RunRequest) (*domain.Execution, error) {
	plan := req.Plan
	if plan == nil {
		return nil, errs.Markf(errs.KindConfig, "plan is required")
	}
	ctx = logger.WithField(ctx, logger.FieldPlanID, plan.ID)

	prompt := req.PromptOverride
	if strings.TrimSpace(prompt) == "" {
		prompt = plan.Prompt
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, errs.Markf(errs.KindConfig, "plan %d has no prompt", plan.ID)
	}

	questions, err := e.deps.Plans.Questions(ctx, plan.ID)
	if err != nil {
		return nil, errs.Wrap(err, "load plan questions")
	}

	payload, err := e.loadData(ctx, plan)
	if err != nil {
		return nil, err
	}

	afterID := parseCursor(ctx, req.Cursor)
	recipients, err := e.deps.Recipients.ListTargets(ctx, plan.ID, afterID, req.OnlyRecipient)
	if err != nil {
		return nil, errs.Wrap(err, "list recipients")
	}
	if len(recipients) == 0 {
		logger.CtxInfo(ctx, "No recipients to deliver to")
		return nil, nil
	}

	mode := SelectMode(HasRecipientVariables(prompt, questions), payload.Split(), plan.BatchSendEnabled)
	exec := &domain.Execution{
		PlanID:     plan.ID,
		JobID:      req.JobID,
		SendType:   req.SendType,
		TotalCount: mode.ExpectedItems(len(recipients), len(payload.Items)),
	}
	if err := e.deps.Executions.Start(ctx, exec, e.deps.Now()); err != nil {
		return nil, errs.Wrap(err, "start execution")
	}
	ctx = logger.ForExecution(ctx, exec.ID)

	if req.JobID != nil {
		if err := e.deps.Jobs.AttachExecution(ctx, *req.JobID, exec.ID); err != nil {
			logger.CtxWarn(ctx, "Failed to attach execution to job: %v", err)
		}
	}

	r := e.newRun(ctx, plan, exec, mode, prompt, questions, payload)
	r.jobID = req.JobID

	logger.With(logger.Fields{
		"mode":            mode.String(),
		logger.FieldCount: len(recipients),
		"throttle_sec":    r.delay.Seconds(),
	}).Info(ctx, "Delivery started")

	return r.deliver(ctx, recipients)
}

func (e *Engine) newRun(ctx context.Context, plan *domain.Plan, exec *domain.Execution, mode DeliveryMode,
	prompt string, questions []domain.PlanQuestion, payload source.Payload) *run {
	return &run{
		e:         e,
		plan:      plan,
		exec:      exec,
		mode:      mode,
		prompt:    prompt,
		questions: questions,
		payload:   payload,
		delay:     e.deps.Throttle.Current(ctx),
		cache:     make(map[string]cachedContent),
		summary:   e.summarySetting(ctx, plan.ID),
	}
}

// summarySetting returns the plan's summary setting, nil when summaries are
// off or the setting cannot be read.
func (e *Engine) summarySetting(ctx context.Context, planID uint) *domain.PlanSummarySetting {
	if e.deps.Summaries == nil {
		return nil
	}
	s, err := e.deps.Summaries.Setting(ctx, planID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.CtxWarn(ctx, "Failed to load summary setting, continuing without summaries: %v", err)
		}
		return nil
	}
	return s
}

// loadData reads the plan's external data. A failure alerts once and is a
// config error for the whole job.
func (e *Engine) loadData(ctx context.Context, plan *domain.Plan) (source.Payload, error) {
	path := strings.TrimSpace(plan.ExternalDataPath)
	if path == "" {
		return source.Payload{}, nil
	}

	var err error
	if e.deps.Data == nil {
		err = errs.Markf(errs.KindConfig, "no external data provider configured")
	} else {
		var payload source.Payload
		payload, err = e.deps.Data.Load(ctx, path)
		if err == nil {
			return payload, nil
		}
	}

	err = errs.Mark(errs.Wrapf(err, "load external data %s", path), errs.KindConfig)
	msg := errs.Truncate(err, e.cfg.LastErrorLimit)
	logger.CtxError(ctx, "External data unavailable: %s", msg)
	e.event(ctx, &domain.SystemLog{Level: domain.LogError, EventType: "external_data_failed", PlanID: &plan.ID, Message: msg})
	e.alert(ctx, plan, "外部データの取得に失敗しました: "+msg, map[string]interface{}{"path": path})
	return source.Payload{}, err
}

func (e *Engine) event(ctx context.Context, entry *domain.SystemLog) {
	if e.deps.Events == nil {
		return
	}
	if err := e.deps.Events.Record(context.WithoutCancel(ctx), entry); err != nil {
		logger.CtxError(ctx, "Failed to record system log %s: %v", entry.EventType, err)
	}
}

func (e *Engine) alert(ctx context.Context, plan *domain.Plan, message string, details map[string]interface{}) {
	if e.deps.Alerts == nil {
		return
	}
	a := Alert{Message: message, Details: details}
	if plan != nil {
		a.PlanID = plan.ID
		a.PlanName = plan.Name
	}
	e.deps.Alerts.Notify(context.WithoutCancel(ctx), a)
}

// backoff is the wait before retry number attempt (1-based).
func (e *Engine) backoff(attempt int) time.Duration {
	return e.cfg.BackoffBase * time.Duration(1<<uint(attempt-1))
}

func parseCursor(ctx context.Context, cursor *string) uint {
	if cursor == nil || strings.TrimSpace(*cursor) == "" {
		return 0
	}
	id, err := strconv.ParseUint(strings.TrimSpace(*cursor), 10, 64)
	if err != nil {
		logger.CtxWarn(ctx, "Invalid cursor %q, starting from the first recipient", *cursor)
		return 0
	}
	logger.CtxInfo(ctx, "Resuming after recipient %d", id)
	return uint(id)
}

type cachedContent struct {
	content *Content
	err     error
}

type namedContent struct {
	name    string
	content *Content
}

// run is the mutable state of one execution.
type run struct {
	e         *Engine
	plan      *domain.Plan
	exec      *domain.Execution
	jobID     *uint
	mode      DeliveryMode
	prompt    string
	questions []domain.PlanQuestion
	payload   source.Payload

	delay      time.Duration
	sends      int
	success    int
	fail       int
	subjectSet bool
	cache      map[string]cachedContent
	summary    *domain.PlanSummarySetting

	batchAlerted bool
}

type strategyFunc func(ctx context.Context, r *run, rec domain.Recipient) error

var strategies = map[DeliveryMode]strategyFunc{
	ModeShared: func(ctx context.Context, r *run, rec domain.Recipient) error {
		return r.deliverScalar(ctx, rec, nil)
	},
	ModeSplitCached: func(ctx context.Context, r *run, rec domain.Recipient) error {
		for _, item := range r.payload.Items {
			if err := r.deliverItem(ctx, rec, nil, item); err != nil {
				return err
			}
		}
		return nil
	},
	ModeSplitCachedBatch: func(ctx context.Context, r *run, rec domain.Recipient) error {
		return r.deliverBatch(ctx, rec, nil)
	},
	ModePerRecipient: func(ctx context.Context, r *run, rec domain.Recipient) error {
		in, err := r.recipientInput(ctx, rec)
		if err != nil {
			return err
		}
		return r.deliverScalar(ctx, rec, in)
	},
	ModeSplitPerRecipient: func(ctx context.Context, r *run, rec domain.Recipient) error {
		in, err := r.recipientInput(ctx, rec)
		if err != nil {
			return err
		}
		for _, item := range r.payload.Items {
			if err := r.deliverItem(ctx, rec, in, item); err != nil {
				return err
			}
		}
		return nil
	},
	ModeSplitPerRecipientBatch: func(ctx context.Context, r *run, rec domain.Recipient) error {
		in, err := r.recipientInput(ctx, rec)
		if err != nil {
			return err
		}
		return r.deliverBatch(ctx, rec, in)
	},
}

// deliver walks recipients in id order. A strategy error is either context
// cancellation or a storage failure; both end the run.
func (r *run) deliver(ctx context.Context, recipients []domain.Recipient) (*domain.Execution, error) {
	strategy := strategies[r.mode]
	var lastDone uint

	for i, rec := range recipients {
		if r.e.deps.Stop.EmergencyStopped(ctx) {
			logger.CtxWarn(ctx, "Emergency stop is set, halting delivery")
			return r.halt(ctx, lastDone, ErrStopped)
		}
		if ctx.Err() != nil {
			return r.halt(ctx, lastDone, ErrStopped)
		}

		recCtx := logger.ForRecipient(ctx, rec.ID, "")
		if err := strategy(recCtx, r, rec); err != nil {
			if ctx.Err() != nil {
				return r.halt(ctx, lastDone, ErrStopped)
			}
			logger.CtxError(recCtx, "Delivery aborted: %v", err)
			return r.halt(ctx, lastDone, err)
		}
		lastDone = rec.ID

		if (i+1)%r.e.cfg.HeartbeatEvery == 0 {
			if err := r.checkpoint(ctx, lastDone); err != nil {
				if errors.Is(err, repository.ErrNotClaimable) {
					logger.CtxWarn(ctx, "Job is no longer running, halting delivery")
					return r.halt(ctx, lastDone, ErrStopped)
				}
				logger.CtxWarn(ctx, "Checkpoint failed: %v", err)
			}
		}
	}

	return r.finish(ctx)
}

func (r *run) checkpoint(ctx context.Context, lastDone uint) error {
	if err := r.e.deps.Executions.UpdateCounts(ctx, r.exec.ID, r.success, r.fail); err != nil {
		logger.CtxWarn(ctx, "Failed to update execution counts: %v", err)
	}
	if r.jobID == nil {
		return nil
	}
	cursor := strconv.FormatUint(uint64(lastDone), 10)
	return r.e.deps.Jobs.Touch(ctx, *r.jobID, &cursor, r.e.deps.Now())
}

// halt ends the run early: the cursor is saved and the execution is stopped.
func (r *run) halt(ctx context.Context, lastDone uint, cause error) (*domain.Execution, error) {
	ctx = context.WithoutCancel(ctx)
	now := r.e.deps.Now()

	if r.jobID != nil && lastDone != 0 {
		cursor := strconv.FormatUint(uint64(lastDone), 10)
		if err := r.e.deps.Jobs.Touch(ctx, *r.jobID, &cursor, now); err != nil {
			logger.CtxWarn(ctx, "Failed to save cursor %s: %v", cursor, err)
		}
	}
	if err := r.e.deps.Executions.Finish(ctx, r.exec.ID, domain.ExecutionStopped, r.success, r.fail, now); err != nil {
		logger.CtxError(ctx, "Failed to stop execution: %v", err)
	}
	r.settle(domain.ExecutionStopped, now)

	logger.With(logger.Fields{"success": r.success, "fail": r.fail}).
		Warn(ctx, "Delivery stopped after recipient %d", lastDone)
	return r.exec, cause
}

func (r *run) finish(ctx context.Context) (*domain.Execution, error) {
	now := r.e.deps.Now()
	status := domain.TerminalStatus(r.success, r.fail)
	if err := r.e.deps.Executions.Finish(ctx, r.exec.ID, status, r.success, r.fail, now); err != nil {
		return r.exec, errs.Wrap(err, "finish execution")
	}
	r.settle(status, now)

	logger.With(logger.Fields{
		"success":          r.success,
		"fail":             r.fail,
		logger.FieldStatus: string(status),
	}).Info(ctx, "Delivery finished")
	return r.exec, nil
}

func (r *run) settle(status domain.ExecutionStatus, now time.Time) {
	r.exec.Status = status
	r.exec.SuccessCount = r.success
	r.exec.FailCount = r.fail
	r.exec.CompletedAt = &now
	metrics.Executions.WithLabelValues(string(status)).Inc()
}

// recipientInput is what a personalized mode generates from for one recipient.
type recipientInput struct {
	vars   Vars
	prompt string
}

// recipientInput loads the recipient's answers and, when the plan keeps
// summaries, puts the latest ones in front of the prompt. Summaries that
// cannot be read are skipped.
func (r *run) recipientInput(ctx context.Context, rec domain.Recipient) (*recipientInput, error) {
	raw, err := r.e.deps.Recipients.AnswerValues(ctx, rec.ID, r.plan.ID, r.questions)
	if err != nil {
		return nil, errs.Wrapf(err, "load answers for recipient %d", rec.ID)
	}
	in := &recipientInput{vars: RecipientVars(rec, DecodeAnswers(r.questions, raw)), prompt: r.prompt}

	if r.summary != nil {
		summaries, err := r.e.deps.Summaries.Recent(ctx, r.plan.ID, rec.ID, r.summary.SummaryInjectCount)
		if err != nil {
			logger.CtxWarn(ctx, "Failed to load summaries for recipient %d: %v", rec.ID, err)
		} else {
			in.prompt = prompts.InjectSummaries(r.prompt, summaries)
		}
	}
	return in, nil
}

// render resolves the prompt for in, or the shared prompt when in is nil,
// with one split item when given.
func (r *run) render(in *recipientInput, item *source.Item) string {
	var v Vars
	prompt := r.prompt
	if in != nil {
		v = in.vars
		prompt = in.prompt
	}
	if item != nil {
		payload, name := item.Payload, item.Name
		v.ExternalData = &payload
		v.ItemName = &name
	} else if r.payload.Scalar != "" {
		scalar := r.payload.Scalar
		v.ExternalData = &scalar
	}
	return ResolveVariables(prompt, v)
}

// deliverScalar sends the unsplit content. in nil means shared content.
func (r *run) deliverScalar(ctx context.Context, rec domain.Recipient, in *recipientInput) error {
	if in != nil {
		return r.generateAndSend(ctx, rec, "", r.render(in, nil))
	}
	content, err := r.sharedContent(ctx, "", r.render(nil, nil), true)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.recordFailure(ctx, rec, "", 0, err, false)
	}
	return r.sendPrepared(ctx, rec, "", content)
}

// deliverItem sends one split item. in nil means the item content is shared.
func (r *run) deliverItem(ctx context.Context, rec domain.Recipient, in *recipientInput, item source.Item) error {
	ctx = logger.WithField(ctx, logger.FieldItemKey, item.Name)
	if in != nil {
		return r.generateAndSend(ctx, rec, item.Name, r.render(in, &item))
	}
	content, err := r.sharedContent(ctx, item.Name, r.render(nil, &item), true)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.recordFailure(ctx, rec, item.Name, 0, err, false)
	}
	return r.sendPrepared(ctx, rec, item.Name, content)
}

// deliverBatch combines every split item into one email. Items whose
// generation failed are left out; if none remain the recipient fails.
// Shared batch content alerts once per run, not once per item.
func (r *run) deliverBatch(ctx context.Context, rec domain.Recipient, in *recipientInput) error {
	var (
		parts   []namedContent
		lastErr error
	)
	for _, item := range r.payload.Items {
		var (
			content *Content
			err     error
		)
		if in != nil {
			content, _, err = r.generateWithRetry(ctx, r.render(in, &item))
		} else {
			content, err = r.sharedContent(ctx, item.Name, r.render(nil, &item), false)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			logger.CtxWarn(ctx, "Skipping item %s in combined email: %v", item.Name, err)
			continue
		}
		parts = append(parts, namedContent{name: item.Name, content: content})
	}

	if len(parts) == 0 {
		err := errs.New("content generation failed for every item")
		if lastErr != nil {
			err = errs.Wrap(lastErr, "content generation failed for every item")
		}
		alert := in != nil || !r.batchAlerted
		if in == nil {
			r.batchAlerted = true
		}
		return r.recordFailure(ctx, rec, domain.ItemKeyBatch, 0, err, alert)
	}
	return r.sendPrepared(ctx, rec, domain.ItemKeyBatch, combine(parts))
}

// combine joins item bodies under their names and keeps the first subject.
func combine(parts []namedContent) *Content {
	sections := make([]string, 0, len(parts))
	for _, p := range parts {
		sections = append(sections, prompts.CombinedSection(p.name, p.content.Body))
	}
	return &Content{
		Subject: parts[0].content.Subject,
		Body:    strings.Join(sections, prompts.CombinedSeparator),
	}
}

// sharedContent generates content for key once per run. A failure is cached
// too, so the alert fires at most once and later recipients fail without
// retrying. notify false leaves alerting to the caller.
func (r *run) sharedContent(ctx context.Context, key, prompt string, notify bool) (*Content, error) {
	if c, ok := r.cache[key]; ok {
		return c.content, c.err
	}

	content, attempts, err := r.generateWithRetry(ctx, prompt)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		err = errs.Wrap(err, "content generation failed")
		msg := errs.Truncate(err, r.e.cfg.LastErrorLimit)
		logger.With(logger.Fields{logger.FieldItemKey: key}).WithAttempt(attempts).
			Error(ctx, "Shared content generation failed: %s", msg)
		r.e.event(ctx, &domain.SystemLog{
			Level: domain.LogError, EventType: "generation_failed",
			PlanID: &r.plan.ID, ExecutionID: &r.exec.ID, Message: msg,
		})
		if notify {
			r.e.alert(ctx, r.plan, fmt.Sprintf("コンテンツ生成失敗 (%d回試行): %s", attempts, msg),
				map[string]interface{}{"execution_id": r.exec.ID, "item_key": key})
		}
	}
	r.cache[key] = cachedContent{content: content, err: err}
	return content, err
}

// retry calls fn up to MaxRetry+1 times with exponential backoff between
// attempts. It stops early on context cancellation and non-retryable errors,
// and widens the throttle on rate limits. It returns the attempts made.
func (r *run) retry(ctx context.Context, op string, fn func(ctx context.Context) error) (int, error) {
	var err error
	for attempt := 0; attempt <= r.e.cfg.MaxRetry; attempt++ {
		if attempt > 0 {
			if serr := r.e.deps.Sleep(ctx, r.e.backoff(attempt)); serr != nil {
				return attempt, serr
			}
		}

		err = fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		if ctx.Err() != nil {
			return attempt + 1, ctx.Err()
		}
		if errs.KindOf(err) == errs.KindRateLimited {
			r.widen(ctx)
		}
		if !errs.Retryable(err) {
			return attempt + 1, err
		}
		if attempt < r.e.cfg.MaxRetry {
			logger.With(logger.Fields{logger.FieldAttempt: attempt + 1}).
				Warn(ctx, "%s failed, retrying (%d/%d): %v", op, attempt+1, r.e.cfg.MaxRetry, err)
		}
	}
	return r.e.cfg.MaxRetry + 1, err
}

func (r *run) widen(ctx context.Context) {
	d, err := r.e.deps.Throttle.Increase(ctx)
	if err != nil {
		logger.CtxWarn(ctx, "Failed to increase throttle: %v", err)
		return
	}
	r.delay = d
}

// pace sleeps the throttle delay before every send sequence but the first.
func (r *run) pace(ctx context.Context) error {
	r.sends++
	if r.sends == 1 {
		return nil
	}
	return r.e.deps.Sleep(ctx, r.delay)
}

func (r *run) generate(ctx context.Context, prompt string) (*Content, error) {
	return r.e.deps.Generator.Generate(ctx, GenerateRequest{
		Prompt:       prompt,
		SystemPrompt: r.plan.SystemPrompt,
		Model:        r.plan.Model,
	})
}

func (r *run) generateWithRetry(ctx context.Context, prompt string) (*Content, int, error) {
	var content *Content
	attempts, err := r.retry(ctx, "generate", func(ctx context.Context) error {
		c, err := r.generate(ctx, prompt)
		if err != nil {
			return err
		}
		content = c
		return nil
	})
	return content, attempts, err
}

func (r *run) send(ctx context.Context, rec domain.Recipient, c *Content) (string, error) {
	return r.e.deps.Sender.Send(ctx, Message{
		To:             rec.Email,
		Subject:        c.Subject,
		Body:           c.Body,
		UnsubscribeURL: r.unsubscribeURL(rec),
	})
}

func (r *run) unsubscribeURL(rec domain.Recipient) string {
	if rec.UnsubscribeToken == "" || r.e.cfg.SiteURL == "" {
		return ""
	}
	return strings.TrimRight(r.e.cfg.SiteURL, "/") + prompts.UnsubscribePath + url.QueryEscape(rec.UnsubscribeToken)
}

// personalize fills recipient name tokens the generator left in the content.
func personalize(c *Content, rec domain.Recipient) *Content {
	v := RecipientVars(rec, nil)
	return &Content{
		Subject: ResolveVariables(c.Subject, v),
		Body:    ResolveVariables(c.Body, v),
	}
}

// sendPrepared sends already generated content, retrying the send only.
func (r *run) sendPrepared(ctx context.Context, rec domain.Recipient, key string, content *Content) error {
	if err := r.pace(ctx); err != nil {
		return err
	}
	c := personalize(content, rec)

	var msgID string
	attempts, err := r.retry(ctx, "send", func(ctx context.Context) error {
		id, err := r.send(ctx, rec, c)
		if err != nil {
			return err
		}
		msgID = id
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.recordFailure(ctx, rec, key, attempts, err, true)
	}
	if err := r.recordSuccess(ctx, rec, key, c.Subject, msgID, attempts); err != nil {
		return err
	}
	r.summarize(ctx, rec, c.Body)
	return nil
}

// generateAndSend retries generation and send together.
func (r *run) generateAndSend(ctx context.Context, rec domain.Recipient, key, prompt string) error {
	if err := r.pace(ctx); err != nil {
		return err
	}

	var (
		sent  *Content
		msgID string
	)
	attempts, err := r.retry(ctx, "generate and send", func(ctx context.Context) error {
		generated, err := r.generate(ctx, prompt)
		if err != nil {
			return err
		}
		c := personalize(generated, rec)
		id, err := r.send(ctx, rec, c)
		if err != nil {
			return err
		}
		sent, msgID = c, id
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.recordFailure(ctx, rec, key, attempts, err, true)
	}
	if err := r.recordSuccess(ctx, rec, key, sent.Subject, msgID, attempts); err != nil {
		return err
	}
	r.summarize(ctx, rec, sent.Body)
	return nil
}

// summarize stores a summary of a delivered body for the recipient. It is a
// single attempt and never fails the delivery.
func (r *run) summarize(ctx context.Context, rec domain.Recipient, body string) {
	if r.summary == nil || ctx.Err() != nil {
		return
	}
	start := time.Now()
	c, err := r.e.deps.Generator.Generate(ctx, GenerateRequest{
		Prompt:       prompts.SummaryPrompt(r.summary.SummaryPrompt, r.summary.SummaryLengthTarget, body),
		SystemPrompt: prompts.SummarySystemPrompt,
		Model:        r.plan.Model,
	})
	if err != nil {
		logger.CtxWarn(ctx, "Summary generation for recipient %d failed: %v", rec.ID, err)
		return
	}
	text := strings.TrimSpace(c.Body)
	if text == "" {
		return
	}

	s := &domain.UserSummary{PlanID: r.plan.ID, RecipientID: rec.ID, SummaryText: text}
	if err := r.e.deps.Summaries.Add(context.WithoutCancel(ctx), s, r.summary.SummaryMaxKeep); err != nil {
		logger.CtxWarn(ctx, "Failed to store summary for recipient %d: %v", rec.ID, err)
		return
	}
	logger.Since(start).Debug(ctx, "Summary stored for recipient %d", rec.ID)
}

func (r *run) recordSuccess(ctx context.Context, rec domain.Recipient, key, subject, msgID string, attempts int) error {
	now := r.e.deps.Now().UTC()
	item := &domain.ExecutionItem{
		ExecutionID:       r.exec.ID,
		RecipientID:       rec.ID,
		ItemKey:           key,
		MemberNo:          rec.MemberNo,
		Status:            domain.ItemDone,
		RetryCount:        attempts - 1,
		ProviderMessageID: msgID,
		SentAt:            &now,
	}
	if err := r.e.deps.Executions.RecordItem(context.WithoutCancel(ctx), item); err != nil {
		return errs.Wrap(err, "record delivered item")
	}
	r.success++
	metrics.Items.WithLabelValues(r.mode.String(), string(domain.ItemDone)).Inc()

	if !r.subjectSet {
		if err := r.e.deps.Executions.SetSubject(ctx, r.exec.ID, subject); err != nil {
			logger.CtxWarn(ctx, "Failed to store execution subject: %v", err)
		}
		r.subjectSet = true
	}
	logger.CtxDebug(ctx, "Delivered to recipient %d (message %s)", rec.ID, msgID)
	return nil
}

// recordFailure stores a failed item, logs the event and optionally alerts.
func (r *run) recordFailure(ctx context.Context, rec domain.Recipient, key string, attempts int, cause error, alert bool) error {
	msg := errs.Truncate(cause, r.e.cfg.LastErrorLimit)
	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}
	item := &domain.ExecutionItem{
		ExecutionID:      r.exec.ID,
		RecipientID:      rec.ID,
		ItemKey:          key,
		MemberNo:         rec.MemberNo,
		Status:           domain.ItemFailed,
		RetryCount:       retries,
		LastErrorMessage: msg,
	}
	if err := r.e.deps.Executions.RecordItem(context.WithoutCancel(ctx), item); err != nil {
		return errs.Wrap(err, "record failed item")
	}
	r.fail++
	metrics.Items.WithLabelValues(r.mode.String(), string(domain.ItemFailed)).Inc()

	logger.With(logger.Fields{logger.FieldItemKey: key}).WithAttempt(attempts).
		Error(ctx, "Delivery to recipient %d failed: %s", rec.ID, msg)

	recID := rec.ID
	r.e.event(ctx, &domain.SystemLog{
		Level:       domain.LogError,
		EventType:   "delivery_failed",
		PlanID:      &r.plan.ID,
		RecipientID: &recID,
		MemberNo:    rec.MemberNo,
		ExecutionID: &r.exec.ID,
		Message:     msg,
	})

	if alert {
		r.e.alert(ctx, r.plan, fmt.Sprintf("リトライ上限到達 (%d回試行): %s", attempts, msg), map[string]interface{}{
			"execution_id": r.exec.ID,
			"recipient_id": rec.ID,
			"member_no":    rec.MemberNo,
			"email":        rec.Email,
			"item_key":     key,
		})
	}
	return nil
}
