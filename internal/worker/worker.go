// Package worker claims delivery jobs one at a time and runs them through
// the delivery engine.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/timmy/planmail/internal/domain"
	"github.com/timmy/planmail/internal/errs"
	"github.com/timmy/planmail/internal/logger"
	"github.com/timmy/planmail/internal/metrics"
	"github.com/timmy/planmail/internal/repository"
	"github.com/timmy/planmail/internal/service"
)

// JobQueue is the job storage the worker drives.
type JobQueue interface {
	NextClaimable(ctx context.Context, date string) (*domain.Job, error)
	Claim(ctx context.Context, job *domain.Job, now time.Time) error
	Complete(ctx context.Context, id uint) error
	Fail(ctx context.Context, id uint, reason string) (*domain.Job, error)
	Requeue(ctx context.Context, id uint, reason string) error
}

// PlanLoader reads the plan of a claimed job.
type PlanLoader interface {
	Get(ctx context.Context, id uint) (*domain.Plan, error)
}

// Executor runs one delivery.
type Executor interface {
	Execute(ctx context.Context, req service.RunRequest) (*domain.Execution, error)
}

// Config controls the polling loop.
type Config struct {
	IdleInterval   time.Duration // sleep when nothing is claimable
	StopInterval   time.Duration // sleep while the emergency stop is set
	LastErrorLimit int
}

// Outcome is what ProcessNext did.
type Outcome string

const (
	OutcomeIdle      Outcome = "idle"
	OutcomePaused    Outcome = "paused"
	OutcomeLost      Outcome = "lost"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeRequeued  Outcome = "requeued"
)

// Worker is the single consumer of the job table.
type Worker struct {
	id     string
	jobs   JobQueue
	plans  PlanLoader
	engine Executor
	stop   service.StopSignal
	alerts service.AlertNotifier
	loc    *time.Location
	cfg    Config
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Worker. Jobs are picked for the current date in loc.
func New(jobs JobQueue, plans PlanLoader, engine Executor, stop service.StopSignal,
	alerts service.AlertNotifier, loc *time.Location, cfg Config) *Worker {
	if loc == nil {
		loc = time.UTC
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = 5 * time.Second
	}
	if cfg.StopInterval <= 0 {
		cfg.StopInterval = 10 * time.Second
	}
	if cfg.LastErrorLimit <= 0 {
		cfg.LastErrorLimit = 1000
	}
	return &Worker{
		id:     uuid.NewString(),
		jobs:   jobs,
		plans:  plans,
		engine: engine,
		stop:   stop,
		alerts: alerts,
		loc:    loc,
		cfg:    cfg,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run polls for work until ctx is cancelled. A job in flight when ctx is
// cancelled is requeued with its cursor before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	ctx = logger.WithFields(logger.SetComponent(ctx, "worker"), logger.Fields{"worker_id": w.id})
	logger.CtxInfo(ctx, "Worker started")
	defer logger.CtxInfo(ctx, "Worker stopped")

	for {
		outcome, err := w.ProcessNext(ctx)
		if err != nil {
			logger.CtxError(ctx, "Worker iteration failed: %v", err)
		}
		if ctx.Err() != nil {
			return nil
		}

		var wait time.Duration
		switch {
		case err != nil, outcome == OutcomeIdle:
			wait = w.cfg.IdleInterval
		case outcome == OutcomePaused:
			wait = w.cfg.StopInterval
		}
		if wait > 0 {
			if err := w.sleep(ctx, wait); err != nil {
				return nil
			}
		}
	}
}

// ProcessNext claims and runs at most one job.
func (w *Worker) ProcessNext(ctx context.Context) (Outcome, error) {
	if w.stop.EmergencyStopped(ctx) {
		logger.CtxDebug(ctx, "Emergency stop is set, not claiming")
		return OutcomePaused, nil
	}

	now := w.now()
	today := now.In(w.loc).Format(domain.DateLayout)
	job, err := w.jobs.NextClaimable(ctx, today)
	if err != nil {
		return OutcomeIdle, errs.Wrap(err, "find claimable job")
	}
	if job == nil {
		return OutcomeIdle, nil
	}

	jobCtx := logger.ForJob(ctx, job.ID, job.PlanID)
	if err := w.jobs.Claim(jobCtx, job, now); err != nil {
		if errors.Is(err, repository.ErrNotClaimable) {
			logger.CtxInfo(jobCtx, "Job was claimed elsewhere")
			return OutcomeLost, nil
		}
		return OutcomeIdle, errs.Wrap(err, "claim job")
	}
	metrics.JobTransitions.WithLabelValues(string(domain.JobStatusRunning), "worker").Inc()
	logger.With(logger.Fields{"retry_count": job.RetryCount, "send_type": job.SendType}).
		Info(jobCtx, "Job claimed")

	return w.process(jobCtx, job)
}

func (w *Worker) process(ctx context.Context, job *domain.Job) (Outcome, error) {
	start := time.Now()

	plan, err := w.plans.Get(ctx, job.PlanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = errs.Markf(errs.KindConfig, "plan %d not found", job.PlanID)
		}
		return w.fail(ctx, job, err)
	}

	exec, err := w.engine.Execute(ctx, service.RunRequest{
		Plan:           plan,
		JobID:          &job.ID,
		SendType:       job.SendType,
		Cursor:         job.Cursor,
		OnlyRecipient:  job.TargetRecipientID,
		PromptOverride: job.PromptOverride,
	})

	if errors.Is(err, service.ErrStopped) || (err != nil && ctx.Err() != nil) {
		// The engine already saved the cursor; the job resumes on the next claim.
		if rerr := w.jobs.Requeue(context.WithoutCancel(ctx), job.ID, "stopped: "+err.Error()); rerr != nil {
			return OutcomeRequeued, errs.Wrap(rerr, "requeue stopped job")
		}
		metrics.JobTransitions.WithLabelValues(string(domain.JobStatusPending), "worker").Inc()
		logger.Since(start).Warn(ctx, "Job stopped and requeued")
		return OutcomeRequeued, nil
	}
	if err != nil {
		return w.fail(ctx, job, err)
	}

	if err := w.jobs.Complete(context.WithoutCancel(ctx), job.ID); err != nil {
		return OutcomeCompleted, errs.Wrap(err, "complete job")
	}
	metrics.JobTransitions.WithLabelValues(string(domain.JobStatusComplete), "worker").Inc()

	entry := logger.Since(start)
	if exec == nil {
		entry.Info(ctx, "Job complete, nothing to deliver")
	} else {
		entry.With(logger.Fields{
			logger.FieldExecutionID: exec.ID,
			"success":               exec.SuccessCount,
			"fail":                  exec.FailCount,
		}).WithStatus(string(exec.Status)).Info(ctx, "Job complete")
	}
	return OutcomeCompleted, nil
}

func (w *Worker) fail(ctx context.Context, job *domain.Job, cause error) (Outcome, error) {
	reason := errs.Truncate(cause, w.cfg.LastErrorLimit)
	updated, err := w.jobs.Fail(context.WithoutCancel(ctx), job.ID, reason)
	if err != nil {
		return OutcomeFailed, errs.Wrapf(err, "record job failure (%s)", reason)
	}
	metrics.JobTransitions.WithLabelValues(string(domain.JobStatusError), "worker").Inc()
	logger.With(logger.Fields{"retry_count": updated.RetryCount, "max_retries": updated.MaxRetries}).
		Error(ctx, "Job failed: %s", reason)

	if !updated.RetriesLeft() && w.alerts != nil {
		w.alerts.Notify(ctx, service.Alert{
			PlanID:  job.PlanID,
			Message: "ジョブがリトライ上限に到達しました",
			Details: map[string]interface{}{
				"job_id":      job.ID,
				"date":        job.Date,
				"send_type":   job.SendType,
				"retry_count": updated.RetryCount,
				"max_retries": updated.MaxRetries,
				"last_error":  reason,
			},
		})
	}
	return OutcomeFailed, nil
}
