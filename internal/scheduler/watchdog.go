package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/planmail/internal/domain"
	"github.com/timmy/planmail/internal/errs"
	"github.com/timmy/planmail/internal/logger"
	"github.com/timmy/planmail/internal/metrics"
	"github.com/timmy/planmail/internal/repository"
	"github.com/timmy/planmail/internal/service"
)

// JobSweeper is the job storage used by the watchdog.
type JobSweeper interface {
	ListStaleRunning(ctx context.Context, cutoff time.Time) ([]domain.Job, error)
	Reclassify(ctx context.Context, job domain.Job, reason string) (domain.JobStatus, error)
	ListExpiredErrors(ctx context.Context, today string) ([]domain.Job, error)
	Expire(ctx context.Context, job domain.Job, reason string) error
}

// SweepResult counts what one watchdog pass changed.
type SweepResult struct {
	Requeued  int
	Escalated int
	Expired   int
}

// Watchdog returns jobs whose worker stopped heartbeating to the claimable
// set, and escalates them once their retries are spent.
type Watchdog struct {
	jobs    JobSweeper
	alerts  service.AlertNotifier
	timeout time.Duration
	loc     *time.Location
}

// NewWatchdog creates a Watchdog. timeout is how old a heartbeat may get.
func NewWatchdog(jobs JobSweeper, alerts service.AlertNotifier, timeout time.Duration, loc *time.Location) *Watchdog {
	if loc == nil {
		loc = time.UTC
	}
	return &Watchdog{jobs: jobs, alerts: alerts, timeout: timeout, loc: loc}
}

// Sweep reclassifies stale running jobs and expires errored jobs left over
// from earlier days. Re-running it right away is a no-op.
func (w *Watchdog) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult

	stale, err := w.jobs.ListStaleRunning(ctx, now.Add(-w.timeout))
	if err != nil {
		return res, errs.Wrap(err, "list stale jobs")
	}
	for _, job := range stale {
		jobCtx := logger.ForJob(ctx, job.ID, job.PlanID)
		reason := fmt.Sprintf("heartbeat timeout (%s), retry %d/%d", w.timeout, job.RetryCount+1, job.MaxRetries)

		status, err := w.jobs.Reclassify(jobCtx, job, reason)
		if err != nil {
			if errors.Is(err, repository.ErrNotClaimable) {
				continue
			}
			logger.CtxError(jobCtx, "Failed to reclassify stale job: %v", err)
			continue
		}
		metrics.JobTransitions.WithLabelValues(string(status), "watchdog").Inc()

		if status == domain.JobStatusPending {
			res.Requeued++
			logger.CtxWarn(jobCtx, "Stale job requeued: %s", reason)
			continue
		}
		res.Escalated++
		logger.CtxError(jobCtx, "Stale job exhausted its retries: %s", reason)
		w.notify(jobCtx, job, "ハートビート停止によりリトライ上限に到達しました", reason)
	}

	today := now.In(w.loc).Format(domain.DateLayout)
	expired, err := w.jobs.ListExpiredErrors(ctx, today)
	if err != nil {
		return res, errs.Wrap(err, "list expired jobs")
	}
	for _, job := range expired {
		jobCtx := logger.ForJob(ctx, job.ID, job.PlanID)
		reason := fmt.Sprintf("expired: date %s has passed", job.Date)
		if err := w.jobs.Expire(jobCtx, job, reason); err != nil {
			if !errors.Is(err, repository.ErrNotClaimable) {
				logger.CtxError(jobCtx, "Failed to expire job: %v", err)
			}
			continue
		}
		res.Expired++
		metrics.JobTransitions.WithLabelValues("expired", "watchdog").Inc()
		w.notify(jobCtx, job, "日付を過ぎたためリトライを打ち切りました", job.LastError)
	}

	if res != (SweepResult{}) {
		logger.With(logger.Fields{
			"requeued":  res.Requeued,
			"escalated": res.Escalated,
			"expired":   res.Expired,
		}).Info(ctx, "Watchdog sweep changed jobs")
	}
	return res, nil
}

func (w *Watchdog) notify(ctx context.Context, job domain.Job, message, lastError string) {
	if w.alerts == nil {
		return
	}
	w.alerts.Notify(ctx, service.Alert{
		PlanID:  job.PlanID,
		Message: message,
		Details: map[string]interface{}{
			"job_id":      job.ID,
			"date":        job.Date,
			"send_type":   job.SendType,
			"retry_count": job.RetryCount + 1,
			"max_retries": job.MaxRetries,
			"last_error":  lastError,
		},
	})
}
