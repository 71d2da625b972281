// Package scheduler holds the periodic tasks of the scheduler process: the
// per-minute plan check, the watchdog sweep, the midnight rollover and the
// daily report, plus the cron runner that triggers them.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/planmail/internal/domain"
	"github.com/timmy/planmail/internal/errs"
	"github.com/timmy/planmail/internal/logger"
	"github.com/timmy/planmail/internal/repository"
	"github.com/timmy/planmail/internal/source"
)

// PlanLister lists the plans that may be scheduled.
type PlanLister interface {
	ListActive(ctx context.Context) ([]domain.Plan, error)
}

// JobCreator inserts a job unless one already exists.
type JobCreator interface {
	CreateIfAbsent(ctx context.Context, job *domain.Job) error
}

// Controls is the shared switch board read and written by the scheduler.
type Controls interface {
	EmergencyStopped(ctx context.Context) bool
	RecordSchedulerHeartbeat(ctx context.Context, ttl time.Duration) error
}

// PlanChecker creates today's jobs for plans whose send time is now.
type PlanChecker struct {
	plans        PlanLister
	jobs         JobCreator
	controls     Controls
	calendar     source.CalendarProvider
	loc          *time.Location
	heartbeatTTL time.Duration
	maxRetries   int
}

// NewPlanChecker creates a PlanChecker. calendar may be nil when no plan
// uses an external calendar.
func NewPlanChecker(plans PlanLister, jobs JobCreator, controls Controls, calendar source.CalendarProvider,
	loc *time.Location, heartbeatTTL time.Duration, maxRetries int) *PlanChecker {
	if loc == nil {
		loc = time.UTC
	}
	return &PlanChecker{
		plans:        plans,
		jobs:         jobs,
		controls:     controls,
		calendar:     calendar,
		loc:          loc,
		heartbeatTTL: heartbeatTTL,
		maxRetries:   maxRetries,
	}
}

// Tick writes the liveness heartbeat and creates pending jobs for every plan
// due at now. A failing plan is logged and does not stop the others.
// Returns the number of jobs created.
func (c *PlanChecker) Tick(ctx context.Context, now time.Time) (int, error) {
	if err := c.controls.RecordSchedulerHeartbeat(ctx, c.heartbeatTTL); err != nil {
		logger.CtxWarn(ctx, "Failed to write scheduler heartbeat: %v", err)
	}
	if c.controls.EmergencyStopped(ctx) {
		logger.CtxInfo(ctx, "Emergency stop is set, skipping plan check")
		return 0, nil
	}

	plans, err := c.plans.ListActive(ctx)
	if err != nil {
		return 0, errs.Wrap(err, "list active plans")
	}

	local := now.In(c.loc)
	hhmm := local.Format("15:04")
	today := local.Format(domain.DateLayout)

	created := 0
	for i := range plans {
		plan := &plans[i]
		if plan.SendTime != hhmm {
			continue
		}
		planCtx := logger.WithField(ctx, logger.FieldPlanID, plan.ID)

		ok, err := c.due(planCtx, plan, local)
		if err != nil {
			logger.CtxError(planCtx, "Failed to evaluate schedule of plan %s: %v", plan.Name, err)
			continue
		}
		if !ok {
			continue
		}

		job := &domain.Job{
			PlanID:     plan.ID,
			Date:       today,
			SendType:   domain.SendTypeScheduled,
			Status:     domain.JobStatusPending,
			MaxRetries: c.maxRetries,
		}
		if err := c.jobs.CreateIfAbsent(planCtx, job); err != nil {
			if errors.Is(err, repository.ErrJobExists) {
				continue
			}
			logger.CtxError(planCtx, "Failed to create job for plan %s: %v", plan.Name, err)
			continue
		}
		created++
		logger.With(logger.Fields{logger.FieldJobID: job.ID}).
			Info(planCtx, "Scheduled job created for plan %s on %s", plan.Name, today)
	}
	return created, nil
}

// due evaluates the plan's schedule predicate for the local day.
func (c *PlanChecker) due(ctx context.Context, plan *domain.Plan, local time.Time) (bool, error) {
	switch plan.ScheduleKind {
	case domain.ScheduleDaily, "":
		return true, nil
	case domain.ScheduleWeekday:
		return plan.Weekdays.Contains(domain.IsoWeekday(local)), nil
	case domain.ScheduleCalendar:
		if c.calendar == nil {
			return false, errs.Markf(errs.KindConfig, "no calendar provider configured")
		}
		if plan.CalendarRef == "" {
			return false, errs.Markf(errs.KindConfig, "plan has no calendar reference")
		}
		return c.calendar.IsScheduled(ctx, plan.CalendarRef, local)
	default:
		return false, errs.Markf(errs.KindConfig, "unknown schedule kind %q", plan.ScheduleKind)
	}
}
