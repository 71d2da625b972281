package scheduler

import (
	"context"
	"time"

	"github.com/timmy/planmail/internal/domain"
	"github.com/timmy/planmail/internal/errs"
	"github.com/timmy/planmail/internal/logger"
	"github.com/timmy/planmail/internal/metrics"
)

// RunningJobs force-fails jobs still running.
type RunningJobs interface {
	ForceFailRunning(ctx context.Context, today, reason string) (int64, error)
}

// RunningExecutions stops executions still running.
type RunningExecutions interface {
	StopRunning(ctx context.Context, before, now time.Time) (int64, error)
}

// Rollover closes out the previous day at midnight.
type Rollover struct {
	jobs       RunningJobs
	executions RunningExecutions
	loc        *time.Location
}

// NewRollover creates a Rollover whose day boundary is midnight in loc.
func NewRollover(jobs RunningJobs, executions RunningExecutions, loc *time.Location) *Rollover {
	if loc == nil {
		loc = time.UTC
	}
	return &Rollover{jobs: jobs, executions: executions, loc: loc}
}

// Run moves running jobs of earlier days to error and stops executions that
// started before the local day began. Work for today is left alone.
func (r *Rollover) Run(ctx context.Context, now time.Time) (jobs, executions int64, err error) {
	local := now.In(r.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)

	jobs, err = r.jobs.ForceFailRunning(ctx, local.Format(domain.DateLayout), "day rollover: still running at midnight")
	if err != nil {
		return 0, 0, errs.Wrap(err, "force fail running jobs")
	}
	metrics.JobTransitions.WithLabelValues("error", "rollover").Add(float64(jobs))

	executions, err = r.executions.StopRunning(ctx, dayStart, now)
	if err != nil {
		return jobs, 0, errs.Wrap(err, "stop running executions")
	}
	metrics.Executions.WithLabelValues("stopped").Add(float64(executions))

	if jobs > 0 || executions > 0 {
		logger.CtxWarn(ctx, "Day rollover failed %d running jobs and stopped %d executions", jobs, executions)
	}
	return jobs, executions, nil
}
