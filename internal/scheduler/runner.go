package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/timmy/planmail/internal/config"
	"github.com/timmy/planmail/internal/errs"
	"github.com/timmy/planmail/internal/logger"
	"github.com/timmy/planmail/internal/metrics"
)

// Task is one periodic job of the scheduler process.
type Task struct {
	Name string
	Spec string // standard five-field cron spec, in the runner's location
	Run  func(ctx context.Context, now time.Time) error
}

// Reporter sends the daily summary at most once per day.
type Reporter interface {
	SendOnce(ctx context.Context, now time.Time) (bool, error)
}

// Tasks wires the four scheduler tasks to their cron specs.
func Tasks(cfg config.SchedulerConfig, checker *PlanChecker, watchdog *Watchdog, rollover *Rollover, reporter Reporter) []Task {
	return []Task{
		{Name: "plan_check", Spec: cfg.PlanCheckSpec, Run: func(ctx context.Context, now time.Time) error {
			_, err := checker.Tick(ctx, now)
			return err
		}},
		{Name: "watchdog", Spec: cfg.WatchdogSpec, Run: func(ctx context.Context, now time.Time) error {
			_, err := watchdog.Sweep(ctx, now)
			return err
		}},
		{Name: "rollover", Spec: cfg.RolloverSpec, Run: func(ctx context.Context, now time.Time) error {
			_, _, err := rollover.Run(ctx, now)
			return err
		}},
		{Name: "daily_report", Spec: cfg.ReportSpec, Run: func(ctx context.Context, now time.Time) error {
			_, err := reporter.SendOnce(ctx, now)
			return err
		}},
	}
}

// Runner triggers tasks on their cron specs. A task still running when its
// next slot fires is skipped, and a panicking task is recovered and logged.
type Runner struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// NewRunner creates a Runner whose specs are read in loc. Cancelling ctx or
// calling Stop cancels the context passed to running tasks.
func NewRunner(ctx context.Context, loc *time.Location) *Runner {
	if loc == nil {
		loc = time.UTC
	}
	cl := logger.NewCronLogger(nil)
	runCtx, cancel := context.WithCancel(ctx)
	return &Runner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:    runCtx,
		cancel: cancel,
		now:    time.Now,
	}
}

// Add schedules task.
func (r *Runner) Add(task Task) error {
	if _, err := r.cron.AddFunc(task.Spec, func() { r.execute(task) }); err != nil {
		return errs.Wrapf(err, "schedule task %s with spec %q", task.Name, task.Spec)
	}
	logger.CtxInfo(r.ctx, "Task %s scheduled: %s", task.Name, task.Spec)
	return nil
}

func (r *Runner) execute(task Task) {
	ctx := logger.SetComponent(r.ctx, task.Name)
	start := time.Now()

	err := task.Run(ctx, r.now())
	if err != nil {
		metrics.SchedulerRuns.WithLabelValues(task.Name, "error").Inc()
		logger.Since(start).Error(ctx, "Task %s failed: %v", task.Name, err)
		return
	}
	metrics.SchedulerRuns.WithLabelValues(task.Name, "ok").Inc()
	logger.Since(start).Debug(ctx, "Task %s finished", task.Name)
}

// Start begins triggering tasks.
func (r *Runner) Start() {
	r.cron.Start()
	logger.CtxInfo(r.ctx, "Scheduler started")
}

// Stop cancels running tasks and waits for them to return.
func (r *Runner) Stop() {
	r.cancel()
	<-r.cron.Stop().Done()
	logger.Info("Scheduler stopped")
}
