package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/planmail/internal/app"
	"github.com/timmy/planmail/internal/logger"
	"github.com/timmy/planmail/internal/scheduler"
	"github.com/timmy/planmail/internal/service"
)

func main() {
	logger.SetDefaultLogger(logger.NewForBinary("scheduler"))
	defer logger.Sync()

	a, err := app.New(os.Getenv("CONFIG_PATH"), false)
	if err != nil {
		logger.Fatal("Failed to initialize: %v", err)
	}
	defer a.Close()
	cfg := a.Config

	sender := a.Sender()
	alerts := a.Alerts(sender)

	checker := scheduler.NewPlanChecker(a.Plans, a.Jobs, a.Controls, a.Calendar(), a.Loc,
		cfg.Scheduler.HeartbeatTTL, cfg.Worker.DefaultMaxRetries)
	watchdog := scheduler.NewWatchdog(a.Jobs, alerts, cfg.Watchdog.HeartbeatTimeout, a.Loc)
	rollover := scheduler.NewRollover(a.Jobs, a.Executions, a.Loc)
	reporter := service.NewDailyReporter(a.Executions, a.Plans, a.Events, sender,
		cfg.Alert.Recipients, cfg.Mailer.SiteName, a.Loc, service.NewReportState())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.SetComponent(ctx, "scheduler")

	runner := scheduler.NewRunner(ctx, a.Loc)
	for _, task := range scheduler.Tasks(cfg.Scheduler, checker, watchdog, rollover, reporter) {
		if err := runner.Add(task); err != nil {
			logger.Fatal("Failed to schedule task: %v", err)
		}
	}
	runner.Start()

	<-ctx.Done()
	logger.Info("Shutting down scheduler...")
	runner.Stop()
}
