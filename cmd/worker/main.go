package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/planmail/internal/app"
	"github.com/timmy/planmail/internal/logger"
	"github.com/timmy/planmail/internal/worker"
)

func main() {
	logger.SetDefaultLogger(logger.NewForBinary("worker"))
	defer logger.Sync()

	a, err := app.New(os.Getenv("CONFIG_PATH"), true)
	if err != nil {
		logger.Fatal("Failed to initialize: %v", err)
	}
	defer a.Close()
	cfg := a.Config

	sender := a.Sender()
	alerts := a.Alerts(sender)
	engine, err := a.Engine(sender, alerts)
	if err != nil {
		logger.Fatal("Failed to initialize delivery engine: %v", err)
	}

	w := worker.New(a.Jobs, a.Plans, engine, a.Controls, alerts, a.Loc, worker.Config{
		IdleInterval:   cfg.Worker.IdleInterval,
		StopInterval:   cfg.Worker.StopInterval,
		LastErrorLimit: cfg.Delivery.LastErrorLimit,
	})

	// SIGTERM cancels the run; the in-flight job is checkpointed and requeued.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil {
		logger.Error("Worker exited with error: %v", err)
	}
}
