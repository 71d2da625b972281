package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/planmail/internal/api"
	"github.com/timmy/planmail/internal/api/handler"
	"github.com/timmy/planmail/internal/api/middleware"
	"github.com/timmy/planmail/internal/app"
	"github.com/timmy/planmail/internal/logger"
)

func main() {
	log := logger.NewForBinary("api")
	logger.SetDefaultLogger(log)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	a, err := app.New(os.Getenv("CONFIG_PATH"), true)
	if err != nil {
		logger.Fatal("Failed to initialize: %v", err)
	}
	defer a.Close()
	cfg := a.Config

	sender := a.Sender()
	engine, err := a.Engine(sender, a.Alerts(sender))
	if err != nil {
		logger.Fatal("Failed to initialize delivery engine: %v", err)
	}

	sqlDB, err := a.DB.DB()
	if err != nil {
		logger.Fatal("Failed to get database handle: %v", err)
	}

	executions := handler.NewExecutionHandler(a.Executions, engine)
	router := api.SetupRouter(api.Handlers{
		Health:     handler.NewHealthHandler(sqlDB),
		Ops:        handler.NewOpsHandler(a.Controls, a.Throttle),
		Jobs:       handler.NewJobHandler(a.Jobs, a.Plans, a.Loc, cfg.Worker.DefaultMaxRetries),
		Executions: executions,
	}, cfg.Server.Mode, middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting API server: port=%d, mode=%s", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown: %v", err)
	}
	// Resends started over HTTP keep going until their items are done.
	executions.Wait()

	logger.Info("Server exited")
}
