// Package app wires configuration, storage and services shared by the
// planmail binaries.
package app

import (
	"time"

	"gorm.io/gorm"

	"github.com/timmy/planmail/internal/config"
	"github.com/timmy/planmail/internal/errs"
	"github.com/timmy/planmail/internal/logger"
	"github.com/timmy/planmail/internal/repository"
	"github.com/timmy/planmail/internal/service"
	"github.com/timmy/planmail/internal/source/objectstore"
	"github.com/timmy/planmail/internal/source/sheets"
	"github.com/timmy/planmail/internal/storage"
)

// App holds the process-wide dependencies. It is built once in main and
// passed to whatever the binary runs.
type App struct {
	Config *config.Config
	Loc    *time.Location
	DB     *gorm.DB

	Plans      *repository.PlanRepository
	Recipients *repository.RecipientRepository
	Jobs       *repository.JobRepository
	Executions *repository.ExecutionRepository
	Flags      *repository.FlagRepository
	Events     *repository.SystemLogRepository
	Summaries  *repository.SummaryRepository

	Controls *service.Controls
	Throttle *service.Throttle
}

// New loads configuration from configPath and opens the database.
// sending selects the stricter validation used by processes that send mail.
func New(configPath string, sending bool) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(sending); err != nil {
		return nil, errs.Wrap(err, "invalid configuration")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, errs.Wrap(err, "initialize database")
	}

	flags := repository.NewFlagRepository(db)
	a := &App{
		Config:     cfg,
		Loc:        loc,
		DB:         db,
		Plans:      repository.NewPlanRepository(db),
		Recipients: repository.NewRecipientRepository(db),
		Jobs:       repository.NewJobRepository(db),
		Executions: repository.NewExecutionRepository(db),
		Flags:      flags,
		Events:     repository.NewSystemLogRepository(db),
		Summaries:  repository.NewSummaryRepository(db),
		Controls:   service.NewControls(flags),
		Throttle: service.NewThrottle(flags, service.ThrottleConfig{
			Base:      cfg.Throttle.Base,
			Increment: cfg.Throttle.Increment,
			TTL:       cfg.Throttle.TTL,
		}),
	}
	return a, nil
}

// Close releases the database connection.
func (a *App) Close() {
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

// Sender builds the Resend client.
func (a *App) Sender() *service.ResendSender {
	m := a.Config.Mailer
	return service.NewResendSender(&service.MailerConfig{
		BaseURL:           m.BaseURL,
		APIKey:            m.APIKey,
		FromEmail:         m.FromEmail,
		SiteName:          m.SiteName,
		RequestsPerSecond: m.RequestsPerSecond,
		Timeout:           m.Timeout,
	})
}

// Alerts builds the operator alert notifier on top of sender.
func (a *App) Alerts(sender service.EmailSender) *service.MailAlertNotifier {
	if len(a.Config.Alert.Recipients) == 0 {
		logger.Warn("No alert recipients configured; alerts are only logged")
	}
	return service.NewMailAlertNotifier(sender, a.Config.Alert.Recipients, a.Config.Mailer.SiteName)
}

// Storage opens the object store holding plan external data.
func (a *App) Storage() (storage.ObjectStorage, error) {
	store, err := storage.NewStorage(&a.Config.Storage)
	if err != nil {
		return nil, errs.Wrap(err, "initialize storage")
	}
	return store, nil
}

// Calendar builds the Google Sheets calendar provider.
func (a *App) Calendar() *sheets.Calendar {
	return sheets.NewCalendar(&sheets.Config{
		APIKey:  a.Config.Sheets.APIKey,
		BaseURL: a.Config.Sheets.BaseURL,
	})
}

// Engine builds the delivery engine with its HTTP collaborators.
func (a *App) Engine(sender service.EmailSender, alerts service.AlertNotifier) (*service.Engine, error) {
	store, err := a.Storage()
	if err != nil {
		return nil, err
	}
	g := a.Config.Generator
	d := a.Config.Delivery
	return service.NewEngine(service.EngineDeps{
		Plans:      a.Plans,
		Recipients: a.Recipients,
		Jobs:       a.Jobs,
		Executions: a.Executions,
		Events:     a.Events,
		Stop:       a.Controls,
		Throttle:   a.Throttle,
		Generator: service.NewOpenAIGenerator(&service.GeneratorConfig{
			BaseURL:      g.BaseURL,
			APIKey:       g.APIKey,
			DefaultModel: g.DefaultModel,
			Temperature:  g.Temperature,
			Timeout:      g.Timeout,
		}),
		Sender:    sender,
		Alerts:    alerts,
		Data:      objectstore.NewProvider(store),
		Summaries: a.Summaries,
	}, service.EngineConfig{
		MaxRetry:       d.MaxRetry,
		BackoffBase:    d.BackoffBase,
		HeartbeatEvery: d.HeartbeatEvery,
		LastErrorLimit: d.LastErrorLimit,
		SiteURL:        a.Config.Mailer.SiteURL,
	}), nil
}
