package service

import (
	"context"
	"time"

	"github.com/timmy/planmail/internal/domain"
	"github.com/timmy/planmail/internal/logger"
)

// Controls exposes the process-shared operator switches: the emergency stop
// and the scheduler liveness heartbeat. It is constructed once per process
// and injected wherever the switches are read.
type Controls struct {
	flags FlagStore
	now   func() time.Time
}

// NewControls creates Controls backed by flags.
func NewControls(flags FlagStore) *Controls {
	return &Controls{flags: flags, now: time.Now}
}

// EmergencyStopped reports whether the emergency stop is active.
// A store error reads as not stopped and is logged.
func (c *Controls) EmergencyStopped(ctx context.Context) bool {
	_, ok, err := c.flags.Get(ctx, domain.FlagEmergencyStop)
	if err != nil {
		logger.CtxError(ctx, "Failed to read emergency stop flag: %v", err)
		return false
	}
	return ok
}

// SetEmergencyStop turns the emergency stop on or off.
func (c *Controls) SetEmergencyStop(ctx context.Context, active bool) error {
	if !active {
		return c.flags.Delete(ctx, domain.FlagEmergencyStop)
	}
	return c.flags.Set(ctx, domain.FlagEmergencyStop, c.now().UTC().Format(time.RFC3339), 0)
}

// RecordSchedulerHeartbeat marks the scheduler alive for ttl.
func (c *Controls) RecordSchedulerHeartbeat(ctx context.Context, ttl time.Duration) error {
	return c.flags.Set(ctx, domain.FlagSchedulerHeartbeat, c.now().UTC().Format(time.RFC3339), ttl)
}

// SchedulerHeartbeat returns the last heartbeat, ok=false when it expired.
func (c *Controls) SchedulerHeartbeat(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := c.flags.Get(ctx, domain.FlagSchedulerHeartbeat)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, nil
	}
	return ts, true, nil
}
