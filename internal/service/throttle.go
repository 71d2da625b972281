package service

import (
	"context"
	"strconv"
	"time"

	"github.com/timmy/planmail/internal/domain"
	"github.com/timmy/planmail/internal/logger"
	"github.com/timmy/planmail/internal/metrics"
)

// FlagStore is the shared key/value store behind the throttle and control flags.
type FlagStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ThrottleConfig holds the pacing constants.
type ThrottleConfig struct {
	Base      time.Duration // pause between sends with no rate limiting
	Increment time.Duration // added on every rate-limit signal
	TTL       time.Duration // lifetime of the accumulated increment
}

// Throttle paces sends. The delay is Base plus an increment that grows on
// rate-limit signals and expires TTL after the last one.
type Throttle struct {
	flags FlagStore
	cfg   ThrottleConfig
}

// NewThrottle creates a Throttle backed by flags.
func NewThrottle(flags FlagStore, cfg ThrottleConfig) *Throttle {
	return &Throttle{flags: flags, cfg: cfg}
}

// Current returns the delay now in effect. Store errors fall back to Base.
func (t *Throttle) Current(ctx context.Context) time.Duration {
	extra, err := t.extra(ctx)
	if err != nil {
		logger.CtxWarn(ctx, "Failed to read throttle, using base delay: %v", err)
		return t.cfg.Base
	}
	d := t.cfg.Base + extra
	metrics.ThrottleSeconds.Set(d.Seconds())
	return d
}

// Increase widens the delay by one increment and returns the new delay.
func (t *Throttle) Increase(ctx context.Context) (time.Duration, error) {
	extra, err := t.extra(ctx)
	if err != nil {
		return t.cfg.Base, err
	}
	extra += t.cfg.Increment

	secs := strconv.FormatInt(int64(extra/time.Second), 10)
	if err := t.flags.Set(ctx, domain.FlagThrottleExtra, secs, t.cfg.TTL); err != nil {
		return t.cfg.Base + extra - t.cfg.Increment, err
	}

	d := t.cfg.Base + extra
	metrics.ThrottleSeconds.Set(d.Seconds())
	logger.With(logger.Fields{"throttle_seconds": d.Seconds()}).Warn(ctx, "Rate limited, throttle increased to %s", d)
	return d, nil
}

// Reset drops the accumulated increment.
func (t *Throttle) Reset(ctx context.Context) error {
	if err := t.flags.Delete(ctx, domain.FlagThrottleExtra); err != nil {
		return err
	}
	metrics.ThrottleSeconds.Set(t.cfg.Base.Seconds())
	return nil
}

func (t *Throttle) extra(ctx context.Context) (time.Duration, error) {
	raw, ok, err := t.flags.Get(ctx, domain.FlagThrottleExtra)
	if err != nil || !ok {
		return 0, err
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs < 0 {
		return 0, nil
	}
	return time.Duration(secs) * time.Second, nil
}
