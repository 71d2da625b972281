package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/planmail/internal/errs"
)

// memFlags is a FlagStore without expiry.
type memFlags struct {
	mu   sync.Mutex
	vals map[string]string
	ttls map[string]time.Duration
	err  error
}

func newMemFlags() *memFlags {
	return &memFlags{vals: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memFlags) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *memFlags) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memFlags) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	return nil
}

func TestThrottle(t *testing.T) {
	ctx := context.Background()
	flags := newMemFlags()
	th := NewThrottle(flags, ThrottleConfig{Base: 5 * time.Second, Increment: 10 * time.Second, TTL: 10 * time.Minute})

	assert.Equal(t, 5*time.Second, th.Current(ctx))

	d, err := th.Increase(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, d)

	d, err = th.Increase(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25*time.Second, d)
	assert.Equal(t, 25*time.Second, th.Current(ctx))
	assert.Equal(t, 10*time.Minute, flags.ttls["throttle_extra_seconds"])

	require.NoError(t, th.Reset(ctx))
	assert.Equal(t, 5*time.Second, th.Current(ctx))
}

func TestThrottle_StoreErrorFallsBackToBase(t *testing.T) {
	flags := newMemFlags()
	flags.err = errs.New("db down")
	th := NewThrottle(flags, ThrottleConfig{Base: 5 * time.Second, Increment: 10 * time.Second})
	assert.Equal(t, 5*time.Second, th.Current(context.Background()))
}

func TestControls(t *testing.T) {
	ctx := context.Background()
	c := NewControls(newMemFlags())
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	assert.False(t, c.EmergencyStopped(ctx))
	require.NoError(t, c.SetEmergencyStop(ctx, true))
	assert.True(t, c.EmergencyStopped(ctx))
	require.NoError(t, c.SetEmergencyStop(ctx, false))
	assert.False(t, c.EmergencyStopped(ctx))

	_, ok, err := c.SchedulerHeartbeat(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.RecordSchedulerHeartbeat(ctx, 3*time.Minute))
	ts, ok, err := c.SchedulerHeartbeat(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, ts.Equal(now))
}
