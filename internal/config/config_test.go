package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "Asia/Tokyo", cfg.Timezone)
	assert.Equal(t, "* * * * *", cfg.Scheduler.PlanCheckSpec)
	assert.Equal(t, 15*time.Minute, cfg.Watchdog.HeartbeatTimeout)
	assert.Equal(t, 3, cfg.Delivery.MaxRetry)
	assert.Equal(t, 5, cfg.Delivery.HeartbeatEvery)
	assert.Equal(t, 5*time.Second, cfg.Throttle.Base)
	assert.Equal(t, 10*time.Second, cfg.Throttle.Increment)
	assert.Equal(t, 10*time.Minute, cfg.Throttle.TTL)
	assert.Equal(t, 180*time.Second, cfg.Scheduler.HeartbeatTTL)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "timezone: UTC\ndelivery:\n  max_retry: 1\nalert:\n  recipients: [a@example.com, b@example.com]\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
	assert.Equal(t, 1, cfg.Delivery.MaxRetry)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Alert.Recipients)
}

func TestValidate(t *testing.T) {
	cfg := &Config{Timezone: "UTC", Delivery: DeliveryConfig{MaxRetry: 3, HeartbeatEvery: 5}}
	assert.NoError(t, cfg.Validate(false))
	assert.Error(t, cfg.Validate(true))

	cfg.Generator.APIKey = "sk"
	cfg.Mailer.APIKey = "re"
	cfg.Mailer.FromEmail = "noreply@example.com"
	assert.NoError(t, cfg.Validate(true))

	cfg.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate(false))
}

func TestDSN(t *testing.T) {
	sqlite := DatabaseConfig{Driver: "sqlite", Path: "./data/x.db"}
	assert.Equal(t, "./data/x.db", sqlite.DSN())

	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", DBName: "plans", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=plans sslmode=disable", pg.DSN())
}
