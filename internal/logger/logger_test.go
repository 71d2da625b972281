package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LOG_DIR", "/tmp/planmail-logs")
	t.Setenv("LOG_FILE", "")
	t.Setenv("LOG_MAX_SIZE", "not-a-number")
	t.Setenv("SERVICE_NAME", "")
	t.Setenv("PLANMAIL_ENV", "")

	cfg := LoadFromEnv("worker")
	assert.Equal(t, "planmail-worker", cfg.ServiceName)
	assert.Equal(t, "/tmp/planmail-logs/worker.log", cfg.LogFile)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.True(t, cfg.Local())

	t.Setenv("LOG_FILE", "/srv/log/custom.log")
	t.Setenv("PLANMAIL_ENV", "prod")
	cfg = LoadFromEnv("")
	assert.Equal(t, "planmail", cfg.ServiceName)
	assert.Equal(t, "/srv/log/custom.log", cfg.LogFile)
	assert.False(t, cfg.Local())
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	buf.Reset()
	return line
}

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "planmail-test"})
	ctx := l.WithContext(context.Background())

	ctx = ForJob(SetComponent(ctx, "worker"), 7, 3)
	ctx = ForRecipient(ForExecution(ctx, 11), 42, "")
	CtxInfo(ctx, "delivering")

	line := decodeLine(t, &buf)
	assert.Equal(t, "delivering", line["message"])
	assert.Equal(t, "planmail-test", line["service"])
	assert.Equal(t, "worker", line[FieldComponent])
	assert.EqualValues(t, 7, line[FieldJobID])
	assert.EqualValues(t, 3, line[FieldPlanID])
	assert.EqualValues(t, 11, line[FieldExecutionID])
	assert.EqualValues(t, 42, line[FieldRecipientID])
	assert.NotContains(t, line, FieldItemKey)

	itemCtx := ForRecipient(ctx, 42, "monday")
	v, ok := GetField(itemCtx, FieldItemKey)
	require.True(t, ok)
	assert.Equal(t, "monday", v)

	assert.Equal(t, "", GetRequestID(ctx))
	assert.Equal(t, "req-1", GetRequestID(SetRequestID(ctx, "req-1")))
}

func TestEntryMetricFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "info", Format: "json", Output: &buf})
	ctx := l.WithContext(context.Background())

	Since(time.Now().Add(-2*time.Second)).WithStatus("success").WithCount(5).Info(ctx, "done")
	line := decodeLine(t, &buf)
	assert.GreaterOrEqual(t, line[FieldDurationMs], float64(2000))
	assert.Equal(t, "success", line[FieldStatus])
	assert.EqualValues(t, 5, line[FieldCount])

	With(Fields{"a": 1}).WithAttempt(2).Debug(ctx, "suppressed at info level")
	assert.Zero(t, buf.Len())
}
