package logger

import "github.com/robfig/cron/v3"

// CronLogger adapts a Logger to cron.Logger so scheduler internals
// (skipped overlaps, recovered panics) land in the same structured stream.
type CronLogger struct {
	l *Logger
}

var _ cron.Logger = CronLogger{}

// NewCronLogger wraps l; nil uses the default logger.
func NewCronLogger(l *Logger) CronLogger {
	if l == nil {
		l = GetDefault()
	}
	return CronLogger{l: l.WithField(FieldComponent, "cron")}
}

// Info logs routine cron messages at debug level; they fire every minute.
func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.WithFields(kvFields(keysAndValues)).Debug(msg)
}

// Error logs cron failures.
func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.WithFields(kvFields(keysAndValues)).WithError(err).Error(msg)
}

func kvFields(kv []interface{}) Fields {
	fields := make(Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}
