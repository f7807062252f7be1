package logx

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// CronLogger reports robfig/cron events through l
func CronLogger(l Logger) cron.Logger {
	return cronLogger{l: l}
}

type cronLogger struct {
	l Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, kv(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(kv(keysAndValues), Err(err))...)
}

func kv(keysAndValues []interface{}) []Field {
	fields := make([]Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}

	return fields
}
