// Package logx is a small structured logging layer over zerolog.
package logx

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Config for a root logger
type Config struct {
	Level  string
	Format string // console | json
	Output io.Writer
}

// Field mutates a zerolog event
type Field func(e *zerolog.Event)

// String field
func String(k, v string) Field { return func(e *zerolog.Event) { e.Str(k, v) } }

// Int field
func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }

// Bool field
func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }

// Time field
func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }

// Duration field
func Duration(k string, v time.Duration) Field { return func(e *zerolog.Event) { e.Dur(k, v) } }

// Any field
func Any(k string, v interface{}) Field { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Err field, a nil error is skipped
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Logger is a value-type structured logger. The zero value discards everything.
type Logger struct {
	base    *zerolog.Logger
	level   *levelVar
	fields  []Field
	hasBase bool
}

type levelVar struct {
	v atomic.Int32
}

func newLevelVar(lvl zerolog.Level) *levelVar {
	lv := &levelVar{}
	lv.v.Store(int32(lvl))
	return lv
}

func (lv *levelVar) get() zerolog.Level { return zerolog.Level(lv.v.Load()) }

// New creates a root logger from the given config
func New(cfg Config) Logger {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	if !strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat}
	}

	zl := zerolog.New(out).Level(zerolog.TraceLevel).With().Timestamp().Logger()

	return Logger{
		base:    &zl,
		level:   newLevelVar(ParseLevel(cfg.Level)),
		hasBase: true,
	}
}

// Nop returns a logger that never writes anything
func Nop() Logger {
	zl := zerolog.Nop()
	return Logger{base: &zl, level: newLevelVar(zerolog.Disabled), hasBase: true}
}

// IsZero reports whether the logger was never initialized
func (l Logger) IsZero() bool {
	return !l.hasBase && len(l.fields) == 0
}

// SetLevel changes the level of this logger and every logger derived from it
func (l Logger) SetLevel(level string) {
	if l.level == nil {
		return
	}

	l.level.v.Store(int32(ParseLevel(level)))
}

// With returns a derived logger carrying fixed fields
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}

	cp := l
	cp.fields = append(append([]Field(nil), l.fields...), fields...)
	return cp
}

// Trace level message
func (l Logger) Trace(msg string, fields ...Field) { l.log(zerolog.TraceLevel, msg, fields) }

// Debug level message
func (l Logger) Debug(msg string, fields ...Field) { l.log(zerolog.DebugLevel, msg, fields) }

// Info level message
func (l Logger) Info(msg string, fields ...Field) { l.log(zerolog.InfoLevel, msg, fields) }

// Warn level message
func (l Logger) Warn(msg string, fields ...Field) { l.log(zerolog.WarnLevel, msg, fields) }

// Error level message
func (l Logger) Error(msg string, fields ...Field) { l.log(zerolog.ErrorLevel, msg, fields) }

func (l Logger) log(level zerolog.Level, msg string, fields []Field) {
	if !l.hasBase || l.base == nil || l.level == nil || level < l.level.get() {
		return
	}

	e := l.base.WithLevel(level)
	if e == nil {
		return
	}

	for _, f := range l.fields {
		if f != nil {
			f(e)
		}
	}

	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}

	e.Msg(msg)
}

// ParseLevel maps a level name to a zerolog level, defaulting to info
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
