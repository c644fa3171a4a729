// Package logger is the structured logging layer of alioli, backed by zerolog.
// Every event passes through a SensitiveDataFilter, so credentials carried in
// captured request headers or connection URLs never reach the output.
package logger

import (
	"time"

	"github.com/gaborage/alioli/headers"
)

// Logger creates leveled events. Components receive one from the app and
// derive their own with Component.
type Logger interface {
	Info() LogEvent
	Error() LogEvent
	Debug() LogEvent
	Warn() LogEvent
	// Component returns a logger that tags every entry with component=name.
	Component(name string) Logger
}

// LogEvent is a single entry under construction. Nothing is written until Msg or Msgf.
type LogEvent interface {
	Msg(msg string)
	Msgf(format string, args ...any)
	Err(err error) LogEvent
	Str(key, value string) LogEvent
	Int(key string, value int) LogEvent
	Int64(key string, value int64) LogEvent
	Bool(key string, value bool) LogEvent
	Dur(key string, d time.Duration) LogEvent
	Time(key string, t time.Time) LogEvent
	Interface(key string, i any) LogEvent
	// Headers adds hs as "Name: value" strings in order, with sensitive values masked.
	Headers(key string, hs []headers.Header) LogEvent
}
