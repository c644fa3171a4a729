package logger

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/gaborage/alioli/headers"
)

// event is the zerolog-backed LogEvent. A nil zerolog event (level disabled)
// is safe to call; zerolog drops it.
type event struct {
	ev     *zerolog.Event
	filter *SensitiveDataFilter
}

func (e event) Msg(msg string)                  { e.ev.Msg(msg) }
func (e event) Msgf(format string, args ...any) { e.ev.Msgf(format, args...) }

func (e event) Err(err error) LogEvent { return e.next(e.ev.Err(err)) }

func (e event) Str(key, value string) LogEvent {
	return e.next(e.ev.Str(key, e.filter.FilterString(key, value)))
}

func (e event) Int(key string, value int) LogEvent     { return e.next(e.ev.Int(key, value)) }
func (e event) Int64(key string, value int64) LogEvent { return e.next(e.ev.Int64(key, value)) }
func (e event) Bool(key string, value bool) LogEvent   { return e.next(e.ev.Bool(key, value)) }

func (e event) Dur(key string, d time.Duration) LogEvent { return e.next(e.ev.Dur(key, d)) }
func (e event) Time(key string, t time.Time) LogEvent    { return e.next(e.ev.Time(key, t)) }

func (e event) Interface(key string, i any) LogEvent {
	return e.next(e.ev.Interface(key, e.filter.FilterValue(key, i)))
}

func (e event) Headers(key string, hs []headers.Header) LogEvent {
	if e.ev == nil {
		return e
	}
	lines := make([]string, 0, len(hs))
	for _, h := range e.filter.MaskHeaders(hs) {
		lines = append(lines, h.Key+": "+h.Value)
	}
	return e.next(e.ev.Strs(key, lines))
}

func (e event) next(ev *zerolog.Event) LogEvent {
	return event{ev: ev, filter: e.filter}
}

func (l *ZeroLogger) Info() LogEvent  { return event{ev: l.zlog.Info(), filter: l.filter} }
func (l *ZeroLogger) Error() LogEvent { return event{ev: l.zlog.Error(), filter: l.filter} }
func (l *ZeroLogger) Debug() LogEvent { return event{ev: l.zlog.Debug(), filter: l.filter} }
func (l *ZeroLogger) Warn() LogEvent  { return event{ev: l.zlog.Warn(), filter: l.filter} }
