package logging

import (
	"context"
	"io"
	"log/slog"
)

// LevelSetter is implemented by loggers whose verbosity can be adjusted at
// runtime, driven by the log_level setting.
type LevelSetter interface {
	SetLevel(level slog.Level)
}

type SlogLogger struct {
	l  *slog.Logger
	lv *slog.LevelVar
}

func NewSlogLogger(l *slog.Logger) *SlogLogger {
	return &SlogLogger{l: l}
}

// NewJSONLogger builds the production logger: JSON records on w with a
// runtime-adjustable level, initially info.
func NewJSONLogger(w io.Writer) *SlogLogger {
	lv := new(slog.LevelVar)
	l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lv}))
	return &SlogLogger{l: l, lv: lv}
}

// SetLevel adjusts the handler level. Loggers built over a plain slog.Logger
// have no level control and ignore the call.
func (s *SlogLogger) SetLevel(level slog.Level) {
	if s.lv != nil {
		s.lv.Set(level)
	}
}

func (s *SlogLogger) Debug(ctx context.Context, msg string, args ...any) {
	s.l.DebugContext(ctx, msg, args...)
}

func (s *SlogLogger) Info(ctx context.Context, msg string, args ...any) {
	s.l.InfoContext(ctx, msg, args...)
}

func (s *SlogLogger) Warn(ctx context.Context, msg string, args ...any) {
	s.l.WarnContext(ctx, msg, args...)
}

func (s *SlogLogger) Error(ctx context.Context, msg string, args ...any) {
	s.l.ErrorContext(ctx, msg, args...)
}

func (s *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{l: s.l.With(args...), lv: s.lv}
}

// ParseLevel maps the log_level setting values to slog levels.
// Unknown values fall back to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
