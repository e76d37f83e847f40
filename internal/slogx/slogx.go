// Package slogx holds the small logging conventions shared by every
// stateful package in this module: a nil-safe LogAttrs wrapper and the
// fine-grained "trace" level used for per-packet tracing.
package slogx

import (
	"context"
	"log/slog"
)

// LevelTrace is one notch below slog.LevelDebug, used for per-packet
// tracing that is too noisy for ordinary debug logging.
const LevelTrace slog.Level = slog.LevelDebug - 2

// LogAttrs logs msg at level with attrs if l is non-nil and enabled for
// level. Every package logger in this module funnels through here so that
// a nil *slog.Logger (the zero value) is always safe to use.
func LogAttrs(l *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if l == nil {
		return
	}
	l.LogAttrs(context.Background(), level, msg, attrs...)
}

// Enabled reports whether l would log at level.
func Enabled(l *slog.Logger, level slog.Level) bool {
	return l != nil && l.Handler().Enabled(context.Background(), level)
}

// Logger is embedded by stateful types that want debug/trace/info/warn/error
// helpers built on a single *slog.Logger field.
type Logger struct {
	Log *slog.Logger
}

func (l Logger) Trace(msg string, attrs ...slog.Attr) { LogAttrs(l.Log, LevelTrace, msg, attrs...) }
func (l Logger) Debug(msg string, attrs ...slog.Attr) { LogAttrs(l.Log, slog.LevelDebug, msg, attrs...) }
func (l Logger) Info(msg string, attrs ...slog.Attr)  { LogAttrs(l.Log, slog.LevelInfo, msg, attrs...) }
func (l Logger) Warn(msg string, attrs ...slog.Attr)  { LogAttrs(l.Log, slog.LevelWarn, msg, attrs...) }
func (l Logger) Error(msg string, attrs ...slog.Attr) { LogAttrs(l.Log, slog.LevelError, msg, attrs...) }
