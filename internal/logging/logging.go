// Package logging provides the named, leveled loggers used throughout the
// core, mirroring the teacher's repo/logging.Module convention but backed
// by go.uber.org/zap's SugaredLogger instead of a hand-rolled broadcaster.
package logging

import (
	"context"

	"go.uber.org/zap"
)

type contextKeyType struct{}

var contextKey contextKeyType

var base = mustBuildBase()

func mustBuildBase() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		// zap.NewProduction only fails on sink construction; fall back to a
		// no-op logger rather than panic during package init.
		return zap.NewNop()
	}

	return l
}

// Module returns a named logger, analogous to repo/logging.Module(name) in
// the teacher: every subsystem gets its own logger carrying its name as a
// structured field.
func Module(name string) *zap.SugaredLogger {
	return base.Named(name).Sugar()
}

// WithContext attaches l to ctx so deeply nested calls can recover it with
// FromContext instead of threading a logger parameter through every
// function signature.
func WithContext(ctx context.Context, l *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, contextKey, l)
}

// FromContext recovers the logger attached by WithContext, or a default
// "core" logger if none was attached.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if l, ok := ctx.Value(contextKey).(*zap.SugaredLogger); ok {
		return l
	}

	return Module("core")
}

// SetBase replaces the base logger used by Module; intended for tests and
// for the CLI to install a development-mode (console-encoded) logger.
func SetBase(l *zap.Logger) {
	base = l
}
