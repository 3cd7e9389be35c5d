// Package logging provides the shared structured-logging conventions.
//
// Loggers are dependency-injected: main() builds the base slog logger and
// every component receives it through its Config, scoping it once at
// construction time with Component(). Components never touch global slog
// state, and a nil logger always degrades to a discard logger rather than
// a panic.
//
// Log volume is intentionally low. Lifecycle boundaries (start, stop, run
// completed, batch failed) are the intended log points; per-record paths
// stay silent.
package logging

import (
	"context"
	"log/slog"
)

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns logger if non-nil, otherwise a discard logger. Use it
// when accepting an optional logger:
//
//	logger = logging.Default(cfg.Logger)
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// Component returns a logger scoped with a component attribute, applying
// the Default nil-handling. This is the standard constructor pattern:
//
//	logger: logging.Component(cfg.Logger, "producer")
func Component(logger *slog.Logger, name string) *slog.Logger {
	return Default(logger).With("component", name)
}
