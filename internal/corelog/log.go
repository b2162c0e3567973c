// Package corelog is the core's thin structured-logging façade. It wraps
// log/slog rather than reimplementing formatting, and additionally tags
// each record with the call frame that produced it so warnings attached to
// a Function (see coreerr.Warning) can be traced back to the analysis step
// that raised them without re-parsing log text.
package corelog

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/go-stack/stack"
)

var (
	mu      sync.Mutex
	root    = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// SetHandler swaps the root handler, e.g. to redirect core diagnostics into
// a driver's own log sink.
func SetHandler(h slog.Handler) {
	mu.Lock()
	defer mu.Unlock()
	root = slog.New(h)
}

// Logger wraps a *slog.Logger and tags every record with the component
// name and the logging call's frame.
type Logger struct {
	inner *slog.Logger
	comp  string
}

// New returns a Logger scoped to a single component name (e.g. "heritage",
// "jumptable", "merge"), mirroring the per-subsystem tagging the pack's own
// services apply to their root logger.
func New(component string) *Logger {
	mu.Lock()
	l := root
	mu.Unlock()
	return &Logger{inner: l, comp: component}
}

func (l *Logger) frame() slog.Attr {
	cs := stack.Caller(2)
	return slog.String("frame", cs.String())
}

func (l *Logger) Debug(msg string, args ...any) {
	l.inner.Log(context.Background(), slog.LevelDebug, msg, append(args, slog.String("component", l.comp), l.frame())...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.inner.Log(context.Background(), slog.LevelInfo, msg, append(args, slog.String("component", l.comp), l.frame())...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.inner.Log(context.Background(), slog.LevelWarn, msg, append(args, slog.String("component", l.comp), l.frame())...)
}

// CallerFrame returns the formatted call frame of the caller's caller, for
// attaching to data structures (e.g. coreerr.Warning) rather than logging
// immediately.
func CallerFrame() string {
	return stack.Caller(2).String()
}
