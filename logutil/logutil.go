// Package logutil - slog Setup fuer CLI und Server
//
// Dieses Modul enthaelt:
// - LevelTrace: Zusaetzliches Log-Level unterhalb von DEBUG
// - NewLogger: Text-Logger mit kurzen Quellangaben
// - Trace: Ausgabe auf TRACE-Level mit korrekter Aufrufer-Position
package logutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"
)

// LevelTrace liegt unter slog.LevelDebug und ist fuer Tensor-Dumps gedacht
const LevelTrace slog.Level = -8

// NewLogger erstellt einen Text-Logger fuer w mit dem gegebenen Level
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				if level, ok := attr.Value.Any().(slog.Level); ok && level == LevelTrace {
					attr.Value = slog.StringValue("TRACE")
				}
			case slog.SourceKey:
				if source, ok := attr.Value.Any().(*slog.Source); ok {
					source.File = filepath.Base(source.File)
				}
			}
			return attr
		},
	}))
}

// Trace loggt msg auf TRACE-Level ueber den Default-Logger
func Trace(msg string, args ...any) {
	trace(context.Background(), slog.Default(), msg, args...)
}

// TraceContext loggt msg auf TRACE-Level ueber logger
func TraceContext(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	trace(ctx, logger, msg, args...)
}

func trace(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	if !logger.Enabled(ctx, LevelTrace) {
		return
	}

	// Aufrufer statt logutil als Quelle eintragen
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), LevelTrace, msg, pcs[0])
	r.Add(args...)
	_ = logger.Handler().Handle(ctx, r)
}
