package engine

import (
	"log/slog"
	"runtime"
)

type options struct {
	threads int
	logger  *slog.Logger
}

// Option konfiguriert eine Engine
type Option func(*options)

func defaultOptions() options {
	return options{
		threads: runtime.GOMAXPROCS(0),
		logger:  slog.Default(),
	}
}

// WithThreads begrenzt die Anzahl parallel berechneter Bilder pro Predict-Aufruf.
// Default ist GOMAXPROCS, Werte <= 0 werden ignoriert.
func WithThreads(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.threads = n
		}
	}
}

// WithLogger setzt den Logger fuer Lade- und Trace-Ausgaben
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
