// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint/Uint64/Float: Zahlen-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Zahlen-Getter
// =============================================================================

// number liest key mit parse, ungueltige Werte fallen mit Warnung auf defaultValue zurueck
func number[T any](key string, defaultValue T, parse func(string) (T, error)) func() T {
	return func() T {
		s := Var(key)
		if s == "" {
			return defaultValue
		}

		v, err := parse(s)
		if err != nil {
			slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			return defaultValue
		}
		return v
	}
}

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return number(key, defaultValue, func(s string) (uint, error) {
		n, err := strconv.ParseUint(s, 10, 64)
		return uint(n), err
	})
}

// Uint64 gibt eine Funktion zurueck, die einen uint64 mit Default-Wert liest
func Uint64(key string, defaultValue uint64) func() uint64 {
	return number(key, defaultValue, func(s string) (uint64, error) {
		return strconv.ParseUint(s, 10, 64)
	})
}

// Float gibt eine Funktion zurueck, die einen endlichen float32 mit Default-Wert liest
func Float(key string, defaultValue float32) func() float32 {
	return number(key, defaultValue, func(s string) (float32, error) {
		f, err := strconv.ParseFloat(s, 32)
		if err == nil && (math.IsNaN(f) || math.IsInf(f, 0)) {
			err = fmt.Errorf("%s is not finite", s)
		}
		return float32(f), err
	})
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"MOLEINFER_DEBUG":       {"MOLEINFER_DEBUG", LogLevel(), "Show additional debug information (e.g. MOLEINFER_DEBUG=1, 2 for tensor traces)"},
		"MOLEINFER_HOST":        {"MOLEINFER_HOST", Host(), "IP Address for the moleinfer server (default 127.0.0.1:11435)"},
		"MOLEINFER_ORIGINS":     {"MOLEINFER_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"MOLEINFER_MODEL":       {"MOLEINFER_MODEL", Model(), "Model file served when no path is given"},
		"MOLEINFER_NUM_THREADS": {"MOLEINFER_NUM_THREADS", NumThreads(), "Images processed in parallel per predict call (default GOMAXPROCS)"},
		"MOLEINFER_MAX_BATCH":   {"MOLEINFER_MAX_BATCH", MaxBatch(), "Maximum number of images per request (default 32)"},
		"MOLEINFER_MAX_UPLOAD":  {"MOLEINFER_MAX_UPLOAD", MaxUpload(), "Maximum multipart upload size in bytes"},
		"MOLEINFER_CACHE_SIZE":  {"MOLEINFER_CACHE_SIZE", CacheSize(), "Number of cached predictions (default 256)"},
		"MOLEINFER_NOCACHE":     {"MOLEINFER_NOCACHE", NoCache(), "Disable the prediction cache"},
		"MOLEINFER_THRESHOLD":   {"MOLEINFER_THRESHOLD", Threshold(), "Malignant probability above which a result is flagged (default 0.8)"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
