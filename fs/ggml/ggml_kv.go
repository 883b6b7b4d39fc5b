// Package ggml - KV (Key-Value) Metadaten
//
// Dieses Modul enthaelt den KV-Typ und alle zugehoerigen Methoden:
// - KV: Map fuer GGUF Key-Value Metadaten
// - Architecture, Name, Alignment, ParameterCount
// - Generische Getter (String, Uint, Bool, Strings)
// - Has: Prueft ob ein Schluessel mit Architektur-Prefix existiert
// - IntValues/FloatValue: Typ-tolerante Getter fuer Skalare und Arrays
package ggml

import (
	"iter"
	"log/slog"
	"maps"
	"math"
	"strings"
)

// KV repraesentiert GGUF Key-Value Metadaten
type KV map[string]any

// Architecture gibt die Modell-Architektur zurueck
func (kv KV) Architecture() string {
	return kv.String("general.architecture", "unknown")
}

// Name gibt den Modell-Namen zurueck
func (kv KV) Name() string {
	return kv.String("general.name")
}

// Alignment gibt das Tensor-Alignment zurueck (Default 32)
func (kv KV) Alignment() uint32 {
	return kv.Uint("general.alignment", 32)
}

// ParameterCount gibt die Anzahl der Parameter zurueck
func (kv KV) ParameterCount() uint64 {
	val, _ := keyValue(kv, "general.parameter_count", uint64(0))
	return val
}

// Generische Getter

// String gibt einen String-Wert zurueck
func (kv KV) String(key string, defaultValue ...string) string {
	val, _ := keyValue(kv, key, append(defaultValue, "")...)
	return val
}

// Uint gibt einen uint32-Wert zurueck
func (kv KV) Uint(key string, defaultValue ...uint32) uint32 {
	val, _ := keyValue(kv, key, append(defaultValue, 0)...)
	return val
}

// Bool gibt einen bool-Wert zurueck
func (kv KV) Bool(key string, defaultValue ...bool) bool {
	val, _ := keyValue(kv, key, append(defaultValue, false)...)
	return val
}

// Strings gibt ein String-Array zurueck
func (kv KV) Strings(key string, defaultValue ...[]string) []string {
	val, _ := keyValue(kv, key, &array[string]{values: append(defaultValue, []string(nil))[0]})
	return val.values
}

// Has prueft ob key (mit Architektur-Prefix) vorhanden ist
func (kv KV) Has(key string) bool {
	_, ok := kv[kv.prefixed(key)]
	return ok
}

// Len gibt die Anzahl der KV-Paare zurueck
func (kv KV) Len() int {
	return len(kv)
}

// Keys gibt einen Iterator ueber alle Keys zurueck
func (kv KV) Keys() iter.Seq[string] {
	return maps.Keys(kv)
}

// Value gibt den Wert fuer einen Key zurueck
func (kv KV) Value(key string) any {
	return kv[key]
}

// IntValues liest einen ganzzahligen Skalar oder ein ganzzahliges Array.
// ok ist false wenn der Schluessel fehlt oder keinen ganzzahligen Typ hat.
func (kv KV) IntValues(key string) (values []int, ok bool) {
	switch v := kv[kv.prefixed(key)].(type) {
	case uint8, int8, uint16, int16, uint32, int32, uint64, int64:
		n, ok := toInt(v)
		return []int{n}, ok
	case *array[uint8]:
		return toInts(v.values)
	case *array[int8]:
		return toInts(v.values)
	case *array[uint16]:
		return toInts(v.values)
	case *array[int16]:
		return toInts(v.values)
	case *array[uint32]:
		return toInts(v.values)
	case *array[int32]:
		return toInts(v.values)
	case *array[uint64]:
		return toInts(v.values)
	case *array[int64]:
		return toInts(v.values)
	default:
		return nil, false
	}
}

// FloatValue liest einen float32 oder float64 Skalar
func (kv KV) FloatValue(key string) (float32, bool) {
	switch v := kv[kv.prefixed(key)].(type) {
	case float32:
		return v, true
	case float64:
		return float32(v), true
	default:
		return 0, false
	}
}

type integer interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~uint64 | ~int64
}

func toInts[T integer](s []T) ([]int, bool) {
	if s == nil {
		return nil, false
	}

	out := make([]int, len(s))
	for i, v := range s {
		if int64(v) < 0 || uint64(v) > math.MaxInt32 {
			return nil, false
		}
		out[i] = int(v)
	}
	return out, true
}

func toInt(v any) (int, bool) {
	switch v := v.(type) {
	case uint8:
		return int(v), true
	case int8:
		return int(v), v >= 0
	case uint16:
		return int(v), true
	case int16:
		return int(v), v >= 0
	case uint32:
		return int(v), v <= math.MaxInt32
	case int32:
		return int(v), v >= 0
	case uint64:
		return int(v), v <= math.MaxInt32
	case int64:
		return int(v), v >= 0 && v <= math.MaxInt32
	default:
		return 0, false
	}
}

// prefixed ergaenzt den Architektur-Prefix fuer nicht-globale Schluessel
func (kv KV) prefixed(key string) string {
	if strings.HasPrefix(key, "general.") {
		return key
	}
	return kv.Architecture() + "." + key
}

// Type Constraints fuer keyValue

type valueTypes interface {
	uint8 | int8 | uint16 | int16 |
		uint32 | int32 | uint64 | int64 |
		string | float32 | float64 | bool
}

type arrayValueTypes interface {
	*array[uint8] | *array[int8] | *array[uint16] | *array[int16] |
		*array[uint32] | *array[int32] | *array[uint64] | *array[int64] |
		*array[string] | *array[float32] | *array[float64] | *array[bool]
}

// keyValue ist eine generische Hilfsfunktion zum Lesen von KV-Werten
func keyValue[T valueTypes | arrayValueTypes](kv KV, key string, defaultValue ...T) (T, bool) {
	key = kv.prefixed(key)

	if val, ok := kv[key].(T); ok {
		return val, true
	}

	slog.Debug("key with type not found", "key", key, "default", defaultValue[0])
	return defaultValue[0], false
}
