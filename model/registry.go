// Package model - Codec Registry fuer Modell-Dateiformate
//
// MODUL: registry
// ZWECK: Zentrale, sortierte Registry der Codecs mit Thread-sicherer Verwaltung
// INPUT: Codec-Implementierungen (GGUF, safetensors, ONNX)
// OUTPUT: Codec passend zu Dateiname und Header
// NEBENEFFEKTE: Register aendert die DefaultRegistry
// ABHAENGIGKEITEN: gods treemap (sortierte Namen)
// HINWEISE: Codecs registrieren sich via init() in ihren Packages, model/formats importiert alle
package model

import (
	"io"
	"sync"

	"github.com/emirpasic/gods/v2/maps/treemap"
)

// Codec liest ein Dateiformat in eine Spec
type Codec interface {
	// Name ist der eindeutige Formatname, z.B. "gguf"
	Name() string

	// Detect meldet ob name und die ersten Bytes der Datei zu diesem Format passen
	Detect(name string, header []byte) bool

	// Decode liest die komplette Datei. Fehler sollten einen der
	// Sentinel-Fehler dieses Pakets umschliessen.
	Decode(r io.ReaderAt, size int64) (Spec, error)
}

// ============================================================================
// Registry
// ============================================================================

// Registry verwaltet Codecs nach Namen sortiert.
// Thread-sicher durch RWMutex.
type Registry struct {
	codecs *treemap.Map[string, Codec]
	mu     sync.RWMutex
}

// NewRegistry erstellt eine neue leere Registry.
func NewRegistry() *Registry {
	return &Registry{
		codecs: treemap.New[string, Codec](),
	}
}

// Register registriert einen Codec. Doppelte Namen sind ein Programmierfehler.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.codecs.Get(c.Name()); ok {
		panic("model: codec already registered: " + c.Name())
	}
	r.codecs.Put(c.Name(), c)
}

// Lookup gibt den Codec mit dem Namen zurueck
func (r *Registry) Lookup(name string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.codecs.Get(name)
}

// Names gibt alle Codec-Namen sortiert zurueck
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.codecs.Keys()
}

// Detect gibt den ersten Codec (nach Namen) zurueck, der die Datei erkennt
func (r *Registry) Detect(name string, header []byte) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.codecs.Values() {
		if c.Detect(name, header) {
			return c, true
		}
	}
	return nil, false
}

// ============================================================================
// Globale Registry-Instanz
// ============================================================================

// DefaultRegistry ist die globale Registry, die Load verwendet
var DefaultRegistry = NewRegistry()

// Register registriert einen Codec in der DefaultRegistry
func Register(c Codec) {
	DefaultRegistry.Register(c)
}

// Lookup sucht einen Codec in der DefaultRegistry
func Lookup(name string) (Codec, bool) {
	return DefaultRegistry.Lookup(name)
}

// Codecs gibt die Namen aller Codecs der DefaultRegistry sortiert zurueck
func Codecs() []string {
	return DefaultRegistry.Names()
}
