// Package model - Fehlertypen beim Laden
//
// MODUL: errors
// ZWECK: Sentinel-Fehler und LoadError mit Operation, Pfad und Layer-Index
// INPUT: Fehler aus Codecs und Validierung
// OUTPUT: Mit errors.Is pruefbare Fehler
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: errors, fmt (stdlib)
// HINWEISE: Jeder Fehler aus Load ist ein *LoadError
package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound wird zurueckgegeben wenn der Pfad fehlt oder nicht lesbar ist
	ErrNotFound = errors.New("model not found")

	// ErrCorruptFormat wird zurueckgegeben wenn die Datei nicht dekodiert werden kann
	ErrCorruptFormat = errors.New("corrupt model format")

	// ErrUnsupportedOperator wird zurueckgegeben fuer unbekannte Layer-Operatoren
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrShapeMismatch wird zurueckgegeben wenn Shapes aufeinanderfolgender Layer nicht passen
	ErrShapeMismatch = errors.New("shape mismatch")
)

var kinds = []error{ErrNotFound, ErrCorruptFormat, ErrUnsupportedOperator, ErrShapeMismatch}

// LoadError beschreibt einen fehlgeschlagenen Ladevorgang
type LoadError struct {
	Op    string // Phase: "open", "detect", "decode", "compile"
	Path  string // Dateipfad, leer bei Compile ohne Datei
	Layer int    // Layer-Index, -1 wenn nicht layer-bezogen
	Err   error  // Urspruenglicher Fehler
}

// Error implementiert das error Interface.
func (e *LoadError) Error() string {
	msg := "model: " + e.Op
	if e.Path != "" {
		msg += fmt.Sprintf(" %q", e.Path)
	}
	if e.Layer >= 0 {
		msg += fmt.Sprintf(": layer %d", e.Layer)
	}
	return msg + ": " + e.Err.Error()
}

// Unwrap gibt den urspruenglichen Fehler zurueck.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// Kind gibt den passenden Sentinel-Fehler zurueck
func (e *LoadError) Kind() error {
	for _, k := range kinds {
		if errors.Is(e.Err, k) {
			return k
		}
	}
	return ErrCorruptFormat
}

// corrupt stellt sicher dass err einer der Sentinel-Fehler ist
func corrupt(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrCorruptFormat, err)
}

func layerErr(i int, kind error, format string, args ...any) *LoadError {
	return &LoadError{Op: "compile", Layer: i, Err: fmt.Errorf("%w: "+format, append([]any{kind}, args...)...)}
}
