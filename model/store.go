// Package model - Laden von Modell-Dateien
//
// MODUL: store
// ZWECK: Liest eine Datei, waehlt den Codec und validiert das Ergebnis
// INPUT: Dateipfad oder io.ReaderAt
// OUTPUT: *Model oder *LoadError
// NEBENEFFEKTE: Liest die Datei, aendert keinen globalen Zustand
// ABHAENGIGKEITEN: os, log/slog (stdlib), registry.go, compile.go
// HINWEISE: Laden ist alles-oder-nichts, Teilergebnisse werden verworfen
package model

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// headerSize ist die Anzahl der Bytes, die Codecs zur Erkennung sehen
const headerSize = 64

// Load liest das Modell unter path mit der DefaultRegistry
func Load(path string) (*Model, error) {
	return DefaultRegistry.Load(path)
}

// Load liest das Modell unter path.
// Jeder Fehler ist ein *LoadError, dessen Kind() einer der Sentinel-Fehler ist.
func (r *Registry) Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Op: "open", Path: path, Layer: -1, Err: fmt.Errorf("%w: %w", ErrNotFound, err)}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, &LoadError{Op: "open", Path: path, Layer: -1, Err: fmt.Errorf("%w: %w", ErrNotFound, err)}
	}
	if fi.IsDir() {
		return nil, &LoadError{Op: "open", Path: path, Layer: -1, Err: fmt.Errorf("%w: is a directory", ErrNotFound)}
	}

	m, err := r.Read(filepath.Base(path), f, fi.Size())
	if err != nil {
		var lerr *LoadError
		if errors.As(err, &lerr) {
			lerr.Path = path
		}
		return nil, err
	}

	slog.Debug("model loaded", "path", path, "format", m.format, "layers", len(m.layers),
		"input", m.inputShape, "classes", m.NumClasses(), "parameters", m.ParameterCount())
	return m, nil
}

// Read dekodiert ein Modell aus r. name dient nur der Format-Erkennung.
func (r *Registry) Read(name string, ra io.ReaderAt, size int64) (*Model, error) {
	header := make([]byte, min(size, headerSize))
	if _, err := ra.ReadAt(header, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, &LoadError{Op: "detect", Layer: -1, Err: fmt.Errorf("%w: %w", ErrCorruptFormat, err)}
	}

	c, ok := r.Detect(name, header)
	if !ok {
		return nil, &LoadError{Op: "detect", Layer: -1, Err: fmt.Errorf("%w: unrecognized file format (known: %s)", ErrCorruptFormat, strings.Join(r.Names(), ", "))}
	}

	spec, err := c.Decode(ra, size)
	if err != nil {
		return nil, &LoadError{Op: "decode " + c.Name(), Layer: -1, Err: corrupt(err)}
	}

	spec.Format = c.Name()
	if spec.Name == "" {
		spec.Name = strings.TrimSuffix(name, filepath.Ext(name))
	}

	m, err := Compile(spec)
	if err != nil {
		return nil, err
	}
	m.fileSize = size
	return m, nil
}
