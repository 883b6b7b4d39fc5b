// Package ggml - Tensor Datenstrukturen
//
// Dieses Modul enthaelt Tensor-bezogene Typen und Methoden:
// - Tensor: Einzelner Tensor mit Name, Shape, Kind
// - Tensors: Collection von Tensors mit Daten-Offset
// - Tensors.Lookup/CheckBounds: Zugriff und Bereichspruefung
// - Tensor.Reader: Section-Reader auf die Tensor-Daten
package ggml

import (
	"fmt"
	"io"
	"math"
	"math/bits"
	"strings"
)

// Tensors repraesentiert eine Sammlung von Tensors
type Tensors struct {
	items  []*Tensor
	Offset uint64
}

// Items gibt Tensors zurueck, optional gefiltert nach Prefix
func (s Tensors) Items(prefix ...string) []*Tensor {
	if len(prefix) == 0 {
		return s.items
	}

	var items []*Tensor
	for _, t := range s.items {
		if strings.HasPrefix(t.Name, prefix[0]) {
			items = append(items, t)
		}
	}

	return items
}

// Lookup sucht einen Tensor nach Namen
func (s Tensors) Lookup(name string) (*Tensor, bool) {
	for _, t := range s.items {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// CheckBounds prueft ob alle Tensor-Daten innerhalb von size Bytes liegen.
// Ohne Tensors endet die Datei nach dem Header, das Padding fehlt dann.
func (s Tensors) CheckBounds(size int64) error {
	if size < 0 {
		return fmt.Errorf("invalid file size %d", size)
	}
	if len(s.items) == 0 {
		return nil
	}
	if s.Offset > uint64(size) {
		return fmt.Errorf("tensor data offset %d beyond file size %d", s.Offset, size)
	}

	avail := uint64(size) - s.Offset
	for _, t := range s.items {
		n, ok := t.checkedSize()
		if !ok || t.Offset > avail || n > avail-t.Offset {
			return fmt.Errorf("tensor %s [%d, %d) beyond data size %d", t.Name, t.Offset, t.Offset+n, avail)
		}
	}
	return nil
}

// Tensor repraesentiert einen einzelnen GGUF-Tensor
type Tensor struct {
	Name   string `json:"name"`
	Kind   uint32 `json:"kind"`
	Offset uint64 `json:"-"`

	// Shape ist die Anzahl der Elemente in jeder Dimension, innerste zuerst
	Shape []uint64 `json:"shape"`

	io.WriterTo `json:"-"`
}

// layer extrahiert die Layer-Nummer aus dem Tensor-Namen
func (t Tensor) layer() (n int) {
	if _, err := fmt.Sscanf(t.Name, "layer.%d.", &n); err != nil {
		return math.MaxInt
	}
	return
}

// Elements gibt die Gesamtanzahl der Elemente im Tensor zurueck
func (t Tensor) Elements() uint64 {
	var count uint64 = 1
	for _, n := range t.Shape {
		count *= n
	}
	return count
}

// Size gibt die Groesse des Tensors in Bytes zurueck
func (t Tensor) Size() uint64 {
	return t.Elements() * TensorType(t.Kind).TypeSize()
}

// checkedSize wie Size, meldet aber Ueberlaeufe bei korrupten Shapes
func (t Tensor) checkedSize() (uint64, bool) {
	size := TensorType(t.Kind).TypeSize()
	for _, n := range t.Shape {
		hi, lo := bits.Mul64(size, n)
		if hi != 0 {
			return 0, false
		}
		size = lo
	}
	return size, true
}

// Type gibt den Typ-Namen als String zurueck
func (t Tensor) Type() string {
	return TensorType(t.Kind).String()
}

// Reader gibt einen Reader auf die Daten des Tensors zurueck.
// dataOffset ist Tensors().Offset des zugehoerigen Modells.
func (t Tensor) Reader(r io.ReaderAt, dataOffset uint64) *io.SectionReader {
	return io.NewSectionReader(r, int64(dataOffset+t.Offset), int64(t.Size()))
}
