// Package safetensors - Lesen und Schreiben von .safetensors Dateien
//
// Dieses Modul enthaelt:
// - File: Header mit Tensor-Infos und __metadata__
// - Open: Liest und prueft den JSON-Header
// - File.ReadTensor: Rohdaten eines Tensors
// - Write: Schreibt Header und Daten zusammenhaengend
package safetensors

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
)

// MetadataKey ist der reservierte Header-Eintrag fuer freie String-Metadaten
const MetadataKey = "__metadata__"

// maxHeaderSize begrenzt den JSON-Header wie die Referenz-Implementierung
const maxHeaderSize = 100 << 20

var (
	// ErrInvalidHeader wird zurueckgegeben wenn der Header nicht gelesen werden kann
	ErrInvalidHeader = errors.New("safetensors: invalid header")

	// ErrInvalidOffsets wird zurueckgegeben wenn Tensor-Daten nicht zum Header passen
	ErrInvalidOffsets = errors.New("safetensors: invalid data offsets")
)

// dtypeSizes kennt die Elementgroesse der ueblichen Typen
var dtypeSizes = map[string]uint64{
	"BOOL": 1, "U8": 1, "I8": 1,
	"I16": 2, "U16": 2, "F16": 2, "BF16": 2,
	"I32": 4, "U32": 4, "F32": 4,
	"I64": 8, "U64": 8, "F64": 8,
}

// DTypeSize gibt die Elementgroesse fuer dtype zurueck, 0 wenn unbekannt
func DTypeSize(dtype string) uint64 {
	return dtypeSizes[dtype]
}

// TensorInfo beschreibt einen Tensor im Header
type TensorInfo struct {
	Name    string    `json:"-"`
	DType   string    `json:"dtype"`
	Shape   []int     `json:"shape"`
	Offsets [2]uint64 `json:"data_offsets"`
}

// Elements gibt die Anzahl der Elemente zurueck
func (t TensorInfo) Elements() uint64 {
	n := uint64(1)
	for _, d := range t.Shape {
		n *= uint64(d)
	}
	return n
}

// File ist eine geoeffnete safetensors Datei
type File struct {
	Metadata map[string]string

	// Tensors ist nach Daten-Offset sortiert
	Tensors []TensorInfo

	r          io.ReaderAt
	dataOffset int64
}

// Detect meldet ob header wie ein safetensors Header aussieht
func Detect(header []byte) bool {
	if len(header) < 9 {
		return false
	}
	n := binary.LittleEndian.Uint64(header[:8])
	return n >= 2 && n <= maxHeaderSize && header[8] == '{'
}

// Open liest den Header aus r. size ist die Dateigroesse.
func Open(r io.ReaderAt, size int64) (*File, error) {
	var prefix [8]byte
	if _, err := r.ReadAt(prefix[:], 0); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}

	n := binary.LittleEndian.Uint64(prefix[:])
	if n > maxHeaderSize || int64(n) > size-8 {
		return nil, fmt.Errorf("%w: header length %d exceeds file size %d", ErrInvalidHeader, n, size)
	}

	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, 8); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(buf, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}

	f := &File{r: r, dataOffset: 8 + int64(n)}
	for name, msg := range raw {
		if name == MetadataKey {
			if err := json.Unmarshal(msg, &f.Metadata); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidHeader, MetadataKey, err)
			}
			continue
		}

		var t TensorInfo
		if err := json.Unmarshal(msg, &t); err != nil {
			return nil, fmt.Errorf("%w: tensor %s: %w", ErrInvalidHeader, name, err)
		}
		t.Name = name
		f.Tensors = append(f.Tensors, t)
	}

	slices.SortFunc(f.Tensors, func(a, b TensorInfo) int {
		return cmp.Or(cmp.Compare(a.Offsets[0], b.Offsets[0]), cmp.Compare(a.Name, b.Name))
	})

	if err := f.checkOffsets(uint64(size - f.dataOffset)); err != nil {
		return nil, err
	}
	return f, nil
}

// checkOffsets prueft dass die Tensoren luecken- und ueberlappungsfrei im Datenbereich liegen
func (f *File) checkOffsets(avail uint64) error {
	var next uint64
	for _, t := range f.Tensors {
		size := DTypeSize(t.DType)
		if size == 0 {
			return fmt.Errorf("%w: tensor %s has unknown dtype %q", ErrInvalidHeader, t.Name, t.DType)
		}
		for _, d := range t.Shape {
			if d < 0 {
				return fmt.Errorf("%w: tensor %s has negative dimension %v", ErrInvalidHeader, t.Name, t.Shape)
			}
			if d > 0 && size > (1<<62)/uint64(d) {
				return fmt.Errorf("%w: tensor %s shape %v too large", ErrInvalidHeader, t.Name, t.Shape)
			}
			size *= uint64(d)
		}

		begin, end := t.Offsets[0], t.Offsets[1]
		if begin != next || end < begin || end-begin != size {
			return fmt.Errorf("%w: tensor %s [%d, %d) expected start %d and %d bytes", ErrInvalidOffsets, t.Name, begin, end, next, size)
		}
		next = end
	}

	if next > avail {
		return fmt.Errorf("%w: data needs %d bytes, file has %d", ErrInvalidOffsets, next, avail)
	}
	return nil
}

// Lookup sucht einen Tensor nach Namen
func (f *File) Lookup(name string) (TensorInfo, bool) {
	for _, t := range f.Tensors {
		if t.Name == name {
			return t, true
		}
	}
	return TensorInfo{}, false
}

// ReadTensor liest die Rohdaten von t
func (f *File) ReadTensor(t TensorInfo) ([]byte, error) {
	b := make([]byte, t.Offsets[1]-t.Offsets[0])
	if _, err := f.r.ReadAt(b, f.dataOffset+int64(t.Offsets[0])); err != nil {
		return nil, fmt.Errorf("safetensors: tensor %s: %w", t.Name, err)
	}
	return b, nil
}

// Tensor ist ein zu schreibender Tensor
type Tensor struct {
	Name  string
	DType string
	Shape []int
	Data  []byte
}

// Write schreibt metadata und tensors in der gegebenen Reihenfolge.
// Der Header wird mit Leerzeichen auf ein Vielfaches von 8 Bytes aufgefuellt.
func Write(w io.Writer, metadata map[string]string, tensors []Tensor) error {
	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header[MetadataKey] = metadata
	}

	var offset uint64
	for _, t := range tensors {
		if _, ok := header[t.Name]; ok {
			return fmt.Errorf("safetensors: duplicate tensor %s", t.Name)
		}
		info := TensorInfo{DType: t.DType, Shape: t.Shape, Offsets: [2]uint64{offset, offset + uint64(len(t.Data))}}
		if info.Shape == nil {
			info.Shape = []int{}
		}
		header[t.Name] = info
		offset += uint64(len(t.Data))
	}

	b, err := json.Marshal(header)
	if err != nil {
		return err
	}
	if pad := len(b) % 8; pad != 0 {
		b = append(b, bytes.Repeat([]byte(" "), 8-pad)...)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(b))); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	for _, t := range tensors {
		if _, err := w.Write(t.Data); err != nil {
			return err
		}
	}
	return nil
}
