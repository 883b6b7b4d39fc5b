// Package ggml - GGUF Container fuer sequentielle Modelle
//
// Dieses Modul enthaelt:
// - GGML: Dekodierter Header mit KV-Metadaten und Tensor-Infos
// - Decode: Liest Header, KV-Paare und Tensor-Infos (GGUF Version 2 und 3)
// - DetectContentType: Erkennung anhand der Magic-Bytes
// - Obergrenzen gegen korrupte Header
package ggml

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic Constants fuer GGUF
const (
	// FILE_MAGIC_GGUF_LE fuer GGUF Little-Endian
	FILE_MAGIC_GGUF_LE = 0x46554747
	// FILE_MAGIC_GGUF_BE fuer GGUF Big-Endian
	FILE_MAGIC_GGUF_BE = 0x47475546
)

// GGUF Werttypen in KV-Paaren
const (
	ggufTypeUint8 uint32 = iota
	ggufTypeInt8
	ggufTypeUint16
	ggufTypeInt16
	ggufTypeUint32
	ggufTypeInt32
	ggufTypeFloat32
	ggufTypeBool
	ggufTypeString
	ggufTypeArray
	ggufTypeUint64
	ggufTypeInt64
	ggufTypeFloat64
)

// Obergrenzen, ein Modell mit wenigen Layern bleibt weit darunter
const (
	maxKVCount     = 1 << 16
	maxTensorCount = 1 << 16
	maxTensorDims  = 4
	maxStringLen   = 1 << 20
	maxArrayLen    = 1 << 20
)

var (
	// ErrInvalidMagic wird zurueckgegeben wenn die Datei nicht mit GGUF beginnt
	ErrInvalidMagic = errors.New("invalid file magic")

	// ErrLimitExceeded wird zurueckgegeben wenn Header-Werte offensichtlich korrupt sind
	ErrLimitExceeded = errors.New("gguf header limit exceeded")
)

// GGML ist ein dekodierter GGUF-Header.
// Length ist die Anzahl gelesener Header-Bytes, die Tensor-Daten beginnen
// bei Tensors().Offset.
type GGML struct {
	Version uint32
	Length  int64

	// ByteOrder aus der Magic, gilt fuer Header und Tensor-Daten
	ByteOrder binary.ByteOrder

	kv      KV
	tensors Tensors
}

// KV gibt die Key-Value Paare zurueck
func (g *GGML) KV() KV {
	return g.kv
}

// Tensors gibt die Tensor-Infos mit dem Beginn des Datenbereichs zurueck
func (g *GGML) Tensors() Tensors {
	return g.tensors
}

// array haelt die Werte eines GGUF-Arrays
type array[T any] struct {
	values []T
}

// DetectContentType erkennt das Format anhand der Magic-Bytes
func DetectContentType(b []byte) string {
	if len(b) < 4 {
		return ""
	}

	switch binary.LittleEndian.Uint32(b[:4]) {
	case FILE_MAGIC_GGUF_LE, FILE_MAGIC_GGUF_BE:
		return "gguf"
	default:
		return ""
	}
}

// decoder liest GGUF-Werte und zaehlt die gelesenen Bytes
type decoder struct {
	r     io.Reader
	order binary.ByteOrder
	n     int64
}

func (d *decoder) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	d.n += int64(n)
	return n, err
}

// read liest einen Wert fester Groesse
func read[T any](d *decoder) (T, error) {
	var v T
	err := binary.Read(d, d.order, &v)
	return v, err
}

// Decode liest Header, KV-Paare und Tensor-Infos aus r.
// r sollte gepuffert sein, es wird in kleinen Stuecken gelesen.
func Decode(r io.Reader) (*GGML, error) {
	d := &decoder{r: r, order: binary.LittleEndian}

	magic, err := read[uint32](d)
	if err != nil {
		return nil, err
	}
	switch magic {
	case FILE_MAGIC_GGUF_LE:
	case FILE_MAGIC_GGUF_BE:
		d.order = binary.BigEndian
	default:
		return nil, ErrInvalidMagic
	}

	g := &GGML{ByteOrder: d.order, kv: make(KV)}
	if g.Version, err = read[uint32](d); err != nil {
		return nil, err
	}
	if g.Version != 2 && g.Version != 3 {
		return nil, fmt.Errorf("unsupported gguf version %d", g.Version)
	}

	numTensor, err := read[uint64](d)
	if err != nil {
		return nil, err
	}
	numKV, err := read[uint64](d)
	if err != nil {
		return nil, err
	}
	if numKV > maxKVCount {
		return nil, fmt.Errorf("%w: %d key values", ErrLimitExceeded, numKV)
	}
	if numTensor > maxTensorCount {
		return nil, fmt.Errorf("%w: %d tensors", ErrLimitExceeded, numTensor)
	}

	for i := range numKV {
		k, err := d.readString()
		if err != nil {
			return nil, fmt.Errorf("failed to read key %d: %w", i, err)
		}

		t, err := read[uint32](d)
		if err != nil {
			return nil, err
		}

		v, err := d.value(t)
		if err != nil {
			return nil, fmt.Errorf("failed to read value of %q: %w", k, err)
		}
		g.kv[k] = v
	}

	var parameters uint64
	g.tensors.items = make([]*Tensor, 0, numTensor)
	for range numTensor {
		t, err := d.tensor()
		if err != nil {
			return nil, err
		}
		g.tensors.items = append(g.tensors.items, t)
		parameters += t.Elements()
	}
	g.kv["general.parameter_count"] = parameters

	alignment := g.kv.Alignment()
	if alignment == 0 {
		return nil, fmt.Errorf("invalid alignment 0")
	}

	g.Length = d.n
	g.tensors.Offset = uint64(d.n + ggufPadding(d.n, int64(alignment)))
	return g, nil
}

// readString liest einen String mit 64-Bit Laenge
func (d *decoder) readString() (string, error) {
	n, err := read[uint64](d)
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", fmt.Errorf("%w: string length %d", ErrLimitExceeded, n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(d, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// value liest einen Wert vom Typ t
func (d *decoder) value(t uint32) (any, error) {
	switch t {
	case ggufTypeUint8:
		return read[uint8](d)
	case ggufTypeInt8:
		return read[int8](d)
	case ggufTypeUint16:
		return read[uint16](d)
	case ggufTypeInt16:
		return read[int16](d)
	case ggufTypeUint32:
		return read[uint32](d)
	case ggufTypeInt32:
		return read[int32](d)
	case ggufTypeUint64:
		return read[uint64](d)
	case ggufTypeInt64:
		return read[int64](d)
	case ggufTypeFloat32:
		return read[float32](d)
	case ggufTypeFloat64:
		return read[float64](d)
	case ggufTypeBool:
		return read[bool](d)
	case ggufTypeString:
		return d.readString()
	case ggufTypeArray:
		return d.arrayValue()
	default:
		return nil, fmt.Errorf("invalid type %d", t)
	}
}

// arrayValue liest ein Array, verschachtelte Arrays werden nicht unterstuetzt
func (d *decoder) arrayValue() (any, error) {
	t, err := read[uint32](d)
	if err != nil {
		return nil, err
	}
	n, err := read[uint64](d)
	if err != nil {
		return nil, err
	}
	if n > maxArrayLen {
		return nil, fmt.Errorf("%w: array length %d", ErrLimitExceeded, n)
	}

	switch t {
	case ggufTypeUint8:
		return readArray[uint8](d, n)
	case ggufTypeInt8:
		return readArray[int8](d, n)
	case ggufTypeUint16:
		return readArray[uint16](d, n)
	case ggufTypeInt16:
		return readArray[int16](d, n)
	case ggufTypeUint32:
		return readArray[uint32](d, n)
	case ggufTypeInt32:
		return readArray[int32](d, n)
	case ggufTypeUint64:
		return readArray[uint64](d, n)
	case ggufTypeInt64:
		return readArray[int64](d, n)
	case ggufTypeFloat32:
		return readArray[float32](d, n)
	case ggufTypeFloat64:
		return readArray[float64](d, n)
	case ggufTypeBool:
		return readArray[bool](d, n)
	case ggufTypeString:
		values := make([]string, n)
		for i := range values {
			s, err := d.readString()
			if err != nil {
				return nil, err
			}
			values[i] = s
		}
		return &array[string]{values: values}, nil
	default:
		return nil, fmt.Errorf("invalid array type %d", t)
	}
}

// readArray liest n Werte fester Groesse am Stueck
func readArray[T any](d *decoder, n uint64) (*array[T], error) {
	values := make([]T, n)
	if err := binary.Read(d, d.order, values); err != nil {
		return nil, err
	}
	return &array[T]{values: values}, nil
}

// tensor liest die Infos eines Tensors
func (d *decoder) tensor() (*Tensor, error) {
	name, err := d.readString()
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor name: %w", err)
	}

	dims, err := read[uint32](d)
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor dimensions: %w", err)
	}
	if dims > maxTensorDims {
		return nil, fmt.Errorf("%w: tensor %s has %d dimensions", ErrLimitExceeded, name, dims)
	}

	shape := make([]uint64, dims)
	if err := binary.Read(d, d.order, shape); err != nil {
		return nil, fmt.Errorf("failed to read tensor shape: %w", err)
	}

	kind, err := read[uint32](d)
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor kind: %w", err)
	}

	offset, err := read[uint64](d)
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor offset: %w", err)
	}

	return &Tensor{Name: name, Kind: kind, Offset: offset, Shape: shape}, nil
}
