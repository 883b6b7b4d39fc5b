// Package ggml - GGUF schreiben
//
// Dieses Modul enthaelt:
// - WriteGGUF: Schreibt Header, KV-Paare, Tensor-Infos und Daten (Version 3)
// - encoder: Gepufferter Header-Writer mit gemerktem ersten Fehler
// - ggufPadding: Abstand bis zur naechsten Alignment-Grenze
package ggml

import (
	"bufio"
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// WriteGGUF schreibt ein GGUF-File mit KV-Paaren und Tensors.
// Schluessel ohne "general."-Prefix erhalten den Architektur-Prefix.
// Die Tensor-Daten liefert das eingebettete io.WriterTo jedes Tensors,
// sie werden parallel an ihre Offsets geschrieben.
func WriteGGUF(f *os.File, kv KV, ts []*Tensor) error {
	arch := kv.String("general.architecture")
	if arch == "" {
		return fmt.Errorf("architecture not set")
	}

	// Tensors nach Layer, innerhalb eines Layers nach Namen
	slices.SortStableFunc(ts, func(a, b *Tensor) int {
		return cmp.Or(cmp.Compare(a.layer(), b.layer()), cmp.Compare(a.Name, b.Name))
	})

	alignment := int64(kv.Alignment())
	var size uint64
	for _, t := range ts {
		if t.WriterTo == nil {
			return fmt.Errorf("tensor %s has no data", t.Name)
		}
		t.Offset = size
		size += t.Size()
		size += uint64(ggufPadding(int64(size), alignment))
	}

	start, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	e := &encoder{w: bufio.NewWriter(f)}
	e.put([]byte("GGUF"))
	e.put(uint32(3))
	e.put(uint64(len(ts)))
	e.put(uint64(kv.Len()))

	for _, key := range slices.Sorted(kv.Keys()) {
		name := key
		if !strings.HasPrefix(key, arch+".") && !strings.HasPrefix(key, "general.") {
			name = arch + "." + key
		}
		e.putString(name)
		e.value(name, kv.Value(key))
	}

	for _, t := range ts {
		e.putString(t.Name)
		e.put(uint32(len(t.Shape)))
		e.put(t.Shape)
		e.put(t.Kind)
		e.put(t.Offset)
	}

	if err := e.flush(); err != nil {
		return err
	}

	offset := start + e.n
	offset += ggufPadding(offset, alignment)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, t := range ts {
		w := io.NewOffsetWriter(f, offset+int64(t.Offset))
		g.Go(func() error {
			_, err := t.WriteTo(w)
			return err
		})
	}

	return g.Wait()
}

// encoder schreibt little-endian und merkt sich den ersten Fehler
type encoder struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (e *encoder) put(v any) {
	if e.err != nil {
		return
	}
	if e.err = binary.Write(e.w, binary.LittleEndian, v); e.err == nil {
		e.n += int64(binary.Size(v))
	}
}

// putString schreibt Laenge und Bytes ohne Typ-Prefix
func (e *encoder) putString(s string) {
	e.put(uint64(len(s)))
	e.put([]byte(s))
}

// value schreibt Typ-Prefix und Wert eines KV-Paares
func (e *encoder) value(key string, v any) {
	switch v := v.(type) {
	case uint32:
		e.put(ggufTypeUint32)
		e.put(v)
	case int32:
		e.put(ggufTypeInt32)
		e.put(v)
	case uint64:
		e.put(ggufTypeUint64)
		e.put(v)
	case int64:
		e.put(ggufTypeInt64)
		e.put(v)
	case float32:
		e.put(ggufTypeFloat32)
		e.put(v)
	case float64:
		e.put(ggufTypeFloat64)
		e.put(v)
	case bool:
		e.put(ggufTypeBool)
		e.put(v)
	case string:
		e.put(ggufTypeString)
		e.putString(v)
	case []uint32:
		putArray(e, ggufTypeUint32, v)
	case *array[uint32]:
		putArray(e, ggufTypeUint32, v.values)
	case []int32:
		putArray(e, ggufTypeInt32, v)
	case *array[int32]:
		putArray(e, ggufTypeInt32, v.values)
	case []float32:
		putArray(e, ggufTypeFloat32, v)
	case *array[float32]:
		putArray(e, ggufTypeFloat32, v.values)
	case []bool:
		putArray(e, ggufTypeBool, v)
	case []string:
		e.putStrings(v)
	case *array[string]:
		e.putStrings(v.values)
	default:
		if e.err == nil {
			e.err = fmt.Errorf("improper type %T for %q", v, key)
		}
	}
}

func (e *encoder) putStrings(s []string) {
	e.put(ggufTypeArray)
	e.put(ggufTypeString)
	e.put(uint64(len(s)))
	for _, v := range s {
		e.putString(v)
	}
}

// putArray schreibt ein Array fester Elementgroesse
func putArray[E any](e *encoder, t uint32, s []E) {
	e.put(ggufTypeArray)
	e.put(t)
	e.put(uint64(len(s)))
	if len(s) > 0 {
		e.put(s)
	}
}

func (e *encoder) flush() error {
	if e.err != nil {
		return e.err
	}
	return e.w.Flush()
}

// ggufPadding berechnet das Padding fuer Alignment
func ggufPadding(offset, align int64) int64 {
	return (align - offset%align) % align
}
