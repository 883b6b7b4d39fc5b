// tensortype.go - GGUF TensorType Definitionen
// Enthaelt: die ausfuehrbaren Gleitkomma-Typen und ihre Groessen

package ggml

import (
	"fmt"
)

// TensorType ist der GGUF-Typ eines einzelnen Tensors.
// Die Werte entsprechen der GGUF-Nummerierung, daher die Luecke vor BF16.
type TensorType uint32

const (
	TensorTypeF32  TensorType = 0
	TensorTypeF16  TensorType = 1
	TensorTypeBF16 TensorType = 30
)

// Supported meldet ob Tensor-Daten dieses Typs dekodiert werden koennen
func (t TensorType) Supported() bool {
	switch t {
	case TensorTypeF32, TensorTypeF16, TensorTypeBF16:
		return true
	default:
		return false
	}
}

// TypeSize gibt die Byte-Groesse pro Element zurueck, 0 fuer unbekannte Typen
func (t TensorType) TypeSize() uint64 {
	switch t {
	case TensorTypeF32:
		return 4
	case TensorTypeF16, TensorTypeBF16:
		return 2
	default:
		return 0
	}
}

// String gibt die String-Repraesentation des TensorType zurueck
func (t TensorType) String() string {
	switch t {
	case TensorTypeF32:
		return "F32"
	case TensorTypeF16:
		return "F16"
	case TensorTypeBF16:
		return "BF16"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}
