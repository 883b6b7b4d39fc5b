// convert.go - Dekodierung serialisierter Gewichte nach float32
//
// Dieses Modul enthaelt:
// - Decode: Dispatch nach DType
// - DecodeF32/DecodeF16/DecodeBF16: little-endian Rohdaten zu []float32
// - Encode*: Gegenrichtung fuer Writer und Testdaten
package ml

import (
	"encoding/binary"
	"fmt"
	"math"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Decode wandelt little-endian Rohdaten vom Typ dtype in float32 um
func Decode(dtype DType, b []byte) ([]float32, error) {
	switch dtype {
	case DTypeF32:
		return DecodeF32(b)
	case DTypeF16:
		return DecodeF16(b)
	case DTypeBF16:
		return DecodeBF16(b)
	default:
		return nil, fmt.Errorf("ml: cannot decode dtype %s", dtype)
	}
}

// DecodeF32 dekodiert IEEE-754 float32 Werte
func DecodeF32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("ml: F32 data length %d not a multiple of 4", len(b))
	}

	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}

// DecodeF16 dekodiert IEEE-754 half precision Werte
func DecodeF16(b []byte) ([]float32, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("ml: F16 data length %d not a multiple of 2", len(b))
	}

	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = float16.Frombits(binary.LittleEndian.Uint16(b[2*i:])).Float32()
	}
	return out, nil
}

// DecodeBF16 dekodiert bfloat16 Werte
func DecodeBF16(b []byte) ([]float32, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("ml: BF16 data length %d not a multiple of 2", len(b))
	}
	return bfloat16.DecodeFloat32(b), nil
}

// Encode wandelt float32 Werte in little-endian Rohdaten vom Typ dtype um
func Encode(dtype DType, values []float32) ([]byte, error) {
	switch dtype {
	case DTypeF32:
		return EncodeF32(values), nil
	case DTypeF16:
		return EncodeF16(values), nil
	case DTypeBF16:
		return bfloat16.EncodeFloat32(values), nil
	default:
		return nil, fmt.Errorf("ml: cannot encode dtype %s", dtype)
	}
}

// EncodeF32 kodiert float32 Werte little-endian
func EncodeF32(values []float32) []byte {
	b := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

// EncodeF16 kodiert float32 Werte als half precision (round to nearest even)
func EncodeF16(values []float32) []byte {
	b := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(b[2*i:], float16.Fromfloat32(v).Bits())
	}
	return b
}
