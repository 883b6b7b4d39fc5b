// types.go - Datentypen der Tensor-Elemente
// Dieses Modul definiert DType fuer gespeicherte und ausfuehrbare Tensoren.
package ml

// DType represents the data type of tensor elements.
//
// Executed tensors are always DTypeF32; F16 and BF16 only occur in
// serialized weights and are widened while loading.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
)

// Size returns the number of bytes per element, 0 for DTypeOther.
func (d DType) Size() int {
	switch d {
	case DTypeF32:
		return 4
	case DTypeF16, DTypeBF16:
		return 2
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "F32"
	case DTypeF16:
		return "F16"
	case DTypeBF16:
		return "BF16"
	default:
		return "other"
	}
}
