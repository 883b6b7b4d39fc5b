// tensor.go - Dichter float32-Tensor mit Shape
//
// Dieses Modul enthaelt:
// - Tensor: Zusammenhaengender Puffer plus Shape (row-major)
// - Elements: Elementanzahl einer Shape mit Ueberlaufpruefung
// - New/FromData: Konstruktoren
// - Reshape/Clone: Sichten und Kopien
package ml

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrShape wird zurueckgegeben wenn Shape und Daten nicht zusammenpassen
var ErrShape = errors.New("ml: invalid shape")

// Tensor ist ein dichter float32-Puffer in row-major Reihenfolge.
// Invariante: len(Data) == Produkt(Shape).
type Tensor struct {
	Shape []int
	Data  []float32
}

// Elements gibt das Produkt der Dimensionen zurueck.
// Jede Dimension muss positiv sein.
func Elements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: empty shape", ErrShape)
	}

	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: non-positive dimension in %v", ErrShape, shape)
		}
		if n > math.MaxInt32/d {
			return 0, fmt.Errorf("%w: %v too large", ErrShape, shape)
		}
		n *= d
	}
	return n, nil
}

// New erstellt einen mit Nullen gefuellten Tensor.
// Die Shape muss gueltig sein (siehe Elements).
func New(shape ...int) *Tensor {
	n, err := Elements(shape)
	if err != nil {
		panic(err)
	}
	return &Tensor{Shape: slices.Clone(shape), Data: make([]float32, n)}
}

// FromData erstellt einen Tensor ueber data ohne zu kopieren
func FromData(shape []int, data []float32) (*Tensor, error) {
	n, err := Elements(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShape, len(data), shape)
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

// DType ist fuer ausgefuehrte Tensoren immer DTypeF32
func (t *Tensor) DType() DType {
	return DTypeF32
}

// Rank gibt die Anzahl der Dimensionen zurueck
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Elements gibt die Anzahl der Elemente zurueck
func (t *Tensor) Elements() int {
	return len(t.Data)
}

// Clone kopiert Shape und Daten
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

// Reshape gibt eine Sicht mit neuer Shape auf dieselben Daten zurueck
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	n, err := Elements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(t.Data) {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShape, t.Shape, shape)
	}
	return &Tensor{Shape: slices.Clone(shape), Data: t.Data}, nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.Shape)
}

// expectRank prueft die Rang-Vorbedingung eines Kernels
func expectRank(op string, t *Tensor, rank int) error {
	if t == nil {
		return fmt.Errorf("%w: %s: missing tensor", ErrShape, op)
	}
	if len(t.Shape) != rank {
		return fmt.Errorf("%w: %s expects rank %d, got %v", ErrShape, op, rank, t.Shape)
	}
	return nil
}
