// dense.go - Vollverbundene Schicht
// Dieses Modul berechnet y = W x + b mit blas32.Gemv.
package ml

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Dense multipliziert x [In] mit w [Out,In] und addiert optional b [Out]
func Dense(x, w, b *Tensor) (*Tensor, error) {
	if err := expectRank("dense input", x, 1); err != nil {
		return nil, err
	}
	if err := expectRank("dense weight", w, 2); err != nil {
		return nil, err
	}

	rows, cols := w.Shape[0], w.Shape[1]
	if x.Shape[0] != cols {
		return nil, fmt.Errorf("%w: dense input %v for weight %v", ErrShape, x.Shape, w.Shape)
	}

	out := New(rows)
	beta := float32(0)
	if b != nil {
		if len(b.Shape) != 1 || b.Shape[0] != rows {
			return nil, fmt.Errorf("%w: dense bias %v for weight %v", ErrShape, b.Shape, w.Shape)
		}
		copy(out.Data, b.Data)
		beta = 1
	}

	blas32.Gemv(blas.NoTrans, 1,
		blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: w.Data},
		blas32.Vector{N: cols, Data: x.Data, Inc: 1},
		beta,
		blas32.Vector{N: rows, Data: out.Data, Inc: 1},
	)
	return out, nil
}
