// activation.go - Elementweise Aktivierungen und Softmax
package ml

import (
	"github.com/chewxy/math32"
)

func mapInto(x *Tensor, fn func(float32) float32) *Tensor {
	out := New(x.Shape...)
	for i, v := range x.Data {
		out.Data[i] = fn(v)
	}
	return out
}

// ReLU gibt max(0, x) zurueck
func ReLU(x *Tensor) *Tensor {
	return mapInto(x, func(v float32) float32 {
		return max(v, 0)
	})
}

// LeakyReLU gibt x fuer x >= 0 und alpha*x sonst zurueck
func LeakyReLU(x *Tensor, alpha float32) *Tensor {
	return mapInto(x, func(v float32) float32 {
		if v < 0 {
			return alpha * v
		}
		return v
	})
}

// ReLU6 begrenzt auf [0, 6]
func ReLU6(x *Tensor) *Tensor {
	return mapInto(x, func(v float32) float32 {
		return min(max(v, 0), 6)
	})
}

// Sigmoid berechnet 1 / (1 + exp(-x)) ohne Ueberlauf fuer grosse |x|
func Sigmoid(x *Tensor) *Tensor {
	return mapInto(x, func(v float32) float32 {
		if v >= 0 {
			return 1 / (1 + math32.Exp(-v))
		}
		e := math32.Exp(v)
		return e / (1 + e)
	})
}

// Tanh berechnet den hyperbolischen Tangens
func Tanh(x *Tensor) *Tensor {
	return mapInto(x, math32.Tanh)
}

// Softmax normalisiert einen Rang-1 Tensor zu einer Wahrscheinlichkeitsverteilung.
// Das Maximum wird vorher abgezogen.
func Softmax(x *Tensor) (*Tensor, error) {
	if err := expectRank("softmax", x, 1); err != nil {
		return nil, err
	}

	out := New(x.Shape...)
	copy(out.Data, x.Data)
	SoftmaxInPlace(out.Data)
	return out, nil
}

// SoftmaxInPlace wendet Softmax direkt auf values an
func SoftmaxInPlace(values []float32) {
	if len(values) == 0 {
		return
	}

	m := values[0]
	for _, v := range values[1:] {
		m = max(m, v)
	}

	var sum float32
	for i, v := range values {
		e := math32.Exp(v - m)
		values[i] = e
		sum += e
	}
	for i := range values {
		values[i] /= sum
	}
}
