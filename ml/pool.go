// pool.go - Pooling und Flatten
//
// Dieses Modul enthaelt:
// - Pool2DParams: Kernel, Stride, Padding, Dilation
// - MaxPool2D/AvgPool2D: Fenster-Pooling ueber [C,H,W]
// - GlobalAvgPool2D: Mittelwert je Kanal, Ergebnis [C,1,1]
// - Flatten: Sicht als Rang-1 Tensor
package ml

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Pool2DParams beschreibt ein Pooling-Fenster
type Pool2DParams struct {
	KernelH, KernelW     int
	StrideH, StrideW     int
	PadTop, PadLeft      int
	PadBottom, PadRight  int
	DilationH, DilationW int

	// CountIncludePad zaehlt Padding-Positionen beim Mittelwert mit
	CountIncludePad bool
}

func (p Pool2DParams) outputSize(h, w int) (int, int, error) {
	if p.KernelH <= 0 || p.KernelW <= 0 {
		return 0, 0, fmt.Errorf("%w: pool kernel %dx%d", ErrShape, p.KernelH, p.KernelW)
	}
	oh := ConvOutputSize(h, p.KernelH, p.StrideH, p.PadTop, p.PadBottom, max(p.DilationH, 1))
	ow := ConvOutputSize(w, p.KernelW, p.StrideW, p.PadLeft, p.PadRight, max(p.DilationW, 1))
	if oh <= 0 || ow <= 0 {
		return 0, 0, fmt.Errorf("%w: pool kernel %dx%d does not fit input %dx%d", ErrShape, p.KernelH, p.KernelW, h, w)
	}
	return oh, ow, nil
}

// PoolOutputShape gibt die Ausgabe-Shape fuer eine Eingabe [C,H,W] zurueck
func PoolOutputShape(in []int, p Pool2DParams) ([]int, error) {
	if len(in) != 3 {
		return nil, fmt.Errorf("%w: pool expects rank 3, got %v", ErrShape, in)
	}
	oh, ow, err := p.outputSize(in[1], in[2])
	if err != nil {
		return nil, err
	}
	return []int{in[0], oh, ow}, nil
}

// MaxPool2D nimmt das Maximum je Fenster. Padding-Positionen werden ignoriert.
func MaxPool2D(x *Tensor, p Pool2DParams) (*Tensor, error) {
	return pool2D(x, p, func(window []float32, _ int) float32 {
		m := math32.Inf(-1)
		for _, v := range window {
			m = max(m, v)
		}
		return m
	})
}

// AvgPool2D mittelt je Fenster. Mit CountIncludePad ist der Divisor die
// Fenstergroesse innerhalb der gepaddeten Eingabe, sonst die Anzahl echter Werte.
func AvgPool2D(x *Tensor, p Pool2DParams) (*Tensor, error) {
	return pool2D(x, p, func(window []float32, padded int) float32 {
		var sum float32
		for _, v := range window {
			sum += v
		}
		n := len(window)
		if p.CountIncludePad {
			n = padded
		}
		if n == 0 {
			return 0
		}
		return sum / float32(n)
	})
}

// pool2D sammelt je Ausgabeposition die echten Eingabewerte und die Anzahl
// der Fensterpositionen innerhalb der gepaddeten Eingabe
func pool2D(x *Tensor, p Pool2DParams, reduce func(window []float32, padded int) float32) (*Tensor, error) {
	if err := expectRank("pool2d input", x, 3); err != nil {
		return nil, err
	}

	c, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	oh, ow, err := p.outputSize(h, w)
	if err != nil {
		return nil, err
	}

	dh, dw := max(p.DilationH, 1), max(p.DilationW, 1)
	out := New(c, oh, ow)
	window := make([]float32, 0, p.KernelH*p.KernelW)

	for ch := range c {
		plane := x.Data[ch*h*w : (ch+1)*h*w]
		for y := range oh {
			for xo := range ow {
				window = window[:0]
				padded := 0
				for i := range p.KernelH {
					iy := y*p.StrideH - p.PadTop + i*dh
					if iy >= h+p.PadBottom {
						continue
					}
					for j := range p.KernelW {
						ix := xo*p.StrideW - p.PadLeft + j*dw
						if ix >= w+p.PadRight {
							continue
						}
						padded++
						if iy >= 0 && iy < h && ix >= 0 && ix < w {
							window = append(window, plane[iy*w+ix])
						}
					}
				}
				out.Data[(ch*oh+y)*ow+xo] = reduce(window, padded)
			}
		}
	}
	return out, nil
}

// GlobalAvgPool2D mittelt jeden Kanal von [C,H,W] zu [C,1,1]
func GlobalAvgPool2D(x *Tensor) (*Tensor, error) {
	if err := expectRank("global_avgpool2d input", x, 3); err != nil {
		return nil, err
	}

	c, plane := x.Shape[0], x.Shape[1]*x.Shape[2]
	out := New(c, 1, 1)
	for ch := range c {
		var sum float32
		for _, v := range x.Data[ch*plane : (ch+1)*plane] {
			sum += v
		}
		out.Data[ch] = sum / float32(plane)
	}
	return out, nil
}

// Flatten gibt eine Rang-1 Sicht zurueck
func Flatten(x *Tensor) *Tensor {
	return &Tensor{Shape: []int{len(x.Data)}, Data: x.Data}
}
