// conv.go - 2D-Faltung ueber ein einzelnes CHW-Bild
//
// Dieses Modul enthaelt:
// - Conv2DParams: Stride, asymmetrisches Padding, Dilation, Gruppen
// - ConvOutputSize: Ausgabegroesse einer Raumdimension
// - Conv2D: im2col plus blas32.Gemm je Gruppe
package ml

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Conv2DParams beschreibt eine Faltung. Alle Werte stammen aus dem Modell.
type Conv2DParams struct {
	StrideH, StrideW     int
	PadTop, PadLeft      int
	PadBottom, PadRight  int
	DilationH, DilationW int
	Groups               int
}

// ConvOutputSize berechnet die Ausgabegroesse einer Dimension (floor-Modus).
// Ergebnisse <= 0 bedeuten, dass der Kernel nicht in die Eingabe passt.
func ConvOutputSize(in, kernel, stride, padBefore, padAfter, dilation int) int {
	if stride <= 0 || dilation <= 0 {
		return 0
	}
	span := dilation*(kernel-1) + 1
	if in+padBefore+padAfter < span {
		return 0
	}
	return (in+padBefore+padAfter-span)/stride + 1
}

// Conv2D faltet x [C,H,W] mit w [O,C/groups,KH,KW] und optionalem Bias b [O].
// Ergebnis ist [O,OH,OW].
func Conv2D(x, w, b *Tensor, p Conv2DParams) (*Tensor, error) {
	if err := expectRank("conv2d input", x, 3); err != nil {
		return nil, err
	}
	if err := expectRank("conv2d weight", w, 4); err != nil {
		return nil, err
	}

	groups := max(p.Groups, 1)
	c, h, wd := x.Shape[0], x.Shape[1], x.Shape[2]
	o, cg, kh, kw := w.Shape[0], w.Shape[1], w.Shape[2], w.Shape[3]

	if c%groups != 0 || o%groups != 0 || c/groups != cg {
		return nil, fmt.Errorf("%w: conv2d input channels %d, weight %v, groups %d", ErrShape, c, w.Shape, groups)
	}
	if b != nil && (len(b.Shape) != 1 || b.Shape[0] != o) {
		return nil, fmt.Errorf("%w: conv2d bias %v for %d output channels", ErrShape, b.Shape, o)
	}

	oh := ConvOutputSize(h, kh, p.StrideH, p.PadTop, p.PadBottom, p.DilationH)
	ow := ConvOutputSize(wd, kw, p.StrideW, p.PadLeft, p.PadRight, p.DilationW)
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("%w: conv2d kernel %dx%d does not fit input %dx%d", ErrShape, kh, kw, h, wd)
	}

	og := o / groups
	k := cg * kh * kw
	spatial := oh * ow

	out := New(o, oh, ow)
	cols := make([]float32, k*spatial)

	for g := range groups {
		im2col(cols, x.Data[g*cg*h*wd:(g+1)*cg*h*wd], cg, h, wd, kh, kw, oh, ow, p)

		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
			blas32.General{Rows: og, Cols: k, Stride: k, Data: w.Data[g*og*k : (g+1)*og*k]},
			blas32.General{Rows: k, Cols: spatial, Stride: spatial, Data: cols},
			0,
			blas32.General{Rows: og, Cols: spatial, Stride: spatial, Data: out.Data[g*og*spatial : (g+1)*og*spatial]},
		)
	}

	if b != nil {
		for oc := range o {
			bias := b.Data[oc]
			plane := out.Data[oc*spatial : (oc+1)*spatial]
			for i := range plane {
				plane[i] += bias
			}
		}
	}

	return out, nil
}

// im2col legt die Eingabefenster einer Gruppe als Spalten in cols ab.
// Zeile (c*KH+i)*KW+j enthaelt fuer jede Ausgabeposition das Element unter
// Kernel-Position (i,j) in Kanal c, ausserhalb der Eingabe 0.
func im2col(cols, src []float32, channels, h, w, kh, kw, oh, ow int, p Conv2DParams) {
	spatial := oh * ow
	for c := range channels {
		plane := src[c*h*w : (c+1)*h*w]
		for i := range kh {
			for j := range kw {
				row := cols[((c*kh+i)*kw+j)*spatial:][:spatial]
				for y := range oh {
					iy := y*p.StrideH - p.PadTop + i*p.DilationH
					dst := row[y*ow : (y+1)*ow]
					if iy < 0 || iy >= h {
						clear(dst)
						continue
					}

					for x := range ow {
						ix := x*p.StrideW - p.PadLeft + j*p.DilationW
						if ix < 0 || ix >= w {
							dst[x] = 0
						} else {
							dst[x] = plane[iy*w+ix]
						}
					}
				}
			}
		}
	}
}
