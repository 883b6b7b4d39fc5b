// norm.go - Batch-Normalisierung im Inferenzmodus
package ml

import (
	"fmt"

	"github.com/chewxy/math32"
)

// BatchNorm normalisiert jeden Kanal von x [C,H,W] mit den gespeicherten
// Statistiken: y = (x - mean) / sqrt(var + eps) * gamma + beta.
// gamma und beta sind optional (nil bedeutet 1 bzw. 0).
func BatchNorm(x, gamma, beta, mean, variance *Tensor, eps float32) (*Tensor, error) {
	if err := expectRank("batchnorm input", x, 3); err != nil {
		return nil, err
	}

	c := x.Shape[0]
	for _, p := range []struct {
		name string
		t    *Tensor
		opt  bool
	}{
		{"weight", gamma, true},
		{"bias", beta, true},
		{"running_mean", mean, false},
		{"running_var", variance, false},
	} {
		if p.t == nil {
			if p.opt {
				continue
			}
			return nil, fmt.Errorf("%w: batchnorm %s missing", ErrShape, p.name)
		}
		if len(p.t.Shape) != 1 || p.t.Shape[0] != c {
			return nil, fmt.Errorf("%w: batchnorm %s %v for %d channels", ErrShape, p.name, p.t.Shape, c)
		}
	}

	out := New(x.Shape...)
	plane := x.Shape[1] * x.Shape[2]
	for ch := range c {
		scale := 1 / math32.Sqrt(variance.Data[ch]+eps)
		if gamma != nil {
			scale *= gamma.Data[ch]
		}
		shift := -mean.Data[ch] * scale
		if beta != nil {
			shift += beta.Data[ch]
		}

		src := x.Data[ch*plane : (ch+1)*plane]
		dst := out.Data[ch*plane : (ch+1)*plane]
		for i, v := range src {
			dst[i] = v*scale + shift
		}
	}
	return out, nil
}
