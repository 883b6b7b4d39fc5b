// MODUL: kernels_test
// ZWECK: Tests fuer Faltung, Dense, BatchNorm, Aktivierungen und Pooling
// INPUT: Kleine handberechnete Tensoren
// OUTPUT: Testresultate
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: testing, go-cmp
// HINWEISE: Conv2D wird zusaetzlich gegen eine naive Referenz geprueft

package ml

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var approx = cmpopts.EquateApprox(0, 1e-5)

func mustTensor(t *testing.T, shape []int, data []float32) *Tensor {
	t.Helper()
	x, err := FromData(shape, data)
	if err != nil {
		t.Fatal(err)
	}
	return x
}

func seq(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(i + 1)
	}
	return s
}

func TestConv2D(t *testing.T) {
	ones := mustTensor(t, []int{1, 1, 2, 2}, []float32{1, 1, 1, 1})
	x := mustTensor(t, []int{1, 3, 3}, seq(9))

	cases := []struct {
		name  string
		w, b  *Tensor
		p     Conv2DParams
		shape []int
		want  []float32
	}{
		{
			name:  "valid",
			w:     ones,
			p:     Conv2DParams{StrideH: 1, StrideW: 1, DilationH: 1, DilationW: 1, Groups: 1},
			shape: []int{1, 2, 2},
			want:  []float32{12, 16, 24, 28},
		},
		{
			name:  "padding stride",
			w:     ones,
			p:     Conv2DParams{StrideH: 2, StrideW: 2, PadTop: 1, PadLeft: 1, PadBottom: 1, PadRight: 1, DilationH: 1, DilationW: 1, Groups: 1},
			shape: []int{1, 2, 2},
			want:  []float32{1, 5, 11, 28},
		},
		{
			name:  "dilation",
			w:     ones,
			p:     Conv2DParams{StrideH: 1, StrideW: 1, DilationH: 2, DilationW: 2, Groups: 1},
			shape: []int{1, 1, 1},
			want:  []float32{20},
		},
		{
			name:  "bias",
			w:     ones,
			b:     mustTensor(t, []int{1}, []float32{-10}),
			p:     Conv2DParams{StrideH: 1, StrideW: 1, DilationH: 1, DilationW: 1, Groups: 1},
			shape: []int{1, 2, 2},
			want:  []float32{2, 6, 14, 18},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Conv2D(x, tt.w, tt.b, tt.p)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.shape, got.Shape); diff != "" {
				t.Errorf("Shape falsch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.want, got.Data, approx); diff != "" {
				t.Errorf("Daten falsch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConv2DGroups(t *testing.T) {
	x := mustTensor(t, []int{2, 1, 2}, []float32{1, 2, 3, 4})
	w := mustTensor(t, []int{2, 1, 1, 1}, []float32{2, 3})
	b := mustTensor(t, []int{2}, []float32{1, -1})

	got, err := Conv2D(x, w, b, Conv2DParams{StrideH: 1, StrideW: 1, DilationH: 1, DilationW: 1, Groups: 2})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{3, 5, 8, 11}, got.Data, approx); diff != "" {
		t.Errorf("Gruppenfaltung falsch (-want +got):\n%s", diff)
	}
}

// naiveConv2D ist die direkte Definition der Faltung ohne im2col
func naiveConv2D(x, w, b *Tensor, p Conv2DParams) []float32 {
	h, wd := x.Shape[1], x.Shape[2]
	o, cg, kh, kw := w.Shape[0], w.Shape[1], w.Shape[2], w.Shape[3]
	og := o / p.Groups
	oh := ConvOutputSize(h, kh, p.StrideH, p.PadTop, p.PadBottom, p.DilationH)
	ow := ConvOutputSize(wd, kw, p.StrideW, p.PadLeft, p.PadRight, p.DilationW)

	out := make([]float32, o*oh*ow)
	for oc := range o {
		g := oc / og
		for y := range oh {
			for xo := range ow {
				var sum float32
				for ic := range cg {
					for i := range kh {
						for j := range kw {
							iy := y*p.StrideH - p.PadTop + i*p.DilationH
							ix := xo*p.StrideW - p.PadLeft + j*p.DilationW
							if iy < 0 || iy >= h || ix < 0 || ix >= wd {
								continue
							}
							sum += x.Data[((g*cg+ic)*h+iy)*wd+ix] * w.Data[((oc*cg+ic)*kh+i)*kw+j]
						}
					}
				}
				if b != nil {
					sum += b.Data[oc]
				}
				out[(oc*oh+y)*ow+xo] = sum
			}
		}
	}
	return out
}

func TestConv2DMatchesReference(t *testing.T) {
	fill := func(n int, scale float32) []float32 {
		s := make([]float32, n)
		for i := range s {
			s[i] = float32(math.Sin(float64(i)*0.7)) * scale
		}
		return s
	}

	cases := []struct {
		name      string
		c, h, w   int
		o, kh, kw int
		p         Conv2DParams
	}{
		{"3x3 same", 3, 7, 6, 4, 3, 3, Conv2DParams{StrideH: 1, StrideW: 1, PadTop: 1, PadLeft: 1, PadBottom: 1, PadRight: 1, DilationH: 1, DilationW: 1, Groups: 1}},
		{"stride 2 asymmetric", 2, 8, 9, 3, 3, 2, Conv2DParams{StrideH: 2, StrideW: 2, PadTop: 0, PadLeft: 1, PadBottom: 1, PadRight: 0, DilationH: 1, DilationW: 1, Groups: 1}},
		{"depthwise", 4, 5, 5, 4, 3, 3, Conv2DParams{StrideH: 1, StrideW: 1, PadTop: 1, PadLeft: 1, PadBottom: 1, PadRight: 1, DilationH: 1, DilationW: 1, Groups: 4}},
		{"dilated groups", 4, 9, 9, 6, 3, 3, Conv2DParams{StrideH: 1, StrideW: 2, DilationH: 2, DilationW: 3, Groups: 2}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			x := mustTensor(t, []int{tt.c, tt.h, tt.w}, fill(tt.c*tt.h*tt.w, 1))
			cg := tt.c / tt.p.Groups
			w := mustTensor(t, []int{tt.o, cg, tt.kh, tt.kw}, fill(tt.o*cg*tt.kh*tt.kw, 0.5))
			b := mustTensor(t, []int{tt.o}, fill(tt.o, 0.1))

			got, err := Conv2D(x, w, b, tt.p)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(naiveConv2D(x, w, b, tt.p), got.Data, cmpopts.EquateApprox(0, 1e-4)); diff != "" {
				t.Errorf("Abweichung von der Referenz (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConv2DErrors(t *testing.T) {
	x := mustTensor(t, []int{2, 3, 3}, seq(18))
	p := Conv2DParams{StrideH: 1, StrideW: 1, DilationH: 1, DilationW: 1, Groups: 1}

	cases := []struct {
		name string
		x, w *Tensor
		b    *Tensor
		p    Conv2DParams
	}{
		{"channel mismatch", x, New(1, 1, 2, 2), nil, p},
		{"kernel too large", x, New(1, 2, 4, 4), nil, p},
		{"bias length", x, New(3, 2, 1, 1), New(2), p},
		{"rank", New(2, 3), New(1, 2, 1, 1), nil, p},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Conv2D(tt.x, tt.w, tt.b, tt.p); !errors.Is(err, ErrShape) {
				t.Errorf("Fehler = %v, erwartet ErrShape", err)
			}
		})
	}
}

func TestDense(t *testing.T) {
	w := mustTensor(t, []int{3, 2}, []float32{1, 2, 3, 4, 5, 6})
	x := mustTensor(t, []int{2}, []float32{1, 1})

	got, err := Dense(x, w, mustTensor(t, []int{3}, []float32{0.5, 0, -1}))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{3.5, 7, 10}, got.Data, approx); diff != "" {
		t.Errorf("Dense falsch (-want +got):\n%s", diff)
	}

	got, err = Dense(x, w, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{3, 7, 11}, got.Data, approx); diff != "" {
		t.Errorf("Dense ohne Bias falsch (-want +got):\n%s", diff)
	}

	if _, err := Dense(mustTensor(t, []int{3}, seq(3)), w, nil); !errors.Is(err, ErrShape) {
		t.Errorf("Fehler = %v, erwartet ErrShape", err)
	}
}

func TestBatchNorm(t *testing.T) {
	x := mustTensor(t, []int{2, 1, 2}, []float32{1, 3, 10, 20})
	mean := mustTensor(t, []int{2}, []float32{2, 0})
	variance := mustTensor(t, []int{2}, []float32{1, 4})
	gamma := mustTensor(t, []int{2}, []float32{2, 1})
	beta := mustTensor(t, []int{2}, []float32{1, 0})

	got, err := BatchNorm(x, gamma, beta, mean, variance, 0)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{-1, 3, 5, 10}, got.Data, approx); diff != "" {
		t.Errorf("BatchNorm falsch (-want +got):\n%s", diff)
	}

	if _, err := BatchNorm(x, nil, nil, nil, variance, 1e-5); !errors.Is(err, ErrShape) {
		t.Errorf("Fehler = %v, erwartet ErrShape fuer fehlenden Mittelwert", err)
	}
}

func TestActivations(t *testing.T) {
	x := mustTensor(t, []int{5}, []float32{-2, -0.5, 0, 3, 8})

	cases := []struct {
		name string
		got  *Tensor
		want []float32
	}{
		{"relu", ReLU(x), []float32{0, 0, 0, 3, 8}},
		{"leaky_relu", LeakyReLU(x, 0.1), []float32{-0.2, -0.05, 0, 3, 8}},
		{"relu6", ReLU6(x), []float32{0, 0, 0, 3, 6}},
		{"sigmoid", Sigmoid(x), []float32{0.11920292, 0.37754067, 0.5, 0.95257413, 0.99966466}},
		{"tanh", Tanh(x), []float32{-0.9640276, -0.46211716, 0, 0.9950548, 0.99999977}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.got.Data, approx); diff != "" {
				t.Errorf("%s falsch (-want +got):\n%s", tt.name, diff)
			}
		})
	}

	// Eingabe darf nicht veraendert werden
	if diff := cmp.Diff([]float32{-2, -0.5, 0, 3, 8}, x.Data); diff != "" {
		t.Errorf("Eingabe veraendert (-want +got):\n%s", diff)
	}
}

func TestSigmoidExtremes(t *testing.T) {
	got := Sigmoid(mustTensor(t, []int{2}, []float32{-1000, 1000}))
	if got.Data[0] != 0 || got.Data[1] != 1 {
		t.Errorf("Sigmoid Extremwerte = %v, erwartet [0 1]", got.Data)
	}
}

func TestSoftmax(t *testing.T) {
	got, err := Softmax(mustTensor(t, []int{2}, []float32{0, float32(math.Log(3))}))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{0.25, 0.75}, got.Data, approx); diff != "" {
		t.Errorf("Softmax falsch (-want +got):\n%s", diff)
	}

	// Grosse Logits duerfen nicht ueberlaufen
	got, err = Softmax(mustTensor(t, []int{3}, []float32{1000, 1000, 1000}))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{1.0 / 3, 1.0 / 3, 1.0 / 3}, got.Data, approx); diff != "" {
		t.Errorf("Softmax instabil (-want +got):\n%s", diff)
	}

	if _, err := Softmax(New(1, 2)); !errors.Is(err, ErrShape) {
		t.Errorf("Fehler = %v, erwartet ErrShape", err)
	}
}

func TestPooling(t *testing.T) {
	x := mustTensor(t, []int{1, 4, 4}, seq(16))
	small := mustTensor(t, []int{1, 2, 2}, []float32{1, 2, 3, 4})
	padded := Pool2DParams{KernelH: 3, KernelW: 3, StrideH: 1, StrideW: 1, PadTop: 1, PadLeft: 1, PadBottom: 1, PadRight: 1}

	cases := []struct {
		name  string
		fn    func() (*Tensor, error)
		shape []int
		want  []float32
	}{
		{
			name: "max 2x2",
			fn: func() (*Tensor, error) {
				return MaxPool2D(x, Pool2DParams{KernelH: 2, KernelW: 2, StrideH: 2, StrideW: 2})
			},
			shape: []int{1, 2, 2},
			want:  []float32{6, 8, 14, 16},
		},
		{
			name: "avg 2x2",
			fn: func() (*Tensor, error) {
				return AvgPool2D(x, Pool2DParams{KernelH: 2, KernelW: 2, StrideH: 2, StrideW: 2})
			},
			shape: []int{1, 2, 2},
			want:  []float32{3.5, 5.5, 11.5, 13.5},
		},
		{
			name: "avg exclude pad",
			fn: func() (*Tensor, error) {
				return AvgPool2D(small, padded)
			},
			shape: []int{1, 2, 2},
			want:  []float32{2.5, 2.5, 2.5, 2.5},
		},
		{
			name: "avg include pad",
			fn: func() (*Tensor, error) {
				p := padded
				p.CountIncludePad = true
				return AvgPool2D(small, p)
			},
			shape: []int{1, 2, 2},
			want:  []float32{10.0 / 9, 10.0 / 9, 10.0 / 9, 10.0 / 9},
		},
		{
			name: "max pad ignores zeros",
			fn: func() (*Tensor, error) {
				neg := mustTensor(t, []int{1, 2, 2}, []float32{-1, -2, -3, -4})
				return MaxPool2D(neg, padded)
			},
			shape: []int{1, 2, 2},
			want:  []float32{-1, -1, -1, -1},
		},
		{
			name:  "global avg",
			fn:    func() (*Tensor, error) { return GlobalAvgPool2D(x) },
			shape: []int{1, 1, 1},
			want:  []float32{8.5},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn()
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.shape, got.Shape); diff != "" {
				t.Errorf("Shape falsch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.want, got.Data, approx); diff != "" {
				t.Errorf("Daten falsch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := MaxPool2D(small, Pool2DParams{KernelH: 3, KernelW: 3, StrideH: 1, StrideW: 1}); !errors.Is(err, ErrShape) {
		t.Errorf("Fehler = %v, erwartet ErrShape", err)
	}
}

func TestFlattenShares(t *testing.T) {
	x := mustTensor(t, []int{2, 1, 2}, seq(4))
	f := Flatten(x)
	if diff := cmp.Diff([]int{4}, f.Shape); diff != "" {
		t.Errorf("Shape falsch (-want +got):\n%s", diff)
	}
	f.Data[0] = 42
	if x.Data[0] != 42 {
		t.Error("Flatten sollte eine Sicht sein")
	}
}
