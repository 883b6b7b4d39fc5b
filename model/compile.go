// Package model - Validierung und Shape-Propagation
//
// MODUL: compile
// ZWECK: Prueft eine Spec Layer fuer Layer und erzeugt ein Model
// INPUT: Spec aus einem Codec
// OUTPUT: *Model oder *LoadError mit Layer-Index
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: ml (Shapes, Ausgabegroessen)
// HINWEISE: Jede Eingabe-Shape eines Layers ist die Ausgabe-Shape des vorherigen
package model

import (
	"fmt"
	"math"
	"slices"

	"github.com/moleinfer/moleinfer/ml"
)

// Standardwerte fuer optionale Parameter
const (
	DefaultEpsilon = 1e-5
	DefaultAlpha   = 0.01
)

// Compile validiert spec und berechnet die Shapes aller Layer.
// Das Ergebnis teilt die Tensoren der Spec.
func Compile(spec Spec) (*Model, error) {
	if len(spec.Layers) == 0 {
		return nil, &LoadError{Op: "compile", Layer: -1, Err: fmt.Errorf("%w: model has no layers", ErrCorruptFormat)}
	}

	if _, err := ml.Elements(spec.InputShape); err != nil {
		return nil, &LoadError{Op: "compile", Layer: -1, Err: fmt.Errorf("%w: input shape: %w", ErrCorruptFormat, err)}
	}
	if r := len(spec.InputShape); r != 1 && r != 3 {
		return nil, &LoadError{Op: "compile", Layer: -1, Err: fmt.Errorf("%w: input shape %v must be [C,H,W] or [N]", ErrShapeMismatch, spec.InputShape)}
	}

	shape := slices.Clone(spec.InputShape)
	layers := make([]Layer, len(spec.Layers))
	for i, ls := range spec.Layers {
		op, err := ParseOpKind(ls.Op)
		if err != nil {
			return nil, &LoadError{Op: "compile", Layer: i, Err: err}
		}

		l, err := buildLayer(i, op, ls)
		if err != nil {
			return nil, err
		}

		out, err := l.infer(shape)
		if err != nil {
			return nil, &LoadError{Op: "compile", Layer: i, Err: fmt.Errorf("%w: %s: %w", ErrShapeMismatch, op, err)}
		}

		if l.OutputShape != nil && !slices.Equal(l.OutputShape, out) {
			return nil, layerErr(i, ErrShapeMismatch, "%s declares output %v, computed %v", op, l.OutputShape, out)
		}

		l.InShape, l.OutShape = shape, out
		layers[i] = l
		shape = out
	}

	if len(shape) != 1 {
		return nil, &LoadError{Op: "compile", Layer: len(layers) - 1, Err: fmt.Errorf("%w: final output %v is not a vector", ErrShapeMismatch, shape)}
	}
	if len(spec.Labels) > 0 && len(spec.Labels) != shape[0] {
		return nil, &LoadError{Op: "compile", Layer: -1, Err: fmt.Errorf("%w: %d labels for %d classes", ErrShapeMismatch, len(spec.Labels), shape[0])}
	}

	return &Model{
		name:       spec.Name,
		format:     spec.Format,
		inputShape: slices.Clone(spec.InputShape),
		labels:     slices.Clone(spec.Labels),
		layers:     layers,
	}, nil
}

// buildLayer liest die Parameter eines Layers und wendet Standardwerte an
func buildLayer(i int, op OpKind, ls LayerSpec) (Layer, error) {
	l := Layer{
		Op:       op,
		Name:     ls.Name,
		Stride:   [2]int{1, 1},
		Dilation: [2]int{1, 1},
		Groups:   1,
		Epsilon:  DefaultEpsilon,
		Alpha:    DefaultAlpha,
	}

	// Gewichte
	required, optional := op.tensors()
	for name, t := range ls.Tensors {
		if t == nil {
			continue
		}
		if !slices.Contains(required, name) && !slices.Contains(optional, name) {
			return l, layerErr(i, ErrCorruptFormat, "%s does not take tensor %q", op, name)
		}
		switch name {
		case TensorWeight:
			l.Weight = t
		case TensorBias:
			l.Bias = t
		case TensorRunningMean:
			l.RunningMean = t
		case TensorRunningVar:
			l.RunningVar = t
		}
	}
	for _, name := range required {
		if l.Tensor(name) == nil {
			return l, layerErr(i, ErrCorruptFormat, "%s is missing tensor %q", op, name)
		}
	}

	// Raeumliche Parameter
	var err error
	switch op {
	case OpConv2D:
		if l.Stride, err = pair(ls.Ints, ParamStride, l.Stride); err != nil {
			return l, layerErr(i, ErrCorruptFormat, "%s: %v", op, err)
		}
		if l.Dilation, err = pair(ls.Ints, ParamDilation, l.Dilation); err != nil {
			return l, layerErr(i, ErrCorruptFormat, "%s: %v", op, err)
		}
		if l.Padding, err = padding(ls.Ints); err != nil {
			return l, layerErr(i, ErrCorruptFormat, "%s: %v", op, err)
		}
		if v, ok := ls.Ints[ParamGroups]; ok {
			if len(v) != 1 || v[0] <= 0 {
				return l, layerErr(i, ErrCorruptFormat, "%s: invalid groups %v", op, v)
			}
			l.Groups = v[0]
		}
		if l.Weight.Rank() == 4 {
			l.Kernel = [2]int{l.Weight.Shape[2], l.Weight.Shape[3]}
		}
		if v, ok := ls.Ints[ParamKernel]; ok {
			k, err := pair(ls.Ints, ParamKernel, l.Kernel)
			if err != nil {
				return l, layerErr(i, ErrCorruptFormat, "%s: %v", op, err)
			}
			if k != l.Kernel {
				return l, layerErr(i, ErrShapeMismatch, "%s kernel %v does not match weight %v", op, v, l.Weight.Shape)
			}
		}

	case OpMaxPool2D, OpAvgPool2D:
		if _, ok := ls.Ints[ParamKernel]; !ok {
			return l, layerErr(i, ErrCorruptFormat, "%s is missing parameter %q", op, ParamKernel)
		}
		if l.Kernel, err = pair(ls.Ints, ParamKernel, l.Kernel); err != nil {
			return l, layerErr(i, ErrCorruptFormat, "%s: %v", op, err)
		}
		if l.Stride, err = pair(ls.Ints, ParamStride, l.Kernel); err != nil {
			return l, layerErr(i, ErrCorruptFormat, "%s: %v", op, err)
		}
		if l.Dilation, err = pair(ls.Ints, ParamDilation, l.Dilation); err != nil {
			return l, layerErr(i, ErrCorruptFormat, "%s: %v", op, err)
		}
		if l.Padding, err = padding(ls.Ints); err != nil {
			return l, layerErr(i, ErrCorruptFormat, "%s: %v", op, err)
		}
		if 2*max(l.Padding[0], l.Padding[2]) > l.Kernel[0] || 2*max(l.Padding[1], l.Padding[3]) > l.Kernel[1] {
			return l, layerErr(i, ErrCorruptFormat, "%s padding %v exceeds half of kernel %v", op, l.Padding, l.Kernel)
		}
		l.CountIncludePad = ls.Bools[ParamCountIncludePad]
	}

	// Skalare
	if v, ok := ls.Floats[ParamEpsilon]; ok && op == OpBatchNorm2D {
		if v < 0 || math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return l, layerErr(i, ErrCorruptFormat, "%s: invalid epsilon %v", op, v)
		}
		l.Epsilon = v
	}
	if v, ok := ls.Floats[ParamAlpha]; ok && op == OpLeakyReLU {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return l, layerErr(i, ErrCorruptFormat, "%s: invalid alpha %v", op, v)
		}
		l.Alpha = v
	}

	if v, ok := ls.Ints[ParamOutputShape]; ok {
		if _, err := ml.Elements(v); err != nil {
			return l, layerErr(i, ErrCorruptFormat, "%s: output shape: %v", op, err)
		}
		l.OutputShape = slices.Clone(v)
	}

	return l, nil
}

// pair liest einen Parameter mit einem oder zwei positiven Werten (H, W)
func pair(ints map[string][]int, key string, def [2]int) ([2]int, error) {
	v, ok := ints[key]
	if !ok {
		return def, nil
	}

	var p [2]int
	switch len(v) {
	case 1:
		p = [2]int{v[0], v[0]}
	case 2:
		p = [2]int{v[0], v[1]}
	default:
		return def, fmt.Errorf("%s needs 1 or 2 values, got %v", key, v)
	}

	if p[0] <= 0 || p[1] <= 0 {
		return def, fmt.Errorf("%s must be positive, got %v", key, v)
	}
	return p, nil
}

// padding liest 1 (alle Seiten), 2 (H, W) oder 4 (oben, links, unten, rechts) Werte
func padding(ints map[string][]int) ([4]int, error) {
	v, ok := ints[ParamPadding]
	if !ok {
		return [4]int{}, nil
	}

	var p [4]int
	switch len(v) {
	case 1:
		p = [4]int{v[0], v[0], v[0], v[0]}
	case 2:
		p = [4]int{v[0], v[1], v[0], v[1]}
	case 4:
		p = [4]int{v[0], v[1], v[2], v[3]}
	default:
		return p, fmt.Errorf("%s needs 1, 2 or 4 values, got %v", ParamPadding, v)
	}

	for _, n := range p {
		if n < 0 {
			return p, fmt.Errorf("%s must not be negative, got %v", ParamPadding, v)
		}
	}
	return p, nil
}

// infer berechnet die Ausgabe-Shape fuer die Eingabe in
func (l Layer) infer(in []int) ([]int, error) {
	if l.Op.spatial() && len(in) != 3 {
		return nil, fmt.Errorf("expects input [C,H,W], got %v", in)
	}

	switch l.Op {
	case OpConv2D:
		w := l.Weight
		if w.Rank() != 4 {
			return nil, fmt.Errorf("weight %v is not [O,C/groups,KH,KW]", w.Shape)
		}
		o, cg := w.Shape[0], w.Shape[1]
		if cg*l.Groups != in[0] || o%l.Groups != 0 {
			return nil, fmt.Errorf("weight %v with %d groups does not fit %d input channels", w.Shape, l.Groups, in[0])
		}
		if err := vectorOf(l.Bias, o, TensorBias); err != nil {
			return nil, err
		}
		p := l.ConvParams()
		oh := ml.ConvOutputSize(in[1], l.Kernel[0], p.StrideH, p.PadTop, p.PadBottom, p.DilationH)
		ow := ml.ConvOutputSize(in[2], l.Kernel[1], p.StrideW, p.PadLeft, p.PadRight, p.DilationW)
		if oh <= 0 || ow <= 0 {
			return nil, fmt.Errorf("kernel %v does not fit input %v", l.Kernel, in)
		}
		return []int{o, oh, ow}, nil

	case OpBatchNorm2D:
		for _, name := range TensorParams {
			if err := vectorOf(l.Tensor(name), in[0], name); err != nil {
				return nil, err
			}
		}
		return slices.Clone(in), nil

	case OpMaxPool2D, OpAvgPool2D:
		return ml.PoolOutputShape(in, l.PoolParams())

	case OpGlobalAvgPool2D:
		return []int{in[0], 1, 1}, nil

	case OpFlatten:
		n, err := ml.Elements(in)
		if err != nil {
			return nil, err
		}
		return []int{n}, nil

	case OpDense:
		w := l.Weight
		if w.Rank() != 2 {
			return nil, fmt.Errorf("weight %v is not [Out,In]", w.Shape)
		}
		if len(in) != 1 || in[0] != w.Shape[1] {
			return nil, fmt.Errorf("input %v does not fit weight %v", in, w.Shape)
		}
		if err := vectorOf(l.Bias, w.Shape[0], TensorBias); err != nil {
			return nil, err
		}
		return []int{w.Shape[0]}, nil

	case OpSoftmax:
		if len(in) != 1 {
			return nil, fmt.Errorf("expects a vector, got %v", in)
		}
		return slices.Clone(in), nil

	default:
		// elementweise Operatoren und Dropout
		return slices.Clone(in), nil
	}
}

// vectorOf prueft dass ein optionaler Tensor die Shape [n] hat
func vectorOf(t *ml.Tensor, n int, name string) error {
	if t == nil {
		return nil
	}
	if t.Rank() != 1 || t.Shape[0] != n {
		return fmt.Errorf("%s %v does not match %d channels", name, t.Shape, n)
	}
	return nil
}
