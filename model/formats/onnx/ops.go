// MODUL: onnx/ops
// ZWECK: Uebersetzt einzelne ONNX-Knoten in LayerSpecs
// INPUT: nodeProto und Initializer
// OUTPUT: model.LayerSpec
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: model (Parameter-Namen), ml (Tensoren)
// HINWEISE: Fehlende Attribute erhalten die ONNX-Standardwerte

package onnx

import (
	"fmt"
	"slices"

	"github.com/chewxy/math32"

	"github.com/moleinfer/moleinfer/ml"
	"github.com/moleinfer/moleinfer/model"
)

type converter struct {
	node  nodeProto
	inits map[string]*tensorProto
}

func (c converter) layer() (model.LayerSpec, error) {
	switch c.node.opType {
	case "Conv":
		return c.conv()
	case "BatchNormalization":
		return c.batchNorm()
	case "Relu":
		return c.simple("relu")
	case "LeakyRelu":
		l, err := c.simple("leaky_relu")
		l.SetFloat(model.ParamAlpha, c.attrFloat("alpha", model.DefaultAlpha))
		return l, err
	case "Clip":
		return c.clip()
	case "Sigmoid":
		return c.simple("sigmoid")
	case "Tanh":
		return c.simple("tanh")
	case "Softmax":
		return c.simple("softmax")
	case "MaxPool":
		return c.pool("maxpool2d")
	case "AveragePool":
		return c.pool("avgpool2d")
	case "GlobalAveragePool":
		return c.simple("global_avgpool2d")
	case "Flatten":
		if axis := c.attrInt("axis", 1); axis != 1 {
			return model.LayerSpec{}, fmt.Errorf("%w: flatten axis %d", model.ErrUnsupportedOperator, axis)
		}
		return c.simple("flatten")
	case "Dropout":
		// ratio und training_mode sind fuer Inferenz ohne Bedeutung
		return model.LayerSpec{Op: "dropout"}, nil
	case "Gemm":
		return c.gemm()
	default:
		return model.LayerSpec{}, fmt.Errorf("%w: onnx op %q", model.ErrUnsupportedOperator, c.node.opType)
	}
}

// simple uebernimmt Knoten ohne Gewichte. Weitere Eingaenge sind nicht erlaubt.
func (c converter) simple(op string) (model.LayerSpec, error) {
	for _, in := range c.node.inputs[1:] {
		if in != "" {
			return model.LayerSpec{}, fmt.Errorf("%w: unexpected input %q", model.ErrCorruptFormat, in)
		}
	}
	return model.LayerSpec{Op: op}, nil
}

func (c converter) attrFloat(name string, def float32) float32 {
	if a, ok := c.node.attrs[name]; ok {
		return a.f
	}
	return def
}

func (c converter) attrInt(name string, def int64) int64 {
	if a, ok := c.node.attrs[name]; ok {
		return a.i
	}
	return def
}

func (c converter) attrInts(name string) ([]int, bool) {
	a, ok := c.node.attrs[name]
	if !ok {
		return nil, false
	}
	out := make([]int, len(a.ints))
	for i, v := range a.ints {
		out[i] = int(v)
	}
	return out, true
}

// input gibt den Initializer fuer Eingang i zurueck, nil wenn der Eingang fehlt
func (c converter) input(i int) (*ml.Tensor, error) {
	if i >= len(c.node.inputs) || c.node.inputs[i] == "" {
		return nil, nil
	}

	name := c.node.inputs[i]
	t, ok := c.inits[name]
	if !ok {
		return nil, fmt.Errorf("%w: input %q is not an initializer", model.ErrCorruptFormat, name)
	}
	return t.tensor()
}

// spatial uebernimmt strides, pads, dilations und kernel_shape
func (c converter) spatial(l *model.LayerSpec) error {
	if pad := string(c.node.attrs["auto_pad"].s); pad != "" && pad != "NOTSET" && pad != "VALID" {
		return fmt.Errorf("%w: auto_pad %s is not supported", model.ErrCorruptFormat, pad)
	}

	for attr, key := range map[string]string{
		"strides":      model.ParamStride,
		"pads":         model.ParamPadding,
		"dilations":    model.ParamDilation,
		"kernel_shape": model.ParamKernel,
	} {
		if v, ok := c.attrInts(attr); ok {
			l.SetInts(key, v...)
		}
	}
	return nil
}

func (c converter) conv() (model.LayerSpec, error) {
	l := model.LayerSpec{Op: "conv2d"}
	if err := c.spatial(&l); err != nil {
		return l, err
	}
	l.SetInts(model.ParamGroups, int(c.attrInt("group", 1)))

	for i, name := range []string{model.TensorWeight, model.TensorBias} {
		t, err := c.input(i + 1)
		if err != nil {
			return l, err
		}
		if t != nil {
			l.SetTensor(name, t)
		}
	}
	return l, nil
}

func (c converter) batchNorm() (model.LayerSpec, error) {
	l := model.LayerSpec{Op: "batchnorm2d"}
	l.SetFloat(model.ParamEpsilon, c.attrFloat("epsilon", model.DefaultEpsilon))

	for i, name := range []string{model.TensorWeight, model.TensorBias, model.TensorRunningMean, model.TensorRunningVar} {
		t, err := c.input(i + 1)
		if err != nil {
			return l, err
		}
		if t == nil {
			return l, fmt.Errorf("%w: missing input %s", model.ErrCorruptFormat, name)
		}
		l.SetTensor(name, t)
	}
	return l, nil
}

func (c converter) pool(op string) (model.LayerSpec, error) {
	l := model.LayerSpec{Op: op}
	if c.attrInt("ceil_mode", 0) != 0 {
		return l, fmt.Errorf("%w: ceil_mode is not supported", model.ErrCorruptFormat)
	}
	if err := c.spatial(&l); err != nil {
		return l, err
	}
	if op == "avgpool2d" {
		l.SetBool(model.ParamCountIncludePad, c.attrInt("count_include_pad", 0) != 0)
	}
	return l, nil
}

// clip wird nur als ReLU6 (min 0, max 6) unterstuetzt
func (c converter) clip() (model.LayerSpec, error) {
	lo, hi := c.attrFloat("min", math32.Inf(-1)), c.attrFloat("max", math32.Inf(1))
	for i, v := range []*float32{&lo, &hi} {
		t, err := c.input(i + 1)
		if err != nil {
			return model.LayerSpec{}, err
		}
		if t != nil {
			if t.Elements() != 1 {
				return model.LayerSpec{}, fmt.Errorf("%w: clip bound %v is not a scalar", model.ErrCorruptFormat, t.Shape)
			}
			*v = t.Data[0]
		}
	}

	if lo != 0 || hi != 6 {
		return model.LayerSpec{}, fmt.Errorf("%w: onnx op \"Clip\" with bounds [%v, %v]", model.ErrUnsupportedOperator, lo, hi)
	}
	return model.LayerSpec{Op: "relu6"}, nil
}

// gemm faltet alpha, beta und transB in die Dense-Gewichte
func (c converter) gemm() (model.LayerSpec, error) {
	l := model.LayerSpec{Op: "dense"}
	if c.attrInt("transA", 0) != 0 {
		return l, fmt.Errorf("%w: transA is not supported", model.ErrCorruptFormat)
	}

	w, err := c.input(1)
	if err != nil {
		return l, err
	}
	if w == nil || w.Rank() != 2 {
		return l, fmt.Errorf("%w: gemm needs a 2d weight initializer", model.ErrCorruptFormat)
	}

	if c.attrInt("transB", 0) == 0 {
		w = transpose(w)
	}
	if alpha := c.attrFloat("alpha", 1); alpha != 1 {
		w = scale(w, alpha)
	}
	l.SetTensor(model.TensorWeight, w)

	b, err := c.input(2)
	if err != nil {
		return l, err
	}
	if b != nil {
		if b.Elements() != w.Shape[0] {
			return l, fmt.Errorf("%w: gemm bias %v does not broadcast to %d outputs", model.ErrShapeMismatch, b.Shape, w.Shape[0])
		}
		b = &ml.Tensor{Shape: []int{w.Shape[0]}, Data: b.Data}
		if beta := c.attrFloat("beta", 1); beta != 1 {
			b = scale(b, beta)
		}
		l.SetTensor(model.TensorBias, b)
	}
	return l, nil
}

func transpose(t *ml.Tensor) *ml.Tensor {
	rows, cols := t.Shape[0], t.Shape[1]
	out := ml.New(cols, rows)
	for r := range rows {
		for c := range cols {
			out.Data[c*rows+r] = t.Data[r*cols+c]
		}
	}
	return out
}

func scale(t *ml.Tensor, f float32) *ml.Tensor {
	out := &ml.Tensor{Shape: slices.Clone(t.Shape), Data: make([]float32, len(t.Data))}
	for i, v := range t.Data {
		out.Data[i] = v * f
	}
	return out
}
