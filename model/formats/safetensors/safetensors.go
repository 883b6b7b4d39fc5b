// Package safetensors liest und schreibt sequentielle Modelle als .safetensors.
//
// Die Architektur steht in __metadata__ als JSON-Strings:
//
//	format      "sequential"
//	input_shape "[3,224,224]"
//	labels      "[\"benign\",\"malignant\"]" (optional)
//	layers      "[{\"op\":\"conv2d\",\"stride\":[2,2]},...]"
//
// Tensoren heissen layers.{i}.{weight,bias,running_mean,running_var} und
// haben die natuerliche Shape (aeusserste Dimension zuerst).
package safetensors

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"

	fssafetensors "github.com/moleinfer/moleinfer/fs/safetensors"
	"github.com/moleinfer/moleinfer/ml"
	"github.com/moleinfer/moleinfer/model"
)

// Format ist der Wert von __metadata__["format"]
const Format = "sequential"

var tensorName = regexp2.MustCompile(`^layers\.(?<index>0|[1-9]\d{0,5})\.(?<param>[a-z_]+)$`, regexp2.None)

func init() {
	model.Register(Codec{})
}

// Codec implementiert model.Codec fuer safetensors
type Codec struct{}

func (Codec) Name() string { return "safetensors" }

func (Codec) Detect(name string, header []byte) bool {
	return fssafetensors.Detect(header) || (strings.EqualFold(filepath.Ext(name), ".safetensors") && len(header) >= 8)
}

func (Codec) Decode(r io.ReaderAt, size int64) (model.Spec, error) {
	f, err := fssafetensors.Open(r, size)
	if err != nil {
		return model.Spec{}, fmt.Errorf("%w: %w", model.ErrCorruptFormat, err)
	}

	meta := f.Metadata
	if meta["format"] != Format {
		return model.Spec{}, fmt.Errorf("%w: metadata format %q, expected %q", model.ErrCorruptFormat, meta["format"], Format)
	}

	var spec model.Spec
	spec.Name = meta["name"]
	if err := unmarshalMeta(meta, "input_shape", &spec.InputShape, true); err != nil {
		return model.Spec{}, err
	}
	if err := unmarshalMeta(meta, "labels", &spec.Labels, false); err != nil {
		return model.Spec{}, err
	}

	var layers []map[string]json.RawMessage
	if err := unmarshalMeta(meta, "layers", &layers, true); err != nil {
		return model.Spec{}, err
	}

	spec.Layers = make([]model.LayerSpec, len(layers))
	for i, raw := range layers {
		l, err := decodeLayer(raw)
		if err != nil {
			return model.Spec{}, fmt.Errorf("layer %d: %w", i, err)
		}
		spec.Layers[i] = l
	}

	for _, t := range f.Tensors {
		i, param, err := parseTensorName(t.Name)
		if err != nil {
			return model.Spec{}, err
		}
		if i >= len(spec.Layers) {
			return model.Spec{}, fmt.Errorf("%w: tensor %s refers to missing layer %d", model.ErrCorruptFormat, t.Name, i)
		}

		x, err := readTensor(f, t)
		if err != nil {
			return model.Spec{}, fmt.Errorf("%w: tensor %s: %w", model.ErrCorruptFormat, t.Name, err)
		}
		spec.Layers[i].SetTensor(param, x)
	}

	return spec, nil
}

func unmarshalMeta(meta map[string]string, key string, v any, required bool) error {
	s, ok := meta[key]
	if !ok {
		if required {
			return fmt.Errorf("%w: metadata %q missing", model.ErrCorruptFormat, key)
		}
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("%w: metadata %q: %w", model.ErrCorruptFormat, key, err)
	}
	return nil
}

func decodeLayer(raw map[string]json.RawMessage) (model.LayerSpec, error) {
	var l model.LayerSpec
	if err := unmarshalField(raw, "op", &l.Op); err != nil {
		return l, err
	}
	if l.Op == "" {
		return l, fmt.Errorf("%w: missing op", model.ErrCorruptFormat)
	}
	if err := unmarshalField(raw, "name", &l.Name); err != nil {
		return l, err
	}

	for _, key := range model.IntParams {
		var v intList
		if _, ok := raw[key]; !ok {
			continue
		}
		if err := unmarshalField(raw, key, &v); err != nil {
			return l, err
		}
		l.SetInts(key, v...)
	}

	for _, key := range model.FloatParams {
		var v float32
		if _, ok := raw[key]; !ok {
			continue
		}
		if err := unmarshalField(raw, key, &v); err != nil {
			return l, err
		}
		l.SetFloat(key, v)
	}

	for _, key := range model.BoolParams {
		var v bool
		if _, ok := raw[key]; !ok {
			continue
		}
		if err := unmarshalField(raw, key, &v); err != nil {
			return l, err
		}
		l.SetBool(key, v)
	}

	return l, nil
}

func unmarshalField(raw map[string]json.RawMessage, key string, v any) error {
	msg, ok := raw[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(msg, v); err != nil {
		return fmt.Errorf("%w: %s: %w", model.ErrCorruptFormat, key, err)
	}
	return nil
}

// intList akzeptiert eine Zahl oder eine Liste von Zahlen
type intList []int

func (l *intList) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*l = intList{n}
		return nil
	}

	var s []int
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*l = s
	return nil
}

// parseTensorName zerlegt "layers.3.weight" in Index und Parameter
func parseTensorName(name string) (int, string, error) {
	m, err := tensorName.FindStringMatch(name)
	if err != nil || m == nil {
		return 0, "", fmt.Errorf("%w: unexpected tensor name %q", model.ErrCorruptFormat, name)
	}

	i, err := strconv.Atoi(m.GroupByName("index").String())
	if err != nil {
		return 0, "", fmt.Errorf("%w: tensor %q: %w", model.ErrCorruptFormat, name, err)
	}
	return i, m.GroupByName("param").String(), nil
}

func readTensor(f *fssafetensors.File, t fssafetensors.TensorInfo) (*ml.Tensor, error) {
	dtype := dtypeOf(t.DType)
	if dtype == ml.DTypeOther {
		return nil, fmt.Errorf("unsupported dtype %s", t.DType)
	}

	b, err := f.ReadTensor(t)
	if err != nil {
		return nil, err
	}

	values, err := ml.Decode(dtype, b)
	if err != nil {
		return nil, err
	}
	return ml.FromData(t.Shape, values)
}

func dtypeOf(s string) ml.DType {
	switch s {
	case "F32":
		return ml.DTypeF32
	case "F16":
		return ml.DTypeF16
	case "BF16":
		return ml.DTypeBF16
	default:
		return ml.DTypeOther
	}
}
