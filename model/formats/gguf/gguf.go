// Package gguf liest und schreibt sequentielle Modelle im GGUF-Format.
//
// Metadaten liegen unter der Architektur "sequential":
//
//	sequential.input_shape       []uint32
//	sequential.labels            []string (optional)
//	sequential.layer_count       uint32
//	sequential.layer.{i}.op      string
//	sequential.layer.{i}.{param} Parameter wie stride, padding, epsilon
//
// Tensoren heissen layer.{i}.weight, layer.{i}.bias, layer.{i}.running_mean
// und layer.{i}.running_var. Ihre Shape steht wie in GGUF ueblich mit der
// innersten Dimension zuerst.
package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"github.com/moleinfer/moleinfer/fs/ggml"
	"github.com/moleinfer/moleinfer/ml"
	"github.com/moleinfer/moleinfer/model"
)

// Architecture ist der Wert von general.architecture
const Architecture = "sequential"

// maxLayers begrenzt layer_count aus korrupten Headern
const maxLayers = 1 << 12

func init() {
	model.Register(Codec{})
}

// Codec implementiert model.Codec fuer GGUF
type Codec struct{}

func (Codec) Name() string { return "gguf" }

func (Codec) Detect(_ string, header []byte) bool {
	return ggml.DetectContentType(header) == "gguf"
}

func (Codec) Decode(r io.ReaderAt, size int64) (model.Spec, error) {
	g, err := ggml.Decode(bufio.NewReader(io.NewSectionReader(r, 0, size)))
	if err != nil {
		return model.Spec{}, fmt.Errorf("%w: %w", model.ErrCorruptFormat, err)
	}

	// ml.Decode liest Tensor-Daten nur little-endian
	if g.ByteOrder != binary.LittleEndian {
		return model.Spec{}, fmt.Errorf("%w: big-endian gguf is not supported", model.ErrCorruptFormat)
	}

	kv := g.KV()
	if arch := kv.Architecture(); arch != Architecture {
		return model.Spec{}, fmt.Errorf("%w: architecture %q, expected %q", model.ErrCorruptFormat, arch, Architecture)
	}

	tensors := g.Tensors()
	if err := tensors.CheckBounds(size); err != nil {
		return model.Spec{}, fmt.Errorf("%w: %w", model.ErrCorruptFormat, err)
	}

	inputShape, ok := kv.IntValues("input_shape")
	if !ok {
		return model.Spec{}, fmt.Errorf("%w: missing input_shape", model.ErrCorruptFormat)
	}

	count, ok := kv.IntValues("layer_count")
	if !ok || len(count) != 1 || count[0] > maxLayers {
		return model.Spec{}, fmt.Errorf("%w: missing or invalid layer_count", model.ErrCorruptFormat)
	}

	spec := model.Spec{
		Name:       kv.Name(),
		InputShape: inputShape,
		Labels:     kv.Strings("labels"),
		Layers:     make([]model.LayerSpec, count[0]),
	}

	used := make(map[string]bool)
	for i := range spec.Layers {
		l, err := decodeLayer(kv, tensors, r, i, used)
		if err != nil {
			return model.Spec{}, fmt.Errorf("layer %d: %w", i, err)
		}
		spec.Layers[i] = l
	}

	for _, t := range tensors.Items() {
		if !used[t.Name] {
			return model.Spec{}, fmt.Errorf("%w: tensor %s does not belong to any layer", model.ErrCorruptFormat, t.Name)
		}
	}

	return spec, nil
}

func decodeLayer(kv ggml.KV, tensors ggml.Tensors, r io.ReaderAt, i int, used map[string]bool) (model.LayerSpec, error) {
	prefix := fmt.Sprintf("layer.%d.", i)
	if !kv.Has(prefix + "op") {
		return model.LayerSpec{}, fmt.Errorf("%w: missing op", model.ErrCorruptFormat)
	}

	l := model.LayerSpec{
		Op:   kv.String(prefix + "op"),
		Name: kv.String(prefix + "name"),
	}

	for _, key := range model.IntParams {
		if !kv.Has(prefix + key) {
			continue
		}
		v, ok := kv.IntValues(prefix + key)
		if !ok {
			return l, fmt.Errorf("%w: %s is not a list of non-negative integers", model.ErrCorruptFormat, key)
		}
		l.SetInts(key, v...)
	}

	for _, key := range model.FloatParams {
		if !kv.Has(prefix + key) {
			continue
		}
		v, ok := kv.FloatValue(prefix + key)
		if !ok {
			return l, fmt.Errorf("%w: %s is not a float", model.ErrCorruptFormat, key)
		}
		l.SetFloat(key, v)
	}

	for _, key := range model.BoolParams {
		if kv.Has(prefix + key) {
			l.SetBool(key, kv.Bool(prefix+key))
		}
	}

	for _, name := range model.TensorParams {
		t, ok := tensors.Lookup(prefix + name)
		if !ok {
			continue
		}

		x, err := readTensor(r, tensors.Offset, t)
		if err != nil {
			return l, fmt.Errorf("%w: tensor %s: %w", model.ErrCorruptFormat, t.Name, err)
		}
		l.SetTensor(name, x)
		used[t.Name] = true
	}

	return l, nil
}

// readTensor liest und dekodiert die Daten eines Tensors nach float32
func readTensor(r io.ReaderAt, offset uint64, t *ggml.Tensor) (*ml.Tensor, error) {
	kind := ggml.TensorType(t.Kind)
	if !kind.Supported() {
		return nil, fmt.Errorf("unsupported tensor type %s", kind)
	}

	shape := make([]int, len(t.Shape))
	for i, d := range t.Shape {
		if d == 0 || d > 1<<31-1 {
			return nil, fmt.Errorf("invalid dimension %d", d)
		}
		shape[i] = int(d)
	}
	slices.Reverse(shape)

	if _, err := ml.Elements(shape); err != nil {
		return nil, err
	}

	b, err := io.ReadAll(t.Reader(r, offset))
	if err != nil {
		return nil, err
	}

	values, err := ml.Decode(dtype(kind), b)
	if err != nil {
		return nil, err
	}
	return ml.FromData(shape, values)
}

func dtype(t ggml.TensorType) ml.DType {
	switch t {
	case ggml.TensorTypeF32:
		return ml.DTypeF32
	case ggml.TensorTypeF16:
		return ml.DTypeF16
	case ggml.TensorTypeBF16:
		return ml.DTypeBF16
	default:
		return ml.DTypeOther
	}
}
