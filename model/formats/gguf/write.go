package gguf

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"github.com/moleinfer/moleinfer/fs/ggml"
	"github.com/moleinfer/moleinfer/ml"
	"github.com/moleinfer/moleinfer/model"
)

// Write schreibt spec als GGUF-Datei. Gewichte werden als kind gespeichert.
func Write(f *os.File, spec model.Spec, kind ggml.TensorType) error {
	if !kind.Supported() {
		return fmt.Errorf("gguf: unsupported tensor type %s", kind)
	}

	kv := ggml.KV{
		"general.architecture": Architecture,
		"input_shape":          uint32s(spec.InputShape),
		"layer_count":          uint32(len(spec.Layers)),
	}
	if spec.Name != "" {
		kv["general.name"] = spec.Name
	}
	if len(spec.Labels) > 0 {
		kv["labels"] = slices.Clone(spec.Labels)
	}

	var ts []*ggml.Tensor
	for i, l := range spec.Layers {
		prefix := fmt.Sprintf("layer.%d.", i)
		kv[prefix+"op"] = l.Op
		if l.Name != "" {
			kv[prefix+"name"] = l.Name
		}
		for key, v := range l.Ints {
			kv[prefix+key] = uint32s(v)
		}
		for key, v := range l.Floats {
			kv[prefix+key] = v
		}
		for key, v := range l.Bools {
			kv[prefix+key] = v
		}

		for name, t := range l.Tensors {
			b, err := ml.Encode(dtype(kind), t.Data)
			if err != nil {
				return err
			}

			shape := make([]uint64, len(t.Shape))
			for j, d := range t.Shape {
				shape[len(shape)-1-j] = uint64(d)
			}

			ts = append(ts, &ggml.Tensor{
				Name:     prefix + name,
				Kind:     uint32(kind),
				Shape:    shape,
				WriterTo: bytes.NewReader(b),
			})
		}
	}

	return ggml.WriteGGUF(f, kv, ts)
}

func uint32s(s []int) []uint32 {
	out := make([]uint32, len(s))
	for i, v := range s {
		out[i] = uint32(v)
	}
	return out
}
