package safetensors

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	fssafetensors "github.com/moleinfer/moleinfer/fs/safetensors"
	"github.com/moleinfer/moleinfer/ml"
	"github.com/moleinfer/moleinfer/model"
)

// Write schreibt spec als safetensors. Gewichte werden als dtype gespeichert.
func Write(w io.Writer, spec model.Spec, dtype ml.DType) error {
	layers := make([]map[string]any, len(spec.Layers))
	var tensors []fssafetensors.Tensor
	for i, l := range spec.Layers {
		meta := map[string]any{"op": l.Op}
		if l.Name != "" {
			meta["name"] = l.Name
		}
		for k, v := range l.Ints {
			meta[k] = v
		}
		for k, v := range l.Floats {
			meta[k] = v
		}
		for k, v := range l.Bools {
			meta[k] = v
		}
		layers[i] = meta

		for _, name := range slices.Sorted(maps.Keys(l.Tensors)) {
			t := l.Tensors[name]
			b, err := ml.Encode(dtype, t.Data)
			if err != nil {
				return err
			}
			tensors = append(tensors, fssafetensors.Tensor{
				Name:  fmt.Sprintf("layers.%d.%s", i, name),
				DType: dtype.String(),
				Shape: t.Shape,
				Data:  b,
			})
		}
	}

	metadata := map[string]string{"format": Format}
	if spec.Name != "" {
		metadata["name"] = spec.Name
	}
	for key, v := range map[string]any{"input_shape": spec.InputShape, "labels": spec.Labels, "layers": layers} {
		if key == "labels" && len(spec.Labels) == 0 {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		metadata[key] = string(b)
	}

	return fssafetensors.Write(w, metadata, tensors)
}
