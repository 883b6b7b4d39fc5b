package gguf_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/moleinfer/moleinfer/fs/ggml"
	"github.com/moleinfer/moleinfer/ml"
	"github.com/moleinfer/moleinfer/model"
	"github.com/moleinfer/moleinfer/model/formats/gguf"
	"github.com/moleinfer/moleinfer/model/modeltest"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		kind ggml.TensorType
		tol  float64
	}{
		{ggml.TensorTypeF32, 0},
		{ggml.TensorTypeF16, 1e-3},
		{ggml.TensorTypeBF16, 1e-2},
	}

	for _, tt := range cases {
		t.Run(tt.kind.String(), func(t *testing.T) {
			spec := modeltest.TinyCNN()
			want := modeltest.Compile(t, spec)

			got, err := model.Load(modeltest.WriteGGUF(t, spec, tt.kind))
			if err != nil {
				t.Fatal(err)
			}

			if got.Format() != "gguf" || got.Name() != "tiny-cnn" {
				t.Errorf("Model = format %q name %q", got.Format(), got.Name())
			}
			if diff := cmp.Diff(want.InputShape(), got.InputShape()); diff != "" {
				t.Errorf("InputShape (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(want.Labels(), got.Labels()); diff != "" {
				t.Errorf("Labels (-want +got):\n%s", diff)
			}

			wl, gl := want.Layers(), got.Layers()
			if len(wl) != len(gl) {
				t.Fatalf("%d Layer, erwartet %d", len(gl), len(wl))
			}
			for i := range wl {
				w, g := wl[i], gl[i]
				if w.Op != g.Op || w.Name != g.Name || w.Stride != g.Stride || w.Padding != g.Padding ||
					w.Groups != g.Groups || w.Kernel != g.Kernel || w.CountIncludePad != g.CountIncludePad ||
					w.Epsilon != g.Epsilon || w.Alpha != g.Alpha {
					t.Errorf("Layer %d Parameter = %+v, erwartet %+v", i, g, w)
				}
				for _, name := range model.TensorParams {
					wt, gt := w.Tensor(name), g.Tensor(name)
					if (wt == nil) != (gt == nil) {
						t.Fatalf("Layer %d Tensor %s fehlt", i, name)
					}
					if wt == nil {
						continue
					}
					if diff := cmp.Diff(wt.Shape, gt.Shape); diff != "" {
						t.Errorf("Layer %d %s Shape (-want +got):\n%s", i, name, diff)
					}
					if diff := cmp.Diff(wt.Data, gt.Data, cmpopts.EquateApprox(0, tt.tol)); diff != "" {
						t.Errorf("Layer %d %s Daten (-want +got):\n%s", i, name, diff)
					}
				}
			}
		})
	}
}

func TestDetect(t *testing.T) {
	c := gguf.Codec{}
	if !c.Detect("x", []byte("GGUF\x03\x00\x00\x00")) {
		t.Error("GGUF-Magic nicht erkannt")
	}
	if c.Detect("model.gguf", []byte("GGML")) {
		t.Error("Endung allein darf nicht reichen")
	}
}

// writeRaw schreibt eine GGUF-Datei direkt ueber ggml.WriteGGUF
func writeRaw(t *testing.T, kv ggml.KV, ts []*ggml.Tensor) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.gguf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := ggml.WriteGGUF(f, kv, ts); err != nil {
		t.Fatal(err)
	}
	return path
}

func baseKV() ggml.KV {
	return ggml.KV{
		"general.architecture": gguf.Architecture,
		"input_shape":          []uint32{4},
		"layer_count":          uint32(1),
		"layer.0.op":           "dense",
	}
}

func denseWeight(kind ggml.TensorType, name string) *ggml.Tensor {
	b, _ := ml.Encode(ml.DTypeF32, make([]float32, 8))
	return &ggml.Tensor{Name: name, Kind: uint32(kind), Shape: []uint64{4, 2}, WriterTo: bytes.NewReader(b)}
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name  string
		path  func(t *testing.T) string
		kind  error
		layer int
	}{
		{
			name: "ok",
			path: func(t *testing.T) string {
				return writeRaw(t, baseKV(), []*ggml.Tensor{denseWeight(ggml.TensorTypeF32, "layer.0.weight")})
			},
		},
		{
			name: "wrong architecture",
			path: func(t *testing.T) string {
				kv := baseKV()
				kv["general.architecture"] = "llama"
				return writeRaw(t, kv, []*ggml.Tensor{denseWeight(ggml.TensorTypeF32, "layer.0.weight")})
			},
			kind:  model.ErrCorruptFormat,
			layer: -1,
		},
		{
			name: "unsupported tensor type",
			path: func(t *testing.T) string {
				return writeRaw(t, baseKV(), []*ggml.Tensor{denseWeight(ggml.TensorType(2), "layer.0.weight")})
			},
			kind:  model.ErrCorruptFormat,
			layer: -1,
		},
		{
			name: "stray tensor",
			path: func(t *testing.T) string {
				return writeRaw(t, baseKV(), []*ggml.Tensor{
					denseWeight(ggml.TensorTypeF32, "layer.0.weight"),
					denseWeight(ggml.TensorTypeF32, "layer.7.weight"),
				})
			},
			kind:  model.ErrCorruptFormat,
			layer: -1,
		},
		{
			name: "missing op",
			path: func(t *testing.T) string {
				kv := baseKV()
				delete(kv, "layer.0.op")
				return writeRaw(t, kv, []*ggml.Tensor{denseWeight(ggml.TensorTypeF32, "layer.0.weight")})
			},
			kind:  model.ErrCorruptFormat,
			layer: -1,
		},
		{
			name: "missing weight",
			path: func(t *testing.T) string {
				return writeRaw(t, baseKV(), nil)
			},
			kind:  model.ErrCorruptFormat,
			layer: 0,
		},
		{
			name: "unknown operator",
			path: func(t *testing.T) string {
				kv := baseKV()
				kv["layer.0.op"] = "densee"
				return writeRaw(t, kv, []*ggml.Tensor{denseWeight(ggml.TensorTypeF32, "layer.0.weight")})
			},
			kind:  model.ErrUnsupportedOperator,
			layer: 0,
		},
		{
			name: "input does not fit weight",
			path: func(t *testing.T) string {
				kv := baseKV()
				kv["input_shape"] = []uint32{5}
				return writeRaw(t, kv, []*ggml.Tensor{denseWeight(ggml.TensorTypeF32, "layer.0.weight")})
			},
			kind:  model.ErrShapeMismatch,
			layer: 0,
		},
		{
			name: "truncated",
			path: func(t *testing.T) string {
				path := modeltest.WriteGGUF(t, modeltest.TinyCNN(), ggml.TensorTypeF32)
				fi, err := os.Stat(path)
				if err != nil {
					t.Fatal(err)
				}
				if err := os.Truncate(path, fi.Size()-16); err != nil {
					t.Fatal(err)
				}
				return path
			},
			kind:  model.ErrCorruptFormat,
			layer: -1,
		},
		{
			name: "big endian",
			path: func(t *testing.T) string {
				var buf bytes.Buffer
				for _, v := range []any{
					uint32(ggml.FILE_MAGIC_GGUF_LE),
					uint32(3),
					uint64(0), // Tensors
					uint64(1), // KV-Paare
					uint64(len("general.architecture")),
					[]byte("general.architecture"),
					uint32(8), // String
					uint64(len(gguf.Architecture)),
					[]byte(gguf.Architecture),
				} {
					if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
						t.Fatal(err)
					}
				}

				path := filepath.Join(t.TempDir(), "be.gguf")
				if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
					t.Fatal(err)
				}
				return path
			},
			kind:  model.ErrCorruptFormat,
			layer: -1,
		},
		{
			name: "header only",
			path: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "short.gguf")
				if err := os.WriteFile(path, []byte("GGUF\x03\x00"), 0o644); err != nil {
					t.Fatal(err)
				}
				return path
			},
			kind:  model.ErrCorruptFormat,
			layer: -1,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			m, err := model.Load(tt.path(t))
			if tt.kind == nil {
				if err != nil {
					t.Fatal(err)
				}
				if diff := cmp.Diff([]int{2, 4}, m.Layers()[0].Weight.Shape); diff != "" {
					t.Errorf("Weight Shape nicht umgedreht (-want +got):\n%s", diff)
				}
				return
			}

			var lerr *model.LoadError
			if !errors.As(err, &lerr) || !errors.Is(err, tt.kind) {
				t.Fatalf("Fehler = %v, erwartet %v", err, tt.kind)
			}
			if lerr.Layer != tt.layer {
				t.Errorf("Layer = %d, erwartet %d (%v)", lerr.Layer, tt.layer, err)
			}
		})
	}
}

func TestRoundTripWithoutWeights(t *testing.T) {
	spec := model.Spec{
		Name:       "ohne-gewichte",
		InputShape: []int{3},
		Layers:     []model.LayerSpec{{Op: "relu"}, {Op: "softmax"}},
	}

	m, err := model.Load(modeltest.WriteGGUF(t, spec, ggml.TensorTypeF32))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.NumLayers() != 2 || m.ParameterCount() != 0 {
		t.Errorf("Layers = %d, Parameter = %d, erwartet 2 und 0", m.NumLayers(), m.ParameterCount())
	}
	if diff := cmp.Diff([]int{3}, m.OutputShape()); diff != "" {
		t.Errorf("OutputShape mismatch (-want +got):\n%s", diff)
	}
}
