// Package modeltest stellt deterministische Beispielmodelle fuer Tests bereit.
package modeltest

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/moleinfer/moleinfer/fs/ggml"
	"github.com/moleinfer/moleinfer/ml"
	"github.com/moleinfer/moleinfer/model"
	"github.com/moleinfer/moleinfer/model/formats/gguf"
	"github.com/moleinfer/moleinfer/model/formats/safetensors"
)

// Fill erzeugt n reproduzierbare Werte in [-scale, scale]
func Fill(n int, seed, scale float64) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(math.Sin(float64(i)*0.37+seed) * scale)
	}
	return s
}

func tensor(seed, scale float64, shape ...int) *ml.Tensor {
	t := ml.New(shape...)
	copy(t.Data, Fill(len(t.Data), seed, scale))
	return t
}

func positive(seed float64, shape ...int) *ml.Tensor {
	t := tensor(seed, 0.5, shape...)
	for i, v := range t.Data {
		t.Data[i] = v + 1
	}
	return t
}

// TinyCNN ist ein kleines Bildmodell [3,8,8] -> [2] mit den Labels benign/malignant
func TinyCNN() model.Spec {
	conv := model.LayerSpec{Op: "conv2d", Name: "stem"}
	conv.SetTensor(model.TensorWeight, tensor(1, 0.4, 4, 3, 3, 3))
	conv.SetTensor(model.TensorBias, tensor(2, 0.1, 4))
	conv.SetInts(model.ParamPadding, 1)

	bn := model.LayerSpec{Op: "batchnorm2d"}
	bn.SetTensor(model.TensorWeight, positive(3, 4))
	bn.SetTensor(model.TensorBias, tensor(4, 0.1, 4))
	bn.SetTensor(model.TensorRunningMean, tensor(5, 0.2, 4))
	bn.SetTensor(model.TensorRunningVar, positive(6, 4))
	bn.SetFloat(model.ParamEpsilon, 1e-3)

	pool := model.LayerSpec{Op: "maxpool2d"}
	pool.SetInts(model.ParamKernel, 2)

	dw := model.LayerSpec{Op: "conv2d", Name: "depthwise"}
	dw.SetTensor(model.TensorWeight, tensor(7, 0.5, 4, 1, 3, 3))
	dw.SetInts(model.ParamPadding, 1)
	dw.SetInts(model.ParamGroups, 4)

	avg := model.LayerSpec{Op: "avgpool2d"}
	avg.SetInts(model.ParamKernel, 3)
	avg.SetInts(model.ParamStride, 1)
	avg.SetInts(model.ParamPadding, 1)
	avg.SetBool(model.ParamCountIncludePad, true)

	leaky := model.LayerSpec{Op: "leaky_relu"}
	leaky.SetFloat(model.ParamAlpha, 0.1)

	dense := model.LayerSpec{Op: "dense", Name: "classifier"}
	dense.SetTensor(model.TensorWeight, tensor(8, 0.8, 2, 4))
	dense.SetTensor(model.TensorBias, tensor(9, 0.1, 2))
	dense.SetInts(model.ParamOutputShape, 2)

	return model.Spec{
		Name:       "tiny-cnn",
		InputShape: []int{3, 8, 8},
		Labels:     []string{"benign", "malignant"},
		Layers: []model.LayerSpec{
			conv,
			bn,
			{Op: "relu"},
			pool,
			dw,
			{Op: "relu6"},
			avg,
			{Op: "global_avgpool2d"},
			{Op: "flatten"},
			{Op: "dropout"},
			leaky,
			dense,
			{Op: "softmax"},
		},
	}
}

// Vector ist ein kleines Modell ueber Vektoren [4] -> [3] ohne Labels
func Vector() model.Spec {
	hidden := model.LayerSpec{Op: "dense"}
	hidden.SetTensor(model.TensorWeight, tensor(10, 1, 5, 4))
	hidden.SetTensor(model.TensorBias, tensor(11, 0.5, 5))

	out := model.LayerSpec{Op: "dense"}
	out.SetTensor(model.TensorWeight, tensor(12, 1, 3, 5))

	return model.Spec{
		Name:       "vector",
		InputShape: []int{4},
		Layers: []model.LayerSpec{
			hidden,
			{Op: "tanh"},
			out,
			{Op: "sigmoid"},
		},
	}
}

// Images erzeugt count Eingaben fuer m hintereinander
func Images(m *model.Model, count int, seed float64) []float32 {
	return Fill(count*m.InputSize(), seed, 1)
}

// Compile ist model.Compile, bricht den Test bei Fehlern ab
func Compile(t testing.TB, spec model.Spec) *model.Model {
	t.Helper()
	m, err := model.Compile(spec)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// WriteGGUF schreibt spec in eine temporaere GGUF-Datei und gibt den Pfad zurueck
func WriteGGUF(t testing.TB, spec model.Spec, kind ggml.TensorType) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), spec.Name+".gguf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := gguf.Write(f, spec, kind); err != nil {
		t.Fatal(err)
	}
	return path
}

// WriteSafetensors schreibt spec in eine temporaere safetensors Datei
func WriteSafetensors(t testing.TB, spec model.Spec, dtype ml.DType) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), spec.Name+".safetensors")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := safetensors.Write(f, spec, dtype); err != nil {
		t.Fatal(err)
	}
	return path
}
