package engine_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moleinfer/moleinfer/engine"
	"github.com/moleinfer/moleinfer/fs/ggml"
	"github.com/moleinfer/moleinfer/ml"
	"github.com/moleinfer/moleinfer/model"
	"github.com/moleinfer/moleinfer/model/modeltest"
)

func loaded(t *testing.T, spec model.Spec, opts ...engine.Option) (*engine.Engine, *model.Model) {
	t.Helper()
	m := modeltest.Compile(t, spec)
	e := engine.New(opts...)
	require.NoError(t, e.Use(m))
	return e, m
}

func TestNotLoaded(t *testing.T) {
	e := engine.New()
	require.False(t, e.Loaded())
	require.Nil(t, e.Model())

	// NotLoaded hat Vorrang vor allen Eingabepruefungen
	for _, count := range []int{-1, 0, 1, 5} {
		_, err := e.Predict(t.Context(), make([]float32, 3), count)
		require.ErrorIs(t, err, engine.ErrNotLoaded, "count %d", count)
	}

	_, err := e.PredictBytes(t.Context(), []byte{1, 2, 3}, 1)
	require.ErrorIs(t, err, engine.ErrNotLoaded)
}

func TestPredictZeroCount(t *testing.T) {
	e, _ := loaded(t, modeltest.TinyCNN())

	out, err := e.Predict(t.Context(), nil, 0)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Empty(t, out)
	require.Equal(t, engine.Stats{}, e.Stats(), "count 0 darf keinen Forward-Pass ausloesen")
}

func TestPredictInvalidInput(t *testing.T) {
	e, m := loaded(t, modeltest.TinyCNN())
	size := m.InputSize()

	cases := []struct {
		name   string
		images []float32
		count  int
	}{
		{"negative Anzahl", make([]float32, size), -1},
		{"zu kurz", make([]float32, size-1), 1},
		{"zu lang", make([]float32, size+1), 1},
		{"Anzahl passt nicht", make([]float32, 2*size), 3},
		{"leerer Puffer", nil, 1},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Predict(t.Context(), tt.images, tt.count)
			require.ErrorIs(t, err, engine.ErrInvalidInput)
		})
	}

	_, err := e.PredictBytes(t.Context(), make([]byte, 4*size+2), 1)
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	require.Equal(t, engine.Stats{}, e.Stats())
}

func TestPredictShapeAndDistribution(t *testing.T) {
	e, m := loaded(t, modeltest.TinyCNN())

	out, err := e.Predict(t.Context(), modeltest.Images(m, 3, 0.5), 3)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i, p := range out {
		require.Len(t, p, m.NumClasses(), "Bild %d", i)

		var sum float32
		for _, v := range p {
			require.GreaterOrEqual(t, v, float32(0))
			sum += v
		}
		require.InDelta(t, 1, sum, 1e-5, "Bild %d", i)
	}
	require.Equal(t, engine.Stats{Passes: 1, Images: 3}, e.Stats())
}

func TestBatchMatchesLoop(t *testing.T) {
	for _, spec := range []model.Spec{modeltest.TinyCNN(), modeltest.Vector()} {
		t.Run(spec.Name, func(t *testing.T) {
			e, m := loaded(t, spec, engine.WithThreads(3))
			size := m.InputSize()
			images := modeltest.Images(m, 7, 1.25)

			batch, err := e.Predict(t.Context(), images, 7)
			require.NoError(t, err)

			for i := range 7 {
				single, err := e.Predict(t.Context(), images[i*size:(i+1)*size], 1)
				require.NoError(t, err)
				require.Equal(t, single[0], batch[i], "Bild %d weicht vom Einzelaufruf ab", i)
			}
		})
	}
}

func TestDeterministic(t *testing.T) {
	e, m := loaded(t, modeltest.TinyCNN())
	images := modeltest.Images(m, 2, 3)

	first, err := e.Predict(t.Context(), images, 2)
	require.NoError(t, err)
	second, err := e.Predict(t.Context(), images, 2)
	require.NoError(t, err)
	require.Equal(t, first, second)

	// Eingabepuffer bleibt unveraendert
	require.Equal(t, modeltest.Images(m, 2, 3), images)
}

func TestConcurrentPredict(t *testing.T) {
	e, m := loaded(t, modeltest.TinyCNN(), engine.WithThreads(2))
	images := modeltest.Images(m, 4, 0.75)

	want, err := e.Predict(t.Context(), images, 4)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.Predict(context.Background(), images, 4)
			if err != nil {
				errs <- err
				return
			}
			for i := range want {
				for j := range want[i] {
					if got[i][j] != want[i][j] {
						errs <- errors.New("abweichendes Ergebnis bei parallelem Aufruf")
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	require.Equal(t, uint64(17), e.Stats().Passes)
}

func TestCanceledContext(t *testing.T) {
	e, m := loaded(t, modeltest.TinyCNN())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := e.Predict(ctx, modeltest.Images(m, 2, 0), 2)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, engine.Stats{}, e.Stats())
}

func TestSnapshotKeepsModel(t *testing.T) {
	e, cnn := loaded(t, modeltest.TinyCNN())
	images := modeltest.Images(cnn, 1, 0.5)

	_, err := engine.New().Snapshot()
	require.ErrorIs(t, err, engine.ErrNotLoaded)

	snap, err := e.Snapshot()
	require.NoError(t, err)
	want, err := e.Predict(t.Context(), images, 1)
	require.NoError(t, err)

	require.NoError(t, e.Use(modeltest.Compile(t, modeltest.Vector())))

	_, err = e.Predict(t.Context(), images, 1)
	require.ErrorIs(t, err, engine.ErrInvalidInput, "aktuelles Modell erwartet 4 Werte")

	got, err := snap.Predict(t.Context(), images, 1)
	require.NoError(t, err)
	require.Same(t, cnn, snap.Model())
	require.Equal(t, want, got)
}

func TestThreadsIgnoreEnvironment(t *testing.T) {
	t.Setenv("MOLEINFER_NUM_THREADS", "1")

	want := fmt.Sprintf("%d threads", runtime.GOMAXPROCS(0))
	e, _ := loaded(t, modeltest.Vector())
	require.Contains(t, e.String(), want)

	e, _ = loaded(t, modeltest.Vector(), engine.WithThreads(3))
	require.Contains(t, e.String(), "3 threads")
}

func TestLoad(t *testing.T) {
	e := engine.New()
	require.NoError(t, e.Load(modeltest.WriteGGUF(t, modeltest.TinyCNN(), ggml.TensorTypeF32)))
	require.True(t, e.Loaded())

	first := e.Model()
	require.Equal(t, "tiny-cnn", first.Name())

	// fehlgeschlagenes Laden behaelt das bisherige Modell
	err := e.Load(filepath.Join(t.TempDir(), "missing.gguf"))
	require.ErrorIs(t, err, model.ErrNotFound)
	require.Same(t, first, e.Model())

	// erfolgreiches Laden ersetzt es
	require.NoError(t, e.Load(modeltest.WriteSafetensors(t, modeltest.Vector(), ml.DTypeF32)))
	require.Equal(t, []int{4}, e.Model().InputShape())

	out, err := e.Predict(t.Context(), modeltest.Images(e.Model(), 1, 0), 1)
	require.NoError(t, err)
	require.Len(t, out[0], 3)
}

func TestLoadErrorKeepsUnloaded(t *testing.T) {
	e := engine.New()
	err := e.Load(filepath.Join(t.TempDir(), "missing.onnx"))

	var le *model.LoadError
	require.ErrorAs(t, err, &le)
	require.False(t, e.Loaded())
}

func TestPredictBytes(t *testing.T) {
	e, m := loaded(t, modeltest.Vector())
	images := modeltest.Images(m, 2, 2)

	want, err := e.Predict(t.Context(), images, 2)
	require.NoError(t, err)

	got, err := e.PredictBytes(t.Context(), ml.EncodeF32(images), 2)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestUseNil(t *testing.T) {
	require.ErrorIs(t, engine.New().Use(nil), engine.ErrInvalidInput)
}
