package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moleinfer/moleinfer/ml"
	"github.com/moleinfer/moleinfer/model"
	"github.com/moleinfer/moleinfer/model/modeltest"
)

func TestPlanMatchesModel(t *testing.T) {
	m := modeltest.Compile(t, modeltest.TinyCNN())
	p, err := newPlan(m)
	require.NoError(t, err)
	require.Len(t, p.steps, m.NumLayers())

	for i, l := range m.Layers() {
		require.Equal(t, l.Op, p.steps[i].op)
		require.Equal(t, l.OutShape, p.steps[i].out)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	p := &plan{
		input: []int{2},
		steps: []step{
			{op: model.OpReLU, out: []int{2}, fn: pure(ml.ReLU)},
			{op: model.OpDense, out: []int{1}, fn: func(*ml.Tensor) (*ml.Tensor, error) {
				panic("index out of range")
			}},
		},
	}

	_, err := p.run(t.Context(), slog.Default(), 4, ml.New(2))
	require.ErrorIs(t, err, ErrExecutionFailure)

	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, 4, ee.Image)
	require.Equal(t, 1, ee.Layer)
	require.Equal(t, model.OpDense, ee.Op)
}

func TestRunKernelError(t *testing.T) {
	kernelErr := errors.New("kaputt")
	p := &plan{
		input: []int{2},
		steps: []step{{op: model.OpSoftmax, out: []int{2}, fn: func(*ml.Tensor) (*ml.Tensor, error) {
			return nil, kernelErr
		}}},
	}

	_, err := p.run(t.Context(), slog.Default(), 0, ml.New(2))
	require.ErrorIs(t, err, ErrExecutionFailure)
	require.ErrorIs(t, err, kernelErr)
}

func TestRunShapeCheck(t *testing.T) {
	p := &plan{
		input: []int{2},
		steps: []step{{op: model.OpFlatten, out: []int{3}, fn: pure(ml.Flatten)}},
	}

	_, err := p.run(t.Context(), slog.Default(), 0, ml.New(2))
	require.ErrorIs(t, err, ErrExecutionFailure)
}

func TestRunChecksContextBetweenLayers(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	calls := 0
	p := &plan{
		input: []int{1},
		steps: []step{
			{op: model.OpReLU, out: []int{1}, fn: func(x *ml.Tensor) (*ml.Tensor, error) {
				calls++
				cancel()
				return x, nil
			}},
			{op: model.OpReLU, out: []int{1}, fn: func(x *ml.Tensor) (*ml.Tensor, error) {
				calls++
				return x, nil
			}},
		},
	}

	_, err := p.run(ctx, slog.Default(), 0, ml.New(1))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}
