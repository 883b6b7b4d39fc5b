// plan.go - Ausfuehrungsplan eines geladenen Modells
//
// Dieses Modul enthaelt:
// - step: ein Layer als Kernel-Aufruf mit festen Parametern
// - newPlan: uebersetzt die Layer eines Modells in Schritte
// - run: Forward-Pass fuer ein einzelnes Bild
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/moleinfer/moleinfer/logutil"
	"github.com/moleinfer/moleinfer/ml"
	"github.com/moleinfer/moleinfer/model"
)

type kernel func(x *ml.Tensor) (*ml.Tensor, error)

type step struct {
	op  model.OpKind
	out []int
	fn  kernel
}

type plan struct {
	input []int
	steps []step
}

func pure(f func(*ml.Tensor) *ml.Tensor) kernel {
	return func(x *ml.Tensor) (*ml.Tensor, error) {
		return f(x), nil
	}
}

func newPlan(m *model.Model) (*plan, error) {
	p := &plan{input: m.InputShape()}
	for i, l := range m.Layers() {
		fn, err := newKernel(l)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		p.steps = append(p.steps, step{op: l.Op, out: l.OutShape, fn: fn})
	}
	return p, nil
}

func newKernel(l model.Layer) (kernel, error) {
	switch l.Op {
	case model.OpConv2D:
		params := l.ConvParams()
		return func(x *ml.Tensor) (*ml.Tensor, error) {
			return ml.Conv2D(x, l.Weight, l.Bias, params)
		}, nil
	case model.OpBatchNorm2D:
		return func(x *ml.Tensor) (*ml.Tensor, error) {
			return ml.BatchNorm(x, l.Weight, l.Bias, l.RunningMean, l.RunningVar, l.Epsilon)
		}, nil
	case model.OpReLU:
		return pure(ml.ReLU), nil
	case model.OpLeakyReLU:
		return pure(func(x *ml.Tensor) *ml.Tensor { return ml.LeakyReLU(x, l.Alpha) }), nil
	case model.OpReLU6:
		return pure(ml.ReLU6), nil
	case model.OpSigmoid:
		return pure(ml.Sigmoid), nil
	case model.OpTanh:
		return pure(ml.Tanh), nil
	case model.OpSoftmax:
		return ml.Softmax, nil
	case model.OpMaxPool2D:
		params := l.PoolParams()
		return func(x *ml.Tensor) (*ml.Tensor, error) { return ml.MaxPool2D(x, params) }, nil
	case model.OpAvgPool2D:
		params := l.PoolParams()
		return func(x *ml.Tensor) (*ml.Tensor, error) { return ml.AvgPool2D(x, params) }, nil
	case model.OpGlobalAvgPool2D:
		return ml.GlobalAvgPool2D, nil
	case model.OpFlatten:
		return pure(ml.Flatten), nil
	case model.OpDense:
		return func(x *ml.Tensor) (*ml.Tensor, error) { return ml.Dense(x, l.Weight, l.Bias) }, nil
	case model.OpDropout:
		// Inferenz: Identitaet
		return func(x *ml.Tensor) (*ml.Tensor, error) { return x, nil }, nil
	default:
		return nil, fmt.Errorf("%w: no kernel for %s", ErrExecutionFailure, l.Op)
	}
}

// run fuehrt alle Schritte fuer ein Bild aus. Panics der Kernel werden zu ExecutionError.
func (p *plan) run(ctx context.Context, logger *slog.Logger, image int, x *ml.Tensor) (out *ml.Tensor, err error) {
	layer := -1
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &ExecutionError{Image: image, Layer: layer, Op: p.op(layer), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	trace := logger.Enabled(ctx, logutil.LevelTrace)
	for i, s := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		layer = i
		y, err := s.fn(x)
		if err != nil {
			return nil, &ExecutionError{Image: image, Layer: i, Op: s.op, Err: err}
		}
		if !slices.Equal(y.Shape, s.out) {
			return nil, &ExecutionError{Image: image, Layer: i, Op: s.op, Err: fmt.Errorf("output %v, expected %v", y.Shape, s.out)}
		}
		if trace {
			logutil.TraceContext(ctx, logger, "layer output", "image", image, "layer", i, "op", s.op, "values", ml.Dump(y, ml.DumpWithEdgeItems(2)))
		}
		x = y
	}
	return x, nil
}

func (p *plan) op(i int) model.OpKind {
	if i < 0 || i >= len(p.steps) {
		return model.OpInvalid
	}
	return p.steps[i].op
}
