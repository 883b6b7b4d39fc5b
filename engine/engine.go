// Package engine fuehrt geladene Modelle auf flachen float32-Bildpuffern aus.
//
// Eine Engine haelt hoechstens ein Modell. Predict ist fuer parallele Aufrufe
// sicher; ein gleichzeitiges Load tauscht das Modell aus, laufende Aufrufe
// rechnen mit dem Modell weiter, mit dem sie begonnen haben.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/moleinfer/moleinfer/ml"
	"github.com/moleinfer/moleinfer/model"

	_ "github.com/moleinfer/moleinfer/model/formats"
)

// state ist der unveraenderliche Zustand eines geladenen Modells
type state struct {
	model *model.Model
	plan  *plan
}

// Stats zaehlt ausgefuehrte Forward-Passes
type Stats struct {
	// Passes zaehlt erfolgreiche Predict-Aufrufe mit mindestens einem Bild
	Passes uint64
	// Images zaehlt die darin berechneten Bilder
	Images uint64
}

// Engine ist die Inferenz-Engine. Der Nullwert ist nicht verwendbar, siehe New.
type Engine struct {
	opts options

	mu    sync.RWMutex
	state *state

	passes atomic.Uint64
	images atomic.Uint64
}

// New erstellt eine Engine ohne Modell. Es wird nicht auf Dateien zugegriffen.
func New(opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{opts: o}
}

// Load laedt das Modell unter path und ersetzt ein vorher geladenes Modell.
// Schlaegt das Laden fehl, bleibt der bisherige Zustand unveraendert.
func (e *Engine) Load(path string) error {
	m, err := model.Load(path)
	if err != nil {
		return err
	}
	return e.Use(m)
}

// Use veroeffentlicht ein bereits geladenes Modell
func (e *Engine) Use(m *model.Model) error {
	if m == nil {
		return fmt.Errorf("%w: nil model", ErrInvalidInput)
	}

	p, err := newPlan(m)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.state = &state{model: m, plan: p}
	e.mu.Unlock()

	e.opts.logger.Debug("model loaded",
		"name", m.Name(),
		"format", m.Format(),
		"input", m.InputShape(),
		"classes", m.NumClasses(),
		"layers", m.NumLayers(),
		"parameters", m.ParameterCount())
	return nil
}

func (e *Engine) snapshot() *state {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Loaded meldet, ob ein Modell geladen ist
func (e *Engine) Loaded() bool {
	return e.snapshot() != nil
}

// Model gibt das geladene Modell zurueck, nil wenn keines geladen ist
func (e *Engine) Model() *model.Model {
	if s := e.snapshot(); s != nil {
		return s.model
	}
	return nil
}

// Stats gibt die bisherigen Zaehlerstaende zurueck
func (e *Engine) Stats() Stats {
	return Stats{Passes: e.passes.Load(), Images: e.images.Load()}
}

// Snapshot haelt das Modell fest, das beim Aufruf von Engine.Snapshot geladen war.
// Spaetere Load-Aufrufe aendern einen Snapshot nicht.
type Snapshot struct {
	e *Engine
	s *state
}

// Snapshot gibt den aktuellen Stand zurueck, ErrNotLoaded ohne Modell
func (e *Engine) Snapshot() (*Snapshot, error) {
	s := e.snapshot()
	if s == nil {
		return nil, ErrNotLoaded
	}
	return &Snapshot{e: e, s: s}, nil
}

// Model gibt das festgehaltene Modell zurueck
func (s *Snapshot) Model() *model.Model {
	return s.s.model
}

// Predict ist Engine.Predict auf dem festgehaltenen Modell
func (s *Snapshot) Predict(ctx context.Context, images []float32, count int) ([][]float32, error) {
	return s.e.predict(ctx, s.s, images, count)
}

// Predict berechnet die Klassenwerte fuer count Bilder.
// images enthaelt die Bilder hintereinander, jedes mit InputSize Werten.
// Das Ergebnis hat count Vektoren der Laenge NumClasses in Eingabereihenfolge.
func (e *Engine) Predict(ctx context.Context, images []float32, count int) ([][]float32, error) {
	s := e.snapshot()
	if s == nil {
		return nil, ErrNotLoaded
	}
	return e.predict(ctx, s, images, count)
}

func (e *Engine) predict(ctx context.Context, s *state, images []float32, count int) ([][]float32, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: negative image count %d", ErrInvalidInput, count)
	}
	if count == 0 {
		return [][]float32{}, nil
	}

	size := s.model.InputSize()
	if len(images)%size != 0 || len(images)/size != count {
		return nil, fmt.Errorf("%w: %d values for %d images of %d values", ErrInvalidInput, len(images), count, size)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([][]float32, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.threads)
	for i := range count {
		g.Go(func() error {
			x := &ml.Tensor{
				Shape: slices.Clone(s.plan.input),
				Data:  slices.Clone(images[i*size : (i+1)*size]),
			}

			y, err := s.plan.run(gctx, e.opts.logger, i, x)
			if err != nil {
				return err
			}
			results[i] = y.Data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.passes.Add(1)
	e.images.Add(uint64(count))
	return results, nil
}

// PredictBytes ist Predict fuer einen Puffer aus little-endian float32-Werten
func (e *Engine) PredictBytes(ctx context.Context, raw []byte, count int) ([][]float32, error) {
	if !e.Loaded() {
		return nil, ErrNotLoaded
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of 4", ErrInvalidInput, len(raw))
	}

	images, err := ml.DecodeF32(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return e.Predict(ctx, images, count)
}

// String beschreibt den Zustand fuer Logs
func (e *Engine) String() string {
	s := e.snapshot()
	if s == nil {
		return "engine(unloaded)"
	}
	return fmt.Sprintf("engine(%s, %d layers, %d threads)", s.model.Name(), s.model.NumLayers(), e.opts.threads)
}

// LogValue implementiert slog.LogValuer
func (e *Engine) LogValue() slog.Value {
	return slog.StringValue(e.String())
}
