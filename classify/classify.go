// Package classify deutet die Ausgaben eines Klassifikationsmodells.
//
// Ein Classifier ordnet jedem Ergebnisvektor Labels und Wahrscheinlichkeiten
// zu und markiert Bilder, deren Risiko-Wahrscheinlichkeit ueber der Schwelle liegt.
package classify

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/chewxy/math32"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/moleinfer/moleinfer/ml"
	"github.com/moleinfer/moleinfer/model"
)

const (
	// DefaultThreshold ist die Risiko-Schwelle, ab der ein Bild als auffaellig gilt
	DefaultThreshold = 0.8

	// DefaultRiskLabel ist das Label, dessen Wahrscheinlichkeit mit der Schwelle verglichen wird
	DefaultRiskLabel = "malignant"
)

// DefaultLabels gilt fuer Modelle ohne eigene Labels
var DefaultLabels = []string{"benign", "malignant"}

var (
	ErrEmptyPrediction = errors.New("empty prediction")
	ErrPredictionCount = errors.New("incorrect predictions count")
	ErrClassCount      = errors.New("incorrect target classes count")
)

// Predictor liefert Klassenwerte fuer flache Bildpuffer, implementiert von *engine.Engine
type Predictor interface {
	Predict(ctx context.Context, images []float32, count int) ([][]float32, error)
	Model() *model.Model
}

// Result ist die Klassifikation eines Bildes
type Result struct {
	Label         string                                  `json:"label"`
	Confidence    float32                                 `json:"confidence"`
	Probabilities *orderedmap.OrderedMap[string, float32] `json:"probabilities"`
	Risk          float32                                 `json:"risk"`
	Risky         bool                                    `json:"risky"`
}

// Classifier klassifiziert Bilder ueber einen Predictor
type Classifier struct {
	predictor Predictor
	threshold float32
	riskLabel string
	labels    []string
}

// Option konfiguriert einen Classifier
type Option func(*Classifier)

// WithThreshold setzt die Risiko-Schwelle. Werte ausserhalb [0,1] werden ignoriert.
func WithThreshold(t float32) Option {
	return func(c *Classifier) {
		if t >= 0 && t <= 1 {
			c.threshold = t
		}
	}
}

// WithRiskLabel setzt das Label, dessen Wahrscheinlichkeit als Risiko gilt
func WithRiskLabel(label string) Option {
	return func(c *Classifier) {
		if label != "" {
			c.riskLabel = label
		}
	}
}

// WithLabels ersetzt die Labels des Modells
func WithLabels(labels ...string) Option {
	return func(c *Classifier) {
		if len(labels) > 0 {
			c.labels = slices.Clone(labels)
		}
	}
}

// New erstellt einen Classifier
func New(p Predictor, opts ...Option) *Classifier {
	c := &Classifier{
		predictor: p,
		threshold: DefaultThreshold,
		riskLabel: DefaultRiskLabel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Threshold gibt die Risiko-Schwelle zurueck
func (c *Classifier) Threshold() float32 {
	return c.threshold
}

// Labels gibt die aktuell verwendeten Labels zurueck: Option, Modell, Default
func (c *Classifier) Labels() []string {
	if c.labels != nil {
		return c.labels
	}
	if m := c.predictor.Model(); m != nil && len(m.Labels()) > 0 {
		return m.Labels()
	}
	return DefaultLabels
}

// Classify berechnet die Ergebnisse fuer count Bilder
func (c *Classifier) Classify(ctx context.Context, images []float32, count int) ([]Result, error) {
	scores, err := c.predictor.Predict(ctx, images, count)
	if err != nil {
		return nil, err
	}
	if count > 0 && len(scores) == 0 {
		return nil, ErrEmptyPrediction
	}
	if len(scores) != count {
		return nil, fmt.Errorf("%w: %d, expected %d", ErrPredictionCount, len(scores), count)
	}
	return c.Interpret(scores)
}

// Risk gibt die Risiko-Wahrscheinlichkeit eines einzelnen Bildes zurueck
func (c *Classifier) Risk(ctx context.Context, image []float32) (float32, error) {
	results, err := c.Classify(ctx, image, 1)
	if err != nil {
		return 0, err
	}
	return results[0].Risk, nil
}

// Interpret wandelt Ergebnisvektoren in Results um
func (c *Classifier) Interpret(scores [][]float32) ([]Result, error) {
	labels := c.Labels()
	risk := slices.Index(labels, c.riskLabel)

	results := make([]Result, len(scores))
	for i, s := range scores {
		if len(s) != len(labels) {
			return nil, fmt.Errorf("%w: %d, expected %d (image %d)", ErrClassCount, len(s), len(labels), i)
		}

		p := Probabilities(s)
		best := 0
		om := orderedmap.New[string, float32]()
		for j, label := range labels {
			om.Set(label, p[j])
			if p[j] > p[best] {
				best = j
			}
		}

		r := Result{Label: labels[best], Confidence: p[best], Probabilities: om}
		if risk >= 0 {
			r.Risk = p[risk]
			r.Risky = r.Risk > c.threshold
		}
		results[i] = r
	}
	return results, nil
}

// Probabilities gibt s als Wahrscheinlichkeitsverteilung zurueck.
// Vektoren, die bereits eine Verteilung sind, bleiben unveraendert, sonst wird Softmax angewendet.
func Probabilities(s []float32) []float32 {
	p := slices.Clone(s)
	if !isDistribution(p) {
		ml.SoftmaxInPlace(p)
	}
	return p
}

func isDistribution(s []float32) bool {
	var sum float32
	for _, v := range s {
		if v < 0 || v > 1 || math32.IsNaN(v) {
			return false
		}
		sum += v
	}
	return sum > 1-1e-3 && sum < 1+1e-3
}
