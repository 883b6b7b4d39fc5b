package classify_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/moleinfer/moleinfer/classify"
	"github.com/moleinfer/moleinfer/engine"
	"github.com/moleinfer/moleinfer/model"
	"github.com/moleinfer/moleinfer/model/modeltest"
)

type fakePredictor struct {
	scores [][]float32
	err    error
	model  *model.Model
}

func (f *fakePredictor) Predict(context.Context, []float32, int) ([][]float32, error) {
	return f.scores, f.err
}

func (f *fakePredictor) Model() *model.Model {
	return f.model
}

func TestClassify(t *testing.T) {
	p := &fakePredictor{scores: [][]float32{{0.1, 0.9}, {0.85, 0.15}, {0.19, 0.81}, {0.2, 0.8}}}
	c := classify.New(p)

	results, err := c.Classify(t.Context(), nil, 4)
	if err != nil {
		t.Fatal(err)
	}

	type summary struct {
		Label string
		Risky bool
	}
	var got []summary
	for _, r := range results {
		got = append(got, summary{r.Label, r.Risky})
	}

	// 0.8 liegt nicht ueber der Schwelle
	want := []summary{{"malignant", true}, {"benign", false}, {"malignant", true}, {"malignant", false}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Ergebnisse (-want +got):\n%s", diff)
	}
	if results[1].Confidence != 0.85 || results[0].Risk != 0.9 {
		t.Errorf("Confidence %v Risk %v", results[1].Confidence, results[0].Risk)
	}
}

func TestProbabilitiesJSONOrder(t *testing.T) {
	c := classify.New(&fakePredictor{}, classify.WithLabels("nevus", "melanoma", "keratosis"), classify.WithRiskLabel("melanoma"))

	results, err := c.Interpret([][]float32{{0.25, 0.5, 0.25}})
	if err != nil {
		t.Fatal(err)
	}

	b, err := json.Marshal(results[0].Probabilities)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"nevus":0.25,"melanoma":0.5,"keratosis":0.25}` {
		t.Errorf("JSON = %s, erwartet Label-Reihenfolge", b)
	}
	if results[0].Risk != 0.5 || results[0].Risky {
		t.Errorf("Risk = %v Risky = %v", results[0].Risk, results[0].Risky)
	}
}

func TestProbabilities(t *testing.T) {
	cases := []struct {
		name   string
		scores []float32
		want   []float32
	}{
		{"Verteilung bleibt", []float32{0.3, 0.7}, []float32{0.3, 0.7}},
		{"Logits", []float32{0, 0}, []float32{0.5, 0.5}},
		{"negative Werte", []float32{-1, 1}, []float32{0.11920292, 0.8807971}},
		{"Summe ungleich 1", []float32{0.5, 0.6}, []float32{0.47502081, 0.52497919}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got := classify.Probabilities(tt.scores)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
				t.Errorf("Probabilities (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClassifyErrors(t *testing.T) {
	predictErr := errors.New("engine kaputt")

	cases := []struct {
		name  string
		p     *fakePredictor
		count int
		want  error
	}{
		{"leere Vorhersage", &fakePredictor{}, 2, classify.ErrEmptyPrediction},
		{"falsche Anzahl", &fakePredictor{scores: [][]float32{{0.5, 0.5}}}, 2, classify.ErrPredictionCount},
		{"falsche Klassenzahl", &fakePredictor{scores: [][]float32{{0.2, 0.3, 0.5}}}, 1, classify.ErrClassCount},
		{"Predictor-Fehler", &fakePredictor{err: predictErr}, 1, predictErr},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := classify.New(tt.p).Classify(t.Context(), nil, tt.count)
			if !errors.Is(err, tt.want) {
				t.Errorf("Fehler = %v, erwartet %v", err, tt.want)
			}
		})
	}
}

func TestThreshold(t *testing.T) {
	p := &fakePredictor{scores: [][]float32{{0.4, 0.6}}}

	c := classify.New(p, classify.WithThreshold(0.5))
	if r, err := c.Risk(t.Context(), nil); err != nil || r != 0.6 {
		t.Fatalf("Risk = %v, %v", r, err)
	}
	results, _ := c.Classify(t.Context(), nil, 1)
	if !results[0].Risky {
		t.Error("0.6 > 0.5 erwartet Risky")
	}

	// ungueltige Schwelle wird ignoriert
	if got := classify.New(p, classify.WithThreshold(1.5)).Threshold(); got != classify.DefaultThreshold {
		t.Errorf("Threshold = %v, erwartet Default", got)
	}
}

func TestClassifyWithEngine(t *testing.T) {
	m := modeltest.Compile(t, modeltest.TinyCNN())
	e := engine.New()
	if err := e.Use(m); err != nil {
		t.Fatal(err)
	}

	c := classify.New(e)
	if diff := cmp.Diff(m.Labels(), c.Labels()); diff != "" {
		t.Errorf("Labels (-want +got):\n%s", diff)
	}

	results, err := c.Classify(t.Context(), modeltest.Images(m, 3, 0.5), 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range results {
		var sum float32
		for pair := r.Probabilities.Oldest(); pair != nil; pair = pair.Next() {
			sum += pair.Value
		}
		if sum < 0.999 || sum > 1.001 {
			t.Errorf("Bild %d: Summe %v, erwartet 1", i, sum)
		}
	}

	// ohne Modell
	if _, err := classify.New(engine.New()).Classify(t.Context(), nil, 1); !errors.Is(err, engine.ErrNotLoaded) {
		t.Errorf("Fehler = %v, erwartet ErrNotLoaded", err)
	}
}
