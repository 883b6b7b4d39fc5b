// Package model - Validierte, unveraenderliche Modelle
//
// MODUL: model
// ZWECK: Model und Layer nach erfolgreicher Validierung
// INPUT: Ergebnis von Compile
// OUTPUT: Lesende Zugriffe fuer Engine, CLI und Server
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: ml (Tensor, Kernel-Parameter)
// HINWEISE: Accessors geben Kopien der Slices zurueck, Gewichte werden geteilt
package model

import (
	"slices"

	"github.com/moleinfer/moleinfer/ml"
)

// ============================================================================
// Layer
// ============================================================================

// Layer ist ein validierter Schritt des Modells.
// Weight, Bias, RunningMean und RunningVar sind nil wenn nicht benutzt.
type Layer struct {
	Op   OpKind
	Name string

	Stride          [2]int // H, W
	Padding         [4]int // oben, links, unten, rechts
	Dilation        [2]int // H, W
	Kernel          [2]int // H, W
	Groups          int
	Epsilon         float32
	Alpha           float32
	CountIncludePad bool

	Weight      *ml.Tensor
	Bias        *ml.Tensor
	RunningMean *ml.Tensor
	RunningVar  *ml.Tensor

	// OutputShape ist die deklarierte Ausgabe, nil wenn nicht angegeben
	OutputShape []int

	// InShape und OutShape werden von Compile berechnet
	InShape  []int
	OutShape []int
}

// ConvParams gibt die Faltungsparameter fuer ml.Conv2D zurueck
func (l Layer) ConvParams() ml.Conv2DParams {
	return ml.Conv2DParams{
		StrideH: l.Stride[0], StrideW: l.Stride[1],
		PadTop: l.Padding[0], PadLeft: l.Padding[1],
		PadBottom: l.Padding[2], PadRight: l.Padding[3],
		DilationH: l.Dilation[0], DilationW: l.Dilation[1],
		Groups: l.Groups,
	}
}

// PoolParams gibt die Pooling-Parameter fuer ml.MaxPool2D und ml.AvgPool2D zurueck
func (l Layer) PoolParams() ml.Pool2DParams {
	return ml.Pool2DParams{
		KernelH: l.Kernel[0], KernelW: l.Kernel[1],
		StrideH: l.Stride[0], StrideW: l.Stride[1],
		PadTop: l.Padding[0], PadLeft: l.Padding[1],
		PadBottom: l.Padding[2], PadRight: l.Padding[3],
		DilationH: l.Dilation[0], DilationW: l.Dilation[1],
		CountIncludePad: l.CountIncludePad,
	}
}

// Tensor gibt das Gewicht mit dem angegebenen Namen zurueck
func (l Layer) Tensor(name string) *ml.Tensor {
	switch name {
	case TensorWeight:
		return l.Weight
	case TensorBias:
		return l.Bias
	case TensorRunningMean:
		return l.RunningMean
	case TensorRunningVar:
		return l.RunningVar
	default:
		return nil
	}
}

// ParameterCount zaehlt die Elemente aller Gewichte
func (l Layer) ParameterCount() uint64 {
	var n uint64
	for _, name := range TensorParams {
		if t := l.Tensor(name); t != nil {
			n += uint64(t.Elements())
		}
	}
	return n
}

// ============================================================================
// Model
// ============================================================================

// Model ist ein validiertes sequentielles Modell
type Model struct {
	name       string
	format     string
	inputShape []int
	labels     []string
	layers     []Layer
	fileSize   int64
}

// Name gibt den Modellnamen zurueck
func (m *Model) Name() string {
	return m.name
}

// Format gibt den Namen des Codecs zurueck, mit dem das Modell gelesen wurde
func (m *Model) Format() string {
	return m.format
}

// FileSize gibt die Dateigroesse in Bytes zurueck, 0 fuer Modelle ohne Datei
func (m *Model) FileSize() int64 {
	return m.fileSize
}

// InputShape gibt die Shape eines einzelnen Eingabebildes zurueck
func (m *Model) InputShape() []int {
	return slices.Clone(m.inputShape)
}

// InputSize gibt die Anzahl der float32 Werte je Bild zurueck
func (m *Model) InputSize() int {
	n := 1
	for _, d := range m.inputShape {
		n *= d
	}
	return n
}

// OutputShape gibt die Shape der Ausgabe je Bild zurueck (immer Rang 1)
func (m *Model) OutputShape() []int {
	return slices.Clone(m.layers[len(m.layers)-1].OutShape)
}

// NumClasses gibt die Laenge des Ausgabevektors zurueck
func (m *Model) NumClasses() int {
	return m.layers[len(m.layers)-1].OutShape[0]
}

// Labels gibt die Klassennamen zurueck, nil wenn das Modell keine traegt
func (m *Model) Labels() []string {
	return slices.Clone(m.labels)
}

// NumLayers gibt die Anzahl der Layer zurueck
func (m *Model) NumLayers() int {
	return len(m.layers)
}

// Layers gibt eine Kopie der Layer zurueck.
// Die Gewichte werden geteilt und duerfen nicht veraendert werden.
func (m *Model) Layers() []Layer {
	return slices.Clone(m.layers)
}

// ParameterCount zaehlt alle Gewichte des Modells
func (m *Model) ParameterCount() uint64 {
	var n uint64
	for _, l := range m.layers {
		n += l.ParameterCount()
	}
	return n
}
