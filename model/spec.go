// Package model - Zwischenform dekodierter Modelle
//
// MODUL: spec
// ZWECK: Spec und LayerSpec, die von den Codecs befuellt und von Compile geprueft werden
// INPUT: Metadaten und Tensoren aus einem Codec
// OUTPUT: Spec fuer Compile
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: ml (Tensor)
// HINWEISE: Codecs uebernehmen Parameter unveraendert, Pflichtfelder prueft erst Compile
package model

import (
	"github.com/moleinfer/moleinfer/ml"
)

// Parameter-Namen, identisch in allen Formaten
const (
	ParamStride          = "stride"
	ParamPadding         = "padding"
	ParamDilation        = "dilation"
	ParamKernel          = "kernel"
	ParamGroups          = "groups"
	ParamOutputShape     = "output_shape"
	ParamEpsilon         = "epsilon"
	ParamAlpha           = "alpha"
	ParamCountIncludePad = "count_include_pad"
)

// Tensor-Namen eines Layers
const (
	TensorWeight      = "weight"
	TensorBias        = "bias"
	TensorRunningMean = "running_mean"
	TensorRunningVar  = "running_var"
)

// IntParams und FloatParams listen die Parameter nach Wertetyp
var (
	IntParams    = []string{ParamStride, ParamPadding, ParamDilation, ParamKernel, ParamGroups, ParamOutputShape}
	FloatParams  = []string{ParamEpsilon, ParamAlpha}
	BoolParams   = []string{ParamCountIncludePad}
	TensorParams = []string{TensorWeight, TensorBias, TensorRunningMean, TensorRunningVar}
)

// Spec ist ein dekodiertes, noch nicht validiertes Modell
type Spec struct {
	Name       string
	Format     string
	InputShape []int
	Labels     []string
	Layers     []LayerSpec
}

// LayerSpec haelt die Rohwerte eines Layers.
// Op bleibt ein String, damit unbekannte Operatoren erst in Compile gemeldet werden.
type LayerSpec struct {
	Op      string
	Name    string
	Ints    map[string][]int
	Floats  map[string]float32
	Bools   map[string]bool
	Tensors map[string]*ml.Tensor
}

// SetInts setzt einen ganzzahligen Parameter
func (l *LayerSpec) SetInts(key string, v ...int) {
	if l.Ints == nil {
		l.Ints = make(map[string][]int)
	}
	l.Ints[key] = v
}

// SetFloat setzt einen Gleitkomma-Parameter
func (l *LayerSpec) SetFloat(key string, v float32) {
	if l.Floats == nil {
		l.Floats = make(map[string]float32)
	}
	l.Floats[key] = v
}

// SetBool setzt einen booleschen Parameter
func (l *LayerSpec) SetBool(key string, v bool) {
	if l.Bools == nil {
		l.Bools = make(map[string]bool)
	}
	l.Bools[key] = v
}

// SetTensor setzt ein Gewicht
func (l *LayerSpec) SetTensor(key string, t *ml.Tensor) {
	if l.Tensors == nil {
		l.Tensors = make(map[string]*ml.Tensor)
	}
	l.Tensors[key] = t
}
