// Package model - Operator-Arten eines sequentiellen Modells
//
// MODUL: op
// ZWECK: Aufzaehlung der unterstuetzten Operatoren mit Parsing und Vorschlaegen
// INPUT: Operator-Namen aus den Modell-Dateien
// OUTPUT: OpKind Werte
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: levenshtein (Namensvorschlaege)
// HINWEISE: Namen entsprechen den Schluesseln in GGUF und safetensors Metadaten
package model

import (
	"fmt"
	"math"

	"github.com/agnivade/levenshtein"
)

// OpKind ist die Art eines Layers
type OpKind int

const (
	OpInvalid OpKind = iota
	OpConv2D
	OpBatchNorm2D
	OpReLU
	OpLeakyReLU
	OpReLU6
	OpSigmoid
	OpTanh
	OpSoftmax
	OpMaxPool2D
	OpAvgPool2D
	OpGlobalAvgPool2D
	OpFlatten
	OpDense
	OpDropout
)

var opNames = [...]string{
	OpInvalid:         "invalid",
	OpConv2D:          "conv2d",
	OpBatchNorm2D:     "batchnorm2d",
	OpReLU:            "relu",
	OpLeakyReLU:       "leaky_relu",
	OpReLU6:           "relu6",
	OpSigmoid:         "sigmoid",
	OpTanh:            "tanh",
	OpSoftmax:         "softmax",
	OpMaxPool2D:       "maxpool2d",
	OpAvgPool2D:       "avgpool2d",
	OpGlobalAvgPool2D: "global_avgpool2d",
	OpFlatten:         "flatten",
	OpDense:           "dense",
	OpDropout:         "dropout",
}

func (k OpKind) String() string {
	if k < 0 || int(k) >= len(opNames) {
		return fmt.Sprintf("op(%d)", int(k))
	}
	return opNames[k]
}

// OpKinds gibt alle gueltigen Operatoren in Deklarationsreihenfolge zurueck
func OpKinds() []OpKind {
	kinds := make([]OpKind, 0, len(opNames)-1)
	for k := OpConv2D; int(k) < len(opNames); k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// ParseOpKind sucht den Operator zu s.
// Unbekannte Namen ergeben ErrUnsupportedOperator mit dem naechstliegenden Namen als Vorschlag.
func ParseOpKind(s string) (OpKind, error) {
	for _, k := range OpKinds() {
		if opNames[k] == s {
			return k, nil
		}
	}

	if suggestion := suggestOp(s); suggestion != "" {
		return OpInvalid, fmt.Errorf("%w: %q (did you mean %q?)", ErrUnsupportedOperator, s, suggestion)
	}
	return OpInvalid, fmt.Errorf("%w: %q", ErrUnsupportedOperator, s)
}

// suggestOp liefert den aehnlichsten bekannten Namen, sofern er nah genug ist
func suggestOp(s string) string {
	var best string
	score := math.MaxInt
	for _, k := range OpKinds() {
		if d := levenshtein.ComputeDistance(s, opNames[k]); d < score {
			score = d
			best = opNames[k]
		}
	}

	if score <= max(2, len(s)/3) {
		return best
	}
	return ""
}

// spatial meldet ob der Operator eine [C,H,W] Eingabe erwartet
func (k OpKind) spatial() bool {
	switch k {
	case OpConv2D, OpBatchNorm2D, OpMaxPool2D, OpAvgPool2D, OpGlobalAvgPool2D:
		return true
	default:
		return false
	}
}

// tensors gibt die erlaubten Gewichte zurueck, Pflicht-Gewichte zuerst
func (k OpKind) tensors() (required, optional []string) {
	switch k {
	case OpConv2D, OpDense:
		return []string{"weight"}, []string{"bias"}
	case OpBatchNorm2D:
		return []string{"running_mean", "running_var"}, []string{"weight", "bias"}
	default:
		return nil, nil
	}
}
