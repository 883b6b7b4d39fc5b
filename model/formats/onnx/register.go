// MODUL: onnx/register
// ZWECK: Registriert den ONNX-Codec in der globalen Modell-Registry
// INPUT: Keine
// OUTPUT: Keine
// NEBENEFFEKTE: Registriert "onnx" bei Package-Import
// ABHAENGIGKEITEN: model (DefaultRegistry)
// HINWEISE: Import mit _ "github.com/moleinfer/moleinfer/model/formats/onnx"

package onnx

import "github.com/moleinfer/moleinfer/model"

func init() {
	model.Register(Codec{})
}
