// Package formats registriert alle eingebauten Modell-Codecs.
//
// Import mit _ "github.com/moleinfer/moleinfer/model/formats"
package formats

import (
	_ "github.com/moleinfer/moleinfer/model/formats/gguf"
	_ "github.com/moleinfer/moleinfer/model/formats/onnx"
	_ "github.com/moleinfer/moleinfer/model/formats/safetensors"
)
