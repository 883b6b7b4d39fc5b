// Package onnx liest sequentielle Klassifikationsgraphen aus ONNX-Dateien.
//
// Unterstuetzt werden Ketten, in denen jeder Knoten die Ausgabe des
// vorherigen Knotens verarbeitet. Gewichte kommen aus den Initializern.
package onnx

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/moleinfer/moleinfer/ml"
	"github.com/moleinfer/moleinfer/model"
)

// maxFileSize begrenzt die Groesse einer ONNX-Datei, sie wird komplett gelesen
const maxFileSize = 2 << 30

// Codec implementiert model.Codec fuer ONNX
type Codec struct{}

func (Codec) Name() string { return "onnx" }

func (Codec) Detect(name string, header []byte) bool {
	if strings.EqualFold(filepath.Ext(name), ".onnx") {
		return true
	}
	return probe(header)
}

// probe prueft, ob der Header mit ir_version beginnt und ein gueltiges
// ModelProto-Feld folgt. Der Header darf mitten in einem Feld enden.
func probe(header []byte) bool {
	if len(header) < 2 || header[0] != 0x08 {
		return false
	}
	v, n := protowire.ConsumeVarint(header[1:])
	if n < 0 || v == 0 || v > 64 {
		return false
	}

	rest := header[1+n:]
	if len(rest) == 0 {
		return true
	}
	num, typ, n := protowire.ConsumeTag(rest)
	if n < 0 {
		return false
	}
	// ModelProto kennt die Felder 1 bis 25
	return num <= 25 && (typ == protowire.VarintType || typ == protowire.BytesType)
}

func (Codec) Decode(r io.ReaderAt, size int64) (model.Spec, error) {
	if size > maxFileSize {
		return model.Spec{}, fmt.Errorf("%w: file size %d exceeds %d", model.ErrCorruptFormat, size, int64(maxFileSize))
	}

	b := make([]byte, size)
	if n, err := r.ReadAt(b, 0); n < len(b) {
		return model.Spec{}, fmt.Errorf("%w: short read: %w", model.ErrCorruptFormat, err)
	}

	m, err := parseModel(b)
	if err != nil {
		return model.Spec{}, fmt.Errorf("%w: %w", model.ErrCorruptFormat, err)
	}

	return convert(m)
}

// convert uebersetzt den Graphen in eine Spec
func convert(m *modelProto) (model.Spec, error) {
	g := &m.graph
	if len(g.nodes) == 0 {
		return model.Spec{}, fmt.Errorf("%w: graph has no nodes", model.ErrCorruptFormat)
	}

	inits := make(map[string]*tensorProto, len(g.initializers))
	for i := range g.initializers {
		inits[g.initializers[i].name] = &g.initializers[i]
	}

	in, err := graphInput(g, inits)
	if err != nil {
		return model.Spec{}, err
	}

	spec := model.Spec{
		Name:       cmp.Or(m.metadata["name"], g.name),
		InputShape: in.shape,
		Labels:     labels(m.metadata["labels"]),
	}

	prev := in.name
	for i, n := range g.nodes {
		if len(n.inputs) == 0 || n.inputs[0] != prev || len(n.outputs) == 0 {
			return model.Spec{}, fmt.Errorf("%w: node %d (%s) does not continue a sequential chain", model.ErrCorruptFormat, i, n.opType)
		}

		c := converter{node: n, inits: inits}
		l, err := c.layer()
		if err != nil {
			return model.Spec{}, fmt.Errorf("node %d (%s): %w", i, n.opType, err)
		}
		l.Name = n.name
		spec.Layers = append(spec.Layers, l)
		prev = n.outputs[0]
	}

	if len(g.outputs) != 1 || g.outputs[0].name != prev {
		return model.Spec{}, fmt.Errorf("%w: graph output is not the output of the last node", model.ErrCorruptFormat)
	}

	return spec, nil
}

func labels(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

type input struct {
	name  string
	shape []int
}

// graphInput sucht den ersten Eingang, der kein Initializer ist, und entfernt die Batch-Dimension
func graphInput(g *graphProto, inits map[string]*tensorProto) (input, error) {
	for _, v := range g.inputs {
		if _, ok := inits[v.name]; ok {
			continue
		}
		if len(v.dims) < 2 {
			return input{}, fmt.Errorf("%w: input %s needs a batch dimension and a shape, got %d dims", model.ErrCorruptFormat, v.name, len(v.dims))
		}

		shape := make([]int, 0, len(v.dims)-1)
		for _, d := range v.dims[1:] {
			if d.value <= 0 || d.value > math.MaxInt32 {
				return input{}, fmt.Errorf("%w: input %s has symbolic or invalid dimension %q", model.ErrCorruptFormat, v.name, cmp.Or(d.param, fmt.Sprint(d.value)))
			}
			shape = append(shape, int(d.value))
		}
		return input{name: v.name, shape: shape}, nil
	}
	return input{}, fmt.Errorf("%w: graph has no data input", model.ErrCorruptFormat)
}

// tensor dekodiert einen Initializer nach float32
func (t *tensorProto) tensor() (*ml.Tensor, error) {
	if t.external {
		return nil, fmt.Errorf("%w: initializer %s uses external data", model.ErrCorruptFormat, t.name)
	}

	shape := make([]int, len(t.dims))
	for i, d := range t.dims {
		if d <= 0 || d > math.MaxInt32 {
			return nil, fmt.Errorf("%w: initializer %s has invalid dims %v", model.ErrCorruptFormat, t.name, t.dims)
		}
		shape[i] = int(d)
	}
	if len(shape) == 0 {
		shape = []int{1}
	}

	var values []float32
	var err error
	switch {
	case t.dataType == dataTypeFloat && t.rawData == nil:
		values = t.floatData
	case t.dataType == dataTypeFloat:
		values, err = ml.DecodeF32(t.rawData)
	case t.dataType == dataTypeFloat16 || t.dataType == dataTypeBFloat16:
		raw := t.rawData
		if raw == nil {
			for _, v := range t.int32Data {
				raw = binary.LittleEndian.AppendUint16(raw, uint16(v))
			}
		}
		if t.dataType == dataTypeFloat16 {
			values, err = ml.DecodeF16(raw)
		} else {
			values, err = ml.DecodeBF16(raw)
		}
	default:
		return nil, fmt.Errorf("%w: initializer %s has unsupported data type %d", model.ErrCorruptFormat, t.name, t.dataType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: initializer %s: %w", model.ErrCorruptFormat, t.name, err)
	}

	x, err := ml.FromData(shape, values)
	if err != nil {
		return nil, fmt.Errorf("%w: initializer %s: %w", model.ErrCorruptFormat, t.name, err)
	}
	return x, nil
}
