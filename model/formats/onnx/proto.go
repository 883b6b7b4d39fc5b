// MODUL: onnx/proto
// ZWECK: Dekodiert die benoetigten Teile von ModelProto direkt aus dem Wire-Format
// INPUT: Serialisierte ONNX-Datei
// OUTPUT: modelProto mit Graph, Knoten, Initializern und Metadaten
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: google.golang.org/protobuf/encoding/protowire
// HINWEISE: Unbekannte Felder werden uebersprungen, gepackte und ungepackte Listen sind erlaubt

package onnx

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ONNX TensorProto.DataType
const (
	dataTypeFloat    = 1
	dataTypeFloat16  = 10
	dataTypeBFloat16 = 16
)

type modelProto struct {
	irVersion int64
	graph     graphProto
	metadata  map[string]string
}

type graphProto struct {
	name         string
	nodes        []nodeProto
	initializers []tensorProto
	inputs       []valueInfo
	outputs      []valueInfo
}

type nodeProto struct {
	name    string
	opType  string
	inputs  []string
	outputs []string
	attrs   map[string]attribute
}

type attribute struct {
	f      float32
	i      int64
	s      []byte
	t      *tensorProto
	floats []float32
	ints   []int64
}

type tensorProto struct {
	name      string
	dims      []int64
	dataType  int32
	floatData []float32
	int32Data []int32
	rawData   []byte
	external  bool
}

type valueInfo struct {
	name string
	dims []dim
}

type dim struct {
	value int64
	param string
}

// field ist ein einzelnes dekodiertes Protobuf-Feld
type field struct {
	num   protowire.Number
	typ   protowire.Type
	u     uint64
	bytes []byte
}

var errGroup = errors.New("group fields are not supported")

// walk ruft fn fuer jedes Feld in b auf
func walk(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u = uint64(v)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			return errGroup
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) str() string {
	return string(f.bytes)
}

func (f field) float() float32 {
	return math.Float32frombits(uint32(f.u))
}

// appendFloats haengt einen einzelnen oder gepackten float an
func appendFloats(dst []float32, f field) ([]float32, error) {
	switch f.typ {
	case protowire.Fixed32Type:
		return append(dst, f.float()), nil
	case protowire.BytesType:
		b := f.bytes
		for len(b) > 0 {
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			dst = append(dst, math.Float32frombits(v))
			b = b[n:]
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("field %d: unexpected wire type %d for float", f.num, f.typ)
	}
}

// appendInts haengt einen einzelnen oder gepackten varint an
func appendInts(dst []int64, f field) ([]int64, error) {
	switch f.typ {
	case protowire.VarintType:
		return append(dst, int64(f.u)), nil
	case protowire.BytesType:
		b := f.bytes
		for len(b) > 0 {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			dst = append(dst, int64(v))
			b = b[n:]
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("field %d: unexpected wire type %d for int", f.num, f.typ)
	}
}

func parseModel(b []byte) (*modelProto, error) {
	m := &modelProto{metadata: make(map[string]string)}
	var haveGraph bool
	err := walk(b, func(f field) error {
		switch f.num {
		case 1: // ir_version
			m.irVersion = int64(f.u)
		case 7: // graph
			haveGraph = true
			return parseGraph(f.bytes, &m.graph)
		case 14: // metadata_props
			var key, value string
			if err := walk(f.bytes, func(f field) error {
				switch f.num {
				case 1:
					key = f.str()
				case 2:
					value = f.str()
				}
				return nil
			}); err != nil {
				return err
			}
			m.metadata[key] = value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !haveGraph {
		return nil, errors.New("model has no graph")
	}
	return m, nil
}

func parseGraph(b []byte, g *graphProto) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1: // node
			n, err := parseNode(f.bytes)
			if err != nil {
				return err
			}
			g.nodes = append(g.nodes, n)
		case 2: // name
			g.name = f.str()
		case 5: // initializer
			t, err := parseTensor(f.bytes)
			if err != nil {
				return err
			}
			g.initializers = append(g.initializers, t)
		case 11: // input
			v, err := parseValueInfo(f.bytes)
			if err != nil {
				return err
			}
			g.inputs = append(g.inputs, v)
		case 12: // output
			v, err := parseValueInfo(f.bytes)
			if err != nil {
				return err
			}
			g.outputs = append(g.outputs, v)
		}
		return nil
	})
}

func parseNode(b []byte) (nodeProto, error) {
	n := nodeProto{attrs: make(map[string]attribute)}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			n.inputs = append(n.inputs, f.str())
		case 2:
			n.outputs = append(n.outputs, f.str())
		case 3:
			n.name = f.str()
		case 4:
			n.opType = f.str()
		case 5:
			name, a, err := parseAttribute(f.bytes)
			if err != nil {
				return err
			}
			n.attrs[name] = a
		}
		return nil
	})
	return n, err
}

func parseAttribute(b []byte) (string, attribute, error) {
	var name string
	var a attribute
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			name = f.str()
		case 2:
			a.f = f.float()
		case 3:
			a.i = int64(f.u)
		case 4:
			a.s = f.bytes
		case 5:
			var t tensorProto
			t, err = parseTensor(f.bytes)
			a.t = &t
		case 7:
			a.floats, err = appendFloats(a.floats, f)
		case 8:
			a.ints, err = appendInts(a.ints, f)
		}
		return err
	})
	return name, a, err
}

func parseTensor(b []byte) (tensorProto, error) {
	var t tensorProto
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			t.dims, err = appendInts(t.dims, f)
		case 2:
			t.dataType = int32(f.u)
		case 4:
			t.floatData, err = appendFloats(t.floatData, f)
		case 5:
			var ints []int64
			ints, err = appendInts(nil, f)
			for _, v := range ints {
				t.int32Data = append(t.int32Data, int32(v))
			}
		case 8:
			t.name = f.str()
		case 9:
			t.rawData = f.bytes
		case 14: // data_location
			t.external = f.u == 1
		}
		return err
	})
	return t, err
}

func parseValueInfo(b []byte) (valueInfo, error) {
	var v valueInfo
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			v.name = f.str()
		case 2: // TypeProto
			return walk(f.bytes, func(f field) error {
				if f.num != 1 { // tensor_type
					return nil
				}
				return walk(f.bytes, func(f field) error {
					if f.num != 2 { // shape
						return nil
					}
					return walk(f.bytes, func(f field) error {
						if f.num != 1 { // dim
							return nil
						}
						var d dim
						if err := walk(f.bytes, func(f field) error {
							switch f.num {
							case 1:
								d.value = int64(f.u)
							case 2:
								d.param = f.str()
							}
							return nil
						}); err != nil {
							return err
						}
						v.dims = append(v.dims, d)
						return nil
					})
				})
			})
		}
		return nil
	})
	return v, err
}
