// dump.go - Textausgabe von Tensor-Inhalten fuer TRACE-Logs
package ml

import (
	"math"
	"strconv"
	"strings"
)

// DumpOption konfiguriert die Ausgabe von Dump
type DumpOption func(*dumpOptions)

type dumpOptions struct {
	precision, threshold, edgeItems int
}

// DumpWithPrecision setzt die Anzahl Nachkommastellen
func DumpWithPrecision(n int) DumpOption {
	return func(o *dumpOptions) {
		o.precision = n
	}
}

// DumpWithThreshold setzt die Elementanzahl, bis zu der ein Tensor vollstaendig ausgegeben wird
func DumpWithThreshold(n int) DumpOption {
	return func(o *dumpOptions) {
		o.threshold = n
	}
}

// DumpWithEdgeItems setzt die Anzahl Eintraege am Anfang und Ende jeder gekuerzten Dimension
func DumpWithEdgeItems(n int) DumpOption {
	return func(o *dumpOptions) {
		o.edgeItems = n
	}
}

// Dump gibt t als verschachtelte Listen aus. Tensoren ueber dem Threshold
// werden je Dimension auf die ersten und letzten EdgeItems Eintraege gekuerzt.
func Dump(t *Tensor, opts ...DumpOption) string {
	o := dumpOptions{precision: 4, threshold: 1000, edgeItems: 3}
	for _, opt := range opts {
		opt(&o)
	}

	if t == nil || len(t.Shape) == 0 {
		return "<empty>"
	}
	if t.Elements() <= o.threshold {
		o.edgeItems = math.MaxInt
	}

	d := dumper{t: t, opts: o, strides: make([]int, len(t.Shape))}
	stride := 1
	for i := len(t.Shape) - 1; i >= 0; i-- {
		d.strides[i] = stride
		stride *= t.Shape[i]
	}

	d.dim(0, 0)
	return d.sb.String()
}

type dumper struct {
	t       *Tensor
	opts    dumpOptions
	strides []int
	sb      strings.Builder
}

// dim schreibt die Achse axis ab dem Datenoffset offset
func (d *dumper) dim(axis, offset int) {
	n := d.t.Shape[axis]
	last := axis == len(d.t.Shape)-1

	sep := ", "
	if !last {
		sep = "," + strings.Repeat("\n", len(d.t.Shape)-axis-1) + strings.Repeat(" ", axis+1)
	}

	d.sb.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			d.sb.WriteString(sep)
		}
		if i == d.opts.edgeItems && n > 2*d.opts.edgeItems {
			d.sb.WriteString("...")
			i = n - d.opts.edgeItems - 1
			continue
		}

		if last {
			d.value(d.t.Data[offset+i])
		} else {
			d.dim(axis+1, offset+i*d.strides[axis])
		}
	}
	d.sb.WriteByte(']')
}

func (d *dumper) value(v float32) {
	text := strconv.FormatFloat(float64(v), 'f', d.opts.precision, 32)
	if !strings.HasPrefix(text, "-") {
		d.sb.WriteByte(' ')
	}
	d.sb.WriteString(text)
}
