// cmd_show.go - Show Command und Modell-Info Anzeige
// Hauptfunktionen: ShowHandler, showInfo
package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/moleinfer/moleinfer/model"
)

// maxNameWidth begrenzt Layer-Namen und Labels in Tabellen
const maxNameWidth = 32

// ShowHandler - Zeigt Modell-Informationen an
func ShowHandler(cmd *cobra.Command, args []string) error {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return err
	}

	m, err := model.Load(args[0])
	if err != nil {
		return err
	}

	return showInfo(m, verbose, cmd.OutOrStdout())
}

// showInfo - Gibt Modell, Labels und Layer als Tabellen aus
func showInfo(m *model.Model, verbose bool, w io.Writer) error {
	tableRender := func(header string, rows func() [][]string) {
		fmt.Fprintln(w, " ", header)
		table := tablewriter.NewWriter(w)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		table.SetNoWhiteSpace(true)
		table.SetTablePadding("    ")
		table.AppendBulk(rows())
		table.Render()
		fmt.Fprintln(w)
	}

	tableRender("Model", func() (rows [][]string) {
		rows = append(rows, []string{"", "name", truncate(m.Name(), maxNameWidth)})
		rows = append(rows, []string{"", "format", m.Format()})
		if m.FileSize() > 0 {
			rows = append(rows, []string{"", "size", humanize.Bytes(uint64(m.FileSize()))})
		}
		rows = append(rows, []string{"", "input", formatShape(m.InputShape())})
		rows = append(rows, []string{"", "classes", strconv.Itoa(m.NumClasses())})
		rows = append(rows, []string{"", "layers", strconv.Itoa(m.NumLayers())})
		rows = append(rows, []string{"", "parameters", humanize.Comma(int64(m.ParameterCount()))})
		return
	})

	if labels := m.Labels(); len(labels) > 0 {
		tableRender("Labels", func() (rows [][]string) {
			for i, label := range labels {
				rows = append(rows, []string{"", strconv.Itoa(i), truncate(label, maxNameWidth)})
			}
			return
		})
	}

	tableRender("Layers", func() (rows [][]string) {
		for i, l := range m.Layers() {
			row := []string{"", strconv.Itoa(i), l.Op.String(), truncate(l.Name, maxNameWidth), formatShape(l.OutShape)}
			if verbose {
				row = append(row, layerDetails(l))
			}
			if n := l.ParameterCount(); n > 0 {
				row = append(row, humanize.Comma(int64(n)))
			}
			rows = append(rows, row)
		}
		return
	})

	return nil
}

// layerDetails - Beschreibt Gewichte und Hyperparameter eines Layers
func layerDetails(l model.Layer) string {
	var parts []string
	for _, name := range model.TensorParams {
		if t := l.Tensor(name); t != nil {
			parts = append(parts, name+"="+formatShape(t.Shape))
		}
	}

	switch l.Op {
	case model.OpConv2D:
		parts = append(parts,
			fmt.Sprintf("stride=%d,%d", l.Stride[0], l.Stride[1]),
			fmt.Sprintf("groups=%d", l.Groups))
	case model.OpMaxPool2D, model.OpAvgPool2D:
		parts = append(parts,
			fmt.Sprintf("kernel=%d,%d", l.Kernel[0], l.Kernel[1]),
			fmt.Sprintf("stride=%d,%d", l.Stride[0], l.Stride[1]))
	case model.OpBatchNorm2D:
		parts = append(parts, fmt.Sprintf("eps=%g", l.Epsilon))
	case model.OpLeakyReLU:
		parts = append(parts, fmt.Sprintf("alpha=%g", l.Alpha))
	}

	return strings.Join(parts, " ")
}
