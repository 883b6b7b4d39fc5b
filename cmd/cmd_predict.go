// cmd_predict.go - Predict Command: Bilder lokal klassifizieren
// Hauptfunktionen: PredictHandler, classifyFiles, renderResults
package cmd

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/moleinfer/moleinfer/classify"
	"github.com/moleinfer/moleinfer/engine"
	"github.com/moleinfer/moleinfer/envconfig"
	"github.com/moleinfer/moleinfer/vision"
)

// prediction ist das Ergebnis fuer eine Bilddatei
type prediction struct {
	file   string
	scores []float32
	result classify.Result
}

var backgrounds = map[string]color.Color{
	"black": color.Black,
	"white": color.White,
}

// PredictHandler - Laedt das Modell und klassifiziert alle Bilddateien
func PredictHandler(cmd *cobra.Command, args []string) error {
	raw, err := cmd.Flags().GetBool("raw")
	if err != nil {
		return err
	}
	threshold, err := cmd.Flags().GetFloat32("threshold")
	if err != nil {
		return err
	}
	crop, err := cmd.Flags().GetFloat64("crop")
	if err != nil {
		return err
	}
	normalize, err := cmd.Flags().GetString("normalize")
	if err != nil {
		return err
	}
	background, err := cmd.Flags().GetString("background")
	if err != nil {
		return err
	}
	labels, err := cmd.Flags().GetStringSlice("labels")
	if err != nil {
		return err
	}
	riskLabel, err := cmd.Flags().GetString("risk-label")
	if err != nil {
		return err
	}
	batch, err := cmd.Flags().GetInt("batch")
	if err != nil {
		return err
	}
	noProgress, err := cmd.Flags().GetBool("noprogress")
	if err != nil {
		return err
	}

	if batch <= 0 {
		return fmt.Errorf("--batch must be positive, got %d", batch)
	}
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("--threshold must be between 0 and 1, got %g", threshold)
	}

	e := engine.New(engine.WithThreads(envconfig.NumThreads()))
	if err := e.Load(args[0]); err != nil {
		return err
	}

	norm, err := vision.ParseNormalization(normalize)
	if err != nil {
		return fmt.Errorf("--normalize: %w", err)
	}
	bg, ok := backgrounds[strings.ToLower(background)]
	if !ok {
		return fmt.Errorf("--background must be black or white, got %q", background)
	}

	opts := []vision.PreprocessOption{vision.WithNormalization(norm), vision.WithBackground(bg)}
	if crop > 0 {
		opts = append(opts, vision.WithCenterCrop(crop))
	}
	pre, err := vision.NewPreprocessor(e.Model().InputShape(), opts...)
	if err != nil {
		return err
	}

	copts := []classify.Option{classify.WithThreshold(threshold)}
	if len(labels) > 0 {
		copts = append(copts, classify.WithLabels(labels...))
	}
	if riskLabel != "" {
		copts = append(copts, classify.WithRiskLabel(riskLabel))
	}
	c := classify.New(e, copts...)

	files := args[1:]
	var bar *progressbar.ProgressBar
	if !noProgress && len(files) > batch && isTerminal(cmd.ErrOrStderr()) {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription("classifying"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionClearOnFinish(),
		)
	}

	predictions, err := classifyFiles(cmd.Context(), c, e, pre, files, batch, raw, bar)
	if err != nil {
		return err
	}

	if raw {
		renderScores(cmd.OutOrStdout(), predictions)
	} else {
		renderResults(cmd.OutOrStdout(), predictions)
	}
	return nil
}

// classifyFiles - Verarbeitet die Dateien in Bloecken von batch Bildern
func classifyFiles(ctx context.Context, c *classify.Classifier, e *engine.Engine, pre *vision.Preprocessor, files []string, batch int, raw bool, bar *progressbar.ProgressBar) ([]prediction, error) {
	predictions := make([]prediction, 0, len(files))
	for chunk := range slices.Chunk(files, batch) {
		data := make([][]byte, len(chunk))
		for i, file := range chunk {
			b, err := os.ReadFile(file)
			if err != nil {
				return nil, err
			}
			data[i] = b
		}

		images, err := pre.Batch(data)
		if err != nil {
			var imgErr *vision.ImageError
			if errors.As(err, &imgErr) {
				return nil, fmt.Errorf("%s: %w", chunk[imgErr.Index], imgErr.Err)
			}
			return nil, err
		}

		scores, err := e.Predict(ctx, images, len(chunk))
		if err != nil {
			return nil, err
		}

		var results []classify.Result
		if !raw {
			if results, err = c.Interpret(scores); err != nil {
				return nil, err
			}
		}

		for i, file := range chunk {
			p := prediction{file: file, scores: scores[i]}
			if results != nil {
				p.result = results[i]
			}
			predictions = append(predictions, p)
		}

		if bar != nil {
			bar.Add(len(chunk)) //nolint:errcheck
		}
	}

	if bar != nil {
		bar.Finish() //nolint:errcheck
	}
	return predictions, nil
}

// renderResults - Tabelle mit Label, Konfidenz und Risiko je Datei
func renderResults(w io.Writer, predictions []prediction) {
	var data [][]string
	for _, p := range predictions {
		flag := ""
		if p.result.Risky {
			flag = "!"
		}
		data = append(data, []string{
			truncate(filepath.Base(p.file), maxNameWidth),
			truncate(p.result.Label, maxNameWidth),
			formatPercent(p.result.Confidence),
			formatPercent(p.result.Risk),
			flag,
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"FILE", "LABEL", "CONFIDENCE", "RISK", ""})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

// renderScores - Rohe Ergebnisvektoren, eine Zeile je Datei
func renderScores(w io.Writer, predictions []prediction) {
	for _, p := range predictions {
		values := make([]string, len(p.scores))
		for i, v := range p.scores {
			values[i] = fmt.Sprintf("%.6f", v)
		}
		fmt.Fprintf(w, "%s\t%s\n", p.file, strings.Join(values, " "))
	}
}

// isTerminal - Meldet ob w ein Terminal ist
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
