// cmd_builders.go - Command-Builder fuer alle CLI-Befehle
// Hauptfunktionen: newShowCmd, newPredictCmd, newServeCmd
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/moleinfer/moleinfer/envconfig"
)

// newShowCmd - Erstellt den show Command
func newShowCmd() *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show MODEL",
		Short: "Show information for a model file",
		Args:  cobra.ExactArgs(1),
		RunE:  ShowHandler,
	}

	showCmd.Flags().BoolP("verbose", "v", false, "Show per-layer tensor shapes")

	return showCmd
}

// newPredictCmd - Erstellt den predict Command
func newPredictCmd() *cobra.Command {
	predictCmd := &cobra.Command{
		Use:   "predict MODEL IMAGE...",
		Short: "Classify images with a model file",
		Args:  cobra.MinimumNArgs(2),
		RunE:  PredictHandler,
	}

	predictCmd.Flags().Bool("raw", false, "Print raw score vectors instead of labels")
	predictCmd.Flags().Float32("threshold", envconfig.Threshold(), "Risk probability above which an image is flagged")
	predictCmd.Flags().Float64("crop", 0, "Center crop fraction applied before resizing (0 = none)")
	predictCmd.Flags().String("normalize", "imagenet", "Input normalization (imagenet, symmetric, unit)")
	predictCmd.Flags().String("background", "black", "Background for transparent images (black, white)")
	predictCmd.Flags().StringSlice("labels", nil, "Override the class labels of the model")
	predictCmd.Flags().String("risk-label", "", "Label whose probability is compared with --threshold (default \"malignant\")")
	predictCmd.Flags().Int("batch", int(envconfig.MaxBatch()), "Images per forward pass")
	predictCmd.Flags().Bool("noprogress", false, "Disable the progress bar")

	return predictCmd
}

// newServeCmd - Erstellt den serve Command
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve [MODEL]",
		Aliases: []string{"start"},
		Short:   "Start the moleinfer HTTP server",
		Args:    cobra.MaximumNArgs(1),
		RunE:    RunServer,
	}
}
