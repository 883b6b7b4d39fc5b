// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs, setupLogging
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/moleinfer/moleinfer/envconfig"
	"github.com/moleinfer/moleinfer/logutil"

	_ "github.com/moleinfer/moleinfer/model/formats"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// setupLogging - Installiert den Default-Logger auf stderr mit MOLEINFER_DEBUG als Level
func setupLogging(cmd *cobra.Command, _ []string) {
	slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:              "moleinfer",
		Short:            "Skin lesion image classifier",
		SilenceUsage:     true,
		SilenceErrors:    true,
		PersistentPreRun: setupLogging,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	// Commands erstellen
	showCmd := newShowCmd()
	predictCmd := newPredictCmd()
	serveCmd := newServeCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()

	appendEnvDocs(showCmd, []envconfig.EnvVar{envVars["MOLEINFER_DEBUG"]})
	appendEnvDocs(predictCmd, []envconfig.EnvVar{
		envVars["MOLEINFER_DEBUG"],
		envVars["MOLEINFER_NUM_THREADS"],
		envVars["MOLEINFER_THRESHOLD"],
	})
	appendEnvDocs(serveCmd, []envconfig.EnvVar{
		envVars["MOLEINFER_DEBUG"],
		envVars["MOLEINFER_HOST"],
		envVars["MOLEINFER_MODEL"],
		envVars["MOLEINFER_ORIGINS"],
		envVars["MOLEINFER_NUM_THREADS"],
		envVars["MOLEINFER_THRESHOLD"],
		envVars["MOLEINFER_MAX_BATCH"],
		envVars["MOLEINFER_MAX_UPLOAD"],
		envVars["MOLEINFER_CACHE_SIZE"],
		envVars["MOLEINFER_NOCACHE"],
	})

	rootCmd.AddCommand(
		serveCmd,
		showCmd,
		predictCmd,
	)

	return rootCmd
}
