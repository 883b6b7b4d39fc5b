// cmd_serve.go - Serve Command
// Hauptfunktionen: RunServer
package cmd

import (
	"errors"
	"net"

	"github.com/spf13/cobra"

	"github.com/moleinfer/moleinfer/classify"
	"github.com/moleinfer/moleinfer/engine"
	"github.com/moleinfer/moleinfer/envconfig"
	"github.com/moleinfer/moleinfer/server"
)

// errNoModel wird zurueckgegeben wenn weder Argument noch MOLEINFER_MODEL gesetzt ist
var errNoModel = errors.New("no model given, pass a path or set MOLEINFER_MODEL")

// RunServer - Laedt das Modell und startet den HTTP-Server
func RunServer(cmd *cobra.Command, args []string) error {
	path := envconfig.Model()
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return errNoModel
	}

	e := engine.New(engine.WithThreads(envconfig.NumThreads()))
	if err := e.Load(path); err != nil {
		return err
	}

	s, err := server.New(e, classify.New(e, classify.WithThreshold(envconfig.Threshold())))
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	return s.Serve(cmd.Context(), ln)
}
