// routes_serve.go - Server-Start und Lifecycle-Management
// Enthaelt: Serve() - startet den HTTP-Server bis ctx endet oder SIGINT/SIGTERM eintrifft

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/moleinfer/moleinfer/envconfig"
)

// shutdownTimeout begrenzt das Warten auf laufende Anfragen beim Beenden
const shutdownTimeout = 10 * time.Second

// Serve beantwortet Anfragen auf ln bis ctx endet oder ein Signal eintrifft
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.addr = ln.Addr()
	slog.Info("server config", "env", envconfig.Values())

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srvr := &http.Server{
		Handler:           s.GenerateRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srvr.Serve(ln)
	}()

	if m := s.engine.Model(); m != nil {
		slog.Info(fmt.Sprintf("Listening on %s", ln.Addr()), "model", m.Name(), "format", m.Format())
	} else {
		slog.Info(fmt.Sprintf("Listening on %s", ln.Addr()), "model", "none")
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srvr.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
