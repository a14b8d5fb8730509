// =============================================================================
// Reinf Transmitter - Serve Command
// =============================================================================
//
// COMMAND USAGE:
//   reinf serve [--addr :8080]
//
// ROUTES:
//   GET  /healthz
//   GET  /metrics
//   POST /api/extract-columns
//   POST /api/xls-to-xml
//   POST /api/validate-certificate
//   POST /api/transmit-xml
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/reinf-transmitter/internal/server"
)

// serveAddr overrides server.addr.
var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(
		&serveAddr,
		"addr",
		"",
		"Listen address (overrides server.addr)",
	)
}

func runServe() error {
	addr := mainConfig.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	srv := server.New(mainConfig)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		slog.Info("shutting down server", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
