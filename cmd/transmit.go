// =============================================================================
// Reinf Transmitter - Transmit Command
// =============================================================================
//
// COMMAND USAGE:
//   reinf transmit <event.xml> [--signed] [--environment production]
//
// The document is signed with the configured key store and sent to the
// configured environment. With --signed it is sent as is.
//
// EXIT STATUS:
//   0 when the Receita Federal accepts the document, 1 otherwise.
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/reinf-transmitter/internal/diag"
	"github.com/ginjaninja78/reinf-transmitter/internal/pipeline"
	"github.com/ginjaninja78/reinf-transmitter/internal/transmit"
)

// alreadySigned sends the document without signing it.
var alreadySigned bool

// responseOut receives the raw response body.
var responseOut string

var transmitCmd = &cobra.Command{
	Use:   "transmit <event.xml>",
	Short: "Sign an event document and send it to the Receita Federal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransmit(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(transmitCmd)

	transmitCmd.Flags().BoolVar(
		&alreadySigned,
		"signed",
		false,
		"The document is already signed; send it as is",
	)

	transmitCmd.Flags().StringVar(
		&responseOut,
		"response",
		"",
		"Write the raw response body to this path",
	)
}

func runTransmit(ctx context.Context, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	doc, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	bundle, err := openKeystore()
	if err != nil {
		return err
	}
	defer bundle.Destroy()

	env := mainConfig.Env()
	sink := diag.NewSlogSink(slog.Default())
	opts := []transmit.Option{
		transmit.WithTimeout(mainConfig.Transmission.Timeout),
		transmit.WithDiagnostics(sink),
	}

	var (
		result   transmit.Result
		attempts = 1
	)
	if alreadySigned {
		if err := bundle.CheckValidity(time.Now()); err != nil {
			return err
		}
		result = transmit.Transmit(ctx, doc, bundle, env, opts...)
	} else {
		p := pipeline.New(pipeline.Options{
			Environment:     env,
			Bundle:          bundle,
			Transmit:        true,
			TransmitOptions: opts,
			Retry: pipeline.RetryPolicy{
				MaxAttempts:    mainConfig.Transmission.MaxAttempts,
				InitialBackoff: mainConfig.Transmission.InitialBackoff,
			},
			Diagnostics: sink,
		})
		run := p.Submit(ctx, filepath.Base(path), doc)
		if run.Error != nil {
			return run.Error
		}
		result = *run.Transmission
		attempts = run.Attempts
	}

	if responseOut != "" && len(result.Body) > 0 {
		if err := os.WriteFile(responseOut, result.Body, 0o644); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}

	fmt.Printf("Environment:  %s\n", env)
	fmt.Printf("Outcome:      %s\n", result.Outcome)
	fmt.Printf("HTTP status:  %d\n", result.StatusCode)
	fmt.Printf("Attempts:     %d\n", attempts)
	fmt.Printf("Duration:     %s\n", result.Duration)

	switch result.Outcome {
	case transmit.Accepted:
		fmt.Printf("Protocol:     %s\n", result.ProtocolNumber)
		if result.StatusText != "" {
			fmt.Printf("Status:       %s\n", result.StatusText)
		}
		return nil
	case transmit.Rejected:
		return errors.New("document rejected: " + result.ValidationMessage)
	default:
		return errors.New("transmission failed: " + result.Message)
	}
}
