// =============================================================================
// Reinf Transmitter - Sign And Verify Commands
// =============================================================================
//
// COMMAND USAGE:
//   reinf sign <event.xml> [--out signed.xml]
//   reinf verify <signed.xml>
//
// 'sign' appends an enveloped signature made with the configured key store.
// 'verify' checks the signature against the key-store certificate when one
// is configured, otherwise against the certificate embedded in the document.
//
// =============================================================================

package cmd

import (
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/reinf-transmitter/internal/signer"
)

// signOut is the signed document path.
var signOut string

var signCmd = &cobra.Command{
	Use:   "sign <event.xml>",
	Short: "Sign an event document with the configured key store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSign(args[0])
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <signed.xml>",
	Short: "Verify the signature of a signed event document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerify(args[0])
	},
}

func init() {
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)

	signCmd.Flags().StringVarP(
		&signOut,
		"out",
		"o",
		"",
		"Output path (default: <input>.signed.xml)",
	)
}

func runSign(path string) error {
	doc, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	bundle, err := openKeystore()
	if err != nil {
		return err
	}
	defer bundle.Destroy()

	if err := bundle.CheckValidity(time.Now()); err != nil {
		return err
	}

	signed, err := signer.SignWith(doc, bundle)
	if err != nil {
		return err
	}

	out := signOut
	if out == "" {
		out = strings.TrimSuffix(path, filepath.Ext(path)) + ".signed.xml"
	}
	if err := os.WriteFile(out, signed, 0o644); err != nil {
		return fmt.Errorf("failed to write signed document: %w", err)
	}

	fmt.Printf("Signed document written to %s\n", out)
	return nil
}

func runVerify(path string) error {
	signed, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	var trusted *x509.Certificate
	if mainConfig.Keystore.Path != "" {
		bundle, err := openKeystore()
		if err != nil {
			return err
		}
		trusted = bundle.Certificate
		bundle.Destroy()
	} else {
		if trusted, err = signer.EmbeddedCertificate(signed); err != nil {
			return err
		}
	}

	if err := signer.Verify(signed, trusted); err != nil {
		return err
	}

	fmt.Printf("Signature OK (signed by %s)\n", trusted.Subject.String())
	return nil
}
