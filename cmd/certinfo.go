// =============================================================================
// Reinf Transmitter - Certificate Info Command
// =============================================================================
//
// COMMAND USAGE:
//   reinf certinfo [keystore.pfx]
//
// Decodes the key store and prints its certificate. Fails when the
// certificate is expired or not yet valid.
//
// =============================================================================

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var certinfoCmd = &cobra.Command{
	Use:   "certinfo [keystore]",
	Short: "Describe the signing certificate and check its validity window",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			mainConfig.Keystore.Path = args[0]
		}
		return runCertInfo()
	},
}

func init() {
	rootCmd.AddCommand(certinfoCmd)
}

func runCertInfo() error {
	bundle, err := openKeystore()
	if err != nil {
		return err
	}
	defer bundle.Destroy()

	info := bundle.Info()
	fmt.Printf("Subject:      %s\n", info.Subject)
	fmt.Printf("Issuer:       %s\n", info.Issuer)
	fmt.Printf("Serial:       %s\n", info.SerialNumber)
	fmt.Printf("Valid from:   %s\n", info.ValidFrom.Format(time.RFC3339))
	fmt.Printf("Valid to:     %s\n", info.ValidTo.Format(time.RFC3339))
	fmt.Printf("Chain:        %d certificate(s)\n", len(bundle.Chain))

	if err := bundle.CheckValidity(time.Now()); err != nil {
		return err
	}
	fmt.Println("Certificate is valid.")
	return nil
}
