// =============================================================================
// Reinf Transmitter - Main Entry Point
// =============================================================================
//
// USAGE:
//   reinf process     - Build event documents from the input directory
//   reinf sign        - Sign an event document
//   reinf verify      - Verify a signed event document
//   reinf transmit    - Sign and send an event document
//   reinf certinfo    - Describe the signing certificate
//   reinf serve       - Run the HTTP API
//   reinf version     - Display the application version
//
// ARCHITECTURE:
//   - cmd/       : CLI command definitions (Cobra)
//   - internal/  : ingestion, event builders, signing, transmission, API
//   - pkg/       : file handling shared by the batch commands
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/reinf-transmitter/cmd"
)

func main() {
	cmd.Execute()
}
