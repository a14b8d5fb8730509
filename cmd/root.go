// =============================================================================
// Reinf Transmitter - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. Every other command
// is attached to it.
//
// COBRA CLI STRUCTURE:
//   rootCmd (reinf)
//   ├── processCmd  (reinf process)   build every spreadsheet in input_dir
//   ├── signCmd     (reinf sign)      sign an event document
//   ├── verifyCmd   (reinf verify)    verify a signed document
//   ├── transmitCmd (reinf transmit)  sign and send a document
//   ├── certinfoCmd (reinf certinfo)  describe a key store
//   ├── serveCmd    (reinf serve)     run the HTTP API
//   └── versionCmd  (reinf version)
//
// CONFIGURATION:
//   Before any subcommand runs the root command:
//   1. Loads a .env file, if present
//   2. Loads the main configuration file
//   3. Sets up logging
//
// =============================================================================

package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/reinf-transmitter/internal/config"
	"github.com/ginjaninja78/reinf-transmitter/internal/keystore"
	"github.com/ginjaninja78/reinf-transmitter/internal/logging"
	"github.com/ginjaninja78/reinf-transmitter/internal/transmit"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
var cfgFile string

// envFile is loaded into the process environment before the configuration.
var envFile string

// verbose forces debug logging.
var verbose bool

// keystorePath overrides keystore.path from the configuration.
var keystorePath string

// environment overrides the configured environment.
var environment string

// mainConfig is loaded once by the root command.
var mainConfig *config.MainConfig

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "reinf",
	Short: "Reinf Transmitter - Build, sign and transmit withholding events",
	Long: `Reinf Transmitter turns spreadsheets of payments and receipts into
EFD-Reinf event documents, signs them with an ICP-Brasil certificate and
sends them to the Receita Federal over mutual TLS.

Key Features:
  - XLSX and CSV ingestion with column synonyms
  - Per-row (R-4010) and grouped (R-4080) event builders
  - Enveloped XML-DSig signatures (RSA-SHA256)
  - Sandbox and production transmission with retry on connection errors
  - Concurrent batch processing and an HTTP API

Example Usage:
  reinf process                        # Build every spreadsheet in the input directory
  reinf process --sign --transmit      # Build, sign and send them
  reinf sign event.xml                 # Sign a single document
  reinf serve                          # Start the HTTP API`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	// ==========================================================================
	// PERSISTENT FLAGS
	// ==========================================================================

	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		config.DefaultPath,
		"Path to the main configuration file",
	)

	rootCmd.PersistentFlags().StringVar(
		&envFile,
		"env-file",
		".env",
		"Path to a .env file with secrets such as the key-store password",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable verbose output for debugging",
	)

	rootCmd.PersistentFlags().StringVar(
		&keystorePath,
		"keystore",
		"",
		"Path to the .pfx/.p12 key store (overrides keystore.path)",
	)

	rootCmd.PersistentFlags().StringVar(
		&environment,
		"environment",
		"",
		"Target environment: sandbox or production (overrides environment)",
	)
}

// initConfig loads the .env file and the configuration, then sets up
// logging. A missing default config file yields the defaults; an explicit
// --config must exist.
func initConfig(cmd *cobra.Command) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg, err := config.LoadMainConfig(cfgFile, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}

	if keystorePath != "" {
		cfg.Keystore.Path = keystorePath
	}
	if environment != "" {
		if _, err := transmit.ParseEnvironment(environment); err != nil {
			return err
		}
		cfg.Environment = environment
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logging.Setup(level, cfg.LogFormat, nil)

	mainConfig = cfg
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// openKeystore opens the configured key store with the password read from
// the configured environment variable. The caller destroys the bundle.
func openKeystore() (*keystore.Bundle, error) {
	if mainConfig.Keystore.Path == "" {
		return nil, errors.New("no key store configured (set keystore.path or --keystore)")
	}

	password := mainConfig.KeystorePassword()
	if password == "" {
		return nil, fmt.Errorf("key-store password is empty (set %s)", mainConfig.Keystore.PasswordEnv)
	}

	bundle, err := keystore.OpenFile(mainConfig.Keystore.Path, password)
	if err != nil {
		return nil, err
	}
	return bundle, nil
}
