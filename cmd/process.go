// =============================================================================
// Reinf Transmitter - Process Command
// =============================================================================
//
// This file defines the 'process' command, the batch entry point. It builds
// one event document per spreadsheet in the input directory.
//
// COMMAND USAGE:
//   reinf process [flags]
//
// FLAGS:
//   --dry-run   : Build (and sign) without writing, archiving or transmitting
//   --file      : Process a single file instead of the input directory
//   --event     : Event kind (perRow/evt4010 or grouped/evt4080)
//   --sign      : Sign every document with the configured key store
//   --transmit  : Sign and transmit every document (implies --sign)
//   --watch     : Keep running and process spreadsheets as they arrive
//
// PROCESSING PIPELINE:
//   1. Load the column mapping and open the key store when needed
//   2. Discover spreadsheets in the input directory
//   3. For each file (concurrently, bounded by max_concurrency):
//      a. Read the spreadsheet into rows
//      b. Build the event document
//      c. Sign and transmit, when requested
//      d. Write the output file
//      e. Archive the input on success
//   4. With --watch, process every new spreadsheet until interrupted
//   5. Write the run summary
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/reinf-transmitter/internal/config"
	"github.com/ginjaninja78/reinf-transmitter/internal/diag"
	"github.com/ginjaninja78/reinf-transmitter/internal/events"
	"github.com/ginjaninja78/reinf-transmitter/internal/ingest"
	"github.com/ginjaninja78/reinf-transmitter/internal/keystore"
	"github.com/ginjaninja78/reinf-transmitter/internal/pipeline"
	"github.com/ginjaninja78/reinf-transmitter/internal/transmit"
	"github.com/ginjaninja78/reinf-transmitter/internal/types"
	"github.com/ginjaninja78/reinf-transmitter/pkg/utils"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

// dryRun builds without writing, archiving or transmitting.
var dryRun bool

// filePath is a single file to process instead of the input directory.
var filePath string

// eventKind overrides event_kind from the configuration.
var eventKind string

// signDocs signs every document.
var signDocs bool

// transmitDocs signs and transmits every document.
var transmitDocs bool

// watchInput keeps processing new files after the initial batch.
var watchInput bool

// =============================================================================
// PROCESS COMMAND DEFINITION
// =============================================================================

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Build event documents from every spreadsheet in the input directory",
	Long: `The process command scans the input directory for .xlsx and .csv files and
builds one event document per file. Files are processed concurrently and
independently: an error in one file does not affect the others.

On success:
  - The document is written to the output directory
  - The spreadsheet is moved to the input archive (when configured)

On error:
  - The spreadsheet stays in the input directory
  - The reason is listed in the run summary

With --transmit a document counts as successful only when the Receita
Federal accepts it.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runProcess(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().BoolVar(
		&dryRun,
		"dry-run",
		false,
		"Build (and sign) without writing, archiving or transmitting",
	)

	processCmd.Flags().StringVar(
		&filePath,
		"file",
		"",
		"Process a single file instead of the input directory",
	)

	processCmd.Flags().StringVar(
		&eventKind,
		"event",
		"",
		"Event kind: perRow (evt4010) or grouped (evt4080)",
	)

	processCmd.Flags().BoolVar(
		&signDocs,
		"sign",
		false,
		"Sign every document with the configured key store",
	)

	processCmd.Flags().BoolVar(
		&transmitDocs,
		"transmit",
		false,
		"Sign and transmit every document (implies --sign)",
	)

	processCmd.Flags().BoolVar(
		&watchInput,
		"watch",
		false,
		"Keep running and process spreadsheets as they arrive",
	)
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

func runProcess(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	startTime := time.Now()
	runID := uuid.New().String()
	logger := slog.Default().With("run_id", runID)

	// =========================================================================
	// STEP 1: PREPARE THE PIPELINE
	// =========================================================================

	kind := mainConfig.Kind()
	if eventKind != "" {
		var err error
		if kind, err = events.ParseKind(eventKind); err != nil {
			return err
		}
	}

	var mapping types.ColumnMapping
	if mainConfig.MappingFile != "" {
		m, err := config.LoadColumnMapping(mainConfig.MappingFile)
		if err != nil {
			return err
		}
		mapping = m
	}

	var bundle *keystore.Bundle
	if signDocs || transmitDocs {
		b, err := openKeystore()
		if err != nil {
			return err
		}
		defer b.Destroy()
		bundle = b
	}

	env := mainConfig.Env()
	p := pipeline.New(pipeline.Options{
		Kind:            kind,
		Mapping:         mapping,
		Header:          mainConfig.EventHeader(env),
		Environment:     env,
		Bundle:          bundle,
		Transmit:        transmitDocs,
		TransmitOptions: []transmit.Option{transmit.WithTimeout(mainConfig.Transmission.Timeout)},
		Retry: pipeline.RetryPolicy{
			MaxAttempts:    mainConfig.Transmission.MaxAttempts,
			InitialBackoff: mainConfig.Transmission.InitialBackoff,
		},
		Diagnostics: diag.NewSlogSink(logger),
	})

	// =========================================================================
	// STEP 2: DISCOVER INPUT FILES
	// =========================================================================

	files := utils.NewFileManager(mainConfig.InputDir, mainConfig.OutputDir, mainConfig.InputArchiveDir)
	files.ArchiveLayout = mainConfig.ArchiveLayout
	if err := files.EnsureDirectories(); err != nil {
		return err
	}

	var inputFiles []string
	if filePath != "" {
		inputFiles = []string{filePath}
	} else {
		found, err := files.DiscoverInputFiles(ingest.Supported)
		if err != nil {
			return err
		}
		inputFiles = found
	}

	if len(inputFiles) == 0 && !watchInput {
		fmt.Println("No spreadsheets found in the input directory.")
		return nil
	}

	logger.Info("processing files",
		"files", len(inputFiles),
		"event", kind.Code(),
		"environment", env,
		"sign", bundle != nil,
		"transmit", transmitDocs,
		"dry_run", dryRun,
	)

	// =========================================================================
	// STEP 3: PROCESS FILES CONCURRENTLY
	// =========================================================================

	batch := pipeline.BatchOptions{
		CSV:            mainConfig.CSV,
		OutputDir:      mainConfig.OutputDir,
		NameFormat:     mainConfig.OutputNameFormat,
		Files:          files,
		MaxConcurrency: mainConfig.MaxConcurrency,
		DryRun:         dryRun,
	}

	results := p.RunFiles(ctx, inputFiles, batch)
	for _, result := range results {
		printResult(result)
	}

	// =========================================================================
	// STEP 4: WATCH FOR NEW FILES
	// =========================================================================

	if watchInput {
		watcher, err := utils.NewInputWatcher(mainConfig.InputDir, ingest.Supported, utils.DefaultDebounce, logger)
		if err != nil {
			return err
		}
		defer watcher.Close()
		if err := watcher.Start(ctx); err != nil {
			return err
		}

		fmt.Println("Watching for new spreadsheets (Ctrl+C to stop)...")
		for path := range watcher.Files() {
			result := p.RunFile(ctx, path, batch)
			printResult(result)
			results = append(results, result)
		}
	}

	// =========================================================================
	// STEP 5: WRITE SUMMARY
	// =========================================================================

	summary := pipeline.Summarize(runID, startTime, time.Now(), results)

	fmt.Println("\n=== Processing Complete ===")
	fmt.Printf("Total files:     %d\n", summary.TotalFiles)
	fmt.Printf("Successful:      %d\n", summary.SuccessfulFiles)
	fmt.Printf("Errors:          %d\n", summary.FailedFiles)
	fmt.Printf("Rows:            %d (%d skipped)\n", summary.TotalRows, summary.SkippedRows)
	fmt.Printf("Time elapsed:    %s\n", summary.EndTime.Sub(summary.StartTime))

	if !dryRun {
		path, err := utils.WriteSummaryLog(summary, mainConfig.OutputDir)
		if err != nil {
			logger.Warn("failed to write summary", "error", err)
		} else {
			fmt.Printf("Summary:         %s\n", path)
		}
	}

	if summary.FailedFiles > 0 {
		return fmt.Errorf("%d of %d file(s) failed", summary.FailedFiles, summary.TotalFiles)
	}
	return nil
}

// printResult prints one line per processed file.
func printResult(result pipeline.Result) {
	name := filepath.Base(result.FilePath)
	switch {
	case !result.Success:
		fmt.Printf("  ✗ %s: %s\n", name, result.FailureReason())
	case result.Transmission != nil:
		fmt.Printf("  ✓ %s -> %s (protocol %s)\n", name, result.OutputFile, result.Transmission.ProtocolNumber)
	case result.OutputFile != "":
		fmt.Printf("  ✓ %s -> %s\n", name, result.OutputFile)
	default:
		fmt.Printf("  ✓ %s\n", name)
	}
}
