package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ginjaninja78/reinf-transmitter/internal/config"
	"github.com/ginjaninja78/reinf-transmitter/internal/diag"
	"github.com/ginjaninja78/reinf-transmitter/internal/ingest"
	"github.com/ginjaninja78/reinf-transmitter/pkg/utils"
)

// =============================================================================
// BATCH OPTIONS
// =============================================================================

// BatchOptions configures file processing.
type BatchOptions struct {
	// CSV configures CSV ingestion.
	CSV config.CSVSettings

	// OutputDir receives the documents. Empty disables writing.
	OutputDir string

	// NameFormat names output files (see utils.GenerateOutputFileName).
	// Default: "{event}_{period}_{uuid}.xml"
	NameFormat string

	// Files archives successful inputs. Optional.
	Files *utils.FileManager

	// MaxConcurrency bounds the files processed at once.
	// Default: 4
	MaxConcurrency int

	// DryRun builds (and signs) without writing, archiving or transmitting.
	DryRun bool
}

// =============================================================================
// FILE PROCESSING
// =============================================================================

// RunFile ingests path and runs the pipeline on its rows.
func (p *Pipeline) RunFile(ctx context.Context, path string, opts BatchOptions) Result {
	table, err := ingest.ReadFile(path, opts.CSV)
	if err != nil {
		return Result{FilePath: path, Source: filepath.Base(path), Error: fmt.Errorf("failed to read spreadsheet: %w", err)}
	}

	run := p
	if opts.DryRun && p.opts.Transmit {
		dry := p.opts
		dry.Transmit = false
		run = &Pipeline{opts: dry, sink: p.sink}
	}

	result := run.Run(ctx, table.Source, table.Rows)
	result.FilePath = path
	if result.Error != nil || opts.DryRun || opts.OutputDir == "" {
		return result
	}

	// =========================================================================
	// WRITE OUTPUT FILE
	// =========================================================================

	format := opts.NameFormat
	if format == "" {
		format = "{event}_{period}_{uuid}.xml"
	}
	name := utils.GenerateOutputFileName(format, map[string]string{
		"event":  result.Document.Kind.Code(),
		"period": result.Document.Summary.Period,
		"source": strings.TrimSuffix(table.Source, filepath.Ext(table.Source)),
	})

	outputPath, err := utils.WriteOutput(opts.OutputDir, name, result.XML)
	if err != nil {
		result.Success = false
		result.Error = fmt.Errorf("failed to write output: %w", err)
		return result
	}
	result.OutputFile = outputPath

	// =========================================================================
	// ARCHIVE INPUT
	// =========================================================================

	if result.Success && opts.Files != nil {
		if _, err := opts.Files.ArchiveInputFile(path); err != nil {
			// Archiving failures do not fail the document.
			p.sink.Record(ctx, diag.LevelWarn, "failed to archive input", diag.Fields{
				"file":  path,
				"error": err.Error(),
			})
		}
	}

	return result
}

// RunFiles processes paths concurrently, bounded by opts.MaxConcurrency.
// Results are returned in input order.
func (p *Pipeline) RunFiles(ctx context.Context, paths []string, opts BatchOptions) []Result {
	limit := opts.MaxConcurrency
	if limit <= 0 {
		limit = 4
	}

	results := make([]Result, len(paths))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = Result{FilePath: path, Source: filepath.Base(path), Error: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			results[i] = p.RunFile(ctx, path, opts)
		}(i, path)
	}

	wg.Wait()
	return results
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summarize converts batch results into a run summary.
func Summarize(runID string, start, end time.Time, results []Result) utils.ProcessingSummary {
	summary := utils.ProcessingSummary{
		RunID:      runID,
		StartTime:  start,
		EndTime:    end,
		TotalFiles: len(results),
	}

	for _, r := range results {
		summary.TotalRows += r.Stats.RowsProcessed
		summary.SkippedRows += r.Stats.RowsSkipped

		if !r.Success {
			summary.FailedFiles++
			summary.FailedFilesList = append(summary.FailedFilesList, utils.FailedFileInfo{
				InputFile:    r.FilePath,
				ErrorMessage: r.FailureReason(),
			})
			continue
		}

		summary.SuccessfulFiles++
		info := utils.ProcessedFileInfo{
			InputFile:   r.FilePath,
			OutputFile:  r.OutputFile,
			Rows:        r.Stats.RowsProcessed,
			SkippedRows: r.Stats.RowsSkipped,
			Signed:      r.Signed,
			ProcessTime: r.Stats.ProcessingTime,
		}
		if r.Document != nil {
			info.Event = r.Document.Kind.Code()
			info.EventID = r.Document.ID
		}
		if t := r.Transmission; t != nil {
			info.Outcome = t.Outcome.String()
			info.Protocol = t.ProtocolNumber
		}
		summary.ProcessedFiles = append(summary.ProcessedFiles, info)
	}

	return summary
}

// FailureReason describes why r did not succeed, empty on success.
func (r Result) FailureReason() string {
	switch {
	case r.Error != nil:
		return r.Error.Error()
	case r.Transmission != nil && !r.Success:
		t := r.Transmission
		if t.ValidationMessage != "" {
			return fmt.Sprintf("%s: %s", t.Outcome, t.ValidationMessage)
		}
		return fmt.Sprintf("%s: %s", t.Outcome, t.Message)
	default:
		return ""
	}
}
