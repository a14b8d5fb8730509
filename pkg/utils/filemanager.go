// =============================================================================
// Reinf Transmitter - File Manager Utility
// =============================================================================
//
// This module provides file management utilities for batch runs, including:
//   - Spreadsheet discovery in the input directory
//   - Input archival after a successful run
//   - Output file naming and writing
//   - Run summary generation
//
// ARCHIVING:
//   - A spreadsheet moves to the input archive once its document succeeded
//     (when an archive directory is configured)
//   - Failed inputs stay where they are
//   - Archived names never collide; repeats get a timestamp suffix
//
// =============================================================================

package utils

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations for batch runs.
type FileManager struct {
	// InputDir is the directory where spreadsheets are placed.
	InputDir string

	// OutputDir is the directory where event documents are written.
	OutputDir string

	// InputArchiveDir is the directory for archived inputs. Empty disables
	// archiving.
	InputArchiveDir string

	// ArchiveLayout is a time layout for archive subdirectories, e.g.
	// "2006/01" files a spreadsheet under input_archive/2025/01/.
	// Default: "" (flat)
	ArchiveLayout string

	// now is the archive clock.
	now func() time.Time
}

// NewFileManager creates a FileManager for the batch directories.
func NewFileManager(inputDir, outputDir, inputArchiveDir string) *FileManager {
	return &FileManager{
		InputDir:        inputDir,
		OutputDir:       outputDir,
		InputArchiveDir: inputArchiveDir,
		now:             time.Now,
	}
}

// EnsureDirectories creates the configured directories.
func (fm *FileManager) EnsureDirectories() error {
	for _, dir := range []string{fm.InputDir, fm.OutputDir, fm.InputArchiveDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

// DiscoverInputFiles lists the regular files directly under the input
// directory accepted by match, sorted by name. A nil match accepts every
// file.
func (fm *FileManager) DiscoverInputFiles(match func(name string) bool) ([]string, error) {
	entries, err := os.ReadDir(fm.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan input directory: %w", err)
	}

	var found []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if match == nil || match(name) {
			found = append(found, filepath.Join(fm.InputDir, name))
		}
	}

	sort.Strings(found)
	return found, nil
}

// =============================================================================
// FILE ARCHIVAL
// =============================================================================

// ArchiveInputFile moves an input file to the archive directory and returns
// its new path. Without an archive directory the file stays in place. An
// archived file of the same name is never overwritten: the new copy gets a
// timestamp suffix.
func (fm *FileManager) ArchiveInputFile(filePath string) (string, error) {
	if fm.InputArchiveDir == "" {
		return filePath, nil
	}

	target := fm.archivePath(filePath)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	if err := moveFile(filePath, target); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", filepath.Base(filePath), err)
	}
	return target, nil
}

func (fm *FileManager) archivePath(filePath string) string {
	now := time.Now
	if fm.now != nil {
		now = fm.now
	}
	ts := now()

	dir := fm.InputArchiveDir
	if fm.ArchiveLayout != "" {
		dir = filepath.Join(dir, filepath.FromSlash(ts.Format(fm.ArchiveLayout)))
	}

	name := filepath.Base(filePath)
	target := filepath.Join(dir, name)
	if FileExists(target) {
		ext := filepath.Ext(name)
		target = filepath.Join(dir, strings.TrimSuffix(name, ext)+"_"+ts.Format("20060102_150405")+ext)
	}
	return target
}

// =============================================================================
// OUTPUT FILES
// =============================================================================

// GenerateOutputFileName expands the placeholders of format. A missing
// ".xml" extension is appended.
//
// PLACEHOLDERS:
//
//	{uuid}      - A random UUID
//	{timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
//	{date}      - Current date (YYYYMMDD)
//	{time}      - Current time (HHMMSS)
//	{<key>}     - params[key], with path separators replaced
//
// EXAMPLE:
//
//	format: "{event}_{period}_{uuid}.xml"
//	params: {"event": "R-4080", "period": "2025-01"}
//	output: "R-4080_2025-01_a1b2c3d4-e5f6-7890-abcd-ef1234567890.xml"
func GenerateOutputFileName(format string, params map[string]string) string {
	now := time.Now()

	pairs := []string{
		"{uuid}", uuid.New().String(),
		"{timestamp}", now.Format("20060102_150405"),
		"{date}", now.Format("20060102"),
		"{time}", now.Format("150405"),
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		pairs = append(pairs, "{"+key+"}", sanitizeFileComponent(params[key]))
	}

	name := strings.NewReplacer(pairs...).Replace(format)
	if !strings.EqualFold(filepath.Ext(name), ".xml") {
		name += ".xml"
	}
	return name
}

// sanitizeFileComponent replaces path separators and other characters that
// are unsafe in file names.
func sanitizeFileComponent(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, s)
}

// WriteOutput writes data to name inside dir and returns the full path.
func WriteOutput(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write output file: %w", err)
	}
	return path, nil
}

// =============================================================================
// PROCESSING SUMMARY
// =============================================================================

// ProcessingSummary describes one batch run.
type ProcessingSummary struct {
	RunID           string
	StartTime       time.Time
	EndTime         time.Time
	TotalFiles      int
	SuccessfulFiles int
	FailedFiles     int
	TotalRows       int
	SkippedRows     int
	ProcessedFiles  []ProcessedFileInfo
	FailedFilesList []FailedFileInfo
}

// ProcessedFileInfo contains information about a file that produced an event
// document.
type ProcessedFileInfo struct {
	InputFile   string
	OutputFile  string
	Event       string
	EventID     string
	Rows        int
	SkippedRows int
	Signed      bool

	// Outcome is the transmission outcome, empty when nothing was sent.
	Outcome  string
	Protocol string

	ProcessTime time.Duration
}

// FailedFileInfo is a file that produced no accepted document.
type FailedFileInfo struct {
	InputFile    string
	ErrorMessage string
}

// WriteSummaryLog writes a run summary to the output directory and returns
// its path. The file is named after the run start time.
func WriteSummaryLog(summary ProcessingSummary, outputDir string) (string, error) {
	name := "processing_summary_" + summary.StartTime.Format("20060102_150405") + ".txt"
	path := filepath.Join(outputDir, name)

	var buf bytes.Buffer
	renderSummary(&buf, summary)

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write summary file: %w", err)
	}
	return path, nil
}

const rule = "--------------------------------------------------------------------------------\n"

func renderSummary(w io.Writer, s ProcessingSummary) {
	fmt.Fprintf(w, "Reinf Transmitter - Run %s\n", s.RunID)
	fmt.Fprint(w, rule)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Started:\t%s\n", s.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(tw, "Finished:\t%s (%s)\n", s.EndTime.Format("2006-01-02 15:04:05"), s.EndTime.Sub(s.StartTime))
	fmt.Fprintf(tw, "Files:\t%d (%d ok, %d failed)\n", s.TotalFiles, s.SuccessfulFiles, s.FailedFiles)
	fmt.Fprintf(tw, "Rows:\t%d (%d skipped)\n", s.TotalRows, s.SkippedRows)
	tw.Flush()

	if len(s.ProcessedFiles) > 0 {
		fmt.Fprint(w, "\nDocuments\n"+rule)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "INPUT\tEVENT\tID\tROWS\tSKIPPED\tSIGNED\tOUTCOME\tPROTOCOL\tOUTPUT")
		for _, pf := range s.ProcessedFiles {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
				filepath.Base(pf.InputFile), pf.Event, pf.EventID, pf.Rows, pf.SkippedRows,
				yesNo(pf.Signed), dash(pf.Outcome), dash(pf.Protocol), dash(pf.OutputFile))
		}
		tw.Flush()
	}

	if len(s.FailedFilesList) > 0 {
		fmt.Fprint(w, "\nFailures\n"+rule)
		for _, ff := range s.FailedFilesList {
			fmt.Fprintf(w, "%s: %s\n", filepath.Base(ff.InputFile), ff.ErrorMessage)
		}
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// moveFile renames src to dst. Cross-device moves fall back to copy and
// delete.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		in.Close()
		return err
	}

	_, copyErr := io.Copy(out, in)
	in.Close()
	if err := out.Close(); copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		os.Remove(dst)
		return copyErr
	}
	return os.Remove(src)
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
