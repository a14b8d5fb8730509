// =============================================================================
// Reinf Transmitter - Spreadsheet Ingestion
// =============================================================================
//
// This module turns uploaded spreadsheets into ordered rows.
//
// SUPPORTED FORMATS:
//   - .xlsx / .xlsm : first worksheet, first row is the header (excelize)
//   - .xls          : accepted when the file is an OOXML workbook; legacy
//                     BIFF workbooks are rejected with ErrLegacyWorkbook
//   - .csv          : configurable delimiter and multi-line headers
//
// ROW RULES:
//   - Header cells are trimmed; blank headers become "Column_N"; repeated
//     headers get a "_1", "_2" suffix
//   - Fully blank rows are skipped
//   - Blank cells are Empty values; every header column is present in
//     every row
//
// =============================================================================

package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ginjaninja78/reinf-transmitter/internal/config"
	"github.com/ginjaninja78/reinf-transmitter/internal/types"
)

var (
	// ErrUnsupportedFormat is returned for unknown file extensions.
	ErrUnsupportedFormat = errors.New("unsupported file type (expected .xls, .xlsx or .csv)")

	// ErrLegacyWorkbook is returned for binary .xls workbooks.
	ErrLegacyWorkbook = errors.New("legacy .xls workbook is not supported; save it as .xlsx")

	// ErrNoSheets is returned for a workbook without worksheets.
	ErrNoSheets = errors.New("the spreadsheet does not contain any worksheets")

	// ErrEmptySheet is returned when there is no header row.
	ErrEmptySheet = errors.New("spreadsheet is empty")
)

// Format is a spreadsheet format.
type Format int

const (
	FormatXLSX Format = iota
	FormatCSV
)

// DetectFormat selects the reader by file extension.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".xls":
		return FormatXLSX, nil
	case ".csv", ".txt":
		return FormatCSV, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(name))
	}
}

// Supported reports whether name has a supported extension.
func Supported(name string) bool {
	_, err := DetectFormat(name)
	return err == nil
}

// =============================================================================
// TABLE
// =============================================================================

// Table is an ingested sheet.
type Table struct {
	// Source is the file name the rows came from.
	Source string

	// Sheet is the worksheet name ("" for CSV).
	Sheet string

	// Headers are the cleaned header names in column order.
	Headers []string

	// Rows are the data rows in sheet order.
	Rows []types.Row
}

// Summary describes an ingested table.
type Summary struct {
	FileName    string             `json:"fileName"`
	SheetName   string             `json:"sheetName"`
	RowCount    int                `json:"rowCount"`
	ColumnCount int                `json:"columnCount"`
	Columns     []types.ColumnInfo `json:"-"`
	ColumnNames []string           `json:"columns"`
}

// Summary lists the columns observed across the rows.
func (t *Table) Summary() Summary {
	columns := types.DiscoverColumns(t.Rows)
	return Summary{
		FileName:    t.Source,
		SheetName:   t.Sheet,
		RowCount:    len(t.Rows),
		ColumnCount: len(columns),
		Columns:     columns,
		ColumnNames: types.ColumnNames(columns),
	}
}

// =============================================================================
// READERS
// =============================================================================

// Read ingests r, choosing the reader from name.
func Read(r io.Reader, name string, csvSettings config.CSVSettings) (*Table, error) {
	format, err := DetectFormat(name)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatCSV:
		return ReadCSV(r, name, csvSettings)
	default:
		return ReadXLSX(r, name)
	}
}

// ReadFile opens and ingests path.
func ReadFile(path string, csvSettings config.CSVSettings) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return Read(file, filepath.Base(path), csvSettings)
}

// =============================================================================
// HEADER AND ROW HELPERS
// =============================================================================

// cleanHeaders trims names, fills blanks and makes repeated names unique.
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	seen := make(map[string]int, len(headers))

	for i, header := range headers {
		header = strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
		if header == "" {
			header = fmt.Sprintf("Column_%d", i+1)
		}

		if n, ok := seen[header]; ok {
			seen[header] = n + 1
			header = fmt.Sprintf("%s_%d", header, n+1)
		} else {
			seen[header] = 0
		}

		cleaned[i] = header
	}

	return cleaned
}

// isRowEmpty checks if a row contains only empty values.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// isOLE2 reports whether data starts with the compound-document signature of
// a binary .xls workbook.
func isOLE2(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
}
