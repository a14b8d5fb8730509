package ingest

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/ginjaninja78/reinf-transmitter/internal/config"
	"github.com/ginjaninja78/reinf-transmitter/internal/types"
)

// ReadCSV reads a delimited file. Every value is Text; the normalizers parse
// amounts and dates from text.
//
// PARSING PROCESS:
//  1. Sniff the delimiter when none is configured
//  2. Read and merge header rows (multi-line headers)
//  3. Read data rows starting from the configured data start row
func ReadCSV(r io.Reader, name string, settings config.CSVSettings) (*Table, error) {
	reader := bufio.NewReader(r)

	if settings.HeaderRows <= 0 {
		settings.HeaderRows = 1
	}
	if settings.DataStartRow <= settings.HeaderRows {
		settings.DataStartRow = settings.HeaderRows + 1
	}

	comma, err := delimiter(reader, settings.Delimiter)
	if err != nil {
		return nil, err
	}

	csvReader := csv.NewReader(reader)
	csvReader.Comma = comma
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true

	allRows, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(allRows) < settings.HeaderRows || isRowEmpty(allRows[0]) {
		return nil, ErrEmptySheet
	}

	headers := mergeHeaders(allRows[:settings.HeaderRows])

	table := &Table{Source: name, Headers: headers}
	for i := settings.DataStartRow - 1; i < len(allRows); i++ {
		raw := allRows[i]
		if isRowEmpty(raw) {
			continue
		}

		row := types.NewRow()
		for col, header := range headers {
			v := types.Empty()
			if col < len(raw) {
				if s := strings.TrimSpace(raw[col]); s != "" {
					v = types.Text(s)
				}
			}
			row.Set(header, v)
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

// delimiter resolves the configured delimiter. An empty setting picks ";"
// when the first line has more semicolons than commas.
func delimiter(reader *bufio.Reader, setting string) (rune, error) {
	switch setting {
	case "\\t", "\t", "tab", "TAB":
		return '\t', nil
	case "|", "pipe", "PIPE":
		return '|', nil
	case ";", "semicolon":
		return ';', nil
	case ",", "comma":
		return ',', nil
	case "":
	default:
		return []rune(setting)[0], nil
	}

	peek, err := reader.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return 0, fmt.Errorf("failed to read CSV: %w", err)
	}
	line := string(peek)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';', nil
	}
	return ',', nil
}

// mergeHeaders joins the non-empty values of each column across the header
// rows with a space.
//
// Example:
//
//	Row 1: "Valor", "",      "CNPJ"
//	Row 2: "Bruto", "IRRF",  "Fonte"
//	Result: "Valor Bruto", "IRRF", "CNPJ Fonte"
func mergeHeaders(headerRows [][]string) []string {
	if len(headerRows) == 1 {
		return cleanHeaders(headerRows[0])
	}

	maxCols := 0
	for _, row := range headerRows {
		if len(row) > maxCols {
			maxCols = len(row)
		}
	}

	headers := make([]string, maxCols)
	for col := 0; col < maxCols; col++ {
		var parts []string
		for _, row := range headerRows {
			if col < len(row) {
				if value := strings.TrimSpace(row[col]); value != "" {
					parts = append(parts, value)
				}
			}
		}
		headers[col] = strings.Join(parts, " ")
	}

	return cleanHeaders(headers)
}
