package ingest

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/reinf-transmitter/internal/types"
)

// ReadXLSX reads the first worksheet of a workbook. Cell types become value
// kinds: numeric cells with a date number format become Date, other numeric
// cells Number, everything else Text.
func ReadXLSX(r io.Reader, name string) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook: %w", err)
	}
	if isOLE2(data) {
		return nil, ErrLegacyWorkbook
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, ErrNoSheets
	}

	rows, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) == 0 || isRowEmpty(rows[0]) {
		return nil, ErrEmptySheet
	}

	headers := cleanHeaders(rows[0])
	reader := &sheetReader{file: f, sheet: sheetName, dateStyles: make(map[int]bool)}

	table := &Table{Source: name, Sheet: sheetName, Headers: headers}
	for i := 1; i < len(rows); i++ {
		raw := rows[i]
		if isRowEmpty(raw) {
			continue
		}

		row := types.NewRow()
		for col, header := range headers {
			v := types.Empty()
			if col < len(raw) {
				v = reader.value(col+1, i+1, raw[col])
			}
			row.Set(header, v)
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

type sheetReader struct {
	file       *excelize.File
	sheet      string
	dateStyles map[int]bool
}

// value types a raw cell.
func (s *sheetReader) value(col, rowNum int, raw string) types.Value {
	if strings.TrimSpace(raw) == "" {
		return types.Empty()
	}

	axis, err := excelize.CoordinatesToCellName(col, rowNum)
	if err != nil {
		return types.Text(strings.TrimSpace(raw))
	}

	cellType, err := s.file.GetCellType(s.sheet, axis)
	if err != nil {
		return types.Text(strings.TrimSpace(raw))
	}

	switch cellType {
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return types.Text(strings.TrimSpace(raw))
		}
		if s.isDateCell(axis) {
			if t, err := excelize.ExcelDateToTime(f, false); err == nil {
				return types.Date(t)
			}
		}
		return types.Number(f)
	case excelize.CellTypeDate:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return types.Date(t)
			}
		}
		return types.Text(raw)
	default:
		return types.Text(strings.TrimSpace(raw))
	}
}

// isDateCell reports whether the number format of axis displays a date.
func (s *sheetReader) isDateCell(axis string) bool {
	styleID, err := s.file.GetCellStyle(s.sheet, axis)
	if err != nil || styleID == 0 {
		return false
	}
	if isDate, ok := s.dateStyles[styleID]; ok {
		return isDate
	}

	isDate := false
	if style, err := s.file.GetStyle(styleID); err == nil && style != nil {
		isDate = isDateNumFmt(style.NumFmt, style.CustomNumFmt)
	}
	s.dateStyles[styleID] = isDate
	return isDate
}

// isDateNumFmt recognizes the built-in date formats and custom formats that
// contain day or year tokens.
func isDateNumFmt(id int, custom *string) bool {
	if custom != nil && *custom != "" {
		format := strings.ToLower(*custom)
		// Drop quoted literals and bracketed sections such as [Red] or [$-416].
		var b strings.Builder
		inQuote, inBracket := false, false
		for _, r := range format {
			switch {
			case r == '"':
				inQuote = !inQuote
			case inQuote:
			case r == '[':
				inBracket = true
			case r == ']':
				inBracket = false
			case !inBracket:
				b.WriteRune(r)
			}
		}
		f := b.String()
		return strings.ContainsAny(f, "dy") || (strings.Contains(f, "m") && strings.Contains(f, "/"))
	}

	switch {
	case id >= 14 && id <= 22:
		return true
	case id >= 27 && id <= 36:
		return true
	case id >= 45 && id <= 47:
		return true
	case id >= 50 && id <= 58:
		return true
	default:
		return false
	}
}
