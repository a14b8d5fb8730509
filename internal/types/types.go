// =============================================================================
// Reinf Transmitter - Shared Types
// =============================================================================
//
// This package contains the row model shared by the ingestion adapters, the
// field resolver, the normalizers and the event builders:
//   - Value      : a tagged cell value (text, number, date or empty)
//   - Row        : an ordered set of (column name, value) pairs
//   - ColumnMapping : source column name -> canonical field name
//
// Cell types are inferred once at ingestion and carried unchanged through the
// rest of the pipeline.
//
// =============================================================================

package types

import (
	"strconv"
	"time"
)

// =============================================================================
// VALUE VARIANT
// =============================================================================

// Kind identifies which variant a Value holds.
type Kind int

const (
	// KindEmpty is an absent or blank cell.
	KindEmpty Kind = iota

	// KindText is a textual cell.
	KindText

	// KindNumber is a numeric cell.
	KindNumber

	// KindDate is a date-typed cell.
	KindDate
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	default:
		return "empty"
	}
}

// Value is a raw cell value. The zero Value is empty.
type Value struct {
	kind Kind
	text string
	num  float64
	date time.Time
}

// Text returns a textual value.
func Text(s string) Value {
	return Value{kind: KindText, text: s}
}

// Number returns a numeric value.
func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// Date returns a date-typed value.
func Date(t time.Time) Value {
	return Value{kind: KindDate, date: t}
}

// Empty returns the absent sentinel.
func Empty() Value {
	return Value{}
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsEmpty reports whether v is the absent sentinel.
func (v Value) IsEmpty() bool { return v.kind == KindEmpty }

// AsText returns the text of a textual value.
func (v Value) AsText() (string, bool) { return v.text, v.kind == KindText }

// AsNumber returns the number of a numeric value.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsDate returns the time of a date-typed value.
func (v Value) AsDate() (time.Time, bool) { return v.date, v.kind == KindDate }

// String renders the value as text. Numbers never use exponent notation,
// dates use RFC 3339 and empty values render as "".
func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindDate:
		return v.date.Format(time.RFC3339)
	default:
		return ""
	}
}

// =============================================================================
// ROW
// =============================================================================

// Cell is a single (column name, value) pair of a Row.
type Cell struct {
	Column string
	Value  Value
}

// Row is an ordered set of cells with unique column names. Rows do not share
// a schema; a column absent from one row may be present in the next.
type Row struct {
	cells []Cell
	index map[string]int
}

// NewRow builds a row from cells. A repeated column name replaces the value
// of the earlier cell, keeping its position.
func NewRow(cells ...Cell) Row {
	r := Row{index: make(map[string]int, len(cells))}
	for _, c := range cells {
		r.Set(c.Column, c.Value)
	}
	return r
}

// Set assigns a value to a column, appending the column if it is new.
func (r *Row) Set(column string, v Value) {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[column]; ok {
		r.cells[i].Value = v
		return
	}
	r.index[column] = len(r.cells)
	r.cells = append(r.cells, Cell{Column: column, Value: v})
}

// Get returns the value stored under column and whether the column exists.
func (r Row) Get(column string) (Value, bool) {
	i, ok := r.index[column]
	if !ok {
		return Value{}, false
	}
	return r.cells[i].Value, true
}

// Cells returns the cells in column order. The slice must not be modified.
func (r Row) Cells() []Cell { return r.cells }

// Len returns the number of cells.
func (r Row) Len() int { return len(r.cells) }

// =============================================================================
// COLUMN MAPPING
// =============================================================================

// ColumnMapping maps a source column name to a canonical field name. It is not
// required to be injective; the resolver takes the first match in row order.
type ColumnMapping map[string]string

// =============================================================================
// COLUMN DISCOVERY
// =============================================================================

// ColumnInfo describes a column observed across a set of rows.
type ColumnInfo struct {
	// Name is the column name.
	Name string

	// FirstSeen is the index of the first row containing the column.
	FirstSeen int
}

// DiscoverColumns lists every column name in first-seen order.
func DiscoverColumns(rows []Row) []ColumnInfo {
	seen := make(map[string]struct{})
	var columns []ColumnInfo

	for i, row := range rows {
		for _, c := range row.cells {
			if _, ok := seen[c.Column]; ok {
				continue
			}
			seen[c.Column] = struct{}{}
			columns = append(columns, ColumnInfo{Name: c.Column, FirstSeen: i})
		}
	}

	return columns
}

// ColumnNames returns only the names of the given columns.
func ColumnNames(columns []ColumnInfo) []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return names
}
