// =============================================================================
// Reinf Transmitter - Event Builders
// =============================================================================
//
// This package turns rows into the canonical event document.
//
// EVENT KINDS:
//   - perRow  (R-4010, <evt4010>)   : one <infoPgto> per input row, in order
//   - grouped (R-4080, <evtRetRec>) : rows aggregated by
//                                     (source entity, nature code, date)
//
// BUILD PIPELINE (both kinds):
//   1. Resolve header fields once from the first row (or caller defaults)
//   2. Resolve and normalize every row
//   3. Emit the element tree under <Reinf>
//   4. Report summary statistics
//
// The root event element always carries the "id" attribute the signature is
// anchored to.
//
// =============================================================================

package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ginjaninja78/reinf-transmitter/internal/diag"
	"github.com/ginjaninja78/reinf-transmitter/internal/normalize"
	"github.com/ginjaninja78/reinf-transmitter/internal/resolver"
	"github.com/ginjaninja78/reinf-transmitter/internal/types"
	"github.com/ginjaninja78/reinf-transmitter/internal/xmlwriter"
)

// =============================================================================
// EVENT KIND
// =============================================================================

// Kind selects the event builder.
type Kind string

const (
	// PerRow emits one payment node per row.
	PerRow Kind = "perRow"

	// Grouped aggregates receipts by source entity, nature and date.
	Grouped Kind = "grouped"
)

// ParseKind accepts the kind names and the regulator event codes.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "perrow", "per-row", "evt4010", "r-4010", "r4010", "4010":
		return PerRow, nil
	case "grouped", "evt4080", "evtretrec", "r-4080", "r4080", "4080":
		return Grouped, nil
	default:
		return "", fmt.Errorf("unknown event kind %q (expected perRow or grouped)", s)
	}
}

// EventTag is the name of the root event element.
func (k Kind) EventTag() string {
	if k == Grouped {
		return "evtRetRec"
	}
	return "evt4010"
}

// Code is the regulator event code.
func (k Kind) Code() string {
	if k == Grouped {
		return "R-4080"
	}
	return "R-4010"
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoRows is returned when there is nothing to convert.
	ErrNoRows = errors.New("no rows to convert")

	// ErrMissingPeriod is returned when no period of assessment can be resolved.
	ErrMissingPeriod = errors.New("period of assessment (perApur) could not be resolved")
)

// MissingEstablishmentError rejects a grouped run whose establishment
// identifier does not reduce to 14 digits.
type MissingEstablishmentError struct {
	Value string
}

func (e *MissingEstablishmentError) Error() string {
	return fmt.Sprintf("establishment CNPJ %q is not a 14-digit identifier", e.Value)
}

// RowError attributes an input error to a data row (1-based).
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// =============================================================================
// OPTIONS
// =============================================================================

// Header holds the event header values not taken from the rows.
type Header struct {
	// IndRetif is the rectification indicator. Default: "1" (original).
	IndRetif string

	// TpAmb is the environment flag. "1" production, "2" restricted.
	// Default: "1"
	TpAmb string

	// ProcEmi is the emission process. Default: "1"
	ProcEmi string

	// VerProc is the emitting software version. Default: "1.0"
	VerProc string

	// Period is used when the first row carries no period.
	Period string

	// Issuer is used when the first row carries no establishment CNPJ.
	Issuer string

	// Sequence is the numeric suffix of the event id. Default: 1
	Sequence int
}

func (h Header) withDefaults() Header {
	if h.IndRetif == "" {
		h.IndRetif = "1"
	}
	if h.TpAmb == "" {
		h.TpAmb = "1"
	}
	if h.ProcEmi == "" {
		h.ProcEmi = "1"
	}
	if h.VerProc == "" {
		h.VerProc = "1.0"
	}
	if h.Sequence <= 0 {
		h.Sequence = 1
	}
	return h
}

// Options configures a build.
type Options struct {
	// Mapping resolves source columns to canonical fields. Optional.
	Mapping types.ColumnMapping

	// Header supplies header values and defaults.
	Header Header

	// Diagnostics receives per-row diagnostics. Optional.
	Diagnostics diag.Sink
}

// =============================================================================
// RESULT
// =============================================================================

// SkippedRow records a row dropped by the grouped builder.
type SkippedRow struct {
	Row    int
	Reason string
}

// Summary reports what a build did.
type Summary struct {
	Kind   Kind
	Period string

	// RowsRead is the number of input rows.
	RowsRead int

	// RowsSkipped is the number of rows dropped (grouped kind only).
	RowsSkipped int

	// Skipped lists the dropped rows in input order.
	Skipped []SkippedRow

	// PaymentNodes is the number of <infoPgto> nodes (per-row kind).
	PaymentNodes int

	// DistinctEntities is the number of <ideFont> nodes (grouped kind).
	DistinctEntities int

	// LeafNodes is the number of <infoRec> nodes (grouped kind).
	LeafNodes int
}

// RowsAccepted is the number of rows that contributed to the document.
func (s Summary) RowsAccepted() int {
	return s.RowsRead - s.RowsSkipped
}

// Document is an unsigned event document.
type Document struct {
	Kind    Kind
	ID      string
	Root    *xmlwriter.Element
	Summary Summary
}

// Bytes renders the document. The result is deterministic.
func (d *Document) Bytes() []byte {
	return xmlwriter.Render(d.Root)
}

// Build dispatches to the builder for kind.
func Build(ctx context.Context, kind Kind, rows []types.Row, opts Options) (*Document, error) {
	switch kind {
	case PerRow:
		return BuildPerRow(ctx, rows, opts)
	case Grouped:
		return BuildGrouped(ctx, rows, opts)
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// EventID derives the event id: "ID" + issuer digits + period digits (or
// "0000") + a five-digit sequence, truncated to 36 characters.
func EventID(issuer, period string, sequence int) string {
	periodDigits := normalize.ToDigits(types.Text(period))
	if periodDigits == "" {
		periodDigits = "0000"
	}

	id := fmt.Sprintf("ID%s%s%05d", normalize.ToDigits(types.Text(issuer)), periodDigits, sequence)
	if len(id) > 36 {
		id = id[:36]
	}
	return id
}

// issuerRoot is the contributor number reported in <ideContri>: the first
// eight digits of a CNPJ, or the identifier unchanged otherwise.
func issuerRoot(issuer string) string {
	if len(issuer) == 14 {
		return issuer[:8]
	}
	return issuer
}

// resolvePeriod reads the period from the first row, falling back to the
// header default.
func resolvePeriod(first types.Row, opts Options) (string, error) {
	period := normalize.ToPeriod(resolver.Period.In(first, opts.Mapping))
	if period == "" {
		period = normalize.ToPeriod(types.Text(opts.Header.Period))
	}
	if period == "" {
		return "", ErrMissingPeriod
	}
	return period, nil
}

// newEventRoot builds <Reinf><evt id=...><ideEvento/><ideContri/></evt>.
func newEventRoot(kind Kind, id, period, issuer string, h Header) (*xmlwriter.Element, *xmlwriter.Element) {
	root := xmlwriter.NewElement("Reinf")
	evt := root.Child(kind.EventTag()).SetAttr("id", id)

	evt.Child("ideEvento").
		Leaf("indRetif", h.IndRetif).
		Leaf("perApur", period).
		Leaf("tpAmb", h.TpAmb).
		Leaf("procEmi", h.ProcEmi).
		Leaf("verProc", h.VerProc)

	evt.Child("ideContri").
		Leaf("tpInsc", "1").
		Leaf("nrInsc", issuerRoot(issuer))

	return root, evt
}
