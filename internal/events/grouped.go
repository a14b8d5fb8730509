package events

import (
	"context"

	"github.com/ginjaninja78/reinf-transmitter/internal/diag"
	"github.com/ginjaninja78/reinf-transmitter/internal/normalize"
	"github.com/ginjaninja78/reinf-transmitter/internal/resolver"
	"github.com/ginjaninja78/reinf-transmitter/internal/types"
)

// Skip reasons reported for rows the grouped builder drops.
const (
	ReasonInvalidEntity = "source entity CNPJ is not 14 digits"
	ReasonInvalidNature = "nature code is not 5 digits"
)

// BuildGrouped aggregates rows by (source entity, nature code, date) and
// emits one <infoRec> per distinct key.
//
// STRUCTURE:
//
//	<ideEstab>
//	  <tpInscEstab/><nrInscEstab/>
//	  <ideFont>                        one per entity, first-seen order
//	    <cnpjFont/>
//	    <ideRend>                      one per nature, first-seen order
//	      <natRend/>
//	      <infoRec>                    one per date, ascending
//	        <dtFG/><vlrBruto/><vlrBaseIR/><vlrIR/>
//	      </infoRec>
//	    </ideRend>
//	  </ideFont>
//	</ideEstab>
//
// Rows with an invalid entity or nature are skipped and counted. A row whose
// date cannot be normalized aborts the build.
func BuildGrouped(ctx context.Context, rows []types.Row, opts Options) (*Document, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	sink := diag.OrDiscard(opts.Diagnostics)
	header := opts.Header.withDefaults()
	mapping := opts.Mapping
	first := rows[0]

	period, err := resolvePeriod(first, opts)
	if err != nil {
		return nil, err
	}

	rawEstab := resolver.Establishment.In(first, mapping)
	if rawEstab.IsEmpty() {
		rawEstab = types.Text(header.Issuer)
	}
	estab := normalize.ToDigits(rawEstab)
	if len(estab) != 14 {
		return nil, &MissingEstablishmentError{Value: rawEstab.String()}
	}

	summary := Summary{
		Kind:     Grouped,
		Period:   period,
		RowsRead: len(rows),
	}

	agg := NewAggregator()
	for i, row := range rows {
		rowNum := i + 1

		entity := normalize.ToDigits(resolver.SourceEntity.In(row, mapping))
		if len(entity) != 14 {
			summary.skip(ctx, sink, rowNum, ReasonInvalidEntity, entity)
			continue
		}

		nature := normalize.ToNatureCode(resolver.NatureCode.In(row, mapping))
		if len(nature) != normalize.NatureCodeLength {
			summary.skip(ctx, sink, rowNum, ReasonInvalidNature, nature)
			continue
		}

		date, err := normalize.ToDate(resolver.OccurrenceDate.In(row, mapping))
		if err != nil {
			return nil, &RowError{Row: rowNum, Err: err}
		}

		agg.Add(Key{Entity: entity, Nature: nature, Date: date}, Totals{
			Gross:    normalize.ParseAmount(resolver.GrossAmount.In(row, mapping)),
			Base:     normalize.ParseAmount(resolver.TaxBase.In(row, mapping)),
			Withheld: normalize.ParseAmount(resolver.TaxWithheld.In(row, mapping)),
		})
	}

	if agg.Len() == 0 {
		sink.Record(ctx, diag.LevelWarn, "no rows survived validation; document has no receipts", diag.Fields{
			"rows_skipped": summary.RowsSkipped,
		})
	}

	id := EventID(estab, period, header.Sequence)
	root, evt := newEventRoot(Grouped, id, period, estab, header)

	estabEl := evt.Child("ideEstab").
		Leaf("tpInscEstab", "1").
		Leaf("nrInscEstab", estab)

	for _, entity := range agg.Entities() {
		font := estabEl.Child("ideFont").Leaf("cnpjFont", entity)

		for _, nature := range agg.Natures(entity) {
			rend := font.Child("ideRend").Leaf("natRend", nature)

			for _, date := range agg.Dates(entity, nature) {
				t := agg.Totals(Key{Entity: entity, Nature: nature, Date: date})
				rend.Child("infoRec").
					Leaf("dtFG", date).
					Leaf("vlrBruto", normalize.FormatMoney(t.Gross)).
					Leaf("vlrBaseIR", normalize.FormatMoney(t.Base)).
					Leaf("vlrIR", normalize.FormatMoney(t.Withheld))
			}
		}
	}

	summary.DistinctEntities = len(agg.Entities())
	summary.LeafNodes = agg.Len()

	return &Document{
		Kind:    Grouped,
		ID:      id,
		Root:    root,
		Summary: summary,
	}, nil
}

func (s *Summary) skip(ctx context.Context, sink diag.Sink, row int, reason, value string) {
	s.RowsSkipped++
	s.Skipped = append(s.Skipped, SkippedRow{Row: row, Reason: reason})
	sink.Record(ctx, diag.LevelWarn, "row skipped", diag.Fields{
		"row":    row,
		"reason": reason,
		"value":  value,
	})
}
