package events

import (
	"context"

	"github.com/ginjaninja78/reinf-transmitter/internal/diag"
	"github.com/ginjaninja78/reinf-transmitter/internal/normalize"
	"github.com/ginjaninja78/reinf-transmitter/internal/resolver"
	"github.com/ginjaninja78/reinf-transmitter/internal/types"
)

// Defaults applied when a per-row field is absent.
const (
	DefaultIncomeType        = "1503"
	DefaultIncomeDescription = "COMISSÃO ADMINISTRAÇÃO DE CARTÕES"
)

// BuildPerRow emits one <infoPgto> per row, preserving row order. Nothing is
// deduplicated or aggregated. Header fields are resolved once from the first
// row.
//
// STRUCTURE:
//
//	<infoPgto>
//	  <ideEstab><tpInscEstab/><nrInscEstab/></ideEstab>
//	  <ideBenef>
//	    <CNPJ_Benef/><nmBenef/>
//	    <infoRend><tpRend/><descRend/><vlrBruto/><vlrBaseIR/><vlrIR/></infoRend>
//	  </ideBenef>
//	</infoPgto>
func BuildPerRow(ctx context.Context, rows []types.Row, opts Options) (*Document, error) {
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

	issuer := normalize.ToDigits(resolver.Establishment.In(first, mapping))
	if issuer == "" {
		issuer = normalize.ToDigits(types.Text(header.Issuer))
	}
	if issuer == "" {
		sink.Record(ctx, diag.LevelWarn, "establishment CNPJ not found; contributor number left empty", nil)
	}

	id := EventID(issuer, period, header.Sequence)
	root, evt := newEventRoot(PerRow, id, period, issuer, header)

	for i, row := range rows {
		estab := normalize.ToDigits(resolver.Establishment.In(row, mapping))
		if estab == "" {
			estab = issuer
		}

		gross := resolver.GrossAmount.In(row, mapping)
		base := resolver.TaxBase.In(row, mapping)
		if base.IsEmpty() {
			base = gross
		}

		incomeType := resolver.IncomeType.In(row, mapping).String()
		if incomeType == "" {
			incomeType = DefaultIncomeType
		}
		incomeDesc := resolver.IncomeDescription.In(row, mapping).String()
		if incomeDesc == "" {
			incomeDesc = DefaultIncomeDescription
		}

		payment := evt.Child("infoPgto")
		payment.Child("ideEstab").
			Leaf("tpInscEstab", "1").
			Leaf("nrInscEstab", estab)

		benef := payment.Child("ideBenef").
			Leaf("CNPJ_Benef", normalize.ToDigits(resolver.BeneficiaryID.In(row, mapping))).
			Leaf("nmBenef", resolver.BeneficiaryName.In(row, mapping).String())

		benef.Child("infoRend").
			Leaf("tpRend", incomeType).
			Leaf("descRend", incomeDesc).
			Leaf("vlrBruto", normalize.ToMoney(gross)).
			Leaf("vlrBaseIR", normalize.ToMoney(base)).
			Leaf("vlrIR", normalize.ToMoney(resolver.TaxWithheld.In(row, mapping)))

		sink.Record(ctx, diag.LevelDebug, "payment row emitted", diag.Fields{"row": i + 1})
	}

	return &Document{
		Kind: PerRow,
		ID:   id,
		Root: root,
		Summary: Summary{
			Kind:         PerRow,
			Period:       period,
			RowsRead:     len(rows),
			PaymentNodes: len(rows),
		},
	}, nil
}
