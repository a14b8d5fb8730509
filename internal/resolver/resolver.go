// =============================================================================
// Reinf Transmitter - Field Resolver
// =============================================================================
//
// The resolver finds the raw value of a canonical field inside a row.
//
// RESOLUTION ORDER:
//   1. The user-provided column mapping: the first column (in row order)
//      mapped to the canonical field whose value is present.
//   2. The canonical field name itself, used as a column name.
//   3. Each synonym of the field, in order.
//
// When nothing matches, the empty sentinel is returned. Callers decide the
// default.
//
// =============================================================================

package resolver

import (
	"github.com/ginjaninja78/reinf-transmitter/internal/types"
)

// Resolve returns the value of canonicalField in row. It is a pure function
// of its inputs.
func Resolve(row types.Row, canonicalField string, fallbackNames []string, mapping types.ColumnMapping) types.Value {
	if len(mapping) > 0 {
		for _, cell := range row.Cells() {
			if mapping[cell.Column] != canonicalField {
				continue
			}
			if !cell.Value.IsEmpty() {
				return cell.Value
			}
		}
	}

	if v, ok := row.Get(canonicalField); ok && !v.IsEmpty() {
		return v
	}

	for _, name := range fallbackNames {
		if v, ok := row.Get(name); ok && !v.IsEmpty() {
			return v
		}
	}

	return types.Empty()
}

// =============================================================================
// FIELD CATALOGUE
// =============================================================================

// Field is a canonical field together with the column names it is known by
// in regulator spreadsheets.
type Field struct {
	// Name is the canonical field name (the Reinf tag name).
	Name string

	// Synonyms are tried in order after Name.
	Synonyms []string

	// Description is shown by the column-mapping API.
	Description string
}

// In resolves the field in row.
func (f Field) In(row types.Row, mapping types.ColumnMapping) types.Value {
	return Resolve(row, f.Name, f.Synonyms, mapping)
}

// Header and establishment fields shared by both event kinds.
var (
	Period = Field{
		Name:        "perApur",
		Synonyms:    []string{"Período de apuração", "Perodo_de_apurao", "Periodo", "Período"},
		Description: "Período de apuração (YYYY-MM)",
	}

	Establishment = Field{
		Name:        "nrInscEstab",
		Synonyms:    []string{"CNPJ do Estabelecimento", "CNPJ_do_Estabelecimento"},
		Description: "CNPJ do estabelecimento",
	}
)

// Fields of the per-row withholding event (R-4010 style).
var (
	BeneficiaryID = Field{
		Name:        "CNPJ_Benef",
		Synonyms:    []string{"CNPJ", "CNPJ da fonte pagadora", "CNPJ_da_fonte_pagadora"},
		Description: "CNPJ do beneficiário (obrigatório)",
	}

	BeneficiaryName = Field{
		Name:        "nmBenef",
		Synonyms:    []string{"Nome", "Nome do beneficiário", "Razão Social"},
		Description: "Nome do beneficiário (obrigatório)",
	}

	IncomeType = Field{
		Name:        "tpRend",
		Synonyms:    []string{"Nat Rend Rec p Bem", "Nat_Rend_Rec_p_Bem", "Natureza"},
		Description: "Tipo de rendimento (opcional, padrão: 1503)",
	}

	IncomeDescription = Field{
		Name:        "descRend",
		Synonyms:    []string{"Descrição", "Descricao"},
		Description: "Descrição do rendimento (opcional)",
	}

	GrossAmount = Field{
		Name:        "vlrBruto",
		Synonyms:    []string{"Valor bruto", "Valor_bruto", "Valor Bruto", "Valor", "Bruto"},
		Description: "Valor bruto do pagamento (obrigatório)",
	}

	TaxBase = Field{
		Name:        "vlrBaseIR",
		Synonyms:    []string{"Valor da base de cálculo do IRRF", "Valor_da_base_de_clculo_do_IRRF", "Base IR", "Base"},
		Description: "Base de cálculo do IR (opcional)",
	}

	TaxWithheld = Field{
		Name:        "vlrIR",
		Synonyms:    []string{"Valor do IRRF", "Valor_do_IRRF", "Valor IR", "IR", "IRRF"},
		Description: "Valor do IR retido (opcional)",
	}
)

// Fields of the grouped receipts event (R-4080 style).
var (
	SourceEntity = Field{
		Name:        "cnpjFont",
		Synonyms:    []string{"CNPJ da fonte pagadora", "CNPJ_da_fonte_pagadora"},
		Description: "CNPJ da fonte pagadora (obrigatório)",
	}

	NatureCode = Field{
		Name:        "natRend",
		Synonyms:    []string{"Nat Rend Rec p Bem", "Nat_Rend_Rec_p_Bem", "Natureza"},
		Description: "Natureza do rendimento (5 dígitos)",
	}

	OccurrenceDate = Field{
		Name:        "dtFG",
		Synonyms:    []string{"Data do recebimento", "Data_do_recebimento", "Data"},
		Description: "Data do fato gerador (YYYY-MM-DD)",
	}
)

// PerRowFields lists the mappable fields of the per-row event.
func PerRowFields() []Field {
	return []Field{BeneficiaryID, BeneficiaryName, GrossAmount, TaxBase, TaxWithheld, IncomeType, IncomeDescription}
}

// GroupedFields lists the mappable fields of the grouped event.
func GroupedFields() []Field {
	return []Field{SourceEntity, NatureCode, OccurrenceDate, GrossAmount, TaxBase, TaxWithheld}
}
