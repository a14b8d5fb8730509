package events

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/reinf-transmitter/internal/diag"
	"github.com/ginjaninja78/reinf-transmitter/internal/normalize"
	"github.com/ginjaninja78/reinf-transmitter/internal/types"
	"github.com/ginjaninja78/reinf-transmitter/internal/xmlwriter"
)

const estab = "12345678000199"

func cell(col string, v types.Value) types.Cell {
	return types.Cell{Column: col, Value: v}
}

func receipt(entity, nature, date string, gross float64) types.Row {
	return types.NewRow(
		cell("perApur", types.Text("2025-01")),
		cell("nrInscEstab", types.Text(estab)),
		cell("cnpjFont", types.Text(entity)),
		cell("natRend", types.Text(nature)),
		cell("dtFG", types.Text(date)),
		cell("vlrBruto", types.Number(gross)),
		cell("vlrBaseIR", types.Number(gross)),
		cell("vlrIR", types.Number(gross/100)),
	)
}

func texts(elements []*xmlwriter.Element, child string) []string {
	var out []string
	for _, e := range elements {
		if c := e.Find(child); c != nil {
			out = append(out, c.Text)
		}
	}
	return out
}

// =============================================================================
// KIND AND ID
// =============================================================================

func TestParseKind(t *testing.T) {
	for _, s := range []string{"perRow", "evt4010", "R-4010"} {
		k, err := ParseKind(s)
		require.NoError(t, err, s)
		assert.Equal(t, PerRow, k)
	}
	for _, s := range []string{"grouped", "evt4080", "R-4080"} {
		k, err := ParseKind(s)
		require.NoError(t, err, s)
		assert.Equal(t, Grouped, k)
	}

	_, err := ParseKind("R-2010")
	assert.Error(t, err)

	assert.Equal(t, "evtRetRec", Grouped.EventTag())
	assert.Equal(t, "evt4010", PerRow.EventTag())
}

func TestEventID(t *testing.T) {
	assert.Equal(t, "ID1234567800019920250100001", EventID(estab, "2025-01", 1))
	assert.Equal(t, "ID12345678000199000000042", EventID(estab, "", 42))

	long := EventID(strings.Repeat("9", 40), "2025-01", 1)
	assert.Len(t, long, 36)
	assert.True(t, strings.HasPrefix(long, "ID999"))
}

// =============================================================================
// PER-ROW
// =============================================================================

func TestBuildPerRow(t *testing.T) {
	rows := []types.Row{
		types.NewRow(
			cell("perApur", types.Text("2025-01")),
			cell("nrInscEstab", types.Text("12.345.678/0001-99")),
			cell("CNPJ_Benef", types.Text("11.222.333/0001-81")),
			cell("nmBenef", types.Text("Acme & Filhos")),
			cell("vlrBruto", types.Number(1234.5)),
			cell("vlrIR", types.Text("18,52")),
		),
		types.NewRow(
			cell("CNPJ_Benef", types.Text("99888777000166")),
			cell("nmBenef", types.Text("Beta")),
			cell("vlrBruto", types.Text("10")),
			cell("vlrBaseIR", types.Text("8")),
			cell("tpRend", types.Number(1601)),
			cell("descRend", types.Text("Outros")),
		),
	}

	doc, err := BuildPerRow(context.Background(), rows, Options{Header: Header{TpAmb: "2"}})
	require.NoError(t, err)

	evt := doc.Root.Find("evt4010")
	require.NotNil(t, evt)
	assert.Equal(t, doc.ID, evt.AttrValue("id"))
	assert.Equal(t, "ID1234567800019920250100001", doc.ID)

	assert.Equal(t, "2025-01", evt.Path("ideEvento", "perApur").Text)
	assert.Equal(t, "2", evt.Path("ideEvento", "tpAmb").Text)
	assert.Equal(t, "1", evt.Path("ideEvento", "indRetif").Text)
	assert.Equal(t, "1.0", evt.Path("ideEvento", "verProc").Text)
	assert.Equal(t, "12345678", evt.Path("ideContri", "nrInsc").Text)

	payments := evt.FindAll("infoPgto")
	require.Len(t, payments, 2)

	first := payments[0]
	assert.Equal(t, estab, first.Path("ideEstab", "nrInscEstab").Text)
	assert.Equal(t, "11222333000181", first.Path("ideBenef", "CNPJ_Benef").Text)
	assert.Equal(t, "Acme & Filhos", first.Path("ideBenef", "nmBenef").Text)
	rend := first.Path("ideBenef", "infoRend")
	assert.Equal(t, DefaultIncomeType, rend.Find("tpRend").Text)
	assert.Equal(t, DefaultIncomeDescription, rend.Find("descRend").Text)
	assert.Equal(t, "1234,50", rend.Find("vlrBruto").Text)
	assert.Equal(t, "1234,50", rend.Find("vlrBaseIR").Text, "base falls back to gross")
	assert.Equal(t, "18,52", rend.Find("vlrIR").Text)

	second := payments[1]
	assert.Equal(t, estab, second.Path("ideEstab", "nrInscEstab").Text, "row without establishment uses header")
	rend = second.Path("ideBenef", "infoRend")
	assert.Equal(t, "1601", rend.Find("tpRend").Text)
	assert.Equal(t, "Outros", rend.Find("descRend").Text)
	assert.Equal(t, "8,00", rend.Find("vlrBaseIR").Text)
	assert.Equal(t, "0,00", rend.Find("vlrIR").Text)

	assert.Equal(t, 2, doc.Summary.PaymentNodes)
	assert.Equal(t, 2, doc.Summary.RowsAccepted())
	assert.Contains(t, string(doc.Bytes()), "Acme &amp; Filhos")
}

func TestBuildPerRowMapping(t *testing.T) {
	rows := []types.Row{types.NewRow(
		cell("Competência", types.Date(time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC))),
		cell("ColA", types.Number(500)),
		cell("Valor Bruto", types.Number(1)),
	)}
	mapping := types.ColumnMapping{"ColA": "vlrBruto", "Competência": "perApur"}

	doc, err := BuildPerRow(context.Background(), rows, Options{
		Mapping: mapping,
		Header:  Header{Issuer: "98765432000110"},
	})
	require.NoError(t, err)

	evt := doc.Root.Find("evt4010")
	assert.Equal(t, "2025-04", evt.Path("ideEvento", "perApur").Text)
	assert.Equal(t, "98765432", evt.Path("ideContri", "nrInsc").Text)
	assert.Equal(t, "500,00", evt.Path("infoPgto", "ideBenef", "infoRend", "vlrBruto").Text)
}

func TestBuildPerRowPeriodFallback(t *testing.T) {
	rows := []types.Row{types.NewRow(cell("vlrBruto", types.Number(1)))}

	_, err := BuildPerRow(context.Background(), rows, Options{})
	assert.ErrorIs(t, err, ErrMissingPeriod)

	doc, err := BuildPerRow(context.Background(), rows, Options{Header: Header{Period: "2024-12"}})
	require.NoError(t, err)
	assert.Equal(t, "2024-12", doc.Summary.Period)
}

func TestBuildNoRows(t *testing.T) {
	_, err := BuildPerRow(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrNoRows)
	_, err = BuildGrouped(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrNoRows)
}

// =============================================================================
// GROUPED
// =============================================================================

func TestBuildGroupedAggregates(t *testing.T) {
	entityA := "11111111000111"
	rows := []types.Row{
		receipt(entityA, "15001", "2025-01-05", 100),
		receipt(entityA, "15001", "2025-01-05", 50),
	}

	doc, err := BuildGrouped(context.Background(), rows, Options{})
	require.NoError(t, err)

	evt := doc.Root.Find("evtRetRec")
	require.NotNil(t, evt)
	assert.Equal(t, "ID1234567800019920250100001", evt.AttrValue("id"))
	assert.Equal(t, estab, evt.Path("ideEstab", "nrInscEstab").Text)

	recs := evt.Path("ideEstab", "ideFont", "ideRend").FindAll("infoRec")
	require.Len(t, recs, 1)
	assert.Equal(t, "2025-01-05", recs[0].Find("dtFG").Text)
	assert.Equal(t, "150,00", recs[0].Find("vlrBruto").Text)
	assert.Equal(t, "150,00", recs[0].Find("vlrBaseIR").Text)
	assert.Equal(t, "1,50", recs[0].Find("vlrIR").Text)

	assert.Equal(t, 1, doc.Summary.DistinctEntities)
	assert.Equal(t, 1, doc.Summary.LeafNodes)
}

func TestBuildGroupedOrdering(t *testing.T) {
	entityA := "11111111000111"
	entityB := "22222222000122"
	rows := []types.Row{
		receipt(entityB, "15002", "2025-01-20", 1),
		receipt(entityA, "15001", "2025-01-09", 1),
		receipt(entityB, "15001", "2025-01-20", 1),
		receipt(entityB, "15002", "2025-01-03", 1),
		receipt(entityB, "15002", "2025-01-20", 1),
	}

	doc, err := BuildGrouped(context.Background(), rows, Options{})
	require.NoError(t, err)

	fonts := doc.Root.Path("evtRetRec", "ideEstab").FindAll("ideFont")
	assert.Equal(t, []string{entityB, entityA}, texts(fonts, "cnpjFont"))

	natures := fonts[0].FindAll("ideRend")
	assert.Equal(t, []string{"15002", "15001"}, texts(natures, "natRend"))

	dates := natures[0].FindAll("infoRec")
	assert.Equal(t, []string{"2025-01-03", "2025-01-20"}, texts(dates, "dtFG"))
	assert.Equal(t, "2,00", dates[1].Find("vlrBruto").Text)

	assert.Equal(t, 2, doc.Summary.DistinctEntities)
	assert.Equal(t, 4, doc.Summary.LeafNodes)
}

func TestBuildGroupedDistinctDates(t *testing.T) {
	entityA := "11111111000111"
	rows := []types.Row{
		receipt(entityA, "15001", "2025-01-05", 100),
		receipt(entityA, "15001", "2025-01-06", 50),
	}

	doc, err := BuildGrouped(context.Background(), rows, Options{})
	require.NoError(t, err)

	recs := doc.Root.Path("evtRetRec", "ideEstab", "ideFont", "ideRend").FindAll("infoRec")
	require.Len(t, recs, 2)
	assert.Equal(t, "100,00", recs[0].Find("vlrBruto").Text)
	assert.Equal(t, "50,00", recs[1].Find("vlrBruto").Text)
}

func TestBuildGroupedSkipsInvalidRows(t *testing.T) {
	sink := &diag.Collector{}
	rows := []types.Row{
		receipt("11111111000111", "15001", "2025-01-05", 10),
		receipt("1234567890", "15001", "2025-01-05", 10),
		receipt("11111111000111", "150011", "2025-01-05", 10),
		receipt("11111111000111", "", "2025-01-05", 10),
	}

	doc, err := BuildGrouped(context.Background(), rows, Options{Diagnostics: sink})
	require.NoError(t, err)

	assert.Equal(t, 3, doc.Summary.RowsSkipped)
	assert.Equal(t, 1, doc.Summary.RowsAccepted())
	require.Len(t, doc.Summary.Skipped, 3)
	assert.Equal(t, SkippedRow{Row: 2, Reason: ReasonInvalidEntity}, doc.Summary.Skipped[0])
	assert.Equal(t, ReasonInvalidNature, doc.Summary.Skipped[1].Reason)
	assert.Equal(t, 3, sink.Count(diag.LevelWarn))

	recs := doc.Root.Path("evtRetRec", "ideEstab", "ideFont", "ideRend").FindAll("infoRec")
	assert.Len(t, recs, 1)
	assert.Equal(t, "10,00", recs[0].Find("vlrBruto").Text)
}

func TestBuildGroupedShortNatureIsPadded(t *testing.T) {
	rows := []types.Row{receipt("11111111000111", "1503", "2025-01-05", 10)}

	doc, err := BuildGrouped(context.Background(), rows, Options{})
	require.NoError(t, err)
	assert.Equal(t, "01503", doc.Root.Path("evtRetRec", "ideEstab", "ideFont", "ideRend", "natRend").Text)
}

func TestBuildGroupedBadDateAborts(t *testing.T) {
	rows := []types.Row{
		receipt("11111111000111", "15001", "2025-01-05", 10),
		receipt("11111111000111", "15001", "05/01/25", 10),
	}

	doc, err := BuildGrouped(context.Background(), rows, Options{})
	require.Error(t, err)
	assert.Nil(t, doc)

	var rowErr *RowError
	require.True(t, errors.As(err, &rowErr))
	assert.Equal(t, 2, rowErr.Row)

	var dateErr *normalize.DateFormatError
	assert.True(t, errors.As(err, &dateErr))
}

func TestBuildGroupedMissingEstablishment(t *testing.T) {
	row := types.NewRow(
		cell("perApur", types.Text("2025-01")),
		cell("nrInscEstab", types.Text("123")),
		cell("cnpjFont", types.Text("11111111000111")),
	)

	_, err := BuildGrouped(context.Background(), []types.Row{row}, Options{})
	var estabErr *MissingEstablishmentError
	require.True(t, errors.As(err, &estabErr))
	assert.Equal(t, "123", estabErr.Value)

	noEstab := types.NewRow(cell("perApur", types.Text("2025-01")))
	_, err = BuildGrouped(context.Background(), []types.Row{noEstab}, Options{})
	assert.True(t, errors.As(err, &estabErr))

	doc, err := BuildGrouped(context.Background(), []types.Row{noEstab}, Options{Header: Header{Issuer: estab}})
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Summary.LeafNodes)
}

func TestBuildDeterministic(t *testing.T) {
	rows := []types.Row{
		receipt("22222222000122", "15002", "2025-01-20", 1),
		receipt("11111111000111", "15001", "2025-01-09", 1),
	}

	a, err := Build(context.Background(), Grouped, rows, Options{})
	require.NoError(t, err)
	b, err := Build(context.Background(), Grouped, rows, Options{})
	require.NoError(t, err)
	assert.Equal(t, a.Bytes(), b.Bytes())
}

// =============================================================================
// AGGREGATOR
// =============================================================================

func TestAggregator(t *testing.T) {
	agg := NewAggregator()
	k := Key{Entity: "e", Nature: "n", Date: "2025-01-02"}
	one := Totals{Gross: normalize.ParseAmount(types.Text("0,1"))}

	agg.Add(k, one)
	agg.Add(k, one)
	agg.Add(k, one)

	assert.Equal(t, 1, agg.Len())
	assert.Equal(t, "0,30", normalize.FormatMoney(agg.Totals(k).Gross))
	assert.Equal(t, []string{"e"}, agg.Entities())
	assert.Equal(t, []string{"n"}, agg.Natures("e"))
	assert.Equal(t, []string{"2025-01-02"}, agg.Dates("e", "n"))
}
