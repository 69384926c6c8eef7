package reconciliation

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgersync/internal/ledger"
	"ledgersync/internal/mirror"
	"ledgersync/pkg/models"
	"ledgersync/pkg/services"
)

var (
	march = models.MustParsePeriod("2025-03")
	april = models.MustParsePeriod("2025-04")
)

type fakeTotals []models.PeriodTotals

func (f fakeTotals) AggregateTotals(context.Context) ([]models.PeriodTotals, error) {
	return f, nil
}

type fakeMirror struct {
	rows  map[models.Period][]services.MirrorAmount
	reads map[models.Period]int
	err   error
}

func (f *fakeMirror) MirrorAmounts(context.Context, string, models.Period, int64, int64) (*models.MirrorResult, error) {
	return nil, errors.New("read-only")
}

func (f *fakeMirror) ReadAmounts(_ context.Context, period models.Period) ([]services.MirrorAmount, error) {
	if f.reads == nil {
		f.reads = map[models.Period]int{}
	}
	f.reads[period]++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[period], nil
}

func TestFindDiscrepancies_RoundTrip(t *testing.T) {
	store := fakeTotals{{Company: "Acme", Period: march, Subtotal: 10000, Tax: 1000, NoteCount: 3}}
	m := &fakeMirror{rows: map[models.Period][]services.MirrorAmount{
		march: {{Company: "Acme Co.", Row: 3, Subtotal: 10000, Tax: 1000}},
	}}

	got, err := NewReconciler(store, m, Options{}).FindDiscrepancies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)

	m.rows[march][0].Tax = 900
	got, err = NewReconciler(store, m, Options{}).FindDiscrepancies(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Discrepancy{
		Company:        "Acme",
		MirrorCompany:  "Acme Co.",
		Period:         march,
		DBSubtotal:     10000,
		DBTax:          1000,
		MirrorSubtotal: 10000,
		MirrorTax:      900,
	}, got[0])
	assert.Equal(t, int64(-100), got[0].TaxDiff())
	assert.Zero(t, got[0].SubtotalDiff())
}

func TestFindDiscrepancies_UnmatchedComparesAgainstZero(t *testing.T) {
	store := fakeTotals{
		{Company: "Initech", Period: march, Subtotal: 500, Tax: 50},
		{Company: "Hooli", Period: march},
	}
	m := &fakeMirror{rows: map[models.Period][]services.MirrorAmount{
		march: {{Company: "Acme Co.", Subtotal: 1, Tax: 0}},
	}}

	got, err := NewReconciler(store, m, Options{}).FindDiscrepancies(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Initech", got[0].Company)
	assert.False(t, got[0].Matched())
	assert.Zero(t, got[0].MirrorSubtotal)
}

func TestFindDiscrepancies_OneReadPerPeriod(t *testing.T) {
	store := fakeTotals{
		{Company: "Acme", Period: march, Subtotal: 1},
		{Company: "Globex", Period: march, Subtotal: 2},
		{Company: "Acme", Period: april, Subtotal: 3},
	}
	m := &fakeMirror{rows: map[models.Period][]services.MirrorAmount{}}

	_, err := NewReconciler(store, m, Options{}).FindDiscrepancies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[models.Period]int{march: 1, april: 1}, m.reads)
}

func TestFindDiscrepancies_MirrorOnly(t *testing.T) {
	store := fakeTotals{{Company: "Acme", Period: march, Subtotal: 100, Tax: 10}}
	m := &fakeMirror{rows: map[models.Period][]services.MirrorAmount{
		march: {
			{Company: "Acme Co.", Subtotal: 100, Tax: 10},
			{Company: "Globex Corp.", Subtotal: 300, Tax: 30},
			{Company: "Empty Ltd.", Subtotal: 0, Tax: 0},
		},
	}}

	got, err := NewReconciler(store, m, Options{}).FindDiscrepancies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = NewReconciler(store, m, Options{IncludeMirrorOnly: true}).FindDiscrepancies(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].MirrorOnly)
	assert.Equal(t, "Globex Corp.", got[0].Company)
	assert.Equal(t, int64(300), got[0].MirrorSubtotal)
}

func TestFindDiscrepancies_MirrorFailureAborts(t *testing.T) {
	store := fakeTotals{{Company: "Acme", Period: march, Subtotal: 1}}
	outage := errors.New("sheets unavailable")

	_, err := NewReconciler(store, &fakeMirror{err: outage}, Options{}).FindDiscrepancies(context.Background())
	assert.ErrorIs(t, err, outage)
}

func TestFindDiscrepancies_StoreAndSheet(t *testing.T) {
	ctx := context.Background()

	store, err := ledger.Open(ctx, ledger.Config{DSN: filepath.Join(t.TempDir(), "ledger.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	n := models.Note{
		ReferenceNumber: "S-1",
		Taxable:         true,
		LineItems:       []models.LineItem{{Quantity: 1, UnitPrice: 10000, Amount: 10000}},
	}
	n.ComputeTotals(models.DefaultTaxRate)
	_, err = store.SaveBatch(ctx, march, "Acme", []models.Note{n}, "", ledger.LookupFuzzy)
	require.NoError(t, err)

	grid := mirror.NewMemoryGrid()
	grid.SetRow("2025", 1, "", "2025年3月")
	grid.SetRow("2025", 2, "相手方", "発生", "消費税", "消滅", "残高")
	grid.SetRow("2025", 3, "Acme Co.", int64(10000), int64(1000))
	sheet := mirror.New(grid, mirror.Options{})

	got, err := NewReconciler(store, sheet, Options{}).FindDiscrepancies(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	grid.Set("2025", 3, 3, "900")
	got, err = NewReconciler(store, sheet, Options{}).FindDiscrepancies(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(900), got[0].MirrorTax)
}

func TestWriteReport(t *testing.T) {
	discrepancies := []Discrepancy{
		{Company: "Acme", MirrorCompany: "Acme Co.", Period: march, DBSubtotal: 10000, DBTax: 1000, MirrorSubtotal: 10000, MirrorTax: 900},
		{Company: "Initech", Period: march, DBSubtotal: 500, DBTax: 50},
		{Company: "株式会社アクメ", MirrorCompany: "アクメ商事", Period: april, DBSubtotal: 2000, DBTax: 200, MirrorSubtotal: 2500, MirrorTax: 250},
		{Company: "Globex Corp.", MirrorCompany: "Globex Corp.", Period: april, MirrorSubtotal: 300, MirrorTax: 30, MirrorOnly: true},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, discrepancies))

	g := goldie.New(t)
	g.Assert(t, "report", buf.Bytes())
}

func TestWriteReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, nil))
	assert.Equal(t, "No discrepancies found.\n", buf.String())
}
