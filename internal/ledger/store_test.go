package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgersync/pkg/models"
)

var march = models.MustParsePeriod("2025-03")

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func note(ref string, subtotal int64) models.Note {
	n := models.Note{
		ReferenceNumber: ref,
		Date:            "2025/03/10",
		Taxable:         true,
		LineItems: []models.LineItem{
			{ProductCode: "P-1", ProductName: "Widget", Quantity: 1, UnitPrice: subtotal, Amount: subtotal},
		},
	}
	n.ComputeTotals(models.DefaultTaxRate)
	return n
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s1, err := Open(ctx, Config{Driver: DriverSQLite, DSN: path})
	require.NoError(t, err)
	_, err = s1.UpsertNote(ctx, march, "Acme", note("S-1", 1000))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, Config{Driver: DriverSQLite, DSN: path})
	require.NoError(t, err)
	defer s2.Close()

	notes, err := s2.ListNotes(ctx, march, "Acme", "")
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t,
		"file:/tmp/a.db?_txlock=immediate&_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL",
		sqliteDSN("/tmp/a.db"))
	assert.Equal(t,
		"file:a.db?cache=shared&_txlock=immediate&_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL",
		sqliteDSN("file:a.db?cache=shared"))
}

func TestMysqlDSN_ForcesOptions(t *testing.T) {
	dsn, err := mysqlDSN("user:pw@tcp(db:3306)/ledger")
	require.NoError(t, err)
	assert.Contains(t, dsn, "multiStatements=true")
	assert.Contains(t, dsn, "parseTime=true")
}

func TestUpsertNote_SameReferenceUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertNote(ctx, march, "Acme", note("S-100", 1000))
	require.NoError(t, err)

	updated := note("S-100", 2500)
	updated.LineItems = append(updated.LineItems, models.LineItem{ProductCode: "P-2", Quantity: 2, UnitPrice: 10, Amount: 20})
	_, err = s.UpsertNote(ctx, march, "Acme", updated)
	require.NoError(t, err)

	notes, err := s.ListNotes(ctx, march, "Acme", "")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, int64(2500), notes[0].Subtotal)
	require.Len(t, notes[0].LineItems, 2)
	assert.Equal(t, "P-1", notes[0].LineItems[0].ProductCode)
	assert.Equal(t, "P-2", notes[0].LineItems[1].ProductCode)

	var items int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM line_items`).Scan(&items))
	assert.Equal(t, 2, items)
}

func TestFindPeriod_ExactAndFuzzy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertNote(ctx, march, "株式会社アクメ", note("S-1", 1000))
	require.NoError(t, err)

	exact, err := s.FindPeriod(ctx, march, "株式会社アクメ")
	require.NoError(t, err)

	fuzzy, err := s.FindPeriod(ctx, march, "アクメ 御中")
	require.NoError(t, err)
	assert.Equal(t, exact.ID, fuzzy.ID)
	assert.Equal(t, "株式会社アクメ", fuzzy.Company)

	_, err = s.FindPeriod(ctx, march, "Globex")
	assert.ErrorIs(t, err, ErrPeriodNotFound)

	_, err = s.FindPeriod(ctx, march.Next(), "株式会社アクメ")
	assert.ErrorIs(t, err, ErrPeriodNotFound)
}

func TestListNotes_InsertionOrderAndTagFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, n := range []struct {
		ref, tag string
	}{{"S-3", "tanaka"}, {"S-1", "suzuki"}, {"S-2", "tanaka"}} {
		nt := note(n.ref, 100)
		nt.Tag = n.tag
		_, err := s.UpsertNote(ctx, march, "Acme", nt)
		require.NoError(t, err)
	}

	all, err := s.ListNotes(ctx, march, "Acme", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"S-3", "S-1", "S-2"}, refs(all))

	tanaka, err := s.ListNotes(ctx, march, "Acme", "tanaka")
	require.NoError(t, err)
	assert.Equal(t, []string{"S-3", "S-2"}, refs(tanaka))

	missing, err := s.ListNotes(ctx, march, "Nobody", "")
	require.NoError(t, err)
	assert.Empty(t, missing)

	tags, err := s.Tags(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, []string{"suzuki", "tanaka"}, tags)
}

func TestDeletePeriod_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveBatch(ctx, march, "Acme", []models.Note{note("S-1", 100), note("S-2", 200)}, "", LookupFuzzy)
	require.NoError(t, err)
	_, err = s.UpsertNote(ctx, march, "Globex", note("G-1", 300))
	require.NoError(t, err)

	require.NoError(t, s.DeletePeriod(ctx, march, "Acme"))

	notes, err := s.ListNotes(ctx, march, "Acme", "")
	require.NoError(t, err)
	assert.Empty(t, notes)

	var orphans int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM line_items WHERE note_id NOT IN (SELECT id FROM notes)`).Scan(&orphans))
	assert.Zero(t, orphans)

	var remaining int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM line_items`).Scan(&remaining))
	assert.Equal(t, 1, remaining)

	assert.ErrorIs(t, s.DeletePeriod(ctx, march, "Acme"), ErrPeriodNotFound)
}

func TestSaveBatch_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	notes := []models.Note{note("S-1", 1000), note("S-2", 2000)}

	first, err := s.SaveBatch(ctx, march, "Acme", notes, "req-1", LookupFuzzy)
	require.NoError(t, err)
	assert.False(t, first.Skipped)
	assert.Equal(t, 2, first.Saved)
	assert.Equal(t, int64(3000), first.Subtotal)
	assert.Equal(t, int64(300), first.Tax)

	before, err := s.AggregateTotals(ctx)
	require.NoError(t, err)

	second, err := s.SaveBatch(ctx, march, "Acme", notes, "req-1", LookupFuzzy)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Zero(t, second.Saved)

	after, err := s.AggregateTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	recorded, err := s.IsTokenRecorded(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, recorded)
}

func TestSaveBatch_ConcurrentSameToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	notes := []models.Note{note("S-1", 1000)}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		saved   int
		skipped int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.SaveBatch(ctx, march, "Acme", notes, "req-race", LookupFuzzy)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Skipped {
				skipped++
			} else {
				saved++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, saved)
	assert.Equal(t, 3, skipped)
}

func TestSaveBatch_AllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.Exec(`CREATE TRIGGER reject_bad_note BEFORE INSERT ON notes
		WHEN NEW.reference_number = 'S-BAD'
		BEGIN SELECT RAISE(ABORT, 'rejected note'); END`)
	require.NoError(t, err)

	batch := []models.Note{note("S-1", 1000), note("S-BAD", 2000), note("S-3", 3000)}
	_, err = s.SaveBatch(ctx, march, "Acme", batch, "req-atomic", LookupFuzzy)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageFailure)

	totals, err := s.AggregateTotals(ctx)
	require.NoError(t, err)
	assert.Empty(t, totals)

	recorded, err := s.IsTokenRecorded(ctx, "req-atomic")
	require.NoError(t, err)
	assert.False(t, recorded, "token of a rolled back batch must stay unused")

	_, err = s.db.Exec(`DROP TRIGGER reject_bad_note`)
	require.NoError(t, err)

	res, err := s.SaveBatch(ctx, march, "Acme", batch, "req-atomic", LookupFuzzy)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Saved)
}

func TestSaveBatch_ReplacedAmounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveBatch(ctx, march, "Acme", []models.Note{note("S-1", 1000)}, "", LookupFuzzy)
	require.NoError(t, err)

	res, err := s.SaveBatch(ctx, march, "Acme Co., Ltd.", []models.Note{note("S-1", 1500), note("S-2", 500)}, "", LookupFuzzy)
	require.NoError(t, err)
	assert.Equal(t, "Acme", res.Period.Company)
	assert.Equal(t, int64(1000), res.PreviousSubtotal)
	assert.Equal(t, int64(100), res.PreviousTax)
	assert.Equal(t, models.Amounts{Subtotal: 1000, Tax: 100}, res.Delta())
}

func TestSaveBatch_ExactLookupKeepsCompaniesApart(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.SaveBatch(ctx, march, "Acme", []models.Note{note("A-1", 1000)}, "", LookupExact)
	require.NoError(t, err)

	second, err := s.SaveBatch(ctx, march, "Acme Division X", []models.Note{note("X-1", 2000)}, "", LookupExact)
	require.NoError(t, err)
	assert.Equal(t, "Acme Division X", second.Period.Company)
	assert.NotEqual(t, first.Period.ID, second.Period.ID)
	assert.Equal(t, models.Amounts{Subtotal: 2000, Tax: 200}, second.Delta())

	hits, err := s.FindExistingSlipNumbers(ctx, march, "Acme Division X", []string{"A-1"}, LookupExact)
	require.NoError(t, err)
	assert.Empty(t, hits)

	totals, err := s.AggregateTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.PeriodTotals{
		{Company: "Acme", Period: march, Subtotal: 1000, Tax: 100, NoteCount: 1},
		{Company: "Acme Division X", Period: march, Subtotal: 2000, Tax: 200, NoteCount: 1},
	}, totals)

	// Reads still resolve spelling variants.
	ip, err := s.FindPeriod(ctx, march, "ACME 御中")
	require.NoError(t, err)
	assert.Equal(t, first.Period.ID, ip.ID)
}

func TestSaveBatch_FuzzyLookupJoinsSpellingVariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.SaveBatch(ctx, march, "株式会社アクメ", []models.Note{note("A-1", 1000)}, "", LookupFuzzy)
	require.NoError(t, err)

	second, err := s.SaveBatch(ctx, march, "アクメ 御中", []models.Note{note("A-2", 500)}, "", LookupFuzzy)
	require.NoError(t, err)
	assert.Equal(t, first.Period.ID, second.Period.ID)
	assert.Equal(t, "株式会社アクメ", second.Period.Company)
}

func TestAggregateTotals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveBatch(ctx, march, "Globex", []models.Note{note("G-1", 700)}, "", LookupFuzzy)
	require.NoError(t, err)
	_, err = s.SaveBatch(ctx, march, "Acme", []models.Note{note("A-1", 1000), note("A-2", 5155)}, "", LookupFuzzy)
	require.NoError(t, err)
	_, err = s.SaveBatch(ctx, march.Prev(), "Acme", []models.Note{note("A-0", 10)}, "", LookupFuzzy)
	require.NoError(t, err)

	totals, err := s.AggregateTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.PeriodTotals{
		{Company: "Acme", Period: march.Prev(), Subtotal: 10, Tax: 1, NoteCount: 1},
		{Company: "Acme", Period: march, Subtotal: 6155, Tax: 615, NoteCount: 2},
		{Company: "Globex", Period: march, Subtotal: 700, Tax: 70, NoteCount: 1},
	}, totals)
}

func TestFindExistingSlipNumbers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveBatch(ctx, march, "Acme", []models.Note{note("S-1", 100), note("S-2", 200)}, "", LookupFuzzy)
	require.NoError(t, err)

	hits, err := s.FindExistingSlipNumbers(ctx, march, "Acme", []string{"S-2", "S-9"}, LookupFuzzy)
	require.NoError(t, err)
	assert.Equal(t, []string{"S-2"}, refs(hits))

	none, err := s.FindExistingSlipNumbers(ctx, march, "Globex", []string{"S-1"}, LookupFuzzy)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateNoteAmounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.UpsertNote(ctx, march, "Acme", note("S-1", 1000))
	require.NoError(t, err)

	previous, err := s.UpdateNoteAmounts(ctx, saved.ID, 1200, 120, 1320)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), previous.Subtotal)
	assert.Equal(t, int64(100), previous.Tax)

	got, err := s.GetNote(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1320), got.Total)
	assert.Len(t, got.LineItems, 1)

	loc, err := s.NoteLocation(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", loc.Company)
	assert.Equal(t, march, loc.Period)

	_, err = s.UpdateNoteAmounts(ctx, 9999, 1, 0, 1)
	assert.ErrorIs(t, err, ErrNoteNotFound)
}

func TestCompanies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertNote(ctx, march, "Globex", note("G-1", 1))
	require.NoError(t, err)
	_, err = s.UpsertNote(ctx, march.Prev(), "Acme", note("A-1", 1))
	require.NoError(t, err)
	_, err = s.UpsertNote(ctx, march, "Acme", note("A-2", 1))
	require.NoError(t, err)

	companies, err := s.Companies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme", "Globex"}, companies)
}

func refs(notes []models.Note) []string {
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.ReferenceNumber
	}
	return out
}
