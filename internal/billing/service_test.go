package billing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgersync/internal/ledger"
	"ledgersync/internal/mirror"
	"ledgersync/pkg/models"
)

var march = models.MustParsePeriod("2025-03")

type fixture struct {
	store *ledger.Store
	grid  *mirror.MemoryGrid
	svc   *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	store, err := ledger.Open(context.Background(), ledger.Config{
		Driver: ledger.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	grid := mirror.NewMemoryGrid()
	grid.SetRow("2025", 1, "", "2025年3月")
	grid.SetRow("2025", 2, "相手方", "発生", "消費税", "消滅", "残高")
	grid.SetRow("2025", 3, "Acme Co., Ltd.", int64(500), int64(50))
	grid.SetRow("2025", 4, "Globex Corp.")

	return &fixture{
		store: store,
		grid:  grid,
		svc:   NewService(store, mirror.New(grid, mirror.Options{}), opts),
	}
}

func makeNote(ref string, amounts ...int64) models.Note {
	n := models.Note{ReferenceNumber: ref, Date: "2025/03/05", Taxable: true}
	for i, a := range amounts {
		n.LineItems = append(n.LineItems, models.LineItem{
			ProductCode: ref + "-" + string(rune('a'+i)),
			Quantity:    1,
			UnitPrice:   a,
			Amount:      a,
		})
	}
	n.ComputeTotals(models.DefaultTaxRate)
	return n
}

func request(company, token string, notes ...models.Note) models.BatchRequest {
	return models.BatchRequest{
		Company:      company,
		Period:       march,
		Notes:        notes,
		RequestToken: token,
	}
}

func TestSaveBatch_ResolvesAndMirrors(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	resp, err := f.svc.SaveBatch(ctx, request("株式会社ACME 御中", "req-1", makeNote("S-1", 1000, 2000), makeNote("S-2", 500)))
	require.NoError(t, err)

	assert.Equal(t, "Acme Co., Ltd.", resp.Company)
	assert.Equal(t, 2, resp.SavedCount)
	assert.False(t, resp.Skipped)
	assert.False(t, resp.DuplicateConflict)
	assert.Empty(t, resp.Warnings)

	require.NotNil(t, resp.Mirror)
	assert.Equal(t, models.Amounts{Subtotal: 500, Tax: 50}, resp.Mirror.Previous)
	assert.Equal(t, models.Amounts{Subtotal: 4000, Tax: 400}, resp.Mirror.New)
	assert.Equal(t, int64(4000), f.grid.Get("2025", 2, 3))
	assert.Equal(t, int64(400), f.grid.Get("2025", 3, 3))

	companies, err := f.store.Companies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme Co., Ltd."}, companies)
}

func TestSaveBatch_SameTokenSkipped(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	req := request("Acme", "req-1", makeNote("S-1", 1000))

	first, err := f.svc.SaveBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, first.SavedCount)

	second, err := f.svc.SaveBatch(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Zero(t, second.SavedCount)
	assert.Nil(t, second.Mirror)

	assert.Equal(t, 1, f.grid.Writes())
	assert.Equal(t, int64(1500), f.grid.Get("2025", 2, 3))
}

func TestSaveBatch_DuplicateSlipConflict(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.SaveBatch(ctx, request("Acme", "req-1", makeNote("S-1", 1000)))
	require.NoError(t, err)
	before, err := f.store.AggregateTotals(ctx)
	require.NoError(t, err)

	resp, err := f.svc.SaveBatch(ctx, request("Acme", "req-2", makeNote("S-1", 3000), makeNote("S-2", 100)))
	require.NoError(t, err)
	assert.True(t, resp.DuplicateConflict)
	assert.Zero(t, resp.SavedCount)
	require.Len(t, resp.ConflictingNotes, 1)
	assert.Equal(t, "S-1", resp.ConflictingNotes[0].ReferenceNumber)
	assert.Equal(t, int64(1000), resp.ConflictingNotes[0].Subtotal)

	after, err := f.store.AggregateTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, f.grid.Writes())

	recorded, err := f.store.IsTokenRecorded(ctx, "req-2")
	require.NoError(t, err)
	assert.False(t, recorded)
}

func TestSaveBatch_ForceOverwriteMirrorsDelta(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.SaveBatch(ctx, request("Acme", "req-1", makeNote("S-1", 1000)))
	require.NoError(t, err)

	req := request("Acme", "req-2", makeNote("S-1", 3000))
	req.ForceOverwrite = true
	resp, err := f.svc.SaveBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.SavedCount)

	// 500 seeded + 1000 first save + 2000 overwrite difference.
	assert.Equal(t, int64(3500), f.grid.Get("2025", 2, 3))
	assert.Equal(t, int64(350), f.grid.Get("2025", 3, 3))

	notes, err := f.store.ListNotes(ctx, march, "Acme Co., Ltd.", "")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, int64(3000), notes[0].Subtotal)
}

func TestSaveBatch_UnresolvedIdentity(t *testing.T) {
	ctx := context.Background()

	t.Run("warns by default", func(t *testing.T) {
		f := newFixture(t, Options{})
		resp, err := f.svc.SaveBatch(ctx, request("Initech", "", makeNote("I-1", 100)))
		require.NoError(t, err)
		assert.Equal(t, "Initech", resp.Company)
		assert.Equal(t, 1, resp.SavedCount)
		assert.Len(t, resp.Warnings, 2, "unresolved name and failed mirror write")
	})

	t.Run("rejected when required", func(t *testing.T) {
		f := newFixture(t, Options{RequireResolvedIdentity: true})
		_, err := f.svc.SaveBatch(ctx, request("Initech", "", makeNote("I-1", 100)))
		assert.ErrorIs(t, err, ErrIdentityNotResolved)

		totals, err := f.store.AggregateTotals(ctx)
		require.NoError(t, err)
		assert.Empty(t, totals)
	})

	t.Run("allowed per request", func(t *testing.T) {
		f := newFixture(t, Options{RequireResolvedIdentity: true})
		req := request("Initech", "", makeNote("I-1", 100))
		req.AllowUnresolved = true
		resp, err := f.svc.SaveBatch(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 1, resp.SavedCount)
		assert.NotEmpty(t, resp.Warnings)
	})
}

func TestSaveBatch_ContainedCompanyNamesStaySeparate(t *testing.T) {
	store, err := ledger.Open(context.Background(), ledger.Config{
		Driver: ledger.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	grid := mirror.NewMemoryGrid()
	grid.SetRow("2025", 1, "", "2025年3月")
	grid.SetRow("2025", 2, "相手方", "発生", "消費税", "消滅", "残高")
	grid.SetRow("2025", 3, "Acme")
	grid.SetRow("2025", 4, "Acme Division X")
	svc := NewService(store, mirror.New(grid, mirror.Options{}), Options{})
	ctx := context.Background()

	first, err := svc.SaveBatch(ctx, request("Acme", "req-a", makeNote("A-1", 1000)))
	require.NoError(t, err)
	assert.Equal(t, "Acme", first.Company)

	second, err := svc.SaveBatch(ctx, request("Acme Division X", "req-x", makeNote("A-1", 2000)))
	require.NoError(t, err)
	assert.Equal(t, "Acme Division X", second.Company)
	assert.False(t, second.DuplicateConflict)
	assert.Equal(t, 1, second.SavedCount)

	totals, err := store.AggregateTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.PeriodTotals{
		{Company: "Acme", Period: march, Subtotal: 1000, Tax: 100, NoteCount: 1},
		{Company: "Acme Division X", Period: march, Subtotal: 2000, Tax: 200, NoteCount: 1},
	}, totals)

	assert.Equal(t, int64(1000), grid.Get("2025", 2, 3))
	assert.Equal(t, int64(100), grid.Get("2025", 3, 3))
	assert.Equal(t, int64(2000), grid.Get("2025", 2, 4))
	assert.Equal(t, int64(200), grid.Get("2025", 3, 4))
}

func TestSaveBatch_MirrorFailureIsWarning(t *testing.T) {
	f := newFixture(t, Options{})
	f.grid.FailWith(errors.New("quota exceeded"))
	ctx := context.Background()

	resp, err := f.svc.SaveBatch(ctx, request("Acme", "req-1", makeNote("S-1", 1000)))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.SavedCount)
	assert.Nil(t, resp.Mirror)
	require.Len(t, resp.Warnings, 2)
	assert.Contains(t, resp.Warnings[1], "mirror sync failed")

	notes, err := f.store.ListNotes(ctx, march, "Acme", "")
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestSaveBatch_Validation(t *testing.T) {
	f := newFixture(t, Options{})

	negative := makeNote("S-1", 100)
	negative.LineItems[0].Quantity = -1

	tests := []struct {
		name  string
		req   models.BatchRequest
		field string
	}{
		{"missing company", request(" ", "", makeNote("S-1", 1)), "company"},
		{"missing period", models.BatchRequest{Company: "Acme", Notes: []models.Note{makeNote("S-1", 1)}}, "period"},
		{"no notes", request("Acme", ""), "notes"},
		{"missing reference", request("Acme", "", makeNote("", 1)), "notes[0].reference_number"},
		{"negative quantity", request("Acme", "", negative), "notes[0].line_items[0].quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SaveBatch(context.Background(), tt.req)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestSaveBatch_WithoutMirror(t *testing.T) {
	f := newFixture(t, Options{RequireResolvedIdentity: true})
	svc := NewService(f.store, nil, Options{RequireResolvedIdentity: true})

	resp, err := svc.SaveBatch(context.Background(), request("Initech", "", makeNote("I-1", 100)))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.SavedCount)
	assert.Nil(t, resp.Mirror)
	assert.Empty(t, resp.Warnings)
}

func TestUpdateNote(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.SaveBatch(ctx, request("Acme", "", makeNote("S-1", 1000)))
	require.NoError(t, err)
	notes, err := f.store.ListNotes(ctx, march, "Acme", "")
	require.NoError(t, err)
	require.Len(t, notes, 1)

	upd, err := f.svc.UpdateNote(ctx, notes[0].ID, 800, 80, 880)
	require.NoError(t, err)
	assert.Equal(t, models.Amounts{Subtotal: 1000, Tax: 100}, upd.Previous)
	assert.Equal(t, models.Amounts{Subtotal: 800, Tax: 80}, upd.New)
	assert.Equal(t, "Acme Co., Ltd.", upd.Company)
	assert.Empty(t, upd.Warnings)
	assert.Equal(t, int64(1300), f.grid.Get("2025", 2, 3))
	assert.Equal(t, int64(130), f.grid.Get("2025", 3, 3))

	_, err = f.svc.UpdateNote(ctx, notes[0].ID, -1, 0, 0)
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)

	_, err = f.svc.UpdateNote(ctx, 4242, 1, 0, 1)
	assert.ErrorIs(t, err, ledger.ErrNoteNotFound)
}

func TestResetPeriod(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.SaveBatch(ctx, request("Acme", "", makeNote("S-1", 1000)))
	require.NoError(t, err)
	writes := f.grid.Writes()

	require.NoError(t, f.svc.ResetPeriod(ctx, march, "Acme"))

	notes, err := f.store.ListNotes(ctx, march, "Acme", "")
	require.NoError(t, err)
	assert.Empty(t, notes)
	assert.Equal(t, writes, f.grid.Writes())
	assert.Equal(t, int64(1500), f.grid.Get("2025", 2, 3))

	assert.ErrorIs(t, f.svc.ResetPeriod(ctx, march, "Acme"), ledger.ErrPeriodNotFound)
}
