package ledger

import (
	"context"

	"ledgersync/pkg/models"
)

// AggregateTotals returns one row per stored (company, period) with the sums
// of all notes beneath it, ordered by period then company. Periods without
// notes report zero amounts.
func (s *Store) AggregateTotals(ctx context.Context) ([]models.PeriodTotals, error) {
	const op = "AggregateTotals"

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.company, p.period,
		       COALESCE(SUM(n.subtotal), 0), COALESCE(SUM(n.tax), 0), COUNT(n.id)
		FROM invoice_periods p
		LEFT JOIN notes n ON n.period_id = p.id
		GROUP BY p.id, p.company, p.period
		ORDER BY p.period, p.company`)
	if err != nil {
		return nil, NewStorageError(op, err, "")
	}
	defer rows.Close()

	totals := []models.PeriodTotals{}
	for rows.Next() {
		var (
			t      models.PeriodTotals
			period string
		)
		if err := rows.Scan(&t.Company, &period, &t.Subtotal, &t.Tax, &t.NoteCount); err != nil {
			return nil, NewStorageError(op, err, "scan")
		}
		if t.Period, err = models.ParsePeriod(period); err != nil {
			return nil, NewStorageError(op, err, "stored period")
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError(op, err, "iterate")
	}
	return totals, nil
}
