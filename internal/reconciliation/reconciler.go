// Package reconciliation compares ledger store aggregates with the amounts
// held by the external ledger and reports every drift for a human to fix.
package reconciliation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"ledgersync/internal/identity"
	"ledgersync/internal/logger"
	"ledgersync/pkg/models"
	"ledgersync/pkg/services"
)

// TotalsSource provides per company and period aggregates.
type TotalsSource interface {
	AggregateTotals(ctx context.Context) ([]models.PeriodTotals, error)
}

// Reconciler finds discrepancies between the ledger store and the mirror.
type Reconciler struct {
	store  TotalsSource
	mirror services.ExternalLedger
	opts   Options
	log    zerolog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(store TotalsSource, mirror services.ExternalLedger, opts Options) *Reconciler {
	return &Reconciler{
		store:  store,
		mirror: mirror,
		opts:   opts,
		log:    logger.WithComponent("reconciliation"),
	}
}

// FindDiscrepancies compares every stored (company, period) with the mirror.
// Mirror names are the candidate set for the identity matcher; an unmatched
// company is compared against zero. Amounts must be exactly equal.
//
// A failing mirror read aborts the run.
func (r *Reconciler) FindDiscrepancies(ctx context.Context) ([]Discrepancy, error) {
	const op = "FindDiscrepancies"

	totals, err := r.store.AggregateTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var periods []models.Period
	byPeriod := map[models.Period][]models.PeriodTotals{}
	for _, t := range totals {
		if _, ok := byPeriod[t.Period]; !ok {
			periods = append(periods, t.Period)
		}
		byPeriod[t.Period] = append(byPeriod[t.Period], t)
	}

	reader := newPeriodReader(r.mirror)
	discrepancies := []Discrepancy{}

	for _, period := range periods {
		rows, err := reader.Read(ctx, period)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		candidates := names(rows)
		used := make([]bool, len(rows))

		for _, t := range byPeriod[period] {
			d := Discrepancy{
				Company:    t.Company,
				Period:     period,
				DBSubtotal: t.Subtotal,
				DBTax:      t.Tax,
			}
			if idx, ok := identity.MatchIndex(t.Company, candidates); ok {
				used[idx] = true
				d.MirrorCompany = rows[idx].Company
				d.MirrorSubtotal = rows[idx].Subtotal
				d.MirrorTax = rows[idx].Tax
			} else {
				r.log.Debug().
					Str("company", t.Company).
					Str("period", period.String()).
					Msg("No mirror row for company, comparing against zero")
			}

			if d.DBSubtotal != d.MirrorSubtotal || d.DBTax != d.MirrorTax {
				discrepancies = append(discrepancies, d)
			}
		}

		if !r.opts.IncludeMirrorOnly {
			continue
		}
		for i, row := range rows {
			if used[i] || (row.Subtotal == 0 && row.Tax == 0) {
				continue
			}
			discrepancies = append(discrepancies, Discrepancy{
				Company:        row.Company,
				MirrorCompany:  row.Company,
				Period:         period,
				MirrorSubtotal: row.Subtotal,
				MirrorTax:      row.Tax,
				MirrorOnly:     true,
			})
		}
	}

	r.log.Info().
		Int("aggregates", len(totals)).
		Int("periods", len(periods)).
		Int("discrepancies", len(discrepancies)).
		Msg("Reconciliation finished")
	return discrepancies, nil
}
