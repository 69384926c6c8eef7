package reconciliation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"ledgersync/internal/logger"
	"ledgersync/pkg/models"
	"ledgersync/pkg/services"
)

// periodReader reads each period of the external ledger at most once per run.
type periodReader struct {
	ledger services.ExternalLedger
	cache  map[models.Period][]services.MirrorAmount
	log    zerolog.Logger
}

func newPeriodReader(ledger services.ExternalLedger) *periodReader {
	return &periodReader{
		ledger: ledger,
		cache:  map[models.Period][]services.MirrorAmount{},
		log:    logger.WithComponent("reconciliation-reader"),
	}
}

// Read returns the mirror rows of period.
func (pr *periodReader) Read(ctx context.Context, period models.Period) ([]services.MirrorAmount, error) {
	const op = "Read"

	if rows, ok := pr.cache[period]; ok {
		return rows, nil
	}

	pr.log.Info().Str("period", period.String()).Msg("Reading mirror amounts")

	rows, err := pr.ledger.ReadAmounts(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read mirror amounts for %s: %w", op, period, err)
	}

	var skipped int
	valid := make([]services.MirrorAmount, 0, len(rows))
	for _, row := range rows {
		if row.Company == "" {
			skipped++
			continue
		}
		valid = append(valid, row)
	}
	if skipped > 0 {
		pr.log.Warn().
			Int("skipped", skipped).
			Str("period", period.String()).
			Msg("Skipping mirror rows without a company name")
	}

	pr.log.Info().
		Int("rows", len(valid)).
		Str("period", period.String()).
		Msg("Mirror amounts read successfully")

	pr.cache[period] = valid
	return valid, nil
}

// names returns the company column of rows, the matcher's candidate set.
func names(rows []services.MirrorAmount) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Company
	}
	return out
}
