// Package mirror keeps the human-editable billing spreadsheet in step with
// the ledger store. Writes are best effort: callers treat every error as a
// warning on an operation that has already committed.
package mirror

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"ledgersync/internal/identity"
	"ledgersync/internal/logger"
	"ledgersync/internal/sheets"
	"ledgersync/pkg/models"
	"ledgersync/pkg/services"
)

// Grid is the cell-level access the mirror needs. *sheets.Service
// implements it against Google Sheets; MemoryGrid keeps cells in memory.
type Grid interface {
	ReadRange(ctx context.Context, rangeSpec string) ([][]interface{}, error)
	ReadRangeRaw(ctx context.Context, rangeSpec string) ([][]interface{}, error)
	BatchWrite(ctx context.Context, updates []sheets.RangeValues) error
}

// Options configures a Ledger.
type Options struct {
	Layout Layout

	// AllowRegistration appends unknown companies below the last company
	// row instead of failing with ErrCompanyNotFound.
	AllowRegistration bool
}

// Ledger is the spreadsheet-backed external ledger.
type Ledger struct {
	grid              Grid
	layout            Layout
	allowRegistration bool
	log               zerolog.Logger
}

var _ services.ExternalLedger = (*Ledger)(nil)

// New creates a Ledger over grid.
func New(grid Grid, opts Options) *Ledger {
	return &Ledger{
		grid:              grid,
		layout:            opts.Layout.withDefaults(),
		allowRegistration: opts.AllowRegistration,
		log:               logger.WithComponent("mirror"),
	}
}

// Layout returns the effective sheet layout.
func (l *Ledger) Layout() Layout {
	return l.layout
}

// MirrorAmounts adds subtotal and tax to the company's accumulator cells for
// period. Current values are read unformatted, so locale formatting in the
// sheet never affects the sum. The payment and balance cells are left alone.
func (l *Ledger) MirrorAmounts(ctx context.Context, company string, period models.Period, subtotal, tax int64) (*models.MirrorResult, error) {
	const op = "MirrorAmounts"

	sheet := l.layout.Sheet(period.Year)
	log := l.log.With().
		Str("company", company).
		Str("period", period.String()).
		Str("sheet", sheet).
		Logger()

	col, err := l.periodColumn(ctx, sheet, period)
	if err != nil {
		return nil, newSyncError(op, company, period, err)
	}

	var updates []sheets.RangeValues

	row, name, err := l.findRow(ctx, sheet, company)
	if err != nil {
		return nil, newSyncError(op, company, period, err)
	}
	if row == 0 {
		if !l.allowRegistration {
			return nil, newSyncError(op, company, period, ErrCompanyNotFound)
		}
		row, err = l.nextFreeRow(ctx, sheet)
		if err != nil {
			return nil, newSyncError(op, company, period, err)
		}
		name = company
		updates = append(updates, sheets.RangeValues{
			Range:  sheets.Cell(sheet, l.layout.CompanyColumn, row).String(),
			Values: [][]interface{}{{company}},
		})
		log.Info().Int("row", row).Msg("Registering company in mirror")
	}

	block, err := l.readBlock(ctx, sheet, col, row, row)
	if err != nil {
		return nil, newSyncError(op, company, period, err)
	}
	var current []interface{}
	if len(block) > 0 {
		current = block[0]
	}

	previous, err := l.amountsAt(current)
	if err != nil {
		return nil, newSyncError(op, company, period, err)
	}
	next := models.Amounts{
		Subtotal: previous.Subtotal + subtotal,
		Tax:      previous.Tax + tax,
	}

	updates = append(updates,
		sheets.RangeValues{
			Range:  sheets.Cell(sheet, col+l.layout.SubtotalOffset, row).String(),
			Values: [][]interface{}{{next.Subtotal}},
		},
		sheets.RangeValues{
			Range:  sheets.Cell(sheet, col+l.layout.TaxOffset, row).String(),
			Values: [][]interface{}{{next.Tax}},
		},
	)
	if err := l.grid.BatchWrite(ctx, updates); err != nil {
		log.Error().
			Err(err).
			Int("row", row).
			Int("column", col).
			Int64("add_subtotal", subtotal).
			Int64("add_tax", tax).
			Int64("expected_subtotal", next.Subtotal).
			Int64("expected_tax", next.Tax).
			Msg("Mirror write failed, cells need a manual update")
		return nil, newSyncError(op, company, period, err)
	}

	log.Info().
		Str("row_name", name).
		Int("row", row).
		Int("column", col).
		Int64("previous_subtotal", previous.Subtotal).
		Int64("subtotal", next.Subtotal).
		Int64("previous_tax", previous.Tax).
		Int64("tax", next.Tax).
		Msg("Mirror amounts updated")

	return &models.MirrorResult{
		Sheet:    sheet,
		Row:      row,
		Column:   col,
		Previous: previous,
		New:      next,
	}, nil
}

// ReadAmounts returns every company row of the period block with one read
// of the company column and one of the block.
func (l *Ledger) ReadAmounts(ctx context.Context, period models.Period) ([]services.MirrorAmount, error) {
	const op = "ReadAmounts"

	sheet := l.layout.Sheet(period.Year)

	col, err := l.periodColumn(ctx, sheet, period)
	if err != nil {
		return nil, newSyncError(op, "", period, err)
	}

	names, err := l.companyColumn(ctx, sheet)
	if err != nil {
		return nil, newSyncError(op, "", period, err)
	}
	if len(names) == 0 {
		return []services.MirrorAmount{}, nil
	}

	first := l.layout.FirstDataRow
	block, err := l.readBlock(ctx, sheet, col, first, first+len(names)-1)
	if err != nil {
		return nil, newSyncError(op, "", period, err)
	}

	amounts := make([]services.MirrorAmount, 0, len(names))
	for i, name := range names {
		if name == "" {
			continue
		}
		var cells []interface{}
		if i < len(block) {
			cells = block[i]
		}
		a, err := l.amountsAt(cells)
		if err != nil {
			l.log.Warn().
				Err(err).
				Str("company", name).
				Int("row", first+i).
				Str("period", period.String()).
				Msg("Skipping unreadable mirror amounts")
			a = models.Amounts{}
		}
		amounts = append(amounts, services.MirrorAmount{
			Company:  name,
			Row:      first + i,
			Subtotal: a.Subtotal,
			Tax:      a.Tax,
		})
	}

	l.log.Debug().
		Str("period", period.String()).
		Int("rows", len(amounts)).
		Msg("Read mirror amounts")
	return amounts, nil
}

// CanonicalName resolves company against the company column of period's
// sheet and returns the spelling used there.
func (l *Ledger) CanonicalName(ctx context.Context, company string, period models.Period) (string, bool, error) {
	const op = "CanonicalName"

	names, err := l.companyColumn(ctx, l.layout.Sheet(period.Year))
	if err != nil {
		return "", false, newSyncError(op, company, period, err)
	}
	name, ok := identity.Match(company, names)
	return name, ok, nil
}

// RecordPayment writes a received payment into the company's payment cell,
// either added to the current value or replacing it.
func (l *Ledger) RecordPayment(ctx context.Context, company string, period models.Period, amount int64, add bool) (*services.PaymentResult, error) {
	const op = "RecordPayment"

	sheet := l.layout.Sheet(period.Year)

	col, err := l.periodColumn(ctx, sheet, period)
	if err != nil {
		return nil, newSyncError(op, company, period, err)
	}
	row, name, err := l.findRow(ctx, sheet, company)
	if err != nil {
		return nil, newSyncError(op, company, period, err)
	}
	if row == 0 {
		return nil, newSyncError(op, company, period, ErrCompanyNotFound)
	}

	cell := sheets.Cell(sheet, col+l.layout.PaymentOffset, row).String()
	values, err := l.grid.ReadRangeRaw(ctx, cell)
	if err != nil {
		return nil, newSyncError(op, company, period, err)
	}
	previous, err := parseAmount(cellAt(values, 0, 0))
	if err != nil {
		return nil, newSyncError(op, company, period, err)
	}

	next := amount
	if add {
		next = previous + amount
	}

	if err := l.grid.BatchWrite(ctx, []sheets.RangeValues{{Range: cell, Values: [][]interface{}{{next}}}}); err != nil {
		return nil, newSyncError(op, company, period, err)
	}

	l.log.Info().
		Str("company", name).
		Str("period", period.String()).
		Int("row", row).
		Bool("add", add).
		Int64("previous", previous).
		Int64("payment", next).
		Msg("Payment recorded")

	return &services.PaymentResult{
		Company:       name,
		PreviousValue: previous,
		NewValue:      next,
	}, nil
}

// PreviousBilling reads the carried-over position printed on an invoice for
// period: the previous month's balance and this month's payment. A missing
// company or period column yields zeros.
func (l *Ledger) PreviousBilling(ctx context.Context, company string, period models.Period) (*models.PreviousBilling, error) {
	const op = "PreviousBilling"

	prev := period.Prev()

	balance, err := l.cellValue(ctx, company, prev, l.layout.BalanceOffset)
	if err != nil {
		return nil, newSyncError(op, company, period, err)
	}
	payment, err := l.cellValue(ctx, company, period, l.layout.PaymentOffset)
	if err != nil {
		return nil, newSyncError(op, company, period, err)
	}

	return &models.PreviousBilling{
		PreviousAmount:  balance,
		PaymentReceived: payment,
		CarriedOver:     balance - payment,
	}, nil
}

// Companies returns the names in the company column of year's sheet, in
// sheet order and without duplicates.
func (l *Ledger) Companies(ctx context.Context, year int) ([]string, error) {
	names, err := l.companyColumn(ctx, l.layout.Sheet(year))
	if err != nil {
		return nil, newSyncError("Companies", "", models.Period{Year: year}, err)
	}

	seen := make(map[string]bool, len(names))
	out := []string{}
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, nil
}

// Periods returns the periods labelled in the header row of year's sheet.
func (l *Ledger) Periods(ctx context.Context, year int) ([]models.Period, error) {
	sheet := l.layout.Sheet(year)

	header, err := l.grid.ReadRange(ctx, l.headerRange(sheet).String())
	if err != nil {
		return nil, newSyncError("Periods", "", models.Period{Year: year}, err)
	}

	seen := map[models.Period]bool{}
	out := []models.Period{}
	if len(header) == 0 {
		return out, nil
	}
	for _, v := range header[0] {
		p, err := models.ParsePeriod(cellString(v))
		if err != nil || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

// cellValue reads one block cell for company in period. Missing rows or
// columns read as zero.
func (l *Ledger) cellValue(ctx context.Context, company string, period models.Period, offset int) (int64, error) {
	sheet := l.layout.Sheet(period.Year)

	col, err := l.periodColumn(ctx, sheet, period)
	if err != nil {
		if isMissing(err) {
			l.log.Debug().Str("period", period.String()).Msg("No period column, reading zero")
			return 0, nil
		}
		return 0, err
	}
	row, _, err := l.findRow(ctx, sheet, company)
	if err != nil {
		return 0, err
	}
	if row == 0 {
		l.log.Debug().Str("company", company).Str("sheet", sheet).Msg("No company row, reading zero")
		return 0, nil
	}

	values, err := l.grid.ReadRangeRaw(ctx, sheets.Cell(sheet, col+offset, row).String())
	if err != nil {
		return 0, err
	}
	return parseAmount(cellAt(values, 0, 0))
}

func (l *Ledger) headerRange(sheet string) sheets.Range {
	last := l.layout.HeaderRow
	if l.layout.LabelRow > last {
		last = l.layout.LabelRow
	}
	return sheets.Range{
		Sheet:    sheet,
		StartCol: 1,
		StartRow: l.layout.HeaderRow,
		EndCol:   l.layout.MaxColumn,
		EndRow:   last,
	}
}

// periodColumn returns the first column of period's block. Header cells
// are parsed as periods and compared for equality, so 2025年1月 never
// matches a 2025年10月 header.
func (l *Ledger) periodColumn(ctx context.Context, sheet string, period models.Period) (int, error) {
	rows, err := l.grid.ReadRange(ctx, l.headerRange(sheet).String())
	if err != nil {
		return 0, fmt.Errorf("read header of %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("%s in sheet %s: %w", period.Label(), sheet, ErrPeriodColumnNotFound)
	}

	for i, v := range rows[0] {
		p, err := models.ParsePeriod(cellString(v))
		if err != nil || p != period {
			continue
		}
		col := i + 1
		l.checkLabels(rows, col, sheet, period)
		return col, nil
	}
	return 0, fmt.Errorf("%s in sheet %s: %w", period.Label(), sheet, ErrPeriodColumnNotFound)
}

// checkLabels warns when the label row does not look like a period block.
func (l *Ledger) checkLabels(rows [][]interface{}, col int, sheet string, period models.Period) {
	labelIdx := l.layout.LabelRow - l.layout.HeaderRow
	if labelIdx <= 0 || labelIdx >= len(rows) {
		return
	}
	labels := rows[labelIdx]
	for field, offset := range map[string]int{"subtotal": l.layout.SubtotalOffset, "tax": l.layout.TaxOffset} {
		got := cellString(cellAt([][]interface{}{labels}, 0, col-1+offset))
		if got != "" && got != fieldLabels[field] {
			l.log.Warn().
				Str("sheet", sheet).
				Str("period", period.String()).
				Str("field", field).
				Str("label", got).
				Str("expected", fieldLabels[field]).
				Msg("Unexpected column label in period block")
		}
	}
}

// companyColumn returns the company column from the first data row down;
// index i is sheet row FirstDataRow+i.
func (l *Ledger) companyColumn(ctx context.Context, sheet string) ([]string, error) {
	rng := sheets.Range{
		Sheet:    sheet,
		StartCol: l.layout.CompanyColumn,
		StartRow: l.layout.FirstDataRow,
		EndCol:   l.layout.CompanyColumn,
	}
	rows, err := l.grid.ReadRange(ctx, rng.String())
	if err != nil {
		return nil, fmt.Errorf("read company column of %s: %w", sheet, err)
	}

	names := make([]string, len(rows))
	for i := range rows {
		names[i] = cellString(cellAt(rows, i, 0))
	}
	return names, nil
}

// findRow returns the sheet row of company, or 0 when no row matches.
func (l *Ledger) findRow(ctx context.Context, sheet, company string) (int, string, error) {
	names, err := l.companyColumn(ctx, sheet)
	if err != nil {
		return 0, "", err
	}
	idx, ok := identity.MatchIndex(company, names)
	if !ok {
		return 0, "", nil
	}
	return l.layout.FirstDataRow + idx, names[idx], nil
}

func (l *Ledger) nextFreeRow(ctx context.Context, sheet string) (int, error) {
	names, err := l.companyColumn(ctx, sheet)
	if err != nil {
		return 0, err
	}
	last := -1
	for i, name := range names {
		if name != "" {
			last = i
		}
	}
	return l.layout.FirstDataRow + last + 1, nil
}

// readBlock reads the raw cells of one period block for rows first..last.
func (l *Ledger) readBlock(ctx context.Context, sheet string, col, first, last int) ([][]interface{}, error) {
	rng := sheets.Range{
		Sheet:    sheet,
		StartCol: col,
		StartRow: first,
		EndCol:   col + l.layout.blockWidth() - 1,
		EndRow:   last,
	}
	rows, err := l.grid.ReadRangeRaw(ctx, rng.String())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return rows, nil
}

func (l *Ledger) amountsAt(cells []interface{}) (models.Amounts, error) {
	row := [][]interface{}{cells}

	subtotal, err := parseAmount(cellAt(row, 0, l.layout.SubtotalOffset))
	if err != nil {
		return models.Amounts{}, fmt.Errorf("subtotal: %w", err)
	}
	tax, err := parseAmount(cellAt(row, 0, l.layout.TaxOffset))
	if err != nil {
		return models.Amounts{}, fmt.Errorf("tax: %w", err)
	}
	return models.Amounts{Subtotal: subtotal, Tax: tax}, nil
}
