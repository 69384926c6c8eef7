package mirror

import (
	"strconv"
	"strings"
)

// Layout describes where the billing spreadsheet keeps its data. Rows and
// columns are 1-based.
//
// Each period block starts at the column whose header cell carries the
// period label and spans four columns: subtotal, tax, payment and balance.
type Layout struct {
	SheetName     string // Sheet title; "{year}" is replaced by the period's year
	HeaderRow     int    // Row with period labels such as 2025年3月
	LabelRow      int    // Row with the per-column field labels
	FirstDataRow  int    // First company row
	CompanyColumn int    // Column holding company names
	MaxColumn     int    // Last column scanned for period labels

	SubtotalOffset int // Block offsets from the period's first column
	TaxOffset      int
	PaymentOffset  int
	BalanceOffset  int
}

// Field labels written when a sheet's label row is initialized.
var fieldLabels = map[string]string{
	"subtotal": "発生",
	"tax":      "消費税",
	"payment":  "消滅",
	"balance":  "残高",
}

// DefaultLayout is the layout of the billing spreadsheet the engine was
// built against.
func DefaultLayout() Layout {
	return Layout{
		SheetName:      "{year}",
		HeaderRow:      1,
		LabelRow:       2,
		FirstDataRow:   3,
		CompanyColumn:  1,
		MaxColumn:      260,
		SubtotalOffset: 0,
		TaxOffset:      1,
		PaymentOffset:  2,
		BalanceOffset:  3,
	}
}

// withDefaults fills zero fields from DefaultLayout. Offsets are taken as
// given when any of them is set.
func (l Layout) withDefaults() Layout {
	d := DefaultLayout()
	if l.SheetName == "" {
		l.SheetName = d.SheetName
	}
	if l.HeaderRow <= 0 {
		l.HeaderRow = d.HeaderRow
	}
	if l.LabelRow <= 0 {
		l.LabelRow = d.LabelRow
	}
	if l.FirstDataRow <= 0 {
		l.FirstDataRow = d.FirstDataRow
	}
	if l.CompanyColumn <= 0 {
		l.CompanyColumn = d.CompanyColumn
	}
	if l.MaxColumn <= 0 {
		l.MaxColumn = d.MaxColumn
	}
	if l.SubtotalOffset == 0 && l.TaxOffset == 0 && l.PaymentOffset == 0 && l.BalanceOffset == 0 {
		l.SubtotalOffset, l.TaxOffset, l.PaymentOffset, l.BalanceOffset =
			d.SubtotalOffset, d.TaxOffset, d.PaymentOffset, d.BalanceOffset
	}
	return l
}

// Sheet returns the sheet title holding year.
func (l Layout) Sheet(year int) string {
	return strings.ReplaceAll(l.SheetName, "{year}", strconv.Itoa(year))
}

// blockWidth is the number of columns read for one period block.
func (l Layout) blockWidth() int {
	width := 0
	for _, off := range []int{l.SubtotalOffset, l.TaxOffset, l.PaymentOffset, l.BalanceOffset} {
		if off+1 > width {
			width = off + 1
		}
	}
	return width
}
