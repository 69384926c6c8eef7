package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoicePeriod identifies one (billing period, company) pair in the ledger store.
type InvoicePeriod struct {
	ID        int64     // Store identifier
	Period    Period    // Billing month
	Company   string    // Canonical company name
	CreatedAt time.Time // First write for this period/company
	UpdatedAt time.Time // Bumped on every subsequent write
}

// Note is one source document's worth of billing data (a delivery note or
// purchase invoice).
type Note struct {
	ID              int64      `json:"id,omitempty" yaml:"id,omitempty"`
	ReferenceNumber string     `json:"reference_number" yaml:"reference_number"` // Slip number printed on the document
	Date            string     `json:"date" yaml:"date"`                         // Document date as extracted (YYYY/MM/DD)
	Tag             string     `json:"tag,omitempty" yaml:"tag,omitempty"`       // Attributed salesperson
	Subtotal        int64      `json:"subtotal" yaml:"subtotal"`
	Tax             int64      `json:"tax" yaml:"tax"`
	Total           int64      `json:"total" yaml:"total"`
	Taxable         bool       `json:"taxable" yaml:"taxable"`
	LineItems       []LineItem `json:"line_items" yaml:"line_items"`
	CreatedAt       time.Time  `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt       time.Time  `json:"updated_at,omitempty" yaml:"-"`
}

// LineItem is one row of a note's itemized detail.
type LineItem struct {
	ProductCode string `json:"code" yaml:"code"`
	ProductName string `json:"name" yaml:"name"`
	Quantity    int64  `json:"quantity" yaml:"quantity"`
	UnitPrice   int64  `json:"unit_price" yaml:"unit_price"`
	Amount      int64  `json:"amount" yaml:"amount"`
}

// DefaultTaxRate is the standard consumption tax rate.
var DefaultTaxRate = decimal.RequireFromString("0.10")

// ComputeTotals derives Subtotal, Tax and Total from the line items.
// Tax is truncated to whole yen and is zero for non-taxable notes.
func (n *Note) ComputeTotals(rate decimal.Decimal) {
	var subtotal int64
	for _, item := range n.LineItems {
		subtotal += item.Amount
	}

	var tax int64
	if n.Taxable {
		tax = decimal.NewFromInt(subtotal).Mul(rate).Floor().IntPart()
	}

	n.Subtotal = subtotal
	n.Tax = tax
	n.Total = subtotal + tax
}

// PeriodTotals is the aggregate of all notes stored for one company and period.
type PeriodTotals struct {
	Company   string `json:"company"`
	Period    Period `json:"period"`
	Subtotal  int64  `json:"subtotal"`
	Tax       int64  `json:"tax"`
	NoteCount int    `json:"note_count"`
}

// PreviousBilling summarizes the carried-over position printed on an invoice.
type PreviousBilling struct {
	PreviousAmount  int64 `json:"previous_amount"`  // Balance of the previous month
	PaymentReceived int64 `json:"payment_received"` // Payment booked in the current month
	CarriedOver     int64 `json:"carried_over"`     // PreviousAmount - PaymentReceived
}
