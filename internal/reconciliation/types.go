package reconciliation

import (
	"ledgersync/pkg/models"
)

// Discrepancy is a (company, period) whose ledger store totals differ from
// the external ledger's amounts.
type Discrepancy struct {
	Company        string        `json:"company"`        // Ledger store spelling; mirror spelling for mirror-only rows
	MirrorCompany  string        `json:"mirror_company"` // Matched mirror row name, empty when unmatched
	Period         models.Period `json:"period"`
	DBSubtotal     int64         `json:"db_subtotal"`
	DBTax          int64         `json:"db_tax"`
	MirrorSubtotal int64         `json:"mirror_subtotal"`
	MirrorTax      int64         `json:"mirror_tax"`
	MirrorOnly     bool          `json:"mirror_only,omitempty"` // No ledger store row matched this mirror row
}

// Matched reports whether a mirror row was found for the store row.
func (d *Discrepancy) Matched() bool {
	return d.MirrorCompany != ""
}

// SubtotalDiff returns mirror minus store subtotal.
func (d *Discrepancy) SubtotalDiff() int64 {
	return d.MirrorSubtotal - d.DBSubtotal
}

// TaxDiff returns mirror minus store tax.
func (d *Discrepancy) TaxDiff() int64 {
	return d.MirrorTax - d.DBTax
}

// Options tunes a reconciliation run.
type Options struct {
	// IncludeMirrorOnly also reports mirror rows with non-zero amounts that
	// no ledger store row matched.
	IncludeMirrorOnly bool
}
