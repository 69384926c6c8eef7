package services

import (
	"context"

	"ledgersync/pkg/models"
)

// ExternalLedger is the contract the engine needs from the human-editable
// billing ledger. Any spreadsheet, flat file or remote ledger API that
// implements these two operations is a valid backing.
type ExternalLedger interface {
	// MirrorAmounts adds subtotal and tax to the accumulator cells of
	// company in period and reports the values before and after the write.
	MirrorAmounts(ctx context.Context, company string, period models.Period, subtotal, tax int64) (*models.MirrorResult, error)

	// ReadAmounts returns every company row of the ledger for period.
	ReadAmounts(ctx context.Context, period models.Period) ([]MirrorAmount, error)
}

// MirrorAmount is one company row of a period block in the external ledger.
type MirrorAmount struct {
	Company  string `json:"company"`  // Name exactly as written in the ledger
	Row      int    `json:"row"`      // 1-based sheet row
	Subtotal int64  `json:"subtotal"` // Accumulated sales amount
	Tax      int64  `json:"tax"`      // Accumulated consumption tax
}

// PaymentResult reports an update of a payment cell.
type PaymentResult struct {
	Company       string `json:"company"`
	PreviousValue int64  `json:"previous_value"`
	NewValue      int64  `json:"new_value"`
}
