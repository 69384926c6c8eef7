package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNote_ComputeTotals(t *testing.T) {
	note := Note{
		ReferenceNumber: "S-100",
		Taxable:         true,
		LineItems: []LineItem{
			{ProductCode: "A1", Quantity: 3, UnitPrice: 1200, Amount: 3600},
			{ProductCode: "B2", Quantity: 1, UnitPrice: 1555, Amount: 1555},
		},
	}

	note.ComputeTotals(DefaultTaxRate)

	assert.Equal(t, int64(5155), note.Subtotal)
	assert.Equal(t, int64(515), note.Tax, "tax is truncated to whole yen")
	assert.Equal(t, note.Subtotal+note.Tax, note.Total)
}

func TestNote_ComputeTotals_NonTaxable(t *testing.T) {
	note := Note{
		LineItems: []LineItem{{Amount: 1000}},
	}

	note.ComputeTotals(decimal.RequireFromString("0.08"))

	assert.Equal(t, int64(1000), note.Subtotal)
	assert.Zero(t, note.Tax)
	assert.Equal(t, int64(1000), note.Total)
}
