package billing

import (
	"fmt"
	"strings"

	"ledgersync/pkg/models"
)

func validateRequest(req models.BatchRequest) error {
	if strings.TrimSpace(req.Company) == "" {
		return NewValidationError("company", req.Company, "company is required")
	}
	if req.Period.IsZero() {
		return NewValidationError("period", req.Period, "period is required")
	}
	if req.Period.Month < 1 || req.Period.Month > 12 {
		return NewValidationError("period", req.Period, "month must be between 1 and 12")
	}
	if len(req.Notes) == 0 {
		return NewValidationError("notes", len(req.Notes), "at least one note is required")
	}

	for i, n := range req.Notes {
		if err := validateNote(n, fmt.Sprintf("notes[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

func validateNote(n models.Note, field string) error {
	if strings.TrimSpace(n.ReferenceNumber) == "" {
		return NewValidationError(field+".reference_number", n.ReferenceNumber, "reference number is required")
	}
	for j, item := range n.LineItems {
		if item.Quantity < 0 {
			return NewValidationError(fmt.Sprintf("%s.line_items[%d].quantity", field, j), item.Quantity, "quantity must not be negative")
		}
	}
	return nil
}

func validateAmounts(subtotal, tax, total int64) error {
	if subtotal < 0 {
		return NewValidationError("subtotal", subtotal, "must not be negative")
	}
	if tax < 0 {
		return NewValidationError("tax", tax, "must not be negative")
	}
	if total < 0 {
		return NewValidationError("total", total, "must not be negative")
	}
	return nil
}
