package reconciliation

import (
	"fmt"
	"io"
	"strings"
)

// WriteReport renders discrepancies as plain text, one line each.
// Differences are mirror minus store.
func WriteReport(w io.Writer, discrepancies []Discrepancy) error {
	if len(discrepancies) == 0 {
		_, err := fmt.Fprintln(w, "No discrepancies found.")
		return err
	}

	if _, err := fmt.Fprintf(w, "Discrepancies: %d\n", len(discrepancies)); err != nil {
		return err
	}

	for _, d := range discrepancies {
		var err error
		if d.MirrorOnly {
			_, err = fmt.Fprintf(w, "%s %s: mirror only, subtotal %d tax %d\n",
				d.Period, d.Company, d.MirrorSubtotal, d.MirrorTax)
		} else {
			row := "(no row)"
			if d.Matched() {
				row = fmt.Sprintf("%q", d.MirrorCompany)
			}
			_, err = fmt.Fprintf(w, "%s %s: store subtotal %d tax %d, mirror %s subtotal %d tax %d (%s)\n",
				d.Period, d.Company, d.DBSubtotal, d.DBTax, row, d.MirrorSubtotal, d.MirrorTax, diffSummary(d))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func diffSummary(d Discrepancy) string {
	var parts []string
	if diff := d.SubtotalDiff(); diff != 0 {
		parts = append(parts, fmt.Sprintf("subtotal %+d", diff))
	}
	if diff := d.TaxDiff(); diff != 0 {
		parts = append(parts, fmt.Sprintf("tax %+d", diff))
	}
	return strings.Join(parts, ", ")
}
