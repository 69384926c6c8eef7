package mirror

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

var amountNoise = strings.NewReplacer(",", "", " ", "", "¥", "", "円", "")

// parseAmount converts a cell value to whole yen. Empty cells are zero;
// fractions are truncated.
func parseAmount(v interface{}) (int64, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(val), nil
	case int64:
		return val, nil
	case float64:
		return decimal.NewFromFloat(val).Truncate(0).IntPart(), nil
	case string:
		cleaned := amountNoise.Replace(strings.TrimSpace(norm.NFKC.String(val)))
		if cleaned == "" {
			return 0, nil
		}
		d, err := decimal.NewFromString(cleaned)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidCell, val)
		}
		return d.Truncate(0).IntPart(), nil
	default:
		return 0, fmt.Errorf("%w: %v (%T)", ErrInvalidCell, val, val)
	}
}

func cellString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// cellAt returns rows[r][c], or nil when the API trimmed that cell away.
func cellAt(rows [][]interface{}, r, c int) interface{} {
	if r < 0 || r >= len(rows) || c < 0 || c >= len(rows[r]) {
		return nil
	}
	return rows[r][c]
}

func isMissing(err error) bool {
	return errors.Is(err, ErrPeriodColumnNotFound)
}
