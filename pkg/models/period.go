package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Period is a billing month.
type Period struct {
	Year  int
	Month int
}

var periodPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(\d{4})-(\d{1,2})$`),
	regexp.MustCompile(`^(\d{4})/(\d{1,2})$`),
	regexp.MustCompile(`^(\d{4})年(\d{1,2})月$`),
	regexp.MustCompile(`^(\d{4})(\d{2})$`),
}

// ParsePeriod parses "2025-03", "2025/03", "202503" or "2025年3月".
// Full-width digits are accepted.
func ParsePeriod(s string) (Period, error) {
	cleaned := strings.TrimSpace(norm.NFKC.String(s))
	for _, re := range periodPatterns {
		m := re.FindStringSubmatch(cleaned)
		if m == nil {
			continue
		}
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			return Period{}, fmt.Errorf("invalid month in period %q", s)
		}
		return Period{Year: year, Month: month}, nil
	}
	return Period{}, fmt.Errorf("unrecognized period %q", s)
}

// MustParsePeriod is ParsePeriod for literals. It panics on error.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the store key form, e.g. "2025-03".
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Label returns the spreadsheet header form, e.g. "2025年3月".
func (p Period) Label() string {
	return fmt.Sprintf("%d年%d月", p.Year, p.Month)
}

// IsZero reports whether p is the zero Period.
func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

// Prev returns the preceding month.
func (p Period) Prev() Period {
	if p.Month == 1 {
		return Period{Year: p.Year - 1, Month: 12}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

// Next returns the following month.
func (p Period) Next() Period {
	if p.Month == 12 {
		return Period{Year: p.Year + 1, Month: 1}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// MarshalJSON encodes the period as its store key.
func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts any form ParsePeriod understands.
func (p *Period) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePeriod(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// UnmarshalYAML accepts any form ParsePeriod understands.
func (p *Period) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParsePeriod(value.Value)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

var deliveryDateFormats = []string{"2006/01/02", "2006/1/2", "2006-01-02", "2006-1-2"}

// TargetPeriod returns the billing month a delivery falls into under a
// closing-day rule. "月末", "末日" or an empty rule bill the delivery month;
// "20日" bills deliveries after the 20th in the following month.
func TargetPeriod(deliveryDate, closingDay string) (Period, error) {
	cleaned := strings.TrimSpace(norm.NFKC.String(deliveryDate))

	var date time.Time
	var err error
	for _, layout := range deliveryDateFormats {
		date, err = time.Parse(layout, cleaned)
		if err == nil {
			break
		}
	}
	if err != nil {
		return Period{}, fmt.Errorf("unrecognized delivery date %q", deliveryDate)
	}

	p := Period{Year: date.Year(), Month: int(date.Month())}

	rule := strings.TrimSpace(norm.NFKC.String(closingDay))
	if rule == "" || strings.Contains(rule, "月末") || rule == "末日" {
		return p, nil
	}

	day, convErr := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(rule, "日")))
	if convErr != nil {
		return p, nil
	}
	if date.Day() > day {
		return p.Next(), nil
	}
	return p, nil
}
