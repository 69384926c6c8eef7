package sheets

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ColumnLetter converts a 1-based column index to its A1 letters (1 → A, 27 → AA).
func ColumnLetter(col int) string {
	if col < 1 {
		return ""
	}
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// ColumnIndex converts A1 column letters to a 1-based index. It returns 0
// for anything that is not a column reference.
func ColumnIndex(letters string) int {
	if letters == "" {
		return 0
	}
	col := 0
	for _, r := range strings.ToUpper(letters) {
		if r < 'A' || r > 'Z' {
			return 0
		}
		col = col*26 + int(r-'A'+1)
	}
	return col
}

// Range is a rectangular A1 range on one sheet. Columns and rows are
// 1-based; EndRow 0 means the range runs to the last row of the sheet.
type Range struct {
	Sheet    string
	StartCol int
	StartRow int
	EndCol   int
	EndRow   int
}

// Cell returns the single-cell range at col, row.
func Cell(sheet string, col, row int) Range {
	return Range{Sheet: sheet, StartCol: col, StartRow: row, EndCol: col, EndRow: row}
}

// String renders the range in A1 notation with a quoted sheet name.
func (r Range) String() string {
	var b strings.Builder
	if r.Sheet != "" {
		b.WriteString("'")
		b.WriteString(strings.ReplaceAll(r.Sheet, "'", "''"))
		b.WriteString("'!")
	}
	b.WriteString(ColumnLetter(r.StartCol))
	b.WriteString(strconv.Itoa(r.StartRow))
	if r.EndCol == r.StartCol && r.EndRow == r.StartRow {
		return b.String()
	}
	b.WriteString(":")
	b.WriteString(ColumnLetter(r.EndCol))
	if r.EndRow > 0 {
		b.WriteString(strconv.Itoa(r.EndRow))
	}
	return b.String()
}

var cellPattern = regexp.MustCompile(`^([A-Za-z]+)(\d*)$`)

// ParseRange parses A1 notation such as "'2025'!B3:E10", "Sheet1!A3:A" or "C7".
func ParseRange(ref string) (Range, error) {
	var r Range

	body := ref
	if i := strings.LastIndex(ref, "!"); i >= 0 {
		sheet := ref[:i]
		if strings.HasPrefix(sheet, "'") && strings.HasSuffix(sheet, "'") && len(sheet) >= 2 {
			sheet = strings.ReplaceAll(sheet[1:len(sheet)-1], "''", "'")
		}
		r.Sheet = sheet
		body = ref[i+1:]
	}

	start, end, isRange := strings.Cut(body, ":")

	col, row, err := parseCell(start)
	if err != nil || row == 0 {
		return Range{}, fmt.Errorf("invalid A1 reference %q", ref)
	}
	r.StartCol, r.StartRow = col, row

	if !isRange {
		r.EndCol, r.EndRow = col, row
		return r, nil
	}

	col, row, err = parseCell(end)
	if err != nil {
		return Range{}, fmt.Errorf("invalid A1 reference %q", ref)
	}
	r.EndCol, r.EndRow = col, row
	if r.EndCol < r.StartCol || (r.EndRow != 0 && r.EndRow < r.StartRow) {
		return Range{}, fmt.Errorf("inverted A1 range %q", ref)
	}
	return r, nil
}

func parseCell(s string) (col, row int, err error) {
	m := cellPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("invalid cell %q", s)
	}
	col = ColumnIndex(m[1])
	if m[2] != "" {
		row, err = strconv.Atoi(m[2])
		if err != nil {
			return 0, 0, err
		}
	}
	return col, row, nil
}
