package mirror

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"ledgersync/internal/sheets"
)

// MemoryGrid is an in-memory Grid with the Sheets API's read shape: reads
// drop trailing empty cells and rows, raw reads return numbers as float64
// and formatted reads return them with digit grouping.
type MemoryGrid struct {
	mu     sync.Mutex
	sheets map[string][][]interface{}
	writes int
	err    error
}

var _ Grid = (*MemoryGrid)(nil)

// NewMemoryGrid returns an empty grid.
func NewMemoryGrid() *MemoryGrid {
	return &MemoryGrid{sheets: map[string][][]interface{}{}}
}

// AddSheet creates an empty sheet.
func (g *MemoryGrid) AddSheet(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sheets[name]; !ok {
		g.sheets[name] = nil
	}
}

// Set stores v at col, row, creating the sheet when needed.
func (g *MemoryGrid) Set(sheet string, col, row int, v interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.set(sheet, col, row, v)
}

// SetRow stores values in row starting at column A.
func (g *MemoryGrid) SetRow(sheet string, row int, values ...interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, v := range values {
		g.set(sheet, i+1, row, v)
	}
}

// Get returns the stored value at col, row.
func (g *MemoryGrid) Get(sheet string, col, row int) interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cellAt(g.sheets[sheet], row-1, col-1)
}

// Writes returns the number of BatchWrite calls that succeeded.
func (g *MemoryGrid) Writes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writes
}

// FailWith makes every following call return err. A nil err clears it.
func (g *MemoryGrid) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// ReadRange returns the range as displayed.
func (g *MemoryGrid) ReadRange(ctx context.Context, rangeSpec string) ([][]interface{}, error) {
	rows, err := g.read(ctx, rangeSpec)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		for i, v := range row {
			row[i] = formatValue(v)
		}
	}
	return rows, nil
}

// ReadRangeRaw returns the range's underlying values.
func (g *MemoryGrid) ReadRangeRaw(ctx context.Context, rangeSpec string) ([][]interface{}, error) {
	rows, err := g.read(ctx, rangeSpec)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		for i, v := range row {
			row[i] = rawValue(v)
		}
	}
	return rows, nil
}

// BatchWrite applies every update or none of them.
func (g *MemoryGrid) BatchWrite(ctx context.Context, updates []sheets.RangeValues) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}

	parsed := make([]sheets.Range, len(updates))
	for i, u := range updates {
		r, err := sheets.ParseRange(u.Range)
		if err != nil {
			return err
		}
		if _, ok := g.sheets[r.Sheet]; !ok {
			return fmt.Errorf("unable to parse range: %s", u.Range)
		}
		parsed[i] = r
	}

	for i, u := range updates {
		r := parsed[i]
		for dr, row := range u.Values {
			for dc, v := range row {
				g.set(r.Sheet, r.StartCol+dc, r.StartRow+dr, v)
			}
		}
	}
	g.writes++
	return nil
}

func (g *MemoryGrid) read(ctx context.Context, rangeSpec string) ([][]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r, err := sheets.ParseRange(rangeSpec)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}

	data, ok := g.sheets[r.Sheet]
	if !ok {
		return nil, fmt.Errorf("unable to parse range: %s", rangeSpec)
	}

	endRow := r.EndRow
	if endRow == 0 || endRow > len(data) {
		endRow = len(data)
	}

	var out [][]interface{}
	for row := r.StartRow; row <= endRow; row++ {
		var cells []interface{}
		for col := r.StartCol; col <= r.EndCol; col++ {
			cells = append(cells, cellAt(data, row-1, col-1))
		}
		out = append(out, trimRow(cells))
	}

	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (g *MemoryGrid) set(sheet string, col, row int, v interface{}) {
	data := g.sheets[sheet]
	for len(data) < row {
		data = append(data, nil)
	}
	for len(data[row-1]) < col {
		data[row-1] = append(data[row-1], nil)
	}
	data[row-1][col-1] = v
	g.sheets[sheet] = data
}

func trimRow(cells []interface{}) []interface{} {
	end := len(cells)
	for end > 0 && (cells[end-1] == nil || cells[end-1] == "") {
		end--
	}
	out := make([]interface{}, end)
	for i := 0; i < end; i++ {
		if cells[i] == nil {
			out[i] = ""
		} else {
			out[i] = cells[i]
		}
	}
	return out
}

func rawValue(v interface{}) interface{} {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return v
	}
}

func formatValue(v interface{}) interface{} {
	switch val := v.(type) {
	case int:
		return groupDigits(int64(val))
	case int64:
		return groupDigits(val)
	case float64:
		if val == float64(int64(val)) {
			return groupDigits(int64(val))
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return v
	}
}

func groupDigits(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := n < 0
	if neg {
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		return "-" + s
	}
	return s
}
