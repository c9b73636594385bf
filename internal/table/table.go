// Package table provides the in-memory tabular structure handed to agents.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/xiaot623/dataquery/internal/domain"
)

// Kind is the inferred type of a column.
type Kind string

const (
	KindEmpty  Kind = "empty"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindString Kind = "string"
)

// Numeric reports whether values of this kind can be plotted on a value axis.
func (k Kind) Numeric() bool {
	return k == KindInt || k == KindFloat
}

// nullTokens are the cell spellings treated as missing values.
var nullTokens = map[string]struct{}{
	"":         {},
	"NA":       {},
	"N/A":      {},
	"n/a":      {},
	"NaN":      {},
	"nan":      {},
	"-NaN":     {},
	"-nan":     {},
	"null":     {},
	"NULL":     {},
	"None":     {},
	"#N/A":     {},
	"#NA":      {},
	"<NA>":     {},
	"NaT":      {},
	"#N/A N/A": {},
}

// IsNull reports whether a cell holds a missing value.
func IsNull(v string) bool {
	_, ok := nullTokens[strings.TrimSpace(v)]
	return ok
}

// Table is a named, rectangular set of string cells.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// New builds a table, padding short rows with empty cells.
func New(name string, columns []string, rows [][]string) *Table {
	t := &Table{
		Name:    name,
		Columns: append([]string(nil), columns...),
		Rows:    make([][]string, len(rows)),
	}
	for i, row := range rows {
		t.Rows[i] = padRow(row, len(columns))
	}
	return t
}

func padRow(row []string, width int) []string {
	out := make([]string, width)
	copy(out, row)
	return out
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return len(t.Rows) }

// NumCols returns the column count.
func (t *Table) NumCols() int { return len(t.Columns) }

// ColumnIndex returns the position of the first column with the given name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of the named column's cells.
func (t *Table) Column(name string) ([]string, bool) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	return t.columnAt(idx), true
}

func (t *Table) columnAt(idx int) []string {
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out
}

// Head returns a table holding at most the first n rows.
func (t *Table) Head(n int) *Table {
	if n < 0 || n > len(t.Rows) {
		n = len(t.Rows)
	}
	return New(t.Name, t.Columns, t.Rows[:n])
}

// Normalize rewrites every null-equivalent cell to the empty string.
func (t *Table) Normalize() {
	for _, row := range t.Rows {
		for j, v := range row {
			if IsNull(v) {
				row[j] = ""
			}
		}
	}
}

// Kind infers the type of column idx from its non-null cells.
func (t *Table) Kind(idx int) Kind {
	kind := KindEmpty
	for _, row := range t.Rows {
		v := row[idx]
		if IsNull(v) {
			continue
		}
		kind = widen(kind, cellKind(v))
		if kind == KindString {
			return kind
		}
	}
	return kind
}

// Kinds infers every column's type.
func (t *Table) Kinds() []Kind {
	kinds := make([]Kind, len(t.Columns))
	for i := range t.Columns {
		kinds[i] = t.Kind(i)
	}
	return kinds
}

func cellKind(v string) Kind {
	v = strings.TrimSpace(v)
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return KindInt
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return KindFloat
	}
	switch strings.ToLower(v) {
	case "true", "false":
		return KindBool
	}
	return KindString
}

func widen(have, next Kind) Kind {
	switch {
	case have == KindEmpty:
		return next
	case have == next:
		return have
	case have.Numeric() && next.Numeric():
		return KindFloat
	default:
		return KindString
	}
}

// ParseFloat parses a numeric cell.
func ParseFloat(v string) (float64, bool) {
	if IsNull(v) {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Preview dumps the first n rows column-wise with typed values; nulls become "".
func (t *Table) Preview(n int) domain.Preview {
	head := t.Head(n)
	kinds := t.Kinds()
	out := make(domain.Preview, len(t.Columns))
	for j, col := range t.Columns {
		cells := make(map[string]any, head.NumRows())
		for i, row := range head.Rows {
			cells[strconv.Itoa(i)] = typedValue(row[j], kinds[j])
		}
		// Duplicate column names collapse onto the last one, as a dict would.
		out[col] = cells
	}
	return out
}

func typedValue(v string, kind Kind) any {
	if IsNull(v) {
		return ""
	}
	v = strings.TrimSpace(v)
	switch kind {
	case KindInt:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case KindFloat:
		// JSON has no encoding for Inf or NaN; those stay as written.
		if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return f
		}
	case KindBool:
		return strings.EqualFold(v, "true")
	}
	return v
}

// WriteCSV writes the header and all rows.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return nil
}

// ConcatColumns joins tables side by side by row position. No key alignment
// is attempted: rows of different tables that share an index end up on the
// same output row, and shorter tables are padded with empty cells.
func ConcatColumns(name string, tables ...*Table) *Table {
	var columns []string
	height := 0
	for _, t := range tables {
		columns = append(columns, t.Columns...)
		if t.NumRows() > height {
			height = t.NumRows()
		}
	}
	rows := make([][]string, height)
	for i := range rows {
		row := make([]string, 0, len(columns))
		for _, t := range tables {
			if i < t.NumRows() {
				row = append(row, t.Rows[i]...)
			} else {
				row = append(row, make([]string, t.NumCols())...)
			}
		}
		rows[i] = row
	}
	return &Table{Name: name, Columns: columns, Rows: rows}
}
