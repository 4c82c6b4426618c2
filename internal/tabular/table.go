// Package tabular reads and writes the flat tables exchanged between pipeline
// stages. Every stage boundary is a CSV (optionally XLSX) file with a header row.
package tabular

import (
	"errors"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrMissingColumns is returned when a table lacks required columns.
var ErrMissingColumns = errors.New("missing required columns")

// Table is an in-memory table with a header row.
type Table struct {
	Header []string
	Rows   [][]string

	index map[string]int
	// nums holds the source record number of each row when it differs from
	// the row position, i.e. after blank records were skipped.
	nums []int
}

// New creates an empty table with the given header.
func New(header ...string) *Table {
	t := &Table{Header: append([]string(nil), header...)}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		if _, dup := t.index[h]; !dup {
			t.index[h] = i
		}
	}
}

// Append adds a row. Rows shorter than the header read as empty cells.
func (t *Table) Append(row ...string) {
	if t.nums != nil {
		next := len(t.Rows) + 1
		if n := len(t.nums); n > 0 {
			next = t.nums[n-1] + 1
		}
		t.nums = append(t.nums, next)
	}
	t.Rows = append(t.Rows, row)
}

// appendAt adds a row read as source record num.
func (t *Table) appendAt(num int, row []string) {
	if t.nums == nil && num != len(t.Rows)+1 {
		t.nums = make([]int, len(t.Rows), len(t.Rows)+1)
		for i := range t.nums {
			t.nums[i] = i + 1
		}
	}
	if t.nums != nil {
		t.nums = append(t.nums, num)
	}
	t.Rows = append(t.Rows, row)
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// Column returns the position of a column, or -1. Safe for concurrent use.
func (t *Table) Column(name string) int {
	if t.index != nil {
		if i, ok := t.index[name]; ok {
			return i
		}
		return -1
	}
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Require checks that every named column is present. The error lists the
// missing columns in sorted order and wraps ErrMissingColumns.
func (t *Table) Require(cols ...string) error {
	var missing []string
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if seen[c] {
			continue
		}
		seen[c] = true
		if t.Column(c) < 0 {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return eris.Wrapf(ErrMissingColumns, "tabular: %s", strings.Join(missing, ", "))
}

// Record returns a read-only view of data row i (0-based).
func (t *Table) Record(i int) Record {
	num := i + 1
	if i < len(t.nums) {
		num = t.nums[i]
	}
	return Record{Num: num, table: t, values: t.Rows[i]}
}

// Records returns views of every data row in file order.
func (t *Table) Records() []Record {
	out := make([]Record, len(t.Rows))
	for i := range t.Rows {
		out[i] = t.Record(i)
	}
	return out
}

// Record is one data row addressed by column name. Num is the 1-based number
// of the source record below the header. Skipped blank records still count,
// so in a CSV without quoted line breaks or empty lines Num + 1 is the file
// line.
type Record struct {
	Num    int
	table  *Table
	values []string
}

// Get returns the cell under col, or "" when the column or cell is absent.
func (r Record) Get(col string) string {
	i := r.table.Column(col)
	if i < 0 || i >= len(r.values) {
		return ""
	}
	return r.values[i]
}
