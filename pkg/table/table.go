package table

import (
	"fmt"
	"slices"
)

// Column is a named, typed vector of values.
type Column struct {
	Name   string     `json:"name"`
	Type   ColumnType `json:"type"`
	Values []any      `json:"values"`
}

// NewColumn builds a column, copying the supplied values.
func NewColumn(name string, typ ColumnType, values []any) Column {
	return Column{Name: name, Type: typ.Clone(), Values: slices.Clone(values)}
}

// Clone returns a deep copy of the column.
func (c Column) Clone() Column {
	return Column{Name: c.Name, Type: c.Type.Clone(), Values: slices.Clone(c.Values)}
}

// Len returns the number of values.
func (c Column) Len() int { return len(c.Values) }

// Table is an immutable-by-convention collection of equally sized columns.
// Every transforming method returns a new table and leaves the receiver intact.
type Table struct {
	cols []Column
	idx  map[string]int
	rows int
}

// New assembles a table from columns. Column names must be unique and all
// columns must have the same length.
func New(cols ...Column) (*Table, error) {
	t := &Table{idx: make(map[string]int, len(cols))}
	for i, col := range cols {
		if col.Name == "" {
			return nil, fmt.Errorf("column %d has no name", i)
		}
		if _, dup := t.idx[col.Name]; dup {
			return nil, fmt.Errorf("duplicate column %s", col.Name)
		}
		if i == 0 {
			t.rows = col.Len()
		} else if col.Len() != t.rows {
			return nil, fmt.Errorf("column %s has %d values, want %d", col.Name, col.Len(), t.rows)
		}
		t.idx[col.Name] = i
		t.cols = append(t.cols, col.Clone())
	}
	return t, nil
}

// MustNew is New that panics on error. Intended for fixtures.
func MustNew(cols ...Column) *Table {
	t, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return t
}

// NumRows returns the number of rows. A nil table has none.
func (t *Table) NumRows() int {
	if t == nil {
		return 0
	}
	return t.rows
}

// NumCols returns the number of columns.
func (t *Table) NumCols() int {
	if t == nil {
		return 0
	}
	return len(t.cols)
}

// Names returns column names in order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Name
	}
	return out
}

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	if t == nil {
		return false
	}
	_, ok := t.idx[name]
	return ok
}

// Column returns a copy of the named column.
func (t *Table) Column(name string) (Column, bool) {
	if t == nil {
		return Column{}, false
	}
	i, ok := t.idx[name]
	if !ok {
		return Column{}, false
	}
	return t.cols[i].Clone(), true
}

// Columns returns copies of all columns.
func (t *Table) Columns() []Column {
	if t == nil {
		return nil
	}
	out := make([]Column, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Clone()
	}
	return out
}

// Value returns the value at row in the named column.
func (t *Table) Value(row int, name string) (any, bool) {
	if t == nil || row < 0 || row >= t.rows {
		return nil, false
	}
	i, ok := t.idx[name]
	if !ok {
		return nil, false
	}
	return t.cols[i].Values[row], true
}

// Strings renders the named column as text; missing values become "".
func (t *Table) Strings(name string) ([]string, bool) {
	if t == nil {
		return nil, false
	}
	i, ok := t.idx[name]
	if !ok {
		return nil, false
	}
	out := make([]string, t.rows)
	for r, v := range t.cols[i].Values {
		out[r] = FormatValue(v)
	}
	return out, true
}

// Row returns row i as a name to value map.
func (t *Table) Row(i int) map[string]any {
	if t == nil || i < 0 || i >= t.rows {
		return nil
	}
	out := make(map[string]any, len(t.cols))
	for _, c := range t.cols {
		out[c.Name] = c.Values[i]
	}
	return out
}

// Rows returns every row as a map, in order.
func (t *Table) Rows() []map[string]any {
	out := make([]map[string]any, 0, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		out = append(out, t.Row(i))
	}
	return out
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	return MustNew(t.cols...)
}

// Take returns a table holding the given rows in the given order.
func (t *Table) Take(rows []int) *Table {
	cols := make([]Column, len(t.cols))
	for i, c := range t.cols {
		values := make([]any, len(rows))
		for j, r := range rows {
			values[j] = c.Values[r]
		}
		cols[i] = Column{Name: c.Name, Type: c.Type.Clone(), Values: values}
	}
	return MustNew(cols...)
}

// Filter keeps the rows for which keep returns true.
func (t *Table) Filter(keep func(row int) bool) *Table {
	var rows []int
	for r := 0; r < t.rows; r++ {
		if keep(r) {
			rows = append(rows, r)
		}
	}
	return t.Take(rows)
}

// Select projects the table onto the named columns, in the given order.
func (t *Table) Select(names ...string) (*Table, error) {
	cols := make([]Column, 0, len(names))
	for _, name := range names {
		c, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("column %s not found", name)
		}
		cols = append(cols, c)
	}
	return New(cols...)
}

// ReplaceColumn swaps the column called old for col, keeping its position.
// col may carry a different name as long as it does not collide with another
// column.
func (t *Table) ReplaceColumn(old string, col Column) (*Table, error) {
	i, ok := t.idx[old]
	if !ok {
		return nil, fmt.Errorf("column %s not found", old)
	}
	if col.Len() != t.rows {
		return nil, fmt.Errorf("column %s has %d values, want %d", col.Name, col.Len(), t.rows)
	}
	if j, exists := t.idx[col.Name]; exists && j != i {
		return nil, fmt.Errorf("column %s already exists", col.Name)
	}
	cols := slices.Clone(t.cols)
	cols[i] = col
	return New(cols...)
}

// WithColumn appends col, or replaces a column of the same name in place.
func (t *Table) WithColumn(col Column) (*Table, error) {
	if t.HasColumn(col.Name) {
		return t.ReplaceColumn(col.Name, col)
	}
	if len(t.cols) > 0 && col.Len() != t.rows {
		return nil, fmt.Errorf("column %s has %d values, want %d", col.Name, col.Len(), t.rows)
	}
	return New(append(slices.Clone(t.cols), col)...)
}

// WithValue returns a copy where the named column holds v at every listed row.
// v is stored as given; callers coerce it beforehand.
func (t *Table) WithValue(rows []int, name string, v any) (*Table, error) {
	c, ok := t.Column(name)
	if !ok {
		return nil, fmt.Errorf("column %s not found", name)
	}
	for _, r := range rows {
		if r < 0 || r >= t.rows {
			return nil, fmt.Errorf("row %d out of range", r)
		}
		c.Values[r] = v
	}
	return t.ReplaceColumn(name, c)
}

// RowsWhere returns the indices of rows whose value in column name renders as
// one of the wanted strings.
func (t *Table) RowsWhere(name string, wanted ...string) ([]int, error) {
	values, ok := t.Strings(name)
	if !ok {
		return nil, fmt.Errorf("column %s not found", name)
	}
	set := make(map[string]struct{}, len(wanted))
	for _, w := range wanted {
		set[w] = struct{}{}
	}
	var rows []int
	for r, v := range values {
		if _, hit := set[v]; hit {
			rows = append(rows, r)
		}
	}
	return rows, nil
}

// LeftJoin keeps every row of t and attaches the columns of right whose key
// matches. The right key must be unique and is not repeated in the output.
// Columns present on both sides take the right-hand values. Unmatched rows get
// missing values.
func (t *Table) LeftJoin(right *Table, leftKey, rightKey string) (*Table, error) {
	leftKeys, ok := t.Strings(leftKey)
	if !ok {
		return nil, fmt.Errorf("join key %s not found on left table", leftKey)
	}
	rightKeys, ok := right.Strings(rightKey)
	if !ok {
		return nil, fmt.Errorf("join key %s not found on right table", rightKey)
	}
	lookup := make(map[string]int, len(rightKeys))
	for r, k := range rightKeys {
		if _, dup := lookup[k]; dup {
			return nil, fmt.Errorf("duplicate join key %q on right table", k)
		}
		lookup[k] = r
	}
	matches := make([]int, len(leftKeys))
	for r, k := range leftKeys {
		if m, hit := lookup[k]; hit {
			matches[r] = m
		} else {
			matches[r] = -1
		}
	}

	var added []Column
	replaced := make(map[string]bool)
	for _, rc := range right.cols {
		if rc.Name == rightKey {
			continue
		}
		values := make([]any, len(matches))
		for r, m := range matches {
			if m >= 0 {
				values[r] = rc.Values[m]
			}
		}
		added = append(added, Column{Name: rc.Name, Type: rc.Type.Clone(), Values: values})
		replaced[rc.Name] = true
	}
	cols := make([]Column, 0, len(t.cols)+len(added))
	for _, c := range t.cols {
		if replaced[c.Name] && c.Name != leftKey {
			continue
		}
		cols = append(cols, c)
	}
	for _, c := range added {
		if c.Name == leftKey {
			continue
		}
		cols = append(cols, c)
	}
	return New(cols...)
}
