// Package dataset holds the tabular data model shared by training and serving:
// typed cell values, feature records and tables, label vectors, the CSV loader and
// the stratified train/test split.
//
// Train and test partitions are distinct types that only StratifiedSplit can build,
// so code that fits transformation parameters can demand a TrainSet and never see
// held-out rows.
package dataset

import (
	"fmt"
	"strings"
)

// Kind identifies what a Value holds.
type Kind uint8

const (
	KindMissing Kind = iota
	KindNumber
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	default:
		return "missing"
	}
}

// Value is a single cell: a number, a piece of text, or nothing.
type Value struct {
	kind Kind
	num  float64
	text string
}

func Number(v float64) Value { return Value{kind: KindNumber, num: v} }

func Text(s string) Value { return Value{kind: KindText, text: s} }

func Missing() Value { return Value{} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsMissing() bool { return v.kind == KindMissing }

// Float returns the numeric payload and whether the value is a number.
func (v Value) Float() (float64, bool) { return v.num, v.kind == KindNumber }

// Str returns the text payload and whether the value is text.
func (v Value) Str() (string, bool) { return v.text, v.kind == KindText }

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return fmt.Sprintf("%g", v.num)
	case KindText:
		return v.text
	default:
		return "<missing>"
	}
}

// NormalizeName trims and lower-cases a column name. Every path that looks up
// columns by name goes through this function.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Record is one account: an ordered mapping from column name to value.
type Record struct {
	Columns []string
	Values  []Value
}

// Get looks up a column by its normalized name.
func (r Record) Get(name string) (Value, bool) {
	name = NormalizeName(name)
	for i, c := range r.Columns {
		if NormalizeName(c) == name {
			return r.Values[i], true
		}
	}
	return Value{}, false
}

// Table is an ordered sequence of rows sharing one column set.
type Table struct {
	Columns []string
	Rows    [][]Value
}

// NewTable creates an empty table with the given columns.
func NewTable(columns ...string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols}
}

// AddRow appends a row. The row must have one value per column.
func (t *Table) AddRow(values ...Value) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(values), len(t.Columns))
	}
	row := make([]Value, len(values))
	copy(row, values)
	t.Rows = append(t.Rows, row)
	return nil
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Record returns row i as a Record sharing the table's column slice.
func (t *Table) Record(i int) Record {
	return Record{Columns: t.Columns, Values: t.Rows[i]}
}

// ColumnIndex returns the position of a column by normalized name, or -1.
func (t *Table) ColumnIndex(name string) int {
	name = NormalizeName(name)
	for i, c := range t.Columns {
		if NormalizeName(c) == name {
			return i
		}
	}
	return -1
}

// subset copies the rows at the given indices into a new table.
func (t *Table) subset(indices []int) *Table {
	out := NewTable(t.Columns...)
	out.Rows = make([][]Value, 0, len(indices))
	for _, idx := range indices {
		row := make([]Value, len(t.Rows[idx]))
		copy(row, t.Rows[idx])
		out.Rows = append(out.Rows, row)
	}
	return out
}

// Labels holds one churn label (1 churn, 0 retained) per table row.
type Labels []int

// Positives counts rows labelled 1.
func (l Labels) Positives() int {
	n := 0
	for _, v := range l {
		if v == 1 {
			n++
		}
	}
	return n
}

// PositiveRate is the fraction of rows labelled 1, or 0 for an empty vector.
func (l Labels) PositiveRate() float64 {
	if len(l) == 0 {
		return 0
	}
	return float64(l.Positives()) / float64(len(l))
}

// ColumnSummary describes one column for dataset inspection.
type ColumnSummary struct {
	Name    string
	Kind    Kind
	Missing int
}

// Summary describes a table: row count plus per-column kind and missing count.
type Summary struct {
	Rows    int
	Columns []ColumnSummary
}

// Summarize reports the dominant kind and missing count of every column. A column
// holding any text is reported as text.
func (t *Table) Summarize() Summary {
	s := Summary{Rows: t.Len(), Columns: make([]ColumnSummary, len(t.Columns))}
	for j, name := range t.Columns {
		cs := ColumnSummary{Name: name, Kind: KindMissing}
		for _, row := range t.Rows {
			switch row[j].Kind() {
			case KindMissing:
				cs.Missing++
			case KindText:
				cs.Kind = KindText
			case KindNumber:
				if cs.Kind == KindMissing {
					cs.Kind = KindNumber
				}
			}
		}
		s.Columns[j] = cs
	}
	return s
}
