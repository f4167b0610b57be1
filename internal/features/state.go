package features

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"churn-service/internal/dataset"
)

// ColumnKind is how an input column is encoded.
type ColumnKind string

const (
	KindNumeric     ColumnKind = "numeric"
	KindBinary      ColumnKind = "binary"
	KindCategorical ColumnKind = "categorical"
)

// ColumnSpec holds the fitted parameters of one input column.
type ColumnSpec struct {
	Name   string     `json:"name"`
	Kind   ColumnKind `json:"kind"`
	Median float64    `json:"median,omitempty"`
	Mode   string     `json:"mode,omitempty"`
	Log    bool       `json:"log,omitempty"`
	Center float64    `json:"center,omitempty"`
	Scale  float64    `json:"scale,omitempty"`
	// Categories are the one-hot indicators kept after dropping the first sorted category.
	Categories []string `json:"categories,omitempty"`
	Dropped    string   `json:"dropped_category,omitempty"`
}

// TransformState is the frozen result of Fit. It is never mutated after fitting and
// may be shared between goroutines.
type TransformState struct {
	Columns       []ColumnSpec `json:"columns"`
	OutputColumns []string     `json:"output_columns"`
	Scaling       Scaling      `json:"scaling"`
	TrainRows     int          `json:"train_rows"`
}

// InputColumns lists the raw columns the state consumes, in fit order.
func (s *TransformState) InputColumns() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Width is the number of output features.
func (s *TransformState) Width() int { return len(s.OutputColumns) }

// Transform encodes every row of table. Columns are matched by normalized name; extra
// columns are ignored and a missing one is a SchemaError.
func (s *TransformState) Transform(table *dataset.Table) (*Matrix, error) {
	idx := make([]int, len(s.Columns))
	for i, c := range s.Columns {
		idx[i] = table.ColumnIndex(c.Name)
		if idx[i] < 0 {
			return nil, &SchemaError{Column: c.Name, Reason: "column not present"}
		}
	}

	m := &Matrix{Columns: s.outputColumns(), Rows: make([][]float64, 0, table.Len())}
	values := make([]dataset.Value, len(s.Columns))
	for r, row := range table.Rows {
		for i, j := range idx {
			values[i] = row[j]
		}
		out, err := s.encode(values)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		m.Rows = append(m.Rows, out)
	}
	return m, nil
}

// TransformRecord encodes a single record exactly as Transform encodes a table row.
func (s *TransformState) TransformRecord(rec dataset.Record) ([]float64, error) {
	values := make([]dataset.Value, len(s.Columns))
	for i, c := range s.Columns {
		v, ok := rec.Get(c.Name)
		if !ok {
			return nil, &SchemaError{Column: c.Name, Reason: "column not present"}
		}
		values[i] = v
	}
	return s.encode(values)
}

func (s *TransformState) outputColumns() []string {
	return append([]string(nil), s.OutputColumns...)
}

// encode maps values aligned with s.Columns to the output feature vector.
func (s *TransformState) encode(values []dataset.Value) ([]float64, error) {
	out := make([]float64, 0, len(s.OutputColumns))
	var oneHot []float64
	for i := range s.Columns {
		spec := &s.Columns[i]
		switch spec.Kind {
		case KindNumeric:
			x, err := spec.encodeNumeric(values[i])
			if err != nil {
				return nil, err
			}
			out = append(out, x)
		case KindBinary:
			x, err := spec.encodeBinary(values[i])
			if err != nil {
				return nil, err
			}
			out = append(out, x)
		case KindCategorical:
			ind, err := spec.encodeCategorical(values[i])
			if err != nil {
				return nil, err
			}
			oneHot = append(oneHot, ind...)
		default:
			return nil, &SchemaError{Column: spec.Name, Reason: fmt.Sprintf("unknown column kind %q", spec.Kind)}
		}
	}
	return append(out, oneHot...), nil
}

func (c *ColumnSpec) preScale(x float64) float64 {
	if c.Log {
		return math.Log1p(math.Max(x, 0))
	}
	return x
}

func (c *ColumnSpec) encodeNumeric(v dataset.Value) (float64, error) {
	x := c.Median
	if !v.IsMissing() {
		f, ok := v.Float()
		if !ok {
			return 0, &SchemaError{Column: c.Name, Reason: "expected a number, got " + v.Kind().String()}
		}
		x = f
	}
	x = c.preScale(x)
	if c.Scale == 0 {
		return 0, nil
	}
	return (x - c.Center) / c.Scale, nil
}

func (c *ColumnSpec) encodeBinary(v dataset.Value) (float64, error) {
	if v.IsMissing() {
		v = dataset.Text(c.Mode)
	}
	if f, ok := v.Float(); ok {
		switch f {
		case 1:
			return 1, nil
		case 0:
			return 0, nil
		}
		return 0, &SchemaError{Column: c.Name, Reason: fmt.Sprintf("expected yes/no or 0/1, got %v", f)}
	}
	s, _ := v.Str()
	if strings.EqualFold(strings.TrimSpace(s), "yes") {
		return 1, nil
	}
	return 0, nil
}

func (c *ColumnSpec) encodeCategorical(v dataset.Value) ([]float64, error) {
	ind := make([]float64, len(c.Categories))
	s := c.Mode
	if !v.IsMissing() {
		t, ok := v.Str()
		if !ok {
			return nil, &SchemaError{Column: c.Name, Reason: "expected text, got " + v.Kind().String()}
		}
		s = strings.TrimSpace(t)
	}
	for i, cat := range c.Categories {
		if cat == s {
			ind[i] = 1
			break
		}
	}
	return ind, nil
}

// Save writes the state as indented JSON.
func (s *TransformState) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal transform state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write transform state: %w", err)
	}
	return nil
}

// LoadState reads a state written by Save and checks it is internally consistent.
func LoadState(path string) (*TransformState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transform state: %w", err)
	}
	var s TransformState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse transform state: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid transform state %s: %w", path, err)
	}
	return &s, nil
}

func (s *TransformState) validate() error {
	if len(s.Columns) == 0 {
		return fmt.Errorf("no columns")
	}
	width := 0
	for _, c := range s.Columns {
		switch c.Kind {
		case KindNumeric, KindBinary:
			width++
		case KindCategorical:
			width += len(c.Categories)
		default:
			return &SchemaError{Column: c.Name, Reason: fmt.Sprintf("unknown column kind %q", c.Kind)}
		}
	}
	if width != len(s.OutputColumns) {
		return fmt.Errorf("columns encode %d features, output lists %d", width, len(s.OutputColumns))
	}
	return nil
}
