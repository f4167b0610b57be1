// Package features turns raw account tables into the numeric matrices the classifier
// consumes. Fitting learns imputation, encoding and scaling parameters from a training
// partition and freezes them in a TransformState; the same state then transforms test
// tables and single inference records.
package features

import (
	"fmt"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog/log"

	"churn-service/internal/dataset"
)

// Scaling selects how numeric columns are rescaled.
type Scaling string

const (
	ScalingStandard Scaling = "standard"
	ScalingMinMax   Scaling = "minmax"
)

// DefaultLogColumns are skewed count columns compressed with log1p before scaling.
var DefaultLogColumns = []string{"numbervmailmessages"}

// Options controls which columns are log-compressed and how numeric columns are scaled.
type Options struct {
	// LogColumns get log(1+max(x,0)) after imputation. Names absent from the table are ignored.
	LogColumns []string
	Scaling    Scaling
}

// DefaultOptions log-compresses DefaultLogColumns and uses standard scaling.
func DefaultOptions() Options {
	return Options{
		LogColumns: append([]string(nil), DefaultLogColumns...),
		Scaling:    ScalingStandard,
	}
}

// Matrix is a dense feature matrix with named columns.
type Matrix struct {
	Columns []string
	Rows    [][]float64
}

// Len is the number of rows; a nil matrix has none.
func (m *Matrix) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Rows)
}

// Fit learns a TransformState from the training partition.
func Fit(train dataset.TrainSet, opts Options) (*TransformState, error) {
	table := train.Table()
	if table.Len() == 0 {
		return nil, ErrEmptyTable
	}
	if opts.Scaling == "" {
		opts.Scaling = ScalingStandard
	}
	if opts.Scaling != ScalingStandard && opts.Scaling != ScalingMinMax {
		return nil, fmt.Errorf("unknown scaling method %q", opts.Scaling)
	}

	logCols := make(map[string]bool, len(opts.LogColumns))
	for _, c := range opts.LogColumns {
		logCols[dataset.NormalizeName(c)] = true
	}

	state := &TransformState{Scaling: opts.Scaling, TrainRows: table.Len()}
	var oneHot []string
	for j, raw := range table.Columns {
		name := dataset.NormalizeName(raw)
		spec, err := fitColumn(name, table, j, opts.Scaling, logCols[name])
		if err != nil {
			return nil, err
		}
		state.Columns = append(state.Columns, spec)
		switch spec.Kind {
		case KindCategorical:
			for _, c := range spec.Categories {
				oneHot = append(oneHot, name+"_"+c)
			}
		default:
			state.OutputColumns = append(state.OutputColumns, name)
		}
	}
	state.OutputColumns = append(state.OutputColumns, oneHot...)

	log.Debug().
		Int("train_rows", state.TrainRows).
		Int("input_columns", len(state.Columns)).
		Int("output_columns", len(state.OutputColumns)).
		Str("scaling", string(state.Scaling)).
		Msg("Transform state fitted")

	return state, nil
}

// FitTransform fits on the training partition and transforms it with the fitted state.
func FitTransform(train dataset.TrainSet, opts Options) (*Matrix, *TransformState, error) {
	state, err := Fit(train, opts)
	if err != nil {
		return nil, nil, err
	}
	m, err := state.Transform(train.Table())
	if err != nil {
		return nil, nil, err
	}
	return m, state, nil
}

func fitColumn(name string, table *dataset.Table, j int, scaling Scaling, logCol bool) (ColumnSpec, error) {
	var nums []float64
	var texts []string
	for _, row := range table.Rows {
		v := row[j]
		if f, ok := v.Float(); ok {
			nums = append(nums, f)
		} else if s, ok := v.Str(); ok {
			texts = append(texts, strings.TrimSpace(s))
		}
	}

	switch {
	case len(nums) == 0 && len(texts) == 0:
		return ColumnSpec{}, &SchemaError{Column: name, Reason: "no observed values in training data"}
	case len(nums) > 0 && len(texts) > 0:
		return ColumnSpec{}, &SchemaError{Column: name, Reason: "mixed numeric and text values"}
	case len(texts) > 0:
		if logCol {
			return ColumnSpec{}, &SchemaError{Column: name, Reason: "log transform requires a numeric column"}
		}
		return fitTextColumn(name, texts), nil
	default:
		return fitNumericColumn(name, table, j, nums, scaling, logCol)
	}
}

func fitNumericColumn(name string, table *dataset.Table, j int, observed []float64, scaling Scaling, logCol bool) (ColumnSpec, error) {
	median, err := stats.Median(observed)
	if err != nil {
		return ColumnSpec{}, fmt.Errorf("median of %s: %w", name, err)
	}
	spec := ColumnSpec{Name: name, Kind: KindNumeric, Median: median, Log: logCol}

	// Scaling parameters are learned on imputed, log-adjusted values, matching what
	// Transform feeds into the scaler.
	adjusted := make(stats.Float64Data, 0, table.Len())
	for _, row := range table.Rows {
		x, ok := row[j].Float()
		if !ok {
			x = median
		}
		adjusted = append(adjusted, spec.preScale(x))
	}

	switch scaling {
	case ScalingMinMax:
		lo, _ := stats.Min(adjusted)
		hi, _ := stats.Max(adjusted)
		spec.Center, spec.Scale = lo, hi-lo
	default:
		mean, _ := stats.Mean(adjusted)
		std, _ := stats.StandardDeviationPopulation(adjusted)
		if std == 0 {
			std = 1
		}
		spec.Center, spec.Scale = mean, std
	}
	return spec, nil
}

func fitTextColumn(name string, observed []string) ColumnSpec {
	binary := true
	for _, s := range observed {
		if l := strings.ToLower(s); l != "yes" && l != "no" {
			binary = false
			break
		}
	}

	if binary {
		lowered := make([]string, len(observed))
		for i, s := range observed {
			lowered[i] = strings.ToLower(s)
		}
		return ColumnSpec{Name: name, Kind: KindBinary, Mode: mode(lowered)}
	}

	seen := make(map[string]struct{})
	var cats []string
	for _, s := range observed {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			cats = append(cats, s)
		}
	}
	sort.Strings(cats)
	return ColumnSpec{
		Name:       name,
		Kind:       KindCategorical,
		Mode:       mode(observed),
		Dropped:    cats[0],
		Categories: cats[1:],
	}
}

// mode returns the most frequent value; ties go to the lexicographically smallest.
func mode(values []string) string {
	counts := make(map[string]int)
	for _, v := range values {
		counts[v]++
	}
	best, bestN := "", -1
	for v, n := range counts {
		if n > bestN || (n == bestN && v < best) {
			best, bestN = v, n
		}
	}
	return best
}
