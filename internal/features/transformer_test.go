package features

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churn-service/internal/dataset"
)

// accounts builds a small mixed-type table: a numeric column with a missing cell, a
// log column, a yes/no plan column and a three-valued area code.
func accounts(n int) (*dataset.Table, dataset.Labels) {
	table := dataset.NewTable(" AccountLength", "NumberVMailMessages", "InternationalPlan", "area")
	labels := make(dataset.Labels, n)
	areas := []string{"408", "415", "510"}
	for i := 0; i < n; i++ {
		length := dataset.Number(float64(50 + i))
		if i == 3 {
			length = dataset.Missing()
		}
		plan := "no"
		if i%4 == 0 {
			plan = "Yes"
		}
		_ = table.AddRow(length, dataset.Number(float64(i%7)), dataset.Text(plan), dataset.Text(areas[i%3]))
		if i%3 == 0 {
			labels[i] = 1
		}
	}
	return table, labels
}

func split(t *testing.T, table *dataset.Table, labels dataset.Labels) (dataset.TrainSet, dataset.TestSet) {
	t.Helper()
	train, test, err := dataset.StratifiedSplit(table, labels, 0.25, 42)
	require.NoError(t, err)
	return train, test
}

func TestFit_ColumnKindsAndOutputOrder(t *testing.T) {
	table, labels := accounts(40)
	train, _ := split(t, table, labels)

	state, err := Fit(train, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, state.Columns, 4)
	assert.Equal(t, KindNumeric, state.Columns[0].Kind)
	assert.Equal(t, "accountlength", state.Columns[0].Name)
	assert.True(t, state.Columns[1].Log)
	assert.Equal(t, KindBinary, state.Columns[2].Kind)
	assert.Equal(t, KindCategorical, state.Columns[3].Kind)
	assert.Equal(t, "408", state.Columns[3].Dropped)
	assert.Equal(t, []string{"415", "510"}, state.Columns[3].Categories)

	assert.Equal(t, []string{
		"accountlength", "numbervmailmessages", "internationalplan", "area_415", "area_510",
	}, state.OutputColumns)
	assert.Equal(t, train.Len(), state.TrainRows)
}

func TestFitTransform_LeakageInvariant(t *testing.T) {
	table, labels := accounts(40)
	train, test := split(t, table, labels)
	_, state, err := FitTransform(train, DefaultOptions())
	require.NoError(t, err)

	// Same labels and seed give the same partition; perturb only held-out rows.
	perturbed := dataset.NewTable(table.Columns...)
	testRows := map[int]bool{}
	for _, idx := range test.Indices() {
		testRows[idx] = true
	}
	for i, row := range table.Rows {
		if testRows[i] {
			require.NoError(t, perturbed.AddRow(dataset.Number(1e6), dataset.Number(999), dataset.Text("yes"), dataset.Text("999")))
			continue
		}
		require.NoError(t, perturbed.AddRow(row...))
	}
	train2, _ := split(t, perturbed, labels)
	_, state2, err := FitTransform(train2, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, state, state2)
}

func TestTransform_ParityWithRecordPath(t *testing.T) {
	table, labels := accounts(40)
	train, test := split(t, table, labels)
	_, state, err := FitTransform(train, DefaultOptions())
	require.NoError(t, err)

	batch, err := state.Transform(test.Table())
	require.NoError(t, err)
	for i := 0; i < test.Len(); i++ {
		row, err := state.TransformRecord(test.Table().Record(i))
		require.NoError(t, err)
		assert.Equal(t, batch.Rows[i], row, "row %d", i)
	}
}

func TestTransform_Idempotent(t *testing.T) {
	table, labels := accounts(40)
	train, test := split(t, table, labels)
	_, state, err := FitTransform(train, DefaultOptions())
	require.NoError(t, err)

	a, err := state.Transform(test.Table())
	require.NoError(t, err)
	b, err := state.Transform(test.Table())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTransformRecord_UnseenCategory(t *testing.T) {
	table, labels := accounts(40)
	train, _ := split(t, table, labels)
	state, err := Fit(train, DefaultOptions())
	require.NoError(t, err)

	rec := dataset.Record{
		Columns: []string{"accountlength", "numbervmailmessages", "internationalplan", "area"},
		Values:  []dataset.Value{dataset.Number(80), dataset.Number(2), dataset.Text("maybe"), dataset.Text("999")},
	}
	out, err := state.TransformRecord(rec)
	require.NoError(t, err)
	require.Len(t, out, state.Width())
	assert.Equal(t, 0.0, out[2], "unknown plan value encodes to 0")
	assert.Equal(t, []float64{0, 0}, out[3:])
}

func TestTransformRecord_ImputesMissing(t *testing.T) {
	table, labels := accounts(40)
	train, _ := split(t, table, labels)
	state, err := Fit(train, DefaultOptions())
	require.NoError(t, err)

	rec := dataset.Record{
		Columns: []string{"AccountLength", "numbervmailmessages", "internationalplan", "area"},
		Values:  []dataset.Value{dataset.Missing(), dataset.Missing(), dataset.Missing(), dataset.Missing()},
	}
	out, err := state.TransformRecord(rec)
	require.NoError(t, err)

	spec := state.Columns[0]
	assert.InDelta(t, (spec.Median-spec.Center)/spec.Scale, out[0], 1e-12)
	assert.Equal(t, 0.0, out[2], "plan mode is no")
}

func TestTransformRecord_NumericBinaryAccepted(t *testing.T) {
	table, labels := accounts(40)
	train, _ := split(t, table, labels)
	state, err := Fit(train, DefaultOptions())
	require.NoError(t, err)

	rec := dataset.Record{
		Columns: []string{"accountlength", "numbervmailmessages", "internationalplan", "area"},
		Values:  []dataset.Value{dataset.Number(80), dataset.Number(2), dataset.Number(1), dataset.Text("415")},
	}
	out, err := state.TransformRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out[2])
	assert.Equal(t, []float64{1, 0}, out[3:])
}

func TestSchemaErrors(t *testing.T) {
	table, labels := accounts(40)
	train, _ := split(t, table, labels)
	state, err := Fit(train, DefaultOptions())
	require.NoError(t, err)

	tests := []struct {
		name   string
		rec    dataset.Record
		column string
	}{
		{
			name:   "absent column",
			rec:    dataset.Record{Columns: []string{"accountlength"}, Values: []dataset.Value{dataset.Number(1)}},
			column: "numbervmailmessages",
		},
		{
			name: "text in numeric column",
			rec: dataset.Record{
				Columns: []string{"accountlength", "numbervmailmessages", "internationalplan", "area"},
				Values:  []dataset.Value{dataset.Text("long"), dataset.Number(2), dataset.Text("no"), dataset.Text("415")},
			},
			column: "accountlength",
		},
		{
			name: "number in categorical column",
			rec: dataset.Record{
				Columns: []string{"accountlength", "numbervmailmessages", "internationalplan", "area"},
				Values:  []dataset.Value{dataset.Number(1), dataset.Number(2), dataset.Text("no"), dataset.Number(415)},
			},
			column: "area",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := state.TransformRecord(tt.rec)
			var schemaErr *SchemaError
			require.True(t, errors.As(err, &schemaErr), "got %v", err)
			assert.Equal(t, tt.column, schemaErr.Column)
		})
	}
}

func TestFit_Errors(t *testing.T) {
	_, err := Fit(dataset.TrainSet{}, DefaultOptions())
	assert.ErrorIs(t, err, ErrEmptyTable)

	mixed := dataset.NewTable("x", "y")
	labels := dataset.Labels{}
	for i := 0; i < 10; i++ {
		x := dataset.Number(float64(i))
		if i == 5 {
			x = dataset.Text("five")
		}
		require.NoError(t, mixed.AddRow(x, dataset.Missing()))
		labels = append(labels, i%2)
	}
	train, _ := split(t, mixed, labels)
	_, err = Fit(train, DefaultOptions())
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))

	_, err = Fit(train, Options{Scaling: "robust"})
	assert.Error(t, err)
}

func TestFit_MinMaxScaling(t *testing.T) {
	table := dataset.NewTable("calls", "constant")
	labels := dataset.Labels{}
	for i := 0; i < 20; i++ {
		require.NoError(t, table.AddRow(dataset.Number(float64(i)), dataset.Number(3)))
		labels = append(labels, i%2)
	}
	train, _ := split(t, table, labels)

	m, state, err := FitTransform(train, Options{Scaling: ScalingMinMax})
	require.NoError(t, err)

	for _, row := range m.Rows {
		assert.GreaterOrEqual(t, row[0], 0.0)
		assert.LessOrEqual(t, row[0], 1.0)
		assert.Equal(t, 0.0, row[1], "zero range column scales to 0")
	}
	assert.Equal(t, 0.0, state.Columns[1].Scale)
}

func TestFit_StandardScaling(t *testing.T) {
	table := dataset.NewTable("calls", "constant")
	labels := dataset.Labels{}
	for i := 0; i < 20; i++ {
		require.NoError(t, table.AddRow(dataset.Number(float64(i)), dataset.Number(3)))
		labels = append(labels, i%2)
	}
	train, _ := split(t, table, labels)

	m, state, err := FitTransform(train, DefaultOptions())
	require.NoError(t, err)

	var sum, sq float64
	for _, row := range m.Rows {
		sum += row[0]
		sq += row[0] * row[0]
		assert.Equal(t, 0.0, row[1])
	}
	n := float64(m.Len())
	assert.InDelta(t, 0, sum/n, 1e-9)
	assert.InDelta(t, 1, math.Sqrt(sq/n), 1e-9)
	assert.Equal(t, 1.0, state.Columns[1].Scale)
}

func TestState_SaveLoad(t *testing.T) {
	table, labels := accounts(40)
	train, test := split(t, table, labels)
	_, state, err := FitTransform(train, DefaultOptions())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "transform_state.json")
	require.NoError(t, state.Save(path))

	loaded, err := LoadState(path)
	require.NoError(t, err)

	a, err := state.Transform(test.Table())
	require.NoError(t, err)
	b, err := loaded.Transform(test.Table())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, state.InputColumns(), loaded.InputColumns())
}
