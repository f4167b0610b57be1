package serving

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churn-service/internal/artifacts"
	"churn-service/internal/common"
	"churn-service/internal/dataset"
	"churn-service/internal/features"
	"churn-service/internal/ml"
)

// mockRecorder implements Recorder for testing.
type mockRecorder struct {
	mu          sync.Mutex
	requests    map[string]int
	predictions map[int]int
	scores      []float64
	failures    int
	modelAge    float64
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{requests: make(map[string]int), predictions: make(map[int]int)}
}

func (m *mockRecorder) ObserveRequest(path string, status int, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[path]++
}

func (m *mockRecorder) PredictionMade(label int, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions[label]++
	m.scores = append(m.scores, score)
}

func (m *mockRecorder) PredictionFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *mockRecorder) ModelAgeSet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelAge = v
}

// samplePayload is the reference account used by the API client.
func samplePayload() map[string]any {
	return map[string]any{
		"accountlength":              120,
		"internationalplan":          "no",
		"voicemailplan":              "yes",
		"numbervmailmessages":        20,
		"totaldayminutes":            250,
		"totaldaycalls":              100,
		"totaldaycharge":             40,
		"totaleveminutes":            180,
		"totalevecalls":              90,
		"totalevecharge":             15,
		"totalnightminutes":          200,
		"totalnightcalls":            80,
		"totalnightcharge":           9,
		"totalintlminutes":           10,
		"totalintlcalls":             3,
		"totalintlcharge":            2.5,
		"numbercustomerservicecalls": 2,
	}
}

// syntheticAccounts builds a table with the request schema columns. Accounts with
// many service calls or an international plan tend to churn.
func syntheticAccounts(n int, seed int64) (*dataset.Table, dataset.Labels) {
	rng := rand.New(rand.NewSource(seed))
	table := dataset.NewTable(SchemaFields()...)
	labels := make(dataset.Labels, 0, n)
	yesNo := func(p float64) dataset.Value {
		if rng.Float64() < p {
			return dataset.Text("yes")
		}
		return dataset.Text("no")
	}
	for i := 0; i < n; i++ {
		intl := yesNo(0.1)
		calls := float64(rng.Intn(8))
		dayMin := 100 + rng.Float64()*250
		row := []dataset.Value{
			dataset.Number(float64(50 + rng.Intn(150))),
			intl,
			yesNo(0.3),
			dataset.Number(float64(rng.Intn(40))),
			dataset.Number(dayMin),
			dataset.Number(float64(60 + rng.Intn(80))),
			dataset.Number(dayMin * 0.17),
			dataset.Number(100 + rng.Float64()*200),
			dataset.Number(float64(60 + rng.Intn(80))),
			dataset.Number(10 + rng.Float64()*15),
			dataset.Number(100 + rng.Float64()*200),
			dataset.Number(float64(60 + rng.Intn(80))),
			dataset.Number(5 + rng.Float64()*8),
			dataset.Number(rng.Float64() * 20),
			dataset.Number(float64(rng.Intn(10))),
			dataset.Number(rng.Float64() * 5),
			dataset.Number(calls),
		}
		if err := table.AddRow(row...); err != nil {
			panic(err)
		}
		s, _ := intl.Str()
		label := 0
		if calls >= 4 || s == "yes" || dayMin > 320 {
			label = 1
		}
		labels = append(labels, label)
	}
	return table, labels
}

func trainedModel(t *testing.T) *artifacts.TrainedModel {
	t.Helper()
	table, labels := syntheticAccounts(300, 7)
	train, _, err := dataset.StratifiedSplit(table, labels, 0.2, 42)
	require.NoError(t, err)

	matrix, state, err := features.FitTransform(train, features.DefaultOptions())
	require.NoError(t, err)

	params := ml.DefaultForestParams()
	params.NEstimators = 20
	model := ml.NewChurnModel(params)
	require.NoError(t, model.Fit(matrix.Rows, train.Labels()))

	return &artifacts.TrainedModel{
		Model: model,
		State: state,
		Manifest: artifacts.Manifest{
			RunID:          "test-run",
			Experiment:     "churn",
			CreatedAt:      time.Now().Add(-time.Hour),
			InputColumns:   state.InputColumns(),
			FeatureColumns: state.OutputColumns,
			Params:         params,
		},
	}
}

func TestService_NotReady(t *testing.T) {
	svc := NewService(nil)
	assert.False(t, svc.Ready())

	_, err := svc.Predict(context.Background(), samplePayload())
	assert.True(t, errors.Is(err, ErrNotReady))
}

func TestService_LoadOnce(t *testing.T) {
	rec := newMockRecorder()
	svc := NewService(rec)
	model := trainedModel(t)

	require.NoError(t, svc.Load(model))
	assert.True(t, svc.Ready())
	assert.InDelta(t, 3600, rec.modelAge, 60)

	err := svc.Load(model)
	assert.True(t, errors.Is(err, ErrAlreadyLoaded))
}

func TestService_LoadRejectsIncompleteModel(t *testing.T) {
	svc := NewService(nil)
	assert.Error(t, svc.Load(nil))
	assert.Error(t, svc.Load(&artifacts.TrainedModel{}))

	untrained := trainedModel(t)
	untrained.Model = ml.NewChurnModel(ml.DefaultForestParams())
	assert.Error(t, svc.Load(untrained))
	assert.False(t, svc.Ready())
}

func TestService_PredictSample(t *testing.T) {
	rec := newMockRecorder()
	svc := NewService(rec)
	require.NoError(t, svc.Load(trainedModel(t)))

	pred, err := svc.Predict(context.Background(), samplePayload())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, pred.Probability, 0.0)
	assert.LessOrEqual(t, pred.Probability, 1.0)
	assert.Contains(t, []int{0, 1}, pred.Label)
	if pred.Label == 1 {
		assert.Equal(t, common.InterpretationChurn, pred.Interpretation)
	} else {
		assert.Equal(t, common.InterpretationNoChurn, pred.Interpretation)
	}
	assert.Equal(t, pred.Probability, round3(pred.Probability))

	assert.Equal(t, 1, rec.predictions[pred.Label])
	assert.Len(t, rec.scores, 1)
}

func TestService_PredictMatchesModel(t *testing.T) {
	model := trainedModel(t)
	svc := NewService(nil)
	require.NoError(t, svc.Load(model))

	table, _ := syntheticAccounts(20, 99)
	for i := 0; i < table.Len(); i++ {
		payload := make(map[string]any)
		rec := table.Record(i)
		for j, c := range rec.Columns {
			if f, ok := rec.Values[j].Float(); ok {
				payload[c] = f
			} else {
				s, _ := rec.Values[j].Str()
				payload[c] = s
			}
		}

		pred, err := svc.Predict(context.Background(), payload)
		require.NoError(t, err)

		row, err := model.State.TransformRecord(rec)
		require.NoError(t, err)
		want, err := model.Model.Predict([][]float64{row})
		require.NoError(t, err)
		assert.Equal(t, want[0], pred.Label, "row %d", i)
	}
}

func TestService_PredictValidation(t *testing.T) {
	svc := NewService(nil)
	require.NoError(t, svc.Load(trainedModel(t)))

	tests := []struct {
		name   string
		mutate func(map[string]any)
		field  string
	}{
		{"missing field", func(p map[string]any) { delete(p, "totaldaycalls") }, "totaldaycalls"},
		{"null field", func(p map[string]any) { p["accountlength"] = nil }, "accountlength"},
		{"number as bool", func(p map[string]any) { p["totalintlcalls"] = true }, "totalintlcalls"},
		{"non-numeric string", func(p map[string]any) { p["totaldayminutes"] = "lots" }, "totaldayminutes"},
		{"plan as number", func(p map[string]any) { p["internationalplan"] = 1 }, "internationalplan"},
		{"empty plan", func(p map[string]any) { p["voicemailplan"] = " " }, "voicemailplan"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := samplePayload()
			tt.mutate(payload)

			_, err := svc.Predict(context.Background(), payload)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestService_PredictLenientInput(t *testing.T) {
	svc := NewService(nil)
	require.NoError(t, svc.Load(trainedModel(t)))

	payload := samplePayload()
	payload["AccountLength"] = payload["accountlength"]
	delete(payload, "accountlength")
	payload["totaldaycalls"] = "100"
	payload["internationalplan"] = "No"
	payload["extra"] = "ignored"

	_, err := svc.Predict(context.Background(), payload)
	assert.NoError(t, err)
}

func TestService_PredictCanceledContext(t *testing.T) {
	svc := NewService(nil)
	require.NoError(t, svc.Load(trainedModel(t)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Predict(ctx, samplePayload())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestService_PredictInferenceError(t *testing.T) {
	rec := newMockRecorder()
	svc := NewService(rec)
	model := trainedModel(t)
	require.NoError(t, svc.Load(model))

	// A classifier fitted on one feature rejects the transformed row.
	params := ml.DefaultForestParams()
	params.NEstimators = 3
	narrow := ml.NewChurnModel(params)
	require.NoError(t, narrow.Fit([][]float64{{0}, {1}, {0}, {1}}, []int{0, 1, 0, 1}))
	model.Model = narrow

	_, err := svc.Predict(context.Background(), samplePayload())
	var ierr *InferenceError
	require.True(t, errors.As(err, &ierr), "got %v", err)
	assert.Equal(t, 1, rec.failures)
}

func TestService_MetricsEmpty(t *testing.T) {
	svc := NewService(nil)
	m := svc.Metrics()
	assert.Equal(t, 0, m.TotalRequests)
	assert.Equal(t, 0.0, m.AverageResponseTime)
	assert.Equal(t, common.UptimeStatusRunning, m.UptimeStatus)
}

func TestService_MetricsMean(t *testing.T) {
	svc := NewService(nil)
	svc.RecordRequest(200, 100*time.Millisecond)
	svc.RecordRequest(200, 200*time.Millisecond)
	svc.RecordRequest(500, 300*time.Millisecond)

	m := svc.Metrics()
	assert.Equal(t, 3, m.TotalRequests)
	assert.InDelta(t, 0.2, m.AverageResponseTime, 1e-9)
	assert.Equal(t, 1, svc.ServerErrors())
}

func TestService_RecordRequestConcurrent(t *testing.T) {
	svc := NewService(nil)
	const n = 500

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.RecordRequest(200, time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, n, svc.Metrics().TotalRequests)
}

func TestService_DriftWithoutBaseline(t *testing.T) {
	svc := NewService(nil)
	require.NoError(t, svc.Load(trainedModel(t)))

	_, ok := svc.Drift()
	assert.False(t, ok)
}

func TestService_DriftObservesPredictions(t *testing.T) {
	model := trainedModel(t)
	rec, err := toRecord(samplePayload())
	require.NoError(t, err)
	row, err := model.State.TransformRecord(rec)
	require.NoError(t, err)

	rows := make([][]float64, 50)
	for i := range rows {
		rows[i] = row
	}
	model.Drift, err = ml.NewDriftBaseline(model.State.OutputColumns, rows, 0)
	require.NoError(t, err)

	svc := NewService(nil)
	require.NoError(t, svc.Load(model))

	for i := 0; i < 40; i++ {
		_, err := svc.Predict(context.Background(), samplePayload())
		require.NoError(t, err)
	}

	report, ok := svc.Drift()
	require.True(t, ok)
	assert.Equal(t, 40, report.Samples)
	require.Len(t, report.Features, model.State.Width())
	for _, fd := range report.Features {
		assert.False(t, fd.Drifted, fd.Feature)
		assert.Zero(t, fd.KSStatistic, fd.Feature)
	}
}

func TestService_LoadRejectsKindMismatch(t *testing.T) {
	// Plans encoded as 0/1 in the training data are fitted as numeric columns,
	// which requests carrying "yes"/"no" could never satisfy.
	table, labels := syntheticAccounts(200, 11)
	for _, name := range []string{"internationalplan", "voicemailplan"} {
		j := table.ColumnIndex(name)
		require.GreaterOrEqual(t, j, 0)
		for _, row := range table.Rows {
			s, _ := row[j].Str()
			if s == "yes" {
				row[j] = dataset.Number(1)
			} else {
				row[j] = dataset.Number(0)
			}
		}
	}
	train, _, err := dataset.StratifiedSplit(table, labels, 0.2, 42)
	require.NoError(t, err)
	matrix, state, err := features.FitTransform(train, features.DefaultOptions())
	require.NoError(t, err)

	params := ml.DefaultForestParams()
	params.NEstimators = 5
	model := ml.NewChurnModel(params)
	require.NoError(t, model.Fit(matrix.Rows, train.Labels()))

	svc := NewService(nil)
	err = svc.Load(&artifacts.TrainedModel{Model: model, State: state})
	require.Error(t, err)

	var serr *features.SchemaError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "internationalplan", serr.Column)
	assert.False(t, svc.Ready())

	_, err = svc.Predict(context.Background(), samplePayload())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestCheckSchemaCovers(t *testing.T) {
	tests := []struct {
		name    string
		columns []features.ColumnSpec
		wantErr bool
	}{
		{"numeric number", []features.ColumnSpec{{Name: "totaldayminutes", Kind: features.KindNumeric}}, false},
		{"binary text", []features.ColumnSpec{{Name: "VoiceMailPlan", Kind: features.KindBinary}}, false},
		{"categorical text", []features.ColumnSpec{{Name: "internationalplan", Kind: features.KindCategorical}}, false},
		{"numeric text", []features.ColumnSpec{{Name: "internationalplan", Kind: features.KindNumeric}}, true},
		{"binary number", []features.ColumnSpec{{Name: "accountlength", Kind: features.KindBinary}}, true},
		{"unknown column", []features.ColumnSpec{{Name: "state", Kind: features.KindCategorical}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkSchemaCovers(tt.columns)
			if tt.wantErr {
				var serr *features.SchemaError
				assert.True(t, errors.As(err, &serr))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
