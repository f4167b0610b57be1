package ml

import (
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaussianRows(n int, mean float64, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	for i := range rows {
		flag := 0.0
		if rng.Float64() < 0.3 {
			flag = 1
		}
		rows[i] = []float64{mean + rng.NormFloat64(), flag}
	}
	return rows
}

func TestDriftDetector_NoDrift(t *testing.T) {
	baseline, err := NewDriftBaseline([]string{"minutes", "plan"}, gaussianRows(2000, 0, 1), 500)
	require.NoError(t, err)
	assert.Len(t, baseline.Samples[0], 500)

	dd := NewDriftDetector(baseline, DriftDetectionConfig{WindowSize: 400})
	for _, r := range gaussianRows(400, 0, 2) {
		dd.Observe(r)
	}

	report := dd.DetectDrift()
	require.Len(t, report, 2)
	for _, fd := range report {
		assert.False(t, fd.Drifted, fd.Feature)
		assert.Less(t, fd.KSStatistic, 0.15, fd.Feature)
	}
}

func TestDriftDetector_ShiftedMean(t *testing.T) {
	baseline, err := NewDriftBaseline([]string{"minutes", "plan"}, gaussianRows(1000, 0, 1), 0)
	require.NoError(t, err)

	dd := NewDriftDetector(baseline, DriftDetectionConfig{WindowSize: 200})
	for _, r := range gaussianRows(300, 2, 3) {
		dd.Observe(r)
	}
	assert.Equal(t, 200, dd.Samples())

	report := dd.DetectDrift()
	require.Len(t, report, 2)
	assert.Equal(t, "minutes", report[0].Feature)
	assert.True(t, report[0].Drifted)
	assert.Equal(t, "critical", report[0].Severity)
	assert.Greater(t, report[0].KSStatistic, 0.5)
	assert.False(t, report[1].Drifted)
}

func TestDriftDetector_MinSamples(t *testing.T) {
	baseline, err := NewDriftBaseline([]string{"minutes", "plan"}, gaussianRows(100, 0, 1), 0)
	require.NoError(t, err)

	dd := NewDriftDetector(baseline, DriftDetectionConfig{})
	for _, r := range gaussianRows(10, 0, 2) {
		dd.Observe(r)
	}
	dd.Observe([]float64{1})

	assert.Equal(t, 10, dd.Samples())
	assert.Nil(t, dd.DetectDrift())
}

func TestDriftDetector_ConcurrentObserve(t *testing.T) {
	baseline, err := NewDriftBaseline([]string{"minutes", "plan"}, gaussianRows(100, 0, 1), 0)
	require.NoError(t, err)
	dd := NewDriftDetector(baseline, DriftDetectionConfig{WindowSize: 50})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			for _, r := range gaussianRows(40, 0, seed) {
				dd.Observe(r)
			}
			dd.DetectDrift()
		}(int64(g))
	}
	wg.Wait()
	assert.Equal(t, 50, dd.Samples())
}

func TestDriftBaseline_SaveLoad(t *testing.T) {
	baseline, err := NewDriftBaseline([]string{"minutes", "plan"}, gaussianRows(100, 0, 1), 20)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "drift.json")
	require.NoError(t, baseline.Save(path))
	loaded, err := LoadDriftBaseline(path)
	require.NoError(t, err)
	assert.Equal(t, baseline, loaded)
}

func TestKolmogorovSmirnov(t *testing.T) {
	assert.Equal(t, 0.0, kolmogorovSmirnov([]float64{1, 2, 3}, []float64{1, 2, 3}))
	assert.Equal(t, 1.0, kolmogorovSmirnov([]float64{1, 2}, []float64{5, 6}))
	assert.InDelta(t, 0.5, kolmogorovSmirnov([]float64{1, 2, 3, 4}, []float64{3, 4, 5, 6}), 1e-9)
}
