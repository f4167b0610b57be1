package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/montanaflynn/stats"
)

// DriftDetectionMethod names a distribution comparison.
type DriftDetectionMethod string

const (
	KolmogorovSmirnovTest    DriftDetectionMethod = "kolmogorov_smirnov"
	PopulationStabilityIndex DriftDetectionMethod = "population_stability_index"
)

const (
	psiBins    = 10
	psiEpsilon = 1e-4
)

// DriftBaseline holds sorted training samples of every model input feature.
type DriftBaseline struct {
	Features []string    `json:"features"`
	Samples  [][]float64 `json:"samples"`
}

// NewDriftBaseline samples at most maxSamples training rows at an even stride. Rows
// must already be transformed.
func NewDriftBaseline(names []string, x [][]float64, maxSamples int) (*DriftBaseline, error) {
	if len(x) == 0 {
		return nil, errors.New("no rows for drift baseline")
	}
	if len(names) != len(x[0]) {
		return nil, fmt.Errorf("%d feature names for %d columns", len(names), len(x[0]))
	}
	if maxSamples <= 0 || maxSamples > len(x) {
		maxSamples = len(x)
	}

	b := &DriftBaseline{
		Features: append([]string(nil), names...),
		Samples:  make([][]float64, len(names)),
	}
	step := float64(len(x)) / float64(maxSamples)
	for j := range names {
		col := make([]float64, maxSamples)
		for k := 0; k < maxSamples; k++ {
			col[k] = x[int(float64(k)*step)][j]
		}
		sort.Float64s(col)
		b.Samples[j] = col
	}
	return b, nil
}

func (b *DriftBaseline) Save(path string) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal drift baseline: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write drift baseline: %w", err)
	}
	return nil
}

func LoadDriftBaseline(path string) (*DriftBaseline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read drift baseline: %w", err)
	}
	var b DriftBaseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse drift baseline: %w", err)
	}
	if len(b.Features) != len(b.Samples) {
		return nil, fmt.Errorf("drift baseline has %d features and %d sample columns", len(b.Features), len(b.Samples))
	}
	return &b, nil
}

// DriftDetectionConfig configures a DriftDetector. Zero values take defaults.
type DriftDetectionConfig struct {
	WindowSize     int     // recent rows kept per feature (default 1000)
	MinSamples     int     // rows needed before scoring (default 30)
	AlertThreshold float64 // PSI above this is drift (default 0.2)
}

// FeatureDrift compares one feature's recent inputs with its training baseline.
type FeatureDrift struct {
	Feature     string  `json:"feature"`
	KSStatistic float64 `json:"ks_statistic"`
	PSIScore    float64 `json:"psi_score"`
	Drifted     bool    `json:"drifted"`
	Severity    string  `json:"severity,omitempty"`
}

// DriftDetector keeps a sliding window of served feature rows. It is safe for
// concurrent use.
type DriftDetector struct {
	mu       sync.Mutex
	baseline *DriftBaseline
	config   DriftDetectionConfig
	window   [][]float64 // ring buffer of rows
	next     int
	filled   bool
}

func NewDriftDetector(baseline *DriftBaseline, config DriftDetectionConfig) *DriftDetector {
	if config.WindowSize <= 0 {
		config.WindowSize = 1000
	}
	if config.MinSamples <= 0 {
		config.MinSamples = 30
	}
	if config.AlertThreshold <= 0 {
		config.AlertThreshold = 0.2
	}
	return &DriftDetector{
		baseline: baseline,
		config:   config,
		window:   make([][]float64, 0, config.WindowSize),
	}
}

// Observe records one transformed row. Rows of the wrong width are ignored.
func (dd *DriftDetector) Observe(row []float64) {
	if len(row) != len(dd.baseline.Features) {
		return
	}
	cp := append([]float64(nil), row...)

	dd.mu.Lock()
	defer dd.mu.Unlock()
	if !dd.filled {
		dd.window = append(dd.window, cp)
		if len(dd.window) == dd.config.WindowSize {
			dd.filled = true
		}
		return
	}
	dd.window[dd.next] = cp
	dd.next = (dd.next + 1) % dd.config.WindowSize
}

// Samples is the number of rows currently in the window.
func (dd *DriftDetector) Samples() int {
	dd.mu.Lock()
	defer dd.mu.Unlock()
	return len(dd.window)
}

// DetectDrift scores every feature. It returns nil until MinSamples rows have been
// observed.
func (dd *DriftDetector) DetectDrift() []FeatureDrift {
	dd.mu.Lock()
	rows := make([][]float64, len(dd.window))
	copy(rows, dd.window)
	dd.mu.Unlock()

	if len(rows) < dd.config.MinSamples {
		return nil
	}

	out := make([]FeatureDrift, len(dd.baseline.Features))
	current := make([]float64, len(rows))
	for j, name := range dd.baseline.Features {
		for i, r := range rows {
			current[i] = r[j]
		}
		sorted := append([]float64(nil), current...)
		sort.Float64s(sorted)

		base := dd.baseline.Samples[j]
		fd := FeatureDrift{
			Feature:     name,
			KSStatistic: kolmogorovSmirnov(base, sorted),
			PSIScore:    populationStabilityIndex(base, sorted),
		}
		threshold := dd.config.AlertThreshold
		if fd.PSIScore > threshold {
			fd.Drifted = true
			fd.Severity = "medium"
			if fd.PSIScore > threshold*2 {
				fd.Severity = "high"
			}
			if fd.PSIScore > threshold*3 {
				fd.Severity = "critical"
			}
		}
		out[j] = fd
	}
	return out
}

// kolmogorovSmirnov is the two-sample KS statistic of two sorted samples.
func kolmogorovSmirnov(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var i, j int
	maxDiff := 0.0
	for i < len(a) && j < len(b) {
		v := math.Min(a[i], b[j])
		for i < len(a) && a[i] <= v {
			i++
		}
		for j < len(b) && b[j] <= v {
			j++
		}
		diff := math.Abs(float64(i)/float64(len(a)) - float64(j)/float64(len(b)))
		if diff > maxDiff {
			maxDiff = diff
		}
	}
	return maxDiff
}

// populationStabilityIndex bins both samples on the baseline deciles. Repeated
// decile edges collapse, so indicator features get two bins.
func populationStabilityIndex(baseline, current []float64) float64 {
	if len(baseline) == 0 || len(current) == 0 {
		return 0
	}
	var edges []float64
	for k := 1; k < psiBins; k++ {
		p, err := stats.Percentile(baseline, float64(k)*100/psiBins)
		if err != nil {
			continue
		}
		if len(edges) == 0 || p > edges[len(edges)-1] {
			edges = append(edges, p)
		}
	}

	baseCounts := binCounts(baseline, edges)
	curCounts := binCounts(current, edges)
	psi := 0.0
	for k := range baseCounts {
		bp := math.Max(float64(baseCounts[k])/float64(len(baseline)), psiEpsilon)
		cp := math.Max(float64(curCounts[k])/float64(len(current)), psiEpsilon)
		psi += (cp - bp) * math.Log(cp/bp)
	}
	return psi
}

// binCounts counts values into len(edges)+1 bins; a value equal to an edge falls
// in the lower bin.
func binCounts(values, edges []float64) []int {
	counts := make([]int, len(edges)+1)
	for _, v := range values {
		counts[sort.SearchFloat64s(edges, v)]++
	}
	return counts
}
