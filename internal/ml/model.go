// Package ml provides the churn classifier: a github.com/malaschitz/randomForest
// forest behind the ChurnModel wrapper, which enforces the untrained/trained
// lifecycle and checks that prediction inputs match the width the model was fitted on.
package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"churn-service/internal/evaluation"
)

// ErrNotTrained is returned by prediction methods before Fit or Load succeeds.
var ErrNotTrained = errors.New("model not trained: call Fit first")

// ErrFeatureWidth is returned when an input row has the wrong number of features.
var ErrFeatureWidth = errors.New("feature width mismatch")

// ChurnModel wraps a random forest. It is safe for concurrent prediction; Fit and
// Load take the write lock and replace the fitted forest wholesale.
type ChurnModel struct {
	mu        sync.RWMutex
	params    ForestParams
	forest    *forestModel
	trainedAt time.Time
	metrics   map[string]float64
}

func NewChurnModel(params ForestParams) *ChurnModel {
	return &ChurnModel{params: params, metrics: make(map[string]float64)}
}

// Fit trains a new forest on x and y. Calling Fit on a trained model retrains it
// from scratch and discards previously recorded metrics.
func (m *ChurnModel) Fit(x [][]float64, y []int) error {
	start := time.Now()
	f, err := fitForest(x, y, m.params)
	if err != nil {
		return fmt.Errorf("failed to fit random forest: %w", err)
	}

	m.mu.Lock()
	m.forest = f
	m.trainedAt = time.Now()
	m.metrics = make(map[string]float64)
	m.mu.Unlock()

	log.Info().
		Int("rows", len(x)).
		Int("features", f.NFeatures).
		Int("trees", len(f.Model.Trees)).
		Dur("duration", time.Since(start)).
		Msg("Random forest trained")
	return nil
}

func (m *ChurnModel) Trained() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.forest != nil
}

func (m *ChurnModel) Params() ForestParams {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.forest != nil {
		return m.forest.Params
	}
	return m.params
}

// NFeatures is the fitted input width, or 0 when untrained.
func (m *ChurnModel) NFeatures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.forest == nil {
		return 0
	}
	return m.forest.NFeatures
}

// TrainedAt is when Fit last succeeded; zero for untrained or loaded models.
func (m *ChurnModel) TrainedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trainedAt
}

// PredictProba returns the positive-class probability for each row.
func (m *ChurnModel) PredictProba(x [][]float64) ([]float64, error) {
	m.mu.RLock()
	f := m.forest
	m.mu.RUnlock()
	if f == nil {
		return nil, ErrNotTrained
	}

	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != f.NFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, model expects %d", ErrFeatureWidth, i, len(row), f.NFeatures)
		}
	}
	for i, row := range x {
		out[i] = f.predictProba(row)
	}
	return out, nil
}

// Predict returns the forest's class vote for each row: 1 when more than half of
// the vote goes to churn.
func (m *ChurnModel) Predict(x [][]float64) ([]int, error) {
	proba, err := m.PredictProba(x)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(proba))
	for i, p := range proba {
		if p > 0.5 {
			out[i] = 1
		}
	}
	return out, nil
}

// EvaluateAUC scores x and records the ROC-AUC against y under "roc_auc".
func (m *ChurnModel) EvaluateAUC(x [][]float64, y []int) (float64, error) {
	proba, err := m.PredictProba(x)
	if err != nil {
		return 0, err
	}
	auc, err := evaluation.ROCAUC(y, proba)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.metrics["roc_auc"] = auc
	m.mu.Unlock()
	return auc, nil
}

// Metrics returns a copy of the metrics recorded by EvaluateAUC.
func (m *ChurnModel) Metrics() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.metrics))
	for k, v := range m.metrics {
		out[k] = v
	}
	return out
}

// Save writes the fitted forest as JSON.
func (m *ChurnModel) Save(path string) error {
	m.mu.RLock()
	f := m.forest
	m.mu.RUnlock()
	if f == nil {
		return ErrNotTrained
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	return nil
}

// Load replaces the model with a forest written by Save. The model is trained
// afterwards.
func (m *ChurnModel) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read model: %w", err)
	}
	var f forestModel
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse model: %w", err)
	}
	if err := f.validate(); err != nil {
		return fmt.Errorf("invalid model %s: %w", path, err)
	}

	m.mu.Lock()
	m.forest = &f
	m.params = f.Params
	m.trainedAt = time.Time{}
	m.metrics = make(map[string]float64)
	m.mu.Unlock()

	log.Info().Str("model_path", path).Int("trees", len(f.Model.Trees)).Msg("Model loaded successfully")
	return nil
}
