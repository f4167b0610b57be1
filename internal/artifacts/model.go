package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"churn-service/internal/evaluation"
	"churn-service/internal/features"
	"churn-service/internal/ml"
)

// TrainedModel is everything inference needs from one run. It is read-only once
// loaded and shared by all requests.
type TrainedModel struct {
	Model    *ml.ChurnModel
	State    *features.TransformState
	Manifest Manifest
	Report   evaluation.Report
	// Drift is nil when the run has no drift baseline.
	Drift *ml.DriftBaseline
}

// LoadCurrent loads the active run.
func (s *Store) LoadCurrent() (*TrainedModel, error) {
	runID, err := s.ActiveRunID()
	if err != nil {
		return nil, err
	}
	return LoadDir(filepath.Join(s.dir, currentLink), runID)
}

// LoadRun loads a published run by id, active or not.
func (s *Store) LoadRun(runID string) (*TrainedModel, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	return LoadDir(s.runDir(runID), runID)
}

// LoadDir loads the artifacts in dir and checks that the model and transform state
// agree on the feature width.
func LoadDir(dir, runID string) (*TrainedModel, error) {
	manifest, err := ReadManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	state, err := features.LoadState(filepath.Join(dir, StateFile))
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	model := ml.NewChurnModel(manifest.Params)
	if err := model.Load(filepath.Join(dir, ModelFile)); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	if model.NFeatures() != state.Width() {
		return nil, fmt.Errorf("run %s: model expects %d features, transform state produces %d",
			runID, model.NFeatures(), state.Width())
	}

	report, err := evaluation.LoadReport(filepath.Join(dir, MetricsFile))
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	drift, err := ml.LoadDriftBaseline(filepath.Join(dir, DriftFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		drift = nil
	case err != nil:
		return nil, fmt.Errorf("run %s: %w", runID, err)
	case len(drift.Features) != state.Width():
		return nil, fmt.Errorf("run %s: drift baseline has %d features, transform state produces %d",
			runID, len(drift.Features), state.Width())
	}

	return &TrainedModel{Model: model, State: state, Manifest: manifest, Report: report, Drift: drift}, nil
}
