// Package pipeline runs one training job end to end: load, split, transform, fit,
// evaluate, then publish the artifacts and record the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"churn-service/internal/artifacts"
	"churn-service/internal/cfg"
	"churn-service/internal/dataset"
	"churn-service/internal/evaluation"
	"churn-service/internal/features"
	"churn-service/internal/ml"
	"churn-service/internal/tracking"
)

// driftSamples caps the training rows kept as the drift baseline.
const driftSamples = 1000

// Step names used in TrainingError.
const (
	StepTrack     = "track"
	StepLoad      = "load"
	StepSplit     = "split"
	StepTransform = "transform"
	StepFit       = "fit"
	StepPredict   = "predict"
	StepEvaluate  = "evaluate"
	StepPublish   = "publish"
)

// TrainingError reports which step of a run failed.
type TrainingError struct {
	Step string
	Err  error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("training failed at %s: %v", e.Step, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }

func stepErr(step string, err error) error {
	return &TrainingError{Step: step, Err: err}
}

// Config is everything one run needs.
type Config struct {
	DataPath     string
	Loader       dataset.LoaderOptions
	TestFraction float64
	SplitSeed    int64
	Features     features.Options
	Forest       ml.ForestParams
	Experiment   string
	// KeepRuns is how many published runs survive pruning; 0 disables pruning.
	KeepRuns int
}

// FromSettings builds a run config from loaded settings.
func FromSettings(s *cfg.Settings) Config {
	return Config{
		DataPath: s.DataPath,
		Loader: dataset.LoaderOptions{
			LabelColumn: s.LabelColumn,
			DropColumns: s.DropColumns,
		},
		TestFraction: s.TestFraction,
		SplitSeed:    s.SplitSeed,
		Features: features.Options{
			LogColumns: s.LogColumns,
			Scaling:    features.Scaling(s.Scaling),
		},
		Forest: ml.ForestParams{
			NEstimators:    s.NEstimators,
			MaxDepth:       s.MaxDepth,
			MinSamplesLeaf: s.MinSamplesLeaf,
		},
		Experiment: s.Experiment,
		KeepRuns:   s.KeepRuns,
	}
}

func (c Config) params() map[string]string {
	return map[string]string{
		"data_path":        c.DataPath,
		"label_column":     c.Loader.LabelColumn,
		"drop_columns":     strings.Join(c.Loader.DropColumns, ","),
		"test_fraction":    strconv.FormatFloat(c.TestFraction, 'f', -1, 64),
		"split_seed":       strconv.FormatInt(c.SplitSeed, 10),
		"scaling":          string(c.Features.Scaling),
		"log_columns":      strings.Join(c.Features.LogColumns, ","),
		"n_estimators":     strconv.Itoa(c.Forest.NEstimators),
		"max_depth":        strconv.Itoa(c.Forest.MaxDepth),
		"min_samples_leaf": strconv.Itoa(c.Forest.MinSamplesLeaf),
	}
}

// Result describes a published run.
type Result struct {
	RunID    string
	Report   evaluation.Report
	Manifest artifacts.Manifest
	Pruned   []string
}

// Pipeline publishes runs into store and records them in tracker.
type Pipeline struct {
	store   *artifacts.Store
	tracker *tracking.Tracker
}

func New(store *artifacts.Store, tracker *tracking.Tracker) *Pipeline {
	return &Pipeline{store: store, tracker: tracker}
}

// Run executes one training run. On failure the tracking record is marked failed,
// staged files are removed and the current model is left untouched.
func (p *Pipeline) Run(ctx context.Context, c Config) (*Result, error) {
	run, err := p.tracker.StartRun(c.Experiment, c.params())
	if err != nil {
		return nil, stepErr(StepTrack, err)
	}
	logger := log.With().Str("run_id", run.ID).Str("experiment", c.Experiment).Logger()
	logger.Info().Str("data_path", c.DataPath).Msg("Training run started")

	var staged *artifacts.Staged
	res, err := p.run(ctx, c, run.ID, &staged)
	if err != nil {
		if staged != nil {
			if derr := staged.Discard(); derr != nil {
				logger.Warn().Err(derr).Msg("Failed to discard staged artifacts")
			}
		}
		if ferr := p.tracker.FinishRun(run.ID, err); ferr != nil {
			logger.Warn().Err(ferr).Msg("Failed to mark run as failed")
		}
		logger.Error().Err(err).Msg("Training run failed")
		return nil, err
	}

	if err := p.tracker.LogMetrics(run.ID, res.Report.Scalars()); err != nil {
		logger.Warn().Err(err).Msg("Failed to log run metrics")
	}
	if err := p.tracker.FinishRun(run.ID, nil); err != nil {
		logger.Warn().Err(err).Msg("Failed to finish run")
	}

	if c.KeepRuns > 0 {
		pruned, err := p.store.Prune(c.KeepRuns)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to prune old runs")
		}
		res.Pruned = pruned
	}

	logger.Info().
		Float64("accuracy", res.Report.Accuracy).
		Float64("f1", res.Report.F1).
		Int("pruned", len(res.Pruned)).
		Msg("Training run published")
	for _, fi := range ml.TopFeatures(res.Manifest.FeatureImportance, 5) {
		logger.Debug().Str("feature", fi.Name).Float64("importance", fi.ImportanceScore).Msg("Feature importance")
	}
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, c Config, runID string, staged **artifacts.Staged) (*Result, error) {
	table, labels, err := dataset.LoadCSV(c.DataPath, c.Loader)
	if err != nil {
		return nil, stepErr(StepLoad, err)
	}
	logSummary(runID, table.Summarize(), labels)
	if err := ctx.Err(); err != nil {
		return nil, stepErr(StepLoad, err)
	}

	train, test, err := dataset.StratifiedSplit(table, labels, c.TestFraction, c.SplitSeed)
	if err != nil {
		return nil, stepErr(StepSplit, err)
	}

	trainX, state, err := features.FitTransform(train, c.Features)
	if err != nil {
		return nil, stepErr(StepTransform, err)
	}
	testX, err := state.Transform(test.Table())
	if err != nil {
		return nil, stepErr(StepTransform, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, stepErr(StepTransform, err)
	}

	model := ml.NewChurnModel(c.Forest)
	if err := model.Fit(trainX.Rows, train.Labels()); err != nil {
		return nil, stepErr(StepFit, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, stepErr(StepFit, err)
	}

	yPred, err := model.Predict(testX.Rows)
	if err != nil {
		return nil, stepErr(StepPredict, err)
	}
	yProba, err := model.PredictProba(testX.Rows)
	if err != nil {
		return nil, stepErr(StepPredict, err)
	}

	report, err := evaluation.Evaluate(test.Labels(), yPred, yProba)
	if errors.Is(err, evaluation.ErrSingleClass) {
		// Only ROC-AUC is undefined; keep the threshold metrics.
		log.Warn().Str("run_id", runID).Msg("Test partition holds one class, ROC-AUC omitted")
		report, err = evaluation.Evaluate(test.Labels(), yPred, nil)
	}
	if err != nil {
		return nil, stepErr(StepEvaluate, err)
	}

	importance, err := model.PermutationImportance(testX.Rows, test.Labels(), testX.Columns, c.SplitSeed)
	if err != nil {
		return nil, stepErr(StepEvaluate, err)
	}
	baseline, err := ml.NewDriftBaseline(trainX.Columns, trainX.Rows, driftSamples)
	if err != nil {
		return nil, stepErr(StepEvaluate, err)
	}

	st, err := p.store.Stage(runID)
	if err != nil {
		return nil, stepErr(StepPublish, err)
	}
	*staged = st

	manifest := artifacts.Manifest{
		RunID:          runID,
		Experiment:     c.Experiment,
		CreatedAt:      time.Now().UTC(),
		DataPath:       c.DataPath,
		Files:          append(append([]string(nil), artifacts.RequiredFiles...), artifacts.DriftFile),
		InputColumns:   state.InputColumns(),
		FeatureColumns: state.OutputColumns,
		Params:         model.Params(),
		TestFraction:   c.TestFraction,
		SplitSeed:      c.SplitSeed,
		TrainRows:      train.Len(),
		TestRows:       test.Len(),
		Metrics:        report.Scalars(),

		FeatureImportance: importance,
	}
	if err := writeArtifacts(st, model, state, report, manifest, test, yPred, yProba); err != nil {
		return nil, stepErr(StepPublish, err)
	}
	if err := baseline.Save(st.Path(artifacts.DriftFile)); err != nil {
		return nil, stepErr(StepPublish, err)
	}
	if err := p.store.Publish(st); err != nil {
		return nil, stepErr(StepPublish, err)
	}
	*staged = nil

	return &Result{RunID: runID, Report: report, Manifest: manifest}, nil
}

func writeArtifacts(st *artifacts.Staged, model *ml.ChurnModel, state *features.TransformState,
	report evaluation.Report, manifest artifacts.Manifest, test dataset.TestSet, yPred []int, yProba []float64) error {
	if err := model.Save(st.Path(artifacts.ModelFile)); err != nil {
		return err
	}
	if err := state.Save(st.Path(artifacts.StateFile)); err != nil {
		return err
	}
	if err := evaluation.Save(report, st.Path(artifacts.MetricsFile)); err != nil {
		return err
	}

	rows := make([]evaluation.PredictionRow, test.Len())
	indices, labels := test.Indices(), test.Labels()
	for i := range rows {
		rows[i] = evaluation.PredictionRow{
			Index:       indices[i],
			Label:       labels[i],
			Predicted:   yPred[i],
			Probability: yProba[i],
		}
	}
	if err := evaluation.SavePredictions(st.Path(artifacts.PredictionsFile), rows); err != nil {
		return err
	}
	return st.WriteManifest(manifest)
}

func logSummary(runID string, s dataset.Summary, labels dataset.Labels) {
	log.Info().
		Str("run_id", runID).
		Int("rows", s.Rows).
		Int("columns", len(s.Columns)).
		Float64("churn_rate", labels.PositiveRate()).
		Msg("Dataset loaded")
	for _, c := range s.Columns {
		log.Debug().
			Str("column", c.Name).
			Str("kind", c.Kind.String()).
			Int("missing", c.Missing).
			Msg("Column summary")
	}
}
