package ml

import (
	"errors"
	"fmt"
	"math"

	randomForest "github.com/malaschitz/randomForest"
)

// ForestParams configures the random forest.
type ForestParams struct {
	NEstimators    int `json:"n_estimators" yaml:"n_estimators"`
	MaxDepth       int `json:"max_depth" yaml:"max_depth"` // 0 grows trees until leaves hit MinSamplesLeaf
	MinSamplesLeaf int `json:"min_samples_leaf" yaml:"min_samples_leaf"`
}

func DefaultForestParams() ForestParams {
	return ForestParams{
		NEstimators:    100,
		MaxDepth:       0,
		MinSamplesLeaf: 1,
	}
}

func (p ForestParams) Validate() error {
	if p.NEstimators < 1 {
		return fmt.Errorf("n_estimators must be at least 1, got %d", p.NEstimators)
	}
	if p.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be non-negative, got %d", p.MaxDepth)
	}
	if p.MinSamplesLeaf < 1 {
		return fmt.Errorf("min_samples_leaf must be at least 1, got %d", p.MinSamplesLeaf)
	}
	return nil
}

// forestModel is a trained randomForest.Forest plus the input width it was fitted on.
// It is also the persisted form of a model.
type forestModel struct {
	Params    ForestParams         `json:"params"`
	NFeatures int                  `json:"n_features"`
	Model     *randomForest.Forest `json:"forest"`
}

func fitForest(x [][]float64, y []int, params ForestParams) (*forestModel, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(x) == 0 {
		return nil, errors.New("cannot fit on zero rows")
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("features have %d rows, labels have %d", len(x), len(y))
	}
	width := len(x[0])
	if width == 0 {
		return nil, errors.New("cannot fit on zero features")
	}
	for i, row := range x {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
		if y[i] != 0 && y[i] != 1 {
			return nil, fmt.Errorf("label at row %d is %d, want 0 or 1", i, y[i])
		}
	}

	// A tree over n rows is never deeper than n, so n stands in for "unlimited".
	maxDepth := params.MaxDepth
	if maxDepth == 0 {
		maxDepth = len(x)
	}

	rf := &randomForest.Forest{
		Data:      randomForest.ForestData{X: x, Class: y},
		MFeatures: int(math.Max(1, math.Floor(math.Sqrt(float64(width))))),
		LeafSize:  params.MinSamplesLeaf,
		MaxDepth:  maxDepth,
	}
	if err := train(rf, params.NEstimators); err != nil {
		return nil, err
	}
	// The training rows are not needed for voting and must not end up in the artifact.
	rf.Data = randomForest.ForestData{}

	f := &forestModel{Params: params, NFeatures: width, Model: rf}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func train(rf *randomForest.Forest, trees int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("random forest training panicked: %v", r)
		}
	}()
	rf.Train(trees)
	return nil
}

// predictProba is the share of the forest's vote that goes to class 1. A forest
// fitted on negatives only votes for a single class and always returns 0.
func (f *forestModel) predictProba(row []float64) float64 {
	votes := f.Model.Vote(row)
	if len(votes) < 2 {
		return 0
	}
	var total float64
	for _, v := range votes {
		total += v
	}
	if total <= 0 {
		return 0
	}
	return math.Min(1, math.Max(0, votes[1]/total))
}

func (f *forestModel) validate() error {
	if f.Model == nil || len(f.Model.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	if f.NFeatures <= 0 {
		return errors.New("forest has no features")
	}
	return f.Params.Validate()
}
