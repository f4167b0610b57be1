package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// FeatureImportance is the accuracy lost when one feature column is shuffled.
type FeatureImportance struct {
	Name string `json:"name"`
	// PermutationScore is baseline accuracy minus permuted accuracy; it can be negative.
	PermutationScore float64 `json:"permutation_score"`
	// ImportanceScore is PermutationScore clipped at zero.
	ImportanceScore float64 `json:"importance_score"`
}

// PermutationImportance shuffles each column of x in turn and measures the drop in
// accuracy against y. Results are sorted by importance, most important first. The
// shuffle is seeded so repeated calls agree.
func (m *ChurnModel) PermutationImportance(x [][]float64, y []int, names []string, seed int64) ([]FeatureImportance, error) {
	if len(x) == 0 {
		return nil, errors.New("no rows to score")
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("features have %d rows, labels have %d", len(x), len(y))
	}
	if len(names) != len(x[0]) {
		return nil, fmt.Errorf("%d feature names for %d columns", len(names), len(x[0]))
	}

	baseline, err := m.accuracy(x, y)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	permuted := make([][]float64, len(x))
	for i := range x {
		permuted[i] = make([]float64, len(x[i]))
		copy(permuted[i], x[i])
	}
	order := make([]int, len(x))

	out := make([]FeatureImportance, len(names))
	for j, name := range names {
		for i := range order {
			order[i] = i
		}
		rng.Shuffle(len(order), func(a, b int) { order[a], order[b] = order[b], order[a] })
		for i := range permuted {
			permuted[i][j] = x[order[i]][j]
		}

		score, err := m.accuracy(permuted, y)
		if err != nil {
			return nil, err
		}
		for i := range permuted {
			permuted[i][j] = x[i][j]
		}

		drop := baseline - score
		out[j] = FeatureImportance{Name: name, PermutationScore: drop, ImportanceScore: math.Max(0, drop)}
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].ImportanceScore > out[b].ImportanceScore
	})
	return out, nil
}

func (m *ChurnModel) accuracy(x [][]float64, y []int) (float64, error) {
	pred, err := m.Predict(x)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := range pred {
		if pred[i] == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(y)), nil
}

// TopFeatures returns the first n entries of a sorted importance list.
func TopFeatures(imp []FeatureImportance, n int) []FeatureImportance {
	if n > len(imp) {
		n = len(imp)
	}
	if n < 0 {
		n = 0
	}
	return append([]FeatureImportance(nil), imp[:n]...)
}
