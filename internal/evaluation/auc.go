package evaluation

import (
	"fmt"
	"sort"
)

// ROCAUC computes the area under the ROC curve from the ranks of scores (the
// Mann-Whitney U statistic). Tied scores share their average rank.
func ROCAUC(yTrue []int, scores []float64) (float64, error) {
	if len(yTrue) != len(scores) {
		return 0, fmt.Errorf("scores have %d entries, y_true has %d", len(scores), len(yTrue))
	}

	var pos, neg int
	for i, y := range yTrue {
		switch y {
		case 1:
			pos++
		case 0:
			neg++
		default:
			return 0, fmt.Errorf("row %d: label must be 0 or 1, got %d", i, y)
		}
	}
	if pos == 0 || neg == 0 {
		return 0, ErrSingleClass
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	var rankSum float64
	for i := 0; i < len(order); {
		j := i
		for j+1 < len(order) && scores[order[j+1]] == scores[order[i]] {
			j++
		}
		// ranks are 1-based; positions i..j share the mean rank
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			if yTrue[order[k]] == 1 {
				rankSum += avg
			}
		}
		i = j + 1
	}

	u := rankSum - float64(pos)*float64(pos+1)/2
	return u / (float64(pos) * float64(neg)), nil
}
