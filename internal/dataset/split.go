package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

var (
	ErrInvalidFraction = errors.New("test fraction must be in (0, 1)")
	ErrLengthMismatch  = errors.New("table and labels differ in length")
	ErrEmptyTable      = errors.New("table has no rows")
	ErrEmptyPartition  = errors.New("split produced an empty partition")
)

// partition is the shared body of TrainSet and TestSet.
type partition struct {
	table   *Table
	labels  Labels
	indices []int
}

func (p partition) Table() *Table { return p.table }

func (p partition) Labels() Labels { return p.labels }

// Indices are the original row positions, in ascending order.
func (p partition) Indices() []int { return p.indices }

func (p partition) Len() int { return p.table.Len() }

// TrainSet is the training partition. Only StratifiedSplit creates a non-empty one.
type TrainSet struct{ partition }

// TestSet is the held-out partition. Only StratifiedSplit creates a non-empty one.
type TestSet struct{ partition }

// StratifiedSplit partitions rows into train and test sets preserving the class
// ratio. Each class is shuffled with a generator seeded by seed and round(n*fraction)
// of its rows go to the test set. Both partitions keep the original row order, so the
// same inputs and seed always yield the same split.
func StratifiedSplit(table *Table, labels Labels, testFraction float64, seed int64) (TrainSet, TestSet, error) {
	if !(testFraction > 0 && testFraction < 1) {
		return TrainSet{}, TestSet{}, fmt.Errorf("%w: got %v", ErrInvalidFraction, testFraction)
	}
	if table.Len() == 0 {
		return TrainSet{}, TestSet{}, ErrEmptyTable
	}
	if table.Len() != len(labels) {
		return TrainSet{}, TestSet{}, fmt.Errorf("%w: %d rows, %d labels", ErrLengthMismatch, table.Len(), len(labels))
	}

	byClass := [2][]int{}
	for i, y := range labels {
		if y != 0 && y != 1 {
			return TrainSet{}, TestSet{}, fmt.Errorf("label at row %d is %d, want 0 or 1", i, y)
		}
		byClass[y] = append(byClass[y], i)
	}

	rng := rand.New(rand.NewSource(seed))
	var trainIdx, testIdx []int
	for _, rows := range byClass {
		shuffled := make([]int, len(rows))
		copy(shuffled, rows)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		nTest := int(math.Round(float64(len(shuffled)) * testFraction))
		testIdx = append(testIdx, shuffled[:nTest]...)
		trainIdx = append(trainIdx, shuffled[nTest:]...)
	}
	if len(trainIdx) == 0 || len(testIdx) == 0 {
		return TrainSet{}, TestSet{}, fmt.Errorf("%w: train=%d test=%d", ErrEmptyPartition, len(trainIdx), len(testIdx))
	}

	sort.Ints(trainIdx)
	sort.Ints(testIdx)

	return TrainSet{newPartition(table, labels, trainIdx)}, TestSet{newPartition(table, labels, testIdx)}, nil
}

func newPartition(table *Table, labels Labels, indices []int) partition {
	y := make(Labels, len(indices))
	for i, idx := range indices {
		y[i] = labels[idx]
	}
	return partition{table: table.subset(indices), labels: y, indices: indices}
}
