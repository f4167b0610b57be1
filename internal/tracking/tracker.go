// Package tracking records training runs for later comparison.
// It uses BoltDB as the storage engine, keeping one JSON document per run together
// with its parameters, evaluation metrics, status and timing.
//
// Keys have the form "experiment_startUnixNano_runID", so a cursor seek on the
// experiment prefix yields that experiment's runs in start order.
package tracking

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	runsBucket  = "runs"      // Bucket name for run records
	indexBucket = "run_index" // Bucket mapping run id to its key in runsBucket

	// DBFile is the database file name created inside the tracking directory.
	DBFile = "tracking.db"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

var ErrRunNotFound = errors.New("run not found")

// Run is one training execution.
type Run struct {
	ID         string             `json:"id"`
	Experiment string             `json:"experiment"`
	Status     Status             `json:"status"`
	Params     map[string]string  `json:"params"`
	Metrics    map[string]float64 `json:"metrics"`
	StartedAt  time.Time          `json:"started_at"`
	EndedAt    time.Time          `json:"ended_at,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Tracker persists runs in a BoltDB file.
type Tracker struct {
	db *bbolt.DB
}

// New opens (or creates) the tracking database inside dir.
// Returns an error if the database cannot be opened or buckets cannot be created.
func New(dir string) (*Tracker, error) {
	dbPath := filepath.Join(dir, DBFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open tracking database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return fmt.Errorf("create runs bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(indexBucket)); err != nil {
			return fmt.Errorf("create index bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Tracker{db: db}, nil
}

// Close closes the database. It is safe to call more than once.
func (t *Tracker) Close() error {
	if t.db == nil {
		return nil
	}
	err := t.db.Close()
	t.db = nil
	return err
}

// StartRun creates a running record with a fresh id.
func (t *Tracker) StartRun(experiment string, params map[string]string) (*Run, error) {
	run := &Run{
		ID:         uuid.NewString(),
		Experiment: experiment,
		Status:     StatusRunning,
		Params:     params,
		Metrics:    make(map[string]float64),
		StartedAt:  time.Now().UTC(),
	}
	key := runKey(run)

	err := t.db.Update(func(tx *bbolt.Tx) error {
		if err := putRun(tx, key, run); err != nil {
			return err
		}
		return tx.Bucket([]byte(indexBucket)).Put([]byte(run.ID), key)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// LogMetrics merges metrics into the run, overwriting values with the same name.
func (t *Tracker) LogMetrics(runID string, metrics map[string]float64) error {
	return t.update(runID, func(run *Run) error {
		if run.Metrics == nil {
			run.Metrics = make(map[string]float64)
		}
		for k, v := range metrics {
			run.Metrics[k] = v
		}
		return nil
	})
}

// FinishRun marks a run finished, or failed when runErr is non-nil.
func (t *Tracker) FinishRun(runID string, runErr error) error {
	return t.update(runID, func(run *Run) error {
		if run.Status != StatusRunning {
			return fmt.Errorf("run %s is already %s", runID, run.Status)
		}
		run.EndedAt = time.Now().UTC()
		run.Status = StatusFinished
		if runErr != nil {
			run.Status = StatusFailed
			run.Error = runErr.Error()
		}
		return nil
	})
}

// GetRun looks a run up by id.
func (t *Tracker) GetRun(runID string) (*Run, error) {
	var run *Run
	err := t.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(indexBucket)).Get([]byte(runID))
		if key == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		var err error
		run, err = getRun(tx, key)
		return err
	})
	return run, err
}

// ListRuns returns the runs of an experiment in start order. An empty experiment
// lists every run.
func (t *Tracker) ListRuns(experiment string) ([]Run, error) {
	var runs []Run
	err := t.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()

		var prefix []byte
		if experiment != "" {
			prefix = []byte(experiment + "_")
		}
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				continue // Skip malformed records
			}
			if experiment != "" && run.Experiment != experiment {
				continue
			}
			runs = append(runs, run)
		}
		return nil
	})
	return runs, err
}

func (t *Tracker) update(runID string, fn func(*Run) error) error {
	return t.db.Update(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(indexBucket)).Get([]byte(runID))
		if key == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		key = append([]byte(nil), key...)
		run, err := getRun(tx, key)
		if err != nil {
			return err
		}
		if err := fn(run); err != nil {
			return err
		}
		return putRun(tx, key, run)
	})
}

func runKey(run *Run) []byte {
	return []byte(fmt.Sprintf("%s_%d_%s", run.Experiment, run.StartedAt.UnixNano(), run.ID))
}

func putRun(tx *bbolt.Tx, key []byte, run *Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	return tx.Bucket([]byte(runsBucket)).Put(key, data)
}

func getRun(tx *bbolt.Tx, key []byte) (*Run, error) {
	data := tx.Bucket([]byte(runsBucket)).Get(key)
	if data == nil {
		return nil, fmt.Errorf("%w: missing record %s", ErrRunNotFound, key)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}
