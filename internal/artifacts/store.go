// Package artifacts manages versioned training outputs on disk.
//
// Each training run writes into a private staging directory. Publishing renames it to
// runs/<runID> and then repoints the "current" symlink with an atomic rename, so
// readers of current/ see either the previous complete run or the new complete run.
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"churn-service/internal/ml"
)

const (
	ModelFile       = "churn_model.json"
	StateFile       = "transform_state.json"
	MetricsFile     = "metrics.json"
	PredictionsFile = "predictions.csv"
	ManifestFile    = "manifest.json"
	// DriftFile is optional; runs without it are served without drift detection.
	DriftFile       = "drift_baseline.json"

	currentLink   = "current"
	runsDir       = "runs"
	stagingSuffix = ".partial"
)

// RequiredFiles must all exist in a run before it can be published.
var RequiredFiles = []string{ModelFile, StateFile, MetricsFile, PredictionsFile, ManifestFile}

var (
	ErrNoActiveRun = errors.New("no active run published")
	ErrRunNotFound = errors.New("run not found")
)

// Manifest describes a published run.
type Manifest struct {
	RunID          string             `json:"run_id"`
	Experiment     string             `json:"experiment"`
	CreatedAt      time.Time          `json:"created_at"`
	DataPath       string             `json:"data_path"`
	Files          []string           `json:"files"`
	InputColumns   []string           `json:"input_columns"`
	FeatureColumns []string           `json:"feature_columns"`
	Params         ml.ForestParams    `json:"params"`
	TestFraction   float64            `json:"test_fraction"`
	SplitSeed      int64              `json:"split_seed"`
	TrainRows      int                `json:"train_rows"`
	TestRows       int                `json:"test_rows"`
	Metrics        map[string]float64 `json:"metrics"`

	FeatureImportance []ml.FeatureImportance `json:"feature_importance,omitempty"`
}

// Version is a published run as seen by listing.
type Version struct {
	RunID     string
	CreatedAt time.Time
	Metrics   map[string]float64
	Active    bool
}

// Store is rooted at an artifacts directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, runsDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// CurrentDir is the path readers use for the active run.
func (s *Store) CurrentDir() string { return filepath.Join(s.dir, currentLink) }

func (s *Store) runDir(runID string) string { return filepath.Join(s.dir, runsDir, runID) }

// Staged is a run being written. Nothing under it is visible to readers until Publish.
type Staged struct {
	RunID string
	dir   string
}

// Path returns where an artifact file of the staged run should be written.
func (st *Staged) Path(name string) string { return filepath.Join(st.dir, name) }

func (st *Staged) WriteManifest(m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(st.Path(ManifestFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// Discard removes everything written to the staged run.
func (st *Staged) Discard() error {
	if err := os.RemoveAll(st.dir); err != nil {
		return fmt.Errorf("failed to discard staged run %s: %w", st.RunID, err)
	}
	return nil
}

// Stage creates an empty staging directory for runID.
func (s *Store) Stage(runID string) (*Staged, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	if _, err := os.Stat(s.runDir(runID)); err == nil {
		return nil, fmt.Errorf("run %s already exists", runID)
	}
	dir := s.runDir(runID) + stagingSuffix
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("failed to clear staging directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &Staged{RunID: runID, dir: dir}, nil
}

// Publish moves a complete staged run into runs/ and makes it current.
func (s *Store) Publish(st *Staged) error {
	for _, name := range RequiredFiles {
		if _, err := os.Stat(st.Path(name)); err != nil {
			return fmt.Errorf("staged run %s is incomplete: %w", st.RunID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Rename(st.dir, s.runDir(st.RunID)); err != nil {
		return fmt.Errorf("failed to finalize run %s: %w", st.RunID, err)
	}
	st.dir = s.runDir(st.RunID)
	return s.pointCurrent(st.RunID)
}

// Activate makes an already published run current again.
func (s *Store) Activate(runID string) error {
	if err := validRunID(runID); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(s.runDir(runID), ManifestFile)); err != nil {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pointCurrent(runID)
}

// Rollback activates the newest run older than the current one.
func (s *Store) Rollback() (string, error) {
	versions, err := s.ListVersions()
	if err != nil {
		return "", err
	}
	for i, v := range versions {
		if !v.Active {
			continue
		}
		if i+1 >= len(versions) {
			return "", errors.New("no previous run available for rollback")
		}
		prev := versions[i+1].RunID
		return prev, s.Activate(prev)
	}
	return "", ErrNoActiveRun
}

// pointCurrent swaps the current symlink by renaming a freshly made link over it.
func (s *Store) pointCurrent(runID string) error {
	tmp := filepath.Join(s.dir, "."+currentLink+".tmp")
	_ = os.Remove(tmp)
	if err := os.Symlink(filepath.Join(runsDir, runID), tmp); err != nil {
		return fmt.Errorf("failed to create current link: %w", err)
	}
	if err := os.Rename(tmp, s.CurrentDir()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to swap current link: %w", err)
	}
	log.Info().Str("run_id", runID).Str("dir", s.dir).Msg("Run activated")
	return nil
}

// ActiveRunID returns the run current points at.
func (s *Store) ActiveRunID() (string, error) {
	target, err := os.Readlink(s.CurrentDir())
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoActiveRun
		}
		return "", fmt.Errorf("failed to read current link: %w", err)
	}
	return filepath.Base(target), nil
}

// ListVersions returns published runs, newest first.
func (s *Store) ListVersions() ([]Version, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, runsDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	active, err := s.ActiveRunID()
	if err != nil && !errors.Is(err, ErrNoActiveRun) {
		return nil, err
	}

	var versions []Version
	for _, e := range entries {
		if !e.IsDir() || strings.HasSuffix(e.Name(), stagingSuffix) {
			continue
		}
		m, err := ReadManifest(filepath.Join(s.runDir(e.Name()), ManifestFile))
		if err != nil {
			log.Warn().Err(err).Str("run_id", e.Name()).Msg("Skipping run with unreadable manifest")
			continue
		}
		versions = append(versions, Version{
			RunID:     m.RunID,
			CreatedAt: m.CreatedAt,
			Metrics:   m.Metrics,
			Active:    m.RunID == active,
		})
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].CreatedAt.After(versions[j].CreatedAt)
	})
	return versions, nil
}

// Prune deletes the oldest inactive runs so that at most keep runs remain. keep <= 0
// disables pruning.
func (s *Store) Prune(keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	versions, err := s.ListVersions()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for i := len(versions) - 1; i >= 0 && len(versions)-len(removed) > keep; i-- {
		if versions[i].Active {
			continue
		}
		if err := os.RemoveAll(s.runDir(versions[i].RunID)); err != nil {
			return removed, fmt.Errorf("failed to prune run %s: %w", versions[i].RunID, err)
		}
		removed = append(removed, versions[i].RunID)
	}
	if len(removed) > 0 {
		log.Info().Strs("runs", removed).Msg("Pruned old runs")
	}
	return removed, nil
}

// ReadManifest reads a manifest file.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return m, nil
}

func validRunID(runID string) error {
	if runID == "" || runID == "." || runID == ".." ||
		strings.ContainsAny(runID, `/\`) || strings.HasSuffix(runID, stagingSuffix) {
		return fmt.Errorf("invalid run id %q", runID)
	}
	return nil
}
