// Package serving answers single-account churn predictions over HTTP using a
// published training run.
package serving

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"churn-service/internal/artifacts"
	"churn-service/internal/common"
	"churn-service/internal/ml"
)

var (
	ErrNotReady      = errors.New("model not loaded")
	ErrAlreadyLoaded = errors.New("model already loaded")
)

// ValidationError names the request field that failed validation. It is safe to
// return to clients.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

// InferenceError hides an internal prediction failure from the caller. The
// wrapped error is only logged.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Recorder receives observations for external monitoring.
type Recorder interface {
	ObserveRequest(path string, status int, d time.Duration)
	PredictionMade(label int, score float64)
	PredictionFailed()
	ModelAgeSet(seconds float64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRequest(string, int, time.Duration) {}
func (nopRecorder) PredictionMade(int, float64)               {}
func (nopRecorder) PredictionFailed()                         {}
func (nopRecorder) ModelAgeSet(float64)                       {}

// Prediction is the response body of a successful prediction.
type Prediction struct {
	Probability    float64 `json:"churn_probability"`
	Label          int     `json:"churn_prediction"`
	Interpretation string  `json:"interpretation"`
}

// MetricsSnapshot is the response body of the metrics endpoint.
type MetricsSnapshot struct {
	TotalRequests       int     `json:"total_requests"`
	AverageResponseTime float64 `json:"average_response_time"`
	UptimeStatus        string  `json:"uptime_status"`
}

// RequestMetrics aggregates request counts and latencies for the lifetime of the
// process.
type RequestMetrics struct {
	mu           sync.Mutex
	total        int
	serverErrors int
	latencies    []float64
}

func (m *RequestMetrics) record(status int, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	if status >= 500 {
		m.serverErrors++
	}
	m.latencies = append(m.latencies, d.Seconds())
}

func (m *RequestMetrics) snapshot() (total, serverErrors int, mean float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) == 0 {
		return m.total, m.serverErrors, 0
	}
	sum := 0.0
	for _, v := range m.latencies {
		sum += v
	}
	return m.total, m.serverErrors, sum / float64(len(m.latencies))
}

// Service holds the loaded model and the request metrics.
type Service struct {
	model    atomic.Pointer[artifacts.TrainedModel]
	drift    atomic.Pointer[ml.DriftDetector]
	requests RequestMetrics
	recorder Recorder
	started  time.Time
}

// NewService creates a service in the uninitialized state. A nil recorder
// disables external monitoring.
func NewService(recorder Recorder) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{recorder: recorder, started: time.Now()}
}

// Load makes the service ready. It succeeds at most once.
func (s *Service) Load(model *artifacts.TrainedModel) error {
	if model == nil || model.Model == nil || model.State == nil {
		return errors.New("incomplete trained model")
	}
	if !model.Model.Trained() {
		return errors.New("trained model has no fitted classifier")
	}
	if err := checkSchemaCovers(model.State.Columns); err != nil {
		return fmt.Errorf("transform state does not match the request schema: %w", err)
	}
	if !s.model.CompareAndSwap(nil, model) {
		return ErrAlreadyLoaded
	}
	if model.Drift != nil {
		s.drift.Store(ml.NewDriftDetector(model.Drift, ml.DriftDetectionConfig{}))
	}
	s.refreshModelAge(model)

	log.Info().
		Str("run_id", model.Manifest.RunID).
		Int("features", model.State.Width()).
		Time("created_at", model.Manifest.CreatedAt).
		Msg("Model loaded for serving")
	return nil
}

// Ready reports whether a model has been loaded.
func (s *Service) Ready() bool {
	return s.model.Load() != nil
}

// Model returns the loaded model or nil.
func (s *Service) Model() *artifacts.TrainedModel {
	return s.model.Load()
}

// Predict validates one account payload and scores it. Validation failures are
// returned as *ValidationError; any other failure becomes *InferenceError.
func (s *Service) Predict(ctx context.Context, payload map[string]any) (pred Prediction, err error) {
	model := s.model.Load()
	if model == nil {
		return Prediction{}, ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	rec, err := toRecord(payload)
	if err != nil {
		return Prediction{}, err
	}

	defer func() {
		if r := recover(); r != nil {
			err = &InferenceError{Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			s.recorder.PredictionFailed()
			log.Error().
				Err(err).
				Str("run_id", model.Manifest.RunID).
				Msg("Prediction failed")
		}
	}()

	row, err := model.State.TransformRecord(rec)
	if err != nil {
		return Prediction{}, &InferenceError{Err: err}
	}
	if dd := s.drift.Load(); dd != nil {
		dd.Observe(row)
	}
	x := [][]float64{row}
	proba, err := model.Model.PredictProba(x)
	if err != nil {
		return Prediction{}, &InferenceError{Err: err}
	}
	labels, err := model.Model.Predict(x)
	if err != nil {
		return Prediction{}, &InferenceError{Err: err}
	}

	pred = Prediction{
		Probability:    round3(proba[0]),
		Label:          labels[0],
		Interpretation: interpret(labels[0]),
	}
	s.recorder.PredictionMade(pred.Label, proba[0])
	s.refreshModelAge(model)

	log.Info().
		Float64("churn_probability", pred.Probability).
		Int("churn_prediction", pred.Label).
		Msg("Prediction made")
	return pred, nil
}

// DriftReport is the response body of the drift endpoint.
type DriftReport struct {
	Samples  int               `json:"samples"`
	Features []ml.FeatureDrift `json:"features"`
}

// Drift compares recent request features with the training baseline. ok is false
// when the loaded run carries no baseline.
func (s *Service) Drift() (report DriftReport, ok bool) {
	dd := s.drift.Load()
	if dd == nil {
		return DriftReport{}, false
	}
	return DriftReport{Samples: dd.Samples(), Features: dd.DetectDrift()}, true
}

// RecordRequest adds one finished request to the metrics. Safe for concurrent use.
func (s *Service) RecordRequest(status int, d time.Duration) {
	s.requests.record(status, d)
}

// Metrics returns the request total and the mean latency in seconds.
func (s *Service) Metrics() MetricsSnapshot {
	total, _, mean := s.requests.snapshot()
	return MetricsSnapshot{
		TotalRequests:       total,
		AverageResponseTime: round3(mean),
		UptimeStatus:        common.UptimeStatusRunning,
	}
}

// ServerErrors counts recorded requests that ended with a 5xx status.
func (s *Service) ServerErrors() int {
	_, n, _ := s.requests.snapshot()
	return n
}

// Uptime is the time since the service was created.
func (s *Service) Uptime() time.Duration {
	return time.Since(s.started)
}

func (s *Service) refreshModelAge(model *artifacts.TrainedModel) {
	if model.Manifest.CreatedAt.IsZero() {
		return
	}
	s.recorder.ModelAgeSet(time.Since(model.Manifest.CreatedAt).Seconds())
}

func round3(v float64) float64 {
	return decimal.NewFromFloat(v).Round(3).InexactFloat64()
}

func interpret(label int) string {
	if label == 1 {
		return common.InterpretationChurn
	}
	return common.InterpretationNoChurn
}
