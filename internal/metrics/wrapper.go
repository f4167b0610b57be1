package metrics

import (
	"strconv"
	"time"
)

// MetricsWrapper adapts Metrics to the narrow recorder interface the serving
// package depends on.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) ObserveRequest(path string, status int, d time.Duration) {
	w.m.HTTPRequests.WithLabelValues(path, strconv.Itoa(status)).Inc()
	w.m.HTTPDuration.WithLabelValues(path).Observe(d.Seconds())
}

func (w *MetricsWrapper) PredictionMade(label int, score float64) {
	w.m.Predictions.WithLabelValues(strconv.Itoa(label)).Inc()
	w.m.PredictionScores.Observe(score)
}

func (w *MetricsWrapper) PredictionFailed() {
	w.m.PredictionFailures.Inc()
}

func (w *MetricsWrapper) ModelAgeSet(seconds float64) {
	w.m.ModelAge.Set(seconds)
}
