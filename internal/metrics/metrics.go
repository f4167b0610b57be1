// Package metrics provides Prometheus metrics collection for the churn inference
// service. It defines the request, prediction and model metrics exposed on the
// Prometheus endpoint for monitoring and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the inference service.
type Metrics struct {
	// HTTP metrics
	HTTPRequests *prometheus.CounterVec   // Requests by route pattern and status code
	HTTPDuration *prometheus.HistogramVec // Request latency by route pattern

	// Prediction metrics
	Predictions        *prometheus.CounterVec // Successful predictions by predicted label
	PredictionFailures prometheus.Counter     // Predictions that ended in an internal error
	PredictionScores   prometheus.Histogram   // Distribution of churn probabilities

	// Model metrics
	ModelAge prometheus.Gauge // Seconds since the served model was trained
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by path and status",
		}, []string{"path", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"path"}),
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "churn_predictions_total",
			Help: "Total number of churn predictions by predicted label",
		}, []string{"label"}),
		PredictionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "churn_prediction_failures_total",
			Help: "Total number of churn predictions that failed internally",
		}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "churn_prediction_scores",
			Help:    "Distribution of predicted churn probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "churn_model_age_seconds",
			Help: "Age of the served churn model in seconds",
		}),
	}
}
