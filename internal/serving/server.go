package serving

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"churn-service/internal/common"
	"churn-service/internal/ml"
)

const maxBodyBytes = 1 << 20

// ServerOptions configures the HTTP listener.
type ServerOptions struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	// Gatherer backs /metrics/prometheus; nil means the default registry.
	Gatherer prometheus.Gatherer
}

// Server exposes a Service over HTTP.
type Server struct {
	svc      *Service
	recorder Recorder
	router   chi.Router
	server   *http.Server
}

// NewServer builds the router. The server does not listen until Start.
func NewServer(svc *Service, opts ServerOptions) *Server {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{svc: svc, recorder: svc.recorder}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(s.recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	r.Get("/", s.handleRoot)
	r.Post("/predict", s.handlePredict)
	r.Get("/metrics", s.handleMetrics)
	r.Method(http.MethodGet, "/metrics/prometheus", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/health", s.handleHealth)
	r.Get("/model/info", s.handleModelInfo)
	r.Get("/model/drift", s.handleDrift)
	s.router = r

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      r,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks serving HTTP requests until Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting inference server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// instrument times every request, feeds the request metrics and writes the
// access log line.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		s.svc.RecordRequest(status, elapsed)
		s.recorder.ObserveRequest(route, status, elapsed)

		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", status).
			Dur("duration", elapsed).
			Msg("Request handled")
	})
}

// recoverer turns a handler panic into a generic 500 response.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("path", r.URL.Path).
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("Unhandled panic")
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": common.RootMessage})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed JSON body", Detail: err.Error()})
		return
	}

	pred, err := s.svc.Predict(r.Context(), payload)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusUnprocessableEntity, errorBody{
				Error:  "validation failed",
				Field:  verr.Field,
				Detail: verr.Reason,
			})
		case errors.Is(err, ErrNotReady):
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
		}
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := s.svc.Metrics()
	log.Debug().
		Int("total_requests", m.TotalRequests).
		Float64("average_response_time", m.AverageResponseTime).
		Msg("Metrics requested")
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"model_loaded":  s.svc.Ready(),
		"uptime":        s.svc.Uptime().Round(time.Second).String(),
		"server_errors": s.svc.ServerErrors(),
	}
	status := http.StatusOK
	if model := s.svc.Model(); model != nil {
		health["status"] = "healthy"
		health["run_id"] = model.Manifest.RunID
	} else {
		health["status"] = "not ready"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	model := s.svc.Model()
	if model == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: ErrNotReady.Error()})
		return
	}
	m := model.Manifest
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":          m.RunID,
		"experiment":      m.Experiment,
		"created_at":      m.CreatedAt,
		"input_columns":   m.InputColumns,
		"feature_columns": m.FeatureColumns,
		"params":          m.Params,
		"train_rows":      m.TrainRows,
		"test_rows":       m.TestRows,
		"metrics":         m.Metrics,
		"top_features":    ml.TopFeatures(m.FeatureImportance, 5),
	})
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: ErrNotReady.Error()})
		return
	}
	report, ok := s.svc.Drift()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "run has no drift baseline"})
		return
	}
	for _, fd := range report.Features {
		if fd.Drifted {
			log.Warn().
				Str("feature", fd.Feature).
				Float64("psi", fd.PSIScore).
				Str("severity", fd.Severity).
				Msg("Input drift detected")
		}
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}
