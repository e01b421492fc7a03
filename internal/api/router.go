package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/scheduler"
)

// RunSource exposes the results of the watch loop.
type RunSource interface {
	Latest() (models.Report, bool)
	Stats() scheduler.Stats
}

type reportResponse struct {
	models.Report
	Error string `json:"error,omitempty"`
}

// NewRouter builds the HTTP surface served alongside the watch loop.
func NewRouter(logger *slog.Logger, source RunSource, gatherer prometheus.Gatherer) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{logger: logger, source: source}

	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/runs/latest", h.latestRun).Methods(http.MethodGet)
	v1.HandleFunc("/stats", h.stats).Methods(http.MethodGet)

	return router
}

type handlers struct {
	logger *slog.Logger
	source RunSource
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	code := http.StatusOK
	if report, ok := h.source.Latest(); ok {
		body["last_outcome"] = report.Outcome
		body["last_run_at"] = report.FinishedAt
		if report.Status == models.StatusFailure {
			body["status"] = "failing"
			code = http.StatusServiceUnavailable
		}
	}
	h.writeJSON(w, code, body)
}

func (h *handlers) latestRun(w http.ResponseWriter, r *http.Request) {
	report, ok := h.source.Latest()
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no run has completed yet"})
		return
	}
	h.writeJSON(w, http.StatusOK, reportResponse{Report: report, Error: report.ErrorText()})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.source.Stats())
}

func (h *handlers) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("write response failed", slog.Any("error", err))
	}
}

func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Duration("duration", time.Since(start)))
		})
	}
}
