// Package handler exposes the console's local ops HTTP surface: health
// probes, prometheus metrics, and JSON snapshots of the reconciled state.
package handler

import (
	"context"
	"net/http"

	"github.com/frauddetection/fraudwatch-go/internal/domain"
	"github.com/frauddetection/fraudwatch-go/internal/infra/observability"
	"github.com/frauddetection/fraudwatch-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter creates the ops router. The console is headless; these routes
// are how an operator (or a scraper) reads and drives it.
func NewRouter(console *service.Console, engine *service.Engine, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler(engine))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Get("/state", stateHandler(console, engine))
	r.Get("/summary", summaryHandler(metrics))

	r.Post("/filters", applyFiltersHandler(console, logger))
	r.Post("/filters/reset", resetFiltersHandler(console, logger))
	r.Post("/page/next", pageHandler(console.NextPage, logger))
	r.Post("/page/prev", pageHandler(console.PrevPage, logger))

	return r
}

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// readyzHandler reports ready once the engine has loaded its first page.
func readyzHandler(engine *service.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := engine.View(); !ok {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

type stateResponse struct {
	Stream  string                  `json:"stream"`
	Filters domain.Filters          `json:"filters"`
	Page    int                     `json:"page"`
	View    *domain.DecisionPage    `json:"view,omitempty"`
	Metrics *domain.MetricsSnapshot `json:"metrics,omitempty"`
	Errors  []string                `json:"errors,omitempty"`
}

func stateHandler(console *service.Console, engine *service.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters, page := engine.Scope()
		resp := stateResponse{
			Stream:  console.StreamStatus().String(),
			Filters: filters,
			Page:    page,
		}
		if view, ok := engine.View(); ok {
			resp.View = &view
		}
		if snapshot, ok := engine.MetricsView(); ok {
			resp.Metrics = &snapshot
		}
		decisionsErr, metricsErr := engine.Errors()
		if decisionsErr != nil {
			resp.Errors = append(resp.Errors, decisionsErr.Error())
		}
		if metricsErr != nil {
			resp.Errors = append(resp.Errors, metricsErr.Error())
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func summaryHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetConsoleSummary())
	}
}

func applyFiltersHandler(console *service.Console, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filters domain.Filters
		if err := decodeJSON(r, &filters); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := console.Apply(r.Context(), filters); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
	}
}

func resetFiltersHandler(console *service.Console, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := console.Reset(r.Context()); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

func pageHandler(step func(ctx context.Context) error, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := step(r.Context()); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
