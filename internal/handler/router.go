// Package handler provides the operational HTTP endpoints of an Agora node:
// liveness, readiness, Prometheus metrics and the registered request kinds.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/prn-tf/agora/internal/dispatch"
)

// Checker reports whether a dependency is usable.
type Checker interface {
	Health(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) error

// Health calls f.
func (f CheckFunc) Health(ctx context.Context) error { return f(ctx) }

// Router serves the operational endpoints.
type Router struct {
	checks      map[string]Checker
	gatherer    prometheus.Gatherer
	metricsPath string
	kinds       func() []dispatch.Kind
	version     string
	timeout     time.Duration
	logger      zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	// Checks are run by /ready, keyed by dependency name.
	Checks map[string]Checker

	// Metrics is exposed at MetricsPath when non-nil.
	Metrics     prometheus.Gatherer
	MetricsPath string

	// Kinds lists the registered request kinds.
	Kinds func() []dispatch.Kind

	Version string

	// CheckTimeout bounds each readiness check. Defaults to 2s.
	CheckTimeout time.Duration

	Logger zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 2 * time.Second
	}
	return &Router{
		checks:      config.Checks,
		gatherer:    config.Metrics,
		metricsPath: config.MetricsPath,
		kinds:       config.Kinds,
		version:     config.Version,
		timeout:     config.CheckTimeout,
		logger:      config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(rt.accessLog)

	r.Get("/health", rt.handleHealth)
	r.Get("/ready", rt.handleReady)
	if rt.kinds != nil {
		r.Get("/kinds", rt.handleKinds)
	}
	if rt.gatherer != nil {
		r.Method(http.MethodGet, rt.metricsPath, promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// handleHealth handles liveness requests.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": rt.version,
	})
}

// handleReady runs every dependency check.
func (rt *Router) handleReady(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	results := make(map[string]string, len(rt.checks))

	for name, check := range rt.checks {
		ctx, cancel := context.WithTimeout(r.Context(), rt.timeout)
		err := check.Health(ctx)
		cancel()

		if err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			rt.logger.Warn().Err(err).Str("dependency", name).Msg("readiness check failed")
			continue
		}
		results[name] = "ok"
	}

	body := map[string]any{"checks": results, "status": "ready"}
	if status != http.StatusOK {
		body["status"] = "unavailable"
	}
	writeJSON(w, status, body)
}

// handleKinds lists the request kinds the dispatcher accepts.
func (rt *Router) handleKinds(w http.ResponseWriter, r *http.Request) {
	kinds := rt.kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{"kinds": names})
}

func (rt *Router) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		rt.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request handled")
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
