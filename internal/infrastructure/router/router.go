package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"patient-call-service/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouteRegistrar mounts a group of routes
type RouteRegistrar interface {
	Register(r *mux.Router)
}

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// Router builds the service HTTP router
type Router struct {
	registrars []RouteRegistrar
	checks     map[string]HealthCheck
	gatherer   prometheus.Gatherer
	version    string
	logger     logger.Logger
}

// NewRouter creates a router exposing metrics from gatherer
func NewRouter(gatherer prometheus.Gatherer, version string, logger logger.Logger) *Router {
	return &Router{
		checks:   map[string]HealthCheck{},
		gatherer: gatherer,
		version:  version,
		logger:   logger,
	}
}

// Register adds a group of routes
func (r *Router) Register(registrar RouteRegistrar) {
	r.registrars = append(r.registrars, registrar)
}

// AddHealthCheck adds a dependency to /health
func (r *Router) AddHealthCheck(name string, check HealthCheck) {
	r.checks[name] = check
}

// Handler returns the complete http.Handler
func (r *Router) Handler() http.Handler {
	root := mux.NewRouter()
	root.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	root.HandleFunc("/health", r.health).Methods(http.MethodGet)

	for _, reg := range r.registrars {
		reg.Register(root)
	}

	root.Use(r.logRequests)
	return corsMiddleware(root)
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	httpStatus := http.StatusOK
	deps := map[string]string{}
	for name, check := range r.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       status,
		"version":      r.version,
		"dependencies": deps,
		"time":         time.Now().Format(time.RFC3339),
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (r *Router) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		r.logger.Debug("HTTP request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String())
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
