// Package api exposes the entropy dispenser over HTTP.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/TheEntropyCollective/heliorand/pkg/infrastructure/logging"
	"github.com/TheEntropyCollective/heliorand/pkg/pool"
	"github.com/TheEntropyCollective/heliorand/pkg/pool/store"
)

const (
	serviceName    = "heliorand"
	serviceVersion = "0.1.0"

	// defaultRandomBytes is served by GET /random without a count.
	defaultRandomBytes = 256
)

// Server holds the HTTP handlers for the dispenser API.
type Server struct {
	pool      *pool.Pool
	apiPrefix string
	maxBytes  int
	logger    *logging.Logger
}

// NewServer creates the API server. maxBytes caps a single request;
// apiPrefix is the versioned mount point (e.g. "/api/v1").
func NewServer(p *pool.Pool, apiPrefix string, maxBytes int, logger *logging.Logger) *Server {
	if apiPrefix == "" {
		apiPrefix = "/api/v1"
	}
	if maxBytes <= 0 {
		maxBytes = 10240
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Server{
		pool:      p,
		apiPrefix: apiPrefix,
		maxBytes:  maxBytes,
		logger:    logger.WithComponent("api"),
	}
}

// Router builds the route table: versioned entropy endpoints under the API
// prefix, plus unversioned service endpoints at the root.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)

	api := r.PathPrefix(s.apiPrefix).Subrouter()
	api.HandleFunc("/random", s.handleRandomDefault).Methods(http.MethodGet)
	api.HandleFunc("/random/{n}", s.handleRandom).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":  serviceName,
		"version":  serviceVersion,
		"status":   "operational",
		"api_base": s.apiPrefix,
		"endpoints": map[string]string{
			s.apiPrefix + "/random/{n}": "Get n random bytes (base64 encoded)",
			s.apiPrefix + "/stats":      "Entropy pool statistics",
			s.apiPrefix + "/health":     "Health check",
		},
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"ping": "pong"})
}

func (s *Server) handleRandomDefault(w http.ResponseWriter, r *http.Request) {
	s.serveRandom(w, r, defaultRandomBytes)
}

func (s *Server) handleRandom(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(mux.Vars(r)["n"])
	if err != nil || n < 1 || n > s.maxBytes {
		s.writeError(w, http.StatusBadRequest,
			"number of bytes must be between 1 and "+strconv.Itoa(s.maxBytes))
		return
	}
	s.serveRandom(w, r, n)
}

func (s *Server) serveRandom(w http.ResponseWriter, r *http.Request, n int) {
	data, err := s.pool.Take(r.Context(), n)
	if err != nil {
		switch {
		case errors.Is(err, pool.ErrEmpty), errors.Is(err, pool.ErrNotEnough):
			s.writeError(w, http.StatusServiceUnavailable,
				"entropy pool is empty, please try again later")
		case errors.Is(err, store.ErrUnavailable):
			s.writeError(w, http.StatusServiceUnavailable,
				"entropy service unavailable")
		default:
			s.logger.Error("take failed", map[string]interface{}{
				"bytes": n,
				"error": err.Error(),
			})
			s.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"bytes":  base64.StdEncoding.EncodeToString(data),
		"length": len(data),
		"format": "base64",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.pool.Stats(r.Context())
	if err != nil {
		// A store outage is still a valid answer: the snapshot carries
		// status "disconnected" and the endpoint stays 200.
		s.logger.Warn("stats degraded", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.pool.HealthCheck(r.Context())

	status := "degraded"
	if health.Healthy {
		status = "healthy"
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"service": serviceName,
		"version": serviceVersion,
		"pool":    health,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}
