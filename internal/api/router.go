package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/fluscore/internal/api/handlers"
	"github.com/wonny/fluscore/pkg/database"
	"github.com/wonny/fluscore/pkg/logger"
	"github.com/wonny/fluscore/pkg/metrics"
)

// HealthChecker reports database health for GET /health
type HealthChecker interface {
	HealthCheck(ctx context.Context) (*database.HealthStatus, error)
}

// NewRouter creates and configures the HTTP router.
// db and m may be nil: /health then skips the database and /metrics is not mounted.
// ⭐ SSOT: routing lives in this function only
func NewRouter(scoreHandler *handlers.ScoreHandler, db HealthChecker, m *metrics.Manager, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	if db != nil {
		r.HandleFunc("/health", databaseHealthHandler(db, log)).Methods("GET")
	} else {
		r.HandleFunc("/health", healthCheckHandler).Methods("GET")
	}

	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/default", scoreHandler.GetDefault).Methods("GET")
	api.HandleFunc("/models", scoreHandler.GetModels).Methods("GET")
	api.HandleFunc("/models/{id:[0-9]+}/scores.csv", scoreHandler.GetScoresCSV).Methods("GET")
	api.HandleFunc("/scores", scoreHandler.GetScores).Methods("GET")

	// Apply middleware
	r.Use(corsMiddleware)
	r.Use(loggingMiddleware(log, m))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "fluscore-api",
	})
}

// databaseHealthHandler reports 503 while the database does not answer
func databaseHealthHandler(db HealthChecker, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := db.HealthCheck(r.Context())
		code, state := http.StatusOK, "ok"
		if err != nil {
			log.WithError(err).Warn("Database health check failed")
			code, state = http.StatusServiceUnavailable, "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   state,
			"service":  "fluscore-api",
			"database": status,
		})
	}
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// corsMiddleware lets browser dashboards on other origins read the API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests and records them by route template
func loggingMiddleware(log *logger.Logger, m *metrics.Manager) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			// Call next handler
			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			m.ObserveHTTP(route, strconv.Itoa(rec.status), time.Since(start))

			// Log request
			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
