// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Cassini-chris/chroma/internal/coordinator"
	"github.com/Cassini-chris/chroma/internal/logservice"
	"github.com/Cassini-chris/chroma/internal/metrics"
	"github.com/Cassini-chris/chroma/internal/models"
	"github.com/Cassini-chris/chroma/internal/storage"
	"github.com/Cassini-chris/chroma/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
}

// HTTPServer serves the log service and coordinator APIs. Either
// component may be nil; only the routes for present components are
// registered.
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	store          storage.Store
	logService     *logservice.LogService
	coordinator    *coordinator.Coordinator
	metricsManager *metrics.Manager
	logger         *logrus.Logger
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	config *ServerConfig,
	store storage.Store,
	logService *logservice.LogService,
	coord *coordinator.Coordinator,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {

	server := &HTTPServer{
		config:         config,
		store:          store,
		logService:     logService,
		coordinator:    coord,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
	}

	server.setupRouter()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// Collection endpoints
	if s.coordinator != nil {
		api.HandleFunc("/collections", s.createCollectionHandler).Methods("POST")
		api.HandleFunc("/collections", s.listCollectionsHandler).Methods("GET")
		api.HandleFunc("/collections/{id}", s.getCollectionHandler).Methods("GET")
		api.HandleFunc("/collections/{id}", s.deleteCollectionHandler).Methods("DELETE")
		api.HandleFunc("/collections/{id}/position", s.flushCompactionHandler).Methods("POST")
	}

	// Record log endpoints
	if s.logService != nil {
		api.HandleFunc("/logs/compaction/candidates", s.compactionCandidatesHandler).Methods("GET")
		api.HandleFunc("/logs/purge", s.purgeAllHandler).Methods("POST")
		api.HandleFunc("/logs/{collection_id}", s.pushLogsHandler).Methods("POST")
		api.HandleFunc("/logs/{collection_id}", s.pullLogsHandler).Methods("GET")
		api.HandleFunc("/logs/{collection_id}/purge", s.purgeHandler).Methods("POST")
	}
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	// Push initial metrics so they appear on first scrape
	if s.metricsManager != nil {
		s.metricsManager.UpdateSystemMetrics()
		s.updateComponentHealth()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.metricsManager.UpdateSystemMetrics()
		s.updateComponentHealth()
	}
}

func (s *HTTPServer) updateComponentHealth() {
	pm := s.metricsManager.GetPrometheusMetrics()
	if s.store != nil {
		pm.UpdateComponentHealth("storage", s.store.GetHealth().Healthy)
	}
	if s.logService != nil {
		pm.UpdateComponentHealth("logservice", s.logService.GetHealth().Healthy)
	}
	if s.coordinator != nil {
		pm.UpdateComponentHealth("coordinator", s.coordinator.GetHealth().Healthy)
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Router exposes the configured router, mainly for tests
func (s *HTTPServer) Router() http.Handler {
	return s.router
}

// Middleware

// loggingMiddleware logs HTTP requests
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"duration":   time.Since(start),
			"user_agent": r.UserAgent(),
			"remote_ip":  r.RemoteAddr,
		}).Info("HTTP request")
	})
}

// corsMiddleware handles CORS
func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"metrics_enabled": s.config.EnableMetrics,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// detailedHealthHandler returns per-component health status
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{}
	allHealthy := true

	if s.store != nil {
		health := s.store.GetHealth()
		components["storage"] = health
		allHealthy = allHealthy && health.Healthy
	}
	if s.logService != nil {
		health := s.logService.GetHealth()
		components["logservice"] = health
		allHealthy = allHealthy && health.Healthy
	}
	if s.coordinator != nil {
		health := s.coordinator.GetHealth()
		components["coordinator"] = health
		allHealthy = allHealthy && health.Healthy
	}

	status := "healthy"
	if !allHealthy {
		status = "unhealthy"
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now(),
		"components": components,
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"timestamp":       time.Now(),
		"metrics_enabled": s.config.EnableMetrics,
	}

	if s.store != nil {
		storeStats, err := s.store.GetStats()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
			return
		}
		stats["storage"] = storeStats
	}
	if s.logService != nil {
		stats["logservice"] = s.logService.GetStats()
	}
	if s.coordinator != nil {
		stats["coordinator"] = s.coordinator.GetStats()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Collection Handlers

// createCollectionHandler registers a new collection
func (s *HTTPServer) createCollectionHandler(w http.ResponseWriter, r *http.Request) {
	var req coordinator.CreateCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	collection, err := s.coordinator.CreateCollection(r.Context(), &req)
	if err != nil {
		s.writeAppError(w, err, "Failed to create collection")
		return
	}

	s.writeJSON(w, http.StatusCreated, collection)
}

// listCollectionsHandler lists collections
func (s *HTTPServer) listCollectionsHandler(w http.ResponseWriter, r *http.Request) {
	filter := models.CollectionFilter{}

	if tenant := r.URL.Query().Get("tenant"); tenant != "" {
		filter.Tenant = &tenant
	}
	if database := r.URL.Query().Get("database"); database != "" {
		filter.Database = &database
	}
	if name := r.URL.Query().Get("name"); name != "" {
		filter.Name = &name
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = o
		}
	}

	collections, err := s.coordinator.ListCollections(r.Context(), filter)
	if err != nil {
		s.writeAppError(w, err, "Failed to list collections")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"collections": collections,
		"total":       len(collections),
	})
}

// getCollectionHandler gets a specific collection
func (s *HTTPServer) getCollectionHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	collection, err := s.coordinator.GetCollection(r.Context(), vars["id"])
	if err != nil {
		s.writeAppError(w, err, "Failed to get collection")
		return
	}

	s.writeJSON(w, http.StatusOK, collection)
}

// deleteCollectionHandler removes a collection and its logs
func (s *HTTPServer) deleteCollectionHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := s.coordinator.DeleteCollection(r.Context(), vars["id"]); err != nil {
		s.writeAppError(w, err, "Failed to delete collection")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Collection deleted successfully",
		"id":      vars["id"],
	})
}

// flushCompactionHandler advances a collection's compacted log position
func (s *HTTPServer) flushCompactionHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req struct {
		LogPosition int64 `json:"log_position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := s.coordinator.FlushCompaction(r.Context(), vars["id"], req.LogPosition); err != nil {
		s.writeAppError(w, err, "Failed to flush compaction")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Compaction flushed successfully",
		"id":           vars["id"],
		"log_position": req.LogPosition,
	})
}

// Record Log Handlers

// pushLogsHandler appends records to a collection's log
func (s *HTTPServer) pushLogsHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req struct {
		Records [][]byte `json:"records"` // base64-encoded payloads
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	count, err := s.logService.Push(r.Context(), vars["collection_id"], req.Records)
	if err != nil {
		s.writeAppError(w, err, "Failed to push records")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"collection_id": vars["collection_id"],
		"record_count":  count,
	})
}

// pullLogsHandler reads a window of a collection's log
func (s *HTTPServer) pullLogsHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	filter := models.LogFilter{
		CollectionID: vars["collection_id"],
		StartOffset:  1,
	}

	if startStr := r.URL.Query().Get("start_offset"); startStr != "" {
		start, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid start_offset", err)
			return
		}
		filter.StartOffset = start
	}
	if batchStr := r.URL.Query().Get("batch_size"); batchStr != "" {
		batch, err := strconv.Atoi(batchStr)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid batch_size", err)
			return
		}
		filter.BatchSize = batch
	}
	if endStr := r.URL.Query().Get("end_timestamp"); endStr != "" {
		end, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid end_timestamp", err)
			return
		}
		filter.EndTimestamp = end
	}

	logs, err := s.logService.Pull(r.Context(), filter)
	if err != nil {
		s.writeAppError(w, err, "Failed to pull records")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"collection_id": filter.CollectionID,
		"records":       logs,
		"total":         len(logs),
	})
}

// compactionCandidatesHandler lists collections with uncompacted logs
func (s *HTTPServer) compactionCandidatesHandler(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.logService.CollectionsToCompact(r.Context())
	if err != nil {
		s.writeAppError(w, err, "Failed to list compaction candidates")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"candidates": candidates,
		"total":      len(candidates),
	})
}

// purgeHandler purges one collection's compacted logs
func (s *HTTPServer) purgeHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	purged, err := s.logService.Purge(r.Context(), vars["collection_id"])
	if err != nil {
		s.writeAppError(w, err, "Failed to purge records")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"collection_id": vars["collection_id"],
		"purged":        purged,
	})
}

// purgeAllHandler purges compacted logs across all collections
func (s *HTTPServer) purgeAllHandler(w http.ResponseWriter, r *http.Request) {
	purged, err := s.logService.PurgeAll(r.Context())
	if err != nil {
		s.writeAppError(w, err, "Failed to purge records")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"purged": purged,
	})
}

// Utility Methods

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeAppError maps application error codes to HTTP statuses
func (s *HTTPServer) writeAppError(w http.ResponseWriter, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case utils.IsCode(err, utils.ErrCodeValidation):
		status = http.StatusBadRequest
	case utils.IsCode(err, utils.ErrCodeNotFound):
		status = http.StatusNotFound
	case utils.IsCode(err, utils.ErrCodeConflict):
		status = http.StatusConflict
	}
	s.writeError(w, status, message, err)
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err,
		}).Error("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
