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
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-call-crawler/internal/chain"
	"github.com/smartdevs17/rsk-call-crawler/internal/config"
	"github.com/smartdevs17/rsk-call-crawler/internal/connection"
	"github.com/smartdevs17/rsk-call-crawler/internal/metrics"
	"github.com/smartdevs17/rsk-call-crawler/internal/models"
	"github.com/smartdevs17/rsk-call-crawler/internal/storage"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

const (
	defaultCallsLimit = 50
	maxCallsLimit     = 1000
)

// HTTPServer serves crawl status and recorded calls
type HTTPServer struct {
	config         *config.ServerConfig
	server         *http.Server
	router         *mux.Router
	store          storage.Store
	reader         chain.Reader
	connection     connection.Manager
	metricsManager *metrics.Manager
	logger         *logrus.Entry
	version        string
	startTime      time.Time
	stopUpdater    chan struct{}

	// reloadOnRead re-reads the store before answering, for a server that
	// runs apart from the crawling process
	reloadOnRead bool
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(cfg *config.ServerConfig, store storage.Store, metricsManager *metrics.Manager, version string) *HTTPServer {
	s := &HTTPServer{
		config:         cfg,
		store:          store,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("http_server"),
		version:        version,
		startTime:      time.Now(),
		stopUpdater:    make(chan struct{}),
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// SetReader lets the status endpoint report the chain head
func (s *HTTPServer) SetReader(reader chain.Reader) {
	s.reader = reader
}

// SetConnection lets the status endpoint report node connection stats
func (s *HTTPServer) SetConnection(cm connection.Manager) {
	s.connection = cm
}

// SetReloadOnRead makes every status and calls request pick up the latest
// flush made by another process
func (s *HTTPServer) SetReloadOnRead(enabled bool) {
	s.reloadOnRead = enabled
}

// Handler returns the router, mainly for tests
func (s *HTTPServer) Handler() http.Handler {
	return s.router
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
		api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet, http.MethodOptions)
	}

	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler())
	}

	api.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/calls", s.listCallsHandler).Methods(http.MethodGet, http.MethodOptions)
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.metricsManager.UpdateSystemMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to report immediate binding errors
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

	for {
		select {
		case <-s.stopUpdater:
			return
		case <-ticker.C:
			s.metricsManager.UpdateSystemMetrics()
			s.metricsManager.GetPrometheusMetrics().UpdatePendingCalls(s.store.Stats().PendingCalls)
		}
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	close(s.stopUpdater)
	return s.server.Shutdown(ctx)
}

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"version":   s.version,
	})
}

// statusHandler reports the crawl cursor and store counters
func (s *HTTPServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if !s.reload(w, r) {
		return
	}
	stats := s.store.Stats()

	resp := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"uptime":    time.Since(s.startTime).String(),
		"store":     stats,
	}

	if s.reader != nil {
		head, err := s.reader.LatestBlockHeight(r.Context())
		if err != nil {
			s.writeError(w, http.StatusBadGateway, "Failed to read chain head", err)
			return
		}
		resp["chain_head"] = head
		resp["blocks_behind"] = utils.BlocksBehind(head, stats.LastCrawledBlock)
	}

	if s.connection != nil {
		resp["node"] = s.connection.Stats()
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// listCallsHandler lists recorded calls matching the query parameters
func (s *HTTPServer) listCallsHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseCallFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid query parameters", err)
		return
	}

	if !s.reload(w, r) {
		return
	}

	calls, err := s.store.Calls(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve calls", err)
		return
	}
	if calls == nil {
		calls = []*models.ContractFunctionCall{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"calls":  calls,
		"limit":  filter.Limit,
		"offset": filter.Offset,
		"count":  len(calls),
	})
}

// reload refreshes the store when reloadOnRead is set and reports whether the
// request can continue
func (s *HTTPServer) reload(w http.ResponseWriter, r *http.Request) bool {
	if !s.reloadOnRead {
		return true
	}
	if err := s.store.Reload(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to reload crawl state", err)
		return false
	}
	return true
}

func parseCallFilter(r *http.Request) (models.CallFilter, error) {
	query := r.URL.Query()
	filter := models.CallFilter{Limit: defaultCallsLimit}

	if contract := query.Get("contract"); contract != "" {
		if !utils.IsValidAddress(contract) {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid contract address", contract)
		}
		normalized := utils.NormalizeAddress(contract)
		filter.ContractAddress = &normalized
	}

	if function := query.Get("function"); function != "" {
		filter.FunctionName = &function
	}

	for name, target := range map[string]**uint64{"from_block": &filter.FromBlock, "to_block": &filter.ToBlock} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		n, err := utils.ParseBlockNumber(raw)
		if err != nil {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid "+name, raw)
		}
		*target = &n
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid limit", raw)
		}
		if limit > maxCallsLimit {
			limit = maxCallsLimit
		}
		filter.Limit = limit
	}

	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid offset", raw)
		}
		filter.Offset = offset
	}

	return filter, nil
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
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
		}).WithError(err).Warn("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
