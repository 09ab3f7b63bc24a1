package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nimburion/docstore/pkg/config"
	"github.com/nimburion/docstore/pkg/health"
	"github.com/nimburion/docstore/pkg/middleware/logging"
	"github.com/nimburion/docstore/pkg/middleware/recovery"
	"github.com/nimburion/docstore/pkg/middleware/requestid"
	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/observability/metrics"
	"github.com/nimburion/docstore/pkg/version"
)

// RequestIDHeader carries the correlation id of a management request.
const RequestIDHeader = requestid.RequestIDHeader

// ManagementServer serves health checks, metrics and build information on a
// dedicated port.
//
// Routes:
//   - GET /health: liveness, always 200
//   - GET /ready: every registered check, 503 when one is unhealthy
//   - GET /metrics: Prometheus exposition
//   - GET /version: build information
type ManagementServer struct {
	*Server
	router          *mux.Router
	healthRegistry  *health.Registry
	metricsRegistry *metrics.Registry
	info            version.Info
}

// Cosa fa: monta le rotte di management su un router gorilla/mux con request id,
// logging e recovery.
// Cosa NON fa: non espone operazioni sui documenti.
// Esempio minimo: srv := server.NewManagementServer(cfg.Management, log, registry, metrics.NewRegistry(), version.Current("docstore"))
func NewManagementServer(
	cfg config.ManagementConfig,
	log logger.Logger,
	healthRegistry *health.Registry,
	metricsRegistry *metrics.Registry,
	info version.Info,
) *ManagementServer {
	if log == nil {
		log = logger.Nop()
	}
	r := mux.NewRouter()
	r.Use(
		requestid.RequestID,
		logging.Logging(log, logging.Config{Mode: logging.ModeMinimal, SkipPaths: []string{"/health"}}),
		recovery.Recovery(log),
	)

	s := &ManagementServer{
		Server: NewServer(Config{
			Port:         cfg.Port,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		}, r, log),
		router:          r,
		healthRegistry:  healthRegistry,
		metricsRegistry: metricsRegistry,
		info:            info,
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/ready", healthRegistry.Handler()).Methods(http.MethodGet)
	r.Handle("/metrics", metricsRegistry.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	return s
}

// Router returns the underlying router for registering extra routes.
func (s *ManagementServer) Router() *mux.Router {
	return s.router
}

func (s *ManagementServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *ManagementServer) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service":    s.info.Service,
		"version":    s.info.Version,
		"commit":     s.info.Commit,
		"build_time": s.info.BuildTime,
		"go_version": s.info.GoVersion,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
