// Package httpapi is Scouter's route layer: the /scouter JSON surface the
// clients and operators talk to. Auth middleware is a boundary contract,
// an injected Authenticator, and token issuance lives outside this
// module.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sawpanic/scouter/internal/authcontract"
	"github.com/sawpanic/scouter/internal/cache"
	"github.com/sawpanic/scouter/internal/ingest"
	"github.com/sawpanic/scouter/internal/metrics"
	"github.com/sawpanic/scouter/internal/persistence"
	"github.com/sawpanic/scouter/internal/readapi"
)

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig mirrors the production timeouts.
func DefaultServerConfig(port int) ServerConfig {
	return ServerConfig{
		Port:         port,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// Deps are the collaborators the handlers need.
type Deps struct {
	Pool     *ingest.Pool
	Profiles persistence.ProfileRepo
	Alerts   persistence.AlertRepo
	Read     *readapi.Service
	Entities *cache.EntityCache
	Auth     authcontract.Authenticator
	Registry *metrics.Registry
	Log      zerolog.Logger
}

// Server hosts the router and the underlying http.Server.
type Server struct {
	cfg    ServerConfig
	router *mux.Router
	server *http.Server
	h      *handlers
}

// NewServer builds the router and binds all routes.
func NewServer(cfg ServerConfig, deps Deps) *Server {
	if deps.Auth == nil {
		deps.Auth = authcontract.AllowAll{}
	}
	h := &handlers{deps: deps}

	router := mux.NewRouter()
	api := router.PathPrefix("/scouter").Subrouter()
	api.HandleFunc("/message", h.postMessage).Methods(http.MethodPost)
	api.HandleFunc("/profile", h.postProfile).Methods(http.MethodPost)
	api.HandleFunc("/profile", h.getProfile).Methods(http.MethodGet)
	api.HandleFunc("/profile/status", h.putProfileStatus).Methods(http.MethodPut)
	api.HandleFunc("/drift/{drift_type}", h.getBinnedDrift).Methods(http.MethodGet)
	api.HandleFunc("/alerts", h.getAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts", h.putAlerts).Methods(http.MethodPut)
	api.HandleFunc("/healthcheck", h.healthcheck).Methods(http.MethodGet)

	if deps.Registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Registry.Prometheus, promhttp.HandlerOpts{}))
	}

	s := &Server{cfg: cfg, router: router, h: h}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error { return s.server.ListenAndServe() }

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error { return s.server.Shutdown(ctx) }
