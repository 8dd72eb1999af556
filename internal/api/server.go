// Package api is the HTTP surface: target registration, state control,
// text injection, session inspection and the ops endpoints. Handlers
// never touch the audio pipeline directly; they go through the state
// manager, registry and routing engine.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/echonet/internal/audio"
	"github.com/snarg/echonet/internal/config"
	"github.com/snarg/echonet/internal/metrics"
	"github.com/snarg/echonet/internal/registry"
	"github.com/snarg/echonet/internal/router"
	"github.com/snarg/echonet/internal/state"
	"github.com/snarg/echonet/internal/store"
	"github.com/snarg/echonet/internal/transcribe"
)

// DeviceLister enumerates capture devices. *audio.Devices satisfies it;
// tests substitute a fixture.
type DeviceLister interface {
	List() ([]audio.Device, error)
}

// Deps bundles what the handlers need.
type Deps struct {
	Config      *config.Config
	Store       *store.Store
	Registry    *registry.Registry
	State       *state.Manager
	Engine      *router.Engine
	Devices     DeviceLister
	Transcriber transcribe.Transcriber
	Version     string
	StartTime   time.Time
}

type Server struct {
	http *http.Server
	deps Deps
	log  zerolog.Logger
}

func NewServer(deps Deps, log zerolog.Logger) *Server {
	s := &Server{deps: deps, log: log}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(metrics.InstrumentHandler)

	// Liveness and scrape endpoints stay open.
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(APIKeyAuth(deps.Config.APIKey))

		r.Get("/handshake", s.handleHandshake)
		r.Get("/targets", s.handleListTargets)
		r.Get("/state", s.handleGetState)
		r.Get("/state/history", s.handleStateHistory)
		r.Post("/text", s.handleText)
		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions/{source_id}/end", s.handleEndSession)
		r.Get("/audio/devices", s.handleListDevices)
		r.Get("/config", s.handleGetConfig)
		r.Post("/test/transcribe", s.handleTestTranscribe)

		// Mutating admin endpoints need the second key.
		r.Group(func(r chi.Router) {
			r.Use(AdminAuth(deps.Config.AdminKey))

			r.Post("/register", s.handleRegister)
			r.Delete("/targets/{name}", s.handleDeleteTarget)
			r.Put("/state", s.handlePutState)
			r.Put("/audio/device", s.handlePutDevice)
			r.Put("/config/{key}", s.handlePutConfig)
		})
	})

	s.http = &http.Server{
		Addr:         deps.Config.HTTPAddr,
		Handler:      r,
		ReadTimeout:  deps.Config.ReadTimeout,
		WriteTimeout: deps.Config.WriteTimeout,
		IdleTimeout:  deps.Config.IdleTimeout,
	}
	return s
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
