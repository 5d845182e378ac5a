package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/domain"
	"fieldsync/internal/events"
	"fieldsync/internal/location"
	"fieldsync/internal/metrics"
	"fieldsync/internal/network"
	"fieldsync/internal/queue"
	"fieldsync/internal/service"
	"fieldsync/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Deps are the components the control API drives. Sampler, Positions,
// Battery, DeadLetters and Events are optional.
type Deps struct {
	Queue       *queue.Store
	Network     *network.Monitor
	Engine      *worker.Engine
	Actions     *service.ActionService
	Sampler     *location.Sampler
	Positions   *location.PushProvider
	Battery     *location.StaticBattery
	DeadLetters domain.DeadLetterStore
	Events      *events.Recorder
}

// HTTPServer exposes the queue and the platform signals over HTTP.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	logger *zerolog.Logger
	server *http.Server

	// baseCtx outlives requests; background work started by a request uses it.
	baseCtx context.Context
}

func NewHTTPServer(ctx context.Context, cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{cfg: cfg, deps: deps, logger: logger, baseCtx: ctx}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	return srv
}

// Handler returns the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(NewAuth(s.cfg).Middleware)

		r.Get("/status", s.handleStatus)

		r.Get("/actions", s.handleListActions)
		r.Post("/actions", s.handleSubmitAction)
		r.Delete("/actions", s.handleClearActions)
		r.Delete("/actions/{id}", s.handleRemoveAction)

		r.Post("/sync", s.handleSync)

		r.Post("/connectivity", s.handleConnectivity)
		r.Post("/visibility", s.handleVisibility)
		r.Post("/location", s.handleLocation)

		r.Get("/events", s.handleEvents)

		r.Get("/deadletters", s.handleListDeadLetters)
		r.Get("/deadletters/export", s.handleExportDeadLetters)
	})

	return r
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		metrics.IncHTTP(endpoint)

		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("dur", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
