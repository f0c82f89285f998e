package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/synebula/cc-switch/internal/events"
	"github.com/synebula/cc-switch/internal/logger"
	"github.com/synebula/cc-switch/internal/router"
)

const contentTypeJSON = "application/json"

// Config configures the control-plane listener (spec.md §6 env vars).
type Config struct {
	Listen        string
	AuthToken     string
	AllowOrigin   string
	MaxBodyBytes  int64
	ShutdownGrace time.Duration
}

// Server is the control-plane HTTP listener: health, command dispatch, and
// an SSE feed of provider-switched events.
type Server struct {
	httpServer     *http.Server
	registry       *Registry
	bus            *events.Bus
	metricsHandler http.Handler
	logger         *slog.Logger
	cfg            Config
}

// New builds a Server wired to registry for /invoke and bus for /events.
// metricsHandler, when non-nil, is mounted at /metrics; a nil handler omits
// the route entirely rather than serving an empty one.
func New(cfg Config, registry *Registry, bus *events.Bus, metricsHandler http.Handler, styled *logger.StyledLogger, slogger *slog.Logger) *Server {
	if slogger == nil {
		slogger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 200 * 1024 * 1024
	}
	if cfg.AllowOrigin == "" {
		cfg.AllowOrigin = "*"
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}

	s := &Server{registry: registry, bus: bus, metricsHandler: metricsHandler, logger: slogger, cfg: cfg}

	routes := router.NewRouteRegistry(styled)
	routes.RegisterWithMethod("/health", s.withCommonMiddleware(s.handleHealth), "Liveness probe", http.MethodGet)
	routes.RegisterWithMethod("/invoke", s.withCommonMiddleware(s.handleInvoke), "Dispatch a named command", http.MethodPost)
	routes.RegisterWithMethod("/events", s.withCommonMiddleware(s.handleEvents), "SSE stream of provider-switched events", http.MethodGet)
	if metricsHandler != nil {
		// Left outside withCommonMiddleware: a Prometheus scraper doesn't
		// carry the control plane's bearer token, and the series exposed
		// here are already aggregate counters, not per-tenant secrets.
		routes.RegisterWithMethod("/metrics", metricsHandler.ServeHTTP, "Prometheus exposition", http.MethodGet)
	}

	mux := http.NewServeMux()
	routes.WireUp(mux)

	s.httpServer = &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}
	return s
}

// Start binds the control-plane listener in the background.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return fmt.Errorf("control plane failed to start: %w", err)
	case <-time.After(50 * time.Millisecond):
		s.logger.Info("control plane listening", "addr", s.httpServer.Addr)
		return nil
	}
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownGrace)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// withCommonMiddleware applies CORS headers, a request body size cap, and
// bearer-token auth (when configured) ahead of every control-plane route.
func (s *Server) withCommonMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowOrigin)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !s.authorized(r) {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		next(w, r)
	}
}

// authorized reports whether r carries the configured bearer token. An
// empty AuthToken disables auth entirely (spec.md §6 "absent -> accept
// all").
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	if tok := r.URL.Query().Get("token"); tok == s.cfg.AuthToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) && strings.TrimPrefix(auth, prefix) == s.cfg.AuthToken {
		return true
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type invokeRequest struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Command == "" {
		writeJSONError(w, http.StatusBadRequest, "missing command")
		return
	}

	data, err := s.registry.Dispatch(r.Context(), req.Command, req.Args)
	if err != nil {
		var unknown *ErrUnknownCommand
		if errors.As(err, &unknown) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "data": data})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, unsubscribe := s.bus.Subscribe(r.Context())
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: provider-switched\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"ok": false, "error": msg})
}
