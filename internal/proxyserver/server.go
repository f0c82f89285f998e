// Package proxyserver implements C8 (spec.md §4.8): the data-plane HTTP
// listener that accepts arbitrary client requests, resolves them through
// C6, dispatches upstream, and hands the response to C7. Follows a
// Start/Stop lifecycle (http.Server plus a context-based graceful shutdown
// window).
package proxyserver

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/synebula/cc-switch/internal/domain"
	"github.com/synebula/cc-switch/internal/providerrouter"
	"github.com/synebula/cc-switch/internal/responsehandler"
	"github.com/synebula/cc-switch/internal/transform"
)

// Dispatcher performs the actual upstream round trip for a resolved
// ForwardPlan. In production this is an *http.Client; tests substitute a
// fake to avoid real network I/O.
type Dispatcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Server is the data-plane HTTP listener (spec.md §4.8).
type Server struct {
	httpServer    *http.Server
	router        *providerrouter.Router
	handler       *responsehandler.Handler
	dispatcher    Dispatcher
	logger        *slog.Logger
	shutdownGrace time.Duration
	thinkingMode  ThinkingModeResolver
}

// ThinkingModeResolver picks the Thinking Rectifier mode to apply for a
// given app, since the target shape depends on which client tool is asking
// (spec.md §4.5).
type ThinkingModeResolver func(app domain.App) transform.ThinkingMode

// Config configures a Server.
type Config struct {
	ListenAddress string
	ListenPort    int
	ShutdownGrace time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// New constructs a Server. appFromRequest extracts the target app from an
// inbound request (e.g. from its path prefix or Host header); it is
// supplied by the caller since that mapping is a deployment concern, not a
// proxy-server one.
func New(cfg Config, router *providerrouter.Router, handler *responsehandler.Handler, dispatcher Dispatcher, appFromRequest func(*http.Request) (domain.App, error), thinkingMode ThinkingModeResolver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if thinkingMode == nil {
		thinkingMode = func(domain.App) transform.ThinkingMode { return transform.ThinkingPassthrough }
	}

	s := &Server{
		router:        router,
		handler:       handler,
		dispatcher:    dispatcher,
		logger:        logger,
		shutdownGrace: cfg.ShutdownGrace,
		thinkingMode:  thinkingMode,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.proxyHandler(appFromRequest))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if s.shutdownGrace <= 0 {
		s.shutdownGrace = 5 * time.Second
	}
	return s
}

// Start binds the listener and serves in the background; it returns once
// the listener is accepting connections (spec.md §4.8 "binds TCP, spawns
// accept loop").
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("proxy server failed to start: %w", err)
	case <-time.After(50 * time.Millisecond):
		s.logger.Info("proxy server listening", "addr", s.httpServer.Addr)
		return nil
	}
}

// Stop stops accepting new connections, waits up to the configured grace
// period for in-flight requests, then closes any connections still open
// (spec.md §4.8).
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownGrace)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		_ = s.httpServer.Close()
		return fmt.Errorf("proxy server shutdown: %w", err)
	}
	return nil
}

// proxyHandler builds the per-request handler: resolve, dispatch, respond.
func (s *Server) proxyHandler(appFromRequest func(*http.Request) (domain.App, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := newRequestID()
		start := time.Now()

		app, err := appFromRequest(r)
		if err != nil {
			writeRouteError(w, domain.NewRouteError(domain.ErrBadRequest, "", "", err))
			return
		}

		plan, err := s.router.Resolve(ctx, app, r)
		if err != nil {
			var routeErr *domain.RouteError
			if errors.As(err, &routeErr) {
				writeRouteError(w, routeErr)
				return
			}
			writeRouteError(w, domain.NewRouteError(domain.ErrInternal, app, "", err))
			return
		}

		timeout := time.Duration(plan.TimeoutMs) * time.Millisecond
		dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		upstreamReq, err := http.NewRequestWithContext(dispatchCtx, plan.Method, plan.TargetURL, newBodyReader(plan.Body))
		if err != nil {
			writeRouteError(w, domain.NewRouteError(domain.ErrInternal, app, plan.Provider.ID, err))
			return
		}
		upstreamReq.Header = plan.Header

		resp, err := s.dispatcher.Do(upstreamReq)
		if err != nil {
			s.handler.HandleTransportError(dispatchCtx, plan, requestID, modelFromBody(plan.Body), err, start)
			writeRouteError(w, classifyTransportError(app, plan.Provider.ID, err))
			return
		}

		mode := s.thinkingMode(app)
		if _, err := s.handler.Handle(dispatchCtx, w, plan, resp, mode, requestID, modelFromBody(plan.Body), start); err != nil {
			s.logger.Warn("response copy failed", "error", err, "request_id", requestID, "provider_id", plan.Provider.ID)
		}
	}
}

func writeRouteError(w http.ResponseWriter, routeErr *domain.RouteError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(routeErr.Kind.HTTPStatus())
	fmt.Fprintf(w, `{"error":%q}`, routeErr.Error())
}

func classifyTransportError(app domain.App, providerID string, err error) *domain.RouteError {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewRouteError(domain.ErrUpstreamTimeout, app, providerID, err)
	}
	return domain.NewRouteError(domain.ErrUpstreamUnavailable, app, providerID, err)
}

func newRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// newBodyReader returns a fresh io.Reader over body each call, since
// http.NewRequestWithContext consumes its body exactly once.
func newBodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return bytes.NewReader(body)
}

// modelFromBody extracts the model name a RequestLog row should carry, read
// straight from the already-transformed request body rather than the
// upstream response (the model requested is what the cost should key on).
func modelFromBody(body []byte) string {
	return gjson.GetBytes(body, "model").String()
}
