// Package service exposes the agent over HTTP: a small JSON API for driving
// tasks and inspecting state, plus a websocket feed of live events.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
	"github.com/xkilldash9x/nexus-agent/internal/agent"
	"github.com/xkilldash9x/nexus-agent/internal/browser"
	"github.com/xkilldash9x/nexus-agent/internal/config"
	"github.com/xkilldash9x/nexus-agent/internal/eventbus"
	"github.com/xkilldash9x/nexus-agent/internal/memory"
	"github.com/xkilldash9x/nexus-agent/internal/sift"
	"github.com/xkilldash9x/nexus-agent/internal/tools"
)

// Server hosts the API around a single agent controller.
type Server struct {
	logger     *zap.Logger
	cfg        config.ServiceConfig
	controller *agent.Controller
	browser    schemas.BrowserSession
	memory     *memory.Store
	bus        *eventbus.Bus
	httpServer *http.Server
}

// NewServer wires the router and returns a server ready to Start.
func NewServer(cfg config.ServiceConfig, controller *agent.Controller, sess schemas.BrowserSession, store *memory.Store, bus *eventbus.Bus, logger *zap.Logger) *Server {
	s := &Server{
		logger:     logger.Named("service"),
		cfg:        cfg,
		controller: controller,
		browser:    sess,
		memory:     store,
		bus:        bus,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, used directly by httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// The websocket route stays outside the timeout middleware; the
	// connection is long-lived.
	r.Get("/api/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(120 * time.Second))

		r.Get("/healthz", s.handleHealth)

		r.Route("/api", func(r chi.Router) {
			r.Get("/task", s.handleGetTask)
			r.Post("/agent/run", s.handleRun)
			r.Post("/agent/resume", s.handleResume)
			r.Post("/session/reset", s.handleReset)
			r.Post("/search", s.handleFetchAndSearch)

			r.Get("/memories", s.handleGetMemories)
			r.Delete("/memories", s.handleClearMemories)

			r.Get("/traces", s.handleGetTraces)
			r.Get("/traces/count", s.handleTraceCount)
			r.Delete("/traces", s.handleClearTraces)

			r.Get("/url", s.handleGetURL)
			r.Get("/screenshot", s.handleScreenshot)
		})
	})
	return r
}

// Start serves until Shutdown. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	s.logger.Info("HTTP service listening.", zap.String("addr", s.cfg.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// -- request/response shapes --

type runRequest struct {
	Goal string `json:"goal"`
}

type resumeRequest struct {
	Answer string `json:"answer"`
}

type searchRequest struct {
	URL     string `json:"url"`
	Pattern string `json:"pattern"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func apiError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	render.Status(r, code)
	render.JSON(w, r, errorResponse{Error: msg})
}

// -- handlers --

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, statusResponse{Status: "ok"})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task := s.controller.Snapshot()
	if task == nil {
		apiError(w, r, http.StatusNotFound, "no active task")
		return
	}
	render.JSON(w, r, task)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.Goal == "" {
		apiError(w, r, http.StatusBadRequest, "body must be {\"goal\": \"...\"}")
		return
	}

	task, err := s.controller.Start(r.Context(), req.Goal)
	if err != nil {
		if errors.Is(err, agent.ErrAlreadyRunning) {
			apiError(w, r, http.StatusConflict, err.Error())
			return
		}
		apiError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, task)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.Answer == "" {
		apiError(w, r, http.StatusBadRequest, "body must be {\"answer\": \"...\"}")
		return
	}

	task, err := s.controller.Resume(req.Answer)
	if err != nil {
		if errors.Is(err, agent.ErrNoActiveSlot) {
			apiError(w, r, http.StatusConflict, err.Error())
			return
		}
		apiError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	render.JSON(w, r, task)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Reset(r.Context()); err != nil {
		apiError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.memory.Clear()
	s.bus.Clear()
	s.logger.Info("Session reset via API.")
	render.JSON(w, r, statusResponse{Status: "reset"})
}

// handleFetchAndSearch navigates, reduces the page to text and greps it in
// one round trip. Useful for scripted checks without running a full task.
func (s *Server) handleFetchAndSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.URL == "" || req.Pattern == "" {
		apiError(w, r, http.StatusBadRequest, "body must be {\"url\": \"...\", \"pattern\": \"...\"}")
		return
	}

	if err := s.browser.Navigate(r.Context(), req.URL); err != nil {
		apiError(w, r, classifyStatus(err), err.Error())
		return
	}
	html, err := s.browser.Content(r.Context())
	if err != nil {
		apiError(w, r, classifyStatus(err), err.Error())
		return
	}

	matches, err := tools.SearchContent(sift.Reduce(html), req.Pattern)
	if err != nil {
		apiError(w, r, http.StatusBadRequest, "invalid pattern: "+err.Error())
		return
	}
	render.JSON(w, r, map[string]any{
		"url":     req.URL,
		"matches": matches,
		"count":   len(matches),
	})
}

func (s *Server) handleGetMemories(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.memory.All())
}

func (s *Server) handleClearMemories(w http.ResponseWriter, r *http.Request) {
	s.memory.Clear()
	render.JSON(w, r, statusResponse{Status: "cleared"})
}

func (s *Server) handleGetTraces(w http.ResponseWriter, r *http.Request) {
	level := schemas.TraceLevel(strings.ToUpper(r.URL.Query().Get("level")))
	contains := r.URL.Query().Get("contains")
	render.JSON(w, r, s.bus.Query(level, contains))
}

func (s *Server) handleTraceCount(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]int{"count": s.bus.Count()})
}

func (s *Server) handleClearTraces(w http.ResponseWriter, r *http.Request) {
	s.bus.Clear()
	render.JSON(w, r, statusResponse{Status: "cleared"})
}

func (s *Server) handleGetURL(w http.ResponseWriter, r *http.Request) {
	url, err := s.browser.CurrentURL(r.Context())
	if err != nil {
		apiError(w, r, classifyStatus(err), err.Error())
		return
	}
	render.JSON(w, r, map[string]string{"url": url})
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	png, err := s.browser.Screenshot(r.Context())
	if err != nil {
		apiError(w, r, classifyStatus(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// classifyStatus maps browser failures onto HTTP codes.
func classifyStatus(err error) int {
	switch browser.Classify(err) {
	case schemas.ErrKindNoActivePage:
		return http.StatusConflict
	case schemas.ErrKindNavigationTimeout, schemas.ErrKindSelectorTimeout, schemas.ErrKindActionTimeout:
		return http.StatusGatewayTimeout
	case schemas.ErrKindElementNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// corsMiddleware allows a local dashboard to talk to the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
