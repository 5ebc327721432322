package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/simpleexpr/internal/logger"
	"github.com/liamcoop/simpleexpr/internal/notify"
	"github.com/liamcoop/simpleexpr/multiassetengine"
)

// maxBodyBytes caps configuration and evaluation payloads
const maxBodyBytes = 1 << 20

type Server struct {
	dispatcher *notify.Dispatcher
	engine     *multiassetengine.Engine
	router     *chi.Mux
}

func NewServer(dispatcher *notify.Dispatcher) *Server {
	s := &Server{
		dispatcher: dispatcher,
		engine:     dispatcher.Engine(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/info", s.handleInfo)

	// Configuration
	r.Post("/api/v1/configure", s.handleConfigure)
	r.Put("/api/v1/reconfigure", s.handleConfigure)
	r.Get("/api/v1/triggers", s.handleListTriggers)

	// Evaluation
	r.Post("/api/v1/evaluate", s.handleEvaluate)
	r.Get("/api/v1/reason", s.handleReason)

	r.Handle("/metrics", promhttp.Handler())

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:   "healthy",
		Triggers: len(s.engine.ListTriggers().Triggers),
		State:    s.engine.State().String(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, multiassetengine.PluginInfo())
}

// Configure handler, serving both the initial configuration and later
// reconfigurations. A rejected document leaves the active triggers in place.
func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	if err := s.engine.Reconfigure(body); err != nil {
		respondError(w, http.StatusBadRequest, "configuration rejected", err)
		return
	}

	respondJSON(w, http.StatusOK, s.engine.ListTriggers())
}

func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	data, err := s.engine.TriggersJSON()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to render triggers", err)
		return
	}
	respondRaw(w, http.StatusOK, data)
}

// Evaluation handler. The body is one batch keyed by asset name.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	startTime := time.Now()
	res, err := s.dispatcher.EvaluateJSON(r.Context(), body)
	if err != nil {
		if errors.Is(err, multiassetengine.ErrMalformedInput) {
			respondError(w, http.StatusBadRequest, "invalid evaluation payload", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, newEvaluateResponse(res, time.Since(startTime)))
}

func (s *Server) handleReason(w http.ResponseWriter, r *http.Request) {
	data, err := s.engine.ReasonJSON()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to render reason", err)
		return
	}
	respondRaw(w, http.StatusOK, data)
}

// readBody reads a capped request body. Only an oversized body is a 413;
// any other read failure is the client's and yields 400.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large", err)
		} else {
			respondError(w, http.StatusBadRequest, "failed to read request body", err)
		}
		return nil, false
	}
	return body, true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}

func respondRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}
