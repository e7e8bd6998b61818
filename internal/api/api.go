// Package api serves the board, snapshot and run endpoints over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"flightdeck/internal/app"
	"flightdeck/internal/deck"
)

// Server represents the API server.
type Server struct {
	app    *app.App
	router chi.Router
}

// NewServer creates a new API server backed by a.
func NewServer(a *app.App) *Server {
	s := &Server{
		app:    a,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.Health)

	r.Get("/api/snapshot/latest", s.LatestSnapshot)
	r.Get("/api/board", s.Board)
	r.Get("/api/sources/health", s.SourceHealth)
	r.Get("/api/panels", s.Panels)
	r.Get("/api/refresh/events", s.RefreshEvents)
	r.Post("/api/refresh", s.Refresh)

	r.Post("/api/tasks/manual", s.CreateManualTask)
	r.Post("/api/tasks/{id}/status", s.UpdateTaskStatus)

	r.Get("/api/actions/types", s.ActionTypes)
	r.Post("/api/actions/run", s.RunAction)
	r.Get("/api/actions", s.ListActionRuns)
	r.Get("/api/actions/{id}", s.GetActionRun)

	r.Get("/api/skills/allowlist", s.SkillAllowlist)
	r.Post("/api/skills/run", s.RunSkill)
	r.Get("/api/skills", s.ListSkillRuns)
	r.Get("/api/skills/{id}", s.GetSkillRun)
}

// Router returns the chi router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	s.jsonResponse(w, status, resp)
}

// failure maps a domain error to its status: validation errors are 400,
// missing records 404, cooldown refusals 429, anything else 500.
func (s *Server) failure(w http.ResponseWriter, message string, err error) {
	var verr deck.ValidationError
	if errors.As(err, &verr) {
		s.errorResponse(w, http.StatusBadRequest, verr.Error(), nil)
		return
	}
	if errors.Is(err, deck.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	var cooldown *app.CooldownError
	if errors.As(err, &cooldown) {
		s.jsonResponse(w, http.StatusTooManyRequests, CooldownResponse{
			Error:       cooldown.Error(),
			NextAllowed: cooldown.NextAllowed,
		})
		return
	}
	s.app.Logger().Error(message, "error", err)
	s.errorResponse(w, http.StatusInternalServerError, message, err)
}
