package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"flightdeck/internal/actions"
	"flightdeck/internal/deck"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// Health handles GET /api/health
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	store := s.app.Store()
	canRefresh, next, err := store.CanRefreshNow(s.app.Config().Cooldown())
	if err != nil {
		s.failure(w, "Failed to check refresh cooldown", err)
		return
	}
	last, err := store.GetLastRefreshEvent()
	if err != nil {
		s.failure(w, "Failed to load last refresh event", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, HealthResponse{
		Status:             "ok",
		CanRefresh:         canRefresh,
		NextRefreshAllowed: next,
		LastRefreshEvent:   last,
	})
}

// LatestSnapshot handles GET /api/snapshot/latest
func (s *Server) LatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.app.Store().GetLatestSnapshot()
	if err != nil {
		s.failure(w, "Failed to load snapshot", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, SnapshotResponse{
		Snapshot: snap,
		Warning:  deck.SnapshotWarning(snap),
	})
}

// Board handles GET /api/board
func (s *Server) Board(w http.ResponseWriter, r *http.Request) {
	snap, grouped, err := s.app.Board()
	if err != nil {
		s.failure(w, "Failed to load board", err)
		return
	}
	resp := BoardResponse{Buckets: grouped}
	if snap != nil {
		resp.SnapshotID = &snap.ID
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// SourceHealth handles GET /api/sources/health
func (s *Server) SourceHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := s.app.Store().GetLatestSnapshot()
	if err != nil {
		s.failure(w, "Failed to load snapshot", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, SourceHealthResponse{Sources: deck.BuildSourceHealth(snap)})
}

// Panels handles GET /api/panels
func (s *Server) Panels(w http.ResponseWriter, r *http.Request) {
	snap, err := s.app.Store().GetLatestSnapshot()
	if err != nil {
		s.failure(w, "Failed to load snapshot", err)
		return
	}
	var signals []deck.Signal
	if snap != nil {
		signals = snap.Signals
	}
	s.jsonResponse(w, http.StatusOK, PanelsResponse{Panels: deck.BuildSourcePanels(signals)})
}

// RefreshEvents handles GET /api/refresh/events
func (s *Server) RefreshEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.app.Store().ListRecentRefreshEvents(listLimit(r))
	if err != nil {
		s.failure(w, "Failed to list refresh events", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, RefreshEventsResponse{Events: events})
}

// Refresh handles POST /api/refresh
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := s.app.RequestRefresh(deck.RefreshManual); err != nil {
		s.failure(w, "Failed to queue refresh", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, QueuedResponse{Status: "queued"})
}

// CreateManualTask handles POST /api/tasks/manual
func (s *Server) CreateManualTask(w http.ResponseWriter, r *http.Request) {
	var req ManualTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		s.errorResponse(w, http.StatusBadRequest, "title is required", nil)
		return
	}
	bucket := deck.Bucket(req.Bucket)
	if req.Bucket == "" {
		bucket = deck.BucketNext
	}
	if !bucket.Valid() {
		s.errorResponse(w, http.StatusBadRequest, "unsupported priority_bucket: "+req.Bucket, nil)
		return
	}

	in := deck.ManualTaskInput{
		Title:      title,
		ActionHint: strings.TrimSpace(req.ActionHint),
		Bucket:     bucket,
		URL:        req.URL,
		Metadata:   map[string]any{"project": req.Project, "notes": req.Notes},
	}
	if req.DueAt != nil && *req.DueAt != "" {
		due, err := time.Parse(time.RFC3339, *req.DueAt)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid due_at format (use RFC3339)", err)
			return
		}
		in.DueAt = &due
	}

	id, err := s.app.Store().CreateManualTask(in)
	if err != nil {
		s.failure(w, "Failed to create task", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, CreatedTaskResponse{TaskID: id})
}

// UpdateTaskStatus handles POST /api/tasks/{id}/status
func (s *Server) UpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid task ID", err)
		return
	}

	var req TaskStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	store := s.app.Store()
	task, err := store.GetTask(id)
	if err != nil {
		s.failure(w, "Failed to load task", err)
		return
	}
	if task == nil {
		s.errorResponse(w, http.StatusNotFound, "Task not found", nil)
		return
	}

	if err := store.UpdateTaskStatus(id, deck.TaskStatus(req.Status)); err != nil {
		s.failure(w, "Failed to update task", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, TaskStatusResponse{TaskID: id, Status: req.Status})
}

// ActionTypes handles GET /api/actions/types
func (s *Server) ActionTypes(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, ActionTypesResponse{
		Types:      actions.Types(),
		Labels:     actions.Labels,
		Generative: s.app.Actions().HasBackend(),
	})
}

// RunAction handles POST /api/actions/run
func (s *Server) RunAction(w http.ResponseWriter, r *http.Request) {
	var req RunActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	runID, err := s.app.Actions().Enqueue(req.TaskID, req.ActionType, req.Context)
	if err != nil {
		s.failure(w, "Failed to queue action", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, QueuedResponse{RunID: runID, Status: string(deck.RunQueued)})
}

// GetActionRun handles GET /api/actions/{id}
func (s *Server) GetActionRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.app.Store().GetActionRun(chi.URLParam(r, "id"))
	if err != nil {
		s.failure(w, "Failed to load action run", err)
		return
	}
	if run == nil {
		s.errorResponse(w, http.StatusNotFound, "Action run not found", nil)
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

// ListActionRuns handles GET /api/actions
func (s *Server) ListActionRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.app.Store().ListRecentActionRuns(listLimit(r))
	if err != nil {
		s.failure(w, "Failed to list action runs", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, ActionRunListResponse{Runs: runs})
}

// SkillAllowlist handles GET /api/skills/allowlist
func (s *Server) SkillAllowlist(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, AllowlistResponse{Skills: s.app.Skills().Allowlist()})
}

// RunSkill handles POST /api/skills/run
func (s *Server) RunSkill(w http.ResponseWriter, r *http.Request) {
	var req RunSkillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	runID, err := s.app.Skills().Enqueue(req.SkillName, req.Context)
	if err != nil {
		s.failure(w, "Failed to queue skill", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, QueuedResponse{RunID: runID, Status: string(deck.RunQueued)})
}

// GetSkillRun handles GET /api/skills/{id}
func (s *Server) GetSkillRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.app.Store().GetSkillRun(chi.URLParam(r, "id"))
	if err != nil {
		s.failure(w, "Failed to load skill run", err)
		return
	}
	if run == nil {
		s.errorResponse(w, http.StatusNotFound, "Skill run not found", nil)
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

// ListSkillRuns handles GET /api/skills
func (s *Server) ListSkillRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.app.Store().ListRecentSkillRuns(listLimit(r))
	if err != nil {
		s.failure(w, "Failed to list skill runs", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, SkillRunListResponse{Runs: runs})
}

func listLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
