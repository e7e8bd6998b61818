package api

import (
	"time"

	"flightdeck/internal/deck"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status             string             `json:"status"`
	CanRefresh         bool               `json:"can_refresh"`
	NextRefreshAllowed *time.Time         `json:"next_refresh_allowed"`
	LastRefreshEvent   *deck.RefreshEvent `json:"last_refresh_event"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// CooldownResponse is returned with 429 when the cooldown gate refuses a refresh.
type CooldownResponse struct {
	Error       string     `json:"error"`
	NextAllowed *time.Time `json:"next_allowed"`
}

type SnapshotResponse struct {
	Snapshot *deck.Snapshot `json:"snapshot"`
	Warning  string         `json:"warning,omitempty"`
}

type BoardResponse struct {
	SnapshotID *int64                       `json:"snapshot_id"`
	Buckets    map[deck.Bucket][]*deck.Task `json:"buckets"`
}

type SourceHealthResponse struct {
	Sources []deck.SourceHealth `json:"sources"`
}

type PanelsResponse struct {
	Panels map[deck.Source][]deck.Signal `json:"panels"`
}

type RefreshEventsResponse struct {
	Events []*deck.RefreshEvent `json:"events"`
}

// ManualTaskRequest represents a request to create a manual task.
type ManualTaskRequest struct {
	Title      string  `json:"title"`
	ActionHint string  `json:"action_hint"`
	Bucket     string  `json:"priority_bucket"`
	DueAt      *string `json:"due_at"`
	URL        string  `json:"url"`
	Project    string  `json:"project"`
	Notes      string  `json:"notes"`
}

type TaskStatusRequest struct {
	Status string `json:"status"`
}

type TaskStatusResponse struct {
	TaskID int64  `json:"task_id"`
	Status string `json:"status"`
}

type CreatedTaskResponse struct {
	TaskID int64 `json:"task_id"`
}

// RunActionRequest represents a request to queue a generative action.
type RunActionRequest struct {
	ActionType string `json:"action_type"`
	TaskID     *int64 `json:"task_id"`
	Context    string `json:"context"`
}

// RunSkillRequest represents a request to queue a skill run.
type RunSkillRequest struct {
	SkillName string `json:"skill_name"`
	Context   string `json:"context"`
}

// QueuedResponse is returned when work has been accepted for background execution.
type QueuedResponse struct {
	RunID  string `json:"run_id,omitempty"`
	Status string `json:"status"`
}

type ActionRunListResponse struct {
	Runs []*deck.ActionRun `json:"runs"`
}

type SkillRunListResponse struct {
	Runs []*deck.SkillRun `json:"runs"`
}

type ActionTypesResponse struct {
	Types  []string          `json:"types"`
	Labels map[string]string `json:"labels"`
	// Generative reports whether runs call a model backend.
	Generative bool `json:"generative"`
}

type AllowlistResponse struct {
	Skills []string `json:"skills"`
}
