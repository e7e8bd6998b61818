package deck

import (
	"encoding/json"
	"time"
)

// Snapshot is one ingestion cycle's persisted result.
type Snapshot struct {
	ID           int64            `json:"id"`
	CreatedAt    time.Time        `json:"created_at"`
	SourceCounts map[string]int   `json:"source_counts"`
	Signals      []Signal         `json:"signals"`
	Source       string           `json:"source"`
	Status       string           `json:"status"`
	Metadata     SnapshotMetadata `json:"metadata"`
}

// SnapshotMetadata describes how a snapshot was produced.
type SnapshotMetadata struct {
	FetchMode        string         `json:"fetch_mode,omitempty"`
	RawCounts        map[string]int `json:"raw_counts,omitempty"`
	InScopeRawCounts map[string]int `json:"in_scope_raw_counts,omitempty"`
	ActionableCounts map[string]int `json:"actionable_counts,omitempty"`
	Diagnostics      map[string]any `json:"diagnostics,omitempty"`
	ChatChannelStats *ChannelStats  `json:"chat_channel_stats,omitempty"`
	Schedule         *Schedule      `json:"schedule,omitempty"`
}

// Schedule echoes the configured refresh schedule.
type Schedule struct {
	RunDays []string `json:"run_days"`
	RunTime string   `json:"run_time"`
}

// SnapshotInput is the data needed to append a snapshot.
type SnapshotInput struct {
	Signals      []Signal
	SourceCounts map[string]int
	Source       string
	Status       string
	Metadata     SnapshotMetadata
	// CreatedAt defaults to the store clock when zero.
	CreatedAt time.Time
}

// RunStatus is the lifecycle state of an action or skill run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunQueued, RunRunning, RunCompleted, RunFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions follow s.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// RunUpdate is one status transition written back by a run queue worker.
type RunUpdate struct {
	Status RunStatus
	Result json.RawMessage
	Error  string
}

// ActionRun records one queued generative action.
type ActionRun struct {
	RunID          string          `json:"run_id"`
	TaskID         *int64          `json:"task_id"`
	ActionType     string          `json:"action_type"`
	Status         RunStatus       `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at"`
	RequestPayload json.RawMessage `json:"request_payload"`
	ResultPayload  json.RawMessage `json:"result_payload"`
	Error          *string         `json:"error"`
}

// SkillRun records one queued skill execution.
type SkillRun struct {
	RunID          string          `json:"run_id"`
	SkillName      string          `json:"skill_name"`
	Status         RunStatus       `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at"`
	RequestPayload json.RawMessage `json:"request_payload"`
	OutputPayload  json.RawMessage `json:"output_payload"`
	Error          *string         `json:"error"`
}

// Refresh event kinds and statuses.
const (
	RefreshScheduled = "scheduled"
	RefreshManual    = "manual"

	RefreshQueued  = "queued"
	RefreshSuccess = "success"
	RefreshFailed  = "failed"
)

// RefreshEvent is one audit entry for an ingestion attempt.
type RefreshEvent struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
}

// Store provides durable persistence for the pipeline.
// Each method is one self-contained transaction. Lookups that find nothing
// return a nil record and a nil error.
type Store interface {
	// Snapshot operations

	// InsertSnapshot appends a snapshot and returns its id.
	InsertSnapshot(in SnapshotInput) (int64, error)

	// PublishSnapshot appends a snapshot together with its auto tasks in one
	// transaction and returns the snapshot id.
	PublishSnapshot(in SnapshotInput, drafts []TaskDraft) (int64, error)

	// GetLatestSnapshot returns the snapshot with the greatest created-at.
	GetLatestSnapshot() (*Snapshot, error)

	// Task operations

	// ReplaceAutoTasksForSnapshot deletes the auto tasks owned by snapshotID and
	// inserts drafts in the same transaction. Manual tasks are untouched.
	ReplaceAutoTasksForSnapshot(snapshotID int64, drafts []TaskDraft) error

	// ListBoardTasks returns the auto tasks of latestSnapshotID plus every manual
	// task not yet done, in board order.
	ListBoardTasks(latestSnapshotID *int64) ([]*Task, error)

	CreateManualTask(in ManualTaskInput) (int64, error)
	UpdateTaskStatus(id int64, status TaskStatus) error
	GetTask(id int64) (*Task, error)

	// Run operations. Updating a completed or failed run is a ValidationError.

	CreateActionRun(taskID *int64, actionType string, request json.RawMessage) (string, error)
	UpdateActionRun(runID string, update RunUpdate) error
	GetActionRun(runID string) (*ActionRun, error)
	ListRecentActionRuns(limit int) ([]*ActionRun, error)

	CreateSkillRun(skillName string, request json.RawMessage) (string, error)
	UpdateSkillRun(runID string, update RunUpdate) error
	GetSkillRun(runID string) (*SkillRun, error)
	ListRecentSkillRuns(limit int) ([]*SkillRun, error)

	// Refresh events and cooldown

	RecordRefreshEvent(kind, status, message string) error
	GetLastRefreshEvent() (*RefreshEvent, error)
	ListRecentRefreshEvents(limit int) ([]*RefreshEvent, error)

	// CanRefreshNow applies the cooldown gate. With no prior event, or a failed
	// last event, it returns (true, nil). Otherwise it returns whether the
	// cooldown has elapsed along with the next allowed instant.
	CanRefreshNow(cooldown time.Duration) (bool, *time.Time, error)

	// ClaimRefresh checks the cooldown gate and, when allowed, records a queued
	// event of the given kind in the same transaction.
	ClaimRefresh(kind string, cooldown time.Duration) (bool, *time.Time, error)

	// CleanupOld deletes snapshots, runs and refresh events older than the
	// retention cutoff, plus manual tasks marked done before it.
	CleanupOld(retentionDays int) error

	// CheckMigrations reports whether the schema is current.
	CheckMigrations() error

	Close() error
}
