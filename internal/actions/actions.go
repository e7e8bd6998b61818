// Package actions drafts replies, prep briefs and plans for board tasks.
//
// Requests run on a runqueue. Each run builds a local tool context from the
// stored task, then asks the configured Backend for a structured result. With
// no backend, or when the backend's reply cannot be parsed, a deterministic
// result is produced instead.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/sjson"

	"flightdeck/internal/deck"
	"flightdeck/internal/runqueue"
)

// Supported action types.
const (
	DraftChatReply           = "draft_chat_reply"
	DraftEmailReply          = "draft_email_reply"
	MeetingPrepBrief         = "meeting_prep_brief"
	PrioritizedExecutionPlan = "prioritized_execution_plan"
)

// Labels maps each action type to its display label.
var Labels = map[string]string{
	DraftChatReply:           "Draft Chat Reply",
	DraftEmailReply:          "Draft Email Reply",
	MeetingPrepBrief:         "Generate Meeting Prep Brief",
	PrioritizedExecutionPlan: "Generate Prioritized Execution Plan",
}

// Types returns the supported action types.
func Types() []string {
	return []string{DraftChatReply, DraftEmailReply, MeetingPrepBrief, PrioritizedExecutionPlan}
}

const (
	digestContextLimit    = 1000
	firstStepContextLimit = 180
)

// Request is one queued action.
type Request struct {
	TaskID     *int64
	ActionType string
	Context    string
}

// Backend produces a completion for a system and user prompt.
type Backend interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ToolContext is derived locally from the task before any backend call.
type ToolContext struct {
	TaskContextDigest  string   `json:"task_context_digest"`
	ChecklistSeed      []string `json:"checklist_seed"`
	ExecutionFirstStep string   `json:"execution_first_step"`
}

// Result is the structured payload stored on a completed action run.
type Result struct {
	Headline         string      `json:"headline"`
	Draft            string      `json:"draft"`
	Checklist        []string    `json:"checklist"`
	NextSteps        []string    `json:"next_steps"`
	LocalToolContext ToolContext `json:"local_tool_context"`
	ActionType       string      `json:"action_type"`
	Fallback         bool        `json:"fallback,omitempty"`
}

// Engine owns the action run queue.
type Engine struct {
	store   deck.Store
	backend Backend
	logger  deck.Logger
	queue   *runqueue.Queue[Request]
}

// Options configures an Engine.
type Options struct {
	// Backend may be nil; every run then uses the deterministic result.
	Backend Backend
	// Timeout bounds each run, including the backend call.
	Timeout time.Duration
	Clock   deck.Clock
	Logger  deck.Logger
}

// NewEngine creates an Engine. Call Start before enqueueing work.
func NewEngine(store deck.Store, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = deck.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = deck.NewNopLogger()
	}
	e := &Engine{store: store, backend: opts.Backend, logger: opts.Logger}
	e.queue = runqueue.New(runqueue.Config[Request]{
		Name:    "actions",
		Allowed: Types(),
		Kind:    func(r Request) string { return r.ActionType },
		Records: records{store: store, clock: opts.Clock},
		Work:    e.run,
		Timeout: opts.Timeout,
		Logger:  opts.Logger,
	})
	return e
}

func (e *Engine) Start() { e.queue.Start() }

// Stop drains queued runs and stops the worker.
func (e *Engine) Stop(ctx context.Context) error { return e.queue.Stop(ctx) }

// Enqueue records a queued run and returns its id. An unsupported action type
// is a deck.ValidationError and an unknown task wraps deck.ErrNotFound; neither
// creates a run.
func (e *Engine) Enqueue(taskID *int64, actionType, userContext string) (string, error) {
	if taskID != nil {
		task, err := e.store.GetTask(*taskID)
		if err != nil {
			return "", fmt.Errorf("loading task %d: %w", *taskID, err)
		}
		if task == nil {
			return "", fmt.Errorf("task %d: %w", *taskID, deck.ErrNotFound)
		}
	}
	return e.queue.Enqueue(Request{TaskID: taskID, ActionType: actionType, Context: userContext})
}

// HasBackend reports whether runs call a generative backend.
func (e *Engine) HasBackend() bool { return e.backend != nil }

type records struct {
	store deck.Store
	clock deck.Clock
}

func (r records) Create(req Request) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"context":     req.Context,
		"enqueued_at": r.clock.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}
	return r.store.CreateActionRun(req.TaskID, req.ActionType, payload)
}

func (r records) Update(runID string, u deck.RunUpdate) error {
	return r.store.UpdateActionRun(runID, u)
}

func (e *Engine) run(ctx context.Context, req Request) (json.RawMessage, error) {
	var task *deck.Task
	if req.TaskID != nil {
		t, err := e.store.GetTask(*req.TaskID)
		if err != nil {
			return nil, fmt.Errorf("loading task: %w", err)
		}
		task = t
	}
	tools := BuildToolContext(task, req.Context)

	if e.backend == nil {
		return json.Marshal(Fallback(req.ActionType, task, req.Context, tools))
	}
	return e.complete(ctx, req.ActionType, task, req.Context, tools)
}

const systemPrompt = "You are a productivity copilot for a Solution Engineer dashboard. " +
	"No external side effects are allowed. Produce JSON only."

func userPrompt(actionType string, task *deck.Task, userContext string, tools ToolContext) (string, error) {
	toolsJSON, err := json.Marshal(tools)
	if err != nil {
		return "", err
	}
	title, source := "N/A", "N/A"
	if task != nil {
		title, source = task.Title, string(task.Source)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Action type: %s\n", Labels[actionType])
	fmt.Fprintf(&b, "Task title: %s\n", title)
	fmt.Fprintf(&b, "Task source: %s\n", source)
	fmt.Fprintf(&b, "User context: %s\n", userContext)
	fmt.Fprintf(&b, "Local tools context:\n%s\n\n", toolsJSON)
	b.WriteString("Return valid JSON with keys: headline (string), draft (string), " +
		"checklist (array of strings), next_steps (array of strings).")
	return b.String(), nil
}

func (e *Engine) complete(ctx context.Context, actionType string, task *deck.Task, userContext string, tools ToolContext) (json.RawMessage, error) {
	user, err := userPrompt(actionType, task, userContext, tools)
	if err != nil {
		return nil, fmt.Errorf("building prompt: %w", err)
	}
	text, err := e.backend.Complete(ctx, systemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("completion backend: %w", err)
	}

	obj, ok := ExtractJSONObject(text)
	if !ok {
		e.logger.Warn("unparseable model output", "action_type", actionType, "length", len(text))
		draft := strings.TrimSpace(text)
		if draft == "" {
			draft = "No model output."
		}
		return json.Marshal(Result{
			Headline:         Labels[actionType],
			Draft:            draft,
			Checklist:        tools.ChecklistSeed,
			NextSteps:        []string{tools.ExecutionFirstStep},
			LocalToolContext: tools,
			ActionType:       actionType,
		})
	}

	// Keep whatever keys the model returned and stamp ours on top.
	patched, err := sjson.SetBytes(obj, "local_tool_context", tools)
	if err != nil {
		return nil, fmt.Errorf("patching result: %w", err)
	}
	patched, err = sjson.SetBytes(patched, "action_type", actionType)
	if err != nil {
		return nil, fmt.Errorf("patching result: %w", err)
	}
	return patched, nil
}

// BuildToolContext derives the local tool context from stored task fields.
func BuildToolContext(task *deck.Task, userContext string) ToolContext {
	return ToolContext{
		TaskContextDigest:  taskContextDigest(task, userContext),
		ChecklistSeed:      checklistSeed(task, userContext),
		ExecutionFirstStep: executionFirstStep(task, userContext),
	}
}

func clip(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func taskContextDigest(task *deck.Task, userContext string) string {
	if task == nil {
		return "General action request. Context: " + clip(userContext, digestContextLimit)
	}
	return fmt.Sprintf("Task: %s\nSource: %s\nPriority: %s\nAction hint: %s\nStatus: %s\nContext: %s",
		task.Title, task.Source, task.Bucket, task.ActionHint, task.Status, clip(userContext, digestContextLimit))
}

func checklistSeed(task *deck.Task, userContext string) []string {
	checklist := []string{
		"Clarify desired outcome and success signal.",
		"Draft response or execution notes.",
		"Define owner and ETA.",
	}
	if task != nil && task.URL != "" {
		checklist = append(checklist, "Review source link: "+task.URL)
	}
	if userContext != "" {
		checklist = append(checklist, "Incorporate user-provided context constraints.")
	}
	return checklist
}

func executionFirstStep(task *deck.Task, userContext string) string {
	if task == nil {
		return "Start by framing the immediate next action from context: " + clip(userContext, firstStepContextLimit)
	}
	return "Start by executing: " + task.ActionHint
}

// Fallback builds the deterministic result used when no backend is configured.
func Fallback(actionType string, task *deck.Task, userContext string, tools ToolContext) Result {
	label := Labels[actionType]
	title := "General Execution"
	if task != nil {
		title = task.Title
	}
	focus := userContext
	if focus == "" {
		focus = "Drive today's highest-leverage outcome."
	}
	return Result{
		Headline:         label,
		Draft:            fmt.Sprintf("%s draft for '%s'.\nFocus: %s\nRecommended first step: %s", label, title, focus, tools.ExecutionFirstStep),
		Checklist:        tools.ChecklistSeed,
		NextSteps:        []string{tools.ExecutionFirstStep},
		LocalToolContext: tools,
		ActionType:       actionType,
		Fallback:         true,
	}
}
