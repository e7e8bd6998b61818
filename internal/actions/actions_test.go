package actions

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"flightdeck/internal/deck"
	"flightdeck/internal/testutil"
)

type fakeBackend struct {
	reply string
	err   error
	user  string
}

func (f *fakeBackend) Complete(_ context.Context, _, user string) (string, error) {
	f.user = user
	return f.reply, f.err
}

func newEngine(t *testing.T, store deck.Store, backend Backend) *Engine {
	t.Helper()
	opts := Options{Clock: testutil.FixedClock(), Timeout: 5 * time.Second}
	if backend != nil {
		opts.Backend = backend
	}
	e := NewEngine(store, opts)
	e.Start()
	return e
}

func drain(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func createTask(t *testing.T, store deck.Store) int64 {
	t.Helper()
	id, err := store.CreateManualTask(deck.ManualTaskInput{
		Title:      "Reply to Dana about rollout",
		ActionHint: "Reply in thread with a decision",
		Bucket:     deck.BucketNow,
		URL:        "https://chat.example.com/archives/C1/p1",
	})
	if err != nil {
		t.Fatalf("CreateManualTask() error = %v", err)
	}
	return id
}

func TestEngine_Enqueue(t *testing.T) {
	t.Run("rejects unsupported type without a record", func(t *testing.T) {
		store := testutil.NewTestStore(t, nil)
		e := newEngine(t, store, nil)
		defer drain(t, e)

		_, err := e.Enqueue(nil, "send_email", "")
		var verr deck.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("Enqueue() error = %v, want ValidationError", err)
		}
		runs, _ := store.ListRecentActionRuns(10)
		if len(runs) != 0 {
			t.Errorf("len(runs) = %d, want 0", len(runs))
		}
	})

	t.Run("unknown task is not found without a record", func(t *testing.T) {
		store := testutil.NewTestStore(t, nil)
		e := newEngine(t, store, nil)
		defer drain(t, e)

		missing := int64(999)
		_, err := e.Enqueue(&missing, DraftEmailReply, "")
		if !errors.Is(err, deck.ErrNotFound) {
			t.Fatalf("Enqueue() error = %v, want ErrNotFound", err)
		}
		runs, _ := store.ListRecentActionRuns(10)
		if len(runs) != 0 {
			t.Errorf("len(runs) = %d, want 0", len(runs))
		}
	})

	t.Run("records request payload", func(t *testing.T) {
		store := testutil.NewTestStore(t, nil)
		e := newEngine(t, store, nil)

		runID, err := e.Enqueue(nil, PrioritizedExecutionPlan, "ship the demo")
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		drain(t, e)

		run, _ := store.GetActionRun(runID)
		if got := gjson.GetBytes(run.RequestPayload, "context").String(); got != "ship the demo" {
			t.Errorf("request context = %q", got)
		}
		if got := gjson.GetBytes(run.RequestPayload, "enqueued_at").String(); got != "2024-01-15T10:30:00Z" {
			t.Errorf("request enqueued_at = %q", got)
		}
	})
}

func TestEngine_Fallback(t *testing.T) {
	store := testutil.NewTestStore(t, nil)
	taskID := createTask(t, store)
	e := newEngine(t, store, nil)

	runID, err := e.Enqueue(&taskID, DraftChatReply, "keep it short")
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	drain(t, e)

	run, err := store.GetActionRun(runID)
	if err != nil {
		t.Fatalf("GetActionRun() error = %v", err)
	}
	if run.Status != deck.RunCompleted {
		t.Fatalf("Status = %s, want completed (error %v)", run.Status, run.Error)
	}
	result := gjson.ParseBytes(run.ResultPayload)
	if !result.Get("fallback").Bool() {
		t.Error("fallback = false, want true")
	}
	if result.Get("headline").String() != "Draft Chat Reply" {
		t.Errorf("headline = %q", result.Get("headline").String())
	}
	if result.Get("action_type").String() != DraftChatReply {
		t.Errorf("action_type = %q", result.Get("action_type").String())
	}
	draft := result.Get("draft").String()
	if !strings.Contains(draft, "Reply to Dana about rollout") || !strings.Contains(draft, "keep it short") {
		t.Errorf("draft = %q, want task title and focus", draft)
	}
	checklist := result.Get("checklist").Array()
	if len(checklist) != 5 {
		t.Errorf("len(checklist) = %d, want 5", len(checklist))
	}
	if got := result.Get("local_tool_context.execution_first_step").String(); got != "Start by executing: Reply in thread with a decision" {
		t.Errorf("execution_first_step = %q", got)
	}
}

func TestEngine_Backend(t *testing.T) {
	t.Run("parses fenced model output", func(t *testing.T) {
		store := testutil.NewTestStore(t, nil)
		taskID := createTask(t, store)
		backend := &fakeBackend{reply: "```json\n{\"headline\":\"Reply now\",\"draft\":\"Hi Dana\",\"checklist\":[],\"next_steps\":[\"send\"]}\n```"}
		e := newEngine(t, store, backend)

		runID, _ := e.Enqueue(&taskID, DraftChatReply, "")
		drain(t, e)

		run, _ := store.GetActionRun(runID)
		result := gjson.ParseBytes(run.ResultPayload)
		if result.Get("headline").String() != "Reply now" || result.Get("draft").String() != "Hi Dana" {
			t.Errorf("result = %s, want model fields", run.ResultPayload)
		}
		if result.Get("action_type").String() != DraftChatReply {
			t.Errorf("action_type = %q", result.Get("action_type").String())
		}
		if !result.Get("local_tool_context.task_context_digest").Exists() {
			t.Error("local_tool_context missing from result")
		}
		if result.Get("fallback").Exists() {
			t.Error("fallback set on a model result")
		}
		if !strings.Contains(backend.user, "Task title: Reply to Dana about rollout") {
			t.Errorf("prompt = %q, want task title", backend.user)
		}
	})

	t.Run("keeps raw text when output is not JSON", func(t *testing.T) {
		store := testutil.NewTestStore(t, nil)
		e := newEngine(t, store, &fakeBackend{reply: "Just call them."})

		runID, _ := e.Enqueue(nil, MeetingPrepBrief, "customer sync")
		drain(t, e)

		run, _ := store.GetActionRun(runID)
		result := gjson.ParseBytes(run.ResultPayload)
		if run.Status != deck.RunCompleted {
			t.Fatalf("Status = %s, want completed", run.Status)
		}
		if result.Get("draft").String() != "Just call them." {
			t.Errorf("draft = %q, want raw text", result.Get("draft").String())
		}
		if result.Get("headline").String() != "Generate Meeting Prep Brief" {
			t.Errorf("headline = %q", result.Get("headline").String())
		}
	})

	t.Run("backend error fails the run", func(t *testing.T) {
		store := testutil.NewTestStore(t, nil)
		e := newEngine(t, store, &fakeBackend{err: errors.New("rate limited")})

		runID, _ := e.Enqueue(nil, DraftEmailReply, "")
		drain(t, e)

		run, _ := store.GetActionRun(runID)
		if run.Status != deck.RunFailed || run.Error == nil || !strings.Contains(*run.Error, "rate limited") {
			t.Errorf("run = %+v, want failed with backend error", run)
		}
	})
}

func TestBuildToolContext_NoTask(t *testing.T) {
	long := strings.Repeat("a", 500)
	tools := BuildToolContext(nil, long)

	if !strings.HasPrefix(tools.TaskContextDigest, "General action request.") {
		t.Errorf("TaskContextDigest = %q", tools.TaskContextDigest)
	}
	want := "Start by framing the immediate next action from context: " + strings.Repeat("a", 180)
	if tools.ExecutionFirstStep != want {
		t.Errorf("ExecutionFirstStep length = %d, want %d", len(tools.ExecutionFirstStep), len(want))
	}
	if len(tools.ChecklistSeed) != 4 {
		t.Errorf("len(ChecklistSeed) = %d, want 4", len(tools.ChecklistSeed))
	}
}
