package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"flightdeck/internal/app"
	"flightdeck/internal/artifact"
	"flightdeck/internal/config"
	"flightdeck/internal/deck"
	"flightdeck/internal/testutil"
)

const payloadJSON = `{
  "email_messages": [
    {"id": "m1", "subject": "Need sign-off on budget", "snippet": "can you approve today",
     "email_ts": "2024-01-15T09:45:00Z", "from_": "cfo@corp.test", "url": "https://mail.corp.test/m1"}
  ]
}`

type stubFetcher struct{}

func (stubFetcher) Fetch(context.Context) (*deck.Payload, error) {
	return deck.ParsePayload([]byte(payloadJSON), deck.FetchModeAgentExec)
}

func newTestServer(t *testing.T) (*Server, *app.App) {
	t.Helper()
	cfg := config.NewConfig(t.TempDir())
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Artifact = config.ArtifactConfig{Type: "memory"}
	cfg.Actions.OpenAIAPIKey = ""
	cfg.Skills.Allowlist = []string{"gh-fix-ci"}

	a, err := app.NewWithOptions(context.Background(), cfg, app.Options{
		Clock:   testutil.FixedClock(),
		Fetcher: stubFetcher{},
		Sink:    artifact.NewMemorySink(),
	})
	if err != nil {
		t.Fatalf("NewWithOptions() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return NewServer(a), a
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	decode(t, rec, &resp)
	if resp.Status != "ok" || !resp.CanRefresh || resp.LastRefreshEvent != nil {
		t.Errorf("health = %+v", resp)
	}
}

func TestLatestSnapshot_Empty(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/snapshot/latest", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"snapshot":null`) {
		t.Errorf("body = %s, want null snapshot", rec.Body.String())
	}
}

func TestRefresh(t *testing.T) {
	s, a := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	var queued QueuedResponse
	decode(t, rec, &queued)
	if queued.Status != "queued" {
		t.Errorf("status = %q, want queued", queued.Status)
	}
	a.WaitForRefreshes()

	t.Run("second refresh hits cooldown", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/refresh", "")
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want 429", rec.Code)
		}
		var resp CooldownResponse
		decode(t, rec, &resp)
		if resp.NextAllowed == nil || !strings.Contains(resp.Error, "cooldown") {
			t.Errorf("cooldown response = %+v", resp)
		}
	})

	t.Run("snapshot and board reflect the refresh", func(t *testing.T) {
		var snap SnapshotResponse
		decode(t, do(t, s, http.MethodGet, "/api/snapshot/latest", ""), &snap)
		if snap.Snapshot == nil || len(snap.Snapshot.Signals) != 1 {
			t.Fatalf("snapshot = %+v", snap.Snapshot)
		}
		if snap.Snapshot.Metadata.FetchMode != deck.FetchModeAgentExec {
			t.Errorf("fetch mode = %q", snap.Snapshot.Metadata.FetchMode)
		}

		var board BoardResponse
		decode(t, do(t, s, http.MethodGet, "/api/board", ""), &board)
		if board.SnapshotID == nil || *board.SnapshotID != snap.Snapshot.ID {
			t.Errorf("board snapshot_id = %v, want %d", board.SnapshotID, snap.Snapshot.ID)
		}

		var health SourceHealthResponse
		decode(t, do(t, s, http.MethodGet, "/api/sources/health", ""), &health)
		if len(health.Sources) != 3 {
			t.Errorf("sources = %d, want 3", len(health.Sources))
		}

		var events RefreshEventsResponse
		decode(t, do(t, s, http.MethodGet, "/api/refresh/events?limit=5", ""), &events)
		if len(events.Events) != 2 || events.Events[0].Status != deck.RefreshSuccess {
			t.Errorf("events = %+v", events.Events)
		}
	})
}

func TestManualTasks(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/tasks/manual", `{"title":"  Write retro  ","priority_bucket":"now","due_at":"2024-01-15T17:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d; body %s", rec.Code, rec.Body.String())
	}
	var created CreatedTaskResponse
	decode(t, rec, &created)

	var board BoardResponse
	decode(t, do(t, s, http.MethodGet, "/api/board", ""), &board)
	now := board.Buckets[deck.BucketNow]
	if len(now) != 1 || now[0].Title != "Write retro" || !now[0].Manual {
		t.Fatalf("now bucket = %+v", now)
	}

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"valid status", "/api/tasks/" + strconv.FormatInt(created.TaskID, 10) + "/status", `{"status":"done"}`, http.StatusOK},
		{"bad status", "/api/tasks/" + strconv.FormatInt(created.TaskID, 10) + "/status", `{"status":"archived"}`, http.StatusBadRequest},
		{"unknown task", "/api/tasks/999/status", `{"status":"done"}`, http.StatusNotFound},
		{"bad id", "/api/tasks/abc/status", `{"status":"done"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, s, http.MethodPost, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d; body %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	t.Run("validation", func(t *testing.T) {
		for _, body := range []string{`{"title":"  "}`, `{"title":"x","priority_bucket":"someday"}`, `{"title":"x","due_at":"tomorrow"}`, `not json`} {
			if rec := do(t, s, http.MethodPost, "/api/tasks/manual", body); rec.Code != http.StatusBadRequest {
				t.Errorf("body %s: status = %d, want 400", body, rec.Code)
			}
		}
	})
}

func TestActions(t *testing.T) {
	s, a := newTestServer(t)
	a.StartWorkers()

	rec := do(t, s, http.MethodPost, "/api/actions/run", `{"action_type":"meeting_prep_brief","context":"board review"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rec.Code, rec.Body.String())
	}
	var queued QueuedResponse
	decode(t, rec, &queued)
	if queued.RunID == "" || queued.Status != "queued" {
		t.Fatalf("queued = %+v", queued)
	}

	if rec := do(t, s, http.MethodPost, "/api/actions/run", `{"action_type":"draft_slack_reply"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown action status = %d, want 400", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/actions/run", `{"task_id":999,"action_type":"draft_email_reply"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown task status = %d, want 404; body %s", rec.Code, rec.Body.String())
	}

	if err := a.StopWorkers(context.Background()); err != nil {
		t.Fatalf("StopWorkers() error = %v", err)
	}

	var run deck.ActionRun
	rec = do(t, s, http.MethodGet, "/api/actions/"+queued.RunID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	decode(t, rec, &run)
	if run.Status != deck.RunCompleted || run.FinishedAt == nil {
		t.Errorf("run = %+v, want completed", run)
	}

	if rec := do(t, s, http.MethodGet, "/api/actions/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", rec.Code)
	}

	var list ActionRunListResponse
	decode(t, do(t, s, http.MethodGet, "/api/actions", ""), &list)
	if len(list.Runs) != 1 {
		t.Errorf("runs = %d, want 1", len(list.Runs))
	}

	var types ActionTypesResponse
	decode(t, do(t, s, http.MethodGet, "/api/actions/types", ""), &types)
	if len(types.Types) != 4 || types.Generative {
		t.Errorf("types = %+v", types)
	}
}

func TestSkills(t *testing.T) {
	s, _ := newTestServer(t)

	if rec := do(t, s, http.MethodPost, "/api/skills/run", `{"skill_name":"rm-rf"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("not allowlisted status = %d, want 400", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/skills/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", rec.Code)
	}

	var allow AllowlistResponse
	decode(t, do(t, s, http.MethodGet, "/api/skills/allowlist", ""), &allow)
	if len(allow.Skills) != 1 || allow.Skills[0] != "gh-fix-ci" {
		t.Errorf("allowlist = %v", allow.Skills)
	}

	var list SkillRunListResponse
	decode(t, do(t, s, http.MethodGet, "/api/skills", ""), &list)
	if len(list.Runs) != 0 {
		t.Errorf("runs = %d, want 0", len(list.Runs))
	}
}
