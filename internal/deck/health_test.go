package deck_test

import (
	"errors"
	"testing"
	"time"

	"flightdeck/internal/deck"
	"flightdeck/internal/testutil"
)

func TestBuildSourceHealth(t *testing.T) {
	t.Run("no snapshot", func(t *testing.T) {
		rows := deck.BuildSourceHealth(nil)
		if len(rows) != 3 {
			t.Fatalf("BuildSourceHealth(nil) = %d rows, want 3", len(rows))
		}
		for _, r := range rows {
			if r.Status != "No snapshot yet" {
				t.Errorf("%s status = %q", r.Source, r.Status)
			}
		}
	})

	t.Run("statuses", func(t *testing.T) {
		snap := &deck.Snapshot{
			SourceCounts: map[string]int{"chat": 0, "calendar": 0, "email": 4},
			Metadata: deck.SnapshotMetadata{
				FetchMode:        deck.FetchModeAgentExec,
				RawCounts:        map[string]int{"chat": 7, "calendar": 2, "email": 5},
				InScopeRawCounts: map[string]int{"chat": 0, "calendar": 2, "email": 5},
			},
		}
		rows := deck.BuildSourceHealth(snap)
		want := map[deck.Source]string{
			deck.SourceChat:     "Fetched, but none from allowlisted channels",
			deck.SourceCalendar: "Fetched, but none actionable in current window",
			deck.SourceEmail:    "Healthy",
		}
		for _, r := range rows {
			if r.Status != want[r.Source] {
				t.Errorf("%s status = %q, want %q", r.Source, r.Status, want[r.Source])
			}
			if r.FetchMode != deck.FetchModeAgentExec {
				t.Errorf("%s fetch mode = %q", r.Source, r.FetchMode)
			}
		}
		if rows[0].RawCount != 7 || rows[2].ActionableCount != 4 {
			t.Errorf("rows = %+v", rows)
		}
	})

	t.Run("older snapshot without raw counts", func(t *testing.T) {
		snap := &deck.Snapshot{SourceCounts: map[string]int{"chat": 2, "calendar": 0, "email": 1}}
		rows := deck.BuildSourceHealth(snap)
		if rows[0].RawCount != 2 || rows[0].InScopeRawCount != 2 || rows[0].Status != "Healthy" {
			t.Errorf("chat row = %+v", rows[0])
		}
		if rows[1].Status != "No raw items fetched" {
			t.Errorf("calendar row = %+v", rows[1])
		}
		if rows[0].FetchMode != "unknown" {
			t.Errorf("FetchMode = %q, want unknown", rows[0].FetchMode)
		}
	})
}

func TestSnapshotWarning(t *testing.T) {
	if got := deck.SnapshotWarning(nil); got != "" {
		t.Errorf("SnapshotWarning(nil) = %q", got)
	}
	live := &deck.Snapshot{Signals: []deck.Signal{{URL: "https://corp.slack.com/p1"}}}
	if got := deck.SnapshotWarning(live); got != "" {
		t.Errorf("SnapshotWarning(live) = %q", got)
	}
	fake := &deck.Snapshot{Signals: []deck.Signal{{URL: "https://mail.example.com/m1"}}}
	if got := deck.SnapshotWarning(fake); got == "" {
		t.Error("SnapshotWarning(synthetic) is empty")
	}
}

func TestBuildSourcePanels(t *testing.T) {
	var signals []deck.Signal
	for i := range 10 {
		signals = append(signals, deck.Signal{Source: deck.SourceEmail, ItemID: "m", Score: i})
	}
	signals = append(signals,
		deck.Signal{Source: deck.SourceCalendar, ItemID: "late", Timestamp: testNow.Add(3 * time.Hour), Score: 50},
		deck.Signal{Source: deck.SourceCalendar, ItemID: "early", Timestamp: testNow.Add(time.Hour)},
	)

	panels := deck.BuildSourcePanels(signals)

	if got := panels[deck.SourceEmail]; len(got) != 8 || got[0].Score != 9 || got[7].Score != 2 {
		t.Errorf("email panel = %d items, first %d", len(got), got[0].Score)
	}
	if cal := panels[deck.SourceCalendar]; len(cal) != 2 || cal[0].ItemID != "early" {
		t.Errorf("calendar panel = %+v", cal)
	}
	if chat, ok := panels[deck.SourceChat]; !ok || len(chat) != 0 {
		t.Errorf("chat panel = %v, want present and empty", chat)
	}
}

func TestBuildReports(t *testing.T) {
	clock := testutil.FixedClock()
	store := testutil.NewTestStore(t, clock)

	if _, err := deck.BuildAuditReport(store); !errors.Is(err, deck.ErrNoSnapshot) {
		t.Errorf("BuildAuditReport() on empty store error = %v, want ErrNoSnapshot", err)
	}

	ranked := deck.ScoreAndSort([]deck.Signal{
		{Source: deck.SourceCalendar, Title: "Standup", Timestamp: testNow.Add(time.Hour), UrgencyTags: []string{deck.TagMeetingWithin2h}},
		{Source: deck.SourceChat, Title: "#ops", Timestamp: testNow, UrgencyTags: []string{deck.TagUnansweredRequest}},
		{Source: deck.SourceEmail, Title: "Promo", Timestamp: testNow, UrgencyTags: []string{deck.TagLowSignal}},
		{Source: deck.SourceEmail, Title: "FYI", Timestamp: testNow, UrgencyTags: []string{}},
	})
	snapID, err := store.InsertSnapshot(deck.SnapshotInput{
		Signals:      ranked,
		SourceCounts: deck.SourceCounts(ranked),
		Source:       deck.RefreshManual,
		Status:       "ready",
		Metadata: deck.SnapshotMetadata{
			FetchMode:        deck.FetchModeInputJSON,
			RawCounts:        map[string]int{"chat": 3, "calendar": 1, "email": 2},
			ChatChannelStats: &deck.ChannelStats{InScopeCount: 1, TopChannels: []deck.ChannelCount{{Channel: "ops", Count: 3}}},
		},
	})
	if err != nil {
		t.Fatalf("InsertSnapshot() error = %v", err)
	}
	if err := store.ReplaceAutoTasksForSnapshot(snapID, deck.DeriveTasks(ranked, testNow)); err != nil {
		t.Fatalf("ReplaceAutoTasksForSnapshot() error = %v", err)
	}
	manualID, err := store.CreateManualTask(deck.ManualTaskInput{Title: "Write retro", Bucket: deck.BucketNext})
	if err != nil {
		t.Fatalf("CreateManualTask() error = %v", err)
	}
	for i := range 6 {
		clock.Advance(time.Second)
		status := deck.RefreshSuccess
		if i%2 == 1 {
			status = deck.RefreshFailed
		}
		if err := store.RecordRefreshEvent(deck.RefreshManual, status, "event"); err != nil {
			t.Fatalf("RecordRefreshEvent() error = %v", err)
		}
	}

	t.Run("audit", func(t *testing.T) {
		r, err := deck.BuildAuditReport(store)
		if err != nil {
			t.Fatalf("BuildAuditReport() error = %v", err)
		}
		if r.Snapshot.ID != snapID || r.Snapshot.FetchMode != deck.FetchModeInputJSON {
			t.Errorf("snapshot = %+v", r.Snapshot)
		}
		if r.Counts.Raw["chat"] != 3 || r.Counts.Actionable["email"] != 2 {
			t.Errorf("counts = %+v", r.Counts)
		}
		if r.ChatChannelStats == nil || r.ChatChannelStats.TopChannels[0].Channel != "ops" {
			t.Errorf("ChatChannelStats = %+v", r.ChatChannelStats)
		}
		if len(r.RecentRefreshEvents) != 5 {
			t.Errorf("RecentRefreshEvents = %d, want 5", len(r.RecentRefreshEvents))
		}
	})

	t.Run("task ops", func(t *testing.T) {
		if err := store.UpdateTaskStatus(manualID, deck.TaskDone); err != nil {
			t.Fatalf("UpdateTaskStatus() error = %v", err)
		}
		r, err := deck.BuildTaskOpsReport(store)
		if err != nil {
			t.Fatalf("BuildTaskOpsReport() error = %v", err)
		}
		if r.SnapshotID == nil || *r.SnapshotID != snapID {
			t.Errorf("SnapshotID = %v, want %d", r.SnapshotID, snapID)
		}
		want := map[deck.Bucket]int{deck.BucketNow: 1, deck.BucketNext: 1, deck.BucketLater: 2}
		for b, n := range want {
			if r.Counts[b] != n {
				t.Errorf("Counts[%s] = %d, want %d", b, r.Counts[b], n)
			}
		}
		if len(r.StartNow) != 1 || r.StartNow[0].Title != "Standup" {
			t.Errorf("StartNow = %+v", r.StartNow)
		}
		if len(r.QueueNext) != 1 || r.QueueNext[0].Title != "#ops" {
			t.Errorf("QueueNext = %+v", r.QueueNext)
		}
	})
}
