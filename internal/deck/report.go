package deck

import (
	"errors"
	"fmt"
)

// ErrNoSnapshot is returned by reports that need at least one snapshot.
var ErrNoSnapshot = errors.New("no snapshots found")

// AuditReport summarizes the latest snapshot for connector troubleshooting.
type AuditReport struct {
	Snapshot struct {
		ID        int64  `json:"id"`
		CreatedAt string `json:"created_at"`
		Source    string `json:"source"`
		Status    string `json:"status"`
		FetchMode string `json:"fetch_mode"`
	} `json:"snapshot"`
	Counts struct {
		Raw        map[string]int `json:"raw"`
		InScopeRaw map[string]int `json:"in_scope_raw"`
		Actionable map[string]int `json:"actionable"`
	} `json:"counts"`
	Diagnostics         map[string]any  `json:"diagnostics"`
	ChatChannelStats    *ChannelStats   `json:"chat_channel_stats"`
	RecentRefreshEvents []*RefreshEvent `json:"recent_refresh_events"`
}

// BuildAuditReport reads the latest snapshot and the last five refresh events.
func BuildAuditReport(store Store) (*AuditReport, error) {
	snap, err := store.GetLatestSnapshot()
	if err != nil {
		return nil, fmt.Errorf("loading latest snapshot: %w", err)
	}
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	events, err := store.ListRecentRefreshEvents(5)
	if err != nil {
		return nil, fmt.Errorf("loading refresh events: %w", err)
	}

	r := &AuditReport{}
	r.Snapshot.ID = snap.ID
	r.Snapshot.CreatedAt = snap.CreatedAt.Format("2006-01-02T15:04:05Z07:00")
	r.Snapshot.Source = snap.Source
	r.Snapshot.Status = snap.Status
	r.Snapshot.FetchMode = snap.Metadata.FetchMode
	r.Counts.Raw = snap.Metadata.RawCounts
	r.Counts.InScopeRaw = snap.Metadata.InScopeRawCounts
	r.Counts.Actionable = snap.SourceCounts
	r.Diagnostics = snap.Metadata.Diagnostics
	r.ChatChannelStats = snap.Metadata.ChatChannelStats
	r.RecentRefreshEvents = events
	return r, nil
}

// TaskOpsReport is a condensed view of the open board.
type TaskOpsReport struct {
	SnapshotID *int64         `json:"snapshot_id"`
	Counts     map[Bucket]int `json:"counts"`
	StartNow   []*Task        `json:"start_now"`
	QueueNext  []*Task        `json:"queue_next"`
	Defer      []*Task        `json:"defer"`
}

// BuildTaskOpsReport groups open board tasks and keeps the head of each bucket.
func BuildTaskOpsReport(store Store) (*TaskOpsReport, error) {
	snap, err := store.GetLatestSnapshot()
	if err != nil {
		return nil, fmt.Errorf("loading latest snapshot: %w", err)
	}
	var latest *int64
	if snap != nil {
		latest = &snap.ID
	}
	tasks, err := store.ListBoardTasks(latest)
	if err != nil {
		return nil, fmt.Errorf("listing board tasks: %w", err)
	}

	var open []*Task
	for _, t := range tasks {
		if t.Status != TaskDone {
			open = append(open, t)
		}
	}
	grouped := GroupTasks(open)
	r := &TaskOpsReport{
		SnapshotID: latest,
		Counts:     map[Bucket]int{},
		StartNow:   head(grouped[BucketNow], 3),
		QueueNext:  head(grouped[BucketNext], 3),
		Defer:      head(grouped[BucketLater], 6),
	}
	for _, b := range Buckets {
		r.Counts[b] = len(grouped[b])
	}
	return r, nil
}

func head(tasks []*Task, n int) []*Task {
	if len(tasks) > n {
		return tasks[:n]
	}
	return tasks
}
