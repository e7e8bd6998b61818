package deck

import "time"

// Bucket is a board priority column.
type Bucket string

const (
	BucketNow   Bucket = "now"
	BucketNext  Bucket = "next"
	BucketLater Bucket = "later"
)

// Buckets lists the board columns in display order.
var Buckets = []Bucket{BucketNow, BucketNext, BucketLater}

// Valid reports whether b is a known bucket.
func (b Bucket) Valid() bool {
	return b == BucketNow || b == BucketNext || b == BucketLater
}

// TaskStatus is the lifecycle state of a board task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskSnoozed    TaskStatus = "snoozed"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskDone, TaskSnoozed:
		return true
	}
	return false
}

// Task is a board item, either derived from a snapshot or created by hand.
type Task struct {
	ID         int64          `json:"id"`
	SnapshotID *int64         `json:"snapshot_id"`
	Source     Source         `json:"source"`
	Bucket     Bucket         `json:"priority_bucket"`
	Title      string         `json:"title"`
	ActionHint string         `json:"action_hint"`
	Status     TaskStatus     `json:"status"`
	DueAt      *time.Time     `json:"due_at"`
	URL        string         `json:"url"`
	Manual     bool           `json:"manual"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TaskDraft is an auto task before it is persisted.
type TaskDraft struct {
	Source     Source
	Bucket     Bucket
	Title      string
	ActionHint string
	Status     TaskStatus
	DueAt      *time.Time
	URL        string
	Metadata   map[string]any
}

// ManualTaskInput describes a user-created task.
type ManualTaskInput struct {
	Title      string
	ActionHint string
	Bucket     Bucket
	URL        string
	DueAt      *time.Time
	Metadata   map[string]any
}

const dueWindow = 8 * time.Hour

// DeriveTasks maps ranked signals to draft tasks.
func DeriveTasks(signals []Signal, now time.Time) []TaskDraft {
	drafts := make([]TaskDraft, 0, len(signals))
	for _, s := range signals {
		bucket := BucketLater
		switch {
		case s.Score >= 50 || s.HasTag(TagMeetingWithin2h):
			bucket = BucketNow
		case s.Score >= 20:
			bucket = BucketNext
		}

		var due *time.Time
		if s.Source == SourceCalendar || (!s.Timestamp.Before(now) && !s.Timestamp.After(now.Add(dueWindow))) {
			ts := s.Timestamp
			due = &ts
		}

		drafts = append(drafts, TaskDraft{
			Source:     s.Source,
			Bucket:     bucket,
			Title:      s.Title,
			ActionHint: s.RecommendedAction,
			Status:     TaskTodo,
			DueAt:      due,
			URL:        s.URL,
			Metadata: map[string]any{
				"score":             s.Score,
				"score_reasons":     s.ScoreReasons,
				"channel_or_sender": s.ChannelOrSender,
				"snippet":           s.Snippet,
			},
		})
	}
	return drafts
}

// GroupTasks splits board tasks by bucket, preserving board order within each.
func GroupTasks(tasks []*Task) map[Bucket][]*Task {
	grouped := map[Bucket][]*Task{BucketNow: {}, BucketNext: {}, BucketLater: {}}
	for _, t := range tasks {
		grouped[t.Bucket] = append(grouped[t.Bucket], t)
	}
	return grouped
}
