package deck

import (
	"encoding/json"
	"slices"
	"time"
)

// Source identifies where a signal or task came from.
type Source string

const (
	SourceChat     Source = "chat"
	SourceCalendar Source = "calendar"
	SourceEmail    Source = "email"
	SourceManual   Source = "manual"
)

// IngestSources lists the sources that feed an ingestion cycle, in processing order.
var IngestSources = []Source{SourceChat, SourceCalendar, SourceEmail}

// Urgency tags attached by the normalizers.
const (
	TagMeetingWithin2h   = "meeting_within_2h"
	TagDirectRequest     = "direct_request"
	TagUrgentKeyword     = "urgent_keyword"
	TagUnansweredRequest = "unanswered_action_request"
	TagLowSignal         = "low_signal"
)

// Signal is one normalized unit of attention from any source.
type Signal struct {
	Source            Source         `json:"source"`
	ItemID            string         `json:"item_id"`
	URL               string         `json:"url"`
	ChannelOrSender   string         `json:"channel_or_sender"`
	Title             string         `json:"title"`
	Snippet           string         `json:"snippet"`
	Timestamp         time.Time      `json:"timestamp"`
	UrgencyTags       []string       `json:"urgency_signals"`
	RecommendedAction string         `json:"recommended_action"`
	Score             int            `json:"score"`
	ScoreReasons      []string       `json:"score_reasons"`
	Metadata          map[string]any `json:"metadata"`
}

// HasTag reports whether the signal carries the given urgency tag.
func (s Signal) HasTag(tag string) bool {
	return slices.Contains(s.UrgencyTags, tag)
}

// Scored reports whether a score has been derived for the signal.
func (s Signal) Scored() bool {
	return s.Score != 0 || len(s.ScoreReasons) > 0
}

// UnmarshalJSON normalizes the timestamp to UTC and replaces absent collections
// with empty ones so decoded signals compare equal to freshly built ones.
func (s *Signal) UnmarshalJSON(data []byte) error {
	type plain Signal
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	p.Timestamp = p.Timestamp.UTC()
	if p.UrgencyTags == nil {
		p.UrgencyTags = []string{}
	}
	if p.ScoreReasons == nil {
		p.ScoreReasons = []string{}
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	*s = Signal(p)
	return nil
}

// SourceCounts tallies signals per ingest source. Every ingest source is present.
func SourceCounts(signals []Signal) map[string]int {
	counts := make(map[string]int, len(IngestSources))
	for _, src := range IngestSources {
		counts[string(src)] = 0
	}
	for _, s := range signals {
		counts[string(s.Source)]++
	}
	return counts
}
