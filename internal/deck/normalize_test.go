package deck_test

import (
	"slices"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"flightdeck/internal/deck"
)

var testNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func records(doc string) []gjson.Result {
	return gjson.Parse(doc).Array()
}

func TestChatNormalizer(t *testing.T) {
	n := deck.ChatNormalizer{
		Scope:         deck.ChatScope{Exact: []string{"#incidents"}, Prefix: []string{"team-"}},
		LookbackHours: 24,
		Mentions:      []string{"@alex"},
	}

	t.Run("direct urgent request in allow-listed channel", func(t *testing.T) {
		got := n.Normalize(records(`[{
			"channel_name": "incidents",
			"text": "Can you review this ASAP?",
			"message_ts": "2024-01-15T10:20:00Z",
			"author_display_name": "Sam",
			"web_link": "https://chat.corp.test/archives/C1/p1",
			"message_info_str": "C1:1705314000.000100"
		}]`), testNow)

		if len(got) != 1 {
			t.Fatalf("Normalize() returned %d signals, want 1", len(got))
		}
		s := got[0]
		if want := []string{deck.TagDirectRequest, deck.TagUrgentKeyword}; !slices.Equal(s.UrgencyTags, want) {
			t.Errorf("UrgencyTags = %v, want %v", s.UrgencyTags, want)
		}
		if s.Title != "#incidents" || s.ChannelOrSender != "incidents" {
			t.Errorf("Title = %q ChannelOrSender = %q", s.Title, s.ChannelOrSender)
		}
		if s.ItemID != "C1:1705314000.000100" {
			t.Errorf("ItemID = %q", s.ItemID)
		}
		if s.URL != "https://chat.corp.test/archives/C1/p1" {
			t.Errorf("URL = %q", s.URL)
		}
		if s.RecommendedAction != "Reply in thread with next step and ETA." {
			t.Errorf("RecommendedAction = %q", s.RecommendedAction)
		}
		if s.Metadata["author"] != "Sam" {
			t.Errorf("Metadata[author] = %v", s.Metadata["author"])
		}
		if s.Score != 0 || len(s.ScoreReasons) != 0 {
			t.Errorf("normalizer should not score, got %d %v", s.Score, s.ScoreReasons)
		}
	})

	t.Run("filters channel and lookback", func(t *testing.T) {
		got := n.Normalize(records(`[
			{"channel_name": "random", "text": "lunch?", "message_ts": "2024-01-15T10:00:00Z"},
			{"channel_name": "incidents", "text": "old news", "message_ts": "2024-01-14T09:00:00Z"},
			{"text": "no channel", "message_ts": "2024-01-15T10:00:00Z"},
			{"display_title": "#team-infra", "text": "deploy done", "message_ts": "1705314000"}
		]`), testNow)

		if len(got) != 1 {
			t.Fatalf("Normalize() returned %d signals, want 1", len(got))
		}
		s := got[0]
		if s.ChannelOrSender != "team-infra" {
			t.Errorf("ChannelOrSender = %q, want team-infra", s.ChannelOrSender)
		}
		if want := time.Date(2024, 1, 15, 10, 20, 0, 0, time.UTC); !s.Timestamp.Equal(want) {
			t.Errorf("Timestamp = %v, want %v", s.Timestamp, want)
		}
		if len(s.UrgencyTags) != 0 {
			t.Errorf("UrgencyTags = %v, want none", s.UrgencyTags)
		}
		if s.RecommendedAction != "Review thread and decide if action is needed." {
			t.Errorf("RecommendedAction = %q", s.RecommendedAction)
		}
	})

	t.Run("mentions and unanswered requests", func(t *testing.T) {
		got := n.Normalize(records(`[
			{"channel_name": "incidents", "text": "@Alex fyi the rollout moved", "message_ts": "2024-01-15T10:00:00Z"},
			{"channel_name": "incidents", "text": "Anyone need a reviewer?", "message_ts": "2024-01-15T10:00:00Z"},
			{"channel_name": "incidents", "text": "sev2 declared", "message_ts": "2024-01-15T10:00:00Z"}
		]`), testNow)

		if len(got) != 3 {
			t.Fatalf("Normalize() returned %d signals, want 3", len(got))
		}
		if !slices.Equal(got[0].UrgencyTags, []string{deck.TagDirectRequest}) {
			t.Errorf("mention tags = %v", got[0].UrgencyTags)
		}
		if !slices.Equal(got[1].UrgencyTags, []string{deck.TagUnansweredRequest}) {
			t.Errorf("question tags = %v", got[1].UrgencyTags)
		}
		if !slices.Equal(got[2].UrgencyTags, []string{deck.TagUrgentKeyword}) {
			t.Errorf("urgent tags = %v", got[2].UrgencyTags)
		}
		if got[2].RecommendedAction != "Acknowledge in channel and triage owner/ETA." {
			t.Errorf("urgent action = %q", got[2].RecommendedAction)
		}
	})
}

func TestCalendarNormalizer(t *testing.T) {
	n := deck.CalendarNormalizer{LookaheadHours: 24}

	got := n.Normalize(records(`[
		{"id": "e1", "summary": "Incident review", "description": "Walk through   the timeline",
		 "start": "2024-01-15T12:00:00Z", "end": "2024-01-15T12:30:00Z", "url": "https://cal.corp.test/e1"},
		{"id": "e0", "summary": "Standup", "start": "2024-01-15T09:00:00Z", "end": "2024-01-15T09:15:00Z"},
		{"summary": "", "start": "2024-01-15T13:30:00Z", "end": "2024-01-15T14:00:00Z"},
		{"id": "e9", "summary": "Next week", "start": "2024-01-22T09:00:00Z"}
	]`), testNow)

	if len(got) != 2 {
		t.Fatalf("Normalize() returned %d signals, want 2", len(got))
	}

	soon := got[0]
	if !slices.Equal(soon.UrgencyTags, []string{deck.TagMeetingWithin2h}) {
		t.Errorf("UrgencyTags = %v, want meeting tag", soon.UrgencyTags)
	}
	if soon.Snippet != "Walk through the timeline" {
		t.Errorf("Snippet = %q", soon.Snippet)
	}
	if soon.ChannelOrSender != "calendar" {
		t.Errorf("ChannelOrSender = %q", soon.ChannelOrSender)
	}
	if soon.Metadata["end"] != "2024-01-15T12:30:00Z" {
		t.Errorf("Metadata[end] = %v", soon.Metadata["end"])
	}
	if soon.RecommendedAction != "Prep talking points/docs and confirm agenda now." {
		t.Errorf("RecommendedAction = %q", soon.RecommendedAction)
	}

	later := got[1]
	if later.Title != "Calendar event" || later.ItemID != "Calendar event" {
		t.Errorf("Title = %q ItemID = %q, want defaults", later.Title, later.ItemID)
	}
	if later.Snippet != "No description" {
		t.Errorf("Snippet = %q", later.Snippet)
	}
	if len(later.UrgencyTags) != 0 {
		t.Errorf("UrgencyTags = %v, want none", later.UrgencyTags)
	}
}

func TestEmailNormalizer(t *testing.T) {
	n := deck.EmailNormalizer{LookbackHours: 24}

	got := n.Normalize(records(`[
		{"id": "m1", "subject": "Weekend sale", "snippet": "50% off", "email_ts": "2024-01-15T08:00:00Z",
		 "from_": "deals@shop.test", "labels": ["promotions"], "url": "https://mail.corp.test/m1"},
		{"id": "m2", "subject": "Budget sign-off", "snippet": "Please approve by noon",
		 "email_ts": "2024-01-15T09:00:00Z", "from": "cfo@corp.test", "labels": ["INBOX"], "has_attachment": true},
		{"id": "m3", "snippet": "", "email_ts": "2024-01-15T09:30:00Z"},
		{"id": "m4", "subject": "Stale", "email_ts": "2024-01-13T09:30:00Z"}
	]`), testNow)

	if len(got) != 3 {
		t.Fatalf("Normalize() returned %d signals, want 3", len(got))
	}

	promo := got[0]
	if !slices.Equal(promo.UrgencyTags, []string{deck.TagLowSignal}) {
		t.Errorf("promo tags = %v", promo.UrgencyTags)
	}
	if promo.RecommendedAction != "Defer unless this affects today." {
		t.Errorf("promo action = %q", promo.RecommendedAction)
	}

	direct := got[1]
	if !slices.Equal(direct.UrgencyTags, []string{deck.TagDirectRequest}) {
		t.Errorf("direct tags = %v", direct.UrgencyTags)
	}
	if direct.ChannelOrSender != "cfo@corp.test" {
		t.Errorf("sender = %q", direct.ChannelOrSender)
	}
	if direct.Metadata["has_attachment"] != true {
		t.Errorf("has_attachment = %v", direct.Metadata["has_attachment"])
	}

	blank := got[2]
	if blank.Title != "(no subject)" || blank.ChannelOrSender != "unknown" {
		t.Errorf("Title = %q sender = %q, want defaults", blank.Title, blank.ChannelOrSender)
	}
	if blank.RecommendedAction != "Review and decide follow-up." {
		t.Errorf("RecommendedAction = %q", blank.RecommendedAction)
	}
}

func TestChatScope_InScope(t *testing.T) {
	scope := deck.ChatScope{Exact: []string{"#Ops"}, Prefix: []string{"proj-"}}

	tests := []struct {
		channel string
		want    bool
	}{
		{"ops", true},
		{"#OPS ", true},
		{"ops-private", false},
		{"proj-alpha", true},
		{"#proj-", true},
		{"project", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			if got := scope.InScope(tt.channel); got != tt.want {
				t.Errorf("InScope(%q) = %v, want %v", tt.channel, got, tt.want)
			}
		})
	}
}

func TestParseTimestampString(t *testing.T) {
	fallback := testNow

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-15T09:00:00Z", time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)},
		{"2024-01-15T09:00:00+02:00", time.Date(2024, 1, 15, 7, 0, 0, 0, time.UTC)},
		{"2024-01-15T09:00:00", time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)},
		{"2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"1705314000", time.Date(2024, 1, 15, 10, 20, 0, 0, time.UTC)},
		{"", fallback},
		{"yesterday", fallback},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := deck.ParseTimestampString(tt.in, fallback); !got.Equal(tt.want) {
				t.Errorf("ParseTimestampString(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSnippet(t *testing.T) {
	long := ""
	for range 50 {
		long += "word "
	}
	got := deck.Snippet(long)
	if len([]rune(got)) != 200 {
		t.Errorf("Snippet() length = %d, want 200", len([]rune(got)))
	}
	if got[len(got)-3:] != "..." {
		t.Errorf("Snippet() = %q, want ellipsis", got)
	}
	if deck.Snippet("  a \n\t b  ") != "a b" {
		t.Errorf("Snippet() did not collapse whitespace")
	}
}
