package deck

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var (
	urgentKeywords = []string{"urgent", "asap", "critical", "incident", "sev", "outage", "escalation", "blocker"}
	directMarkers  = []string{"can you", "could you", "please"}
	lowSignalWords = []string{"promotion", "reactivation", "bonus", "sale", "unsubscribe", "newsletter"}
	requestWords   = []string{"need", "help", "please", "action"}
)

const (
	snippetLimit       = 200
	promotionsCategory = "category_promotions"
)

// Normalizer turns raw records of one source into in-scope signals.
// Output preserves input order for the records that survive filtering.
type Normalizer interface {
	Source() Source
	Normalize(records []gjson.Result, now time.Time) []Signal
}

// NormalizeAll runs each normalizer against the matching records of the payload.
func NormalizeAll(normalizers []Normalizer, payload *Payload, now time.Time) []Signal {
	var out []Signal
	for _, n := range normalizers {
		out = append(out, n.Normalize(payload.Records(n.Source()), now)...)
	}
	return out
}

func containsAny(text string, markers []string) bool {
	lowered := strings.ToLower(text)
	for _, m := range markers {
		if strings.Contains(lowered, m) {
			return true
		}
	}
	return false
}

// Snippet collapses whitespace and truncates to a fixed character budget.
func Snippet(text string) string {
	return Truncate(strings.Join(strings.Fields(text), " "), snippetLimit)
}

// firstString returns the first non-empty string among the given paths.
func firstString(rec gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := rec.Get(p); v.Exists() && v.Type != gjson.Null {
			if s := strings.TrimSpace(v.String()); s != "" {
				return v.String()
			}
		}
	}
	return ""
}

// requestTags derives the tags shared by chat and email text.
func requestTags(text string, mentions []string) []string {
	tags := []string{}
	if containsAny(text, directMarkers) || containsAny(text, lowered(mentions)) {
		tags = append(tags, TagDirectRequest)
	}
	if containsAny(text, urgentKeywords) {
		tags = append(tags, TagUrgentKeyword)
	}
	if strings.Contains(text, "?") && containsAny(text, requestWords) {
		tags = append(tags, TagUnansweredRequest)
	}
	return tags
}

func lowered(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ChatNormalizer keeps messages from in-scope channels within the lookback window.
type ChatNormalizer struct {
	Scope         ChatScope
	LookbackHours int
	// Mentions are extra direct-request markers, such as the owner's handle.
	Mentions []string
}

func (ChatNormalizer) Source() Source { return SourceChat }

func (n ChatNormalizer) Normalize(records []gjson.Result, now time.Time) []Signal {
	minTime := now.Add(-time.Duration(n.LookbackHours) * time.Hour)
	out := []Signal{}
	for _, rec := range records {
		channel := ChatChannel(rec)
		if channel == "" || !n.Scope.InScope(channel) {
			continue
		}
		ts := ParseTimestamp(rec.Get("message_ts"), now)
		if ts.Before(minTime) {
			continue
		}

		text := rec.Get("text").String()
		tags := requestTags(text, n.Mentions)

		action := "Review thread and decide if action is needed."
		switch {
		case slices.Contains(tags, TagDirectRequest):
			action = "Reply in thread with next step and ETA."
		case slices.Contains(tags, TagUrgentKeyword):
			action = "Acknowledge in channel and triage owner/ETA."
		}

		out = append(out, Signal{
			Source:            SourceChat,
			ItemID:            firstString(rec, "message_info_str", "web_link"),
			URL:               firstString(rec, "display_url", "web_link"),
			ChannelOrSender:   channel,
			Title:             "#" + channel,
			Snippet:           Snippet(text),
			Timestamp:         ts,
			UrgencyTags:       tags,
			RecommendedAction: action,
			ScoreReasons:      []string{},
			Metadata:          map[string]any{"author": firstString(rec, "author_display_name", "author_username")},
		})
	}
	return out
}

// ChatChannel resolves a record's channel from channel_name, falling back to a
// "#"-prefixed display title.
func ChatChannel(rec gjson.Result) string {
	if ch := strings.TrimSpace(rec.Get("channel_name").String()); ch != "" {
		return ch
	}
	title := strings.TrimSpace(rec.Get("display_title").String())
	if strings.HasPrefix(title, "#") {
		return title[1:]
	}
	return ""
}

// CalendarNormalizer keeps events starting within [now, now+lookahead].
type CalendarNormalizer struct {
	LookaheadHours int
}

func (CalendarNormalizer) Source() Source { return SourceCalendar }

func (n CalendarNormalizer) Normalize(records []gjson.Result, now time.Time) []Signal {
	horizon := now.Add(time.Duration(n.LookaheadHours) * time.Hour)
	soon := now.Add(2 * time.Hour)
	out := []Signal{}
	for _, rec := range records {
		start := ParseTimestamp(rec.Get("start"), now)
		end := ParseTimestamp(rec.Get("end"), now)
		if start.Before(now) || start.After(horizon) {
			continue
		}

		tags := []string{}
		action := "Confirm prep materials and attendee expectations."
		if !start.After(soon) {
			tags = append(tags, TagMeetingWithin2h)
			action = "Prep talking points/docs and confirm agenda now."
		}

		title := firstString(rec, "summary")
		if title == "" {
			title = "Calendar event"
		}
		snippet := "No description"
		if desc := rec.Get("description").String(); strings.TrimSpace(desc) != "" {
			snippet = Snippet(desc)
		}
		itemID := firstString(rec, "id")
		if itemID == "" {
			itemID = title
		}

		out = append(out, Signal{
			Source:            SourceCalendar,
			ItemID:            itemID,
			URL:               firstString(rec, "display_url", "url"),
			ChannelOrSender:   "calendar",
			Title:             title,
			Snippet:           snippet,
			Timestamp:         start,
			UrgencyTags:       tags,
			RecommendedAction: action,
			ScoreReasons:      []string{},
			Metadata: map[string]any{
				"start": start.Format(time.RFC3339),
				"end":   end.Format(time.RFC3339),
			},
		})
	}
	return out
}

// EmailNormalizer keeps messages within the lookback window.
type EmailNormalizer struct {
	LookbackHours int
	Mentions      []string
}

func (EmailNormalizer) Source() Source { return SourceEmail }

func (n EmailNormalizer) Normalize(records []gjson.Result, now time.Time) []Signal {
	minTime := now.Add(-time.Duration(n.LookbackHours) * time.Hour)
	out := []Signal{}
	for _, rec := range records {
		ts := ParseTimestamp(rec.Get("email_ts"), now)
		if ts.Before(minTime) {
			continue
		}

		subject := firstString(rec, "subject")
		if subject == "" {
			subject = "(no subject)"
		}
		snippet := rec.Get("snippet").String()
		sender := firstString(rec, "from_", "from")
		if sender == "" {
			sender = "unknown"
		}
		labels := []string{}
		for _, l := range rec.Get("labels").Array() {
			labels = append(labels, l.String())
		}
		fullText := fmt.Sprintf("%s\n%s\n%s\n%s", subject, snippet, sender, strings.Join(labels, " "))

		tags := requestTags(fullText, n.Mentions)
		if hasLabel(labels, promotionsCategory) || containsAny(fullText, lowSignalWords) {
			tags = append(tags, TagLowSignal)
		}

		action := "Review and decide follow-up."
		switch {
		case slices.Contains(tags, TagLowSignal):
			action = "Defer unless this affects today."
		case slices.Contains(tags, TagDirectRequest):
			action = "Reply with owner, next step, and ETA."
		}

		out = append(out, Signal{
			Source:            SourceEmail,
			ItemID:            firstString(rec, "id"),
			URL:               firstString(rec, "display_url", "url"),
			ChannelOrSender:   sender,
			Title:             subject,
			Snippet:           Snippet(snippet),
			Timestamp:         ts,
			UrgencyTags:       tags,
			RecommendedAction: action,
			ScoreReasons:      []string{},
			Metadata: map[string]any{
				"labels":         labels,
				"has_attachment": rec.Get("has_attachment").Bool(),
			},
		})
	}
	return out
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}
