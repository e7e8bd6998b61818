package deck

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

func formatSignal(s Signal) string {
	link := ""
	if s.URL != "" {
		link = fmt.Sprintf(" ([Open](%s))", s.URL)
	}
	reasons := ""
	if len(s.ScoreReasons) > 0 {
		reasons = " | " + strings.Join(s.ScoreReasons, "; ")
	}
	return fmt.Sprintf("- [%s] **%s** from `%s` (score: %d)%s\n  - Snippet: %s\n  - Action: %s%s",
		s.Source, s.Title, s.ChannelOrSender, s.Score, reasons, s.Snippet, s.RecommendedAction, link)
}

// CalendarCollisions lists adjacent calendar items whose start falls before the
// previous item's end.
func CalendarCollisions(items []Signal) []string {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b Signal) int { return a.Timestamp.Compare(b.Timestamp) })

	var out []string
	for i := 0; i+1 < len(sorted); i++ {
		cur, next := sorted[i], sorted[i+1]
		end := cur.Timestamp
		if raw, ok := cur.Metadata["end"].(string); ok {
			end = ParseTimestampString(raw, cur.Timestamp)
		}
		if next.Timestamp.Before(end) {
			out = append(out, fmt.Sprintf("- **Collision:** `%s` overlaps with `%s`", cur.Title, next.Title))
		}
	}
	return out
}

// RenderBrief renders ranked signals as a markdown daily brief.
func RenderBrief(signals []Signal, now time.Time, maxActions int) string {
	ranked := signals
	if maxActions > 0 && len(ranked) > maxActions {
		ranked = ranked[:maxActions]
	}

	var top, critical, calendar, inbox, deferred []Signal
	for _, s := range ranked {
		if s.Score > 0 && len(top) < 5 {
			top = append(top, s)
		}
		if s.HasTag(TagMeetingWithin2h) || s.Score >= 50 {
			critical = append(critical, s)
		}
	}
	for _, s := range signals {
		switch s.Source {
		case SourceCalendar:
			calendar = append(calendar, s)
		case SourceEmail:
			if len(inbox) < 5 {
				inbox = append(inbox, s)
			}
		}
	}
	for i := len(signals) - 1; i >= 0 && len(deferred) < 5; i-- {
		if signals[i].Score <= 0 {
			deferred = append(deferred, signals[i])
		}
	}

	var b strings.Builder
	section := func(title string, items []Signal, empty string) {
		fmt.Fprintf(&b, "\n## %s\n", title)
		if len(items) == 0 {
			fmt.Fprintf(&b, "- %s\n", empty)
			return
		}
		for _, s := range items {
			b.WriteString(formatSignal(s))
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "# Daily Flight Deck (%s)\n", now.Format("2006-01-02"))
	section("Top 5 Actions for Today", top, "No urgent actions identified.")
	section("Time-Critical in Next 2 Hours", critical, "No time-critical items in the next 2 hours.")

	b.WriteString("\n## Calendar Collisions / Prep Needed\n")
	collisions := CalendarCollisions(calendar)
	if len(collisions) == 0 {
		b.WriteString("- No calendar collisions detected.\n")
	}
	for _, c := range collisions {
		b.WriteString(c + "\n")
	}
	for i, ev := range calendar {
		if i >= 3 {
			break
		}
		if !ev.Timestamp.After(now.Add(4 * time.Hour)) {
			fmt.Fprintf(&b, "- Prep: `%s` at %s -> %s\n", ev.Title, ev.Timestamp.Format(time.RFC3339), ev.RecommendedAction)
		}
	}

	section("Inbox Watchlist (Last 24h)", inbox, "No inbox items in the configured lookback window.")
	section("Deferred / Low Priority", deferred, "No deferred items.")

	b.WriteString("\n## One Recommended First Task (start here)\n")
	if len(top) > 0 {
		b.WriteString(formatSignal(top[0]) + "\n")
	} else {
		b.WriteString("- Start by checking chat mentions and immediate calendar prep.\n")
	}
	return b.String()
}
