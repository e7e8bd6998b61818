package deck

import "sort"

// SourceHealth is one row of the per-source health panel.
type SourceHealth struct {
	Source          Source `json:"source"`
	RawCount        int    `json:"raw_count"`
	InScopeRawCount int    `json:"in_scope_raw_count"`
	ActionableCount int    `json:"actionable_count"`
	Status          string `json:"status"`
	FetchMode       string `json:"fetch_mode,omitempty"`
}

// BuildSourceHealth explains, per source, how many raw items became actionable.
func BuildSourceHealth(snapshot *Snapshot) []SourceHealth {
	rows := make([]SourceHealth, 0, len(IngestSources))
	if snapshot == nil {
		for _, src := range IngestSources {
			rows = append(rows, SourceHealth{Source: src, Status: "No snapshot yet"})
		}
		return rows
	}

	meta := snapshot.Metadata
	fetchMode := meta.FetchMode
	if fetchMode == "" {
		fetchMode = "unknown"
	}
	for _, src := range IngestSources {
		key := string(src)
		actionable := snapshot.SourceCounts[key]
		raw, ok := meta.RawCounts[key]
		if !ok {
			raw = actionable
		}
		inScope, ok := meta.InScopeRawCounts[key]
		if !ok {
			inScope = raw
		}

		status := "Healthy"
		switch {
		case raw == 0:
			status = "No raw items fetched"
		case inScope == 0 && src == SourceChat:
			status = "Fetched, but none from allowlisted channels"
		case actionable == 0:
			status = "Fetched, but none actionable in current window"
		}
		rows = append(rows, SourceHealth{
			Source:          src,
			RawCount:        raw,
			InScopeRawCount: inScope,
			ActionableCount: actionable,
			Status:          status,
			FetchMode:       fetchMode,
		})
	}
	return rows
}

// SnapshotWarning flags a snapshot that looks synthetic.
func SnapshotWarning(snapshot *Snapshot) string {
	if snapshot == nil {
		return ""
	}
	for _, s := range snapshot.Signals {
		if IsSyntheticURL(s.URL) {
			return "Current snapshot appears synthetic (example-domain URLs). Refresh failed or connector config is incomplete."
		}
	}
	return ""
}

const panelSize = 8

// BuildSourcePanels groups signals per source for side panels: calendar
// items by start time, chat and email by descending score, eight each.
func BuildSourcePanels(signals []Signal) map[Source][]Signal {
	panels := make(map[Source][]Signal, len(IngestSources))
	for _, src := range IngestSources {
		panels[src] = []Signal{}
	}
	for _, s := range signals {
		if _, ok := panels[s.Source]; ok {
			panels[s.Source] = append(panels[s.Source], s)
		}
	}
	for src, items := range panels {
		if src == SourceCalendar {
			sort.SliceStable(items, func(i, j int) bool { return items[i].Timestamp.Before(items[j].Timestamp) })
		} else {
			sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
		}
		if len(items) > panelSize {
			items = items[:panelSize]
		}
		panels[src] = items
	}
	return panels
}
