package deck

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Fetch modes recorded on snapshots.
const (
	FetchModeInputJSON = "input_json"
	FetchModeAgentExec = "agent_exec"
	FetchModeWatch     = "watch"
)

// Payload is one fetched batch of raw connector records.
type Payload struct {
	Chat        []gjson.Result
	Calendar    []gjson.Result
	Email       []gjson.Result
	FetchMode   string
	Diagnostics map[string]any
}

// Records returns the raw records for src.
func (p *Payload) Records(src Source) []gjson.Result {
	switch src {
	case SourceChat:
		return p.Chat
	case SourceCalendar:
		return p.Calendar
	case SourceEmail:
		return p.Email
	default:
		return nil
	}
}

// RawCounts returns the number of raw records per ingest source.
func (p *Payload) RawCounts() map[string]int {
	return map[string]int{
		string(SourceChat):     len(p.Chat),
		string(SourceCalendar): len(p.Calendar),
		string(SourceEmail):    len(p.Email),
	}
}

// Total is the raw record count across all sources.
func (p *Payload) Total() int {
	return len(p.Chat) + len(p.Calendar) + len(p.Email)
}

var payloadKeys = map[Source][]string{
	SourceChat:     {"chat_results", "slack_results", "chat", "slack"},
	SourceCalendar: {"calendar_events", "calendar"},
	SourceEmail:    {"email_messages", "gmail_emails", "email", "gmail"},
}

// ParsePayload decodes a fetched JSON document. Each source list is read from the
// first key present; lists must be arrays and diagnostics must be an object.
// Non-object list items are skipped.
func ParsePayload(raw []byte, fetchMode string) (*Payload, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ValidationError("payload is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, ValidationError("payload must be a JSON object")
	}

	p := &Payload{FetchMode: fetchMode, Diagnostics: map[string]any{}}
	for _, src := range IngestSources {
		records, err := readRecordList(doc, payloadKeys[src])
		if err != nil {
			return nil, err
		}
		switch src {
		case SourceChat:
			p.Chat = records
		case SourceCalendar:
			p.Calendar = records
		case SourceEmail:
			p.Email = records
		}
	}

	diag := doc.Get("diagnostics")
	if diag.Exists() && diag.Type != gjson.Null {
		if !diag.IsObject() {
			return nil, ValidationError("diagnostics must be an object when provided")
		}
		if err := json.Unmarshal([]byte(diag.Raw), &p.Diagnostics); err != nil {
			return nil, fmt.Errorf("decoding diagnostics: %w", err)
		}
	}
	return p, nil
}

// ReadPayloadFile parses a payload document from disk.
func ReadPayloadFile(path, fetchMode string) (*Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading payload file: %w", err)
	}
	p, err := ParsePayload(data, fetchMode)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return p, nil
}

func readRecordList(doc gjson.Result, keys []string) ([]gjson.Result, error) {
	for _, key := range keys {
		v := doc.Get(key)
		if !v.Exists() {
			continue
		}
		if !v.IsArray() {
			return nil, Validationf("%s must be a list", key)
		}
		var records []gjson.Result
		for _, item := range v.Array() {
			if item.IsObject() {
				records = append(records, item)
			}
		}
		return records, nil
	}
	return nil, nil
}

var syntheticMarkers = []string{".example/", ".example.com", "slack.example", "mail.example"}

// IsSyntheticURL reports whether url points at a placeholder domain.
func IsSyntheticURL(url string) bool {
	return containsAny(url, syntheticMarkers)
}

// CheckNotSynthetic refuses payloads whose item links use placeholder domains.
func CheckNotSynthetic(p *Payload) error {
	var urls []string
	for _, rec := range p.Chat {
		urls = append(urls, firstString(rec, "display_url", "web_link"))
	}
	for _, rec := range p.Email {
		urls = append(urls, firstString(rec, "display_url", "url"))
	}
	for _, rec := range p.Calendar {
		urls = append(urls, firstString(rec, "display_url", "url"))
	}
	for _, u := range urls {
		if IsSyntheticURL(u) {
			return &GuardError{
				Kind:    GuardSynthetic,
				Message: "Snapshot fetch returned synthetic/example-domain content. Refusing to ingest non-live data.",
			}
		}
	}
	return nil
}

// CheckNotEmpty refuses payloads with no records at all unless allowEmpty is set.
// The message carries unavailable tool names and the first two diagnostic errors.
func CheckNotEmpty(p *Payload, allowEmpty bool) error {
	if p.Total() > 0 || allowEmpty {
		return nil
	}

	var details []string
	if access, ok := p.Diagnostics["tool_access"].(map[string]any); ok {
		var unavailable []string
		for name, status := range access {
			if strings.ToLower(fmt.Sprint(status)) != "ok" {
				unavailable = append(unavailable, name)
			}
		}
		sort.Strings(unavailable)
		if len(unavailable) > 0 {
			details = append(details, "tool_access="+strings.Join(unavailable, ","))
		}
	}
	if errs, ok := p.Diagnostics["errors"].([]any); ok && len(errs) > 0 {
		if len(errs) > 2 {
			errs = errs[:2]
		}
		parts := make([]string, len(errs))
		for i, e := range errs {
			parts[i] = fmt.Sprint(e)
		}
		details = append(details, "errors="+strings.Join(parts, "; "))
	}

	msg := "No items were returned from chat/email/calendar. " +
		"This usually means connector access is not active for the fetch agent. " +
		"Set FLIGHT_DECK_ALLOW_EMPTY_SNAPSHOT=1 only if an empty day is expected."
	if len(details) > 0 {
		msg += " Diagnostics: " + strings.Join(details, " | ") + "."
	}
	return &GuardError{Kind: GuardEmpty, Message: msg}
}

// ChannelCount is one row of the chat channel histogram.
type ChannelCount struct {
	Channel string `json:"channel"`
	Count   int    `json:"count"`
}

// ChannelStats summarizes raw chat records by channel.
type ChannelStats struct {
	InScopeCount        int            `json:"in_scope_count"`
	UnknownChannelCount int            `json:"unknown_channel_count"`
	TopChannels         []ChannelCount `json:"top_channels"`
}

// ChatChannelStats counts raw chat records per normalized channel. Ties keep
// first-seen order.
func ChatChannelStats(records []gjson.Result, scope ChatScope, topN int) ChannelStats {
	stats := ChannelStats{TopChannels: []ChannelCount{}}
	index := map[string]int{}
	var counts []ChannelCount
	for _, rec := range records {
		channel := ChatChannel(rec)
		if channel == "" {
			stats.UnknownChannelCount++
			continue
		}
		normalized := NormalizeChannel(channel)
		if i, ok := index[normalized]; ok {
			counts[i].Count++
		} else {
			index[normalized] = len(counts)
			counts = append(counts, ChannelCount{Channel: normalized, Count: 1})
		}
		if scope.InScope(normalized) {
			stats.InScopeCount++
		}
	}
	sort.SliceStable(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
	if len(counts) > topN {
		counts = counts[:topN]
	}
	stats.TopChannels = append(stats.TopChannels, counts...)
	return stats
}
